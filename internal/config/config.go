// Package config loads and saves rowsync configuration files and opens the
// database engines they describe.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dekarrin/rowsync"
	"github.com/dekarrin/rowsync/db"
	"github.com/dekarrin/rowsync/db/inmem"
	"github.com/dekarrin/rowsync/db/sqlite"
	"gopkg.in/yaml.v3"
)

const anyMatchConnector = "*"

// Connector opens the engine for a database config.
type Connector func(rowsync.DatabaseConfig) (db.Engine, error)

// ConnectorRegistry holds registered connector functions for opening engines
// from database configs.
//
// The zero value can be immediately used and will have the built-in default
// connectors available. This can be disabled by setting DisableDefaults to true
// before attempting to use it.
type ConnectorRegistry struct {
	DisableDefaults bool
	reg             map[rowsync.DBType]map[string]Connector
}

func (cr *ConnectorRegistry) initDefaults() {
	if cr.reg != nil {
		return
	}

	cr.reg = map[rowsync.DBType]map[string]Connector{
		rowsync.DatabaseInMemory: {},
		rowsync.DatabaseSQLite:   {},
	}

	if cr.DisableDefaults {
		return
	}

	cr.reg[rowsync.DatabaseInMemory][anyMatchConnector] = func(cfg rowsync.DatabaseConfig) (db.Engine, error) {
		path := cfg.Path()
		if path == "" {
			return inmem.New(), nil
		}

		if err := os.MkdirAll(cfg.DataDir, 0770); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		eng, err := inmem.Open(path)
		if err != nil {
			return nil, fmt.Errorf("initialize inmem: %w", err)
		}
		return eng, nil
	}
	cr.reg[rowsync.DatabaseSQLite][anyMatchConnector] = func(cfg rowsync.DatabaseConfig) (db.Engine, error) {
		if err := os.MkdirAll(cfg.DataDir, 0770); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		eng, err := sqlite.Open(cfg.Path())
		if err != nil {
			return nil, fmt.Errorf("initialize sqlite: %w", err)
		}
		return eng, nil
	}
}

// Register adds a connector for the given DB type under the given name. A
// database config selects it by setting Connector to name. Registering under
// "*" replaces the default connector for the type.
func (cr *ConnectorRegistry) Register(dbType rowsync.DBType, name string, connector Connector) error {
	if connector == nil {
		return fmt.Errorf("connector function cannot be nil")
	}

	cr.initDefaults()

	conns, ok := cr.reg[dbType]
	if !ok {
		return fmt.Errorf("%q is not a supported DB type", dbType)
	}

	normName := strings.ToLower(name)
	if _, ok := conns[normName]; ok && normName != anyMatchConnector {
		return fmt.Errorf("duplicate connector registration; %q/%q already has a registered connector", dbType, normName)
	}

	conns[normName] = connector
	return nil
}

// List returns an alphabetized list of all currently registered connector
// names for a DB type.
func (cr *ConnectorRegistry) List(dbType rowsync.DBType) []string {
	cr.initDefaults()

	names := make([]string, 0, len(cr.reg[dbType]))
	for k := range cr.reg[dbType] {
		names = append(names, k)
	}

	sort.Strings(names)
	return names
}

// Connect opens the engine for the configured database.
func (cr *ConnectorRegistry) Connect(cfg rowsync.DatabaseConfig) (db.Engine, error) {
	cr.initDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	conns := cr.reg[cfg.Type]

	normName := strings.ToLower(cfg.Connector)
	connector, ok := conns[normName]
	if !ok {
		connector, ok = conns[anyMatchConnector]
		if !ok {
			var additionalInfo = "DB does not specify connector"
			if normName != "" && normName != anyMatchConnector {
				additionalInfo = fmt.Sprintf("%q/%q is not a registered connector", cfg.Type, normName)
			}
			return nil, fmt.Errorf("%s and %q has no default \"*\" connector registered", additionalInfo, cfg.Type)
		}
	}

	return connector(cfg)
}

type marshaledDatabase struct {
	Type      string `yaml:"type" json:"type"`
	Connector string `yaml:"connector,omitempty" json:"connector,omitempty"`
	Dir       string `yaml:"dir,omitempty" json:"dir,omitempty"`
	File      string `yaml:"file,omitempty" json:"file,omitempty"`
}

type marshaledLog struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Provider string `yaml:"provider" json:"provider"`
	File     string `yaml:"file,omitempty" json:"file,omitempty"`
}

type marshaledConfig struct {
	Listen      string            `yaml:"listen" json:"listen"`
	DB          marshaledDatabase `yaml:"db" json:"db"`
	CacheSize   int               `yaml:"cache_size" json:"cache_size"`
	BatchSize   int               `yaml:"batch_size" json:"batch_size"`
	TokenSecret string            `yaml:"token_secret,omitempty" json:"token_secret,omitempty"`
	Logging     marshaledLog      `yaml:"logging" json:"logging"`
}

func decode(f rowsync.Format, data []byte) (rowsync.Config, error) {
	var cfg rowsync.Config
	var mc marshaledConfig
	var err error

	switch f {
	case rowsync.JSON:
		err = json.Unmarshal(data, &mc)
	case rowsync.YAML:
		err = yaml.Unmarshal(data, &mc)
	default:
		return cfg, fmt.Errorf("cannot unmarshal data in format %q", f.String())
	}

	if err != nil {
		return cfg, err
	}

	cfg.Format = f
	err = unmarshalConfig(&cfg, mc)
	return cfg, err
}

func encode(f rowsync.Format, c rowsync.Config) ([]byte, error) {
	mc := marshalConfig(c)
	var err error
	var data []byte

	switch f {
	case rowsync.JSON:
		data, err = json.Marshal(mc)
	case rowsync.YAML:
		data, err = yaml.Marshal(mc)
	default:
		return nil, fmt.Errorf("cannot marshal data in format %q", f.String())
	}

	return data, err
}

// SupportedFormats returns a list of formats that the config module supports
// decoding. Includes all but NoFormat.
func SupportedFormats() []rowsync.Format {
	return []rowsync.Format{rowsync.JSON, rowsync.YAML}
}

// DetectFormat detects the format of a given configuration file and returns the
// Format that can decode it. Returns NoFormat if the format could not be
// detected.
func DetectFormat(file string) rowsync.Format {
	ext := strings.ToLower(filepath.Ext(file))
	ext = strings.TrimPrefix(ext, ".")

	for _, f := range SupportedFormats() {
		for _, checkedExt := range f.Extensions() {
			if ext == strings.ToLower(checkedExt) {
				return f
			}
		}
	}

	return rowsync.NoFormat
}

// Dump dumps the configuration into the bytes in a formatted file. If parsed
// by Load, the result would be an equivalent config.
//
// The config will be dumped in the same format it was loaded with, or will
// default to YAML if the cfg was created without loading from a file.
//
// This function will cause a panic if there is a problem marshaling the config
// data in its format.
func Dump(cfg rowsync.Config) []byte {
	f := cfg.Format
	if f == rowsync.NoFormat {
		f = rowsync.YAML
	}
	b, err := encode(f, cfg)
	if err != nil {
		panic(fmt.Sprintf("format encoding failed: %v", err))
	}
	return b
}

// Load loads a configuration from a JSON or YAML file. The format of the file
// is determined by examining its extension; files ending in .json are parsed as
// JSON files, and files ending in .yaml or .yml are parsed as YAML files. Other
// extensions are not supported. The extension is not case-sensitive.
//
// The returned config is not validated and does not have defaults filled in.
func Load(file string) (rowsync.Config, error) {
	f := DetectFormat(file)
	if f == rowsync.NoFormat {
		var msg strings.Builder

		formats := SupportedFormats()
		for i, f := range formats {
			exts := f.Extensions()
			for j, ext := range exts {
				// if on the last ext of the last format and there was at least
				// one before, add a leading "or "
				if j+1 >= len(exts) && i+1 >= len(formats) && msg.Len() > 0 {
					msg.WriteString("or ")
				}

				msg.WriteRune('.')
				msg.WriteString(ext)

				if j+1 < len(exts) || i+1 < len(formats) {
					msg.WriteString(", ")
				}
			}
		}

		return rowsync.Config{}, fmt.Errorf("%s: incompatible format; must be a %s file", file, msg.String())
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return rowsync.Config{}, fmt.Errorf("%s: %w", file, err)
	}

	cfg, err := decode(f, data)
	if err != nil {
		return rowsync.Config{}, fmt.Errorf("%s: %w", file, err)
	}
	return cfg, nil
}

// unmarshal completely replaces all attributes.
//
// does no validation except that which is required for parsing.
func unmarshalLog(log *rowsync.LogConfig, m marshaledLog) error {
	var err error

	log.Enabled = m.Enabled
	log.Provider, err = rowsync.ParseLogProvider(m.Provider)
	if err != nil {
		return fmt.Errorf("provider: %w", err)
	}
	log.File = m.File

	return nil
}

func marshalLog(log rowsync.LogConfig) marshaledLog {
	return marshaledLog{
		Enabled:  log.Enabled,
		Provider: log.Provider.String(),
		File:     log.File,
	}
}

// unmarshal completely replaces all attributes with the values or missing
// values in the marshaledDatabase. An empty type is left as the zero DBType so
// that FillDefaults can pick it.
func unmarshalDatabase(cfg *rowsync.DatabaseConfig, m marshaledDatabase) error {
	if m.Type != "" {
		var err error
		cfg.Type, err = rowsync.ParseDBType(m.Type)
		if err != nil {
			return fmt.Errorf("type: %w", err)
		}
	}

	cfg.DataDir = m.Dir
	cfg.DataFile = m.File
	cfg.Connector = m.Connector

	return nil
}

func marshalDatabase(cfg rowsync.DatabaseConfig) marshaledDatabase {
	return marshaledDatabase{
		Type:      cfg.Type.String(),
		Dir:       cfg.DataDir,
		File:      cfg.DataFile,
		Connector: cfg.Connector,
	}
}

func unmarshalConfig(cfg *rowsync.Config, m marshaledConfig) error {
	if err := unmarshalDatabase(&cfg.DB, m.DB); err != nil {
		return fmt.Errorf("db: %w", err)
	}
	if err := unmarshalLog(&cfg.Log, m.Logging); err != nil {
		return fmt.Errorf("logging: %w", err)
	}

	cfg.Listen = m.Listen
	cfg.CacheSize = m.CacheSize
	cfg.BatchSize = m.BatchSize
	if m.TokenSecret != "" {
		cfg.TokenSecret = []byte(m.TokenSecret)
	}

	return nil
}

func marshalConfig(cfg rowsync.Config) marshaledConfig {
	return marshaledConfig{
		Listen:      cfg.Listen,
		DB:          marshalDatabase(cfg.DB),
		CacheSize:   cfg.CacheSize,
		BatchSize:   cfg.BatchSize,
		TokenSecret: string(cfg.TokenSecret),
		Logging:     marshalLog(cfg.Log),
	}
}
