package rowsync

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DBType is the type of a Database connection.
type DBType string

func (dbt DBType) String() string {
	return string(dbt)
}

const (
	DatabaseNone     DBType = "none"
	DatabaseSQLite   DBType = "sqlite"
	DatabaseInMemory DBType = "inmem"
)

const (
	MaxSecretSize = 64
	MinSecretSize = 32

	DefaultCacheSize = 512
	DefaultBatchSize = 100
	DefaultListen    = "localhost:8080"

	DefaultSQLiteFile = "rowsync.db"
	DefaultInMemFile  = "rowsync.rsi"
)

// ParseDBType parses a string found in a connection string into a DBType.
func ParseDBType(s string) (DBType, error) {
	sLower := strings.ToLower(s)

	switch sLower {
	case DatabaseSQLite.String():
		return DatabaseSQLite, nil
	case DatabaseInMemory.String():
		return DatabaseInMemory, nil
	default:
		return DatabaseNone, fmt.Errorf("DB type not one of 'sqlite' or 'inmem': %q", s)
	}
}

// DatabaseConfig contains configuration settings for connecting to a
// persistence layer.
type DatabaseConfig struct {
	// Type is the type of database the config refers to. It also determines
	// which of its other fields are valid.
	Type DBType

	// Connector is the name of the registered connector function that should
	// be used. If not set, the default connector for Type is used.
	Connector string

	// DataDir is the path on disk to a directory to use to store data in. It
	// is required for SQLite. For the in-memory DB it is optional; if set, the
	// in-memory DB is persisted to a file in DataDir.
	DataDir string

	// DataFile is the name of the file within DataDir to store data in. If
	// not set, DefaultSQLiteFile or DefaultInMemFile is used.
	DataFile string
}

// Path returns the full path to the data file of the database, or "" if the
// database is not stored on disk.
func (db DatabaseConfig) Path() string {
	if db.DataDir == "" {
		return ""
	}

	file := db.DataFile
	if file == "" {
		switch db.Type {
		case DatabaseSQLite:
			file = DefaultSQLiteFile
		case DatabaseInMemory:
			file = DefaultInMemFile
		}
	}
	return filepath.Join(db.DataDir, file)
}

// Validate returns an error if the DatabaseConfig does not have the correct
// fields set. Its type will be checked to ensure that it is a valid type to use
// and any fields necessary for connecting to that type of DB are also checked.
func (db DatabaseConfig) Validate() error {
	switch db.Type {
	case DatabaseInMemory:
		if db.DataFile != "" && db.DataDir == "" {
			return fmt.Errorf("DataFile set without DataDir")
		}
		return nil
	case DatabaseSQLite:
		if db.DataDir == "" {
			return fmt.Errorf("DataDir not set to path")
		}
		return nil
	case DatabaseNone:
		return fmt.Errorf("'none' DB is not valid")
	default:
		return fmt.Errorf("unknown database type: %q", db.Type.String())
	}
}

// ParseDBConnString parses a database connection string of the form
// "engine:params" (or just "engine" if no other params are required) into a
// valid DatabaseConfig object.
//
// Supported database types and a sample string containing valid configurations
// for each are shown below. Placeholder values are between angle brackets,
// optional parts are between square brackets. Ordering of parameters does not
// matter.
//
// * In-memory database: "inmem"
// * In-memory database persisted to disk: "inmem:dir=<path/to/dir>[,file=<name.rsi>]"
// * SQLite3 DB file: "sqlite:</path/to/db/dir>"
func ParseDBConnString(s string) (DatabaseConfig, error) {
	var paramStr string
	dbParts := strings.SplitN(s, ":", 2)

	if len(dbParts) == 2 {
		paramStr = strings.TrimSpace(dbParts[1])
	}

	dbEng, err := ParseDBType(strings.TrimSpace(dbParts[0]))
	if err != nil {
		return DatabaseConfig{}, fmt.Errorf("unsupported DB engine: %w", err)
	}

	switch dbEng {
	case DatabaseInMemory:
		db := DatabaseConfig{Type: DatabaseInMemory}
		if paramStr == "" {
			return db, nil
		}

		params, err := parseParamsMap(paramStr)
		if err != nil {
			return DatabaseConfig{}, err
		}

		val, ok := params["dir"]
		if !ok {
			return DatabaseConfig{}, fmt.Errorf("inmem DB engine params missing path to data directory in key 'dir'")
		}
		db.DataDir = filepath.FromSlash(val)

		if val, ok := params["file"]; ok {
			db.DataFile = val
		} else {
			db.DataFile = DefaultInMemFile
		}
		return db, nil
	case DatabaseSQLite:
		if paramStr == "" {
			return DatabaseConfig{}, fmt.Errorf("sqlite DB engine requires path to data directory after ':'")
		}

		dd := filepath.FromSlash(paramStr)
		return DatabaseConfig{Type: DatabaseSQLite, DataDir: dd}, nil
	default:
		return DatabaseConfig{}, fmt.Errorf("unknown DB engine: %q", dbEng.String())
	}
}

func parseParamsMap(paramStr string) (map[string]string, error) {
	seqs := splitWithEscaped(paramStr, ',')
	if len(seqs) < 1 {
		return nil, fmt.Errorf("not a map format string: %q", paramStr)
	}

	params := map[string]string{}
	for idx, kv := range seqs {
		parsed := splitWithEscaped(kv, '=')
		if len(parsed) != 2 {
			return nil, fmt.Errorf("param %d: not a kv-pair: %q", idx, kv)
		}
		params[strings.ToLower(parsed[0])] = parsed[1]
	}

	return params, nil
}

// splitWithEscaped splits s on sep. A sep preceded by a backslash does not
// split and is kept without the backslash.
func splitWithEscaped(s string, sep rune) []string {
	var split []string
	var cur strings.Builder

	sr := []rune(s)
	for i := 0; i < len(sr); i++ {
		ch := sr[i]
		if ch == '\\' && i+1 < len(sr) && sr[i+1] == sep {
			cur.WriteRune(sep)
			i++
			continue
		}
		if ch == sep {
			split = append(split, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteRune(ch)
	}

	if cur.Len() > 0 || len(split) > 0 {
		split = append(split, cur.String())
	}

	return split
}

// Format is the format of a configuration file.
type Format int

const (
	NoFormat Format = iota
	JSON
	YAML
)

func (f Format) String() string {
	switch f {
	case NoFormat:
		return "NoFormat"
	case JSON:
		return "JSON"
	case YAML:
		return "YAML"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// Extensions returns the file extensions associated with the Format, without
// the leading period.
func (f Format) Extensions() []string {
	switch f {
	case JSON:
		return []string{"json", "jsn"}
	case YAML:
		return []string{"yaml", "yml"}
	default:
		return nil
	}
}

// LogConfig contains logging options.
type LogConfig struct {
	// Enabled is whether to enable logging.
	Enabled bool

	// Provider is the library to use for logging.
	Provider LogProvider

	// File is the path to a file to write logs to in addition to stderr. If
	// not set, logs go to stderr only.
	File string
}

// Config is the configuration for a rowsync deployment: the database, the
// identity cache, enumeration, the admin API and logging.
type Config struct {
	// DB is the configuration to use for connecting to the database. If not
	// provided, it will be set to a configuration for using an in-memory
	// persistence layer.
	DB DatabaseConfig

	// CacheSize is the maximum number of entries held by each identity cache.
	CacheSize int

	// BatchSize is the number of rows loaded at a time during enumeration.
	// Set to a negative number to disable batching.
	BatchSize int

	// Listen is the address the admin API listens on.
	Listen string

	// TokenSecret is the secret used for signing admin API tokens. If not
	// provided, mutating admin API routes are disabled.
	TokenSecret []byte

	// Log is the logging configuration.
	Log LogConfig

	// Format is the format the config was loaded from. It is used when
	// dumping it back out.
	Format Format
}

// FillDefaults returns a new Config identitical to cfg but with unset values
// set to their defaults.
func (cfg Config) FillDefaults() Config {
	newCFG := cfg

	if newCFG.DB.Type == DatabaseNone || newCFG.DB.Type == "" {
		newCFG.DB = DatabaseConfig{Type: DatabaseInMemory}
	}
	if newCFG.CacheSize == 0 {
		newCFG.CacheSize = DefaultCacheSize
	}
	if newCFG.BatchSize == 0 {
		newCFG.BatchSize = DefaultBatchSize
	}
	if newCFG.Listen == "" {
		newCFG.Listen = DefaultListen
	}
	if newCFG.Log.Enabled && newCFG.Log.Provider == NoLog {
		newCFG.Log.Provider = Jellog
	}

	return newCFG
}

// EnumerationBatchSize returns the batch size to pass to enumeration
// operations. A zero return means unbatched.
func (cfg Config) EnumerationBatchSize() int {
	if cfg.BatchSize < 0 {
		return 0
	}
	return cfg.BatchSize
}

// Validate returns an error if the Config has invalid field values set. Empty
// and unset values are considered invalid; if defaults are intended to be used,
// call Validate on the return value of FillDefaults.
func (cfg Config) Validate() error {
	if err := cfg.DB.Validate(); err != nil {
		return fmt.Errorf("db: %w", err)
	}
	if cfg.CacheSize < 1 {
		return fmt.Errorf("cache size: must be at least 1, but is %d", cfg.CacheSize)
	}
	if len(cfg.TokenSecret) > 0 {
		if len(cfg.TokenSecret) < MinSecretSize {
			return fmt.Errorf("token secret: must be at least %d bytes, but is %d", MinSecretSize, len(cfg.TokenSecret))
		}
		if len(cfg.TokenSecret) > MaxSecretSize {
			return fmt.Errorf("token secret: must be no more than %d bytes, but is %d", MaxSecretSize, len(cfg.TokenSecret))
		}
	}
	if cfg.Log.Enabled && cfg.Log.Provider == NoLog {
		return fmt.Errorf("log: provider must be set when logging is enabled")
	}

	return nil
}
