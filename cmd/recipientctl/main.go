/*
Recipientctl manages the recipients stored in a rowsync database.

Usage:

	recipientctl [flags] COMMAND [ARGS...]

The commands are:

	list
		Print every recipient, ordered by ID.
	get ID
		Print the recipient with the given ID.
	add [--id ID] [--phone NUMBER] [--service-id UUID] [DEVICE...]
		Create a recipient. At least one of --phone and --service-id is
		required.
	add-devices ID DEVICE...
		Add devices to a recipient.
	remove-devices ID DEVICE...
		Remove devices from a recipient.
	bump ID
		Record an identity key change for a recipient.
	rm ID
		Delete a recipient.
	count
		Print the number of recipients.
	clear [--instantiate]
		Delete every recipient. With --instantiate, each recipient is loaded
		before it is deleted.
	export FILE
		Write a backup of every recipient to FILE.
	import FILE
		Restore the recipients in the backup at FILE, replacing any with the
		same ID.
	serve
		Start the admin API and serve it until interrupted.
	token SUBJECT
		Print an admin API token for SUBJECT.

The flags are:

	-c, --config PATH
		Use the given file for the configuration instead of './rowsync.yml'.
		The file must be in JSON or YAML format. If the default file does not
		exist, the default configuration is used.

	-d, --db CONNSTR
		Use the given database instead of the one in the configuration. See
		rowsync.ParseDBConnString for the format.

	-v, --verbose
		Log to stderr regardless of the logging configuration.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/dekarrin/rowsync"
	"github.com/dekarrin/rowsync/cache"
	"github.com/dekarrin/rowsync/db"
	"github.com/dekarrin/rowsync/internal/config"
	"github.com/dekarrin/rowsync/internal/logging"
	"github.com/dekarrin/rowsync/internal/metrics"
	"github.com/dekarrin/rowsync/model"
	"github.com/dekarrin/rowsync/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
)

const (
	exitSuccess   = 0
	exitError     = 1
	exitPanic     = 2
	exitInterrupt = 3
)

const defaultConfFile = "rowsync.yml"

var exitCode int

var (
	flagConf        = pflag.StringP("config", "c", defaultConfFile, "Path to configuration file")
	flagDB          = pflag.StringP("db", "d", "", "Database connection string; overrides the configured database")
	flagVerbose     = pflag.BoolP("verbose", "v", false, "Log to stderr regardless of configuration")
	flagID          = pflag.String("id", "", "ID of the recipient to add; generated if not given")
	flagPhone       = pflag.String("phone", "", "Phone number of the recipient to add")
	flagServiceID   = pflag.String("service-id", "", "Service ID of the recipient to add")
	flagInstantiate = pflag.Bool("instantiate", false, "Load each recipient before deleting it during clear")
	flagLifetime    = pflag.Duration("lifetime", 0, "Lifetime of a generated token")
)

// env is everything a command needs to run.
type env struct {
	cfg        rowsync.Config
	log        rowsync.Logger
	db         *db.Database
	recipients *store.Table[*model.Recipient]
	registry   *prometheus.Registry
}

func main() {
	ctx := context.Background()
	ctx, cancelMainContext := context.WithCancel(ctx)
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt)
	defer func() {
		signal.Stop(signalChan)
		cancelMainContext()
	}()
	go func() {
		select {
		case <-signalChan: // first signal, cancel context
			cancelMainContext()
		case <-ctx.Done():
		}

		<-signalChan // second signal, hard exit
		os.Exit(exitInterrupt)
	}()

	defer func() {
		if panicErr := recover(); panicErr != nil {
			fmt.Fprintf(os.Stderr, "fatal panic: %v\n", panicErr)
			exitCode = exitPanic
		}
		os.Exit(exitCode)
	}()

	pflag.Parse()

	args := pflag.Args()
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "ERROR: no command given\n")
		pflag.Usage()
		exitCode = exitError
		return
	}

	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "ERROR: unknown command %q\n", args[0])
		exitCode = exitError
		return
	}
	if len(args)-1 < cmd.minArgs || (cmd.maxArgs >= 0 && len(args)-1 > cmd.maxArgs) {
		fmt.Fprintf(os.Stderr, "ERROR: usage: recipientctl %s\n", cmd.usage)
		exitCode = exitError
		return
	}

	e, err := setup(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err.Error())
		exitCode = exitError
		return
	}
	defer func() {
		if err := e.db.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: close database: %s\n", err.Error())
			exitCode = exitError
		}
	}()

	if err := cmd.run(ctx, e, args[1:]); err != nil {
		if errors.Is(err, context.Canceled) {
			exitCode = exitInterrupt
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err.Error())
		exitCode = exitError
		return
	}
}

func loadConfig() (rowsync.Config, error) {
	cfg, err := config.Load(*flagConf)
	if err != nil {
		if !pflag.CommandLine.Changed("config") && errors.Is(err, os.ErrNotExist) {
			cfg = rowsync.Config{}
		} else {
			return rowsync.Config{}, err
		}
	}

	if *flagDB != "" {
		dbCfg, err := rowsync.ParseDBConnString(*flagDB)
		if err != nil {
			return rowsync.Config{}, fmt.Errorf("--db: %w", err)
		}
		cfg.DB = dbCfg
	}
	if *flagVerbose {
		cfg.Log.Enabled = true
	}

	cfg = cfg.FillDefaults()
	if err := cfg.Validate(); err != nil {
		return rowsync.Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func setup(ctx context.Context) (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	log, err := logging.FromConfig(cfg.Log, "recipientctl")
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	var connectors config.ConnectorRegistry
	eng, err := connectors.Connect(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("connect to DB: %w", err)
	}
	d := db.New(eng, db.Options{Logger: log, Metrics: m})

	c, err := cache.New[*model.Recipient](model.RecipientTable.Name, cache.Options{Size: cfg.CacheSize, Logger: log, Metrics: m})
	if err != nil {
		d.Close()
		return nil, err
	}
	recipients, err := store.New[*model.Recipient](model.RecipientCodec{}, c, store.Options[*model.Recipient]{
		Logger:  log,
		Metrics: m,
		OnRemove: func(r *model.Recipient) {
			log.Debugf("Removed recipient %s", r.String())
		},
	})
	if err != nil {
		d.Close()
		return nil, err
	}
	if err := recipients.Register(ctx, d); err != nil {
		d.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &env{
		cfg:        cfg,
		log:        log,
		db:         d,
		recipients: recipients,
		registry:   reg,
	}, nil
}
