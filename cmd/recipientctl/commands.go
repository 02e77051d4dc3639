package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dekarrin/rowsync"
	"github.com/dekarrin/rowsync/api"
	"github.com/dekarrin/rowsync/backup"
	"github.com/dekarrin/rowsync/db"
	"github.com/dekarrin/rowsync/internal/sortby"
	"github.com/dekarrin/rowsync/internal/token"
	"github.com/dekarrin/rowsync/model"
	"github.com/google/uuid"
)

type command struct {
	usage   string
	minArgs int

	// maxArgs is -1 if there is no maximum.
	maxArgs int
	run     func(ctx context.Context, e *env, args []string) error
}

var commands = map[string]command{
	"list":           {usage: "list", maxArgs: 0, run: cmdList},
	"get":            {usage: "get ID", minArgs: 1, maxArgs: 1, run: cmdGet},
	"add":            {usage: "add [--id ID] [--phone NUMBER] [--service-id UUID] [DEVICE...]", maxArgs: -1, run: cmdAdd},
	"add-devices":    {usage: "add-devices ID DEVICE...", minArgs: 2, maxArgs: -1, run: cmdAddDevices},
	"remove-devices": {usage: "remove-devices ID DEVICE...", minArgs: 2, maxArgs: -1, run: cmdRemoveDevices},
	"bump":           {usage: "bump ID", minArgs: 1, maxArgs: 1, run: cmdBump},
	"rm":             {usage: "rm ID", minArgs: 1, maxArgs: 1, run: cmdRemove},
	"count":          {usage: "count", maxArgs: 0, run: cmdCount},
	"clear":          {usage: "clear [--instantiate]", maxArgs: 0, run: cmdClear},
	"export":         {usage: "export FILE", minArgs: 1, maxArgs: 1, run: cmdExport},
	"import":         {usage: "import FILE", minArgs: 1, maxArgs: 1, run: cmdImport},
	"serve":          {usage: "serve", maxArgs: 0, run: cmdServe},
	"token":          {usage: "token SUBJECT", minArgs: 1, maxArgs: 1, run: cmdToken},
}

func parseDevices(args []string) ([]uint32, error) {
	devices := make([]uint32, len(args))
	for i := range args {
		n, err := strconv.ParseUint(args[i], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("device %q: not a valid device ID", args[i])
		}
		devices[i] = uint32(n)
	}
	return devices, nil
}

func cmdList(ctx context.Context, e *env, args []string) error {
	var all []*model.Recipient
	err := e.db.WithReadTransaction(ctx, func(ctx context.Context, tx *db.ReadTransaction) error {
		for r, err := range e.recipients.Enumerate(ctx, tx, e.cfg.EnumerationBatchSize()) {
			if err != nil {
				return err
			}
			all = append(all, r)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, r := range sortby.Key(all, (*model.Recipient).UniqueID) {
		fmt.Println(r.String())
	}
	return nil
}

func cmdGet(ctx context.Context, e *env, args []string) error {
	var r *model.Recipient
	var found bool
	err := e.db.WithReadTransaction(ctx, func(ctx context.Context, tx *db.ReadTransaction) error {
		var err error
		r, found, err = e.recipients.Fetch(ctx, tx, args[0])
		return err
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no recipient with ID %q", args[0])
	}

	fmt.Println(r.String())
	return nil
}

func cmdAdd(ctx context.Context, e *env, args []string) error {
	devices, err := parseDevices(args)
	if err != nil {
		return err
	}

	var serviceID uuid.UUID
	if *flagServiceID != "" {
		serviceID, err = uuid.Parse(*flagServiceID)
		if err != nil {
			return fmt.Errorf("--service-id: %w", err)
		}
	}
	if *flagPhone == "" && serviceID == uuid.Nil {
		return fmt.Errorf("at least one of --phone and --service-id is required")
	}

	var r *model.Recipient
	if *flagID != "" {
		r = model.NewRecipientWithID(*flagID, *flagPhone, serviceID, devices...)
	} else {
		r = model.NewRecipient(*flagPhone, serviceID, devices...)
	}

	err = e.db.WithWriteTransaction(ctx, func(ctx context.Context, tx *db.WriteTransaction) error {
		return e.recipients.Insert(ctx, tx, r)
	})
	if err != nil {
		if errors.Is(err, rowsync.ErrDuplicateUniqueID) {
			return fmt.Errorf("a recipient with ID %q already exists", r.UniqueID())
		}
		return err
	}

	fmt.Println(r.UniqueID())
	return nil
}

// update applies mutate to the recipient with the given ID and prints the
// result.
func update(ctx context.Context, e *env, id string, mutate func(r *model.Recipient)) error {
	var r *model.Recipient
	var found bool
	err := e.db.WithWriteTransaction(ctx, func(ctx context.Context, tx *db.WriteTransaction) error {
		var err error
		r, found, err = e.recipients.Fetch(ctx, tx, id)
		if err != nil || !found {
			return err
		}
		return e.recipients.UpdateWith(ctx, tx, r, mutate)
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no recipient with ID %q", id)
	}

	fmt.Println(r.String())
	return nil
}

func cmdAddDevices(ctx context.Context, e *env, args []string) error {
	devices, err := parseDevices(args[1:])
	if err != nil {
		return err
	}
	return update(ctx, e, args[0], func(r *model.Recipient) {
		r.AddDevices(devices...)
	})
}

func cmdRemoveDevices(ctx context.Context, e *env, args []string) error {
	devices, err := parseDevices(args[1:])
	if err != nil {
		return err
	}
	return update(ctx, e, args[0], func(r *model.Recipient) {
		r.RemoveDevices(devices...)
	})
}

func cmdBump(ctx context.Context, e *env, args []string) error {
	return update(ctx, e, args[0], (*model.Recipient).BumpIdentityChanges)
}

func cmdRemove(ctx context.Context, e *env, args []string) error {
	err := e.db.WithWriteTransaction(ctx, func(ctx context.Context, tx *db.WriteTransaction) error {
		return e.recipients.Remove(ctx, tx, args[0])
	})
	if errors.Is(err, rowsync.ErrNotFound) {
		return fmt.Errorf("no recipient with ID %q", args[0])
	}
	return err
}

func cmdCount(ctx context.Context, e *env, args []string) error {
	var count int64
	err := e.db.WithReadTransaction(ctx, func(ctx context.Context, tx *db.ReadTransaction) error {
		var err error
		count, err = e.recipients.Count(ctx, tx)
		return err
	})
	if err != nil {
		return err
	}

	fmt.Println(count)
	return nil
}

func cmdClear(ctx context.Context, e *env, args []string) error {
	var removed int64
	err := e.db.WithWriteTransaction(ctx, func(ctx context.Context, tx *db.WriteTransaction) error {
		var err error
		if *flagInstantiate {
			removed, err = e.recipients.RemoveAllWithInstantiation(ctx, tx, e.cfg.EnumerationBatchSize())
		} else {
			removed, err = e.recipients.RemoveAllWithoutInstantiation(ctx, tx)
		}
		return err
	})
	if err != nil {
		return err
	}

	fmt.Printf("Removed %d recipient(s)\n", removed)
	return nil
}

func backupSources(e *env) []backup.Source {
	return []backup.Source{{Type: backup.EntityRecipient, Store: e.recipients}}
}

func cmdExport(ctx context.Context, e *env, args []string) error {
	snap, err := backup.Export(ctx, e.db, backupSources(e)...)
	if err != nil {
		return err
	}
	if err := backup.WriteFile(args[0], snap); err != nil {
		return err
	}

	fmt.Printf("Exported %d recipient(s) to %s\n", snap.Count()[backup.EntityRecipient], args[0])
	return nil
}

func cmdImport(ctx context.Context, e *env, args []string) error {
	snap, err := backup.ReadFile(args[0])
	if err != nil {
		return err
	}
	n, err := backup.Import(ctx, e.db, snap, backupSources(e)...)
	if err != nil {
		return err
	}

	fmt.Printf("Imported %d recipient(s) from %s\n", n, args[0])
	return nil
}

func cmdToken(ctx context.Context, e *env, args []string) error {
	if len(e.cfg.TokenSecret) == 0 {
		return fmt.Errorf("no token secret is configured")
	}
	tok, err := token.Generate(e.cfg.TokenSecret, args[0], *flagLifetime)
	if err != nil {
		return err
	}

	fmt.Println(tok)
	return nil
}

func cmdServe(ctx context.Context, e *env, args []string) error {
	a := api.New(e.db, e.recipients, api.Options{
		Logger:      e.log,
		TokenSecret: e.cfg.TokenSecret,
		UnauthDelay: time.Second,
		BatchSize:   e.cfg.EnumerationBatchSize(),
		Gatherer:    e.registry,
	})
	server := api.NewServer(e.cfg.Listen, a)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ServeForever()
	}()

	e.log.Info("Admin API started; Ctrl-C (SIGINT) to stop")

	select {
	case err := <-serveErr:
		return fmt.Errorf("server encountered a problem: %w", err)
	case <-ctx.Done():
	}

	e.log.InfoBreak()
	e.log.Info("SIGINT received; shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		e.log.Warn(err.Error())
	}
	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	e.log.Info("Server shutdown complete")
	return nil
}
