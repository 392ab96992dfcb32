// Package repositories opens the local store and bundles its repositories.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/NadirInab/datavis-sub001/internal/client/migrations"
	"github.com/NadirInab/datavis-sub001/internal/client/repositories/kv"
	"github.com/NadirInab/datavis-sub001/internal/client/repositories/syncqueue"
	"github.com/NadirInab/datavis-sub001/internal/dbx"
)

const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

type Options struct {
	// Backend selects the kv medium: BackendSQLite (default) or BackendBadger.
	Backend string
	// BadgerDir is the Badger directory; empty means <dir of dsn>/kv.
	BadgerDir string
	Capacity  int64
	Compress  bool
}

type Repositories struct {
	DB    *sql.DB
	KV    kv.Repository
	Queue syncqueue.Repository

	closers []func() error
}

// Close releases the medium and the database.
func (r *Repositories) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	return errors.Join(errs...)
}

// InitDatabase opens the SQLite database at dsn, migrates it and builds the
// repositories on top. The sync queue always lives in SQLite.
func InitDatabase(ctx context.Context, dsn string, o Options) (*Repositories, error) {
	db, err := dbx.OpenSQLite(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := migrations.Run(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	repos := &Repositories{
		DB:      db,
		Queue:   syncqueue.NewSQLiteRepository(db),
		closers: []func() error{db.Close},
	}

	kvOpts := []kv.Option{kv.WithCapacity(o.Capacity), kv.WithCompression(o.Compress)}

	switch o.Backend {
	case "", BackendSQLite:
		repos.KV = kv.NewSQLiteRepository(db, kvOpts...)
	case BackendBadger:
		dir := o.BadgerDir
		if dir == "" {
			dir = filepath.Join(filepath.Dir(dsn), "kv")
		}
		b, err := kv.OpenBadger(dir, kvOpts...)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		repos.KV = b
		repos.closers = append(repos.closers, b.Close)
	default:
		_ = db.Close()
		return nil, fmt.Errorf("unknown storage backend %q", o.Backend)
	}

	return repos, nil
}
