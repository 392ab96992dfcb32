// Package dbx holds the SQLite plumbing shared by the local repositories:
// the opener, a DBTX handle satisfied by *sql.DB and *sql.Tx, and WithTx,
// which retries transactions that lost the single-writer lock.
package dbx

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DBTX is the subset of database/sql the sync queue and kv repositories use.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const (
	txAttempts = 3
	txBackoff  = 20 * time.Millisecond
)

// retryable is swapped in tests.
var retryable = IsBusy

// IsBusy reports whether err is SQLite's busy or locked condition, which
// another process holding the database can cause even past busy_timeout.
func IsBusy(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

// WithTx runs fn in a transaction, committing when fn returns nil and
// rolling back on an error or panic. Panics are rethrown. A transaction that
// fails because the database is busy is rolled back and run again, up to
// three times, so fn must not have effects outside tx.
//
// fn must use tx only: with a single-connection pool, touching db inside fn
// blocks forever.
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = runTx(ctx, db, opts, fn)
		if err == nil || attempt == txAttempts || !retryable(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(time.Duration(attempt) * txBackoff):
		}
	}
}

func runTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	return fn(ctx, tx)
}
