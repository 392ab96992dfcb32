package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/NadirInab/datavis-sub001/internal/dbx"
	"github.com/klauspost/compress/zstd"
)

const (
	codecRaw  = 0
	codecZstd = 1

	// Values shorter than this are never compressed.
	compressThreshold = 512
)

var (
	encoder, _ = zstd.NewWriter(nil)
	decoder, _ = zstd.NewReader(nil)
)

// SQLiteRepository implements Repository on the kv table.
type SQLiteRepository struct {
	db   *sql.DB
	opts options
}

func NewSQLiteRepository(db *sql.DB, opts ...Option) *SQLiteRepository {
	return &SQLiteRepository{db: db, opts: buildOptions(opts)}
}

func (r *SQLiteRepository) Capacity() int64 {
	return r.opts.capacity
}

func (r *SQLiteRepository) Get(ctx context.Context, key string) ([]byte, error) {
	var (
		value []byte
		codec int
	)
	err := r.db.QueryRowContext(ctx, `SELECT value, codec FROM kv WHERE key = ?`, key).Scan(&value, &codec)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get kv[%s]: %w", key, err)
	}
	if codec == codecZstd {
		value, err = decoder.DecodeAll(value, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decode kv[%s]: %w", key, err)
		}
	}
	return value, nil
}

func (r *SQLiteRepository) encode(value []byte) ([]byte, int) {
	if !r.opts.compress || len(value) < compressThreshold {
		return value, codecRaw
	}
	c := encoder.EncodeAll(value, make([]byte, 0, len(value)/2))
	if len(c) >= len(value) {
		return value, codecRaw
	}
	return c, codecZstd
}

// Set upserts key inside a transaction so the capacity check and the write
// see the same usage figure.
func (r *SQLiteRepository) Set(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	stored, codec := r.encode(value)

	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if r.opts.capacity > 0 {
			var used, current int64
			err := tx.QueryRowContext(ctx, `
				SELECT COALESCE(SUM(length(key) + length(value)), 0),
				       COALESCE(SUM(CASE WHEN key = ? THEN length(key) + length(value) ELSE 0 END), 0)
				FROM kv`, key).Scan(&used, &current)
			if err != nil {
				return fmt.Errorf("failed to read kv usage: %w", err)
			}
			next := used - current + int64(len(key)+len(stored))
			if next > r.opts.capacity {
				return fmt.Errorf("kv[%s] needs %d of %d bytes: %w", key, next, r.opts.capacity, ErrCapacity)
			}
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO kv (key, value, codec) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, codec = excluded.codec
		`, key, stored, codec)
		if err != nil {
			return fmt.Errorf("failed to set kv[%s]: %w", key, err)
		}
		return nil
	})
	return err
}

func (r *SQLiteRepository) Delete(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete kv[%s]: %w", key, err)
	}
	return nil
}

func (r *SQLiteRepository) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT key FROM kv WHERE substr(key, 1, length(?)) = ? ORDER BY key`, prefix, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list kv keys: %w", err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan kv key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate kv keys: %w", err)
	}
	return keys, nil
}

func (r *SQLiteRepository) Usage(ctx context.Context) (int64, error) {
	var used int64
	err := r.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(length(key) + length(value)), 0) FROM kv`).Scan(&used)
	if err != nil {
		return 0, fmt.Errorf("failed to read kv usage: %w", err)
	}
	return used, nil
}
