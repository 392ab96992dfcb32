package syncqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/NadirInab/datavis-sub001/internal/client/models"
	"github.com/NadirInab/datavis-sub001/internal/dbx"
)

const taskColumns = `seq, identity, operation, idempotency_key, payload, attempts, enqueued_at, last_error`

// SQLiteRepository implements Repository on the sync_* tables.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (*models.SyncTask, error) {
	var (
		t     models.SyncTask
		op    string
		nanos int64
	)
	if err := s.Scan(&t.Seq, &t.Identity, &op, &t.IdempotencyKey, &t.Payload, &t.Attempts, &nanos, &t.LastError); err != nil {
		return nil, err
	}
	t.Operation = models.Operation(op)
	t.EnqueuedAt = time.Unix(0, nanos).UTC()
	return &t, nil
}

func insertTask(ctx context.Context, db dbx.DBTX, t *models.SyncTask) error {
	res, err := db.ExecContext(ctx, `
		INSERT INTO sync_tasks (identity, operation, idempotency_key, payload, attempts, enqueued_at, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.Identity, string(t.Operation), t.IdempotencyKey, []byte(t.Payload), t.Attempts, t.EnqueuedAt.UnixNano(), t.LastError)
	if err != nil {
		return fmt.Errorf("failed to insert sync task: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get sync task seq: %w", err)
	}
	t.Seq = seq
	return nil
}

func (r *SQLiteRepository) Enqueue(ctx context.Context, t *models.SyncTask) error {
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = r.now().UTC()
	}
	if t.Payload == nil {
		t.Payload = []byte("{}")
	}
	return insertTask(ctx, r.db, t)
}

func (r *SQLiteRepository) Head(ctx context.Context, identity string) (*models.SyncTask, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM sync_tasks WHERE identity = ? ORDER BY seq LIMIT 1`, identity)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read queue head: %w", err)
	}
	return t, nil
}

func (r *SQLiteRepository) list(ctx context.Context, table, identity string) ([]*models.SyncTask, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM `+table+` WHERE identity = ? ORDER BY seq`, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to select %s: %w", table, err)
	}
	defer rows.Close()

	var result []*models.SyncTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) List(ctx context.Context, identity string) ([]*models.SyncTask, error) {
	return r.list(ctx, "sync_tasks", identity)
}

func (r *SQLiteRepository) Count(ctx context.Context, identity string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_tasks WHERE identity = ?`, identity).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count sync tasks: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) Identities(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT identity FROM sync_tasks ORDER BY identity`)
	if err != nil {
		return nil, fmt.Errorf("failed to select identities: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func deleteTask(ctx context.Context, db dbx.DBTX, seq int64) error {
	res, err := db.ExecContext(ctx, `DELETE FROM sync_tasks WHERE seq = ?`, seq)
	if err != nil {
		return fmt.Errorf("failed to delete sync task: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra != 1 {
		return fmt.Errorf("wrong rows affected count: %d", ra)
	}
	return nil
}

func (r *SQLiteRepository) Requeue(ctx context.Context, t *models.SyncTask) error {
	moved := *t
	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := deleteTask(ctx, tx, t.Seq); err != nil {
			return err
		}
		return insertTask(ctx, tx, &moved)
	})
	if err != nil {
		return fmt.Errorf("requeue %s: %w", t.IdempotencyKey, err)
	}
	t.Seq = moved.Seq
	return nil
}

func (r *SQLiteRepository) UpdateAttempts(ctx context.Context, t *models.SyncTask) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sync_tasks SET attempts = ?, last_error = ? WHERE seq = ?`, t.Attempts, t.LastError, t.Seq)
	if err != nil {
		return fmt.Errorf("failed to update sync task: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Remove(ctx context.Context, t *models.SyncTask) error {
	return deleteTask(ctx, r.db, t.Seq)
}

func markApplied(ctx context.Context, db dbx.DBTX, key string, at time.Time) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO sync_applied (idempotency_key, applied_at) VALUES (?, ?) ON CONFLICT(idempotency_key) DO NOTHING`,
		key, at.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to mark %s applied: %w", key, err)
	}
	return nil
}

func (r *SQLiteRepository) Complete(ctx context.Context, t *models.SyncTask) error {
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := markApplied(ctx, tx, t.IdempotencyKey, r.now()); err != nil {
			return err
		}
		return deleteTask(ctx, tx, t.Seq)
	})
}

func (r *SQLiteRepository) MarkApplied(ctx context.Context, key string) error {
	return markApplied(ctx, r.db, key, r.now())
}

func (r *SQLiteRepository) IsApplied(ctx context.Context, key string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM sync_applied WHERE idempotency_key = ?`, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", key, err)
	}
	return true, nil
}

func (r *SQLiteRepository) Bury(ctx context.Context, t *models.SyncTask) error {
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sync_dead (`+taskColumns+`, buried_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.Seq, t.Identity, string(t.Operation), t.IdempotencyKey, []byte(t.Payload),
			t.Attempts, t.EnqueuedAt.UnixNano(), t.LastError, r.now().UnixNano())
		if err != nil {
			return fmt.Errorf("failed to bury sync task: %w", err)
		}
		return deleteTask(ctx, tx, t.Seq)
	})
}

func (r *SQLiteRepository) Dead(ctx context.Context, identity string) ([]*models.SyncTask, error) {
	return r.list(ctx, "sync_dead", identity)
}
