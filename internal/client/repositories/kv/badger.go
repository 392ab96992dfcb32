package kv

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// BadgerRepository implements Repository on an embedded Badger database.
// Usage is tracked in memory: it is computed once at open and kept current
// by Set and Delete, which are serialized by mu.
type BadgerRepository struct {
	db   *badger.DB
	opts options

	mu   sync.Mutex
	used int64
}

// OpenBadger opens (or creates) a Badger database in dir. An empty dir
// opens an in-memory database.
func OpenBadger(dir string, opts ...Option) (*BadgerRepository, error) {
	bo := badger.DefaultOptions(dir)
	if dir == "" {
		bo = bo.WithInMemory(true)
	}
	bo.Logger = nil
	bo.SyncWrites = true

	db, err := badger.Open(bo)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	r := &BadgerRepository{db: db, opts: buildOptions(opts)}
	if err := r.recount(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *BadgerRepository) recount() error {
	var used int64
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			used += int64(len(item.Key())) + item.ValueSize()
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("count badger usage: %w", err)
	}
	r.used = used
	return nil
}

func (r *BadgerRepository) Close() error {
	return r.db.Close()
}

func (r *BadgerRepository) Capacity() int64 {
	return r.opts.capacity
}

func (r *BadgerRepository) Get(_ context.Context, key string) ([]byte, error) {
	var value []byte
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get kv[%s]: %w", key, err)
	}
	return value, nil
}

func (r *BadgerRepository) Set(_ context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var delta int64
	err := r.db.Update(func(txn *badger.Txn) error {
		var current int64
		item, err := txn.Get([]byte(key))
		switch {
		case err == nil:
			current = int64(len(key)) + item.ValueSize()
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		delta = int64(len(key)+len(value)) - current
		if r.opts.capacity > 0 && r.used+delta > r.opts.capacity {
			return fmt.Errorf("kv[%s] needs %d of %d bytes: %w", key, r.used+delta, r.opts.capacity, ErrCapacity)
		}
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		if errors.Is(err, ErrCapacity) {
			return err
		}
		return fmt.Errorf("failed to set kv[%s]: %w", key, err)
	}
	r.used += delta
	return nil
}

func (r *BadgerRepository) Delete(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var freed int64
	err := r.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		freed = int64(len(key)) + item.ValueSize()
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("failed to delete kv[%s]: %w", key, err)
	}
	r.used -= freed
	return nil
}

func (r *BadgerRepository) Keys(_ context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)
	err := r.db.View(func(txn *badger.Txn) error {
		o := badger.DefaultIteratorOptions
		o.PrefetchValues = false
		o.Prefix = []byte(prefix)
		it := txn.NewIterator(o)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list kv keys: %w", err)
	}
	return keys, nil
}

func (r *BadgerRepository) Usage(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.used, nil
}
