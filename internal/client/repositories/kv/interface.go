// Package kv is the local storage medium of the engine: a flat key/value
// namespace with an optional byte capacity, the equivalent of a browser's
// local storage. Every component persists through a Repository; nothing
// touches the backing database directly.
//
// Capacity accounting counts len(key)+len(stored value) over all keys. A Set
// that would push the total past the capacity fails with ErrCapacity and
// leaves the previous value in place.
package kv

import (
	"context"
	"errors"
)

// ErrCapacity reports that the medium has no room for a write.
var ErrCapacity = errors.New("storage medium capacity exceeded")

type Repository interface {
	// Get returns the value stored under key, or (nil, nil) if absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set upserts key. It fails with ErrCapacity when out of room.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys lists the keys that start with prefix, sorted.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Usage returns the bytes currently accounted against the capacity.
	Usage(ctx context.Context) (int64, error)

	// Capacity returns the configured capacity; 0 means unlimited.
	Capacity() int64
}

// Option configures a repository.
type Option func(*options)

type options struct {
	capacity int64
	compress bool
}

// WithCapacity caps the medium at n bytes. n <= 0 means unlimited.
func WithCapacity(n int64) Option {
	return func(o *options) { o.capacity = n }
}

// WithCompression stores large values zstd-compressed. Only the SQLite
// medium honors it; Badger compresses its own tables.
func WithCompression(on bool) Option {
	return func(o *options) { o.compress = on }
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
