// Package kv holds the persistent key-value contract that backs the local
// mutation logs, plus its backends.
//
// Values are opaque bytes at this level. Namespace layers a key prefix and
// JSON encoding on top, which is what the overlay package consumes.
package kv

import (
	"context"
	"errors"
)

var ErrClosed = errors.New("kv store closed")

// Store is a flat byte-keyed map that outlives the process.
type Store interface {
	// Get returns the value under key; found is false when nothing is stored.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	// Remove is a no-op for missing keys.
	Remove(ctx context.Context, key string) error
	// Clear removes every key starting with prefix.
	Clear(ctx context.Context, prefix string) error
	Close() error
}
