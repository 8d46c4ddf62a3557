// Package kvstore defines the flat key/value persistence abstraction the
// engine builds every other durable record on top of: key-agreement keys,
// communication key records, thread state, and payload snapshots are all
// just namespaced entries in a string-to-string map.
//
// Durability and concurrency guarantees are provided by whichever backend
// is plugged in (see kvstore/memory and kvstore/postgres); the engine
// itself assumes single-writer semantics per thread id and does not
// strengthen them.
package kvstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Read when no value is stored under key.
var ErrNotFound = errors.New("kvstore: key not found")

// Store is a flat, namespaced string-to-string map.
type Store interface {
	// Write stores value under key, overwriting any previous value.
	Write(ctx context.Context, key, value string) error

	// Read returns the value stored under key, or ErrNotFound.
	Read(ctx context.Context, key string) (string, error)

	// SearchByPrefix returns the values of every key starting with prefix,
	// in an unspecified but deterministic order.
	SearchByPrefix(ctx context.Context, prefix string) ([]string, error)
}
