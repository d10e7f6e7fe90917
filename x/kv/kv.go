// Package kv provides the key-value backends the job store persists to.
package kv

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("kv: key not found")

// UpdateFunc receives the current value (nil when absent) and returns the
// value to store. Returning a nil value deletes the key. Returning an error
// aborts the update and leaves the key untouched.
type UpdateFunc func(current []byte) ([]byte, error)

// Store is an atomic key-value store. Update must run read-modify-write as
// a single transaction with respect to other writers of the same key.
type Store interface {
	Get(ctx context.Context, key []byte) ([]byte, error)
	Update(ctx context.Context, key []byte, fn UpdateFunc) error
	// Iterate visits every key with the given prefix. Iteration order is
	// backend specific.
	Iterate(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error
	Close() error
}

// Pinger is implemented by backends that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}
