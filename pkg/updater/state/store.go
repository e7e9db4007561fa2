// Package state offers a small per-identity key→value store that handlers
// can use to keep conversation or user state between events. Two
// implementations are provided: an in-memory store for tests and simple
// bots, and a SQLite store for single-process production use.
//
// The store persists handler state, not events; events remain in-process
// and non-durable.
package state

import (
	"context"
	"errors"
)

// Store errors.
var (
	// ErrNotFound is returned when the field does not exist.
	ErrNotFound = errors.New("state: not found")

	// ErrStoreClosed is returned for operations on a closed store.
	ErrStoreClosed = errors.New("state: store closed")
)

// Store persists named values per identity key.
type Store interface {
	// Get returns the value of field for identity.
	Get(ctx context.Context, identity int64, field string) ([]byte, error)

	// Set stores the value of field for identity, replacing any previous
	// value.
	Set(ctx context.Context, identity int64, field string, value []byte) error

	// Delete removes field for identity. Deleting a missing field is not
	// an error.
	Delete(ctx context.Context, identity int64, field string) error

	// Fields lists the fields stored for identity, in no particular order.
	Fields(ctx context.Context, identity int64) ([]string, error)

	// Close releases underlying resources.
	Close() error
}
