package tokenstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Load when no credential record is stored.
var ErrNotFound = errors.New("no credential record stored")

// Store reads and writes the serialized credential record.
//
// OAuth authentication requires writable storage.
type Store interface {
	// Load returns the stored record. Returns ErrNotFound if nothing is
	// stored, or another error if the record exists but cannot be read.
	Load(ctx context.Context) ([]byte, error)

	// Save persists the record, overwriting any prior one. Returns an error
	// if the backend is read-only or the write fails.
	Save(ctx context.Context, record []byte) error

	// Clear removes the stored record. Clearing an empty store is not an
	// error.
	Clear(ctx context.Context) error
}
