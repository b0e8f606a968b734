// Package rawdb provides the low-level key/value store interfaces and the
// typed accessor functions for persisted chain data: headers, bodies,
// receipts, execution outcomes, canonical-number and tx-lookup indices,
// stage checkpoints, and head pointers.
//
// Keys follow a prefix-based schema where each table owns a distinct
// single-byte prefix, so tables can be rolled back independently.
package rawdb

import "errors"

// ErrNotFound is returned when a key does not exist in the store.
var ErrNotFound = errors.New("rawdb: not found")

// KeyValueReader wraps the Has and Get methods of a backing data store.
type KeyValueReader interface {
	Has(key []byte) (bool, error)
	Get(key []byte) ([]byte, error)
}

// KeyValueWriter wraps the Put and Delete methods of a backing data store.
type KeyValueWriter interface {
	Put(key, value []byte) error
	Delete(key []byte) error
}

// KeyValueStore combines read and write access to a backing data store.
type KeyValueStore interface {
	KeyValueReader
	KeyValueWriter
	Close() error
}

// Batch is a write-only change set that commits atomically via Write.
// Batches are the unit of the short-lived transactions used by pipeline
// stage steps and tree canonicalization (one batch per step).
type Batch interface {
	KeyValueWriter

	// ValueSize returns the amount of queued data, used to decide when to
	// flush mid-range during bulk sync.
	ValueSize() int

	// Write commits all queued changes atomically.
	Write() error

	// Reset discards queued changes.
	Reset()
}

// Batcher wraps the NewBatch method of a backing data store.
type Batcher interface {
	NewBatch() Batch
}

// Database is the full store interface the sync core operates against.
type Database interface {
	KeyValueStore
	Batcher
}
