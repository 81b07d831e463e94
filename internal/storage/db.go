// Package storage provides database abstractions.
package storage

import "errors"

// ErrKeyNotFound is returned by Get and NewBatch consumers when a
// requested key does not exist.
var ErrKeyNotFound = errors.New("key not found")

// DB is the interface for key-value storage.
type DB interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	// ForEach iterates over all keys with the given prefix.
	// The callback receives a copy of the key and value.
	// Return a non-nil error from fn to stop iteration early.
	ForEach(prefix []byte, fn func(key, value []byte) error) error
	// NewBatch returns a Batch that accumulates writes for this DB.
	NewBatch() Batch
	Close() error
}

// Batcher is implemented by any value that can stage writes into an atomic
// batch. Batch embeds it; DB does not satisfy it, since DB's Put and Delete
// return an error.
type Batcher interface {
	Put(key, value []byte)
	Delete(key []byte)
}

// Batch accumulates puts and deletes for a single atomic commit: either
// every staged write lands, or (on Commit error) none of them do. A Batch
// is not safe for concurrent use.
type Batch interface {
	Batcher
	// Commit applies every staged write atomically. A Batch must not be
	// reused after Commit is called.
	Commit() error
}
