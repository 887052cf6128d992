// Package kvstore defines the ordered byte-keyed store interfaces this
// module's core logic is written against, plus two implementations: an
// in-memory store for tests and a Pebble-backed store for the daemon.
// SeekForPrev is the one non-obvious requirement: the per-address
// snapshot read needs the greatest key at or below a target height.
package kvstore

import "errors"

// ErrNotFound is returned by Get when the key is absent. Call sites in
// this module compare Get's error against it directly.
var ErrNotFound = errors.New("kvstore: not found")

// Reader is the read half of a key-value store.
type Reader interface {
	Has(key []byte) (bool, error)
	Get(key []byte) ([]byte, error)

	// SeekForPrev returns the key/value pair with the greatest key <= seek
	// among keys sharing prefix, or found=false if none exists. This is
	// the operation the indexer's snapshot scan depends on.
	SeekForPrev(prefix, seek []byte) (key, value []byte, found bool, err error)
}

// Writer is the write half of a key-value store.
type Writer interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	// DeleteRange deletes every key in [start, end).
	DeleteRange(start, end []byte) error
}

// Batch buffers a set of writes for atomic commit. A Batch that is never
// committed has no effect.
type Batch interface {
	Writer
	// Commit atomically applies every buffered operation.
	Commit() error
	// Reset discards buffered operations without committing.
	Reset()
}

// Store is the full store: direct reads/writes plus atomic batches.
type Store interface {
	Reader
	Writer
	NewBatch() Batch
	Close() error
}
