package kvstore

import (
	"bytes"

	"github.com/cockroachdb/pebble"
)

// Pebble is a Store backed by cockroachdb/pebble, an ordered LSM
// key-value engine. This is the production backend; Memory remains the
// in-process fake used by tests.
type Pebble struct {
	db *pebble.DB
}

// OpenPebble opens (creating if absent) a Pebble database at dir.
func OpenPebble(dir string) (*Pebble, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &Pebble{db: db}, nil
}

func (p *Pebble) Has(key []byte) (bool, error) {
	v, closer, err := p.db.Get(key)
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_ = v
	closer.Close()
	return true, nil
}

func (p *Pebble) Get(key []byte) ([]byte, error) {
	v, closer, err := p.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), v...)
	closer.Close()
	return out, nil
}

func (p *Pebble) Put(key, value []byte) error {
	return p.db.Set(key, value, pebble.Sync)
}

func (p *Pebble) Delete(key []byte) error {
	return p.db.Delete(key, pebble.Sync)
}

func (p *Pebble) DeleteRange(start, end []byte) error {
	return p.db.DeleteRange(start, end, pebble.Sync)
}

// immediateSuccessor returns the lexicographically smallest byte string
// strictly greater than b: b with a zero byte appended. Used to turn
// pebble's SeekLT (strictly-less-than) into an inclusive "greatest key <=
// seek" query.
func immediateSuccessor(b []byte) []byte {
	out := make([]byte, len(b)+1)
	copy(out, b)
	return out
}

func (p *Pebble) SeekForPrev(prefix, seek []byte) ([]byte, []byte, bool, error) {
	iter, err := p.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, nil, false, err
	}
	defer iter.Close()

	if !iter.SeekLT(immediateSuccessor(seek)) {
		return nil, nil, false, nil
	}
	key := iter.Key()
	if !bytes.HasPrefix(key, prefix) {
		return nil, nil, false, nil
	}
	return append([]byte(nil), key...), append([]byte(nil), iter.Value()...), true, nil
}

func (p *Pebble) Close() error {
	return p.db.Close()
}

func (p *Pebble) NewBatch() Batch {
	return &pebbleBatch{db: p.db, batch: p.db.NewBatch()}
}

type pebbleBatch struct {
	db    *pebble.DB
	batch *pebble.Batch
}

func (b *pebbleBatch) Put(key, value []byte) error {
	return b.batch.Set(key, value, nil)
}

func (b *pebbleBatch) Delete(key []byte) error {
	return b.batch.Delete(key, nil)
}

func (b *pebbleBatch) DeleteRange(start, end []byte) error {
	return b.batch.DeleteRange(start, end, nil)
}

func (b *pebbleBatch) Commit() error {
	return b.batch.Commit(pebble.Sync)
}

func (b *pebbleBatch) Reset() {
	b.batch.Reset()
}
