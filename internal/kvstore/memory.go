package kvstore

import (
	"bytes"
	"sort"
	"sync"
)

// Memory is an in-memory Store. Used by tests and by local development
// runs of the daemon without a Pebble directory.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Has(key []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[string(key)]
	return ok, nil
}

func (m *Memory) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

func (m *Memory) DeleteRange(start, end []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.data {
		kb := []byte(k)
		if bytes.Compare(kb, start) >= 0 && bytes.Compare(kb, end) < 0 {
			delete(m.data, k)
		}
	}
	return nil
}

// SeekForPrev returns the key/value pair with the greatest key <= seek
// that also shares prefix. Implemented by scanning matching keys; the
// in-memory store favors simplicity over the O(log n) a real backend
// provides, since it is a test/dev convenience, not the production path.
func (m *Memory) SeekForPrev(prefix, seek []byte) ([]byte, []byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var bestKey string
	found := false
	for k := range m.data {
		if !bytes.HasPrefix([]byte(k), prefix) {
			continue
		}
		if bytes.Compare([]byte(k), seek) > 0 {
			continue
		}
		if !found || k > bestKey {
			bestKey = k
			found = true
		}
	}
	if !found {
		return nil, nil, false, nil
	}
	return []byte(bestKey), append([]byte(nil), m.data[bestKey]...), true, nil
}

func (m *Memory) Close() error { return nil }

func (m *Memory) NewBatch() Batch {
	return &memBatch{db: m}
}

// Len reports the number of keys currently stored (test helper).
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Keys returns a sorted snapshot of all keys (test/debug helper).
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type memOp struct {
	key, value []byte
	deleteOp   bool
	rangeOp    bool
	rangeEnd   []byte
}

type memBatch struct {
	db  *Memory
	ops []memOp
}

func (b *memBatch) Put(key, value []byte) error {
	b.ops = append(b.ops, memOp{key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
	return nil
}

func (b *memBatch) Delete(key []byte) error {
	b.ops = append(b.ops, memOp{key: append([]byte(nil), key...), deleteOp: true})
	return nil
}

func (b *memBatch) DeleteRange(start, end []byte) error {
	b.ops = append(b.ops, memOp{key: append([]byte(nil), start...), rangeOp: true, rangeEnd: append([]byte(nil), end...)})
	return nil
}

func (b *memBatch) Commit() error {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	for _, op := range b.ops {
		switch {
		case op.rangeOp:
			for k := range b.db.data {
				kb := []byte(k)
				if bytes.Compare(kb, op.key) >= 0 && bytes.Compare(kb, op.rangeEnd) < 0 {
					delete(b.db.data, k)
				}
			}
		case op.deleteOp:
			delete(b.db.data, string(op.key))
		default:
			b.db.data[string(op.key)] = op.value
		}
	}
	b.ops = nil
	return nil
}

func (b *memBatch) Reset() { b.ops = nil }
