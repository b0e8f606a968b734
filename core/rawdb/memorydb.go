package rawdb

import (
	"errors"
	"sync"
)

// errMemClosed is returned on access after Close.
var errMemClosed = errors.New("rawdb: memory database closed")

// MemoryDB is a map-backed Database for tests and ephemeral nodes.
// Safe for concurrent use.
type MemoryDB struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

// NewMemoryDB creates an empty in-memory database.
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{data: make(map[string][]byte)}
}

// Has reports whether the key exists.
func (db *MemoryDB) Has(key []byte) (bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return false, errMemClosed
	}
	_, ok := db.data[string(key)]
	return ok, nil
}

// Get returns a copy of the value for key, or ErrNotFound.
func (db *MemoryDB) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, errMemClosed
	}
	val, ok := db.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

// Put stores a copy of the value under key.
func (db *MemoryDB) Put(key, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return errMemClosed
	}
	val := make([]byte, len(value))
	copy(val, value)
	db.data[string(key)] = val
	return nil
}

// Delete removes the key if present.
func (db *MemoryDB) Delete(key []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return errMemClosed
	}
	delete(db.data, string(key))
	return nil
}

// Close marks the database closed; further access errors.
func (db *MemoryDB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.closed = true
	return nil
}

// Len returns the number of stored keys.
func (db *MemoryDB) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.data)
}

// NewBatch returns a batch accumulating writes against this database.
func (db *MemoryDB) NewBatch() Batch {
	return &memBatch{db: db}
}

type memOp struct {
	key    string
	value  []byte
	delete bool
}

// memBatch queues writes and applies them atomically under the db lock.
type memBatch struct {
	db   *MemoryDB
	ops  []memOp
	size int
}

func (b *memBatch) Put(key, value []byte) error {
	val := make([]byte, len(value))
	copy(val, value)
	b.ops = append(b.ops, memOp{key: string(key), value: val})
	b.size += len(key) + len(value)
	return nil
}

func (b *memBatch) Delete(key []byte) error {
	b.ops = append(b.ops, memOp{key: string(key), delete: true})
	b.size += len(key)
	return nil
}

func (b *memBatch) ValueSize() int { return b.size }

func (b *memBatch) Write() error {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	if b.db.closed {
		return errMemClosed
	}
	for _, op := range b.ops {
		if op.delete {
			delete(b.db.data, op.key)
		} else {
			b.db.data[op.key] = op.value
		}
	}
	return nil
}

func (b *memBatch) Reset() {
	b.ops = b.ops[:0]
	b.size = 0
}
