package rawdb

import (
	"errors"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// LevelDB is a goleveldb-backed Database for persistent nodes.
type LevelDB struct {
	db *leveldb.DB
}

// LevelDBConfig tunes the underlying goleveldb instance.
type LevelDBConfig struct {
	CacheMiB   int // block cache size
	HandlesMiB int // write buffer size
}

// DefaultLevelDBConfig returns sensible defaults for a sync node.
func DefaultLevelDBConfig() LevelDBConfig {
	return LevelDBConfig{CacheMiB: 128, HandlesMiB: 64}
}

// NewLevelDB opens (or creates) a leveldb database at path.
func NewLevelDB(path string, config LevelDBConfig) (*LevelDB, error) {
	opts := &opt.Options{
		BlockCacheCapacity: config.CacheMiB * opt.MiB,
		WriteBuffer:        config.HandlesMiB * opt.MiB,
	}
	db, err := leveldb.OpenFile(path, opts)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

// Has reports whether the key exists.
func (l *LevelDB) Has(key []byte) (bool, error) {
	return l.db.Has(key, nil)
}

// Get returns the value for key, or ErrNotFound.
func (l *LevelDB) Get(key []byte) ([]byte, error) {
	val, err := l.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return val, err
}

// Put stores the value under key.
func (l *LevelDB) Put(key, value []byte) error {
	return l.db.Put(key, value, nil)
}

// Delete removes the key if present.
func (l *LevelDB) Delete(key []byte) error {
	return l.db.Delete(key, nil)
}

// Close flushes and closes the database.
func (l *LevelDB) Close() error {
	return l.db.Close()
}

// NewBatch returns a batch committing atomically through leveldb.
func (l *LevelDB) NewBatch() Batch {
	return &ldbBatch{db: l.db, batch: new(leveldb.Batch)}
}

type ldbBatch struct {
	db    *leveldb.DB
	batch *leveldb.Batch
	size  int
}

func (b *ldbBatch) Put(key, value []byte) error {
	b.batch.Put(key, value)
	b.size += len(key) + len(value)
	return nil
}

func (b *ldbBatch) Delete(key []byte) error {
	b.batch.Delete(key)
	b.size += len(key)
	return nil
}

func (b *ldbBatch) ValueSize() int { return b.size }

func (b *ldbBatch) Write() error {
	return b.db.Write(b.batch, nil)
}

func (b *ldbBatch) Reset() {
	b.batch.Reset()
	b.size = 0
}
