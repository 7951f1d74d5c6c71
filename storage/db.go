package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb"
	ethleveldb "github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/syndtr/goleveldb/leveldb"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("storage: key not found")

// Database is a generic interface for a key-value store plus the trie node
// database holding ledger state. This allows the node to use any backend (in-memory or persistent).
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	TrieDB() *triedb.Database
	Close() // A way to gracefully shut down the database connection.
}

func newTrieDB(kv ethdb.KeyValueStore) (ethdb.Database, *triedb.Database) {
	db := rawdb.NewDatabase(kv)
	return db, triedb.NewDatabase(db, triedb.HashDefaults)
}

// --- In-Memory DB (for testing) ---

type MemDB struct {
	mu     sync.RWMutex
	data   map[string][]byte
	disk   ethdb.Database
	trieDB *triedb.Database
}

func NewMemDB() *MemDB {
	disk, trieDB := newTrieDB(memorydb.New())
	return &MemDB{
		data:   make(map[string][]byte),
		disk:   disk,
		trieDB: trieDB,
	}
}

func (db *MemDB) Put(key []byte, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (db *MemDB) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	value, ok := db.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

// TrieDB returns the trie node database backed by process memory.
func (db *MemDB) TrieDB() *triedb.Database {
	return db.trieDB
}

// Close satisfies the Database interface for MemDB.
func (db *MemDB) Close() {
	_ = db.disk.Close()
}

// --- Persistent DB ---

const (
	levelDBCacheMB = 16
	levelDBHandles = 16
)

// LevelDB is a persistent store. Node metadata lives in a goleveldb database
// under <dir>/meta; trie nodes live in a go-ethereum key/value store under
// <dir>/state.
type LevelDB struct {
	meta   *leveldb.DB
	disk   ethdb.Database
	trieDB *triedb.Database
}

// NewLevelDB creates or opens the databases under the specified directory.
func NewLevelDB(path string) (*LevelDB, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	meta, err := leveldb.OpenFile(filepath.Join(path, "meta"), nil)
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}
	kv, err := ethleveldb.New(filepath.Join(path, "state"), levelDBCacheMB, levelDBHandles, "ticketsale/state/", false)
	if err != nil {
		meta.Close()
		return nil, fmt.Errorf("open state store: %w", err)
	}
	disk, trieDB := newTrieDB(kv)
	return &LevelDB{meta: meta, disk: disk, trieDB: trieDB}, nil
}

// Put inserts or updates a key-value pair.
func (ldb *LevelDB) Put(key []byte, value []byte) error {
	return ldb.meta.Put(key, value, nil)
}

// Get retrieves a value for a given key.
func (ldb *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := ldb.meta.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

// TrieDB returns the trie node database persisted under <dir>/state.
func (ldb *LevelDB) TrieDB() *triedb.Database {
	return ldb.trieDB
}

// Close closes both database handles.
func (ldb *LevelDB) Close() {
	_ = ldb.trieDB.Close()
	_ = ldb.disk.Close()
	_ = ldb.meta.Close()
}
