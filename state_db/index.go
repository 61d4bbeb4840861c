// Package state_db provides the read-only committed state the block executes
// on top of: a plain in-memory implementation for tests, a leveldb-backed
// one, and a bounded read-through cache that can wrap either.
package state_db

import (
	"github.com/Taraxa-project/taraxa-stm/stm_types"
	"github.com/Taraxa-project/taraxa-stm/util"
	"github.com/coocood/freecache"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

// MapReader is a fixed key-value snapshot. Reads of a plain map are safe
// concurrently as long as nobody writes, which holds for base state during
// block execution.
type MapReader map[stm_types.Key]stm_types.Value

func (this MapReader) Get(key stm_types.Key) (stm_types.Value, bool) {
	val, ok := this[key]
	return val, ok
}

type LDBReader struct {
	db *leveldb.DB
}

func NewLDBReader(file string) (this *LDBReader, err error) {
	db, err := leveldb.OpenFile(file, nil)
	if err != nil {
		return
	}
	return &LDBReader{db}, nil
}

// NewMemLDBReader opens a memory-backed leveldb seeded with `entries`.
func NewMemLDBReader(entries map[stm_types.Key]stm_types.Value) *LDBReader {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	util.PanicIfNotNil(err)
	for key, val := range entries {
		util.PanicIfNotNil(db.Put([]byte(key), val, nil))
	}
	return &LDBReader{db}
}

func (this *LDBReader) Get(key stm_types.Key) (stm_types.Value, bool) {
	val, err := this.db.Get([]byte(key), nil)
	if err == leveldb.ErrNotFound {
		return nil, false
	}
	util.PanicIfNotNil(err)
	return val, true
}

func (this *LDBReader) Close() {
	util.PanicIfNotNil(this.db.Close())
}

// CachedReader is an explicit, bounded read-through cache over a backend
// reader. Only present values are cached; eviction is the cache's own
// LRU-approximating policy.
type CachedReader struct {
	backend stm_types.BaseState
	cache   *freecache.Cache
}

func NewCachedReader(backend stm_types.BaseState, cache_size_bytes int) *CachedReader {
	return &CachedReader{backend: backend, cache: freecache.NewCache(cache_size_bytes)}
}

func (this *CachedReader) Get(key stm_types.Key) (stm_types.Value, bool) {
	key_bytes := []byte(key)
	if val, err := this.cache.Get(key_bytes); err == nil {
		return val, true
	}
	val, ok := this.backend.Get(key)
	if ok {
		// ttl 0 = no expiry; oversized entries are simply not cached
		_ = this.cache.Set(key_bytes, val, 0)
	}
	return val, ok
}
