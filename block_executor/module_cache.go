package block_executor

import (
	"github.com/Taraxa-project/taraxa-stm/stm_types"
	"github.com/Taraxa-project/taraxa-stm/util"
	lru "github.com/hashicorp/golang-lru"
)

// WarmCodeCache caches code/module values read from base state. It is an
// explicit handle owned by the caller and may be shared across blocks: code
// below the block is immutable during parallel execution (an in-block publish
// forces sequential fallback, which invalidates published keys).
type WarmCodeCache struct {
	lru *lru.Cache
}

func NewWarmCodeCache(capacity int) *WarmCodeCache {
	cache, err := lru.New(capacity)
	util.PanicIfNotNil(err)
	return &WarmCodeCache{cache}
}

func (this *WarmCodeCache) Get(key stm_types.Key) (stm_types.Value, bool) {
	if val, ok := this.lru.Get(key); ok {
		return val.(stm_types.Value), true
	}
	return nil, false
}

func (this *WarmCodeCache) Add(key stm_types.Key, value stm_types.Value) {
	this.lru.Add(key, value)
}

func (this *WarmCodeCache) Invalidate(key stm_types.Key) {
	this.lru.Remove(key)
}

func (this *WarmCodeCache) Len() int {
	return this.lru.Len()
}
