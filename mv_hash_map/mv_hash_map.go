// Package mv_hash_map is the multi-version concurrent map at the center of
// the parallel executor: per key it keeps an ordered chain of entries, one
// per writing transaction index, so that a reader at index i observes the
// closest write below i, an estimate placeholder, or nothing.
package mv_hash_map

import (
	"fmt"
	"sync"

	"github.com/Taraxa-project/taraxa-stm/delta"
	"github.com/Taraxa-project/taraxa-stm/stm_types"
	"github.com/Taraxa-project/taraxa-stm/util/asserts"
	"github.com/emirpasic/gods/trees/redblacktree"
)

type ReadStatus int

const (
	ReadOk ReadStatus = iota
	ReadNotFound
	// the closest entry is an estimate: the reader must park on Blocking
	ReadDependency
	// a delta chain was closed by a concrete value within the block
	ReadResolvedDelta
	// a delta chain reached the bottom without a concrete value; the caller
	// owns base storage and finishes the resolution with Deltas
	ReadUnresolvedDelta
	// a delta application failed (over/underflow)
	ReadError
)

type ReadResult struct {
	Status   ReadStatus
	Version  stm_types.Version
	Value    stm_types.Value
	Blocking stm_types.TxnIndex
	Resolved uint64
	// pending ops in ascending transaction order, set for ReadUnresolvedDelta
	Deltas []*delta.Op
	Err    error
}

type MVHashMap struct {
	// Key -> *versionCells
	data stm_types.ConcurrentHashMap
}

// versionCells is the per-key chain: a treemap keyed by TxnIndex under a
// lock of its own, so operations on different keys never contend.
type versionCells struct {
	mu sync.RWMutex
	tm *redblacktree.Tree
}

type cell struct {
	estimate    bool
	incarnation stm_types.Incarnation
	// exactly one of value/delta is set
	value stm_types.Value
	delta *delta.Op
}

func New() *MVHashMap {
	return new(MVHashMap)
}

// Read resolves `key` for a reader at `reader_idx`, considering only entries
// with a strictly lower transaction index.
func (this *MVHashMap) Read(key stm_types.Key, reader_idx stm_types.TxnIndex) (ret ReadResult) {
	ret.Status = ReadNotFound
	cells := this.getCells(key)
	if cells == nil {
		return
	}
	cells.mu.RLock()
	defer cells.mu.RUnlock()
	node, found := cells.tm.Floor(reader_idx - 1)
	if !found {
		return
	}
	var pending []*delta.Op
	for it := cells.tm.IteratorAt(node); ; {
		idx, entry := it.Key().(int), it.Value().(*cell)
		if entry.estimate {
			ret.Status = ReadDependency
			ret.Blocking = idx
			return
		}
		if entry.delta != nil {
			pending = append(pending, entry.delta)
		} else {
			if len(pending) == 0 {
				ret.Status = ReadOk
				ret.Version = stm_types.Version{TxnIndex: idx, Incarnation: entry.incarnation}
				ret.Value = entry.value
				return
			}
			reverse(pending)
			resolved, err := delta.ApplyChain(delta.Deserialize(entry.value), pending)
			if err != nil {
				ret.Status = ReadError
				ret.Err = err
				return
			}
			ret.Status = ReadResolvedDelta
			ret.Resolved = resolved
			return
		}
		if !it.Prev() {
			break
		}
	}
	if len(pending) != 0 {
		reverse(pending)
		ret.Status = ReadUnresolvedDelta
		ret.Deltas = pending
	}
	return
}

// Write installs a concrete value for (key, version). Entries may only be
// overwritten by the same or a higher incarnation of the same index.
func (this *MVHashMap) Write(key stm_types.Key, version stm_types.Version, value stm_types.Value) {
	this.put(key, version, &cell{incarnation: version.Incarnation, value: value})
}

// WriteDelta installs a delta entry for (key, version).
func (this *MVHashMap) WriteDelta(key stm_types.Key, version stm_types.Version, op *delta.Op) {
	this.put(key, version, &cell{incarnation: version.Incarnation, delta: op})
}

// MarkEstimate flags the entry of `idx` at `key` as a write-in-progress
// placeholder, forcing higher-indexed readers to wait instead of consuming
// the superseded value.
func (this *MVHashMap) MarkEstimate(key stm_types.Key, idx stm_types.TxnIndex) {
	cells := this.getCells(key)
	if cells == nil {
		return
	}
	cells.mu.Lock()
	if val, found := cells.tm.Get(idx); found {
		val.(*cell).estimate = true
	}
	cells.mu.Unlock()
}

// ConvertDeltaToValue replaces the delta entry of `idx` at `key` with the
// concrete value it materialized to, keeping the incarnation. Called during
// final output materialization so downstream chains resolve against values.
func (this *MVHashMap) ConvertDeltaToValue(key stm_types.Key, idx stm_types.TxnIndex, value stm_types.Value) {
	cells := this.getCells(key)
	asserts.Holds(cells != nil, "materializing a delta on an unknown key")
	cells.mu.Lock()
	defer cells.mu.Unlock()
	val, found := cells.tm.Get(idx)
	asserts.Holds(found, "materializing a missing delta entry")
	entry := val.(*cell)
	entry.delta = nil
	entry.value = value
}

// Delete removes the entry of `idx` at `key`; used when a re-execution no
// longer writes a key its previous incarnation wrote.
func (this *MVHashMap) Delete(key stm_types.Key, idx stm_types.TxnIndex) {
	cells := this.getCells(key)
	if cells == nil {
		return
	}
	cells.mu.Lock()
	cells.tm.Remove(idx)
	cells.mu.Unlock()
}

func (this *MVHashMap) put(key stm_types.Key, version stm_types.Version, entry *cell) {
	cells := this.getOrCreateCells(key)
	cells.mu.Lock()
	defer cells.mu.Unlock()
	if val, found := cells.tm.Get(version.TxnIndex); found {
		asserts.Holds(
			val.(*cell).incarnation <= version.Incarnation,
			fmt.Sprintf("stale incarnation write: key %q txn %d", key, version.TxnIndex))
	}
	cells.tm.Put(version.TxnIndex, entry)
}

func (this *MVHashMap) getCells(key stm_types.Key) *versionCells {
	if val, ok := this.data.Get(key); ok {
		return val.(*versionCells)
	}
	return nil
}

func (this *MVHashMap) getOrCreateCells(key stm_types.Key) *versionCells {
	if cells := this.getCells(key); cells != nil {
		return cells
	}
	actual, _ := this.data.GetOrInsert(key, &versionCells{tm: redblacktree.NewWithIntComparator()})
	return actual.(*versionCells)
}

func reverse(ops []*delta.Op) {
	for i, j := 0, len(ops)-1; i < j; i, j = i+1, j-1 {
		ops[i], ops[j] = ops[j], ops[i]
	}
}
