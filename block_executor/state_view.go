package block_executor

import (
	"github.com/Taraxa-project/taraxa-stm/conflict_detector"
	"github.com/Taraxa-project/taraxa-stm/delta"
	"github.com/Taraxa-project/taraxa-stm/mv_hash_map"
	"github.com/Taraxa-project/taraxa-stm/stm_types"
)

// stateView is the read surface handed to one execution attempt. Reads
// resolve against the multi-version map first and fall back to base state,
// recording a read set for later validation. Owned by a single worker, never
// shared.
type stateView struct {
	idx        stm_types.TxnIndex
	mv         *mv_hash_map.MVHashMap
	base       stm_types.BaseState
	code_cache *WarmCodeCache
	log_hazard conflict_detector.OperationLogger
	reads      stm_types.ReadSet
	// first read wins: repeated reads of a key return the captured value
	captured map[stm_types.Key]stm_types.Value
}

func newStateView(
	idx stm_types.TxnIndex,
	mv *mv_hash_map.MVHashMap,
	base stm_types.BaseState,
	code_cache *WarmCodeCache,
	log_hazard conflict_detector.OperationLogger,
) *stateView {
	return &stateView{
		idx:        idx,
		mv:         mv,
		base:       base,
		code_cache: code_cache,
		log_hazard: log_hazard,
		captured:   make(map[stm_types.Key]stm_types.Value),
	}
}

func (this *stateView) Get(key stm_types.Key) (stm_types.Value, error) {
	if val, seen := this.captured[key]; seen {
		return val, nil
	}
	res := this.mv.Read(key, this.idx)
	switch res.Status {
	case mv_hash_map.ReadOk:
		this.record(stm_types.ReadDescriptor{
			Key: key, Origin: stm_types.ReadFromVersion, Version: res.Version,
		}, res.Value)
		return res.Value, nil
	case mv_hash_map.ReadNotFound:
		val, _ := this.base.Get(key)
		this.record(stm_types.ReadDescriptor{
			Key: key, Origin: stm_types.ReadFromStorage,
		}, val)
		return val, nil
	case mv_hash_map.ReadDependency:
		return nil, stm_types.ErrDependency{Blocking: res.Blocking}
	case mv_hash_map.ReadResolvedDelta:
		val := delta.Serialize(res.Resolved)
		this.record(stm_types.ReadDescriptor{
			Key: key, Origin: stm_types.ReadFromResolvedDelta, Resolved: res.Resolved,
		}, val)
		return val, nil
	case mv_hash_map.ReadUnresolvedDelta:
		resolved, err := resolveFromStorage(this.base, key, res.Deltas)
		if err != nil {
			this.reads = append(this.reads, stm_types.ReadDescriptor{
				Key: key, Origin: stm_types.ReadFromDeltaError,
			})
			return nil, err
		}
		val := delta.Serialize(resolved)
		this.record(stm_types.ReadDescriptor{
			Key: key, Origin: stm_types.ReadFromResolvedDelta, Resolved: resolved,
		}, val)
		return val, nil
	default:
		// a failed delta chain is still a read: it must be re-checked once
		// the chain below changes
		this.reads = append(this.reads, stm_types.ReadDescriptor{
			Key: key, Origin: stm_types.ReadFromDeltaError,
		})
		return nil, res.Err
	}
}

// GetCode reads a code/module path. Such reads are covered by the hazard
// check (an in-block publish to the same path degrades the block to
// sequential execution), so they are not part of the validated read set and
// storage hits may be served from the warm cache.
func (this *stateView) GetCode(key stm_types.Key) (stm_types.Value, error) {
	this.log_hazard(conflict_detector.GET, key)
	res := this.mv.Read(key, this.idx)
	switch res.Status {
	case mv_hash_map.ReadOk:
		return res.Value, nil
	case mv_hash_map.ReadDependency:
		return nil, stm_types.ErrDependency{Blocking: res.Blocking}
	case mv_hash_map.ReadNotFound:
		if this.code_cache != nil {
			if val, ok := this.code_cache.Get(key); ok {
				return val, nil
			}
		}
		val, ok := this.base.Get(key)
		if ok && this.code_cache != nil {
			this.code_cache.Add(key, val)
		}
		return val, nil
	default:
		return nil, res.Err
	}
}

func (this *stateView) record(rd stm_types.ReadDescriptor, val stm_types.Value) {
	this.reads = append(this.reads, rd)
	this.captured[rd.Key] = val
}

// resolveFromStorage closes a delta chain that reached below the block:
// the base value (zero if the key is absent) plus the pending ops in
// transaction order.
func resolveFromStorage(base stm_types.BaseState, key stm_types.Key, ops []*delta.Op) (uint64, error) {
	var base_val uint64
	if val, ok := base.Get(key); ok {
		base_val = delta.Deserialize(val)
	}
	return delta.ApplyChain(base_val, ops)
}
