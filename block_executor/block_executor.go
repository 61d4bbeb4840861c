// Package block_executor runs a block of transactions speculatively across
// worker goroutines, validating each transaction's recorded reads against the
// multi-version map and re-executing on conflict, so that the committed
// result is identical to a strict in-order execution.
package block_executor

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/Taraxa-project/taraxa-stm/conflict_detector"
	"github.com/Taraxa-project/taraxa-stm/delta"
	"github.com/Taraxa-project/taraxa-stm/mv_hash_map"
	"github.com/Taraxa-project/taraxa-stm/scheduler"
	"github.com/Taraxa-project/taraxa-stm/state_db"
	"github.com/Taraxa-project/taraxa-stm/stm_types"
	"github.com/Taraxa-project/taraxa-stm/util"
	"github.com/Taraxa-project/taraxa-stm/util/asserts"
	"github.com/Taraxa-project/taraxa-stm/util/concurrent"
)

type BlockExecutor struct {
	Config
	Base stm_types.BaseState
	Task stm_types.ExecutorTask
}

// ExecuteBlock executes the whole block and returns one output per
// transaction, ordered by index. A returned error means the executor itself
// failed (or a transaction signaled a non-retryable abort); there are no
// partial results in that case.
func (this *BlockExecutor) ExecuteBlock(provider stm_types.TxnProvider) (*BlockOutput, error) {
	process := newBlockExecution(this, provider)
	return process.run()
}

type blockExecution struct {
	cfg        Config
	base       stm_types.BaseState
	task       stm_types.ExecutorTask
	provider   stm_types.TxnProvider
	block_size int
	mv         *mv_hash_map.MVHashMap
	sched      *scheduler.Scheduler
	last_io    lastInputOutput
	hazards    *conflict_detector.ConflictDetector
	metrics    ExecutionMetrics

	// lowest index whose last execution returned SkipRest; block_size = none
	skip_rest int32
	fallback  int32
	fatal     util.AtomicError

	abort_claimed int32
	abort_idx     stm_types.TxnIndex
	abort_cause   error
}

func newBlockExecution(executor *BlockExecutor, provider stm_types.TxnProvider) *blockExecution {
	this := &blockExecution{
		cfg:        executor.Config.withDefaults(),
		base:       executor.Base,
		task:       executor.Task,
		provider:   provider,
		block_size: provider.NumTxns(),
		mv:         mv_hash_map.New(),
	}
	if this.cfg.BaseCacheBytes > 0 {
		this.base = state_db.NewCachedReader(this.base, this.cfg.BaseCacheBytes)
	}
	this.sched = new(scheduler.Scheduler).Init(this.block_size)
	this.last_io.Init(this.block_size)
	this.skip_rest = int32(this.block_size)
	return this
}

func (this *blockExecution) run() (ret *BlockOutput, err error) {
	defer this.metrics.TotalTime.Recorder()()
	if this.block_size == 0 {
		return &BlockOutput{Metrics: &this.metrics}, nil
	}
	if this.cfg.DisableParallel {
		return this.runSequential(nil)
	}
	this.hazards = conflict_detector.New(
		this.block_size*this.cfg.HazardInboxPerTransaction,
		func(op *conflict_detector.Operation, authors conflict_detector.Authors) {
			if atomic.CompareAndSwapInt32(&this.fallback, 0, 1) {
				this.sched.Halt()
			}
		})
	go this.hazards.Run()
	defer this.hazards.Halt()

	concurrent.SpawnWorkers(this.cfg.ConcurrencyLevel, func(int) {
		this.workerLoop()
	})

	if err = this.fatal.Get(); err != nil {
		return nil, err
	}
	if atomic.LoadInt32(&this.abort_claimed) == 1 {
		return nil, ErrBlockAborted{TxnIndex: this.abort_idx, Cause: this.abort_cause}
	}
	// drain the detector before committing anything: every operation logged
	// during execution is already in its inbox, so the verdict is final
	this.hazards.Halt()
	conflicting_authors := this.hazards.AwaitResult()
	if atomic.LoadInt32(&this.fallback) == 1 || conflicting_authors.Size() != 0 {
		conflicting := stm_types.NewTxnIdSet(nil)
		conflicting_authors.Each(func(_ int, author conflict_detector.Author) {
			conflicting.Add(author)
		})
		return this.runSequential(conflicting)
	}
	outputs, need_sequential, err := this.materialize()
	if err != nil {
		return nil, err
	}
	if need_sequential {
		return this.runSequential(nil)
	}
	return &BlockOutput{Outputs: outputs, Metrics: &this.metrics}, nil
}

func (this *blockExecution) workerLoop() {
	defer util.Recover(func(issue util.Any) {
		this.fatal.SetIfAbsent(util.ErrorString(fmt.Sprint("block executor failure: ", issue)))
		this.sched.Halt()
	})
	task := scheduler.NoTask
	for !this.sched.Done() {
		if !task.Valid() {
			if task = this.sched.NextTask(); !task.Valid() {
				runtime.Gosched()
			}
			continue
		}
		switch task.Kind {
		case scheduler.TaskExecution:
			task = this.tryExecute(task.Version)
		case scheduler.TaskValidation:
			task = this.tryValidate(task.Version)
		}
	}
}

func (this *blockExecution) tryExecute(version stm_types.Version) scheduler.Task {
	this.metrics.Executions.Increment()
	idx := version.TxnIndex

	if marker := this.skipMarker(); marker < idx {
		// skip-rest is in effect below us: produce an empty incarnation
		// without touching the executor task
		this.last_io.RecordReads(idx, nil)
		wrote_new_path := this.applyWriteSet(version, nil, nil)
		this.last_io.RecordResult(idx, &txnResult{
			status: stm_types.StatusSuccess, skipped_under: marker,
		})
		return this.sched.FinishExecution(version, wrote_new_path)
	}

	view := newStateView(
		idx, this.mv, this.base, this.cfg.CodeCache, this.hazards.NewLogger(idx))
	txn := this.provider.Txn(idx)
	result := this.task.ExecuteTransaction(view, txn, idx)

	if blocking, is_dep := stm_types.AsDependency(result.Err); is_dep {
		this.metrics.EstimateWaits.Increment()
		if this.sched.AddDependency(idx, blocking) {
			return scheduler.NoTask
		}
		// the blocker finished in the meantime, just run again
		return this.tryExecute(version)
	}

	this.last_io.RecordReads(idx, view.reads)

	if result.Status == stm_types.StatusAbort {
		if atomic.CompareAndSwapInt32(&this.abort_claimed, 0, 1) {
			this.abort_idx, this.abort_cause = idx, result.Err
			this.sched.Halt()
		}
		this.last_io.RecordResult(idx, &txnResult{
			status: result.Status, err: result.Err, skipped_under: -1,
		})
		return scheduler.NoTask
	}
	if result.Status == stm_types.StatusSkipRest {
		this.lowerSkipMarker(idx)
	}

	var writes []stm_types.WriteDescriptor
	var deltas []stm_types.DeltaDescriptor
	if result.Err == nil && result.Output != nil {
		writes, deltas = result.Output.GetWrites(), result.Output.GetDeltas()
		for _, write := range writes {
			if txn.IsCodePath(write.Key) {
				view.log_hazard(conflict_detector.SET, write.Key)
			}
		}
	}
	wrote_new_path := this.applyWriteSet(version, writes, deltas)
	this.last_io.RecordResult(idx, &txnResult{
		status: result.Status, output: result.Output, err: result.Err, skipped_under: -1,
	})
	return this.sched.FinishExecution(version, wrote_new_path)
}

func (this *blockExecution) tryValidate(version stm_types.Version) scheduler.Task {
	this.metrics.Validations.Increment()
	idx := version.TxnIndex
	valid := this.validateReadSet(idx)
	aborted := !valid && this.sched.TryValidationAbort(version)
	if aborted {
		this.metrics.Aborts.Increment()
		for _, key := range this.last_io.Writes(idx) {
			this.mv.MarkEstimate(key, idx)
		}
		if this.clearSkipMarker(idx) {
			// the skip-rest marker came from the aborted incarnation;
			// everything skipped under it must be re-checked
			this.sched.InvalidateFrom(idx + 1)
		}
	}
	return this.sched.FinishValidation(idx, aborted)
}

// applyWriteSet installs this incarnation's writes and deltas, removes
// entries of keys the previous incarnation wrote but this one did not, and
// reports whether a key was written for the first time by this transaction.
func (this *blockExecution) applyWriteSet(
	version stm_types.Version,
	writes []stm_types.WriteDescriptor,
	deltas []stm_types.DeltaDescriptor,
) (wrote_new_path bool) {
	idx := version.TxnIndex
	new_keys := make([]stm_types.Key, 0, len(writes)+len(deltas))
	new_key_set := make(map[stm_types.Key]struct{}, len(writes)+len(deltas))
	for _, write := range writes {
		this.mv.Write(write.Key, version, write.Value)
		new_keys = append(new_keys, write.Key)
		new_key_set[write.Key] = struct{}{}
	}
	for _, d := range deltas {
		this.mv.WriteDelta(d.Key, version, d.Delta)
		new_keys = append(new_keys, d.Key)
		new_key_set[d.Key] = struct{}{}
	}
	if this.last_io.Result(idx) == nil {
		wrote_new_path = len(new_keys) != 0
	} else {
		prev_keys := this.last_io.Writes(idx)
		prev_key_set := make(map[stm_types.Key]struct{}, len(prev_keys))
		for _, key := range prev_keys {
			prev_key_set[key] = struct{}{}
			if _, still_written := new_key_set[key]; !still_written {
				this.mv.Delete(key, idx)
			}
		}
		for key := range new_key_set {
			if _, existed := prev_key_set[key]; !existed {
				wrote_new_path = true
				break
			}
		}
	}
	this.last_io.RecordWrites(idx, new_keys)
	return
}

// validateReadSet re-checks that every read of the last finished incarnation
// still resolves to what it observed.
func (this *blockExecution) validateReadSet(idx stm_types.TxnIndex) bool {
	if result := this.last_io.Result(idx); result != nil && result.skipped_under >= 0 {
		// a skipped incarnation stays valid while some skip marker below
		// this index is in effect
		return this.skipMarker() < idx
	}
	for _, rd := range this.last_io.Reads(idx) {
		cur := this.mv.Read(rd.Key, idx)
		switch cur.Status {
		case mv_hash_map.ReadOk:
			if rd.Origin != stm_types.ReadFromVersion || rd.Version != cur.Version {
				return false
			}
		case mv_hash_map.ReadNotFound:
			if rd.Origin != stm_types.ReadFromStorage {
				return false
			}
		case mv_hash_map.ReadResolvedDelta:
			if rd.Origin != stm_types.ReadFromResolvedDelta || rd.Resolved != cur.Resolved {
				return false
			}
		case mv_hash_map.ReadUnresolvedDelta:
			resolved, err := resolveFromStorage(this.base, rd.Key, cur.Deltas)
			if err != nil {
				if rd.Origin != stm_types.ReadFromDeltaError {
					return false
				}
			} else if rd.Origin != stm_types.ReadFromResolvedDelta || rd.Resolved != resolved {
				return false
			}
		case mv_hash_map.ReadError:
			if rd.Origin != stm_types.ReadFromDeltaError {
				return false
			}
		default:
			// an estimate in the chain: never silently accept
			return false
		}
	}
	return true
}

// materialize turns the converged multi-version state into one final output
// per transaction, resolving remaining delta chains to concrete values.
// Processes indices in order and converts each committed delta entry to its
// value, so later chains resolve against materialized results.
func (this *blockExecution) materialize() (outputs []TxnOutput, need_sequential bool, err error) {
	outputs = make([]TxnOutput, this.block_size)
	skip_at := this.block_size
	failed_keys := make(map[stm_types.Key]struct{})
	for idx := 0; idx < this.block_size; idx++ {
		result := this.last_io.Result(idx)
		asserts.Holds(result != nil, "transaction never executed despite scheduler convergence")
		if idx > skip_at || result.skipped_under >= 0 {
			outputs[idx] = TxnOutput{Skipped: true}
			continue
		}
		if result.status == stm_types.StatusSkipRest {
			skip_at = idx
		}
		if result.err != nil {
			outputs[idx] = TxnOutput{Err: result.err}
			continue
		}
		if result.output == nil {
			continue
		}
		writes := append([]stm_types.WriteDescriptor(nil), result.output.GetWrites()...)
		var txn_failure error
		var materialized []stm_types.WriteDescriptor
		for _, d := range result.output.GetDeltas() {
			base_val, base_err := this.committedBase(d.Key, idx)
			if base_err != nil {
				return nil, false, base_err
			}
			final, apply_err := d.Delta.ApplyTo(base_val)
			if apply_err != nil {
				txn_failure = apply_err
				break
			}
			materialized = append(materialized, stm_types.WriteDescriptor{
				Key: d.Key, Value: delta.Serialize(final),
			})
		}
		if txn_failure != nil {
			// only this transaction fails; its entries are dropped so the
			// chains of later transactions exclude them
			outputs[idx] = TxnOutput{Err: txn_failure}
			for _, key := range this.last_io.Writes(idx) {
				this.mv.Delete(key, idx)
				failed_keys[key] = struct{}{}
			}
			continue
		}
		for _, write := range materialized {
			this.mv.ConvertDeltaToValue(write.Key, idx, write.Value)
		}
		outputs[idx] = TxnOutput{
			Writes: append(writes, materialized...),
			Events: result.output.GetEvents(),
		}
	}
	if len(failed_keys) != 0 && this.anyReadOf(failed_keys) {
		// some transaction speculated on a value that included a failed
		// delta; re-running sequentially is the simple correct answer
		return nil, true, nil
	}
	return
}

// committedBase resolves the value of `key` visible to `idx` after all lower
// transactions have been materialized.
func (this *blockExecution) committedBase(key stm_types.Key, idx stm_types.TxnIndex) (uint64, error) {
	cur := this.mv.Read(key, idx)
	switch cur.Status {
	case mv_hash_map.ReadOk:
		return delta.Deserialize(cur.Value), nil
	case mv_hash_map.ReadResolvedDelta:
		return cur.Resolved, nil
	case mv_hash_map.ReadNotFound:
		return resolveFromStorage(this.base, key, nil)
	case mv_hash_map.ReadUnresolvedDelta:
		resolved, err := resolveFromStorage(this.base, key, cur.Deltas)
		if err != nil {
			return 0, ErrUnresolvedChain
		}
		return resolved, nil
	default:
		return 0, ErrUnresolvedChain
	}
}

func (this *blockExecution) anyReadOf(keys map[stm_types.Key]struct{}) bool {
	for idx := 0; idx < this.block_size; idx++ {
		for _, rd := range this.last_io.Reads(idx) {
			if _, affected := keys[rd.Key]; affected {
				return true
			}
		}
	}
	return false
}

func (this *blockExecution) runSequential(conflicting *stm_types.TxnIdSet) (*BlockOutput, error) {
	this.metrics.SequentialFallbacks.Increment()
	outputs, err := executeSequential(
		this.base, this.task, this.provider, this.cfg.CodeCache, &this.metrics)
	if err != nil {
		return nil, err
	}
	return &BlockOutput{
		Outputs:         outputs,
		Metrics:         &this.metrics,
		Sequential:      true,
		ConflictingTxns: conflicting,
	}, nil
}

func (this *blockExecution) skipMarker() stm_types.TxnIndex {
	return int(atomic.LoadInt32(&this.skip_rest))
}

func (this *blockExecution) lowerSkipMarker(idx stm_types.TxnIndex) {
	for {
		current := atomic.LoadInt32(&this.skip_rest)
		if current <= int32(idx) {
			return
		}
		if atomic.CompareAndSwapInt32(&this.skip_rest, current, int32(idx)) {
			this.sched.InvalidateFrom(idx + 1)
			return
		}
	}
}

func (this *blockExecution) clearSkipMarker(idx stm_types.TxnIndex) bool {
	return atomic.CompareAndSwapInt32(&this.skip_rest, int32(idx), int32(this.block_size))
}
