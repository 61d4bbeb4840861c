// Package scheduler hands out execution and validation work for a block of
// transactions to an arbitrary number of workers, tracks per-transaction
// incarnations, and detects global convergence.
package scheduler

import (
	"sync"
	"sync/atomic"

	"github.com/Taraxa-project/taraxa-stm/stm_types"
	"github.com/Taraxa-project/taraxa-stm/util"
	"github.com/Taraxa-project/taraxa-stm/util/asserts"
)

type TaskKind int

const (
	TaskExecution TaskKind = iota
	TaskValidation
)

type Task struct {
	Kind    TaskKind
	Version stm_types.Version
}

var NoTask = Task{Version: stm_types.InvalidVersion}

func (this Task) Valid() bool {
	return this.Version.Valid()
}

const (
	status_ready_to_execute = iota
	status_executing
	status_executed
	status_aborting
)

type txnState struct {
	mu          sync.Mutex
	status      int
	incarnation stm_types.Incarnation
	// transactions parked on this one finishing; nil when none
	dependents map[stm_types.TxnIndex]struct{}
	// transactions this one is parked on
	blockers map[stm_types.TxnIndex]struct{}
}

type Scheduler struct {
	block_size       int32
	done_marker      int32
	execution_index  int32
	validation_index int32
	active_tasks     int32
	// bumped on every index decrease; guards the done check against races
	decrease_count int32
	states         []txnState
}

func (this *Scheduler) Init(block_size int) *Scheduler {
	this.block_size = int32(block_size)
	this.states = make([]txnState, block_size)
	return this
}

func (this *Scheduler) Done() bool {
	return atomic.LoadInt32(&this.done_marker) == 1
}

// Halt forces completion; used for whole-block aborts and fallback. Workers
// drain cooperatively.
func (this *Scheduler) Halt() {
	atomic.StoreInt32(&this.done_marker, 1)
}

// NextTask claims either the next execution or the next validation task,
// preferring the lower index between the two frontiers. An invalid task with
// Done() == false means "nothing claimable right now, retry".
func (this *Scheduler) NextTask() Task {
	if atomic.LoadInt32(&this.validation_index) < atomic.LoadInt32(&this.execution_index) {
		if version, ok := this.nextVersionToValidate(); ok {
			return Task{Kind: TaskValidation, Version: version}
		}
	} else {
		if version, ok := this.nextVersionToExecute(); ok {
			return Task{Kind: TaskExecution, Version: version}
		}
	}
	return NoTask
}

// AddDependency parks `idx` until `blocking` finishes execution. Returns
// false if `blocking` already finished, in which case the caller should just
// re-execute `idx` right away.
func (this *Scheduler) AddDependency(idx, blocking stm_types.TxnIndex) bool {
	blocking_state := &this.states[blocking]
	defer util.LockUnlock(&blocking_state.mu)()
	if blocking_state.status == status_executed {
		return false
	}
	state := &this.states[idx]
	util.WithLock(&state.mu, func() {
		asserts.EQ(state.status, status_executing)
		state.status = status_aborting
		if state.blockers == nil {
			state.blockers = make(map[stm_types.TxnIndex]struct{})
		}
		state.blockers[blocking] = struct{}{}
	})
	if blocking_state.dependents == nil {
		blocking_state.dependents = make(map[stm_types.TxnIndex]struct{})
	}
	blocking_state.dependents[idx] = struct{}{}
	// the execution task was given up
	atomic.AddInt32(&this.active_tasks, -1)
	return true
}

// FinishExecution transitions `version` to executed, wakes every transaction
// parked on it, and either schedules (re)validation from this index on or
// returns the validation task for it directly.
func (this *Scheduler) FinishExecution(version stm_types.Version, wrote_new_path bool) Task {
	state := &this.states[version.TxnIndex]
	var dependents map[stm_types.TxnIndex]struct{}
	util.WithLock(&state.mu, func() {
		asserts.EQ(state.status, status_executing)
		state.status = status_executed
		dependents = state.dependents
		state.dependents = nil
	})
	this.resumeDependents(version.TxnIndex, dependents)

	if atomic.LoadInt32(&this.validation_index) > int32(version.TxnIndex) {
		if wrote_new_path {
			// everything from this index on needs (re)validation
			this.decreaseValidationIndex(version.TxnIndex)
		} else {
			return Task{Kind: TaskValidation, Version: version}
		}
	}
	atomic.AddInt32(&this.active_tasks, -1)
	return NoTask
}

// TryValidationAbort claims the exclusive right to abort `version`. Only one
// caller can win for a given incarnation.
func (this *Scheduler) TryValidationAbort(version stm_types.Version) (ret bool) {
	state := &this.states[version.TxnIndex]
	defer util.LockUnlock(&state.mu)()
	if state.incarnation == version.Incarnation && state.status == status_executed {
		state.status = status_aborting
		ret = true
	}
	return
}

// FinishValidation completes a validation task. If the validation aborted the
// transaction, its incarnation is bumped, higher transactions are scheduled
// for re-validation, and the re-execution task is handed back to the caller
// when possible.
func (this *Scheduler) FinishValidation(idx stm_types.TxnIndex, aborted bool) Task {
	if aborted {
		this.setReadyStatus(idx)
		this.decreaseValidationIndex(idx + 1)
		if atomic.LoadInt32(&this.execution_index) > int32(idx) {
			if version, ok := this.tryIncarnate(idx); ok {
				return Task{Kind: TaskExecution, Version: version}
			}
			return NoTask
		}
	}
	atomic.AddInt32(&this.active_tasks, -1)
	return NoTask
}

// InvalidateFrom schedules re-validation of every transaction at `idx` and
// above; used when a skip-rest marker appears or is retracted.
func (this *Scheduler) InvalidateFrom(idx stm_types.TxnIndex) {
	this.decreaseValidationIndex(idx)
}

func (this *Scheduler) resumeDependents(blocking stm_types.TxnIndex, dependents map[stm_types.TxnIndex]struct{}) {
	if len(dependents) == 0 {
		return
	}
	min_resumed := -1
	for dep := range dependents {
		state := &this.states[dep]
		can_resume := false
		util.WithLock(&state.mu, func() {
			delete(state.blockers, blocking)
			can_resume = len(state.blockers) == 0
		})
		if can_resume {
			this.setReadyStatus(dep)
			if min_resumed == -1 || dep < min_resumed {
				min_resumed = dep
			}
		}
	}
	if min_resumed != -1 {
		this.decreaseExecutionIndex(min_resumed)
	}
}

func (this *Scheduler) setReadyStatus(idx stm_types.TxnIndex) {
	state := &this.states[idx]
	defer util.LockUnlock(&state.mu)()
	asserts.EQ(state.status, status_aborting)
	state.incarnation++
	state.status = status_ready_to_execute
}

func (this *Scheduler) nextVersionToValidate() (ret stm_types.Version, ok bool) {
	if atomic.LoadInt32(&this.validation_index) >= this.block_size {
		this.checkDone()
		return
	}
	atomic.AddInt32(&this.active_tasks, 1)
	idx := atomic.AddInt32(&this.validation_index, 1) - 1
	if idx < this.block_size {
		state := &this.states[idx]
		var status int
		var incarnation stm_types.Incarnation
		util.WithLock(&state.mu, func() {
			status, incarnation = state.status, state.incarnation
		})
		if status == status_executed {
			return stm_types.Version{TxnIndex: int(idx), Incarnation: incarnation}, true
		}
	}
	atomic.AddInt32(&this.active_tasks, -1)
	return
}

func (this *Scheduler) nextVersionToExecute() (ret stm_types.Version, ok bool) {
	if atomic.LoadInt32(&this.execution_index) >= this.block_size {
		this.checkDone()
		return
	}
	atomic.AddInt32(&this.active_tasks, 1)
	idx := int(atomic.AddInt32(&this.execution_index, 1) - 1)
	return this.tryIncarnate(idx)
}

func (this *Scheduler) tryIncarnate(idx stm_types.TxnIndex) (ret stm_types.Version, ok bool) {
	if idx < int(this.block_size) {
		state := &this.states[idx]
		var incarnation stm_types.Incarnation
		util.WithLock(&state.mu, func() {
			if state.status == status_ready_to_execute {
				state.status = status_executing
				incarnation, ok = state.incarnation, true
			}
		})
		if ok {
			return stm_types.Version{TxnIndex: idx, Incarnation: incarnation}, true
		}
	}
	atomic.AddInt32(&this.active_tasks, -1)
	return
}

// checkDone declares completion only if both frontiers are past the block,
// no task is in flight, and no index decrease happened while we looked.
func (this *Scheduler) checkDone() {
	observed := atomic.LoadInt32(&this.decrease_count)
	if atomic.LoadInt32(&this.execution_index) >= this.block_size &&
		atomic.LoadInt32(&this.validation_index) >= this.block_size &&
		atomic.LoadInt32(&this.active_tasks) == 0 &&
		observed == atomic.LoadInt32(&this.decrease_count) {
		atomic.StoreInt32(&this.done_marker, 1)
	}
}

func (this *Scheduler) decreaseExecutionIndex(idx stm_types.TxnIndex) {
	decreaseAtomic(&this.execution_index, int32(idx))
	atomic.AddInt32(&this.decrease_count, 1)
}

func (this *Scheduler) decreaseValidationIndex(idx stm_types.TxnIndex) {
	decreaseAtomic(&this.validation_index, int32(idx))
	atomic.AddInt32(&this.decrease_count, 1)
}

func decreaseAtomic(target *int32, to int32) {
	for {
		current := atomic.LoadInt32(target)
		if current <= to || atomic.CompareAndSwapInt32(target, current, to) {
			return
		}
	}
}
