// Package conflict_detector finds read-write and write-write overlaps on
// code/module paths across the transactions of a block. Operations stream in
// through an inbox channel and are folded into a per-type log by a single
// goroutine, so callers never contend on the log itself.
package conflict_detector

import (
	"sync"

	"github.com/Taraxa-project/taraxa-stm/util"
	"github.com/Taraxa-project/taraxa-stm/util/concurrent"
	"github.com/emirpasic/gods/sets/linkedhashset"
)

type ConflictDetector struct {
	inbox             chan *Operation
	operationLog      operationLog
	onConflict        OnConflict
	keysInConflict    Keys
	authorsInConflict Authors
	executionMutex    sync.Mutex
	haltMutex         sync.Mutex
	halted            bool
	running           *concurrent.Rendezvous
}

func New(inboxCapacity int, onConflict OnConflict) *ConflictDetector {
	this := new(ConflictDetector)
	this.inbox = make(chan *Operation, inboxCapacity)
	for opType := range this.operationLog {
		this.operationLog[opType] = make(map[Key]Authors)
	}
	this.onConflict = onConflict
	this.authorsInConflict = linkedhashset.New()
	this.keysInConflict = linkedhashset.New()
	this.running = concurrent.NewRendezvous(1)
	return this
}

func (this *ConflictDetector) Run() {
	// the execution mutex is taken before announcing the run, so a result
	// await that observes the announcement always waits out the drain
	defer util.LockUnlock(&this.executionMutex)()
	util.WithLock(&this.haltMutex, func() {
		this.halted = false
	})
	this.running.CheckIn()
	for {
		if op := <-this.inbox; op != nil {
			this.process(op)
		} else {
			break
		}
	}
}

func (this *ConflictDetector) Halt() {
	defer util.LockUnlock(&this.haltMutex)()
	if !this.halted {
		this.halted = true
		this.inbox <- nil
	}
}

// AwaitResult blocks until a halted Run has drained its inbox, however late
// that goroutine was scheduled, then returns the offending authors.
func (this *ConflictDetector) AwaitResult() Authors {
	this.running.Await()
	defer util.LockUnlock(&this.executionMutex)()
	return this.authorsInConflict
}

// This function is thread safe
// The returned logger is not thread safe
func (this *ConflictDetector) NewLogger(author Author) OperationLogger {
	cache := make(map[OperationType]Keys)
	return func(opType OperationType, key Key) {
		cachedKeys := cache[opType]
		if cachedKeys == nil {
			cachedKeys = linkedhashset.New()
			cache[opType] = cachedKeys
		} else if cachedKeys.Contains(key) {
			return
		}
		defer util.LockUnlock(&this.haltMutex)()
		if this.halted {
			return
		}
		this.inbox <- &Operation{author, opType, key}
		cachedKeys.Add(key)
	}
}

func (this *ConflictDetector) registerConflict(op *Operation, authors Authors) {
	authors.Each(func(_ int, author Author) {
		this.authorsInConflict.Add(author)
	})
	this.authorsInConflict.Add(op.Author)
	if this.onConflict != nil {
		// new goroutine to prevent deadlocking misuse
		go this.onConflict(op, authors)
	}
}

func (this *ConflictDetector) process(op *Operation) {
	if this.authorsInConflict.Contains(op.Author) {
		return
	}
	if this.keysInConflict.Contains(op.Key) {
		this.registerConflict(op, linkedhashset.New(op.Author))
		return
	}
	conflictFound := false
	for _, conflictingType := range conflictRelations[op.Type] {
		authors := this.operationLog[conflictingType][op.Key]
		if authors != nil && (authors.Size() > 1 || !authors.Contains(op.Author)) {
			conflictFound = true
			break
		}
	}
	if conflictFound {
		this.keysInConflict.Add(op.Key)
		for _, opsByKey := range this.operationLog {
			if authors := opsByKey[op.Key]; authors != nil {
				this.registerConflict(op, authors)
				delete(opsByKey, op.Key)
			}
		}
	} else {
		opsByKey := this.operationLog[op.Type]
		authors := opsByKey[op.Key]
		if authors == nil {
			authors = linkedhashset.New()
			opsByKey[op.Key] = authors
		}
		authors.Add(op.Author)
	}
}
