package stm_types

import (
	"fmt"

	"github.com/Taraxa-project/taraxa-stm/delta"
	"github.com/Taraxa-project/taraxa-stm/util"
	"github.com/cornelk/hashmap"
)

type TxnIndex = int
type Incarnation = uint64
type Key = string
type Value = []byte
type Event = []byte

type ConcurrentHashMap = hashmap.HashMap

// Version identifies one execution attempt of one transaction in the block.
type Version struct {
	TxnIndex    TxnIndex
	Incarnation Incarnation
}

var InvalidVersion = Version{TxnIndex: -1}

func (this Version) Valid() bool {
	return this.TxnIndex >= 0
}

type ExecutionStatus int

const (
	StatusSuccess ExecutionStatus = iota
	// StatusSkipRest means this transaction succeeded and every transaction
	// after it in the block must be treated as a no-op.
	StatusSkipRest
	// StatusAbort is a non-retryable failure that invalidates the whole block.
	StatusAbort
)

type ReadOrigin int

const (
	// the key was absent below the reader, the value came from base state
	ReadFromStorage ReadOrigin = iota
	// the value came from a versioned entry written within the block
	ReadFromVersion
	// the value was produced by accumulating a delta chain
	ReadFromResolvedDelta
	// the delta chain failed to apply; the read surfaced the math error
	ReadFromDeltaError
)

type ReadDescriptor struct {
	Key    Key
	Origin ReadOrigin
	// set when Origin == ReadFromVersion
	Version Version
	// set when Origin == ReadFromResolvedDelta
	Resolved uint64
}

type ReadSet = []ReadDescriptor

type WriteDescriptor struct {
	Key   Key
	Value Value
}

type DeltaDescriptor struct {
	Key   Key
	Delta *delta.Op
}

// Transaction is the only thing the core needs to know about a transaction:
// whether a key it touches addresses code (module) state, which drives the
// sequential fallback hazard check.
type Transaction interface {
	IsCodePath(key Key) bool
}

// TransactionOutput is produced by the external executor task per incarnation.
type TransactionOutput interface {
	GetWrites() []WriteDescriptor
	GetDeltas() []DeltaDescriptor
	GetEvents() []Event
}

// TxnProvider abstracts the source of block transactions by index; the core
// never assumes a locally resident slice.
type TxnProvider interface {
	NumTxns() int
	Txn(idx TxnIndex) Transaction
	FirstTxn() TxnIndex
	NextTxn(idx TxnIndex) TxnIndex
}

// BaseState is the read-only committed state below the block. Must be safe
// for concurrent reads.
type BaseState interface {
	Get(key Key) (Value, bool)
}

// StateView is what an executing transaction reads through. Reads are
// version-resolved and recorded for later validation.
type StateView interface {
	Get(key Key) (Value, error)
	// GetCode reads a code/module path; such reads participate in the
	// read-write hazard check instead of the versioned conflict protocol.
	GetCode(key Key) (Value, error)
}

type ExecutionResult struct {
	Status ExecutionStatus
	Output TransactionOutput
	// Err aborts this incarnation: a dependency error triggers a re-schedule,
	// anything else is carried in the result for StatusAbort.
	Err error
}

// ExecutorTask executes a single transaction against a view. It must be
// safely re-invocable across incarnations.
type ExecutorTask interface {
	ExecuteTransaction(view StateView, txn Transaction, idx TxnIndex) ExecutionResult
}

// ErrDependency is returned by a view read that observed an estimate entry:
// the transaction that wrote it is re-executing, so the reader must park
// until it finishes rather than consume a stale value.
type ErrDependency struct {
	Blocking TxnIndex
}

func (this ErrDependency) Error() string {
	return fmt.Sprintf("speculative read blocked on transaction %d", this.Blocking)
}

func AsDependency(err error) (TxnIndex, bool) {
	if dep, is := err.(ErrDependency); is {
		return dep.Blocking, true
	}
	return -1, false
}

type TxnIdSet struct {
	*util.LinkedHashSet
}

func NewTxnIdSet(values interface{}) *TxnIdSet {
	return &TxnIdSet{util.NewLinkedHashSet(values)}
}
