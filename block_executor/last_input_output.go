package block_executor

import (
	"sync/atomic"

	"github.com/Taraxa-project/taraxa-stm/stm_types"
)

// txnResult is what the last finished incarnation of a transaction produced.
type txnResult struct {
	status stm_types.ExecutionStatus
	output stm_types.TransactionOutput
	err    error
	// >= 0 when the incarnation was skipped under that skip-rest marker
	// instead of running the executor task
	skipped_under stm_types.TxnIndex
}

// lastInputOutput keeps, per transaction index, the read set, written keys
// and result of the last finished incarnation. Slots are atomic since the
// writer (the executing worker) races with validators reading them.
type lastInputOutput struct {
	reads   []atomic.Value // stm_types.ReadSet
	writes  []atomic.Value // []stm_types.Key
	results []atomic.Value // *txnResult
}

func (this *lastInputOutput) Init(block_size int) *lastInputOutput {
	this.reads = make([]atomic.Value, block_size)
	this.writes = make([]atomic.Value, block_size)
	this.results = make([]atomic.Value, block_size)
	return this
}

func (this *lastInputOutput) RecordReads(idx stm_types.TxnIndex, reads stm_types.ReadSet) {
	this.reads[idx].Store(reads)
}

func (this *lastInputOutput) RecordWrites(idx stm_types.TxnIndex, keys []stm_types.Key) {
	this.writes[idx].Store(keys)
}

func (this *lastInputOutput) RecordResult(idx stm_types.TxnIndex, result *txnResult) {
	this.results[idx].Store(result)
}

func (this *lastInputOutput) Reads(idx stm_types.TxnIndex) stm_types.ReadSet {
	if val := this.reads[idx].Load(); val != nil {
		return val.(stm_types.ReadSet)
	}
	return nil
}

func (this *lastInputOutput) Writes(idx stm_types.TxnIndex) []stm_types.Key {
	if val := this.writes[idx].Load(); val != nil {
		return val.([]stm_types.Key)
	}
	return nil
}

func (this *lastInputOutput) Result(idx stm_types.TxnIndex) *txnResult {
	if val := this.results[idx].Load(); val != nil {
		return val.(*txnResult)
	}
	return nil
}
