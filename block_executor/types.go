package block_executor

import (
	"fmt"

	"github.com/Taraxa-project/taraxa-stm/metric_utils"
	"github.com/Taraxa-project/taraxa-stm/stm_types"
	"github.com/Taraxa-project/taraxa-stm/util"
	"github.com/Taraxa-project/taraxa-stm/util/concurrent"
)

type Config struct {
	// number of worker goroutines; defaults to the CPU count
	ConcurrencyLevel int
	// capacity factor for the hazard detector inbox, per transaction
	HazardInboxPerTransaction int
	// skip the parallel attempt entirely and execute sequentially
	DisableParallel bool
	// optional warm code cache, shareable across blocks; owned by the caller
	CodeCache *WarmCodeCache
	// if > 0, base state reads go through a bounded cache of this many bytes
	BaseCacheBytes int
}

func (this *Config) withDefaults() (ret Config) {
	ret = *this
	if ret.ConcurrencyLevel <= 0 {
		ret.ConcurrencyLevel = concurrent.CPU_COUNT
	}
	if ret.HazardInboxPerTransaction <= 0 {
		ret.HazardInboxPerTransaction = 4
	}
	return
}

// TxnOutput is the committed, fully materialized result of one transaction.
// Delta writes are resolved to concrete values. Err marks a transaction-level
// abort (the transaction's effects are dropped, the block goes on).
type TxnOutput struct {
	Skipped bool
	Writes  []stm_types.WriteDescriptor
	Events  []stm_types.Event
	Err     error
}

type ExecutionMetrics struct {
	Executions          metric_utils.AtomicCounter
	Validations         metric_utils.AtomicCounter
	Aborts              metric_utils.AtomicCounter
	EstimateWaits       metric_utils.AtomicCounter
	SequentialFallbacks metric_utils.AtomicCounter
	TotalTime           metric_utils.AtomicCounter
}

type BlockOutput struct {
	Outputs []TxnOutput
	Metrics *ExecutionMetrics
	// true when the block was (re-)executed sequentially
	Sequential bool
	// transactions involved in a code-path hazard, when that forced fallback
	ConflictingTxns *stm_types.TxnIdSet
}

// ErrBlockAborted surfaces a non-retryable transaction failure that
// invalidates the whole block.
type ErrBlockAborted struct {
	TxnIndex stm_types.TxnIndex
	Cause    error
}

func (this ErrBlockAborted) Error() string {
	return fmt.Sprintf("block aborted at transaction %d: %v", this.TxnIndex, this.Cause)
}

const ErrUnresolvedChain = util.ErrorString(
	"delta chain unresolved at materialization")
