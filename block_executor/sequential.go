package block_executor

import (
	"github.com/Taraxa-project/taraxa-stm/delta"
	"github.com/Taraxa-project/taraxa-stm/stm_types"
)

// sequentialView serves reads from an in-order overlay of everything
// committed so far, falling through to base storage. No read recording and no
// hazard logging: in-order execution has nothing to validate.
type sequentialView struct {
	overlay    map[stm_types.Key]stm_types.Value
	base       stm_types.BaseState
	code_cache *WarmCodeCache
}

func (this *sequentialView) Get(key stm_types.Key) (stm_types.Value, error) {
	if val, committed := this.overlay[key]; committed {
		return val, nil
	}
	if val, ok := this.base.Get(key); ok {
		return val, nil
	}
	return nil, nil
}

func (this *sequentialView) GetCode(key stm_types.Key) (stm_types.Value, error) {
	if val, committed := this.overlay[key]; committed {
		return val, nil
	}
	if this.code_cache != nil {
		if val, cached := this.code_cache.Get(key); cached {
			return val, nil
		}
	}
	val, ok := this.base.Get(key)
	if ok && this.code_cache != nil {
		this.code_cache.Add(key, val)
	}
	return val, nil
}

// executeSequential runs the block strictly in order. It is both the fallback
// for module-path hazards and the reference semantics the parallel path must
// reproduce.
func executeSequential(
	base stm_types.BaseState,
	task stm_types.ExecutorTask,
	provider stm_types.TxnProvider,
	code_cache *WarmCodeCache,
	metrics *ExecutionMetrics,
) ([]TxnOutput, error) {
	block_size := provider.NumTxns()
	outputs := make([]TxnOutput, block_size)
	view := &sequentialView{
		overlay:    make(map[stm_types.Key]stm_types.Value),
		base:       base,
		code_cache: code_cache,
	}
	for idx := provider.FirstTxn(); idx < block_size; idx = provider.NextTxn(idx) {
		metrics.Executions.Increment()
		result := task.ExecuteTransaction(view, provider.Txn(idx), idx)
		if result.Status == stm_types.StatusAbort {
			return nil, ErrBlockAborted{TxnIndex: idx, Cause: result.Err}
		}
		if result.Err != nil || result.Output == nil {
			outputs[idx] = TxnOutput{Err: result.Err}
			continue
		}
		writes := append([]stm_types.WriteDescriptor(nil), result.Output.GetWrites()...)
		var materialized []stm_types.WriteDescriptor
		var txn_failure error
		for _, d := range result.Output.GetDeltas() {
			base_val, err := view.currentCounter(d.Key)
			if err != nil {
				return nil, err
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
			outputs[idx] = TxnOutput{Err: txn_failure}
			continue
		}
		for _, write := range writes {
			view.overlay[write.Key] = write.Value
		}
		for _, write := range materialized {
			view.overlay[write.Key] = write.Value
		}
		outputs[idx] = TxnOutput{
			Writes: append(writes, materialized...),
			Events: result.Output.GetEvents(),
		}
		if result.Status == stm_types.StatusSkipRest {
			for rest := idx + 1; rest < block_size; rest++ {
				outputs[rest] = TxnOutput{Skipped: true}
			}
			break
		}
	}
	return outputs, nil
}

func (this *sequentialView) currentCounter(key stm_types.Key) (uint64, error) {
	val, err := this.Get(key)
	if err != nil {
		return 0, err
	}
	if val == nil {
		return 0, nil
	}
	return delta.Deserialize(val), nil
}
