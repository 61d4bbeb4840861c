package block_executor

import (
	"testing"

	"github.com/Taraxa-project/taraxa-stm/delta"
	"github.com/Taraxa-project/taraxa-stm/stm_types"
	"github.com/Taraxa-project/taraxa-stm/util/benchmarking"
)

func BenchmarkBlockExecution(b *testing.B) {
	block_size := 1000
	balances := map[int]uint64{}
	for i := 0; i < block_size; i++ {
		balances[i] = 1000
	}
	base := baseWithBalances(balances)

	independent := make([]stm_types.Transaction, block_size)
	for i := range independent {
		independent[i] = &testTxn{
			from: account(i), to: account(block_size + i), amount: 1,
		}
	}
	contended := make([]stm_types.Transaction, block_size)
	for i := range contended {
		contended[i] = &testTxn{
			from: account(i), to: account(0), amount: 1,
		}
	}
	hot_counter := make([]stm_types.Transaction, block_size)
	for i := range hot_counter {
		hot_counter[i] = &testTxn{delta: &stm_types.DeltaDescriptor{
			Key: "counter", Delta: delta.Add(1, no_limit),
		}}
	}

	run := func(cfg Config, txns []stm_types.Transaction) func(b *testing.B, i int) {
		return func(b *testing.B, i int) {
			executor := &BlockExecutor{Config: cfg, Base: base, Task: newTestTask(len(txns))}
			if _, err := executor.ExecuteBlock(NewDefaultTxnProvider(txns)); err != nil {
				b.Fatal(err)
			}
		}
	}
	benchmarking.AddBenchmark(b, "independent_parallel", run(Config{}, independent))
	benchmarking.AddBenchmark(b, "independent_sequential", run(Config{DisableParallel: true}, independent))
	benchmarking.AddBenchmark(b, "contended_parallel", run(Config{}, contended))
	benchmarking.AddBenchmark(b, "contended_sequential", run(Config{DisableParallel: true}, contended))
	benchmarking.AddBenchmark(b, "hot_counter_parallel", run(Config{}, hot_counter))
	benchmarking.AddBenchmark(b, "hot_counter_sequential", run(Config{DisableParallel: true}, hot_counter))
}
