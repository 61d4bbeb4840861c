package benchmarking

import (
	"runtime/debug"
	"testing"
)

type Benchmark = func(b *testing.B, i int)

// AddBenchmark runs `benchmark` as a sub-benchmark with the GC disabled
// during the timed sections, so allocation spikes of one iteration do not
// charge collection pauses to another.
func AddBenchmark(b *testing.B, name string, benchmark Benchmark) {
	b.Run(name, func(b *testing.B) {
		b.StopTimer()
		prev_gc_pct := debug.SetGCPercent(-1)
		defer debug.SetGCPercent(prev_gc_pct)
		for i := 0; i < b.N; i++ {
			b.StartTimer()
			benchmark(b, i)
			b.StopTimer()
		}
	})
}
