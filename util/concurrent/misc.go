package concurrent

import (
	"runtime"
)

var CPU_COUNT = runtime.NumCPU()

// SpawnWorkers runs `action` on `count` goroutines and blocks until all of
// them return. The worker index is passed to each invocation.
func SpawnWorkers(count int, action func(worker_index int)) {
	allDone := NewRendezvous(count)
	for worker_index := 0; worker_index < count; worker_index++ {
		worker_index := worker_index
		go func() {
			defer allDone.CheckIn()
			action(worker_index)
		}()
	}
	allDone.Await()
}
