package util

import (
	"sync/atomic"
)

// AtomicError latches the first error set on it. Subsequent sets are no-ops,
// which makes it usable as a cross-goroutine error barrier.
type AtomicError struct {
	present int32
	err     atomic.Value
}

func (this *AtomicError) SetIfAbsent(err error) (hasSet bool) {
	if IsReallyNil(err) || !atomic.CompareAndSwapInt32(&this.present, 0, 1) {
		return false
	}
	this.err.Store(err)
	return true
}

func (this *AtomicError) Check() bool {
	return atomic.LoadInt32(&this.present) == 1 && this.err.Load() != nil
}

func (this *AtomicError) Get() error {
	if val := this.err.Load(); val != nil {
		return val.(error)
	}
	return nil
}
