package util

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAtomicErrorLatchesFirst(t *testing.T) {
	a := assert.New(t)
	var barrier AtomicError
	a.False(barrier.Check())
	a.Nil(barrier.Get())

	first := ErrorString("first")
	a.True(barrier.SetIfAbsent(first))
	a.False(barrier.SetIfAbsent(ErrorString("second")))
	a.True(barrier.Check())
	a.Equal(error(first), barrier.Get())
}

func TestAtomicErrorNilIsNoop(t *testing.T) {
	a := assert.New(t)
	var barrier AtomicError
	a.False(barrier.SetIfAbsent(nil))
	var typed_nil *ErrorString
	a.False(barrier.SetIfAbsent(typed_nil))
	a.False(barrier.Check())
}

func TestAtomicErrorConcurrentSet(t *testing.T) {
	a := assert.New(t)
	var barrier AtomicError
	var wins int64
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		i := i
		go func() {
			if barrier.SetIfAbsent(ErrorString(fmt.Sprint("err", i))) {
				atomic.AddInt64(&wins, 1)
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	a.Equal(int64(1), wins)
	a.NotNil(barrier.Get())
}
