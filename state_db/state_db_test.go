package state_db

import (
	"sync/atomic"
	"testing"

	"github.com/Taraxa-project/taraxa-stm/stm_types"
	"github.com/Taraxa-project/taraxa-stm/util/tests"
)

func TestMapReader(t *testing.T) {
	tc := tests.NewTestCtx(t)
	reader := MapReader{"a": []byte("1")}
	val, ok := reader.Get("a")
	tc.Assert.True(ok)
	tc.Assert.Equal([]byte("1"), val)
	_, ok = reader.Get("b")
	tc.Assert.False(ok)
}

func TestMemLDBReader(t *testing.T) {
	tc := tests.NewTestCtx(t)
	reader := NewMemLDBReader(map[stm_types.Key]stm_types.Value{
		"a": []byte("1"),
		"b": []byte("2"),
	})
	defer reader.Close()
	val, ok := reader.Get("a")
	tc.Assert.True(ok)
	tc.Assert.Equal([]byte("1"), val)
	_, ok = reader.Get("missing")
	tc.Assert.False(ok)
}

func TestLDBReaderOnDisk(t *testing.T) {
	tc := tests.NewTestCtx(t)
	defer tc.Close()
	reader, err := NewLDBReader(tc.DataDir())
	tc.Assert.NoError(err)
	defer reader.Close()
	_, ok := reader.Get("anything")
	tc.Assert.False(ok)
}

type countingReader struct {
	MapReader
	gets int64
}

func (this *countingReader) Get(key stm_types.Key) (stm_types.Value, bool) {
	atomic.AddInt64(&this.gets, 1)
	return this.MapReader.Get(key)
}

func TestCachedReader(t *testing.T) {
	tc := tests.NewTestCtx(t)
	backend := &countingReader{MapReader: MapReader{"a": []byte("1")}}
	cached := NewCachedReader(backend, 1<<20)

	for i := 0; i < 3; i++ {
		val, ok := cached.Get("a")
		tc.Assert.True(ok)
		tc.Assert.Equal([]byte("1"), val)
	}
	tc.Assert.Equal(int64(1), backend.gets)

	// misses are not cached, every lookup goes through
	for i := 0; i < 3; i++ {
		_, ok := cached.Get("missing")
		tc.Assert.False(ok)
	}
	tc.Assert.Equal(int64(4), backend.gets)
}
