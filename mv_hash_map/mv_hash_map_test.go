package mv_hash_map

import (
	"fmt"
	"testing"

	"github.com/Taraxa-project/taraxa-stm/delta"
	"github.com/Taraxa-project/taraxa-stm/stm_types"
	"github.com/Taraxa-project/taraxa-stm/util/concurrent"
	"github.com/Taraxa-project/taraxa-stm/util/tests"
)

func version(idx int, incarnation uint64) stm_types.Version {
	return stm_types.Version{TxnIndex: idx, Incarnation: incarnation}
}

func TestReadClosestWriteBelow(t *testing.T) {
	tc := tests.NewTestCtx(t)
	mv := New()
	mv.Write("a", version(3, 0), []byte("v3"))
	mv.Write("a", version(7, 0), []byte("v7"))

	res := mv.Read("a", 5)
	tc.Assert.Equal(ReadOk, res.Status)
	tc.Assert.Equal(version(3, 0), res.Version)
	tc.Assert.Equal([]byte("v3"), []byte(res.Value))

	res = mv.Read("a", 10)
	tc.Assert.Equal(ReadOk, res.Status)
	tc.Assert.Equal(version(7, 0), res.Version)

	// a transaction never observes its own entry
	res = mv.Read("a", 3)
	tc.Assert.Equal(ReadNotFound, res.Status)

	res = mv.Read("missing", 5)
	tc.Assert.Equal(ReadNotFound, res.Status)
}

func TestEstimateBlocksReaders(t *testing.T) {
	tc := tests.NewTestCtx(t)
	mv := New()
	mv.Write("a", version(2, 0), []byte("v2"))
	mv.Write("a", version(4, 0), []byte("v4"))
	mv.MarkEstimate("a", 4)

	res := mv.Read("a", 6)
	tc.Assert.Equal(ReadDependency, res.Status)
	tc.Assert.Equal(4, res.Blocking)

	// readers below the estimate are unaffected
	res = mv.Read("a", 4)
	tc.Assert.Equal(ReadOk, res.Status)
	tc.Assert.Equal(version(2, 0), res.Version)

	// a rewrite by the next incarnation clears the estimate
	mv.Write("a", version(4, 1), []byte("v4'"))
	res = mv.Read("a", 6)
	tc.Assert.Equal(ReadOk, res.Status)
	tc.Assert.Equal(version(4, 1), res.Version)
}

func TestStaleIncarnationWritePanics(t *testing.T) {
	tc := tests.NewTestCtx(t)
	mv := New()
	mv.Write("a", version(1, 2), []byte("new"))
	tc.Assert.Panics(func() { mv.Write("a", version(1, 1), []byte("old")) })
}

func TestDelete(t *testing.T) {
	tc := tests.NewTestCtx(t)
	mv := New()
	mv.Write("a", version(1, 0), []byte("v1"))
	mv.Write("a", version(5, 0), []byte("v5"))
	mv.Delete("a", 5)
	res := mv.Read("a", 9)
	tc.Assert.Equal(ReadOk, res.Status)
	tc.Assert.Equal(version(1, 0), res.Version)
	mv.Delete("a", 1)
	tc.Assert.Equal(ReadNotFound, mv.Read("a", 9).Status)
}

func TestDeltaChains(t *testing.T) {
	tc := tests.NewTestCtx(t)
	mv := New()
	limit := uint64(1000)
	mv.Write("cnt", version(1, 0), delta.Serialize(10))
	mv.WriteDelta("cnt", version(3, 0), delta.Add(5, limit))
	mv.WriteDelta("cnt", version(4, 0), delta.Sub(2, limit))

	// chain closed by the concrete write at 1: 10 + 5 - 2
	res := mv.Read("cnt", 6)
	tc.Assert.Equal(ReadResolvedDelta, res.Status)
	tc.Assert.Equal(uint64(13), res.Resolved)

	// between the value and the deltas, the plain value is observed
	res = mv.Read("cnt", 3)
	tc.Assert.Equal(ReadOk, res.Status)

	// no concrete value below: the chain comes back for the caller to close,
	// in ascending transaction order
	mv.Delete("cnt", 1)
	res = mv.Read("cnt", 6)
	tc.Assert.Equal(ReadUnresolvedDelta, res.Status)
	tc.Assert.Equal(2, len(res.Deltas))
	tc.Assert.False(res.Deltas[0].Neg)
	tc.Assert.True(res.Deltas[1].Neg)
	resolved, err := delta.ApplyChain(100, res.Deltas)
	tc.Assert.NoError(err)
	tc.Assert.Equal(uint64(103), resolved)
}

func TestDeltaChainFailure(t *testing.T) {
	tc := tests.NewTestCtx(t)
	mv := New()
	mv.Write("cnt", version(0, 0), delta.Serialize(1))
	mv.WriteDelta("cnt", version(1, 0), delta.Sub(5, 1000))
	res := mv.Read("cnt", 3)
	tc.Assert.Equal(ReadError, res.Status)
	tc.Assert.Equal(delta.ErrUnderflow, res.Err)
}

func TestEstimateInterruptsDeltaChain(t *testing.T) {
	tc := tests.NewTestCtx(t)
	mv := New()
	mv.Write("cnt", version(0, 0), delta.Serialize(1))
	mv.WriteDelta("cnt", version(2, 0), delta.Add(1, 1000))
	mv.MarkEstimate("cnt", 0)
	res := mv.Read("cnt", 4)
	tc.Assert.Equal(ReadDependency, res.Status)
	tc.Assert.Equal(0, res.Blocking)
}

func TestConvertDeltaToValue(t *testing.T) {
	tc := tests.NewTestCtx(t)
	mv := New()
	mv.WriteDelta("cnt", version(2, 1), delta.Add(5, 1000))
	mv.ConvertDeltaToValue("cnt", 2, delta.Serialize(15))
	res := mv.Read("cnt", 4)
	tc.Assert.Equal(ReadOk, res.Status)
	tc.Assert.Equal(version(2, 1), res.Version)
	tc.Assert.Equal(uint64(15), delta.Deserialize(res.Value))
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	tc := tests.NewTestCtx(t)
	mv := New()
	num_txns, num_keys := 200, 7
	concurrent.SpawnWorkers(concurrent.CPU_COUNT, func(worker int) {
		for idx := worker; idx < num_txns; idx += concurrent.CPU_COUNT {
			key := stm_types.Key(fmt.Sprint("k", idx%num_keys))
			mv.Write(key, version(idx, 0), delta.Serialize(uint64(idx)))
			mv.Read(key, idx)
		}
	})
	for k := 0; k < num_keys; k++ {
		key := stm_types.Key(fmt.Sprint("k", k))
		res := mv.Read(key, num_txns)
		tc.Assert.Equal(ReadOk, res.Status)
		// the winning entry is the highest-indexed writer of this key
		expected := num_txns - 1
		for expected%num_keys != k {
			expected--
		}
		tc.Assert.Equal(uint64(expected), delta.Deserialize(res.Value))
	}
}
