// Package delta implements commutative numeric updates (aggregator deltas).
// A delta is a +N or -N against an unsigned counter with an inclusive upper
// limit and an implicit lower bound of zero. Deltas can be recorded without
// reading the current value, which is what makes hot counters parallelizable.
package delta

import (
	"encoding/binary"

	"github.com/Taraxa-project/taraxa-stm/util"
	"github.com/Taraxa-project/taraxa-stm/util/asserts"
)

const ErrOverflow = util.ErrorString("delta application overflows the limit")
const ErrUnderflow = util.ErrorString("delta application underflows zero")

type Op struct {
	Neg   bool
	Val   uint64
	Limit uint64
}

func Add(val, limit uint64) *Op {
	return &Op{Val: val, Limit: limit}
}

func Sub(val, limit uint64) *Op {
	return &Op{Neg: true, Val: val, Limit: limit}
}

func (this *Op) ApplyTo(base uint64) (uint64, error) {
	if this.Neg {
		return subtraction(base, this.Val)
	}
	return addition(base, this.Val, this.Limit)
}

func addition(a, b, limit uint64) (uint64, error) {
	if a > limit || b > limit-a {
		return 0, ErrOverflow
	}
	return a + b, nil
}

func subtraction(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrUnderflow
	}
	return a - b, nil
}

// ApplyChain applies `ops` to `base` in order, failing on the first op whose
// application over- or underflows.
func ApplyChain(base uint64, ops []*Op) (ret uint64, err error) {
	ret = base
	for _, op := range ops {
		if ret, err = op.ApplyTo(ret); err != nil {
			return 0, err
		}
	}
	return
}

// Values under delta-tracked keys are fixed-width big-endian u64.

func Serialize(val uint64) []byte {
	ret := make([]byte, 8)
	binary.BigEndian.PutUint64(ret, val)
	return ret
}

func Deserialize(bytes []byte) uint64 {
	asserts.Holds(len(bytes) == 8, "delta value must be 8 bytes")
	return binary.BigEndian.Uint64(bytes)
}
