package conflict_detector

import "github.com/emirpasic/gods/sets/linkedhashset"

type OperationType int

const (
	// reading a code/module path
	GET OperationType = iota
	// publishing to a code/module path
	SET
	OperationType_count uint = iota
)

type Author = interface{} // equals/hashcode required
type Authors = *linkedhashset.Set
type Key = string // equals/hashcode required
type Keys = *linkedhashset.Set
type ConflictRelations = map[OperationType][]OperationType
type OperationLogger func(OperationType, Key)
type Operation struct {
	Author Author
	Type   OperationType
	Key    Key
}
type OnConflict func(*Operation, Authors)
type operationLog = [OperationType_count]map[Key]Authors

// A code path published within the block conflicts with any other access to
// it: concurrent speculative execution cannot order a publish against its
// readers, so either relation degrades the block to sequential execution.
var conflictRelations = func() ConflictRelations {
	ret := make(ConflictRelations)
	inConflict := func(left, right OperationType) {
		ret[left] = append(ret[left], right)
		ret[right] = append(ret[right], left)
	}
	inConflict(GET, SET)
	inConflict(SET, SET)
	return ret
}()
