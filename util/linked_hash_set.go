package util

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/emirpasic/gods/sets/linkedhashset"
)

type LinkedHashSet struct {
	*linkedhashset.Set
}

func NewLinkedHashSet(values interface{}) (this *LinkedHashSet) {
	this = &LinkedHashSet{linkedhashset.New()}
	if values == nil {
		return
	}
	ForEach(values, func(i int, val interface{}) {
		this.Add(val)
	})
	return
}

func (this *LinkedHashSet) String() string {
	return Join(", ", this.Values())
}

func ForEach(collection interface{}, action func(i int, val interface{})) {
	reflectValue := reflect.ValueOf(collection)
	for i, length := 0, reflectValue.Len(); i < length; i++ {
		action(i, reflectValue.Index(i).Interface())
	}
}

func Join(separator string, values []interface{}) string {
	strs := make([]string, len(values))
	for i, val := range values {
		strs[i] = fmt.Sprint(val)
	}
	return strings.Join(strs, separator)
}
