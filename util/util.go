package util

import (
	"reflect"
	"sync"
)

type Any = interface{}

func IsReallyNil(value Any) bool {
	if value == nil {
		return true
	}
	switch reflectValue := reflect.ValueOf(value); reflectValue.Kind() {
	case reflect.Chan, reflect.Func, reflect.Map, reflect.Ptr,
		reflect.UnsafePointer, reflect.Interface, reflect.Slice:
		return reflectValue.IsNil()
	default:
		return false
	}
}

type ErrorString string

func (this ErrorString) Error() string {
	return string(this)
}

func PanicIfNotNil(value interface{}) bool {
	if !IsReallyNil(value) {
		panic(value)
	}
	return true
}

func Recover(handler func(issue Any)) {
	if r := recover(); r != nil {
		handler(r)
	}
}

func LockUnlock(l sync.Locker) func() {
	l.Lock()
	return l.Unlock
}

func WithLock(lock sync.Locker, action func()) {
	lock.Lock()
	defer lock.Unlock()
	action()
}
