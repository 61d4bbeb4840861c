package util

import "strings"

func Assert(condition bool, msg ...string) {
	if !condition {
		if len(msg) == 0 {
			panic("assertion error")
		}
		panic(strings.Join(msg, " "))
	}
}
