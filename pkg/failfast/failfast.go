// Package failfast holds construction-time validation helpers that panic
// rather than return an error. Builders and component constructors use
// these so a misconfigured runtime fails at startup (ConfigurationError)
// instead of surfacing a nil-pointer deep inside event processing.
package failfast

import (
	"fmt"
	"reflect"
	"runtime/debug"
)

// Err panics if err is non-nil, attaching a stack trace.
func Err(err error) {
	if err != nil {
		panic(fmt.Errorf("fail-fast: %w\n%s", err, debug.Stack()))
	}
}

// If panics with a formatted message when condition is false.
func If(condition bool, message string, args ...interface{}) {
	if !condition {
		panic(fmt.Errorf("fail-fast: "+message, args...))
	}
}

// NotNil panics if ptr is nil, including typed-nil pointers and functions.
func NotNil(ptr interface{}, name string) {
	if ptr == nil {
		panic(fmt.Errorf("fail-fast: %s is nil", name))
	}
	v := reflect.ValueOf(ptr)
	switch v.Kind() {
	case reflect.Ptr, reflect.Func, reflect.Map, reflect.Slice, reflect.Interface:
		if v.IsNil() {
			panic(fmt.Errorf("fail-fast: %s is nil", name))
		}
	}
}
