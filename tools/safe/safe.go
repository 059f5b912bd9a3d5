package safe

import (
	"fmt"
	"reflect"

	"PropChat/logger"
	"PropChat/tools/errs"

	"go.uber.org/zap"
)

// MustNotNil panics if the given value is nil.
func MustNotNil(v any, name string) {
	if v == nil {
		panic(fmt.Sprintf("%s must not be nil", name))
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if rv.IsNil() {
			panic(fmt.Sprintf("%s must not be nil", name))
		}
	}
}

// DefaultString returns s, or fallback when s is empty.
func DefaultString(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// Go starts f in a goroutine; a panic is logged instead of crashing the process.
func Go(name string, f func()) {
	go func() {
		defer Recover(name)
		f()
	}()
}

// Recover is meant to be deferred.
func Recover(name string) {
	if r := recover(); r != nil {
		logger.Error("panic recovered", zap.String("where", name), zap.Error(errs.ErrPanic(r)))
	}
}
