package recording

import (
	"fmt"
	"reflect"
	"runtime"
)

// FuncID identifies an instrumented callable. Two FuncIDs are equal if and
// only if they refer to the same function, so FuncID can be used as a map
// key.
//
// The identity of a Go function is its code, not its closure. All closures
// created from the same function literal, and all method values of the same
// method, share one FuncID.
type FuncID struct {
	pc   uintptr
	name string
}

// FuncOf resolves a function value into a FuncID. It is meant to be called
// once, when the tracked groups are configured, not on every call. It panics
// if fn is not a non-nil function.
func FuncOf(fn any) FuncID {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		panic(fmt.Sprintf("%T is not a function", fn))
	}

	if v.IsNil() {
		panic("function must not be nil")
	}

	pc := v.Pointer()
	name := "unknown"

	if f := runtime.FuncForPC(pc); f != nil {
		name = f.Name()
	}

	return FuncID{pc: pc, name: name}
}

// Named creates a FuncID for an instrumented section that is not a Go
// function, e.g., a remote call or a block inside a larger function. Named
// identifiers with the same name are equal.
func Named(name string) FuncID {
	if name == "" {
		panic("name must not be empty")
	}

	return FuncID{name: name}
}

// Name returns the qualified name of the function.
func (f FuncID) Name() string {
	return f.name
}

// IsZero tells if the FuncID has not been resolved.
func (f FuncID) IsZero() bool {
	return f == FuncID{}
}

func (f FuncID) String() string {
	return f.name
}
