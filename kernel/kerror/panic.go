package kerror

import (
	"github.com/yalu810/lightsaber/kernel/bootio"
	"github.com/yalu810/lightsaber/kernel/cpu"
)

// cpuHaltFn is mocked by tests; it is a plain assignment so the compiler can
// inline it everywhere else.
var cpuHaltFn = cpu.Halt

// SetHaltFuncForTesting overrides the halt primitive Panic invokes,
// returning a function that restores the original. Tests in other packages
// use it to observe fatal paths without halting the test process; the
// override conventionally panics so execution does not continue past a
// failure the way it never would on hardware.
func SetHaltFuncForTesting(fn func()) (restore func()) {
	orig := cpuHaltFn
	cpuHaltFn = fn
	return func() { cpuHaltFn = orig }
}

// Panic logs e, if non-nil, and halts the machine. Every failure path in
// this bootloader is fatal (see the package doc); Panic is the single place
// that turns a failure into the required log-and-halt behavior. Calls to
// Panic never return.
func Panic(e interface{}) {
	var err *Error

	switch t := e.(type) {
	case *Error:
		err = t
	case string:
		err = New("panic", t)
	case error:
		err = New("panic", t.Error())
	}

	bootio.Printf("\n-----------------------------------\n")
	if err != nil {
		bootio.Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	bootio.Printf("*** bootloader halted ***")
	bootio.Printf("\n-----------------------------------\n")

	cpuHaltFn()
}
