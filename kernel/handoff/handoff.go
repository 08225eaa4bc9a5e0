// Package handoff performs the final control transfer to the kernel: it
// identity-maps the currently executing code into the kernel hierarchy,
// installs that hierarchy, switches to the kernel stack, and jumps to the
// entry point.
package handoff

import (
	"github.com/yalu810/lightsaber/kernel/bootio"
	"github.com/yalu810/lightsaber/kernel/cpu"
	"github.com/yalu810/lightsaber/kernel/kerror"
	"github.com/yalu810/lightsaber/kernel/mem/pmm"
	"github.com/yalu810/lightsaber/kernel/mem/vmm"
)

var errReserveExhausted = kerror.New("handoff", "hand-off frame reserve exhausted")

var (
	// readRIPFn and jumpFn are overridden by tests.
	readRIPFn = cpu.ReadInstructionPointer
	jumpFn    = jumpToKernel
)

// SetCPUFuncsForTesting overrides the instruction-pointer read and the final
// jump, returning a function that restores the originals. With jump
// overridden, Execute returns instead of transferring control.
func SetCPUFuncsForTesting(readRIP func() uintptr, jump func(topLevelPhys, stackTop, entryPoint, bootInfoAddr uintptr)) (restore func()) {
	origRead, origJump := readRIPFn, jumpFn
	readRIPFn = readRIP
	jumpFn = jump
	return func() {
		readRIPFn = origRead
		jumpFn = origJump
	}
}

// Execute transfers control to the kernel. On real hardware it never
// returns: the final jump lands in the kernel's entry point with the
// boot-information address in the first integer argument register.
//
// The frame holding the current instruction pointer and the frame after it
// are identity-mapped into the kernel hierarchy first, drawing page-table
// frames from the reserve captured before the main allocator was consumed.
// That identity mapping is what lets instruction fetch survive the moment
// the new top-level table lands in CR3; the jump itself runs with no stack
// state of its own because between the CR3 write and the stack-pointer load
// there is no bootloader stack to spill to.
func Execute(kernel *vmm.PageTable, kernelTopLevel pmm.Frame, reserved *pmm.ReservedFrames, stackTop, entryPoint, bootInfoAddr uint64) *kerror.Error {
	allocFn := func() (pmm.Frame, *kerror.Error) {
		f, ok := reserved.AllocateFrame()
		if !ok {
			return pmm.InvalidFrame, errReserveExhausted
		}
		return f, nil
	}

	first := pmm.FrameFromAddress(uint64(readRIPFn()))
	for frame := first; frame <= first+1; frame++ {
		page := vmm.PageFromAddress(uintptr(frame.Address()))
		if err := kernel.Map(page, frame, 0, allocFn); err != nil {
			return err
		}
	}

	bootio.Printf("handoff: jumping to the kernel entry point at %x\n", entryPoint)

	// From here on the kernel hierarchy is reached only via its physical
	// frame; the *vmm.PageTable wrapper is dead state.
	jumpFn(uintptr(kernelTopLevel.Address()), uintptr(stackTop), uintptr(entryPoint), uintptr(bootInfoAddr))
	return nil
}
