package vmm

import (
	"github.com/yalu810/lightsaber/kernel/cpu"
	"github.com/yalu810/lightsaber/kernel/kerror"
	"github.com/yalu810/lightsaber/kernel/mem/pmm"
)

var (
	// activeRootFn reads the physical frame currently loaded into CR3;
	// overridden by tests.
	activeRootFn = func() pmm.Frame { return pmm.FrameFromAddress(uint64(cpu.ActiveCR3())) }

	// switchCR3Fn installs a new top-level frame; overridden by tests.
	switchCR3Fn = cpu.SwitchCR3
)

// SetCPUFuncsForTesting overrides the CR3 primitives Build calls, returning
// a function that restores the originals. Intended for tests in other
// packages that drive Build against fake memory, where reading or writing
// the real CR3 register is not possible.
func SetCPUFuncsForTesting(activeRoot func() pmm.Frame, switchCR3 func(uintptr)) (restore func()) {
	origActive, origSwitch := activeRootFn, switchCR3Fn
	activeRootFn = activeRoot
	switchCR3Fn = switchCR3
	return func() {
		activeRootFn = origActive
		switchCR3Fn = origSwitch
	}
}

// Hierarchies is the pair of page tables the boot process builds and the
// frame backing the kernel one, per the kernel entry contract.
type Hierarchies struct {
	Boot           *PageTable
	Kernel         *PageTable
	KernelTopLevel pmm.Frame
}

// Build creates a fresh top-level table, copies slot 0 from the firmware's
// currently-active hierarchy into it so identity-mapped code (including this
// bootloader) keeps running, installs it as the active "boot" hierarchy, and
// then allocates a second fresh top-level table to become the "kernel"
// hierarchy. Both hierarchies are addressed through translate, which must
// remain valid for the lifetime of both (see AddressTranslator).
func Build(allocFn FrameAllocatorFn, translate AddressTranslator) (*Hierarchies, *kerror.Error) {
	bootFrame, err := allocFn()
	if err != nil {
		return nil, err
	}
	bootTbl := (*rawTable)(translate(bootFrame.Address()))
	*bootTbl = rawTable{}

	activeTbl := (*rawTable)(translate(activeRootFn().Address()))
	bootTbl[0] = activeTbl[0]

	switchCR3Fn(uintptr(bootFrame.Address()))

	kernelFrame, err := allocFn()
	if err != nil {
		return nil, err
	}
	kernelTbl := (*rawTable)(translate(kernelFrame.Address()))
	*kernelTbl = rawTable{}

	return &Hierarchies{
		Boot:           NewPageTable(bootFrame, translate),
		Kernel:         NewPageTable(kernelFrame, translate),
		KernelTopLevel: kernelFrame,
	}, nil
}
