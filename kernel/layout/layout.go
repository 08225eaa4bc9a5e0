// Package layout composes the kernel's virtual address space. After the ELF
// segments have been mapped, it places the kernel stack, the framebuffer
// window, and the physical-memory direct map, each in its own freshly
// claimed top-level slot.
package layout

import (
	"github.com/yalu810/lightsaber/kernel/bootio"
	"github.com/yalu810/lightsaber/kernel/kerror"
	"github.com/yalu810/lightsaber/kernel/mem"
	"github.com/yalu810/lightsaber/kernel/mem/pmm"
	"github.com/yalu810/lightsaber/kernel/mem/vmm"
	"github.com/yalu810/lightsaber/kernel/mem/vmm/slots"
)

// StackPageCount is the size of the kernel stack in 4 KiB pages: 80 KiB.
const StackPageCount = 20

var errEmptyFramebuffer = kerror.New("layout", "framebuffer length is zero")

// Input carries everything Compose needs to lay out the kernel hierarchy.
type Input struct {
	Kernel  *vmm.PageTable
	Arbiter *slots.Arbiter
	AllocFn vmm.FrameAllocatorFn

	// MaxPhysicalAddress bounds the physical-memory direct map.
	MaxPhysicalAddress uint64

	FramebufferBase uint64
	FramebufferLen  uint64
}

// Layout records the virtual addresses Compose picked. StackTop is the byte
// just past the stack's upper inclusive boundary; the hand-off loads it into
// the stack pointer. PhysMemOffset is the base of the direct map: the kernel
// adds it to any physical address to obtain a dereferenceable virtual one.
type Layout struct {
	StackTop        uint64
	FramebufferVirt uint64
	PhysMemOffset   uint64
}

// Compose claims one top-level slot per region and maps the kernel stack,
// the framebuffer, and the physical-memory direct map into the kernel
// hierarchy.
func Compose(in Input) (*Layout, *kerror.Error) {
	stackTop, err := mapStack(in)
	if err != nil {
		return nil, err
	}

	fbVirt, err := mapFramebuffer(in)
	if err != nil {
		return nil, err
	}

	physOffset, err := mapPhysicalMemory(in)
	if err != nil {
		return nil, err
	}

	return &Layout{
		StackTop:        stackTop,
		FramebufferVirt: fbVirt,
		PhysMemOffset:   physOffset,
	}, nil
}

func mapStack(in Input) (uint64, *kerror.Error) {
	bootio.Printf("layout: creating the kernel stack\n")

	stackBase := in.Arbiter.GetFreeAddress()

	for i := uint64(0); i < StackPageCount; i++ {
		frame, err := in.AllocFn()
		if err != nil {
			return 0, err
		}
		page := vmm.PageFromAddress(uintptr(stackBase + i*uint64(mem.PageSize)))
		if err := in.Kernel.Map(page, frame, vmm.FlagWritable|vmm.FlagNoExecute, in.AllocFn); err != nil {
			return 0, err
		}
	}

	return stackBase + StackPageCount*uint64(mem.PageSize), nil
}

func mapFramebuffer(in Input) (uint64, *kerror.Error) {
	bootio.Printf("layout: mapping the framebuffer at %x\n", in.FramebufferBase)

	if in.FramebufferLen == 0 {
		return 0, errEmptyFramebuffer
	}

	fbBase := in.Arbiter.GetFreeAddress()
	startFrame := pmm.FrameFromAddress(in.FramebufferBase)
	endFrame := pmm.FrameFromAddress(in.FramebufferBase + in.FramebufferLen - 1)
	startPage := vmm.PageFromAddress(uintptr(fbBase))

	for frame := startFrame; frame <= endFrame; frame++ {
		page := startPage + vmm.Page(frame-startFrame)
		if err := in.Kernel.Map(page, frame, vmm.FlagWritable|vmm.FlagNoExecute, in.AllocFn); err != nil {
			return 0, err
		}
	}

	return fbBase + (in.FramebufferBase & mem.PageMask), nil
}

func mapPhysicalMemory(in Input) (uint64, *kerror.Error) {
	bootio.Printf("layout: mapping physical memory up to %x\n", in.MaxPhysicalAddress)

	physOffset := in.Arbiter.GetFreeAddress()

	for phys := uint64(0); phys < in.MaxPhysicalAddress; phys += uint64(mem.HugePageSize) {
		page := vmm.PageFromAddress(uintptr(physOffset + phys))
		if err := in.Kernel.MapHuge(page, pmm.FrameFromAddress(phys), vmm.FlagWritable, in.AllocFn); err != nil {
			return 0, err
		}
	}

	return physOffset, nil
}
