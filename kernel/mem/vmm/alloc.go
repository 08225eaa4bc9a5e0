package vmm

import (
	"github.com/yalu810/lightsaber/kernel/kerror"
	"github.com/yalu810/lightsaber/kernel/mem/pmm"
)

// ErrOutOfFrames is returned by the adapted allocator callback once the
// physical memory map is exhausted.
var ErrOutOfFrames = kerror.New("vmm", "out of physical frames")

// AllocatorFn adapts the boot-time frame allocator to the callback shape
// Map, MapHuge and the segment mapper consume.
func AllocatorFn(a *pmm.FrameAllocator) FrameAllocatorFn {
	return func() (pmm.Frame, *kerror.Error) {
		f, ok := a.AllocateFrame()
		if !ok {
			return pmm.InvalidFrame, ErrOutOfFrames
		}
		return f, nil
	}
}
