// Package pmm implements the bootloader's physical memory manager: the
// monotonic bump allocator that hands out 4 KiB frames from the firmware's
// memory map and, once boot is complete, folds its own consumption back into
// a consolidated memory map for the kernel.
package pmm

import (
	"math"

	"github.com/yalu810/lightsaber/kernel/mem"
)

// Frame identifies a physical page frame by its frame number (byte address
// divided by mem.PageSize).
type Frame uint64

// InvalidFrame is returned by allocators that fail to produce a frame.
const InvalidFrame = Frame(math.MaxUint64)

// FrameFromAddress returns the frame containing the given physical address,
// rounding down to the nearest frame boundary.
func FrameFromAddress(addr uint64) Frame {
	return Frame(addr >> mem.PageShift)
}

// Valid reports whether this is a real frame, as opposed to InvalidFrame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical byte address of this frame.
func (f Frame) Address() uint64 {
	return uint64(f) << mem.PageShift
}
