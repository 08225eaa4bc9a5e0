package pmm

import (
	"github.com/yalu810/lightsaber/kernel/firmware"
	"github.com/yalu810/lightsaber/kernel/mem"
)

// firstFrameAddr is the lowest physical address the allocator will ever
// hand out. The zero page is never allocated.
const firstFrameAddr = uint64(mem.PageSize)

// FrameAllocator is the boot-time physical frame allocator. It is a
// monotonic bump allocator: frames are never freed, and the entirety of its
// state can be summarized by a single high-water mark (next). A cached
// "current region" cursor keeps AllocateFrame from rescanning the map on
// every call; the walk over the input map is forward-only.
//
// Once ConstructMemoryMap has been called the allocator is considered
// consumed; any further call to AllocateFrame panics, since the high-water
// mark it reports must not move after the memory map has been emitted.
type FrameAllocator struct {
	original firmware.MemoryMapIterator
	cursor   firmware.MemoryMapIterator
	current  *firmware.MemoryRegion
	next     Frame
	consumed bool
}

// New snapshots the supplied memory map and prepares to hand out frames
// starting at physical address 0x1000.
func New(m firmware.MemoryMapIterator) *FrameAllocator {
	return &FrameAllocator{
		original: m.Clone(),
		cursor:   m.Clone(),
		next:     FrameFromAddress(firstFrameAddr),
	}
}

// Len returns the number of descriptors in the original memory map. Callers
// size the output buffer passed to ConstructMemoryMap as Len()+1 to allow
// for the single split that occurs when the high-water mark falls inside a
// Conventional region.
func (a *FrameAllocator) Len() int {
	return a.original.Len()
}

// MaxPhysicalAddress returns the supremum over every input region's end
// address, used to size the kernel's physical-memory direct map.
func (a *FrameAllocator) MaxPhysicalAddress() uint64 {
	var max uint64
	it := a.original.Clone()
	for {
		r, ok := it.Next()
		if !ok {
			break
		}
		if end := r.End(); end > max {
			max = end
		}
	}
	return max
}

// AllocateFrame returns the next never-before-returned frame that lies in a
// Conventional input region, or false if the memory map is exhausted.
func (a *FrameAllocator) AllocateFrame() (Frame, bool) {
	if a.consumed {
		panic("pmm: AllocateFrame called after the allocator was consumed by ConstructMemoryMap")
	}

	for {
		if a.current == nil {
			region, ok := a.cursor.Next()
			if !ok {
				return InvalidFrame, false
			}
			if region.Kind.Tag != firmware.Conventional {
				continue
			}
			a.current = &region
		}

		regionStart := FrameFromAddress(mem.AlignUp(a.current.Start))
		regionEnd := FrameFromAddress(mem.AlignDown(a.current.End()))

		// Tie-break: next only ever jumps forward to catch up with a
		// region it hasn't reached yet, never backward.
		if a.next < regionStart {
			a.next = regionStart
		}

		if a.next >= regionEnd {
			a.current = nil
			continue
		}

		f := a.next
		a.next++
		return f, true
	}
}

// ConstructMemoryMap consumes the allocator and walks the original input
// memory map once, emitting the consolidated output regions described in
// the data model: every frame below the high-water mark that came from a
// Conventional input region is reported as Bootloader, every frame at or
// above it retains its input classification, and a Conventional region that
// straddles the high-water mark is split into two consecutive regions.
//
// out must have capacity for at least Len()+1 regions. The initialized
// prefix of out is returned.
func (a *FrameAllocator) ConstructMemoryMap(out []OutputRegion) []OutputRegion {
	a.consumed = true

	hwm := a.next.Address()
	result := out[:0]

	it := a.original.Clone()
	for {
		r, ok := it.Next()
		if !ok {
			break
		}

		if r.Kind.Tag != firmware.Conventional {
			result = append(result, OutputRegion{
				Start: r.Start,
				End:   r.End(),
				Kind:  OutputKind{Tag: UnknownFirmware, Code: firmwareCode(r.Kind)},
			})
			continue
		}

		switch {
		case r.End() <= hwm:
			result = append(result, OutputRegion{Start: r.Start, End: r.End(), Kind: OutputKind{Tag: Bootloader}})
		case r.Start >= hwm:
			result = append(result, OutputRegion{Start: r.Start, End: r.End(), Kind: OutputKind{Tag: Usable}})
		default:
			result = append(result,
				OutputRegion{Start: r.Start, End: hwm, Kind: OutputKind{Tag: Bootloader}},
				OutputRegion{Start: hwm, End: r.End(), Kind: OutputKind{Tag: Usable}},
			)
		}
	}

	return result
}

// firmwareCode maps an input RegionKind to the raw firmware-type code
// recorded in an UnknownFirmware output region.
func firmwareCode(k firmware.RegionKind) uint32 {
	if k.Tag == firmware.OtherFirmware {
		return k.Code
	}
	return uint32(k.Tag)
}
