package pmm

// ReservedFrameCount is the number of frames set aside for the hand-off
// sequence. Identity-mapping the two code pages executing across the
// page-hierarchy swap may need a fresh table at each intermediate level
// when nothing else is mapped that low in the kernel hierarchy.
const ReservedFrameCount = 3

// ReservedFrames is a fixed reserve of frames captured from the main
// allocator before it is consumed by ConstructMemoryMap. The hand-off
// sequence draws on it to identity-map the currently executing code into the
// kernel hierarchy after the main allocator can no longer be used; without
// the reserve, that final mapping would need an allocation that would move
// the already-emitted high-water mark.
//
// Because the frames are taken from the main allocator before consolidation,
// they land below the high-water mark and are therefore reported as
// Bootloader, never Usable, in the consolidated memory map.
type ReservedFrames struct {
	frames [ReservedFrameCount]Frame
	used   int
}

// NewReservedFrames captures ReservedFrameCount frames from a. It reports
// false if a cannot supply them.
func NewReservedFrames(a *FrameAllocator) (*ReservedFrames, bool) {
	r := &ReservedFrames{}
	for i := range r.frames {
		f, ok := a.AllocateFrame()
		if !ok {
			return nil, false
		}
		r.frames[i] = f
	}
	return r, true
}

// AllocateFrame hands out the next reserved frame, or false once the
// reserve is spent.
func (r *ReservedFrames) AllocateFrame() (Frame, bool) {
	if r.used >= len(r.frames) {
		return InvalidFrame, false
	}
	f := r.frames[r.used]
	r.used++
	return f, true
}
