package vmm

import "github.com/yalu810/lightsaber/kernel/mem/pmm"

// pageTableEntry describes a single page-table entry: a physical frame
// address plus a set of flags. The layout is amd64-specific.
type pageTableEntry uintptr

// HasFlags returns true if all of flags are set on this entry.
func (pte pageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return (uintptr(pte) & uintptr(flags)) == uintptr(flags)
}

// HasAnyFlag returns true if at least one of flags is set on this entry.
func (pte pageTableEntry) HasAnyFlag(flags PageTableEntryFlag) bool {
	return (uintptr(pte) & uintptr(flags)) != 0
}

// SetFlags sets the given flags on this entry, leaving others untouched.
func (pte *pageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte = pageTableEntry(uintptr(*pte) | uintptr(flags))
}

// ClearFlags clears the given flags from this entry.
func (pte *pageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte = pageTableEntry(uintptr(*pte) &^ uintptr(flags))
}

// Frame returns the physical frame this entry points to.
func (pte pageTableEntry) Frame() pmm.Frame {
	return pmm.FrameFromAddress(uint64(uintptr(pte) & ptePhysPageMask))
}

// SetFrame points this entry at frame, leaving its flags untouched.
func (pte *pageTableEntry) SetFrame(frame pmm.Frame) {
	*pte = pageTableEntry((uintptr(*pte) &^ ptePhysPageMask) | uintptr(frame.Address()))
}
