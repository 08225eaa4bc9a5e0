package vmm

import "github.com/yalu810/lightsaber/kernel/mem"

// Page describes a virtual memory page index.
type Page uint64

// Address returns the virtual memory address this page starts at.
func (p Page) Address() uintptr {
	return uintptr(p << mem.PageShift)
}

// PageFromAddress returns the Page containing virtAddr, rounding down if
// virtAddr is not itself page-aligned.
func PageFromAddress(virtAddr uintptr) Page {
	return Page((virtAddr &^ uintptr(mem.PageSize-1)) >> mem.PageShift)
}
