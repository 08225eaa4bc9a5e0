// Package slots implements the top-level slot arbiter: deterministic,
// lowest-index-first allocation of the 512 entries in a top-level page
// table, each covering 512 GiB of virtual address space. Slot 0 is always
// reserved up front (it aliases low memory in the transitional boot
// hierarchy); callers additionally reserve whatever slots the kernel image's
// loadable segments span so the layout composer never hands out a
// colliding slot.
package slots

import "github.com/yalu810/lightsaber/kernel/kerror"

// count is the number of entries in a top-level page table on amd64.
const count = 512

// slotShift is log2(512 GiB), the address span of a single top-level slot.
const slotShift = 39

// errExhausted is the error GetFreeEntry panics with once every slot has been
// claimed.
var errExhausted = kerror.New("slots", "top-level slot arbiter exhausted")

// VirtAddrRange is a half-open virtual address range, as spanned by a
// loadable ELF segment.
type VirtAddrRange struct {
	Start uint64
	End   uint64
}

// Arbiter tracks which of the 512 top-level slots have been claimed.
type Arbiter struct {
	claimed [count]bool
}

// New marks slot 0 and every slot spanned by any range in segments.
func New(segments []VirtAddrRange) *Arbiter {
	a := &Arbiter{}
	a.claimed[0] = true

	for _, r := range segments {
		first := indexOf(r.Start)
		last := indexOf(r.End - 1)
		for i := first; i <= last; i++ {
			a.claimed[i] = true
		}
	}

	return a
}

// indexOf extracts the top-level index bits; the sign-extension bits of a
// canonical high-half address are discarded.
func indexOf(addr uint64) uint64 {
	return (addr >> slotShift) & (count - 1)
}

// GetFreeEntry returns the lowest-indexed unclaimed slot and marks it
// claimed. It panics via kerror.Panic if every slot is already claimed;
// running out of top-level slots is always a fatal, unrecoverable condition
// for the bootloader.
func (a *Arbiter) GetFreeEntry() uint16 {
	for i := 0; i < count; i++ {
		if !a.claimed[i] {
			a.claimed[i] = true
			return uint16(i)
		}
	}
	kerror.Panic(errExhausted)
	panic("unreachable")
}

// GetFreeAddress claims a fresh slot and returns its 512 GiB-aligned start
// address.
func (a *Arbiter) GetFreeAddress() uint64 {
	return uint64(a.GetFreeEntry()) << slotShift
}
