package vmm

import (
	"github.com/yalu810/lightsaber/kernel/cpu"
	"github.com/yalu810/lightsaber/kernel/kerror"
	"github.com/yalu810/lightsaber/kernel/mem"
	"github.com/yalu810/lightsaber/kernel/mem/pmm"
)

var (
	// ErrInvalidMapping is returned when looking up a virtual address that
	// has no mapping.
	ErrInvalidMapping = kerror.New("vmm", "virtual address does not point to a mapped physical page")

	errNoHugePageSupport = kerror.New("vmm", "cannot walk through a huge-page mapping")

	errMisalignedHugeMapping = kerror.New("vmm", "2 MiB mappings require a 2 MiB-aligned page and frame")

	// flushTLBEntryFn is overridden by tests; it is a plain assignment
	// everywhere else so the compiler can inline it.
	flushTLBEntryFn = cpu.FlushTLBEntry
)

// SetFlushTLBEntryFuncForTesting overrides the TLB-flush primitive that Map
// and Unmap call, returning a function that restores the original. Intended
// for tests in other packages (e.g. elfload) that exercise Map/Unmap
// against fake, non-identity-mapped memory where invalidating a TLB entry
// via the real asm stub would fault.
func SetFlushTLBEntryFuncForTesting(fn func(uintptr)) (restore func()) {
	orig := flushTLBEntryFn
	flushTLBEntryFn = fn
	return func() { flushTLBEntryFn = orig }
}

// FrameAllocatorFn supplies a fresh physical frame, used to instantiate
// missing intermediate page-table levels.
type FrameAllocatorFn func() (pmm.Frame, *kerror.Error)

type rawTable = [pageEntries]pageTableEntry

// PageTable is a four-level amd64 page hierarchy rooted at a physical frame,
// addressed through an AddressTranslator rather than recursive self-mapping.
// A PageTable needs no "active/inactive" distinction: Map and Unmap can
// populate it regardless of whether its root is the one currently loaded
// into CR3, because every level is reached by direct physical translation.
type PageTable struct {
	root      pmm.Frame
	translate AddressTranslator
}

// NewPageTable wraps an already-allocated, zeroed top-level frame.
func NewPageTable(root pmm.Frame, translate AddressTranslator) *PageTable {
	return &PageTable{root: root, translate: translate}
}

// RootFrame returns the physical frame backing this hierarchy's top level.
func (pt *PageTable) RootFrame() pmm.Frame {
	return pt.root
}

func (pt *PageTable) tableAt(f pmm.Frame) *rawTable {
	return (*rawTable)(pt.translate(f.Address()))
}

// walk descends the hierarchy for virtAddr, invoking walkFn once per level
// with the entry at that level. walkFn returns false to abort the descent
// early (e.g. on a missing or errored entry).
func (pt *PageTable) walk(virtAddr uintptr, walkFn func(level uint8, pte *pageTableEntry) bool) {
	tableFrame := pt.root
	for level := uint8(0); level < pageLevels; level++ {
		tbl := pt.tableAt(tableFrame)
		idx := (uint64(virtAddr) >> pageLevelShifts[level]) & ((1 << pageLevelBits[level]) - 1)
		pte := &tbl[idx]

		if !walkFn(level, pte) {
			return
		}
		if level < pageLevels-1 {
			tableFrame = pte.Frame()
		}
	}
}

// Map establishes a mapping from page to frame with the given flags,
// allocating and zeroing any missing intermediate tables via allocFn.
func (pt *PageTable) Map(page Page, frame pmm.Frame, flags PageTableEntryFlag, allocFn FrameAllocatorFn) *kerror.Error {
	var err *kerror.Error

	pt.walk(page.Address(), func(level uint8, pte *pageTableEntry) bool {
		if level == pageLevels-1 {
			*pte = 0
			pte.SetFrame(frame)
			pte.SetFlags(FlagPresent | flags)
			flushTLBEntryFn(page.Address())
			return true
		}

		if pte.HasFlags(FlagHugePage) {
			err = errNoHugePageSupport
			return false
		}

		if !pte.HasFlags(FlagPresent) {
			newFrame, allocErr := allocFn()
			if allocErr != nil {
				err = allocErr
				return false
			}

			*pte = 0
			pte.SetFrame(newFrame)
			pte.SetFlags(FlagPresent | FlagWritable)
			*pt.tableAt(newFrame) = rawTable{}
		}

		return true
	})

	return err
}

// MapHuge establishes a 2 MiB mapping from page to frame with the given
// flags, allocating and zeroing any missing intermediate tables via allocFn.
// Both page and frame must be 2 MiB-aligned. The physical-memory direct map
// is built entirely out of these.
func (pt *PageTable) MapHuge(page Page, frame pmm.Frame, flags PageTableEntryFlag, allocFn FrameAllocatorFn) *kerror.Error {
	if frame.Address()&mem.HugePageMask != 0 || uint64(page.Address())&mem.HugePageMask != 0 {
		return errMisalignedHugeMapping
	}

	var err *kerror.Error

	pt.walk(page.Address(), func(level uint8, pte *pageTableEntry) bool {
		if level == pageLevels-2 {
			*pte = 0
			pte.SetFrame(frame)
			pte.SetFlags(FlagPresent | FlagHugePage | flags)
			flushTLBEntryFn(page.Address())
			return false
		}

		if pte.HasFlags(FlagHugePage) {
			err = errNoHugePageSupport
			return false
		}

		if !pte.HasFlags(FlagPresent) {
			newFrame, allocErr := allocFn()
			if allocErr != nil {
				err = allocErr
				return false
			}

			*pte = 0
			pte.SetFrame(newFrame)
			pte.SetFlags(FlagPresent | FlagWritable)
			*pt.tableAt(newFrame) = rawTable{}
		}

		return true
	})

	return err
}

// Unmap removes a mapping previously installed by Map.
func (pt *PageTable) Unmap(page Page) *kerror.Error {
	var err *kerror.Error

	pt.walk(page.Address(), func(level uint8, pte *pageTableEntry) bool {
		if level == pageLevels-1 {
			pte.ClearFlags(FlagPresent)
			flushTLBEntryFn(page.Address())
			return true
		}

		if !pte.HasFlags(FlagPresent) {
			err = ErrInvalidMapping
			return false
		}
		if pte.HasFlags(FlagHugePage) {
			err = errNoHugePageSupport
			return false
		}

		return true
	})

	return err
}

// Flags returns the flags of the entry mapping virtAddr, or
// ErrInvalidMapping if virtAddr is not mapped. For a 2 MiB mapping the
// level-3 entry's flags are returned.
func (pt *PageTable) Flags(virtAddr uintptr) (PageTableEntryFlag, *kerror.Error) {
	var (
		err   *kerror.Error
		flags PageTableEntryFlag
	)

	pt.walk(virtAddr, func(level uint8, pte *pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			err = ErrInvalidMapping
			return false
		}
		if level == pageLevels-1 || (level == pageLevels-2 && pte.HasFlags(FlagHugePage)) {
			flags = PageTableEntryFlag(uintptr(*pte)) &^ PageTableEntryFlag(ptePhysPageMask)
			return false
		}
		return true
	})

	return flags, err
}

// Translate returns the physical address corresponding to virtAddr, or
// ErrInvalidMapping if virtAddr is not mapped. Both 4 KiB and 2 MiB
// mappings are resolved.
func (pt *PageTable) Translate(virtAddr uintptr) (uint64, *kerror.Error) {
	var (
		err   *kerror.Error
		entry *pageTableEntry
		huge  bool
	)

	pt.walk(virtAddr, func(level uint8, pte *pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			err = ErrInvalidMapping
			return false
		}
		if level == pageLevels-2 && pte.HasFlags(FlagHugePage) {
			entry = pte
			huge = true
			return false
		}
		if level == pageLevels-1 {
			entry = pte
		}
		return true
	})
	if err != nil {
		return 0, err
	}

	if huge {
		return entry.Frame().Address() + uint64(virtAddr)&mem.HugePageMask, nil
	}

	offset := uint64(virtAddr) & ((1 << pageLevelShifts[pageLevels-1]) - 1)
	return entry.Frame().Address() + offset, nil
}
