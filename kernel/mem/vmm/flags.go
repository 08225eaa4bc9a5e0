package vmm

// PageTableEntryFlag describes a flag that can be applied to a page table
// entry.
type PageTableEntryFlag uintptr

const (
	// FlagPresent is set when the page is mapped and not swapped out.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagWritable is set if the page can be written to.
	FlagWritable

	// FlagUserAccessible is set if user-mode code may access this page.
	FlagUserAccessible

	// FlagWriteThroughCaching implies write-through caching when set and
	// write-back caching when cleared.
	FlagWriteThroughCaching

	// FlagDoNotCache prevents this page from being cached.
	FlagDoNotCache

	// FlagAccessed is set by the CPU when the page is accessed.
	FlagAccessed

	// FlagDirty is set by the CPU when the page is modified.
	FlagDirty

	// FlagHugePage marks a 2MiB/1GiB mapping instead of a 4KiB one. Set by
	// MapHuge on level-3 entries; Map and Unmap reject walking through an
	// entry that has it set.
	FlagHugePage

	// FlagGlobal prevents the TLB entry from being flushed on a CR3 switch.
	FlagGlobal
)

// FlagNoExecute marks a page as non-executable. It occupies the top bit of
// the entry, outside the contiguous iota run above.
const FlagNoExecute PageTableEntryFlag = 1 << 63
