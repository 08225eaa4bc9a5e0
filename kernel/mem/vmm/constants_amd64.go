package vmm

// pageLevels is the number of page-table levels walked on amd64: PML4, PDPT,
// PD, PT.
const pageLevels = 4

// pageEntries is the number of entries in a single page-table level.
const pageEntries = 512

// ptePhysPageMask extracts the physical frame address encoded in a page
// table entry; bits 12-51 hold it on amd64.
const ptePhysPageMask = uintptr(0x000ffffffffff000)

// pageLevelBits is the number of virtual-address bits consumed by each page
// level; amd64 uses 9 bits (512 entries) per level.
var pageLevelBits = [pageLevels]uint8{9, 9, 9, 9}

// pageLevelShifts is the shift required to extract each level's index from a
// virtual address.
var pageLevelShifts = [pageLevels]uint8{39, 30, 21, 12}
