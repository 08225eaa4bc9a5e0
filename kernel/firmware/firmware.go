// Package firmware describes the external contract that the bootloader core
// consumes from its pre-OS environment. Nothing in this package talks to real
// firmware; it only defines the interfaces the rest of the kernel packages
// depend on and the wire-level vocabulary (region kinds, pixel formats, GUIDs)
// those interfaces traffic in. A concrete implementation (UEFI boot and
// runtime service calls) and the test double in kernel/firmware/fake both
// satisfy these contracts; the core never imports either firmware backend
// directly.
package firmware

import "github.com/google/uuid"

// KernelImagePath is the fixed, by-convention path of the kernel image on the
// EFI system partition.
const KernelImagePath = `\efi\kernel\lightsaber.elf`

// RegionTag classifies a physical memory region reported by the firmware's
// memory map.
type RegionTag uint8

const (
	// Conventional memory is freely available for the loaded OS.
	Conventional RegionTag = iota
	LoaderCode
	LoaderData
	BootServicesCode
	BootServicesData
	RuntimeServicesCode
	RuntimeServicesData
	// OtherFirmware carries an opaque, firmware-defined region type in Code.
	OtherFirmware
)

// RegionKind is a (tag, opaque code) pair; Code is only meaningful when Tag
// is OtherFirmware and holds the firmware's raw memory-type value.
type RegionKind struct {
	Tag  RegionTag
	Code uint32
}

// MemoryRegion describes one physical memory descriptor as reported by the
// firmware's memory map. Regions are not guaranteed to be sorted or
// non-overlapping-free of duplicates across calls; callers must not assume
// ordering.
type MemoryRegion struct {
	Start  uint64
	Length uint64
	Kind   RegionKind
}

// End returns the exclusive end address of the region.
func (r MemoryRegion) End() uint64 { return r.Start + r.Length }

// MemoryMapIterator is a cloneable, exact-size producer of memory region
// descriptors. Clone must return an independent cursor that starts back at
// the beginning of the same underlying data; Len must report the number of
// descriptors the map contains regardless of how much of the cursor has been
// consumed.
type MemoryMapIterator interface {
	Len() int
	Clone() MemoryMapIterator
	Next() (MemoryRegion, bool)
}

// PixelFormat enumerates the graphics-mode pixel layouts the firmware can
// report. Bitmask and BltOnly modes are not supported by this bootloader and
// must cause a fatal error before ExitBootServices is invoked.
type PixelFormat uint8

const (
	PixelFormatRGB PixelFormat = iota
	PixelFormatBGR
	PixelFormatBitmask
	PixelFormatBltOnly
)

// Supported reports whether this pixel format can be handed to the kernel.
func (f PixelFormat) Supported() bool {
	return f == PixelFormatRGB || f == PixelFormatBGR
}

// GraphicsMode describes the firmware's currently configured graphics output.
type GraphicsMode struct {
	HorizontalResolution uint32
	VerticalResolution   uint32
	// Stride is the row pitch in pixels (may exceed HorizontalResolution).
	Stride          uint32
	PixelFormat     PixelFormat
	FramebufferBase uint64
	FramebufferSize uint64
}

// File is a firmware-opened file handle.
type File interface {
	// Size returns the total size of the file in bytes.
	Size() (uint64, error)
	// ReadAt reads len(buf) bytes starting at the given file offset.
	ReadAt(buf []byte, offset uint64) (int, error)
	Close() error
}

// FileSystem exposes the firmware's simple filesystem protocol.
type FileSystem interface {
	Open(path string) (File, error)
}

// PageAllocator is the firmware's page-granularity allocation service, used
// to obtain a 4 KiB-aligned buffer large enough to hold the kernel image.
type PageAllocator interface {
	AllocatePages(count uint64) (uintptr, error)
}

// ConfigTableEntry is one entry of the firmware's configuration table.
type ConfigTableEntry struct {
	GUID    uuid.UUID
	Address uint64
}

// Well-known configuration table GUIDs, as defined by the UEFI and ACPI
// specifications. Entries tagged with either GUID carry the RSDP physical
// address.
var (
	ACPITableGUID  = uuid.MustParse("eb9d2d30-2d88-11d3-9a16-0090273fc14d")
	ACPI2TableGUID = uuid.MustParse("8868e871-e4f1-11d3-bc22-0080c73c8881")
)

// RSDPAddress scans a configuration table for an ACPI or ACPI 2.0 entry and
// returns its physical address. ACPI 2.0 is preferred when both are present.
func RSDPAddress(table []ConfigTableEntry) (uint64, bool) {
	var (
		found  bool
		addr   uint64
		isACPI2 bool
	)
	for _, e := range table {
		switch e.GUID {
		case ACPI2TableGUID:
			addr, found, isACPI2 = e.Address, true, true
		case ACPITableGUID:
			if !isACPI2 {
				addr, found = e.Address, true
			}
		}
	}
	return addr, found
}

// Services bundles every firmware collaborator the bootloader needs. It is
// consumed via its contract only; the actual protocol lookups, graphics-mode
// negotiation, and console rendering live behind whichever type implements
// this interface.
type Services interface {
	FileSystem
	PageAllocator

	// GraphicsMode returns the firmware's current graphics configuration.
	GraphicsMode() (GraphicsMode, error)

	// ConfigTable returns the firmware configuration table entries.
	ConfigTable() []ConfigTableEntry

	// ExitBootServices terminates boot services and returns the final,
	// authoritative memory map as an exact-size iterator.
	ExitBootServices() (MemoryMapIterator, error)
}
