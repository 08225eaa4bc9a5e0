// Package fake provides an in-memory implementation of kernel/firmware's
// Services contract for use in tests. It never touches actual hardware but
// exercises every code path a real firmware backend would: file reads go
// against byte slices, AllocatePages hands out page-aligned Go memory, and
// the memory map is whatever region list the test wired in.
package fake

import (
	"errors"
	"io"
	"unsafe"

	"github.com/google/uuid"

	"github.com/yalu810/lightsaber/kernel/firmware"
)

// RegionIterator is a cloneable MemoryMapIterator backed by a plain slice.
type RegionIterator struct {
	regions []firmware.MemoryRegion
	pos     int
}

// NewRegionIterator builds an iterator over the supplied regions. The slice
// is copied so later mutation by the caller is not observed.
func NewRegionIterator(regions []firmware.MemoryRegion) *RegionIterator {
	cp := make([]firmware.MemoryRegion, len(regions))
	copy(cp, regions)
	return &RegionIterator{regions: cp}
}

func (it *RegionIterator) Len() int { return len(it.regions) }

func (it *RegionIterator) Clone() firmware.MemoryMapIterator {
	return &RegionIterator{regions: it.regions}
}

func (it *RegionIterator) Next() (firmware.MemoryRegion, bool) {
	if it.pos >= len(it.regions) {
		return firmware.MemoryRegion{}, false
	}
	r := it.regions[it.pos]
	it.pos++
	return r, true
}

// File is an in-memory firmware.File.
type File struct {
	data []byte
}

func (f *File) Size() (uint64, error) { return uint64(len(f.data)), nil }

func (f *File) ReadAt(buf []byte, offset uint64) (int, error) {
	if offset > uint64(len(f.data)) {
		return 0, io.EOF
	}
	n := copy(buf, f.data[offset:])
	if n < len(buf) {
		return n, io.EOF
	}
	return n, nil
}

func (f *File) Close() error { return nil }

// Services is a fully in-memory firmware.Services implementation.
type Services struct {
	Files    map[string][]byte
	Graphics firmware.GraphicsMode
	Config   []firmware.ConfigTableEntry
	FinalMap []firmware.MemoryRegion

	// pages tracks bump-allocated page buffers handed out by AllocatePages.
	pages [][]byte
}

var errNoSuchFile = errors.New("fake: no such file")

func (s *Services) Open(path string) (firmware.File, error) {
	data, ok := s.Files[path]
	if !ok {
		return nil, errNoSuchFile
	}
	return &File{data: data}, nil
}

const pageSize = 4096

// AllocatePages returns a 4 KiB-aligned pointer into freshly allocated Go
// memory, over-allocating by one page so the aligned region still covers
// count pages regardless of where the runtime placed the buffer.
func (s *Services) AllocatePages(count uint64) (uintptr, error) {
	buf := make([]byte, (count+1)*pageSize)
	s.pages = append(s.pages, buf)
	base := uintptr(unsafe.Pointer(&buf[0]))
	aligned := (base + pageSize - 1) &^ uintptr(pageSize-1)
	return aligned, nil
}

func (s *Services) GraphicsMode() (firmware.GraphicsMode, error) {
	return s.Graphics, nil
}

func (s *Services) ConfigTable() []firmware.ConfigTableEntry {
	return s.Config
}

func (s *Services) ExitBootServices() (firmware.MemoryMapIterator, error) {
	return NewRegionIterator(s.FinalMap), nil
}

// WithRSDP appends an ACPI 2.0 configuration-table entry for addr.
func (s *Services) WithRSDP(addr uint64) *Services {
	s.Config = append(s.Config, firmware.ConfigTableEntry{GUID: firmware.ACPI2TableGUID, Address: addr})
	return s
}

// WithRawGUID appends an arbitrary configuration-table entry, useful for
// asserting that unrelated GUIDs are ignored.
func (s *Services) WithRawGUID(id uuid.UUID, addr uint64) *Services {
	s.Config = append(s.Config, firmware.ConfigTableEntry{GUID: id, Address: addr})
	return s
}
