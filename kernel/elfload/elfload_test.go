package elfload

import (
	"debug/elf"
	"testing"
	"unsafe"

	"github.com/yalu810/lightsaber/kernel/kerror"
	"github.com/yalu810/lightsaber/kernel/mem/pmm"
	"github.com/yalu810/lightsaber/kernel/mem/vmm"
)

// fakeMemory backs physical frames with regular Go memory, standing in for
// the identity-mapped view the real bootloader has during boot.
type fakeMemory struct {
	pages map[uint64]*[4096]byte
}

func newFakeMemory() *fakeMemory {
	return &fakeMemory{pages: make(map[uint64]*[4096]byte)}
}

func (m *fakeMemory) translate(addr uint64) unsafe.Pointer {
	page, ok := m.pages[addr]
	if !ok {
		page = &[4096]byte{}
		m.pages[addr] = page
	}
	return unsafe.Pointer(page)
}

func (m *fakeMemory) frame(addr uint64) pmm.Frame {
	m.translate(addr)
	return pmm.FrameFromAddress(addr)
}

func (m *fakeMemory) bytesAt(addr uint64) *[4096]byte {
	m.translate(addr)
	return m.pages[addr]
}

func newPageTable(fm *fakeMemory, rootAddr uint64) *vmm.PageTable {
	return vmm.NewPageTable(fm.frame(rootAddr), fm.translate)
}

// TestMapSegmentBSSTail exercises the partially file-backed boundary page:
// a Load segment with virtual_addr=0x400000, file_size=0x1234,
// mem_size=0x5000.
func TestMapSegmentBSSTail(t *testing.T) {
	fm := newFakeMemory()
	nextFrame := uint64(0x10000)
	allocFn := func() (pmm.Frame, *kerror.Error) {
		f := fm.frame(nextFrame)
		nextFrame += 0x1000
		return f, nil
	}

	restore := vmm.SetFlushTLBEntryFuncForTesting(func(uintptr) {})
	defer restore()

	pt := newPageTable(fm, 0x1000)

	const kernelPhysBase = 0x100000
	const segOff = 0x2000
	const segVaddr = 0x400000
	const fileSize = 0x1234
	const memSize = 0x5000

	physStart := uint64(kernelPhysBase + segOff)
	fileEndAddr := physStart + fileSize - 1
	lastFileFrame := fm.frame(pmm.FrameFromAddress(fileEndAddr).Address())

	// Fill the last file-backed frame with a recognizable byte so the copied
	// prefix (which keeps it) can be told apart from the zero-filled rest
	// (which must not).
	origBuf := fm.bytesAt(lastFileFrame.Address())
	for i := range origBuf {
		origBuf[i] = 0xAA
	}

	prog := &elf.ProgHeader{
		Type:   elf.PT_LOAD,
		Flags:  elf.PF_R | elf.PF_W,
		Off:    segOff,
		Vaddr:  segVaddr,
		Filesz: fileSize,
		Memsz:  memSize,
	}

	if err := mapSegment(prog, kernelPhysBase, pt, fm.translate, allocFn); err != nil {
		t.Fatalf("mapSegment: %v", err)
	}

	// Page 0x400000 is wholly file-backed and maps the image frame directly.
	// Page 0x401000 is only partially file-backed; its substitution is
	// checked below.
	for _, vaddr := range []uint64{0x400000} {
		page := vmm.PageFromAddress(uintptr(vaddr))
		phys, err := pt.Translate(page.Address())
		if err != nil {
			t.Fatalf("Translate(%#x): %v", vaddr, err)
		}
		wantPhys := kernelPhysBase + segOff + (vaddr - segVaddr)
		if phys != wantPhys {
			t.Errorf("page %#x: expected phys %#x; got %#x", vaddr, wantPhys, phys)
		}
	}

	// The tail page (0x401000) must have been substituted: its first
	// (zeroStart & 0xFFF) = 0x234 bytes equal the original frame's bytes,
	// the rest are zero.
	tailPhys, err := pt.Translate(vmm.PageFromAddress(0x401000).Address())
	if err != nil {
		t.Fatalf("Translate tail page: %v", err)
	}
	if tailPhys == lastFileFrame.Address() {
		t.Fatal("expected the tail page to be remapped to a freshly allocated frame")
	}
	tailBuf := fm.bytesAt(tailPhys)
	const copiedLen = 0x234
	for i := 0; i < copiedLen; i++ {
		if tailBuf[i] != 0xAA {
			t.Fatalf("byte %d: expected copied 0xAA; got %#x", i, tailBuf[i])
		}
	}
	for i := copiedLen; i < 4096; i++ {
		if tailBuf[i] != 0 {
			t.Fatalf("byte %d: expected zero; got %#x", i, tailBuf[i])
		}
	}

	// Pages [0x402000, 0x405000] must be freshly zeroed frames.
	for vaddr := uint64(0x402000); vaddr <= 0x405000; vaddr += 0x1000 {
		page := vmm.PageFromAddress(uintptr(vaddr))
		phys, err := pt.Translate(page.Address())
		if err != nil {
			t.Fatalf("Translate(%#x): %v", vaddr, err)
		}
		buf := fm.bytesAt(phys)
		for i, b := range buf {
			if b != 0 {
				t.Fatalf("zero page %#x byte %d: expected 0; got %#x", vaddr, i, b)
			}
		}
	}
}

func TestMapSegmentFlags(t *testing.T) {
	specs := []struct {
		flags elf.ProgFlag
		want  vmm.PageTableEntryFlag
	}{
		{elf.PF_R, vmm.FlagNoExecute},
		{elf.PF_R | elf.PF_W, vmm.FlagNoExecute | vmm.FlagWritable},
		{elf.PF_R | elf.PF_X, 0},
		{elf.PF_R | elf.PF_W | elf.PF_X, vmm.FlagWritable},
	}

	for _, spec := range specs {
		prog := &elf.ProgHeader{Flags: spec.flags}
		if got := segmentFlags(prog); got != spec.want {
			t.Errorf("flags %v: expected %#x; got %#x", spec.flags, spec.want, got)
		}
	}
}

func TestSanityCheckSegmentRejectsOversizeFile(t *testing.T) {
	prog := &elf.ProgHeader{Off: 10, Filesz: 100, Memsz: 100}
	if err := sanityCheckSegment(prog, 50); err == nil {
		t.Fatal("expected an error for a segment reading past the file")
	}
}

func TestSanityCheckSegmentRejectsFilesizeAboveMemsize(t *testing.T) {
	prog := &elf.ProgHeader{Filesz: 100, Memsz: 50}
	if err := sanityCheckSegment(prog, 1000); err == nil {
		t.Fatal("expected an error when file_size exceeds mem_size")
	}
}

func TestSanityCheckSegmentAccepts(t *testing.T) {
	prog := &elf.ProgHeader{Off: 0, Filesz: 100, Vaddr: 0x400000, Memsz: 200}
	if err := sanityCheckSegment(prog, 1000); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
}
