package kmain

import (
	"bytes"
	"encoding/binary"
	"testing"
	"unsafe"

	"github.com/yalu810/lightsaber/kernel/bootinfo"
	"github.com/yalu810/lightsaber/kernel/firmware"
	"github.com/yalu810/lightsaber/kernel/firmware/fake"
	"github.com/yalu810/lightsaber/kernel/handoff"
	"github.com/yalu810/lightsaber/kernel/kerror"
	"github.com/yalu810/lightsaber/kernel/mem/pmm"
	"github.com/yalu810/lightsaber/kernel/mem/vmm"
)

const (
	kernelVaddr = uint64(0xFFFFFFFF80000000)
	kernelEntry = kernelVaddr + 0x10
	segFileSize = uint64(0x120)
	segMemSize  = uint64(0x2120)
)

// makeKernelELF hand-assembles a minimal ELF64 executable with a single
// executable Load segment carrying a BSS tail.
func makeKernelELF(t *testing.T) []byte {
	t.Helper()

	var buf bytes.Buffer
	le := binary.LittleEndian

	// e_ident
	buf.Write([]byte{0x7F, 'E', 'L', 'F', 2, 1, 1, 0})
	buf.Write(make([]byte, 8))

	w := func(v interface{}) {
		if err := binary.Write(&buf, le, v); err != nil {
			t.Fatal(err)
		}
	}

	w(uint16(2))  // e_type: EXEC
	w(uint16(62)) // e_machine: EM_X86_64
	w(uint32(1))  // e_version
	w(kernelEntry)
	w(uint64(64)) // e_phoff
	w(uint64(0))  // e_shoff
	w(uint32(0))  // e_flags
	w(uint16(64)) // e_ehsize
	w(uint16(56)) // e_phentsize
	w(uint16(1))  // e_phnum
	w(uint16(0))  // e_shentsize
	w(uint16(0))  // e_shnum
	w(uint16(0))  // e_shstrndx

	// Program header: PT_LOAD, R+X, file data at 0x1000.
	w(uint32(1))          // p_type
	w(uint32(0x1 | 0x4))  // p_flags: X|R
	w(uint64(0x1000))     // p_offset
	w(kernelVaddr)        // p_vaddr
	w(kernelVaddr)        // p_paddr
	w(segFileSize)        // p_filesz
	w(segMemSize)         // p_memsz
	w(uint64(0x1000))     // p_align

	buf.Write(make([]byte, 0x1000-buf.Len()))
	for i := uint64(0); i < segFileSize; i++ {
		buf.WriteByte(byte(i))
	}

	return buf.Bytes()
}

// hybridMemory translates low addresses (the fake firmware memory map) to
// Go-backed fake pages and passes every other address through untouched, so
// reads of the kernel image buffer see its real bytes.
type hybridMemory struct {
	pages map[uint64]*[4096]byte
}

const fakePhysLimit = uint64(1) << 32

func newHybridMemory() *hybridMemory {
	return &hybridMemory{pages: make(map[uint64]*[4096]byte)}
}

func (m *hybridMemory) translate(addr uint64) unsafe.Pointer {
	if addr >= fakePhysLimit {
		return unsafe.Pointer(uintptr(addr))
	}
	base := addr &^ 0xFFF
	page, ok := m.pages[base]
	if !ok {
		page = &[4096]byte{}
		m.pages[base] = page
	}
	return unsafe.Pointer(&page[addr-base])
}

func TestBootEndToEnd(t *testing.T) {
	hm := newHybridMemory()

	origTranslate := translateFn
	translateFn = hm.translate
	t.Cleanup(func() { translateFn = origTranslate })

	restoreFlush := vmm.SetFlushTLBEntryFuncForTesting(func(uintptr) {})
	t.Cleanup(restoreFlush)

	// The "firmware" hierarchy whose slot 0 the boot hierarchy copies. It
	// lives outside the Conventional region so the allocator never hands
	// its frame out again.
	firmwareRoot := pmm.FrameFromAddress(0x500000)
	firmwareTbl := (*[512]uint64)(hm.translate(firmwareRoot.Address()))
	firmwareTbl[0] = 0x501000 | 0x3

	var installedCR3 []uintptr
	restoreCPU := vmm.SetCPUFuncsForTesting(
		func() pmm.Frame { return firmwareRoot },
		func(addr uintptr) { installedCR3 = append(installedCR3, addr) },
	)
	t.Cleanup(restoreCPU)

	var (
		jumped                                          bool
		gotTopLevel, gotStackTop, gotEntry, gotBootInfo uintptr
	)
	restoreJump := handoff.SetCPUFuncsForTesting(
		func() uintptr { return 0x7123 },
		func(topLevel, stackTop, entry, bootInfoAddr uintptr) {
			jumped = true
			gotTopLevel, gotStackTop, gotEntry, gotBootInfo = topLevel, stackTop, entry, bootInfoAddr
		},
	)
	t.Cleanup(restoreJump)

	svc := (&fake.Services{
		Files: map[string][]byte{
			firmware.KernelImagePath: makeKernelELF(t),
		},
		Graphics: firmware.GraphicsMode{
			HorizontalResolution: 640,
			VerticalResolution:   480,
			Stride:               640,
			PixelFormat:          firmware.PixelFormatBGR,
			FramebufferBase:      0xFD000000,
			FramebufferSize:      0x10000,
		},
		FinalMap: []firmware.MemoryRegion{
			{Start: 0x1000, Length: 0x3FF000, Kind: firmware.RegionKind{Tag: firmware.Conventional}},
			{Start: 0x400000, Length: 0x1000, Kind: firmware.RegionKind{Tag: firmware.RuntimeServicesData}},
		},
	}).WithRSDP(0xE1234)

	Boot(svc)

	if !jumped {
		t.Fatal("expected Boot to reach the hand-off jump")
	}
	if len(installedCR3) == 0 {
		t.Fatal("expected the transitional boot hierarchy to be installed")
	}
	if gotEntry != uintptr(kernelEntry) {
		t.Errorf("expected entry point %#x; got %#x", kernelEntry, gotEntry)
	}
	if gotStackTop%0x1000 != 0 {
		t.Errorf("expected a page-aligned stack top; got %#x", gotStackTop)
	}

	kernel := vmm.NewPageTable(pmm.FrameFromAddress(uint64(gotTopLevel)), hm.translate)
	boot := vmm.NewPageTable(pmm.FrameFromAddress(uint64(installedCR3[0])), hm.translate)

	// The kernel segment is mapped at its link address.
	segPhys, err := kernel.Translate(uintptr(kernelVaddr))
	if err != nil {
		t.Fatalf("kernel segment is not mapped: %v", err)
	}
	segByte := *(*byte)(hm.translate(segPhys + 0x10))
	if segByte != 0x10 {
		t.Errorf("expected segment byte 0x10 at entry offset; got %#x", segByte)
	}

	// The boot-information blob is mapped with identical backing in both
	// hierarchies and describes the layout.
	blobPhys, err := kernel.Translate(gotBootInfo)
	if err != nil {
		t.Fatalf("boot information is not mapped in the kernel hierarchy: %v", err)
	}
	bootPhys, err := boot.Translate(gotBootInfo)
	if err != nil {
		t.Fatalf("boot information is not mapped in the boot hierarchy: %v", err)
	}
	if blobPhys != bootPhys {
		t.Fatalf("boot information backing differs: %#x vs %#x", blobPhys, bootPhys)
	}

	bi := (*bootinfo.BootInformation)(hm.translate(blobPhys))
	if bi.RSDPAddress != 0xE1234 {
		t.Errorf("expected RSDP address 0xE1234; got %#x", bi.RSDPAddress)
	}
	if bi.Framebuffer.Info.PixelFormat != bootinfo.PixelFormatBGR {
		t.Errorf("expected BGR pixel format; got %d", bi.Framebuffer.Info.PixelFormat)
	}
	if bi.Framebuffer.Info.HorizontalResolution != 640 || bi.Framebuffer.Info.VerticalResolution != 480 {
		t.Errorf("unexpected framebuffer geometry: %+v", bi.Framebuffer.Info)
	}
	if bi.MemoryRegions.Len == 0 {
		t.Error("expected a non-empty consolidated memory map")
	}

	// The framebuffer window maps the physical framebuffer.
	fbPhys, err := kernel.Translate(uintptr(bi.Framebuffer.BufferStart))
	if err != nil {
		t.Fatalf("framebuffer is not mapped: %v", err)
	}
	if fbPhys != 0xFD000000 {
		t.Errorf("expected framebuffer backing 0xFD000000; got %#x", fbPhys)
	}

	// Any physical address plus the direct-map offset resolves to itself.
	for _, phys := range []uint64{0x1000, 0x200123, 0x3FF000} {
		got, err := kernel.Translate(uintptr(bi.PhysMemoryOffset + phys))
		if err != nil {
			t.Fatalf("direct map misses phys %#x: %v", phys, err)
		}
		if got != phys {
			t.Errorf("direct map: expected %#x; got %#x", phys, got)
		}
	}

	// The BSS tail reads as zero through the mapped frames.
	for _, off := range []uint64{segFileSize, 0x1000, segMemSize - 1} {
		phys, err := kernel.Translate(uintptr(kernelVaddr + off))
		if err != nil {
			t.Fatalf("BSS page at offset %#x is not mapped: %v", off, err)
		}
		if b := *(*byte)(hm.translate(phys)); b != 0 {
			t.Errorf("BSS byte at offset %#x: expected zero; got %#x", off, b)
		}
	}
}

func TestBootHaltsOnUnsupportedPixelFormat(t *testing.T) {
	svc := &fake.Services{
		Graphics: firmware.GraphicsMode{PixelFormat: firmware.PixelFormatBitmask},
	}

	var exited bool
	restoreHalt := kerror.SetHaltFuncForTesting(func() {
		exited = true
		panic("halted")
	})
	defer restoreHalt()
	defer func() {
		if recover() == nil || !exited {
			t.Fatal("expected Boot to halt on a Bitmask framebuffer")
		}
	}()

	Boot(svc)
}
