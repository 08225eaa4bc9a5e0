package bootinfo

import (
	"unsafe"

	"github.com/yalu810/lightsaber/kernel/bootio"
	"github.com/yalu810/lightsaber/kernel/kerror"
	"github.com/yalu810/lightsaber/kernel/mem"
	"github.com/yalu810/lightsaber/kernel/mem/pmm"
	"github.com/yalu810/lightsaber/kernel/mem/vmm"
	"github.com/yalu810/lightsaber/kernel/mem/vmm/slots"
)

var errOutOfFrames = kerror.New("bootinfo", "out of physical frames while reserving the hand-off frames")

// Input carries everything Write needs. The allocator is consumed: after
// Write returns, no further frame allocations are possible outside the
// returned reserve.
type Input struct {
	Boot      *vmm.PageTable
	Kernel    *vmm.PageTable
	Arbiter   *slots.Arbiter
	Translate vmm.AddressTranslator
	Allocator *pmm.FrameAllocator

	RSDPAddress     uint64
	PhysMemOffset   uint64
	FramebufferVirt uint64
	FramebufferInfo FramebufferInfo
}

// Result of writing the boot information.
type Result struct {
	// BlobAddr is the virtual address of the BootInformation structure,
	// identical in both hierarchies. It is the value handed to the kernel.
	BlobAddr uint64

	// RegionCount is the number of entries written to the trailing memory
	// region array.
	RegionCount uint64

	// Reserved is the frame reserve captured before the allocator was
	// consumed, for the hand-off's final identity mapping.
	Reserved *pmm.ReservedFrames
}

// Write claims a fresh top-level slot for the boot-information blob, maps a
// page range large enough for the structure plus the consolidated memory
// map into BOTH hierarchies, sets aside the hand-off frame reserve, consumes
// the allocator to emit the memory map, and writes the blob in place.
//
// The double mapping is what keeps the blob addressable across the CR3
// swap: the same frames back the same virtual addresses in the transitional
// boot hierarchy and in the kernel hierarchy.
func Write(in Input) (*Result, *kerror.Error) {
	blobAddr := in.Arbiter.GetFreeAddress()
	blobEnd := blobAddr + uint64(unsafe.Sizeof(BootInformation{}))

	regionAlign := uint64(unsafe.Alignof(MemoryRegion{}))
	regionsAddr := (blobEnd + regionAlign - 1) &^ (regionAlign - 1)
	maxRegions := uint64(in.Allocator.Len() + 1)
	regionsEnd := regionsAddr + maxRegions*uint64(unsafe.Sizeof(MemoryRegion{}))

	allocFn := vmm.AllocatorFn(in.Allocator)

	startPage := vmm.PageFromAddress(uintptr(blobAddr))
	endPage := vmm.PageFromAddress(uintptr(regionsEnd - 1))

	var frames []pmm.Frame
	for page := startPage; page <= endPage; page++ {
		frame, err := allocFn()
		if err != nil {
			return nil, err
		}
		if err := in.Kernel.Map(page, frame, vmm.FlagWritable, allocFn); err != nil {
			return nil, err
		}
		if err := in.Boot.Map(page, frame, vmm.FlagWritable, allocFn); err != nil {
			return nil, err
		}
		frames = append(frames, frame)
	}

	reserved, ok := pmm.NewReservedFrames(in.Allocator)
	if !ok {
		return nil, errOutOfFrames
	}

	bootio.Printf("bootinfo: constructing the memory map\n")

	scratch := make([]pmm.OutputRegion, maxRegions)
	emitted := in.Allocator.ConstructMemoryMap(scratch)

	bootio.Printf("bootinfo: writing boot information, %d memory regions\n", len(emitted))

	w := blobWriter{
		translate: in.Translate,
		frames:    frames,
		base:      uint64(startPage.Address()),
	}

	for i, r := range emitted {
		region := convertRegion(r)
		w.write(regionsAddr+uint64(i)*uint64(unsafe.Sizeof(region)), structBytes(unsafe.Pointer(&region), unsafe.Sizeof(region)))
	}

	info := BootInformation{
		RSDPAddress:      in.RSDPAddress,
		PhysMemoryOffset: in.PhysMemOffset,
		Framebuffer: Framebuffer{
			BufferStart:    in.FramebufferVirt,
			BufferLenBytes: in.FramebufferInfo.LenBytes,
			Info:           in.FramebufferInfo,
		},
		MemoryRegions: MemoryRegions{
			Ptr: regionsAddr,
			Len: uint64(len(emitted)),
		},
	}
	w.write(blobAddr, structBytes(unsafe.Pointer(&info), unsafe.Sizeof(info)))

	return &Result{
		BlobAddr:    blobAddr,
		RegionCount: uint64(len(emitted)),
		Reserved:    reserved,
	}, nil
}

func convertRegion(r pmm.OutputRegion) MemoryRegion {
	out := MemoryRegion{Start: r.Start, End: r.End}
	switch r.Kind.Tag {
	case pmm.Usable:
		out.Kind = RegionUsable
	case pmm.Bootloader:
		out.Kind = RegionBootloader
	case pmm.UnknownFirmware:
		out.Kind = RegionUnknownFirmware
		out.KindCode = r.Kind.Code
	}
	return out
}

func structBytes(p unsafe.Pointer, size uintptr) []byte {
	return unsafe.Slice((*byte)(p), size)
}

// blobWriter scatters bytes into the frames backing the blob's page range,
// addressed through the physical translator. Writing through the physical
// side rather than the new virtual mapping keeps the writer independent of
// which hierarchy is installed.
type blobWriter struct {
	translate vmm.AddressTranslator
	frames    []pmm.Frame
	base      uint64
}

const frameBytes = int(mem.PageSize)

func (w *blobWriter) write(virtAddr uint64, src []byte) {
	off := virtAddr - w.base
	for len(src) > 0 {
		frame := w.frames[off/uint64(mem.PageSize)]
		inPage := off & mem.PageMask
		buf := (*[frameBytes]byte)(w.translate(frame.Address()))
		n := copy(buf[inPage:], src)
		src = src[n:]
		off += uint64(n)
	}
}
