// Package elfload maps the loadable segments of an ELF64 kernel image into
// a page hierarchy. The kernel image bytes are assumed to already be
// resident in memory at a page-aligned physical address (loaded by the
// firmware's file and page-allocation services); this package never reads
// from a filesystem itself.
package elfload

import (
	"bytes"
	"debug/elf"

	"github.com/yalu810/lightsaber/kernel/bootio"
	"github.com/yalu810/lightsaber/kernel/kerror"
	"github.com/yalu810/lightsaber/kernel/mem"
	"github.com/yalu810/lightsaber/kernel/mem/pmm"
	"github.com/yalu810/lightsaber/kernel/mem/vmm"
	"github.com/yalu810/lightsaber/kernel/mem/vmm/slots"
)

var (
	errMisaligned           = kerror.New("elfload", "kernel image is not 4 KiB-aligned in physical memory")
	errCorruptHeader        = kerror.New("elfload", "kernel ELF header failed sanity check")
	errCorruptProgramHeader = kerror.New("elfload", "kernel ELF program header failed sanity check")
)

// Result describes the outcome of loading a kernel image.
type Result struct {
	// EntryPoint is the kernel's entry virtual address.
	EntryPoint uint64
	// Segments lists the virtual address range of every Load segment, for
	// claiming top-level slots against (see slots.New).
	Segments []slots.VirtAddrRange
}

// Load parses data as an ELF64 image resident at kernelPhysBase and maps
// every Load segment into pt, allocating frames from allocFn and addressing
// physical memory through translate.
func Load(data []byte, kernelPhysBase uint64, pt *vmm.PageTable, translate vmm.AddressTranslator, allocFn vmm.FrameAllocatorFn) (*Result, *kerror.Error) {
	if kernelPhysBase&uint64(mem.PageMask) != 0 {
		return nil, errMisaligned
	}

	f, ferr := elf.NewFile(bytes.NewReader(data))
	if ferr != nil {
		return nil, errCorruptHeader
	}
	if f.Class != elf.ELFCLASS64 || f.Machine != elf.EM_X86_64 {
		return nil, errCorruptHeader
	}

	var segments []slots.VirtAddrRange
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			bootio.Printf("elfload: skipping segment of type %x\n", uint32(prog.Type))
			continue
		}
		if err := sanityCheckSegment(&prog.ProgHeader, uint64(len(data))); err != nil {
			return nil, err
		}
		if err := mapSegment(&prog.ProgHeader, kernelPhysBase, pt, translate, allocFn); err != nil {
			return nil, err
		}
		segments = append(segments, slots.VirtAddrRange{
			Start: prog.Vaddr,
			End:   prog.Vaddr + prog.Memsz,
		})
	}

	return &Result{EntryPoint: f.Entry, Segments: segments}, nil
}

func sanityCheckSegment(prog *elf.ProgHeader, fileLen uint64) *kerror.Error {
	if prog.Filesz > prog.Memsz {
		return errCorruptProgramHeader
	}
	if prog.Off+prog.Filesz < prog.Off || prog.Off+prog.Filesz > fileLen {
		return errCorruptProgramHeader
	}
	if prog.Vaddr+prog.Memsz < prog.Vaddr {
		return errCorruptProgramHeader
	}
	return nil
}

func segmentFlags(prog *elf.ProgHeader) vmm.PageTableEntryFlag {
	var flags vmm.PageTableEntryFlag
	if prog.Flags&elf.PF_X == 0 {
		flags |= vmm.FlagNoExecute
	}
	if prog.Flags&elf.PF_W != 0 {
		flags |= vmm.FlagWritable
	}
	return flags
}

func mapSegment(prog *elf.ProgHeader, kernelPhysBase uint64, pt *vmm.PageTable, translate vmm.AddressTranslator, allocFn vmm.FrameAllocatorFn) *kerror.Error {
	flags := segmentFlags(prog)
	physStart := kernelPhysBase + prog.Off
	startPage := vmm.PageFromAddress(uintptr(prog.Vaddr))

	var lastFileFrame pmm.Frame
	if prog.Filesz > 0 {
		startFrame := pmm.FrameFromAddress(physStart)
		endFrame := pmm.FrameFromAddress(physStart + prog.Filesz - 1)
		lastFileFrame = endFrame

		for frame := startFrame; frame <= endFrame; frame++ {
			page := startPage + vmm.Page(frame-startFrame)
			if err := pt.Map(page, frame, flags, allocFn); err != nil {
				return err
			}
		}
	}

	if prog.Memsz <= prog.Filesz {
		return nil
	}

	zeroStart := prog.Vaddr + prog.Filesz
	zeroEnd := prog.Vaddr + prog.Memsz

	if prog.Filesz > 0 && zeroStart&mem.PageMask != 0 {
		newFrame, err := allocFn()
		if err != nil {
			return err
		}
		newBuf := vmm.FrameBytes(translate, newFrame)
		for i := range newBuf {
			newBuf[i] = 0
		}

		origBuf := vmm.FrameBytes(translate, lastFileFrame)
		n := zeroStart & mem.PageMask
		copy(newBuf[:n], origBuf[:n])

		lastPage := vmm.PageFromAddress(uintptr(prog.Vaddr + prog.Filesz - 1))
		if err := pt.Unmap(lastPage); err != nil {
			return err
		}
		if err := pt.Map(lastPage, newFrame, flags, allocFn); err != nil {
			return err
		}
	}

	zeroPageStart := vmm.PageFromAddress(uintptr(mem.AlignUp(zeroStart)))
	zeroPageEnd := vmm.PageFromAddress(uintptr(zeroEnd))
	for page := zeroPageStart; page <= zeroPageEnd; page++ {
		frame, err := allocFn()
		if err != nil {
			return err
		}
		buf := vmm.FrameBytes(translate, frame)
		for i := range buf {
			buf[i] = 0
		}
		if err := pt.Map(page, frame, flags, allocFn); err != nil {
			return err
		}
	}

	return nil
}
