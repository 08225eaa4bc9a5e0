// Package kmain drives the boot sequence: it queries the firmware for the
// graphics mode and the kernel image, tears down boot services, builds the
// kernel's address space, writes the boot information, and hands control to
// the kernel. Every failure on this path is fatal.
package kmain

import (
	"unsafe"

	"github.com/yalu810/lightsaber/kernel/bootinfo"
	"github.com/yalu810/lightsaber/kernel/bootio"
	"github.com/yalu810/lightsaber/kernel/elfload"
	"github.com/yalu810/lightsaber/kernel/firmware"
	"github.com/yalu810/lightsaber/kernel/handoff"
	"github.com/yalu810/lightsaber/kernel/kerror"
	"github.com/yalu810/lightsaber/kernel/layout"
	"github.com/yalu810/lightsaber/kernel/mem"
	"github.com/yalu810/lightsaber/kernel/mem/pmm"
	"github.com/yalu810/lightsaber/kernel/mem/vmm"
	"github.com/yalu810/lightsaber/kernel/mem/vmm/slots"
)

var (
	errUnsupportedPixelFormat = kerror.New("kmain", "bitmask and blt-only framebuffers are not supported")
	errNoRSDP                 = kerror.New("kmain", "no ACPI RSDP entry in the firmware configuration table")
)

// translateFn is the physical address translator in effect during boot;
// overridden by tests that back frames with regular Go memory.
var translateFn vmm.AddressTranslator = vmm.IdentityTranslator

// Boot runs the boot sequence against the supplied firmware backend. On
// hardware it does not return: the final step jumps into the kernel.
func Boot(svc firmware.Services) {
	// The graphics mode is validated first so an unsupported pixel format
	// halts while boot services, and with them the diagnostic console,
	// still exist.
	mode, err := svc.GraphicsMode()
	if err != nil {
		kerror.Panic(err)
	}
	if !mode.PixelFormat.Supported() {
		kerror.Panic(errUnsupportedPixelFormat)
	}
	bootio.Printf("kmain: framebuffer at %x, %dx%d\n", mode.FramebufferBase, mode.HorizontalResolution, mode.VerticalResolution)

	kernelImage, kernelBase := loadKernelImage(svc)

	rsdp, ok := firmware.RSDPAddress(svc.ConfigTable())
	if !ok {
		kerror.Panic(errNoRSDP)
	}

	bootio.Printf("kmain: exiting boot services\n")
	mmap, err := svc.ExitBootServices()
	if err != nil {
		kerror.Panic(err)
	}

	alloc := pmm.New(mmap)
	allocFn := vmm.AllocatorFn(alloc)

	hier, kerr := vmm.Build(allocFn, translateFn)
	if kerr != nil {
		kerror.Panic(kerr)
	}

	bootio.Printf("kmain: loading the kernel image\n")
	loaded, kerr := elfload.Load(kernelImage, kernelBase, hier.Kernel, translateFn, allocFn)
	if kerr != nil {
		kerror.Panic(kerr)
	}
	bootio.Printf("kmain: kernel entry point at %x\n", loaded.EntryPoint)

	arbiter := slots.New(loaded.Segments)

	lay, kerr := layout.Compose(layout.Input{
		Kernel:             hier.Kernel,
		Arbiter:            arbiter,
		AllocFn:            allocFn,
		MaxPhysicalAddress: alloc.MaxPhysicalAddress(),
		FramebufferBase:    mode.FramebufferBase,
		FramebufferLen:     mode.FramebufferSize,
	})
	if kerr != nil {
		kerror.Panic(kerr)
	}

	written, kerr := bootinfo.Write(bootinfo.Input{
		Boot:            hier.Boot,
		Kernel:          hier.Kernel,
		Arbiter:         arbiter,
		Translate:       translateFn,
		Allocator:       alloc,
		RSDPAddress:     rsdp,
		PhysMemOffset:   lay.PhysMemOffset,
		FramebufferVirt: lay.FramebufferVirt,
		FramebufferInfo: framebufferInfo(mode),
	})
	if kerr != nil {
		kerror.Panic(kerr)
	}

	if kerr := handoff.Execute(hier.Kernel, hier.KernelTopLevel, written.Reserved, lay.StackTop, loaded.EntryPoint, written.BlobAddr); kerr != nil {
		kerror.Panic(kerr)
	}
}

// loadKernelImage reads the kernel ELF into firmware-allocated pages and
// returns the image bytes together with their physical base address. Page
// allocation keeps the image 4 KiB-aligned, which the segment mapper
// requires.
func loadKernelImage(svc firmware.Services) ([]byte, uint64) {
	f, err := svc.Open(firmware.KernelImagePath)
	if err != nil {
		kerror.Panic(err)
	}
	defer f.Close()

	size, err := f.Size()
	if err != nil {
		kerror.Panic(err)
	}
	bootio.Printf("kmain: reading %s, %d bytes\n", firmware.KernelImagePath, size)

	pages := mem.Size(size).Pages()
	base, err := svc.AllocatePages(pages)
	if err != nil {
		kerror.Panic(err)
	}

	buf := unsafe.Slice((*byte)(unsafe.Pointer(base)), pages*uint64(mem.PageSize))
	if _, err := f.ReadAt(buf[:size], 0); err != nil {
		kerror.Panic(err)
	}

	return buf[:size], uint64(base)
}

func framebufferInfo(mode firmware.GraphicsMode) bootinfo.FramebufferInfo {
	format := bootinfo.PixelFormatRGB
	if mode.PixelFormat == firmware.PixelFormatBGR {
		format = bootinfo.PixelFormatBGR
	}
	return bootinfo.FramebufferInfo{
		LenBytes:             mode.FramebufferSize,
		HorizontalResolution: uint64(mode.HorizontalResolution),
		VerticalResolution:   uint64(mode.VerticalResolution),
		PixelFormat:          format,
		BytesPerPixel:        4,
		Stride:               uint64(mode.Stride),
	}
}
