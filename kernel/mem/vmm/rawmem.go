package vmm

import (
	"github.com/yalu810/lightsaber/kernel/mem"
	"github.com/yalu810/lightsaber/kernel/mem/pmm"
)

const frameBytes = int(mem.PageSize)

// FrameBytes returns a byte-array view over frame's contents through
// translate. Callers use it to zero or copy into frames before (or instead
// of) mapping them, e.g. when substituting the partially file-backed frame
// at a segment's BSS boundary.
func FrameBytes(translate AddressTranslator, frame pmm.Frame) *[frameBytes]byte {
	return (*[frameBytes]byte)(translate(frame.Address()))
}
