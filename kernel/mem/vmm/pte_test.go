package vmm

import (
	"testing"

	"github.com/yalu810/lightsaber/kernel/mem/pmm"
)

func TestPageTableEntryFlags(t *testing.T) {
	var pte pageTableEntry

	pte.SetFlags(FlagPresent | FlagWritable)
	if !pte.HasFlags(FlagPresent | FlagWritable) {
		t.Fatal("expected both flags to be set")
	}
	if pte.HasFlags(FlagNoExecute) {
		t.Fatal("did not expect FlagNoExecute to be set")
	}
	if !pte.HasAnyFlag(FlagPresent | FlagNoExecute) {
		t.Fatal("expected HasAnyFlag to match on FlagPresent")
	}

	pte.ClearFlags(FlagWritable)
	if pte.HasFlags(FlagWritable) {
		t.Fatal("expected FlagWritable to be cleared")
	}
	if !pte.HasFlags(FlagPresent) {
		t.Fatal("ClearFlags must not disturb unrelated flags")
	}
}

func TestPageTableEntryFrame(t *testing.T) {
	var pte pageTableEntry
	frame := pmm.FrameFromAddress(0x123000)

	pte.SetFlags(FlagPresent | FlagWritable | FlagNoExecute)
	pte.SetFrame(frame)

	if got := pte.Frame(); got != frame {
		t.Errorf("expected frame %#x; got %#x", frame.Address(), got.Address())
	}
	if !pte.HasFlags(FlagPresent | FlagWritable | FlagNoExecute) {
		t.Error("SetFrame must not disturb existing flags")
	}
}
