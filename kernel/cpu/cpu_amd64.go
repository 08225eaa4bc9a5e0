// Package cpu provides thin Go declarations over the handful of amd64
// primitives the bootloader needs that cannot be expressed in Go: masking
// interrupts, halting, reading/writing CR3, flushing TLB entries, and
// reading the current instruction pointer. Each function is implemented in
// the matching .s file.
package cpu

// DisableInterrupts masks all maskable interrupts.
func DisableInterrupts()

// EnableInterrupts unmasks maskable interrupts.
func EnableInterrupts()

// Halt executes hlt in an infinite loop. It never returns.
func Halt()

// FlushTLBEntry invalidates the TLB entry for the given virtual address.
func FlushTLBEntry(virtAddr uintptr)

// SwitchCR3 loads a new top-level page table physical address into CR3,
// flushing the entire TLB.
func SwitchCR3(pdtPhysAddr uintptr)

// ActiveCR3 returns the physical address of the currently active top-level
// page table.
func ActiveCR3() uintptr

// ReadInstructionPointer returns its own return address, an instruction
// address inside its caller, which
// hand-off uses as a stand-in for "the frame currently executing code lives
// in" when it identity-maps the code around the CR3 switch.
func ReadInstructionPointer() uintptr
