package handoff

// jumpToKernel installs topLevelPhys into CR3, loads stackTop into the
// stack pointer, pushes a zero return address, and jumps to entryPoint with
// bootInfoAddr in RDI per the System V AMD64 calling convention. It is a
// single assembly sequence because no intermediate state is representable
// between the CR3 write and the stack switch. Implemented in jump_amd64.s;
// never returns.
func jumpToKernel(topLevelPhys, stackTop, entryPoint, bootInfoAddr uintptr)
