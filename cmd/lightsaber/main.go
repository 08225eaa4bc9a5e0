// Command lightsaber is the UEFI boot stage that loads the kernel. The EFI
// entry shim initializes the Go runtime, wraps the firmware's system table
// in a firmware.Services backend, and registers it before main runs; main
// only hands that backend to the boot sequence.
package main

import (
	"github.com/yalu810/lightsaber/kernel/firmware"
	"github.com/yalu810/lightsaber/kernel/kerror"
	"github.com/yalu810/lightsaber/kernel/kmain"
)

func main() {
	svc := firmware.Connected()
	if svc == nil {
		kerror.Panic(kerror.New("main", "no firmware backend registered"))
	}
	kmain.Boot(svc)
}
