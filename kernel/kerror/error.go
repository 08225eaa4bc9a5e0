// Package kerror provides the bootloader's error type. All failures in this
// codebase are fatal — the bootloader has no caller to return to once
// firmware has been torn down — so kerror favors a plain struct value with a
// module tag over a tree of wrapped errors: every failure is reported once,
// at the point it is discovered, and then Panic halts the machine.
package kerror

// Error describes a fatal bootloader error.
type Error struct {
	// Module names the subsystem that raised the error.
	Module string
	// Message is a human-readable description.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// New constructs an *Error for the given module.
func New(module, message string) *Error {
	return &Error{Module: module, Message: message}
}
