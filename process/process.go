// Package process provides the memory abstractions shared by the scanner,
// resolver and patcher.
package process

import "errors"

var (
	// ErrAddressNotMapped is returned when a memory address is not found within any mapped region of a process.
	ErrAddressNotMapped = errors.New("address not mapped")

	// ErrProcessNotOpen is returned when an operation requiring an open process is attempted
	// before the process has been successfully opened or after it has been closed.
	ErrProcessNotOpen = errors.New("process not open")

	ErrInvalidPointer = errors.New("invalid pointer read")

	// ErrNotWritable is returned when a write targets memory without write access.
	ErrNotWritable = errors.New("memory not writable")

	// ErrProtectUnsupported is returned by views that cannot change page protection.
	ErrProtectUnsupported = errors.New("protection change not supported")
)
