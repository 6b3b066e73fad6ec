package patcher

import (
	"fmt"

	"aobpatch/process"
)

// BaselineMismatchError reports the first byte that differs from the
// recorded baseline
type BaselineMismatchError struct {
	Address  process.ProcessMemoryAddress
	Index    int
	Expected byte
	Actual   byte
	Found    []byte
}

func (e *BaselineMismatchError) Error() string {
	return fmt.Sprintf("baseline mismatch at %s+%d: expected %02X, found %02X",
		e.Address.ToString(), e.Index, e.Expected, e.Actual)
}

// ProtectionChangeError reports that the OS refused to make the target writable
type ProtectionChangeError struct {
	Address process.ProcessMemoryAddress
	Err     error
}

func (e *ProtectionChangeError) Error() string {
	return fmt.Sprintf("protection change at %s: %v", e.Address.ToString(), e.Err)
}

func (e *ProtectionChangeError) Unwrap() error {
	return e.Err
}
