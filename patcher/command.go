// Package patcher applies verified byte patches to process memory.
package patcher

import (
	"bytes"
	"errors"
	"fmt"

	"aobpatch/process"
)

// ErrInvalidCommand is returned for commands that can never be applied safely
var ErrInvalidCommand = errors.New("invalid command")

// Locator finds the address a command patches. Key identifies the location
// so commands sharing a locator share its result.
type Locator interface {
	Key() string
	Locate(img *process.Image) (process.ProcessMemoryAddress, error)
}

// At is an absolute address
type At process.ProcessMemoryAddress

func (a At) Key() string {
	return "at:" + process.ProcessMemoryAddress(a).ToString()
}

func (a At) Locate(*process.Image) (process.ProcessMemoryAddress, error) {
	return process.ProcessMemoryAddress(a), nil
}

// RVA is an offset from the image base
type RVA int64

func (r RVA) Key() string {
	return fmt.Sprintf("rva:0x%X", int64(r))
}

func (r RVA) Locate(img *process.Image) (process.ProcessMemoryAddress, error) {
	return img.Base.Add(int64(r)), nil
}

// Offset displaces the address found by another locator
type Offset struct {
	Base  Locator
	Delta int64
}

func (o Offset) Key() string {
	return fmt.Sprintf("%s%+d", o.Base.Key(), o.Delta)
}

func (o Offset) Locate(img *process.Image) (process.ProcessMemoryAddress, error) {
	addr, err := o.Base.Locate(img)
	if err != nil {
		return 0, err
	}
	return addr.Add(o.Delta), nil
}

// Command is a single named patch: where, what must be there, what to write
type Command struct {
	name        string
	target      Locator
	expected    []byte
	replacement []byte
	widen       bool
}

// NewCommand validates and builds a command. The replacement may be longer
// than the baseline only when widen is set.
func NewCommand(name string, target Locator, expected, replacement []byte, widen bool) (Command, error) {
	c := Command{
		name:        name,
		target:      target,
		expected:    bytes.Clone(expected),
		replacement: bytes.Clone(replacement),
		widen:       widen,
	}
	return c, c.validate()
}

// MustCommand is like NewCommand but panics on error
func MustCommand(name string, target Locator, expected, replacement []byte) Command {
	c, err := NewCommand(name, target, expected, replacement, false)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Command) validate() error {
	switch {
	case c.target == nil:
		return fmt.Errorf("%s: no target: %w", c.name, ErrInvalidCommand)
	case len(c.expected) == 0:
		return fmt.Errorf("%s: empty baseline: %w", c.name, ErrInvalidCommand)
	case len(c.replacement) == 0:
		return fmt.Errorf("%s: empty replacement: %w", c.name, ErrInvalidCommand)
	case len(c.replacement) > len(c.expected) && !c.widen:
		return fmt.Errorf("%s: replacement of %d bytes exceeds baseline of %d: %w", c.name, len(c.replacement), len(c.expected), ErrInvalidCommand)
	}
	return nil
}

func (c Command) Name() string        { return c.name }
func (c Command) Target() Locator     { return c.target }
func (c Command) Expected() []byte    { return bytes.Clone(c.expected) }
func (c Command) Replacement() []byte { return bytes.Clone(c.replacement) }
func (c Command) Widen() bool         { return c.widen }

// Reverse returns the command that undoes c: it expects what c writes and
// writes back the baseline bytes c overwrote. Bytes a widened command wrote
// past its baseline are left alone.
func Reverse(c Command) Command {
	n := min(len(c.expected), len(c.replacement))
	return Command{
		name:        c.name + ".reverse",
		target:      c.target,
		expected:    bytes.Clone(c.replacement),
		replacement: bytes.Clone(c.expected[:n]),
	}
}
