// Package resolver turns pattern matches into the runtime addresses they point at.
package resolver

import (
	"errors"
	"fmt"

	"aobpatch/process"
	"aobpatch/scanner"
)

var (
	ErrNoMatch     = errors.New("pattern not found")
	ErrAmbiguous   = errors.New("pattern matched more than once")
	ErrOutOfBounds = errors.New("field outside of scanned buffer")
	ErrBadParams   = errors.New("invalid resolver parameters")

	// ErrUnresolvedIndirection is returned when a pointer cannot be followed:
	// the image is not backed by a live process, the read fails, or the pointer is null
	ErrUnresolvedIndirection = errors.New("unresolved indirection")
)

// ResolutionError reports why a target could not be resolved. It matches one
// of the sentinel errors above through errors.Is.
type ResolutionError struct {
	Name    string
	Matches int
	Err     error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s (%d matches): %v", e.Name, e.Matches, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// Mode selects how a match is turned into an address
type Mode int

const (
	// Direct: the anchor location itself
	Direct Mode = iota
	// Relative: end of instruction plus the signed displacement at the field
	Relative
	// RelativeDeref: the pointer stored at the Relative target
	RelativeDeref
)

var modeNames = map[Mode]string{
	Direct:        "direct",
	Relative:      "relative",
	RelativeDeref: "relative-deref",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode accepts the names printed by Mode.String
func ParseMode(s string) (Mode, error) {
	for m, name := range modeNames {
		if name == s {
			return m, nil
		}
	}
	return Direct, fmt.Errorf("unknown mode %q: %w", s, ErrBadParams)
}

// Params describes where the displacement field sits relative to a match.
//
// The anchor is the start of capture group Capture when the pattern has
// groups, and the start of the match otherwise. For "48 8B 05 ?? ?? ?? ??"
// without a group: FieldOffset 3, InstructionEnd 7. For
// "48 8B 05 [?? ?? ?? ??]": FieldOffset 0, InstructionEnd 4 (the default).
type Params struct {
	Mode    Mode
	Capture int

	// FieldOffset is the distance from the anchor to the displacement field
	FieldOffset int
	// InstructionEnd is the distance from the anchor to the next instruction.
	// Zero means FieldOffset+Width.
	InstructionEnd int
	// Width of the displacement in bytes: 1, 2 or 4. Zero means 4.
	Width int
	// PointerOffset is added to the Relative target before it is dereferenced
	PointerOffset int64
}

func (p Params) width() int {
	if p.Width == 0 {
		return 4
	}
	return p.Width
}

func (p Params) instructionEnd() int {
	if p.InstructionEnd == 0 {
		return p.FieldOffset + p.width()
	}
	return p.InstructionEnd
}

func (p Params) validate() error {
	switch p.width() {
	case 1, 2, 4:
	default:
		return fmt.Errorf("displacement width %d: %w", p.Width, ErrBadParams)
	}
	if _, ok := modeNames[p.Mode]; !ok {
		return fmt.Errorf("mode %d: %w", int(p.Mode), ErrBadParams)
	}
	if p.Capture < 0 {
		return fmt.Errorf("capture %d: %w", p.Capture, ErrBadParams)
	}
	return nil
}

// ResolvedAddress is the outcome of a successful resolution
type ResolvedAddress struct {
	Name    string
	Address process.ProcessMemoryAddress
	Mode    Mode
	Match   scanner.Match
}

// Resolve computes the address a single match points at. Zero matches and
// more than one match are both errors; the resolver never picks one.
func Resolve(name string, img *process.Image, matches []scanner.Match, params Params) (ResolvedAddress, error) {
	fail := func(err error) (ResolvedAddress, error) {
		return ResolvedAddress{}, &ResolutionError{Name: name, Matches: len(matches), Err: err}
	}

	if err := params.validate(); err != nil {
		return fail(err)
	}
	switch len(matches) {
	case 0:
		return fail(ErrNoMatch)
	case 1:
	default:
		return fail(ErrAmbiguous)
	}
	m := matches[0]

	anchor := m.Offset
	if len(m.Captures) > 0 {
		if params.Capture >= len(m.Captures) {
			return fail(fmt.Errorf("capture %d of %d: %w", params.Capture, len(m.Captures), ErrBadParams))
		}
		anchor = m.Captures[params.Capture].Offset
	}

	result := ResolvedAddress{Name: name, Mode: params.Mode, Match: m}

	if params.Mode == Direct {
		result.Address = img.Address(anchor + params.FieldOffset)
		return result, nil
	}

	field := anchor + params.FieldOffset
	width := params.width()
	if field < 0 || field+width > len(img.Data) {
		return fail(fmt.Errorf("field at %d+%d, buffer %d: %w", field, width, len(img.Data), ErrOutOfBounds))
	}
	disp, err := process.Displacement(img.Data[field : field+width])
	if err != nil {
		return fail(err)
	}

	target := img.Address(anchor + params.instructionEnd()).Add(disp)
	if params.Mode == Relative {
		result.Address = target
		return result, nil
	}

	if !img.IsLive() {
		return fail(fmt.Errorf("%s is not backed by a running process: %w", img.Name, ErrUnresolvedIndirection))
	}
	ptr, err := process.ReadPath(img.View, target, params.PointerOffset, 0)
	if err != nil {
		return fail(fmt.Errorf("%w: %w", ErrUnresolvedIndirection, err))
	}

	result.Address = ptr
	return result, nil
}
