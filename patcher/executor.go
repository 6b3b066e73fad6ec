package patcher

import (
	"bytes"
	"fmt"

	"aobpatch/process"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

// State is where a command ended up
type State int

const (
	Pending State = iota
	Verified
	Applied
	Skipped
	Rejected
	// Failed: the baseline matched but the OS refused the protection change or the write
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Verified:
		return "verified"
	case Applied:
		return "applied"
	case Skipped:
		return "skipped"
	case Rejected:
		return "rejected"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Outcome records what happened to one command
type Outcome struct {
	Index   int
	Name    string
	State   State
	Address process.ProcessMemoryAddress
	// Previous is the protection in effect before the write, for Applied
	Previous process.Protection
	Err      error
}

// Executor runs commands against the memory behind an image
type Executor struct {
	restoreProtection bool
	dryRun            bool
	log               *logger.Logger
}

// Option is a function that configures an Executor
type Option func(*Executor)

// WithRestoreProtection puts the original protection back after each write.
// Off by default: the patched code stays RWX.
func WithRestoreProtection(restore bool) Option {
	return func(e *Executor) {
		e.restoreProtection = restore
	}
}

// WithDryRun stops every command once its baseline is verified
func WithDryRun(dryRun bool) Option {
	return func(e *Executor) {
		e.dryRun = dryRun
	}
}

func WithLogger(log *logger.Logger) Option {
	return func(e *Executor) {
		e.log = log
	}
}

func NewExecutor(options ...Option) *Executor {
	e := &Executor{}
	for _, opt := range options {
		opt(e)
	}
	if e.log == nil {
		e.log = logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "patcher"))
	}
	return e
}

type located struct {
	addr process.ProcessMemoryAddress
	err  error
}

// Run processes every command once, in order. A command that is skipped,
// rejected or fails never stops the ones after it. Nothing is retried and
// nothing is rolled back.
func (e *Executor) Run(img *process.Image, commands []Command, toggles Toggles) []Outcome {
	if toggles == nil {
		toggles = AllEnabled
	}

	cache := make(map[string]located)
	outcomes := make([]Outcome, 0, len(commands))
	for i, cmd := range commands {
		o := e.apply(img, i, cmd, toggles, cache)
		e.report(o)
		outcomes = append(outcomes, o)
	}

	counts := Summary(outcomes)
	e.log.Infoln("Patching done:", counts[Applied], "applied,", counts[Verified], "verified,", counts[Skipped], "skipped,",
		counts[Rejected], "rejected,", counts[Failed], "failed")
	return outcomes
}

func (e *Executor) apply(img *process.Image, index int, cmd Command, toggles Toggles, cache map[string]located) Outcome {
	o := Outcome{Index: index, Name: cmd.name, State: Pending}

	if !toggles.Enabled(index, cmd.name) {
		o.State = Skipped
		return o
	}

	if err := cmd.validate(); err != nil {
		o.State, o.Err = Rejected, err
		return o
	}

	key := cmd.target.Key()
	loc, ok := cache[key]
	if !ok {
		loc.addr, loc.err = cmd.target.Locate(img)
		cache[key] = loc
	}
	if loc.err != nil {
		o.State, o.Err = Rejected, loc.err
		return o
	}
	o.Address = loc.addr

	view := img.View
	if view == nil {
		o.State, o.Err = Rejected, fmt.Errorf("%s: image %s has no memory view: %w", cmd.name, img.Name, process.ErrProcessNotOpen)
		return o
	}

	span := len(cmd.expected)
	if len(cmd.replacement) > span {
		span = len(cmd.replacement)
	}
	if !process.RangeMapped(view, o.Address, process.ProcessMemorySize(span)) {
		o.State, o.Err = Rejected, fmt.Errorf("%s: %s+%d: %w", cmd.name, o.Address.ToString(), span, process.ErrAddressNotMapped)
		return o
	}

	current, err := view.ReadMemory(o.Address, process.ProcessMemorySize(len(cmd.expected)))
	if err != nil {
		o.State, o.Err = Rejected, fmt.Errorf("%s: read baseline: %w", cmd.name, err)
		return o
	}
	if !bytes.Equal(current, cmd.expected) {
		mismatch := &BaselineMismatchError{Address: o.Address, Found: current}
		for j := range current {
			if current[j] != cmd.expected[j] {
				mismatch.Index, mismatch.Expected, mismatch.Actual = j, cmd.expected[j], current[j]
				break
			}
		}
		o.State, o.Err = Rejected, mismatch
		return o
	}
	o.State = Verified
	if e.dryRun {
		return o
	}

	size := process.ProcessMemorySize(len(cmd.replacement))
	saved, err := unprotect(view, o.Address, size)
	if err != nil {
		if e.restoreProtection {
			e.restore(view, saved)
		}
		o.State, o.Err = Failed, &ProtectionChangeError{Address: o.Address, Err: err}
		return o
	}
	o.Previous = saved[0].prot

	if err := view.WriteMemory(o.Address, cmd.replacement); err != nil {
		o.State, o.Err = Failed, fmt.Errorf("%s: write: %w", cmd.name, err)
		return o
	}
	o.State = Applied

	if e.restoreProtection {
		e.restore(view, saved)
	}
	return o
}

// pageProtection is the protection one page of a write range had before it
// was made writable
type pageProtection struct {
	addr process.ProcessMemoryAddress
	size process.ProcessMemorySize
	prot process.Protection
}

// unprotect makes [addr, addr+size) RWX one page at a time so that each page
// keeps its own previous protection
func unprotect(view process.MemoryView, addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]pageProtection, error) {
	var saved []pageProtection
	end := addr + process.ProcessMemoryAddress(size)
	for a := addr; a < end; {
		next := (a &^ (process.PageSize - 1)) + process.PageSize
		if next > end || next < a {
			next = end
		}
		n := process.ProcessMemorySize(next - a)
		prev, err := view.Protect(a, n, process.ProtReadWriteExec)
		if err != nil {
			return saved, err
		}
		saved = append(saved, pageProtection{addr: a, size: n, prot: prev})
		a = next
	}
	return saved, nil
}

func (e *Executor) restore(view process.MemoryView, saved []pageProtection) {
	for _, p := range saved {
		if p.prot == process.ProtReadWriteExec {
			continue
		}
		if _, err := view.Protect(p.addr, p.size, p.prot); err != nil {
			e.log.Warn("Could not restore protection ", p.prot.String(), " at ", p.addr.ToString(), ": ", err)
		}
	}
}

func (e *Executor) report(o Outcome) {
	name := coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, o.Name)
	switch o.State {
	case Verified:
		e.log.Infoln("Verified", name, "at", o.Address.ToString())
	case Applied:
		e.log.Infoln("Applied", name, "at", o.Address.ToString())
	case Skipped:
		e.log.Infoln("Skipped", name, "(disabled)")
	case Rejected:
		e.log.Warn("Rejected ", name, ": ", o.Err)
	case Failed:
		e.log.Warn(coloransi.Color(coloransi.BrightWhite, coloransi.Red, severityLabel(o.State)), " ", name, ": ", o.Err)
	}
}

// severityLabel is the level a finished command is logged at
func severityLabel(s State) string {
	switch s {
	case Failed:
		return "ERROR"
	case Rejected:
		return "WARN"
	}
	return "INFO"
}

// Summary counts outcomes per state
func Summary(outcomes []Outcome) map[State]int {
	counts := make(map[State]int)
	for _, o := range outcomes {
		counts[o.State]++
	}
	return counts
}
