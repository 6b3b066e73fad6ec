// Package config loads YAML command tables: named targets to locate, patch
// commands against them, and the toggles that enable each command.
package config

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"aobpatch/patcher"
	"aobpatch/resolver"
	"aobpatch/scanner"

	"gopkg.in/yaml.v3"
)

var ErrConfig = errors.New("invalid command table")

// Hex is a byte string written as hex digits, spaces allowed: "74 05"
type Hex []byte

func (h *Hex) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	buf, err := hex.DecodeString(strings.Join(strings.Fields(s), ""))
	if err != nil {
		return fmt.Errorf("line %d: hex %q: %w", n.Line, s, err)
	}
	*h = buf
	return nil
}

func (h Hex) MarshalYAML() (interface{}, error) {
	return fmt.Sprintf("% X", []byte(h)), nil
}

// Mode accepts "direct", "relative" or "relative-deref"
type Mode resolver.Mode

func (m *Mode) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	mode, err := resolver.ParseMode(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*m = Mode(mode)
	return nil
}

func (m Mode) MarshalYAML() (interface{}, error) {
	return resolver.Mode(m).String(), nil
}

type Target struct {
	Name     string   `yaml:"name"`
	Hex      bool     `yaml:"hex,omitempty"`
	Patterns []string `yaml:"patterns"`

	Mode           Mode  `yaml:"mode,omitempty"`
	Capture        int   `yaml:"capture,omitempty"`
	FieldOffset    int   `yaml:"field_offset,omitempty"`
	InstructionEnd int   `yaml:"instruction_end,omitempty"`
	Width          int   `yaml:"width,omitempty"`
	PointerOffset  int64 `yaml:"pointer_offset,omitempty"`
}

func (t Target) params() resolver.Params {
	return resolver.Params{
		Mode:           resolver.Mode(t.Mode),
		Capture:        t.Capture,
		FieldOffset:    t.FieldOffset,
		InstructionEnd: t.InstructionEnd,
		Width:          t.Width,
		PointerOffset:  t.PointerOffset,
	}
}

// Command names exactly one of Target, Address or RVA
type Command struct {
	Name    string  `yaml:"name"`
	Target  string  `yaml:"target,omitempty"`
	Address *uint64 `yaml:"address,omitempty"`
	RVA     *int64  `yaml:"rva,omitempty"`
	// Offset is added to whatever the locator finds
	Offset int64 `yaml:"offset,omitempty"`

	Expected    Hex  `yaml:"expected"`
	Replacement Hex  `yaml:"replacement"`
	Widen       bool `yaml:"widen,omitempty"`
}

// File is a parsed command table
type File struct {
	Targets  []Target  `yaml:"targets,omitempty"`
	Commands []Command `yaml:"commands"`
	// Enabled is positional. When absent every command is enabled; when
	// present, commands past its end are disabled.
	Enabled []bool `yaml:"toggles,omitempty"`

	targets map[string]*resolver.Target
}

// Load reads and validates the command table at path
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes a command table, rejecting unknown fields, and compiles every
// target pattern so malformed tables fail before anything is scanned
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if err := f.compile(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) compile() error {
	f.targets = make(map[string]*resolver.Target, len(f.Targets))
	for _, t := range f.Targets {
		if t.Name == "" {
			return fmt.Errorf("target without a name: %w", ErrConfig)
		}
		if _, dup := f.targets[t.Name]; dup {
			return fmt.Errorf("target %s defined twice: %w", t.Name, ErrConfig)
		}
		rt, err := resolver.NewTarget(t.Name, t.Hex, t.params(), t.Patterns...)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrConfig, err)
		}
		f.targets[t.Name] = rt
	}

	for i, c := range f.Commands {
		if c.Name == "" {
			return fmt.Errorf("command %d has no name: %w", i, ErrConfig)
		}
		set := 0
		for _, v := range []bool{c.Target != "", c.Address != nil, c.RVA != nil} {
			if v {
				set++
			}
		}
		if set != 1 {
			return fmt.Errorf("command %s needs exactly one of target, address or rva: %w", c.Name, ErrConfig)
		}
		if c.Target != "" && f.targets[c.Target] == nil {
			return fmt.Errorf("command %s: unknown target %q: %w", c.Name, c.Target, ErrConfig)
		}
	}
	return nil
}

// ResolverTargets returns the compiled targets in table order
func (f *File) ResolverTargets() []*resolver.Target {
	out := make([]*resolver.Target, 0, len(f.Targets))
	for _, t := range f.Targets {
		out = append(out, f.targets[t.Name])
	}
	return out
}

// PatchCommands builds the commands. Targets are located with s when run,
// unless cache already holds their outcome. cache may be nil.
func (f *File) PatchCommands(s *scanner.Scanner, cache *resolver.Cache) ([]patcher.Command, error) {
	out := make([]patcher.Command, 0, len(f.Commands))
	for _, c := range f.Commands {
		var loc patcher.Locator
		switch {
		case c.Target != "":
			loc = resolver.Locator{Target: f.targets[c.Target], Scanner: s, Cache: cache}
		case c.Address != nil:
			loc = patcher.At(*c.Address)
		default:
			loc = patcher.RVA(*c.RVA)
		}
		if c.Offset != 0 {
			loc = patcher.Offset{Base: loc, Delta: c.Offset}
		}

		cmd, err := patcher.NewCommand(c.Name, loc, c.Expected, c.Replacement, c.Widen)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfig, err)
		}
		out = append(out, cmd)
	}
	return out, nil
}

// Toggles returns the table's toggles
func (f *File) Toggles() patcher.Toggles {
	if f.Enabled == nil {
		return patcher.AllEnabled
	}
	return patcher.Flags(f.Enabled)
}
