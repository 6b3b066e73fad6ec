package patcher

// Toggles decides whether the command at a position is enabled
type Toggles interface {
	Enabled(index int, name string) bool
}

// Flags enables commands positionally; commands past the end are disabled
type Flags []bool

func (f Flags) Enabled(index int, _ string) bool {
	return index >= 0 && index < len(f) && f[index]
}

type allEnabled struct{}

func (allEnabled) Enabled(int, string) bool { return true }

// AllEnabled enables every command
var AllEnabled Toggles = allEnabled{}
