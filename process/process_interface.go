package process

// PageSize is the protection granularity assumed when walking a range
const PageSize = 0x1000

// MemoryView is a bounded window onto process memory. Implementations return
// errors instead of faulting, so callers never dereference raw addresses.
type MemoryView interface {
	// ReadMemory reads size bytes starting at addr
	ReadMemory(addr ProcessMemoryAddress, size ProcessMemorySize) ([]byte, error)

	// WriteMemory writes data starting at addr
	WriteMemory(addr ProcessMemoryAddress, data []byte) error

	// Protect sets the protection of every page overlapping [addr, addr+size)
	// and returns the protection previously in effect at addr
	Protect(addr ProcessMemoryAddress, size ProcessMemorySize, prot Protection) (Protection, error)

	// IsValidAddress checks if the given memory address is mapped and readable
	IsValidAddress(addr ProcessMemoryAddress) bool

	// IsLive reports whether the view is backed by a currently mapped process,
	// which is what makes following a pointer found in it meaningful
	IsLive() bool
}

// RangeMapped reports whether every byte of [addr, addr+size) is readable in view.
// Checks the first and last byte, plus every page boundary in between.
func RangeMapped(view MemoryView, addr ProcessMemoryAddress, size ProcessMemorySize) bool {
	if size == 0 {
		return view.IsValidAddress(addr)
	}
	last := addr + ProcessMemoryAddress(size) - 1
	if last < addr {
		return false
	}
	for a := addr; ; {
		if !view.IsValidAddress(a) {
			return false
		}
		if a >= last {
			return true
		}
		next := (a &^ (PageSize - 1)) + PageSize
		if next > last || next < a {
			a = last
		} else {
			a = next
		}
	}
}
