//go:build linux

package process_linux

import (
	"fmt"
	"sync"
	"unsafe"

	"aobpatch/process"
	"aobpatch/process/memory_map"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	"golang.org/x/sys/unix"
)

// SelfProcess is a process.MemoryView over the current process. Every access
// is checked against /proc/self/maps before the memory is touched.
type SelfProcess struct {
	log *logger.Logger
	mm  []memory_map.MemoryMapItem
	mu  sync.Mutex
}

var _ process.MemoryView = (*SelfProcess)(nil)

// Self opens the current process
func Self() (*SelfProcess, error) {
	p := &SelfProcess{
		log: logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "process-self")),
	}
	if err := p.UpdateMemoryMap(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *SelfProcess) IsLive() bool {
	return true
}

func (p *SelfProcess) UpdateMemoryMap() error {
	mm, err := memory_map.ReadMemoryMap(0)
	if err != nil {
		return fmt.Errorf("failed to read memory map: %w", err)
	}

	p.mu.Lock()
	p.mm = mm
	p.mu.Unlock()
	return nil
}

func (p *SelfProcess) IsValidAddress(addr process.ProcessMemoryAddress) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	item := memory_map.FindRegion(uint64(addr), p.mm)
	return item != nil && item.IsReadable()
}

// spanInternal returns the regions covering [addr, addr+size); they must be contiguous
func (p *SelfProcess) spanInternal(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]memory_map.MemoryMapItem, error) {
	var out []memory_map.MemoryMapItem
	end := uint64(addr) + uint64(size)
	for a := uint64(addr); a < end || len(out) == 0; {
		item := memory_map.FindRegion(a, p.mm)
		if item == nil {
			return nil, fmt.Errorf("%x: %w", a, process.ErrAddressNotMapped)
		}
		out = append(out, *item)
		a = item.End()
	}
	return out, nil
}

func view(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), int(size))
}

// ReadMemory copies size bytes from addr
func (p *SelfProcess) ReadMemory(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	p.mu.Lock()
	regions, err := p.spanInternal(addr, size)
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	for _, r := range regions {
		if !r.IsReadable() {
			return nil, fmt.Errorf("region %x is not readable: %w", r.Address, process.ErrAddressNotMapped)
		}
	}

	result := make([]byte, size)
	copy(result, view(addr, size))
	return result, nil
}

// WriteMemory writes data at addr; every touched region must already be writable
func (p *SelfProcess) WriteMemory(addr process.ProcessMemoryAddress, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	p.mu.Lock()
	regions, err := p.spanInternal(addr, process.ProcessMemorySize(len(data)))
	p.mu.Unlock()
	if err != nil {
		return err
	}
	for _, r := range regions {
		if !r.IsWritable() {
			return fmt.Errorf("region %x is not writable: %w", r.Address, process.ErrNotWritable)
		}
	}

	copy(view(addr, process.ProcessMemorySize(len(data))), data)
	return nil
}

func toUnixProt(prot process.Protection) int {
	out := unix.PROT_NONE
	if prot.Has(process.ProtRead) {
		out |= unix.PROT_READ
	}
	if prot.Has(process.ProtWrite) {
		out |= unix.PROT_WRITE
	}
	if prot.Has(process.ProtExec) {
		out |= unix.PROT_EXEC
	}
	return out
}

// Protect changes the protection of the pages covering [addr, addr+size)
// and refreshes the cached memory map
func (p *SelfProcess) Protect(addr process.ProcessMemoryAddress, size process.ProcessMemorySize, prot process.Protection) (process.Protection, error) {
	p.mu.Lock()
	regions, err := p.spanInternal(addr, size)
	p.mu.Unlock()
	if err != nil {
		return process.ProtNone, err
	}
	old := process.ParseProtection(regions[0].Perms)

	pageSize := process.ProcessMemoryAddress(unix.Getpagesize())
	start := addr &^ (pageSize - 1)
	end := (addr + process.ProcessMemoryAddress(size) + pageSize - 1) &^ (pageSize - 1)
	if end == start {
		end = start + pageSize
	}

	if err := unix.Mprotect(view(start, process.ProcessMemorySize(end-start)), toUnixProt(prot)); err != nil {
		return old, fmt.Errorf("mprotect %s-%s %s: %w", start.ToString(), end.ToString(), prot, err)
	}

	p.log.Debugln("Protection of", start.ToString(), "changed from", old.String(), "to", prot.String())

	if err := p.UpdateMemoryMap(); err != nil {
		return old, err
	}
	return old, nil
}

// ModuleImage returns an image over the mapped module: the run of
// contiguous readable mappings starting at the module's first mapping.
// The image aliases live memory.
func (p *SelfProcess) ModuleImage(module string) (*process.Image, error) {
	p.mu.Lock()
	regions := memory_map.ModuleRegions(module, p.mm)
	p.mu.Unlock()

	if len(regions) == 0 {
		return nil, fmt.Errorf("module %q not mapped: %w", module, process.ErrAddressNotMapped)
	}

	base, end := memory_map.ContiguousSpan(regions)
	if end == base {
		return nil, fmt.Errorf("module %q has no readable mapping at its base", module)
	}

	p.log.Infoln("Module", module, "at", fmt.Sprintf("0x%x", base), "size", end-base)

	return &process.Image{
		Name: module,
		Base: process.ProcessMemoryAddress(base),
		Data: view(process.ProcessMemoryAddress(base), process.ProcessMemorySize(end-base)),
		View: p,
	}, nil
}
