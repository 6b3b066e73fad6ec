//go:build windows

package process_windows

import (
	"fmt"
	"sync"
	"unsafe"

	"aobpatch/process"
	"aobpatch/process/memory_map"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	"golang.org/x/sys/windows"
)

// SelfProcess is a process.MemoryView over the current process. Every access
// is checked against the VirtualQuery region list before memory is touched.
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
	mm, err := memory_map.ReadMemoryMap()
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

func (p *SelfProcess) regionsInternal(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]memory_map.MemoryMapItem, error) {
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

func (p *SelfProcess) ReadMemory(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	p.mu.Lock()
	regions, err := p.regionsInternal(addr, size)
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	for _, r := range regions {
		if !r.IsReadable() {
			return nil, fmt.Errorf("region %x is not readable: %w", r.Address, process.ErrAddressNotMapped)
		}
	}

	buf := make([]byte, size)
	copy(buf, view(addr, size))
	return buf, nil
}

func (p *SelfProcess) WriteMemory(addr process.ProcessMemoryAddress, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	p.mu.Lock()
	regions, err := p.regionsInternal(addr, process.ProcessMemorySize(len(data)))
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

func toPageProtect(prot process.Protection) uint32 {
	switch {
	case prot.Has(process.ProtReadWriteExec):
		return windows.PAGE_EXECUTE_READWRITE
	case prot.Has(process.ProtReadExec):
		return windows.PAGE_EXECUTE_READ
	case prot.Has(process.ProtExec):
		return windows.PAGE_EXECUTE
	case prot.Has(process.ProtReadWrite):
		return windows.PAGE_READWRITE
	case prot.Has(process.ProtRead):
		return windows.PAGE_READONLY
	}
	return windows.PAGE_NOACCESS
}

// Protect changes page protection with VirtualProtect and refreshes the region list
func (p *SelfProcess) Protect(addr process.ProcessMemoryAddress, size process.ProcessMemorySize, prot process.Protection) (process.Protection, error) {
	if size == 0 {
		size = 1
	}

	var old uint32
	if err := windows.VirtualProtect(uintptr(addr), uintptr(size), toPageProtect(prot), &old); err != nil {
		return process.ProtNone, fmt.Errorf("VirtualProtect %s+%d %s: %w", addr.ToString(), size, prot, err)
	}

	p.log.Debugln("Protection of", addr.ToString(), "changed to", prot.String())

	if err := p.UpdateMemoryMap(); err != nil {
		return process.ParseProtection(memory_map.PermsFromProtect(old)), err
	}
	return process.ParseProtection(memory_map.PermsFromProtect(old)), nil
}

// MainModuleImage returns an image over the executable that started the
// process. The image aliases live memory.
func (p *SelfProcess) MainModuleImage() (*process.Image, error) {
	var module windows.Handle
	if err := windows.GetModuleHandleEx(0, nil, &module); err != nil {
		return nil, fmt.Errorf("GetModuleHandleEx: %w", err)
	}

	var info windows.ModuleInfo
	if err := windows.GetModuleInformation(windows.CurrentProcess(), module, &info, uint32(unsafe.Sizeof(info))); err != nil {
		return nil, fmt.Errorf("GetModuleInformation: %w", err)
	}

	var nameBuf [windows.MAX_PATH]uint16
	name := "main"
	if n, err := windows.GetModuleFileName(module, &nameBuf[0], uint32(len(nameBuf))); err == nil && n > 0 {
		name = windows.UTF16ToString(nameBuf[:n])
	}

	p.log.Infoln("Module", name, "at", fmt.Sprintf("0x%x", info.BaseOfDll), "size", info.SizeOfImage)

	base := process.ProcessMemoryAddress(info.BaseOfDll)
	return &process.Image{
		Name: name,
		Base: base,
		Data: view(base, process.ProcessMemorySize(info.SizeOfImage)),
		View: p,
	}, nil
}
