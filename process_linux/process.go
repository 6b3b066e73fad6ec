//go:build linux

package process_linux

import (
	"fmt"
	"os"
	"sync"

	"aobpatch/process"
	"aobpatch/process/memory_map"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

// RemoteProcess is a process.MemoryView over another process, using
// process_vm_readv and process_vm_writev. It cannot change the protection of
// the target's pages.
type RemoteProcess struct {
	pid int
	log *logger.Logger
	mm  []memory_map.MemoryMapItem
	mu  sync.Mutex
}

var _ process.MemoryView = (*RemoteProcess)(nil)

// Remote opens the process with the given pid
func Remote(pid int) (*RemoteProcess, error) {
	// Check if process exists
	procPath := fmt.Sprintf("/proc/%d", pid)
	if _, err := os.Stat(procPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("process with PID %d does not exist", pid)
	}

	p := &RemoteProcess{
		pid: pid,
		log: logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, fmt.Sprintf("process-%d", pid))),
	}

	if err := p.UpdateMemoryMap(); err != nil {
		return nil, fmt.Errorf("failed to initialize memory map: %w", err)
	}

	p.log.Infoln("Process opened,", len(p.mm), "regions")

	return p, nil
}

func (p *RemoteProcess) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pid = 0
	p.mm = nil
	p.log.Infoln("Process closed")
	return nil
}

func (p *RemoteProcess) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

func (p *RemoteProcess) IsLive() bool {
	return p.PID() != 0
}

func (p *RemoteProcess) UpdateMemoryMap() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pid == 0 {
		return process.ErrProcessNotOpen
	}

	mm, err := memory_map.ReadMemoryMap(p.pid)
	if err != nil {
		return fmt.Errorf("failed to read memory map: %w", err)
	}

	p.mm = mm
	return nil
}

// GetMemoryMap returns a copy of the current memory map
func (p *RemoteProcess) GetMemoryMap() ([]memory_map.MemoryMapItem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pid == 0 {
		return nil, process.ErrProcessNotOpen
	}

	result := make([]memory_map.MemoryMapItem, len(p.mm))
	copy(result, p.mm)
	return result, nil
}

func (p *RemoteProcess) IsValidAddress(addr process.ProcessMemoryAddress) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.regionInternal(addr) != nil
}

// Internal helper function that assumes the mutex is already locked
func (p *RemoteProcess) regionInternal(addr process.ProcessMemoryAddress) *memory_map.MemoryMapItem {
	if addr <= 0x10000 {
		return nil
	}

	if item := memory_map.FindRegion(uint64(addr), p.mm); item != nil && item.IsReadable() {
		return item
	}

	return nil
}

// Protect cannot alter another process's pages from here; it succeeds only
// when the region already grants prot
func (p *RemoteProcess) Protect(addr process.ProcessMemoryAddress, size process.ProcessMemorySize, prot process.Protection) (process.Protection, error) {
	p.mu.Lock()
	region := p.regionInternal(addr)
	p.mu.Unlock()

	if region == nil {
		return process.ProtNone, process.ErrAddressNotMapped
	}

	current := process.ParseProtection(region.Perms)
	if current.Has(prot) {
		return current, nil
	}

	return current, fmt.Errorf("region %x is %s, need %s: %w", region.Address, current, prot, process.ErrProtectUnsupported)
}
