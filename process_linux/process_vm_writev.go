//go:build linux

package process_linux

import (
	"bytes"
	"fmt"

	"aobpatch/process"

	"golang.org/x/sys/unix"
)

// process_vm_writev copies buf to remoteAddr in process pid
func process_vm_writev(pid int, buf []byte, remoteAddr process.ProcessMemoryAddress) (int, error) {
	local := []unix.Iovec{{Base: &buf[0]}}
	local[0].SetLen(len(buf))
	remote := []unix.RemoteIovec{{Base: uintptr(remoteAddr), Len: len(buf)}}

	n, err := unix.ProcessVMWritev(pid, local, remote, 0)
	if err != nil {
		return 0, fmt.Errorf("process_vm_writev: %w", err)
	}
	return n, nil
}

// WriteMemory writes data to the process memory at the specified address
func (p *RemoteProcess) WriteMemory(addr process.ProcessMemoryAddress, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	p.mu.Lock()
	pid := p.pid
	region := p.regionInternal(addr)
	p.mu.Unlock()

	if pid == 0 {
		return process.ErrProcessNotOpen
	}

	if region == nil {
		return fmt.Errorf("memory region not found for address %x: %w", uint64(addr), process.ErrAddressNotMapped)
	}

	if !region.IsWritable() {
		return fmt.Errorf("memory region at %x is not writable: %w", region.Address, process.ErrNotWritable)
	}

	if uint64(addr)+uint64(len(data)) > region.End() {
		return fmt.Errorf("write of %d bytes at %x crosses region end: %w", len(data), uint64(addr), process.ErrAddressNotMapped)
	}

	written, err := process_vm_writev(pid, bytes.Clone(data), addr)
	if err != nil {
		return fmt.Errorf("failed to write process memory: %w", err)
	}

	if written != len(data) {
		return fmt.Errorf("partial write at %s: %d of %d bytes", addr.ToString(), written, len(data))
	}

	return nil
}
