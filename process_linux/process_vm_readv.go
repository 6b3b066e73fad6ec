//go:build linux

package process_linux

import (
	"fmt"

	"aobpatch/process"

	"golang.org/x/sys/unix"
)

// process_vm_readv copies size bytes at remoteAddr out of process pid
func process_vm_readv(pid int, remoteAddr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	buf := make([]byte, size)
	if size == 0 {
		return buf, nil
	}

	local := []unix.Iovec{{Base: &buf[0]}}
	local[0].SetLen(len(buf))
	remote := []unix.RemoteIovec{{Base: uintptr(remoteAddr), Len: len(buf)}}

	n, err := unix.ProcessVMReadv(pid, local, remote, 0)
	if err != nil {
		return nil, fmt.Errorf("process_vm_readv: %w", err)
	}
	if n != len(buf) {
		return buf[:n], fmt.Errorf("partial read: %d of %d bytes", n, len(buf))
	}
	return buf, nil
}

// ReadMemory reads memory from the process at the specified address
func (p *RemoteProcess) ReadMemory(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	p.mu.Lock()
	pid := p.pid
	valid := p.regionInternal(addr) != nil
	p.mu.Unlock()

	if pid == 0 {
		return nil, process.ErrProcessNotOpen
	}

	if !valid {
		return nil, process.ErrAddressNotMapped
	}

	data, err := process_vm_readv(pid, addr, size)
	if err != nil {
		return nil, fmt.Errorf("failed to read process memory at %s: %w", addr.ToString(), err)
	}

	return data, nil
}
