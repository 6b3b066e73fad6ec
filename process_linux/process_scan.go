//go:build linux

package process_linux

import (
	"fmt"

	"aobpatch/process"
	"aobpatch/process/memory_map"
)

// upperLimit skips the vsyscall/vdso area at the top of the address space
const upperLimit = uint64(0x7d0000000000)

// Images snapshots the readable regions of the process. When module is not
// empty only regions backed by that file are returned. Regions that fail to
// read are skipped.
func (p *RemoteProcess) Images(module string) ([]*process.Image, error) {
	memMap, err := p.GetMemoryMap()
	if err != nil {
		return nil, fmt.Errorf("failed to get memory map: %w", err)
	}

	if module != "" {
		memMap = memory_map.ModuleRegions(module, memMap)
		if len(memMap) == 0 {
			return nil, fmt.Errorf("module %q not mapped: %w", module, process.ErrAddressNotMapped)
		}
	}

	var images []*process.Image
	for _, region := range memMap {
		if !region.IsReadable() || region.Address > upperLimit {
			continue
		}

		data, err := p.ReadMemory(process.ProcessMemoryAddress(region.Address), process.ProcessMemorySize(region.Size))
		if err != nil {
			p.log.Debugln("Failed to read memory region at", fmt.Sprintf("%x", region.Address), err)
			continue
		}

		name := region.Path
		if name == "" {
			name = "anon"
		}
		images = append(images, &process.Image{
			Name: name,
			Base: process.ProcessMemoryAddress(region.Address),
			Data: data,
			View: p,
		})
	}

	p.log.Infoln("Snapshot", len(images), "regions")
	return images, nil
}

// ModuleImage snapshots the module's contiguous readable mappings into one
// image based at the module's load address
func (p *RemoteProcess) ModuleImage(module string) (*process.Image, error) {
	memMap, err := p.GetMemoryMap()
	if err != nil {
		return nil, fmt.Errorf("failed to get memory map: %w", err)
	}

	base, end := memory_map.ContiguousSpan(memory_map.ModuleRegions(module, memMap))
	if end == base {
		return nil, fmt.Errorf("module %q not mapped readable: %w", module, process.ErrAddressNotMapped)
	}

	data, err := p.ReadMemory(process.ProcessMemoryAddress(base), process.ProcessMemorySize(end-base))
	if err != nil {
		return nil, fmt.Errorf("failed to read module %q: %w", module, err)
	}

	p.log.Infoln("Module", module, "at", fmt.Sprintf("0x%x", base), "size", end-base)
	return &process.Image{
		Name: module,
		Base: process.ProcessMemoryAddress(base),
		Data: data,
		View: p,
	}, nil
}
