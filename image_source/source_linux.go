//go:build linux

package image_source

import (
	"fmt"
	"os"
	"path/filepath"

	"aobpatch/process_linux"
)

// OpenProcess snapshots module of process pid. Pid 0 is this process, whose
// image aliases live memory. An empty module means the main executable.
func OpenProcess(pid int, module string) (*Source, error) {
	if module == "" {
		exe, err := os.Readlink(fmt.Sprintf("/proc/%s/exe", procName(pid)))
		if err != nil {
			return nil, fmt.Errorf("main executable of %d: %w", pid, err)
		}
		module = filepath.Base(exe)
	}

	if pid == 0 || pid == os.Getpid() {
		p, err := process_linux.Self()
		if err != nil {
			return nil, err
		}
		img, err := p.ModuleImage(module)
		if err != nil {
			return nil, err
		}
		return &Source{Image: img}, nil
	}

	p, err := process_linux.Remote(pid)
	if err != nil {
		return nil, err
	}
	img, err := p.ModuleImage(module)
	if err != nil {
		p.Close()
		return nil, err
	}
	return &Source{Image: img, closer: p.Close}, nil
}

func procName(pid int) string {
	if pid == 0 {
		return "self"
	}
	return fmt.Sprint(pid)
}

// OpenRegions snapshots every readable region of process pid, or only the
// regions backed by module when it is set. Pid 0 is this process.
func OpenRegions(pid int, module string) (*Regions, error) {
	if pid == 0 {
		pid = os.Getpid()
	}
	p, err := process_linux.Remote(pid)
	if err != nil {
		return nil, err
	}
	images, err := p.Images(module)
	if err != nil {
		p.Close()
		return nil, err
	}
	return &Regions{Images: images, closer: p.Close}, nil
}
