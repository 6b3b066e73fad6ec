//go:build windows

package image_source

import (
	"fmt"
	"os"

	"aobpatch/process"
	"aobpatch/process_windows"
)

// OpenProcess opens the main module of this process. Other processes and
// modules are not supported on Windows.
func OpenProcess(pid int, module string) (*Source, error) {
	if pid != 0 && pid != os.Getpid() {
		return nil, fmt.Errorf("pid %d: only the current process can be opened on windows: %w", pid, process.ErrProcessNotOpen)
	}
	if module != "" {
		return nil, fmt.Errorf("module %q: only the main module can be opened on windows", module)
	}

	p, err := process_windows.Self()
	if err != nil {
		return nil, err
	}
	img, err := p.MainModuleImage()
	if err != nil {
		return nil, err
	}
	return &Source{Image: img}, nil
}

// OpenRegions is not supported on Windows
func OpenRegions(pid int, module string) (*Regions, error) {
	return nil, fmt.Errorf("pid %d: region scans are not supported on windows: %w", pid, process.ErrProcessNotOpen)
}
