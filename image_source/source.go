// Package image_source opens the image a command works on: a module of a
// running process or an executable file.
package image_source

import (
	"errors"
	"fmt"

	"aobpatch/process"
	"aobpatch/process_file"
)

var ErrNotAFile = errors.New("image is not backed by a file")

// Source is an opened image and whatever must be released with it
type Source struct {
	Image *process.Image

	file   *process_file.File
	closer func() error
}

// OpenFile opens an executable on disk. Patches stay in memory until Save.
func OpenFile(path string) (*Source, error) {
	f, err := process_file.Open(path)
	if err != nil {
		return nil, err
	}
	return &Source{Image: f.Image(), file: f, closer: f.Close}, nil
}

// Open opens file when it is set, and the process otherwise
func Open(pid int, module, file string) (*Source, error) {
	if file != "" {
		if pid != 0 || module != "" {
			return nil, fmt.Errorf("a file cannot be combined with a pid or module")
		}
		return OpenFile(file)
	}
	return OpenProcess(pid, module)
}

// IsFile reports whether Save can be used
func (s *Source) IsFile() bool {
	return s.file != nil
}

// Save writes the patched file to path
func (s *Source) Save(path string) error {
	if s.file == nil {
		return ErrNotAFile
	}
	return s.file.WriteTo(path)
}

func (s *Source) Close() error {
	if s.closer == nil {
		return nil
	}
	err := s.closer()
	s.closer = nil
	return err
}

// Regions is a snapshot of the readable regions of a process, one image per
// region
type Regions struct {
	Images []*process.Image

	closer func() error
}

func (r *Regions) Close() error {
	if r.closer == nil {
		return nil
	}
	err := r.closer()
	r.closer = nil
	return err
}
