// Package process_file exposes an executable on disk as if it were loaded:
// PE sections are laid out at their virtual addresses above the preferred
// image base. Other files are exposed raw at address zero.
package process_file

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"aobpatch/process"
	"aobpatch/process_blob"

	"github.com/edsrzf/mmap-go"
	"github.com/saferwall/pe"
)

var ErrEmptyFile = errors.New("empty file")

const (
	scnMemExecute = 0x20000000
	scnMemRead    = 0x40000000
	scnMemWrite   = 0x80000000
)

// Section is where a PE section's bytes live in the file and in the image
type Section struct {
	Name           string
	VirtualAddress uint32
	VirtualSize    uint32
	RawOffset      uint32
	RawSize        uint32
	Prot           process.Protection
}

// span is the number of bytes carried between file and image
func (s Section) span() uint32 {
	if s.VirtualSize != 0 && s.VirtualSize < s.RawSize {
		return s.VirtualSize
	}
	return s.RawSize
}

// File is an opened executable. The image is a private copy, so patches
// never reach the file until WriteTo.
type File struct {
	Path     string
	Base     process.ProcessMemoryAddress
	Sections []Section
	// IsPE is false for files exposed raw
	IsPE bool

	raw  mmap.MMap
	fh   *os.File
	view *process_blob.BlobView
	img  *process.Image
}

// Open maps path read-only and lays it out
func Open(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := fh.Stat()
	if err != nil {
		fh.Close()
		return nil, err
	}
	if st.Size() == 0 {
		fh.Close()
		return nil, fmt.Errorf("%s: %w", path, ErrEmptyFile)
	}

	raw, err := mmap.Map(fh, mmap.RDONLY, 0)
	if err != nil {
		fh.Close()
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}

	f := &File{Path: path, raw: raw, fh: fh}
	if err := f.load(); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func (f *File) load() error {
	if len(f.raw) < 2 || f.raw[0] != 'M' || f.raw[1] != 'Z' {
		data := make([]byte, len(f.raw))
		copy(data, f.raw)
		f.view = process_blob.NewProcessBlob(0, data)
		f.img = &process.Image{Name: f.Path, Base: 0, Data: data, View: f.view}
		return nil
	}

	pf, err := pe.NewBytes(f.raw, &pe.Options{Fast: true})
	if err != nil {
		return fmt.Errorf("%s: %w", f.Path, err)
	}
	// pf aliases f.raw; closing it would unmap our mapping
	if err := pf.Parse(); err != nil {
		return fmt.Errorf("parse %s: %w", f.Path, err)
	}

	var imageBase uint64
	var sizeOfImage, sizeOfHeaders uint32
	switch oh := pf.NtHeader.OptionalHeader.(type) {
	case pe.ImageOptionalHeader64:
		imageBase, sizeOfImage, sizeOfHeaders = oh.ImageBase, oh.SizeOfImage, oh.SizeOfHeaders
	case *pe.ImageOptionalHeader64:
		imageBase, sizeOfImage, sizeOfHeaders = oh.ImageBase, oh.SizeOfImage, oh.SizeOfHeaders
	case pe.ImageOptionalHeader32:
		imageBase, sizeOfImage, sizeOfHeaders = uint64(oh.ImageBase), oh.SizeOfImage, oh.SizeOfHeaders
	case *pe.ImageOptionalHeader32:
		imageBase, sizeOfImage, sizeOfHeaders = uint64(oh.ImageBase), oh.SizeOfImage, oh.SizeOfHeaders
	default:
		return fmt.Errorf("%s: no optional header", f.Path)
	}

	for _, s := range pf.Sections {
		h := s.Header
		f.Sections = append(f.Sections, Section{
			Name:           strings.TrimRight(string(h.Name[:]), "\x00"),
			VirtualAddress: h.VirtualAddress,
			VirtualSize:    h.VirtualSize,
			RawOffset:      h.PointerToRawData,
			RawSize:        h.SizeOfRawData,
			Prot:           sectionProtection(h.Characteristics),
		})
	}

	data, err := layout(f.raw, sizeOfImage, sizeOfHeaders, f.Sections)
	if err != nil {
		return fmt.Errorf("%s: %w", f.Path, err)
	}

	f.IsPE = true
	f.Base = process.ProcessMemoryAddress(imageBase)
	f.view = process_blob.NewProcessBlob(f.Base, data)
	for _, s := range f.Sections {
		if s.Prot == process.ProtNone {
			continue
		}
		size := process.ProcessMemorySize(max(s.VirtualSize, s.RawSize))
		if _, err := f.view.Protect(f.Base.Add(int64(s.VirtualAddress)), size, s.Prot); err != nil {
			return fmt.Errorf("section %s: %w", s.Name, err)
		}
	}
	f.img = &process.Image{Name: f.Path, Base: f.Base, Data: data, View: f.view}
	return nil
}

func sectionProtection(characteristics uint32) process.Protection {
	prot := process.ProtNone
	if characteristics&scnMemRead != 0 {
		prot |= process.ProtRead
	}
	if characteristics&scnMemWrite != 0 {
		prot |= process.ProtWrite
	}
	if characteristics&scnMemExecute != 0 {
		prot |= process.ProtExec
	}
	return prot
}

// layout builds the loaded image: headers at 0, each section at its virtual address
func layout(raw []byte, sizeOfImage, sizeOfHeaders uint32, sections []Section) ([]byte, error) {
	size := uint64(sizeOfImage)
	for _, s := range sections {
		size = max(size, uint64(s.VirtualAddress)+uint64(max(s.VirtualSize, s.RawSize)))
	}
	if size == 0 {
		return nil, errors.New("image has no size")
	}

	data := make([]byte, size)
	copy(data, raw[:min(uint64(sizeOfHeaders), uint64(len(raw)))])
	for _, s := range sections {
		n := uint64(s.span())
		if uint64(s.RawOffset)+n > uint64(len(raw)) {
			return nil, fmt.Errorf("section %s raw data 0x%X+0x%X past end of file", s.Name, s.RawOffset, n)
		}
		copy(data[s.VirtualAddress:], raw[uint64(s.RawOffset):uint64(s.RawOffset)+n])
	}
	return data, nil
}

// unlayout copies image bytes back over a copy of raw, section by section
func unlayout(raw, image []byte, sections []Section) []byte {
	out := make([]byte, len(raw))
	copy(out, raw)
	for _, s := range sections {
		n := uint64(s.span())
		copy(out[s.RawOffset:uint64(s.RawOffset)+n], image[s.VirtualAddress:])
	}
	return out
}

// Image returns the laid-out image. Its view is writable after Protect but
// never live: pointers in a file refer to nothing.
func (f *File) Image() *process.Image {
	return f.img
}

// Section returns the section containing addr
func (f *File) Section(addr process.ProcessMemoryAddress) (Section, bool) {
	for _, s := range f.Sections {
		start := f.Base.Add(int64(s.VirtualAddress))
		if addr >= start && addr < start.Add(int64(max(s.VirtualSize, s.RawSize))) {
			return s, true
		}
	}
	return Section{}, false
}

// WriteTo writes the file with every patch made through the image to path.
// Headers are not written back.
func (f *File) WriteTo(path string) error {
	mode := os.FileMode(0o644)
	if st, err := f.fh.Stat(); err == nil {
		mode = st.Mode().Perm()
	}

	var out []byte
	if f.IsPE {
		out = unlayout(f.raw, f.img.Data, f.Sections)
	} else {
		out = f.img.Data
	}
	return os.WriteFile(path, out, mode)
}

func (f *File) Close() error {
	var errs []error
	if f.raw != nil {
		errs = append(errs, f.raw.Unmap())
		f.raw = nil
	}
	if f.fh != nil {
		errs = append(errs, f.fh.Close())
		f.fh = nil
	}
	return errors.Join(errs...)
}
