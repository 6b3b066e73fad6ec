package process_blob

import (
	"fmt"
	"sort"

	"aobpatch/process"
)

const pageSize = process.PageSize

type region struct {
	base process.ProcessMemoryAddress
	data []byte
	prot process.Protection
}

func (r *region) end() process.ProcessMemoryAddress {
	return r.base + process.ProcessMemoryAddress(len(r.data))
}

// BlobView is an in-memory process.MemoryView: one or more byte slices placed
// at fixed addresses. Page protection is tracked so writes to pages without
// write access fail the way they would in a real process.
type BlobView struct {
	regions []*region
	pages   map[process.ProcessMemoryAddress]process.Protection

	live        bool
	denyProtect bool
	writes      int
}

var _ process.MemoryView = (*BlobView)(nil)

// Option configures a BlobView
type Option func(*BlobView)

// WithLive marks the view as backed by a running process, allowing pointers
// read from it to be followed
func WithLive(live bool) Option {
	return func(b *BlobView) {
		b.live = live
	}
}

// WithProtectionDenied makes every Protect call fail, like an OS refusing the change
func WithProtectionDenied(deny bool) Option {
	return func(b *BlobView) {
		b.denyProtect = deny
	}
}

// NewProcessBlob creates a view with a single read/execute region at baseAddress.
// The view aliases data; writes are visible to the caller.
func NewProcessBlob(baseAddress process.ProcessMemoryAddress, data []byte, options ...Option) *BlobView {
	b := New(options...)
	b.AddRegion(baseAddress, data, process.ProtReadExec)
	return b
}

// New creates an empty view; regions are added with AddRegion
func New(options ...Option) *BlobView {
	b := &BlobView{
		pages: make(map[process.ProcessMemoryAddress]process.Protection),
	}
	for _, opt := range options {
		opt(b)
	}
	return b
}

// AddRegion maps data at base with the given protection. Regions must not overlap.
func (b *BlobView) AddRegion(base process.ProcessMemoryAddress, data []byte, prot process.Protection) {
	b.regions = append(b.regions, &region{base: base, data: data, prot: prot})
	sort.Slice(b.regions, func(i, j int) bool {
		return b.regions[i].base < b.regions[j].base
	})
}

// Image returns an image over the region starting at base
func (b *BlobView) Image(name string, base process.ProcessMemoryAddress) (*process.Image, error) {
	for _, r := range b.regions {
		if r.base == base {
			return &process.Image{Name: name, Base: base, Data: r.data, View: b}, nil
		}
	}
	return nil, fmt.Errorf("no region at %s: %w", base.ToString(), process.ErrAddressNotMapped)
}

// Writes returns how many WriteMemory calls succeeded
func (b *BlobView) Writes() int {
	return b.writes
}

func (b *BlobView) IsLive() bool {
	return b.live
}

func (b *BlobView) find(addr process.ProcessMemoryAddress) *region {
	i := sort.Search(len(b.regions), func(i int) bool {
		return b.regions[i].end() > addr
	})
	if i < len(b.regions) && b.regions[i].base <= addr {
		return b.regions[i]
	}
	return nil
}

// span returns the region holding all of [addr, addr+size)
func (b *BlobView) span(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) (*region, error) {
	r := b.find(addr)
	if r == nil {
		return nil, process.ErrAddressNotMapped
	}
	end := addr + process.ProcessMemoryAddress(size)
	if end < addr || end > r.end() {
		return nil, fmt.Errorf("range %s+%d crosses region end %s: %w", addr.ToString(), size, r.end().ToString(), process.ErrAddressNotMapped)
	}
	return r, nil
}

func (b *BlobView) IsValidAddress(addr process.ProcessMemoryAddress) bool {
	return b.find(addr) != nil
}

func (b *BlobView) protectionAt(r *region, addr process.ProcessMemoryAddress) process.Protection {
	if prot, ok := b.pages[addr&^(pageSize-1)]; ok {
		return prot
	}
	return r.prot
}

// ReadMemory returns a copy of the requested bytes
func (b *BlobView) ReadMemory(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	r, err := b.span(addr, size)
	if err != nil {
		return nil, err
	}
	offset := addr - r.base
	result := make([]byte, size)
	copy(result, r.data[offset:uint64(offset)+uint64(size)])
	return result, nil
}

// WriteMemory writes data if every touched page is writable. Nothing is
// written when any page is not.
func (b *BlobView) WriteMemory(addr process.ProcessMemoryAddress, data []byte) error {
	r, err := b.span(addr, process.ProcessMemorySize(len(data)))
	if err != nil {
		return err
	}
	for a := addr &^ (pageSize - 1); a < addr+process.ProcessMemoryAddress(len(data)); a += pageSize {
		at := a
		if at < addr {
			at = addr
		}
		if !b.protectionAt(r, at).Has(process.ProtWrite) {
			return fmt.Errorf("write at %s: %w", at.ToString(), process.ErrNotWritable)
		}
	}
	copy(r.data[addr-r.base:], data)
	b.writes++
	return nil
}

func (b *BlobView) Protect(addr process.ProcessMemoryAddress, size process.ProcessMemorySize, prot process.Protection) (process.Protection, error) {
	r, err := b.span(addr, size)
	if err != nil {
		return process.ProtNone, err
	}
	old := b.protectionAt(r, addr)
	if b.denyProtect {
		return old, fmt.Errorf("protect %s+%d %s: permission denied", addr.ToString(), size, prot)
	}
	end := addr + process.ProcessMemoryAddress(size)
	for a := addr &^ (pageSize - 1); a < end || a == addr&^(pageSize-1); a += pageSize {
		b.pages[a] = prot
	}
	return old, nil
}

// ProtectionAt reports the protection in effect at addr
func (b *BlobView) ProtectionAt(addr process.ProcessMemoryAddress) (process.Protection, bool) {
	r := b.find(addr)
	if r == nil {
		return process.ProtNone, false
	}
	return b.protectionAt(r, addr), true
}
