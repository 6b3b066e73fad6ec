package process

import "fmt"

// Image is a contiguous snapshot of a mapped executable: the bytes the
// scanner walks, the address they were taken from, and (optionally) the view
// that can read and write the live memory behind them.
type Image struct {
	Name string
	Base ProcessMemoryAddress
	Data []byte
	View MemoryView
}

// Address converts an offset into Data to an absolute address
func (img *Image) Address(offset int) ProcessMemoryAddress {
	return img.Base.Add(int64(offset))
}

// Offset converts an absolute address into an offset into Data
func (img *Image) Offset(addr ProcessMemoryAddress) (int, bool) {
	if addr < img.Base || uint64(addr-img.Base) >= uint64(len(img.Data)) {
		return 0, false
	}
	return int(addr - img.Base), true
}

// IsLive reports whether pointers read through the image refer to a running process
func (img *Image) IsLive() bool {
	return img.View != nil && img.View.IsLive()
}

func (img *Image) String() string {
	return fmt.Sprintf("%s@%s+0x%X", img.Name, img.Base.ToString(), len(img.Data))
}
