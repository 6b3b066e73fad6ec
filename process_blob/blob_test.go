package process_blob

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aobpatch/process"
)

func TestReadMemoryBounds(t *testing.T) {
	data := []byte{0, 1, 2, 3, 4, 5, 6, 7}
	b := NewProcessBlob(0x1000, data)

	got, err := b.ReadMemory(0x1002, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{2, 3, 4}, got)

	_, err = b.ReadMemory(0x1006, 4)
	assert.ErrorIs(t, err, process.ErrAddressNotMapped)

	_, err = b.ReadMemory(0x0fff, 1)
	assert.ErrorIs(t, err, process.ErrAddressNotMapped)

	assert.True(t, b.IsValidAddress(0x1007))
	assert.False(t, b.IsValidAddress(0x1008))
}

func TestWriteNeedsWritablePage(t *testing.T) {
	data := make([]byte, 0x2000)
	b := NewProcessBlob(0x400000, data)

	err := b.WriteMemory(0x400010, []byte{0xAA})
	require.ErrorIs(t, err, process.ErrNotWritable)
	assert.Equal(t, byte(0), data[0x10])
	assert.Equal(t, 0, b.Writes())

	old, err := b.Protect(0x400010, 1, process.ProtReadWriteExec)
	require.NoError(t, err)
	assert.Equal(t, process.ProtReadExec, old)

	require.NoError(t, b.WriteMemory(0x400010, []byte{0xAA}))
	assert.Equal(t, byte(0xAA), data[0x10])
	assert.Equal(t, 1, b.Writes())

	// second page keeps its original protection
	err = b.WriteMemory(0x401000, []byte{0xBB})
	assert.ErrorIs(t, err, process.ErrNotWritable)
}

func TestWriteAcrossPagesIsAllOrNothing(t *testing.T) {
	data := make([]byte, 0x2000)
	b := NewProcessBlob(0, data)

	_, err := b.Protect(0xFFE, 1, process.ProtReadWrite)
	require.NoError(t, err)

	err = b.WriteMemory(0xFFE, []byte{1, 2, 3, 4})
	require.ErrorIs(t, err, process.ErrNotWritable)
	assert.Equal(t, []byte{0, 0, 0, 0}, data[0xFFE:0x1002])
}

func TestProtectDenied(t *testing.T) {
	b := NewProcessBlob(0, make([]byte, 16), WithProtectionDenied(true))
	_, err := b.Protect(0, 4, process.ProtReadWriteExec)
	require.Error(t, err)

	prot, ok := b.ProtectionAt(0)
	require.True(t, ok)
	assert.Equal(t, process.ProtReadExec, prot)
}

func TestMultipleRegions(t *testing.T) {
	b := New(WithLive(true))
	b.AddRegion(0x2000, []byte{0xCC, 0xCC}, process.ProtReadWrite)
	b.AddRegion(0x1000, []byte{0x90}, process.ProtReadExec)

	assert.True(t, b.IsLive())
	img, err := b.Image("text", 0x1000)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x90}, img.Data)
	assert.True(t, img.IsLive())

	require.NoError(t, b.WriteMemory(0x2001, []byte{0x00}))
	got, err := b.ReadMemory(0x2000, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xCC, 0x00}, got)

	_, err = b.ReadMemory(0x1000, 2)
	assert.ErrorIs(t, err, process.ErrAddressNotMapped, "reads never span regions")

	_, err = b.Image("none", 0x3000)
	assert.ErrorIs(t, err, process.ErrAddressNotMapped)
}

func TestReadPathThroughBlob(t *testing.T) {
	// 0x1000: pointer to 0x2000; 0x2008: pointer to 0x3000
	data := make([]byte, 0x3000)
	b := NewProcessBlob(0x1000, data)
	putPointer(data[0x0:], 0x2000)
	putPointer(data[0x1008:], 0x3000)

	addr, err := process.ReadPath(b, 0x1000, 0, 8, 0x10)
	require.NoError(t, err)
	assert.Equal(t, process.ProcessMemoryAddress(0x3010), addr)

	_, err = process.ReadPath(b, 0x1000, 0x10, 0)
	assert.ErrorIs(t, err, process.ErrInvalidPointer)
}

func TestRangeMapped(t *testing.T) {
	b := New()
	b.AddRegion(0x1000, make([]byte, 0x2000), process.ProtRead)
	b.AddRegion(0x4000, make([]byte, 0x1000), process.ProtRead)

	assert.True(t, process.RangeMapped(b, 0x1000, 0x2000))
	assert.True(t, process.RangeMapped(b, 0x2ff0, 0x10))
	assert.False(t, process.RangeMapped(b, 0x2ff0, 0x11))
	assert.False(t, process.RangeMapped(b, 0x2000, 0x2400), "hole between regions")
}

func putPointer(dst []byte, v uint64) {
	for i := 0; i < 8; i++ {
		dst[i] = byte(v >> (8 * i))
	}
}
