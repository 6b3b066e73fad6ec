package process_file

import (
	"os"
	"path/filepath"
	"testing"

	"aobpatch/patcher"
	"aobpatch/pattern"
	"aobpatch/process"
	"aobpatch/scanner"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSections() ([]byte, []Section) {
	raw := make([]byte, 0x600)
	copy(raw, "MZ header")
	copy(raw[0x200:], []byte{0x48, 0x8B, 0x05, 0x10, 0x00, 0x00, 0x00, 0x74, 0x05})
	copy(raw[0x400:], "data section")

	return raw, []Section{
		{Name: ".text", VirtualAddress: 0x1000, VirtualSize: 0x180, RawOffset: 0x200, RawSize: 0x200, Prot: process.ProtReadExec},
		{Name: ".data", VirtualAddress: 0x2000, VirtualSize: 0x800, RawOffset: 0x400, RawSize: 0x200, Prot: process.ProtReadWrite},
	}
}

func TestLayout(t *testing.T) {
	raw, sections := testSections()

	img, err := layout(raw, 0x3000, 0x200, sections)
	require.NoError(t, err)
	require.Len(t, img, 0x3000)

	assert.Equal(t, []byte("MZ header"), img[:9])
	assert.Equal(t, raw[0x200:0x380], img[0x1000:0x1180])
	// VirtualSize trims .text; bytes past it stay zero
	assert.Equal(t, make([]byte, 0x80), img[0x1180:0x1200])
	assert.Equal(t, []byte("data section"), img[0x2000:0x200C])
	assert.Equal(t, make([]byte, 0x600), img[0x2200:0x2800])
}

func TestLayoutGrowsPastSizeOfImage(t *testing.T) {
	raw, sections := testSections()
	img, err := layout(raw, 0, 0x200, sections)
	require.NoError(t, err)
	assert.Len(t, img, 0x2800)
}

func TestLayoutRejectsTruncatedFile(t *testing.T) {
	raw, sections := testSections()
	_, err := layout(raw[:0x500], 0x3000, 0x200, sections)
	assert.Error(t, err)
}

func TestUnlayoutCarriesPatches(t *testing.T) {
	raw, sections := testSections()
	img, err := layout(raw, 0x3000, 0x200, sections)
	require.NoError(t, err)

	img[0x1007] = 0xEB
	img[0x2000] = 'D'
	img[0x0] = 'X'

	out := unlayout(raw, img, sections)
	require.Len(t, out, len(raw))
	assert.Equal(t, byte(0xEB), out[0x207])
	assert.Equal(t, byte('D'), out[0x400])
	assert.Equal(t, byte('M'), out[0], "headers are not written back")
	assert.Equal(t, byte(0x74), raw[0x207], "raw is not modified")
}

func TestSectionProtection(t *testing.T) {
	assert.Equal(t, process.ProtReadExec, sectionProtection(0x60000020))
	assert.Equal(t, process.ProtReadWrite, sectionProtection(0xC0000040))
	assert.Equal(t, process.ProtRead, sectionProtection(0x40000040))
	assert.Equal(t, process.ProtNone, sectionProtection(0))
}

func TestOpenRawPatchAndWrite(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "blob.bin")
	content := []byte("\x00\x01\x02\x03 cmp eax,ecx; jle \x3B\xC1\x7E\x02 end")
	require.NoError(t, os.WriteFile(in, content, 0o600))

	f, err := Open(in)
	require.NoError(t, err)
	defer f.Close()

	assert.False(t, f.IsPE)
	img := f.Image()
	assert.Equal(t, process.ProcessMemoryAddress(0), img.Base)
	assert.Equal(t, content, img.Data)
	assert.False(t, img.IsLive())

	matches := scanner.Scan(img.Data, pattern.MustCompileAOB("3B C1 [7E] ??"))
	require.Len(t, matches, 1)
	offset := matches[0].Captures[0].Offset

	cmd := patcher.MustCommand("jle", patcher.RVA(offset), []byte{0x7E}, []byte{0xEB})
	outcomes := patcher.NewExecutor().Run(img, []patcher.Command{cmd}, patcher.AllEnabled)
	require.Equal(t, patcher.Applied, outcomes[0].State, "%v", outcomes[0].Err)

	onDisk, err := os.ReadFile(in)
	require.NoError(t, err)
	assert.Equal(t, content, onDisk, "the input is never modified")

	out := filepath.Join(dir, "patched.bin")
	require.NoError(t, f.WriteTo(out))
	patched, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, byte(0xEB), patched[offset])
	patched[offset] = 0x7E
	assert.Equal(t, content, patched)

	st, err := os.Stat(out)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())
}

func TestOpenErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Open(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	_, err = Open(empty)
	assert.ErrorIs(t, err, ErrEmptyFile)

	bogus := filepath.Join(dir, "bogus.exe")
	require.NoError(t, os.WriteFile(bogus, []byte("MZ but nothing else"), 0o600))
	_, err = Open(bogus)
	assert.Error(t, err)
}

func TestFileSection(t *testing.T) {
	_, sections := testSections()
	f := &File{Base: 0x140000000, Sections: sections}

	s, ok := f.Section(0x140001010)
	require.True(t, ok)
	assert.Equal(t, ".text", s.Name)

	s, ok = f.Section(0x1400027FF)
	require.True(t, ok)
	assert.Equal(t, ".data", s.Name)

	_, ok = f.Section(0x140000010)
	assert.False(t, ok)
}
