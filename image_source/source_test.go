package image_source

import (
	"os"
	"path/filepath"
	"testing"

	"aobpatch/process"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenFileAndSave(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.bin")
	require.NoError(t, os.WriteFile(in, []byte{0x90, 0x74, 0x05, 0x90}, 0o600))

	src, err := Open(0, "", in)
	require.NoError(t, err)
	defer src.Close()

	assert.True(t, src.IsFile())
	require.NotNil(t, src.Image)
	assert.False(t, src.Image.IsLive())

	_, err = src.Image.View.Protect(src.Image.Base, 4, process.ProtReadWriteExec)
	require.NoError(t, err)
	require.NoError(t, src.Image.View.WriteMemory(src.Image.Base+1, []byte{0xEB}))

	out := filepath.Join(dir, "out.bin")
	require.NoError(t, src.Save(out))
	patched, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x90, 0xEB, 0x05, 0x90}, patched)

	assert.NoError(t, src.Close())
	assert.NoError(t, src.Close(), "closing twice is harmless")
}

func TestOpenRejectsMixedSources(t *testing.T) {
	_, err := Open(1234, "", "game.exe")
	assert.Error(t, err)
	_, err = Open(0, "game.exe", "game.exe")
	assert.Error(t, err)
}

func TestSaveNeedsFile(t *testing.T) {
	src := &Source{}
	assert.ErrorIs(t, src.Save(filepath.Join(t.TempDir(), "x")), ErrNotAFile)
	assert.False(t, src.IsFile())
	assert.NoError(t, src.Close())
}
