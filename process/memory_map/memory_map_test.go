package memory_map

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMaps = `7f0000001000-7f0000002000 r-xp 00001000 08:01 1234   /opt/game/bin/game.exe
55550000-55551000 r--p 00000000 08:01 1234   /opt/game/bin/game.exe
55551000-55553000 r-xp 00001000 08:01 1234   /opt/game/bin/game.exe
55553000-55554000 rw-p 00003000 08:01 1234   /opt/game/bin/game.exe
7ffd0000-7ffd1000 rw-p 00000000 00:00 0      [stack]
garbage line
`

func TestParse(t *testing.T) {
	mm, err := Parse(strings.NewReader(sampleMaps))
	require.NoError(t, err)
	require.Len(t, mm, 5)

	assert.Equal(t, uint64(0x55550000), mm[0].Address, "sorted by address")
	assert.Equal(t, uint(0x2000), mm[1].Size)
	assert.True(t, mm[1].IsExecutable())
	assert.False(t, mm[1].IsWritable())
	assert.True(t, mm[2].IsWritable())
	assert.Equal(t, "[stack]", mm[3].Path)
}

func TestFindRegion(t *testing.T) {
	mm, err := Parse(strings.NewReader(sampleMaps))
	require.NoError(t, err)

	region := FindRegion(0x55552abc, mm)
	require.NotNil(t, region)
	assert.Equal(t, uint64(0x55551000), region.Address)

	assert.Nil(t, FindRegion(0x55554000, mm), "end is exclusive")
	assert.Nil(t, FindRegion(0x1000, mm))
}

func TestModuleRegions(t *testing.T) {
	mm, err := Parse(strings.NewReader(sampleMaps))
	require.NoError(t, err)

	regions := ModuleRegions("game.exe", mm)
	require.Len(t, regions, 4)
	assert.Equal(t, uint64(0x55550000), regions[0].Address)

	assert.Empty(t, ModuleRegions("libc.so.6", mm))
}

func TestContiguousSpan(t *testing.T) {
	mm, err := Parse(strings.NewReader(sampleMaps))
	require.NoError(t, err)

	start, end := ContiguousSpan(ModuleRegions("game.exe", mm))
	assert.Equal(t, uint64(0x55550000), start)
	assert.Equal(t, uint64(0x55554000), end, "stops at the gap before the far mapping")

	start, end = ContiguousSpan([]MemoryMapItem{{Address: 0x1000, Size: 0x1000, Perms: "---p"}})
	assert.Equal(t, start, end)

	start, end = ContiguousSpan(nil)
	assert.Zero(t, start)
	assert.Zero(t, end)
}
