package hexdump

import (
	"strings"
	"testing"

	"aobpatch/process"
	"aobpatch/scanner"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/stretchr/testify/assert"
)

func plain() Options {
	o := DefaultOptions()
	o.Plain = true
	return o
}

func TestDumpShortLine(t *testing.T) {
	o := plain()
	o.BytesPerLine = 4
	o.Address = 0x1000

	assert.Equal(t, "0000000000001000  41 42 43 00  |ABC.|\n", Dump([]byte("ABC\x00"), o))
}

func TestDumpSplitsAndPads(t *testing.T) {
	data := make([]byte, 18)
	for i := range data {
		data[i] = byte(i)
	}
	o := plain()
	o.ShowASCII = false

	lines := strings.Split(strings.TrimSuffix(Dump(data, o), "\n"), "\n")
	assert.Equal(t, []string{
		"0000000000000000  00 01 02 03 04 05 06 07  08 09 0a 0b 0c 0d 0e 0f",
		"0000000000000010  10 11                                           ",
	}, lines)
}

func TestDumpMaxLines(t *testing.T) {
	o := plain()
	o.MaxLines = 1
	out := Dump(make([]byte, 40), o)
	assert.True(t, strings.HasSuffix(out, "... 24 more bytes\n"), out)
	assert.Equal(t, 2, strings.Count(out, "\n"))
}

func TestDiff(t *testing.T) {
	out := Diff(0x400010, []byte{0x74, 0x05}, []byte{0x74, 0x06}, plain())
	assert.Equal(t, "expected 0000000000400010  74 05\nfound    0000000000400010  74 06\n", out)

	coloured := Diff(0x400010, []byte{0x74, 0x05}, []byte{0x74, 0x06}, DefaultOptions())
	assert.Contains(t, coloured, coloransi.Color(coloransi.BrightWhite, coloransi.Red, "06"))
	assert.Contains(t, coloured, coloransi.Foreground(coloransi.Green, "74"))
	assert.NotContains(t, coloured, coloransi.Color(coloransi.BrightWhite, coloransi.Red, "05"))
}

func TestMatchContext(t *testing.T) {
	img := &process.Image{Name: "game", Base: 0x10000, Data: []byte("..xxE8abcd..zz")}
	m := scanner.Match{
		Offset:   4,
		Captures: []scanner.Capture{{Offset: 6, Bytes: []byte("ab")}},
	}

	o := plain()
	o.ShowASCII = true
	out := MatchContext(img, m, 6, 2, o)
	assert.True(t, strings.HasPrefix(out, "0000000000010002  78 78 45 38 61 62 63 64  2e 2e"), out)
	assert.Contains(t, out, "|xxE8abcd..|")

	coloured := MatchContext(img, m, 6, 2, DefaultOptions())
	assert.Contains(t, coloured, coloransi.Foreground(coloransi.BrightMagenta, "61"))
	assert.Contains(t, coloured, coloransi.Foreground(coloransi.BrightYellow, "45"))
	assert.Contains(t, coloured, coloransi.Foreground(coloransi.Green, "78"))
}

func TestMatchContextClamps(t *testing.T) {
	img := &process.Image{Base: 0, Data: []byte{1, 2, 3}}
	out := MatchContext(img, scanner.Match{Offset: 1}, 1, 100, plain())
	assert.True(t, strings.HasPrefix(out, "0000000000000000  01 02 03"), out)
}
