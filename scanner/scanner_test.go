package scanner

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aobpatch/pattern"
	"aobpatch/process"
)

// bruteForce is the reference: probe every offset, every byte, every bit
func bruteForce(buf []byte, p *pattern.Pattern) []int {
	value, mask := p.Value(), p.Mask()
	out := []int{}
	for i := 0; i+len(value) <= len(buf); i++ {
		ok := true
		for j := range value {
			for bit := 0; bit < 8; bit++ {
				if mask[j]&(1<<bit) != 0 && (buf[i+j]^value[j])&(1<<bit) != 0 {
					ok = false
				}
			}
		}
		if ok {
			out = append(out, i)
		}
	}
	return out
}

func offsets(matches []Match) []int {
	out := make([]int, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.Offset)
	}
	return out
}

func TestScanScenario(t *testing.T) {
	buf := []byte{0xF0, 0x12, 0xF0, 0x34}

	matches := Scan(buf, pattern.MustCompile("11110000 ........"))
	assert.ElementsMatch(t, []int{0, 2}, offsets(matches))
	for _, m := range matches {
		assert.Empty(t, m.Captures)
	}
}

func TestScanCaptureScenario(t *testing.T) {
	buf := []byte{0xF0, 0x12, 0xF0, 0x34}

	matches := Scan(buf, pattern.MustCompile("[11110000] ........"))
	require.Len(t, matches, 2)
	for _, m := range matches {
		require.Len(t, m.Captures, 1)
		assert.Equal(t, m.Offset, m.Captures[0].Offset)
		assert.Equal(t, []byte{0xF0}, m.Captures[0].Bytes)
	}
	assert.ElementsMatch(t, []int{0, 2}, []int{matches[0].Captures[0].Offset, matches[1].Captures[0].Offset})
}

func TestScanOverlapping(t *testing.T) {
	buf := []byte{0xAA, 0xAA, 0xAA, 0xAA}
	matches := Scan(buf, pattern.MustCompileAOB("AA AA"))
	assert.ElementsMatch(t, []int{0, 1, 2}, offsets(matches))
}

func TestScanNoMatch(t *testing.T) {
	assert.Empty(t, Scan([]byte{1, 2, 3}, pattern.MustCompileAOB("04")))
	assert.Empty(t, Scan([]byte{1}, pattern.MustCompileAOB("01 02")), "pattern longer than buffer")
	assert.Empty(t, Scan(nil, pattern.MustCompileAOB("??")))
}

func TestScanCaptureBytesAreCopies(t *testing.T) {
	buf := []byte{0x48, 0x8B, 0x05, 0x10, 0x20, 0x30, 0x40}
	matches := Scan(buf, pattern.MustCompileAOB("48 8B 05 [?? ?? ?? ??]"))
	require.Len(t, matches, 1)

	c := matches[0].Captures[0]
	assert.Equal(t, 3, c.Offset)
	assert.Equal(t, []byte{0x10, 0x20, 0x30, 0x40}, c.Bytes)

	buf[3] = 0xFF
	assert.Equal(t, byte(0x10), c.Bytes[0])
}

func randomBuffer(r *rand.Rand, n int) []byte {
	buf := make([]byte, n)
	// small alphabet so short patterns match often
	for i := range buf {
		buf[i] = byte(r.Intn(4)) * 0x11
	}
	return buf
}

func TestScanAgainstBruteForce(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	patterns := []string{
		"00010001 ........",
		"[....0000] 00100010",
		"00110011 [........ ........] 00000000",
		"........ ..1.....",
		"0....... 00010001 [0.1.0.1.]",
	}

	for _, text := range patterns {
		p := pattern.MustCompile(text)
		for round := 0; round < 20; round++ {
			buf := randomBuffer(r, 1+r.Intn(600))
			want := bruteForce(buf, p)

			got := Scan(buf, p)
			assert.Equal(t, want, offsets(got), text)

			for _, m := range got {
				require.Len(t, m.Captures, len(p.Groups()))
				for _, c := range m.Captures {
					assert.GreaterOrEqual(t, c.Offset, m.Offset)
					assert.Less(t, c.Offset, m.Offset+p.Len())
				}
			}
		}
	}
}

func TestParallelMatchesSerial(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	buf := randomBuffer(r, 50_000)
	s := New(WithWorkers(4), WithShardSize(97))

	for _, text := range []string{"00 11", "[22 ?? 33] 00", "?? ?? 11 ?? ??", "00"} {
		p := pattern.MustCompileAOB(text)
		serial := Scan(buf, p)
		parallel := s.Scan(buf, p)

		require.Equal(t, len(serial), len(parallel), text)
		assert.ElementsMatch(t, serial, parallel, text)
		assert.Equal(t, bruteForce(buf, p), offsets(parallel), text)
	}
}

func TestParallelFindsMatchesAcrossShardEdges(t *testing.T) {
	buf := make([]byte, 64)
	needle := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	// needles straddling the shard boundaries at multiples of 8
	for _, at := range []int{6, 15, 21, 60} {
		copy(buf[at:], needle)
	}

	s := New(WithWorkers(3), WithShardSize(8))
	matches := s.Scan(buf, pattern.MustCompileAOB("DE AD BE EF"))
	assert.ElementsMatch(t, []int{6, 15, 21, 60}, offsets(matches))
}

func TestScanImage(t *testing.T) {
	img := &process.Image{Name: "game", Base: 0x140000000, Data: []byte{0x90, 0xF0, 0x12}}
	s := New()

	matches := s.ScanImage(img, pattern.MustCompileAOB("F0 12"))
	require.Len(t, matches, 1)
	assert.Equal(t, process.ProcessMemoryAddress(0x140000001), img.Address(matches[0].Offset))

	assert.Empty(t, s.ScanImage(img, pattern.MustCompileAOB("CC")))
}

func TestScanFirst(t *testing.T) {
	img := &process.Image{Name: "game", Base: 0x140000000, Data: []byte{0x90, 0xF0, 0x12, 0xF0, 0x12}}
	s := New()

	alternates := []*pattern.Pattern{
		pattern.MustCompileAOB("CC CC"),
		pattern.MustCompileAOB("F0 12"),
		pattern.MustCompileAOB("90"),
	}
	i, matches := s.ScanFirst(img, alternates)
	assert.Equal(t, 1, i)
	assert.Equal(t, []int{1, 3}, offsets(matches))

	i, matches = s.ScanFirst(img, alternates[:1])
	assert.Equal(t, -1, i)
	assert.Empty(t, matches)

	i, _ = s.ScanFirst(img, nil)
	assert.Equal(t, -1, i)
}
