// Package hexdump renders coloured hex dumps of scanned memory: the bytes
// around a match with its captures highlighted, and baseline diffs.
package hexdump

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"aobpatch/process"
	"aobpatch/scanner"

	"github.com/Moonlight-Companies/gologger/coloransi"
)

// Span colours Length bytes starting at Start (an index into the dumped data)
type Span struct {
	Start  int
	Length int
	Color  coloransi.ColorCode
	// Background, when set, is drawn behind the bytes
	Background coloransi.ColorCode
}

func (s Span) contains(i int) bool {
	return i >= s.Start && i < s.Start+s.Length
}

// Options defines how a dump is laid out
type Options struct {
	// BytesPerLine defines the number of bytes to display per line
	BytesPerLine int

	// ShowASCII determines whether to show the ASCII representation
	ShowASCII bool

	// Address of the first dumped byte
	Address process.ProcessMemoryAddress

	// Spans are checked in order; the first containing a byte colours it
	Spans []Span

	// MaxLines is the maximum number of lines to show (0 for no limit)
	MaxLines int

	// Plain disables colour
	Plain bool

	AddressColor coloransi.ColorCode
	HexColor     coloransi.ColorCode
	ZeroColor    coloransi.ColorCode
}

// DefaultOptions returns the default hexdump options
func DefaultOptions() Options {
	return Options{
		BytesPerLine: 16,
		ShowASCII:    true,
		AddressColor: coloransi.Cyan,
		HexColor:     coloransi.Green,
		ZeroColor:    coloransi.BrightBlack,
	}
}

func (o Options) paint(fg, bg coloransi.ColorCode, s string) string {
	switch {
	case o.Plain:
		return s
	case bg != 0:
		return coloransi.Color(fg, bg, s)
	}
	return coloransi.Foreground(fg, s)
}

// Dump creates a hex dump of data
func Dump(data []byte, o Options) string {
	var buf bytes.Buffer
	DumpToWriter(&buf, data, o)
	return buf.String()
}

// DumpToWriter writes a hex dump of data to w
func DumpToWriter(w io.Writer, data []byte, o Options) {
	if o.BytesPerLine <= 0 {
		o.BytesPerLine = 16
	}

	lines := 0
	for offset := 0; offset < len(data); offset += o.BytesPerLine {
		if o.MaxLines > 0 && lines >= o.MaxLines {
			fmt.Fprintf(w, "... %d more bytes\n", len(data)-offset)
			return
		}
		end := min(offset+o.BytesPerLine, len(data))
		formatLine(w, data, offset, end, o)
		lines++
	}
}

func formatLine(w io.Writer, data []byte, start, end int, o Options) {
	var sb strings.Builder
	sb.WriteString(o.paint(o.AddressColor, 0, fmt.Sprintf("%016X", uint64(o.Address.Add(int64(start))))))
	sb.WriteString("  ")

	for i := 0; i < o.BytesPerLine; i++ {
		if i > 0 {
			sb.WriteByte(' ')
			if o.BytesPerLine >= 8 && i == o.BytesPerLine/2 {
				sb.WriteByte(' ')
			}
		}
		at := start + i
		if at >= end {
			sb.WriteString("  ")
			continue
		}
		sb.WriteString(o.byteColor(data, at, fmt.Sprintf("%02x", data[at])))
	}

	if o.ShowASCII {
		sb.WriteString("  |")
		for at := start; at < end; at++ {
			c := data[at]
			ch := "."
			if c >= 0x20 && c < 0x7F {
				ch = string(rune(c))
			}
			sb.WriteString(o.byteColor(data, at, ch))
		}
		sb.WriteByte('|')
	}
	sb.WriteByte('\n')
	io.WriteString(w, sb.String())
}

func (o Options) byteColor(data []byte, at int, s string) string {
	for _, span := range o.Spans {
		if span.contains(at) {
			return o.paint(span.Color, span.Background, s)
		}
	}
	if data[at] == 0 {
		return o.paint(o.ZeroColor, 0, s)
	}
	return o.paint(o.HexColor, 0, s)
}

// MatchContext dumps the match plus radius bytes either side. The match is
// drawn in yellow and its captures in magenta.
func MatchContext(img *process.Image, m scanner.Match, length, radius int, o Options) string {
	from := max(0, m.Offset-radius)
	to := min(len(img.Data), m.Offset+length+radius)
	if from >= to {
		return ""
	}

	o.Address = img.Address(from)
	o.Spans = nil
	for _, c := range m.Captures {
		o.Spans = append(o.Spans, Span{Start: c.Offset - from, Length: len(c.Bytes), Color: coloransi.BrightMagenta})
	}
	o.Spans = append(o.Spans, Span{Start: m.Offset - from, Length: length, Color: coloransi.BrightYellow})
	return Dump(img.Data[from:to], o)
}

// Diff renders expected and actual bytes at addr on two aligned lines, with
// every differing byte of actual highlighted
func Diff(addr process.ProcessMemoryAddress, expected, actual []byte, o Options) string {
	o.Address = addr
	o.ShowASCII = false
	o.BytesPerLine = max(len(expected), len(actual), 1)

	var spans []Span
	for i := range actual {
		if i >= len(expected) || actual[i] != expected[i] {
			spans = append(spans, Span{Start: i, Length: 1, Color: coloransi.BrightWhite, Background: coloransi.Red})
		}
	}

	var buf bytes.Buffer
	buf.WriteString("expected ")
	formatLine(&buf, expected, 0, len(expected), o)
	buf.WriteString("found    ")
	o.Spans = spans
	formatLine(&buf, actual, 0, len(actual), o)
	return buf.String()
}
