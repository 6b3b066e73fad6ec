// Package pattern compiles textual byte patterns into value/mask pairs.
//
// Two notations are accepted. The bit notation writes every byte as eight
// characters from {0,1,.}, where '.' is a wildcard bit:
//
//	"01001... 10001011 [........ ........ ........ ........]"
//
// The hex notation writes every byte as two hex digits, with '?' standing for
// a wildcard nibble and a lone '?' for a wildcard byte:
//
//	"48 8B 05 [?? ?? ?? ??] 48 85 C0"
//
// In both, square brackets mark a capture group whose location and bytes are
// reported with every match.
package pattern

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// ErrSyntax is matched by every *SyntaxError
var ErrSyntax = errors.New("pattern syntax error")

// SyntaxError describes malformed pattern text
type SyntaxError struct {
	Pattern string
	Pos     int
	Msg     string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("pattern syntax error at %d: %s (in %q)", e.Pos, e.Msg, e.Pattern)
}

func (e *SyntaxError) Unwrap() error {
	return ErrSyntax
}

// Group is a capture group: Length bytes starting at pattern byte Index
type Group struct {
	Index  int
	Length int
}

// Pattern is a compiled byte pattern. A buffer byte b satisfies pattern byte
// j when b&Mask[j] == Value[j].
type Pattern struct {
	value  []byte
	mask   []byte
	groups []Group
	anchor int
	source string
}

// Len returns the number of bytes the pattern spans
func (p *Pattern) Len() int {
	return len(p.value)
}

// Groups returns the capture groups in left-to-right order
func (p *Pattern) Groups() []Group {
	out := make([]Group, len(p.groups))
	copy(out, p.groups)
	return out
}

// Value returns the fixed bit values, with wildcard bits cleared
func (p *Pattern) Value() []byte {
	return bytes.Clone(p.value)
}

// Mask returns the fixed bit mask; a set bit must match
func (p *Pattern) Mask() []byte {
	return bytes.Clone(p.mask)
}

// Source returns the text the pattern was compiled from
func (p *Pattern) Source() string {
	return p.source
}

// MatchAt reports whether the pattern matches buf at offset i
func (p *Pattern) MatchAt(buf []byte, i int) bool {
	if i < 0 || len(p.value) > len(buf)-i {
		return false
	}
	window := buf[i : i+len(p.value)]
	for j, m := range p.mask {
		if window[j]&m != p.value[j] {
			return false
		}
	}
	return true
}

// Index returns the first offset >= from at which the pattern matches buf, or -1.
// When the pattern has a fully fixed byte, candidates are located with
// bytes.IndexByte on that byte instead of probing every offset.
func (p *Pattern) Index(buf []byte, from int) int {
	if from < 0 {
		from = 0
	}
	last := len(buf) - len(p.value)
	if p.anchor < 0 {
		for i := from; i <= last; i++ {
			if p.MatchAt(buf, i) {
				return i
			}
		}
		return -1
	}

	want := p.value[p.anchor]
	for i := from; i <= last; {
		k := bytes.IndexByte(buf[i+p.anchor:last+p.anchor+1], want)
		if k < 0 {
			return -1
		}
		i += k
		if p.MatchAt(buf, i) {
			return i
		}
		i++
	}
	return -1
}

// String renders the pattern in bit notation
func (p *Pattern) String() string {
	var sb strings.Builder
	g := 0
	for j := range p.value {
		if j > 0 {
			sb.WriteByte(' ')
		}
		if g < len(p.groups) && p.groups[g].Index == j {
			sb.WriteByte('[')
		}
		for bit := 7; bit >= 0; bit-- {
			switch {
			case p.mask[j]&(1<<bit) == 0:
				sb.WriteByte('.')
			case p.value[j]&(1<<bit) != 0:
				sb.WriteByte('1')
			default:
				sb.WriteByte('0')
			}
		}
		if g < len(p.groups) && p.groups[g].Index+p.groups[g].Length-1 == j {
			sb.WriteByte(']')
			g++
		}
	}
	return sb.String()
}

// builder accumulates bits and bytes for both notations
type builder struct {
	source string
	value  []byte
	mask   []byte
	groups []Group

	cur     byte
	curMask byte
	nbits   int

	open    bool
	openAt  int
	openPos int
}

func (b *builder) errorf(pos int, format string, args ...interface{}) error {
	return &SyntaxError{Pattern: b.source, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

func (b *builder) bit(fixed bool, one bool) {
	b.cur <<= 1
	b.curMask <<= 1
	if fixed {
		b.curMask |= 1
		if one {
			b.cur |= 1
		}
	}
	b.nbits++
	if b.nbits == 8 {
		b.value = append(b.value, b.cur)
		b.mask = append(b.mask, b.curMask)
		b.cur, b.curMask, b.nbits = 0, 0, 0
	}
}

func (b *builder) openGroup(pos int) error {
	if b.open {
		return b.errorf(pos, "nested capture group (group opened at %d)", b.openPos)
	}
	b.open, b.openAt, b.openPos = true, len(b.value), pos
	return nil
}

func (b *builder) closeGroup(pos int) error {
	if !b.open {
		return b.errorf(pos, "unbalanced ']'")
	}
	if len(b.value) == b.openAt {
		return b.errorf(pos, "empty capture group")
	}
	b.groups = append(b.groups, Group{Index: b.openAt, Length: len(b.value) - b.openAt})
	b.open = false
	return nil
}

func (b *builder) finish() (*Pattern, error) {
	if b.open {
		return nil, b.errorf(b.openPos, "unbalanced '['")
	}
	if len(b.value) == 0 {
		return nil, b.errorf(0, "empty pattern")
	}

	anchor := -1
	for j, m := range b.mask {
		if m == 0xFF {
			anchor = j
			break
		}
	}

	return &Pattern{
		value:  b.value,
		mask:   b.mask,
		groups: b.groups,
		anchor: anchor,
		source: b.source,
	}, nil
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f'
}
