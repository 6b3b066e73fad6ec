// Package scanner finds every occurrence of a compiled pattern in a byte buffer.
package scanner

import (
	"bytes"
	"runtime"
	"sort"

	"aobpatch/pattern"
	"aobpatch/process"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	"github.com/sourcegraph/conc/pool"
)

// Capture is the location and content of one capture group in a match
type Capture struct {
	Offset int
	Bytes  []byte
}

// Match is one occurrence of a pattern. Offsets are relative to the scanned buffer.
type Match struct {
	Offset   int
	Captures []Capture
}

// DefaultShardSize is the amount of buffer handed to a worker at a time
const DefaultShardSize = 4 << 20

// Scanner holds configuration for parallel scans
type Scanner struct {
	Workers   int
	ShardSize int
	log       *logger.Logger
}

// Option is a function that configures a Scanner
type Option func(*Scanner)

// WithWorkers sets the size of the worker pool. Values below 1 mean GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(s *Scanner) {
		s.Workers = n
	}
}

// WithShardSize sets how many bytes each worker task covers
func WithShardSize(size int) Option {
	return func(s *Scanner) {
		s.ShardSize = size
	}
}

func WithLogger(log *logger.Logger) Option {
	return func(s *Scanner) {
		s.log = log
	}
}

func New(options ...Option) *Scanner {
	s := &Scanner{
		ShardSize: DefaultShardSize,
	}

	for _, opt := range options {
		opt(s)
	}

	if s.Workers < 1 {
		s.Workers = runtime.GOMAXPROCS(0)
	}
	if s.ShardSize < 1 {
		s.ShardSize = DefaultShardSize
	}
	if s.log == nil {
		s.log = logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "scanner"))
	}
	return s
}

// Scan finds all matches of p in buf on the calling goroutine
func Scan(buf []byte, p *pattern.Pattern) []Match {
	return scanRange(buf, p, 0, len(buf))
}

// scanRange finds matches whose start offset lies in [start, end)
func scanRange(buf []byte, p *pattern.Pattern, start, end int) []Match {
	var matches []Match
	groups := p.Groups()

	// a match starting before end may read up to len(p)-1 bytes past it
	limit := end + p.Len() - 1
	if limit > len(buf) {
		limit = len(buf)
	}
	window := buf[:limit]

	for i := p.Index(window, start); i >= 0 && i < end; i = p.Index(window, i+1) {
		m := Match{Offset: i}
		if len(groups) > 0 {
			m.Captures = make([]Capture, len(groups))
			for g, group := range groups {
				at := i + group.Index
				m.Captures[g] = Capture{
					Offset: at,
					Bytes:  bytes.Clone(buf[at : at+group.Length]),
				}
			}
		}
		matches = append(matches, m)
	}
	return matches
}

// Scan finds all matches of p in buf. The buffer is cut into shards that are
// scanned by a fixed-size pool; the call returns once every shard is done.
// Matches are returned ordered by offset.
func (s *Scanner) Scan(buf []byte, p *pattern.Pattern) []Match {
	if len(buf) <= s.ShardSize || s.Workers == 1 {
		matches := Scan(buf, p)
		s.log.Debugln("Scanned", len(buf), "bytes, found", len(matches), "matches")
		return matches
	}

	workers := pool.NewWithResults[[]Match]().WithMaxGoroutines(s.Workers)
	shards := 0
	for start := 0; start < len(buf); start += s.ShardSize {
		end := start + s.ShardSize
		if end > len(buf) {
			end = len(buf)
		}
		shards++
		workers.Go(func() []Match {
			return scanRange(buf, p, start, end)
		})
	}

	var matches []Match
	for _, found := range workers.Wait() {
		matches = append(matches, found...)
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Offset < matches[j].Offset
	})

	s.log.Debugln("Scanned", len(buf), "bytes in", shards, "shards, found", len(matches), "matches")
	return matches
}

// ScanImage scans the bytes of img. Offsets in the result are relative to
// img.Data; img.Address converts them.
func (s *Scanner) ScanImage(img *process.Image, p *pattern.Pattern) []Match {
	matches := s.Scan(img.Data, p)
	if len(matches) == 0 {
		s.log.Warn("Pattern not found in ", img.Name, ": ", p.Source())
	} else {
		s.log.Infoln("Pattern found", len(matches), "times in", img.Name)
	}
	return matches
}

// ScanFirst scans img with each pattern in turn and stops at the first one
// that is found. It returns that pattern's index and matches, or -1 when none
// is found. Only a miss of every pattern is logged.
func (s *Scanner) ScanFirst(img *process.Image, patterns []*pattern.Pattern) (int, []Match) {
	for i, p := range patterns {
		if matches := s.Scan(img.Data, p); len(matches) > 0 {
			s.log.Infoln("Pattern", i, "found", len(matches), "times in", img.Name)
			return i, matches
		}
	}
	if len(patterns) > 0 {
		s.log.Warn("None of ", len(patterns), " patterns found in ", img.Name, ", first: ", patterns[0].Source())
	}
	return -1, nil
}
