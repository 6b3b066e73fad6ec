package resolver

import (
	"errors"
	"fmt"

	"aobpatch/pattern"
	"aobpatch/process"
	"aobpatch/scanner"
)

// Target is a named location found by scanning for one of several
// alternate patterns, most specific first
type Target struct {
	Name     string
	Patterns []string
	// Hex selects hex notation for Patterns instead of bit notation
	Hex    bool
	Params Params

	compiled []*pattern.Pattern
}

// NewTarget compiles the patterns up front so malformed text fails at startup
func NewTarget(name string, hex bool, params Params, patterns ...string) (*Target, error) {
	t := &Target{Name: name, Patterns: patterns, Hex: hex, Params: params}
	if err := t.compile(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Target) compile() error {
	if t.compiled != nil {
		return nil
	}
	if len(t.Patterns) == 0 {
		return fmt.Errorf("target %s has no patterns: %w", t.Name, ErrBadParams)
	}
	if err := t.Params.validate(); err != nil {
		return fmt.Errorf("target %s: %w", t.Name, err)
	}
	compiled := make([]*pattern.Pattern, 0, len(t.Patterns))
	for _, text := range t.Patterns {
		p, err := pattern.CompileAny(text, t.Hex)
		if err != nil {
			return fmt.Errorf("target %s: %w", t.Name, err)
		}
		compiled = append(compiled, p)
	}
	t.compiled = compiled
	return nil
}

// Resolve scans img with each pattern in turn. The first pattern that is
// found decides the outcome: exactly one match resolves, several is ambiguous.
func (t *Target) Resolve(s *scanner.Scanner, img *process.Image) (ResolvedAddress, error) {
	if err := t.compile(); err != nil {
		return ResolvedAddress{}, err
	}

	if i, matches := s.ScanFirst(img, t.compiled); i >= 0 {
		return Resolve(t.Name, img, matches, t.Params)
	}
	return ResolvedAddress{}, &ResolutionError{Name: t.Name, Err: ErrNoMatch}
}

// Cache remembers how each target resolved against an image so that later
// lookups do not scan again. A nil Cache resolves every time.
type Cache struct {
	entries map[cacheKey]cacheEntry
}

type cacheKey struct {
	img  *process.Image
	name string
}

type cacheEntry struct {
	r   ResolvedAddress
	err error
}

func NewCache() *Cache {
	return &Cache{entries: make(map[cacheKey]cacheEntry)}
}

// Resolve returns the remembered outcome for t on img, resolving it first if
// there is none
func (c *Cache) Resolve(t *Target, s *scanner.Scanner, img *process.Image) (ResolvedAddress, error) {
	if c == nil {
		return t.Resolve(s, img)
	}
	key := cacheKey{img: img, name: t.Name}
	if e, ok := c.entries[key]; ok {
		return e.r, e.err
	}
	r, err := t.Resolve(s, img)
	c.entries[key] = cacheEntry{r: r, err: err}
	return r, err
}

// Locator adapts a Target to the patcher, which only needs an address
type Locator struct {
	Target  *Target
	Scanner *scanner.Scanner
	// Cache is optional
	Cache *Cache
}

func (l Locator) Key() string {
	return "target:" + l.Target.Name
}

func (l Locator) Locate(img *process.Image) (process.ProcessMemoryAddress, error) {
	r, err := l.Cache.Resolve(l.Target, l.Scanner, img)
	if err != nil {
		return 0, err
	}
	return r.Address, nil
}

// Discovered is a resolved name/address pair for export to other tools
type Discovered struct {
	Name    string
	Address process.ProcessMemoryAddress
	// RVA is Address relative to the image base
	RVA int64
}

// LocateAll resolves every target against img. Failed targets are left out
// of the result and reported in the joined error.
func LocateAll(s *scanner.Scanner, img *process.Image, targets []*Target) ([]Discovered, error) {
	var c *Cache
	return c.LocateAll(s, img, targets)
}

// LocateAll is the package LocateAll with every outcome remembered in c
func (c *Cache) LocateAll(s *scanner.Scanner, img *process.Image, targets []*Target) ([]Discovered, error) {
	var found []Discovered
	var errs []error
	for _, t := range targets {
		r, err := c.Resolve(t, s, img)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		found = append(found, Discovered{
			Name:    t.Name,
			Address: r.Address,
			RVA:     int64(r.Address) - int64(img.Base),
		})
	}
	return found, errors.Join(errs...)
}
