// Package policy maps logical data sources to caching parameters.
//
// A source is a string such as "products", "products/123" or "reports:daily".
// Resolution is exact match first, then the longest registered prefix, then the
// table's default tier.
package policy

import (
	"bytes"
	"cmp"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid cache policy")

// Policy is the caching behavior of one source.
type Policy struct {
	// TTL is how long a fetched value is served without refetching.
	TTL time.Duration `yaml:"ttl"`

	// RefreshInterval, when positive, makes accessors refetch on a timer.
	RefreshInterval time.Duration `yaml:"refresh_interval"`

	// Durable routes the source to the durable tier.
	Durable bool `yaml:"durable"`
}

// Validate checks the invariants of a single policy.
func (p Policy) Validate() error {
	if p.TTL <= 0 {
		return fmt.Errorf("%w: ttl must be positive, got %s", ErrInvalid, p.TTL)
	}
	if p.RefreshInterval < 0 {
		return fmt.Errorf("%w: refresh_interval must not be negative, got %s", ErrInvalid, p.RefreshInterval)
	}
	return nil
}

// Built-in tiers.
var (
	// Static is for reference data that practically never changes.
	Static = Policy{TTL: 24 * time.Hour}

	// SemiStatic is for lists that change a few times a day.
	SemiStatic = Policy{TTL: time.Hour}

	// Dynamic is the default for unmatched sources.
	Dynamic = Policy{TTL: 5 * time.Minute}

	// Realtime is for dashboards that should poll.
	Realtime = Policy{TTL: 30 * time.Second, RefreshInterval: 30 * time.Second}

	// LongLived is the durable tier default: days of freshness, persisted.
	LongLived = Policy{TTL: 7 * 24 * time.Hour, Durable: true}
)

/*
Table resolves sources to policies. It is safe for concurrent use and can be
swapped atomically with Replace, which the file Watcher does on change.
*/
type Table struct {
	mu       sync.RWMutex
	def      Policy
	sources  map[string]Policy
	prefixes []string // registered keys, longest first
}

// NewTable creates a table with def as the fallback for unmatched sources.
func NewTable(def Policy, sources map[string]Policy) *Table {
	t := &Table{}
	t.replace(def, sources)
	return t
}

// Default returns the table used when nothing is configured: Dynamic as the fallback.
func Default() *Table {
	return NewTable(Dynamic, nil)
}

// Resolve returns the policy for source: exact match, else longest prefix, else default.
func (t *Table) Resolve(source string) Policy {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if p, ok := t.sources[source]; ok {
		return p
	}
	for _, prefix := range t.prefixes {
		if strings.HasPrefix(source, prefix) {
			return t.sources[prefix]
		}
	}
	return t.def
}

// Set registers or replaces the policy of one source.
func (t *Table) Set(source string, p Policy) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sources := make(map[string]Policy, len(t.sources)+1)
	for k, v := range t.sources {
		sources[k] = v
	}
	sources[source] = p
	t.replaceLocked(t.def, sources)
}

// Replace swaps the whole table content with other's.
func (t *Table) Replace(other *Table) {
	other.mu.RLock()
	def, sources := other.def, other.sources
	other.mu.RUnlock()

	t.replace(def, sources)
}

func (t *Table) replace(def Policy, sources map[string]Policy) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.replaceLocked(def, sources)
}

func (t *Table) replaceLocked(def Policy, sources map[string]Policy) {
	t.def = def
	t.sources = make(map[string]Policy, len(sources))
	t.prefixes = t.prefixes[:0]
	for k, v := range sources {
		t.sources[k] = v
		t.prefixes = append(t.prefixes, k)
	}
	// Longest first; equal lengths alphabetically so resolution is deterministic.
	slices.SortFunc(t.prefixes, func(a, b string) int {
		if n := cmp.Compare(len(b), len(a)); n != 0 {
			return n
		}
		return strings.Compare(a, b)
	})
}

// file is the YAML layout.
type file struct {
	Default *Policy           `yaml:"default"`
	Sources map[string]Policy `yaml:"sources"`
}

/*
Parse reads a table from YAML:

	default:
	  ttl: 5m
	sources:
	  categories:
	    ttl: 24h
	  dashboard/:
	    ttl: 30s
	    refresh_interval: 30s

A missing default means Dynamic. Every policy is validated, and an empty document is
rejected.
*/
func Parse(data []byte) (*Table, error) {
	// An empty document is what a reader sees mid-write; never let it wipe the table.
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrInvalid)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	def := Dynamic
	if f.Default != nil {
		def = *f.Default
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("default: %w", err)
	}
	for source, p := range f.Sources {
		if source == "" {
			return nil, fmt.Errorf("%w: empty source name", ErrInvalid)
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("source %q: %w", source, err)
		}
	}
	return NewTable(def, f.Sources), nil
}

// Load reads and parses the YAML file at path.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}
