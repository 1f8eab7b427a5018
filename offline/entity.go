package offline

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

/*
Entity is a record the repository can mirror locally and filter without the network.

Implementations are pointer types: the repository assigns local ids and timestamps in
place during offline writes.
*/
type Entity interface {
	EntityID() string
	SetEntityID(id string)

	// Stamp sets the timestamps. A zero created leaves the creation time unchanged.
	Stamp(created, updated time.Time)

	// Attributes exposes the fields offline filtering works on.
	Attributes() Attributes
}

// Attributes are the filterable fields of an Entity.
type Attributes struct {
	Category string
	Status   string

	// Text holds the fields searched by Query.Search.
	Text []string

	// Numbers holds the fields Query.Ranges can bound, by name.
	Numbers map[string]float64

	UpdatedAt time.Time
}

// Range bounds a numeric attribute. A nil bound is open.
type Range struct {
	Min *float64
	Max *float64
}

// AtLeast is the range [v, +inf).
func AtLeast(v float64) Range { return Range{Min: &v} }

// AtMost is the range (-inf, v].
func AtMost(v float64) Range { return Range{Max: &v} }

// Between is the range [lo, hi].
func Between(lo, hi float64) Range { return Range{Min: &lo, Max: &hi} }

func (r Range) contains(v float64) bool {
	if r.Min != nil && v < *r.Min {
		return false
	}
	if r.Max != nil && v > *r.Max {
		return false
	}
	return true
}

// DefaultPageSize applies when Query.PageSize is not positive.
const DefaultPageSize = 20

// Query describes a list request. The same filters are applied by the remote and,
// when it is unreachable, by the local fallback.
type Query struct {
	// Search is a case-insensitive substring matched against text attributes.
	Search string

	Category string
	Status   string

	Ranges map[string]Range

	// Page is 1-based.
	Page     int
	PageSize int
}

// Key identifies the query for request deduplication.
func (q Query) Key() string {
	var b strings.Builder
	fmt.Fprintf(&b, "search=%s&category=%s&status=%s", q.Search, q.Category, q.Status)

	names := make([]string, 0, len(q.Ranges))
	for name := range q.Ranges {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		r := q.Ranges[name]
		b.WriteString("&" + name + "=")
		if r.Min != nil {
			fmt.Fprintf(&b, "%g", *r.Min)
		}
		b.WriteString("..")
		if r.Max != nil {
			fmt.Fprintf(&b, "%g", *r.Max)
		}
	}
	page, size := q.bounds()
	fmt.Fprintf(&b, "&page=%d&size=%d", page, size)
	return b.String()
}

// Match reports whether attributes satisfy every filter of q.
func (q Query) Match(a Attributes) bool {
	if q.Category != "" && a.Category != q.Category {
		return false
	}
	if q.Status != "" && a.Status != q.Status {
		return false
	}
	if q.Search != "" {
		needle := strings.ToLower(q.Search)
		found := false
		for _, text := range a.Text {
			if strings.Contains(strings.ToLower(text), needle) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for name, r := range q.Ranges {
		v, ok := a.Numbers[name]
		if !ok || !r.contains(v) {
			return false
		}
	}
	return true
}

func (q Query) bounds() (page, size int) {
	page, size = q.Page, q.PageSize
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	return page, size
}

// Page is one page of results.
type Page[E any] struct {
	Items    []E
	Total    int
	Page     int
	PageSize int

	// FromLocal is set when the page was served by the local mirror.
	FromLocal bool
}

/*
Apply filters items with q, orders them newest first (ties by id) and cuts out the
requested page. It is what the repository does when the remote is unreachable.
*/
func Apply[E Entity](items []E, q Query) Page[E] {
	matched := make([]E, 0, len(items))
	for _, e := range items {
		if q.Match(e.Attributes()) {
			matched = append(matched, e)
		}
	}
	slices.SortStableFunc(matched, func(a, b E) int {
		if c := b.Attributes().UpdatedAt.Compare(a.Attributes().UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.EntityID(), b.EntityID())
	})

	page, size := q.bounds()
	start := min((page-1)*size, len(matched))
	end := min(start+size, len(matched))
	return Page[E]{
		Items:     matched[start:end],
		Total:     len(matched),
		Page:      page,
		PageSize:  size,
		FromLocal: true,
	}
}
