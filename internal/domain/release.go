package domain

import (
	"sort"
	"strconv"
)

// Release is a tracker topic kept under periodic re-fetch and resubmission.
type Release struct {
	ID        string `json:"-"`
	SavePath  string `json:"save_path"`
	SourceURL string `json:"url"`
}

// Registry is the durable set of tracked releases keyed by release id.
type Registry struct {
	Releases map[string]Release `json:"releases"`
}

// NewRegistry returns an empty registry ready for inserts.
func NewRegistry() Registry {
	return Registry{Releases: map[string]Release{}}
}

// Len reports the number of tracked releases.
func (r Registry) Len() int {
	return len(r.Releases)
}

// Sorted returns releases ordered by id. Numeric ids sort numerically, anything
// else falls back to lexical order after them.
func (r Registry) Sorted() []Release {
	out := make([]Release, 0, len(r.Releases))
	for id, rel := range r.Releases {
		rel.ID = id
		out = append(out, rel)
	}
	sort.Slice(out, func(i, j int) bool {
		a, aErr := strconv.ParseUint(out[i].ID, 10, 64)
		b, bErr := strconv.ParseUint(out[j].ID, 10, 64)
		switch {
		case aErr == nil && bErr == nil:
			return a < b
		case aErr == nil:
			return true
		case bErr == nil:
			return false
		default:
			return out[i].ID < out[j].ID
		}
	})
	return out
}

// Clone returns a deep copy so callers can mutate without touching the original map.
func (r Registry) Clone() Registry {
	c := NewRegistry()
	for id, rel := range r.Releases {
		c.Releases[id] = rel
	}
	return c
}
