package geofence

import "sort"

// Set is a set of geofence ids.
type Set map[string]struct{}

// NewSet builds a set from ids.
func NewSet(ids ...string) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s Set) Has(id string) bool {
	_, ok := s[id]
	return ok
}

func (s Set) Add(id string) { s[id] = struct{}{} }

func (s Set) Remove(id string) { delete(s, id) }

// Clone returns an independent copy. A nil set clones to an empty one.
func (s Set) Clone() Set {
	c := make(Set, len(s))
	for id := range s {
		c[id] = struct{}{}
	}
	return c
}

// Minus returns the ids of s that are not in o, sorted.
func (s Set) Minus(o Set) []string {
	var out []string
	for id := range s {
		if !o.Has(id) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Intersect returns the ids present in both sets, sorted.
func (s Set) Intersect(o Set) []string {
	var out []string
	for id := range s {
		if o.Has(id) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Sorted returns the ids in ascending order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
