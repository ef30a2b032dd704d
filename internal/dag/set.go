package dag

import (
	"sort"

	"revlog/internal/event"
)

// CommitSet is a set of commit ids.
type CommitSet map[event.CommitID]struct{}

// NewSet returns a set of the given ids.
func NewSet(ids ...event.CommitID) CommitSet {
	s := make(CommitSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add inserts id into the set.
func (s CommitSet) Add(id event.CommitID) { s[id] = struct{}{} }

// Contains reports whether id is in the set.
func (s CommitSet) Contains(id event.CommitID) bool {
	_, ok := s[id]
	return ok
}

// Len returns the cardinality of the set.
func (s CommitSet) Len() int { return len(s) }

// Union returns s ∪ t.
func (s CommitSet) Union(t CommitSet) CommitSet {
	out := make(CommitSet, len(s)+len(t))
	for id := range s {
		out[id] = struct{}{}
	}
	for id := range t {
		out[id] = struct{}{}
	}
	return out
}

// Intersect returns s ∩ t.
func (s CommitSet) Intersect(t CommitSet) CommitSet {
	small, large := s, t
	if len(large) < len(small) {
		small, large = large, small
	}
	out := make(CommitSet)
	for id := range small {
		if _, ok := large[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out
}

// Difference returns s ∖ t.
func (s CommitSet) Difference(t CommitSet) CommitSet {
	out := make(CommitSet)
	for id := range s {
		if _, ok := t[id]; !ok {
			out[id] = struct{}{}
		}
	}
	return out
}

// Sorted returns the members in lexicographic order, for deterministic
// output and tests.
func (s CommitSet) Sorted() []event.CommitID {
	out := make([]event.CommitID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
