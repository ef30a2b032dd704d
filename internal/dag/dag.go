// Package dag maintains the in-memory index over the commit graph: an arena
// of commit nodes with parent/child adjacency and ancestor/descendant set
// algebra.
//
// Linear runs of history are collapsed into segments: a segment is a maximal
// chain where every interior commit has exactly one parent and one child,
// both inside the segment. Explicit edge lists exist only at segment
// boundaries (merge and branch points), so closure walks jump whole runs of
// linear history instead of visiting every edge.
package dag

import (
	"container/heap"
	"fmt"
	"strings"

	"revlog/internal/event"
)

// UnknownCommitError reports a query that mentioned a commit the graph has
// never indexed. It is distinct from an empty result so callers can surface
// typos.
type UnknownCommitError struct {
	ID event.CommitID
}

func (e *UnknownCommitError) Error() string {
	return fmt.Sprintf("unknown commit %s", e.ID)
}

// InconsistentHistoryError reports two insertions that disagree on a
// commit's parents. Commit identity is content-addressed and parents are
// part of that identity, so this indicates backing-repository corruption or
// a logic bug; it is surfaced, never auto-repaired.
type InconsistentHistoryError struct {
	ID   event.CommitID
	Have []event.CommitID
	Got  []event.CommitID
}

func (e *InconsistentHistoryError) Error() string {
	return fmt.Sprintf("inconsistent history for %s: indexed parents [%s], got [%s]",
		e.ID, joinIDs(e.Have), joinIDs(e.Got))
}

func joinIDs(ids []event.CommitID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ", ")
}

type node struct {
	id       event.CommitID
	parents  []int
	children []int
	gen      int // 1 + max parent generation; roots are 1
	seg      int
	off      int // position within the segment, ancestor side first
}

type segment struct {
	members []int // arena indices in chain order
}

// Graph is the commit graph index. It is not safe for concurrent mutation;
// the owning timeline refreshes it synchronously (single-writer model).
type Graph struct {
	nodes []node
	byID  map[event.CommitID]int
	segs  []segment
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{byID: make(map[event.CommitID]int)}
}

// Len returns the number of indexed commits.
func (g *Graph) Len() int { return len(g.nodes) }

// Contains reports whether id has been indexed.
func (g *Graph) Contains(id event.CommitID) bool {
	_, ok := g.byID[id]
	return ok
}

// All returns the set of every indexed commit.
func (g *Graph) All() CommitSet {
	out := make(CommitSet, len(g.nodes))
	for i := range g.nodes {
		out[g.nodes[i].id] = struct{}{}
	}
	return out
}

// ParentsOf returns the parent ids of a commit.
func (g *Graph) ParentsOf(id event.CommitID) ([]event.CommitID, error) {
	idx, ok := g.byID[id]
	if !ok {
		return nil, &UnknownCommitError{ID: id}
	}
	n := &g.nodes[idx]
	out := make([]event.CommitID, len(n.parents))
	for i, p := range n.parents {
		out[i] = g.nodes[p].id
	}
	return out, nil
}

// Insert indexes a commit with its parents. Inserting an already-present
// commit with the same parents is a no-op; different parents are an
// InconsistentHistoryError. Every parent must already be indexed, which
// keeps the graph acyclic by construction.
func (g *Graph) Insert(id event.CommitID, parents []event.CommitID) error {
	if _, ok := g.byID[id]; ok {
		have, _ := g.ParentsOf(id)
		if sameIDs(have, parents) {
			return nil
		}
		return &InconsistentHistoryError{ID: id, Have: have, Got: parents}
	}

	pidx := make([]int, len(parents))
	gen := 1
	for i, p := range parents {
		pi, ok := g.byID[p]
		if !ok {
			return &UnknownCommitError{ID: p}
		}
		pidx[i] = pi
		if g.nodes[pi].gen+1 > gen {
			gen = g.nodes[pi].gen + 1
		}
	}

	idx := len(g.nodes)
	g.nodes = append(g.nodes, node{id: id, parents: pidx, gen: gen})
	g.byID[id] = idx

	for _, pi := range pidx {
		g.nodes[pi].children = append(g.nodes[pi].children, idx)
	}
	g.placeInSegment(idx)
	return nil
}

// placeInSegment extends the sole parent's segment when the chain property
// holds, otherwise starts a new segment, splitting the segment of every
// parent that just became a branch point.
func (g *Graph) placeInSegment(idx int) {
	n := &g.nodes[idx]
	if len(n.parents) == 1 {
		pi := n.parents[0]
		p := &g.nodes[pi]
		seg := &g.segs[p.seg]
		if p.off == len(seg.members)-1 && len(p.children) == 1 {
			// children already includes idx; the parent had none before.
			n.seg = p.seg
			n.off = len(seg.members)
			seg.members = append(seg.members, idx)
			return
		}
	}
	// Every interior parent just gained an out-of-segment child: split so
	// interior members keep exactly one child and closure walks only need
	// the tail's child edges.
	for _, pi := range n.parents {
		p := &g.nodes[pi]
		if p.off != len(g.segs[p.seg].members)-1 {
			g.splitSegment(p.seg, p.off)
		}
	}
	n.seg = len(g.segs)
	n.off = 0
	g.segs = append(g.segs, segment{members: []int{idx}})
}

// splitSegment cuts the segment after position off; members past off form a
// fresh segment.
func (g *Graph) splitSegment(si, off int) {
	seg := &g.segs[si]
	moved := append([]int(nil), seg.members[off+1:]...)
	seg.members = seg.members[:off+1]
	ni := len(g.segs)
	g.segs = append(g.segs, segment{members: moved})
	for i, m := range moved {
		g.nodes[m].seg = ni
		g.nodes[m].off = i
	}
}

func sameIDs(a, b []event.CommitID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (g *Graph) lookup(set CommitSet) ([]int, error) {
	out := make([]int, 0, len(set))
	for id := range set {
		idx, ok := g.byID[id]
		if !ok {
			return nil, &UnknownCommitError{ID: id}
		}
		out = append(out, idx)
	}
	return out, nil
}

// Ancestors returns the ancestor closure of set, inclusive of set itself.
func (g *Graph) Ancestors(set CommitSet) (CommitSet, error) {
	starts, err := g.lookup(set)
	if err != nil {
		return nil, err
	}
	// best[seg] is the deepest covered offset; coverage is the prefix
	// [0..best], all of which are ancestors through the chain.
	best := make(map[int]int)
	type pos struct{ seg, off int }
	var stack []pos
	for _, idx := range starts {
		stack = append(stack, pos{g.nodes[idx].seg, g.nodes[idx].off})
	}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if b, ok := best[p.seg]; ok {
			if p.off > b {
				best[p.seg] = p.off
			}
			continue
		}
		best[p.seg] = p.off
		head := g.segs[p.seg].members[0]
		for _, pi := range g.nodes[head].parents {
			stack = append(stack, pos{g.nodes[pi].seg, g.nodes[pi].off})
		}
	}
	out := make(CommitSet)
	for si, off := range best {
		for _, m := range g.segs[si].members[:off+1] {
			out[g.nodes[m].id] = struct{}{}
		}
	}
	return out, nil
}

// Descendants returns the descendant closure of set, inclusive of set
// itself.
func (g *Graph) Descendants(set CommitSet) (CommitSet, error) {
	starts, err := g.lookup(set)
	if err != nil {
		return nil, err
	}
	// first[seg] is the shallowest covered offset; coverage is the suffix
	// [first..len).
	first := make(map[int]int)
	type pos struct{ seg, off int }
	var stack []pos
	for _, idx := range starts {
		stack = append(stack, pos{g.nodes[idx].seg, g.nodes[idx].off})
	}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if f, ok := first[p.seg]; ok {
			if p.off < f {
				first[p.seg] = p.off
			}
			continue
		}
		first[p.seg] = p.off
		members := g.segs[p.seg].members
		tail := members[len(members)-1]
		for _, ci := range g.nodes[tail].children {
			stack = append(stack, pos{g.nodes[ci].seg, g.nodes[ci].off})
		}
	}
	out := make(CommitSet)
	for si, off := range first {
		for _, m := range g.segs[si].members[off:] {
			out[g.nodes[m].id] = struct{}{}
		}
	}
	return out, nil
}

// Range returns descendants({a}) ∩ ancestors({b}): the commits between a
// and b inclusive.
func (g *Graph) Range(a, b event.CommitID) (CommitSet, error) {
	down, err := g.Descendants(NewSet(a))
	if err != nil {
		return nil, err
	}
	up, err := g.Ancestors(NewSet(b))
	if err != nil {
		return nil, err
	}
	return down.Intersect(up), nil
}

// Parents returns the union of all parents of members of set.
func (g *Graph) Parents(set CommitSet) (CommitSet, error) {
	starts, err := g.lookup(set)
	if err != nil {
		return nil, err
	}
	out := make(CommitSet)
	for _, idx := range starts {
		for _, pi := range g.nodes[idx].parents {
			out[g.nodes[pi].id] = struct{}{}
		}
	}
	return out, nil
}

// Children returns the union of all children of members of set.
func (g *Graph) Children(set CommitSet) (CommitSet, error) {
	starts, err := g.lookup(set)
	if err != nil {
		return nil, err
	}
	out := make(CommitSet)
	for _, idx := range starts {
		for _, ci := range g.nodes[idx].children {
			out[g.nodes[ci].id] = struct{}{}
		}
	}
	return out, nil
}

// Roots returns the members of set with no parent inside set.
func (g *Graph) Roots(set CommitSet) (CommitSet, error) {
	starts, err := g.lookup(set)
	if err != nil {
		return nil, err
	}
	out := make(CommitSet)
	for _, idx := range starts {
		inSet := false
		for _, pi := range g.nodes[idx].parents {
			if set.Contains(g.nodes[pi].id) {
				inSet = true
				break
			}
		}
		if !inSet {
			out[g.nodes[idx].id] = struct{}{}
		}
	}
	return out, nil
}

// Heads returns the members of set with no child inside set.
func (g *Graph) Heads(set CommitSet) (CommitSet, error) {
	starts, err := g.lookup(set)
	if err != nil {
		return nil, err
	}
	out := make(CommitSet)
	for _, idx := range starts {
		inSet := false
		for _, ci := range g.nodes[idx].children {
			if set.Contains(g.nodes[ci].id) {
				inSet = true
				break
			}
		}
		if !inSet {
			out[g.nodes[idx].id] = struct{}{}
		}
	}
	return out, nil
}

const (
	flagA = 1 << iota
	flagB
)

type genHeap struct {
	g   *Graph
	idx []int
}

func (h *genHeap) Len() int { return len(h.idx) }
func (h *genHeap) Less(i, j int) bool {
	return h.g.nodes[h.idx[i]].gen > h.g.nodes[h.idx[j]].gen
}
func (h *genHeap) Swap(i, j int)      { h.idx[i], h.idx[j] = h.idx[j], h.idx[i] }
func (h *genHeap) Push(x interface{}) { h.idx = append(h.idx, x.(int)) }
func (h *genHeap) Pop() interface{} {
	old := h.idx
	n := len(old)
	x := old[n-1]
	h.idx = old[:n-1]
	return x
}

// MergeBase returns the most recent common ancestor of a and b, or ok=false
// when the two commits share no history. Traversal is ordered by descending
// generation number, so the first commit reached from both sides is a
// maximal common ancestor.
func (g *Graph) MergeBase(a, b event.CommitID) (event.CommitID, bool, error) {
	ai, ok := g.byID[a]
	if !ok {
		return "", false, &UnknownCommitError{ID: a}
	}
	bi, ok := g.byID[b]
	if !ok {
		return "", false, &UnknownCommitError{ID: b}
	}

	flags := make(map[int]uint8)
	h := &genHeap{g: g}
	// A node re-enters the heap whenever it gains a new flag; duplicate
	// entries are harmless since parents only get pushed on a flag change.
	push := func(idx int, f uint8) {
		old := flags[idx]
		if old|f == old && old != 0 {
			return
		}
		flags[idx] = old | f
		heap.Push(h, idx)
	}
	push(ai, flagA)
	push(bi, flagB)

	for h.Len() > 0 {
		idx := heap.Pop(h).(int)
		f := flags[idx]
		if f&flagA != 0 && f&flagB != 0 {
			return g.nodes[idx].id, true, nil
		}
		for _, pi := range g.nodes[idx].parents {
			push(pi, f&(flagA|flagB))
		}
	}
	return "", false, nil
}
