// Package visibility derives, as a pure function of the event history and
// the current reference set, which commits the user currently sees.
//
// Nothing here is persisted: a view is recomputed whenever the event log
// advances, so stored and derived state cannot diverge. Replaying history
// after an undo reproduces the correct visibility with no special cases.
package visibility

import (
	"revlog/internal/dag"
	"revlog/internal/event"
)

// State classifies a commit.
type State int

const (
	// Visible commits are reachable from a live reference and carry no
	// hide override. An unhide alone does not make an unreachable commit
	// visible; it only clears a prior hide.
	Visible State = iota
	// Hidden commits carry an explicit hide override.
	Hidden
	// Obsolete commits were superseded by a rewrite and have no visible
	// descendant, or are orphaned entirely.
	Obsolete
)

func (s State) String() string {
	switch s {
	case Visible:
		return "visible"
	case Hidden:
		return "hidden"
	case Obsolete:
		return "obsolete"
	}
	return "unknown"
}

// EventSource yields events in sequence order, such as an eventlog cursor.
type EventSource interface {
	Next() (event.Event, bool)
	Err() error
}

// View is the resolved visibility of every indexed commit at one point in
// the event log.
type View struct {
	graph      *dag.Graph
	reach      dag.CommitSet
	overrides  map[event.CommitID]bool // true = hidden; latest event wins
	obsolete   dag.CommitSet
	successors map[event.CommitID][]event.CommitID
}

// Resolve walks the event history and combines it with the commits
// reachable from refs.
func Resolve(events EventSource, refs map[string]event.CommitID, g *dag.Graph) (*View, error) {
	overrides := make(map[event.CommitID]bool)
	successors := make(map[event.CommitID][]event.CommitID)
	var rewritten []event.CommitID
	for ev, ok := events.Next(); ok; ev, ok = events.Next() {
		switch ev.Kind {
		case event.KindCommitHidden:
			overrides[ev.Commit] = true
		case event.KindCommitUnhidden:
			overrides[ev.Commit] = false
		case event.KindCommitRewritten:
			if len(successors[ev.Old]) == 0 {
				rewritten = append(rewritten, ev.Old)
			}
			successors[ev.Old] = append(successors[ev.Old], ev.New)
		}
	}
	if err := events.Err(); err != nil {
		return nil, err
	}

	targets := dag.NewSet()
	for _, id := range refs {
		if id != "" {
			targets.Add(id)
		}
	}
	reach, err := g.Ancestors(targets)
	if err != nil {
		return nil, err
	}

	// Rewrite-derived obsolescence. Explicit hide/unhide overrides always
	// take precedence, so overridden commits are skipped outright.
	visibleBase := make(dag.CommitSet)
	for id := range reach {
		if hidden, ok := overrides[id]; !ok || !hidden {
			visibleBase.Add(id)
		}
	}
	// A rewritten commit whose only reachable descendants are themselves
	// obsolete must end up obsolete too, so iterate until stable. The
	// visible base only shrinks, so this terminates.
	obsolete := make(dag.CommitSet)
	for changed := true; changed; {
		changed = false
		for _, old := range rewritten {
			if obsolete.Contains(old) {
				continue
			}
			if _, ok := overrides[old]; ok {
				continue
			}
			if !g.Contains(old) {
				continue
			}
			desc, err := g.Descendants(dag.NewSet(old))
			if err != nil {
				return nil, err
			}
			delete(desc, old)
			if desc.Intersect(visibleBase).Len() == 0 {
				obsolete.Add(old)
				delete(visibleBase, old)
				changed = true
			}
		}
	}

	return &View{
		graph:      g,
		reach:      reach,
		overrides:  overrides,
		obsolete:   obsolete,
		successors: successors,
	}, nil
}

// StateOf returns the visibility of one commit. An unindexed commit is an
// UnknownCommitError, not Obsolete, so callers can tell typos apart.
func (v *View) StateOf(id event.CommitID) (State, error) {
	if !v.graph.Contains(id) {
		return Obsolete, &dag.UnknownCommitError{ID: id}
	}
	if hidden, ok := v.overrides[id]; ok && hidden {
		return Hidden, nil
	}
	if v.obsolete.Contains(id) {
		return Obsolete, nil
	}
	if v.reach.Contains(id) {
		return Visible, nil
	}
	return Obsolete, nil // orphaned
}

// Visible returns every commit currently classified Visible.
func (v *View) Visible() dag.CommitSet {
	return v.collect(Visible)
}

// Hidden returns every commit currently classified Hidden.
func (v *View) Hidden() dag.CommitSet {
	return v.collect(Hidden)
}

// ObsoleteSet returns every commit currently classified Obsolete.
func (v *View) ObsoleteSet() dag.CommitSet {
	return v.collect(Obsolete)
}

func (v *View) collect(want State) dag.CommitSet {
	out := make(dag.CommitSet)
	for id := range v.graph.All() {
		if st, err := v.StateOf(id); err == nil && st == want {
			out.Add(id)
		}
	}
	return out
}

// Successors returns, in event order, the commits that superseded id.
func (v *View) Successors(id event.CommitID) []event.CommitID {
	return v.successors[id]
}
