package visibility

import (
	"errors"
	"testing"

	"revlog/internal/dag"
	"revlog/internal/event"
)

// sliceSource replays a fixed event slice, standing in for a log cursor.
type sliceSource struct {
	events []event.Event
	i      int
}

func (s *sliceSource) Next() (event.Event, bool) {
	if s.i >= len(s.events) {
		return event.Event{}, false
	}
	ev := s.events[s.i]
	s.i++
	return ev, true
}

func (s *sliceSource) Err() error { return nil }

// graph a <- b <- c, with b2 as a rewrite target candidate of b.
func testGraph(t *testing.T) *dag.Graph {
	t.Helper()
	g := dag.New()
	for _, ins := range []struct {
		id      event.CommitID
		parents []event.CommitID
	}{
		{"a", nil},
		{"b", []event.CommitID{"a"}},
		{"c", []event.CommitID{"b"}},
		{"b2", []event.CommitID{"a"}},
	} {
		if err := g.Insert(ins.id, ins.parents); err != nil {
			t.Fatal(err)
		}
	}
	return g
}

func resolve(t *testing.T, events []event.Event, refs map[string]event.CommitID, g *dag.Graph) *View {
	t.Helper()
	v, err := Resolve(&sliceSource{events: events}, refs, g)
	if err != nil {
		t.Fatalf("resolving visibility: %v", err)
	}
	return v
}

func stateOf(t *testing.T, v *View, id event.CommitID) State {
	t.Helper()
	st, err := v.StateOf(id)
	if err != nil {
		t.Fatalf("state of %s: %v", id, err)
	}
	return st
}

func TestReachableIsVisible(t *testing.T) {
	g := testGraph(t)
	v := resolve(t, nil, map[string]event.CommitID{"main": "c"}, g)
	for _, id := range []event.CommitID{"a", "b", "c"} {
		if st := stateOf(t, v, id); st != Visible {
			t.Errorf("state of %s = %s, want visible", id, st)
		}
	}
	// b2 is reachable from nothing.
	if st := stateOf(t, v, "b2"); st != Obsolete {
		t.Errorf("state of orphaned b2 = %s, want obsolete", st)
	}
}

func TestRewrittenWithoutVisibleDescendantIsObsolete(t *testing.T) {
	g := testGraph(t)
	// b was rewritten to b2 and main moved to b2; c is gone from view.
	events := []event.Event{event.CommitRewritten("b", "b2")}
	v := resolve(t, events, map[string]event.CommitID{"main": "b2"}, g)
	if st := stateOf(t, v, "b"); st != Obsolete {
		t.Errorf("state of rewritten b = %s, want obsolete", st)
	}
	if st := stateOf(t, v, "b2"); st != Visible {
		t.Errorf("state of successor b2 = %s, want visible", st)
	}
}

func TestRewrittenWithVisibleDescendantStaysVisible(t *testing.T) {
	g := testGraph(t)
	// b rewritten, but c (its descendant) is still on a live branch.
	events := []event.Event{event.CommitRewritten("b", "b2")}
	v := resolve(t, events, map[string]event.CommitID{"main": "c"}, g)
	if st := stateOf(t, v, "b"); st != Visible {
		t.Errorf("state of b = %s, want visible (c still visible)", st)
	}
}

func TestHideUnhideLastEventWins(t *testing.T) {
	g := testGraph(t)
	refs := map[string]event.CommitID{"main": "c"}

	// Several hide/unhide cycles; the commit is reachable, so the final
	// unhide makes it visible again regardless of how many came before.
	events := []event.Event{
		event.CommitHidden("b"),
		event.CommitUnhidden("b"),
		event.CommitHidden("b"),
		event.CommitUnhidden("b"),
	}
	v := resolve(t, events, refs, g)
	if st := stateOf(t, v, "b"); st != Visible {
		t.Errorf("state of b = %s, want visible after final unhide", st)
	}

	v = resolve(t, append(events, event.CommitHidden("b")), refs, g)
	if st := stateOf(t, v, "b"); st != Hidden {
		t.Errorf("state of b = %s, want hidden after final hide", st)
	}
}

func TestOverrideBeatsObsolescence(t *testing.T) {
	g := testGraph(t)
	events := []event.Event{
		event.CommitRewritten("b", "b2"),
		event.CommitUnhidden("b"),
	}
	// b would be obsolete, but the explicit unhide takes precedence and
	// b is reachable from main.
	v := resolve(t, events, map[string]event.CommitID{"main": "c", "next": "b2"}, g)
	if st := stateOf(t, v, "b"); st != Visible {
		t.Errorf("state of b = %s, want visible (override beats rewrite)", st)
	}
}

// A rewritten commit whose only descendant is itself obsolete must become
// obsolete too, even while a stale reference keeps the pair reachable.
func TestChainedRewriteWithStaleRef(t *testing.T) {
	g := dag.New()
	for _, ins := range []struct {
		id      event.CommitID
		parents []event.CommitID
	}{
		{"aaa", nil},
		{"bbb", []event.CommitID{"aaa"}},
		{"new", nil},
	} {
		if err := g.Insert(ins.id, ins.parents); err != nil {
			t.Fatal(err)
		}
	}
	events := []event.Event{
		event.CommitRewritten("bbb", "new"),
		event.CommitRewritten("aaa", "new"),
	}
	refs := map[string]event.CommitID{"main": "new", "stale": "bbb"}
	v := resolve(t, events, refs, g)
	if st := stateOf(t, v, "bbb"); st != Obsolete {
		t.Errorf("state of bbb = %s, want obsolete", st)
	}
	if st := stateOf(t, v, "aaa"); st != Obsolete {
		t.Errorf("state of aaa = %s, want obsolete (only descendant is obsolete)", st)
	}
	if st := stateOf(t, v, "new"); st != Visible {
		t.Errorf("state of new = %s, want visible", st)
	}
}

func TestUnhiddenButUnreachableIsObsolete(t *testing.T) {
	g := testGraph(t)
	events := []event.Event{
		event.CommitHidden("b2"),
		event.CommitUnhidden("b2"),
	}
	v := resolve(t, events, map[string]event.CommitID{"main": "c"}, g)
	if st := stateOf(t, v, "b2"); st != Obsolete {
		t.Errorf("state of b2 = %s, want obsolete (unhidden but orphaned)", st)
	}
}

func TestStateOfUnknownCommit(t *testing.T) {
	g := testGraph(t)
	v := resolve(t, nil, map[string]event.CommitID{"main": "c"}, g)
	_, err := v.StateOf("nope")
	var unknown *dag.UnknownCommitError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownCommitError, got %v", err)
	}
}

func TestCollectSets(t *testing.T) {
	g := testGraph(t)
	events := []event.Event{
		event.CommitRewritten("b", "b2"),
		event.CommitHidden("c"),
	}
	v := resolve(t, events, map[string]event.CommitID{"main": "b2"}, g)
	if got := v.Visible(); got.Len() != 2 || !got.Contains("a") || !got.Contains("b2") {
		t.Fatalf("visible = %v, want [a b2]", got.Sorted())
	}
	if got := v.Hidden(); got.Len() != 1 || !got.Contains("c") {
		t.Fatalf("hidden = %v, want [c]", got.Sorted())
	}
	if got := v.ObsoleteSet(); !got.Contains("b") {
		t.Fatalf("obsolete = %v, want to include b", got.Sorted())
	}
}

func TestSuccessors(t *testing.T) {
	g := testGraph(t)
	events := []event.Event{event.CommitRewritten("b", "b2")}
	v := resolve(t, events, map[string]event.CommitID{"main": "b2"}, g)
	succ := v.Successors("b")
	if len(succ) != 1 || succ[0] != "b2" {
		t.Fatalf("successors of b = %v, want [b2]", succ)
	}
}
