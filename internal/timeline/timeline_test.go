package timeline

import (
	"errors"
	"fmt"
	"testing"

	"revlog/internal/event"
	"revlog/internal/undo"
	"revlog/internal/visibility"
)

// fakeRepo is an in-memory Repository: a fixed commit graph plus mutable
// live references.
type fakeRepo struct {
	parents  map[event.CommitID][]event.CommitID
	refs     map[string]event.CommitID
	messages map[event.CommitID]string
	authors  map[event.CommitID]string
}

func (r *fakeRepo) Parents(id event.CommitID) ([]event.CommitID, error) {
	p, ok := r.parents[id]
	if !ok {
		return nil, fmt.Errorf("no commit %s", id)
	}
	return p, nil
}

func (r *fakeRepo) References() (map[string]event.CommitID, error) {
	out := make(map[string]event.CommitID, len(r.refs))
	for k, v := range r.refs {
		out[k] = v
	}
	return out, nil
}

func (r *fakeRepo) Message(id event.CommitID) (string, error) { return r.messages[id], nil }
func (r *fakeRepo) Author(id event.CommitID) (string, error)  { return r.authors[id], nil }

// newFakeRepo builds c1 <- c2 <- c3 on main with c4 branching off c1 as
// feature.
func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		parents: map[event.CommitID][]event.CommitID{
			"c1": nil,
			"c2": {"c1"},
			"c3": {"c2"},
			"c4": {"c1"},
			"c5": {"c2"}, // amended c3, not referenced until a test moves main
		},
		refs: map[string]event.CommitID{
			"main":    "c3",
			"feature": "c4",
		},
		messages: map[event.CommitID]string{
			"c1": "initial\n", "c2": "add parser\n", "c3": "fix: lexer\n",
			"c4": "wip\n", "c5": "fix: lexer, take two\n",
		},
		authors: map[event.CommitID]string{
			"c1": "alice", "c2": "alice", "c3": "bob", "c4": "bob", "c5": "bob",
		},
	}
}

func openTestTimeline(t *testing.T, repo *fakeRepo) (*Timeline, string) {
	t.Helper()
	root := t.TempDir()
	if _, err := Init(root); err != nil {
		t.Fatalf("init: %v", err)
	}
	tl, err := Open(root, repo)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { tl.Close() })
	return tl, root
}

func TestSyncRecordsReferencesAndCommits(t *testing.T) {
	repo := newFakeRepo()
	tl, _ := openTestTimeline(t, repo)

	id, err := tl.Sync()
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if id == 0 {
		t.Fatal("first sync recorded nothing")
	}
	refs := tl.Refs()
	if refs["main"] != "c3" || refs["feature"] != "c4" {
		t.Fatalf("recorded refs = %v", refs)
	}
	for _, c := range []event.CommitID{"c1", "c2", "c3", "c4"} {
		if !tl.Graph().Contains(c) {
			t.Errorf("commit %s not indexed", c)
		}
	}
	if st, err := tl.VisibilityOf("c3"); err != nil || st != visibility.Visible {
		t.Errorf("visibility of c3 = %v, %v", st, err)
	}

	// Nothing changed: a second sync is a no-op.
	id, err = tl.Sync()
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if id != 0 {
		t.Fatalf("second sync recorded transaction %d, want none", id)
	}
}

func TestSyncPicksUpRefDeletion(t *testing.T) {
	repo := newFakeRepo()
	tl, _ := openTestTimeline(t, repo)
	if _, err := tl.Sync(); err != nil {
		t.Fatal(err)
	}

	delete(repo.refs, "feature")
	if _, err := tl.Sync(); err != nil {
		t.Fatal(err)
	}
	if _, ok := tl.Refs()["feature"]; ok {
		t.Fatal("deleted reference still recorded")
	}
	// c4 lost its only reference and has no rewrite: orphaned.
	if st, _ := tl.VisibilityOf("c4"); st != visibility.Obsolete {
		t.Fatalf("visibility of c4 = %v, want Obsolete", st)
	}
}

func TestHideUnhide(t *testing.T) {
	repo := newFakeRepo()
	tl, _ := openTestTimeline(t, repo)
	if _, err := tl.Sync(); err != nil {
		t.Fatal(err)
	}

	tx := tl.Begin("hide c4")
	tx.Hide("c4")
	if _, err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	if st, _ := tl.VisibilityOf("c4"); st != visibility.Hidden {
		t.Fatalf("after hide, c4 = %v", st)
	}

	tx = tl.Begin("unhide c4")
	tx.Unhide("c4")
	if _, err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	if st, _ := tl.VisibilityOf("c4"); st != visibility.Visible {
		t.Fatalf("after unhide, c4 = %v", st)
	}
}

func TestUndoRestoresRewrite(t *testing.T) {
	repo := newFakeRepo()
	tl, _ := openTestTimeline(t, repo)
	if _, err := tl.Sync(); err != nil {
		t.Fatal(err)
	}

	tx := tl.Begin("amend c3")
	tx.CommitRewritten("c3", "c5")
	tx.ReferenceUpdated("main", "c3", "c5")
	amendID, err := tx.Commit()
	if err != nil {
		t.Fatal(err)
	}
	if tl.Refs()["main"] != "c5" {
		t.Fatalf("main = %s after amend", tl.Refs()["main"])
	}
	if st, _ := tl.VisibilityOf("c3"); st != visibility.Obsolete {
		t.Fatalf("rewritten c3 = %v, want Obsolete", st)
	}

	if _, _, err := tl.Undo(amendID, false); err != nil {
		t.Fatalf("undo: %v", err)
	}
	if tl.Refs()["main"] != "c3" {
		t.Fatalf("main = %s after undo, want c3", tl.Refs()["main"])
	}
	if st, _ := tl.VisibilityOf("c3"); st != visibility.Visible {
		t.Fatalf("after undo, c3 = %v, want Visible", st)
	}
	if st, _ := tl.VisibilityOf("c5"); st != visibility.Hidden {
		t.Fatalf("after undo, c5 = %v, want Hidden", st)
	}
}

func TestUndoRefusesDivergedReference(t *testing.T) {
	repo := newFakeRepo()
	tl, _ := openTestTimeline(t, repo)
	if _, err := tl.Sync(); err != nil {
		t.Fatal(err)
	}

	tx := tl.Begin("move main")
	tx.ReferenceUpdated("main", "c3", "c5")
	moveID, err := tx.Commit()
	if err != nil {
		t.Fatal(err)
	}
	tx = tl.Begin("move main again")
	tx.ReferenceUpdated("main", "c5", "c4")
	if _, err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	_, _, err = tl.Undo(moveID, false)
	var diverged *undo.DivergedStateError
	if !errors.As(err, &diverged) {
		t.Fatalf("expected DivergedStateError, got %v", err)
	}
	if _, _, err := tl.Undo(moveID, true); err != nil {
		t.Fatalf("forced undo: %v", err)
	}
	if tl.Refs()["main"] != "c3" {
		t.Fatalf("main = %s after forced undo, want c3", tl.Refs()["main"])
	}
}

func TestEvaluateRevset(t *testing.T) {
	repo := newFakeRepo()
	tl, _ := openTestTimeline(t, repo)
	if _, err := tl.Sync(); err != nil {
		t.Fatal(err)
	}

	set, err := tl.EvaluateRevset("ancestors(main)")
	if err != nil {
		t.Fatal(err)
	}
	if set.Len() != 3 || !set.Contains("c1") || !set.Contains("c3") {
		t.Fatalf("ancestors(main) = %v", set.Sorted())
	}

	// feature's stack: everything reachable from feature but not main.
	set, err = tl.EvaluateRevset("ancestors(feature) - ancestors(main)")
	if err != nil {
		t.Fatal(err)
	}
	if set.Len() != 1 || !set.Contains("c4") {
		t.Fatalf("stack = %v", set.Sorted())
	}
}

func TestAliasesPersistAcrossReopen(t *testing.T) {
	repo := newFakeRepo()
	root := t.TempDir()
	if _, err := Init(root); err != nil {
		t.Fatal(err)
	}
	tl, err := Open(root, repo)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tl.Sync(); err != nil {
		t.Fatal(err)
	}
	if err := tl.DefineAlias("stack", "ancestors(feature) - ancestors(main)"); err != nil {
		t.Fatal(err)
	}
	tl.Close()

	tl, err = Open(root, repo)
	if err != nil {
		t.Fatal(err)
	}
	defer tl.Close()
	if _, ok := tl.Aliases()["stack"]; !ok {
		t.Fatal("alias did not survive reopen")
	}
	set, err := tl.EvaluateRevset("stack")
	if err != nil {
		t.Fatal(err)
	}
	if set.Len() != 1 || !set.Contains("c4") {
		t.Fatalf("stack = %v after reopen", set.Sorted())
	}
}

func TestStateSurvivesReopen(t *testing.T) {
	repo := newFakeRepo()
	root := t.TempDir()
	if _, err := Init(root); err != nil {
		t.Fatal(err)
	}
	tl, err := Open(root, repo)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tl.Sync(); err != nil {
		t.Fatal(err)
	}
	tx := tl.Begin("hide c4")
	tx.Hide("c4")
	if _, err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	tl.Close()

	tl, err = Open(root, repo)
	if err != nil {
		t.Fatal(err)
	}
	defer tl.Close()
	for _, c := range []event.CommitID{"c1", "c2", "c3", "c4"} {
		if !tl.Graph().Contains(c) {
			t.Errorf("commit %s missing after reopen", c)
		}
	}
	if tl.Refs()["main"] != "c3" {
		t.Fatalf("main = %s after reopen", tl.Refs()["main"])
	}
	if st, _ := tl.VisibilityOf("c4"); st != visibility.Hidden {
		t.Fatalf("hide override lost on reopen: c4 = %v", st)
	}
}
