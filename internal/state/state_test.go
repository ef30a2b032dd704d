package state

import (
	"path/filepath"
	"testing"

	"revlog/internal/event"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCommitCacheRoundTrip(t *testing.T) {
	db := openTestDB(t)
	if err := db.InsertCommit("root", nil); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertCommit("merge", []event.CommitID{"a", "b"}); err != nil {
		t.Fatal(err)
	}

	got := make(map[event.CommitID][]event.CommitID)
	err := db.EachCommit(func(id event.CommitID, parents []event.CommitID) error {
		got[id] = parents
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("cached %d commits, want 2", len(got))
	}
	if len(got["root"]) != 0 {
		t.Errorf("root parents = %v, want none", got["root"])
	}
	if p := got["merge"]; len(p) != 2 || p[0] != "a" || p[1] != "b" {
		t.Errorf("merge parents = %v, want [a b]", p)
	}
}

func TestInsertCommitIdempotent(t *testing.T) {
	db := openTestDB(t)
	if err := db.InsertCommit("c1", []event.CommitID{"p"}); err != nil {
		t.Fatal(err)
	}
	// Adjacency is immutable; a second insert with different parents is a
	// no-op rather than an overwrite.
	if err := db.InsertCommit("c1", []event.CommitID{"other"}); err != nil {
		t.Fatal(err)
	}
	err := db.EachCommit(func(id event.CommitID, parents []event.CommitID) error {
		if id == "c1" && (len(parents) != 1 || parents[0] != "p") {
			t.Errorf("c1 parents = %v, want [p]", parents)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestInsertCommitsBatch(t *testing.T) {
	db := openTestDB(t)
	batch := map[event.CommitID][]event.CommitID{
		"a": nil,
		"b": {"a"},
		"c": {"b"},
	}
	if err := db.InsertCommits(batch); err != nil {
		t.Fatal(err)
	}
	var n int
	err := db.EachCommit(func(event.CommitID, []event.CommitID) error {
		n++
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("cached %d commits, want 3", n)
	}
}

func TestAliasStorage(t *testing.T) {
	db := openTestDB(t)
	if err := db.SetAlias("stack", "draft() & ancestors(HEAD)"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetAlias("stack", "draft()"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetAlias("mine", `author("me")`); err != nil {
		t.Fatal(err)
	}

	got, err := db.Aliases()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d aliases, want 2", len(got))
	}
	if got["stack"] != "draft()" {
		t.Errorf("stack = %q, want the replacement definition", got["stack"])
	}

	if err := db.DeleteAlias("mine"); err != nil {
		t.Fatal(err)
	}
	if err := db.DeleteAlias("mine"); err == nil {
		t.Fatal("deleting a missing alias should fail")
	}
}

func TestCacheSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.InsertCommit("c1", nil); err != nil {
		t.Fatal(err)
	}
	if err := db.SetAlias("stack", "draft()"); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	db2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db2.Close()
	var n int
	if err := db2.EachCommit(func(event.CommitID, []event.CommitID) error { n++; return nil }); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("reopened cache has %d commits, want 1", n)
	}
	aliases, err := db2.Aliases()
	if err != nil {
		t.Fatal(err)
	}
	if aliases["stack"] != "draft()" {
		t.Fatalf("reopened aliases = %v", aliases)
	}
}
