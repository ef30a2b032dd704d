// Package timeline wires the event store, the commit graph index, and the
// visibility resolver into the event-sourced model of repository history,
// and exposes the intake and query surface consumed by the CLI.
package timeline

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"revlog/internal/config"
	"revlog/internal/dag"
	"revlog/internal/event"
	"revlog/internal/eventlog"
	"revlog/internal/revset"
	"revlog/internal/state"
	"revlog/internal/undo"
	"revlog/internal/visibility"
)

const (
	// StateDirName is the directory created inside the repository root.
	StateDirName = ".revlog"

	logFile     = "events.log"
	archiveFile = "events.archive.zst"
	dbFile      = "state.db"
	configFile  = "config.yml"
)

// Repository is the backing-repository collaborator: the sole authority
// for commit content and the source of live references.
type Repository interface {
	Parents(id event.CommitID) ([]event.CommitID, error)
	References() (map[string]event.CommitID, error)
	Message(id event.CommitID) (string, error)
	Author(id event.CommitID) (string, error)
}

// Timeline is the assembled core for one repository. Single writer: one
// timeline owns the state directory at a time.
type Timeline struct {
	dir   string
	store *eventlog.Store
	db    *state.DB
	graph *dag.Graph
	repo  Repository
	cfg   *config.Config

	aliases *revset.AliasTable
	refs    map[string]event.CommitID // recorded references, replayed from events
	view    *visibility.View
}

// Init creates the state directory and default configuration.
func Init(repoRoot string) (string, error) {
	dir := filepath.Join(repoRoot, StateDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating state directory: %w", err)
	}
	cfgPath := filepath.Join(dir, configFile)
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.Default().Save(cfgPath); err != nil {
			return "", err
		}
	}
	return dir, nil
}

// Open loads the timeline from the state directory inside repoRoot.
func Open(repoRoot string, repo Repository) (*Timeline, error) {
	dir := filepath.Join(repoRoot, StateDirName)
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("no revlog state in %s (run init first)", repoRoot)
	}
	cfg, err := config.Load(filepath.Join(dir, configFile))
	if err != nil {
		return nil, err
	}
	store, err := eventlog.Open(filepath.Join(dir, logFile))
	if err != nil {
		return nil, err
	}
	db, err := state.Open(filepath.Join(dir, dbFile))
	if err != nil {
		store.Close()
		return nil, err
	}

	t := &Timeline{
		dir:   dir,
		store: store,
		db:    db,
		graph: dag.New(),
		repo:  repo,
		cfg:   cfg,
		refs:  make(map[string]event.CommitID),
	}
	if err := t.loadGraph(); err != nil {
		t.Close()
		return nil, err
	}
	if err := t.replayRefs(); err != nil {
		t.Close()
		return nil, err
	}
	if err := t.loadAliases(); err != nil {
		t.Close()
		return nil, err
	}
	if err := t.refreshView(); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

// Close releases the store and the state database.
func (t *Timeline) Close() error {
	err := t.store.Close()
	if derr := t.db.Close(); err == nil {
		err = derr
	}
	return err
}

// Graph exposes the commit graph index.
func (t *Timeline) Graph() *dag.Graph { return t.graph }

// View exposes the current visibility view.
func (t *Timeline) View() *visibility.View { return t.view }

// Refs returns the recorded reference set.
func (t *Timeline) Refs() map[string]event.CommitID {
	out := make(map[string]event.CommitID, len(t.refs))
	for k, v := range t.refs {
		out[k] = v
	}
	return out
}

// Config returns the loaded configuration.
func (t *Timeline) Config() *config.Config { return t.cfg }

// Transactions lists the recorded transactions in order.
func (t *Timeline) Transactions() []eventlog.TxInfo { return t.store.Transactions() }

// loadGraph seeds the in-memory index from the adjacency cache. Cache rows
// come back in arbitrary order, so insertion is deferred until all parents
// are in.
func (t *Timeline) loadGraph() error {
	cached := make(map[event.CommitID][]event.CommitID)
	err := t.db.EachCommit(func(id event.CommitID, parents []event.CommitID) error {
		cached[id] = parents
		return nil
	})
	if err != nil {
		return err
	}
	var insert func(id event.CommitID) error
	insert = func(id event.CommitID) error {
		if t.graph.Contains(id) {
			return nil
		}
		parents, ok := cached[id]
		if !ok {
			return &dag.UnknownCommitError{ID: id}
		}
		for _, p := range parents {
			if err := insert(p); err != nil {
				return err
			}
		}
		return t.graph.Insert(id, parents)
	}
	for id := range cached {
		if err := insert(id); err != nil {
			return fmt.Errorf("loading commit cache: %w", err)
		}
	}
	return nil
}

// replayRefs derives the recorded reference set from the event history and
// indexes any commits the cache did not cover.
func (t *Timeline) replayRefs() error {
	cur := t.store.EventsSince(0)
	defer cur.Close()
	for ev, ok := cur.Next(); ok; ev, ok = cur.Next() {
		switch ev.Kind {
		case event.KindCommitCreated:
			if err := t.ensureIndexed(ev.Commit, ev.Parents); err != nil {
				return err
			}
		case event.KindReferenceUpdated:
			if ev.NewTarget == "" {
				delete(t.refs, ev.Ref)
			} else {
				t.refs[ev.Ref] = ev.NewTarget
			}
		}
	}
	return cur.Err()
}

func (t *Timeline) loadAliases() error {
	t.aliases = revset.NewAliasTable()
	defs := make(map[string]string)
	for name, expr := range t.cfg.Aliases {
		defs[name] = expr
	}
	stored, err := t.db.Aliases()
	if err != nil {
		return err
	}
	for name, expr := range stored {
		defs[name] = expr
	}
	return t.aliases.Load(defs)
}

func (t *Timeline) refreshView() error {
	view, err := visibility.Resolve(t.store.EventsSince(0), t.refs, t.graph)
	if err != nil {
		return err
	}
	t.view = view
	return nil
}

// ensureIndexed inserts a commit and, on demand, any of its ancestors the
// graph does not know yet, fetching parent lists from the backing
// repository. knownParents short-circuits the fetch for the commit itself.
func (t *Timeline) ensureIndexed(id event.CommitID, knownParents []event.CommitID) error {
	if t.graph.Contains(id) {
		return nil
	}
	parents := knownParents
	if parents == nil {
		var err error
		if parents, err = t.repo.Parents(id); err != nil {
			return err
		}
	}
	for _, p := range parents {
		if err := t.ensureIndexed(p, nil); err != nil {
			return err
		}
	}
	if err := t.graph.Insert(id, parents); err != nil {
		return err
	}
	return t.db.InsertCommit(id, parents)
}

// Tx is an open transaction boundary collecting intake events.
type Tx struct {
	t      *Timeline
	label  string
	events []event.Event
}

// Begin opens a transaction with a human-readable label.
func (t *Timeline) Begin(label string) *Tx {
	return &Tx{t: t, label: label}
}

// CommitCreated records a new commit and its parents.
func (tx *Tx) CommitCreated(id event.CommitID, parents []event.CommitID) {
	tx.events = append(tx.events, event.CommitCreated(id, parents))
}

// CommitRewritten records that old was superseded by new.
func (tx *Tx) CommitRewritten(old, new event.CommitID) {
	tx.events = append(tx.events, event.CommitRewritten(old, new))
}

// ReferenceUpdated records a reference move.
func (tx *Tx) ReferenceUpdated(name string, old, new event.CommitID) {
	tx.events = append(tx.events, event.ReferenceUpdated(name, old, new))
}

// Hide records an explicit hide override.
func (tx *Tx) Hide(id event.CommitID) {
	tx.events = append(tx.events, event.CommitHidden(id))
}

// Unhide records an explicit unhide override.
func (tx *Tx) Unhide(id event.CommitID) {
	tx.events = append(tx.events, event.CommitUnhidden(id))
}

// Commit indexes every commit the events mention, appends the batch
// atomically, and refreshes the derived state. A failed append leaves
// everything as it was.
func (tx *Tx) Commit() (int64, error) {
	if len(tx.events) == 0 {
		return 0, fmt.Errorf("transaction %q is empty", tx.label)
	}
	t := tx.t
	for _, ev := range tx.events {
		if ev.Kind == event.KindCommitCreated {
			if err := t.ensureIndexed(ev.Commit, ev.Parents); err != nil {
				return 0, err
			}
			continue
		}
		for _, id := range ev.Mentions() {
			if err := t.ensureIndexed(id, nil); err != nil {
				return 0, err
			}
		}
	}
	id, err := t.store.Append(tx.label, tx.events)
	if err != nil {
		return 0, err
	}
	for _, ev := range tx.events {
		if ev.Kind != event.KindReferenceUpdated {
			continue
		}
		if ev.NewTarget == "" {
			delete(t.refs, ev.Ref)
		} else {
			t.refs[ev.Ref] = ev.NewTarget
		}
	}
	if err := t.refreshView(); err != nil {
		return 0, err
	}
	return id, nil
}

// Sync diffs the repository's live references against the recorded state
// and records the difference as one transaction. It returns the new
// transaction id, or 0 when nothing changed.
func (t *Timeline) Sync() (int64, error) {
	live, err := t.repo.References()
	if err != nil {
		return 0, err
	}
	tx := t.Begin("sync")

	// New commits first, parents before children, so replay can index
	// them without consulting the repository.
	for _, target := range live {
		if target == "" {
			continue
		}
		if err := t.emitNewCommits(tx, target); err != nil {
			return 0, err
		}
	}
	for name, target := range live {
		if t.refs[name] != target {
			tx.ReferenceUpdated(name, t.refs[name], target)
		}
	}
	for name, old := range t.refs {
		if _, ok := live[name]; !ok {
			tx.ReferenceUpdated(name, old, "")
		}
	}

	if len(tx.events) == 0 {
		return 0, nil
	}
	return tx.Commit()
}

// emitNewCommits appends CommitCreated events for every ancestor of target
// the graph has not indexed, in parents-first order.
func (t *Timeline) emitNewCommits(tx *Tx, target event.CommitID) error {
	seen := make(map[event.CommitID]bool)
	var visit func(id event.CommitID) error
	visit = func(id event.CommitID) error {
		if seen[id] || t.graph.Contains(id) {
			return nil
		}
		seen[id] = true
		parents, err := t.repo.Parents(id)
		if err != nil {
			return err
		}
		for _, p := range parents {
			if err := visit(p); err != nil {
				return err
			}
		}
		tx.CommitCreated(id, parents)
		return nil
	}
	return visit(target)
}

// EvaluateRevset evaluates a revset expression against the current graph
// and visibility view.
func (t *Timeline) EvaluateRevset(text string) (dag.CommitSet, error) {
	ctx := &revset.Context{
		Graph: t.graph,
		View:  t.view,
		Refs:  t.refs,
		Main:  t.cfg.MainBranch,
		Info:  t.repo,
	}
	return revset.Evaluate(ctx, text, t.aliases)
}

// VisibilityOf returns the visibility of one commit.
func (t *Timeline) VisibilityOf(id event.CommitID) (visibility.State, error) {
	return t.view.StateOf(id)
}

// PlanUndo returns the compensating events for a transaction without
// applying them.
func (t *Timeline) PlanUndo(txID int64) ([]event.Event, error) {
	tx, err := t.store.ReadTransaction(txID)
	if err != nil {
		return nil, err
	}
	return undo.Plan(tx), nil
}

// Undo records the inverse of a transaction and returns the new
// transaction id plus the compensating events, so the caller can apply the
// reference moves to the repository. Without force, a diverged reference
// aborts the undo.
func (t *Timeline) Undo(txID int64, force bool) (int64, []event.Event, error) {
	newID, plan, err := undo.Apply(t.store, txID, t.refs, force)
	if err != nil {
		return 0, nil, err
	}
	for _, ev := range plan {
		if ev.Kind != event.KindReferenceUpdated {
			continue
		}
		if ev.NewTarget == "" {
			delete(t.refs, ev.Ref)
		} else {
			t.refs[ev.Ref] = ev.NewTarget
		}
	}
	if err := t.refreshView(); err != nil {
		return 0, nil, err
	}
	return newID, plan, nil
}

// DefineAlias validates and persists a revset alias.
func (t *Timeline) DefineAlias(name, expr string) error {
	if err := t.aliases.Define(name, expr); err != nil {
		return err
	}
	return t.db.SetAlias(name, expr)
}

// RemoveAlias drops a persisted alias.
func (t *Timeline) RemoveAlias(name string) error {
	if err := t.db.DeleteAlias(name); err != nil {
		return err
	}
	t.aliases.Remove(name)
	return nil
}

// Aliases lists the registered aliases as name → expression text.
func (t *Timeline) Aliases() map[string]string {
	out := make(map[string]string)
	for _, name := range t.aliases.Names() {
		if src, ok := t.aliases.Source(name); ok {
			out[name] = src
		}
	}
	return out
}

// GC trims event log transactions older than the retention window whose
// events reference no commit in the keep-alive set (everything reachable
// from the recorded references). Trimmed transactions move to the
// compressed archive. Returns the number of trimmed transactions.
func (t *Timeline) GC() (int, error) {
	if t.cfg.GC.RetainDays <= 0 {
		return 0, nil
	}
	targets := dag.NewSet()
	for _, id := range t.refs {
		if id != "" {
			targets.Add(id)
		}
	}
	reach, err := t.graph.Ancestors(targets)
	if err != nil {
		return 0, err
	}
	keep := make(map[event.CommitID]bool, reach.Len())
	for id := range reach {
		keep[id] = true
	}
	cutoff := time.Now().AddDate(0, 0, -t.cfg.GC.RetainDays)
	return t.store.Trim(cutoff, keep, filepath.Join(t.dir, archiveFile))
}
