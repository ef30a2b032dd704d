// Package undo computes and applies the inverse of a recorded transaction.
//
// An undo never edits history in place: the compensating events are
// recorded as a new transaction, so an undo is itself undoable (redo is the
// undo of an undo). Commit objects are content-addressed and never deleted;
// CommitCreated and CommitRewritten are inverted through visibility
// overrides that restore what the user saw before the transaction.
package undo

import (
	"fmt"

	"revlog/internal/event"
)

// DivergedStateError reports that a live reference has been advanced by
// later operations in a way a naive inverse would destroy. The caller
// decides whether to force.
type DivergedStateError struct {
	Ref      string
	Expected event.CommitID // where the target transaction left the reference
	Current  event.CommitID // where it points now
}

func (e *DivergedStateError) Error() string {
	return fmt.Sprintf("reference %s has diverged: undo expects %s but it now points to %s",
		e.Ref, orNone(e.Expected), orNone(e.Current))
}

func orNone(id event.CommitID) string {
	if id == "" {
		return "(none)"
	}
	return string(id)
}

// Log is the slice of the event store the engine needs.
type Log interface {
	ReadTransaction(id int64) (*event.Transaction, error)
	Append(label string, events []event.Event) (int64, error)
}

// Plan returns the ordered compensating events for tx: each event of the
// transaction, taken in reverse order, mapped to its inverse.
func Plan(tx *event.Transaction) []event.Event {
	var out []event.Event
	for i := len(tx.Events) - 1; i >= 0; i-- {
		ev := tx.Events[i]
		switch ev.Kind {
		case event.KindReferenceUpdated:
			out = append(out, event.ReferenceUpdated(ev.Ref, ev.NewTarget, ev.OldTarget))
		case event.KindCommitHidden:
			out = append(out, event.CommitUnhidden(ev.Commit))
		case event.KindCommitUnhidden:
			out = append(out, event.CommitHidden(ev.Commit))
		case event.KindCommitCreated:
			// The commit object stays; hiding it restores the view.
			out = append(out, event.CommitHidden(ev.Commit))
		case event.KindCommitRewritten:
			out = append(out, event.CommitHidden(ev.New))
			out = append(out, event.CommitUnhidden(ev.Old))
		}
	}
	return out
}

// Check verifies that applying plan against the current live references is
// non-destructive: every reference the plan moves must still point where
// the undone transaction left it.
func Check(plan []event.Event, current map[string]event.CommitID) error {
	for _, ev := range plan {
		if ev.Kind != event.KindReferenceUpdated {
			continue
		}
		// The inverse's OldTarget is where the target transaction left
		// the reference.
		if got := current[ev.Ref]; got != ev.OldTarget {
			return &DivergedStateError{Ref: ev.Ref, Expected: ev.OldTarget, Current: got}
		}
	}
	return nil
}

// Apply records the inverse of transaction txID as a new transaction and
// returns its id along with the compensating events, so the caller can
// carry the reference moves over to the repository. With force false, a
// diverged reference aborts before anything is recorded.
func Apply(log Log, txID int64, current map[string]event.CommitID, force bool) (int64, []event.Event, error) {
	tx, err := log.ReadTransaction(txID)
	if err != nil {
		return 0, nil, err
	}
	plan := Plan(tx)
	if len(plan) == 0 {
		return 0, nil, fmt.Errorf("transaction %d has nothing to undo", txID)
	}
	if !force {
		if err := Check(plan, current); err != nil {
			return 0, nil, err
		}
	}
	newID, err := log.Append(fmt.Sprintf("undo %q", tx.Label), plan)
	if err != nil {
		return 0, nil, err
	}
	return newID, plan, nil
}
