// Package event defines the immutable facts recorded about repository history.
package event

import (
	"fmt"
	"time"
)

// CommitID is an opaque, content-addressed commit identifier (hex text).
// The core never interprets it beyond equality; the backing repository is
// the sole authority for resolving it to content.
type CommitID string

// Kind identifies the type of a recorded event.
type Kind string

const (
	KindCommitCreated    Kind = "CommitCreated"
	KindCommitRewritten  Kind = "CommitRewritten"
	KindReferenceUpdated Kind = "ReferenceUpdated"
	KindCommitHidden     Kind = "CommitHidden"
	KindCommitUnhidden   Kind = "CommitUnhidden"
)

// Event is one immutable fact about something that happened to the
// repository. Seq and TxID are assigned by the event store on append and
// must be zero on events handed to it.
type Event struct {
	Seq  int64 `json:"seq"`
	TxID int64 `json:"tx"`
	Time int64 `json:"at"` // unix milliseconds
	Kind Kind  `json:"kind"`

	// CommitCreated, CommitHidden, CommitUnhidden
	Commit  CommitID   `json:"commit,omitempty"`
	Parents []CommitID `json:"parents,omitempty"`

	// CommitRewritten
	Old CommitID `json:"old,omitempty"`
	New CommitID `json:"new,omitempty"`

	// ReferenceUpdated
	Ref       string   `json:"ref,omitempty"`
	OldTarget CommitID `json:"oldTarget,omitempty"`
	NewTarget CommitID `json:"newTarget,omitempty"`
}

// Transaction is an atomically applied, labeled group of events.
type Transaction struct {
	ID     int64   `json:"id"`
	Label  string  `json:"label"`
	Time   int64   `json:"at"` // unix milliseconds
	Events []Event `json:"events"`
}

// CommitCreated returns a CommitCreated event for a new commit and its parents.
func CommitCreated(id CommitID, parents []CommitID) Event {
	return Event{Kind: KindCommitCreated, Commit: id, Parents: parents}
}

// CommitRewritten returns an event recording that old was superseded by new.
func CommitRewritten(old, new CommitID) Event {
	return Event{Kind: KindCommitRewritten, Old: old, New: new}
}

// ReferenceUpdated returns an event recording a reference move. An empty
// OldTarget means the reference was created; an empty NewTarget means it
// was deleted.
func ReferenceUpdated(name string, old, new CommitID) Event {
	return Event{Kind: KindReferenceUpdated, Ref: name, OldTarget: old, NewTarget: new}
}

// CommitHidden returns an explicit hide override for a commit.
func CommitHidden(id CommitID) Event {
	return Event{Kind: KindCommitHidden, Commit: id}
}

// CommitUnhidden returns an explicit unhide override for a commit.
func CommitUnhidden(id CommitID) Event {
	return Event{Kind: KindCommitUnhidden, Commit: id}
}

// Mentions returns every commit id the event refers to.
func (e Event) Mentions() []CommitID {
	var ids []CommitID
	if e.Commit != "" {
		ids = append(ids, e.Commit)
	}
	ids = append(ids, e.Parents...)
	if e.Old != "" {
		ids = append(ids, e.Old)
	}
	if e.New != "" {
		ids = append(ids, e.New)
	}
	if e.OldTarget != "" {
		ids = append(ids, e.OldTarget)
	}
	if e.NewTarget != "" {
		ids = append(ids, e.NewTarget)
	}
	return ids
}

// String renders the event for logs and transaction listings.
func (e Event) String() string {
	switch e.Kind {
	case KindCommitCreated:
		return fmt.Sprintf("create %s", short(e.Commit))
	case KindCommitRewritten:
		return fmt.Sprintf("rewrite %s -> %s", short(e.Old), short(e.New))
	case KindReferenceUpdated:
		return fmt.Sprintf("ref %s: %s -> %s", e.Ref, short(e.OldTarget), short(e.NewTarget))
	case KindCommitHidden:
		return fmt.Sprintf("hide %s", short(e.Commit))
	case KindCommitUnhidden:
		return fmt.Sprintf("unhide %s", short(e.Commit))
	}
	return string(e.Kind)
}

// NowMs returns the current time in unix milliseconds.
func NowMs() int64 {
	return time.Now().UnixMilli()
}

func short(id CommitID) string {
	if len(id) > 8 {
		return string(id[:8])
	}
	if id == "" {
		return "(none)"
	}
	return string(id)
}
