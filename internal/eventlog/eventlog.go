// Package eventlog provides the durable, append-only store of history events
// grouped into transactions.
//
// On disk the log is a sequence of framed records, one per transaction:
//
//	u32 payload length | JSON payload | 32-byte BLAKE3 sum of payload
//
// A record only becomes visible to readers after it has been fully written
// and synced, so readers either see a whole transaction or none of it. On
// open, a torn trailing record (short frame or checksum mismatch) is
// truncated away, which restores the log to its last durable state.
package eventlog

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"lukechampine.com/blake3"

	"revlog/internal/event"
)

var logMagic = []byte("revlog01")

const sumSize = 32

// IOError reports a durability failure. It is surfaced verbatim and never
// retried; the enclosing transaction is aborted rather than partially
// recorded.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string { return fmt.Sprintf("event log %s: %v", e.Op, e.Err) }
func (e *IOError) Unwrap() error { return e.Err }

// TxInfo summarizes one recorded transaction.
type TxInfo struct {
	ID     int64
	Label  string
	Time   int64
	Events int
}

type txEntry struct {
	info   TxInfo
	offset int64
	length int64 // full frame length including prefix and checksum
}

// Store is the event store. Appends are serialized; readers may proceed
// concurrently with each other and with an in-flight append, which they
// cannot observe until it is published.
type Store struct {
	mu   sync.RWMutex
	f    *os.File
	path string

	size    int64 // published byte boundary
	nextSeq int64
	nextTx  int64
	index   []txEntry
}

// Open opens or creates the log at path and runs the recovery pass,
// truncating any incomplete trailing record.
func Open(path string) (*Store, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, &IOError{Op: "open", Err: err}
	}
	s := &Store{f: f, path: path, nextSeq: 1, nextTx: 1}
	if err := s.recover(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// recover scans the file, validates each frame, builds the transaction
// index, and truncates everything after the last valid frame.
func (s *Store) recover() error {
	st, err := s.f.Stat()
	if err != nil {
		return &IOError{Op: "stat", Err: err}
	}
	end := st.Size()

	if end == 0 {
		if _, err := s.f.Write(logMagic); err != nil {
			return &IOError{Op: "init", Err: err}
		}
		if err := s.f.Sync(); err != nil {
			return &IOError{Op: "init", Err: err}
		}
		s.size = int64(len(logMagic))
		return nil
	}

	header := make([]byte, len(logMagic))
	if _, err := io.ReadFull(io.NewSectionReader(s.f, 0, int64(len(header))), header); err != nil || !bytes.Equal(header, logMagic) {
		return &IOError{Op: "open", Err: fmt.Errorf("%s is not an event log", s.path)}
	}

	off := int64(len(logMagic))
	for off < end {
		tx, frameLen, err := readFrame(s.f, off, end)
		if err != nil {
			// Torn tail from an interrupted append: drop it.
			break
		}
		entry := txEntry{
			info:   TxInfo{ID: tx.ID, Label: tx.Label, Time: tx.Time, Events: len(tx.Events)},
			offset: off,
			length: frameLen,
		}
		s.index = append(s.index, entry)
		s.nextTx = tx.ID + 1
		for _, ev := range tx.Events {
			if ev.Seq >= s.nextSeq {
				s.nextSeq = ev.Seq + 1
			}
		}
		off += frameLen
	}

	if off < end {
		if err := s.f.Truncate(off); err != nil {
			return &IOError{Op: "truncate", Err: err}
		}
		if err := s.f.Sync(); err != nil {
			return &IOError{Op: "truncate", Err: err}
		}
	}
	s.size = off
	return nil
}

// readFrame reads and verifies one frame at off. It returns the decoded
// transaction and the total frame length.
func readFrame(r io.ReaderAt, off, end int64) (*event.Transaction, int64, error) {
	var lenBuf [4]byte
	if off+4 > end {
		return nil, 0, io.ErrUnexpectedEOF
	}
	if _, err := r.ReadAt(lenBuf[:], off); err != nil {
		return nil, 0, err
	}
	payloadLen := int64(binary.LittleEndian.Uint32(lenBuf[:]))
	frameLen := 4 + payloadLen + sumSize
	if off+frameLen > end {
		return nil, 0, io.ErrUnexpectedEOF
	}

	buf := make([]byte, payloadLen+sumSize)
	if _, err := r.ReadAt(buf, off+4); err != nil {
		return nil, 0, err
	}
	payload, sum := buf[:payloadLen], buf[payloadLen:]
	want := blake3.Sum256(payload)
	if !bytes.Equal(sum, want[:]) {
		return nil, 0, fmt.Errorf("checksum mismatch at offset %d", off)
	}

	var tx event.Transaction
	if err := json.Unmarshal(payload, &tx); err != nil {
		return nil, 0, fmt.Errorf("decoding transaction at offset %d: %w", off, err)
	}
	return &tx, frameLen, nil
}

// Append durably records events as one transaction and returns its id.
// Sequence ids and the transaction id are assigned by the store. Either the
// whole batch becomes readable or, on failure, the log is exactly as it was.
func (s *Store) Append(label string, events []event.Event) (int64, error) {
	if len(events) == 0 {
		return 0, fmt.Errorf("appending transaction %q: no events", label)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := event.NowMs()
	tx := event.Transaction{ID: s.nextTx, Label: label, Time: now}
	seq := s.nextSeq
	for _, ev := range events {
		ev.Seq = seq
		ev.TxID = tx.ID
		if ev.Time == 0 {
			ev.Time = now
		}
		tx.Events = append(tx.Events, ev)
		seq++
	}

	payload, err := json.Marshal(&tx)
	if err != nil {
		return 0, fmt.Errorf("encoding transaction %q: %w", label, err)
	}
	frame := make([]byte, 0, 4+len(payload)+sumSize)
	frame = binary.LittleEndian.AppendUint32(frame, uint32(len(payload)))
	frame = append(frame, payload...)
	sum := blake3.Sum256(payload)
	frame = append(frame, sum[:]...)

	if _, err := s.f.WriteAt(frame, s.size); err != nil {
		// Leave the published boundary where it was; whatever partial
		// bytes landed past it are invisible and removed on next open.
		s.f.Truncate(s.size)
		return 0, &IOError{Op: "append", Err: err}
	}
	if err := s.f.Sync(); err != nil {
		s.f.Truncate(s.size)
		return 0, &IOError{Op: "sync", Err: err}
	}

	// Durable: publish.
	s.index = append(s.index, txEntry{
		info:   TxInfo{ID: tx.ID, Label: label, Time: now, Events: len(tx.Events)},
		offset: s.size,
		length: int64(len(frame)),
	})
	s.size += int64(len(frame))
	s.nextTx++
	s.nextSeq = seq
	return tx.ID, nil
}

// LastSeq returns the highest assigned sequence id, 0 if none.
func (s *Store) LastSeq() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextSeq - 1
}

// Transactions lists all recorded transactions in order.
func (s *Store) Transactions() []TxInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TxInfo, len(s.index))
	for i, e := range s.index {
		out[i] = e.info
	}
	return out
}

// ReadTransaction returns the transaction with the given id.
func (s *Store) ReadTransaction(id int64) (*event.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.index {
		if e.info.ID == id {
			tx, _, err := readFrame(s.f, e.offset, e.offset+e.length)
			if err != nil {
				return nil, &IOError{Op: "read", Err: err}
			}
			return tx, nil
		}
	}
	return nil, fmt.Errorf("no transaction %d", id)
}

// EventsSince returns a cursor over all events with sequence id strictly
// greater than since, in sequence order. The cursor reads lazily from its
// own handle and sees the log exactly as of the time of this call: a Trim
// that rewrites the log afterwards does not disturb an iteration in
// progress.
func (s *Store) EventsSince(since int64) *Cursor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]txEntry, len(s.index))
	copy(entries, s.index)
	f, err := os.Open(s.path)
	if err != nil {
		return &Cursor{err: &IOError{Op: "read", Err: err}}
	}
	return &Cursor{f: f, entries: entries, since: since}
}

// Cursor iterates events lazily, one transaction frame at a time, from a
// private snapshot handle.
type Cursor struct {
	f       *os.File
	entries []txEntry
	since   int64
	pending []event.Event
	err     error
}

// Next returns the next event, or ok=false when the cursor is exhausted or
// failed. The snapshot handle is released on exhaustion or failure; check
// Err after iteration.
func (c *Cursor) Next() (event.Event, bool) {
	for len(c.pending) == 0 {
		if c.err != nil || len(c.entries) == 0 || c.f == nil {
			c.release()
			return event.Event{}, false
		}
		e := c.entries[0]
		c.entries = c.entries[1:]
		tx, _, err := readFrame(c.f, e.offset, e.offset+e.length)
		if err != nil {
			c.err = &IOError{Op: "read", Err: err}
			c.release()
			return event.Event{}, false
		}
		for _, ev := range tx.Events {
			if ev.Seq > c.since {
				c.pending = append(c.pending, ev)
			}
		}
	}
	ev := c.pending[0]
	c.pending = c.pending[1:]
	return ev, true
}

// Err reports a read failure encountered during iteration.
func (c *Cursor) Err() error { return c.err }

// Close releases the snapshot handle of a cursor abandoned mid-iteration.
// Cursors drained to exhaustion release it themselves.
func (c *Cursor) Close() error {
	c.release()
	return nil
}

func (c *Cursor) release() {
	if c.f != nil {
		c.f.Close()
		c.f = nil
	}
}

// Trim removes transactions recorded before cutoff whose events reference
// no commit in keep. keep is the keep-alive set supplied by the commit
// graph: any commit still reachable from a live reference or from a
// not-yet-collected commit. Trimmed transactions are appended to a
// zstd-compressed archive at archivePath (skipped if empty) before the log
// is rewritten in place via an atomic rename.
func (s *Store) Trim(cutoff time.Time, keep map[event.CommitID]bool, archivePath string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoffMs := cutoff.UnixMilli()
	var kept, trimmed []*event.Transaction
	var keptEntries []txEntry
	for _, e := range s.index {
		tx, _, err := readFrame(s.f, e.offset, e.offset+e.length)
		if err != nil {
			return 0, &IOError{Op: "read", Err: err}
		}
		if e.info.Time >= cutoffMs || mentionsAny(tx, keep) {
			kept = append(kept, tx)
			keptEntries = append(keptEntries, e)
		} else {
			trimmed = append(trimmed, tx)
		}
	}
	if len(trimmed) == 0 {
		return 0, nil
	}

	if archivePath != "" {
		if err := archiveTransactions(archivePath, trimmed); err != nil {
			return 0, err
		}
	}

	tmp := s.path + ".tmp"
	nf, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return 0, &IOError{Op: "trim", Err: err}
	}
	defer nf.Close()
	if _, err := nf.Write(logMagic); err != nil {
		return 0, &IOError{Op: "trim", Err: err}
	}
	off := int64(len(logMagic))
	newIndex := make([]txEntry, 0, len(kept))
	for i, tx := range kept {
		payload, err := json.Marshal(tx)
		if err != nil {
			return 0, fmt.Errorf("encoding transaction %d: %w", tx.ID, err)
		}
		frame := binary.LittleEndian.AppendUint32(nil, uint32(len(payload)))
		frame = append(frame, payload...)
		sum := blake3.Sum256(payload)
		frame = append(frame, sum[:]...)
		if _, err := nf.WriteAt(frame, off); err != nil {
			return 0, &IOError{Op: "trim", Err: err}
		}
		entry := keptEntries[i]
		entry.offset = off
		entry.length = int64(len(frame))
		newIndex = append(newIndex, entry)
		off += int64(len(frame))
	}
	if err := nf.Sync(); err != nil {
		return 0, &IOError{Op: "trim", Err: err}
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return 0, &IOError{Op: "trim", Err: err}
	}
	reopened, err := os.OpenFile(s.path, os.O_RDWR, 0644)
	if err != nil {
		return 0, &IOError{Op: "trim", Err: err}
	}
	old := s.f
	s.f = reopened
	old.Close()
	s.index = newIndex
	s.size = off
	return len(trimmed), nil
}

func mentionsAny(tx *event.Transaction, keep map[event.CommitID]bool) bool {
	for _, ev := range tx.Events {
		for _, id := range ev.Mentions() {
			if keep[id] {
				return true
			}
		}
	}
	return false
}

func archiveTransactions(path string, txs []*event.Transaction) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return &IOError{Op: "archive", Err: err}
	}
	defer f.Close()
	zw, err := zstd.NewWriter(f)
	if err != nil {
		return &IOError{Op: "archive", Err: err}
	}
	enc := json.NewEncoder(zw)
	for _, tx := range txs {
		if err := enc.Encode(tx); err != nil {
			zw.Close()
			return &IOError{Op: "archive", Err: err}
		}
	}
	if err := zw.Close(); err != nil {
		return &IOError{Op: "archive", Err: err}
	}
	return f.Sync()
}
