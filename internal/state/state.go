// Package state provides the SQLite-backed side state: the commit
// adjacency cache, which saves re-walking the whole repository on startup,
// and the persisted revset alias table.
//
// Neither table is a source of truth. Adjacency is content-addressed and
// immutable, so caching it is safe; visibility is always re-derived from
// the event log and never stored here.
package state

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"revlog/internal/event"
)

const schema = `
CREATE TABLE IF NOT EXISTS commits (
	id TEXT PRIMARY KEY,
	parents TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS aliases (
	name TEXT PRIMARY KEY,
	expr TEXT NOT NULL
);
`

// DB wraps the SQLite database holding the cached adjacency and aliases.
type DB struct {
	conn *sql.DB
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening state database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// InsertCommit caches a commit's parent list. Idempotent: re-inserting an
// existing id is ignored.
func (db *DB) InsertCommit(id event.CommitID, parents []event.CommitID) error {
	blob, err := json.Marshal(parents)
	if err != nil {
		return fmt.Errorf("encoding parents: %w", err)
	}
	_, err = db.conn.Exec(`INSERT OR IGNORE INTO commits (id, parents) VALUES (?, ?)`,
		string(id), string(blob))
	if err != nil {
		return fmt.Errorf("caching commit %s: %w", id, err)
	}
	return nil
}

// InsertCommits caches a batch of commits in one transaction.
func (db *DB) InsertCommits(commits map[event.CommitID][]event.CommitID) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("caching commits: %w", err)
	}
	defer tx.Rollback()
	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO commits (id, parents) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("caching commits: %w", err)
	}
	defer stmt.Close()
	for id, parents := range commits {
		blob, err := json.Marshal(parents)
		if err != nil {
			return fmt.Errorf("encoding parents: %w", err)
		}
		if _, err := stmt.Exec(string(id), string(blob)); err != nil {
			return fmt.Errorf("caching commit %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// EachCommit calls fn for every cached commit.
func (db *DB) EachCommit(fn func(id event.CommitID, parents []event.CommitID) error) error {
	rows, err := db.conn.Query(`SELECT id, parents FROM commits`)
	if err != nil {
		return fmt.Errorf("reading commit cache: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, blob string
		if err := rows.Scan(&id, &blob); err != nil {
			return fmt.Errorf("scanning row: %w", err)
		}
		var parents []event.CommitID
		if err := json.Unmarshal([]byte(blob), &parents); err != nil {
			return fmt.Errorf("decoding parents of %s: %w", id, err)
		}
		if err := fn(event.CommitID(id), parents); err != nil {
			return err
		}
	}
	return rows.Err()
}

// SetAlias stores or replaces an alias definition. Validation (parse and
// cycle checks) is the caller's responsibility; this is storage only.
func (db *DB) SetAlias(name, expr string) error {
	_, err := db.conn.Exec(`
		INSERT INTO aliases (name, expr) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET expr = excluded.expr
	`, name, expr)
	if err != nil {
		return fmt.Errorf("storing alias %s: %w", name, err)
	}
	return nil
}

// DeleteAlias removes an alias definition.
func (db *DB) DeleteAlias(name string) error {
	res, err := db.conn.Exec(`DELETE FROM aliases WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("deleting alias %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no alias named %s", name)
	}
	return nil
}

// Aliases returns every stored alias definition, name to expression text.
func (db *DB) Aliases() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT name, expr FROM aliases ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("reading aliases: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var name, expr string
		if err := rows.Scan(&name, &expr); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		out[name] = expr
	}
	return out, rows.Err()
}
