// Package stuck persists the retry state of files the engine has seen but
// which the remote server has not yet indexed, plus an append-only event
// log, backed by a pure-Go sqlite driver.
package stuck

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sirupsen/logrus"
)

// maxEvents bounds the events table the same way the original tool did:
// on every insert, rows outside the newest maxEvents are pruned.
const maxEvents = 20000

// Entry mirrors one row of stuck_files.
type Entry struct {
	Path     string
	Attempts int
	LastSeen time.Time
}

// Event mirrors one row of events.
type Event struct {
	ID        int64
	Timestamp time.Time
	Type      string
	Details   string
	Status    string
}

// Tracker is C3, the StuckTracker.
type Tracker struct {
	db       *sql.DB
	maxRetry int
	log      *logrus.Entry
}

// Open creates or attaches to the sqlite file at path and ensures schema.
func Open(path string, maxRetries int, log *logrus.Entry) (*Tracker, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("stuck: opening %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single writer, matches the original sqlite3 usage
	t := &Tracker{db: db, maxRetry: maxRetries, log: log}
	if err := t.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return t, nil
}

func (t *Tracker) migrate() error {
	_, err := t.db.Exec(`
CREATE TABLE IF NOT EXISTS stuck_files (
	path TEXT PRIMARY KEY,
	attempts INTEGER NOT NULL DEFAULT 0,
	last_seen TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TIMESTAMP NOT NULL,
	event_type TEXT NOT NULL,
	details TEXT,
	status TEXT
);
`)
	return err
}

// Close releases the underlying database handle.
func (t *Tracker) Close() error {
	return t.db.Close()
}

// RecordAttempt increments path's attempt counter and reports whether the
// caller should give up on it (attempts now exceed maxRetry).
func (t *Tracker) RecordAttempt(path string) (giveUp bool, err error) {
	now := time.Now().UTC()
	tx, err := t.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var attempts int
	err = tx.QueryRow(`SELECT attempts FROM stuck_files WHERE path = ?`, path).Scan(&attempts)
	switch {
	case err == sql.ErrNoRows:
		attempts = 1
		if _, err = tx.Exec(`INSERT INTO stuck_files (path, attempts, last_seen) VALUES (?, ?, ?)`, path, attempts, now); err != nil {
			return false, err
		}
	case err != nil:
		return false, err
	default:
		attempts++
		if _, err = tx.Exec(`UPDATE stuck_files SET attempts = ?, last_seen = ? WHERE path = ?`, attempts, now, path); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return attempts > t.maxRetry, nil
}

// Clear removes path's stuck-file record, called once the path is
// observed inside the library again.
func (t *Tracker) Clear(path string) error {
	_, err := t.db.Exec(`DELETE FROM stuck_files WHERE path = ?`, path)
	return err
}

// ListStuck returns every currently tracked path whose attempts exceed
// maxRetry, backing the mediasyncctl list-stuck command.
func (t *Tracker) ListStuck() ([]Entry, error) {
	rows, err := t.db.Query(`SELECT path, attempts, last_seen FROM stuck_files WHERE attempts > ? ORDER BY last_seen DESC`, t.maxRetry)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Path, &e.Attempts, &e.LastSeen); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ClearAll wipes every stuck-file record, backing mediasyncctl clear-stuck.
func (t *Tracker) ClearAll() error {
	_, err := t.db.Exec(`DELETE FROM stuck_files`)
	return err
}

// ClearEvents wipes every event-log row, backing the dashboard's
// POST /api/history/clear.
func (t *Tracker) ClearEvents() error {
	_, err := t.db.Exec(`DELETE FROM events`)
	return err
}

// AppendEvent writes an event row then prunes down to the newest
// maxEvents rows.
func (t *Tracker) AppendEvent(eventType, details, status string) error {
	_, err := t.db.Exec(`INSERT INTO events (timestamp, event_type, details, status) VALUES (?, ?, ?, ?)`,
		time.Now().UTC(), eventType, details, status)
	if err != nil {
		return err
	}
	if _, err := t.db.Exec(`DELETE FROM events WHERE id NOT IN (SELECT id FROM events ORDER BY id DESC LIMIT ?)`, maxEvents); err != nil {
		t.log.WithError(err).Warn("stuck: failed to prune events table")
	}
	return nil
}

// History returns a page of events, most recent first, optionally
// filtered by a substring match against details.
func (t *Tracker) History(limit, offset int, search string) ([]Event, error) {
	query := `SELECT id, timestamp, event_type, details, status FROM events`
	args := []interface{}{}
	if search != "" {
		query += ` WHERE details LIKE ?`
		args = append(args, "%"+search+"%")
	}
	query += ` ORDER BY id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := t.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Type, &e.Details, &e.Status); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
