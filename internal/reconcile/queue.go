// Package reconcile holds the small persisted buffer of change messages that
// were published while no same-device view was listening. A view drains it
// once when it mounts.
package reconcile

import (
	"alcyxob/fitness-calendar/internal/broadcast"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"
)

const DefaultMaxEntries = 50

var ErrClosed = errors.New("reconcile: queue closed")

// Queue is the pending-change buffer.
type Queue interface {
	Append(ctx context.Context, env broadcast.Envelope) error
	// Drain returns every queued envelope, oldest first, and empties the queue.
	Drain(ctx context.Context) ([]broadcast.Envelope, error)
}

const schema = `
CREATE TABLE IF NOT EXISTS pending_changes (
	id         TEXT PRIMARY KEY,
	payload    TEXT NOT NULL,
	created_at INTEGER NOT NULL
)`

// SQLiteQueue keeps the queue in a sqlite file shared by every process on
// the device.
type SQLiteQueue struct {
	db         *sql.DB
	maxEntries int
}

// OpenSQLiteQueue opens (creating if needed) the queue at path. Use
// ":memory:" for a process-private queue.
func OpenSQLiteQueue(path string, maxEntries int) (*SQLiteQueue, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open pending queue: %w", err)
	}
	// One writer keeps ":memory:" databases on a single connection, and a
	// near-empty queue never needs more.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate pending queue: %w", err)
	}
	return &SQLiteQueue{db: db, maxEntries: maxEntries}, nil
}

// Append stores env, keeping only the newest maxEntries envelopes.
func (q *SQLiteQueue) Append(ctx context.Context, env broadcast.Envelope) error {
	if q.db == nil {
		return ErrClosed
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO pending_changes (id, payload, created_at) VALUES (?, ?, ?)`,
		env.ID, string(payload), time.Now().UnixNano(),
	); err != nil {
		return fmt.Errorf("append pending change: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM pending_changes WHERE rowid NOT IN (
			SELECT rowid FROM pending_changes ORDER BY created_at DESC, rowid DESC LIMIT ?
		)`, q.maxEntries,
	); err != nil {
		return fmt.Errorf("trim pending changes: %w", err)
	}
	return tx.Commit()
}

// Drain reads and deletes the whole queue in one transaction. Rows that no
// longer decode are discarded.
func (q *SQLiteQueue) Drain(ctx context.Context) ([]broadcast.Envelope, error) {
	if q.db == nil {
		return nil, ErrClosed
	}
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT id, payload FROM pending_changes ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("read pending changes: %w", err)
	}
	var out []broadcast.Envelope
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			rows.Close()
			return nil, err
		}
		var env broadcast.Envelope
		if err := json.Unmarshal([]byte(payload), &env); err != nil {
			log.Printf("WARN: dropping unreadable pending change %s: %v", id, err)
			continue
		}
		out = append(out, env)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_changes`); err != nil {
		return nil, fmt.Errorf("clear pending changes: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

// Len counts queued envelopes.
func (q *SQLiteQueue) Len(ctx context.Context) (int, error) {
	if q.db == nil {
		return 0, ErrClosed
	}
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_changes`).Scan(&n)
	return n, err
}

func (q *SQLiteQueue) Close() error {
	if q.db == nil {
		return nil
	}
	err := q.db.Close()
	q.db = nil
	return err
}
