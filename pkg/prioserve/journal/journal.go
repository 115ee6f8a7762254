/*
Copyright 2025 The prioserve Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package journal keeps an append-only SQLite record of every request a worker finished with, for after-the-fact
// reporting. It never stores pending requests: a restarted server starts with an empty queue.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/prioserve/prioserve/pkg/prioserve/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS processed_requests (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id    TEXT    NOT NULL,
	kind          INTEGER NOT NULL,
	method        TEXT    NOT NULL,
	path          TEXT    NOT NULL,
	authenticated INTEGER NOT NULL,
	outcome       INTEGER NOT NULL,
	success       INTEGER NOT NULL,
	received_at   INTEGER NOT NULL,
	completed_at  INTEGER NOT NULL,
	queue_wait_ns INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_processed_requests_kind ON processed_requests(kind);
`

const insertEntry = `
INSERT INTO processed_requests
	(request_id, kind, method, path, authenticated, outcome, success, received_at, completed_at, queue_wait_ns)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const selectRecent = `
SELECT request_id, kind, method, path, authenticated, outcome, success, received_at, completed_at, queue_wait_ns
FROM processed_requests ORDER BY id DESC LIMIT ?`

// ErrClosed is returned by operations on a closed journal.
var ErrClosed = errors.New("journal is closed")

// Entry is one finished request.
type Entry struct {
	RequestID     string
	Kind          types.Kind
	Method        string
	Path          string
	Authenticated bool
	Outcome       types.QueueOutcome
	// Success reports whether the response was fully written.
	Success     bool
	ReceivedAt  time.Time
	CompletedAt time.Time
	QueueWait   time.Duration
}

// NewEntry builds the entry for req.
func NewEntry(req *types.Request, outcome types.QueueOutcome, success bool, queueWait time.Duration, completedAt time.Time) Entry {
	return Entry{
		RequestID:     req.ID(),
		Kind:          req.Kind(),
		Method:        req.Method(),
		Path:          req.Path(),
		Authenticated: req.Authenticated(),
		Outcome:       outcome,
		Success:       success,
		ReceivedAt:    req.ReceivedAt(),
		CompletedAt:   completedAt,
		QueueWait:     queueWait,
	}
}

// Journal is a SQLite-backed log of finished requests. It is safe for concurrent use.
type Journal struct {
	db     *sql.DB
	insert *sql.Stmt
}

// Open opens, creating if needed, the journal database at path.
func Open(ctx context.Context, path string) (*Journal, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening journal %q: %w", path, err)
	}
	// SQLite allows a single writer; serialize on one connection instead of retrying on SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating journal schema: %w", err)
	}
	insert, err := db.PrepareContext(ctx, insertEntry)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("preparing journal insert: %w", err)
	}
	return &Journal{db: db, insert: insert}, nil
}

// Record appends e.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if j == nil || j.db == nil {
		return ErrClosed
	}
	_, err := j.insert.ExecContext(ctx,
		e.RequestID,
		int(e.Kind),
		e.Method,
		e.Path,
		e.Authenticated,
		int(e.Outcome),
		e.Success,
		e.ReceivedAt.UnixNano(),
		e.CompletedAt.UnixNano(),
		int64(e.QueueWait),
	)
	if err != nil {
		return fmt.Errorf("recording request %s: %w", e.RequestID, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if j == nil || j.db == nil {
		return nil, ErrClosed
	}
	rows, err := j.db.QueryContext(ctx, selectRecent, limit)
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                     Entry
			kind, outcome         int
			receivedAt, completed int64
			wait                  int64
		)
		if err := rows.Scan(&e.RequestID, &kind, &e.Method, &e.Path, &e.Authenticated, &outcome, &e.Success,
			&receivedAt, &completed, &wait); err != nil {
			return nil, fmt.Errorf("scanning journal row: %w", err)
		}
		e.Kind = types.Kind(kind)
		e.Outcome = types.QueueOutcome(outcome)
		e.ReceivedAt = time.Unix(0, receivedAt).UTC()
		e.CompletedAt = time.Unix(0, completed).UTC()
		e.QueueWait = time.Duration(wait)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close releases the database. Further calls are no-ops.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	errStmt := j.insert.Close()
	errDB := j.db.Close()
	j.db = nil
	return errors.Join(errStmt, errDB)
}
