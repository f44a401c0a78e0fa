// Package usage records query events and aggregates usage statistics.
//
// Events are appended to a SQLite log (see internal/db) so counters and
// popularity rankings survive restarts. The log is trimmed to a bounded
// window of recent events; lifetime totals therefore reload from the
// retained window on open.
package usage

import (
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// historyLimit caps the number of retained query events. Older rows are
// trimmed in bulk once the log grows past the limit.
const historyLimit = 1000

// Toucher receives access notifications for documents that appeared in
// query results. The document registry satisfies it.
type Toucher interface {
	Touch(documentID string)
}

// Event is a single answered query.
type Event struct {
	QueryText       string
	DocumentID      string // scope document id, empty for all-documents queries
	ResultCount     int
	ResultDocuments []string // distinct document ids to mark as accessed
	At              time.Time
}

// QueryCount is one row of the popularity ranking.
type QueryCount struct {
	Text  string `json:"text"`
	Count int64  `json:"count"`
}

// Stats is a point-in-time snapshot of usage counters. The caller owns the
// returned value; mutating it does not affect the tracker.
type Stats struct {
	TotalQueries      int64            `json:"total_queries"`
	TotalDocuments    int              `json:"total_documents"`
	TotalVectors      int              `json:"total_vectors"`
	PerDocumentAccess map[string]int64 `json:"per_document_access"`
}

// Tracker appends query events to the log and keeps running totals.
type Tracker struct {
	db      *sql.DB
	toucher Toucher

	mu           sync.Mutex
	totalQueries int64
	eventRows    int64
}

// NewTracker wires a tracker to an initialized event log. Totals are
// reloaded from the retained rows. toucher may be nil.
func NewTracker(db *sql.DB, toucher Toucher) (*Tracker, error) {
	var rows int64
	if err := db.QueryRow("SELECT COUNT(*) FROM query_events").Scan(&rows); err != nil {
		return nil, fmt.Errorf("load event count: %w", err)
	}
	return &Tracker{
		db:           db,
		toucher:      toucher,
		totalQueries: rows,
		eventRows:    rows,
	}, nil
}

// Record appends one event, bumps totals, and touches every distinct
// document the event names. Called only after a query succeeded.
func (t *Tracker) Record(ev Event) error {
	if ev.QueryText == "" {
		return fmt.Errorf("record query event: empty query text")
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	// Stored timestamps must compare consistently, so they are all UTC.
	at = at.UTC()

	_, err := t.db.Exec(
		"INSERT INTO query_events (query_text, document_id, result_count, created_at) VALUES (?, ?, ?, ?)",
		ev.QueryText, ev.DocumentID, ev.ResultCount, at,
	)
	if err != nil {
		return fmt.Errorf("record query event: %w", err)
	}

	t.mu.Lock()
	t.totalQueries++
	t.eventRows++
	needTrim := t.eventRows > historyLimit
	t.mu.Unlock()

	if needTrim {
		if err := t.trim(); err != nil {
			// The event row is already committed at this point.
			return fmt.Errorf("trim query history: %w", err)
		}
	}

	if t.toucher != nil {
		seen := make(map[string]struct{}, len(ev.ResultDocuments))
		for _, docID := range ev.ResultDocuments {
			if docID == "" {
				continue
			}
			if _, ok := seen[docID]; ok {
				continue
			}
			seen[docID] = struct{}{}
			t.toucher.Touch(docID)
		}
	}
	return nil
}

// trim deletes everything older than the retained window in one statement.
func (t *Tracker) trim() error {
	_, err := t.db.Exec(
		"DELETE FROM query_events WHERE id NOT IN (SELECT id FROM query_events ORDER BY id DESC LIMIT ?)",
		historyLimit,
	)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.eventRows = historyLimit
	t.mu.Unlock()
	return nil
}

// TopQueries returns the n most frequent query texts in the retained
// window, most frequent first. Ties rank the more recently seen text first.
func (t *Tracker) TopQueries(n int) ([]QueryCount, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := t.db.Query(
		`SELECT query_text, COUNT(*) AS c
		 FROM query_events
		 GROUP BY query_text
		 ORDER BY c DESC, MAX(created_at) DESC
		 LIMIT ?`,
		n,
	)
	if err != nil {
		return nil, fmt.Errorf("top queries: %w", err)
	}
	defer rows.Close()

	var out []QueryCount
	for rows.Next() {
		var qc QueryCount
		if err := rows.Scan(&qc.Text, &qc.Count); err != nil {
			return nil, fmt.Errorf("top queries: scan: %w", err)
		}
		out = append(out, qc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("top queries: %w", err)
	}
	return out, nil
}

// TotalQueries returns the number of events recorded since open.
func (t *Tracker) TotalQueries() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalQueries
}

// Stats combines the tracker's totals with store-level counts supplied by
// the caller. The access map is copied.
func (t *Tracker) Stats(totalDocuments, totalVectors int, perDocumentAccess map[string]int64) Stats {
	access := make(map[string]int64, len(perDocumentAccess))
	for id, n := range perDocumentAccess {
		access[id] = n
	}
	return Stats{
		TotalQueries:      t.TotalQueries(),
		TotalDocuments:    totalDocuments,
		TotalVectors:      totalVectors,
		PerDocumentAccess: access,
	}
}
