// Package audit provides a persistent record of routing decisions.
// Records are append-only and indexed by timestamp and capability for
// aggregation queries; each row captures which stage of the router
// claimed a message and how the dispatch went.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Routing stages recorded per decision.
const (
	StageExplicit  = "explicit"
	StageReserved  = "reserved"
	StageDirective = "directive"
	StageHeuristic = "heuristic"
	StageAmbient   = "ambient"
)

// Entry is one routing decision.
type Entry struct {
	ID         string
	Timestamp  time.Time
	RequestID  string
	Requester  string
	ChannelID  string
	Stage      string
	Keyword    string
	Capability string
	Parameter  string
	LatencyMs  int64
	Success    bool
	Error      string
}

// Summary holds aggregated decision totals.
type Summary struct {
	TotalRecords int
	Successes    int
	Failures     int
}

// Store is an append-only SQLite store for routing decisions. All
// public methods are safe for concurrent use (SQLite serializes
// writes).
type Store struct {
	db *sql.DB
}

// Open creates a decision store at the given database path using the
// production sqlite3 driver. The schema is created on first use.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	return NewStore(db)
}

// NewStore wraps an already-open database handle. Tests use this with
// an in-memory driver.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS decisions (
		id         TEXT PRIMARY KEY,
		timestamp  TEXT NOT NULL,
		request_id TEXT NOT NULL,
		requester  TEXT,
		channel_id TEXT,
		stage      TEXT NOT NULL,
		keyword    TEXT,
		capability TEXT,
		parameter  TEXT,
		latency_ms INTEGER NOT NULL,
		success    INTEGER NOT NULL,
		error      TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_decisions_timestamp ON decisions(timestamp);
	CREATE INDEX IF NOT EXISTS idx_decisions_capability ON decisions(capability);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record persists a decision. If e.ID is empty, a UUIDv7 is generated.
// The context is used for cancellation only.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate decision ID: %w", err)
		}
		e.ID = id.String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO decisions
			(id, timestamp, request_id, requester, channel_id, stage,
			 keyword, capability, parameter, latency_ms, success, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.Timestamp.UTC().Format(time.RFC3339),
		e.RequestID,
		e.Requester,
		e.ChannelID,
		e.Stage,
		e.Keyword,
		e.Capability,
		e.Parameter,
		e.LatencyMs,
		boolToInt(e.Success),
		e.Error,
	)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// Summary returns aggregated totals for decisions within [start, end).
func (s *Store) Summary(start, end time.Time) (*Summary, error) {
	row := s.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(success), 0)
		 FROM decisions
		 WHERE timestamp >= ? AND timestamp < ?`,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
	)

	var sum Summary
	if err := row.Scan(&sum.TotalRecords, &sum.Successes); err != nil {
		return nil, fmt.Errorf("query decision summary: %w", err)
	}
	sum.Failures = sum.TotalRecords - sum.Successes
	return &sum, nil
}

// SummaryByCapability returns per-capability totals within [start, end).
// Decisions that never reached a capability group under the key "".
func (s *Store) SummaryByCapability(start, end time.Time) (map[string]*Summary, error) {
	rows, err := s.db.Query(
		`SELECT COALESCE(capability, ''), COUNT(*), COALESCE(SUM(success), 0)
		 FROM decisions
		 WHERE timestamp >= ? AND timestamp < ?
		 GROUP BY capability
		 ORDER BY COUNT(*) DESC`,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("query decisions by capability: %w", err)
	}
	defer rows.Close()

	result := make(map[string]*Summary)
	for rows.Next() {
		var key string
		var sum Summary
		if err := rows.Scan(&key, &sum.TotalRecords, &sum.Successes); err != nil {
			return nil, fmt.Errorf("scan decisions by capability: %w", err)
		}
		sum.Failures = sum.TotalRecords - sum.Successes
		result[key] = &sum
	}
	return result, rows.Err()
}

// Recent returns up to limit decisions ordered newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, request_id, requester, channel_id, stage,
		        keyword, capability, parameter, latency_ms, success, error
		 FROM decisions
		 ORDER BY timestamp DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent decisions: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ts string
		var success int
		if err := rows.Scan(&e.ID, &ts, &e.RequestID, &e.Requester, &e.ChannelID,
			&e.Stage, &e.Keyword, &e.Capability, &e.Parameter,
			&e.LatencyMs, &success, &e.Error); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		e.Timestamp, _ = time.Parse(time.RFC3339, ts)
		e.Success = success != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
