// Package storage owns the agent's persisted trace data: a sqlite database
// holding searchable trace summaries and a capacity-capped rolling file
// holding the full detail blocks the summaries point at.
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/001_initial_schema.sql
var migrationV1 string

// DBFileName is the sqlite database file created inside the data directory.
const DBFileName = "spyglass.db"

// TraceSummary is the queryable record kept for every captured trace. The
// full span tree lives in the rolling file at BlockOffset; a negative offset
// means no detail block was stored for this trace.
type TraceSummary struct {
	ID            string
	CapturedAt    time.Time
	DurationNanos int64
	Completed     bool
	Stuck         bool
	Headline      string
	UserID        string
	Attributes    string
	Metrics       string
	BlockOffset   int64
	BlockSize     int64
}

// DataSource provides access to the sqlite-backed trace summary store.
type DataSource struct {
	dbPath string
	db     *sql.DB
	mu     sync.RWMutex
}

// NewDataSource opens (creating if necessary) the sqlite database at dbPath
// and applies any pending schema migrations.
func NewDataSource(dbPath string) (*DataSource, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	ds := &DataSource{dbPath: dbPath, db: db}
	if err := ds.migrate(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("migrating schema: %w (also failed to close db: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return ds, nil
}

func (ds *DataSource) migrate() error {
	var version int
	err := ds.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		// Table does not exist yet on a fresh database.
		version = 0
	}

	if version < 1 {
		if _, err := ds.db.Exec(migrationV1); err != nil {
			return fmt.Errorf("applying migration 1: %w", err)
		}
	}
	return nil
}

// StoreTraceSummary inserts or replaces the summary row for a trace.
func (ds *DataSource) StoreTraceSummary(ctx context.Context, s TraceSummary) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	_, err := ds.db.ExecContext(ctx, `
		INSERT INTO trace_summaries (
			id, captured_at, duration_nanos, completed, stuck, headline,
			user_id, attributes, metrics, block_offset, block_size
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			captured_at = excluded.captured_at,
			duration_nanos = excluded.duration_nanos,
			completed = excluded.completed,
			stuck = excluded.stuck,
			headline = excluded.headline,
			user_id = excluded.user_id,
			attributes = excluded.attributes,
			metrics = excluded.metrics,
			block_offset = excluded.block_offset,
			block_size = excluded.block_size
	`, s.ID, s.CapturedAt.UTC(), s.DurationNanos, s.Completed, s.Stuck, s.Headline,
		nullableString(s.UserID), nullableString(s.Attributes), nullableString(s.Metrics),
		nullableInt64(s.BlockOffset), nullableInt64(s.BlockSize))
	if err != nil {
		return fmt.Errorf("storing trace summary: %w", err)
	}
	return nil
}

// RecentTraces returns up to limit summaries, newest first.
func (ds *DataSource) RecentTraces(ctx context.Context, limit int) ([]TraceSummary, error) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	rows, err := ds.db.QueryContext(ctx, `
		SELECT id, captured_at, duration_nanos, completed, stuck, headline,
		       user_id, attributes, metrics, block_offset, block_size
		FROM trace_summaries
		ORDER BY captured_at DESC, id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying trace summaries: %w", err)
	}
	defer rows.Close()

	var summaries []TraceSummary
	for rows.Next() {
		s, err := scanTraceSummary(rows)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating trace summaries: %w", err)
	}
	return summaries, nil
}

// TraceCount returns the number of stored summaries.
func (ds *DataSource) TraceCount(ctx context.Context) (int64, error) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	var count int64
	err := ds.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM trace_summaries").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting trace summaries: %w", err)
	}
	return count, nil
}

// Close closes the underlying database.
func (ds *DataSource) Close() error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if ds.db == nil {
		return nil
	}
	err := ds.db.Close()
	ds.db = nil
	if err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

func scanTraceSummary(rows *sql.Rows) (TraceSummary, error) {
	var (
		s           TraceSummary
		capturedAt  time.Time
		userID      sql.NullString
		attributes  sql.NullString
		metrics     sql.NullString
		blockOffset sql.NullInt64
		blockSize   sql.NullInt64
	)
	err := rows.Scan(&s.ID, &capturedAt, &s.DurationNanos, &s.Completed, &s.Stuck,
		&s.Headline, &userID, &attributes, &metrics, &blockOffset, &blockSize)
	if err != nil {
		return TraceSummary{}, fmt.Errorf("scanning trace summary: %w", err)
	}
	s.CapturedAt = capturedAt.UTC()
	s.UserID = userID.String
	s.Attributes = attributes.String
	s.Metrics = metrics.String
	s.BlockOffset = -1
	if blockOffset.Valid {
		s.BlockOffset = blockOffset.Int64
	}
	s.BlockSize = -1
	if blockSize.Valid {
		s.BlockSize = blockSize.Int64
	}
	return s, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt64(n int64) any {
	if n < 0 {
		return nil
	}
	return n
}
