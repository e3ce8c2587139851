// Package store provides SQLite-backed persistence for drift analyses.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"driftwatch/internal/drift"
)

// MaxQueryLimit caps every listing query.
const MaxQueryLimit = 1000

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("analysis not found")

const schema = `
CREATE TABLE IF NOT EXISTS analyses (
	id TEXT PRIMARY KEY,
	pipeline_name TEXT NOT NULL,
	drift_score REAL NOT NULL,
	risk_level TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	high_issue_count INTEGER NOT NULL DEFAULT 0,
	payload TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_analyses_timestamp ON analyses(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_analyses_pipeline ON analyses(pipeline_name);
CREATE INDEX IF NOT EXISTS idx_analyses_pipeline_timestamp ON analyses(pipeline_name, timestamp DESC);
`

// testDataClause filters out pipelines whose names look like test data. The
// filter runs in the store, not in memory.
const testDataClause = `LOWER(pipeline_name) NOT LIKE '%test%'
	AND LOWER(pipeline_name) NOT LIKE '%sample%'
	AND LOWER(pipeline_name) NOT LIKE '%mock%'
	AND LOWER(pipeline_name) NOT LIKE '%dummy%'`

// Store persists analyses in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the store at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping() error {
	return s.db.Ping()
}

// Upsert inserts or replaces one analysis keyed by id. Writes are atomic;
// readers never observe a partial analysis.
func (s *Store) Upsert(a *drift.Analysis) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode analysis: %w", err)
	}

	highIssues := 0
	for _, issue := range a.Issues {
		if issue.Severity == drift.RiskHigh || issue.Severity == drift.RiskCritical {
			highIssues++
		}
	}

	_, err = s.db.Exec(`
		INSERT INTO analyses (id, pipeline_name, drift_score, risk_level, timestamp, high_issue_count, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			pipeline_name = excluded.pipeline_name,
			drift_score = excluded.drift_score,
			risk_level = excluded.risk_level,
			timestamp = excluded.timestamp,
			high_issue_count = excluded.high_issue_count,
			payload = excluded.payload`,
		a.ID, a.PipelineName, a.DriftScore, a.RiskLevel, a.Timestamp.UnixMicro(), highIssues, string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert analysis %s: %w", a.ID, err)
	}
	return nil
}

// QueryOptions narrow a listing. A zero Limit defaults to 50.
type QueryOptions struct {
	Pipeline string
	Limit    int
	Since    time.Time
}

// Query lists analyses newest-first.
func (s *Store) Query(opts QueryOptions) ([]*drift.Analysis, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}

	var (
		conds []string
		args  []any
	)
	if opts.Pipeline != "" {
		conds = append(conds, "pipeline_name = ?")
		args = append(args, opts.Pipeline)
	}
	if !opts.Since.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, opts.Since.UnixMicro())
	}

	query := "SELECT payload FROM analyses"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	return s.scanAnalyses(query, args...)
}

// GetByPipeline lists the newest analyses for one pipeline.
func (s *Store) GetByPipeline(name string, limit int) ([]*drift.Analysis, error) {
	return s.Query(QueryOptions{Pipeline: name, Limit: limit})
}

// GetByID fetches a single analysis.
func (s *Store) GetByID(id string) (*drift.Analysis, error) {
	row := s.db.QueryRow(`SELECT payload FROM analyses WHERE id = ?`, id)
	var payload string
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decodeAnalysis(payload)
}

// OldestNewest returns the first and most recent analysis for a pipeline.
func (s *Store) OldestNewest(pipeline string) (oldest, newest *drift.Analysis, err error) {
	oldest, err = s.scanOne(`SELECT payload FROM analyses WHERE pipeline_name = ? ORDER BY timestamp ASC LIMIT 1`, pipeline)
	if err != nil {
		return nil, nil, err
	}
	newest, err = s.scanOne(`SELECT payload FROM analyses WHERE pipeline_name = ? ORDER BY timestamp DESC LIMIT 1`, pipeline)
	if err != nil {
		return nil, nil, err
	}
	return oldest, newest, nil
}

// PreviousFor returns the most recent analysis for the pipeline strictly
// older than the given timestamp, or ErrNotFound.
func (s *Store) PreviousFor(pipeline string, before time.Time) (*drift.Analysis, error) {
	return s.scanOne(
		`SELECT payload FROM analyses WHERE pipeline_name = ? AND timestamp < ? ORDER BY timestamp DESC LIMIT 1`,
		pipeline, before.UnixMicro(),
	)
}

// Stats summarizes the stored analyses.
type Stats struct {
	TotalAnalyses  int        `json:"totalAnalyses"`
	AverageScore   float64    `json:"averageScore"`
	CriticalIssues int        `json:"criticalIssues"`
	LastAnalysis   *time.Time `json:"lastAnalysis"`
}

// GetStats computes rolling statistics. criticalIssues counts issues with
// severity high or critical across all matching analyses. With
// excludeTestData the test-data pipelines are filtered out in SQL.
func (s *Store) GetStats(excludeTestData bool) (Stats, error) {
	query := `SELECT COUNT(*), COALESCE(AVG(drift_score), 0), COALESCE(SUM(high_issue_count), 0), MAX(timestamp) FROM analyses`
	if excludeTestData {
		query += " WHERE " + testDataClause
	}

	var (
		stats  Stats
		avg    float64
		lastTS sql.NullInt64
	)
	if err := s.db.QueryRow(query).Scan(&stats.TotalAnalyses, &avg, &stats.CriticalIssues, &lastTS); err != nil {
		return Stats{}, fmt.Errorf("failed to compute stats: %w", err)
	}
	stats.AverageScore = math.Round(avg*100) / 100
	if lastTS.Valid {
		t := time.UnixMicro(lastTS.Int64).UTC()
		stats.LastAnalysis = &t
	}
	return stats, nil
}

func (s *Store) scanOne(query string, args ...any) (*drift.Analysis, error) {
	row := s.db.QueryRow(query, args...)
	var payload string
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decodeAnalysis(payload)
}

func (s *Store) scanAnalyses(query string, args ...any) ([]*drift.Analysis, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	analyses := []*drift.Analysis{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		a, err := decodeAnalysis(payload)
		if err != nil {
			return nil, err
		}
		analyses = append(analyses, a)
	}
	return analyses, rows.Err()
}

func decodeAnalysis(payload string) (*drift.Analysis, error) {
	var a drift.Analysis
	if err := json.Unmarshal([]byte(payload), &a); err != nil {
		return nil, fmt.Errorf("failed to decode stored analysis: %w", err)
	}
	return &a, nil
}
