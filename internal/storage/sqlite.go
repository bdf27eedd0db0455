package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gateway-fm/rpcbench/pkg/types"
)

// unmarshalJSON unmarshals JSON and logs any errors without failing. Used
// for non-critical JSON columns where corruption should not fail the query.
func unmarshalJSON(data string, v any, field, label string) {
	if err := json.Unmarshal([]byte(data), v); err != nil {
		slog.Warn("failed to unmarshal JSON field",
			"field", field,
			"label", label,
			"error", err.Error(),
			"dataLen", len(data))
	}
}

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrent performance
	dsn := fmt.Sprintf("%s?_journal=WAL&_sync=NORMAL&_cache_size=10000", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStorage{db: db}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// migrate runs database migrations.
func (s *SQLiteStorage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		label TEXT PRIMARY KEY,
		scenario TEXT NOT NULL,
		provider TEXT NOT NULL,
		protocol TEXT NOT NULL,
		gate_mode TEXT NOT NULL,
		pool_size INTEGER NOT NULL DEFAULT 1,
		concurrency INTEGER NOT NULL DEFAULT 0,
		rate REAL NOT NULL DEFAULT 0,
		blocks INTEGER NOT NULL DEFAULT 0,
		started_at DATETIME NOT NULL,
		completed_at DATETIME NOT NULL,
		calls INTEGER NOT NULL DEFAULT 0,
		errors INTEGER NOT NULL DEFAULT 0,
		duration_stats TEXT,
		output_file TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_runs_provider ON runs(provider);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// SaveRun inserts or replaces the run for a label. Re-running a scenario
// configuration overwrites its index entry the same way it overwrites its
// result file.
func (s *SQLiteStorage) SaveRun(ctx context.Context, run *types.RunSummary) error {
	statsJSON, err := json.Marshal(run.Duration)
	if err != nil {
		return fmt.Errorf("failed to marshal duration stats: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (label, scenario, provider, protocol, gate_mode,
			pool_size, concurrency, rate, blocks, started_at, completed_at,
			calls, errors, duration_stats, output_file)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.Label, run.Scenario, run.Provider, string(run.Protocol), string(run.GateMode),
		run.PoolSize, run.Concurrency, run.Rate, run.Blocks, run.StartedAt, run.CompletedAt,
		run.Calls, run.Errors, string(statsJSON), nullString(run.OutputFile))

	return err
}

// GetRun retrieves a single run by label. Returns nil without error when
// the label has never been run.
func (s *SQLiteStorage) GetRun(ctx context.Context, label string) (*types.RunSummary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT label, scenario, provider, protocol, gate_mode,
			pool_size, concurrency, rate, blocks, started_at, completed_at,
			calls, errors, duration_stats, output_file
		FROM runs WHERE label = ?
	`, label)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns a paginated list of runs, newest first. A non-empty
// provider restricts the list (and the total) to that provider's runs.
func (s *SQLiteStorage) ListRuns(ctx context.Context, provider string, limit, offset int) (*types.PaginatedRuns, error) {
	where := ""
	args := []any{}
	if provider != "" {
		where = " WHERE provider = ?"
		args = append(args, provider)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs"+where, args...).Scan(&total); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT label, scenario, provider, protocol, gate_mode,
			pool_size, concurrency, rate, blocks, started_at, completed_at,
			calls, errors, duration_stats, output_file
		FROM runs`+where+`
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`, append(args, limit, offset)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []types.RunSummary
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &types.PaginatedRuns{
		Runs:   runs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}, nil
}

// DeleteRun deletes a run from the index.
func (s *SQLiteStorage) DeleteRun(ctx context.Context, label string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE label = ?", label)
	return err
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*types.RunSummary, error) {
	var run types.RunSummary
	var proto, mode string
	var statsJSON, outputFile sql.NullString

	err := sc.Scan(&run.Label, &run.Scenario, &run.Provider, &proto, &mode,
		&run.PoolSize, &run.Concurrency, &run.Rate, &run.Blocks,
		&run.StartedAt, &run.CompletedAt, &run.Calls, &run.Errors,
		&statsJSON, &outputFile)
	if err != nil {
		return nil, err
	}

	run.Protocol = types.Protocol(proto)
	run.GateMode = types.GateMode(mode)
	if outputFile.Valid {
		run.OutputFile = outputFile.String
	}
	if statsJSON.Valid && statsJSON.String != "" && statsJSON.String != "null" {
		run.Duration = &types.DurationStats{}
		unmarshalJSON(statsJSON.String, run.Duration, "duration_stats", run.Label)
	}

	return &run, nil
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
