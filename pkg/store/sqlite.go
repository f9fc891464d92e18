package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"loadlab/pkg/hoststats"
	"loadlab/pkg/loadtest"
)

// SQLiteStore keeps test records in a SQLite database
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath and migrates it
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serializes writers anyway; one connection also keeps :memory: coherent
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Create implements loadtest.Store
func (s *SQLiteStore) Create(ctx context.Context, record *loadtest.TestRecord) (string, error) {
	id := record.ID
	if id == "" {
		id = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO load_test_runs
		(id, owner_id, endpoint_id, name, concurrency, duration_seconds, ramp_up_seconds,
		 request_timeout_seconds, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, record.OwnerID, record.EndpointID, record.Name, record.Config.Concurrency,
		record.Config.DurationSeconds, record.Config.RampUpSeconds, record.Config.RequestTimeoutSeconds,
		string(record.Status), record.StartedAt.UTC())
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}
	return id, nil
}

// Update implements loadtest.Store
func (s *SQLiteStore) Update(ctx context.Context, record *loadtest.TestRecord) error {
	var completedAt sql.NullTime
	if record.CompletedAt != nil {
		completedAt = sql.NullTime{Time: record.CompletedAt.UTC(), Valid: true}
	}

	result := loadtest.TestResult{}
	hasResult := 0
	if record.Result != nil {
		result = *record.Result
		hasResult = 1
	}

	buckets, err := nullableJSON(result.LatencyBuckets, len(result.LatencyBuckets) > 0)
	if err != nil {
		return err
	}
	hostStats, err := nullableJSON(record.HostStats, record.HostStats != nil)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE load_test_runs
		SET status = ?, completed_at = ?, has_result = ?, total_requests = ?, successful_requests = ?,
		    failed_requests = ?, avg_response_time = ?, min_response_time = ?, max_response_time = ?,
		    requests_per_second = ?, error_rate = ?, p50 = ?, p95 = ?, p99 = ?,
		    latency_buckets = ?, host_stats = ?
		WHERE id = ?
	`, string(record.Status), completedAt, hasResult, result.TotalRequests, result.SuccessfulRequests,
		result.FailedRequests, result.AverageResponseTime, result.MinResponseTime, result.MaxResponseTime,
		result.RequestsPerSecond, result.ErrorRate, result.Percentiles.P50, result.Percentiles.P95,
		result.Percentiles.P99, buckets, hostStats, record.ID)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return loadtest.ErrRecordNotFound
	}
	return nil
}

const selectRun = `
	SELECT id, owner_id, COALESCE(endpoint_id, ''), name, concurrency, duration_seconds, ramp_up_seconds,
	       request_timeout_seconds, status, started_at, completed_at, has_result,
	       total_requests, successful_requests, failed_requests, avg_response_time, min_response_time,
	       max_response_time, requests_per_second, error_rate, p50, p95, p99,
	       latency_buckets, host_stats
	FROM load_test_runs
`

// Get implements loadtest.Store
func (s *SQLiteStore) Get(ctx context.Context, id string) (*loadtest.TestRecord, error) {
	row := s.db.QueryRowContext(ctx, selectRun+" WHERE id = ?", id)
	record, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, loadtest.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ListByOwner implements loadtest.Store
func (s *SQLiteStore) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*loadtest.TestRecord, error) {
	query := selectRun + " WHERE owner_id = ? ORDER BY started_at DESC"
	args := []any{ownerID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var records []*loadtest.TestRecord
	for rows.Next() {
		record, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*loadtest.TestRecord, error) {
	record := &loadtest.TestRecord{}
	result := loadtest.TestResult{}
	var (
		status      string
		startedAt   time.Time
		completedAt sql.NullTime
		hasResult   int
		buckets     sql.NullString
		hostStats   sql.NullString
	)

	err := row.Scan(&record.ID, &record.OwnerID, &record.EndpointID, &record.Name,
		&record.Config.Concurrency, &record.Config.DurationSeconds, &record.Config.RampUpSeconds,
		&record.Config.RequestTimeoutSeconds, &status, &startedAt, &completedAt, &hasResult,
		&result.TotalRequests, &result.SuccessfulRequests, &result.FailedRequests,
		&result.AverageResponseTime, &result.MinResponseTime, &result.MaxResponseTime,
		&result.RequestsPerSecond, &result.ErrorRate, &result.Percentiles.P50,
		&result.Percentiles.P95, &result.Percentiles.P99, &buckets, &hostStats)
	if err != nil {
		return nil, err
	}

	record.Status = loadtest.Status(status)
	record.StartedAt = startedAt
	if completedAt.Valid {
		t := completedAt.Time
		record.CompletedAt = &t
	}
	if hasResult == 1 {
		if buckets.Valid {
			if err := json.Unmarshal([]byte(buckets.String), &result.LatencyBuckets); err != nil {
				return nil, fmt.Errorf("failed to decode latency buckets: %w", err)
			}
		}
		record.Result = &result
	}
	if hostStats.Valid {
		record.HostStats = &hoststats.Stats{}
		if err := json.Unmarshal([]byte(hostStats.String), record.HostStats); err != nil {
			return nil, fmt.Errorf("failed to decode host stats: %w", err)
		}
	}

	return record, nil
}

func nullableJSON(v any, present bool) (sql.NullString, error) {
	if !present {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode column: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
