package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"loadlab/pkg/config"
	"loadlab/pkg/hoststats"
	"loadlab/pkg/loadtest"
)

func openBackends(t *testing.T) map[string]Backend {
	t.Helper()
	dir := t.TempDir()

	fs, err := Open(config.StorageConfig{Driver: DriverFile, Path: filepath.Join(dir, "records")})
	if err != nil {
		t.Fatalf("Failed to open file store: %v", err)
	}
	db, err := Open(config.StorageConfig{Driver: DriverSQLite, Path: filepath.Join(dir, "db", "runs.db")})
	if err != nil {
		t.Fatalf("Failed to open sqlite store: %v", err)
	}
	t.Cleanup(func() {
		fs.Close()
		db.Close()
	})

	return map[string]Backend{"file": fs, "sqlite": db}
}

func runningRecord(owner string, startedAt time.Time) *loadtest.TestRecord {
	return &loadtest.TestRecord{
		OwnerID:    owner,
		EndpointID: "ep-1",
		Name:       "smoke",
		Config:     loadtest.TestConfiguration{Concurrency: 4, DurationSeconds: 10, RampUpSeconds: 2},
		Status:     loadtest.StatusRunning,
		StartedAt:  startedAt,
	}
}

func TestStore_Lifecycle(t *testing.T) {
	for name, backend := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			started := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

			record := runningRecord("owner-1", started)
			id, err := backend.Create(ctx, record)
			if err != nil {
				t.Fatalf("Create failed: %v", err)
			}
			if id == "" {
				t.Fatal("Expected generated id")
			}

			got, err := backend.Get(ctx, id)
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if got.Status != loadtest.StatusRunning || got.Result != nil || got.CompletedAt != nil {
				t.Errorf("Expected running record without result, got %+v", got)
			}
			if !got.StartedAt.Equal(started) {
				t.Errorf("StartedAt = %v, want %v", got.StartedAt, started)
			}
			if got.Config != record.Config {
				t.Errorf("Config = %+v, want %+v", got.Config, record.Config)
			}

			completed := started.Add(10 * time.Second)
			record.ID = id
			record.Status = loadtest.StatusCompleted
			record.CompletedAt = &completed
			record.Result = &loadtest.TestResult{
				TotalRequests:       100,
				SuccessfulRequests:  98,
				FailedRequests:      2,
				AverageResponseTime: 12.5,
				MinResponseTime:     3,
				MaxResponseTime:     80,
				RequestsPerSecond:   10,
				ErrorRate:           2,
				Percentiles:         loadtest.Percentiles{P50: 10, P95: 40, P99: 70},
				LatencyBuckets:      map[string]int64{"<10ms": 40, "10-50ms": 58},
			}
			record.HostStats = &hoststats.Stats{Samples: 10, MaxCPUPercent: 55}

			if err := backend.Update(ctx, record); err != nil {
				t.Fatalf("Update failed: %v", err)
			}

			got, err = backend.Get(ctx, id)
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if got.Status != loadtest.StatusCompleted || got.CompletedAt == nil || !got.CompletedAt.Equal(completed) {
				t.Errorf("Expected completed record, got %+v", got)
			}
			if got.Result == nil {
				t.Fatal("Expected result to be stored")
			}
			if got.Result.TotalRequests != 100 || got.Result.Percentiles.P95 != 40 || got.Result.ErrorRate != 2 {
				t.Errorf("Unexpected result: %+v", got.Result)
			}
			if got.Result.LatencyBuckets["10-50ms"] != 58 {
				t.Errorf("Expected latency buckets, got %v", got.Result.LatencyBuckets)
			}
			if got.HostStats == nil || got.HostStats.MaxCPUPercent != 55 {
				t.Errorf("Expected host stats, got %+v", got.HostStats)
			}
		})
	}
}

func TestStore_FailedRecordHasNoResult(t *testing.T) {
	for name, backend := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			record := runningRecord("owner-1", time.Now().UTC())
			id, err := backend.Create(ctx, record)
			if err != nil {
				t.Fatalf("Create failed: %v", err)
			}

			completed := time.Now().UTC()
			record.ID = id
			record.Status = loadtest.StatusFailed
			record.CompletedAt = &completed
			if err := backend.Update(ctx, record); err != nil {
				t.Fatalf("Update failed: %v", err)
			}

			got, err := backend.Get(ctx, id)
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if got.Status != loadtest.StatusFailed || got.Result != nil {
				t.Errorf("Expected failed record without result, got %+v", got)
			}
		})
	}
}

func TestStore_NotFound(t *testing.T) {
	for name, backend := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, err := backend.Get(ctx, "missing"); !errors.Is(err, loadtest.ErrRecordNotFound) {
				t.Errorf("Get: expected ErrRecordNotFound, got %v", err)
			}

			record := runningRecord("owner-1", time.Now())
			record.ID = "missing"
			if err := backend.Update(ctx, record); !errors.Is(err, loadtest.ErrRecordNotFound) {
				t.Errorf("Update: expected ErrRecordNotFound, got %v", err)
			}
		})
	}
}

func TestStore_ListByOwner(t *testing.T) {
	for name, backend := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

			var ids []string
			for i := 0; i < 4; i++ {
				id, err := backend.Create(ctx, runningRecord("owner-1", base.Add(time.Duration(i)*time.Hour)))
				if err != nil {
					t.Fatalf("Create failed: %v", err)
				}
				ids = append(ids, id)
			}
			if _, err := backend.Create(ctx, runningRecord("owner-2", base)); err != nil {
				t.Fatalf("Create failed: %v", err)
			}

			all, err := backend.ListByOwner(ctx, "owner-1", 0)
			if err != nil {
				t.Fatalf("ListByOwner failed: %v", err)
			}
			if len(all) != 4 {
				t.Fatalf("Expected 4 records, got %d", len(all))
			}
			// Newest first
			for i, r := range all {
				if r.ID != ids[len(ids)-1-i] {
					t.Errorf("Position %d: got %s, want %s", i, r.ID, ids[len(ids)-1-i])
				}
			}

			limited, err := backend.ListByOwner(ctx, "owner-1", 2)
			if err != nil {
				t.Fatalf("ListByOwner failed: %v", err)
			}
			if len(limited) != 2 || limited[0].ID != ids[3] {
				t.Errorf("Expected the 2 newest records, got %d", len(limited))
			}

			none, err := backend.ListByOwner(ctx, "nobody", 10)
			if err != nil || len(none) != 0 {
				t.Errorf("Expected empty list, got %v, %v", none, err)
			}
		})
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := Open(config.StorageConfig{Driver: "postgres", Path: t.TempDir()}); err == nil {
		t.Error("Expected error for unknown driver")
	}
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")

	db, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("Failed to open: %v", err)
	}
	id, err := db.Create(context.Background(), runningRecord("owner-1", time.Now()))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	db.Close()

	// Migrations must be idempotent
	db, err = NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("Failed to reopen: %v", err)
	}
	defer db.Close()

	if _, err := db.Get(context.Background(), id); err != nil {
		t.Errorf("Expected record to survive reopen: %v", err)
	}

	var version int
	if err := db.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version); err != nil {
		t.Fatalf("Failed to read migration version: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("Expected migration version %d, got %d", len(migrations), version)
	}
}

func TestDocuments_FailedSaveKeepsPreviousVersion(t *testing.T) {
	dir := t.TempDir()
	docs, err := NewDocuments[map[string]any](dir)
	if err != nil {
		t.Fatalf("NewDocuments failed: %v", err)
	}

	if err := docs.Save("run", map[string]any{"status": "running"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	// Functions cannot be encoded, so the write fails midway
	if err := docs.Save("run", map[string]any{"status": "completed", "bad": func() {}}); err == nil {
		t.Fatal("Expected encode error")
	}

	got, err := docs.Load("run")
	if err != nil {
		t.Fatalf("Previous version should still decode: %v", err)
	}
	if got["status"] != "running" {
		t.Errorf("Expected previous version, got %v", got)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("Temp file left behind: %s", e.Name())
		}
	}
	if ids, _ := docs.IDs(); len(ids) != 1 || ids[0] != "run" {
		t.Errorf("Expected a single document, got %v", ids)
	}
}
