package loadtest

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"loadlab/pkg/hoststats"
)

// DefaultHistoryLimit caps the number of records returned by GetTestHistory
const DefaultHistoryLimit = 50

// Store persists test records
type Store interface {
	Create(ctx context.Context, record *TestRecord) (string, error)
	Update(ctx context.Context, record *TestRecord) error
	Get(ctx context.Context, id string) (*TestRecord, error)
	// ListByOwner returns records sorted by StartedAt, newest first
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*TestRecord, error)
}

// HostSampler records host resource usage until its context is cancelled
type HostSampler interface {
	Run(ctx context.Context) *hoststats.Stats
}

// RunRequest describes one load test invocation
type RunRequest struct {
	OwnerID    string
	EndpointID string
	Name       string
	Endpoint   EndpointSpec
	Config     TestConfiguration
}

// Coordinator owns the lifecycle of test runs. It keeps no per-run state,
// so concurrent runs are independent.
type Coordinator struct {
	store        Store
	generator    LoadGenerator
	logger       zerolog.Logger
	sampler      HostSampler
	instruments  *Instruments
	historyLimit int
	now          func() time.Time
}

// NewCoordinator creates a coordinator persisting through store
func NewCoordinator(store Store, generator LoadGenerator, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		store:        store,
		generator:    generator,
		logger:       logger,
		historyLimit: DefaultHistoryLimit,
		now:          time.Now,
	}
}

// SetHostSampler enables host resource sampling during runs
func (c *Coordinator) SetHostSampler(sampler HostSampler) {
	c.sampler = sampler
}

// SetInstruments enables Prometheus instrumentation
func (c *Coordinator) SetInstruments(instruments *Instruments) {
	c.instruments = instruments
}

// SetHistoryLimit changes the cap applied by GetTestHistory
func (c *Coordinator) SetHistoryLimit(limit int) {
	if limit > 0 {
		c.historyLimit = limit
	}
}

// RunLoadTest creates a running record, drives the load generator, and
// persists the terminal state. It blocks for roughly the configured duration.
//
// If the record cannot be created, the error is returned and no record
// exists. If the generator fails, the record is marked failed and the
// generator error is returned together with any error from persisting the
// failure. The returned record reflects the last state written.
func (c *Coordinator) RunLoadTest(ctx context.Context, req RunRequest) (*TestRecord, error) {
	config := req.Config.WithDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	record := &TestRecord{
		OwnerID:    req.OwnerID,
		EndpointID: req.EndpointID,
		Name:       req.Name,
		Config:     config,
		Status:     StatusRunning,
		StartedAt:  c.now(),
	}

	id, err := c.store.Create(ctx, record)
	if err != nil {
		return nil, &PersistenceError{Op: "create", Err: err}
	}
	record.ID = id

	log := c.logger.With().Str("run_id", record.ID).Str("owner_id", record.OwnerID).Logger()
	log.Info().
		Str("method", string(req.Endpoint.Method)).
		Str("url", req.Endpoint.URL).
		Int("concurrency", config.Concurrency).
		Int("duration_seconds", config.DurationSeconds).
		Int("ramp_up_seconds", config.RampUpSeconds).
		Msg("Starting load test")

	c.instruments.runStarted()

	stopSampling := c.startSampling(ctx)
	outcomes, runErr := c.generator.Run(ctx, req.Endpoint, config)
	record.HostStats = stopSampling()

	// Final writes must land even if the caller's context was cancelled
	persistCtx := context.WithoutCancel(ctx)

	if runErr != nil {
		log.Error().Err(runErr).Msg("Load test failed")
		c.markFailed(record)
		c.instruments.runFinished(StatusFailed, nil)
		if err := c.store.Update(persistCtx, record); err != nil {
			return record, errors.Join(runErr, &PersistenceError{Op: "update", Err: err})
		}
		return record, runErr
	}

	result := Aggregate(outcomes, config.DurationSeconds)
	completedAt := c.now()
	record.Result = &result
	record.Status = StatusCompleted
	record.CompletedAt = &completedAt

	if err := c.store.Update(persistCtx, record); err != nil {
		updateErr := &PersistenceError{Op: "update", Err: err}
		log.Error().Err(err).Msg("Failed to persist completed load test")

		// No partial result survives a failed run
		c.markFailed(record)
		c.instruments.runFinished(StatusFailed, outcomes)
		if retryErr := c.store.Update(persistCtx, record); retryErr != nil {
			return record, errors.Join(updateErr, &PersistenceError{Op: "update", Err: retryErr})
		}
		return record, updateErr
	}

	c.instruments.runFinished(StatusCompleted, outcomes)

	log.Info().
		Int64("total_requests", result.TotalRequests).
		Int64("successful", result.SuccessfulRequests).
		Int64("failed", result.FailedRequests).
		Float64("avg_response_time", result.AverageResponseTime).
		Float64("requests_per_second", result.RequestsPerSecond).
		Float64("error_rate", result.ErrorRate).
		Msg("Load test completed")

	return record, nil
}

// GetTestHistory returns the owner's most recent records, newest first
func (c *Coordinator) GetTestHistory(ctx context.Context, ownerID string) ([]*TestRecord, error) {
	return c.store.ListByOwner(ctx, ownerID, c.historyLimit)
}

// GetTestRecord returns a single record by id
func (c *Coordinator) GetTestRecord(ctx context.Context, id string) (*TestRecord, error) {
	return c.store.Get(ctx, id)
}

func (c *Coordinator) markFailed(record *TestRecord) {
	completedAt := c.now()
	record.Status = StatusFailed
	record.CompletedAt = &completedAt
	record.Result = nil
}

// startSampling launches the host sampler and returns a function that stops
// it and yields the summary. It returns nil stats when sampling is disabled.
func (c *Coordinator) startSampling(ctx context.Context) func() *hoststats.Stats {
	if c.sampler == nil {
		return func() *hoststats.Stats { return nil }
	}

	sampleCtx, cancel := context.WithCancel(ctx)
	done := make(chan *hoststats.Stats, 1)
	go func() {
		done <- c.sampler.Run(sampleCtx)
	}()

	return func() *hoststats.Stats {
		cancel()
		return <-done
	}
}
