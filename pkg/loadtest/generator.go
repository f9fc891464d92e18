package loadtest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultPacing is the fixed pause each worker takes between requests
const DefaultPacing = 100 * time.Millisecond

// LoadGenerator produces raw outcomes for one test run
type LoadGenerator interface {
	Run(ctx context.Context, endpoint EndpointSpec, config TestConfiguration) ([]RequestOutcome, error)
}

// Generator runs a fixed pool of workers against an endpoint until the
// configured deadline
type Generator struct {
	executor Executor
	pacing   time.Duration
	logger   zerolog.Logger
}

// NewGenerator creates a generator that issues requests through executor
func NewGenerator(executor Executor, logger zerolog.Logger) *Generator {
	return &Generator{
		executor: executor,
		pacing:   DefaultPacing,
		logger:   logger,
	}
}

// SetPacing overrides the inter-request pause
func (g *Generator) SetPacing(d time.Duration) {
	g.pacing = d
}

// Run starts config.Concurrency workers and blocks until all have exited.
// Every worker performs at least one request. A request in flight when the
// deadline passes is allowed to finish. Cancelling ctx aborts the run and
// returns ctx.Err().
func (g *Generator) Run(ctx context.Context, endpoint EndpointSpec, config TestConfiguration) ([]RequestOutcome, error) {
	workers := config.Concurrency
	if workers < 1 {
		workers = 1
	}

	deadline := time.Now().Add(config.Duration())

	// Stagger worker start across the ramp-up window
	var stagger time.Duration
	if rampUp := config.RampUp(); rampUp > 0 {
		stagger = rampUp / time.Duration(workers)
	}

	// Per-worker buffers, merged after the join
	buffers := make([][]RequestOutcome, workers)

	group, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		workerID := i
		group.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("worker %d panicked: %v", workerID, r)
				}
			}()

			buffers[workerID], err = g.work(groupCtx, workerID, endpoint, config, deadline, time.Duration(workerID)*stagger)
			return err
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, buf := range buffers {
		total += len(buf)
	}
	outcomes := make([]RequestOutcome, 0, total)
	for _, buf := range buffers {
		outcomes = append(outcomes, buf...)
	}

	return outcomes, nil
}

// work is the loop of a single worker
func (g *Generator) work(ctx context.Context, workerID int, endpoint EndpointSpec, config TestConfiguration, deadline time.Time, startDelay time.Duration) ([]RequestOutcome, error) {
	if startDelay > 0 {
		if err := sleepContext(ctx, startDelay); err != nil {
			return nil, err
		}
	}

	timeout := config.RequestTimeout()
	outcomes := make([]RequestOutcome, 0, estimateIterations(config.Duration(), g.pacing))
	loggedFailure := false

	for {
		start := time.Now()
		err := g.execute(ctx, endpoint, timeout)
		elapsed := time.Since(start)

		// The run itself was cancelled, not just this request
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		if err != nil {
			outcomes = append(outcomes, Failure())
			if !loggedFailure {
				g.logger.Debug().Err(err).Int("worker", workerID).Msg("Request failed")
				loggedFailure = true
			}
		} else {
			outcomes = append(outcomes, Success(elapsed))
		}

		if err := sleepContext(ctx, g.pacing); err != nil {
			return nil, err
		}

		if !time.Now().Before(deadline) {
			return outcomes, nil
		}
	}
}

func (g *Generator) execute(ctx context.Context, endpoint EndpointSpec, timeout time.Duration) error {
	if timeout <= 0 {
		return g.executor.Execute(ctx, endpoint)
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return g.executor.Execute(reqCtx, endpoint)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func estimateIterations(duration, pacing time.Duration) int {
	if pacing <= 0 {
		return 64
	}
	n := int(duration/pacing) + 1
	if n > 4096 {
		n = 4096
	}
	return n
}
