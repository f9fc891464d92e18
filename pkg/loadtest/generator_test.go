package loadtest

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).With().Timestamp().Logger().Level(zerolog.WarnLevel)
}

// fakeExecutor is an in-process Executor
type fakeExecutor struct {
	calls   atomic.Int64
	delay   time.Duration
	failAll bool
	panics  bool

	mu    sync.Mutex
	times []time.Time
}

func (f *fakeExecutor) Execute(ctx context.Context, endpoint EndpointSpec) error {
	f.calls.Add(1)
	f.mu.Lock()
	f.times = append(f.times, time.Now())
	f.mu.Unlock()

	if f.panics {
		panic("boom")
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return &TransportError{Method: endpoint.Method, URL: endpoint.URL, Err: ctx.Err()}
		}
	}
	if f.failAll {
		return &TransportError{Method: endpoint.Method, URL: endpoint.URL, Err: errors.New("connection refused")}
	}
	return nil
}

var testEndpoint = EndpointSpec{Method: MethodGet, URL: "http://target.local/"}

func TestGenerator_SingleWorker(t *testing.T) {
	exec := &fakeExecutor{}
	g := NewGenerator(exec, testLogger())

	outcomes, err := g.Run(context.Background(), testEndpoint, TestConfiguration{Concurrency: 1, DurationSeconds: 1})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// ~10 iterations at 100ms pacing
	if len(outcomes) < 5 || len(outcomes) > 11 {
		t.Errorf("Expected about 10 outcomes, got %d", len(outcomes))
	}
	if int64(len(outcomes)) != exec.calls.Load() {
		t.Errorf("Outcomes %d do not match executions %d", len(outcomes), exec.calls.Load())
	}
	for _, o := range outcomes {
		if o.Failed {
			t.Fatal("Expected only successful outcomes")
		}
	}
}

func TestGenerator_ManyWorkers(t *testing.T) {
	exec := &fakeExecutor{}
	g := NewGenerator(exec, testLogger())

	start := time.Now()
	outcomes, err := g.Run(context.Background(), testEndpoint, TestConfiguration{Concurrency: 5, DurationSeconds: 2})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	elapsed := time.Since(start)

	// 5 workers for 2s at 100ms pacing
	if len(outcomes) < 50 || len(outcomes) > 110 {
		t.Errorf("Expected about 100 outcomes, got %d", len(outcomes))
	}
	if elapsed < 2*time.Second || elapsed > 3*time.Second {
		t.Errorf("Expected run to last about 2s, took %v", elapsed)
	}

	result := Aggregate(outcomes, 2)
	if result.RequestsPerSecond < 25 || result.RequestsPerSecond > 55 {
		t.Errorf("Expected about 50 rps, got %v", result.RequestsPerSecond)
	}
}

func TestGenerator_FailuresAreRecorded(t *testing.T) {
	exec := &fakeExecutor{failAll: true}
	g := NewGenerator(exec, testLogger())
	g.SetPacing(10 * time.Millisecond)

	outcomes, err := g.Run(context.Background(), testEndpoint, TestConfiguration{Concurrency: 2, DurationSeconds: 1})
	if err != nil {
		t.Fatalf("Transport failures must not abort the run: %v", err)
	}
	if len(outcomes) == 0 {
		t.Fatal("Expected outcomes")
	}
	for _, o := range outcomes {
		if !o.Failed {
			t.Fatal("Expected only failed outcomes")
		}
	}
}

func TestGenerator_SteadyLatency(t *testing.T) {
	exec := &fakeExecutor{delay: 50 * time.Millisecond}
	g := NewGenerator(exec, testLogger())

	outcomes, err := g.Run(context.Background(), testEndpoint, TestConfiguration{Concurrency: 1, DurationSeconds: 1})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	result := Aggregate(outcomes, 1)
	t.Logf("total=%d avg=%.2fms", result.TotalRequests, result.AverageResponseTime)

	// 50ms request plus 100ms pacing per iteration
	if result.TotalRequests < 4 || result.TotalRequests > 8 {
		t.Errorf("Expected about 7 requests, got %d", result.TotalRequests)
	}
	if result.SuccessfulRequests != result.TotalRequests {
		t.Errorf("Expected all %d requests to succeed, got %d", result.TotalRequests, result.SuccessfulRequests)
	}
	if result.ErrorRate != 0 {
		t.Errorf("Expected 0%% error rate, got %v", result.ErrorRate)
	}
	if result.AverageResponseTime < 45 || result.AverageResponseTime > 70 {
		t.Errorf("Expected average latency near 50ms, got %v", result.AverageResponseTime)
	}
	if result.MinResponseTime < 45 {
		t.Errorf("Latency below executor delay: %v", result.MinResponseTime)
	}
}

func TestGenerator_AllRequestsFail(t *testing.T) {
	exec := &fakeExecutor{failAll: true}
	g := NewGenerator(exec, testLogger())

	outcomes, err := g.Run(context.Background(), testEndpoint, TestConfiguration{Concurrency: 5, DurationSeconds: 2})
	if err != nil {
		t.Fatalf("Transport failures must not abort the run: %v", err)
	}

	result := Aggregate(outcomes, 2)

	// 5 workers for 2s at 100ms pacing
	if result.TotalRequests < 50 || result.TotalRequests > 110 {
		t.Errorf("Expected about 100 requests, got %d", result.TotalRequests)
	}
	if result.SuccessfulRequests != 0 || result.FailedRequests != result.TotalRequests {
		t.Errorf("Expected every request to fail, got %d/%d", result.FailedRequests, result.TotalRequests)
	}
	if result.ErrorRate != 100 {
		t.Errorf("Expected 100%% error rate, got %v", result.ErrorRate)
	}
	if result.AverageResponseTime != 0 || result.Percentiles.P95 != 0 {
		t.Errorf("Expected zero latency stats, got avg %v p95 %v", result.AverageResponseTime, result.Percentiles.P95)
	}
	if want := float64(result.TotalRequests) / 2; result.RequestsPerSecond != want {
		t.Errorf("Expected %v rps, got %v", want, result.RequestsPerSecond)
	}
}

func TestGenerator_EveryWorkerRunsOnce(t *testing.T) {
	// Each request outlasts the whole run
	exec := &fakeExecutor{delay: 1100 * time.Millisecond}
	g := NewGenerator(exec, testLogger())
	g.SetPacing(0)

	outcomes, err := g.Run(context.Background(), testEndpoint, TestConfiguration{Concurrency: 3, DurationSeconds: 1})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(outcomes) != 3 {
		t.Errorf("Expected exactly one outcome per worker, got %d", len(outcomes))
	}
	for _, o := range outcomes {
		if o.Failed || o.LatencyMs < 1000 {
			t.Errorf("Expected in-flight request to complete, got %+v", o)
		}
	}
}

func TestGenerator_Cancellation(t *testing.T) {
	exec := &fakeExecutor{}
	g := NewGenerator(exec, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(150*time.Millisecond, cancel)

	start := time.Now()
	outcomes, err := g.Run(ctx, testEndpoint, TestConfiguration{Concurrency: 3, DurationSeconds: 30})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if outcomes != nil {
		t.Errorf("Expected no outcomes from a cancelled run, got %d", len(outcomes))
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("Cancellation took too long: %v", time.Since(start))
	}
}

func TestGenerator_PanicBecomesError(t *testing.T) {
	exec := &fakeExecutor{panics: true}
	g := NewGenerator(exec, testLogger())

	_, err := g.Run(context.Background(), testEndpoint, TestConfiguration{Concurrency: 2, DurationSeconds: 1})
	if err == nil {
		t.Fatal("Expected error from panicking worker")
	}
}

func TestGenerator_RampUpStaggersWorkers(t *testing.T) {
	exec := &fakeExecutor{}
	g := NewGenerator(exec, testLogger())
	g.SetPacing(time.Second)

	// Worker 1 starts half way through the 1s ramp-up
	outcomes, err := g.Run(context.Background(), testEndpoint, TestConfiguration{
		Concurrency:     2,
		DurationSeconds: 1,
		RampUpSeconds:   1,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("Expected 2 outcomes, got %d", len(outcomes))
	}

	exec.mu.Lock()
	defer exec.mu.Unlock()
	gap := exec.times[1].Sub(exec.times[0])
	if gap < 400*time.Millisecond {
		t.Errorf("Expected second worker to start ~500ms later, gap was %v", gap)
	}
}

func TestGenerator_RequestTimeout(t *testing.T) {
	exec := &fakeExecutor{delay: 5 * time.Second}
	g := NewGenerator(exec, testLogger())
	g.SetPacing(0)

	start := time.Now()
	outcomes, err := g.Run(context.Background(), testEndpoint, TestConfiguration{
		Concurrency:           1,
		DurationSeconds:       1,
		RequestTimeoutSeconds: 1,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Errorf("Request timeout not applied, run took %v", time.Since(start))
	}
	if len(outcomes) != 1 || !outcomes[0].Failed {
		t.Errorf("Expected one timed out outcome, got %+v", outcomes)
	}
}
