package loadtest

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"loadlab/pkg/hoststats"
)

// Method is an HTTP method accepted by an endpoint description
type Method string

const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodPatch  Method = "PATCH"
	MethodDelete Method = "DELETE"
)

// ParseMethod normalizes and validates a method name
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToUpper(strings.TrimSpace(s)))
	switch m {
	case MethodGet, MethodPost, MethodPut, MethodPatch, MethodDelete:
		return m, nil
	}
	return "", fmt.Errorf("unsupported method %q", s)
}

// HasBody reports whether requests with this method carry a body
func (m Method) HasBody() bool {
	return m == MethodPost || m == MethodPut || m == MethodPatch
}

// EndpointSpec describes the HTTP target a load test is driven against
type EndpointSpec struct {
	Method      Method            `json:"method" yaml:"method"`
	URL         string            `json:"url" yaml:"url"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers"`
	QueryParams map[string]string `json:"queryParams,omitempty" yaml:"query"`
	Body        any               `json:"body,omitempty" yaml:"body"`
}

// Configuration defaults
const (
	DefaultConcurrency     = 10
	DefaultDurationSeconds = 60
)

// TestConfiguration controls the shape of a load test
type TestConfiguration struct {
	Concurrency           int `json:"concurrency"`
	DurationSeconds       int `json:"durationSeconds"`
	RampUpSeconds         int `json:"rampUpSeconds"`
	RequestTimeoutSeconds int `json:"requestTimeoutSeconds,omitempty"` // 0 disables the per-request timeout
}

// WithDefaults returns a copy with zero-valued fields replaced by defaults
func (c TestConfiguration) WithDefaults() TestConfiguration {
	if c.Concurrency == 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.DurationSeconds == 0 {
		c.DurationSeconds = DefaultDurationSeconds
	}
	return c
}

// Validate checks the configuration bounds
func (c TestConfiguration) Validate() error {
	if c.Concurrency < 1 {
		return &ConfigurationError{Field: "concurrency", Reason: "must be at least 1"}
	}
	if c.DurationSeconds < 1 {
		return &ConfigurationError{Field: "durationSeconds", Reason: "must be at least 1"}
	}
	if c.RampUpSeconds < 0 {
		return &ConfigurationError{Field: "rampUpSeconds", Reason: "cannot be negative"}
	}
	if c.RequestTimeoutSeconds < 0 {
		return &ConfigurationError{Field: "requestTimeoutSeconds", Reason: "cannot be negative"}
	}
	return nil
}

// Duration returns the configured test duration
func (c TestConfiguration) Duration() time.Duration {
	return time.Duration(c.DurationSeconds) * time.Second
}

// RampUp returns the configured ramp-up window
func (c TestConfiguration) RampUp() time.Duration {
	return time.Duration(c.RampUpSeconds) * time.Second
}

// RequestTimeout returns the per-request timeout, or 0 when unbounded
func (c TestConfiguration) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// RequestOutcome is the raw result of a single request: a latency sample on
// success, or a failure marker
type RequestOutcome struct {
	LatencyMs float64
	Failed    bool
}

// Success builds a successful outcome from a measured latency
func Success(latency time.Duration) RequestOutcome {
	return RequestOutcome{LatencyMs: float64(latency.Nanoseconds()) / 1e6}
}

// Failure builds a failed outcome
func Failure() RequestOutcome {
	return RequestOutcome{Failed: true}
}

// Percentiles holds latency percentiles in milliseconds
type Percentiles struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// TestResult is the aggregated summary of a completed load test.
// Latency figures are milliseconds over successful requests only.
type TestResult struct {
	TotalRequests       int64            `json:"totalRequests"`
	SuccessfulRequests  int64            `json:"successfulRequests"`
	FailedRequests      int64            `json:"failedRequests"`
	AverageResponseTime float64          `json:"averageResponseTime"`
	MinResponseTime     float64          `json:"minResponseTime"`
	MaxResponseTime     float64          `json:"maxResponseTime"`
	RequestsPerSecond   float64          `json:"requestsPerSecond"`
	ErrorRate           float64          `json:"errorRate"` // percentage
	Percentiles         Percentiles      `json:"percentiles"`
	LatencyBuckets      map[string]int64 `json:"latencyBuckets,omitempty"`
}

// Status is the lifecycle state of a test record
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether the status can no longer change
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// TestRecord is the persisted entity tracking one load-test run
type TestRecord struct {
	ID          string            `json:"id"`
	OwnerID     string            `json:"ownerId"`
	EndpointID  string            `json:"endpointId,omitempty"`
	Name        string            `json:"name"`
	Config      TestConfiguration `json:"config"`
	Status      Status            `json:"status"`
	StartedAt   time.Time         `json:"startedAt"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
	Result      *TestResult       `json:"result,omitempty"`
	HostStats   *hoststats.Stats  `json:"hostStats,omitempty"`
}

// MarshalJSON implements json.Marshaler interface for TestRecord
func (r TestRecord) MarshalJSON() ([]byte, error) {
	type Alias TestRecord
	return json.Marshal((Alias)(r))
}

// UnmarshalJSON implements json.Unmarshaler interface for TestRecord
func (r *TestRecord) UnmarshalJSON(data []byte) error {
	type Alias TestRecord
	return json.Unmarshal(data, (*Alias)(r))
}
