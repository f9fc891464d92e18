package loadtest

import (
	"math"
	"sort"
)

// Aggregate reduces raw outcomes to a TestResult. Throughput is computed
// against the configured duration, not measured wall time.
func Aggregate(outcomes []RequestOutcome, durationSeconds int) TestResult {
	result := TestResult{}

	latencies := make([]float64, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Failed {
			continue
		}
		latencies = append(latencies, o.LatencyMs)
	}

	result.TotalRequests = int64(len(outcomes))
	result.SuccessfulRequests = int64(len(latencies))
	result.FailedRequests = result.TotalRequests - result.SuccessfulRequests

	if durationSeconds > 0 {
		result.RequestsPerSecond = float64(result.TotalRequests) / float64(durationSeconds)
	}
	if result.TotalRequests > 0 {
		result.ErrorRate = float64(result.FailedRequests) / float64(result.TotalRequests) * 100
	}

	if len(latencies) == 0 {
		return result
	}

	sort.Float64s(latencies)

	var sum float64
	for _, l := range latencies {
		sum += l
	}
	result.AverageResponseTime = sum / float64(len(latencies))
	result.MinResponseTime = latencies[0]
	result.MaxResponseTime = latencies[len(latencies)-1]

	result.Percentiles = Percentiles{
		P50: Percentile(latencies, 50),
		P95: Percentile(latencies, 95),
		P99: Percentile(latencies, 99),
	}
	result.LatencyBuckets = latencyBuckets(latencies)

	return result
}

// Percentile returns the nearest-rank percentile of an ascending slice:
// the value at index ceil(p/100 * n) - 1, clamped to the slice bounds.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}

	index := int(math.Ceil(p/100*float64(n))) - 1
	if index < 0 {
		index = 0
	}
	if index > n-1 {
		index = n - 1
	}
	return sorted[index]
}

// Histogram bucket labels, ordered by upper bound
var bucketBounds = []struct {
	label string
	upper float64
}{
	{"<10ms", 10},
	{"10-50ms", 50},
	{"50-100ms", 100},
	{"100-200ms", 200},
	{"200-500ms", 500},
	{"500ms-1s", 1000},
	{"1s-2s", 2000},
	{">2s", math.Inf(1)},
}

// latencyBuckets creates a histogram of the latency distribution
func latencyBuckets(latencies []float64) map[string]int64 {
	buckets := make(map[string]int64, len(bucketBounds))
	for _, b := range bucketBounds {
		buckets[b.label] = 0
	}

	for _, l := range latencies {
		for _, b := range bucketBounds {
			if l < b.upper {
				buckets[b.label]++
				break
			}
		}
	}
	return buckets
}
