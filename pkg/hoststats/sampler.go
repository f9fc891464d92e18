// Package hoststats samples resource usage of the machine generating load,
// so a run can be checked for client-side saturation.
package hoststats

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
)

// Stats summarizes host usage over a sampling window
type Stats struct {
	Samples          int     `json:"samples"`
	AvgCPUPercent    float64 `json:"avgCpuPercent"`
	MaxCPUPercent    float64 `json:"maxCpuPercent"`
	MaxMemoryPercent float64 `json:"maxMemoryPercent"`
	BytesSent        int64   `json:"bytesSent"`
	BytesReceived    int64   `json:"bytesReceived"`
}

// Sampler periodically polls CPU, memory and network counters
type Sampler struct {
	interval time.Duration
	logger   zerolog.Logger
}

// NewSampler creates a sampler polling at the given interval
func NewSampler(interval time.Duration, logger zerolog.Logger) *Sampler {
	if interval <= 0 {
		interval = time.Second
	}
	return &Sampler{
		interval: interval,
		logger:   logger,
	}
}

// Run samples until ctx is done and returns the summary. Individual probe
// failures are logged and skipped.
//
// CPU usage is measured from this sampler's own cpu.Times snapshots, so
// concurrent samplers do not share a baseline.
func (s *Sampler) Run(ctx context.Context) *Stats {
	stats := &Stats{}
	var cpuSum float64
	cpuSamples := 0

	// Baselines for the delta calculations
	startNet := s.netCounters(ctx)
	prevCPU, havePrev := s.cpuTimes(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Probes use a fresh context, ctx is already cancelled
			if endNet := s.netCounters(context.Background()); startNet != nil && endNet != nil {
				stats.BytesSent = counterDelta(startNet.BytesSent, endNet.BytesSent)
				stats.BytesReceived = counterDelta(startNet.BytesRecv, endNet.BytesRecv)
			}
			if cpuSamples > 0 {
				stats.AvgCPUPercent = cpuSum / float64(cpuSamples)
			}
			return stats

		case <-ticker.C:
			stats.Samples++

			if cur, ok := s.cpuTimes(ctx); ok {
				if havePrev {
					if percent, ok := cpuPercent(prevCPU, cur); ok {
						cpuSum += percent
						cpuSamples++
						if percent > stats.MaxCPUPercent {
							stats.MaxCPUPercent = percent
						}
					}
				}
				prevCPU, havePrev = cur, true
			}

			memInfo, err := mem.VirtualMemoryWithContext(ctx)
			if err != nil {
				s.logger.Debug().Err(err).Msg("Failed to get memory usage")
			} else if memInfo.UsedPercent > stats.MaxMemoryPercent {
				stats.MaxMemoryPercent = memInfo.UsedPercent
			}
		}
	}
}

// cpuTimes returns aggregate CPU times across all cores
func (s *Sampler) cpuTimes(ctx context.Context) (cpu.TimesStat, bool) {
	times, err := cpu.TimesWithContext(ctx, false)
	if err != nil || len(times) == 0 {
		s.logger.Debug().Err(err).Msg("Failed to get CPU times")
		return cpu.TimesStat{}, false
	}
	return times[0], true
}

// cpuPercent returns the busy share between two snapshots. Guest time is
// already counted in user time and is left out.
func cpuPercent(prev, cur cpu.TimesStat) (float64, bool) {
	total := func(t cpu.TimesStat) float64 {
		return t.User + t.System + t.Idle + t.Nice + t.Iowait + t.Irq + t.Softirq + t.Steal
	}
	idle := func(t cpu.TimesStat) float64 { return t.Idle + t.Iowait }

	totalDelta := total(cur) - total(prev)
	if totalDelta <= 0 {
		return 0, false
	}
	busyDelta := totalDelta - (idle(cur) - idle(prev))

	percent := busyDelta / totalDelta * 100
	switch {
	case percent < 0:
		percent = 0
	case percent > 100:
		percent = 100
	}
	return percent, true
}

// netCounters returns aggregate counters across all interfaces
func (s *Sampler) netCounters(ctx context.Context) *net.IOCountersStat {
	counters, err := net.IOCountersWithContext(ctx, false)
	if err != nil || len(counters) == 0 {
		s.logger.Debug().Err(err).Msg("Failed to get network I/O")
		return nil
	}
	return &counters[0]
}

// counterDelta returns end-start, or 0 if the counter was reset
func counterDelta(start, end uint64) int64 {
	if end < start {
		return 0
	}
	return int64(end - start)
}
