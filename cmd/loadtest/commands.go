package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"loadlab/pkg/catalog"
	"loadlab/pkg/config"
	"loadlab/pkg/hoststats"
	"loadlab/pkg/loadtest"
	"loadlab/pkg/report"
	"loadlab/pkg/store"
)

const timeLayout = "2006-01-02 15:04:05"

// engine bundles what a subcommand needs from the configuration
type engine struct {
	cfg         *config.Config
	backend     store.Backend
	coordinator *loadtest.Coordinator
	executor    *loadtest.HTTPExecutor
}

func openEngine(concurrency int) (*engine, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger := cfg.Logger()

	backend, err := store.Open(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	executor := loadtest.NewHTTPExecutor(concurrency)
	coordinator := loadtest.NewCoordinator(backend, loadtest.NewGenerator(executor, logger), logger)
	coordinator.SetHistoryLimit(cfg.Engine.HistoryLimit)
	if cfg.Engine.HostSampling {
		coordinator.SetHostSampler(hoststats.NewSampler(cfg.SampleInterval(), logger))
	}

	return &engine{cfg: cfg, backend: backend, coordinator: coordinator, executor: executor}, nil
}

func (e *engine) Close() error {
	e.executor.CloseIdleConnections()
	return e.backend.Close()
}

func runLoadTest(cmd *cobra.Command) error {
	concurrency := flagConcurrency
	if concurrency == 0 {
		concurrency = loadtest.DefaultConcurrency
	}
	eng, err := openEngine(concurrency)
	if err != nil {
		return err
	}
	defer eng.Close()

	req, err := buildRunRequest(eng.cfg)
	if err != nil {
		return err
	}

	// Ctrl-C ends the run early; the record is kept as failed
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	record, runErr := eng.coordinator.RunLoadTest(ctx, req)
	if record != nil {
		if err := printRecord(cmd.OutOrStdout(), record, flagOutput); err != nil {
			return err
		}
	}
	return runErr
}

func buildRunRequest(cfg *config.Config) (loadtest.RunRequest, error) {
	req := loadtest.RunRequest{
		OwnerID: flagOwner,
		Name:    flagName,
		Config: loadtest.TestConfiguration{
			Concurrency:           flagConcurrency,
			DurationSeconds:       flagDuration,
			RampUpSeconds:         flagRampUp,
			RequestTimeoutSeconds: flagTimeout,
		},
	}
	if req.Config.RequestTimeoutSeconds == 0 {
		req.Config.RequestTimeoutSeconds = cfg.Engine.DefaultRequestTimeoutSec
	}

	if flagEndpoint != "" {
		endpoints, err := catalog.Load(cfg.Catalog)
		if err != nil {
			return req, err
		}
		entry, err := endpoints.Endpoint(context.Background(), flagEndpoint)
		if err != nil {
			return req, err
		}
		req.EndpointID = entry.ID
		req.Endpoint = entry.Endpoint
		if req.OwnerID == "" {
			req.OwnerID = entry.OwnerID
		}
		if req.Name == "" {
			req.Name = entry.Name
		}
	} else {
		if flagURL == "" {
			return req, errors.New("either --endpoint or --url is required")
		}
		method, err := loadtest.ParseMethod(flagMethod)
		if err != nil {
			return req, err
		}
		headers, err := parsePairs(flagHeaders, ":")
		if err != nil {
			return req, fmt.Errorf("invalid header: %w", err)
		}
		query, err := parsePairs(flagQuery, "=")
		if err != nil {
			return req, fmt.Errorf("invalid query parameter: %w", err)
		}
		req.Endpoint = loadtest.EndpointSpec{
			Method:      method,
			URL:         flagURL,
			Headers:     headers,
			QueryParams: query,
			Body:        parseBody(flagBody),
		}
	}

	if req.OwnerID == "" {
		req.OwnerID = "local"
	}
	if req.Name == "" {
		req.Name = string(req.Endpoint.Method) + " " + req.Endpoint.URL
	}
	return req, nil
}

// parsePairs splits "key<sep>value" strings
func parsePairs(values []string, sep string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(values))
	for _, v := range values {
		key, value, ok := strings.Cut(v, sep)
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("%q is not in key%svalue form", v, sep)
		}
		out[key] = strings.TrimSpace(value)
	}
	return out, nil
}

// parseBody keeps valid JSON as structured data and anything else as text
func parseBody(s string) any {
	if s == "" {
		return nil
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	return s
}

func runHistory(cmd *cobra.Command) error {
	records, err := loadHistory()
	if err != nil {
		return err
	}
	if flagLimit > 0 && flagLimit < len(records) {
		records = records[:flagLimit]
	}

	out := cmd.OutOrStdout()
	if flagOutput == "json" {
		return writeJSON(out, records)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tSTARTED\tREQUESTS\tRPS\tERRORS\tP95")
	for _, r := range records {
		requests, rps, errRate, p95 := "-", "-", "-", "-"
		if r.Result != nil {
			requests = fmt.Sprintf("%d", r.Result.TotalRequests)
			rps = fmt.Sprintf("%.2f", r.Result.RequestsPerSecond)
			errRate = fmt.Sprintf("%.2f%%", r.Result.ErrorRate)
			p95 = fmt.Sprintf("%.2fms", r.Result.Percentiles.P95)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.Name, r.Status,
			r.StartedAt.Local().Format(timeLayout), requests, rps, errRate, p95)
	}
	return w.Flush()
}

func runExport(cmd *cobra.Command) error {
	records, err := loadHistory()
	if err != nil {
		return err
	}
	if err := report.WriteHistory(records, flagExportPath); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Exported %d runs to %s\n", len(records), flagExportPath)
	return nil
}

func loadHistory() ([]*loadtest.TestRecord, error) {
	if flagOwner == "" {
		return nil, errors.New("--owner is required")
	}
	eng, err := openEngine(1)
	if err != nil {
		return nil, err
	}
	defer eng.Close()

	return eng.coordinator.GetTestHistory(context.Background(), flagOwner)
}

func runEndpoints(cmd *cobra.Command) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	endpoints, err := catalog.Load(cfg.Catalog)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if flagOutput == "json" {
		return writeJSON(out, endpoints.List())
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tOWNER\tMETHOD\tURL")
	for _, e := range endpoints.List() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.ID, e.OwnerID, e.Endpoint.Method, e.Endpoint.URL)
	}
	return w.Flush()
}

func printRecord(out io.Writer, record *loadtest.TestRecord, format string) error {
	if format == "json" {
		return writeJSON(out, record)
	}

	fmt.Fprintf(out, "\nRun %s (%s)\n", record.ID, record.Name)
	fmt.Fprintf(out, "Status: %s\n", record.Status)
	if record.Result == nil {
		return nil
	}

	res := record.Result
	fmt.Fprintf(out, "Requests: %d total, %d successful, %d failed\n",
		res.TotalRequests, res.SuccessfulRequests, res.FailedRequests)
	fmt.Fprintf(out, "Throughput: %.2f req/s\n", res.RequestsPerSecond)
	fmt.Fprintf(out, "Error rate: %.2f%%\n", res.ErrorRate)
	fmt.Fprintf(out, "Latency: avg %.2fms, min %.2fms, max %.2fms\n",
		res.AverageResponseTime, res.MinResponseTime, res.MaxResponseTime)
	fmt.Fprintf(out, "Percentiles: p50 %.2fms, p95 %.2fms, p99 %.2fms\n",
		res.Percentiles.P50, res.Percentiles.P95, res.Percentiles.P99)

	if len(res.LatencyBuckets) > 0 {
		labels := make([]string, 0, len(res.LatencyBuckets))
		for label := range res.LatencyBuckets {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		fmt.Fprintln(out, "Distribution:")
		for _, label := range labels {
			fmt.Fprintf(out, "  %-10s %d\n", label, res.LatencyBuckets[label])
		}
	}

	if hs := record.HostStats; hs != nil && hs.Samples > 0 {
		fmt.Fprintf(out, "Host: cpu avg %.1f%% max %.1f%%, memory max %.1f%%\n",
			hs.AvgCPUPercent, hs.MaxCPUPercent, hs.MaxMemoryPercent)
	}
	return nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
