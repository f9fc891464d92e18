// Package report exports load test history to XLSX workbooks.
package report

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"loadlab/pkg/loadtest"
)

const (
	// SheetName is the worksheet holding one row per run
	SheetName = "History"

	columnWidth   = 18
	failedBgColor = "#FFC7CE"
	timeLayout    = time.RFC3339
)

// Headers are the column titles of the history sheet
var Headers = []string{
	"ID", "Name", "Owner", "Endpoint", "Status", "Started", "Completed",
	"Concurrency", "Duration (s)", "Total", "Successful", "Failed",
	"Avg (ms)", "Min (ms)", "Max (ms)", "P50 (ms)", "P95 (ms)", "P99 (ms)",
	"RPS", "Error Rate (%)",
}

// WriteHistory writes records to a new workbook at path. Failed runs are
// highlighted and leave the result columns empty.
func WriteHistory(records []*loadtest.TestRecord, path string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}

	lastCol, err := excelize.ColumnNumberToName(len(Headers))
	if err != nil {
		return err
	}
	if err := f.SetColWidth(SheetName, "A", lastCol, columnWidth); err != nil {
		return fmt.Errorf("failed to set column width: %w", err)
	}

	if err := f.SetSheetRow(SheetName, "A1", &Headers); err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}

	failedStyle, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{failedBgColor}},
	})
	if err != nil {
		return fmt.Errorf("failed to create style: %w", err)
	}

	for i, record := range records {
		row := i + 2
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return err
		}
		values := rowValues(record)
		if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
			return fmt.Errorf("failed to write row %d: %w", row, err)
		}
		if record.Status == loadtest.StatusFailed {
			end := fmt.Sprintf("%s%d", lastCol, row)
			if err := f.SetCellStyle(SheetName, cell, end, failedStyle); err != nil {
				return fmt.Errorf("failed to style row %d: %w", row, err)
			}
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	return nil
}

func rowValues(r *loadtest.TestRecord) []any {
	completed := ""
	if r.CompletedAt != nil {
		completed = r.CompletedAt.UTC().Format(timeLayout)
	}

	values := []any{
		r.ID, r.Name, r.OwnerID, r.EndpointID, string(r.Status),
		r.StartedAt.UTC().Format(timeLayout), completed,
		r.Config.Concurrency, r.Config.DurationSeconds,
	}
	if r.Result == nil {
		return values
	}

	res := r.Result
	return append(values,
		res.TotalRequests, res.SuccessfulRequests, res.FailedRequests,
		res.AverageResponseTime, res.MinResponseTime, res.MaxResponseTime,
		res.Percentiles.P50, res.Percentiles.P95, res.Percentiles.P99,
		res.RequestsPerSecond, res.ErrorRate,
	)
}
