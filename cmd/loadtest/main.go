package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "1.0.0"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "loadtest",
	Short: "loadlab - HTTP endpoint load testing",
	Long: `loadtest drives concurrent HTTP load against an endpoint and records the
aggregated results.

Examples:
  loadtest run --url http://localhost:8081/echo -c 20 -d 30 --owner me
  loadtest run --endpoint checkout -c 5 -d 10
  loadtest history --owner me
  loadtest export --owner me -f history.xlsx
  loadtest endpoints`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a load test and print its result",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLoadTest(cmd)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List the most recent runs of an owner",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHistory(cmd)
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export an owner's run history to an XLSX workbook",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExport(cmd)
	},
}

var endpointsCmd = &cobra.Command{
	Use:   "endpoints",
	Short: "List catalogued endpoints",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEndpoints(cmd)
	},
}

// Global flags
var (
	flagConfig string
	flagOutput string
	flagOwner  string
)

// Flags for run
var (
	flagEndpoint    string
	flagMethod      string
	flagURL         string
	flagHeaders     []string
	flagQuery       []string
	flagBody        string
	flagName        string
	flagConcurrency int
	flagDuration    int
	flagRampUp      int
	flagTimeout     int
)

// Flags for history and export
var (
	flagLimit      int
	flagExportPath string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "loadlab.yaml", "Config file")
	rootCmd.PersistentFlags().StringVar(&flagOwner, "owner", "", "Owner id")

	runCmd.Flags().StringVar(&flagEndpoint, "endpoint", "", "Catalog endpoint id")
	runCmd.Flags().StringVarP(&flagMethod, "method", "X", "GET", "HTTP method")
	runCmd.Flags().StringVarP(&flagURL, "url", "u", "", "Target URL")
	runCmd.Flags().StringArrayVarP(&flagHeaders, "header", "H", []string{}, "Header (Key: Value), can be repeated")
	runCmd.Flags().StringArrayVarP(&flagQuery, "query", "q", []string{}, "Query parameter (key=value), can be repeated")
	runCmd.Flags().StringVarP(&flagBody, "body", "b", "", "Request body (JSON is sent as JSON)")
	runCmd.Flags().StringVarP(&flagName, "name", "n", "", "Run name")
	runCmd.Flags().IntVarP(&flagConcurrency, "concurrency", "c", 0, "Concurrent workers (default 10)")
	runCmd.Flags().IntVarP(&flagDuration, "duration", "d", 0, "Duration in seconds (default 60)")
	runCmd.Flags().IntVar(&flagRampUp, "ramp-up", 0, "Seconds over which worker starts are spread")
	runCmd.Flags().IntVar(&flagTimeout, "timeout", 0, "Per-request timeout in seconds")
	runCmd.Flags().StringVarP(&flagOutput, "output", "o", "text", "Output format (text/json)")

	historyCmd.Flags().IntVarP(&flagLimit, "limit", "l", 0, "Maximum records to show")
	historyCmd.Flags().StringVarP(&flagOutput, "output", "o", "text", "Output format (text/json)")

	exportCmd.Flags().StringVarP(&flagExportPath, "file", "f", "history.xlsx", "Output workbook path")

	endpointsCmd.Flags().StringVarP(&flagOutput, "output", "o", "text", "Output format (text/json)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(endpointsCmd)
}
