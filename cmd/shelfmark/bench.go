package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/shelfmark/shelfmark/internal/benchmark"
	"github.com/shelfmark/shelfmark/internal/benchmark/scientific"
	"github.com/shelfmark/shelfmark/internal/mirror/index"
	"github.com/shelfmark/shelfmark/internal/outfmt"
)

var benchCmd = &cobra.Command{
	Use:     "bench",
	GroupID: "maint",
	Short:   "Run index backend benchmarks comparing sqlite vs bleve",
	Long: `Run performance benchmarks comparing the sqlite and bleve search index
backends.

The benchmark builds a synthetic library of the given size, then measures
query latency, throughput, memory usage, and index build time under
concurrent client load.

Modes:
  compare - Run both backends on identical data, show comparison (default)
  sqlite  - Run only the sqlite backend
  bleve   - Run only the bleve backend

Examples:
  # Compare with default settings (100 clients, 1000 books)
  shelfmark bench

  # Compare with 200 clients and 5000 books
  shelfmark bench --clients 200 --books 5000

  # Run only the bleve backend
  shelfmark bench --mode bleve

  # Output comparison as JSON
  shelfmark bench --output json`,
	Run: runBench,
}

var (
	benchSuiteOutputDir string
	benchSuiteQuick     bool
	benchSuiteJSON      bool
	benchSuiteCSV       bool
)

var benchSuiteCmd = &cobra.Command{
	Use:   "suite",
	Short: "Run the full scientific benchmark suite",
	Long: `Run a comprehensive, statistically rigorous benchmark suite comparing
the sqlite and bleve index backends.

The suite:
- Uses deterministic test data (reproducible via seed)
- Runs warmup iterations to eliminate cold-start effects
- Performs multiple measurement runs for statistical analysis
- Tests multiple client counts and library sizes
- Exports results in JSON, CSV, and markdown formats
- Generates ASCII graphs for terminal viewing`,
	RunE: runBenchSuite,
}

func init() {
	benchCmd.Flags().Int("clients", 100, "Number of concurrent query clients to simulate")
	benchCmd.Flags().Int("books", 1000, "Total number of books in the synthetic library")
	benchCmd.Flags().Int("queries", 10, "Number of queries per client")
	benchCmd.Flags().Float64("placeholders", 0.3, "Fraction of books still placeholders (0.0-1.0)")
	benchCmd.Flags().String("mode", "compare", "Benchmark mode: compare, sqlite, or bleve")

	benchSuiteCmd.Flags().StringVarP(&benchSuiteOutputDir, "output-dir", "d", "./benchmark-results", "Output directory for results")
	benchSuiteCmd.Flags().BoolVar(&benchSuiteQuick, "quick", false, "Run quick benchmark (fewer data points, faster)")
	benchSuiteCmd.Flags().BoolVar(&benchSuiteJSON, "json", false, "Only output JSON summary at the end")
	benchSuiteCmd.Flags().BoolVar(&benchSuiteCSV, "csv", false, "Only output CSV path at the end")

	benchCmd.AddCommand(benchSuiteCmd)
	rootCmd.AddCommand(benchCmd)
}

func runBench(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	clients, _ := cmd.Flags().GetInt("clients")
	books, _ := cmd.Flags().GetInt("books")
	queries, _ := cmd.Flags().GetInt("queries")
	placeholders, _ := cmd.Flags().GetFloat64("placeholders")
	mode, _ := cmd.Flags().GetString("mode")

	if clients <= 0 {
		fmt.Fprintf(os.Stderr, "Error: --clients must be positive\n")
		os.Exit(1)
	}
	if books <= 0 {
		fmt.Fprintf(os.Stderr, "Error: --books must be positive\n")
		os.Exit(1)
	}
	if queries <= 0 {
		fmt.Fprintf(os.Stderr, "Error: --queries must be positive\n")
		os.Exit(1)
	}
	if placeholders < 0 || placeholders > 1 {
		fmt.Fprintf(os.Stderr, "Error: --placeholders must be between 0.0 and 1.0\n")
		os.Exit(1)
	}
	if mode != "compare" && mode != index.BackendSQLite && mode != index.BackendBleve {
		fmt.Fprintf(os.Stderr, "Error: --mode must be 'compare', 'sqlite', or 'bleve'\n")
		os.Exit(1)
	}

	config := benchmark.Config{
		NumClients:       clients,
		NumBooks:         books,
		QueriesPerClient: queries,
		PlaceholderPct:   placeholders,
	}

	if mode == "compare" {
		fmt.Printf("Running index backend comparison...\n")
		fmt.Printf("Configuration: %d clients, %d books, %d queries/client, %.0f%% placeholders\n\n",
			clients, books, queries, placeholders*100)

		result, err := benchmark.Compare(config)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if outfmt.IsJSON(ctx) {
			if err := benchmark.PrintComparisonJSON(result); err != nil {
				fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
				os.Exit(1)
			}
		} else {
			benchmark.PrintComparison(result)
		}
		if result.SQLite.ErrorCount > 0 || result.Bleve.ErrorCount > 0 {
			os.Exit(1)
		}
		return
	}

	fmt.Printf("Running %s-only benchmark...\n", mode)
	fmt.Printf("Configuration: %d clients, %d books, %d queries/client\n\n", clients, books, queries)

	config.Backend = mode
	config.IndexPath = filepath.Join(os.TempDir(), "shelfmark-bench-"+mode)

	result, err := benchmark.RunBackendBenchmark(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if outfmt.IsJSON(ctx) {
		if err := outfmt.WriteJSON(os.Stdout, result); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
			os.Exit(1)
		}
	} else {
		benchmark.PrintResult(result)
	}
	if result.ErrorCount > 0 {
		os.Exit(1)
	}
}

func runBenchSuite(cmd *cobra.Command, args []string) error {
	var config scientific.SuiteConfig
	if benchSuiteQuick {
		config = scientific.QuickConfig()
	} else {
		config = scientific.DefaultConfig()
	}

	outputDir, err := filepath.Abs(benchSuiteOutputDir)
	if err != nil {
		return fmt.Errorf("failed to resolve output directory: %w", err)
	}

	if !benchSuiteJSON && !benchSuiteCSV {
		fmt.Printf("Running benchmark suite...\n")
		fmt.Printf("Output directory: %s\n", outputDir)
		if benchSuiteQuick {
			fmt.Printf("Mode: QUICK (reduced data points for faster execution)\n")
		} else {
			fmt.Printf("Mode: FULL (comprehensive benchmark suite)\n")
		}
		fmt.Printf("\n")
	}

	results, err := scientific.RunSuite(config, outputDir)
	if err != nil {
		return fmt.Errorf("benchmark suite failed: %w", err)
	}

	if err := scientific.GenerateReports(results, outputDir); err != nil {
		return fmt.Errorf("failed to generate reports: %w", err)
	}

	if !benchSuiteJSON && !benchSuiteCSV {
		scientific.PrintGraphs(results)
		scientific.PrintScalingAnalysis(results)
		scientific.PrintStatisticalSignificance(results)

		fmt.Printf("\n")
		fmt.Printf("=== FILES GENERATED ===\n")
		fmt.Printf("\n")
		fmt.Printf("Results directory: %s\n", outputDir)
		fmt.Printf("  - results.json     (complete results for external analysis)\n")
		fmt.Printf("  - results.csv      (importable into Excel, matplotlib, etc.)\n")
		fmt.Printf("  - REPORT.md        (markdown report with tables)\n")
		fmt.Printf("\n")
	} else if benchSuiteJSON {
		summary := map[string]interface{}{
			"status":       "success",
			"output_dir":   outputDir,
			"config":       config,
			"data_points":  len(results.DataPoints),
			"start_time":   results.StartTime,
			"end_time":     results.EndTime,
			"duration_sec": results.EndTime.Sub(results.StartTime).Seconds(),
			"system_info":  results.SystemInfo,
		}
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(summary); err != nil {
			return fmt.Errorf("failed to encode JSON: %w", err)
		}
	} else if benchSuiteCSV {
		csvPath := filepath.Join(outputDir, "results.csv")
		fmt.Println(csvPath)
	}

	return nil
}
