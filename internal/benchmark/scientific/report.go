package scientific

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shelfmark/shelfmark/internal/mirror/index"
)

// GenerateReports creates all report outputs (JSON, CSV, markdown, terminal).
func GenerateReports(results *SuiteResults, outputDir string) error {
	if err := exportJSON(results, filepath.Join(outputDir, "results.json")); err != nil {
		return fmt.Errorf("failed to export JSON: %w", err)
	}

	if err := exportCSV(results, filepath.Join(outputDir, "results.csv")); err != nil {
		return fmt.Errorf("failed to export CSV: %w", err)
	}

	if err := generateMarkdownReport(results, filepath.Join(outputDir, "REPORT.md")); err != nil {
		return fmt.Errorf("failed to generate markdown report: %w", err)
	}

	printTerminalSummary(results)

	return nil
}

// exportJSON writes results to JSON file.
func exportJSON(results *SuiteResults, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(results); err != nil {
		return err
	}

	fmt.Printf("Exported JSON: %s\n", path)
	return nil
}

// exportCSV writes results to CSV file for external analysis (Excel, matplotlib, etc.).
func exportCSV(results *SuiteResults, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	header := []string{
		"backend",
		"book_count",
		"client_count",
		"run_number",
		"latency_min_ms",
		"latency_p50_ms",
		"latency_p95_ms",
		"latency_p99_ms",
		"latency_max_ms",
		"latency_mean_ms",
		"latency_stddev_ms",
		"queries_per_second",
		"error_count",
		"error_rate",
		"total_duration_ms",
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, dp := range results.DataPoints {
		row := []string{
			dp.Backend,
			fmt.Sprintf("%d", dp.BookCount),
			fmt.Sprintf("%d", dp.ClientCount),
			fmt.Sprintf("%d", dp.RunNumber),
			fmt.Sprintf("%.3f", float64(dp.LatencyMin)/1e6),
			fmt.Sprintf("%.3f", float64(dp.LatencyP50)/1e6),
			fmt.Sprintf("%.3f", float64(dp.LatencyP95)/1e6),
			fmt.Sprintf("%.3f", float64(dp.LatencyP99)/1e6),
			fmt.Sprintf("%.3f", float64(dp.LatencyMax)/1e6),
			fmt.Sprintf("%.3f", float64(dp.LatencyMean)/1e6),
			fmt.Sprintf("%.3f", float64(dp.LatencyStdDev)/1e6),
			fmt.Sprintf("%.2f", dp.QueriesPerSecond),
			fmt.Sprintf("%d", dp.ErrorCount),
			fmt.Sprintf("%.4f", dp.ErrorRate),
			fmt.Sprintf("%.3f", float64(dp.TotalDurationNs)/1e6),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}

	fmt.Printf("Exported CSV: %s\n", path)
	return nil
}

// generateMarkdownReport creates a markdown report with tables and analysis.
func generateMarkdownReport(results *SuiteResults, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	// Compute aggregated metrics (average across runs)
	aggregated := aggregateResults(results)

	fmt.Fprintf(f, "# Benchmark Report: sqlite vs bleve index backends\n\n")
	fmt.Fprintf(f, "**Generated:** %s\n\n", time.Now().Format(time.RFC3339))

	// System info
	fmt.Fprintf(f, "## System Information\n\n")
	fmt.Fprintf(f, "- **OS:** %s\n", results.SystemInfo.OS)
	fmt.Fprintf(f, "- **Architecture:** %s\n", results.SystemInfo.Arch)
	fmt.Fprintf(f, "- **CPUs:** %d\n", results.SystemInfo.CPUs)
	fmt.Fprintf(f, "- **Go Version:** %s\n", results.SystemInfo.GoVersion)
	if results.SystemInfo.GitCommit != "" {
		fmt.Fprintf(f, "- **Git Commit:** %s\n", results.SystemInfo.GitCommit)
	}
	if results.SystemInfo.Hostname != "" {
		fmt.Fprintf(f, "- **Hostname:** %s\n", results.SystemInfo.Hostname)
	}
	fmt.Fprintf(f, "- **Duration:** %v\n", results.EndTime.Sub(results.StartTime))
	fmt.Fprintf(f, "\n")

	// Configuration
	fmt.Fprintf(f, "## Benchmark Configuration\n\n")
	fmt.Fprintf(f, "- **Book Counts:** %v\n", results.Config.BookCounts)
	fmt.Fprintf(f, "- **Client Counts:** %v\n", results.Config.ClientCounts)
	fmt.Fprintf(f, "- **Queries Per Client:** %d\n", results.Config.QueriesPerClient)
	fmt.Fprintf(f, "- **Warmup Runs:** %d\n", results.Config.WarmupRuns)
	fmt.Fprintf(f, "- **Measurement Runs:** %d\n", results.Config.MeasurementRuns)
	fmt.Fprintf(f, "- **Placeholder Percent:** %.1f%%\n", results.Config.PlaceholderPct*100)
	fmt.Fprintf(f, "\n")

	// Results tables
	for _, bookCount := range results.Config.BookCounts {
		fmt.Fprintf(f, "## Results: %d Books\n\n", bookCount)

		fmt.Fprintf(f, "### Latency (P95, milliseconds)\n\n")
		fmt.Fprintf(f, "| Clients | sqlite | bleve | Ratio (sqlite/bleve) |\n")
		fmt.Fprintf(f, "|---------|--------|-------|----------------------|\n")

		for _, clientCount := range results.Config.ClientCounts {
			sqlite := aggregated[bookCount][clientCount][index.BackendSQLite]
			bleve := aggregated[bookCount][clientCount][index.BackendBleve]

			if sqlite != nil && bleve != nil {
				sqliteP95 := float64(sqlite.LatencyP95) / 1e6
				bleveP95 := float64(bleve.LatencyP95) / 1e6
				ratio := sqliteP95 / bleveP95

				fmt.Fprintf(f, "| %d | %.2f | %.2f | %.2fx |\n", clientCount, sqliteP95, bleveP95, ratio)
			}
		}
		fmt.Fprintf(f, "\n")

		fmt.Fprintf(f, "### Throughput (queries/sec)\n\n")
		fmt.Fprintf(f, "| Clients | sqlite | bleve | Difference |\n")
		fmt.Fprintf(f, "|---------|--------|-------|------------|\n")

		for _, clientCount := range results.Config.ClientCounts {
			sqlite := aggregated[bookCount][clientCount][index.BackendSQLite]
			bleve := aggregated[bookCount][clientCount][index.BackendBleve]

			if sqlite != nil && bleve != nil {
				sqliteQPS := sqlite.QueriesPerSecond
				bleveQPS := bleve.QueriesPerSecond
				difference := ((bleveQPS - sqliteQPS) / sqliteQPS) * 100

				fmt.Fprintf(f, "| %d | %.0f | %.0f | %+.1f%% |\n", clientCount, sqliteQPS, bleveQPS, difference)
			}
		}
		fmt.Fprintf(f, "\n")
	}

	// Analysis
	fmt.Fprintf(f, "## Analysis\n\n")
	fmt.Fprintf(f, "### Methodology\n\n")
	fmt.Fprintf(f, "This benchmark compares the two index backends available for the library mirror:\n\n")
	fmt.Fprintf(f, "- **sqlite:** single-file relational index, search via LIKE substring matching\n")
	fmt.Fprintf(f, "- **bleve:** inverted full-text index, search via tokenized term matching\n\n")
	fmt.Fprintf(f, "Both backends index identical deterministic libraries, so identical runs see\n")
	fmt.Fprintf(f, "identical data. Note the two engines answer a query differently: substring\n")
	fmt.Fprintf(f, "matching and term matching can return different result sets for the same\n")
	fmt.Fprintf(f, "input, so the latency numbers measure each backend doing its own kind of\n")
	fmt.Fprintf(f, "work, not byte-identical queries.\n\n")
	fmt.Fprintf(f, "### Key Findings\n\n")
	fmt.Fprintf(f, "*Add your analysis here after reviewing the results.*\n\n")
	fmt.Fprintf(f, "### Recommendations\n\n")
	fmt.Fprintf(f, "*Add recommendations based on the benchmark results.*\n\n")

	// Footer
	fmt.Fprintf(f, "---\n\n")
	fmt.Fprintf(f, "See `results.csv` for raw data and `results.json` for complete results.\n")

	fmt.Printf("Generated report: %s\n", path)
	return nil
}

// aggregateResults computes average metrics across measurement runs.
func aggregateResults(results *SuiteResults) map[int]map[int]map[string]*DataPoint {
	// aggregated[bookCount][clientCount][backend] = average DataPoint
	aggregated := make(map[int]map[int]map[string]*DataPoint)

	// Group by book count, client count, backend
	groups := make(map[int]map[int]map[string][]DataPoint)
	for _, dp := range results.DataPoints {
		if _, ok := groups[dp.BookCount]; !ok {
			groups[dp.BookCount] = make(map[int]map[string][]DataPoint)
		}
		if _, ok := groups[dp.BookCount][dp.ClientCount]; !ok {
			groups[dp.BookCount][dp.ClientCount] = make(map[string][]DataPoint)
		}
		groups[dp.BookCount][dp.ClientCount][dp.Backend] = append(
			groups[dp.BookCount][dp.ClientCount][dp.Backend],
			dp,
		)
	}

	// Compute averages
	for bookCount, clientGroups := range groups {
		if _, ok := aggregated[bookCount]; !ok {
			aggregated[bookCount] = make(map[int]map[string]*DataPoint)
		}
		for clientCount, backendGroups := range clientGroups {
			if _, ok := aggregated[bookCount][clientCount]; !ok {
				aggregated[bookCount][clientCount] = make(map[string]*DataPoint)
			}
			for backend, points := range backendGroups {
				avgPoint := averageDataPoints(points)
				aggregated[bookCount][clientCount][backend] = &avgPoint
			}
		}
	}

	return aggregated
}

// averageDataPoints computes the average of multiple data points.
func averageDataPoints(points []DataPoint) DataPoint {
	if len(points) == 0 {
		return DataPoint{}
	}

	avg := DataPoint{
		ClientCount: points[0].ClientCount,
		BookCount:   points[0].BookCount,
		Backend:     points[0].Backend,
	}

	for _, p := range points {
		avg.LatencyMin += p.LatencyMin
		avg.LatencyP50 += p.LatencyP50
		avg.LatencyP95 += p.LatencyP95
		avg.LatencyP99 += p.LatencyP99
		avg.LatencyMax += p.LatencyMax
		avg.LatencyMean += p.LatencyMean
		avg.LatencyStdDev += p.LatencyStdDev
		avg.QueriesPerSecond += p.QueriesPerSecond
		avg.ErrorCount += p.ErrorCount
		avg.ErrorRate += p.ErrorRate
		avg.TotalDurationNs += p.TotalDurationNs
	}

	n := int64(len(points))
	avg.LatencyMin /= n
	avg.LatencyP50 /= n
	avg.LatencyP95 /= n
	avg.LatencyP99 /= n
	avg.LatencyMax /= n
	avg.LatencyMean /= n
	avg.LatencyStdDev /= n
	avg.QueriesPerSecond /= float64(len(points))
	avg.ErrorCount /= int(n)
	avg.ErrorRate /= float64(len(points))
	avg.TotalDurationNs /= n

	return avg
}

// printTerminalSummary prints a summary to the terminal.
func printTerminalSummary(results *SuiteResults) {
	aggregated := aggregateResults(results)

	fmt.Printf("\n")
	fmt.Printf("=== BENCHMARK SUMMARY ===\n")
	fmt.Printf("\n")

	for _, bookCount := range results.Config.BookCounts {
		fmt.Printf("Books: %d\n", bookCount)
		fmt.Printf("%s\n", strings.Repeat("-", 70))

		fmt.Printf("%-10s  %-20s  %-20s  %-10s\n", "Clients", "sqlite P95", "bleve P95", "Ratio")
		for _, clientCount := range results.Config.ClientCounts {
			sqlite := aggregated[bookCount][clientCount][index.BackendSQLite]
			bleve := aggregated[bookCount][clientCount][index.BackendBleve]

			if sqlite != nil && bleve != nil {
				sqliteP95 := time.Duration(sqlite.LatencyP95)
				bleveP95 := time.Duration(bleve.LatencyP95)
				ratio := float64(sqlite.LatencyP95) / float64(bleve.LatencyP95)

				fmt.Printf("%-10d  %-20v  %-20v  %.2fx\n", clientCount, sqliteP95, bleveP95, ratio)
			}
		}
		fmt.Printf("\n")
	}
}
