package scientific

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/shelfmark/shelfmark/internal/mirror/index"
)

// RunSuite executes the full benchmark suite and returns results.
func RunSuite(config SuiteConfig, outputDir string) (*SuiteResults, error) {
	results := &SuiteResults{
		Config:     config,
		DataPoints: make([]DataPoint, 0),
		StartTime:  time.Now(),
		SystemInfo: GetSystemInfo(),
	}

	// Record git commit and hostname for reproducibility
	if commit, err := getGitCommit(); err == nil {
		results.SystemInfo.GitCommit = commit
	}
	if hostname, err := os.Hostname(); err == nil {
		results.SystemInfo.Hostname = hostname
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	totalRuns := config.TotalRuns()
	currentRun := 0

	fmt.Printf("Starting benchmark suite with %d total runs\n", totalRuns)
	fmt.Printf("System: %s/%s, %d CPUs, Go %s\n",
		results.SystemInfo.OS, results.SystemInfo.Arch, results.SystemInfo.CPUs, results.SystemInfo.GoVersion)
	fmt.Printf("\n")

	for _, bookCount := range config.BookCounts {
		for _, clientCount := range config.ClientCounts {
			fmt.Printf("Books: %d, Clients: %d\n", bookCount, clientCount)

			sqlitePoints, err := runBackend(index.BackendSQLite, bookCount, clientCount, config, outputDir, &currentRun)
			if err != nil {
				return nil, fmt.Errorf("sqlite benchmark failed: %w", err)
			}
			results.DataPoints = append(results.DataPoints, sqlitePoints...)

			blevePoints, err := runBackend(index.BackendBleve, bookCount, clientCount, config, outputDir, &currentRun)
			if err != nil {
				return nil, fmt.Errorf("bleve benchmark failed: %w", err)
			}
			results.DataPoints = append(results.DataPoints, blevePoints...)

			fmt.Printf("\n")
		}
	}

	results.EndTime = time.Now()

	fmt.Printf("Benchmark suite complete in %v\n", results.EndTime.Sub(results.StartTime))

	return results, nil
}

// runBackend runs the warmup and measurement cycle for one backend. The
// index is rebuilt from scratch for every grid cell so no run inherits
// another's page cache.
func runBackend(
	backend string,
	bookCount int,
	clientCount int,
	config SuiteConfig,
	outputDir string,
	currentRun *int,
) ([]DataPoint, error) {
	ext := ".db"
	if backend == index.BackendBleve {
		ext = ".bleve"
	}
	indexPath := filepath.Join(outputDir, fmt.Sprintf("bench_%s_%d_%d%s", backend, bookCount, clientCount, ext))

	runner, err := NewBackendRunner(backend, indexPath, bookCount, config.PlaceholderPct)
	if err != nil {
		return nil, fmt.Errorf("failed to create runner: %w", err)
	}
	defer runner.Close()

	// Warmup runs
	fmt.Printf("  %s: Warmup (%d runs)... ", backend, config.WarmupRuns)
	for i := 0; i < config.WarmupRuns; i++ {
		*currentRun++
		if _, err := runner.RunBenchmark(clientCount, config.QueriesPerClient); err != nil {
			return nil, fmt.Errorf("warmup run %d failed: %w", i+1, err)
		}
	}
	fmt.Printf("Done\n")

	// Measurement runs
	fmt.Printf("  %s: Measurement (%d runs)... ", backend, config.MeasurementRuns)
	dataPoints := make([]DataPoint, 0, config.MeasurementRuns)
	for i := 0; i < config.MeasurementRuns; i++ {
		*currentRun++

		result, err := runner.RunBenchmark(clientCount, config.QueriesPerClient)
		if err != nil {
			return nil, fmt.Errorf("measurement run %d failed: %w", i+1, err)
		}

		dp := DataPoint{
			ClientCount:      clientCount,
			BookCount:        bookCount,
			Backend:          backend,
			LatencyMin:       int64(result.Min),
			LatencyP50:       int64(result.P50),
			LatencyP95:       int64(result.P95),
			LatencyP99:       int64(result.P99),
			LatencyMax:       int64(result.Max),
			LatencyMean:      int64(result.Mean),
			LatencyStdDev:    int64(result.StdDev),
			QueriesPerSecond: result.QueriesPerSecond,
			ErrorCount:       result.ErrorCount,
			ErrorRate:        float64(result.ErrorCount) / float64(result.TotalQueries),
			TotalDurationNs:  int64(result.TotalDuration),
			RunNumber:        i + 1,
		}

		dataPoints = append(dataPoints, dp)
	}
	fmt.Printf("Done\n")

	// Print summary stats (average across runs)
	avgP95 := int64(0)
	avgQPS := 0.0
	for _, dp := range dataPoints {
		avgP95 += dp.LatencyP95
		avgQPS += dp.QueriesPerSecond
	}
	avgP95 /= int64(len(dataPoints))
	avgQPS /= float64(len(dataPoints))

	fmt.Printf("    Avg P95: %v, Avg QPS: %.0f\n", time.Duration(avgP95), avgQPS)

	return dataPoints, nil
}

// getGitCommit returns the current git commit hash.
func getGitCommit() (string, error) {
	cmd := exec.Command("git", "rev-parse", "--short", "HEAD")
	output, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}
