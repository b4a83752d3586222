package scientific

import (
	"fmt"
	"os"
	"time"

	"github.com/shelfmark/shelfmark/internal/mirror/loadtest"
)

// BackendRunner benchmarks one index backend over a synthetic library. Both
// backends implement the same datastore interface, so a single runner serves
// either one.
type BackendRunner struct {
	backend   string
	lib       *loadtest.TestLibrary
	indexPath string
}

// NewBackendRunner creates a runner for the named backend. The index is
// created at indexPath and populated with a deterministic test library.
func NewBackendRunner(backend, indexPath string, bookCount int, placeholderPct float64) (*BackendRunner, error) {
	// Remove leftovers from a previous run
	_ = os.RemoveAll(indexPath)
	_ = os.Remove(indexPath + "-wal")
	_ = os.Remove(indexPath + "-shm")

	lib, err := loadtest.CreateTestLibrary(backend, indexPath, bookCount, placeholderPct)
	if err != nil {
		return nil, fmt.Errorf("failed to create test library: %w", err)
	}

	return &BackendRunner{
		backend:   backend,
		lib:       lib,
		indexPath: indexPath,
	}, nil
}

// Close closes the underlying index.
func (r *BackendRunner) Close() error {
	if r.lib != nil {
		return r.lib.Close()
	}
	return nil
}

// RunBenchmark executes one measured run with the specified concurrency.
func (r *BackendRunner) RunBenchmark(clientCount, queriesPerClient int) (*RunResult, error) {
	start := time.Now()
	stats, err := r.lib.RunConcurrentQueries(clientCount, queriesPerClient)
	if err != nil {
		return nil, err
	}
	totalDuration := time.Since(start)

	if stats.TotalQueries == 0 {
		return nil, fmt.Errorf("no successful queries completed")
	}

	return &RunResult{
		TotalQueries:     stats.TotalQueries,
		ErrorCount:       stats.Errors,
		TotalDuration:    totalDuration,
		Durations:        stats.Durations,
		Min:              stats.Min,
		Max:              stats.Max,
		Mean:             stats.Mean,
		P50:              stats.P50,
		P95:              stats.P95,
		P99:              stats.P99,
		StdDev:           stdDev(stats.Durations, stats.Mean),
		QueriesPerSecond: float64(stats.TotalQueries) / totalDuration.Seconds(),
	}, nil
}

// GetStats returns statistics about the test library.
func (r *BackendRunner) GetStats() map[string]interface{} {
	return r.lib.GetStats()
}

// RunResult contains the results of a single benchmark run.
type RunResult struct {
	TotalQueries     int
	ErrorCount       int
	TotalDuration    time.Duration
	Durations        []time.Duration
	Min              time.Duration
	Max              time.Duration
	Mean             time.Duration
	P50              time.Duration
	P95              time.Duration
	P99              time.Duration
	StdDev           time.Duration
	QueriesPerSecond float64
}

// stdDev computes the standard deviation of durations around mean.
func stdDev(durations []time.Duration, mean time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var variance int64
	for _, d := range durations {
		diff := int64(d) - int64(mean)
		variance += diff * diff
	}
	variance /= int64(len(durations))

	return time.Duration(isqrt(variance))
}

// isqrt computes integer square root using Newton's method.
func isqrt(n int64) int64 {
	if n <= 0 {
		return 0
	}
	x := n
	y := (x + 1) / 2
	for y < x {
		x = y
		y = (x + n/x) / 2
	}
	return x
}
