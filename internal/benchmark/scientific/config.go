// Package scientific provides a publishable benchmark suite for comparing
// the sqlite and bleve index backends.
//
// This package implements scientific benchmarking with:
// - Deterministic test libraries, identical runs index identical data
// - Warmup runs to eliminate cold-start effects
// - Multiple measurement runs with statistical analysis
// - Fair comparison, both backends index the same dataset
// - Exportable results (JSON, CSV) for external analysis
package scientific

import (
	"runtime"
	"time"
)

// SuiteConfig configures the benchmark suite parameters.
type SuiteConfig struct {
	// ClientCounts is the list of concurrent client counts to test
	// Example: []int{10, 25, 50, 75, 100, 150, 200}
	ClientCounts []int

	// BookCounts is the list of library sizes to test
	// Example: []int{500, 1000, 2000}
	BookCounts []int

	// QueriesPerClient is how many queries each client performs per run
	QueriesPerClient int

	// WarmupRuns is the number of warmup iterations before measuring
	// This eliminates cold-start effects (page cache, pool warmup)
	WarmupRuns int

	// MeasurementRuns is the number of runs to average for final metrics
	// More runs = more stable statistics but longer runtime
	MeasurementRuns int

	// PlaceholderPct is the fraction of books still placeholders
	// Typical: 0.3 for a library where 30% is not yet downloaded
	PlaceholderPct float64
}

// DefaultConfig returns a comprehensive benchmark configuration suitable for publication.
func DefaultConfig() SuiteConfig {
	return SuiteConfig{
		ClientCounts:     []int{10, 25, 50, 75, 100, 150, 200},
		BookCounts:       []int{500, 1000, 2000},
		QueriesPerClient: 50,
		WarmupRuns:       3,
		MeasurementRuns:  5,
		PlaceholderPct:   0.3,
	}
}

// QuickConfig returns a faster configuration for development and CI.
func QuickConfig() SuiteConfig {
	return SuiteConfig{
		ClientCounts:     []int{10, 50, 100},
		BookCounts:       []int{500, 1000},
		QueriesPerClient: 20,
		WarmupRuns:       1,
		MeasurementRuns:  3,
		PlaceholderPct:   0.3,
	}
}

// DataPoint represents a single benchmark measurement.
type DataPoint struct {
	// Test configuration
	ClientCount int    `json:"client_count"`
	BookCount   int    `json:"book_count"`
	Backend     string `json:"backend"` // "sqlite" or "bleve"

	// Latency metrics (nanoseconds for precision)
	LatencyMin    int64 `json:"latency_min_ns"`
	LatencyP50    int64 `json:"latency_p50_ns"`
	LatencyP95    int64 `json:"latency_p95_ns"`
	LatencyP99    int64 `json:"latency_p99_ns"`
	LatencyMax    int64 `json:"latency_max_ns"`
	LatencyMean   int64 `json:"latency_mean_ns"`
	LatencyStdDev int64 `json:"latency_stddev_ns"`

	// Throughput
	QueriesPerSecond float64 `json:"queries_per_second"`

	// Errors
	ErrorCount int     `json:"error_count"`
	ErrorRate  float64 `json:"error_rate"`

	// Timing
	TotalDurationNs int64 `json:"total_duration_ns"`

	// Run metadata
	RunNumber int `json:"run_number"` // Which measurement run (1-based)
}

// SuiteResults contains all benchmark results and metadata.
type SuiteResults struct {
	Config     SuiteConfig `json:"config"`
	DataPoints []DataPoint `json:"data_points"`
	StartTime  time.Time   `json:"start_time"`
	EndTime    time.Time   `json:"end_time"`
	SystemInfo SystemInfo  `json:"system_info"`
}

// SystemInfo captures system details for reproducibility.
type SystemInfo struct {
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	CPUs      int    `json:"cpus"`
	GoVersion string `json:"go_version"`
	GitCommit string `json:"git_commit,omitempty"`
	Hostname  string `json:"hostname,omitempty"`
}

// GetSystemInfo captures current system information.
func GetSystemInfo() SystemInfo {
	return SystemInfo{
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		CPUs:      runtime.NumCPU(),
		GoVersion: runtime.Version(),
		// GitCommit and Hostname filled in by suite runner
	}
}

// TotalRuns returns the total number of benchmark runs that will be executed.
func (c SuiteConfig) TotalRuns() int {
	// 2 backends × book counts × client counts × (warmup + measurement)
	return 2 * len(c.BookCounts) * len(c.ClientCounts) * (c.WarmupRuns + c.MeasurementRuns)
}
