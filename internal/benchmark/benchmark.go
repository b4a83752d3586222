// Package benchmark compares the sqlite and bleve index backends head to
// head on identical synthetic libraries.
//
// A single run measures the three operations that matter at scale: building
// the index, serving concurrent search and stats queries, and sweeping stale
// entries. Compare runs both backends on the same dataset and reports which
// one wins on each axis.
package benchmark

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/shelfmark/shelfmark/internal/mirror/index"
)

// Config defines the parameters for a benchmark run.
type Config struct {
	// NumClients is the number of concurrent query clients to simulate
	NumClients int

	// NumBooks is the total number of books in the synthetic library
	NumBooks int

	// QueriesPerClient is how many queries each client performs
	QueriesPerClient int

	// PlaceholderPct is the fraction of books still placeholders (0.0-1.0)
	PlaceholderPct float64

	// Backend selects the index implementation ("sqlite" or "bleve")
	Backend string

	// IndexPath is where the index file or directory is created
	IndexPath string
}

// DefaultConfig returns a benchmark configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		NumClients:       100,
		NumBooks:         1000,
		QueriesPerClient: 10,
		PlaceholderPct:   0.3,
		Backend:          index.BackendSQLite,
		IndexPath:        filepath.Join(os.TempDir(), "shelfmark-bench.db"),
	}
}

// Result captures all metrics from a benchmark run.
type Result struct {
	// Configuration used for this run
	Config Config

	// Latency metrics (query performance)
	Latency LatencyMetrics

	// Throughput metrics
	Throughput ThroughputMetrics

	// Resource usage metrics
	Resources ResourceMetrics

	// Index metrics
	Index IndexMetrics

	// Overall test metrics
	TotalDuration time.Duration
	ErrorCount    int
	ErrorRate     float64
	Success       bool
}

// LatencyMetrics captures query latency statistics.
type LatencyMetrics struct {
	Min  time.Duration
	P50  time.Duration // Median
	Mean time.Duration
	P95  time.Duration
	P99  time.Duration
	Max  time.Duration

	// Raw durations for analysis
	Durations []time.Duration
}

// ThroughputMetrics captures queries-per-second metrics.
type ThroughputMetrics struct {
	QueriesPerSecond float64
	TotalQueries     int
}

// ResourceMetrics captures memory usage.
type ResourceMetrics struct {
	MemoryBeforeBytes uint64
	MemoryAfterBytes  uint64
	MemoryPeakBytes   uint64
	MemoryDeltaBytes  uint64
}

// IndexMetrics captures index build, size and sweep statistics.
type IndexMetrics struct {
	SizeBytes        int64
	BuildTimeMs      int64
	TimeToFirstMs    int64
	BookCount        int
	PlaceholderCount int
	SweepTimeMs      int64
	SweepRemoved     int
}

// ComputeStats calculates statistics from raw durations.
func ComputeStats(durations []time.Duration) LatencyMetrics {
	if len(durations) == 0 {
		return LatencyMetrics{}
	}

	// Sort for percentile calculation
	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	// Calculate mean
	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	mean := sum / time.Duration(len(sorted))

	// Calculate percentiles
	p50 := sorted[len(sorted)*50/100]
	p95 := sorted[len(sorted)*95/100]
	p99 := sorted[len(sorted)*99/100]

	return LatencyMetrics{
		Min:       sorted[0],
		P50:       p50,
		Mean:      mean,
		P95:       p95,
		P99:       p99,
		Max:       sorted[len(sorted)-1],
		Durations: sorted,
	}
}

// GetMemoryStats returns current memory usage statistics.
func GetMemoryStats() ResourceMetrics {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return ResourceMetrics{
		MemoryBeforeBytes: m.Alloc,
		MemoryAfterBytes:  m.Alloc,
		MemoryPeakBytes:   m.Sys,
		MemoryDeltaBytes:  0,
	}
}

// CompareMemoryStats computes the delta between before and after memory stats.
func CompareMemoryStats(before, after ResourceMetrics) ResourceMetrics {
	// A GC between the two samples can shrink Alloc below the starting point.
	var delta uint64
	if after.MemoryAfterBytes > before.MemoryBeforeBytes {
		delta = after.MemoryAfterBytes - before.MemoryBeforeBytes
	}

	return ResourceMetrics{
		MemoryBeforeBytes: before.MemoryBeforeBytes,
		MemoryAfterBytes:  after.MemoryAfterBytes,
		MemoryPeakBytes:   after.MemoryPeakBytes,
		MemoryDeltaBytes:  delta,
	}
}

// FormatBytes formats bytes into a human-readable string.
func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatDuration formats a duration into a human-readable string.
func FormatDuration(d time.Duration) string {
	if d < time.Microsecond {
		return fmt.Sprintf("%dns", d.Nanoseconds())
	}
	if d < time.Millisecond {
		return fmt.Sprintf("%.2fµs", float64(d.Nanoseconds())/1000.0)
	}
	if d < time.Second {
		return fmt.Sprintf("%.2fms", float64(d.Microseconds())/1000.0)
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}

// FormatResult renders a single benchmark result as a readable report.
func FormatResult(result Result) string {
	var b strings.Builder

	fmt.Fprintf(&b, "\n=== Benchmark Results (%s backend) ===\n\n", result.Config.Backend)

	fmt.Fprintf(&b, "Configuration:\n")
	fmt.Fprintf(&b, "  Concurrent Clients:  %d\n", result.Config.NumClients)
	fmt.Fprintf(&b, "  Total Books:         %d\n", result.Config.NumBooks)
	fmt.Fprintf(&b, "  Queries per Client:  %d\n", result.Config.QueriesPerClient)
	fmt.Fprintf(&b, "  Placeholder %%:       %.1f%%\n", result.Config.PlaceholderPct*100)
	fmt.Fprintf(&b, "\n")

	fmt.Fprintf(&b, "Latency:\n")
	fmt.Fprintf(&b, "  Min:       %s\n", FormatDuration(result.Latency.Min))
	fmt.Fprintf(&b, "  P50:       %s\n", FormatDuration(result.Latency.P50))
	fmt.Fprintf(&b, "  Mean:      %s\n", FormatDuration(result.Latency.Mean))
	fmt.Fprintf(&b, "  P95:       %s\n", FormatDuration(result.Latency.P95))
	fmt.Fprintf(&b, "  P99:       %s\n", FormatDuration(result.Latency.P99))
	fmt.Fprintf(&b, "  Max:       %s\n", FormatDuration(result.Latency.Max))
	fmt.Fprintf(&b, "\n")

	fmt.Fprintf(&b, "Throughput:\n")
	fmt.Fprintf(&b, "  Queries/sec:       %.2f\n", result.Throughput.QueriesPerSecond)
	fmt.Fprintf(&b, "  Total Queries:     %d\n", result.Throughput.TotalQueries)
	fmt.Fprintf(&b, "\n")

	fmt.Fprintf(&b, "Resources:\n")
	fmt.Fprintf(&b, "  Memory Before:     %s\n", FormatBytes(result.Resources.MemoryBeforeBytes))
	fmt.Fprintf(&b, "  Memory After:      %s\n", FormatBytes(result.Resources.MemoryAfterBytes))
	fmt.Fprintf(&b, "  Memory Peak:       %s\n", FormatBytes(result.Resources.MemoryPeakBytes))
	fmt.Fprintf(&b, "  Memory Delta:      %s\n", FormatBytes(result.Resources.MemoryDeltaBytes))
	fmt.Fprintf(&b, "\n")

	fmt.Fprintf(&b, "Index:\n")
	fmt.Fprintf(&b, "  Size:              %s\n", FormatBytes(uint64(result.Index.SizeBytes)))
	fmt.Fprintf(&b, "  Build Time:        %dms\n", result.Index.BuildTimeMs)
	fmt.Fprintf(&b, "  Time to First:     %dms\n", result.Index.TimeToFirstMs)
	fmt.Fprintf(&b, "  Books:             %d\n", result.Index.BookCount)
	fmt.Fprintf(&b, "  Placeholders:      %d\n", result.Index.PlaceholderCount)
	fmt.Fprintf(&b, "  Sweep Time:        %dms\n", result.Index.SweepTimeMs)
	fmt.Fprintf(&b, "  Sweep Removed:     %d\n", result.Index.SweepRemoved)
	fmt.Fprintf(&b, "\n")

	fmt.Fprintf(&b, "Overall:\n")
	fmt.Fprintf(&b, "  Total Duration:    %s\n", FormatDuration(result.TotalDuration))
	fmt.Fprintf(&b, "  Errors:            %d (%.2f%%)\n", result.ErrorCount, result.ErrorRate*100)
	fmt.Fprintf(&b, "  Success:           %v\n", result.Success)
	fmt.Fprintf(&b, "\n")

	return b.String()
}

// PrintResult outputs a formatted benchmark result.
func PrintResult(result Result) {
	fmt.Print(FormatResult(result))
}
