package benchmark

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shelfmark/shelfmark/internal/mirror/index"
)

// ComparisonResult holds the results of a sqlite vs bleve comparison.
type ComparisonResult struct {
	SQLite Result
	Bleve  Result

	// Improvement percentages, positive means bleve did better
	LatencyImprovement    map[string]float64
	ThroughputImprovement float64
	MemoryImprovement     float64
	BuildTimeImprovement  float64
	SweepTimeImprovement  float64

	// OverallWinner is "sqlite", "bleve" or "tie"
	OverallWinner string
	WinCount      map[string]int
}

// Compare runs the benchmark against both index backends on identical
// datasets and produces a comparison.
func Compare(config Config) (*ComparisonResult, error) {
	sqliteConfig := config
	sqliteConfig.Backend = index.BackendSQLite
	sqliteConfig.IndexPath = filepath.Join(os.TempDir(), "shelfmark-bench-sqlite.db")

	bleveConfig := config
	bleveConfig.Backend = index.BackendBleve
	bleveConfig.IndexPath = filepath.Join(os.TempDir(), "shelfmark-bench-bleve.bleve")

	fmt.Printf("Running sqlite benchmark...\n")
	sqliteResult, err := RunBackendBenchmark(sqliteConfig)
	if err != nil {
		return nil, fmt.Errorf("sqlite benchmark failed: %w", err)
	}

	fmt.Printf("Running bleve benchmark...\n")
	bleveResult, err := RunBackendBenchmark(bleveConfig)
	if err != nil {
		return nil, fmt.Errorf("bleve benchmark failed: %w", err)
	}

	comparison := &ComparisonResult{
		SQLite:   sqliteResult,
		Bleve:    bleveResult,
		WinCount: make(map[string]int),
	}

	// Latency improvements (lower is better)
	comparison.LatencyImprovement = map[string]float64{
		"min":  calculateImprovement(float64(bleveResult.Latency.Min), float64(sqliteResult.Latency.Min)),
		"p50":  calculateImprovement(float64(bleveResult.Latency.P50), float64(sqliteResult.Latency.P50)),
		"mean": calculateImprovement(float64(bleveResult.Latency.Mean), float64(sqliteResult.Latency.Mean)),
		"p95":  calculateImprovement(float64(bleveResult.Latency.P95), float64(sqliteResult.Latency.P95)),
		"p99":  calculateImprovement(float64(bleveResult.Latency.P99), float64(sqliteResult.Latency.P99)),
		"max":  calculateImprovement(float64(bleveResult.Latency.Max), float64(sqliteResult.Latency.Max)),
	}

	// Throughput improvement (higher is better)
	if sqliteResult.Throughput.QueriesPerSecond > 0 {
		comparison.ThroughputImprovement = (bleveResult.Throughput.QueriesPerSecond - sqliteResult.Throughput.QueriesPerSecond) /
			sqliteResult.Throughput.QueriesPerSecond * 100
	}

	// Memory, build and sweep improvements (lower is better)
	comparison.MemoryImprovement = calculateImprovement(
		float64(bleveResult.Resources.MemoryDeltaBytes),
		float64(sqliteResult.Resources.MemoryDeltaBytes),
	)
	comparison.BuildTimeImprovement = calculateImprovement(
		float64(bleveResult.Index.BuildTimeMs),
		float64(sqliteResult.Index.BuildTimeMs),
	)
	comparison.SweepTimeImprovement = calculateImprovement(
		float64(bleveResult.Index.SweepTimeMs),
		float64(sqliteResult.Index.SweepTimeMs),
	)

	// Count wins across all axes
	improvements := []float64{
		comparison.LatencyImprovement["min"],
		comparison.LatencyImprovement["p50"],
		comparison.LatencyImprovement["mean"],
		comparison.LatencyImprovement["p95"],
		comparison.LatencyImprovement["p99"],
		comparison.LatencyImprovement["max"],
		comparison.ThroughputImprovement,
		comparison.MemoryImprovement,
		comparison.BuildTimeImprovement,
		comparison.SweepTimeImprovement,
	}
	for _, improvement := range improvements {
		if improvement > 0 {
			comparison.WinCount[index.BackendBleve]++
		} else if improvement < 0 {
			comparison.WinCount[index.BackendSQLite]++
		}
	}

	switch {
	case comparison.WinCount[index.BackendBleve] > comparison.WinCount[index.BackendSQLite]:
		comparison.OverallWinner = index.BackendBleve
	case comparison.WinCount[index.BackendSQLite] > comparison.WinCount[index.BackendBleve]:
		comparison.OverallWinner = index.BackendSQLite
	default:
		comparison.OverallWinner = "tie"
	}

	return comparison, nil
}

// calculateImprovement returns the percentage improvement of bleve over
// sqlite for lower-is-better metrics. Positive means bleve did better.
func calculateImprovement(bleveVal, sqliteVal float64) float64 {
	if sqliteVal == 0 {
		return 0
	}
	return (sqliteVal - bleveVal) / sqliteVal * 100
}

// FormatComparison renders the comparison as a readable report.
func FormatComparison(cr *ComparisonResult) string {
	var b strings.Builder
	separator := strings.Repeat("=", 80)

	fmt.Fprintf(&b, "\n%s\n", separator)
	fmt.Fprintf(&b, "    INDEX BACKEND COMPARISON: sqlite vs bleve\n")
	fmt.Fprintf(&b, "%s\n\n", separator)

	fmt.Fprintf(&b, "Configuration:\n")
	fmt.Fprintf(&b, "  Clients: %d | Books: %d | Queries/client: %d\n\n",
		cr.SQLite.Config.NumClients, cr.SQLite.Config.NumBooks, cr.SQLite.Config.QueriesPerClient)

	fmt.Fprintf(&b, "LATENCY (lower is better)\n")
	fmt.Fprintf(&b, "%s\n", strings.Repeat("-", 80))
	fmt.Fprintf(&b, "%-10s | %-12s | %-12s | %-15s\n", "Metric", "sqlite", "bleve", "Improvement")
	fmt.Fprintf(&b, "%s\n", strings.Repeat("-", 80))
	writeLatencyRow(&b, "Min", cr.SQLite.Latency.Min, cr.Bleve.Latency.Min, cr.LatencyImprovement["min"])
	writeLatencyRow(&b, "P50", cr.SQLite.Latency.P50, cr.Bleve.Latency.P50, cr.LatencyImprovement["p50"])
	writeLatencyRow(&b, "Mean", cr.SQLite.Latency.Mean, cr.Bleve.Latency.Mean, cr.LatencyImprovement["mean"])
	writeLatencyRow(&b, "P95", cr.SQLite.Latency.P95, cr.Bleve.Latency.P95, cr.LatencyImprovement["p95"])
	writeLatencyRow(&b, "P99", cr.SQLite.Latency.P99, cr.Bleve.Latency.P99, cr.LatencyImprovement["p99"])
	writeLatencyRow(&b, "Max", cr.SQLite.Latency.Max, cr.Bleve.Latency.Max, cr.LatencyImprovement["max"])
	fmt.Fprintf(&b, "\n")

	fmt.Fprintf(&b, "THROUGHPUT (higher is better)\n")
	fmt.Fprintf(&b, "%s\n", strings.Repeat("-", 80))
	fmt.Fprintf(&b, "  sqlite:  %.2f queries/sec\n", cr.SQLite.Throughput.QueriesPerSecond)
	fmt.Fprintf(&b, "  bleve:   %.2f queries/sec\n", cr.Bleve.Throughput.QueriesPerSecond)
	fmt.Fprintf(&b, "  Improvement: %s%.1f%%%s\n\n",
		formatSign(cr.ThroughputImprovement), cr.ThroughputImprovement, checkmark(cr.ThroughputImprovement))

	fmt.Fprintf(&b, "INDEX BUILD\n")
	fmt.Fprintf(&b, "%s\n", strings.Repeat("-", 80))
	fmt.Fprintf(&b, "  sqlite:  %dms (%s on disk)\n", cr.SQLite.Index.BuildTimeMs, FormatBytes(uint64(cr.SQLite.Index.SizeBytes)))
	fmt.Fprintf(&b, "  bleve:   %dms (%s on disk)\n", cr.Bleve.Index.BuildTimeMs, FormatBytes(uint64(cr.Bleve.Index.SizeBytes)))
	fmt.Fprintf(&b, "  Improvement: %s%.1f%%%s\n\n",
		formatSign(cr.BuildTimeImprovement), cr.BuildTimeImprovement, checkmark(cr.BuildTimeImprovement))

	fmt.Fprintf(&b, "STALE SWEEP\n")
	fmt.Fprintf(&b, "%s\n", strings.Repeat("-", 80))
	fmt.Fprintf(&b, "  sqlite:  %dms (%d entries removed)\n", cr.SQLite.Index.SweepTimeMs, cr.SQLite.Index.SweepRemoved)
	fmt.Fprintf(&b, "  bleve:   %dms (%d entries removed)\n", cr.Bleve.Index.SweepTimeMs, cr.Bleve.Index.SweepRemoved)
	fmt.Fprintf(&b, "  Improvement: %s%.1f%%%s\n\n",
		formatSign(cr.SweepTimeImprovement), cr.SweepTimeImprovement, checkmark(cr.SweepTimeImprovement))

	fmt.Fprintf(&b, "MEMORY\n")
	fmt.Fprintf(&b, "%s\n", strings.Repeat("-", 80))
	fmt.Fprintf(&b, "  sqlite delta:  %s\n", FormatBytes(cr.SQLite.Resources.MemoryDeltaBytes))
	fmt.Fprintf(&b, "  bleve delta:   %s\n", FormatBytes(cr.Bleve.Resources.MemoryDeltaBytes))
	fmt.Fprintf(&b, "  Improvement: %s%.1f%%%s\n\n",
		formatSign(cr.MemoryImprovement), cr.MemoryImprovement, checkmark(cr.MemoryImprovement))

	fmt.Fprintf(&b, "SUMMARY\n")
	fmt.Fprintf(&b, "%s\n", strings.Repeat("-", 80))
	fmt.Fprintf(&b, "  Overall Winner: %s (%d wins vs %d)\n\n",
		strings.ToUpper(cr.OverallWinner),
		cr.WinCount[cr.OverallWinner],
		loserWins(cr))

	fmt.Fprintf(&b, "KEY INSIGHTS\n")
	fmt.Fprintf(&b, "%s\n", strings.Repeat("-", 80))
	writeInsights(&b, cr)
	fmt.Fprintf(&b, "%s\n", separator)

	return b.String()
}

// PrintComparison outputs the formatted comparison report.
func PrintComparison(cr *ComparisonResult) {
	fmt.Print(FormatComparison(cr))
}

// PrintComparisonJSON outputs a machine-readable comparison summary.
func PrintComparisonJSON(cr *ComparisonResult) error {
	summary := map[string]interface{}{
		"winner":                     cr.OverallWinner,
		"win_count":                  cr.WinCount,
		"latency_improvement_pct":    cr.LatencyImprovement,
		"throughput_improvement_pct": cr.ThroughputImprovement,
		"memory_improvement_pct":     cr.MemoryImprovement,
		"build_improvement_pct":      cr.BuildTimeImprovement,
		"sweep_improvement_pct":      cr.SweepTimeImprovement,
		"sqlite": map[string]interface{}{
			"p95_ms":          float64(cr.SQLite.Latency.P95.Microseconds()) / 1000.0,
			"queries_per_sec": cr.SQLite.Throughput.QueriesPerSecond,
			"build_ms":        cr.SQLite.Index.BuildTimeMs,
			"sweep_ms":        cr.SQLite.Index.SweepTimeMs,
			"size_bytes":      cr.SQLite.Index.SizeBytes,
		},
		"bleve": map[string]interface{}{
			"p95_ms":          float64(cr.Bleve.Latency.P95.Microseconds()) / 1000.0,
			"queries_per_sec": cr.Bleve.Throughput.QueriesPerSecond,
			"build_ms":        cr.Bleve.Index.BuildTimeMs,
			"sweep_ms":        cr.Bleve.Index.SweepTimeMs,
			"size_bytes":      cr.Bleve.Index.SizeBytes,
		},
	}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal comparison: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func writeLatencyRow(b *strings.Builder, name string, sqliteVal, bleveVal time.Duration, improvement float64) {
	improvementStr := fmt.Sprintf("%s%.1f%%%s", formatSign(improvement), improvement, checkmark(improvement))
	fmt.Fprintf(b, "%-10s | %-12s | %-12s | %-15s\n", name, FormatDuration(sqliteVal), FormatDuration(bleveVal), improvementStr)
}

// writeInsights emits one bullet per axis naming the backend that won it.
func writeInsights(b *strings.Builder, cr *ComparisonResult) {
	p95 := cr.LatencyImprovement["p95"]
	switch {
	case p95 > 0:
		fmt.Fprintf(b, "  ✓ bleve served P95 queries %.1f%% faster\n", p95)
	case p95 < 0:
		fmt.Fprintf(b, "  ✓ sqlite served P95 queries %.1f%% faster\n", math.Abs(p95))
	}

	switch {
	case cr.ThroughputImprovement > 0:
		fmt.Fprintf(b, "  ✓ bleve sustained %.1f%% more queries per second\n", cr.ThroughputImprovement)
	case cr.ThroughputImprovement < 0:
		fmt.Fprintf(b, "  ✓ sqlite sustained %.1f%% more queries per second\n", math.Abs(cr.ThroughputImprovement))
	}

	switch {
	case cr.BuildTimeImprovement > 0:
		fmt.Fprintf(b, "  ✓ bleve built the index %.1f%% faster\n", cr.BuildTimeImprovement)
	case cr.BuildTimeImprovement < 0:
		fmt.Fprintf(b, "  ✓ sqlite built the index %.1f%% faster\n", math.Abs(cr.BuildTimeImprovement))
	}

	switch {
	case cr.SweepTimeImprovement > 0:
		fmt.Fprintf(b, "  ✓ bleve swept stale entries %.1f%% faster\n", cr.SweepTimeImprovement)
	case cr.SweepTimeImprovement < 0:
		fmt.Fprintf(b, "  ✓ sqlite swept stale entries %.1f%% faster\n", math.Abs(cr.SweepTimeImprovement))
	}

	sqliteSize := cr.SQLite.Index.SizeBytes
	bleveSize := cr.Bleve.Index.SizeBytes
	switch {
	case sqliteSize > 0 && bleveSize > sqliteSize:
		fmt.Fprintf(b, "  ✓ sqlite index is %.1f%% smaller on disk\n",
			float64(bleveSize-sqliteSize)/float64(bleveSize)*100)
	case bleveSize > 0 && sqliteSize > bleveSize:
		fmt.Fprintf(b, "  ✓ bleve index is %.1f%% smaller on disk\n",
			float64(sqliteSize-bleveSize)/float64(sqliteSize)*100)
	}
}

func loserWins(cr *ComparisonResult) int {
	if cr.OverallWinner == index.BackendBleve {
		return cr.WinCount[index.BackendSQLite]
	}
	return cr.WinCount[index.BackendBleve]
}

func formatSign(v float64) string {
	if v > 0 {
		return "+"
	}
	return ""
}

func checkmark(v float64) string {
	if v > 0 {
		return " ✓"
	}
	return ""
}
