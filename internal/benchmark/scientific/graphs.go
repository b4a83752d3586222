package scientific

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shelfmark/shelfmark/internal/mirror/index"
)

// PrintGraphs prints ASCII graphs of benchmark results to the terminal.
func PrintGraphs(results *SuiteResults) {
	aggregated := aggregateResults(results)

	for _, bookCount := range results.Config.BookCounts {
		fmt.Printf("\n")
		fmt.Printf("=== GRAPHS: %d BOOKS ===\n", bookCount)
		fmt.Printf("\n")

		// Latency curve (clients vs P95 latency)
		printLatencyGraph(aggregated[bookCount], results.Config.ClientCounts)

		// Throughput curve (clients vs QPS)
		printThroughputGraph(aggregated[bookCount], results.Config.ClientCounts)
	}
}

// printLatencyGraph prints a comparison of P95 latency.
func printLatencyGraph(data map[int]map[string]*DataPoint, clientCounts []int) {
	fmt.Printf("P95 Latency vs Client Count\n")
	fmt.Printf("%s\n", strings.Repeat("-", 70))

	// Find max latency for scaling
	maxLatency := int64(0)
	for _, clientCount := range clientCounts {
		if sqlite := data[clientCount][index.BackendSQLite]; sqlite != nil {
			if sqlite.LatencyP95 > maxLatency {
				maxLatency = sqlite.LatencyP95
			}
		}
		if bleve := data[clientCount][index.BackendBleve]; bleve != nil {
			if bleve.LatencyP95 > maxLatency {
				maxLatency = bleve.LatencyP95
			}
		}
	}

	graphWidth := 50
	for _, clientCount := range clientCounts {
		sqlite := data[clientCount][index.BackendSQLite]
		bleve := data[clientCount][index.BackendBleve]

		if sqlite == nil || bleve == nil {
			continue
		}

		sqliteP95 := time.Duration(sqlite.LatencyP95)
		bleveP95 := time.Duration(bleve.LatencyP95)

		sqliteBar := int(float64(sqlite.LatencyP95) / float64(maxLatency) * float64(graphWidth))
		bleveBar := int(float64(bleve.LatencyP95) / float64(maxLatency) * float64(graphWidth))

		fmt.Printf("%3d clients:\n", clientCount)
		fmt.Printf("  sqlite: %s %v\n", strings.Repeat("█", sqliteBar), sqliteP95)
		fmt.Printf("  bleve:  %s %v\n", strings.Repeat("█", bleveBar), bleveP95)
		fmt.Printf("\n")
	}
}

// printThroughputGraph prints a comparison of queries per second.
func printThroughputGraph(data map[int]map[string]*DataPoint, clientCounts []int) {
	fmt.Printf("Throughput (Queries/Second) vs Client Count\n")
	fmt.Printf("%s\n", strings.Repeat("-", 70))

	// Find max QPS for scaling
	maxQPS := 0.0
	for _, clientCount := range clientCounts {
		if sqlite := data[clientCount][index.BackendSQLite]; sqlite != nil {
			if sqlite.QueriesPerSecond > maxQPS {
				maxQPS = sqlite.QueriesPerSecond
			}
		}
		if bleve := data[clientCount][index.BackendBleve]; bleve != nil {
			if bleve.QueriesPerSecond > maxQPS {
				maxQPS = bleve.QueriesPerSecond
			}
		}
	}

	graphWidth := 50
	for _, clientCount := range clientCounts {
		sqlite := data[clientCount][index.BackendSQLite]
		bleve := data[clientCount][index.BackendBleve]

		if sqlite == nil || bleve == nil {
			continue
		}

		sqliteBar := int(sqlite.QueriesPerSecond / maxQPS * float64(graphWidth))
		bleveBar := int(bleve.QueriesPerSecond / maxQPS * float64(graphWidth))

		fmt.Printf("%3d clients:\n", clientCount)
		fmt.Printf("  sqlite: %s %.0f qps\n", strings.Repeat("█", sqliteBar), sqlite.QueriesPerSecond)
		fmt.Printf("  bleve:  %s %.0f qps\n", strings.Repeat("█", bleveBar), bleve.QueriesPerSecond)
		fmt.Printf("\n")
	}
}

// PrintScalingAnalysis prints scaling efficiency analysis.
func PrintScalingAnalysis(results *SuiteResults) {
	aggregated := aggregateResults(results)

	fmt.Printf("\n")
	fmt.Printf("=== SCALING ANALYSIS ===\n")
	fmt.Printf("\n")

	for _, bookCount := range results.Config.BookCounts {
		fmt.Printf("Books: %d\n", bookCount)
		fmt.Printf("%s\n", strings.Repeat("-", 70))

		analyzeScaling(index.BackendSQLite, aggregated[bookCount], results.Config.ClientCounts)
		analyzeScaling(index.BackendBleve, aggregated[bookCount], results.Config.ClientCounts)

		fmt.Printf("\n")
	}
}

// analyzeScaling prints scaling efficiency for one backend.
func analyzeScaling(backend string, data map[int]map[string]*DataPoint, clientCounts []int) {
	fmt.Printf("%s:\n", backend)

	if len(clientCounts) < 2 {
		fmt.Printf("  (insufficient data points)\n")
		return
	}

	// Compute throughput scaling efficiency
	// Ideal scaling: QPS doubles when clients double
	// Efficiency = (actual QPS increase) / (ideal QPS increase)
	for i := 1; i < len(clientCounts); i++ {
		prev := data[clientCounts[i-1]][backend]
		curr := data[clientCounts[i]][backend]

		if prev == nil || curr == nil {
			continue
		}

		clientRatio := float64(clientCounts[i]) / float64(clientCounts[i-1])
		qpsRatio := curr.QueriesPerSecond / prev.QueriesPerSecond
		efficiency := (qpsRatio / clientRatio) * 100

		latencyIncrease := ((float64(curr.LatencyP95) - float64(prev.LatencyP95)) / float64(prev.LatencyP95)) * 100

		fmt.Printf("  %d to %d clients: QPS %+.1f%%, Latency %+.1f%%, Efficiency: %.1f%%\n",
			clientCounts[i-1], clientCounts[i], (qpsRatio-1)*100, latencyIncrease, efficiency)
	}
}

// PrintStatisticalSignificance analyzes whether differences are statistically significant.
func PrintStatisticalSignificance(results *SuiteResults) {
	if results.Config.MeasurementRuns < 3 {
		fmt.Printf("\n")
		fmt.Printf("=== STATISTICAL SIGNIFICANCE ===\n")
		fmt.Printf("(Skipped: need at least 3 measurement runs for statistical analysis)\n")
		return
	}

	fmt.Printf("\n")
	fmt.Printf("=== STATISTICAL SIGNIFICANCE ===\n")
	fmt.Printf("\n")

	// Group by book count, client count
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

	for _, bookCount := range results.Config.BookCounts {
		fmt.Printf("Books: %d\n", bookCount)
		fmt.Printf("%s\n", strings.Repeat("-", 70))

		for _, clientCount := range results.Config.ClientCounts {
			sqlitePoints := groups[bookCount][clientCount][index.BackendSQLite]
			blevePoints := groups[bookCount][clientCount][index.BackendBleve]

			if len(sqlitePoints) < 2 || len(blevePoints) < 2 {
				continue
			}

			// Extract P95 latencies
			sqliteLatencies := make([]float64, len(sqlitePoints))
			bleveLatencies := make([]float64, len(blevePoints))
			for i, p := range sqlitePoints {
				sqliteLatencies[i] = float64(p.LatencyP95)
			}
			for i, p := range blevePoints {
				bleveLatencies[i] = float64(p.LatencyP95)
			}

			// Compute means and standard deviations
			sqliteMean, sqliteStdDev := meanAndStdDev(sqliteLatencies)
			bleveMean, bleveStdDev := meanAndStdDev(bleveLatencies)

			// Coefficient of variation (CV) as a stability metric
			// Lower CV = more stable/reproducible
			sqliteCV := (sqliteStdDev / sqliteMean) * 100
			bleveCV := (bleveStdDev / bleveMean) * 100

			// Effect size (difference in means normalized by pooled stddev)
			pooledStdDev := math.Sqrt((sqliteStdDev*sqliteStdDev + bleveStdDev*bleveStdDev) / 2)
			effectSize := math.Abs(sqliteMean-bleveMean) / pooledStdDev

			significance := "small"
			if effectSize > 0.8 {
				significance = "large"
			} else if effectSize > 0.5 {
				significance = "medium"
			}

			fmt.Printf("%d clients:\n", clientCount)
			fmt.Printf("  sqlite: mean=%.2fms, stddev=%.2fms, CV=%.1f%%\n",
				sqliteMean/1e6, sqliteStdDev/1e6, sqliteCV)
			fmt.Printf("  bleve:  mean=%.2fms, stddev=%.2fms, CV=%.1f%%\n",
				bleveMean/1e6, bleveStdDev/1e6, bleveCV)
			fmt.Printf("  Effect size: %.2f (%s)\n", effectSize, significance)
			fmt.Printf("\n")
		}
	}

	fmt.Printf("Effect size interpretation:\n")
	fmt.Printf("  < 0.5  = small (may not be practically significant)\n")
	fmt.Printf("  0.5-0.8 = medium (likely practically significant)\n")
	fmt.Printf("  > 0.8  = large (definitely practically significant)\n")
	fmt.Printf("\n")
}

// meanAndStdDev computes mean and standard deviation of a slice of values.
func meanAndStdDev(values []float64) (mean float64, stdDev float64) {
	if len(values) == 0 {
		return 0, 0
	}

	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(len(values))

	variance := 0.0
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	variance /= float64(len(values))
	stdDev = math.Sqrt(variance)

	return mean, stdDev
}
