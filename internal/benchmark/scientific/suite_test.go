package scientific

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shelfmark/shelfmark/internal/mirror/index"
)

func TestBackendRunner_SQLite(t *testing.T) {
	tmpDir := t.TempDir()
	indexPath := filepath.Join(tmpDir, "test.db")

	// Create runner
	runner, err := NewBackendRunner(index.BackendSQLite, indexPath, 100, 0.3)
	if err != nil {
		t.Fatalf("failed to create runner: %v", err)
	}
	defer runner.Close()

	// Verify stats
	stats := runner.GetStats()
	totalBooks := stats["total_books"].(int)
	placeholders := stats["placeholders"].(int)

	if totalBooks != 100 {
		t.Errorf("expected 100 total books, got %d", totalBooks)
	}

	if placeholders == 0 {
		t.Errorf("expected some placeholders, got 0")
	}

	t.Logf("Stats: %+v", stats)

	// Run quick benchmark
	result, err := runner.RunBenchmark(5, 10)
	if err != nil {
		t.Fatalf("benchmark failed: %v", err)
	}

	if result.TotalQueries != 50 {
		t.Errorf("expected 50 queries (5 clients * 10 queries), got %d", result.TotalQueries)
	}

	if result.ErrorCount > 0 {
		t.Errorf("got %d errors", result.ErrorCount)
	}

	t.Logf("Benchmark: P50=%v, P95=%v, QPS=%.0f", result.P50, result.P95, result.QueriesPerSecond)
}

func TestBackendRunner_Bleve(t *testing.T) {
	tmpDir := t.TempDir()
	indexPath := filepath.Join(tmpDir, "test.bleve")

	// Create runner
	runner, err := NewBackendRunner(index.BackendBleve, indexPath, 100, 0.3)
	if err != nil {
		t.Fatalf("failed to create runner: %v", err)
	}
	defer runner.Close()

	// Verify stats
	stats := runner.GetStats()
	totalBooks := stats["total_books"].(int)
	placeholders := stats["placeholders"].(int)

	if totalBooks != 100 {
		t.Errorf("expected 100 total books, got %d", totalBooks)
	}

	if placeholders == 0 {
		t.Errorf("expected some placeholders, got 0")
	}

	t.Logf("Stats: %+v", stats)

	// Run quick benchmark
	result, err := runner.RunBenchmark(5, 10)
	if err != nil {
		t.Fatalf("benchmark failed: %v", err)
	}

	if result.TotalQueries != 50 {
		t.Errorf("expected 50 queries (5 clients * 10 queries), got %d", result.TotalQueries)
	}

	if result.ErrorCount > 0 {
		t.Errorf("got %d errors", result.ErrorCount)
	}

	t.Logf("Benchmark: P50=%v, P95=%v, QPS=%.0f", result.P50, result.P95, result.QueriesPerSecond)
}

func TestFullSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping full suite in short mode")
	}

	tmpDir := t.TempDir()

	// Use quick config for testing
	config := QuickConfig()

	// Run suite
	results, err := RunSuite(config, tmpDir)
	if err != nil {
		t.Fatalf("suite failed: %v", err)
	}

	// Verify we got data points
	expectedPoints := len(config.BookCounts) * len(config.ClientCounts) * 2 * config.MeasurementRuns
	if len(results.DataPoints) != expectedPoints {
		t.Errorf("expected %d data points, got %d", expectedPoints, len(results.DataPoints))
	}

	// Verify no errors
	for _, dp := range results.DataPoints {
		if dp.ErrorCount > 0 {
			t.Errorf("data point had errors: %+v", dp)
		}
	}

	// Generate reports
	if err := GenerateReports(results, tmpDir); err != nil {
		t.Fatalf("failed to generate reports: %v", err)
	}

	// Verify files were created
	expectedFiles := []string{"results.json", "results.csv", "REPORT.md"}
	for _, filename := range expectedFiles {
		path := filepath.Join(tmpDir, filename)
		if _, err := os.Stat(path); err != nil {
			t.Errorf("expected file %s not created: %v", filename, err)
		}
	}
}

func TestReproducibility(t *testing.T) {
	// Run the same setup twice and verify identical libraries
	tmpDir1 := t.TempDir()
	tmpDir2 := t.TempDir()

	const bookCount = 100

	// First run
	runner1, err := NewBackendRunner(index.BackendSQLite, filepath.Join(tmpDir1, "test.db"), bookCount, 0.3)
	if err != nil {
		t.Fatalf("failed to create runner1: %v", err)
	}
	defer runner1.Close()

	stats1 := runner1.GetStats()

	// Second run
	runner2, err := NewBackendRunner(index.BackendSQLite, filepath.Join(tmpDir2, "test.db"), bookCount, 0.3)
	if err != nil {
		t.Fatalf("failed to create runner2: %v", err)
	}
	defer runner2.Close()

	stats2 := runner2.GetStats()

	// Verify identical stats. The library generator is fully deterministic,
	// so both runs index the same books and the same placeholder split.
	if stats1["total_books"] != stats2["total_books"] {
		t.Errorf("total_books mismatch: %v vs %v", stats1["total_books"], stats2["total_books"])
	}

	if stats1["placeholders"] != stats2["placeholders"] {
		t.Errorf("placeholders mismatch: %v vs %v", stats1["placeholders"], stats2["placeholders"])
	}

	if stats1["downloaded"] != stats2["downloaded"] {
		t.Errorf("downloaded mismatch: %v vs %v", stats1["downloaded"], stats2["downloaded"])
	}

	t.Logf("Reproducibility verified: identical runs index identical test data")
}

func TestQuickSuite(t *testing.T) {
	// Quick test for CI - minimal configuration
	tmpDir := t.TempDir()

	config := SuiteConfig{
		ClientCounts:     []int{5, 10},
		BookCounts:       []int{50},
		QueriesPerClient: 5,
		WarmupRuns:       1,
		MeasurementRuns:  2,
		PlaceholderPct:   0.3,
	}

	results, err := RunSuite(config, tmpDir)
	if err != nil {
		t.Fatalf("quick suite failed: %v", err)
	}

	// Just verify it ran successfully
	if len(results.DataPoints) == 0 {
		t.Error("no data points generated")
	}

	// Print summary
	PrintGraphs(results)
	PrintScalingAnalysis(results)
}
