package benchmark

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/shelfmark/shelfmark/internal/mirror/loadtest"
)

// RunBackendBenchmark executes a full benchmark run against the backend
// named in the config. Both backends implement index.Datastore, so the same
// runner measures either one.
func RunBackendBenchmark(config Config) (Result, error) {
	result := Result{Config: config}

	removeIndexFiles(config.IndexPath)
	defer removeIndexFiles(config.IndexPath)

	memBefore := GetMemoryStats()
	ctx := context.Background()

	// Phase 1: build the index
	buildStart := time.Now()
	tl, err := loadtest.CreateTestLibrary(config.Backend, config.IndexPath, config.NumBooks, config.PlaceholderPct)
	if err != nil {
		return result, fmt.Errorf("failed to create test library: %w", err)
	}
	defer tl.Close()
	buildTime := time.Since(buildStart)

	result.Index.BuildTimeMs = buildTime.Milliseconds()
	result.Index.BookCount = tl.TotalBooks
	result.Index.PlaceholderCount = len(tl.PlaceholderPaths)
	result.Index.SizeBytes = indexSize(config.IndexPath)

	// Phase 2: time to first query
	firstStart := time.Now()
	if _, err := tl.Index.Search(ctx, "Herbert", 10); err != nil {
		return result, fmt.Errorf("first query failed: %w", err)
	}
	result.Index.TimeToFirstMs = time.Since(firstStart).Milliseconds()

	// Phase 3: concurrent query load
	queryStart := time.Now()
	stats, err := tl.RunConcurrentQueries(config.NumClients, config.QueriesPerClient)
	if err != nil {
		return result, fmt.Errorf("concurrent queries failed: %w", err)
	}
	queryDuration := time.Since(queryStart)

	result.Latency = ComputeStats(stats.Durations)
	result.ErrorCount = stats.Errors
	result.Throughput = ThroughputMetrics{
		QueriesPerSecond: float64(stats.TotalQueries) / queryDuration.Seconds(),
		TotalQueries:     stats.TotalQueries,
	}

	// Phase 4: stale sweep. The synthetic paths never exist on disk, so the
	// sweep removes every entry, which makes it a pure delete benchmark.
	sweepStart := time.Now()
	removed, err := tl.Index.RemoveStaleEntries(ctx)
	if err != nil {
		return result, fmt.Errorf("stale sweep failed: %w", err)
	}
	result.Index.SweepTimeMs = time.Since(sweepStart).Milliseconds()
	result.Index.SweepRemoved = removed

	memAfter := GetMemoryStats()
	result.Resources = CompareMemoryStats(memBefore, memAfter)

	result.TotalDuration = time.Since(buildStart)
	totalQueries := result.Throughput.TotalQueries + result.ErrorCount
	if totalQueries > 0 {
		result.ErrorRate = float64(result.ErrorCount) / float64(totalQueries)
	}
	result.Success = result.ErrorCount == 0

	return result, nil
}

// indexSize returns the on-disk footprint of the index at path. The bleve
// backend stores a directory, sqlite a single file with optional WAL
// siblings.
func indexSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}

	if !info.IsDir() {
		size := info.Size()
		for _, suffix := range []string{"-wal", "-shm"} {
			if si, err := os.Stat(path + suffix); err == nil {
				size += si.Size()
			}
		}
		return size
	}

	var total int64
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if fi, err := d.Info(); err == nil {
			total += fi.Size()
		}
		return nil
	})
	return total
}

// removeIndexFiles clears the index path and any sqlite WAL siblings.
func removeIndexFiles(path string) {
	_ = os.RemoveAll(path)
	_ = os.Remove(path + "-wal")
	_ = os.Remove(path + "-shm")
}
