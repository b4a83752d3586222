// Package loadtest provides load testing utilities for the library index.
//
// This package simulates many concurrent readers, a status dashboard and
// search clients querying at once, to validate that an index backend holds
// up under 100+ concurrent clients with low query latency.
package loadtest

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shelfmark/shelfmark/internal/catalog"
	"github.com/shelfmark/shelfmark/internal/mirror/codec"
	"github.com/shelfmark/shelfmark/internal/mirror/index"
)

// indexBatchSize bounds how many records go into one IndexBatch call.
const indexBatchSize = 500

// authors is the pool synthetic books draw from. Search load rotates over
// the same names, so every query has matches.
var authors = []string{
	"Herbert", "Lem", "Strugatsky", "Asimov", "Clarke",
	"Le Guin", "Banks", "Butler", "Gibson", "Simak",
}

// seriesByAuthor names a series for authors whose books form one.
var seriesByAuthor = map[string]string{
	"Herbert": "Dune",
	"Asimov":  "Foundation",
	"Le Guin": "Hainish Cycle",
	"Banks":   "Culture",
}

// TestLibrary represents a populated index for load testing.
type TestLibrary struct {
	Index            index.Datastore
	Paths            []string
	PlaceholderPaths []string
	DownloadedPaths  []string
	TotalBooks       int
	PlaceholderPct   float64
}

// LatencyStats captures performance metrics from load tests.
type LatencyStats struct {
	Min          time.Duration
	Max          time.Duration
	Mean         time.Duration
	P50          time.Duration // Median
	P95          time.Duration
	P99          time.Duration
	TotalQueries int
	Errors       int
	Durations    []time.Duration
}

// CreateTestLibrary builds an index of the given backend populated with
// numBooks synthetic records.
//
// The records mimic a real library:
//   - Authors cycle through a fixed pool, some with series
//   - Series books carry sortable position prefixes in their paths
//   - Timestamps are staggered over the past month
//
// placeholderPct controls what fraction of the records are still
// placeholders (typical: 0.3 for 30%).
func CreateTestLibrary(backend, indexPath string, numBooks int, placeholderPct float64) (*TestLibrary, error) {
	idx, err := index.New(backend)
	if err != nil {
		return nil, err
	}
	if err := idx.Initialize(indexPath); err != nil {
		return nil, fmt.Errorf("failed to initialize index: %w", err)
	}

	tl := &TestLibrary{
		Index:          idx,
		Paths:          make([]string, 0, numBooks),
		TotalBooks:     numBooks,
		PlaceholderPct: placeholderPct,
	}

	records := generateRecords(numBooks, placeholderPct)
	ctx := context.Background()
	for start := 0; start < len(records); start += indexBatchSize {
		end := start + indexBatchSize
		if end > len(records) {
			end = len(records)
		}
		if err := idx.IndexBatch(ctx, records[start:end]); err != nil {
			_ = idx.Close()
			return nil, fmt.Errorf("failed to index batch at %d: %w", start, err)
		}
	}

	for _, r := range records {
		tl.Paths = append(tl.Paths, r.Path)
		if r.Placeholder {
			tl.PlaceholderPaths = append(tl.PlaceholderPaths, r.Path)
		} else {
			tl.DownloadedPaths = append(tl.DownloadedPaths, r.Path)
		}
	}

	return tl, nil
}

// Close closes the underlying index.
func (tl *TestLibrary) Close() error {
	if tl.Index != nil {
		return tl.Index.Close()
	}
	return nil
}

// RunConcurrentQueries simulates N concurrent clients hitting the index.
//
// Each client performs queriesPerClient operations, alternating between a
// term search and a stats scan, recording latency for each. Returns
// aggregated latency statistics.
func (tl *TestLibrary) RunConcurrentQueries(numClients int, queriesPerClient int) (*LatencyStats, error) {
	var wg sync.WaitGroup
	var allDurations []time.Duration
	var errorCount int

	resultsChan := make(chan []time.Duration, numClients)
	errorsChan := make(chan error, numClients)

	for i := 0; i < numClients; i++ {
		wg.Add(1)
		go func(clientID int) {
			defer wg.Done()

			durations := make([]time.Duration, 0, queriesPerClient)
			ctx := context.Background()

			for j := 0; j < queriesPerClient; j++ {
				term := authors[(clientID+j)%len(authors)]
				start := time.Now()

				var err error
				if j%2 == 0 {
					_, err = tl.Index.Search(ctx, term, 100)
				} else {
					_, err = tl.Index.Stats(ctx)
				}
				elapsed := time.Since(start)

				durations = append(durations, elapsed)

				if err != nil {
					errorsChan <- fmt.Errorf("client %d query %d failed: %w", clientID, j, err)
					return
				}
			}

			resultsChan <- durations
		}(i)
	}

	wg.Wait()
	close(resultsChan)
	close(errorsChan)

	for err := range errorsChan {
		if err != nil {
			errorCount++
			fmt.Printf("Error: %v\n", err)
		}
	}

	for durations := range resultsChan {
		allDurations = append(allDurations, durations...)
	}

	if len(allDurations) == 0 {
		return nil, fmt.Errorf("no successful queries completed")
	}

	stats := computeLatencyStats(allDurations)
	stats.Errors = errorCount

	return stats, nil
}

// VerifyConcurrentConsistency runs readers against a writer that keeps
// flipping download states, checking that every result stays structurally
// sound. Intended to run under the race detector.
func (tl *TestLibrary) VerifyConcurrentConsistency(numReaders int, duration time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	var wg sync.WaitGroup
	errorsChan := make(chan error, numReaders+1)

	// Launch reader clients
	for i := 0; i < numReaders; i++ {
		wg.Add(1)
		go func(readerID int) {
			defer wg.Done()

			for {
				select {
				case <-ctx.Done():
					return
				default:
					records, err := tl.Index.Search(ctx, "", 0)
					if err != nil && ctx.Err() == nil {
						errorsChan <- fmt.Errorf("reader %d search failed: %w", readerID, err)
						return
					}
					for _, r := range records {
						if r.Path == "" {
							errorsChan <- fmt.Errorf("reader %d found record with empty path", readerID)
							return
						}
						if r.Author == "" {
							errorsChan <- fmt.Errorf("reader %d found record with empty author: %s", readerID, r.Path)
							return
						}
					}

					st, err := tl.Index.Stats(ctx)
					if err != nil && ctx.Err() == nil {
						errorsChan <- fmt.Errorf("reader %d stats failed: %w", readerID, err)
						return
					}
					if err == nil && (st.Placeholders < 0 || st.Downloaded < 0) {
						errorsChan <- fmt.Errorf("reader %d saw negative counts: %+v", readerID, st)
						return
					}

					// Small sleep to avoid hammering
					time.Sleep(1 * time.Millisecond)
				}
			}
		}(i)
	}

	// One writer keeps flipping placeholder states in place. The total
	// count never changes, only the split moves.
	wg.Add(1)
	go func() {
		defer wg.Done()

		records := generateRecords(len(tl.Paths), tl.PlaceholderPct)
		flip := false
		for {
			select {
			case <-ctx.Done():
				return
			default:
				batch := make([]index.Record, 0, indexBatchSize)
				for i := 0; i < indexBatchSize && i < len(records); i++ {
					r := records[i]
					r.Placeholder = flip
					batch = append(batch, r)
				}
				if err := tl.Index.IndexBatch(ctx, batch); err != nil && ctx.Err() == nil {
					errorsChan <- fmt.Errorf("writer reindex failed: %w", err)
					return
				}
				flip = !flip
				time.Sleep(5 * time.Millisecond)
			}
		}
	}()

	wg.Wait()
	close(errorsChan)

	for err := range errorsChan {
		if err != nil {
			return err
		}
	}

	return nil
}

// GetStats returns statistics about the test library.
func (tl *TestLibrary) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"total_books":         tl.TotalBooks,
		"placeholders":        len(tl.PlaceholderPaths),
		"downloaded":          len(tl.DownloadedPaths),
		"placeholder_percent": float64(len(tl.PlaceholderPaths)) / float64(tl.TotalBooks) * 100,
	}
}

// generateRecords creates synthetic index records with a realistic shape.
func generateRecords(count int, placeholderPct float64) []index.Record {
	records := make([]index.Record, count)
	formats := []string{"epub", "epub", "epub", "pdf", "mobi"}

	// Deterministic random for reproducibility
	rng := rand.New(rand.NewSource(42))

	baseTime := time.Now().Add(-30 * 24 * time.Hour) // 30 days ago

	for i := 0; i < count; i++ {
		author := authors[i%len(authors)]
		book := catalog.Book{
			ID:     fmt.Sprintf("%d", 100000+i),
			Title:  fmt.Sprintf("Test Book %d", i),
			Author: author,
			Format: formats[i%len(formats)],
		}
		if series, ok := seriesByAuthor[author]; ok {
			pos := fmt.Sprintf("%d", 1+i%9)
			book.Series = &series
			book.SeriesIndex = &pos
		}

		path := codec.PathFor("/library", book)
		meta := codec.Metadata{
			BookID:      book.ID,
			Title:       book.Title,
			Author:      book.Author,
			Series:      book.Series,
			SeriesIndex: book.SeriesIndex,
		}

		// Titles are unique, so every derived path is unique too.
		r := index.RecordFrom(path, meta, rng.Float64() < placeholderPct)
		// Stagger update times
		r.UpdatedAt = baseTime.Add(time.Duration(i) * time.Minute).UTC().Format(time.RFC3339)
		records[i] = r
	}

	return records
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	// Sort durations for percentile calculation
	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	// Calculate mean
	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	mean := sum / time.Duration(len(durations))

	// Calculate percentiles
	p50 := sorted[len(sorted)*50/100]
	p95 := sorted[len(sorted)*95/100]
	p99 := sorted[len(sorted)*99/100]

	return &LatencyStats{
		Min:          sorted[0],
		Max:          sorted[len(sorted)-1],
		Mean:         mean,
		P50:          p50,
		P95:          p95,
		P99:          p99,
		TotalQueries: len(durations),
		Durations:    sorted,
	}
}

// Format renders the statistics as a readable block.
func (s *LatencyStats) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Latency Statistics:\n")
	fmt.Fprintf(&b, "  Total Queries: %d\n", s.TotalQueries)
	fmt.Fprintf(&b, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(&b, "  Min:           %v\n", s.Min)
	fmt.Fprintf(&b, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(&b, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(&b, "  P95:           %v\n", s.P95)
	fmt.Fprintf(&b, "  P99:           %v\n", s.P99)
	fmt.Fprintf(&b, "  Max:           %v\n", s.Max)
	return b.String()
}

// PrintStats formats and prints latency statistics.
func (s *LatencyStats) PrintStats() {
	fmt.Print(s.Format())
}
