// Package catalog provides the book model and the HTTP clients for the
// remote catalog (OPDS) and the download service (Ephemera).
package catalog

import (
	"fmt"
	"regexp"
	"strings"
)

// Book represents one catalog entry as seen by a single sync pass.
// Instances are immutable once produced by a client; the reconciliation
// engine and the placeholder codec only read them.
type Book struct {
	// ===== Identity =====
	ID string `json:"id"` // Opaque catalog identifier

	// ===== Bibliographic Fields =====
	Title       string  `json:"title"`
	Author      string  `json:"author"`
	Series      *string `json:"series,omitempty"`       // nil for standalone books
	SeriesIndex *string `json:"series_index,omitempty"` // numeric or fractional, e.g. "1" or "1.5"

	// ===== Acquisition =====
	DownloadURL string `json:"download_url"`
	CoverURL    string `json:"cover_url,omitempty"`
	Format      string `json:"format,omitempty"` // e.g. "EPUB"

	// ===== Bookkeeping =====
	Updated     string `json:"updated,omitempty"` // feed timestamp, ordering only
	Description string `json:"description,omitempty"`
}

// Validate checks that the book carries the fields the mirror depends on.
// A series without a position is valid: the book files under the series
// directory and the filename simply carries no index prefix.
func (b *Book) Validate() error {
	if b.ID == "" {
		return fmt.Errorf("id is required")
	}
	if b.Title == "" {
		return fmt.Errorf("title is required")
	}
	if b.Author == "" {
		return fmt.Errorf("author is required")
	}
	if b.SeriesIndex != nil && (b.Series == nil || *b.Series == "") {
		return fmt.Errorf("series_index requires a series")
	}
	return nil
}

// InSeries reports whether the book belongs to a named series.
func (b *Book) InSeries() bool {
	return b.Series != nil && *b.Series != ""
}

// SeriesName returns the series name or the empty string for standalones.
func (b *Book) SeriesName() string {
	if b.Series == nil {
		return ""
	}
	return *b.Series
}

// SeriesPosition returns the series index string or "" when absent.
func (b *Book) SeriesPosition() string {
	if b.SeriesIndex == nil {
		return ""
	}
	return *b.SeriesIndex
}

var (
	parentheticalRe = regexp.MustCompile(`\([^)]*\)`)
	whitespaceRe    = regexp.MustCompile(`\s+`)
)

// NormalizeTitle reduces a title to a comparison key: parenthesized
// qualifiers (edition notes, years) are removed, whitespace is collapsed,
// and the result is lowercased. Used when matching catalog entries against
// on-disk metadata during adoption.
func NormalizeTitle(title string) string {
	t := parentheticalRe.ReplaceAllString(title, "")
	t = whitespaceRe.ReplaceAllString(t, " ")
	return strings.ToLower(strings.TrimSpace(t))
}

// matchThreshold is the minimum MatchScore at which two titles are
// considered the same book.
const matchThreshold = 70

// TitlesMatch reports whether two titles refer to the same book, using the
// containment-then-overlap heuristic: equal normalized titles always match,
// containment matches by length ratio, and otherwise a word-overlap score is
// computed.
func TitlesMatch(a, b string) bool {
	return MatchScore(a, b) >= matchThreshold
}

// MatchScore scores title similarity from 0 to 100.
func MatchScore(a, b string) int {
	na, nb := NormalizeTitle(a), NormalizeTitle(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 100
	}
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		shorter, longer := len(na), len(nb)
		if shorter > longer {
			shorter, longer = longer, shorter
		}
		return shorter * 100 / longer
	}
	wordsA := strings.Fields(na)
	wordsB := strings.Fields(nb)
	setA := make(map[string]bool, len(wordsA))
	for _, w := range wordsA {
		setA[w] = true
	}
	common := 0
	for _, w := range wordsB {
		if setA[w] {
			common++
		}
	}
	max := len(wordsA)
	if len(wordsB) > max {
		max = len(wordsB)
	}
	if max == 0 {
		return 0
	}
	return common * 100 / max
}
