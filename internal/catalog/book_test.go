package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func TestBookValidate(t *testing.T) {
	valid := Book{ID: "book-1", Title: "Dune", Author: "Frank Herbert"}

	t.Run("valid standalone", func(t *testing.T) {
		assert.NoError(t, valid.Validate())
	})

	t.Run("valid series", func(t *testing.T) {
		b := valid
		b.Series = strPtr("Dune Chronicles")
		b.SeriesIndex = strPtr("1")
		assert.NoError(t, b.Validate())
	})

	t.Run("series without index is fine", func(t *testing.T) {
		b := valid
		b.Series = strPtr("Dune Chronicles")
		assert.NoError(t, b.Validate())
	})

	t.Run("missing id", func(t *testing.T) {
		b := valid
		b.ID = ""
		assert.EqualError(t, b.Validate(), "id is required")
	})

	t.Run("missing title", func(t *testing.T) {
		b := valid
		b.Title = ""
		assert.EqualError(t, b.Validate(), "title is required")
	})

	t.Run("missing author", func(t *testing.T) {
		b := valid
		b.Author = ""
		assert.EqualError(t, b.Validate(), "author is required")
	})

	t.Run("index without series", func(t *testing.T) {
		b := valid
		b.SeriesIndex = strPtr("2")
		assert.EqualError(t, b.Validate(), "series_index requires a series")
	})
}

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  string
	}{
		{"plain", "Dune", "dune"},
		{"parenthetical removed", "Dune (40th Anniversary Edition)", "dune"},
		{"whitespace collapsed", "The  Left   Hand of Darkness", "the left hand of darkness"},
		{"nested qualifiers", "Hyperion (Hyperion Cantos) (1989)", "hyperion"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeTitle(tt.title))
		})
	}
}

func TestMatchScore(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want int
	}{
		{"exact", "Dune", "Dune", 100},
		{"exact after normalization", "Dune (1965)", "dune", 100},
		{"containment", "Dune Messiah", "Dune", 4 * 100 / 12},
		{"no overlap", "Dune", "Neuromancer", 0},
		{"word overlap", "The Fifth Season Book One", "Fifth Season of the Broken Earth", 3 * 100 / 6},
		{"empty sides", "", "Dune", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchScore(tt.a, tt.b))
		})
	}
}

func TestTitlesMatch(t *testing.T) {
	t.Run("matching pair", func(t *testing.T) {
		assert.True(t, TitlesMatch("The Dispossessed (SF Masterworks)", "The Dispossessed"))
	})

	t.Run("below threshold", func(t *testing.T) {
		assert.False(t, TitlesMatch("Dune", "A Memory Called Empire"))
	})
}

func TestBookSeriesAccessors(t *testing.T) {
	t.Run("standalone", func(t *testing.T) {
		b := Book{ID: "b", Title: "t", Author: "a"}
		assert.False(t, b.InSeries())
		assert.Equal(t, "", b.SeriesName())
		assert.Equal(t, "", b.SeriesPosition())
	})

	t.Run("in series", func(t *testing.T) {
		b := Book{
			ID: "b", Title: "t", Author: "a",
			Series:      strPtr("Earthsea"),
			SeriesIndex: strPtr("3"),
		}
		assert.True(t, b.InSeries())
		assert.Equal(t, "Earthsea", b.SeriesName())
		assert.Equal(t, "3", b.SeriesPosition())
	})
}
