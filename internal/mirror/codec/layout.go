package codec

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"github.com/shelfmark/shelfmark/internal/catalog"
)

const (
	// standalonesDir groups books that belong to no series.
	standalonesDir = "standalones"

	// maxComponentLen caps each sanitized path component, in runes.
	maxComponentLen = 64

	// defaultExt is used when a book carries no usable format.
	defaultExt = "epub"
)

// PathFor derives the canonical library location for a book:
//
//	<base>/<author>/<series or "standalones">/<NNN_><author>_-_<title>.<ext>
//
// The function is pure: the same Book fields always produce the same path.
// Reconciliation and the download workflow both rely on that to find, move
// and replace files without any extra bookkeeping.
func PathFor(base string, book catalog.Book) string {
	author := SanitizeComponent(book.Author)
	if author == "" {
		author = "Unknown Author"
	}
	title := SanitizeComponent(book.Title)
	if title == "" {
		title = "Untitled"
	}

	dir := standalonesDir
	var prefix string
	if book.InSeries() {
		if s := SanitizeComponent(book.SeriesName()); s != "" {
			dir = s
		}
		prefix = seriesPrefix(book.SeriesPosition())
	}

	name := prefix + author + "_-_" + title + "." + extensionFor(book.Format)
	return filepath.Join(base, author, dir, name)
}

// SanitizeComponent makes a metadata string safe to use as one path
// component: filesystem-hostile runes become underscores, whitespace
// collapses to single spaces, and the result is length-capped and stripped
// of leading/trailing dots and spaces. An empty result means the caller
// must substitute a fallback name.
func SanitizeComponent(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteRune(' ')
			}
			lastSpace = true
		case r == '/' || r == '\\' || r == ':' || r == '*' || r == '?' ||
			r == '"' || r == '<' || r == '>' || r == '|' || r < 0x20:
			b.WriteRune('_')
			lastSpace = false
		default:
			b.WriteRune(r)
			lastSpace = false
		}
	}

	out := []rune(b.String())
	if len(out) > maxComponentLen {
		out = out[:maxComponentLen]
	}
	return strings.Trim(string(out), " .")
}

// seriesPrefix renders a series position as a sortable filename prefix:
// "1" -> "001_", "2.5" -> "002.5_". Non-numeric positions produce no prefix.
func seriesPrefix(position string) string {
	parts := strings.SplitN(strings.TrimSpace(position), ".", 2)
	n, err := strconv.Atoi(parts[0])
	if err != nil || n < 0 {
		return ""
	}
	prefix := fmt.Sprintf("%03d", n)
	if len(parts) == 2 && isDigits(parts[1]) {
		prefix += "." + parts[1]
	}
	return prefix + "_"
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// extensionFor normalizes a catalog format name ("EPUB") to a file
// extension, falling back to the default when the format is unusable.
func extensionFor(format string) string {
	ext := strings.ToLower(strings.TrimSpace(format))
	for _, r := range ext {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return defaultExt
		}
	}
	if ext == "" {
		return defaultExt
	}
	return ext
}
