package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"os"

	"github.com/shelfmark/shelfmark/internal/catalog"
	"github.com/shelfmark/shelfmark/internal/mirror"
)

const (
	// Sentinel marks a file as a placeholder. It is versioned so a future
	// format change can coexist with documents already on disk.
	Sentinel = "shelfmark::placeholder::v1"

	// DetectionBound is the most bytes IsPlaceholder will read from a file.
	// Encode guarantees the sentinel and metadata island land inside it.
	DetectionBound = 8 * 1024

	metadataOpen  = `<script type="application/json" id="shelfmark-metadata">`
	metadataClose = `</script>`
)

// Metadata is the record embedded in a placeholder document. It mirrors the
// store entry for the same path, so an orphaned placeholder found on disk can
// be adopted back into the store from its own bytes.
type Metadata struct {
	// ===== Identity =====
	BookID string `json:"book_id"`

	// ===== Bibliographic Fields =====
	Title       string  `json:"title"`
	Author      string  `json:"author"`
	Series      *string `json:"series,omitempty"`
	SeriesIndex *string `json:"series_index,omitempty"`

	// ===== Acquisition =====
	DownloadURL string `json:"download_url"`
	CoverURL    string `json:"cover_url,omitempty"`
}

// Validate checks that the Metadata has valid field values.
func (m *Metadata) Validate() error {
	if m.BookID == "" {
		return fmt.Errorf("book_id is required")
	}
	if m.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(m.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(m.Title))
	}
	if m.Author == "" {
		return fmt.Errorf("author is required")
	}
	if len(m.Author) > 500 {
		return fmt.Errorf("author must be 500 characters or less (got %d)", len(m.Author))
	}
	if m.DownloadURL == "" {
		return fmt.Errorf("download_url is required")
	}
	if m.SeriesIndex != nil && (m.Series == nil || *m.Series == "") {
		return fmt.Errorf("series_index requires a series")
	}
	return nil
}

// MetadataFromBook builds the embeddable record for a catalog book.
func MetadataFromBook(b catalog.Book) Metadata {
	return Metadata{
		BookID:      b.ID,
		Title:       b.Title,
		Author:      b.Author,
		Series:      b.Series,
		SeriesIndex: b.SeriesIndex,
		DownloadURL: b.DownloadURL,
		CoverURL:    b.CoverURL,
	}
}

// Matches reports whether the stored bibliographic fields still agree with
// the incoming catalog book. A false result means the placeholder needs to
// be rewritten (and possibly moved).
func (m *Metadata) Matches(b catalog.Book) bool {
	if m.Title != b.Title || m.Author != b.Author {
		return false
	}
	if !strPtrEqual(m.Series, b.Series) {
		return false
	}
	return strPtrEqual(m.SeriesIndex, b.SeriesIndex)
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Codec encodes and detects placeholder documents.
type Codec struct {
	bound int
}

// NewCodec returns a Codec using the package detection bound.
func NewCodec() *Codec {
	return &Codec{bound: DetectionBound}
}

// Encode renders the placeholder document for meta. The sentinel and the
// metadata island are emitted in the head, before any free-form content, so
// both always fall inside the detection bound.
func (c *Codec) Encode(meta Metadata) ([]byte, error) {
	if err := meta.Validate(); err != nil {
		return nil, fmt.Errorf("cannot encode invalid metadata: %w", err)
	}

	// Marshal escapes <, > and & inside strings, so the island can never
	// contain a premature closing tag.
	island, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	// The sentinel and the island come before any metadata-derived text so
	// detection never depends on field lengths.
	var buf bytes.Buffer
	buf.WriteString("<?xml version=\"1.0\" encoding=\"utf-8\"?>\n")
	buf.WriteString("<!DOCTYPE html>\n")
	buf.WriteString("<html xmlns=\"http://www.w3.org/1999/xhtml\">\n<head>\n")
	fmt.Fprintf(&buf, "<meta name=\"shelfmark\" content=\"%s\"/>\n", Sentinel)
	buf.WriteString(metadataOpen)
	buf.Write(island)
	buf.WriteString(metadataClose)
	buf.WriteString("\n")
	fmt.Fprintf(&buf, "<title>%s</title>\n", html.EscapeString(meta.Title))
	buf.WriteString("</head>\n<body>\n")
	fmt.Fprintf(&buf, "<h1>%s</h1>\n", html.EscapeString(meta.Title))
	fmt.Fprintf(&buf, "<p>by %s</p>\n", html.EscapeString(meta.Author))
	if meta.Series != nil {
		series := *meta.Series
		if meta.SeriesIndex != nil {
			series = fmt.Sprintf("%s #%s", series, *meta.SeriesIndex)
		}
		fmt.Fprintf(&buf, "<p>%s</p>\n", html.EscapeString(series))
	}
	buf.WriteString("<p>This book has not been downloaded yet. Open it to fetch the full content from your library.</p>\n")
	buf.WriteString("</body>\n</html>\n")

	if buf.Len() > c.bound {
		return nil, fmt.Errorf("encoded placeholder exceeds detection bound (%d > %d bytes)", buf.Len(), c.bound)
	}
	return buf.Bytes(), nil
}

// IsPlaceholder reports whether the file at path is a placeholder document.
// At most the detection bound is read, regardless of file size.
func (c *Codec) IsPlaceholder(path string) (bool, error) {
	prefix, err := c.readPrefix(path)
	if err != nil {
		return false, err
	}
	return c.IsPlaceholderBytes(prefix), nil
}

// IsPlaceholderBytes reports whether a bounded prefix contains the sentinel.
func (c *Codec) IsPlaceholderBytes(prefix []byte) bool {
	if len(prefix) > c.bound {
		prefix = prefix[:c.bound]
	}
	return bytes.Contains(prefix, []byte(Sentinel))
}

// Decode extracts the embedded metadata from a bounded document prefix.
// Returns ErrNotAPlaceholder when the prefix carries no metadata island.
func (c *Codec) Decode(prefix []byte) (Metadata, error) {
	if len(prefix) > c.bound {
		prefix = prefix[:c.bound]
	}
	start := bytes.Index(prefix, []byte(metadataOpen))
	if start < 0 {
		return Metadata{}, fmt.Errorf("no metadata island found: %w", mirror.ErrNotAPlaceholder)
	}
	start += len(metadataOpen)
	end := bytes.Index(prefix[start:], []byte(metadataClose))
	if end < 0 {
		return Metadata{}, fmt.Errorf("unterminated metadata island: %w", mirror.ErrNotAPlaceholder)
	}

	var meta Metadata
	raw := bytes.TrimSpace(prefix[start : start+end])
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata island: %w", err)
	}
	if err := meta.Validate(); err != nil {
		return Metadata{}, fmt.Errorf("invalid embedded metadata: %w", err)
	}
	return meta, nil
}

// DecodeFile reads a bounded prefix of the file at path and decodes it.
func (c *Codec) DecodeFile(path string) (Metadata, error) {
	prefix, err := c.readPrefix(path)
	if err != nil {
		return Metadata{}, err
	}
	return c.Decode(prefix)
}

// readPrefix returns up to the detection bound from the start of path.
func (c *Codec) readPrefix(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	prefix := make([]byte, c.bound)
	n, err := io.ReadFull(f, prefix)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return prefix[:n], nil
}
