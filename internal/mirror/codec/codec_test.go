package codec

import (
	"bytes"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shelfmark/shelfmark/internal/catalog"
	"github.com/shelfmark/shelfmark/internal/mirror"
)

func strPtr(s string) *string { return &s }

func validMetadata() Metadata {
	return Metadata{
		BookID:      "urn:book:1",
		Title:       "Dune",
		Author:      "Frank Herbert",
		Series:      strPtr("Dune Chronicles"),
		SeriesIndex: strPtr("1"),
		DownloadURL: "http://library.local/download/1.epub",
		CoverURL:    "http://library.local/covers/1.jpg",
	}
}

func TestMetadata_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Metadata)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid metadata",
			mutate:  func(m *Metadata) {},
			wantErr: false,
		},
		{
			name: "valid without series",
			mutate: func(m *Metadata) {
				m.Series = nil
				m.SeriesIndex = nil
			},
			wantErr: false,
		},
		{
			name:    "missing book_id",
			mutate:  func(m *Metadata) { m.BookID = "" },
			wantErr: true,
			errMsg:  "book_id is required",
		},
		{
			name:    "missing title",
			mutate:  func(m *Metadata) { m.Title = "" },
			wantErr: true,
			errMsg:  "title is required",
		},
		{
			name:    "title too long",
			mutate:  func(m *Metadata) { m.Title = strings.Repeat("x", 501) },
			wantErr: true,
			errMsg:  "title must be 500 characters or less",
		},
		{
			name:    "missing author",
			mutate:  func(m *Metadata) { m.Author = "" },
			wantErr: true,
			errMsg:  "author is required",
		},
		{
			name:    "missing download_url",
			mutate:  func(m *Metadata) { m.DownloadURL = "" },
			wantErr: true,
			errMsg:  "download_url is required",
		},
		{
			name: "index without series",
			mutate: func(m *Metadata) {
				m.Series = nil
			},
			wantErr: true,
			errMsg:  "series_index requires a series",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta := validMetadata()
			tt.mutate(&meta)
			err := meta.Validate()
			if tt.wantErr {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.errMsg)
					return
				}
				if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("Validate() error = %v, want error containing %v", err, tt.errMsg)
				}
			} else {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			}
		})
	}
}

func TestMetadata_Matches(t *testing.T) {
	book := catalog.Book{
		ID:          "urn:book:1",
		Title:       "Dune",
		Author:      "Frank Herbert",
		Series:      strPtr("Dune Chronicles"),
		SeriesIndex: strPtr("1"),
	}

	tests := []struct {
		name   string
		mutate func(*catalog.Book)
		want   bool
	}{
		{"identical", func(b *catalog.Book) {}, true},
		{"title changed", func(b *catalog.Book) { b.Title = "Dune Messiah" }, false},
		{"author changed", func(b *catalog.Book) { b.Author = "F. Herbert" }, false},
		{"series changed", func(b *catalog.Book) { b.Series = strPtr("Other") }, false},
		{"series dropped", func(b *catalog.Book) { b.Series = nil; b.SeriesIndex = nil }, false},
		{"index changed", func(b *catalog.Book) { b.SeriesIndex = strPtr("2") }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta := MetadataFromBook(book)
			b := book
			tt.mutate(&b)
			if got := meta.Matches(b); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCodec_EncodeDecode(t *testing.T) {
	c := NewCodec()
	meta := validMetadata()

	data, err := c.Encode(meta)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	if !bytes.Contains(data, []byte(Sentinel)) {
		t.Errorf("Encode() output missing sentinel")
	}
	if idx := bytes.Index(data, []byte(Sentinel)); idx >= DetectionBound {
		t.Errorf("Encode() sentinel at offset %d, want within first %d bytes", idx, DetectionBound)
	}
	if !c.IsPlaceholderBytes(data) {
		t.Errorf("IsPlaceholderBytes() = false for encoded placeholder")
	}

	decoded, err := c.Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if decoded.BookID != meta.BookID {
		t.Errorf("Decode() BookID = %v, want %v", decoded.BookID, meta.BookID)
	}
	if decoded.Title != meta.Title {
		t.Errorf("Decode() Title = %v, want %v", decoded.Title, meta.Title)
	}
	if decoded.Author != meta.Author {
		t.Errorf("Decode() Author = %v, want %v", decoded.Author, meta.Author)
	}
	if decoded.Series == nil || *decoded.Series != *meta.Series {
		t.Errorf("Decode() Series = %v, want %v", decoded.Series, meta.Series)
	}
	if decoded.SeriesIndex == nil || *decoded.SeriesIndex != *meta.SeriesIndex {
		t.Errorf("Decode() SeriesIndex = %v, want %v", decoded.SeriesIndex, meta.SeriesIndex)
	}
	if decoded.DownloadURL != meta.DownloadURL {
		t.Errorf("Decode() DownloadURL = %v, want %v", decoded.DownloadURL, meta.DownloadURL)
	}
}

func TestCodec_EncodeEscapesMarkup(t *testing.T) {
	c := NewCodec()
	meta := validMetadata()
	meta.Title = `Dangerous <script>"Title" & Co.</script>`

	data, err := c.Encode(meta)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	// The raw title must not survive unescaped anywhere in the document.
	if bytes.Contains(data, []byte(`<script>"Title"`)) {
		t.Errorf("Encode() leaked unescaped markup from the title")
	}

	decoded, err := c.Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if decoded.Title != meta.Title {
		t.Errorf("Decode() Title = %q, want %q", decoded.Title, meta.Title)
	}
}

func TestCodec_EncodeInvalid(t *testing.T) {
	c := NewCodec()
	meta := validMetadata()
	meta.BookID = ""

	if _, err := c.Encode(meta); err == nil {
		t.Errorf("Encode() expected error for invalid metadata, got nil")
	}
}

func TestCodec_IsPlaceholder(t *testing.T) {
	c := NewCodec()
	tmpDir := t.TempDir()

	placeholder, err := c.Encode(validMetadata())
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	// Deterministic binary junk, larger than the detection bound.
	rng := rand.New(rand.NewSource(42))
	junk := make([]byte, 64*1024)
	rng.Read(junk)

	// A real EPUB is a zip archive; the first bytes are the zip magic.
	epub := append([]byte("PK\x03\x04"), junk[:16*1024]...)

	// Sentinel text hidden past the detection bound must not count.
	beyond := append(bytes.Repeat([]byte("x"), DetectionBound), []byte(Sentinel)...)

	tests := []struct {
		name    string
		content []byte
		want    bool
	}{
		{"placeholder document", placeholder, true},
		{"zip-magic epub", epub, false},
		{"plain text", []byte("Call me Ishmael. Some years ago..."), false},
		{"binary junk", junk, false},
		{"empty file", []byte{}, false},
		{"sentinel beyond bound", beyond, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(tmpDir, strings.ReplaceAll(tt.name, " ", "_"))
			if err := os.WriteFile(path, tt.content, 0644); err != nil {
				t.Fatalf("Setup failed: %v", err)
			}

			got, err := c.IsPlaceholder(path)
			if err != nil {
				t.Fatalf("IsPlaceholder() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("IsPlaceholder() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCodec_IsPlaceholderMissingFile(t *testing.T) {
	c := NewCodec()
	_, err := c.IsPlaceholder(filepath.Join(t.TempDir(), "nope.epub"))
	if err == nil {
		t.Errorf("IsPlaceholder() expected error for missing file, got nil")
	}
}

func TestCodec_DecodeErrors(t *testing.T) {
	c := NewCodec()

	t.Run("no metadata island", func(t *testing.T) {
		_, err := c.Decode([]byte("<html><head></head><body>hi</body></html>"))
		if !errors.Is(err, mirror.ErrNotAPlaceholder) {
			t.Errorf("Decode() error = %v, want ErrNotAPlaceholder", err)
		}
	})

	t.Run("unterminated island", func(t *testing.T) {
		_, err := c.Decode([]byte(metadataOpen + `{"book_id":"x"`))
		if !errors.Is(err, mirror.ErrNotAPlaceholder) {
			t.Errorf("Decode() error = %v, want ErrNotAPlaceholder", err)
		}
	})

	t.Run("corrupt island json", func(t *testing.T) {
		_, err := c.Decode([]byte(metadataOpen + `{not json}` + metadataClose))
		if err == nil {
			t.Errorf("Decode() expected error for corrupt island, got nil")
		}
	})

	t.Run("island fails validation", func(t *testing.T) {
		_, err := c.Decode([]byte(metadataOpen + `{"book_id":"x"}` + metadataClose))
		if err == nil {
			t.Errorf("Decode() expected error for incomplete metadata, got nil")
		}
	})
}

func TestCodec_DecodeFile(t *testing.T) {
	c := NewCodec()
	tmpDir := t.TempDir()
	meta := validMetadata()

	data, err := c.Encode(meta)
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	path := filepath.Join(tmpDir, "placeholder.epub")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	decoded, err := c.DecodeFile(path)
	if err != nil {
		t.Fatalf("DecodeFile() error = %v", err)
	}
	if decoded.BookID != meta.BookID {
		t.Errorf("DecodeFile() BookID = %v, want %v", decoded.BookID, meta.BookID)
	}
}
