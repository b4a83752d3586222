// Package codec defines the placeholder document format and the library
// directory layout.
//
// # Overview
//
// A placeholder is a small self-contained XHTML document written where a
// real book will eventually live. It opens cleanly in a reader and tells
// the user how to fetch the full content, while carrying enough embedded
// metadata for the mirror to recognize and rebuild it without any external
// lookup.
//
// # Document Format
//
// The document head carries two machine-readable blocks, both guaranteed to
// appear within the first DetectionBound bytes of the file:
//
//   - a sentinel meta tag whose content is the Sentinel constant
//   - a JSON metadata island in a script tag with id "shelfmark-metadata"
//
// Example metadata island:
//
//	{
//	  "book_id": "urn:book:1",
//	  "title": "Dune",
//	  "author": "Frank Herbert",
//	  "series": "Dune Chronicles",
//	  "series_index": "1",
//	  "download_url": "http://library/download/1.epub"
//	}
//
// Detection reads at most DetectionBound bytes and looks for the sentinel,
// so probing a multi-megabyte real book costs one bounded read. The
// sentinel string cannot occur in real book payloads, which keeps
// false positives at zero.
//
// # Directory Layout
//
// PathFor derives the on-disk location for a book deterministically:
//
//	<base>/<author>/<series or "standalones">/<NNN_><author>_-_<title>.<ext>
//
// Components are sanitized for the filesystem and length-capped. The same
// Book always derives the same path, which is what makes reconciliation
// idempotent.
//
// # Usage Examples
//
// Writing a placeholder:
//
//	c := codec.NewCodec()
//	meta := codec.MetadataFromBook(book)
//	data, err := c.Encode(meta)
//	err = os.WriteFile(path, data, 0644)
//
// Probing a file:
//
//	ok, err := c.IsPlaceholder(path)
//
// Recovering metadata from an adopted file:
//
//	meta, err := c.DecodeFile(path)
//
// # See Also
//
//   - internal/mirror/store - the path-to-metadata database
//   - internal/mirror/reconcile - drives placeholder creation and repair
package codec
