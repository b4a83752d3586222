package catalog

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"

	"github.com/beevik/etree"
)

// FeedType classifies an OPDS feed as navigation (links to more feeds) or
// acquisition (entries are downloadable books).
type FeedType string

const (
	FeedNavigation  FeedType = "navigation"
	FeedAcquisition FeedType = "acquisition"
)

// Feed is one parsed OPDS page.
type Feed struct {
	Type    FeedType
	Entries []Entry
}

// Entry is one atom:entry from an OPDS feed. Navigation entries carry a
// navigation link; acquisition entries convert to Book via AsBook.
type Entry struct {
	ID          string
	Title       string
	Author      string
	Series      *string
	SeriesIndex *string
	Updated     string
	Description string
	Links       []Link
}

// Link is one atom:link with its href resolved to an absolute URL.
type Link struct {
	Href string
	Rel  string
	Type string
}

// Navigation pseudo-entries that catalog servers interleave with books.
var skipTitles = map[string]bool{
	"Libraries":     true,
	"Shelves":       true,
	"Magic Shelves": true,
}

// OPDSClient browses and searches an OPDS catalog server.
type OPDSClient struct {
	*client
	baseURL string
}

// NewOPDSClient creates a client for the catalog at baseURL.
// rps bounds request rate; maxRetries bounds per-request retry attempts.
func NewOPDSClient(baseURL string, creds Credentials, rps, maxRetries int) *OPDSClient {
	return &OPDSClient{
		client:  newClient(creds, rps, maxRetries),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Fetch retrieves and parses the feed at target. A relative target is
// resolved against the catalog base URL; an empty target fetches the root.
func (c *OPDSClient) Fetch(ctx context.Context, target string) (*Feed, error) {
	u := c.resolve(target)
	body, err := c.getBytes(ctx, u, "application/atom+xml,application/xml,text/xml")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed %s: %w", u, err)
	}
	feed, err := ParseFeed(body, u)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed %s: %w", u, err)
	}
	return feed, nil
}

// Search queries the server's search endpoint.
func (c *OPDSClient) Search(ctx context.Context, query string) (*Feed, error) {
	return c.Fetch(ctx, "/search?q="+url.QueryEscape(query))
}

// Crawl walks the catalog breadth-first from the root feed, following
// navigation links, and returns every acquisition entry as a Book. Entries
// are deduplicated by catalog ID; maxDepth bounds how far navigation is
// followed (0 means the root feed only).
func (c *OPDSClient) Crawl(ctx context.Context, maxDepth int) ([]Book, error) {
	type queued struct {
		target string
		depth  int
	}

	var books []Book
	seenBooks := make(map[string]bool)
	seenFeeds := make(map[string]bool)
	queue := []queued{{target: "", depth: 0}}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return books, err
		}
		next := queue[0]
		queue = queue[1:]

		u := c.resolve(next.target)
		if seenFeeds[u] {
			continue
		}
		seenFeeds[u] = true

		feed, err := c.Fetch(ctx, next.target)
		if err != nil {
			return books, err
		}

		for _, entry := range feed.Entries {
			if book, ok := entry.AsBook(); ok {
				if !seenBooks[book.ID] {
					seenBooks[book.ID] = true
					books = append(books, book)
				}
				continue
			}
			if next.depth >= maxDepth {
				continue
			}
			if nav := entry.NavigationLink(); nav != "" {
				queue = append(queue, queued{target: nav, depth: next.depth + 1})
			}
		}
	}

	return books, nil
}

// Download streams a book's content into w and returns the byte count.
// url may be relative to the catalog base.
func (c *OPDSClient) Download(ctx context.Context, url string, w io.Writer) (int64, error) {
	return c.download(ctx, c.resolve(url), w)
}

func (c *OPDSClient) resolve(target string) string {
	switch {
	case target == "":
		return c.baseURL
	case strings.HasPrefix(target, "http://"), strings.HasPrefix(target, "https://"):
		return target
	default:
		return c.baseURL + "/" + strings.TrimLeft(target, "/")
	}
}

var tagRe = regexp.MustCompile(`<[^>]+>`)

// stripHTML reduces an HTML-ish summary to plain text with collapsed
// whitespace.
func stripHTML(s string) string {
	s = tagRe.ReplaceAllString(s, " ")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// ParseFeed parses one Atom/OPDS document. Link hrefs are resolved against
// feedURL. Element matching is by local name so feeds are handled the same
// regardless of which namespace prefixes the server chose.
func ParseFeed(data []byte, feedURL string) (*Feed, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("failed to parse atom document: %w", err)
	}
	root := doc.Root()
	if root == nil || root.Tag != "feed" {
		return nil, fmt.Errorf("not an atom feed")
	}

	base, _ := url.Parse(feedURL)

	feed := &Feed{Type: FeedNavigation}
	for _, el := range root.ChildElements() {
		if el.Tag != "entry" {
			continue
		}
		entry := parseEntry(el, base)
		if skipTitles[entry.Title] {
			continue
		}
		feed.Entries = append(feed.Entries, entry)
		if entry.AcquisitionLink() != "" {
			feed.Type = FeedAcquisition
		}
	}
	return feed, nil
}

func parseEntry(el *etree.Element, base *url.URL) Entry {
	entry := Entry{Title: "Unknown Title"}

	var seriesID string
	for _, child := range el.ChildElements() {
		switch child.Tag {
		case "title":
			if t := strings.TrimSpace(child.Text()); t != "" {
				entry.Title = t
			}
		case "id":
			entry.ID = strings.TrimSpace(child.Text())
		case "updated":
			entry.Updated = strings.TrimSpace(child.Text())
		case "author":
			for _, sub := range child.ChildElements() {
				if sub.Tag == "name" {
					entry.Author = strings.TrimSpace(sub.Text())
				}
			}
		case "summary", "content":
			if entry.Description == "" {
				entry.Description = stripHTML(child.Text())
			}
		case "meta":
			// EPUB-style series metadata: belongs-to-collection names the
			// series, group-position refines it with the index.
			switch child.SelectAttrValue("property", "") {
			case "belongs-to-collection":
				name := strings.TrimSpace(child.Text())
				if name != "" {
					entry.Series = &name
					seriesID = child.SelectAttrValue("id", "")
				}
			case "group-position":
				refines := child.SelectAttrValue("refines", "")
				if seriesID != "" && refines == "#"+seriesID {
					pos := strings.TrimSpace(child.Text())
					if pos != "" {
						entry.SeriesIndex = &pos
					}
				}
			}
		case "Series":
			// schema.org fallback used by some servers.
			if entry.Series == nil {
				if name := child.SelectAttrValue("name", ""); name != "" {
					entry.Series = &name
					if pos := child.SelectAttrValue("position", ""); pos != "" {
						entry.SeriesIndex = &pos
					}
				}
			}
		case "link":
			link := Link{
				Href: resolveHref(base, child.SelectAttrValue("href", "")),
				Rel:  child.SelectAttrValue("rel", ""),
				Type: child.SelectAttrValue("type", ""),
			}
			if link.Href != "" {
				entry.Links = append(entry.Links, link)
			}
		}
	}
	return entry
}

func resolveHref(base *url.URL, href string) string {
	if href == "" {
		return ""
	}
	if base == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// AcquisitionLink returns the entry's download URL, or "".
func (e Entry) AcquisitionLink() string {
	for _, l := range e.Links {
		if strings.Contains(l.Rel, "acquisition") {
			return l.Href
		}
	}
	return ""
}

// CoverLink returns the entry's cover image URL, or "".
func (e Entry) CoverLink() string {
	for _, l := range e.Links {
		if strings.Contains(l.Rel, "image") || strings.Contains(l.Rel, "thumbnail") {
			return l.Href
		}
	}
	return ""
}

// NavigationLink returns the href to follow for a navigation entry, or "".
func (e Entry) NavigationLink() string {
	for _, l := range e.Links {
		if strings.Contains(l.Rel, "acquisition") {
			continue
		}
		if strings.Contains(l.Type, "atom+xml") || strings.Contains(l.Rel, "subsection") {
			return l.Href
		}
	}
	return ""
}

// AsBook converts an acquisition entry to a Book. Returns false for
// navigation entries (no acquisition link) and entries with no usable ID.
func (e Entry) AsBook() (Book, bool) {
	dl := e.AcquisitionLink()
	if dl == "" || e.ID == "" {
		return Book{}, false
	}
	author := e.Author
	if author == "" {
		author = "Unknown Author"
	}
	return Book{
		ID:          e.ID,
		Title:       e.Title,
		Author:      author,
		Series:      e.Series,
		SeriesIndex: e.SeriesIndex,
		DownloadURL: dl,
		CoverURL:    e.CoverLink(),
		Updated:     e.Updated,
		Description: e.Description,
		Format:      formatFromLinks(e.Links),
	}, true
}

func formatFromLinks(links []Link) string {
	for _, l := range links {
		if !strings.Contains(l.Rel, "acquisition") {
			continue
		}
		switch {
		case strings.Contains(l.Type, "epub"):
			return "EPUB"
		case strings.Contains(l.Type, "pdf"):
			return "PDF"
		}
	}
	return ""
}
