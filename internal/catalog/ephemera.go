package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// EphemeraResult is one search hit from an ephemera download service.
type EphemeraResult struct {
	MD5    string `json:"md5"`
	Title  string `json:"title"`
	Author string `json:"author"`
	Format string `json:"format"`
	Size   string `json:"size"`
}

// QueueItem is one entry in the service's download queue.
type QueueItem struct {
	MD5    string `json:"md5"`
	Title  string `json:"title"`
	Status string `json:"status"`
}

// EphemeraClient talks to an ephemera download service. The service
// searches shadow-library mirrors and fetches books into a local queue.
type EphemeraClient struct {
	*client
	baseURL string
}

// NewEphemeraClient creates a client for the service at baseURL.
func NewEphemeraClient(baseURL string, rps, maxRetries int) *EphemeraClient {
	return &EphemeraClient{
		client:  newClient(Credentials{}, rps, maxRetries),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Search queries the service for query and returns EPUB results only.
// The service answers either a bare JSON array or an object with a
// "results" key; both shapes are accepted.
func (c *EphemeraClient) Search(ctx context.Context, query string) ([]EphemeraResult, error) {
	u := c.baseURL + "/api/search?q=" + url.QueryEscape(query)
	body, err := c.getBytes(ctx, u, "application/json")
	if err != nil {
		return nil, fmt.Errorf("failed to search for %q: %w", query, err)
	}

	var results []EphemeraResult
	if err := json.Unmarshal(body, &results); err != nil {
		var wrapped struct {
			Results []EphemeraResult `json:"results"`
		}
		if err2 := json.Unmarshal(body, &wrapped); err2 != nil {
			return nil, fmt.Errorf("failed to decode search response: %w", err)
		}
		results = wrapped.Results
	}

	epubs := make([]EphemeraResult, 0, len(results))
	for _, r := range results {
		if strings.ToUpper(r.Format) == "EPUB" {
			epubs = append(epubs, r)
		}
	}
	return epubs, nil
}

// BestMatch searches for the given title and returns the result whose title
// scores highest against it, or false when nothing matches well enough.
func (c *EphemeraClient) BestMatch(ctx context.Context, title string) (EphemeraResult, bool, error) {
	results, err := c.Search(ctx, title)
	if err != nil {
		return EphemeraResult{}, false, err
	}

	var best EphemeraResult
	bestScore := 0
	for _, r := range results {
		if score := MatchScore(title, r.Title); score > bestScore {
			best = r
			bestScore = score
		}
	}
	if bestScore < matchThreshold {
		return EphemeraResult{}, false, nil
	}
	return best, true, nil
}

// RequestDownload asks the service to fetch the book identified by md5.
// The title rides along so the queue shows something readable.
func (c *EphemeraClient) RequestDownload(ctx context.Context, md5, title string) error {
	u := c.baseURL + "/api/download/" + url.PathEscape(md5)
	payload := map[string]string{"title": title}
	if err := c.postJSON(ctx, u, payload, nil); err != nil {
		return fmt.Errorf("failed to request download of %s: %w", md5, err)
	}
	return nil
}

// Queue returns the service's current download queue.
func (c *EphemeraClient) Queue(ctx context.Context) ([]QueueItem, error) {
	var items []QueueItem
	if err := c.getJSON(ctx, c.baseURL+"/api/queue", &items); err != nil {
		return nil, fmt.Errorf("failed to fetch download queue: %w", err)
	}
	return items, nil
}
