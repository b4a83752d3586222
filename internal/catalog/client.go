package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// readerUserAgent matches what e-reader firmware sends; some OPDS servers
// gate content negotiation on it.
const readerUserAgent = "Mozilla/5.0 (Kobo) AppleWebkit/537.36 (KHTML, like Gecko)"

// Credentials holds HTTP Basic auth for the catalog server.
// Both fields empty means unauthenticated access.
type Credentials struct {
	Username string
	Password string
}

func (c Credentials) empty() bool {
	return c.Username == "" && c.Password == ""
}

// client is the shared HTTP base for the OPDS and Ephemera clients:
// rate-limited, retrying with exponential backoff on 429 and 5xx responses,
// honoring Retry-After when the server provides one.
type client struct {
	httpClient *http.Client
	userAgent  string
	creds      Credentials
	limiter    *rate.Limiter
	maxRetries int
}

func newClient(creds Credentials, rps int, maxRetries int) *client {
	if rps <= 0 {
		rps = 2
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		userAgent:  readerUserAgent,
		creds:      creds,
		limiter:    rate.NewLimiter(rate.Every(time.Second/time.Duration(rps)), 1),
		maxRetries: maxRetries,
	}
}

// do issues one request with auth and UA headers applied, retrying the whole
// request on transport errors, 429, and 5xx. The caller owns the response
// body of a successful attempt.
func (c *client) do(ctx context.Context, method, url string, body []byte, accept string) (*http.Response, error) {
	var lastErr error
	for i := 0; i <= c.maxRetries; i++ {
		if i > 0 {
			// Backoff: 1s, 2s, 4s...
			backoff := time.Duration(1<<uint(i-1)) * time.Second
			if ra := retryAfterHint(lastErr); ra > 0 {
				backoff = ra
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", c.userAgent)
		if accept != "" {
			req.Header.Set("Accept", accept)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if !c.creds.empty() {
			req.SetBasicAuth(c.creds.Username, c.creds.Password)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = &statusError{code: resp.StatusCode, retryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
			resp.Body.Close()
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			resp.Body.Close()
			return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		}

		return resp, nil
	}
	return nil, fmt.Errorf("after %d retries: %w", c.maxRetries, lastErr)
}

// getBytes fetches a URL and returns the full body.
func (c *client) getBytes(ctx context.Context, url, accept string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, url, nil, accept)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// getJSON fetches a URL and decodes the JSON body into target.
func (c *client) getJSON(ctx context.Context, url string, target interface{}) error {
	resp, err := c.do(ctx, http.MethodGet, url, nil, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}

// postJSON posts a JSON payload and decodes the JSON response into target.
// target may be nil when the response body is irrelevant.
func (c *client) postJSON(ctx context.Context, url string, payload, target interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, url, body, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if target == nil {
		_, err = io.Copy(io.Discard, resp.Body)
		return err
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

// download streams a URL's body into w and returns the byte count.
func (c *client) download(ctx context.Context, url string, w io.Writer) (int64, error) {
	resp, err := c.do(ctx, http.MethodGet, url, nil, "")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("failed to read download body: %w", err)
	}
	return n, nil
}

// statusError is a retryable HTTP status carrying the server's Retry-After.
type statusError struct {
	code       int
	retryAfter time.Duration
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.code)
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// retryAfterHint extracts a server-requested delay from the previous attempt.
func retryAfterHint(err error) time.Duration {
	if se, ok := err.(*statusError); ok {
		return se.retryAfter
	}
	return 0
}
