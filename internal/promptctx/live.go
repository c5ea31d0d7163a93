package promptctx

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/magi-sh/magi/internal/core"
)

const (
	liveFetchTimeout  = 8 * time.Second
	liveFetchMaxBytes = 512 * 1024
)

var (
	scriptPattern = regexp.MustCompile(`(?is)<(script|style|noscript)\b[^>]*>.*?</(script|style|noscript)>`)
	tagPattern    = regexp.MustCompile(`(?s)<[^>]*>`)
	blankPattern  = regexp.MustCompile(`\n{3,}`)
	spacePattern  = regexp.MustCompile(`[ \t]{2,}`)
)

// LiveSiteFetcher fetches a live page and reduces it to readable text for
// prompt injection. It satisfies core.LiveContextFunc via Fetch.
type LiveSiteFetcher struct {
	httpClient *http.Client
	timeout    time.Duration
	maxBytes   int64
}

// FetcherOption configures the fetcher.
type FetcherOption func(*LiveSiteFetcher)

// WithFetchHTTPClient overrides the HTTP client.
func WithFetchHTTPClient(hc *http.Client) FetcherOption {
	return func(f *LiveSiteFetcher) { f.httpClient = hc }
}

// WithFetchTimeout overrides the per-fetch timeout.
func WithFetchTimeout(d time.Duration) FetcherOption {
	return func(f *LiveSiteFetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// NewLiveSiteFetcher creates a fetcher with default limits.
func NewLiveSiteFetcher(opts ...FetcherOption) *LiveSiteFetcher {
	f := &LiveSiteFetcher{
		httpClient: &http.Client{},
		timeout:    liveFetchTimeout,
		maxBytes:   liveFetchMaxBytes,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch retrieves the page and returns a labeled text snapshot. HTML
// responses have markup stripped; other content types pass through as-is.
func (f *LiveSiteFetcher) Fetch(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", core.ErrValidation("INVALID_LIVE_URL", fmt.Sprintf("live url: %v", err))
	}
	req.Header.Set("Accept", "text/html, text/plain, application/json;q=0.9, */*;q=0.8")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetching %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", url, err)
	}

	text := string(body)
	if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		text = stripHTML(text)
	}

	return fmt.Sprintf("Live site snapshot (%s):\n%s", url, strings.TrimSpace(text)), nil
}

// stripHTML reduces an HTML document to its visible text. This is a
// heuristic reduction, not a parser; good enough for prompt context.
func stripHTML(html string) string {
	text := scriptPattern.ReplaceAllString(html, " ")
	text = tagPattern.ReplaceAllString(text, " ")
	text = strings.NewReplacer(
		"&nbsp;", " ",
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
	).Replace(text)
	text = spacePattern.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = strings.Join(lines, "\n")
	return blankPattern.ReplaceAllString(text, "\n\n")
}
