// Package mediawiki provides a client for the MediaWiki Action API
// (parse and query endpoints) with rate limiting and bounded retries.
package mediawiki

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/openparl/evidence-cli/internal/resilience"
)

// DefaultBaseURL is the German-language Wikipedia API endpoint.
const DefaultBaseURL = "https://de.wikipedia.org/w/api.php"

const defaultUserAgent = "evidence-cli/1.0 (parliamentary provenance pipeline)"

// Client defines the MediaWiki operations the pipeline needs.
type Client interface {
	// Parse renders the current revision of a page to HTML.
	Parse(ctx context.Context, title string) (*ParseResponse, error)
	// ParseRevision renders an exact revision to HTML.
	ParseRevision(ctx context.Context, revisionID int64) (*ParseResponse, error)
	// PageInfo reports the live identity of a page: page id and last revision.
	PageInfo(ctx context.Context, title string) (*PageInfo, error)
	// Search runs a full-text search and returns ranked hits.
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
}

// ParseResponse is a rendered page revision. Raw preserves the exact API
// response bytes for caching and hashing.
type ParseResponse struct {
	Title      string
	PageID     int64
	RevisionID int64
	HTML       string
	Raw        []byte
}

// PageInfo is the live identity of a page.
type PageInfo struct {
	Title      string
	PageID     int64
	RevisionID int64
	Missing    bool
}

// SearchResult is one full-text search hit.
type SearchResult struct {
	Title   string `json:"title"`
	PageID  int64  `json:"pageid"`
	Snippet string `json:"snippet"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets a custom API endpoint (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = u }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithUserAgent sets the User-Agent header. Wikimedia asks API consumers to
// identify themselves.
func WithUserAgent(ua string) Option {
	return func(c *httpClient) { c.userAgent = ua }
}

// WithRateLimit caps outgoing requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithRetryConfig overrides the retry budget and backoff.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) { c.retry = cfg }
}

type httpClient struct {
	baseURL   string
	userAgent string
	limiter   *rate.Limiter
	retry     resilience.RetryConfig
	http      *http.Client
}

// NewClient creates a MediaWiki API client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL:   DefaultBaseURL,
		userAgent: defaultUserAgent,
		limiter:   rate.NewLimiter(rate.Limit(2.0), 1),
		retry:     resilience.DefaultRetryConfig(),
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// apiError is the MediaWiki error envelope.
type apiError struct {
	Error *struct {
		Code string `json:"code"`
		Info string `json:"info"`
	} `json:"error"`
}

func notFoundCode(code string) bool {
	switch code {
	case "missingtitle", "nosuchrevid", "nosuchpageid", "pagecannotexist", "invalidtitle":
		return true
	default:
		return false
	}
}

// get performs one rate-limited GET against the API, retried through
// resilience.Do, and decodes the MediaWiki error envelope. Missing pages and
// revisions surface as NotFound (never retried), 429 as RateLimited, 5xx as
// Transient.
func (c *httpClient) get(ctx context.Context, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "mediawiki: rate limit wait")
	}

	params.Set("format", "json")
	params.Set("formatversion", "2")
	reqURL := c.baseURL + "?" + params.Encode()

	var body []byte
	err := resilience.Do(ctx, c.retry, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return eris.Wrap(err, "mediawiki: create request")
		}
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return eris.Wrap(err, "mediawiki: request failed")
		}
		b, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return resilience.NewTransient(eris.Wrap(readErr, "mediawiki: read response body"), resp.StatusCode)
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return resilience.NewNotFound("page", params.Get("page")+params.Get("titles"))
		case resp.StatusCode == http.StatusTooManyRequests:
			return &resilience.RateLimitedError{Err: eris.Errorf("mediawiki: status 429: %s", string(b))}
		case resp.StatusCode >= 500:
			return resilience.NewTransient(eris.Errorf("mediawiki: status %d: %s", resp.StatusCode, string(b)), resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return eris.Errorf("mediawiki: unexpected status %d: %s", resp.StatusCode, string(b))
		}

		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	var envelope apiError
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, eris.Wrap(err, "mediawiki: unmarshal response")
	}
	if envelope.Error != nil {
		if notFoundCode(envelope.Error.Code) {
			return nil, resilience.NewNotFound("page", envelope.Error.Info)
		}
		return nil, eris.Errorf("mediawiki: api error %s: %s", envelope.Error.Code, envelope.Error.Info)
	}

	return body, nil
}

type parseEnvelope struct {
	Parse *struct {
		Title  string `json:"title"`
		PageID int64  `json:"pageid"`
		RevID  int64  `json:"revid"`
		Text   string `json:"text"`
	} `json:"parse"`
}

func (c *httpClient) Parse(ctx context.Context, title string) (*ParseResponse, error) {
	params := url.Values{}
	params.Set("action", "parse")
	params.Set("page", title)
	params.Set("prop", "text|revid|displaytitle")
	params.Set("redirects", "1")
	return c.parse(ctx, params)
}

func (c *httpClient) ParseRevision(ctx context.Context, revisionID int64) (*ParseResponse, error) {
	params := url.Values{}
	params.Set("action", "parse")
	params.Set("oldid", strconv.FormatInt(revisionID, 10))
	params.Set("prop", "text|revid|displaytitle")
	return c.parse(ctx, params)
}

func (c *httpClient) parse(ctx context.Context, params url.Values) (*ParseResponse, error) {
	body, err := c.get(ctx, params)
	if err != nil {
		return nil, err
	}

	var envelope parseEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, eris.Wrap(err, "mediawiki: unmarshal parse response")
	}
	if envelope.Parse == nil {
		return nil, eris.New("mediawiki: parse response missing parse object")
	}

	return &ParseResponse{
		Title:      envelope.Parse.Title,
		PageID:     envelope.Parse.PageID,
		RevisionID: envelope.Parse.RevID,
		HTML:       envelope.Parse.Text,
		Raw:        body,
	}, nil
}

func (c *httpClient) PageInfo(ctx context.Context, title string) (*PageInfo, error) {
	params := url.Values{}
	params.Set("action", "query")
	params.Set("titles", title)
	params.Set("prop", "info")
	params.Set("redirects", "1")

	body, err := c.get(ctx, params)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Query struct {
			Pages []struct {
				Title     string `json:"title"`
				PageID    int64  `json:"pageid"`
				LastRevID int64  `json:"lastrevid"`
				Missing   bool   `json:"missing"`
			} `json:"pages"`
		} `json:"query"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, eris.Wrap(err, "mediawiki: unmarshal query response")
	}
	if len(envelope.Query.Pages) == 0 {
		return nil, resilience.NewNotFound("page", title)
	}

	page := envelope.Query.Pages[0]
	if page.Missing {
		return nil, resilience.NewNotFound("page", title)
	}
	return &PageInfo{
		Title:      page.Title,
		PageID:     page.PageID,
		RevisionID: page.LastRevID,
	}, nil
}

func (c *httpClient) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	params := url.Values{}
	params.Set("action", "query")
	params.Set("list", "search")
	params.Set("srsearch", query)
	params.Set("srlimit", strconv.Itoa(limit))

	body, err := c.get(ctx, params)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Query struct {
			Search []SearchResult `json:"search"`
		} `json:"query"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, eris.Wrap(err, "mediawiki: unmarshal search response")
	}
	return envelope.Query.Search, nil
}

// RevisionURL returns the canonical revision-pinned page URL.
func RevisionURL(revisionID int64) string {
	return fmt.Sprintf("https://de.wikipedia.org/w/index.php?oldid=%d", revisionID)
}
