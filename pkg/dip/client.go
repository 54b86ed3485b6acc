// Package dip provides a client for the DIP API (Bundestag open data):
// cursor-paginated person listings with API-key auth and rate limiting.
package dip

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/openparl/evidence-cli/internal/resilience"
)

// DefaultBaseURL is the public DIP API endpoint.
const DefaultBaseURL = "https://search.dip.bundestag.de/api/v1"

const defaultPageLimit = 100

// Client defines the DIP operations the pipeline needs.
type Client interface {
	// PersonList fetches one page of persons, optionally filtered to
	// electoral periods. An empty cursor starts from the beginning; the
	// response cursor feeds the next call. DIP signals the last page by
	// echoing the cursor back unchanged.
	PersonList(ctx context.Context, wahlperiode []int, cursor string) (*PersonListResponse, error)
	// Person fetches one person by DIP ID.
	Person(ctx context.Context, id int64) (*Person, error)
}

// ID tolerates DIP's string-encoded numeric ids alongside plain numbers.
type ID int64

func (i *ID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return eris.Wrapf(err, "dip: invalid id %s", string(b))
	}
	*i = ID(n)
	return nil
}

// Int64 returns the id as a plain int64.
func (i ID) Int64() int64 { return int64(i) }

// Person is a DIP person document. Fraktion may arrive as a string or an
// array upstream; it is normalized to the first value.
type Person struct {
	ID           ID                `json:"id"`
	Vorname      string            `json:"vorname"`
	Nachname     string            `json:"nachname"`
	Namenszusatz string            `json:"namenszusatz"`
	Titel        string            `json:"titel"`
	Fraktion     fraktionValue     `json:"fraktion"`
	Wahlperiode  []int             `json:"wahlperiode"`
	PersonRoles  []json.RawMessage `json:"person_roles,omitempty"`
}

// fraktionValue tolerates both the scalar and the array encoding DIP uses.
type fraktionValue string

func (f *fraktionValue) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = fraktionValue(s)
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		if len(list) > 0 {
			*f = fraktionValue(list[0])
		}
		return nil
	}
	return eris.Errorf("dip: fraktion is neither string nor array: %s", string(b))
}

func (f fraktionValue) String() string { return string(f) }

// PersonListResponse is one page of the person listing.
type PersonListResponse struct {
	NumFound  int      `json:"numFound"`
	Cursor    string   `json:"cursor"`
	Documents []Person `json:"documents"`
	// Raw preserves the exact response bytes for caching and hashing.
	Raw []byte `json:"-"`
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

// WithRateLimit caps outgoing requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithPageLimit sets the page size for person listings.
func WithPageLimit(n int) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.pageLimit = n
		}
	}
}

// WithRetryConfig overrides the retry budget and backoff.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) { c.retry = cfg }
}

type httpClient struct {
	baseURL   string
	apiKey    string
	pageLimit int
	limiter   *rate.Limiter
	retry     resilience.RetryConfig
	http      *http.Client
}

// NewClient creates a DIP API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		baseURL:   DefaultBaseURL,
		apiKey:    apiKey,
		pageLimit: defaultPageLimit,
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

func (c *httpClient) PersonList(ctx context.Context, wahlperiode []int, cursor string) (*PersonListResponse, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(c.pageLimit))
	for _, wp := range wahlperiode {
		params.Add("f.wahlperiode", strconv.Itoa(wp))
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	body, err := c.get(ctx, "/person", params)
	if err != nil {
		return nil, err
	}

	var resp PersonListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrap(err, "dip: unmarshal person list")
	}
	resp.Raw = body
	return &resp, nil
}

func (c *httpClient) Person(ctx context.Context, id int64) (*Person, error) {
	body, err := c.get(ctx, fmt.Sprintf("/person/%d", id), url.Values{})
	if err != nil {
		return nil, err
	}

	var p Person
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, eris.Wrap(err, "dip: unmarshal person")
	}
	return &p, nil
}

// get performs one rate-limited GET against the API, retried through
// resilience.Do. 404 surfaces as NotFound and auth failures fail fast;
// 429 backs off as RateLimited, 5xx retries as Transient.
func (c *httpClient) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "dip: rate limit wait")
	}

	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	var body []byte
	err := resilience.Do(ctx, c.retry, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return eris.Wrap(err, "dip: create request")
		}
		if c.apiKey != "" {
			req.Header.Set("Authorization", "ApiKey "+c.apiKey)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return eris.Wrap(err, "dip: request failed")
		}
		b, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return resilience.NewTransient(eris.Wrap(readErr, "dip: read response body"), resp.StatusCode)
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return resilience.NewNotFound("dip resource", path)
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return eris.Errorf("dip: authentication failed (status %d)", resp.StatusCode)
		case resp.StatusCode == http.StatusTooManyRequests:
			return &resilience.RateLimitedError{Err: eris.Errorf("dip: status 429: %s", string(b))}
		case resp.StatusCode >= 500:
			return resilience.NewTransient(eris.Errorf("dip: status %d: %s", resp.StatusCode, string(b)), resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return eris.Errorf("dip: unexpected status %d: %s", resp.StatusCode, string(b))
		}

		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}
