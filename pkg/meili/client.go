// Package meili provides a minimal Meilisearch HTTP client: index setup,
// document upserts keyed by primary key, and text search.
package meili

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/openparl/evidence-cli/internal/resilience"
)

// Client defines the Meilisearch operations the sinks and resolver need.
type Client interface {
	// EnsureIndex creates the index if it does not exist and applies
	// settings. Idempotent.
	EnsureIndex(ctx context.Context, uid, primaryKey string, settings *IndexSettings) error
	// AddDocuments upserts documents by the index's primary key.
	AddDocuments(ctx context.Context, uid string, docs any) error
	// Search runs a text query and returns the raw hits.
	Search(ctx context.Context, uid, query string, limit int) ([]json.RawMessage, error)
	// Health reports whether the instance answers.
	Health(ctx context.Context) error
}

// IndexSettings is the subset of Meilisearch settings the pipeline manages.
type IndexSettings struct {
	SearchableAttributes []string `json:"searchableAttributes,omitempty"`
	FilterableAttributes []string `json:"filterableAttributes,omitempty"`
	DisplayedAttributes  []string `json:"displayedAttributes,omitempty"`
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

type httpClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a Meilisearch client for the given instance URL.
func NewClient(baseURL, apiKey string, opts ...Option) Client {
	c := &httpClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) EnsureIndex(ctx context.Context, uid, primaryKey string, settings *IndexSettings) error {
	body, status, err := c.do(ctx, http.MethodPost, "/indexes", map[string]string{
		"uid":        uid,
		"primaryKey": primaryKey,
	})
	if err != nil {
		return err
	}
	// 202 on create; index_already_exists arrives as a 202 task too, so a
	// conflict only surfaces on older versions.
	if status != http.StatusAccepted && status != http.StatusConflict {
		return eris.Errorf("meili: create index %s: status %d: %s", uid, status, string(body))
	}

	if settings != nil {
		body, status, err = c.do(ctx, http.MethodPatch,
			fmt.Sprintf("/indexes/%s/settings", url.PathEscape(uid)), settings)
		if err != nil {
			return err
		}
		if status != http.StatusAccepted {
			return eris.Errorf("meili: update settings for %s: status %d: %s", uid, status, string(body))
		}
	}
	return nil
}

func (c *httpClient) AddDocuments(ctx context.Context, uid string, docs any) error {
	body, status, err := c.do(ctx, http.MethodPut,
		fmt.Sprintf("/indexes/%s/documents", url.PathEscape(uid)), docs)
	if err != nil {
		return err
	}
	if status != http.StatusAccepted {
		return eris.Errorf("meili: add documents to %s: status %d: %s", uid, status, string(body))
	}
	return nil
}

func (c *httpClient) Search(ctx context.Context, uid, query string, limit int) ([]json.RawMessage, error) {
	if limit <= 0 {
		limit = 20
	}
	body, status, err := c.do(ctx, http.MethodPost,
		fmt.Sprintf("/indexes/%s/search", url.PathEscape(uid)),
		map[string]any{"q": query, "limit": limit})
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, resilience.NewNotFound("index", uid)
	}
	if status != http.StatusOK {
		return nil, eris.Errorf("meili: search %s: status %d: %s", uid, status, string(body))
	}

	var resp struct {
		Hits []json.RawMessage `json:"hits"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrap(err, "meili: unmarshal search response")
	}
	return resp.Hits, nil
}

func (c *httpClient) Health(ctx context.Context) error {
	body, status, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return eris.Errorf("meili: unhealthy: status %d: %s", status, string(body))
	}
	return nil
}

func (c *httpClient) do(ctx context.Context, method, path string, payload any) ([]byte, int, error) {
	var reqBody io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, eris.Wrap(err, "meili: marshal request")
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, 0, eris.Wrap(err, "meili: create request")
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if resilience.IsTransient(err) {
			return nil, 0, resilience.NewTransient(err, 0)
		}
		return nil, 0, eris.Wrap(err, "meili: request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, eris.Wrap(err, "meili: read response body")
	}
	return body, resp.StatusCode, nil
}
