package dip

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openparl/evidence-cli/internal/resilience"
)

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func TestPersonList_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/person", r.URL.Path)
		assert.Equal(t, "ApiKey test-key", r.Header.Get("Authorization"))
		q := r.URL.Query()
		assert.Equal(t, "100", q.Get("limit"))
		assert.Equal(t, []string{"17", "18"}, q["f.wahlperiode"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"numFound":2,"cursor":"AoJw","documents":[
			{"id":"7001","vorname":"Stephan","nachname":"Weil","wahlperiode":[17,18],"fraktion":"SPD"},
			{"id":"7002","vorname":"Johanne","nachname":"Modder","wahlperiode":[17],"fraktion":["SPD","fraktionslos"]}
		]}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL), WithRateLimit(1000))
	got, err := client.PersonList(context.Background(), []int{17, 18}, "")

	require.NoError(t, err)
	assert.Equal(t, 2, got.NumFound)
	assert.Equal(t, "AoJw", got.Cursor)
	require.Len(t, got.Documents, 2)
	assert.Equal(t, int64(7001), got.Documents[0].ID.Int64())
	assert.Equal(t, "Weil", got.Documents[0].Nachname)
	assert.Equal(t, "SPD", got.Documents[0].Fraktion.String())
	assert.Equal(t, "SPD", got.Documents[1].Fraktion.String(), "array fraktion takes first value")
	assert.NotEmpty(t, got.Raw)
}

func TestPersonList_CursorForwarded(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "AoJw", r.URL.Query().Get("cursor"))
		w.Write([]byte(`{"numFound":2,"cursor":"AoJw","documents":[]}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL), WithRateLimit(1000))
	got, err := client.PersonList(context.Background(), nil, "AoJw")

	require.NoError(t, err)
	assert.Empty(t, got.Documents)
	assert.Equal(t, "AoJw", got.Cursor, "echoed cursor signals the last page")
}

func TestPerson_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/person/7001", r.URL.Path)
		w.Write([]byte(`{"id":7001,"vorname":"Stephan","nachname":"Weil","wahlperiode":[17,18]}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL), WithRateLimit(1000))
	got, err := client.Person(context.Background(), 7001)

	require.NoError(t, err)
	assert.Equal(t, int64(7001), got.ID.Int64(), "numeric ids decode too")
	assert.Equal(t, []int{17, 18}, got.Wahlperiode)
}

func TestPerson_NotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL), WithRateLimit(1000))
	_, err := client.Person(context.Background(), 999)

	assert.True(t, resilience.IsNotFound(err))
}

func TestPersonList_AuthFailureNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewClient("bad-key", WithBaseURL(srv.URL), WithRateLimit(1000))
	_, err := client.PersonList(context.Background(), nil, "")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "authentication failed")
	assert.Equal(t, int64(1), calls.Load())
}

func TestPersonList_ServerErrorRecovers(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"numFound":0,"documents":[]}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL), WithRateLimit(1000), WithRetryConfig(fastRetry()))
	got, err := client.PersonList(context.Background(), nil, "")

	require.NoError(t, err)
	assert.Equal(t, 0, got.NumFound)
	assert.Equal(t, int64(2), calls.Load())
}

func TestPersonList_RateLimitedAfterRetries(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL), WithRateLimit(1000), WithRetryConfig(fastRetry()))
	_, err := client.PersonList(context.Background(), nil, "")

	assert.True(t, resilience.IsRateLimited(err))
}
