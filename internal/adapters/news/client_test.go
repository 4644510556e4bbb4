package news

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alejandrodnm/binbot/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

var _ ports.NewsProvider = (*Client)(nil)

const feed = `[
  {"title":"Non-Farm Employment Change","country":"USD","date":"2026-03-06T08:30:00-05:00","impact":"High","forecast":"160K","previous":"143K"},
  {"title":"Bank Holiday","country":"JPY","date":"2026-03-06T00:00:00-05:00","impact":"Holiday"},
  {"title":"ECB President Speaks","country":"eur","date":"Tentative","impact":"Medium"}
]`

func newTestClient(url string) *Client {
	c := NewClient(url)
	c.limiter = rate.NewLimiter(rate.Inf, 1)
	c.retryWait = time.Millisecond
	return c
}

func TestFetchEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(feed))
	}))
	defer srv.Close()

	events, err := newTestClient(srv.URL).FetchEvents(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 2)

	nfp := events[0]
	assert.Equal(t, "USD", nfp.Currency)
	assert.Equal(t, "High", nfp.Impact)
	assert.Equal(t, time.Date(2026, 3, 6, 13, 30, 0, 0, time.UTC), nfp.Time.UTC())
}

func TestFetchEvents_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(feed))
	}))
	defer srv.Close()

	events, err := newTestClient(srv.URL).FetchEvents(context.Background())
	require.NoError(t, err)
	assert.Len(t, events, 2)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchEvents_ClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).FetchEvents(context.Background())
	assert.ErrorContains(t, err, "403")
}
