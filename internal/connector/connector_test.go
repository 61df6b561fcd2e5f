package connector_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	infrahttp "github.com/pglemos/ml-bling-sync/infrastructure/http"
	"github.com/pglemos/ml-bling-sync/internal/connector"
	"github.com/pglemos/ml-bling-sync/internal/domain"
)

func TestHTTPConnector_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sync", r.URL.Path)
		assert.Equal(t, "job-1", r.Header.Get("X-Sync-Job-ID"))

		var req connector.Request
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, domain.SyncTypeOrders, req.SyncType)
		assert.Equal(t, 25, req.Options.Limit)

		_ = json.NewEncoder(w).Encode(domain.SyncResult{ItemsProcessed: 7, ItemsFailed: 1})
	}))
	t.Cleanup(srv.Close)

	c := connector.NewHTTPConnector(srv.URL+"/", infrahttp.ClientConfig{})
	var reported []int
	result, err := c.Sync(context.Background(), connector.Request{
		JobID:    "job-1",
		SyncType: domain.SyncTypeOrders,
		Options:  domain.SyncOptions{Limit: 25},
	}, func(p int, _ map[string]any) { reported = append(reported, p) })

	require.NoError(t, err)
	assert.Equal(t, 7, result.ItemsProcessed)
	assert.Equal(t, 1, result.ItemsFailed)
	assert.Equal(t, []int{50}, reported)
}

func TestHTTPConnector_ClassifiesFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{name: "server error", status: http.StatusBadGateway, transient: true},
		{name: "throttled", status: http.StatusTooManyRequests, transient: true},
		{name: "bad request", status: http.StatusBadRequest, transient: false},
		{name: "unauthorized", status: http.StatusUnauthorized, transient: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			t.Cleanup(srv.Close)

			c := connector.NewHTTPConnector(srv.URL, infrahttp.ClientConfig{})
			_, err := c.Sync(context.Background(), connector.Request{JobID: "j"}, nil)
			require.Error(t, err)
			assert.Equal(t, tt.transient, connector.IsTransient(err))
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestHTTPConnector_UnreachableIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := connector.NewHTTPConnector(url, infrahttp.ClientConfig{})
	_, err := c.Sync(context.Background(), connector.Request{JobID: "j"}, nil)
	require.Error(t, err)
	assert.True(t, connector.IsTransient(err))
}

func TestHTTPConnector_RateLimited(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_ = json.NewEncoder(w).Encode(domain.SyncResult{})
	}))
	t.Cleanup(srv.Close)

	c := connector.NewHTTPConnector(srv.URL, infrahttp.ClientConfig{}, connector.WithRateLimit(0.1, 1))

	_, err := c.Sync(context.Background(), connector.Request{JobID: "j1"}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = c.Sync(ctx, connector.Request{JobID: "j2"}, nil)
	require.Error(t, err)
	assert.True(t, connector.IsTransient(err), "throttled call should be retryable")
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPConnector_NonPositiveRateIsUnthrottled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(domain.SyncResult{})
	}))
	t.Cleanup(srv.Close)

	c := connector.NewHTTPConnector(srv.URL, infrahttp.ClientConfig{}, connector.WithRateLimit(-1, 0))
	for range 5 {
		_, err := c.Sync(context.Background(), connector.Request{JobID: "j"}, nil)
		require.NoError(t, err)
	}
}

func TestTransientError(t *testing.T) {
	t.Parallel()

	base := errors.New("boom")
	err := connector.NewTransientError(base)
	require.ErrorIs(t, err, base)
	assert.True(t, connector.IsTransient(err))
	assert.NoError(t, connector.NewTransientError(nil))
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := connector.NewRegistry()
	c := connector.NewHTTPConnector("http://bling.local", infrahttp.ClientConfig{})
	r.Register("bling", c)
	r.Register("mercadolivre", c)

	got, err := r.Get("bling")
	require.NoError(t, err)
	assert.Same(t, c, got)

	_, err = r.Get("shopify")
	require.ErrorIs(t, err, connector.ErrNoConnector)

	assert.Equal(t, []string{"bling", "mercadolivre"}, r.Types())
}
