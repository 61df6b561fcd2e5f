package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	infrahttp "github.com/pglemos/ml-bling-sync/infrastructure/http"
	"github.com/pglemos/ml-bling-sync/internal/domain"
)

const maxErrorBody = 4 << 10

// HTTPConnector delegates a sync to an external connector service. The
// service receives the Request as JSON on POST {endpoint}/sync and answers
// with a SyncResult.
type HTTPConnector struct {
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
}

// HTTPOption configures an HTTPConnector.
type HTTPOption func(*HTTPConnector)

// WithRateLimit caps outbound calls at rps with the given burst. A
// non-positive rps leaves calls unthrottled.
func WithRateLimit(rps float64, burst int) HTTPOption {
	return func(c *HTTPConnector) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = max(1, int(rps))
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewHTTPConnector creates a connector for the given base endpoint.
func NewHTTPConnector(endpoint string, cfg infrahttp.ClientConfig, opts ...HTTPOption) *HTTPConnector {
	c := &HTTPConnector{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   infrahttp.NewClient(cfg),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Sync implements Connector.
func (c *HTTPConnector) Sync(ctx context.Context, req Request, progress ProgressFunc) (*domain.SyncResult, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// The wait would outlast the deadline; another attempt may fit.
			return nil, NewTransientError(fmt.Errorf("connector throttled: %w", err))
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal sync request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/sync", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build sync request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Sync-Job-ID", req.JobID)

	if progress != nil {
		progress(50, map[string]any{"stage": "awaiting_connector"})
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, NewTransientError(fmt.Errorf("connector request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		statusErr := fmt.Errorf("connector returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
			return nil, NewTransientError(statusErr)
		}
		return nil, statusErr
	}

	var result domain.SyncResult
	if err = json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode sync result: %w", err)
	}
	return &result, nil
}
