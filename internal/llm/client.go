package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/a-marczewski/aifred/internal/apperr"
)

const (
	defaultTimeout   = 30 * time.Second
	minTimeout       = time.Second
	maxTimeout       = 180 * time.Second
	defaultRateLimit = rate.Limit(4)
	defaultBurstSize = 8
	maxBodyBytes     = 8 << 20
)

// Response is a raw HTTP exchange result. JSON is nil when the body is not
// valid JSON.
type Response struct {
	Status int
	Body   []byte
	JSON   any
}

// ClientOptions configures a Client.
type ClientOptions struct {
	// RequestsPerSecond paces outgoing requests. Zero uses the default.
	RequestsPerSecond float64
	Burst             int
	Transport         http.RoundTripper
	Logger            *zap.Logger
}

// Client performs JSON HTTP exchanges with chat completion providers.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewClient creates a new HTTP client
func NewClient(opts ClientOptions) *Client {
	limit := defaultRateLimit
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = defaultBurstSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := &http.Client{}
	if opts.Transport != nil {
		httpClient.Transport = opts.Transport
	}
	return &Client{
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger,
	}
}

// Send POSTs payload as JSON to endpoint. Any HTTP status is a successful
// exchange; only transport failures return an error.
func (c *Client) Send(ctx context.Context, endpoint string, payload any, headers map[string]string, timeout time.Duration) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPost, endpoint, body, headers, timeout)
}

// Get fetches endpoint.
func (c *Client) Get(ctx context.Context, endpoint string, headers map[string]string, timeout time.Duration) (*Response, error) {
	return c.do(ctx, http.MethodGet, endpoint, nil, headers, timeout)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, headers map[string]string, timeout time.Duration) (*Response, error) {
	timeout = clampTimeout(timeout)

	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, apperr.Wrap(ctx.Err(), apperr.RequestCancelled, "request cancelled")
		}
		return nil, apperr.Wrap(err, apperr.NetworkFailure, "rate limit wait")
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, endpoint, reader)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.NetworkFailure, "failed to create request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, reqCtx, err, timeout)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, c.transportError(ctx, reqCtx, err, timeout)
	}

	c.logger.Debug("provider exchange",
		zap.String("method", method),
		zap.String("endpoint", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	out := &Response{Status: resp.StatusCode, Body: data}
	var parsed any
	if len(data) > 0 && json.Unmarshal(data, &parsed) == nil {
		out.JSON = parsed
	}
	return out, nil
}

func (c *Client) transportError(parent, reqCtx context.Context, err error, timeout time.Duration) error {
	if parent.Err() != nil {
		return apperr.Wrap(parent.Err(), apperr.RequestCancelled, "request cancelled")
	}
	if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
		return apperr.Wrap(err, apperr.NetworkFailure,
			fmt.Sprintf("request timed out after %ds", int(timeout/time.Second)))
	}
	return apperr.Wrap(err, apperr.NetworkFailure, "request failed")
}

func clampTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultTimeout
	}
	if d < minTimeout {
		return minTimeout
	}
	if d > maxTimeout {
		return maxTimeout
	}
	return d
}
