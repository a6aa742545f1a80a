// Package supabase provides a port.Store over Supabase PostgREST.
// It is the alternative backend when no direct database connection is
// available; tables and columns are the same as the postgres backend.
package supabase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/boddenberg/livefy-nfe-go/internal/domain"
	"github.com/boddenberg/livefy-nfe-go/internal/infra/resilience"
	"github.com/boddenberg/livefy-nfe-go/internal/port"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("supabase")

var _ port.Store = (*Client)(nil)

// Client wraps HTTP calls to Supabase PostgREST API.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	serviceRoleKey string
	cb             *gobreaker.CircuitBreaker
	cfg            resilience.Config
	logger         *zap.Logger
}

// NewClient creates a Supabase client.
func NewClient(httpClient *http.Client, baseURL, apiKey, serviceRoleKey string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient:     httpClient,
		baseURL:        strings.TrimRight(baseURL, "/"),
		apiKey:         apiKey,
		serviceRoleKey: serviceRoleKey,
		cb:             cb,
		cfg:            cfg,
		logger:         logger,
	}
}

// apiError is a non-2xx PostgREST answer.
type apiError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("supabase %s %s returned %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// retryable reports whether the status is worth another attempt.
func (e *apiError) retryable() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests || e.Status == http.StatusRequestTimeout
}

// doRequest executes an authenticated request to Supabase PostgREST.
func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader, prefer string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, path)
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		c.logger.Error("supabase: failed to create request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.serviceRoleKey))
	req.Header.Set("Content-Type", "application/json")
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("supabase: request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}
	defer resp.Body.Close()

	data, err := readBody(resp)
	if err != nil {
		c.logger.Error("supabase: failed to read response body",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("supabase: non-2xx response",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(data)),
		)
		return nil, &apiError{Method: method, Path: path, Status: resp.StatusCode, Body: string(data)}
	}

	c.logger.Debug("supabase: request OK",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
	)
	return data, nil
}

// call runs fn through the breaker with retries. Client errors other than
// timeouts and throttling are not retried.
func (c *Client) call(ctx context.Context, service string, fn func() ([]byte, error)) ([]byte, error) {
	body, err := resilience.Execute(c.cb, func() ([]byte, error) {
		var out []byte
		err := resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			b, err := fn()
			if err != nil {
				var api *apiError
				if errors.As(err, &api) && !api.retryable() {
					return resilience.Permanent(err)
				}
				return err
			}
			out = b
			return nil
		})
		return out, err
	})
	if err != nil {
		var open *domain.ErrCircuitOpen
		if errors.As(err, &open) {
			return nil, err
		}
		return nil, &domain.ErrExternalService{Service: "supabase/" + service, Err: err}
	}
	return body, nil
}

// get reads rows from a table.
func (c *Client) get(ctx context.Context, service, path string) ([]byte, error) {
	return c.call(ctx, service, func() ([]byte, error) {
		return c.doRequest(ctx, http.MethodGet, path, nil, "")
	})
}

// Ping checks that PostgREST answers for the fiscal_data table.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.doRequest(ctx, http.MethodGet, "fiscal_data?select=id&limit=1", nil, "")
	return err
}

// eq builds a PostgREST equality filter with the value escaped.
func eq(column string, value any) string {
	return column + "=eq." + url.QueryEscape(fmt.Sprint(value))
}

func neq(column string, value any) string {
	return column + "=neq." + url.QueryEscape(fmt.Sprint(value))
}

func isEmpty(body []byte) bool {
	s := strings.TrimSpace(string(body))
	return s == "" || s == "[]"
}
