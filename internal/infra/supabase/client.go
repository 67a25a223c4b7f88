// Package supabase provides a client for Supabase (PostgREST + GoTrue).
// It backs authentication, profile resolution and the dashboard reads.
package supabase

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/dynamicsolutions/dashboard-bfa-go/internal/domain"
	"github.com/dynamicsolutions/dashboard-bfa-go/internal/infra/resilience"

	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("supabase")

// Client wraps HTTP calls to the Supabase PostgREST and GoTrue APIs.
// One Client is shared by the whole process.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	serviceRoleKey string
	cb             *gobreaker.CircuitBreaker
	bulkhead       *resilience.Bulkhead
	cfg            resilience.Config
	clock          clockwork.Clock
	logger         *zap.Logger
}

// NewClient creates a Supabase client. apiKey is the project's anon key;
// serviceRoleKey authorizes PostgREST reads and may be empty, in which
// case the anon key is used.
func NewClient(httpClient *http.Client, baseURL, apiKey, serviceRoleKey string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *Client {
	if serviceRoleKey == "" {
		serviceRoleKey = apiKey
	}
	return &Client{
		httpClient:     httpClient,
		baseURL:        strings.TrimRight(baseURL, "/"),
		apiKey:         apiKey,
		serviceRoleKey: serviceRoleKey,
		cb:             cb,
		bulkhead:       resilience.NewBulkhead(cfg.MaxConcurrency),
		cfg:            cfg,
		clock:          clockwork.NewRealClock(),
		logger:         logger,
	}
}

// WithClock replaces the clock used to compute token expiry.
func (c *Client) WithClock(clock clockwork.Clock) *Client {
	c.clock = clock
	return c
}

// execute runs fn behind the circuit breaker, with retries, and maps the
// outcome into domain errors for service.
func (c *Client) execute(ctx context.Context, service string, fn func() error) error {
	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, fn)
	})
	if err == nil {
		return nil
	}
	return resilience.BreakerError(service, err)
}

// restResponse is a decoded PostgREST reply.
type restResponse struct {
	status int
	body   []byte
	header http.Header
}

// doRequest executes an authenticated request to Supabase PostgREST.
// A 404 or 204 yields a nil body with no error.
func (c *Client) doRequest(ctx context.Context, method, table string, query url.Values, prefer string) (*restResponse, error) {
	u := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, table)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		c.logger.Error("supabase: failed to create request",
			zap.String("method", method),
			zap.String("table", table),
			zap.Error(err),
		)
		return nil, resilience.Permanent(err)
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.serviceRoleKey))
	req.Header.Set("Accept", "application/json")
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	var resp *http.Response
	err = c.bulkhead.Do(ctx, func() error {
		var doErr error
		resp, doErr = c.httpClient.Do(req)
		return doErr
	})
	if err != nil {
		c.logger.Error("supabase: request failed",
			zap.String("method", method),
			zap.String("table", table),
			zap.Error(err),
		)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		c.logger.Error("supabase: failed to read response body",
			zap.String("method", method),
			zap.String("table", table),
			zap.Error(err),
		)
		return nil, err
	}

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent {
		return &restResponse{status: resp.StatusCode, header: resp.Header}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("supabase: non-2xx response",
			zap.String("method", method),
			zap.String("table", table),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)),
		)
		statusErr := fmt.Errorf("supabase returned status %d: %s", resp.StatusCode, string(body))
		if !retryableStatus(resp.StatusCode) {
			return nil, resilience.Permanent(statusErr)
		}
		return nil, statusErr
	}

	c.logger.Debug("supabase: request OK",
		zap.String("method", method),
		zap.String("table", table),
		zap.Int("status", resp.StatusCode),
	)

	return &restResponse{status: resp.StatusCode, body: body, header: resp.Header}, nil
}

// count asks PostgREST for the exact row count matching query.
func (c *Client) count(ctx context.Context, table string, query url.Values) (int, error) {
	q := url.Values{"select": {"id"}}
	for k, v := range query {
		q[k] = v
	}

	var total int
	err := c.execute(ctx, "supabase/"+table, func() error {
		resp, err := c.doRequest(ctx, http.MethodHead, table, q, "count=exact")
		if err != nil {
			return err
		}
		n, err := parseContentRangeTotal(resp.header.Get("Content-Range"))
		if err != nil {
			return resilience.Permanent(err)
		}
		total = n
		return nil
	})
	if err != nil {
		return 0, &domain.ErrExternalService{Service: "supabase/" + table, Err: err}
	}
	return total, nil
}

// parseContentRangeTotal reads the total from "0-24/3573" or "*/0".
func parseContentRangeTotal(h string) (int, error) {
	i := strings.LastIndexByte(h, '/')
	if i < 0 || i == len(h)-1 {
		return 0, fmt.Errorf("missing count in Content-Range %q", h)
	}
	n, err := strconv.Atoi(h[i+1:])
	if err != nil {
		return 0, fmt.Errorf("invalid count in Content-Range %q: %w", h, err)
	}
	return n, nil
}

func retryableStatus(status int) bool {
	return status >= 500 || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout
}

// Ping checks that PostgREST answers.
func (c *Client) Ping(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Supabase.Ping")
	defer span.End()

	_, err := c.doRequest(ctx, http.MethodGet, "companies", url.Values{"select": {"id"}, "limit": {"1"}}, "")
	return err
}
