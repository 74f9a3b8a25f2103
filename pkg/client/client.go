// Package client provides the rate-limited HTTP client used against the
// upstream catalog API. Every call carries the access token, writes are
// spaced by a minimum delay, requests are paced against the upstream call
// bucket, and throttled calls are retried with bounded backoff.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/catalog-price-sync/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Prometheus metrics for upstream calls.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricesync_upstream_requests_total",
		Help: "Total upstream requests by endpoint, method and status",
	}, []string{"endpoint", "method", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pricesync_upstream_request_duration_seconds",
		Help:    "Upstream request duration in seconds by method",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"method"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricesync_upstream_errors_total",
		Help: "Total upstream errors by class",
	}, []string{"class"})
)

// ErrorClass represents a classification of upstream failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx responses other than throttling.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx responses.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 or a throttling error body.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents transport failures and timeouts.
	ErrorClassNetwork ErrorClass = "network"
)

// DefaultTokenHeader is the credential header expected by the upstream.
const DefaultTokenHeader = "X-Shopify-Access-Token"

// Client talks to the upstream catalog API.
type Client struct {
	httpClient *http.Client
	base       *url.URL
	tracker    *ratelimit.Tracker
	writes     *rate.Limiter
	reads      *rate.Limiter
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the upstream origin, e.g. "https://example.myshopify.com".
	BaseURL string

	// AccessToken is attached to every request under TokenHeader.
	AccessToken string
	TokenHeader string

	UserAgent string

	// Redis optionally shares call-bucket state between processes.
	Redis *redis.Client

	// Bucket names the call bucket; defaults to the BaseURL host.
	Bucket   string
	LeakRate float64

	// WriteDelay is the minimum spacing between consecutive writes.
	WriteDelay time.Duration

	// ReadDelay is the minimum spacing between reads (0 disables it).
	ReadDelay time.Duration

	Retry RetryConfig

	// RetryAmbiguousWrites allows retrying a write that failed at the
	// transport level. Off by default because the first attempt may have
	// been applied.
	RetryAmbiguousWrites bool

	Timeout time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL, accessToken string) Config {
	return Config{
		BaseURL:     baseURL,
		AccessToken: accessToken,
		TokenHeader: DefaultTokenHeader,
		UserAgent:   "catalog-price-sync/1.0",
		LeakRate:    ratelimit.DefaultLeakRate,
		WriteDelay:  500 * time.Millisecond,
		Retry:       DefaultRetryConfig(),
		Timeout:     30 * time.Second,
	}
}

// New creates a new upstream client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url must be absolute (got %q)", cfg.BaseURL)
	}
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("access token is required")
	}
	if cfg.Retry.MaxAttempts < 1 {
		return nil, fmt.Errorf("retry max attempts must be >= 1 (got %d)", cfg.Retry.MaxAttempts)
	}
	if cfg.WriteDelay < 0 || cfg.ReadDelay < 0 {
		return nil, fmt.Errorf("call delays must not be negative")
	}
	if cfg.TokenHeader == "" {
		cfg.TokenHeader = DefaultTokenHeader
	}
	if cfg.Bucket == "" {
		cfg.Bucket = base.Host
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	logger := log.With().Str("component", "upstream-client").Logger()

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		base:       base,
		tracker:    ratelimit.NewTracker(cfg.Redis, cfg.Bucket, cfg.LeakRate, logger),
		writes:     spacing(cfg.WriteDelay),
		reads:      spacing(cfg.ReadDelay),
		config:     cfg,
		logger:     logger,
	}, nil
}

// spacing returns a limiter that lets one call through per d.
func spacing(d time.Duration) *rate.Limiter {
	if d <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(d), 1)
}

// Get fetches target and returns the response body and headers.
// target is either a path relative to the base URL or an absolute URL.
func (c *Client) Get(ctx context.Context, target string) ([]byte, http.Header, error) {
	return c.do(ctx, http.MethodGet, target, nil)
}

// Put sends payload as JSON to target. Network failures are reported as
// ErrWriteOutcomeUnknown and are not retried unless RetryAmbiguousWrites is set.
func (c *Client) Put(ctx context.Context, target string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	_, _, err = c.do(ctx, http.MethodPut, target, body)
	return err
}

// do executes one logical call, retrying throttled attempts.
func (c *Client) do(ctx context.Context, method, target string, body []byte) ([]byte, http.Header, error) {
	u, err := c.resolve(target)
	if err != nil {
		return nil, nil, err
	}
	endpoint := endpointLabel(u)
	write := method != http.MethodGet
	limiter := c.reads
	if write {
		limiter = c.writes
	}

	var respBody []byte
	var respHeader http.Header

	attempts, err := retryWithBackoff(ctx, c.config.Retry, func(attempt int) error {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}
		if err := c.tracker.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set(c.config.TokenHeader, c.config.AccessToken)
		req.Header.Set("Accept", "application/json")
		if c.config.UserAgent != "" {
			req.Header.Set("User-Agent", c.config.UserAgent)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		c.logger.Debug().
			Str("endpoint", endpoint).
			Str("method", method).
			Int("attempt", attempt).
			Msg("Executing upstream request")

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		requestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		if err != nil {
			return c.transportFailure(ctx, method, endpoint, write, err)
		}

		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return c.transportFailure(ctx, method, endpoint, write, readErr)
		}

		requestsTotal.WithLabelValues(endpoint, method, strconv.Itoa(resp.StatusCode)).Inc()
		if err := c.tracker.UpdateFromHeaders(ctx, resp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update call bucket from headers")
		}

		errClass := classifyResponse(resp.StatusCode, data)
		switch errClass {
		case "":
			respBody, respHeader = data, resp.Header
			return nil
		case ErrorClassRateLimit:
			errorsTotal.WithLabelValues(string(errClass)).Inc()
			c.logger.Warn().
				Str("endpoint", endpoint).
				Str("method", method).
				Int("status", resp.StatusCode).
				Int("attempt", attempt).
				Msg("Upstream throttled request")
			return &attemptError{
				class:      errClass,
				statusCode: resp.StatusCode,
				retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
				err:        errors.New("throttled"),
			}
		default:
			errorsTotal.WithLabelValues(string(errClass)).Inc()
			c.logger.Warn().
				Str("endpoint", endpoint).
				Str("method", method).
				Int("status", resp.StatusCode).
				Str("error_class", string(errClass)).
				Msg("Upstream rejected request")
			return &RejectedError{
				Method:     method,
				URL:        u.Path,
				StatusCode: resp.StatusCode,
				ErrorClass: errClass,
				Body:       strings.TrimSpace(string(data)),
			}
		}
	})
	if err != nil {
		var ae *attemptError
		if errors.Is(err, ErrRetryExhausted) && errors.As(err, &ae) && ae.class == ErrorClassRateLimit {
			return nil, nil, &ThrottledError{
				Method:     method,
				URL:        u.Path,
				Attempts:   attempts,
				StatusCode: ae.statusCode,
			}
		}
		return nil, nil, err
	}
	return respBody, respHeader, nil
}

// transportFailure maps a failed round trip to an attempt error. A write is
// only retried when the caller opted in, since it may already be applied.
func (c *Client) transportFailure(ctx context.Context, method, endpoint string, write bool, err error) error {
	errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
	requestsTotal.WithLabelValues(endpoint, method, "network_error").Inc()

	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
	}

	c.logger.Error().Err(err).Str("endpoint", endpoint).Str("method", method).Msg("Upstream request failed")
	if write && !c.config.RetryAmbiguousWrites {
		return fmt.Errorf("%w: %s %s: %v", ErrWriteOutcomeUnknown, method, endpoint, err)
	}
	return &attemptError{class: ErrorClassNetwork, err: err}
}

// resolve turns target into an absolute URL against the base URL.
func (c *Client) resolve(target string) (*url.URL, error) {
	ref, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parse target %q: %w", target, err)
	}
	if ref.IsAbs() {
		return ref, nil
	}
	return c.base.ResolveReference(ref), nil
}

// classifyResponse returns "" for success, otherwise the failure class.
func classifyResponse(status int, body []byte) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case isThrottleBody(body):
		return ErrorClassRateLimit
	case status >= 200 && status < 300:
		return ""
	case status >= 500:
		return ErrorClassServer
	default:
		return ErrorClassClient
	}
}

// isThrottleBody reports whether body is an error envelope whose errors
// describe rate limiting.
func isThrottleBody(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	var envelope struct {
		Errors json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil || len(envelope.Errors) == 0 {
		return false
	}
	msg := strings.ToLower(string(envelope.Errors))
	return strings.Contains(msg, "throttled") ||
		strings.Contains(msg, "rate limit") ||
		(strings.Contains(msg, "exceeded") && strings.Contains(msg, "calls per second"))
}

// parseRetryAfter accepts delta seconds (integer or decimal) or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// endpointLabel normalizes a URL path for metric labels by replacing numeric
// ids, so "/variants/123.json" becomes "/variants/:id.json".
func endpointLabel(u *url.URL) string {
	segments := strings.Split(u.Path, "/")
	for i, seg := range segments {
		id, ext, _ := strings.Cut(seg, ".")
		if id == "" || strings.Trim(id, "0123456789") != "" {
			continue
		}
		if ext != "" {
			segments[i] = ":id." + ext
		} else {
			segments[i] = ":id"
		}
	}
	return strings.Join(segments, "/")
}

// Tracker returns the call-bucket tracker (for testing and readiness probes).
func (c *Client) Tracker() *ratelimit.Tracker {
	return c.tracker
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
