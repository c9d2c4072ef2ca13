// Package ingest downloads and decodes the regulator's published files:
// directory listings, quarterly archives and the entity registry.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"disclosure_pipeline/pkg/platform/logger"
	"disclosure_pipeline/pkg/platform/metrics"
)

// DefaultUserAgent is sent when ClientConfig.UserAgent is empty.
const DefaultUserAgent = "disclosure-pipeline/1.0"

// Getter fetches a URL body within a per-request timeout.
type Getter interface {
	Get(ctx context.Context, url string, timeout time.Duration) ([]byte, error)
}

// ClientConfig tunes retries and throttling for upstream requests.
type ClientConfig struct {
	UserAgent     string
	RetryAttempts int           // total attempts, including the first
	RetryInitial  time.Duration // first backoff interval
	RateLimit     float64       // requests per second, 0 = unlimited
	RateBurst     int
}

// HTTPError is returned for non-2xx upstream responses.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.StatusCode)
}

// Client is a throttled HTTP getter with bounded exponential-backoff retries.
// Client errors (4xx other than 429) are not retried.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	cfg     ClientConfig
	metrics *metrics.Metrics
	log     *zap.Logger
}

// NewClient creates a Client. m and log may be nil.
func NewClient(cfg ClientConfig, m *metrics.Metrics, log *zap.Logger) *Client {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = 500 * time.Millisecond
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst < 1 {
		burst = 1
	}

	return &Client{
		http:    &http.Client{},
		limiter: rate.NewLimiter(limit, burst),
		cfg:     cfg,
		metrics: m,
		log:     logger.OrNop(log).With(zap.String("component", "http")),
	}
}

// Get downloads url, retrying transient failures. Each attempt gets its own
// timeout; the parent ctx bounds the whole call including backoff waits.
func (c *Client) Get(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.RetryInitial
	policy.MaxElapsedTime = 0

	var (
		body    []byte
		attempt int
	)
	op := func() error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(eris.Wrap(err, "ingest: rate limiter"))
		}
		b, err := c.getOnce(ctx, url, timeout)
		if err != nil {
			var httpErr *HTTPError
			if errors.As(err, &httpErr) && httpErr.StatusCode < 500 && httpErr.StatusCode != http.StatusTooManyRequests {
				return backoff.Permanent(err)
			}
			return err
		}
		body = b
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.metrics.IncUpstreamRetry()
		c.log.Warn("retrying upstream request",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.cfg.RetryAttempts-1)), ctx)
	err := backoff.RetryNotify(op, b, notify)
	c.metrics.ObserveUpstream(requestKind(url), err)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: get %s", url)
	}
	return body, nil
}

// requestKind labels a URL for metrics by its extension.
func requestKind(url string) string {
	switch strings.ToLower(path.Ext(url)) {
	case ".zip":
		return "archive"
	case ".csv", ".txt":
		return "registry"
	}
	return "listing"
}

func (c *Client) getOnce(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(eris.Wrap(err, "ingest: build request"))
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &HTTPError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: read body")
	}
	return body, nil
}
