// Package theirstack is a client for the TheirStack job search API.
package theirstack

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rcrowley/go-metrics"
)

const (
	DefaultBaseURL = "https://api.theirstack.com"
	searchPath     = "/v1/jobs/search"
	userAgent      = "jobmate-market-service/1.0"
	maxBodyLog     = 512
)

// Options configures a Client. Zero fields take the defaults below.
type Options struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration // per call; default 30s
	MaxAttempts int           // total attempts for retryable failures; default 3
	MaxLimit    int           // upper bound for SearchRequest.Limit; default 100
	BaseDelay   time.Duration // first backoff wait; default 1s
	MaxDelay    time.Duration // backoff cap; default 10s
	Logger      *slog.Logger
	Metrics     metrics.Registry
}

// Client executes job searches with retry and error classification.
// The underlying *http.Client is created on first use and shared by all
// callers until Close.
type Client struct {
	opts Options
	log  *slog.Logger

	mu   sync.Mutex
	http *http.Client

	requests metrics.Meter
	latency  metrics.Timer
	failures map[Kind]metrics.Counter
}

// NewClient constructs a Client. No connection is opened until the first Search.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = 100
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.DefaultRegistry
	}

	c := &Client{
		opts:     opts,
		log:      opts.Logger.With("component", "theirstack"),
		requests: metrics.GetOrRegisterMeter("theirstack.requests", opts.Metrics),
		latency:  metrics.GetOrRegisterTimer("theirstack.latency", opts.Metrics),
		failures: make(map[Kind]metrics.Counter),
	}
	for _, k := range []Kind{KindValidation, KindAuthentication, KindRetryable, KindClient, KindMalformedResponse} {
		c.failures[k] = metrics.GetOrRegisterCounter("theirstack.errors."+k.String(), opts.Metrics)
	}
	return c
}

// MaxLimit is the largest page size a single call may request.
func (c *Client) MaxLimit() int { return c.opts.MaxLimit }

// httpClient returns the shared *http.Client, creating it on first use.
func (c *Client) httpClient() *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.http == nil {
		c.http = &http.Client{
			Timeout:   c.opts.Timeout,
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
		}
	}
	return c.http
}

// Close releases idle connections. A later Search opens a fresh client.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.http != nil {
		c.http.CloseIdleConnections()
		c.http = nil
	}
	return nil
}

// Search validates req, applies pagination defaults and posts it, retrying
// retryable failures with exponential backoff. req is not modified.
func (c *Client) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	if !req.hasTemporalFilter() {
		return nil, c.fail(&Error{
			Kind: KindValidation,
			Msg:  "request must include posted_at_max_age_days or posted_at_gte/posted_at_lte",
		})
	}
	if req.Page == 0 && req.Offset == 0 {
		req.Page = 1
	}
	if req.Limit <= 0 || req.Limit > c.opts.MaxLimit {
		req.Limit = c.opts.MaxLimit
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, c.fail(&Error{Kind: KindValidation, Msg: "encode request", Err: err})
	}

	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		res, err := c.post(ctx, body)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			if IsAuthentication(err) {
				c.log.Error("authentication rejected", "err", err)
			}
			return nil, c.fail(err)
		}
		if ctx.Err() != nil || attempt == c.opts.MaxAttempts {
			break
		}

		wait := c.backoff(attempt)
		c.log.Warn("retryable search failure",
			"attempt", attempt, "maxAttempts", c.opts.MaxAttempts, "wait", wait, "err", err)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, c.fail(&Error{Kind: KindRetryable, Msg: "cancelled during backoff", Err: ctx.Err()})
		case <-t.C:
		}
	}

	c.log.Error("search failed after retries", "attempts", c.opts.MaxAttempts, "err", lastErr)
	return nil, c.fail(lastErr)
}

// backoff returns BaseDelay * 2^(attempt-1), capped at MaxDelay.
func (c *Client) backoff(attempt int) time.Duration {
	d := c.opts.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.opts.MaxDelay {
			return c.opts.MaxDelay
		}
	}
	if d > c.opts.MaxDelay {
		return c.opts.MaxDelay
	}
	return d
}

func (c *Client) fail(err error) error {
	if ctr, ok := c.failures[KindOf(err)]; ok {
		ctr.Inc(1)
	}
	return err
}

// post performs one HTTP attempt and classifies the outcome.
func (c *Client) post(ctx context.Context, body []byte) (*SearchResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+searchPath, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindClient, Msg: "build request", Err: err}
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)

	c.requests.Mark(1)
	start := time.Now()
	resp, err := c.httpClient().Do(httpReq)
	c.latency.UpdateSince(start)
	if err != nil {
		return nil, &Error{Kind: KindRetryable, Msg: "http POST", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindRetryable, StatusCode: resp.StatusCode, Msg: "read body", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{
			Kind:       classifyStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Body:       truncate(string(respBody), maxBodyLog),
		}
	}

	res, err := decodeResult(respBody)
	if err != nil {
		return nil, &Error{
			Kind:       KindMalformedResponse,
			StatusCode: resp.StatusCode,
			Body:       truncate(string(respBody), maxBodyLog),
			Err:        err,
		}
	}
	return res, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
