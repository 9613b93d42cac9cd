// Package session owns per-target HTTP state: cookie jar, headers, retry
// policy, and throttle handling. Cookie state is explicit and snapshotable
// so one logical browsing session can span separate invocations.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/govscout/crawlworker/internal/crawler"
	"github.com/govscout/crawlworker/internal/metrics"
)

// Config controls fetch behavior for all targets.
type Config struct {
	UserAgent     string
	Timeout       time.Duration
	MaxRedirects  int
	MaxBodyBytes  int
	MaxParallel   int
	RespectRobots bool
	MaxRetries    int
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	// DefaultBlock is how long a target stays blocked after a throttle
	// signal that carries no Retry-After header.
	DefaultBlock time.Duration
}

func (c *Config) applyDefaults() {
	if c.UserAgent == "" {
		c.UserAgent = "Mozilla/5.0 (compatible; govscout/0.1)"
	}
	if c.Timeout == 0 {
		c.Timeout = 15 * time.Second
	}
	if c.MaxRedirects == 0 {
		c.MaxRedirects = 10
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = 10 << 20
	}
	if c.MaxParallel == 0 {
		c.MaxParallel = 2
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = 250 * time.Millisecond
	}
	if c.BackoffMax == 0 {
		c.BackoffMax = 5 * time.Second
	}
	if c.DefaultBlock == 0 {
		c.DefaultBlock = 5 * time.Minute
	}
}

// Response is the outcome of one successful fetch.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Manager builds per-target handles and performs fetches through them.
type Manager struct {
	cfg      Config
	policy   *crawler.ExponentialRetryPolicy
	throttle crawler.ThrottleCache
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewManager constructs a Manager. throttle and m may be nil, in which case
// no cross-invocation block state is consulted and retries go uncounted.
func NewManager(cfg Config, throttle crawler.ThrottleCache, m *metrics.Metrics, logger *zap.Logger) *Manager {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:      cfg,
		policy:   crawler.NewRetryPolicy(cfg.MaxRetries+1, cfg.BackoffBase, cfg.BackoffMax),
		throttle: throttle,
		metrics:  m,
		logger:   logger,
	}
}

// Acquire builds a Handle for one target, seeding its cookie jar from the
// prior snapshot when provided. The returned Handle is exclusively owned by
// the calling invocation; it is not safe for concurrent use.
func (m *Manager) Acquire(targetID string, prior *crawler.SessionSnapshot) (*Handle, error) {
	if targetID == "" {
		return nil, fmt.Errorf("target id is required")
	}

	opts := []colly.CollectorOption{
		colly.UserAgent(m.cfg.UserAgent),
		colly.AllowURLRevisit(),
	}
	if !m.cfg.RespectRobots {
		opts = append(opts, colly.IgnoreRobotsTxt())
	}
	c := colly.NewCollector(opts...)
	c.SetRequestTimeout(m.cfg.Timeout)

	maxRedirects := m.cfg.MaxRedirects
	c.SetRedirectHandler(func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		return nil
	})

	// One extra byte past the cap lets truncation be told apart from a
	// body of exactly the maximum size.
	c.MaxBodySize = m.cfg.MaxBodyBytes + 1

	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: m.cfg.MaxParallel,
	}); err != nil {
		return nil, fmt.Errorf("set limit rule: %w", err)
	}

	h := &Handle{
		targetID:  targetID,
		collector: c,
		origins:   make(map[string]bool),
		headers:   defaultHeaders(),
	}
	h.installHooks()

	if prior != nil {
		if err := h.seed(prior); err != nil {
			return nil, fmt.Errorf("seed session for %s: %w", targetID, err)
		}
	}
	return h, nil
}

// Fetch performs a GET through the handle's session, retrying transient
// failures with jittered backoff. A throttle signal (429/430 or a
// captcha-indicative page) short-circuits immediately and records a block
// for the target so parallel invocations back off too.
func (m *Manager) Fetch(ctx context.Context, h *Handle, url string) (Response, error) {
	return m.fetch(ctx, h, url, nil)
}

// FetchForm performs a POST with the given form values. Pagination
// continuations on postback-driven sites use this to replay pager events.
func (m *Manager) FetchForm(ctx context.Context, h *Handle, url string, form map[string]string) (Response, error) {
	return m.fetch(ctx, h, url, form)
}

func (m *Manager) fetch(ctx context.Context, h *Handle, url string, form map[string]string) (Response, error) {
	if m.throttle != nil {
		if remaining, blocked := m.throttle.Blocked(h.targetID); blocked {
			return Response{}, &crawler.FetchError{
				Kind:       crawler.FetchThrottled,
				URL:        url,
				RetryAfter: remaining,
			}
		}
	}

	for attempt := 0; ; attempt++ {
		resp, err := m.attempt(ctx, h, url, form)
		if err == nil {
			return resp, nil
		}

		var fetchErr *crawler.FetchError
		if errors.As(err, &fetchErr) && fetchErr.Kind == crawler.FetchThrottled {
			m.recordBlock(h.targetID, fetchErr)
			return Response{}, err
		}
		if !m.policy.ShouldRetry(err, attempt+1) {
			return Response{}, err
		}

		wait := m.policy.Backoff(attempt)
		m.metrics.FetchRetry()
		m.logger.Warn("fetch retry",
			zap.String("target", h.targetID),
			zap.String("url", url),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return Response{}, fmt.Errorf("fetch canceled: %w", ctx.Err())
		case <-time.After(wait):
		}
	}
}

func (m *Manager) attempt(ctx context.Context, h *Handle, url string, form map[string]string) (Response, error) {
	h.reset()

	done := make(chan error, 1)
	go func() {
		if form != nil {
			done <- h.collector.Post(url, form)
		} else {
			done <- h.collector.Visit(url)
		}
	}()

	select {
	case <-ctx.Done():
		return Response{}, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		return m.classify(h, url, err)
	}
}

func (m *Manager) classify(h *Handle, url string, visitErr error) (Response, error) {
	status := h.lastStatus
	if isThrottleStatus(status) {
		return Response{}, &crawler.FetchError{
			Kind:       crawler.FetchThrottled,
			URL:        url,
			StatusCode: status,
			RetryAfter: retryAfter(h.lastHeaders),
		}
	}
	if visitErr != nil || h.lastErr != nil {
		err := visitErr
		if err == nil {
			err = h.lastErr
		}
		kind := crawler.FetchTransient
		if status >= 400 && status < 500 {
			kind = crawler.FetchProtocol
		}
		return Response{}, &crawler.FetchError{
			Kind:       kind,
			URL:        url,
			StatusCode: status,
			Err:        err,
		}
	}
	if len(h.lastBody) > m.cfg.MaxBodyBytes {
		return Response{}, &crawler.FetchError{
			Kind:       crawler.FetchTooLarge,
			URL:        url,
			StatusCode: status,
		}
	}
	if looksLikeCaptcha(h.lastBody) {
		return Response{}, &crawler.FetchError{
			Kind:       crawler.FetchThrottled,
			URL:        url,
			StatusCode: status,
			RetryAfter: m.cfg.DefaultBlock,
		}
	}
	return Response{
		URL:        h.lastURL,
		StatusCode: status,
		Headers:    h.lastHeaders,
		Body:       h.lastBody,
		Duration:   h.lastDuration,
	}, nil
}

func (m *Manager) recordBlock(targetID string, fe *crawler.FetchError) {
	if m.throttle == nil {
		return
	}
	block := fe.RetryAfter
	if block <= 0 {
		block = m.cfg.DefaultBlock
		fe.RetryAfter = block
	}
	if err := m.throttle.Block(targetID, block); err != nil {
		m.logger.Warn("record throttle block failed",
			zap.String("target", targetID),
			zap.Error(err),
		)
	}
}

func isThrottleStatus(status int) bool {
	// 430 is a nonstandard throttle status some portals return.
	return status == http.StatusTooManyRequests || status == 430
}

func retryAfter(headers http.Header) time.Duration {
	if headers == nil {
		return 0
	}
	raw := headers.Get("Retry-After")
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

var captchaMarkers = [][]byte{
	[]byte("g-recaptcha"),
	[]byte("cf-challenge"),
	[]byte("hcaptcha.com"),
}

func looksLikeCaptcha(body []byte) bool {
	for _, marker := range captchaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

func defaultHeaders() map[string]string {
	return map[string]string{
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.9",
		"Cache-Control":   "no-cache",
	}
}
