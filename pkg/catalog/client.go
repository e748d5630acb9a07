// Package catalog provides the outbound REST client for third-party
// catalog/media lookups. Calls are wrapped in exponential backoff retries
// and a consecutive-failure circuit breaker so a struggling upstream cannot
// stall the interaction paths that depend on it.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/streamware/interactd/pkg/errclass"
)

// ErrCircuitOpen is returned while the breaker is cooling down after too
// many consecutive failures.
var ErrCircuitOpen = errors.New("catalog: circuit breaker is open")

// Config configures a Client.
type Config struct {
	// BaseURL is the upstream service root, e.g. "https://api.example.com".
	BaseURL string `yaml:"base_url"`

	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries uint64 `yaml:"max_retries"`

	// BreakerThreshold is the consecutive-failure count that opens the
	// breaker. Zero disables the breaker.
	BreakerThreshold int `yaml:"breaker_threshold"`

	// BreakerCooldown is how long the breaker stays open.
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

// applyDefaults fills zero fields.
func (c *Config) applyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.BreakerCooldown == 0 {
		c.BreakerCooldown = 30 * time.Second
	}
}

// Client is a JSON GET client for the catalog/media services.
type Client struct {
	cfg     Config
	httpCli *http.Client
	breaker *breaker
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("catalog: base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("catalog: invalid base URL: %w", err)
	}
	cfg.applyDefaults()

	return &Client{
		cfg:     cfg,
		httpCli: &http.Client{Timeout: cfg.Timeout},
		breaker: newBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
	}, nil
}

// GetJSON fetches path relative to the base URL and decodes the response
// into out. Transient failures are retried with exponential backoff;
// non-retryable upstream responses fail immediately. While the breaker is
// open every call fails fast with ErrCircuitOpen.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	if !c.breaker.allow() {
		return ErrCircuitOpen
	}

	u, err := url.JoinPath(c.cfg.BaseURL, path)
	if err != nil {
		return fmt.Errorf("catalog: joining URL: %w", err)
	}

	op := func() error {
		return c.attempt(ctx, u, out)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.cfg.MaxRetries), ctx)
	err = backoff.Retry(op, policy)
	c.breaker.record(err)
	return err
}

// attempt performs one HTTP round trip and classifies the outcome.
func (c *Client) attempt(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("catalog: building request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpCli.Do(req)
	if err != nil {
		// Connection-level failures are always retryable.
		return fmt.Errorf("catalog: request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		httpErr := &errclass.HTTPError{StatusCode: resp.StatusCode, URL: u}
		cls := errclass.Classify(httpErr)
		slog.Debug("catalog: upstream error",
			"url", u, "status", resp.StatusCode, "category", cls.Category)
		if !cls.Retryable {
			return backoff.Permanent(httpErr)
		}
		return httpErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backoff.Permanent(fmt.Errorf("catalog: decoding response: %w", err))
	}
	return nil
}

// breaker is a consecutive-failure circuit breaker: closed until threshold
// consecutive failures, then open for the cooldown window, then closed again
// on the next allowed call.
type breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	failures  int
	openUntil time.Time
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	return &breaker{
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// allow reports whether a call may proceed.
func (b *breaker) allow() bool {
	if b.threshold <= 0 {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.openUntil.IsZero() || time.Now().After(b.openUntil)
}

// record feeds a call outcome into the breaker.
func (b *breaker) record(err error) {
	if b.threshold <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		b.openUntil = time.Time{}
		return
	}

	b.failures++
	if b.failures >= b.threshold {
		b.openUntil = time.Now().Add(b.cooldown)
		b.failures = 0
		slog.Warn("catalog: circuit breaker opened",
			"cooldown", b.cooldown)
	}
}
