// Package registry fetches case snapshots from the court portal's SOAP
// search endpoint.
package registry

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"caseobserver/internal/domain"
	logx "caseobserver/pkg/logx"
)

const maxBodyBytes = 8 << 20

type Config struct {
	BaseURL        string
	Host           string
	SOAPAction     string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	// Retries is the number of extra attempts after the first one.
	Retries int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	// RatePerSec bounds outbound calls across all callers. <=0 disables it.
	RatePerSec float64
	Burst      int
}

type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("registry base url is empty")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 250 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 5 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	lim := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Transport: transport, Timeout: cfg.ConnectTimeout + cfg.ReadTimeout},
		limiter: lim,
		log:     log.With(logx.String("comp", "registry")),
	}, nil
}

// Attempts returns how many times Fetch tries before giving up.
func (c *Client) Attempts() int { return c.cfg.Retries + 1 }

// Fetch returns the current snapshot of the case identified by number and
// court. Transient failures are retried; once attempts are exhausted the
// error is a *FetchError.
func (c *Client) Fetch(ctx context.Context, number, court string) (domain.Snapshot, error) {
	if err := domain.ValidateKey(number, court); err != nil {
		return domain.Snapshot{}, err
	}
	number, court = strings.TrimSpace(number), strings.TrimSpace(court)

	body, err := encodeSearch(number, court)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("encode search request: %w", err)
	}

	attempts := c.Attempts()
	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return domain.Snapshot{}, &FetchError{Attempts: attempt - 1, Err: err}
		}
		snap, err := c.fetchOnce(ctx, body, number, court)
		if err == nil {
			return snap, nil
		}
		last = err
		c.log.Debug("registry fetch attempt failed",
			logx.String("number", number),
			logx.String("court", court),
			logx.Int("attempt", attempt),
			logx.Int("max", attempts),
			logx.Err(err),
		)
		if attempt >= attempts || ctx.Err() != nil {
			break
		}
		if !sleepCtx(ctx, retryDelay(c.cfg.RetryBase, c.cfg.RetryMaxDelay, attempt)) {
			break
		}
	}
	if ctx.Err() != nil && last == nil {
		last = ctx.Err()
	}
	return domain.Snapshot{}, &FetchError{Attempts: attempts, Err: last}
}

func (c *Client) fetchOnce(ctx context.Context, body []byte, number, court string) (domain.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return domain.Snapshot{}, err
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	if c.cfg.SOAPAction != "" {
		req.Header.Set("SOAPAction", c.cfg.SOAPAction)
	}
	if c.cfg.Host != "" {
		req.Host = c.cfg.Host
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Snapshot{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return domain.Snapshot{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.Snapshot{}, &StatusError{Code: resp.StatusCode, Body: truncate(string(payload), 512)}
	}
	return decodeSnapshot(payload, number, court)
}

func retryDelay(base, maxD time.Duration, attempt int) time.Duration {
	// Exponential backoff: base * 2^(attempt-1)
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxD {
			d = maxD
			break
		}
	}
	// Jitter 0.7..1.3
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	if d > maxD {
		d = maxD
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
