package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const defaultTimeout = 10 * time.Second

// Prober performs a single liveness check against a target.
type Prober interface {
	Probe(ctx context.Context, req Request) Result
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, req Request) Result

func (f ProberFunc) Probe(ctx context.Context, req Request) Result {
	return f(ctx, req)
}

// HTTPProber issues GET requests and treats any 2xx response as success.
type HTTPProber struct {
	client  *http.Client
	limiter *rate.Limiter
	timeout time.Duration
	now     func() time.Time
}

type Option func(*HTTPProber)

func WithClient(client *http.Client) Option {
	return func(p *HTTPProber) {
		if client != nil {
			p.client = client
		}
	}
}

// WithRate caps outgoing checks across every monitor sharing the prober.
func WithRate(opsPerSecond float64, burst int) Option {
	return func(p *HTTPProber) {
		if opsPerSecond > 0 {
			if burst <= 0 {
				burst = int(opsPerSecond)
			}
			if burst < 1 {
				burst = 1
			}
			p.limiter = rate.NewLimiter(rate.Limit(opsPerSecond), burst)
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(p *HTTPProber) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(p *HTTPProber) {
		if now != nil {
			p.now = now
		}
	}
}

func NewHTTPProber(opts ...Option) *HTTPProber {
	p := &HTTPProber{
		client:  &http.Client{},
		timeout: defaultTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *HTTPProber) Probe(ctx context.Context, req Request) Result {
	result := Result{MonitorID: req.MonitorID}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			result.Timestamp = p.now().UTC()
			result.Err = fmt.Errorf("rate limit wait: %w", err)
			return result
		}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = p.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := p.now()
	result.Timestamp = start.UTC()
	if req.URL == "" {
		result.Err = errors.New("target url missing")
		return result
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		result.Err = fmt.Errorf("build request: %w", err)
		return result
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		result.Err = err
		return result
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	result.StatusCode = resp.StatusCode
	result.RTTMilliseconds = float64(p.now().Sub(start)) / float64(time.Millisecond)
	result.Success = resp.StatusCode >= 200 && resp.StatusCode < 300
	if !result.Success {
		result.Err = fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return result
}
