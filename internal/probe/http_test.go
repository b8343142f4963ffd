package probe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPProberSuccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("unexpected method %s", r.Method)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	p := NewHTTPProber(WithTimeout(time.Second))
	res := p.Probe(context.Background(), Request{MonitorID: "mon1", URL: ts.URL})
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.StatusCode != http.StatusNoContent || res.MonitorID != "mon1" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Timestamp.IsZero() {
		t.Fatalf("expected timestamp to be set")
	}
}

func TestHTTPProberNon2xxFails(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	res := NewHTTPProber().Probe(context.Background(), Request{URL: ts.URL})
	if res.Success || res.StatusCode != http.StatusServiceUnavailable || res.Err == nil {
		t.Fatalf("expected failure, got %+v", res)
	}
}

func TestHTTPProberTimeout(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	res := NewHTTPProber().Probe(context.Background(), Request{URL: ts.URL, Timeout: 50 * time.Millisecond})
	if res.Success || res.Err == nil {
		t.Fatalf("expected timeout failure, got %+v", res)
	}
}

func TestHTTPProberTransportError(t *testing.T) {
	res := NewHTTPProber(WithTimeout(time.Second)).Probe(context.Background(), Request{URL: "http://127.0.0.1:1"})
	if res.Success || res.Err == nil {
		t.Fatalf("expected transport failure, got %+v", res)
	}
}

func TestHTTPProberMissingURL(t *testing.T) {
	res := NewHTTPProber().Probe(context.Background(), Request{MonitorID: "m"})
	if res.Success || res.Err == nil {
		t.Fatalf("expected failure for empty url, got %+v", res)
	}
}

func TestHTTPProberRateLimitHonoursContext(t *testing.T) {
	p := NewHTTPProber(WithRate(0.001, 1))
	ctx, cancel := context.WithCancel(context.Background())

	// First call consumes the only token.
	_ = p.Probe(ctx, Request{})
	cancel()
	res := p.Probe(ctx, Request{URL: "http://127.0.0.1:1"})
	if res.Success || res.Err == nil {
		t.Fatalf("expected rate limit failure, got %+v", res)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestHTTPProberUsesInjectedClientAndClock(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := []time.Time{start, start.Add(25 * time.Millisecond)}
	now := func() time.Time {
		next := clock[0]
		if len(clock) > 1 {
			clock = clock[1:]
		}
		return next
	}

	var seen string
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		seen = r.URL.String()
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader("ok")),
			Header:     make(http.Header),
			Request:    r,
		}, nil
	})}

	p := NewHTTPProber(WithClient(client), WithNow(now))
	res := p.Probe(context.Background(), Request{MonitorID: "m", URL: "http://target.test/health"})
	if !res.Success || res.StatusCode != http.StatusOK {
		t.Fatalf("expected success, got %+v", res)
	}
	if seen != "http://target.test/health" {
		t.Fatalf("request did not go through the injected client: %q", seen)
	}
	if !res.Timestamp.Equal(start) {
		t.Fatalf("expected timestamp %s got %s", start, res.Timestamp)
	}
	if res.RTTMilliseconds != 25 {
		t.Fatalf("expected rtt 25ms got %v", res.RTTMilliseconds)
	}
}
