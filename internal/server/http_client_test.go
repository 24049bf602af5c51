package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-stream/internal/config"
	"github.com/any-hub/any-stream/internal/version"
)

func TestNewUpstreamClientUsesConfigTimeout(t *testing.T) {
	cfg := &config.Config{
		Global: config.GlobalConfig{
			UpstreamTimeout: config.Duration(45 * time.Second),
		},
	}

	client := NewUpstreamClient(cfg, nil)
	transport, ok := client.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("expected *http.Transport, got %T", client.Transport)
	}
	if transport.ResponseHeaderTimeout != 45*time.Second {
		t.Fatalf("expected header timeout 45s, got %s", transport.ResponseHeaderTimeout)
	}
	if client.Timeout != 0 {
		t.Fatalf("body reads must not be bounded by client timeout")
	}
}

func TestIsHopByHopHeader(t *testing.T) {
	for _, key := range []string{"Connection", "keep-alive", "Transfer-Encoding", "proxy-connection"} {
		if !IsHopByHopHeader(key) {
			t.Fatalf("%s should be treated as hop-by-hop", key)
		}
	}
	for _, key := range []string{"Content-Type", "Content-Range", "x-test-header"} {
		if IsHopByHopHeader(key) {
			t.Fatalf("%s should be forwarded", key)
		}
	}
}

func TestUpstreamTransportAppliesOriginHeaders(t *testing.T) {
	var gotRange, gotUA, gotUser, gotPass string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		gotUA = r.Header.Get("User-Agent")
		gotUser, gotPass, _ = r.BasicAuth()
		w.WriteHeader(http.StatusPartialContent)
	}))
	defer upstream.Close()

	cfg := transportConfig(upstream.URL, 0)
	cfg.Origins[0].Username = "viewer"
	cfg.Origins[0].Password = "secret"
	cfg.Origins[0].UserAgent = "player/1.0"
	transport := newTestTransport(t, cfg)

	resp, err := transport.Fetch(context.Background(), upstream.URL+"/clip.mp4", "bytes=0-99")
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	resp.Body.Close()

	if gotRange != "bytes=0-99" {
		t.Fatalf("range header not forwarded: %q", gotRange)
	}
	if gotUA != "player/1.0" {
		t.Fatalf("user agent not applied: %q", gotUA)
	}
	if gotUser != "viewer" || gotPass != "secret" {
		t.Fatalf("credentials not applied: %q/%q", gotUser, gotPass)
	}
}

func TestUpstreamTransportRetriesUnavailable(t *testing.T) {
	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, "ok")
	}))
	defer upstream.Close()

	transport := newTestTransport(t, transportConfig(upstream.URL, 3))
	resp, err := transport.Fetch(context.Background(), upstream.URL+"/a.mp4", "")
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 after retries, got %d", resp.StatusCode)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestUpstreamTransportReturnsLastStatusWhenRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer upstream.Close()

	transport := newTestTransport(t, transportConfig(upstream.URL, 1))
	resp, err := transport.Fetch(context.Background(), upstream.URL+"/a.mp4", "bytes=0-1")
	if err != nil {
		t.Fatalf("exhausted retries should surface the status, got error %v", err)
	}
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestUpstreamTransportDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer upstream.Close()

	transport := newTestTransport(t, transportConfig(upstream.URL, 3))
	resp, err := transport.Fetch(context.Background(), upstream.URL+"/missing.mp4", "")
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound || calls.Load() != 1 {
		t.Fatalf("404 should be returned once, got %d after %d calls", resp.StatusCode, calls.Load())
	}
}

func TestUpstreamTransportDefaultUserAgent(t *testing.T) {
	var gotUA string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
	}))
	defer upstream.Close()

	transport := newTestTransport(t, transportConfig(upstream.URL, 0))
	resp, err := transport.Fetch(context.Background(), upstream.URL+"/a.mp4", "")
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	resp.Body.Close()
	if gotUA != version.UserAgent() {
		t.Fatalf("expected default user agent, got %q", gotUA)
	}
}

func transportConfig(upstream string, retries int) *config.Config {
	return &config.Config{
		Global: config.GlobalConfig{
			ListenPort:      5000,
			MaxRetries:      retries,
			InitialBackoff:  config.Duration(time.Millisecond),
			UpstreamTimeout: config.Duration(5 * time.Second),
		},
		Origins: []config.OriginConfig{
			{Name: "cdn", Domain: "cdn.local", Upstream: upstream},
		},
	}
}

func newTestTransport(t *testing.T, cfg *config.Config) *UpstreamTransport {
	t.Helper()
	registry, err := NewOriginRegistry(cfg)
	if err != nil {
		t.Fatalf("registry error: %v", err)
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewUpstreamTransport(cfg, registry, logger)
}
