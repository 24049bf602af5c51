package server

import (
	"testing"

	"github.com/any-hub/any-stream/internal/config"
)

func TestOriginRegistryLookupByHost(t *testing.T) {
	cfg := &config.Config{
		Global: config.GlobalConfig{ListenPort: 5000},
		Origins: []config.OriginConfig{
			{
				Name:     "cdn",
				Domain:   "cdn.stream.local",
				Upstream: "https://media.example.com",
			},
			{
				Name:     "vod",
				Domain:   "vod.stream.local",
				Upstream: "https://vod.example.com/library",
				Proxy:    "http://proxy.internal:3128",
			},
		},
	}

	registry, err := NewOriginRegistry(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	route, ok := registry.Lookup("cdn.stream.local")
	if !ok {
		t.Fatalf("expected cdn route")
	}
	if route.Config.Name != "cdn" {
		t.Errorf("wrong origin returned: %s", route.Config.Name)
	}
	if route.UpstreamURL.String() != "https://media.example.com" {
		t.Errorf("unexpected upstream URL: %s", route.UpstreamURL)
	}
	if route.ProxyURL != nil {
		t.Errorf("expected nil proxy")
	}
	if route.ListenPort != cfg.Global.ListenPort {
		t.Fatalf("route listen port mismatch: %d", route.ListenPort)
	}

	vod, _ := registry.Lookup("VOD.stream.local.")
	if vod == nil || vod.ProxyURL == nil || vod.ProxyURL.Host != "proxy.internal:3128" {
		t.Fatalf("expected vod route with proxy")
	}

	if got := len(registry.List()); got != 2 {
		t.Fatalf("expected 2 routes in list, got %d", got)
	}
}

func TestOriginRegistryParsesHostHeaderPort(t *testing.T) {
	registry, err := NewOriginRegistry(singleOriginConfig("cdn", "cdn.stream.local", "https://media.example.com"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := registry.Lookup("cdn.stream.local:6000"); !ok {
		t.Fatalf("expected lookup to ignore host header port")
	}
}

func TestOriginRegistryRejectsDuplicateDomains(t *testing.T) {
	cfg := singleOriginConfig("cdn", "cdn.stream.local", "https://media.example.com")
	cfg.Origins = append(cfg.Origins, config.OriginConfig{
		Name:     "cdn-alt",
		Domain:   "cdn.stream.local",
		Upstream: "https://mirror.example.com",
	})

	if _, err := NewOriginRegistry(cfg); err == nil {
		t.Fatalf("expected duplicate domain error")
	}
}

func TestOriginRegistryMatchPrefersLongestUpstream(t *testing.T) {
	cfg := singleOriginConfig("root", "root.local", "https://media.example.com")
	cfg.Origins = append(cfg.Origins, config.OriginConfig{
		Name:     "private",
		Domain:   "private.local",
		Upstream: "https://media.example.com/private",
	})
	registry, err := NewOriginRegistry(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	route, ok := registry.Match("https://media.example.com/private/a.mp4?sig=1")
	if !ok || route.Config.Name != "private" {
		t.Fatalf("expected private origin, got %+v", route)
	}
	route, ok = registry.Match("https://media.example.com/public/b.mp4")
	if !ok || route.Config.Name != "root" {
		t.Fatalf("expected root origin, got %+v", route)
	}
	if _, ok := registry.Match("https://media.example.com.evil/a.mp4"); ok {
		t.Fatalf("host prefix must not match")
	}
	if _, ok := registry.Match("https://other.example.com/a.mp4"); ok {
		t.Fatalf("unrelated url must not match")
	}
}

func TestOriginRouteResourceURL(t *testing.T) {
	registry, err := NewOriginRegistry(singleOriginConfig("cdn", "cdn.local", "https://media.example.com/videos/"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	route, _ := registry.Lookup("cdn.local")

	if got := route.ResourceURL("/a/b.mp4", "t=1"); got != "https://media.example.com/videos/a/b.mp4?t=1" {
		t.Fatalf("unexpected resource url %s", got)
	}
	if got := route.ResourceURL("c.mp4", ""); got != "https://media.example.com/videos/c.mp4" {
		t.Fatalf("unexpected resource url %s", got)
	}
}

func singleOriginConfig(name, domain, upstream string) *config.Config {
	return &config.Config{
		Global: config.GlobalConfig{ListenPort: 5000},
		Origins: []config.OriginConfig{
			{Name: name, Domain: domain, Upstream: upstream},
		},
	}
}
