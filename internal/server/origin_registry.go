package server

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/any-hub/any-stream/internal/config"
)

// OriginRoute 将 Origin 配置与解析后的 Upstream/Proxy URL 聚合在一起，
// 供路由/传输层直接复用，避免重复解析配置。
type OriginRoute struct {
	// Config 是用户在 config.toml 中声明的 Origin 字段副本，避免外部修改。
	Config config.OriginConfig
	// ListenPort 记录当前 CLI 监听端口，方便日志输出。
	ListenPort int
	// UpstreamURL/ProxyURL 在构造 Registry 时提前解析完成。
	UpstreamURL *url.URL
	ProxyURL    *url.URL
}

// ResourceURL 把请求路径与查询串拼到 Upstream 之后，得到资源的完整地址。
func (r *OriginRoute) ResourceURL(path, rawQuery string) string {
	base := strings.TrimRight(r.UpstreamURL.String(), "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	resource := base + path
	if rawQuery != "" {
		resource += "?" + rawQuery
	}
	return resource
}

// OriginRegistry 提供 Host/Host:port 到 OriginRoute 的查询能力，所有 Origin 共享同一个监听端口。
type OriginRegistry struct {
	routes  map[string]*OriginRoute
	ordered []*OriginRoute
	// byPrefix 按 Upstream 长度降序排列，用于根据资源 URL 反查 Origin。
	byPrefix []*OriginRoute
}

// NewOriginRegistry 根据配置构建 Host 映射。调用方应在启动阶段创建一次并复用。
func NewOriginRegistry(cfg *config.Config) (*OriginRegistry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	registry := &OriginRegistry{
		routes: make(map[string]*OriginRoute, len(cfg.Origins)),
	}

	for _, origin := range cfg.Origins {
		normalizedHost := normalizeDomain(origin.Domain)
		if normalizedHost == "" {
			return nil, fmt.Errorf("invalid domain for origin %s", origin.Name)
		}
		if _, exists := registry.routes[normalizedHost]; exists {
			return nil, fmt.Errorf("duplicate domain mapping detected for %s", normalizedHost)
		}

		route, err := buildOriginRoute(cfg, origin)
		if err != nil {
			return nil, err
		}

		registry.routes[normalizedHost] = route
		registry.ordered = append(registry.ordered, route)
	}

	registry.byPrefix = append([]*OriginRoute(nil), registry.ordered...)
	sort.SliceStable(registry.byPrefix, func(i, j int) bool {
		return len(registry.byPrefix[i].UpstreamURL.String()) > len(registry.byPrefix[j].UpstreamURL.String())
	})
	return registry, nil
}

// Lookup 根据 Host 或 Host:port 查找 OriginRoute。
func (r *OriginRegistry) Lookup(host string) (*OriginRoute, bool) {
	if r == nil {
		return nil, false
	}

	normalizedHost, _ := normalizeHost(host)
	if normalizedHost == "" {
		return nil, false
	}

	route, ok := r.routes[normalizedHost]
	return route, ok
}

// Match 返回 Upstream 是 rawURL 前缀的 Origin，多个匹配时取最长的那个。
func (r *OriginRegistry) Match(rawURL string) (*OriginRoute, bool) {
	if r == nil {
		return nil, false
	}
	for _, route := range r.byPrefix {
		base := strings.TrimRight(route.UpstreamURL.String(), "/")
		if rawURL == base || strings.HasPrefix(rawURL, base+"/") || strings.HasPrefix(rawURL, base+"?") {
			return route, true
		}
	}
	return nil, false
}

// List 返回当前注册的 OriginRoute 列表（按配置定义的顺序），用于调试或诊断输出。
func (r *OriginRegistry) List() []OriginRoute {
	if r == nil || len(r.ordered) == 0 {
		return nil
	}

	result := make([]OriginRoute, len(r.ordered))
	for i, route := range r.ordered {
		result[i] = *route
	}
	return result
}

func buildOriginRoute(cfg *config.Config, origin config.OriginConfig) (*OriginRoute, error) {
	upstreamURL, err := url.Parse(origin.Upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream for origin %s: %w", origin.Name, err)
	}

	var proxyURL *url.URL
	if origin.Proxy != "" {
		proxyURL, err = url.Parse(origin.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy for origin %s: %w", origin.Name, err)
		}
	}

	return &OriginRoute{
		Config:      origin,
		ListenPort:  cfg.Global.ListenPort,
		UpstreamURL: upstreamURL,
		ProxyURL:    proxyURL,
	}, nil
}

func normalizeDomain(domain string) string {
	host, _ := normalizeHost(domain)
	return host
}

func normalizeHost(raw string) (string, int) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0
	}

	host := raw
	port := 0

	if strings.Contains(raw, ":") {
		if h, p, err := net.SplitHostPort(raw); err == nil {
			host = h
			if parsedPort, err := strconv.Atoi(p); err == nil {
				port = parsedPort
			}
		} else if idx := strings.LastIndex(raw, ":"); idx > -1 && strings.Count(raw[idx+1:], ":") == 0 {
			if parsedPort, err := strconv.Atoi(raw[idx+1:]); err == nil {
				host = raw[:idx]
				port = parsedPort
			}
		}
	}

	host = strings.TrimSuffix(host, ".")
	host = strings.ToLower(host)
	return host, port
}
