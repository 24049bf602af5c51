package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/textproto"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-stream/internal/config"
	"github.com/any-hub/any-stream/internal/version"
)

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewUpstreamClient 返回用于回源的 http.Client。媒体分段可能持续很久，
// 因此超时只约束等待响应头的时间，不限制读取响应体。
func NewUpstreamClient(cfg *config.Config, route *OriginRoute) *http.Client {
	timeout := 30 * time.Second
	if cfg != nil && cfg.Global.UpstreamTimeout.DurationValue() > 0 {
		timeout = cfg.Global.UpstreamTimeout.DurationValue()
	}

	transport := defaultTransport.Clone()
	transport.ResponseHeaderTimeout = timeout
	if route != nil && route.ProxyURL != nil {
		transport.Proxy = http.ProxyURL(route.ProxyURL)
	}
	return &http.Client{Transport: transport}
}

// UpstreamTransport 按资源 URL 匹配 Origin，附加凭证与 User-Agent 后发起 Range 请求；
// 连接失败与 502/503/504 会按指数退避重试。
type UpstreamTransport struct {
	registry       *OriginRegistry
	logger         *logrus.Logger
	maxRetries     int
	initialBackoff time.Duration
	fallback       *http.Client

	mu      sync.Mutex
	clients map[string]*http.Client
	cfg     *config.Config
}

// NewUpstreamTransport 基于配置与注册表构造回源传输层。
func NewUpstreamTransport(cfg *config.Config, registry *OriginRegistry, logger *logrus.Logger) *UpstreamTransport {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	t := &UpstreamTransport{
		registry:       registry,
		logger:         logger,
		maxRetries:     3,
		initialBackoff: time.Second,
		fallback:       NewUpstreamClient(cfg, nil),
		clients:        make(map[string]*http.Client),
		cfg:            cfg,
	}
	if cfg != nil {
		t.maxRetries = cfg.Global.MaxRetries
		if d := cfg.Global.InitialBackoff.DurationValue(); d > 0 {
			t.initialBackoff = d
		}
	}
	return t
}

// Fetch 发起一次 GET；rangeHeader 为空时不带 Range 头。调用方负责关闭响应体。
func (t *UpstreamTransport) Fetch(ctx context.Context, rawURL, rangeHeader string) (*http.Response, error) {
	route, _ := t.registry.Match(rawURL)
	client := t.clientFor(route)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = t.initialBackoff
	policy.MaxElapsedTime = 0
	retries := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(max(t.maxRetries, 0))), ctx)

	attempt := 0
	operation := func() (*http.Response, error) {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		applyOriginHeaders(req, route)
		if rangeHeader != "" {
			req.Header.Set("Range", rangeHeader)
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		if isRetryableStatus(resp.StatusCode) {
			resp.Body.Close()
			return nil, &retryableStatusError{status: resp.StatusCode}
		}
		return resp, nil
	}
	notify := func(err error, wait time.Duration) {
		t.logger.WithError(err).WithFields(logrus.Fields{
			"action":  "upstream_retry",
			"url":     rawURL,
			"range":   rangeHeader,
			"attempt": attempt,
			"wait_ms": wait.Milliseconds(),
		}).Warn("upstream_retry")
	}

	resp, err := backoff.RetryNotifyWithData(operation, retries, notify)
	if err != nil {
		var statusErr *retryableStatusError
		if errors.As(err, &statusErr) {
			// 重试耗尽后把最后一次的状态码交给调用方按业务规则校验。
			return statusResponse(statusErr.status), nil
		}
		return nil, err
	}
	return resp, nil
}

func (t *UpstreamTransport) clientFor(route *OriginRoute) *http.Client {
	if route == nil || route.ProxyURL == nil {
		return t.fallback
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if client, ok := t.clients[route.Config.Name]; ok {
		return client
	}
	client := NewUpstreamClient(t.cfg, route)
	t.clients[route.Config.Name] = client
	return client
}

// applyOriginHeaders 写入 Origin 级的 User-Agent 与 Basic 凭证。
func applyOriginHeaders(req *http.Request, route *OriginRoute) {
	userAgent := version.UserAgent()
	if route != nil && route.Config.UserAgent != "" {
		userAgent = route.Config.UserAgent
	}
	req.Header.Set("User-Agent", userAgent)
	if route != nil && route.Config.HasCredentials() {
		req.SetBasicAuth(route.Config.Username, route.Config.Password)
	}
}

func isRetryableStatus(status int) bool {
	return status == http.StatusBadGateway ||
		status == http.StatusServiceUnavailable ||
		status == http.StatusGatewayTimeout
}

type retryableStatusError struct {
	status int
}

func (e *retryableStatusError) Error() string {
	return fmt.Sprintf("upstream status %d", e.status)
}

// statusResponse 构造只含状态码的空响应。
func statusResponse(status int) *http.Response {
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Header:        http.Header{},
		Body:          http.NoBody,
		ContentLength: 0,
	}
}

// hopByHopHeaders 定义 RFC 7230 中禁止代理转发的头部。
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Proxy-Connection":    {}, // 非标准字段，但部分代理仍使用
}

func isHopByHopHeader(key string) bool {
	canonical := textproto.CanonicalMIMEHeaderKey(key)
	if _, ok := hopByHopHeaders[canonical]; ok {
		return true
	}

	return false
}

// IsHopByHopHeader reports whether the header should be stripped by proxies.
func IsHopByHopHeader(key string) bool {
	return isHopByHopHeader(key)
}
