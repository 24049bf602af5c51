package loader

import (
	"context"
	"net/http"
)

// Transport 执行一次带 Range 头的 GET，返回流式响应；调用方负责关闭 Body。
type Transport interface {
	Fetch(ctx context.Context, rawURL, rangeHeader string) (*http.Response, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, rawURL, rangeHeader string) (*http.Response, error)

// Fetch makes TransportFunc satisfy Transport.
func (f TransportFunc) Fetch(ctx context.Context, rawURL, rangeHeader string) (*http.Response, error) {
	return f(ctx, rawURL, rangeHeader)
}

// ClientTransport 用给定的 http.Client 发起请求，client 为空时使用 http.DefaultClient。
func ClientTransport(client *http.Client) Transport {
	if client == nil {
		client = http.DefaultClient
	}
	return TransportFunc(func(ctx context.Context, rawURL, rangeHeader string) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		if rangeHeader != "" {
			req.Header.Set("Range", rangeHeader)
		}
		return client.Do(req)
	})
}
