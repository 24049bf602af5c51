package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"sync"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-stream/internal/cache"
	"github.com/any-hub/any-stream/internal/loader"
	"github.com/any-hub/any-stream/internal/logging"
	"github.com/any-hub/any-stream/internal/server"
)

const (
	headerCacheStatus = "X-Any-Stream-Cache"
	headerReadID      = "X-Read-ID"

	cacheHit     = "hit"
	cacheMiss    = "miss"
	cachePartial = "partial"
	cacheBypass  = "bypass"
)

// errReadAborted 在读取被取消且没有终态回调时关闭响应体。
var errReadAborted = errors.New("read aborted")

// Handler 把客户端的 GET/HEAD 请求翻译为资源会话上的逻辑读取，
// 通过 Fiber 流式写回；缓存不可用时直接透传上游。
type Handler struct {
	manager   *loader.Manager
	transport loader.Transport
	logger    *logrus.Logger
}

// NewHandler constructs a proxy handler backed by the session manager.
func NewHandler(manager *loader.Manager, transport loader.Transport, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		manager:   manager,
		transport: transport,
		logger:    logger,
	}
}

// Handle 解析 Range，必要时先探测资源长度，再把区间读取流式写回客户端。
func (h *Handler) Handle(c fiber.Ctx, route *server.OriginRoute) error {
	started := time.Now()
	requestID := server.RequestID(c)
	method := c.Method()
	if method != fiber.MethodGet && method != fiber.MethodHead {
		return h.writeError(c, fiber.StatusMethodNotAllowed, "method_not_allowed")
	}

	resource := route.ResourceURL(requestPath(c), string(c.Request().URI().QueryString()))
	rangeHeader := c.Get(fiber.HeaderRange)

	session, err := h.manager.Session(resource)
	if err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"action":   "session_open",
			"origin":   route.Config.Name,
			"resource": resource,
		}).Warn("cache_bypass")
		return h.serveDirect(c, route, resource, rangeHeader, requestID, started)
	}

	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	info, err := session.Probe(ctx)
	if err != nil {
		h.logResult(route, resource, requestID, 0, cacheMiss, started, err)
		return h.writeError(c, statusForError(err), "upstream_failed")
	}
	if info.ContentLength <= 0 {
		return h.serveDirect(c, route, resource, rangeHeader, requestID, started)
	}

	want, partial, err := parseRange(rangeHeader, info.ContentLength)
	if err != nil {
		c.Set(fiber.HeaderContentRange, fmt.Sprintf("bytes */%d", info.ContentLength))
		h.logResult(route, resource, requestID, fiber.StatusRequestedRangeNotSatisfiable, "", started, err)
		return h.writeError(c, fiber.StatusRequestedRangeNotSatisfiable, "range_not_satisfiable")
	}
	status := fiber.StatusOK
	if partial {
		status = fiber.StatusPartialContent
		c.Set(fiber.HeaderContentRange, contentRange(want, info.ContentLength))
	}

	state := cacheState(session.Fragments(), want)
	c.Set(fiber.HeaderAcceptRanges, "bytes")
	c.Set(headerCacheStatus, state)
	if info.ContentType != "" {
		c.Set(fiber.HeaderContentType, info.ContentType)
	}

	if method == fiber.MethodHead {
		c.Response().Header.SetContentLength(int(want.Length))
		c.Status(status)
		h.logResult(route, resource, requestID, status, state, started, nil)
		return nil
	}

	identity := c.Get(headerReadID)
	if identity == "" {
		identity = uuid.NewString()
	}
	req := loader.ReadRequest{
		Identity: identity,
		Range:    want,
		ToEnd:    want.End() == info.ContentLength,
	}
	return h.stream(c, route, session, req, status, state, requestID, started)
}

// stream 启动读取并等待首个字节或终态；之后响应头不可再改，剩余数据经管道流出。
func (h *Handler) stream(
	c fiber.Ctx,
	route *server.OriginRoute,
	session *loader.Session,
	req loader.ReadRequest,
	status int,
	state string,
	requestID string,
	started time.Time,
) error {
	// 读取生命周期跨越 handler 返回，不能绑定在请求上下文上。
	ctx, cancel := context.WithCancel(context.Background())
	body, pr := newBodyPipe(cancel)

	handle, err := session.RequestRead(ctx, req, body)
	if err != nil {
		cancel()
		body.pw.Close()
		clearReadHeaders(c)
		h.logResult(route, session.URL(), requestID, 0, state, started, err)
		if errors.Is(err, loader.ErrDuplicateRead) {
			return h.writeError(c, fiber.StatusConflict, "duplicate_read")
		}
		return h.writeError(c, fiber.StatusServiceUnavailable, "session_unavailable")
	}

	go func() {
		body.watch(handle)
		<-handle.Done()
		cancel()
		h.logResult(route, session.URL(), requestID, status, state, started, body.result())
	}()

	select {
	case <-body.ready:
	case <-handle.Done():
	}
	if ok, err := body.first(); !ok || err != nil {
		if !ok {
			err = errReadAborted
		}
		pr.Close()
		clearReadHeaders(c)
		return h.writeError(c, statusForError(err), "upstream_failed")
	}

	c.Status(status)
	c.Response().SetBodyStream(pr, int(req.Range.Length))
	return nil
}

// bodyPipe 把读取回调转写进管道；客户端断开时取消读取。
type bodyPipe struct {
	pw     *io.PipeWriter
	cancel context.CancelFunc

	once     sync.Once
	ready    chan struct{}
	firstErr error

	mu  sync.Mutex
	err error
}

func newBodyPipe(cancel context.CancelFunc) (*bodyPipe, *io.PipeReader) {
	pr, pw := io.Pipe()
	return &bodyPipe{pw: pw, cancel: cancel, ready: make(chan struct{})}, pr
}

// watch 在读取被取消或结束时关闭管道，客户端暂停读取也不会卡住 OnData。
func (p *bodyPipe) watch(handle *loader.Handle) {
	select {
	case <-handle.Cancelled():
	case <-handle.Done():
	}
	p.pw.CloseWithError(errReadAborted)
}

func (p *bodyPipe) OnContentInfo(cache.ContentInfo) {}

func (p *bodyPipe) OnData(data []byte, _ bool) {
	p.markReady(nil)
	if _, err := p.pw.Write(data); err != nil {
		p.cancel()
	}
}

func (p *bodyPipe) OnComplete(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
	p.markReady(err)
	p.pw.CloseWithError(err)
}

func (p *bodyPipe) markReady(err error) {
	p.once.Do(func() {
		p.firstErr = err
		close(p.ready)
	})
}

// first 返回首个事件携带的错误；尚无事件时 ok 为 false。
func (p *bodyPipe) first() (ok bool, err error) {
	select {
	case <-p.ready:
		return true, p.firstErr
	default:
		return false, nil
	}
}

func (p *bodyPipe) result() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// serveDirect 不经缓存直接透传上游响应。
func (h *Handler) serveDirect(
	c fiber.Ctx,
	route *server.OriginRoute,
	resource string,
	rangeHeader string,
	requestID string,
	started time.Time,
) error {
	ctx, cancel := context.WithCancel(context.Background())
	resp, err := h.transport.Fetch(ctx, resource, rangeHeader)
	if err != nil {
		cancel()
		h.logResult(route, resource, requestID, 0, cacheBypass, started, err)
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}

	copyResponseHeaders(c, resp.Header)
	c.Set(headerCacheStatus, cacheBypass)
	c.Status(resp.StatusCode)
	h.logResult(route, resource, requestID, resp.StatusCode, cacheBypass, started, nil)

	if c.Method() == fiber.MethodHead {
		resp.Body.Close()
		cancel()
		if resp.ContentLength >= 0 {
			c.Response().Header.SetContentLength(int(resp.ContentLength))
		}
		return nil
	}
	c.Response().SetBodyStream(&upstreamBody{ReadCloser: resp.Body, cancel: cancel}, int(resp.ContentLength))
	return nil
}

type upstreamBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *upstreamBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// clearReadHeaders 撤销读取开始前写入的响应头，避免带到错误响应上。
func clearReadHeaders(c fiber.Ctx) {
	header := &c.Response().Header
	header.Del(fiber.HeaderContentRange)
	header.Del(fiber.HeaderAcceptRanges)
	header.Del(fiber.HeaderContentType)
	header.Del(headerCacheStatus)
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	route *server.OriginRoute,
	resource string,
	requestID string,
	status int,
	state string,
	started time.Time,
	err error,
) {
	fields := logging.RequestFields(
		route.Config.Name,
		route.Config.Domain,
		route.Config.AuthMode(),
		state,
	)
	fields["action"] = "proxy"
	fields["resource"] = resource
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

// statusForError 把读取错误映射为客户端可见的状态码。
func statusForError(err error) int {
	switch {
	case errors.Is(err, loader.ErrDuplicateRead):
		return fiber.StatusConflict
	case errors.Is(err, loader.ErrSessionClosed), errors.Is(err, errReadAborted):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusBadGateway
	}
}

// cacheState 根据已缓存片段判断请求区间的命中情况。
func cacheState(fragments []cache.ByteRange, want cache.ByteRange) string {
	index := cache.NewFragmentIndex(fragments...)
	switch {
	case index.Contains(want):
		return cacheHit
	case len(index.Covering(want, 0)) > 0:
		return cachePartial
	default:
		return cacheMiss
	}
}

func contentRange(r cache.ByteRange, total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Offset, r.End()-1, total)
}

func requestPath(c fiber.Ctx) string {
	pathVal := string(c.Request().URI().Path())
	if pathVal == "" {
		return "/"
	}
	return path.Clean("/" + pathVal)
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if server.IsHopByHopHeader(key) || http.CanonicalHeaderKey(key) == fiber.HeaderContentLength {
			continue
		}
		for _, value := range values {
			c.Set(key, value)
		}
	}
}
