package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/any-hub/any-stream/internal/cache"
	"github.com/any-hub/any-stream/internal/logging"
	"github.com/any-hub/any-stream/internal/metrics"
)

// ReadRequest 描述一次逻辑读取。
type ReadRequest struct {
	// Identity 是调用方提供的稳定读取标识，用于识别重复读取。
	Identity string
	Range    cache.ByteRange
	// ToEnd 表示调用方希望一直读到资源末尾；Range 的结束位置只是预估值。
	ToEnd bool
}

// Consumer 接收一次读取的结果。回调在读取自己的 goroutine 上按顺序触发，
// OnData 收到的切片只读。
type Consumer interface {
	OnContentInfo(info cache.ContentInfo)
	OnData(data []byte, fromCache bool)
	OnComplete(err error)
}

// ConsumerFuncs adapts plain functions to the Consumer interface; nil fields are ignored.
type ConsumerFuncs struct {
	ContentInfo func(cache.ContentInfo)
	Data        func([]byte, bool)
	Complete    func(error)
}

func (c ConsumerFuncs) OnContentInfo(info cache.ContentInfo) {
	if c.ContentInfo != nil {
		c.ContentInfo(info)
	}
}

func (c ConsumerFuncs) OnData(data []byte, fromCache bool) {
	if c.Data != nil {
		c.Data(data, fromCache)
	}
}

func (c ConsumerFuncs) OnComplete(err error) {
	if c.Complete != nil {
		c.Complete(err)
	}
}

// Handle 是调用方持有的读取句柄，用于取消与等待结束。
type Handle struct {
	ID   string
	done chan struct{}
	f    *fetcher
}

// Done 在读取结束（完成、失败或取消）后关闭。
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Cancelled 在读取被取消时关闭；读取结束后也会关闭。
func (h *Handle) Cancelled() <-chan struct{} {
	return h.f.ctx.Done()
}

// State 返回读取当前状态。
func (h *Handle) State() State {
	return h.f.State()
}

// SessionOptions 配置单个资源会话。
type SessionOptions struct {
	Transport Transport
	Logger    *logrus.Logger
	Split     SplitOptions
}

type readKey struct {
	identity string
	offset   int64
	length   int64
}

// Session 管理单个资源的缓存条目及其进行中的读取。
type Session struct {
	url       string
	store     *cache.Store
	transport Transport
	split     SplitOptions
	logger    *logrus.Logger
	probes    singleflight.Group

	mu      sync.Mutex
	closed  bool
	pending map[readKey]*Handle
	handles map[string]*Handle
	wg      sync.WaitGroup

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewSession 打开 rawURL 在 dir 下的缓存条目。文件系统失败以 cache.ErrStorage 返回，
// 调用方可据此退回不缓存的直连播放。
func NewSession(dir, rawURL string, opts SessionOptions) (*Session, error) {
	if opts.Transport == nil {
		return nil, errors.New("transport is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	store, err := cache.Open(dir, rawURL, cache.StoreOptions{Logger: logger})
	if err != nil {
		return nil, err
	}
	return &Session{
		url:       rawURL,
		store:     store,
		transport: opts.Transport,
		split:     opts.Split,
		logger:    logger,
		pending:   make(map[readKey]*Handle),
		handles:   make(map[string]*Handle),
	}, nil
}

// URL 返回会话对应的资源地址。
func (s *Session) URL() string {
	return s.url
}

// RequestRead 登记并启动一次读取。相同 Identity/Offset/Length 的读取仍在进行时返回
// ErrDuplicateRead，不会重复拉取。
func (s *Session) RequestRead(ctx context.Context, req ReadRequest, consumer Consumer) (*Handle, error) {
	if req.Range.IsEmpty() {
		return nil, ErrEmptyRange
	}
	if consumer == nil {
		consumer = ConsumerFuncs{}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	key := readKey{identity: req.Identity, offset: req.Range.Offset, length: req.Range.Length}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if _, exists := s.pending[key]; exists {
		s.mu.Unlock()
		metrics.RecordDuplicateRead()
		return nil, fmt.Errorf("%w: %s %s", ErrDuplicateRead, req.Identity, req.Range)
	}

	id := uuid.NewString()
	fctx, cancel := context.WithCancel(ctx)
	fields := logging.ReadFields(s.url, req.Identity, req.Range.Offset, req.Range.Length)
	fields["read_id"] = id
	f := &fetcher{
		url:       s.url,
		req:       req,
		store:     s.store,
		transport: s.transport,
		opts:      s.split,
		consumer:  consumer,
		logger:    s.logger.WithFields(fields),
		ctx:       fctx,
		cancel:    cancel,
	}
	handle := &Handle{ID: id, done: make(chan struct{}), f: f}
	s.pending[key] = handle
	s.handles[id] = handle
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer close(handle.done)
		defer cancel()

		err := f.run()
		s.release(key, id)
		f.finish(err)
	}()
	return handle, nil
}

// release 移除读取的登记信息。
func (s *Session) release(key readKey, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, key)
	delete(s.handles, id)
}

// Cancel 取消句柄对应的读取；读取已结束时返回 false。
func (s *Session) Cancel(handle *Handle) bool {
	if handle == nil {
		return false
	}
	s.mu.Lock()
	active, ok := s.handles[handle.ID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	active.f.cancel()
	return true
}

// InFlight 返回进行中的读取数量。
func (s *Session) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// ContentInfo 返回已知的资源元数据。
func (s *Session) ContentInfo() (cache.ContentInfo, bool) {
	return s.store.ContentInfo()
}

// Progress 返回已缓存字节数与资源总长度（未知时为 0）。
func (s *Session) Progress() (downloaded, total int64) {
	return s.store.Progress()
}

// Fragments 返回当前已缓存片段的快照。
func (s *Session) Fragments() []cache.ByteRange {
	return s.store.Index().Fragments()
}

// Probe 确保资源长度已知：未知时请求前两个字节并从响应头学习。
// 并发调用只会发出一次请求，且该请求不随任一调用方的取消而中断。
// 上游没有给出长度时返回的 ContentInfo 不会落盘，下次调用会重新探测。
func (s *Session) Probe(ctx context.Context) (cache.ContentInfo, error) {
	if info, ok := s.knownInfo(); ok {
		return info, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	shared := context.WithoutCancel(ctx)
	value, err, _ := s.probes.Do("probe", func() (any, error) {
		if info, ok := s.knownInfo(); ok {
			return info, nil
		}
		resp, err := s.transport.Fetch(shared, s.url, cache.NewRange(0, 2).Header())
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		defer io.Copy(io.Discard, io.LimitReader(resp.Body, streamChunkSize))

		if err := checkStatus(resp); err != nil {
			return nil, err
		}
		served, err := responseRange(resp)
		if err != nil {
			return nil, err
		}
		info, ok := contentInfoFromResponse(resp, served)
		if !ok {
			return nil, fmt.Errorf("%w: no content information in response", ErrResponseValidationFailed)
		}
		if info.ContentLength <= 0 {
			return info, nil
		}
		s.store.SetContentInfo(info)
		s.store.Flush()
		s.logger.WithFields(logrus.Fields{
			"action":         "probe",
			"url":            s.url,
			"content_length": info.ContentLength,
			"content_type":   info.ContentType,
		}).Debug("content_info_learned")
		return info, nil
	})
	if err != nil {
		return cache.ContentInfo{}, err
	}
	return value.(cache.ContentInfo), nil
}

// knownInfo 返回长度已知的元数据。
func (s *Session) knownInfo() (cache.ContentInfo, bool) {
	info, ok := s.store.ContentInfo()
	return info, ok && info.ContentLength > 0
}

// Shutdown 取消全部进行中的读取，等待其退出后关闭缓存条目。
func (s *Session) Shutdown() error {
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		for _, handle := range s.handles {
			handle.f.cancel()
		}
		s.mu.Unlock()

		s.wg.Wait()
		s.shutdownErr = s.store.Close()
	})
	return s.shutdownErr
}
