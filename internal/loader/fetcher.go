package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-stream/internal/cache"
	"github.com/any-hub/any-stream/internal/metrics"
)

// streamChunkSize 是读取上游响应体时单次交付的最大块长。
const streamChunkSize = 32 * 1024

// State 是单次逻辑读取的生命周期状态。
type State int32

const (
	StatePending State = iota
	StateRunning
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// fetcher 顺序执行一次逻辑读取的全部动作，既喂给消费者也回写缓存。
type fetcher struct {
	url       string
	req       ReadRequest
	store     *cache.Store
	transport Transport
	opts      SplitOptions
	consumer  Consumer
	logger    *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
	state  atomic.Int32

	infoSent     bool
	started      time.Time
	bytesCache   int64
	bytesNetwork int64
}

func (f *fetcher) State() State {
	return State(f.state.Load())
}

func (f *fetcher) cancelled() bool {
	return f.ctx.Err() != nil
}

// run 执行读取计划并返回终态错误；被取消时返回 errCancelled。
func (f *fetcher) run() error {
	f.state.Store(int32(StateRunning))
	f.started = time.Now()
	f.logger.WithField("action", "read_start").Debug("read_start")

	want := f.req.Range
	if info, ok := f.store.ContentInfo(); ok {
		f.announce(info)
		if f.req.ToEnd && info.ContentLength > 0 && want.End() > info.ContentLength {
			want = cache.NewRange(want.Offset, info.ContentLength)
		}
	}

	actions := Split(want, f.store.Index(), f.opts)
	for i, action := range actions {
		if f.cancelled() {
			return errCancelled
		}
		openEnded := f.req.ToEnd && i == len(actions)-1

		if action.Kind == ActionLocal {
			data, err := f.store.Read(action.Range)
			if err == nil {
				if !f.deliver(data, true) {
					return errCancelled
				}
				continue
			}
			// 索引声称已缓存但读不出来，改为远程拉取该区间。
			f.logger.WithError(err).WithFields(logrus.Fields{
				"action": "local_read_failed",
				"range":  action.Range.String(),
			}).Warn("local_read_failed")
		}

		if err := f.fetchRemote(action.Range, openEnded); err != nil {
			if f.cancelled() {
				return errCancelled
			}
			return err
		}
	}
	return nil
}

// fetchRemote 为一个远程动作发起一次 Range 请求并把结果流式交付、回写缓存。
func (f *fetcher) fetchRemote(want cache.ByteRange, openEnded bool) error {
	header := want.Header()
	if openEnded {
		header = fmt.Sprintf("bytes=%d-", want.Offset)
	}

	started := time.Now()
	resp, err := f.transport.Fetch(f.ctx, f.url, header)
	if err != nil {
		metrics.RecordRemoteFetch(0, time.Since(started))
		return err
	}
	defer resp.Body.Close()
	defer func() { metrics.RecordRemoteFetch(resp.StatusCode, time.Since(started)) }()

	if err := checkStatus(resp); err != nil {
		return err
	}
	served, err := responseRange(resp)
	if err != nil {
		return err
	}
	if stored, known := f.store.ContentInfo(); !known || stored.ContentLength <= 0 {
		if info, ok := contentInfoFromResponse(resp, served); ok {
			// 没有长度的元数据不落盘，留给后续响应补全。
			if info.ContentLength > 0 {
				f.store.SetContentInfo(info)
			}
			f.announce(info)
		}
	}
	// 读到资源末尾的请求：资源比预估短属于正常情况，按实际末尾收窄。
	if openEnded {
		end := served.Total
		if end < 0 {
			end = served.End
		}
		if end >= 0 && want.End() > end {
			want = cache.NewRange(want.Offset, end)
			if want.IsEmpty() {
				return nil
			}
		}
	}

	win, err := planWindow(want, served)
	if err != nil {
		return err
	}
	if win.skip > 0 {
		if _, err := io.CopyN(io.Discard, resp.Body, win.skip); err != nil {
			return bodyError(err, want)
		}
	}

	written, err := f.stream(resp.Body, want.Offset, win.keep)
	if written > 0 {
		f.store.Persist()
	}
	if err != nil {
		return err
	}
	if win.short {
		return fmt.Errorf("%w: requested %s, served up to %d", ErrWrongRange, want, served.End)
	}
	return nil
}

// stream 从 body 读取 keep 字节，每块先写缓存再交付给消费者。
func (f *fetcher) stream(body io.Reader, offset, keep int64) (int64, error) {
	buf := make([]byte, streamChunkSize)
	var done int64
	for done < keep {
		n, err := body.Read(buf[:min(int64(len(buf)), keep-done)])
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			f.store.Write(chunk, offset+done)
			done += int64(n)
			if !f.deliver(chunk, false) {
				return done, errCancelled
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) && done < keep {
				return done, bodyError(err, cache.ByteRange{Offset: offset, Length: keep})
			}
			if errors.Is(err, io.EOF) {
				break
			}
			return done, err
		}
	}
	return done, nil
}

// bodyError 把过早的 EOF 归为 ErrWrongRange：上游声明的区间与实际字节数不符。
func bodyError(err error, want cache.ByteRange) error {
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: body ended before %s was complete", ErrWrongRange, want)
	}
	return err
}

// deliver 交付一块数据；读取已被取消时返回 false。
func (f *fetcher) deliver(data []byte, fromCache bool) bool {
	if f.cancelled() {
		return false
	}
	if fromCache {
		f.bytesCache += int64(len(data))
		metrics.RecordBytes(metrics.SourceCache, len(data))
	} else {
		f.bytesNetwork += int64(len(data))
		metrics.RecordBytes(metrics.SourceNetwork, len(data))
	}
	f.consumer.OnData(data, fromCache)
	return true
}

// announce 每次读取最多通知一次元数据。
func (f *fetcher) announce(info cache.ContentInfo) {
	if f.infoSent {
		return
	}
	f.infoSent = true
	f.consumer.OnContentInfo(info)
}

// finish 记录终态并回调消费者；被取消的读取不回调。
func (f *fetcher) finish(err error) {
	fields := logrus.Fields{
		"bytes_cache":   f.bytesCache,
		"bytes_network": f.bytesNetwork,
		"elapsed_ms":    time.Since(f.started).Milliseconds(),
	}

	switch {
	case errors.Is(err, errCancelled) || (err == nil && f.cancelled()):
		f.state.Store(int32(StateCancelled))
		metrics.RecordRead("cancelled", time.Since(f.started))
		f.logger.WithFields(fields).WithField("action", "read_cancelled").Debug("read_cancelled")
		return
	case err != nil:
		f.state.Store(int32(StateFailed))
		metrics.RecordRead("failed", time.Since(f.started))
		f.logger.WithError(err).WithFields(fields).WithField("action", "read_failed").Warn("read_failed")
	default:
		f.state.Store(int32(StateCompleted))
		metrics.RecordRead("completed", time.Since(f.started))
		f.logger.WithFields(fields).WithField("action", "read_complete").Info("read_complete")
	}
	f.consumer.OnComplete(err)
}
