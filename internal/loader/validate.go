package loader

import (
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/any-hub/any-stream/internal/cache"
)

// servedRange 描述上游实际返回的字节范围；End/Total 为 -1 表示未知。
type servedRange struct {
	Start int64
	End   int64
	Total int64
}

// window 描述如何从响应体中截取请求区间：先丢弃 skip 字节，再保留 keep 字节。
// short 表示上游声明的区间在请求结束前就截止了。
type window struct {
	skip  int64
	keep  int64
	short bool
}

// checkStatus 要求状态码落在 [200,400)。
func checkStatus(resp *http.Response) error {
	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return fmt.Errorf("%w: upstream status %d", ErrResponseValidationFailed, resp.StatusCode)
	}
	return nil
}

// parseContentRange 解析 "bytes a-b/total" 或 "bytes a-b/*"，返回的 End 为开区间。
func parseContentRange(value string) (servedRange, bool) {
	value = strings.TrimSpace(value)
	unit, rest, found := strings.Cut(value, " ")
	if !found || !strings.EqualFold(unit, "bytes") {
		return servedRange{}, false
	}
	span, totalRaw, found := strings.Cut(strings.TrimSpace(rest), "/")
	if !found {
		return servedRange{}, false
	}
	startRaw, endRaw, found := strings.Cut(span, "-")
	if !found {
		return servedRange{}, false
	}
	start, err := strconv.ParseInt(strings.TrimSpace(startRaw), 10, 64)
	if err != nil || start < 0 {
		return servedRange{}, false
	}
	last, err := strconv.ParseInt(strings.TrimSpace(endRaw), 10, 64)
	if err != nil || last < start {
		return servedRange{}, false
	}
	total := int64(-1)
	if totalRaw = strings.TrimSpace(totalRaw); totalRaw != "*" {
		total, err = strconv.ParseInt(totalRaw, 10, 64)
		if err != nil || total <= last {
			return servedRange{}, false
		}
	}
	return servedRange{Start: start, End: last + 1, Total: total}, true
}

// responseRange 推导响应体对应的资源区间。没有 Content-Range 的 200 视为从 0 开始的完整资源。
func responseRange(resp *http.Response) (servedRange, error) {
	if raw := resp.Header.Get("Content-Range"); raw != "" {
		served, ok := parseContentRange(raw)
		if !ok {
			return servedRange{}, fmt.Errorf("%w: malformed Content-Range %q", ErrWrongRange, raw)
		}
		return served, nil
	}
	if resp.StatusCode == http.StatusPartialContent {
		return servedRange{}, fmt.Errorf("%w: 206 without Content-Range", ErrWrongRange)
	}
	served := servedRange{Start: 0, End: -1, Total: -1}
	if resp.ContentLength >= 0 {
		served.End = resp.ContentLength
		served.Total = resp.ContentLength
	}
	return served, nil
}

// contentInfoFromResponse 从响应头学习资源元数据；长度与类型都未知时 ok 为 false。
func contentInfoFromResponse(resp *http.Response, served servedRange) (cache.ContentInfo, bool) {
	info := cache.ContentInfo{
		ContentType: resp.Header.Get("Content-Type"),
	}
	if mediaType, _, err := mime.ParseMediaType(info.ContentType); err == nil {
		info.ContentType = mediaType
	}
	if served.Total > 0 {
		info.ContentLength = served.Total
	}
	acceptRanges := strings.ToLower(resp.Header.Get("Accept-Ranges"))
	info.IsByteRangeAccessSupported = resp.StatusCode == http.StatusPartialContent ||
		strings.Contains(acceptRanges, "bytes")

	if info.ContentLength == 0 && info.ContentType == "" {
		return cache.ContentInfo{}, false
	}
	return info, true
}

// planWindow 计算 want 在响应体中的位置。上游从请求起点之后才开始返回时无法补齐，
// 返回 ErrWrongRange；上游多返回的尾部会被截掉。
func planWindow(want cache.ByteRange, served servedRange) (window, error) {
	if served.Start > want.Offset {
		return window{}, fmt.Errorf("%w: requested %s, served from %d", ErrWrongRange, want, served.Start)
	}
	w := window{
		skip: want.Offset - served.Start,
		keep: want.Length,
	}
	if served.End >= 0 && served.End < want.End() {
		if served.End <= want.Offset {
			return window{}, fmt.Errorf("%w: requested %s, served [%d,%d)", ErrWrongRange, want, served.Start, served.End)
		}
		w.keep = served.End - want.Offset
		w.short = true
	}
	return w, nil
}
