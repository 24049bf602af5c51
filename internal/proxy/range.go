package proxy

import (
	"errors"
	"strconv"
	"strings"

	"github.com/any-hub/any-stream/internal/cache"
)

var errRangeNotSatisfiable = errors.New("range not satisfiable")

// parseRange 解析单段 bytes Range 头，支持 a-b、a- 与 -n 三种写法。
// partial 为 false 表示应返回完整资源：头缺失、单位不是 bytes 或包含多段。
func parseRange(header string, total int64) (want cache.ByteRange, partial bool, err error) {
	full := cache.NewRange(0, total)
	header = strings.TrimSpace(header)
	if header == "" {
		return full, false, nil
	}
	ranges, ok := strings.CutPrefix(header, "bytes=")
	if !ok || strings.Contains(ranges, ",") {
		return full, false, nil
	}
	first, last, ok := strings.Cut(strings.TrimSpace(ranges), "-")
	if !ok {
		return cache.ByteRange{}, false, errRangeNotSatisfiable
	}
	first = strings.TrimSpace(first)
	last = strings.TrimSpace(last)

	if first == "" {
		suffix, err := strconv.ParseInt(last, 10, 64)
		if err != nil || suffix <= 0 {
			return cache.ByteRange{}, false, errRangeNotSatisfiable
		}
		return cache.NewRange(max(total-suffix, 0), total), true, nil
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 || start >= total {
		return cache.ByteRange{}, false, errRangeNotSatisfiable
	}
	end := total
	if last != "" {
		inclusive, err := strconv.ParseInt(last, 10, 64)
		if err != nil || inclusive < start {
			return cache.ByteRange{}, false, errRangeNotSatisfiable
		}
		end = min(inclusive+1, total)
	}
	return cache.NewRange(start, end), true, nil
}
