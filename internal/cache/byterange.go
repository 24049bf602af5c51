package cache

import "fmt"

// ByteRange 表示半开区间 [Offset, Offset+Length)，Length 为 0 时视为空区间。
type ByteRange struct {
	Offset int64 `json:"offset"`
	Length int64 `json:"length"`
}

// NewRange 以 [start, end) 构造区间，end <= start 时返回空区间。
func NewRange(start, end int64) ByteRange {
	if end <= start {
		return ByteRange{Offset: start}
	}
	return ByteRange{Offset: start, Length: end - start}
}

// End 返回区间右端（不包含）。
func (r ByteRange) End() int64 {
	return r.Offset + r.Length
}

// IsEmpty 报告区间是否为空。
func (r ByteRange) IsEmpty() bool {
	return r.Length <= 0
}

// Intersect 返回两个区间的交集，无交集时返回空区间。
func (r ByteRange) Intersect(other ByteRange) ByteRange {
	start := max(r.Offset, other.Offset)
	end := min(r.End(), other.End())
	return NewRange(start, end)
}

// Contains 报告 other 是否完全落在 r 之内。空区间总是被包含。
func (r ByteRange) Contains(other ByteRange) bool {
	if other.IsEmpty() {
		return true
	}
	return other.Offset >= r.Offset && other.End() <= r.End()
}

// Chunks 将区间按 size 切分为若干连续子区间；size <= 0 时整体返回。
func (r ByteRange) Chunks(size int64) []ByteRange {
	if r.IsEmpty() {
		return nil
	}
	if size <= 0 || r.Length <= size {
		return []ByteRange{r}
	}
	chunks := make([]ByteRange, 0, (r.Length+size-1)/size)
	for offset := r.Offset; offset < r.End(); offset += size {
		chunks = append(chunks, NewRange(offset, min(offset+size, r.End())))
	}
	return chunks
}

// Header 返回 HTTP Range 头的闭区间写法，例如 bytes=0-99。
func (r ByteRange) Header() string {
	return fmt.Sprintf("bytes=%d-%d", r.Offset, r.End()-1)
}

func (r ByteRange) String() string {
	return fmt.Sprintf("[%d,%d)", r.Offset, r.End())
}

// ContentInfo 是从源站学习到的资源元数据，首次成功响应后写入 sidecar。
type ContentInfo struct {
	ContentLength              int64  `json:"contentLength"`
	ContentType                string `json:"contentType"`
	IsByteRangeAccessSupported bool   `json:"isByteRangeAccessSupported"`
}
