package cache

import "sort"

// FragmentIndex 记录单个资源已落盘的字节区间。
// 不变式：按 Offset 升序、两两不相交，且相邻片段之间至少留有 1 字节空隙。
// FragmentIndex 本身不加锁，并发访问由 Store 负责。
type FragmentIndex struct {
	fragments []ByteRange
}

// NewFragmentIndex 通过逐个 Add 构建索引，输入顺序与是否重叠均无要求。
func NewFragmentIndex(ranges ...ByteRange) *FragmentIndex {
	idx := &FragmentIndex{}
	for _, r := range ranges {
		idx.Add(r)
	}
	return idx
}

// Add 插入一个区间，与其重叠或首尾相接的片段会被合并为一个。
func (x *FragmentIndex) Add(r ByteRange) {
	if r.IsEmpty() {
		return
	}
	if len(x.fragments) == 0 {
		x.fragments = append(x.fragments, r)
		return
	}

	// 用 >= / <= 比较而不是严格比较，相当于两侧各放宽 1 字节：
	// 结束于 100 的片段与起始于 100 的新区间必须合并。
	first := sort.Search(len(x.fragments), func(i int) bool {
		return x.fragments[i].End() >= r.Offset
	})
	last := first
	for last < len(x.fragments) && x.fragments[last].Offset <= r.End() {
		last++
	}

	if first == last {
		x.fragments = append(x.fragments, ByteRange{})
		copy(x.fragments[first+1:], x.fragments[first:])
		x.fragments[first] = r
		return
	}

	merged := NewRange(
		min(x.fragments[first].Offset, r.Offset),
		max(x.fragments[last-1].End(), r.End()),
	)
	x.fragments[first] = merged
	x.fragments = append(x.fragments[:first+1], x.fragments[last:]...)
}

// Covering 返回所有片段与 request 的非空交集（升序），每段再按 segmentSize 切块。
func (x *FragmentIndex) Covering(request ByteRange, segmentSize int64) []ByteRange {
	if x == nil || request.IsEmpty() {
		return nil
	}
	var result []ByteRange
	for _, fragment := range x.fragments {
		if fragment.Offset >= request.End() {
			break
		}
		hit := fragment.Intersect(request)
		if hit.IsEmpty() {
			continue
		}
		result = append(result, hit.Chunks(segmentSize)...)
	}
	return result
}

// Contains 报告 r 是否完整落在某个片段内。
func (x *FragmentIndex) Contains(r ByteRange) bool {
	if x == nil {
		return r.IsEmpty()
	}
	if r.IsEmpty() {
		return true
	}
	i := sort.Search(len(x.fragments), func(i int) bool {
		return x.fragments[i].End() > r.Offset
	})
	return i < len(x.fragments) && x.fragments[i].Contains(r)
}

// Clip 丢弃 limit 之后的数据，用于数据文件被截断到 ContentLength 的场景。
func (x *FragmentIndex) Clip(limit int64) {
	kept := x.fragments[:0]
	for _, fragment := range x.fragments {
		if fragment.Offset >= limit {
			break
		}
		if fragment.End() > limit {
			fragment = NewRange(fragment.Offset, limit)
		}
		kept = append(kept, fragment)
	}
	x.fragments = kept
}

// Fragments 返回片段列表的副本。
func (x *FragmentIndex) Fragments() []ByteRange {
	if x == nil {
		return nil
	}
	return append([]ByteRange(nil), x.fragments...)
}

// Len 返回片段数量。
func (x *FragmentIndex) Len() int {
	if x == nil {
		return 0
	}
	return len(x.fragments)
}

// DownloadedBytes 返回已缓存的总字节数。
func (x *FragmentIndex) DownloadedBytes() int64 {
	if x == nil {
		return 0
	}
	var total int64
	for _, fragment := range x.fragments {
		total += fragment.Length
	}
	return total
}

// Clone 返回一个独立副本，供读方在锁外使用。
func (x *FragmentIndex) Clone() *FragmentIndex {
	return &FragmentIndex{fragments: x.Fragments()}
}
