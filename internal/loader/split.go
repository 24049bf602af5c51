package loader

import "github.com/any-hub/any-stream/internal/cache"

// ActionKind 区分本地读取与远程拉取。
type ActionKind int

const (
	ActionLocal ActionKind = iota
	ActionRemote
)

func (k ActionKind) String() string {
	if k == ActionLocal {
		return "local"
	}
	return "remote"
}

// Action 是读取计划中的一步。
type Action struct {
	Kind  ActionKind
	Range cache.ByteRange
}

// SplitOptions 控制切分粒度。
type SplitOptions struct {
	// SegmentSize 是本地片段交给消费者时的最大块长。
	SegmentSize int64
	// RemoteSegmentSize 大于 0 时，远程缺口会预先切成若干次较小的请求。
	RemoteSegmentSize int64
}

// Split 把 request 拆成按偏移升序、首尾相接的本地/远程动作，拼接后恰好等于 request。
func Split(request cache.ByteRange, index *cache.FragmentIndex, opts SplitOptions) []Action {
	if request.IsEmpty() {
		return nil
	}

	locals := index.Covering(request, opts.SegmentSize)
	if len(locals) == 0 {
		return remoteActions(request, opts.RemoteSegmentSize)
	}

	actions := make([]Action, 0, len(locals)*2+1)
	cursor := request.Offset
	for _, local := range locals {
		if local.Offset > cursor {
			actions = append(actions, remoteActions(cache.NewRange(cursor, local.Offset), opts.RemoteSegmentSize)...)
		}
		actions = append(actions, Action{Kind: ActionLocal, Range: local})
		cursor = local.End()
	}
	if cursor < request.End() {
		actions = append(actions, remoteActions(cache.NewRange(cursor, request.End()), opts.RemoteSegmentSize)...)
	}
	return actions
}

// remoteActions 按 size 切分缺口；剩余不足两段时合并成最后一段，避免产生很小的尾请求。
func remoteActions(gap cache.ByteRange, size int64) []Action {
	if gap.IsEmpty() {
		return nil
	}
	if size <= 0 || gap.Length < 2*size {
		return []Action{{Kind: ActionRemote, Range: gap}}
	}

	var actions []Action
	offset := gap.Offset
	for gap.End()-offset >= 2*size {
		actions = append(actions, Action{Kind: ActionRemote, Range: cache.ByteRange{Offset: offset, Length: size}})
		offset += size
	}
	return append(actions, Action{Kind: ActionRemote, Range: cache.NewRange(offset, gap.End())})
}
