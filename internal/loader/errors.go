package loader

import "errors"

var (
	// ErrResponseValidationFailed 表示上游状态码不在 [200,400) 内。
	ErrResponseValidationFailed = errors.New("response validation failed")
	// ErrWrongRange 表示上游实际返回的区间无法与请求区间对齐。
	ErrWrongRange = errors.New("served range does not match request")
	// ErrDuplicateRead 表示相同 identity/offset/length 的读取已在进行中。
	ErrDuplicateRead = errors.New("identical read already in flight")
	// ErrEmptyRange 表示请求区间长度为 0。
	ErrEmptyRange = errors.New("empty read range")
	// ErrSessionClosed 表示会话已关闭，不再接受新的读取。
	ErrSessionClosed = errors.New("session closed")

	errCancelled = errors.New("read cancelled")
)
