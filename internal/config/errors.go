package config

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig 是所有语义校验错误的共同根，调用方可用 errors.Is 区分配置错误与 IO 错误。
var ErrInvalidConfig = errors.New("invalid config")

// FieldError 记录出错的字段路径（例如 Origin[cdn].Upstream）与原因。
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Unwrap 让 FieldError 匹配 ErrInvalidConfig。
func (e FieldError) Unwrap() error {
	return ErrInvalidConfig
}

func newFieldError(field, reason string) error {
	return FieldError{Field: field, Reason: reason}
}

// originField 拼出 Origin[name].Field；name 为空时写作 Origin[].Field。
func originField(name, field string) string {
	return fmt.Sprintf("Origin[%s].%s", name, field)
}
