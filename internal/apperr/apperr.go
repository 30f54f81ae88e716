package apperr

import (
	"errors"
	"fmt"
)

// Kind 描述错误类别，决定周期内的传播策略。
type Kind string

const (
	KindUnknown         Kind = "unknown"
	KindNetwork         Kind = "network"
	KindAuth            Kind = "auth"
	KindRejected        Kind = "rejected"
	KindNotFound        Kind = "not_found"
	KindDataUnavailable Kind = "data_unavailable"
	KindInvalidInput    Kind = "invalid_input"
)

// Error 携带类别与操作名的错误。
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New 构造指定类别的错误。
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf 以格式化消息构造指定类别的错误。
func Newf(kind Kind, op, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf 返回错误链中第一个 *Error 的类别。
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is 判断错误是否属于给定类别。
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
