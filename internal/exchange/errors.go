package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"kalshi-weather/internal/apperr"
)

// ErrNoSigner 表示未配置 API 密钥却调用了需要签名的接口。
var ErrNoSigner = errors.New("exchange: 未配置签名密钥")

// StatusError 保留交易所返回的 HTTP 状态与错误信息。
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("kalshi %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("kalshi %d: %s", e.StatusCode, e.Message)
}

// classifyError 将底层错误映射为系统错误类别。
func classifyError(op string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperr.New(apperr.KindNetwork, op, err)
	}
	if errors.Is(err, ErrNoSigner) {
		return apperr.New(apperr.KindAuth, op, err)
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusUnauthorized || statusErr.StatusCode == http.StatusForbidden:
			return apperr.New(apperr.KindAuth, op, err)
		case statusErr.StatusCode == http.StatusNotFound:
			return apperr.New(apperr.KindNotFound, op, err)
		case statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500:
			return apperr.New(apperr.KindNetwork, op, err)
		default:
			return apperr.New(apperr.KindRejected, op, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return apperr.New(apperr.KindNetwork, op, err)
	}

	return apperr.New(apperr.KindDataUnavailable, op, err)
}

// IsRetryable 判断错误是否值得在下一个周期重试。
func IsRetryable(err error) bool {
	return apperr.Is(err, apperr.KindNetwork)
}
