package gateway

import (
	"errors"
	"fmt"
	"net"

	ccxt "github.com/ccxt/ccxt/go/v4"
)

var (
	// ErrStreamClosed 表示流已关闭，后续操作不再有意义。
	ErrStreamClosed = errors.New("gateway: stream closed")
	// ErrTokenRejected 表示交易所拒绝了令牌请求，通常是凭证无效。
	ErrTokenRejected = errors.New("gateway: session token rejected")
)

// apiError 描述一次 REST 调用的非 2xx 响应。
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("gateway: http %d: %s", e.Status, e.Body)
}

// IsRetryable 判断错误是否可重试。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.RateLimitExceededErrType,
			ccxt.DDoSProtectionErrType,
			ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return true
		default:
			return false
		}
	}

	var httpErr *apiError
	if errors.As(err, &httpErr) {
		return httpErr.Status == 429 || httpErr.Status == 418 || httpErr.Status >= 500
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
