// internal/service/payment/domain/errors.go
package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

// 错误分级。handler 层据此映射 HTTP 状态码：
// NotFound -> 404，InvalidRequest / PaymentSucceeded -> 400，GatewayError -> 500。
var (
	ErrOrderNotFound = errors.New("order not found")

	ErrInvalidRequest = errors.New("invalid request")

	// ErrPaymentSucceeded 用于取消保护：已成功的支付绝不允许被清除。
	ErrPaymentSucceeded = errors.New("payment already succeeded")
)

// GatewayError 表示对网关的出站调用失败。
// Unavailable 为 true 表示传输层故障（超时、连接失败），这类错误可以重试；
// 否则是网关返回了无法解析或明确拒绝的响应。
// Raw 尽可能保留网关的原始载荷用于诊断，但不会作为面向用户的错误信息暴露。
type GatewayError struct {
	Op          string
	Unavailable bool
	Raw         map[string]interface{}
	Err         error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("gateway %s failed", e.Op)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// NewGatewayUnavailable 包装一次传输层失败。
func NewGatewayUnavailable(op string, err error) *GatewayError {
	return &GatewayError{Op: op, Unavailable: true, Err: err}
}
