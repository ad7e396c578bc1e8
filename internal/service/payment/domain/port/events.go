// internal/service/payment/domain/port/events.go
package port

import (
	"context"

	"mercato/internal/service/payment/domain"
)

// PaymentEventProducer 把支付终态事件发布给下游消费者（通知服务等）。
type PaymentEventProducer interface {
	PublishStatusChanged(ctx context.Context, event *domain.PaymentStatusChanged) error
}

// ReconcileThrottle 限制轮询触发的对账频率。
// Allow 返回 false 表示该订单刚刚对过账，本次 Check 直接返回持久化状态即可。
// webhook 触发的对账不经过这里。
type ReconcileThrottle interface {
	Allow(ctx context.Context, orderID string) (bool, error)
}
