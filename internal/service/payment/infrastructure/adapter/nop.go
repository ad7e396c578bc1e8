// internal/service/payment/infrastructure/adapter/nop.go
package adapter

import (
	"context"

	"mercato/internal/service/payment/domain"
)

// NopPaymentEventProducer 在 Kafka 未配置时使用，事件直接丢弃。
type NopPaymentEventProducer struct{}

func (NopPaymentEventProducer) PublishStatusChanged(context.Context, *domain.PaymentStatusChanged) error {
	return nil
}

// NopReconcileThrottle 在 Redis 未配置时使用，所有对账一律放行。
type NopReconcileThrottle struct{}

func (NopReconcileThrottle) Allow(context.Context, string) (bool, error) {
	return true, nil
}
