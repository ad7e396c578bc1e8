// internal/service/payment/infrastructure/adapter/payment_event_kafka_adapter.go
package adapter

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"mercato/internal/service/payment/domain"
)

// PaymentEventKafkaAdapter 把支付终态事件发布到 Kafka，
// 下游的通知服务按订单 id 分区消费。
type PaymentEventKafkaAdapter struct {
	writer *kafka.Writer
}

func NewPaymentEventKafkaAdapter(brokers []string, topic string) *PaymentEventKafkaAdapter {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
	}
	return &PaymentEventKafkaAdapter{writer: writer}
}

func (p *PaymentEventKafkaAdapter) PublishStatusChanged(ctx context.Context, event *domain.PaymentStatusChanged) error {
	data, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "marshal payment status event")
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.OrderID),
		Value: data,
	})
	return errors.Wrap(err, "produce payment status event")
}

func (p *PaymentEventKafkaAdapter) Close() error {
	return p.writer.Close()
}
