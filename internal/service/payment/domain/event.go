// internal/service/payment/domain/event.go
package domain

import "time"

// EventKind 区分订单事件的类型。
type EventKind string

const (
	EventKindStatus EventKind = "status" // 状态变化
	EventKindNote   EventKind = "note"   // 备注信息
)

// 支付相关事件的标题，事件一旦写入不再修改，标题也作为幂等判断的锚点。
const (
	EventTitlePaymentInitiated = "Payment Initiated"
	EventTitlePaymentConfirmed = "Payment Confirmed"
	EventTitlePaymentFailed    = "Payment Failed"
	EventTitlePaymentCancelled = "Payment Cancelled"
	EventTitlePaymentRefunded  = "Payment Refunded"
)

// OrderEvent 是订单时间线上的一条记录，只追加、不修改、不重排。
type OrderEvent struct {
	At          time.Time `json:"at"`
	Kind        EventKind `json:"kind"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
}

// PaymentStatusChanged 是支付到达终态时发布到消息总线的领域事件，
// 下游的通知服务消费它给顾客发送确认或失败提醒。
type PaymentStatusChanged struct {
	OrderID    string        `json:"orderId"`
	PaymentRef string        `json:"paymentRef"`
	PaymentID  string        `json:"paymentId,omitempty"`
	Status     PaymentStatus `json:"status"`
	Amount     int64         `json:"amount"`
	Currency   string        `json:"currency"`
	OccurredAt time.Time     `json:"occurredAt"`
	TraceID    string        `json:"traceId,omitempty"`
}
