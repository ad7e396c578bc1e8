// internal/service/payment/domain/port/gateway.go
package port

import "context"

// PayerInfo 是随支付请求传给网关的顾客信息。
type PayerInfo struct {
	Name  string
	Email string
}

// PlacePaymentRequest 对应网关传统的 USSD 推送发起方式。
type PlacePaymentRequest struct {
	Amount     int64
	Msisdn     string
	Operator   string
	Currency   string
	Country    string
	PaymentRef string
	Payer      PayerInfo
}

// PlacePaymentResponse 的 Status 原样透传网关返回的状态字符串，
// 这一层不做任何重新解释。
type PlacePaymentResponse struct {
	Status      string
	Message     string
	Channel     string
	ChannelName string
	ChannelUSSD string
	PaymentID   string
	PaymentURL  string
	Raw         map[string]interface{}
}

// WidgetPaymentRequest 对应托管收银台发起方式，
// 成功时拿到可跳转的 payment_url，优先于传统方式使用。
type WidgetPaymentRequest struct {
	Amount     int64
	Msisdn     string
	PaymentRef string
	ReturnURL  string
	CancelURL  string
	NotifyURL  string
	Payer      PayerInfo
}

type WidgetPaymentResponse struct {
	Success    bool
	PaymentURL string
	Raw        map[string]interface{}
}

// Transaction 是网关返回的交易对象。
// Status 是整数码（1=成功 0=失败 -1=取消 -2=退款），
// 这一层保持原值，状态机负责映射到支付状态枚举。
type Transaction struct {
	Status   int
	Amount   int64
	Fee      int64
	Revenue  int64
	Currency string
	Operator string
	Msisdn   string
}

// CheckPaymentResponse 在网关仍在处理时 Transaction 为 nil。
type CheckPaymentResponse struct {
	PaymentID   string
	Message     string
	Transaction *Transaction
	Raw         map[string]interface{}
}

// PaymentGateway 是移动支付网关的出站端口。
// 实现必须在传输层失败时返回 *domain.GatewayError，绝不静默吞错。
// mock 实现由配置选择，响应结构与真实网关完全一致。
type PaymentGateway interface {
	PlacePayment(ctx context.Context, req *PlacePaymentRequest) (*PlacePaymentResponse, error)
	CreateWidgetPayment(ctx context.Context, req *WidgetPaymentRequest) (*WidgetPaymentResponse, error)
	CheckPayment(ctx context.Context, paymentID string) (*CheckPaymentResponse, error)
}
