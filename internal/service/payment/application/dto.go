// internal/service/payment/application/dto.go
package application

import (
	"time"

	"mercato/internal/service/payment/domain"
)

// Config 是状态机需要的网关侧参数，由组装根从全局配置映射而来。
type Config struct {
	Currency  string
	Country   string
	Locale    string
	NotifyURL string
	ReturnURL string
	CancelURL string
}

// InitiateRequest 是发起支付用例的输入数据。Operator 可选，
// 缺省时根据号段表推断。
type InitiateRequest struct {
	OrderID  string `json:"orderId"`
	Phone    string `json:"phone"`
	Operator string `json:"operator,omitempty"`
}

// InitiateResponse 是发起支付用例的输出数据。
// Status 在真实发起时原样透传网关的状态字符串；
// AlreadyPending 让客户端能够区分"新发起"和"已有进行中的支付"。
type InitiateResponse struct {
	Status         string `json:"status"`
	Message        string `json:"message"`
	PaymentID      string `json:"paymentId,omitempty"`
	PaymentURL     string `json:"payment_url,omitempty"`
	Channel        string `json:"channel,omitempty"`
	ChannelUSSD    string `json:"channel_ussd,omitempty"`
	AlreadyPending bool   `json:"already_pending,omitempty"`
}

// PaymentView 是支付记录对外的只读视图。
type PaymentView struct {
	Provider      string               `json:"provider"`
	PaymentID     string               `json:"paymentId,omitempty"`
	PaymentRef    string               `json:"paymentRef"`
	Status        domain.PaymentStatus `json:"status"`
	Amount        int64                `json:"amount"`
	Currency      string               `json:"currency"`
	Fee           int64                `json:"fee,omitempty"`
	Operator      string               `json:"operator,omitempty"`
	Channel       string               `json:"channel,omitempty"`
	ChannelUSSD   string               `json:"channel_ussd,omitempty"`
	LastCheckedAt time.Time            `json:"lastCheckedAt,omitempty"`
}

// CheckResponse 同时服务于轮询和对账两个入口的返回。
type CheckResponse struct {
	OrderID     string             `json:"orderId"`
	Payment     *PaymentView       `json:"payment,omitempty"`
	OrderStatus domain.OrderStatus `json:"orderStatus"`
	PaymentURL  string             `json:"payment_url,omitempty"`
}

// NotifyRequest 承载 webhook 的关联信息，优先用 PaymentRef 定位订单。
type NotifyRequest struct {
	PaymentRef string `json:"payment_ref"`
	PaymentID  string `json:"paymentId"`
}

func toPaymentView(p *domain.PaymentRecord) *PaymentView {
	if p == nil {
		return nil
	}
	return &PaymentView{
		Provider:      p.Provider,
		PaymentID:     p.PaymentID,
		PaymentRef:    p.PaymentRef,
		Status:        p.Status,
		Amount:        p.Amount,
		Currency:      p.Currency,
		Fee:           p.Fee,
		Operator:      p.Operator,
		Channel:       p.Channel,
		ChannelUSSD:   p.ChannelUSSD,
		LastCheckedAt: p.LastCheckedAt,
	}
}

func toCheckResponse(order *domain.Order) *CheckResponse {
	resp := &CheckResponse{
		OrderID:     order.ID,
		Payment:     toPaymentView(order.Payment),
		OrderStatus: order.Status,
	}
	if order.Payment != nil {
		resp.PaymentURL = order.Payment.PaymentURL
	}
	return resp
}
