// internal/service/payment/infrastructure/adapter/gateway_mock_adapter.go
package adapter

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"mercato/internal/service/payment/domain"
	"mercato/internal/service/payment/domain/port"
)

// MockGatewayAdapter 是 port.PaymentGateway 的确定性桩实现。
// 由配置选择（mock 模式），响应结构与真实网关逐字段一致，
// 测试通过 Set* 方法编排网关侧的行为并通过计数器观察出站调用。
type MockGatewayAdapter struct {
	mu sync.Mutex

	placeCalls  int
	widgetCalls int
	checkCalls  int

	widgetEnabled bool
	unavailable   bool

	// txStatus 为 nil 模拟"网关仍在处理"：checkPayment 不返回 transaction
	txStatus *int

	lastAmount   int64
	lastOperator string
	lastMsisdn   string
	lastCurrency string
}

func NewMockGatewayAdapter() *MockGatewayAdapter {
	return &MockGatewayAdapter{}
}

// EnableWidget 让托管收银台路径返回可跳转的 URL。
func (a *MockGatewayAdapter) EnableWidget() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.widgetEnabled = true
}

// SetUnavailable 模拟传输层故障，所有调用返回可重试的 GatewayError。
func (a *MockGatewayAdapter) SetUnavailable(down bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.unavailable = down
}

// SetTransactionStatus 编排 checkPayment 返回的整数状态码。
func (a *MockGatewayAdapter) SetTransactionStatus(code int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.txStatus = &code
}

func (a *MockGatewayAdapter) PlacePaymentCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.placeCalls
}

func (a *MockGatewayAdapter) CheckPaymentCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.checkCalls
}

func (a *MockGatewayAdapter) PlacePayment(_ context.Context, req *port.PlacePaymentRequest) (*port.PlacePaymentResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.unavailable {
		return nil, domain.NewGatewayUnavailable("placePayment", errors.New("mock gateway unreachable"))
	}
	a.placeCalls++
	a.lastAmount = req.Amount
	a.lastOperator = req.Operator
	a.lastMsisdn = req.Msisdn
	a.lastCurrency = req.Currency

	paymentID := "MOCK-" + req.PaymentRef
	return &port.PlacePaymentResponse{
		Status:      "REQUEST_ACCEPTED",
		Message:     "payment pending",
		Channel:     "cm.mtn",
		ChannelName: "MTN Mobile Money",
		ChannelUSSD: "*126#",
		PaymentID:   paymentID,
		Raw: map[string]interface{}{
			"status":       "REQUEST_ACCEPTED",
			"message":      "payment pending",
			"channel":      "cm.mtn",
			"channel_name": "MTN Mobile Money",
			"channel_ussd": "*126#",
			"paymentId":    paymentID,
		},
	}, nil
}

func (a *MockGatewayAdapter) CreateWidgetPayment(_ context.Context, req *port.WidgetPaymentRequest) (*port.WidgetPaymentResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.unavailable {
		return nil, domain.NewGatewayUnavailable("createWidgetPayment", errors.New("mock gateway unreachable"))
	}
	a.widgetCalls++
	if !a.widgetEnabled {
		return &port.WidgetPaymentResponse{
			Success: false,
			Raw:     map[string]interface{}{"success": false},
		}, nil
	}
	a.lastAmount = req.Amount
	a.lastMsisdn = req.Msisdn
	url := "https://pay.mock.local/widget/" + req.PaymentRef
	return &port.WidgetPaymentResponse{
		Success:    true,
		PaymentURL: url,
		Raw:        map[string]interface{}{"success": true, "payment_url": url},
	}, nil
}

func (a *MockGatewayAdapter) CheckPayment(_ context.Context, paymentID string) (*port.CheckPaymentResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.unavailable {
		return nil, domain.NewGatewayUnavailable("checkPayment", errors.New("mock gateway unreachable"))
	}
	a.checkCalls++

	if a.txStatus == nil {
		return &port.CheckPaymentResponse{
			PaymentID: paymentID,
			Message:   "payment pending",
			Raw:       map[string]interface{}{"paymentId": paymentID, "message": "payment pending"},
		}, nil
	}

	fee := a.lastAmount * 3 / 100
	return &port.CheckPaymentResponse{
		PaymentID: paymentID,
		Message:   "payment finish",
		Transaction: &port.Transaction{
			Status:   *a.txStatus,
			Amount:   a.lastAmount,
			Fee:      fee,
			Revenue:  a.lastAmount - fee,
			Currency: a.lastCurrency,
			Operator: a.lastOperator,
			Msisdn:   a.lastMsisdn,
		},
		Raw: map[string]interface{}{
			"paymentId": paymentID,
			"message":   "payment finish",
			"transaction": map[string]interface{}{
				"status": *a.txStatus,
				"amount": a.lastAmount,
				"msisdn": a.lastMsisdn,
			},
		},
	}, nil
}
