// internal/service/payment/infrastructure/adapter/monet_http_adapter.go
package adapter

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"mercato/internal/pkg/httpclient"
	"mercato/internal/service/payment/domain"
	"mercato/internal/service/payment/domain/port"
)

// MonetConfig 是真实网关适配器的接入参数。
type MonetConfig struct {
	APIBase    string
	WidgetBase string
	ServiceKey string
	NotifyURL  string
	Locale     string
	Timeout    time.Duration
}

// MonetHTTPAdapter 是 port.PaymentGateway 的真实实现，对接 Monetbil 的
// v1 placePayment/checkPayment 接口和 v2.1 托管收银台。
//
// 每个出站调用都带 30s 级别的显式超时；传输层失败包装为可重试的
// GatewayError(Unavailable)，网关返回的原始载荷原样保留在 Raw 里。
type MonetHTTPAdapter struct {
	client *httpclient.Client
	cfg    MonetConfig
}

func NewMonetHTTPAdapter(client *httpclient.Client, cfg MonetConfig) *MonetHTTPAdapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &MonetHTTPAdapter{client: client, cfg: cfg}
}

// placePaymentWire 对应网关 placePayment 的 JSON 响应。
type placePaymentWire struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	Channel     string `json:"channel"`
	ChannelName string `json:"channel_name"`
	ChannelUSSD string `json:"channel_ussd"`
	PaymentID   string `json:"paymentId"`
	PaymentURL  string `json:"payment_url"`
}

func (a *MonetHTTPAdapter) PlacePayment(ctx context.Context, req *port.PlacePaymentRequest) (*port.PlacePaymentResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	form := url.Values{}
	form.Set("service", a.cfg.ServiceKey)
	form.Set("phonenumber", req.Msisdn)
	form.Set("amount", strconv.FormatInt(req.Amount, 10))
	form.Set("currency", req.Currency)
	form.Set("country", req.Country)
	form.Set("payment_ref", req.PaymentRef)
	if req.Operator != "" {
		form.Set("operator", req.Operator)
	}
	if a.cfg.NotifyURL != "" {
		form.Set("notify_url", a.cfg.NotifyURL)
	}
	if req.Payer.Name != "" {
		form.Set("first_name", req.Payer.Name)
	}
	if req.Payer.Email != "" {
		form.Set("email", req.Payer.Email)
	}

	raw, err := a.client.PostForm(ctx, a.cfg.APIBase+"/placePayment", form)
	if err != nil {
		return nil, gatewayErr("placePayment", raw, err)
	}

	var wire placePaymentWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, &domain.GatewayError{Op: "placePayment", Raw: rawMap(raw), Err: errors.Wrap(err, "malformed gateway response")}
	}
	return &port.PlacePaymentResponse{
		Status:      wire.Status,
		Message:     wire.Message,
		Channel:     wire.Channel,
		ChannelName: wire.ChannelName,
		ChannelUSSD: wire.ChannelUSSD,
		PaymentID:   wire.PaymentID,
		PaymentURL:  wire.PaymentURL,
		Raw:         rawMap(raw),
	}, nil
}

type widgetWire struct {
	Success    bool   `json:"success"`
	PaymentURL string `json:"payment_url"`
}

func (a *MonetHTTPAdapter) CreateWidgetPayment(ctx context.Context, req *port.WidgetPaymentRequest) (*port.WidgetPaymentResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	payload := map[string]interface{}{
		"amount":      req.Amount,
		"phone":       req.Msisdn,
		"locale":      a.cfg.Locale,
		"payment_ref": req.PaymentRef,
		"return_url":  req.ReturnURL,
		"cancel_url":  req.CancelURL,
		"notify_url":  req.NotifyURL,
		"user":        req.Payer.Name,
		"email":       req.Payer.Email,
	}

	raw, err := a.client.PostJSON(ctx, a.cfg.WidgetBase+"/"+a.cfg.ServiceKey, payload)
	if err != nil {
		return nil, gatewayErr("createWidgetPayment", raw, err)
	}

	var wire widgetWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, &domain.GatewayError{Op: "createWidgetPayment", Raw: rawMap(raw), Err: errors.Wrap(err, "malformed gateway response")}
	}
	return &port.WidgetPaymentResponse{
		Success:    wire.Success,
		PaymentURL: wire.PaymentURL,
		Raw:        rawMap(raw),
	}, nil
}

// checkPaymentWire 里的数值字段网关有时返回字符串，有时返回数字，
// 全部按 json.Number 接收再统一转换。
type checkPaymentWire struct {
	PaymentID   string `json:"paymentId"`
	Message     string `json:"message"`
	Transaction *struct {
		Status   json.Number `json:"status"`
		Amount   json.Number `json:"amount"`
		Fee      json.Number `json:"fee"`
		Revenue  json.Number `json:"revenue"`
		Currency string      `json:"currency"`
		Operator string      `json:"operator"`
		Msisdn   string      `json:"msisdn"`
	} `json:"transaction"`
}

func (a *MonetHTTPAdapter) CheckPayment(ctx context.Context, paymentID string) (*port.CheckPaymentResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	form := url.Values{}
	form.Set("paymentId", paymentID)

	raw, err := a.client.PostForm(ctx, a.cfg.APIBase+"/checkPayment", form)
	if err != nil {
		return nil, gatewayErr("checkPayment", raw, err)
	}

	var wire checkPaymentWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, &domain.GatewayError{Op: "checkPayment", Raw: rawMap(raw), Err: errors.Wrap(err, "malformed gateway response")}
	}

	resp := &port.CheckPaymentResponse{
		PaymentID: wire.PaymentID,
		Message:   wire.Message,
		Raw:       rawMap(raw),
	}
	if wire.Transaction != nil {
		status, err := wire.Transaction.Status.Int64()
		if err != nil {
			return nil, &domain.GatewayError{Op: "checkPayment", Raw: resp.Raw, Err: errors.Wrap(err, "unparsable transaction status")}
		}
		resp.Transaction = &port.Transaction{
			Status:   int(status),
			Amount:   numberToInt64(wire.Transaction.Amount),
			Fee:      numberToInt64(wire.Transaction.Fee),
			Revenue:  numberToInt64(wire.Transaction.Revenue),
			Currency: wire.Transaction.Currency,
			Operator: wire.Transaction.Operator,
			Msisdn:   wire.Transaction.Msisdn,
		}
	}
	return resp, nil
}

// gatewayErr 区分传输失败和网关侧拒绝：前者可重试。
// httpclient 在非 2xx 时会连同响应体一起返回错误，载荷保留下来用于诊断。
func gatewayErr(op string, raw []byte, err error) *domain.GatewayError {
	if len(raw) == 0 {
		return domain.NewGatewayUnavailable(op, err)
	}
	return &domain.GatewayError{Op: op, Raw: rawMap(raw), Err: err}
}

func rawMap(data []byte) map[string]interface{} {
	if len(data) == 0 {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]interface{}{"body": string(data)}
	}
	return m
}

func numberToInt64(n json.Number) int64 {
	if v, err := n.Int64(); err == nil {
		return v
	}
	if f, err := n.Float64(); err == nil {
		return int64(f)
	}
	return 0
}
