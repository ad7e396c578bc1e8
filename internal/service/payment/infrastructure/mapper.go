// internal/service/payment/infrastructure/mapper.go
package infrastructure

import (
	"encoding/json"

	"mercato/internal/service/payment/domain"
)

// ToDomainOrder 把数据库模型转换为领域聚合。
func ToDomainOrder(m *OrderModel, events []OrderEventModel) *domain.Order {
	order := &domain.Order{
		ID:          m.ID,
		Status:      domain.OrderStatus(m.Status),
		Subtotal:    m.Subtotal,
		ShoppingFee: m.ShoppingFee,
		DeliveryFee: m.DeliveryFee,
		Total:       m.Total,
		Budget:      m.Budget,
		Customer: domain.CustomerInfo{
			Name:  m.CustomerName,
			Email: m.CustomerEmail,
			Phone: m.CustomerPhone,
		},
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}

	if m.PaymentStatus != nil {
		p := &domain.PaymentRecord{
			Status:      domain.PaymentStatus(*m.PaymentStatus),
			Amount:      m.PaymentAmount,
			Fee:         m.PaymentFee,
			Revenue:     m.PaymentRevenue,
			Currency:    m.PaymentCurrency,
			Operator:    m.PaymentOperator,
			Channel:     m.PaymentChannel,
			ChannelName: m.PaymentChannelName,
			ChannelUSSD: m.PaymentChannelUSSD,
			PaymentURL:  m.PaymentURL,
			LastError:   m.PaymentLastError,
		}
		if m.PaymentProvider != nil {
			p.Provider = *m.PaymentProvider
		}
		if m.PaymentID != nil {
			p.PaymentID = *m.PaymentID
		}
		if m.PaymentRef != nil {
			p.PaymentRef = *m.PaymentRef
		}
		if m.PaymentCheckedAt != nil {
			p.LastCheckedAt = *m.PaymentCheckedAt
		}
		if m.PaymentRaw != nil {
			// 原始载荷解析失败只影响诊断信息，不影响业务状态
			_ = json.Unmarshal([]byte(*m.PaymentRaw), &p.Raw)
		}
		order.Payment = p
	}

	for _, ev := range events {
		order.Events = append(order.Events, domain.OrderEvent{
			At:          ev.At,
			Kind:        domain.EventKind(ev.Kind),
			Title:       ev.Title,
			Description: ev.Description,
		})
	}
	return order
}

// ToOrderModel 把领域聚合转换为数据库模型（不含事件）。
func ToOrderModel(o *domain.Order) *OrderModel {
	m := &OrderModel{
		ID:            o.ID,
		Status:        string(o.Status),
		Subtotal:      o.Subtotal,
		ShoppingFee:   o.ShoppingFee,
		DeliveryFee:   o.DeliveryFee,
		Total:         o.Total,
		Budget:        o.Budget,
		CustomerName:  o.Customer.Name,
		CustomerEmail: o.Customer.Email,
		CustomerPhone: o.Customer.Phone,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
	if o.Payment != nil {
		applyPaymentColumns(m, o.Payment)
	}
	return m
}

// paymentColumns 把支付记录展开成一次 Updates 调用所需的列映射。
// includeStatus 控制是否连同状态一起写，元数据补录时必须为 false。
func paymentColumns(p *domain.PaymentRecord, includeStatus bool) map[string]interface{} {
	raw := ""
	if p.Raw != nil {
		if data, err := json.Marshal(p.Raw); err == nil {
			raw = string(data)
		}
	}
	var checkedAt interface{}
	if !p.LastCheckedAt.IsZero() {
		checkedAt = p.LastCheckedAt
	}
	cols := map[string]interface{}{
		"payment_provider":     p.Provider,
		"payment_id":           nullableStr(p.PaymentID),
		"payment_ref":          nullableStr(p.PaymentRef),
		"payment_amount":       p.Amount,
		"payment_fee":          p.Fee,
		"payment_revenue":      p.Revenue,
		"payment_currency":     p.Currency,
		"payment_operator":     p.Operator,
		"payment_channel":      p.Channel,
		"payment_channel_name": p.ChannelName,
		"payment_channel_ussd": p.ChannelUSSD,
		"payment_url":          p.PaymentURL,
		"payment_raw":          nullableStr(raw),
		"payment_last_error":   p.LastError,
		"payment_checked_at":   checkedAt,
	}
	if includeStatus {
		cols["payment_status"] = string(p.Status)
	}
	return cols
}

func applyPaymentColumns(m *OrderModel, p *domain.PaymentRecord) {
	status := string(p.Status)
	m.PaymentStatus = &status
	m.PaymentProvider = &p.Provider
	if p.PaymentID != "" {
		m.PaymentID = &p.PaymentID
	}
	if p.PaymentRef != "" {
		m.PaymentRef = &p.PaymentRef
	}
	m.PaymentAmount = p.Amount
	m.PaymentFee = p.Fee
	m.PaymentRevenue = p.Revenue
	m.PaymentCurrency = p.Currency
	m.PaymentOperator = p.Operator
	m.PaymentChannel = p.Channel
	m.PaymentChannelName = p.ChannelName
	m.PaymentChannelUSSD = p.ChannelUSSD
	m.PaymentURL = p.PaymentURL
	m.PaymentLastError = p.LastError
	if !p.LastCheckedAt.IsZero() {
		t := p.LastCheckedAt
		m.PaymentCheckedAt = &t
	}
	if p.Raw != nil {
		if data, err := json.Marshal(p.Raw); err == nil {
			s := string(data)
			m.PaymentRaw = &s
		}
	}
}

func nullableStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
