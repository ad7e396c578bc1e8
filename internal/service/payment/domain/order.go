// internal/service/payment/domain/order.go
package domain

import (
	"time"

	"github.com/pkg/errors"
)

// Provider 是当前接入的移动支付网关的固定标识。
const Provider = "monetbil"

// CustomerInfo 在下单时由订单模块填充，支付发起前必须已存在。
type CustomerInfo struct {
	Name  string
	Email string
	Phone string
}

// Order 是订单聚合的根实体。
// 本服务只关心支付子记录和随之发生的订单状态推进，
// 商品明细等目录数据由订单模块维护，不出现在这里。
type Order struct {
	ID          string
	Subtotal    int64
	ShoppingFee int64
	DeliveryFee int64
	Total       int64
	Budget      int64
	Status      OrderStatus
	Customer    CustomerInfo

	// Events 是只追加的有序事件序列，记录状态变化和备注。
	Events []OrderEvent

	// Payment 为 nil 表示从未尝试过支付发起。
	Payment *PaymentRecord

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewOrder 创建一个等待支付的新订单实例。
func NewOrder(id string, total int64, customer CustomerInfo) (*Order, error) {
	if id == "" || total < 0 {
		return nil, errors.New("cannot create order with empty id or negative total")
	}
	now := time.Now()
	return &Order{
		ID:        id,
		Total:     total,
		Status:    OrderPending,
		Customer:  customer,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// PaymentRecord 是订单独占的支付子记录，不是独立聚合。
type PaymentRecord struct {
	Provider   string
	PaymentID  string // 网关分配的关联 id，网关受理前为空
	PaymentRef string // 我方生成的幂等令牌，一经写入不再变化
	Status     PaymentStatus

	Amount   int64
	Currency string
	Fee      int64
	Revenue  int64

	Operator    string
	Channel     string
	ChannelName string
	ChannelUSSD string
	PaymentURL  string

	// Raw 保留网关最近一次返回的原始载荷，仅用于诊断，
	// 业务逻辑除 transaction.status 外不解析其中任何字段。
	Raw map[string]interface{}

	LastError     string
	LastCheckedAt time.Time
}

// PaymentRef 从订单 id 确定性地导出幂等令牌。
// 网关和 webhook 用它把通知关联回订单，独立于 PaymentID。
func PaymentRef(orderID string) string {
	return "ORD-" + orderID
}

// Clone 返回支付记录的深拷贝，避免仓储内外共享可变状态。
func (p *PaymentRecord) Clone() *PaymentRecord {
	if p == nil {
		return nil
	}
	cp := *p
	if p.Raw != nil {
		cp.Raw = make(map[string]interface{}, len(p.Raw))
		for k, v := range p.Raw {
			cp.Raw[k] = v
		}
	}
	return &cp
}

// Resolvable 判断记录是否已经带有可以继续走完支付的信息：
// 网关关联 id 或托管收银台 URL 二者有其一即可。
func (p *PaymentRecord) Resolvable() bool {
	return p != nil && (p.PaymentID != "" || p.PaymentURL != "")
}

// Clone 返回订单聚合的深拷贝。
func (o *Order) Clone() *Order {
	cp := *o
	cp.Payment = o.Payment.Clone()
	cp.Events = make([]OrderEvent, len(o.Events))
	copy(cp.Events, o.Events)
	return &cp
}
