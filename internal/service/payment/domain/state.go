// internal/service/payment/domain/state.go
package domain

// OrderStatus 定义了订单的生命周期状态，除取消外只允许向前推进。
type OrderStatus string

const (
	OrderPending        OrderStatus = "pending"          // 已下单，等待支付确认
	OrderConfirmed      OrderStatus = "confirmed"        // 支付成功，订单生效
	OrderShopping       OrderStatus = "shopping"         // 采购中
	OrderOutForDelivery OrderStatus = "out-for-delivery" // 配送中
	OrderDelivered      OrderStatus = "delivered"        // 已送达
	OrderCancelled      OrderStatus = "cancelled"        // 已取消
)

// orderRank 给前进方向上的状态一个序号，cancelled 单独处理。
var orderRank = map[OrderStatus]int{
	OrderPending:        0,
	OrderConfirmed:      1,
	OrderShopping:       2,
	OrderOutForDelivery: 3,
	OrderDelivered:      4,
}

// CanAdvanceTo 判断订单状态是否允许从当前状态迁移到 target。
// 正常状态只能向前走；任何非终态都可以显式迁移到 cancelled。
func (s OrderStatus) CanAdvanceTo(target OrderStatus) bool {
	if target == OrderCancelled {
		return s != OrderDelivered && s != OrderCancelled
	}
	from, ok1 := orderRank[s]
	to, ok2 := orderRank[target]
	return ok1 && ok2 && to > from
}

// PaymentStatus 定义了支付子记录的状态机。
type PaymentStatus string

const (
	// PaymentNone 是哨兵值，表示订单尚无支付记录。
	// 只出现在条件更新的前置状态集合里，不会被持久化。
	PaymentNone PaymentStatus = ""

	PaymentInitiated PaymentStatus = "initiated" // 已抢到发起资格，网关调用进行中
	PaymentPending   PaymentStatus = "pending"   // 网关已受理，等待用户在手机上确认
	PaymentSuccess   PaymentStatus = "success"   // 支付成功，终态
	PaymentFailed    PaymentStatus = "failed"    // 支付失败，终态
	PaymentCancelled PaymentStatus = "cancelled" // 用户在网关侧取消，终态
	PaymentRefunded  PaymentStatus = "refunded"  // 已退款，终态
)

// Terminal 报告该状态是否为终态。终态只允许元数据补录，不允许状态回退。
func (s PaymentStatus) Terminal() bool {
	switch s {
	case PaymentSuccess, PaymentFailed, PaymentCancelled, PaymentRefunded:
		return true
	}
	return false
}

// 网关 checkPayment 返回的 transaction.status 整数码。
const (
	TxCodeSuccess   = 1
	TxCodeFailed    = 0
	TxCodeCancelled = -1
	TxCodeRefunded  = -2
)

// PaymentStatusFromTxCode 把网关的整数状态码映射为支付状态。
// 未知的状态码返回 false，由调用方决定如何兜底。
func PaymentStatusFromTxCode(code int) (PaymentStatus, bool) {
	switch code {
	case TxCodeSuccess:
		return PaymentSuccess, true
	case TxCodeFailed:
		return PaymentFailed, true
	case TxCodeCancelled:
		return PaymentCancelled, true
	case TxCodeRefunded:
		return PaymentRefunded, true
	}
	return PaymentNone, false
}
