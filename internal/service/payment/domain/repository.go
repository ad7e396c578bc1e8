// internal/service/payment/domain/repository.go
package domain

import "context"

// OrderRepository 定义了订单聚合的持久化接口。
// 它位于领域层，由基础设施层实现。
//
// 所有写操作都是短促的原子动作：条件更新或追加，订单文档从不被长期持锁。
// 带 bool 返回值的方法是 CAS 原语，false 表示前置条件在写入时刻不成立，
// 这不是错误，而是并发竞争的正常结果。
type OrderRepository interface {
	// Create 保存一个新订单聚合。
	Create(ctx context.Context, order *Order) error

	// FindByID 根据订单 id 查找聚合。找不到返回 ErrOrderNotFound。
	FindByID(ctx context.Context, id string) (*Order, error)

	// FindByPaymentRef 根据我方幂等令牌查找订单，webhook 的首选定位方式。
	FindByPaymentRef(ctx context.Context, ref string) (*Order, error)

	// FindByGatewayPaymentID 根据网关关联 id 查找订单，webhook 的兜底定位方式。
	FindByGatewayPaymentID(ctx context.Context, paymentID string) (*Order, error)

	// ConditionalUpdatePayment 仅当支付记录当前状态属于 from 集合时整体写入 record。
	// from 中的 PaymentNone 表示"允许当前没有支付记录"。
	// 这是发起幂等契约和终态单调性共同依赖的原语，实现必须对并发调用原子。
	ConditionalUpdatePayment(ctx context.Context, orderID string, from []PaymentStatus, record *PaymentRecord) (bool, error)

	// UpdatePaymentMetadata 刷新支付记录的元数据（原始载荷、费用、检查时间等），
	// 不触碰 Status。用于终态之后的补录，last-write 语义即可。
	UpdatePaymentMetadata(ctx context.Context, orderID string, record *PaymentRecord) error

	// ReleaseClaim 回收一次失败的发起占位：仅当支付仍处于 initiated
	// 且网关尚未返回关联 id 时清除记录，让订单可以重新发起。
	ReleaseClaim(ctx context.Context, orderID string) (bool, error)

	// ClearPayment 清除支付子记录，但已成功的支付除外。
	ClearPayment(ctx context.Context, orderID string) (bool, error)

	// ConfirmOrder 仅当订单仍处于 pending 时把状态翻转为 confirmed。
	// 返回 true 的那一次调用（且只有那一次）负责追加确认事件。
	ConfirmOrder(ctx context.Context, orderID string) (bool, error)

	// AppendEvent 原子地向订单时间线追加一条事件。
	AppendEvent(ctx context.Context, orderID string, event OrderEvent) error
}
