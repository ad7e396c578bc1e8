// internal/service/payment/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"mercato/internal/service/payment/domain"
)

// GormOrderRepository 是 OrderRepository 的 GORM/MySQL 实现。
//
// 所有 CAS 原语都落在单条带 WHERE 前置条件的 UPDATE 上，
// 以 RowsAffected 作为竞争裁决，不依赖事务或外部锁。
type GormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// AutoMigrate 建表。组装根在启动时调用一次。
func (r *GormOrderRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&OrderModel{}, &OrderEventModel{})
}

func (r *GormOrderRepository) Create(ctx context.Context, order *domain.Order) error {
	if err := r.db.WithContext(ctx).Create(ToOrderModel(order)).Error; err != nil {
		return errors.Wrapf(err, "create order %s", order.ID)
	}
	return nil
}

func (r *GormOrderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	var model OrderModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}
	return r.hydrate(ctx, &model)
}

func (r *GormOrderRepository) FindByPaymentRef(ctx context.Context, ref string) (*domain.Order, error) {
	return r.findBy(ctx, "payment_ref = ?", ref)
}

func (r *GormOrderRepository) FindByGatewayPaymentID(ctx context.Context, paymentID string) (*domain.Order, error) {
	return r.findBy(ctx, "payment_id = ?", paymentID)
}

func (r *GormOrderRepository) findBy(ctx context.Context, query string, arg interface{}) (*domain.Order, error) {
	var model OrderModel
	err := r.db.WithContext(ctx).Where(query, arg).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}
	return r.hydrate(ctx, &model)
}

func (r *GormOrderRepository) hydrate(ctx context.Context, model *OrderModel) (*domain.Order, error) {
	var events []OrderEventModel
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", model.ID).
		Order("id ASC").
		Find(&events).Error; err != nil {
		return nil, errors.Wrapf(err, "load events for order %s", model.ID)
	}
	return ToDomainOrder(model, events), nil
}

// ConditionalUpdatePayment 的前置条件直接编译进 WHERE 子句，
// 单条 UPDATE 对并发调用者原子，RowsAffected==1 的调用者赢得竞争。
func (r *GormOrderRepository) ConditionalUpdatePayment(ctx context.Context, orderID string, from []domain.PaymentStatus, record *domain.PaymentRecord) (bool, error) {
	allowAbsent := false
	var states []string
	for _, st := range from {
		if st == domain.PaymentNone {
			allowAbsent = true
			continue
		}
		states = append(states, string(st))
	}

	tx := r.db.WithContext(ctx).Model(&OrderModel{}).Where("id = ?", orderID)
	switch {
	case allowAbsent && len(states) > 0:
		tx = tx.Where("(payment_status IS NULL OR payment_status IN ?)", states)
	case allowAbsent:
		tx = tx.Where("payment_status IS NULL")
	default:
		tx = tx.Where("payment_status IN ?", states)
	}

	res := tx.Updates(paymentColumns(record, true))
	if res.Error != nil {
		return false, errors.Wrapf(res.Error, "conditional payment update for order %s", orderID)
	}
	return res.RowsAffected == 1, nil
}

// UpdatePaymentMetadata 刷新除状态外的所有支付列，last-write 语义。
func (r *GormOrderRepository) UpdatePaymentMetadata(ctx context.Context, orderID string, record *domain.PaymentRecord) error {
	err := r.db.WithContext(ctx).Model(&OrderModel{}).
		Where("id = ? AND payment_status IS NOT NULL", orderID).
		Updates(paymentColumns(record, false)).Error
	return errors.Wrapf(err, "update payment metadata for order %s", orderID)
}

// ReleaseClaim 只回收还没拿到网关关联 id 的 initiated 占位。
func (r *GormOrderRepository) ReleaseClaim(ctx context.Context, orderID string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&OrderModel{}).
		Where("id = ? AND payment_status = ? AND payment_id IS NULL", orderID, string(domain.PaymentInitiated)).
		Updates(clearedPaymentColumns())
	if res.Error != nil {
		return false, errors.Wrapf(res.Error, "release claim for order %s", orderID)
	}
	return res.RowsAffected == 1, nil
}

// ClearPayment 清除支付子记录，已成功的支付被 WHERE 条件挡住。
func (r *GormOrderRepository) ClearPayment(ctx context.Context, orderID string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&OrderModel{}).
		Where("id = ? AND payment_status IS NOT NULL AND payment_status <> ?", orderID, string(domain.PaymentSuccess)).
		Updates(clearedPaymentColumns())
	if res.Error != nil {
		return false, errors.Wrapf(res.Error, "clear payment for order %s", orderID)
	}
	return res.RowsAffected == 1, nil
}

// ConfirmOrder 只翻转仍处于 pending 的订单，翻转成功与否由调用方决定后续动作。
func (r *GormOrderRepository) ConfirmOrder(ctx context.Context, orderID string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&OrderModel{}).
		Where("id = ? AND status = ?", orderID, string(domain.OrderPending)).
		Update("status", string(domain.OrderConfirmed))
	if res.Error != nil {
		return false, errors.Wrapf(res.Error, "confirm order %s", orderID)
	}
	return res.RowsAffected == 1, nil
}

func (r *GormOrderRepository) AppendEvent(ctx context.Context, orderID string, event domain.OrderEvent) error {
	model := &OrderEventModel{
		OrderID:     orderID,
		At:          event.At,
		Kind:        string(event.Kind),
		Title:       event.Title,
		Description: event.Description,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return errors.Wrapf(err, "append event to order %s", orderID)
	}
	return nil
}

// clearedPaymentColumns 把所有支付列恢复到"从未发起"的取值。
func clearedPaymentColumns() map[string]interface{} {
	return map[string]interface{}{
		"payment_status":       nil,
		"payment_provider":     nil,
		"payment_id":           nil,
		"payment_ref":          nil,
		"payment_amount":       0,
		"payment_fee":          0,
		"payment_revenue":      0,
		"payment_currency":     "",
		"payment_operator":     "",
		"payment_channel":      "",
		"payment_channel_name": "",
		"payment_channel_ussd": "",
		"payment_url":          "",
		"payment_raw":          nil,
		"payment_last_error":   "",
		"payment_checked_at":   nil,
	}
}
