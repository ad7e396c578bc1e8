// internal/service/payment/infrastructure/memory_repository.go
package infrastructure

import (
	"context"
	"sync"

	"mercato/internal/service/payment/domain"
)

// MemoryOrderRepository 是 OrderRepository 的进程内实现，
// 供测试和 mock 模式演示使用。互斥锁保证条件更新与真实实现一样原子。
type MemoryOrderRepository struct {
	mu     sync.Mutex
	orders map[string]*domain.Order
}

func NewMemoryOrderRepository() *MemoryOrderRepository {
	return &MemoryOrderRepository{orders: make(map[string]*domain.Order)}
}

func (r *MemoryOrderRepository) Create(_ context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[order.ID] = order.Clone()
	return nil
}

func (r *MemoryOrderRepository) FindByID(_ context.Context, id string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

func (r *MemoryOrderRepository) FindByPaymentRef(_ context.Context, ref string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, order := range r.orders {
		if order.Payment != nil && order.Payment.PaymentRef == ref {
			return order.Clone(), nil
		}
	}
	return nil, domain.ErrOrderNotFound
}

func (r *MemoryOrderRepository) FindByGatewayPaymentID(_ context.Context, paymentID string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, order := range r.orders {
		if order.Payment != nil && order.Payment.PaymentID == paymentID {
			return order.Clone(), nil
		}
	}
	return nil, domain.ErrOrderNotFound
}

func (r *MemoryOrderRepository) ConditionalUpdatePayment(_ context.Context, orderID string, from []domain.PaymentStatus, record *domain.PaymentRecord) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return false, domain.ErrOrderNotFound
	}
	current := domain.PaymentNone
	if order.Payment != nil {
		current = order.Payment.Status
	}
	for _, st := range from {
		if st == current {
			order.Payment = record.Clone()
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryOrderRepository) UpdatePaymentMetadata(_ context.Context, orderID string, record *domain.PaymentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if order.Payment == nil {
		return nil
	}
	status := order.Payment.Status // 元数据补录不触碰状态
	merged := record.Clone()
	merged.Status = status
	order.Payment = merged
	return nil
}

func (r *MemoryOrderRepository) ReleaseClaim(_ context.Context, orderID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return false, domain.ErrOrderNotFound
	}
	p := order.Payment
	if p == nil || p.Status != domain.PaymentInitiated || p.PaymentID != "" {
		return false, nil
	}
	order.Payment = nil
	return true, nil
}

func (r *MemoryOrderRepository) ClearPayment(_ context.Context, orderID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return false, domain.ErrOrderNotFound
	}
	if order.Payment == nil || order.Payment.Status == domain.PaymentSuccess {
		return false, nil
	}
	order.Payment = nil
	return true, nil
}

func (r *MemoryOrderRepository) ConfirmOrder(_ context.Context, orderID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return false, domain.ErrOrderNotFound
	}
	if order.Status != domain.OrderPending {
		return false, nil
	}
	order.Status = domain.OrderConfirmed
	return true, nil
}

func (r *MemoryOrderRepository) AppendEvent(_ context.Context, orderID string, event domain.OrderEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	order.Events = append(order.Events, event)
	return nil
}
