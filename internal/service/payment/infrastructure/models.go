// internal/service/payment/infrastructure/models.go
package infrastructure

import "time"

// OrderModel 是 Order 聚合在数据库中的表示。
// 支付子记录内嵌为同一行的列，保证对它的条件更新是单行原子操作；
// payment_status 为 NULL 表示从未发起过支付。
type OrderModel struct {
	ID          string `gorm:"primaryKey;size:64"`
	Status      string `gorm:"size:32;index"`
	Subtotal    int64
	ShoppingFee int64
	DeliveryFee int64
	Total       int64
	Budget      int64

	CustomerName  string `gorm:"size:128"`
	CustomerEmail string `gorm:"size:128"`
	CustomerPhone string `gorm:"size:32"`

	PaymentProvider    *string `gorm:"size:32"`
	PaymentStatus      *string `gorm:"size:16;index"`
	PaymentID          *string `gorm:"size:64;index"`
	PaymentRef         *string `gorm:"size:80;uniqueIndex"`
	PaymentAmount      int64
	PaymentFee         int64
	PaymentRevenue     int64
	PaymentCurrency    string `gorm:"size:8"`
	PaymentOperator    string `gorm:"size:32"`
	PaymentChannel     string `gorm:"size:32"`
	PaymentChannelName string `gorm:"size:64"`
	PaymentChannelUSSD string `gorm:"size:32"`
	PaymentURL         string  `gorm:"size:255"`
	PaymentRaw         *string `gorm:"type:json"`
	PaymentLastError   string `gorm:"size:255"`
	PaymentCheckedAt   *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (OrderModel) TableName() string {
	return "orders"
}

// OrderEventModel 是订单时间线的数据库表示，只插入、不更新。
// 自增主键同时充当追加顺序。
type OrderEventModel struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	OrderID     string `gorm:"size:64;index"`
	At          time.Time
	Kind        string `gorm:"size:16"`
	Title       string `gorm:"size:128"`
	Description string `gorm:"size:512"`
}

func (OrderEventModel) TableName() string {
	return "order_events"
}
