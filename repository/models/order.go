package models

import "time"

// Order statuses. PENDING is the only non-terminal state; PAID, FAILED and
// CANCELLED are sinks and must never transition again.
const (
	OrderStatusPending   = "pending"
	OrderStatusPaid      = "paid"
	OrderStatusFailed    = "failed"
	OrderStatusCancelled = "cancelled"
)

// Payment provider identifiers
const (
	ProviderVNPay = "vnpay"
	ProviderMoMo  = "momo"
)

// Order represents a purchase intent for a single book
type Order struct {
	ID        uint       `gorm:"column:order_id;primaryKey;autoIncrement"`
	OrderCode string     `gorm:"column:order_code;type:varchar(30);not null;uniqueIndex"`
	UserID    string     `gorm:"column:user_id;type:varchar(50);index;not null"`
	User      *User      `gorm:"foreignKey:UserID"`
	BookID    string     `gorm:"column:book_id;type:varchar(50);index;not null"`
	Book      *Book      `gorm:"foreignKey:BookID"`
	Amount    int64      `gorm:"column:amount;not null"` // immutable after creation
	Currency  string     `gorm:"column:currency;type:varchar(3);default:'VND'"`
	Provider  string     `gorm:"column:provider;type:varchar(20);index;not null"`
	Status    string     `gorm:"column:status;type:varchar(20);index;default:'pending'"`
	PaidAt    *time.Time `gorm:"column:paid_at"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time  `gorm:"column:updated_at;autoUpdateTime"`

	// Relationships
	Transactions []Transaction `gorm:"foreignKey:OrderID"`
}

// IsTerminal reports whether the order has reached a sink state
func (o *Order) IsTerminal() bool {
	return o.Status == OrderStatusPaid || o.Status == OrderStatusFailed || o.Status == OrderStatusCancelled
}

// IsPaid reports whether the order has been confirmed paid
func (o *Order) IsPaid() bool {
	return o.Status == OrderStatusPaid
}
