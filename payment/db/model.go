package db

import "time"

type OrderStatus string

const (
	OrderPendingPayment OrderStatus = "pending_payment"
	OrderConfirmed      OrderStatus = "confirmed"
	OrderExpired        OrderStatus = "expired"
	OrderCanceled       OrderStatus = "canceled"
)

type PaymentStatus string

const (
	PaymentInitiated PaymentStatus = "initiated"
	PaymentConfirmed PaymentStatus = "confirmed"
	PaymentFailed    PaymentStatus = "failed"
)

type Product struct {
	ID        string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	UnitPrice int64     `gorm:"not null" json:"unit_price"` // minor units of the settlement token
	Active    bool      `gorm:"not null" json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Order struct {
	ID          string      `gorm:"type:char(36);primaryKey" json:"id"` // uuid
	BuyerEmail  string      `gorm:"type:varchar(255);not null;index" json:"buyer_email"`
	Status      OrderStatus `gorm:"type:varchar(32);not null;index:idx_orders_status_expires" json:"status"`
	TotalAmount int64       `gorm:"not null" json:"total_amount"` // nominal cart total, minor units
	CreatedAt   time.Time   `gorm:"not null" json:"created_at"`
	ExpiresAt   time.Time   `gorm:"not null;index:idx_orders_status_expires" json:"expires_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

type OrderLine struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement" json:"-"`
	OrderID   string `gorm:"type:char(36);not null;index" json:"order_id"`
	ProductID string `gorm:"type:varchar(64);not null" json:"product_id"`
	Quantity  int64  `gorm:"not null" json:"quantity"`
	UnitPrice int64  `gorm:"not null" json:"unit_price"`
	LineTotal int64  `gorm:"not null" json:"line_total"`
}

// Payment is the settlement record of one order.
//
// ActiveAmount mirrors ExpectedAmount while the payment is initiated and is
// NULL in every other state. Its unique index is what keeps two open payments
// from ever expecting the same amount.
type Payment struct {
	ID               string        `gorm:"type:char(36);primaryKey" json:"id"`
	OrderID          string        `gorm:"type:char(36);not null;uniqueIndex" json:"order_id"`
	ProviderTag      string        `gorm:"type:varchar(32);not null" json:"provider"`
	ExpectedAmount   int64         `gorm:"not null;index" json:"expected_amount"`
	ActiveAmount     *int64        `gorm:"uniqueIndex:idx_payments_active_amount" json:"-"`
	ReceivingAddress string        `gorm:"type:varchar(42);not null" json:"receiving_wallet"`
	Status           PaymentStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	TxHash           *string       `gorm:"type:varchar(66);uniqueIndex" json:"tx_hash,omitempty"`
	SenderAddress    *string       `gorm:"type:varchar(42)" json:"sender,omitempty"`
	ReceivedAmount   *string       `gorm:"type:varchar(78)" json:"received_amount,omitempty"` // decimal string, may exceed int64
	BlockNumber      *uint64       `json:"block_number,omitempty"`
	BlockTimestamp   *time.Time    `json:"block_timestamp,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "pending"
	OutboxProcessing OutboxStatus = "processing"
	OutboxSent       OutboxStatus = "sent"
)

type OutboxEvent struct {
	ID        uint64       `gorm:"primaryKey;autoIncrement"`
	EventID   string       `gorm:"type:char(36);not null;uniqueIndex"`
	EventType string       `gorm:"type:varchar(64);not null"`
	Payload   []byte       `gorm:"not null"`
	Status    OutboxStatus `gorm:"type:varchar(16);not null;index:idx_outbox_status_retry"`
	Attempts  int          `gorm:"not null;default:0"`
	NextRetry time.Time    `gorm:"not null;index:idx_outbox_status_retry"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (OutboxEvent) TableName() string {
	return "payment_outbox"
}
