// Package persist stores orders, payments and channels with append-only
// generation-versioned state rows.
package persist

import (
	"time"
)

// Order holds the immutable parameters of a channel purchase. Its mutable
// state lives in OrderStateRow, one row per transition.
type Order struct {
	Id                   string `gorm:"primaryKey"`
	ClientNodeId         string `gorm:"index;not null"`
	LspBalanceSat        uint64 `gorm:"not null"`
	ClientBalanceSat     uint64 `gorm:"not null"`
	ConfirmsWithinBlocks uint32 `gorm:"not null"`
	ChannelExpiryBlocks  uint32 `gorm:"not null"`
	Token                string
	RefundOnchainAddress string
	AnnounceChannel      bool      `gorm:"not null"`
	CreatedAt            time.Time `gorm:"not null"`
	ExpiresAt            time.Time `gorm:"not null"`
}

func (Order) TableName() string {
	return "lsps1_orders"
}

// OrderStateRow is one transition of an order's state machine. The current
// state is the row with the highest generation; rows are never updated or
// deleted.
type OrderStateRow struct {
	OrderId    string    `gorm:"primaryKey"`
	Generation uint64    `gorm:"primaryKey;autoIncrement:false"`
	State      string    `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null"`
}

func (OrderStateRow) TableName() string {
	return "lsps1_order_states"
}

// PaymentDetails holds the immutable payment facts for an order. The
// invoice label is the idempotency key correlating settled invoices back to
// the order; the payment hash is kept as a restart-safe fallback.
type PaymentDetails struct {
	Id                           string    `gorm:"primaryKey"`
	OrderId                      string    `gorm:"uniqueIndex;not null"`
	FeeTotalSat                  uint64    `gorm:"not null"`
	OrderTotalSat                uint64    `gorm:"not null"`
	Bolt11Invoice                string    `gorm:"not null"`
	InvoiceLabel                 string    `gorm:"uniqueIndex;not null"`
	PaymentHash                  string    `gorm:"index"`
	OnchainAddress               string
	RequiredOnchainConfirmations *uint32
	MinimumFeeFor0conf           *uint64
	CreatedAt                    time.Time `gorm:"not null"`
}

func (PaymentDetails) TableName() string {
	return "lsps1_payments"
}

// PaymentStateRow is one transition of a payment's state machine, with the
// same generation discipline as OrderStateRow but an independent counter.
type PaymentStateRow struct {
	PaymentId  string    `gorm:"primaryKey"`
	Generation uint64    `gorm:"primaryKey;autoIncrement:false"`
	State      string    `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null"`
}

func (PaymentStateRow) TableName() string {
	return "lsps1_payment_states"
}

// Channel records the channel provisioned for a completed order. Created
// exactly once, never mutated.
type Channel struct {
	OrderId     string    `gorm:"primaryKey"`
	FundingTxId string    `gorm:"not null"`
	OutputIndex uint32    `gorm:"not null"`
	FundedAt    time.Time `gorm:"not null"`
	ExpiresAt   time.Time `gorm:"not null"`
}

func (Channel) TableName() string {
	return "lsps1_channels"
}
