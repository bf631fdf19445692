package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/payrecon/pkg/enums"
)

// Order is the slice of the order aggregate the payment engine reads and
// settles. Everything else about orders belongs to order management.
type Order struct {
	ID            uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AmountCents   int64                   `gorm:"column:amount_cents;not null"`
	Currency      enums.Currency          `gorm:"column:currency;not null"`
	PaymentState  enums.OrderPaymentState `gorm:"column:payment_state;not null;default:'unpaid'"`
	PaidAt        *time.Time              `gorm:"column:paid_at"`
	FailureReason *string                 `gorm:"column:failure_reason"`
	CreatedAt     time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}
