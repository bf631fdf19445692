package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/payrecon/pkg/enums"
)

// PaymentLedgerHistory is one append-only audit row. Status is the ledger
// status after the event was handled, whether or not it changed. Seq orders
// the rows of one ledger in the order they were written.
type PaymentLedgerHistory struct {
	ID               uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	LedgerID         uuid.UUID               `gorm:"column:ledger_id;type:uuid;not null"`
	OrderID          uuid.UUID               `gorm:"column:order_id;type:uuid;not null"`
	Seq              int64                   `gorm:"column:seq;not null"`
	Status           enums.LedgerStatus      `gorm:"column:status;type:payment_ledger_status;not null"`
	SourceChannel    enums.SourceChannel     `gorm:"column:source_channel;not null"`
	NormalizedStatus *enums.NormalizedStatus `gorm:"column:normalized_status"`
	RawStatusCode    *string                 `gorm:"column:raw_status_code"`
	AmountCents      *int64                  `gorm:"column:amount_cents"`
	Currency         *string                 `gorm:"column:currency"`
	TransactionRef   *string                 `gorm:"column:transaction_ref"`
	Note             string                  `gorm:"column:note;not null"`
	ObservedAt       time.Time               `gorm:"column:observed_at;not null"`
	CreatedAt        time.Time               `gorm:"column:created_at;autoCreateTime"`
}

func (PaymentLedgerHistory) TableName() string {
	return "payment_ledger_history"
}
