package models

import (
	"time"

	"github.com/google/uuid"

	dbtypes "github.com/angelmondragon/payrecon/pkg/db/types"
	"github.com/angelmondragon/payrecon/pkg/enums"
)

// PaymentLedger is the persisted payment lifecycle of one order. Version is
// bumped on every write and guards compare-and-swap updates.
type PaymentLedger struct {
	ID                   uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID              uuid.UUID          `gorm:"column:order_id;type:uuid;not null;uniqueIndex"`
	GatewayReference     *string            `gorm:"column:gateway_reference;uniqueIndex"`
	AmountExpectedCents  int64              `gorm:"column:amount_expected_cents;not null"`
	Currency             enums.Currency     `gorm:"column:currency;not null"`
	Status               enums.LedgerStatus `gorm:"column:status;type:payment_ledger_status;not null;default:'uninitiated'"`
	ConfirmationCount    int                `gorm:"column:confirmation_count;not null;default:0"`
	ConfirmationChannels dbtypes.ChannelSet `gorm:"column:confirmation_channels;type:text[];not null;default:'{}'"`
	LastCheckedAt        *time.Time         `gorm:"column:last_checked_at"`
	InitiatedAt          *time.Time         `gorm:"column:initiated_at"`
	TerminalAt           *time.Time         `gorm:"column:terminal_at"`
	Version              int64              `gorm:"column:version;not null;default:0"`
	CreatedAt            time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

// Reference returns the gateway reference or an empty string.
func (l PaymentLedger) Reference() string {
	if l.GatewayReference == nil {
		return ""
	}
	return *l.GatewayReference
}
