package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/payrecon/pkg/enums"
)

// CallbackAudit keeps the raw payload of a callback that never reached the
// ledger, for security review.
type CallbackAudit struct {
	ID               uuid.UUID                 `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Reason           enums.CallbackAuditReason `gorm:"column:reason;not null"`
	GatewayReference *string                   `gorm:"column:gateway_reference"`
	RawPayload       string                    `gorm:"column:raw_payload;not null"`
	Signature        *string                   `gorm:"column:signature"`
	RemoteAddr       *string                   `gorm:"column:remote_addr"`
	ReceivedAt       time.Time                 `gorm:"column:received_at;not null"`
	CreatedAt        time.Time                 `gorm:"column:created_at;autoCreateTime"`
}
