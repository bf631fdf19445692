package outbox

import (
	"encoding/json"
	"time"

	"github.com/angelmondragon/payrecon/pkg/enums"
)

// PayloadEnvelope is the JSON stored in outbox_events.payload and published
// verbatim. EventID equals the outbox row id, so subscribers can drop
// redelivered messages by id.
type PayloadEnvelope struct {
	Version       int                       `json:"version"`
	EventID       string                    `json:"eventId"`
	EventType     enums.OutboxEventType     `json:"eventType,omitempty"`
	AggregateType enums.OutboxAggregateType `json:"aggregateType,omitempty"`
	AggregateID   string                    `json:"aggregateId,omitempty"`
	OccurredAt    time.Time                 `json:"occurredAt"`
	Source        string                    `json:"source,omitempty"`
	Data          json.RawMessage           `json:"data"`
}
