package reconciliation

import (
	"time"

	"github.com/angelmondragon/payrecon/internal/gateway"
	"github.com/angelmondragon/payrecon/pkg/enums"
)

// Event is a normalized status report from either channel.
type Event struct {
	SourceChannel    enums.SourceChannel
	GatewayReference string
	NormalizedStatus enums.NormalizedStatus
	RawStatusCode    string
	TransactionRef   string
	AmountCents      *int64
	Currency         enums.Currency
	ObservedAt       time.Time
}

// EventFromResponse tags a decoded gateway response with its channel.
func EventFromResponse(resp *gateway.StatusResponse, channel enums.SourceChannel) Event {
	if resp == nil {
		return Event{SourceChannel: channel, NormalizedStatus: enums.NormalizedError}
	}
	return Event{
		SourceChannel:    channel,
		GatewayReference: resp.GatewayReference,
		NormalizedStatus: resp.NormalizedStatus,
		RawStatusCode:    resp.RawStatusCode,
		TransactionRef:   resp.TransactionRef,
		AmountCents:      resp.AmountCents,
		Currency:         resp.Currency,
		ObservedAt:       resp.ObservedAt,
	}
}

// Outcome is how the core resolved one event.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRejected  Outcome = "rejected"
	OutcomeNoChange  Outcome = "no_change"
)

// Result describes the ledger after an event was recorded.
type Result struct {
	Outcome Outcome
	// Status is the ledger status after the event.
	Status   enums.LedgerStatus
	Previous enums.LedgerStatus
	Note     string
	Changed  bool
}

// Terminal reports whether the ledger has reached a final status.
func (r *Result) Terminal() bool {
	return r != nil && r.Status.IsTerminal()
}
