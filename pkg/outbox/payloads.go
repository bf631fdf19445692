package outbox

import (
	"time"

	"github.com/google/uuid"
)

// OrderPaidEvent is emitted once per order when its ledger reaches confirmed.
type OrderPaidEvent struct {
	OrderID          uuid.UUID `json:"orderId"`
	GatewayReference string    `json:"gatewayReference"`
	TransactionRef   string    `json:"transactionRef,omitempty"`
	AmountCents      int64     `json:"amountCents"`
	Currency         string    `json:"currency"`
	SourceChannel    string    `json:"sourceChannel"`
	PaidAt           time.Time `json:"paidAt"`
}

// OrderPaymentFailedEvent is emitted when the ledger reaches failed or cancelled.
type OrderPaymentFailedEvent struct {
	OrderID          uuid.UUID `json:"orderId"`
	GatewayReference string    `json:"gatewayReference"`
	Reason           string    `json:"reason"`
	FailedAt         time.Time `json:"failedAt"`
}

// PaymentReviewEvent asks an operator to look at an order's payment by hand.
type PaymentReviewEvent struct {
	OrderID          uuid.UUID `json:"orderId"`
	LedgerID         uuid.UUID `json:"ledgerId"`
	GatewayReference string    `json:"gatewayReference,omitempty"`
	Reason           string    `json:"reason"`
	Detail           string    `json:"detail,omitempty"`
	SourceChannel    string    `json:"sourceChannel,omitempty"`
	LedgerStatus     string    `json:"ledgerStatus"`
	AttemptCount     int       `json:"attemptCount,omitempty"`
	RaisedAt         time.Time `json:"raisedAt"`
}
