// Package reconciliation applies payment status events from the callback
// and polling channels to the order payment ledger, at most once per order.
package reconciliation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/angelmondragon/payrecon/internal/ledger"
	"github.com/angelmondragon/payrecon/internal/locks"
	"github.com/angelmondragon/payrecon/internal/orders"
	"github.com/angelmondragon/payrecon/internal/review"
	"github.com/angelmondragon/payrecon/pkg/db/models"
	"github.com/angelmondragon/payrecon/pkg/enums"
	pkgerrors "github.com/angelmondragon/payrecon/pkg/errors"
	"github.com/angelmondragon/payrecon/pkg/logger"
	"github.com/angelmondragon/payrecon/pkg/metrics"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const defaultConflictRetries = 3

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type orderSettler interface {
	MarkOrderPaid(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, details orders.PaymentConfirmation) error
	MarkOrderFailed(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason orders.FailureDetails) error
}

type reviewer interface {
	Flag(ctx context.Context, tx *gorm.DB, item review.Item) error
}

// TerminalListener is told after commit that a ledger reached a terminal status.
type TerminalListener func(ctx context.Context, orderID uuid.UUID, status enums.LedgerStatus)

type CoreParams struct {
	Tx              txRunner
	Ledgers         ledger.Repository
	Orders          orderSettler
	Review          reviewer
	Locker          locks.Locker
	Metrics         *metrics.ReconciliationMetrics
	Logger          *logger.Logger
	Now             func() time.Time
	ConflictRetries int
}

type Core struct {
	tx        txRunner
	ledgers   ledger.Repository
	orders    orderSettler
	review    reviewer
	locker    locks.Locker
	metrics   *metrics.ReconciliationMetrics
	logg      *logger.Logger
	now       func() time.Time
	retries   int
	mu        sync.RWMutex
	listeners []TerminalListener
}

func NewCore(params CoreParams) (*Core, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Ledgers == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order manager required")
	}
	if params.Review == nil {
		return nil, fmt.Errorf("review service required")
	}
	if params.Locker == nil {
		return nil, fmt.Errorf("locker required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	retries := params.ConflictRetries
	if retries <= 0 {
		retries = defaultConflictRetries
	}
	return &Core{
		tx:      params.Tx,
		ledgers: params.Ledgers,
		orders:  params.Orders,
		review:  params.Review,
		locker:  params.Locker,
		metrics: params.Metrics,
		logg:    params.Logger,
		now:     now,
		retries: retries,
	}, nil
}

// Subscribe registers fn to run after a terminal transition commits.
func (c *Core) Subscribe(fn TerminalListener) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// ApplyStatusEvent records ev against the order's ledger. Every call that
// returns a nil error appended exactly one history entry. Integrity
// rejections and duplicates are reported through the Result, not as errors.
// A non-nil error means nothing was committed and the caller should retry.
func (c *Core) ApplyStatusEvent(ctx context.Context, orderID uuid.UUID, ev Event) (*Result, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if !ev.SourceChannel.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid source channel %q", ev.SourceChannel))
	}
	if !ev.NormalizedStatus.IsValid() {
		ev.NormalizedStatus = enums.NormalizedError
	}
	if ev.ObservedAt.IsZero() {
		ev.ObservedAt = c.now()
	}
	ev.ObservedAt = ev.ObservedAt.UTC()

	ctx = c.logg.WithOrderID(ctx, orderID.String())
	ctx = c.logg.WithGatewayReference(ctx, ev.GatewayReference)
	ctx = c.logg.WithChannel(ctx, ev.SourceChannel.String())

	release, err := c.locker.Acquire(ctx, orderID.String())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeLedgerConflict, err, "acquire ledger lock")
	}
	defer release()

	var result *Result
	for attempt := 1; ; attempt++ {
		result, err = c.apply(ctx, orderID, ev)
		if err == nil || !pkgerrors.IsCode(err, pkgerrors.CodeLedgerConflict) || attempt >= c.retries {
			break
		}
		c.logg.Warn(ctx, "ledger version moved; retrying event")
	}
	if err != nil {
		c.metrics.IncEvent("error", ev.SourceChannel.String())
		c.logg.Error(ctx, "apply status event failed", err)
		return nil, err
	}

	c.metrics.IncEvent(string(result.Outcome), ev.SourceChannel.String())
	c.logg.Info(c.logg.WithFields(ctx, map[string]any{
		"outcome":           string(result.Outcome),
		"normalized_status": ev.NormalizedStatus.String(),
		"ledger_status":     result.Status.String(),
		"note":              result.Note,
	}), "status event recorded")

	if result.Changed && result.Terminal() {
		c.notify(ctx, orderID, result.Status)
	}
	return result, nil
}

func (c *Core) apply(ctx context.Context, orderID uuid.UUID, ev Event) (*Result, error) {
	var result *Result
	err := c.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := c.ledgers.WithTx(tx)
		current, err := repo.FindByOrderID(ctx, orderID)
		if err != nil {
			return err
		}

		d := decide(current, ev)
		previous := current.Status
		now := c.now().UTC()
		current.LastCheckedAt = &now
		if d.target != "" {
			current.Status = d.target
			current.TerminalAt = &now
		}
		if d.countConfirmation {
			current.ConfirmationChannels = current.ConfirmationChannels.Add(ev.SourceChannel)
			current.ConfirmationCount++
		}

		if err := repo.UpdateVersioned(ctx, current); err != nil {
			return err
		}
		if err := repo.AppendHistory(ctx, historyEntry(current, ev, d.note)); err != nil {
			return err
		}

		if d.target != "" {
			if err := c.settle(ctx, tx, current, ev); err != nil {
				return err
			}
		}
		if d.review != "" {
			if err := c.review.Flag(ctx, tx, review.Item{
				Reason:  d.review,
				Ledger:  current,
				Channel: ev.SourceChannel,
				Detail:  d.detail,
			}); err != nil {
				return err
			}
		}

		result = &Result{
			Outcome:  d.outcome,
			Status:   current.Status,
			Previous: previous,
			Note:     d.note,
			Changed:  d.target != "",
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// settle runs the order side effect in the same transaction as the status
// write, so neither can commit without the other.
func (c *Core) settle(ctx context.Context, tx *gorm.DB, current *models.PaymentLedger, ev Event) error {
	switch current.Status {
	case enums.LedgerStatusConfirmed:
		return c.orders.MarkOrderPaid(ctx, tx, current.OrderID, orders.PaymentConfirmation{
			GatewayReference: current.Reference(),
			TransactionRef:   ev.TransactionRef,
			AmountCents:      current.AmountExpectedCents,
			Currency:         current.Currency,
			SourceChannel:    ev.SourceChannel,
			ConfirmedAt:      ev.ObservedAt,
		})
	case enums.LedgerStatusFailed, enums.LedgerStatusCancelled:
		reason := string(ev.NormalizedStatus)
		if ev.RawStatusCode != "" {
			reason = fmt.Sprintf("%s (%s)", reason, ev.RawStatusCode)
		}
		return c.orders.MarkOrderFailed(ctx, tx, current.OrderID, orders.FailureDetails{
			GatewayReference: current.Reference(),
			Reason:           reason,
			FailedAt:         ev.ObservedAt,
		})
	default:
		return nil
	}
}

func (c *Core) notify(ctx context.Context, orderID uuid.UUID, status enums.LedgerStatus) {
	c.mu.RLock()
	listeners := append([]TerminalListener(nil), c.listeners...)
	c.mu.RUnlock()
	for _, fn := range listeners {
		fn(ctx, orderID, status)
	}
}

func historyEntry(current *models.PaymentLedger, ev Event, note string) *models.PaymentLedgerHistory {
	entry := &models.PaymentLedgerHistory{
		LedgerID:      current.ID,
		OrderID:       current.OrderID,
		Status:        current.Status,
		SourceChannel: ev.SourceChannel,
		AmountCents:   ev.AmountCents,
		Note:          note,
		ObservedAt:    ev.ObservedAt,
	}
	normalized := ev.NormalizedStatus
	entry.NormalizedStatus = &normalized
	if ev.RawStatusCode != "" {
		raw := ev.RawStatusCode
		entry.RawStatusCode = &raw
	}
	if ev.Currency != "" {
		currency := ev.Currency.String()
		entry.Currency = &currency
	}
	if ev.TransactionRef != "" {
		ref := ev.TransactionRef
		entry.TransactionRef = &ref
	}
	return entry
}
