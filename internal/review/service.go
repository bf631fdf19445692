// Package review raises payments that need an operator: integrity
// rejections, conflicting terminal outcomes and polling that gave up.
package review

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/payrecon/internal/ledger"
	"github.com/angelmondragon/payrecon/pkg/db/models"
	"github.com/angelmondragon/payrecon/pkg/enums"
	"github.com/angelmondragon/payrecon/pkg/logger"
	"github.com/angelmondragon/payrecon/pkg/metrics"
	"github.com/angelmondragon/payrecon/pkg/outbox"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Reason string

const (
	ReasonAmountMismatch     Reason = "amount_mismatch"
	ReasonCurrencyMismatch   Reason = "currency_mismatch"
	ReasonReferenceMismatch  Reason = "reference_mismatch"
	ReasonConflictingOutcome Reason = "conflicting_outcome"
	ReasonPollingExpired     Reason = "polling_expired"
	ReasonPollingAborted     Reason = "polling_aborted"
	ReasonStale              Reason = "stale"
)

// Item is one thing an operator should look at.
type Item struct {
	Reason       Reason
	Ledger       *models.PaymentLedger
	Channel      enums.SourceChannel
	Detail       string
	AttemptCount int
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	Count(tx *gorm.DB, eventType enums.OutboxEventType, aggregateID uuid.UUID) (int64, error)
}

type ServiceParams struct {
	Tx      txRunner
	Ledgers ledger.Repository
	Outbox  outboxPublisher
	Metrics *metrics.ReconciliationMetrics
	Logger  *logger.Logger
	Now     func() time.Time
}

type Service struct {
	tx      txRunner
	ledgers ledger.Repository
	outbox  outboxPublisher
	metrics *metrics.ReconciliationMetrics
	logg    *logger.Logger
	now     func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Ledgers == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		tx:      params.Tx,
		ledgers: params.Ledgers,
		outbox:  params.Outbox,
		metrics: params.Metrics,
		logg:    params.Logger,
		now:     now,
	}, nil
}

// Flag queues a review request inside the caller's transaction.
func (s *Service) Flag(ctx context.Context, tx *gorm.DB, item Item) error {
	if item.Ledger == nil {
		return fmt.Errorf("review item ledger required")
	}
	if err := s.emit(ctx, tx, enums.EventPaymentReviewRequired, item); err != nil {
		return err
	}
	s.metrics.IncReview(string(item.Reason))
	s.logg.Warn(s.fields(ctx, item), "payment flagged for review")
	return nil
}

// Escalate records a soft failure the engine cannot resolve on its own. It
// appends a system history entry and queues the escalation event in one tx.
// The ledger is re-read under its row lock first, and nothing is raised once
// it reached a terminal status. Stale escalations are raised at most once per
// ledger; the boolean reports whether anything was written.
func (s *Service) Escalate(ctx context.Context, item Item) (bool, error) {
	if item.Ledger == nil {
		return false, fmt.Errorf("review item ledger required")
	}
	eventType, note := escalationFor(item.Reason)

	raised := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		current, err := s.ledgers.WithTx(tx).LockByOrderID(ctx, item.Ledger.OrderID)
		if err != nil {
			return err
		}
		if current.Status.IsTerminal() {
			s.logg.Info(s.logg.WithFields(ctx, map[string]any{
				"order_id":      current.OrderID.String(),
				"reason":        string(item.Reason),
				"ledger_status": current.Status.String(),
			}), "escalation skipped, ledger already settled")
			return nil
		}
		item.Ledger = current

		if item.Reason == ReasonStale {
			n, err := s.outbox.Count(tx, eventType, item.Ledger.ID)
			if err != nil {
				return err
			}
			if n > 0 {
				return nil
			}
		}
		if err := s.ledgers.WithTx(tx).AppendHistory(ctx, &models.PaymentLedgerHistory{
			LedgerID:      item.Ledger.ID,
			OrderID:       item.Ledger.OrderID,
			Status:        item.Ledger.Status,
			SourceChannel: enums.SourceChannelSystem,
			Note:          note,
			ObservedAt:    s.now().UTC(),
		}); err != nil {
			return err
		}
		if err := s.emit(ctx, tx, eventType, item); err != nil {
			return err
		}
		raised = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if raised {
		s.metrics.IncReview(string(item.Reason))
		s.logg.Warn(s.fields(ctx, item), "payment escalated")
	}
	return raised, nil
}

func (s *Service) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, item Item) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregatePaymentLedger,
		AggregateID:   item.Ledger.ID,
		OccurredAt:    s.now().UTC(),
		Data: outbox.PaymentReviewEvent{
			OrderID:          item.Ledger.OrderID,
			LedgerID:         item.Ledger.ID,
			GatewayReference: item.Ledger.Reference(),
			Reason:           string(item.Reason),
			Detail:           item.Detail,
			SourceChannel:    string(item.Channel),
			LedgerStatus:     item.Ledger.Status.String(),
			AttemptCount:     item.AttemptCount,
			RaisedAt:         s.now().UTC(),
		},
	})
}

func (s *Service) fields(ctx context.Context, item Item) context.Context {
	return s.logg.WithFields(ctx, map[string]any{
		"order_id":          item.Ledger.OrderID.String(),
		"gateway_reference": item.Ledger.Reference(),
		"reason":            string(item.Reason),
		"detail":            item.Detail,
	})
}

func escalationFor(reason Reason) (enums.OutboxEventType, string) {
	switch reason {
	case ReasonPollingExpired:
		return enums.EventPaymentPollingExpired, ledger.NotePollingExpired
	case ReasonPollingAborted:
		return enums.EventPaymentPollingAborted, ledger.NotePollingAborted
	case ReasonStale:
		return enums.EventPaymentLedgerStale, ledger.NoteStale
	default:
		return enums.EventPaymentReviewRequired, "escalated: " + string(reason)
	}
}
