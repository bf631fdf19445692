package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/payrecon/pkg/db/models"
	"github.com/angelmondragon/payrecon/pkg/enums"
	pkgerrors "github.com/angelmondragon/payrecon/pkg/errors"
	"github.com/angelmondragon/payrecon/pkg/logger"
	"github.com/angelmondragon/payrecon/pkg/outbox"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Manager is the order-management boundary the payment engine settles
// against. The Mark methods run inside the caller's transaction.
type Manager interface {
	GetOrder(ctx context.Context, orderID uuid.UUID) (*Order, error)
	MarkAwaitingPayment(ctx context.Context, orderID uuid.UUID) error
	MarkOrderPaid(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, details PaymentConfirmation) error
	MarkOrderFailed(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason FailureDetails) error
}

// Order is what the payment engine needs to know about an order.
type Order struct {
	ID           uuid.UUID
	AmountCents  int64
	Currency     enums.Currency
	PaymentState enums.OrderPaymentState
}

// PaymentConfirmation describes the event that confirmed payment.
type PaymentConfirmation struct {
	GatewayReference string
	TransactionRef   string
	AmountCents      int64
	Currency         enums.Currency
	SourceChannel    enums.SourceChannel
	ConfirmedAt      time.Time
}

type FailureDetails struct {
	GatewayReference string
	Reason           string
	FailedAt         time.Time
}

type ManagerParams struct {
	Repo   Repository
	Outbox outboxPublisher
	Logger *logger.Logger
	Now    func() time.Time
}

type manager struct {
	repo   Repository
	outbox outboxPublisher
	logg   *logger.Logger
	now    func() time.Time
}

func NewManager(params ManagerParams) (Manager, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
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
	return &manager{repo: params.Repo, outbox: params.Outbox, logg: params.Logger, now: now}, nil
}

func (m *manager) GetOrder(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	order, err := m.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return toOrder(order), nil
}

func (m *manager) MarkAwaitingPayment(ctx context.Context, orderID uuid.UUID) error {
	rows, err := m.repo.UpdatePaymentState(ctx, orderID,
		[]enums.OrderPaymentState{enums.OrderPaymentPaid, enums.OrderPaymentAwaitingPayment},
		map[string]any{
			"payment_state": enums.OrderPaymentAwaitingPayment,
			"updated_at":    m.now().UTC(),
		})
	if err != nil {
		return err
	}
	if rows == 0 {
		order, err := m.repo.FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		if order.PaymentState == enums.OrderPaymentPaid {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order is already paid")
		}
	}
	return nil
}

// MarkOrderPaid credits the order and queues order_paid in the same tx. An
// order that is already paid is left untouched.
func (m *manager) MarkOrderPaid(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, details PaymentConfirmation) error {
	if tx == nil {
		return fmt.Errorf("transaction required")
	}
	paidAt := details.ConfirmedAt
	if paidAt.IsZero() {
		paidAt = m.now()
	}
	paidAt = paidAt.UTC()

	repo := m.repo.WithTx(tx)
	rows, err := repo.UpdatePaymentState(ctx, orderID,
		[]enums.OrderPaymentState{enums.OrderPaymentPaid},
		map[string]any{
			"payment_state":  enums.OrderPaymentPaid,
			"paid_at":        paidAt,
			"failure_reason": nil,
			"updated_at":     m.now().UTC(),
		})
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := repo.FindByID(ctx, orderID); err != nil {
			return err
		}
		m.logg.Warn(m.logg.WithOrderID(ctx, orderID.String()), "order already paid; skipping credit")
		return nil
	}

	return m.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		OccurredAt:    paidAt,
		Data: outbox.OrderPaidEvent{
			OrderID:          orderID,
			GatewayReference: details.GatewayReference,
			TransactionRef:   details.TransactionRef,
			AmountCents:      details.AmountCents,
			Currency:         details.Currency.String(),
			SourceChannel:    details.SourceChannel.String(),
			PaidAt:           paidAt,
		},
	})
}

// MarkOrderFailed records a failed or cancelled payment. Paid orders are never
// downgraded.
func (m *manager) MarkOrderFailed(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason FailureDetails) error {
	if tx == nil {
		return fmt.Errorf("transaction required")
	}
	failedAt := reason.FailedAt
	if failedAt.IsZero() {
		failedAt = m.now()
	}
	failedAt = failedAt.UTC()

	repo := m.repo.WithTx(tx)
	rows, err := repo.UpdatePaymentState(ctx, orderID,
		[]enums.OrderPaymentState{enums.OrderPaymentPaid, enums.OrderPaymentFailed},
		map[string]any{
			"payment_state":  enums.OrderPaymentFailed,
			"failure_reason": reason.Reason,
			"updated_at":     m.now().UTC(),
		})
	if err != nil {
		return err
	}
	if rows == 0 {
		order, err := repo.FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		m.logg.Warn(m.logg.WithFields(ctx, map[string]any{
			"order_id":      orderID.String(),
			"payment_state": order.PaymentState,
		}), "order payment failure not applied")
		return nil
	}

	return m.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderPaymentFailed,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		OccurredAt:    failedAt,
		Data: outbox.OrderPaymentFailedEvent{
			OrderID:          orderID,
			GatewayReference: reason.GatewayReference,
			Reason:           reason.Reason,
			FailedAt:         failedAt,
		},
	})
}

func toOrder(order *models.Order) *Order {
	return &Order{
		ID:           order.ID,
		AmountCents:  order.AmountCents,
		Currency:     order.Currency,
		PaymentState: order.PaymentState,
	}
}
