package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/payrecon/pkg/db"
	"github.com/angelmondragon/payrecon/pkg/db/models"
	"github.com/angelmondragon/payrecon/pkg/enums"
	pkgerrors "github.com/angelmondragon/payrecon/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Service owns ledger creation and reference assignment. Status transitions
// past awaiting_confirmation belong to the reconciliation core.
type Service interface {
	Open(ctx context.Context, input OpenInput) (*models.PaymentLedger, error)
	AssignReference(ctx context.Context, orderID uuid.UUID, reference string) (*models.PaymentLedger, error)
	Get(ctx context.Context, orderID uuid.UUID) (*models.PaymentLedger, error)
	GetByReference(ctx context.Context, reference string) (*models.PaymentLedger, error)
	History(ctx context.Context, orderID uuid.UUID) ([]models.PaymentLedgerHistory, error)
	ListAwaiting(ctx context.Context, limit int) ([]models.PaymentLedger, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// OpenInput is what checkout knows when the ledger is first created.
type OpenInput struct {
	OrderID     uuid.UUID
	AmountCents int64
	Currency    enums.Currency
}

type ServiceParams struct {
	Repo Repository
	Tx   txRunner
	Now  func() time.Time
}

type service struct {
	repo Repository
	tx   txRunner
	now  func() time.Time
}

// NewService wires a ledger service with the provided repository.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{repo: params.Repo, tx: params.Tx, now: now}, nil
}

// Open creates the uninitiated ledger for an order. Calling it again for the
// same order returns the existing ledger.
func (s *service) Open(ctx context.Context, input OpenInput) (*models.PaymentLedger, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "amount must be positive")
	}
	if !input.Currency.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid currency %q", input.Currency))
	}

	existing, err := s.repo.FindByOrderID(ctx, input.OrderID)
	if err == nil {
		return existing, nil
	}
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		return nil, err
	}

	ledger := &models.PaymentLedger{
		OrderID:              input.OrderID,
		AmountExpectedCents:  input.AmountCents,
		Currency:             input.Currency,
		Status:               enums.LedgerStatusUninitiated,
		ConfirmationChannels: []enums.SourceChannel{},
	}
	if err := s.repo.Create(ctx, ledger); err != nil {
		if db.IsUniqueViolation(err, "") {
			return s.repo.FindByOrderID(ctx, input.OrderID)
		}
		return nil, err
	}
	return ledger, nil
}

// AssignReference sets the gateway reference once and moves the ledger to
// awaiting_confirmation. Re-assigning the same reference is a no-op.
func (s *service) AssignReference(ctx context.Context, orderID uuid.UUID, reference string) (*models.PaymentLedger, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "gateway reference is required")
	}

	var out *models.PaymentLedger
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ledger, err := repo.FindByOrderID(ctx, orderID)
		if err != nil {
			return err
		}
		if current := ledger.Reference(); current != "" {
			if current != reference {
				return pkgerrors.New(pkgerrors.CodeConflict, "gateway reference already assigned")
			}
			out = ledger
			return nil
		}
		if ledger.Status != enums.LedgerStatusUninitiated {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("ledger is %s", ledger.Status))
		}

		now := s.now().UTC()
		ledger.GatewayReference = &reference
		ledger.Status = enums.LedgerStatusAwaitingConfirmation
		ledger.InitiatedAt = &now
		if err := repo.UpdateVersioned(ctx, ledger); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "gateway reference already in use")
			}
			return err
		}
		if err := repo.AppendHistory(ctx, &models.PaymentLedgerHistory{
			LedgerID:      ledger.ID,
			OrderID:       ledger.OrderID,
			Status:        ledger.Status,
			SourceChannel: enums.SourceChannelSystem,
			Note:          NoteInitiated,
			ObservedAt:    now,
		}); err != nil {
			return err
		}
		out = ledger
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *service) Get(ctx context.Context, orderID uuid.UUID) (*models.PaymentLedger, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	return s.repo.FindByOrderID(ctx, orderID)
}

func (s *service) GetByReference(ctx context.Context, reference string) (*models.PaymentLedger, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "gateway reference is required")
	}
	return s.repo.FindByReference(ctx, reference)
}

func (s *service) History(ctx context.Context, orderID uuid.UUID) ([]models.PaymentLedgerHistory, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	return s.repo.ListHistory(ctx, orderID)
}

func (s *service) ListAwaiting(ctx context.Context, limit int) ([]models.PaymentLedger, error) {
	return s.repo.ListAwaiting(ctx, limit)
}
