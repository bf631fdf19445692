// Package payments is the application entry point for starting a payment,
// checking its status on demand and inspecting its ledger.
package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/payrecon/internal/gateway"
	"github.com/angelmondragon/payrecon/internal/ledger"
	"github.com/angelmondragon/payrecon/internal/orders"
	"github.com/angelmondragon/payrecon/internal/polling"
	"github.com/angelmondragon/payrecon/internal/reconciliation"
	"github.com/angelmondragon/payrecon/pkg/config"
	"github.com/angelmondragon/payrecon/pkg/db/models"
	"github.com/angelmondragon/payrecon/pkg/enums"
	pkgerrors "github.com/angelmondragon/payrecon/pkg/errors"
	"github.com/angelmondragon/payrecon/pkg/logger"
	"github.com/google/uuid"
)

type paymentGateway interface {
	Initiate(ctx context.Context, order gateway.Order) (*gateway.Initiation, error)
	QueryStatus(ctx context.Context, reference string) (*gateway.StatusResponse, error)
}

type eventApplier interface {
	ApplyStatusEvent(ctx context.Context, orderID uuid.UUID, ev reconciliation.Event) (*reconciliation.Result, error)
}

type pollingScheduler interface {
	StartPolling(ctx context.Context, orderID uuid.UUID, reference string) (polling.Snapshot, error)
	Get(orderID uuid.UUID) (polling.Snapshot, bool)
	GetPollingStatus() []polling.Snapshot
}

type rateLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// Initiation is returned to checkout so the customer can be redirected.
type Initiation struct {
	OrderID          uuid.UUID        `json:"orderId"`
	RedirectURL      string           `json:"redirectUrl"`
	GatewayReference string           `json:"gatewayReference"`
	Polling          polling.Snapshot `json:"polling"`
}

// StatusCheck is the result of one on-demand status query.
type StatusCheck struct {
	OrderID          uuid.UUID              `json:"orderId"`
	GatewayReference string                 `json:"gatewayReference"`
	Status           enums.LedgerStatus     `json:"status"`
	Outcome          reconciliation.Outcome `json:"outcome,omitempty"`
	Note             string                 `json:"note,omitempty"`
	Queried          bool                   `json:"queried"`
}

// LedgerView is the operator view of one order's payment.
type LedgerView struct {
	Ledger  *models.PaymentLedger         `json:"ledger"`
	History []models.PaymentLedgerHistory `json:"history"`
	Polling *polling.Snapshot             `json:"polling,omitempty"`
}

type ServiceParams struct {
	Orders      orders.Manager
	Ledgers     ledger.Service
	Gateway     paymentGateway
	Core        eventApplier
	Scheduler   pollingScheduler
	Limiter     rateLimiter
	StatusCheck config.StatusCheckConfig
	Polling     config.PollingConfig
	Logger      *logger.Logger
	Now         func() time.Time
}

type Service struct {
	orders      orders.Manager
	ledgers     ledger.Service
	gateway     paymentGateway
	core        eventApplier
	scheduler   pollingScheduler
	limiter     rateLimiter
	statusCheck config.StatusCheckConfig
	window      time.Duration
	logg        *logger.Logger
	now         func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Orders == nil {
		return nil, fmt.Errorf("order manager required")
	}
	if params.Ledgers == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("gateway client required")
	}
	if params.Core == nil {
		return nil, fmt.Errorf("reconciliation core required")
	}
	if params.Scheduler == nil {
		return nil, fmt.Errorf("polling scheduler required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		orders:      params.Orders,
		ledgers:     params.Ledgers,
		gateway:     params.Gateway,
		core:        params.Core,
		scheduler:   params.Scheduler,
		limiter:     params.Limiter,
		statusCheck: params.StatusCheck,
		window:      params.Polling.Window,
		logg:        params.Logger,
		now:         now,
	}, nil
}

// Initiate opens the ledger, builds the signed redirect and starts polling.
// Calling it again for the same order reuses the reference already assigned.
func (s *Service) Initiate(ctx context.Context, orderID uuid.UUID) (*Initiation, error) {
	ctx = s.logg.WithOrderID(ctx, orderID.String())

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentState == enums.OrderPaymentPaid {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is already paid")
	}

	current, err := s.ledgers.Open(ctx, ledger.OpenInput{
		OrderID:     order.ID,
		AmountCents: order.AmountCents,
		Currency:    order.Currency,
	})
	if err != nil {
		return nil, err
	}
	if current.Status.IsTerminal() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("payment already %s", current.Status)).
			WithDetails(map[string]any{"status": current.Status})
	}

	initiation, err := s.gateway.Initiate(ctx, gateway.Order{
		ID:                order.ID,
		AmountCents:       current.AmountExpectedCents,
		Currency:          current.Currency,
		ExistingReference: current.Reference(),
	})
	if err != nil {
		return nil, err
	}

	if current.Reference() == "" {
		assigned, err := s.ledgers.AssignReference(ctx, order.ID, initiation.GatewayReference)
		if err != nil {
			assigned, initiation, err = s.adoptAssignedReference(ctx, order.ID, err)
			if err != nil {
				return nil, err
			}
		}
		current = assigned
	}
	if err := s.orders.MarkAwaitingPayment(ctx, order.ID); err != nil {
		return nil, err
	}

	snap, err := s.scheduler.StartPolling(ctx, order.ID, current.Reference())
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithGatewayReference(ctx, current.Reference()), "payment initiated")
	return &Initiation{
		OrderID:          order.ID,
		RedirectURL:      initiation.RedirectURL,
		GatewayReference: current.Reference(),
		Polling:          snap,
	}, nil
}

// adoptAssignedReference recovers when a concurrent Initiate assigned its
// reference first. The redirect is rebuilt around the stored reference; any
// other failure, or a conflict that left no reference behind, returns cause.
func (s *Service) adoptAssignedReference(ctx context.Context, orderID uuid.UUID, cause error) (*models.PaymentLedger, *gateway.Initiation, error) {
	if !pkgerrors.IsCode(cause, pkgerrors.CodeConflict) && !pkgerrors.IsCode(cause, pkgerrors.CodeLedgerConflict) {
		return nil, nil, cause
	}
	winner, err := s.ledgers.Get(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if winner.Reference() == "" {
		return nil, nil, cause
	}
	if winner.Status.IsTerminal() {
		return nil, nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("payment already %s", winner.Status)).
			WithDetails(map[string]any{"status": winner.Status})
	}

	initiation, err := s.gateway.Initiate(ctx, gateway.Order{
		ID:                orderID,
		AmountCents:       winner.AmountExpectedCents,
		Currency:          winner.Currency,
		ExistingReference: winner.Reference(),
	})
	if err != nil {
		return nil, nil, err
	}
	s.logg.Info(s.logg.WithGatewayReference(ctx, winner.Reference()), "reusing reference assigned by concurrent initiation")
	return winner, initiation, nil
}

// CheckStatus queries the gateway immediately and records the answer as a
// pull event. Settled ledgers are reported without querying.
func (s *Service) CheckStatus(ctx context.Context, orderID uuid.UUID) (*StatusCheck, error) {
	ctx = s.logg.WithOrderID(ctx, orderID.String())

	if err := s.allow(ctx, orderID); err != nil {
		return nil, err
	}

	current, err := s.ledgers.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	ref := current.Reference()
	if ref == "" {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment has not been initiated")
	}
	out := &StatusCheck{OrderID: orderID, GatewayReference: ref, Status: current.Status}
	if current.Status.IsTerminal() {
		return out, nil
	}

	resp, err := s.gateway.QueryStatus(ctx, ref)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeGatewayUnreachable) && s.windowClosed(current) {
			return nil, pkgerrors.Wrap(pkgerrors.CodePollingExpired, err, "payment still pending after polling window").
				WithDetails(map[string]any{"status": current.Status, "gatewayReference": ref})
		}
		return nil, err
	}

	result, err := s.core.ApplyStatusEvent(ctx, orderID, reconciliation.EventFromResponse(resp, enums.SourceChannelPull))
	if err != nil {
		return nil, err
	}
	out.Status = result.Status
	out.Outcome = result.Outcome
	out.Note = result.Note
	out.Queried = true
	return out, nil
}

// StartPolling validates the reference against the ledger and hands the
// order to the scheduler.
func (s *Service) StartPolling(ctx context.Context, orderID uuid.UUID, reference string) (polling.Snapshot, error) {
	if reference == "" {
		return polling.Snapshot{}, pkgerrors.New(pkgerrors.CodeValidation, "gateway reference is required")
	}
	return s.scheduler.StartPolling(ctx, orderID, reference)
}

func (s *Service) Ledger(ctx context.Context, orderID uuid.UUID) (*LedgerView, error) {
	current, err := s.ledgers.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	history, err := s.ledgers.History(ctx, orderID)
	if err != nil {
		return nil, err
	}
	view := &LedgerView{Ledger: current, History: history}
	if snap, ok := s.scheduler.Get(orderID); ok {
		view.Polling = &snap
	}
	return view, nil
}

func (s *Service) PollingStatus() []polling.Snapshot {
	return s.scheduler.GetPollingStatus()
}

func (s *Service) allow(ctx context.Context, orderID uuid.UUID) error {
	if s.limiter == nil || s.statusCheck.Limit <= 0 {
		return nil
	}
	allowed, count, err := s.limiter.FixedWindowAllow(ctx, "status-check:"+orderID.String(), int64(s.statusCheck.Limit), s.statusCheck.Window)
	if err != nil {
		// fail open
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "status check rate limit unavailable")
		return nil
	}
	if !allowed {
		return pkgerrors.New(pkgerrors.CodeRateLimit, "too many status checks").
			WithDetails(map[string]any{"count": count, "window": s.statusCheck.Window.String()})
	}
	return nil
}

func (s *Service) windowClosed(current *models.PaymentLedger) bool {
	if s.window <= 0 || current.InitiatedAt == nil {
		return false
	}
	return !s.now().Before(current.InitiatedAt.Add(s.window))
}
