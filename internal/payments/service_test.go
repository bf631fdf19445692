package payments

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/payrecon/internal/gateway"
	"github.com/angelmondragon/payrecon/internal/ledger"
	"github.com/angelmondragon/payrecon/internal/locks"
	"github.com/angelmondragon/payrecon/internal/orders"
	"github.com/angelmondragon/payrecon/internal/polling"
	"github.com/angelmondragon/payrecon/internal/reconciliation"
	"github.com/angelmondragon/payrecon/internal/review"
	"github.com/angelmondragon/payrecon/pkg/config"
	"github.com/angelmondragon/payrecon/pkg/db/dbtest"
	"github.com/angelmondragon/payrecon/pkg/db/models"
	"github.com/angelmondragon/payrecon/pkg/enums"
	pkgerrors "github.com/angelmondragon/payrecon/pkg/errors"
	"github.com/angelmondragon/payrecon/pkg/logger"
	"github.com/angelmondragon/payrecon/pkg/outbox"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

type fakeGateway struct {
	initiated []gateway.Order
	queries   int
	status    func(reference string) (*gateway.StatusResponse, error)
}

func (g *fakeGateway) Initiate(ctx context.Context, order gateway.Order) (*gateway.Initiation, error) {
	g.initiated = append(g.initiated, order)
	ref := order.ExistingReference
	if ref == "" {
		ref = "PR-" + order.ID.String()[:8]
	}
	return &gateway.Initiation{RedirectURL: "https://pay.example.test/pay?reference=" + ref, GatewayReference: ref}, nil
}

func (g *fakeGateway) QueryStatus(ctx context.Context, reference string) (*gateway.StatusResponse, error) {
	g.queries++
	return g.status(reference)
}

type fakeScheduler struct {
	mu      sync.Mutex
	started map[uuid.UUID]string
}

func (s *fakeScheduler) StartPolling(ctx context.Context, orderID uuid.UUID, reference string) (polling.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started[orderID] = reference
	return polling.Snapshot{OrderID: orderID, GatewayReference: reference, State: enums.PollingStateScheduled}, nil
}

func (s *fakeScheduler) Get(orderID uuid.UUID) (polling.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.started[orderID]
	if !ok {
		return polling.Snapshot{}, false
	}
	return polling.Snapshot{OrderID: orderID, GatewayReference: ref, State: enums.PollingStateScheduled}, true
}

func (s *fakeScheduler) GetPollingStatus() []polling.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]polling.Snapshot, 0, len(s.started))
	for id, ref := range s.started {
		out = append(out, polling.Snapshot{OrderID: id, GatewayReference: ref, State: enums.PollingStateScheduled})
	}
	return out
}

type fakeLimiter struct {
	counts map[string]int64
	err    error
}

func (l *fakeLimiter) FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error) {
	if l.err != nil {
		return false, 0, l.err
	}
	l.counts[scope]++
	return l.counts[scope] <= limit, l.counts[scope], nil
}

type fixture struct {
	svc       *Service
	gateway   *fakeGateway
	scheduler *fakeScheduler
	limiter   *fakeLimiter
	orders    orders.Repository
	ledgers   ledger.Service
	params    ServiceParams
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client := dbtest.Client(t)
	conn := client.DB()
	log := logger.Nop()
	f := &fixture{
		gateway:   &fakeGateway{},
		scheduler: &fakeScheduler{started: map[uuid.UUID]string{}},
		limiter:   &fakeLimiter{counts: map[string]int64{}},
		orders:    orders.NewRepository(conn),
		now:       testNow,
	}
	now := func() time.Time { return f.now }

	ob := outbox.NewService(outbox.NewRepository(conn), nil)
	ledgerRepo := ledger.NewRepository(conn)
	ledgers, err := ledger.NewService(ledger.ServiceParams{Repo: ledgerRepo, Tx: client, Now: now})
	require.NoError(t, err)
	manager, err := orders.NewManager(orders.ManagerParams{Repo: f.orders, Outbox: ob, Logger: log, Now: now})
	require.NoError(t, err)
	reviews, err := review.NewService(review.ServiceParams{Tx: client, Ledgers: ledgerRepo, Outbox: ob, Logger: log, Now: now})
	require.NoError(t, err)
	core, err := reconciliation.NewCore(reconciliation.CoreParams{
		Tx:      client,
		Ledgers: ledgerRepo,
		Orders:  manager,
		Review:  reviews,
		Locker:  locks.NewKeyedMutex(),
		Logger:  log,
		Now:     now,
	})
	require.NoError(t, err)

	params := ServiceParams{
		Orders:      manager,
		Ledgers:     ledgers,
		Gateway:     f.gateway,
		Core:        core,
		Scheduler:   f.scheduler,
		Limiter:     f.limiter,
		StatusCheck: config.StatusCheckConfig{Window: time.Minute, Limit: 2},
		Polling:     config.PollingConfig{Window: 15 * time.Minute},
		Logger:      log,
		Now:         now,
	}
	svc, err := NewService(params)
	require.NoError(t, err)
	f.svc = svc
	f.ledgers = ledgers
	f.params = params
	return f
}

func (f *fixture) order(t *testing.T, cents int64) uuid.UUID {
	t.Helper()
	o := &models.Order{AmountCents: cents, Currency: enums.CurrencyUSD, PaymentState: enums.OrderPaymentUnpaid}
	require.NoError(t, f.orders.Create(context.Background(), o))
	return o.ID
}

func success(cents int64) func(string) (*gateway.StatusResponse, error) {
	return func(ref string) (*gateway.StatusResponse, error) {
		return &gateway.StatusResponse{
			GatewayReference: ref,
			RawStatusCode:    "00",
			NormalizedStatus: enums.NormalizedSuccess,
			AmountCents:      &cents,
			Currency:         enums.CurrencyUSD,
			ObservedAt:       testNow,
		}, nil
	}
}

func TestInitiateOpensLedgerAndStartsPolling(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orderID := f.order(t, 2500)

	out, err := f.svc.Initiate(ctx, orderID)
	require.NoError(t, err)
	assert.NotEmpty(t, out.GatewayReference)
	assert.Contains(t, out.RedirectURL, out.GatewayReference)
	assert.Equal(t, enums.PollingStateScheduled, out.Polling.State)
	assert.Equal(t, out.GatewayReference, f.scheduler.started[orderID])

	l, err := f.ledgers.Get(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, enums.LedgerStatusAwaitingConfirmation, l.Status)
	assert.Equal(t, int64(2500), l.AmountExpectedCents)

	order, err := f.orders.FindByID(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderPaymentAwaitingPayment, order.PaymentState)
}

func TestInitiateTwiceReusesReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orderID := f.order(t, 2500)

	first, err := f.svc.Initiate(ctx, orderID)
	require.NoError(t, err)
	second, err := f.svc.Initiate(ctx, orderID)
	require.NoError(t, err)

	assert.Equal(t, first.GatewayReference, second.GatewayReference)
	require.Len(t, f.gateway.initiated, 2)
	assert.Equal(t, first.GatewayReference, f.gateway.initiated[1].ExistingReference)

	history, err := f.ledgers.History(ctx, orderID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

// racingLedgers lets another initiation assign winner just before the
// wrapped AssignReference runs.
type racingLedgers struct {
	ledger.Service
	winner string
	raced  bool
}

func (l *racingLedgers) AssignReference(ctx context.Context, orderID uuid.UUID, reference string) (*models.PaymentLedger, error) {
	if !l.raced {
		l.raced = true
		if _, err := l.Service.AssignReference(ctx, orderID, l.winner); err != nil {
			return nil, err
		}
	}
	return l.Service.AssignReference(ctx, orderID, reference)
}

func TestInitiateAdoptsConcurrentlyAssignedReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orderID := f.order(t, 2500)

	params := f.params
	params.Ledgers = &racingLedgers{Service: f.ledgers, winner: "PR-winner"}
	svc, err := NewService(params)
	require.NoError(t, err)

	out, err := svc.Initiate(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, "PR-winner", out.GatewayReference)
	assert.Equal(t, "https://pay.example.test/pay?reference=PR-winner", out.RedirectURL)
	assert.Equal(t, "PR-winner", f.scheduler.started[orderID])

	require.Len(t, f.gateway.initiated, 2)
	assert.Empty(t, f.gateway.initiated[0].ExistingReference)
	assert.Equal(t, "PR-winner", f.gateway.initiated[1].ExistingReference)

	l, err := f.ledgers.Get(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, "PR-winner", l.Reference())
	assert.Equal(t, enums.LedgerStatusAwaitingConfirmation, l.Status)
}

// takenLedgers fails every assignment the way a reference held by another
// order does.
type takenLedgers struct {
	ledger.Service
}

func (l *takenLedgers) AssignReference(ctx context.Context, orderID uuid.UUID, reference string) (*models.PaymentLedger, error) {
	return nil, pkgerrors.New(pkgerrors.CodeConflict, "gateway reference already in use")
}

func TestInitiateSurfacesConflictWithoutAssignedReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orderID := f.order(t, 2500)

	params := f.params
	params.Ledgers = &takenLedgers{Service: f.ledgers}
	svc, err := NewService(params)
	require.NoError(t, err)

	_, err = svc.Initiate(ctx, orderID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
	assert.Len(t, f.gateway.initiated, 1)
	assert.Empty(t, f.scheduler.started)
}

func TestInitiateRejectsSettledPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orderID := f.order(t, 2500)
	_, err := f.svc.Initiate(ctx, orderID)
	require.NoError(t, err)

	f.gateway.status = success(2500)
	_, err = f.svc.CheckStatus(ctx, orderID)
	require.NoError(t, err)

	_, err = f.svc.Initiate(ctx, orderID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestCheckStatusConfirmsThroughCore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orderID := f.order(t, 2500)
	initiation, err := f.svc.Initiate(ctx, orderID)
	require.NoError(t, err)

	f.gateway.status = success(2500)
	out, err := f.svc.CheckStatus(ctx, orderID)
	require.NoError(t, err)
	assert.True(t, out.Queried)
	assert.Equal(t, reconciliation.OutcomeApplied, out.Outcome)
	assert.Equal(t, enums.LedgerStatusConfirmed, out.Status)
	assert.Equal(t, initiation.GatewayReference, out.GatewayReference)

	order, err := f.orders.FindByID(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderPaymentPaid, order.PaymentState)

	again, err := f.svc.CheckStatus(ctx, orderID)
	require.NoError(t, err)
	assert.False(t, again.Queried)
	assert.Equal(t, 1, f.gateway.queries)
}

func TestCheckStatusRecordsAmountMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orderID := f.order(t, 2500)
	_, err := f.svc.Initiate(ctx, orderID)
	require.NoError(t, err)

	f.gateway.status = success(1000)
	out, err := f.svc.CheckStatus(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, reconciliation.OutcomeRejected, out.Outcome)
	assert.Equal(t, enums.LedgerStatusAwaitingConfirmation, out.Status)
}

func TestCheckStatusRateLimited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orderID := f.order(t, 2500)
	_, err := f.svc.Initiate(ctx, orderID)
	require.NoError(t, err)
	f.gateway.status = func(ref string) (*gateway.StatusResponse, error) {
		return &gateway.StatusResponse{GatewayReference: ref, RawStatusCode: "01", NormalizedStatus: enums.NormalizedPending}, nil
	}

	for i := 0; i < 2; i++ {
		_, err := f.svc.CheckStatus(ctx, orderID)
		require.NoError(t, err)
	}
	_, err = f.svc.CheckStatus(ctx, orderID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeRateLimit))
	assert.Equal(t, 2, f.gateway.queries)
}

func TestCheckStatusFailsOpenWhenLimiterDown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orderID := f.order(t, 2500)
	_, err := f.svc.Initiate(ctx, orderID)
	require.NoError(t, err)
	f.limiter.err = errors.New("redis down")
	f.gateway.status = success(2500)

	_, err = f.svc.CheckStatus(ctx, orderID)
	require.NoError(t, err)
}

func TestCheckStatusBeforeInitiate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orderID := f.order(t, 2500)

	_, err := f.svc.CheckStatus(ctx, orderID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestCheckStatusUnreachable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orderID := f.order(t, 2500)
	_, err := f.svc.Initiate(ctx, orderID)
	require.NoError(t, err)
	f.gateway.status = func(string) (*gateway.StatusResponse, error) {
		return nil, pkgerrors.New(pkgerrors.CodeGatewayUnreachable, "timeout")
	}

	_, err = f.svc.CheckStatus(ctx, orderID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeGatewayUnreachable))

	f.now = testNow.Add(time.Hour)
	_, err = f.svc.CheckStatus(ctx, orderID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodePollingExpired))

	l, err := f.ledgers.Get(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, enums.LedgerStatusAwaitingConfirmation, l.Status)
}

func TestStartPollingRequiresReference(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.StartPolling(context.Background(), uuid.New(), "")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestLedgerViewIncludesHistoryAndPolling(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orderID := f.order(t, 2500)
	_, err := f.svc.Initiate(ctx, orderID)
	require.NoError(t, err)
	f.gateway.status = success(2500)
	_, err = f.svc.CheckStatus(ctx, orderID)
	require.NoError(t, err)

	view, err := f.svc.Ledger(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, enums.LedgerStatusConfirmed, view.Ledger.Status)
	require.Len(t, view.History, 2)
	assert.Equal(t, ledger.NoteInitiated, view.History[0].Note)
	assert.Equal(t, ledger.NoteApplied, view.History[1].Note)
	require.NotNil(t, view.Polling)
	assert.Len(t, f.svc.PollingStatus(), 1)
}
