package orders

import (
	"context"
	"testing"
	"time"

	"github.com/angelmondragon/payrecon/pkg/db/dbtest"
	"github.com/angelmondragon/payrecon/pkg/db/models"
	"github.com/angelmondragon/payrecon/pkg/enums"
	pkgerrors "github.com/angelmondragon/payrecon/pkg/errors"
	"github.com/angelmondragon/payrecon/pkg/logger"
	"github.com/angelmondragon/payrecon/pkg/outbox"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var testNow = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	conn    *gorm.DB
	repo    Repository
	manager Manager
	outbox  *outbox.Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	ob := outbox.NewService(outbox.NewRepository(conn), nil)
	mgr, err := NewManager(ManagerParams{
		Repo:   repo,
		Outbox: ob,
		Logger: logger.Nop(),
		Now:    func() time.Time { return testNow },
	})
	require.NoError(t, err)
	return fixture{conn: conn, repo: repo, manager: mgr, outbox: ob}
}

func (f fixture) seed(t *testing.T, state enums.OrderPaymentState) uuid.UUID {
	t.Helper()
	order := &models.Order{AmountCents: 2500, Currency: enums.CurrencyUSD, PaymentState: state}
	require.NoError(t, f.repo.Create(context.Background(), order))
	return order.ID
}

func (f fixture) count(t *testing.T, eventType enums.OutboxEventType, orderID uuid.UUID) int64 {
	t.Helper()
	n, err := f.outbox.Count(f.conn, eventType, orderID)
	require.NoError(t, err)
	return n
}

func TestNewManagerRequiresDependencies(t *testing.T) {
	_, err := NewManager(ManagerParams{})
	require.Error(t, err)
}

func TestGetOrder(t *testing.T) {
	f := newFixture(t)
	id := f.seed(t, enums.OrderPaymentUnpaid)

	order, err := f.manager.GetOrder(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), order.AmountCents)
	assert.Equal(t, enums.CurrencyUSD, order.Currency)
	assert.Equal(t, enums.OrderPaymentUnpaid, order.PaymentState)

	_, err = f.manager.GetOrder(context.Background(), uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestMarkOrderPaidEmitsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.seed(t, enums.OrderPaymentAwaitingPayment)

	details := PaymentConfirmation{
		GatewayReference: "R1",
		AmountCents:      2500,
		Currency:         enums.CurrencyUSD,
		SourceChannel:    enums.SourceChannelPull,
		ConfirmedAt:      testNow,
	}
	for i := 0; i < 2; i++ {
		err := f.conn.Transaction(func(tx *gorm.DB) error {
			return f.manager.MarkOrderPaid(ctx, tx, id, details)
		})
		require.NoError(t, err)
	}

	order, err := f.repo.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderPaymentPaid, order.PaymentState)
	require.NotNil(t, order.PaidAt)
	assert.True(t, order.PaidAt.Equal(testNow))
	assert.Equal(t, int64(1), f.count(t, enums.EventOrderPaid, id))
}

func TestMarkOrderPaidRollsBackWithCaller(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.seed(t, enums.OrderPaymentAwaitingPayment)

	err := f.conn.Transaction(func(tx *gorm.DB) error {
		if err := f.manager.MarkOrderPaid(ctx, tx, id, PaymentConfirmation{AmountCents: 2500}); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	order, err := f.repo.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderPaymentAwaitingPayment, order.PaymentState)
	assert.Equal(t, int64(0), f.count(t, enums.EventOrderPaid, id))
}

func TestMarkOrderFailedNeverDowngradesPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	paid := f.seed(t, enums.OrderPaymentPaid)
	pending := f.seed(t, enums.OrderPaymentAwaitingPayment)

	for _, id := range []uuid.UUID{paid, pending} {
		err := f.conn.Transaction(func(tx *gorm.DB) error {
			return f.manager.MarkOrderFailed(ctx, tx, id, FailureDetails{Reason: "declined", FailedAt: testNow})
		})
		require.NoError(t, err)
	}

	order, err := f.repo.FindByID(ctx, paid)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderPaymentPaid, order.PaymentState)
	assert.Equal(t, int64(0), f.count(t, enums.EventOrderPaymentFailed, paid))

	order, err = f.repo.FindByID(ctx, pending)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderPaymentFailed, order.PaymentState)
	require.NotNil(t, order.FailureReason)
	assert.Equal(t, "declined", *order.FailureReason)
	assert.Equal(t, int64(1), f.count(t, enums.EventOrderPaymentFailed, pending))
}

func TestMarkAwaitingPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	unpaid := f.seed(t, enums.OrderPaymentUnpaid)
	require.NoError(t, f.manager.MarkAwaitingPayment(ctx, unpaid))
	require.NoError(t, f.manager.MarkAwaitingPayment(ctx, unpaid))
	order, err := f.repo.FindByID(ctx, unpaid)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderPaymentAwaitingPayment, order.PaymentState)

	paid := f.seed(t, enums.OrderPaymentPaid)
	err = f.manager.MarkAwaitingPayment(ctx, paid)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}
