package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/angelmondragon/payrecon/pkg/db/dbtest"
	"github.com/angelmondragon/payrecon/pkg/db/models"
	"github.com/angelmondragon/payrecon/pkg/enums"
	pkgerrors "github.com/angelmondragon/payrecon/pkg/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (Service, Repository) {
	t.Helper()
	client := dbtest.Client(t)
	repo := NewRepository(client.DB())
	svc, err := NewService(ServiceParams{Repo: repo, Tx: client, Now: func() time.Time { return testNow }})
	require.NoError(t, err)
	return svc, repo
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
}

func TestOpenIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	orderID := uuid.New()

	first, err := svc.Open(ctx, OpenInput{OrderID: orderID, AmountCents: 2500, Currency: enums.CurrencyUSD})
	require.NoError(t, err)
	assert.Equal(t, enums.LedgerStatusUninitiated, first.Status)
	assert.Empty(t, first.Reference())

	second, err := svc.Open(ctx, OpenInput{OrderID: orderID, AmountCents: 2500, Currency: enums.CurrencyUSD})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestOpenValidatesInput(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Open(ctx, OpenInput{AmountCents: 100, Currency: enums.CurrencyUSD})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.Open(ctx, OpenInput{OrderID: uuid.New(), AmountCents: 0, Currency: enums.CurrencyUSD})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidAmount))

	_, err = svc.Open(ctx, OpenInput{OrderID: uuid.New(), AmountCents: 100, Currency: "XXX"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestAssignReferenceOnce(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	orderID := uuid.New()

	_, err := svc.Open(ctx, OpenInput{OrderID: orderID, AmountCents: 2500, Currency: enums.CurrencyUSD})
	require.NoError(t, err)

	ledger, err := svc.AssignReference(ctx, orderID, "R1")
	require.NoError(t, err)
	assert.Equal(t, enums.LedgerStatusAwaitingConfirmation, ledger.Status)
	assert.Equal(t, "R1", ledger.Reference())
	require.NotNil(t, ledger.InitiatedAt)
	assert.True(t, ledger.InitiatedAt.Equal(testNow))
	assert.Equal(t, int64(1), ledger.Version)

	again, err := svc.AssignReference(ctx, orderID, "R1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), again.Version)

	_, err = svc.AssignReference(ctx, orderID, "R2")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))

	stored, err := svc.GetByReference(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, orderID, stored.OrderID)

	history, err := svc.History(ctx, orderID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, NoteInitiated, history[0].Note)
	assert.Equal(t, enums.SourceChannelSystem, history[0].SourceChannel)
}

func TestAssignReferenceRejectsReferenceInUse(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	for _, id := range []uuid.UUID{a, b} {
		_, err := svc.Open(ctx, OpenInput{OrderID: id, AmountCents: 100, Currency: enums.CurrencyUSD})
		require.NoError(t, err)
	}
	_, err := svc.AssignReference(ctx, a, "R-shared")
	require.NoError(t, err)

	_, err = svc.AssignReference(ctx, b, "R-shared")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))

	ledger, err := svc.Get(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, enums.LedgerStatusUninitiated, ledger.Status)
}

func TestGetMissingLedgerIsNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Get(context.Background(), uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestUpdateVersionedDetectsStaleWrites(t *testing.T) {
	_, repo := newTestService(t)
	ctx := context.Background()

	ledger := &models.PaymentLedger{OrderID: uuid.New(), AmountExpectedCents: 100, Currency: enums.CurrencyUSD}
	require.NoError(t, repo.Create(ctx, ledger))

	a, err := repo.FindByOrderID(ctx, ledger.OrderID)
	require.NoError(t, err)
	b, err := repo.FindByOrderID(ctx, ledger.OrderID)
	require.NoError(t, err)

	a.ConfirmationCount = 1
	require.NoError(t, repo.UpdateVersioned(ctx, a))

	b.ConfirmationCount = 2
	err = repo.UpdateVersioned(ctx, b)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeLedgerConflict))

	stored, err := repo.FindByOrderID(ctx, ledger.OrderID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.ConfirmationCount)
	assert.Equal(t, int64(1), stored.Version)
}

func TestConfirmationChannelsRoundTrip(t *testing.T) {
	_, repo := newTestService(t)
	ctx := context.Background()

	ledger := &models.PaymentLedger{OrderID: uuid.New(), AmountExpectedCents: 100, Currency: enums.CurrencyUSD}
	require.NoError(t, repo.Create(ctx, ledger))

	ledger.ConfirmationChannels = ledger.ConfirmationChannels.Add(enums.SourceChannelPush).Add(enums.SourceChannelPull)
	require.NoError(t, repo.UpdateVersioned(ctx, ledger))

	stored, err := repo.FindByOrderID(ctx, ledger.OrderID)
	require.NoError(t, err)
	assert.True(t, stored.ConfirmationChannels.Contains(enums.SourceChannelPush))
	assert.True(t, stored.ConfirmationChannels.Contains(enums.SourceChannelPull))
}

func TestListHistoryKeepsWriteOrderWhenClocksTie(t *testing.T) {
	_, repo := newTestService(t)
	ctx := context.Background()

	ledger := &models.PaymentLedger{OrderID: uuid.New(), AmountExpectedCents: 100, Currency: enums.CurrencyUSD}
	require.NoError(t, repo.Create(ctx, ledger))

	// Later rows carry an earlier clock reading than the first one.
	stamps := []time.Time{testNow, testNow.Add(-time.Second), testNow.Add(-time.Second)}
	notes := []string{NoteInitiated, "second", "third"}
	for i, note := range notes {
		require.NoError(t, repo.AppendHistory(ctx, &models.PaymentLedgerHistory{
			LedgerID:      ledger.ID,
			OrderID:       ledger.OrderID,
			Status:        enums.LedgerStatusAwaitingConfirmation,
			SourceChannel: enums.SourceChannelSystem,
			Note:          note,
			ObservedAt:    stamps[i],
			CreatedAt:     stamps[i],
		}))
	}

	history, err := repo.ListHistory(ctx, ledger.OrderID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	for i, entry := range history {
		assert.Equal(t, notes[i], entry.Note)
		assert.Equal(t, int64(i+1), entry.Seq)
	}
}

func TestAppendHistoryRequiresLedger(t *testing.T) {
	_, repo := newTestService(t)

	err := repo.AppendHistory(context.Background(), &models.PaymentLedgerHistory{
		LedgerID:      uuid.New(),
		OrderID:       uuid.New(),
		Status:        enums.LedgerStatusAwaitingConfirmation,
		SourceChannel: enums.SourceChannelSystem,
		Note:          NoteInitiated,
		ObservedAt:    testNow,
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestLockByOrderIDReadsLedger(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	orderID := uuid.New()

	_, err := svc.Open(ctx, OpenInput{OrderID: orderID, AmountCents: 2500, Currency: enums.CurrencyUSD})
	require.NoError(t, err)

	locked, err := repo.LockByOrderID(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, orderID, locked.OrderID)

	_, err = repo.LockByOrderID(ctx, uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestListAwaitingInitiatedBefore(t *testing.T) {
	_, repo := newTestService(t)
	ctx := context.Background()

	old := testNow.Add(-time.Hour)
	recent := testNow.Add(-time.Minute)
	for _, initiated := range []time.Time{old, recent} {
		at := initiated
		ref := uuid.NewString()
		require.NoError(t, repo.Create(ctx, &models.PaymentLedger{
			OrderID:             uuid.New(),
			GatewayReference:    &ref,
			AmountExpectedCents: 100,
			Currency:            enums.CurrencyUSD,
			Status:              enums.LedgerStatusAwaitingConfirmation,
			InitiatedAt:         &at,
		}))
	}

	stale, err := repo.ListAwaitingInitiatedBefore(ctx, testNow.Add(-30*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.True(t, stale[0].InitiatedAt.Equal(old))

	all, err := repo.ListAwaiting(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestAuditRepositoryRetention(t *testing.T) {
	client := dbtest.Client(t)
	audits := NewAuditRepository(client.DB())
	ctx := context.Background()

	require.NoError(t, audits.Create(ctx, &models.CallbackAudit{
		Reason:     enums.CallbackAuditSignatureInvalid,
		RawPayload: `{"reference":"R1"}`,
		ReceivedAt: testNow.Add(-100 * 24 * time.Hour),
	}))
	require.NoError(t, audits.Create(ctx, &models.CallbackAudit{
		Reason:     enums.CallbackAuditUnknownReference,
		RawPayload: `{"reference":"R2"}`,
		ReceivedAt: testNow,
	}))

	deleted, err := audits.DeleteReceivedBefore(ctx, testNow.Add(-90*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	remaining, err := audits.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, enums.CallbackAuditUnknownReference, remaining[0].Reason)
}
