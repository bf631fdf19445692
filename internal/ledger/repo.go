package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/payrecon/pkg/db/models"
	"github.com/angelmondragon/payrecon/pkg/enums"
	pkgerrors "github.com/angelmondragon/payrecon/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository manages persistence for payment ledgers and their history.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, ledger *models.PaymentLedger) error
	FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.PaymentLedger, error)
	LockByOrderID(ctx context.Context, orderID uuid.UUID) (*models.PaymentLedger, error)
	FindByReference(ctx context.Context, reference string) (*models.PaymentLedger, error)
	UpdateVersioned(ctx context.Context, ledger *models.PaymentLedger) error
	AppendHistory(ctx context.Context, entry *models.PaymentLedgerHistory) error
	ListHistory(ctx context.Context, orderID uuid.UUID) ([]models.PaymentLedgerHistory, error)
	ListAwaiting(ctx context.Context, limit int) ([]models.PaymentLedger, error)
	ListAwaitingInitiatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.PaymentLedger, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, ledger *models.PaymentLedger) error {
	if ledger.ID == uuid.Nil {
		ledger.ID = uuid.New()
	}
	if ledger.Status == "" {
		ledger.Status = enums.LedgerStatusUninitiated
	}
	if ledger.ConfirmationChannels == nil {
		ledger.ConfirmationChannels = []enums.SourceChannel{}
	}
	return r.db.WithContext(ctx).Create(ledger).Error
}

func (r *repository) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.PaymentLedger, error) {
	var ledger models.PaymentLedger
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&ledger).Error
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &ledger, nil
}

// LockByOrderID reads the ledger and holds its row lock until the enclosing
// transaction ends. SQLite has no row locks and ignores the clause.
func (r *repository) LockByOrderID(ctx context.Context, orderID uuid.UUID) (*models.PaymentLedger, error) {
	var ledger models.PaymentLedger
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_id = ?", orderID).
		First(&ledger).Error
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &ledger, nil
}

func (r *repository) FindByReference(ctx context.Context, reference string) (*models.PaymentLedger, error) {
	var ledger models.PaymentLedger
	err := r.db.WithContext(ctx).Where("gateway_reference = ?", reference).First(&ledger).Error
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &ledger, nil
}

// UpdateVersioned writes the mutable ledger columns only if the stored
// version still equals ledger.Version, then advances ledger.Version.
func (r *repository) UpdateVersioned(ctx context.Context, ledger *models.PaymentLedger) error {
	next := ledger.Version + 1
	res := r.db.WithContext(ctx).
		Model(&models.PaymentLedger{}).
		Where("id = ? AND version = ?", ledger.ID, ledger.Version).
		Updates(map[string]any{
			"gateway_reference":     ledger.GatewayReference,
			"status":                ledger.Status,
			"confirmation_count":    ledger.ConfirmationCount,
			"confirmation_channels": ledger.ConfirmationChannels,
			"last_checked_at":       ledger.LastCheckedAt,
			"initiated_at":          ledger.InitiatedAt,
			"terminal_at":           ledger.TerminalAt,
			"version":               next,
			"updated_at":            time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeLedgerConflict, "payment ledger was modified concurrently")
	}
	ledger.Version = next
	return nil
}

// AppendHistory takes the next per-ledger sequence number from the ledger's
// history_seq counter and inserts the entry with it. The counter update locks
// the ledger row, so callers must run it inside their transaction.
func (r *repository) AppendHistory(ctx context.Context, entry *models.PaymentLedgerHistory) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	conn := r.db.WithContext(ctx)
	res := conn.Exec("UPDATE payment_ledgers SET history_seq = history_seq + 1 WHERE id = ?", entry.LedgerID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "payment ledger not found")
	}
	var seq int64
	if err := conn.Raw("SELECT history_seq FROM payment_ledgers WHERE id = ?", entry.LedgerID).Scan(&seq).Error; err != nil {
		return err
	}
	entry.Seq = seq
	return conn.Create(entry).Error
}

func (r *repository) ListHistory(ctx context.Context, orderID uuid.UUID) ([]models.PaymentLedgerHistory, error) {
	var entries []models.PaymentLedgerHistory
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("seq ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) ListAwaiting(ctx context.Context, limit int) ([]models.PaymentLedger, error) {
	var ledgers []models.PaymentLedger
	q := r.db.WithContext(ctx).
		Where("status = ?", enums.LedgerStatusAwaitingConfirmation).
		Order("initiated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&ledgers).Error; err != nil {
		return nil, err
	}
	return ledgers, nil
}

func (r *repository) ListAwaitingInitiatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.PaymentLedger, error) {
	var ledgers []models.PaymentLedger
	q := r.db.WithContext(ctx).
		Where("status = ? AND initiated_at < ?", enums.LedgerStatusAwaitingConfirmation, cutoff.UTC()).
		Order("initiated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&ledgers).Error; err != nil {
		return nil, err
	}
	return ledgers, nil
}

func mapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "payment ledger not found")
	}
	return err
}
