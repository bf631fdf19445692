package ledger

import (
	"context"
	"time"

	"github.com/angelmondragon/payrecon/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditRepository stores callbacks that were refused before reaching a ledger.
type AuditRepository interface {
	Create(ctx context.Context, audit *models.CallbackAudit) error
	ListRecent(ctx context.Context, limit int) ([]models.CallbackAudit, error)
	DeleteReceivedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type auditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Create(ctx context.Context, audit *models.CallbackAudit) error {
	if audit.ID == uuid.Nil {
		audit.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(audit).Error
}

func (r *auditRepository) ListRecent(ctx context.Context, limit int) ([]models.CallbackAudit, error) {
	var audits []models.CallbackAudit
	q := r.db.WithContext(ctx).Order("received_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&audits).Error; err != nil {
		return nil, err
	}
	return audits, nil
}

func (r *auditRepository) DeleteReceivedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("received_at < ?", cutoff.UTC()).
		Delete(&models.CallbackAudit{})
	return res.RowsAffected, res.Error
}
