package orders

import (
	"context"
	"errors"

	"github.com/angelmondragon/payrecon/pkg/db/models"
	"github.com/angelmondragon/payrecon/pkg/enums"
	pkgerrors "github.com/angelmondragon/payrecon/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository defines persistence operations for the orders table.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	UpdatePaymentState(ctx context.Context, orderID uuid.UUID, notIn []enums.OrderPaymentState, updates map[string]any) (int64, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	if order.PaymentState == "" {
		order.PaymentState = enums.OrderPaymentUnpaid
	}
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "order not found")
		}
		return nil, err
	}
	return &order, nil
}

// UpdatePaymentState applies updates unless the order is already in one of
// the notIn states. It returns the number of rows changed.
func (r *repository) UpdatePaymentState(ctx context.Context, orderID uuid.UUID, notIn []enums.OrderPaymentState, updates map[string]any) (int64, error) {
	q := r.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", orderID)
	if len(notIn) > 0 {
		q = q.Where("payment_state NOT IN ?", notIn)
	}
	res := q.Updates(updates)
	return res.RowsAffected, res.Error
}
