package repository

import (
	"context"
	"time"

	"checkout-ledger/internal/model"

	"gorm.io/gorm"
)

type OrderFilter struct {
	Status   string
	Retailer string
	UserID   *uint
	Limit    int
}

type OrderRepository interface {
	Create(ctx context.Context, tx *gorm.DB, order *model.Order) error
	Get(ctx context.Context, tx *gorm.DB, orderID uint) (*model.Order, error)
	FindByInvoiceID(ctx context.Context, tx *gorm.DB, invoiceID string) (*model.Order, error)
	List(ctx context.Context, filter OrderFilter) ([]*model.Order, error)
	MarkPaid(ctx context.Context, tx *gorm.DB, invoiceID string, paidAt time.Time) (int64, error)
	MarkPaymentFailed(ctx context.Context, tx *gorm.DB, invoiceID string) (int64, error)
	AttachInvoice(ctx context.Context, tx *gorm.DB, orderID uint, invoiceID string, fields map[string]interface{}) error
	Link(ctx context.Context, tx *gorm.DB, orderID uint, submissionID, userID uint) error
}

type orderRepoImpl struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepoImpl{
		db: db,
	}
}

func (r *orderRepoImpl) Create(ctx context.Context, tx *gorm.DB, order *model.Order) error {
	return tx.WithContext(ctx).Create(order).Error
}

func (r *orderRepoImpl) Get(ctx context.Context, tx *gorm.DB, orderID uint) (*model.Order, error) {
	var order model.Order
	err := tx.WithContext(ctx).
		Where("id = ?", orderID).
		First(&order).Error

	if err != nil {
		return nil, err
	}

	return &order, nil
}

func (r *orderRepoImpl) FindByInvoiceID(ctx context.Context, tx *gorm.DB, invoiceID string) (*model.Order, error) {
	var order model.Order
	err := tx.WithContext(ctx).
		Where("stripe_invoice_id = ?", invoiceID).
		First(&order).Error

	if err != nil {
		return nil, err
	}

	return &order, nil
}

func (r *orderRepoImpl) List(ctx context.Context, filter OrderFilter) ([]*model.Order, error) {
	query := r.db.WithContext(ctx).Model(&model.Order{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Retailer != "" {
		query = query.Where("LOWER(retailer) = LOWER(?)", filter.Retailer)
	}
	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var orders []*model.Order
	if err := query.Order("id DESC").Find(&orders).Error; err != nil {
		return nil, err
	}

	return orders, nil
}

// MarkPaid moves a pending_review order to paid. Orders already in a
// terminal state are left alone and report zero rows.
func (r *orderRepoImpl) MarkPaid(ctx context.Context, tx *gorm.DB, invoiceID string, paidAt time.Time) (int64, error) {
	result := tx.WithContext(ctx).Model(&model.Order{}).
		Where(`
			stripe_invoice_id = ?
			AND status = ?
		`,
			invoiceID,
			model.OrderStatusPendingReview,
		).
		Updates(map[string]interface{}{
			"status":       model.OrderStatusPaid,
			"payment_date": paidAt,
			"updated_at":   time.Now(),
		})

	return result.RowsAffected, result.Error
}

func (r *orderRepoImpl) MarkPaymentFailed(ctx context.Context, tx *gorm.DB, invoiceID string) (int64, error) {
	result := tx.WithContext(ctx).Model(&model.Order{}).
		Where(`
			stripe_invoice_id = ?
			AND status = ?
		`,
			invoiceID,
			model.OrderStatusPendingReview,
		).
		Updates(map[string]interface{}{
			"status":     model.OrderStatusPaymentFailed,
			"updated_at": time.Now(),
		})

	return result.RowsAffected, result.Error
}

// AttachInvoice stores the invoice id on an order that has none yet.
func (r *orderRepoImpl) AttachInvoice(ctx context.Context, tx *gorm.DB, orderID uint, invoiceID string, fields map[string]interface{}) error {
	updates := map[string]interface{}{
		"stripe_invoice_id": invoiceID,
		"updated_at":        time.Now(),
	}
	for k, v := range fields {
		updates[k] = v
	}

	result := tx.WithContext(ctx).Model(&model.Order{}).
		Where("id = ? AND stripe_invoice_id IS NULL AND status = ?", orderID, model.OrderStatusPendingReview).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	return nil
}

func (r *orderRepoImpl) Link(ctx context.Context, tx *gorm.DB, orderID uint, submissionID, userID uint) error {
	result := tx.WithContext(ctx).Model(&model.Order{}).
		Where("id = ?", orderID).
		Updates(map[string]interface{}{
			"submission_id": submissionID,
			"user_id":       userID,
			"updated_at":    time.Now(),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	return nil
}
