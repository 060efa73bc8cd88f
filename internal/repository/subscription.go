package repository

import (
	"context"
	"time"

	"checkout-ledger/internal/model"

	"gorm.io/gorm"
)

type SubscriptionRepository interface {
	Create(ctx context.Context, tx *gorm.DB, sub *model.Subscription) error
	Get(ctx context.Context, tx *gorm.DB, subscriptionID uint) (*model.Subscription, error)
	GetOwned(ctx context.Context, tx *gorm.DB, subscriptionID, userID uint) (*model.Subscription, error)
	CountForService(ctx context.Context, tx *gorm.DB, userID uint, serviceName string) (int64, error)
	Update(ctx context.Context, tx *gorm.DB, subscriptionID uint, fields map[string]interface{}) error
	Delete(ctx context.Context, tx *gorm.DB, subscriptionID uint) error
	ListByUser(ctx context.Context, userID uint) ([]*model.Subscription, error)
	ListByService(ctx context.Context, serviceName string) ([]*model.Subscription, error)
}

type subscriptionRepoImpl struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepoImpl{
		db: db,
	}
}

func (r *subscriptionRepoImpl) Create(ctx context.Context, tx *gorm.DB, sub *model.Subscription) error {
	return tx.WithContext(ctx).Create(sub).Error
}

func (r *subscriptionRepoImpl) Get(ctx context.Context, tx *gorm.DB, subscriptionID uint) (*model.Subscription, error) {
	var sub model.Subscription
	err := tx.WithContext(ctx).
		Where("id = ?", subscriptionID).
		First(&sub).
		Error

	if err != nil {
		return nil, err
	}

	return &sub, nil
}

// GetOwned reads the subscription only if userID owns it. Missing and
// foreign rows both return gorm.ErrRecordNotFound.
func (r *subscriptionRepoImpl) GetOwned(ctx context.Context, tx *gorm.DB, subscriptionID, userID uint) (*model.Subscription, error) {
	var sub model.Subscription
	err := tx.WithContext(ctx).
		Where("id = ? AND user_id = ?", subscriptionID, userID).
		First(&sub).
		Error

	if err != nil {
		return nil, err
	}

	return &sub, nil
}

func (r *subscriptionRepoImpl) CountForService(ctx context.Context, tx *gorm.DB, userID uint, serviceName string) (int64, error) {
	var count int64
	err := tx.WithContext(ctx).Model(&model.Subscription{}).
		Where("user_id = ? AND LOWER(service_name) = LOWER(?)", userID, serviceName).
		Count(&count).Error

	return count, err
}

func (r *subscriptionRepoImpl) Update(ctx context.Context, tx *gorm.DB, subscriptionID uint, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now()

	result := tx.WithContext(ctx).
		Model(&model.Subscription{}).
		Where("id = ?", subscriptionID).
		Updates(fields)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	return nil
}

func (r *subscriptionRepoImpl) Delete(ctx context.Context, tx *gorm.DB, subscriptionID uint) error {
	result := tx.WithContext(ctx).Delete(&model.Subscription{}, subscriptionID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	return nil
}

func (r *subscriptionRepoImpl) ListByUser(ctx context.Context, userID uint) ([]*model.Subscription, error) {
	var subs []*model.Subscription
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id").
		Find(&subs).
		Error

	if err != nil {
		return nil, err
	}

	return subs, nil
}

func (r *subscriptionRepoImpl) ListByService(ctx context.Context, serviceName string) ([]*model.Subscription, error) {
	var subs []*model.Subscription
	err := r.db.WithContext(ctx).
		Where("LOWER(service_name) = LOWER(?)", serviceName).
		Order("id").
		Find(&subs).
		Error

	if err != nil {
		return nil, err
	}

	return subs, nil
}
