package repository

import (
	"context"
	"time"

	"checkout-ledger/internal/model"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UserRepository interface {
	Upsert(ctx context.Context, user *model.User) (*model.User, error)
	Get(ctx context.Context, userID uint) (*model.User, error)
	GetByDiscordID(ctx context.Context, discordID string) (*model.User, error)
	UpdatePaymentSnapshot(ctx context.Context, tx *gorm.DB, userID uint, snapshot model.PaymentSnapshot) error
	LinkStripeCustomer(ctx context.Context, tx *gorm.DB, discordID, customerID, tier string) error
	DowngradeByCustomer(ctx context.Context, tx *gorm.DB, customerID string) error
	Delete(ctx context.Context, userID uint) error
}

type userRepoImpl struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepoImpl{
		db: db,
	}
}

// Upsert creates the user on first sight of a discord id and refreshes the
// profile fields afterwards.
func (r *userRepoImpl) Upsert(ctx context.Context, user *model.User) (*model.User, error) {
	if user.Tier == "" {
		user.Tier = model.TierFree
	}

	updates := map[string]interface{}{
		"updated_at": time.Now(),
	}
	if user.Username != "" {
		updates["username"] = user.Username
	}
	if user.Email != "" {
		updates["email"] = user.Email
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "discord_id"}},
		DoUpdates: clause.Assignments(updates),
	}).Create(user).Error
	if err != nil {
		return nil, err
	}

	return r.GetByDiscordID(ctx, user.DiscordID)
}

func (r *userRepoImpl) Get(ctx context.Context, userID uint) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).
		Where("id = ?", userID).
		First(&user).Error
	if err != nil {
		return nil, err
	}

	return &user, nil
}

func (r *userRepoImpl) GetByDiscordID(ctx context.Context, discordID string) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).
		Where("discord_id = ?", discordID).
		First(&user).Error
	if err != nil {
		return nil, err
	}

	return &user, nil
}

func (r *userRepoImpl) UpdatePaymentSnapshot(ctx context.Context, tx *gorm.DB, userID uint, snapshot model.PaymentSnapshot) error {
	return tx.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"payment_snapshot": datatypes.NewJSONType(snapshot),
			"updated_at":       time.Now(),
		}).Error
}

func (r *userRepoImpl) LinkStripeCustomer(ctx context.Context, tx *gorm.DB, discordID, customerID, tier string) error {
	result := tx.WithContext(ctx).
		Model(&model.User{}).
		Where("discord_id = ?", discordID).
		Updates(map[string]interface{}{
			"stripe_customer_id": customerID,
			"tier":               tier,
			"tier_status":        model.TierStatusActive,
			"updated_at":         time.Now(),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	return nil
}

func (r *userRepoImpl) DowngradeByCustomer(ctx context.Context, tx *gorm.DB, customerID string) error {
	result := tx.WithContext(ctx).
		Model(&model.User{}).
		Where("stripe_customer_id = ?", customerID).
		Updates(map[string]interface{}{
			"tier":        model.TierFree,
			"tier_status": model.TierStatusCancelled,
			"updated_at":  time.Now(),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	return nil
}

// Delete removes the user row. Subscriptions, credentials and submission
// logs go with it through ON DELETE CASCADE; orders keep a NULL user_id.
func (r *userRepoImpl) Delete(ctx context.Context, userID uint) error {
	result := r.db.WithContext(ctx).Delete(&model.User{}, userID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	return nil
}
