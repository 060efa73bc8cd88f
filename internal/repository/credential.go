package repository

import (
	"context"
	"time"

	"checkout-ledger/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CredentialRepository interface {
	Upsert(ctx context.Context, tx *gorm.DB, record *model.CredentialRecord) error
	GetBySubscriptionID(ctx context.Context, subscriptionID uint) (*model.CredentialRecord, error)
	ListBySubscriptionIDs(ctx context.Context, subscriptionIDs []uint) ([]*model.CredentialRecord, error)
	FindByEmailDigest(ctx context.Context, serviceName, digest string) ([]*model.CredentialRecord, error)
	SetEmailDigest(ctx context.Context, recordID uint, digest string) error
	DeleteBySubscriptionID(ctx context.Context, tx *gorm.DB, subscriptionID uint) error
}

type credentialRepoImpl struct {
	db *gorm.DB
}

func NewCredentialRepository(db *gorm.DB) CredentialRepository {
	return &credentialRepoImpl{
		db: db,
	}
}

// Upsert keeps exactly one record per subscription.
func (r *credentialRepoImpl) Upsert(ctx context.Context, tx *gorm.DB, record *model.CredentialRecord) error {
	return tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "subscription_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"kind":               record.Kind,
			"encrypted_username": record.EncryptedUsername,
			"encrypted_password": record.EncryptedPassword,
			"encrypted_imap":     record.EncryptedIMAP,
			"email_digest":       record.EmailDigest,
			"updated_at":         time.Now(),
		}),
	}).Create(record).Error
}

func (r *credentialRepoImpl) GetBySubscriptionID(ctx context.Context, subscriptionID uint) (*model.CredentialRecord, error) {
	var record model.CredentialRecord
	err := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		First(&record).Error

	if err != nil {
		return nil, err
	}

	return &record, nil
}

func (r *credentialRepoImpl) ListBySubscriptionIDs(ctx context.Context, subscriptionIDs []uint) ([]*model.CredentialRecord, error) {
	var records []*model.CredentialRecord
	if len(subscriptionIDs) == 0 {
		return records, nil
	}

	err := r.db.WithContext(ctx).
		Where("subscription_id IN ?", subscriptionIDs).
		Find(&records).
		Error

	if err != nil {
		return nil, err
	}

	return records, nil
}

// FindByEmailDigest returns records of serviceName's subscriptions whose
// identity email hashes to digest, oldest subscription first.
func (r *credentialRepoImpl) FindByEmailDigest(ctx context.Context, serviceName, digest string) ([]*model.CredentialRecord, error) {
	var records []*model.CredentialRecord
	err := r.db.WithContext(ctx).
		Joins("JOIN service_subscriptions ON service_subscriptions.id = credential_records.subscription_id").
		Where("credential_records.email_digest = ?", digest).
		Where("LOWER(service_subscriptions.service_name) = LOWER(?)", serviceName).
		Order("credential_records.subscription_id").
		Find(&records).
		Error

	if err != nil {
		return nil, err
	}

	return records, nil
}

func (r *credentialRepoImpl) SetEmailDigest(ctx context.Context, recordID uint, digest string) error {
	return r.db.WithContext(ctx).
		Model(&model.CredentialRecord{}).
		Where("id = ?", recordID).
		Update("email_digest", digest).
		Error
}

func (r *credentialRepoImpl) DeleteBySubscriptionID(ctx context.Context, tx *gorm.DB, subscriptionID uint) error {
	return tx.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Delete(&model.CredentialRecord{}).
		Error
}
