package repository

import (
	"context"

	"checkout-ledger/internal/model"

	"gorm.io/gorm"
)

type SubmissionLogRepository interface {
	Create(ctx context.Context, tx *gorm.DB, entry *model.SubmissionLog) error
	ListByUser(ctx context.Context, userID uint) ([]*model.SubmissionLog, error)
}

type submissionLogRepositoryImpl struct {
	db *gorm.DB
}

func NewSubmissionLogRepository(db *gorm.DB) SubmissionLogRepository {
	return &submissionLogRepositoryImpl{
		db: db,
	}
}

func (r *submissionLogRepositoryImpl) Create(ctx context.Context, tx *gorm.DB, entry *model.SubmissionLog) error {
	return tx.WithContext(ctx).Create(entry).Error
}

func (r *submissionLogRepositoryImpl) ListByUser(ctx context.Context, userID uint) ([]*model.SubmissionLog, error) {
	var entries []*model.SubmissionLog
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id").
		Find(&entries).Error

	if err != nil {
		return nil, err
	}

	return entries, nil
}
