package repository

import (
	"context"
	"errors"
	"time"

	"checkout-ledger/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SettingRepository interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Upsert(ctx context.Context, key, value string) error
	CreateIfAbsent(ctx context.Context, key, value string) (bool, error)
}

type settingRepoImpl struct {
	db *gorm.DB
}

func NewSettingRepository(db *gorm.DB) SettingRepository {
	return &settingRepoImpl{
		db: db,
	}
}

func (r *settingRepoImpl) Get(ctx context.Context, key string) (string, bool, error) {
	var setting model.Setting
	err := r.db.WithContext(ctx).
		Where(&model.Setting{Key: key}).
		First(&setting).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, err
	}

	return setting.Value, true, nil
}

func (r *settingRepoImpl) Upsert(ctx context.Context, key, value string) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"value":      value,
			"updated_at": time.Now(),
		}),
	}).Create(&model.Setting{Key: key, Value: value}).Error
}

// CreateIfAbsent writes the value only when the key does not exist yet and
// reports whether it did.
func (r *settingRepoImpl) CreateIfAbsent(ctx context.Context, key, value string) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.Setting{Key: key, Value: value})

	return result.RowsAffected > 0, result.Error
}
