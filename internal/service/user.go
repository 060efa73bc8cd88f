package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"checkout-ledger/internal/model"
	"checkout-ledger/internal/repository"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

type UserService interface {
	EnsureUser(ctx context.Context, discordID, username string) (*model.User, error)
	GetUser(ctx context.Context, userID uint) (*model.User, error)
	DeleteUser(ctx context.Context, userID uint) error
}

type userServiceImpl struct {
	userRepo repository.UserRepository
}

func NewUserService(
	userRepo repository.UserRepository,
) UserService {
	return &userServiceImpl{
		userRepo: userRepo,
	}
}

// EnsureUser returns the user for a discord id, creating it on first sight.
func (s *userServiceImpl) EnsureUser(ctx context.Context, discordID, username string) (*model.User, error) {
	discordID = strings.TrimSpace(discordID)
	if discordID == "" {
		return nil, ErrUserNotFound
	}

	user, err := s.userRepo.Upsert(ctx, &model.User{
		DiscordID: discordID,
		Username:  strings.TrimSpace(username),
	})
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}

	return user, nil
}

func (s *userServiceImpl) GetUser(ctx context.Context, userID uint) (*model.User, error) {
	user, err := s.userRepo.Get(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	return user, err
}

// DeleteUser removes the user. The database cascades the delete to their
// subscriptions, credential records and submission logs.
func (s *userServiceImpl) DeleteUser(ctx context.Context, userID uint) error {
	if err := s.userRepo.Delete(ctx, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("delete user: %w", err)
	}

	log.Info().Uint("user_id", userID).Msg("user deleted")
	return nil
}
