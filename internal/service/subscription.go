package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"checkout-ledger/internal/credential"
	"checkout-ledger/internal/model"
	"checkout-ledger/internal/repository"

	"gorm.io/gorm"
)

// SubmissionInput is one form submission: a new subscription plus its
// credentials. Fields produces a bundle record; Credentials alone produces a
// bare-secret record.
type SubmissionInput struct {
	ServiceName string
	ServiceType string
	Notes       string
	Fields      credential.FieldBundle
	Credentials *credential.BareSecret
}

// SubscriptionUpdate carries the fields an owner may change. Nil and empty
// members are left untouched.
type SubscriptionUpdate struct {
	Notes       *string
	Status      *string
	Fields      credential.FieldBundle
	Credentials *credential.BareSecret
}

// SubmissionView is a subscription with its decrypted credentials.
type SubmissionView struct {
	ID          uint       `json:"id"`
	UserID      uint       `json:"user_id"`
	ServiceName string     `json:"service_name"`
	ServiceType string     `json:"service_type"`
	Status      string     `json:"status"`
	Notes       string     `json:"notes"`
	AddedToBot  bool       `json:"added_to_bot"`
	Credentials *Decrypted `json:"credentials"`
	Corrupted   bool       `json:"corrupted"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type SubscriptionLedger struct {
	db      *gorm.DB
	subRepo repository.SubscriptionRepository
	logRepo repository.SubmissionLogRepository
	creds   *CredentialStore
	panel   *ServicePanel
}

func NewSubscriptionLedger(
	db *gorm.DB,
	subRepo repository.SubscriptionRepository,
	logRepo repository.SubmissionLogRepository,
	creds *CredentialStore,
	panel *ServicePanel,
) *SubscriptionLedger {
	return &SubscriptionLedger{
		db:      db,
		subRepo: subRepo,
		logRepo: logRepo,
		creds:   creds,
		panel:   panel,
	}
}

// CreateSubscription inserts a subscription without credentials. The limit
// count and the insert share one transaction.
func (s *SubscriptionLedger) CreateSubscription(ctx context.Context, userID uint, serviceName, serviceType, notes string) (uint, error) {
	var id uint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.create(ctx, tx, userID, serviceName, serviceType, notes)
		if err != nil {
			return err
		}
		id = sub.ID
		return nil
	})
	return id, err
}

// Submit creates the subscription, writes its credential record and logs
// the submission atomically.
func (s *SubscriptionLedger) Submit(ctx context.Context, userID uint, in SubmissionInput) (*model.Subscription, error) {
	if len(in.Fields) == 0 && in.Credentials == nil {
		return nil, fmt.Errorf("%w: no credentials", ErrInvalidSubmission)
	}

	var sub *model.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		sub, err = s.create(ctx, tx, userID, in.ServiceName, in.ServiceType, in.Notes)
		if err != nil {
			return err
		}
		return s.saveCredentials(ctx, tx, sub, in.Fields, in.Credentials)
	})
	if err != nil {
		return nil, err
	}

	return sub, nil
}

func (s *SubscriptionLedger) create(ctx context.Context, tx *gorm.DB, userID uint, serviceName, serviceType, notes string) (*model.Subscription, error) {
	def, ok := s.panel.Lookup(serviceName)
	if !ok || def.Disabled {
		return nil, fmt.Errorf("%w: %q", ErrUnknownService, serviceName)
	}
	if serviceType == "" {
		serviceType = def.Type
	}
	if serviceType != def.Type {
		return nil, fmt.Errorf("%w: %s is %s", ErrInvalidServiceType, def.Name, def.Type)
	}

	if def.SubmissionLimit > 0 {
		count, err := s.subRepo.CountForService(ctx, tx, userID, def.Name)
		if err != nil {
			return nil, fmt.Errorf("count subscriptions: %w", err)
		}
		if count >= int64(def.SubmissionLimit) {
			return nil, &LimitExceededError{
				ServiceName: def.Name,
				Limit:       def.SubmissionLimit,
				Current:     count,
			}
		}
	}

	sub := &model.Subscription{
		UserID:      userID,
		ServiceName: def.Name,
		ServiceType: serviceType,
		Status:      model.SubscriptionStatusActive,
		Notes:       strings.TrimSpace(notes),
	}
	if err := s.subRepo.Create(ctx, tx, sub); err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}

	if err := s.logRepo.Create(ctx, tx, &model.SubmissionLog{
		UserID:         userID,
		SubscriptionID: sub.ID,
		ServiceName:    sub.ServiceName,
		Action:         model.SubmissionActionCreated,
	}); err != nil {
		return nil, fmt.Errorf("log submission: %w", err)
	}

	return sub, nil
}

func (s *SubscriptionLedger) saveCredentials(ctx context.Context, tx *gorm.DB, sub *model.Subscription, fields credential.FieldBundle, bare *credential.BareSecret) error {
	if len(fields) > 0 {
		identity := fields.IdentityEmail(sub.ServiceType)
		if identity == "" {
			return fmt.Errorf("%w: email is required", ErrInvalidSubmission)
		}
		return s.creds.saveBundle(ctx, tx, sub, fields, identity, fields.IMAPSecret())
	}
	if bare != nil {
		return s.creds.saveBare(ctx, tx, sub, *bare)
	}
	return nil
}

// UpdateSubscription applies an owner's edit. Ownership is checked inside
// the write transaction.
func (s *SubscriptionLedger) UpdateSubscription(ctx context.Context, subscriptionID, userID uint, update SubscriptionUpdate) (*model.Subscription, error) {
	var sub *model.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		sub, err = s.subRepo.GetOwned(ctx, tx, subscriptionID, userID)
		if err != nil {
			return notFound(err)
		}

		fields := map[string]interface{}{}
		if update.Notes != nil {
			fields["notes"] = strings.TrimSpace(*update.Notes)
		}
		if update.Status != nil {
			if !validSubscriptionStatus(*update.Status) {
				return fmt.Errorf("%w: %q", ErrInvalidStatus, *update.Status)
			}
			fields["status"] = *update.Status
		}
		if len(fields) > 0 {
			if err := s.subRepo.Update(ctx, tx, sub.ID, fields); err != nil {
				return fmt.Errorf("update subscription: %w", err)
			}
		}

		if err := s.saveCredentials(ctx, tx, sub, update.Fields, update.Credentials); err != nil {
			return err
		}

		if err := s.logRepo.Create(ctx, tx, &model.SubmissionLog{
			UserID:         userID,
			SubscriptionID: sub.ID,
			ServiceName:    sub.ServiceName,
			Action:         model.SubmissionActionUpdated,
		}); err != nil {
			return fmt.Errorf("log submission: %w", err)
		}

		sub, err = s.subRepo.GetOwned(ctx, tx, subscriptionID, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return sub, nil
}

// DeleteSubscription hard-deletes an owned subscription and its credential
// record. Orders that referenced it keep a NULL submission_id.
func (s *SubscriptionLedger) DeleteSubscription(ctx context.Context, subscriptionID, userID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.subRepo.GetOwned(ctx, tx, subscriptionID, userID)
		if err != nil {
			return notFound(err)
		}

		if err := s.creds.deleteBySubscription(ctx, tx, sub.ID); err != nil {
			return err
		}
		if err := s.subRepo.Delete(ctx, tx, sub.ID); err != nil {
			return fmt.Errorf("delete subscription: %w", err)
		}

		return s.logRepo.Create(ctx, tx, &model.SubmissionLog{
			UserID:         userID,
			SubscriptionID: sub.ID,
			ServiceName:    sub.ServiceName,
			Action:         model.SubmissionActionDeleted,
		})
	})
}

// ToggleAddedToBot sets the added_to_bot flag, or flips it when value is nil.
func (s *SubscriptionLedger) ToggleAddedToBot(ctx context.Context, subscriptionID, userID uint, value *bool) (*model.Subscription, error) {
	var sub *model.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		sub, err = s.subRepo.GetOwned(ctx, tx, subscriptionID, userID)
		if err != nil {
			return notFound(err)
		}
		added := !sub.AddedToBot
		if value != nil {
			added = *value
		}
		if err := s.subRepo.Update(ctx, tx, sub.ID, map[string]interface{}{"added_to_bot": added}); err != nil {
			return fmt.Errorf("toggle added to bot: %w", err)
		}
		sub.AddedToBot = added
		return nil
	})
	if err != nil {
		return nil, err
	}

	return sub, nil
}

func (s *SubscriptionLedger) ListByUser(ctx context.Context, userID uint) ([]*model.Subscription, error) {
	return s.subRepo.ListByUser(ctx, userID)
}

// ListByService is admin scope and skips ownership checks.
func (s *SubscriptionLedger) ListByService(ctx context.Context, serviceName string) ([]*model.Subscription, error) {
	return s.subRepo.ListByService(ctx, serviceName)
}

// ListByUserDecrypted returns the owner's view. Corrupted records are
// flagged per row and never fail the listing.
func (s *SubscriptionLedger) ListByUserDecrypted(ctx context.Context, userID uint) ([]*SubmissionView, error) {
	subs, err := s.subRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.views(ctx, subs, false)
}

// ListByServiceMasked returns the admin view with card numbers masked.
func (s *SubscriptionLedger) ListByServiceMasked(ctx context.Context, serviceName string) ([]*SubmissionView, error) {
	subs, err := s.ListByService(ctx, serviceName)
	if err != nil {
		return nil, err
	}
	return s.views(ctx, subs, true)
}

func (s *SubscriptionLedger) views(ctx context.Context, subs []*model.Subscription, masked bool) ([]*SubmissionView, error) {
	ids := make([]uint, len(subs))
	for i, sub := range subs {
		ids[i] = sub.ID
	}

	decrypted, err := s.creds.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	views := make([]*SubmissionView, len(subs))
	for i, sub := range subs {
		creds := decrypted[sub.ID]
		if masked {
			creds = creds.Masked()
		}
		views[i] = &SubmissionView{
			ID:          sub.ID,
			UserID:      sub.UserID,
			ServiceName: sub.ServiceName,
			ServiceType: sub.ServiceType,
			Status:      sub.Status,
			Notes:       sub.Notes,
			AddedToBot:  sub.AddedToBot,
			Credentials: creds,
			Corrupted:   creds != nil && creds.Corrupted,
			CreatedAt:   sub.CreatedAt,
			UpdatedAt:   sub.UpdatedAt,
		}
	}

	return views, nil
}

func validSubscriptionStatus(status string) bool {
	return status == model.SubscriptionStatusActive || status == model.SubscriptionStatusInactive
}
