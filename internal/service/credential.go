package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"checkout-ledger/internal/credential"
	"checkout-ledger/internal/envelope"
	"checkout-ledger/internal/metrics"
	"checkout-ledger/internal/model"
	"checkout-ledger/internal/repository"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Decrypted is the plaintext view of one credential record. For bundle
// records Username holds the identity email slot and Bundle every submitted
// field. A record that fails to open comes back with Corrupted set and no
// data, never as an error.
type Decrypted struct {
	SubscriptionID uint                   `json:"subscription_id"`
	Kind           credential.Kind        `json:"kind,omitempty"`
	Username       string                 `json:"username,omitempty"`
	Password       string                 `json:"password,omitempty"`
	IMAP           string                 `json:"imap,omitempty"`
	Bundle         credential.FieldBundle `json:"fields,omitempty"`
	Corrupted      bool                   `json:"corrupted"`

	Err error `json:"-"`
}

// Emails lists the addresses a checkout event may be matched against.
func (d *Decrypted) Emails() []string {
	if d == nil || d.Corrupted {
		return nil
	}
	var emails []string
	if d.Kind == credential.KindBundle {
		emails = append(emails, d.Bundle.Emails()...)
	}
	if d.Username != "" {
		emails = append(emails, d.Username)
	}
	return emails
}

// Masked hides card numbers and secrets for admin listings.
func (d *Decrypted) Masked() *Decrypted {
	if d == nil {
		return nil
	}
	out := *d
	if out.Bundle != nil {
		out.Bundle = out.Bundle.Masked()
	}
	if out.Password != "" {
		out.Password = "••••"
	}
	if out.IMAP != "" {
		out.IMAP = "••••"
	}
	return &out
}

type CredentialStore struct {
	db       *gorm.DB
	credRepo repository.CredentialRepository
	subRepo  repository.SubscriptionRepository
	userRepo repository.UserRepository
	envelope *envelope.Envelope
	now      func() time.Time
}

func NewCredentialStore(
	db *gorm.DB,
	credRepo repository.CredentialRepository,
	subRepo repository.SubscriptionRepository,
	userRepo repository.UserRepository,
	env *envelope.Envelope,
) *CredentialStore {
	return &CredentialStore{
		db:       db,
		credRepo: credRepo,
		subRepo:  subRepo,
		userRepo: userRepo,
		envelope: env,
		now:      time.Now,
	}
}

// SaveCredentials upserts a bare-secret record for the subscription.
func (s *CredentialStore) SaveCredentials(ctx context.Context, subscriptionID uint, secret credential.BareSecret) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.subRepo.Get(ctx, tx, subscriptionID)
		if err != nil {
			return notFound(err)
		}
		return s.saveBare(ctx, tx, sub, secret)
	})
}

// SaveBundledCredentials upserts a bundle record: every field encoded into
// the password slot, identityEmail in the username slot, imapSecret in the
// imap slot.
func (s *CredentialStore) SaveBundledCredentials(ctx context.Context, subscriptionID uint, bundle credential.FieldBundle, identityEmail, imapSecret string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.subRepo.Get(ctx, tx, subscriptionID)
		if err != nil {
			return notFound(err)
		}
		return s.saveBundle(ctx, tx, sub, bundle, identityEmail, imapSecret)
	})
}

func (s *CredentialStore) saveBare(ctx context.Context, tx *gorm.DB, sub *model.Subscription, secret credential.BareSecret) error {
	username, err := s.envelope.Encrypt(secret.Username)
	if err != nil {
		return fmt.Errorf("encrypt username: %w", err)
	}
	password, err := s.envelope.Encrypt(secret.Password)
	if err != nil {
		return fmt.Errorf("encrypt password: %w", err)
	}
	imap, err := s.envelope.Encrypt(secret.IMAP)
	if err != nil {
		return fmt.Errorf("encrypt imap: %w", err)
	}

	record := &model.CredentialRecord{
		SubscriptionID:    sub.ID,
		Kind:              string(credential.KindBare),
		EncryptedUsername: username,
		EncryptedPassword: password,
		EncryptedIMAP:     imap,
		EmailDigest:       s.digest(secret.Username),
	}
	if err := s.credRepo.Upsert(ctx, tx, record); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}

	return nil
}

func (s *CredentialStore) saveBundle(ctx context.Context, tx *gorm.DB, sub *model.Subscription, bundle credential.FieldBundle, identityEmail, imapSecret string) error {
	encoded, err := bundle.Encode()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
	}

	password, err := s.envelope.Encrypt(encoded)
	if err != nil {
		return fmt.Errorf("encrypt bundle: %w", err)
	}
	username, err := s.envelope.Encrypt(identityEmail)
	if err != nil {
		return fmt.Errorf("encrypt identity email: %w", err)
	}
	imap, err := s.envelope.Encrypt(imapSecret)
	if err != nil {
		return fmt.Errorf("encrypt imap: %w", err)
	}

	record := &model.CredentialRecord{
		SubscriptionID:    sub.ID,
		Kind:              string(credential.KindBundle),
		EncryptedUsername: username,
		EncryptedPassword: password,
		EncryptedIMAP:     imap,
		EmailDigest:       s.digest(identityEmail),
	}
	if err := s.credRepo.Upsert(ctx, tx, record); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}

	if bundle.HasPaymentFields() {
		if err := s.userRepo.UpdatePaymentSnapshot(ctx, tx, sub.UserID, bundle.PaymentSnapshot(s.now())); err != nil {
			return fmt.Errorf("update payment snapshot: %w", err)
		}
	}

	return nil
}

// GetCredentials returns nil when the subscription has no record.
func (s *CredentialStore) GetCredentials(ctx context.Context, subscriptionID uint) (*Decrypted, error) {
	record, err := s.credRepo.GetBySubscriptionID(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get credentials: %w", err)
	}

	return s.open(record), nil
}

// GetMany decrypts the records of several subscriptions, keyed by
// subscription id. Subscriptions without a record are absent from the map.
func (s *CredentialStore) GetMany(ctx context.Context, subscriptionIDs []uint) (map[uint]*Decrypted, error) {
	records, err := s.credRepo.ListBySubscriptionIDs(ctx, subscriptionIDs)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}

	out := make(map[uint]*Decrypted, len(records))
	for _, record := range records {
		out[record.SubscriptionID] = s.open(record)
	}
	return out, nil
}

func (s *CredentialStore) DeleteBySubscription(ctx context.Context, subscriptionID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.deleteBySubscription(ctx, tx, subscriptionID)
	})
}

func (s *CredentialStore) deleteBySubscription(ctx context.Context, tx *gorm.DB, subscriptionID uint) error {
	if err := s.credRepo.DeleteBySubscriptionID(ctx, tx, subscriptionID); err != nil {
		return fmt.Errorf("delete credentials: %w", err)
	}
	return nil
}

func (s *CredentialStore) open(record *model.CredentialRecord) *Decrypted {
	username, err := s.envelope.DecryptOptional(record.EncryptedUsername)
	if err != nil {
		return s.corrupted(record, fmt.Errorf("username slot: %w", err))
	}
	password, err := s.envelope.DecryptOptional(record.EncryptedPassword)
	if err != nil {
		return s.corrupted(record, fmt.Errorf("password slot: %w", err))
	}
	imap, err := s.envelope.DecryptOptional(record.EncryptedIMAP)
	if err != nil {
		return s.corrupted(record, fmt.Errorf("imap slot: %w", err))
	}

	kind := credential.Kind(record.Kind)
	if kind == "" {
		kind = credential.Sniff(password)
	}

	d := &Decrypted{
		SubscriptionID: record.SubscriptionID,
		Kind:           kind,
		Username:       username,
		IMAP:           imap,
	}

	switch kind {
	case credential.KindBundle:
		if password == "" {
			return s.corrupted(record, fmt.Errorf("bundle record without bundle: %w", credential.ErrInvalidBundle))
		}
		bundle, err := credential.DecodeBundle(password)
		if err != nil {
			return s.corrupted(record, err)
		}
		d.Bundle = bundle
	case credential.KindBare:
		d.Password = password
	default:
		return s.corrupted(record, fmt.Errorf("unknown credential kind %q", kind))
	}

	return d
}

func (s *CredentialStore) corrupted(record *model.CredentialRecord, err error) *Decrypted {
	metrics.CorruptedCredentials.Inc()
	log.Warn().
		Err(err).
		Uint("subscription_id", record.SubscriptionID).
		Msg("credential record could not be opened")

	return &Decrypted{
		SubscriptionID: record.SubscriptionID,
		Corrupted:      true,
		Err:            err,
	}
}

func (s *CredentialStore) digest(email string) *string {
	d := s.envelope.EmailDigest(email)
	if d == "" {
		return nil
	}
	return &d
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFoundOrForbidden
	}
	return err
}
