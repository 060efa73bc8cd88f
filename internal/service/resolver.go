package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"checkout-ledger/internal/envelope"
	"checkout-ledger/internal/model"
	"checkout-ledger/internal/repository"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// EmailResolver links an inbound checkout email to the subscription whose
// credentials carry it.
type EmailResolver struct {
	db       *gorm.DB
	subRepo  repository.SubscriptionRepository
	credRepo repository.CredentialRepository
	creds    *CredentialStore
	envelope *envelope.Envelope
}

func NewEmailResolver(
	db *gorm.DB,
	subRepo repository.SubscriptionRepository,
	credRepo repository.CredentialRepository,
	creds *CredentialStore,
	env *envelope.Envelope,
) *EmailResolver {
	return &EmailResolver{
		db:       db,
		subRepo:  subRepo,
		credRepo: credRepo,
		creds:    creds,
		envelope: env,
	}
}

// FindSubscriptionByEmail returns the first subscription of serviceName
// whose credentials hold email, comparing case-insensitively. It returns
// nil, nil when nothing matches. Records that cannot be opened are skipped.
func (r *EmailResolver) FindSubscriptionByEmail(ctx context.Context, serviceName, email string) (*model.Subscription, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, nil
	}

	hit, err := r.byDigest(ctx, serviceName, email)
	if err != nil {
		return nil, err
	}

	// The digest covers the identity email only. An older subscription
	// holding email in another field still wins.
	var before uint
	if hit != nil {
		before = hit.ID
	}
	earlier, err := r.scan(ctx, serviceName, email, before)
	if err != nil {
		return nil, err
	}
	if earlier != nil {
		return earlier, nil
	}

	return hit, nil
}

func (r *EmailResolver) byDigest(ctx context.Context, serviceName, email string) (*model.Subscription, error) {
	digest := r.envelope.EmailDigest(email)
	if digest == "" {
		return nil, nil
	}

	records, err := r.credRepo.FindByEmailDigest(ctx, serviceName, digest)
	if err != nil {
		return nil, fmt.Errorf("lookup email digest: %w", err)
	}

	for _, record := range records {
		if !holdsEmail(r.creds.open(record), email) {
			continue
		}
		sub, err := r.subRepo.Get(ctx, r.db, record.SubscriptionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return nil, fmt.Errorf("get subscription: %w", err)
		}
		return sub, nil
	}

	return nil, nil
}

// scan decrypts the records of the service in subscription order, stopping
// at subscription id before when it is non-zero. Rows written before the
// digest column existed get it filled in on the way.
func (r *EmailResolver) scan(ctx context.Context, serviceName, email string, before uint) (*model.Subscription, error) {
	subs, err := r.subRepo.ListByService(ctx, serviceName)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	if before != 0 {
		n := 0
		for n < len(subs) && subs[n].ID < before {
			n++
		}
		subs = subs[:n]
	}
	if len(subs) == 0 {
		return nil, nil
	}

	ids := make([]uint, len(subs))
	for i, sub := range subs {
		ids[i] = sub.ID
	}
	records, err := r.credRepo.ListBySubscriptionIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}

	bySubscription := make(map[uint]*model.CredentialRecord, len(records))
	for _, record := range records {
		bySubscription[record.SubscriptionID] = record
	}

	for _, sub := range subs {
		record, ok := bySubscription[sub.ID]
		if !ok {
			continue
		}
		d := r.creds.open(record)
		if d.Corrupted {
			continue
		}
		if record.EmailDigest == nil {
			r.backfill(ctx, record, d)
		}
		if holdsEmail(d, email) {
			return sub, nil
		}
	}

	return nil, nil
}

func (r *EmailResolver) backfill(ctx context.Context, record *model.CredentialRecord, d *Decrypted) {
	digest := r.envelope.EmailDigest(d.Username)
	if digest == "" {
		return
	}
	if err := r.credRepo.SetEmailDigest(ctx, record.ID, digest); err != nil {
		log.Warn().Err(err).Uint("subscription_id", record.SubscriptionID).Msg("email digest backfill failed")
		return
	}
	record.EmailDigest = &digest
}

func holdsEmail(d *Decrypted, email string) bool {
	for _, candidate := range d.Emails() {
		if strings.EqualFold(strings.TrimSpace(candidate), email) {
			return true
		}
	}
	return false
}
