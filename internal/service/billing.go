package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"checkout-ledger/internal/client"
	"checkout-ledger/internal/metrics"
	"checkout-ledger/internal/model"
	"checkout-ledger/internal/repository"

	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v76"
	"gorm.io/gorm"
)

// BillingWebhooks applies signed Stripe events. Each event id is handled
// once; replays are acknowledged without side effects.
type BillingWebhooks struct {
	db          *gorm.DB
	stripe      client.StripeClient
	webhookRepo repository.WebhookEventRepository
	userRepo    repository.UserRepository
	reconciler  *Reconciler
}

func NewBillingWebhooks(
	db *gorm.DB,
	stripe client.StripeClient,
	webhookRepo repository.WebhookEventRepository,
	userRepo repository.UserRepository,
	reconciler *Reconciler,
) *BillingWebhooks {
	return &BillingWebhooks{
		db:          db,
		stripe:      stripe,
		webhookRepo: webhookRepo,
		userRepo:    userRepo,
		reconciler:  reconciler,
	}
}

func (s *BillingWebhooks) Handle(ctx context.Context, payload []byte, signatureHeader string) error {
	event, err := s.stripe.ConstructEvent(payload, signatureHeader)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("unknown", "rejected").Inc()
		return fmt.Errorf("%w: %v", ErrSignatureVerification, err)
	}
	eventType := string(event.Type)

	seen, err := s.webhookRepo.Exists(ctx, event.ID)
	if err != nil {
		return fmt.Errorf("check webhook event: %w", err)
	}
	if seen {
		metrics.WebhookEvents.WithLabelValues(eventType, "duplicate").Inc()
		log.Debug().Str("event_id", event.ID).Msg("webhook event already processed")
		return nil
	}

	outcome := "applied"
	if err := s.dispatch(ctx, event); err != nil {
		if !errors.Is(err, ErrOrderNotFound) && !errors.Is(err, ErrUserNotFound) {
			metrics.WebhookEvents.WithLabelValues(eventType, "failed").Inc()
			return err
		}
		outcome = "unmatched"
		log.Warn().Err(err).Str("event_id", event.ID).Str("type", eventType).Msg("webhook event matched nothing")
	}

	if err := s.webhookRepo.MarkProcessed(ctx, s.db, event.ID, eventType); err != nil {
		return fmt.Errorf("mark webhook event: %w", err)
	}

	metrics.WebhookEvents.WithLabelValues(eventType, outcome).Inc()
	return nil
}

func (s *BillingWebhooks) dispatch(ctx context.Context, event stripe.Event) error {
	if event.Data == nil {
		return nil
	}

	switch event.Type {
	case stripe.EventTypeInvoicePaid:
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return fmt.Errorf("decode invoice: %w", err)
		}
		_, err := s.reconciler.ApplyInvoicePaid(ctx, invoice.ID)
		return err

	case stripe.EventTypeInvoicePaymentFailed:
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return fmt.Errorf("decode invoice: %w", err)
		}
		_, err := s.reconciler.ApplyInvoicePaymentFailed(ctx, invoice.ID)
		return err

	case stripe.EventTypeCheckoutSessionCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return fmt.Errorf("decode checkout session: %w", err)
		}
		return s.linkCustomer(ctx, &session)

	case stripe.EventTypeCustomerSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		if sub.Customer == nil || sub.Customer.ID == "" {
			return ErrUserNotFound
		}
		return s.reconciler.ApplySubscriptionCancelled(ctx, sub.Customer.ID)

	default:
		log.Debug().Str("type", string(event.Type)).Msg("ignoring webhook event")
		return nil
	}
}

// linkCustomer records the Stripe customer of a completed premium checkout.
// The session's client_reference_id carries the buyer's discord id.
func (s *BillingWebhooks) linkCustomer(ctx context.Context, session *stripe.CheckoutSession) error {
	if session.ClientReferenceID == "" || session.Customer == nil || session.Customer.ID == "" {
		return ErrUserNotFound
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.userRepo.LinkStripeCustomer(ctx, tx, session.ClientReferenceID, session.Customer.ID, model.TierPremium)
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrUserNotFound
	}
	return err
}
