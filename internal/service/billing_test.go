package service

import (
	"errors"
	"fmt"
	"testing"

	"checkout-ledger/internal/model"
)

func invoiceEvent(eventID, eventType, invoiceID string) []byte {
	return stripeEvent(eventID, eventType, fmt.Sprintf(`{"id":%q,"object":"invoice"}`, invoiceID))
}

func TestBillingRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	order := approvedOrder(t, f)
	payload := invoiceEvent("evt_bad", "invoice.paid", *order.StripeInvoiceID)

	headers := []string{
		"",
		"t=1,v1=deadbeef",
		signatureHeader(payload, "whsec_wrong"),
	}
	for _, header := range headers {
		if err := f.billing.Handle(f.ctx, payload, header); !errors.Is(err, ErrSignatureVerification) {
			t.Errorf("header %q: error = %v, want ErrSignatureVerification", header, err)
		}
	}

	var stored model.Order
	f.db.First(&stored, order.ID)
	if stored.Status != model.OrderStatusPendingReview {
		t.Errorf("status = %q after rejected webhook", stored.Status)
	}

	var events int64
	f.db.Model(&model.WebhookEvent{}).Count(&events)
	if events != 0 {
		t.Errorf("rejected webhook recorded %d events", events)
	}
}

func TestBillingInvoicePaid(t *testing.T) {
	f := newFixture(t)
	order := approvedOrder(t, f)
	payload := invoiceEvent("evt_paid", "invoice.paid", *order.StripeInvoiceID)

	if err := f.billing.Handle(f.ctx, payload, signatureHeader(payload, testWebhookSecret)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	var stored model.Order
	f.db.First(&stored, order.ID)
	if stored.Status != model.OrderStatusPaid || stored.PaymentDate == nil {
		t.Fatalf("order = %+v", stored)
	}

	// replayed delivery of the same event
	if err := f.billing.Handle(f.ctx, payload, signatureHeader(payload, testWebhookSecret)); err != nil {
		t.Fatalf("replay: %v", err)
	}

	var replayed model.Order
	f.db.First(&replayed, order.ID)
	if !replayed.PaymentDate.Equal(*stored.PaymentDate) {
		t.Errorf("payment date moved from %v to %v", stored.PaymentDate, replayed.PaymentDate)
	}
}

func TestBillingInvoicePaymentFailed(t *testing.T) {
	f := newFixture(t)
	order := approvedOrder(t, f)
	payload := invoiceEvent("evt_failed", "invoice.payment_failed", *order.StripeInvoiceID)

	if err := f.billing.Handle(f.ctx, payload, signatureHeader(payload, testWebhookSecret)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	var stored model.Order
	f.db.First(&stored, order.ID)
	if stored.Status != model.OrderStatusPaymentFailed {
		t.Errorf("status = %q", stored.Status)
	}
}

func TestBillingUnknownInvoiceIsAcknowledged(t *testing.T) {
	f := newFixture(t)
	payload := invoiceEvent("evt_orphan", "invoice.paid", "in_unknown")

	if err := f.billing.Handle(f.ctx, payload, signatureHeader(payload, testWebhookSecret)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
}

func TestBillingIgnoresOtherEvents(t *testing.T) {
	f := newFixture(t)
	payload := stripeEvent("evt_other", "customer.created", `{"id":"cus_1","object":"customer"}`)

	if err := f.billing.Handle(f.ctx, payload, signatureHeader(payload, testWebhookSecret)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
}

func TestBillingPremiumLifecycle(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "4242")

	completed := stripeEvent("evt_session", "checkout.session.completed",
		`{"id":"cs_1","object":"checkout.session","client_reference_id":"4242","customer":"cus_premium"}`)
	if err := f.billing.Handle(f.ctx, completed, signatureHeader(completed, testWebhookSecret)); err != nil {
		t.Fatalf("checkout.session.completed: %v", err)
	}

	got, err := f.users.GetUser(f.ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.StripeCustomerID != "cus_premium" || got.Tier != model.TierPremium || got.TierStatus != model.TierStatusActive {
		t.Fatalf("user after checkout = %+v", got)
	}

	deleted := stripeEvent("evt_cancel", "customer.subscription.deleted",
		`{"id":"sub_1","object":"subscription","customer":"cus_premium"}`)
	if err := f.billing.Handle(f.ctx, deleted, signatureHeader(deleted, testWebhookSecret)); err != nil {
		t.Fatalf("customer.subscription.deleted: %v", err)
	}

	got, _ = f.users.GetUser(f.ctx, u.ID)
	if got.Tier != model.TierFree || got.TierStatus != model.TierStatusCancelled {
		t.Errorf("user after cancel = %+v", got)
	}
}

func TestBillingCheckoutForUnknownUser(t *testing.T) {
	f := newFixture(t)
	payload := stripeEvent("evt_nobody", "checkout.session.completed",
		`{"id":"cs_2","object":"checkout.session","client_reference_id":"ghost","customer":"cus_ghost"}`)

	if err := f.billing.Handle(f.ctx, payload, signatureHeader(payload, testWebhookSecret)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
}
