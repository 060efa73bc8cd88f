package client

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"checkout-ledger/internal/config"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	stripeclient "github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

var ErrStripeNotConfigured = errors.New("stripe is not configured")

type FeeInvoice struct {
	CustomerID  string
	OrderID     uint
	Amount      decimal.Decimal
	Description string
}

type StripeClient interface {
	// ConstructEvent verifies the Stripe-Signature header against the raw
	// payload and decodes the event.
	ConstructEvent(payload []byte, signatureHeader string) (stripe.Event, error)

	// CreateFeeInvoice bills the fee for one order to a customer and
	// returns the finalized invoice id.
	CreateFeeInvoice(ctx context.Context, invoice FeeInvoice) (string, error)
}

type stripeClientImpl struct {
	api           *stripeclient.API
	webhookSecret string
	currency      string
	timeout       time.Duration
}

func NewStripeClient(cfg *config.Stripe) StripeClient {
	var api *stripeclient.API
	if cfg.SecretKey != "" {
		api = stripeclient.New(cfg.SecretKey, nil)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &stripeClientImpl{
		api:           api,
		webhookSecret: cfg.WebhookSecret,
		currency:      cfg.Currency,
		timeout:       timeout,
	}
}

func (c *stripeClientImpl) ConstructEvent(payload []byte, signatureHeader string) (stripe.Event, error) {
	if c.webhookSecret == "" {
		return stripe.Event{}, fmt.Errorf("verify webhook: %w", ErrStripeNotConfigured)
	}

	return webhook.ConstructEventWithOptions(payload, signatureHeader, c.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}

func (c *stripeClientImpl) CreateFeeInvoice(ctx context.Context, invoice FeeInvoice) (string, error) {
	if c.api == nil {
		return "", fmt.Errorf("create invoice: %w", ErrStripeNotConfigured)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	orderRef := strconv.FormatUint(uint64(invoice.OrderID), 10)
	cents := invoice.Amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()

	invoiceParams := &stripe.InvoiceParams{
		Customer:                    stripe.String(invoice.CustomerID),
		CollectionMethod:            stripe.String(string(stripe.InvoiceCollectionMethodChargeAutomatically)),
		AutoAdvance:                 stripe.Bool(true),
		Description:                 stripe.String(invoice.Description),
		PendingInvoiceItemsBehavior: stripe.String("exclude"),
	}
	invoiceParams.Context = ctx
	invoiceParams.SetIdempotencyKey("order-" + orderRef + "-invoice")
	invoiceParams.AddMetadata("order_id", orderRef)

	inv, err := c.api.Invoices.New(invoiceParams)
	if err != nil {
		return "", fmt.Errorf("stripe create invoice: %w", err)
	}

	itemParams := &stripe.InvoiceItemParams{
		Customer:    stripe.String(invoice.CustomerID),
		Invoice:     stripe.String(inv.ID),
		Amount:      stripe.Int64(cents),
		Currency:    stripe.String(c.currency),
		Description: stripe.String(invoice.Description),
	}
	itemParams.Context = ctx
	itemParams.SetIdempotencyKey("order-" + orderRef + "-item")

	if _, err := c.api.InvoiceItems.New(itemParams); err != nil {
		return "", fmt.Errorf("stripe create invoice item: %w", err)
	}

	finalizeParams := &stripe.InvoiceFinalizeInvoiceParams{}
	finalizeParams.Context = ctx

	finalized, err := c.api.Invoices.FinalizeInvoice(inv.ID, finalizeParams)
	if err != nil {
		return "", fmt.Errorf("stripe finalize invoice: %w", err)
	}

	return finalized.ID, nil
}
