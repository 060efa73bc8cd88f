package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"checkout-ledger/internal/client"
	"checkout-ledger/internal/metrics"
	"checkout-ledger/internal/model"
	"checkout-ledger/internal/notify"
	"checkout-ledger/internal/repository"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Notifier accepts notifications without blocking the caller.
type Notifier interface {
	Enqueue(n notify.Notification) bool
}

type IngestResult struct {
	OrderID      uint            `json:"order_id"`
	Status       string          `json:"status"`
	MatchedUser  bool            `json:"matched_user"`
	SubmissionID *uint           `json:"submission_id"`
	OrderTotal   decimal.Decimal `json:"order_total"`
	FeeAmount    decimal.Decimal `json:"fee_amount"`
}

var hundred = decimal.NewFromInt(100)

// FeeFor returns pct percent of total, rounded half-up to cents.
func FeeFor(total, pct decimal.Decimal) decimal.Decimal {
	return total.Mul(pct).Div(hundred).Round(2)
}

// Reconciler owns the order lifecycle:
//
//	checkout event -> pending_review -> paid | payment_failed
type Reconciler struct {
	db            *gorm.DB
	orderRepo     repository.OrderRepository
	subRepo       repository.SubscriptionRepository
	userRepo      repository.UserRepository
	panel         *ServicePanel
	resolver      *EmailResolver
	stripe        client.StripeClient
	notifier      Notifier
	feePercentage decimal.Decimal
	now           func() time.Time
}

func NewReconciler(
	db *gorm.DB,
	orderRepo repository.OrderRepository,
	subRepo repository.SubscriptionRepository,
	userRepo repository.UserRepository,
	panel *ServicePanel,
	resolver *EmailResolver,
	stripe client.StripeClient,
	notifier Notifier,
	feePercentage decimal.Decimal,
) *Reconciler {
	return &Reconciler{
		db:            db,
		orderRepo:     orderRepo,
		subRepo:       subRepo,
		userRepo:      userRepo,
		panel:         panel,
		resolver:      resolver,
		stripe:        stripe,
		notifier:      notifier,
		feePercentage: feePercentage,
		now:           time.Now,
	}
}

// IngestCheckoutEvent records a bot checkout as a pending_review order.
// An event that matches no subscription still produces an unlinked order.
func (r *Reconciler) IngestCheckoutEvent(ctx context.Context, event model.CheckoutEvent) (*IngestResult, error) {
	retailer := strings.TrimSpace(event.Retailer)
	if retailer == "" {
		return nil, fmt.Errorf("%w: retailer is required", ErrInvalidEvent)
	}
	if event.Price.IsNegative() {
		return nil, fmt.Errorf("%w: negative price", ErrInvalidEvent)
	}

	quantity := event.Quantity
	if quantity < 1 {
		quantity = 1
	}
	total := event.Price.Mul(decimal.NewFromInt(int64(quantity))).Round(2)

	sub, err := r.match(ctx, event)
	if err != nil {
		return nil, err
	}

	orderDate := event.Timestamp.Time
	if orderDate.IsZero() {
		orderDate = r.now()
	}

	order := &model.Order{
		Bot:           strings.TrimSpace(event.Bot),
		Retailer:      retailer,
		ProductName:   strings.TrimSpace(event.Product),
		OrderNumber:   strings.TrimSpace(event.OrderNumber),
		Email:         strings.TrimSpace(event.Email),
		Profile:       string(event.ProfileRef()),
		Quantity:      quantity,
		UnitPrice:     event.Price,
		OrderTotal:    total,
		FeeAmount:     FeeFor(total, r.feePercentage),
		FeePercentage: r.feePercentage,
		Status:        model.OrderStatusPendingReview,
		OrderDate:     orderDate.UTC(),
	}
	if sub != nil {
		order.SubmissionID = &sub.ID
		order.UserID = &sub.UserID
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return r.orderRepo.Create(ctx, tx, order)
	})
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	matched := sub != nil
	metrics.OrdersIngested.WithLabelValues(strconv.FormatBool(matched)).Inc()
	log.Info().
		Uint("order_id", order.ID).
		Str("retailer", order.Retailer).
		Bool("matched_user", matched).
		Str("fee", order.FeeAmount.StringFixed(2)).
		Msg("checkout order ingested")

	r.notify(notify.New(
		notify.KindOrderCreated,
		"New order pending review",
		fmt.Sprintf("%s order %s for %s", order.Retailer, order.OrderNumber, order.OrderTotal.StringFixed(2)),
		notify.Field{Name: "Order", Value: strconv.FormatUint(uint64(order.ID), 10)},
		notify.Field{Name: "Product", Value: order.ProductName},
		notify.Field{Name: "Fee", Value: order.FeeAmount.StringFixed(2)},
		notify.Field{Name: "Matched", Value: strconv.FormatBool(matched)},
	))

	return &IngestResult{
		OrderID:      order.ID,
		Status:       order.Status,
		MatchedUser:  matched,
		SubmissionID: order.SubmissionID,
		OrderTotal:   order.OrderTotal,
		FeeAmount:    order.FeeAmount,
	}, nil
}

// match resolves the event to a subscription: a numeric profile id naming a
// subscription of the retailer's service wins, otherwise the email decides.
func (r *Reconciler) match(ctx context.Context, event model.CheckoutEvent) (*model.Subscription, error) {
	def, ok := r.panel.MatchRetailer(event.Retailer)
	if !ok {
		log.Debug().Str("retailer", event.Retailer).Msg("retailer not in service panel")
		return nil, nil
	}

	if id, ok := event.ProfileRef().Uint(); ok {
		sub, err := r.subRepo.Get(ctx, r.db, id)
		switch {
		case err == nil && strings.EqualFold(sub.ServiceName, def.Name):
			return sub, nil
		case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, fmt.Errorf("get subscription: %w", err)
		}
	}

	sub, err := r.resolver.FindSubscriptionByEmail(ctx, def.Name, event.Email)
	if err != nil {
		return nil, fmt.Errorf("match email: %w", err)
	}
	return sub, nil
}

// ApplyInvoicePaid moves the invoice's order to paid and stamps the payment
// date. Replays leave the order and its payment date untouched.
func (r *Reconciler) ApplyInvoicePaid(ctx context.Context, invoiceID string) (*model.Order, error) {
	order, changed, err := r.transition(ctx, invoiceID, func(tx *gorm.DB) (int64, error) {
		return r.orderRepo.MarkPaid(ctx, tx, invoiceID, r.now().UTC())
	})
	if err != nil {
		return nil, err
	}

	if changed {
		metrics.OrderTransitions.WithLabelValues(model.OrderStatusPaid).Inc()
		r.notify(notify.New(
			notify.KindOrderPaid,
			"Order fee paid",
			fmt.Sprintf("%s order %s fee %s paid", order.Retailer, order.OrderNumber, order.FeeAmount.StringFixed(2)),
			notify.Field{Name: "Order", Value: strconv.FormatUint(uint64(order.ID), 10)},
			notify.Field{Name: "Invoice", Value: invoiceID},
		))
	}

	return order, nil
}

// ApplyInvoicePaymentFailed moves the invoice's order to payment_failed.
// Orders already paid or failed are left as they are.
func (r *Reconciler) ApplyInvoicePaymentFailed(ctx context.Context, invoiceID string) (*model.Order, error) {
	order, changed, err := r.transition(ctx, invoiceID, func(tx *gorm.DB) (int64, error) {
		return r.orderRepo.MarkPaymentFailed(ctx, tx, invoiceID)
	})
	if err != nil {
		return nil, err
	}

	if changed {
		metrics.OrderTransitions.WithLabelValues(model.OrderStatusPaymentFailed).Inc()
		r.notify(notify.New(
			notify.KindOrderPaymentFailed,
			"Order fee payment failed",
			fmt.Sprintf("%s order %s fee %s failed", order.Retailer, order.OrderNumber, order.FeeAmount.StringFixed(2)),
			notify.Field{Name: "Order", Value: strconv.FormatUint(uint64(order.ID), 10)},
			notify.Field{Name: "Invoice", Value: invoiceID},
		))
	}

	return order, nil
}

func (r *Reconciler) transition(ctx context.Context, invoiceID string, apply func(tx *gorm.DB) (int64, error)) (*model.Order, bool, error) {
	if invoiceID == "" {
		return nil, false, ErrOrderNotFound
	}

	var (
		order   *model.Order
		changed bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n, err := apply(tx)
		if err != nil {
			return err
		}
		changed = n > 0

		order, err = r.orderRepo.FindByInvoiceID(ctx, tx, invoiceID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrOrderNotFound
		}
		return err
	})
	if err != nil {
		return nil, false, err
	}

	return order, changed, nil
}

// ApplySubscriptionCancelled drops the customer's user back to the free tier.
func (r *Reconciler) ApplySubscriptionCancelled(ctx context.Context, customerID string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return r.userRepo.DowngradeByCustomer(ctx, tx, customerID)
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrUserNotFound
	}
	return err
}

// ApproveOrder confirms a pending order, optionally correcting its total,
// and bills the fee to the owner's Stripe customer. The order stays in
// pending_review until the invoice is paid.
func (r *Reconciler) ApproveOrder(ctx context.Context, orderID uint, adjustedTotal *decimal.Decimal) (*model.Order, error) {
	order, err := r.orderRepo.Get(ctx, r.db, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	if order.Status != model.OrderStatusPendingReview {
		return nil, fmt.Errorf("%w: order is %s", ErrOrderNotReviewable, order.Status)
	}
	if order.StripeInvoiceID != nil {
		return nil, fmt.Errorf("%w: invoice %s already issued", ErrOrderNotReviewable, *order.StripeInvoiceID)
	}
	if order.UserID == nil {
		return nil, ErrOrderUnlinked
	}

	user, err := r.userRepo.Get(ctx, *order.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderUnlinked
		}
		return nil, err
	}
	if user.StripeCustomerID == "" {
		return nil, ErrNoBillingCustomer
	}

	fields := map[string]interface{}{}
	fee := order.FeeAmount
	if adjustedTotal != nil && !adjustedTotal.Equal(order.OrderTotal) {
		if adjustedTotal.IsNegative() {
			return nil, fmt.Errorf("%w: negative total", ErrInvalidAmount)
		}
		total := adjustedTotal.Round(2)
		fee = FeeFor(total, order.FeePercentage)
		fields["order_total"] = total
		fields["fee_amount"] = fee
	}
	if !fee.IsPositive() {
		return nil, fmt.Errorf("%w: fee is %s", ErrInvalidAmount, fee.StringFixed(2))
	}

	invoiceID, err := r.stripe.CreateFeeInvoice(ctx, client.FeeInvoice{
		CustomerID: user.StripeCustomerID,
		OrderID:    order.ID,
		Amount:     fee,
		Description: fmt.Sprintf("%s%% fee for %s order %s",
			order.FeePercentage.String(), order.Retailer, order.OrderNumber),
	})
	if err != nil {
		return nil, fmt.Errorf("create fee invoice: %w", err)
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.orderRepo.AttachInvoice(ctx, tx, order.ID, invoiceID, fields); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: order changed during approval", ErrOrderNotReviewable)
			}
			return err
		}
		order, err = r.orderRepo.Get(ctx, tx, order.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Uint("order_id", order.ID).
		Str("invoice_id", invoiceID).
		Str("fee", order.FeeAmount.StringFixed(2)).
		Msg("order approved")

	return order, nil
}

// LinkOrder attaches an unlinked order to a subscription by hand.
func (r *Reconciler) LinkOrder(ctx context.Context, orderID, subscriptionID uint) (*model.Order, error) {
	var order *model.Order
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := r.subRepo.Get(ctx, tx, subscriptionID)
		if err != nil {
			return notFound(err)
		}
		if err := r.orderRepo.Link(ctx, tx, orderID, sub.ID, sub.UserID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrOrderNotFound
			}
			return err
		}
		order, err = r.orderRepo.Get(ctx, tx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

func (r *Reconciler) ListOrders(ctx context.Context, filter repository.OrderFilter) ([]*model.Order, error) {
	switch filter.Status {
	case "", model.OrderStatusPendingReview, model.OrderStatusPaid, model.OrderStatusPaymentFailed:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, filter.Status)
	}
	return r.orderRepo.List(ctx, filter)
}

func (r *Reconciler) notify(n notify.Notification) {
	if r.notifier == nil {
		return
	}
	r.notifier.Enqueue(n)
}
