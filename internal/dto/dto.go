package dto

import (
	"time"

	"checkout-ledger/internal/model"
	"checkout-ledger/internal/service"

	"github.com/shopspring/decimal"
)

type CheckoutWebhookResponse struct {
	Success      bool   `json:"success"`
	OrderID      uint   `json:"order_id"`
	Status       string `json:"status"`
	MatchedUser  bool   `json:"matched_user"`
	SubmissionID *uint  `json:"submission_id"`
}

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	IMAP     string `json:"imap"`
}

type SubmissionRequest struct {
	ServiceName string            `json:"service_name"`
	ServiceType string            `json:"service_type"`
	Notes       string            `json:"notes"`
	Fields      map[string]string `json:"fields"`
	Credentials *Credentials      `json:"credentials"`
}

type UpdateSubmissionRequest struct {
	Notes       *string           `json:"notes"`
	Status      *string           `json:"status"`
	Fields      map[string]string `json:"fields"`
	Credentials *Credentials      `json:"credentials"`
}

type ToggleBotRequest struct {
	AddedToBot *bool `json:"added_to_bot"`
}

type Subscription struct {
	ID          uint      `json:"id"`
	ServiceName string    `json:"service_name"`
	ServiceType string    `json:"service_type"`
	Status      string    `json:"status"`
	Notes       string    `json:"notes"`
	AddedToBot  bool      `json:"added_to_bot"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func NewSubscription(sub *model.Subscription) *Subscription {
	return &Subscription{
		ID:          sub.ID,
		ServiceName: sub.ServiceName,
		ServiceType: sub.ServiceType,
		Status:      sub.Status,
		Notes:       sub.Notes,
		AddedToBot:  sub.AddedToBot,
		CreatedAt:   sub.CreatedAt,
		UpdatedAt:   sub.UpdatedAt,
	}
}

// Submission is a listed subscription. Credentials is the decrypted record,
// {"error": true} when it could not be opened, or null when none is stored.
type Submission struct {
	Subscription
	UserID      uint        `json:"user_id,omitempty"`
	Credentials interface{} `json:"credentials"`
	Corrupted   bool        `json:"corrupted"`
}

type corruptedCredentials struct {
	Error bool `json:"error"`
}

func NewSubmissions(views []*service.SubmissionView, withOwner bool) []*Submission {
	out := make([]*Submission, 0, len(views))
	for _, v := range views {
		s := &Submission{
			Subscription: Subscription{
				ID:          v.ID,
				ServiceName: v.ServiceName,
				ServiceType: v.ServiceType,
				Status:      v.Status,
				Notes:       v.Notes,
				AddedToBot:  v.AddedToBot,
				CreatedAt:   v.CreatedAt,
				UpdatedAt:   v.UpdatedAt,
			},
			Corrupted: v.Corrupted,
		}
		if withOwner {
			s.UserID = v.UserID
		}
		switch {
		case v.Corrupted:
			s.Credentials = corruptedCredentials{Error: true}
		case v.Credentials != nil:
			s.Credentials = v.Credentials
		}
		out = append(out, s)
	}
	return out
}

type ApproveOrderRequest struct {
	AdjustedTotal *decimal.Decimal `json:"adjusted_total"`
}

type LinkOrderRequest struct {
	SubmissionID uint `json:"submission_id"`
}

type Order struct {
	ID              uint            `json:"id"`
	SubmissionID    *uint           `json:"submission_id"`
	UserID          *uint           `json:"user_id"`
	Bot             string          `json:"bot"`
	Retailer        string          `json:"retailer"`
	ProductName     string          `json:"product_name"`
	OrderNumber     string          `json:"order_number"`
	Email           string          `json:"email"`
	Profile         string          `json:"profile"`
	Quantity        int             `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	OrderTotal      decimal.Decimal `json:"order_total"`
	FeeAmount       decimal.Decimal `json:"fee_amount"`
	FeePercentage   decimal.Decimal `json:"fee_percentage"`
	Status          string          `json:"status"`
	StripeInvoiceID *string         `json:"stripe_invoice_id"`
	OrderDate       time.Time       `json:"order_date"`
	PaymentDate     *time.Time      `json:"payment_date"`
}

func NewOrder(o *model.Order) *Order {
	return &Order{
		ID:              o.ID,
		SubmissionID:    o.SubmissionID,
		UserID:          o.UserID,
		Bot:             o.Bot,
		Retailer:        o.Retailer,
		ProductName:     o.ProductName,
		OrderNumber:     o.OrderNumber,
		Email:           o.Email,
		Profile:         o.Profile,
		Quantity:        o.Quantity,
		UnitPrice:       o.UnitPrice,
		OrderTotal:      o.OrderTotal,
		FeeAmount:       o.FeeAmount,
		FeePercentage:   o.FeePercentage,
		Status:          o.Status,
		StripeInvoiceID: o.StripeInvoiceID,
		OrderDate:       o.OrderDate,
		PaymentDate:     o.PaymentDate,
	}
}

func NewOrders(orders []*model.Order) []*Order {
	out := make([]*Order, len(orders))
	for i, o := range orders {
		out[i] = NewOrder(o)
	}
	return out
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Limit   int    `json:"limit,omitempty"`
	Current int64  `json:"current,omitempty"`
}
