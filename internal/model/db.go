package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type User struct {
	ID               uint   `gorm:"primaryKey"`
	DiscordID        string `gorm:"size:32;uniqueIndex;not null"`
	Username         string `gorm:"size:100"`
	Email            string `gorm:"size:255"`
	StripeCustomerID string `gorm:"size:64;index"`
	Tier             string `gorm:"size:16;not null;default:free"` // free, premium
	TierStatus       string `gorm:"size:16"`                       // active, cancelled

	// informational copy of the latest submitted billing data, never read back
	// as an order's source of truth
	PaymentSnapshot datatypes.JSONType[PaymentSnapshot]

	Subscriptions  []Subscription  `gorm:"constraint:OnDelete:CASCADE;"`
	SubmissionLogs []SubmissionLog `gorm:"constraint:OnDelete:CASCADE;"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

type PaymentSnapshot struct {
	CardHolder      string    `json:"card_holder,omitempty"`
	CardLast4       string    `json:"card_last4,omitempty"`
	CardExpMonth    string    `json:"card_exp_month,omitempty"`
	CardExpYear     string    `json:"card_exp_year,omitempty"`
	BillingAddress  Address   `json:"billing_address"`
	ShippingAddress Address   `json:"shipping_address"`
	Phone           string    `json:"phone,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type Address struct {
	Name    string `json:"name,omitempty"`
	Line1   string `json:"line1,omitempty"`
	Line2   string `json:"line2,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	Zip     string `json:"zip,omitempty"`
	Country string `json:"country,omitempty"`
}

// Subscription is a user's enrollment in one retailer/service. The table is
// named service_subscriptions; submissions in the HTTP API are these rows.
type Subscription struct {
	ID          uint   `gorm:"primaryKey"`
	UserID      uint   `gorm:"index;not null"`
	ServiceName string `gorm:"size:64;index;not null"`
	ServiceType string `gorm:"size:32;not null"` // login_required, no_login
	Status      string `gorm:"size:16;not null"` // active, inactive
	Notes       string `gorm:"type:text"`
	AddedToBot  bool   `gorm:"not null"`

	Credential *CredentialRecord `gorm:"constraint:OnDelete:CASCADE;"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Subscription) TableName() string { return "service_subscriptions" }

type CredentialRecord struct {
	ID             uint   `gorm:"primaryKey"`
	SubscriptionID uint   `gorm:"uniqueIndex;not null"`
	Kind           string `gorm:"size:16"` // bare, bundle; empty on legacy rows

	EncryptedUsername *string `gorm:"type:text"`
	EncryptedPassword *string `gorm:"type:text"`
	EncryptedIMAP     *string `gorm:"column:encrypted_imap;type:text"`

	// keyed hash of the lowercased identity email
	EmailDigest *string `gorm:"size:64;index"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

type Order struct {
	ID uint `gorm:"primaryKey"`

	SubmissionID *uint         `gorm:"index"`
	Subscription *Subscription `gorm:"foreignKey:SubmissionID;constraint:OnDelete:SET NULL;"`
	UserID       *uint         `gorm:"index"`
	User         *User         `gorm:"constraint:OnDelete:SET NULL;"`

	Bot         string `gorm:"size:64"`
	Retailer    string `gorm:"size:64;index;not null"`
	ProductName string `gorm:"size:255"`
	OrderNumber string `gorm:"size:128;index"`
	Email       string `gorm:"size:255"`
	Profile     string `gorm:"size:128"`
	Quantity    int    `gorm:"not null"`

	UnitPrice     decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	OrderTotal    decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	FeeAmount     decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	FeePercentage decimal.Decimal `gorm:"type:decimal(5,2);not null"`

	Status          string  `gorm:"size:32;index;not null"` // pending_review, paid, payment_failed
	StripeInvoiceID *string `gorm:"size:64;uniqueIndex"`

	OrderDate   time.Time
	PaymentDate *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

type WebhookEvent struct {
	EventID     string `gorm:"primaryKey;size:128;not null"`
	EventType   string `gorm:"size:64;index"`
	ProcessedAt time.Time
	CreatedAt   time.Time
}

type Setting struct {
	Key       string `gorm:"primaryKey;size:64;not null"`
	Value     string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

type SubmissionLog struct {
	ID             uint   `gorm:"primaryKey"`
	UserID         uint   `gorm:"index;not null"`
	SubscriptionID uint   `gorm:"index;not null"`
	ServiceName    string `gorm:"size:64"`
	Action         string `gorm:"size:16;not null"` // created, updated, deleted
	CreatedAt      time.Time
}

// All lists every table in migration order.
func All() []interface{} {
	return []interface{}{
		&User{},
		&Subscription{},
		&CredentialRecord{},
		&Order{},
		&WebhookEvent{},
		&Setting{},
		&SubmissionLog{},
	}
}
