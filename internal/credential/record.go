// Package credential defines the two plaintext shapes a credential record
// can take and the helpers that read billing data out of a field bundle.
package credential

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"checkout-ledger/internal/model"
)

type Kind string

const (
	KindBare   Kind = "bare"
	KindBundle Kind = "bundle"
)

// BundleMarker is the first byte of an encoded bundle. Legacy rows without a
// kind are classified by it.
const BundleMarker = '{'

var ErrInvalidBundle = errors.New("invalid credential bundle")

// BareSecret is an account login: the username slot holds the account
// email and the imap slot an optional mailbox secret.
type BareSecret struct {
	Username string `json:"username"`
	Password string `json:"password"`
	IMAP     string `json:"imap,omitempty"`
}

// FieldBundle carries every submitted form field: email, card data,
// addresses and account credentials.
type FieldBundle map[string]string

// Sniff classifies a decrypted password slot on rows that predate the kind
// column.
func Sniff(plaintext string) Kind {
	if strings.HasPrefix(strings.TrimSpace(plaintext), string(BundleMarker)) {
		return KindBundle
	}
	return KindBare
}

// Encode returns the canonical form: a JSON object with sorted keys and
// empty values dropped.
func (b FieldBundle) Encode() (string, error) {
	clean := make(map[string]string, len(b))
	for k, v := range b {
		k = strings.TrimSpace(k)
		if k == "" || v == "" {
			continue
		}
		clean[k] = v
	}
	if len(clean) == 0 {
		return "", fmt.Errorf("%w: no fields", ErrInvalidBundle)
	}

	data, err := json.Marshal(clean)
	if err != nil {
		return "", fmt.Errorf("encode bundle: %w", err)
	}
	return string(data), nil
}

// DecodeBundle parses an encoded bundle. Non-string JSON values written by
// older clients are kept as their raw JSON text.
func DecodeBundle(encoded string) (FieldBundle, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(encoded), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}

	bundle := make(FieldBundle, len(raw))
	for k, v := range raw {
		v = bytes.TrimSpace(v)
		if bytes.Equal(v, []byte("null")) {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			bundle[k] = s
			continue
		}
		bundle[k] = string(v)
	}
	return bundle, nil
}

// Get returns the first non-empty value among keys.
func (b FieldBundle) Get(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(b[k]); v != "" {
			return v
		}
	}
	return ""
}

var (
	emailKeys   = []string{"email", "account_email"}
	accountKeys = []string{"account_email", "email"}
	imapKeys    = []string{"imap_password", "imap", "imap_secret"}
)

// Emails returns the bundle's candidate identity emails in match order.
func (b FieldBundle) Emails() []string {
	var out []string
	for _, k := range emailKeys {
		if v := strings.TrimSpace(b[k]); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// IdentityEmail is the email stored in the username slot of a bundled
// record: the account login for login_required services, otherwise the
// checkout email.
func (b FieldBundle) IdentityEmail(serviceType string) string {
	if serviceType == model.ServiceTypeLoginRequired {
		return b.Get(accountKeys...)
	}
	return b.Get(emailKeys...)
}

func (b FieldBundle) IMAPSecret() string {
	return b.Get(imapKeys...)
}

// Masked returns a copy safe for admin views: card number reduced to its
// last four digits and verification codes and passwords hidden.
func (b FieldBundle) Masked() FieldBundle {
	out := make(FieldBundle, len(b))
	for k, v := range b {
		switch k {
		case "card_number", "cardNumber":
			out[k] = MaskCardNumber(v)
		case "cvv", "cvc", "card_cvv", "password", "account_password", "imap_password", "imap", "imap_secret":
			out[k] = "••••"
		default:
			out[k] = v
		}
	}
	return out
}

// PaymentSnapshot pulls the card, billing and shipping fields out of the
// bundle. Only the last four card digits are kept.
func (b FieldBundle) PaymentSnapshot(now time.Time) model.PaymentSnapshot {
	return model.PaymentSnapshot{
		CardHolder:   b.Get("card_holder", "cardholder_name", "card_name"),
		CardLast4:    Last4(b.Get("card_number", "cardNumber")),
		CardExpMonth: b.Get("card_exp_month", "exp_month"),
		CardExpYear:  b.Get("card_exp_year", "exp_year"),
		BillingAddress: model.Address{
			Name:    b.Get("billing_name", "full_name", "name"),
			Line1:   b.Get("billing_address", "billing_address1", "address"),
			Line2:   b.Get("billing_address2"),
			City:    b.Get("billing_city", "city"),
			State:   b.Get("billing_state", "state"),
			Zip:     b.Get("billing_zip", "zip"),
			Country: b.Get("billing_country", "country"),
		},
		ShippingAddress: model.Address{
			Name:    b.Get("shipping_name", "full_name", "name"),
			Line1:   b.Get("shipping_address", "shipping_address1", "address"),
			Line2:   b.Get("shipping_address2"),
			City:    b.Get("shipping_city", "city"),
			State:   b.Get("shipping_state", "state"),
			Zip:     b.Get("shipping_zip", "zip"),
			Country: b.Get("shipping_country", "country"),
		},
		Phone:     b.Get("phone", "phone_number"),
		UpdatedAt: now,
	}
}

// HasPaymentFields reports whether the bundle carries anything worth
// snapshotting.
func (b FieldBundle) HasPaymentFields() bool {
	return b.Get("card_number", "cardNumber", "billing_address", "shipping_address", "address") != ""
}
