package service

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFoundOrForbidden covers both a missing id and an id owned by
	// someone else, so callers cannot probe for existence.
	ErrNotFoundOrForbidden = errors.New("not found")

	ErrUnknownService        = errors.New("unknown service")
	ErrInvalidServiceType    = errors.New("invalid service type")
	ErrInvalidStatus         = errors.New("invalid status")
	ErrInvalidSubmission     = errors.New("invalid submission")
	ErrInvalidEvent          = errors.New("invalid checkout event")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrOrderNotFound         = errors.New("order not found")
	ErrOrderNotReviewable    = errors.New("order is not pending review")
	ErrOrderUnlinked         = errors.New("order has no linked user")
	ErrNoBillingCustomer     = errors.New("user has no billing customer")
	ErrUserNotFound          = errors.New("user not found")
	ErrSignatureVerification = errors.New("webhook signature verification failed")
)

// LimitExceededError is returned when a user already holds the maximum
// number of subscriptions for a service.
type LimitExceededError struct {
	ServiceName string
	Limit       int
	Current     int64
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("submission limit reached for %s: %d of %d used", e.ServiceName, e.Current, e.Limit)
}
