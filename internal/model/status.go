package model

const (
	ServiceTypeLoginRequired = "login_required"
	ServiceTypeNoLogin       = "no_login"
)

const (
	SubscriptionStatusActive   = "active"
	SubscriptionStatusInactive = "inactive"
)

// Order states. paid and payment_failed are terminal.
const (
	OrderStatusPendingReview = "pending_review"
	OrderStatusPaid          = "paid"
	OrderStatusPaymentFailed = "payment_failed"
)

const (
	TierFree    = "free"
	TierPremium = "premium"

	TierStatusActive    = "active"
	TierStatusCancelled = "cancelled"
)

const (
	SubmissionActionCreated = "created"
	SubmissionActionUpdated = "updated"
	SubmissionActionDeleted = "deleted"
)
