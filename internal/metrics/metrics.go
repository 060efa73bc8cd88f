// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_orders_ingested_total",
		Help: "Checkout events turned into orders, by whether a subscription matched.",
	}, []string{"matched"})

	OrderTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_order_transitions_total",
		Help: "Order status changes applied from payment events.",
	}, []string{"status"})

	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_webhook_events_total",
		Help: "Payment gateway webhook events by type and outcome.",
	}, []string{"type", "outcome"})

	CorruptedCredentials = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_corrupted_credentials_total",
		Help: "Credential records that failed to decrypt or decode.",
	})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_notifications_total",
		Help: "Admin notifications by outcome (delivered, failed, dropped).",
	}, []string{"outcome"})
)
