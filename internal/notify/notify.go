// Package notify delivers admin notifications off the request path.
//
// Producers call Dispatcher.Enqueue, which never blocks: a full queue drops
// the notification and counts it. Worker goroutines hand each notification
// to a Sink with a per-attempt timeout and retry with exponential backoff.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Notification struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Message   string    `json:"message,omitempty"`
	Fields    []Field   `json:"fields,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// New stamps a notification with an id and creation time.
func New(kind, title, message string, fields ...Field) Notification {
	return Notification{
		ID:        uuid.NewString(),
		Kind:      kind,
		Title:     title,
		Message:   message,
		Fields:    fields,
		CreatedAt: time.Now().UTC(),
	}
}

type Sink interface {
	Send(ctx context.Context, n Notification) error
}

// DeliveryError is logged when a notification exhausts its attempts. It is
// never returned to the producer.
type DeliveryError struct {
	NotificationID string
	Attempts       int
	Err            error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("notification %s undelivered after %d attempts: %v", e.NotificationID, e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// FanOut sends to every sink and joins their errors.
type FanOut []Sink

func (f FanOut) Send(ctx context.Context, n Notification) error {
	var errs []error
	for _, sink := range f {
		if err := sink.Send(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

const (
	KindOrderCreated       = "order.created"
	KindOrderPaid          = "order.paid"
	KindOrderPaymentFailed = "order.payment_failed"
)
