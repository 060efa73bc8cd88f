package notify

import (
	"context"
	"sync"
	"time"

	"checkout-ledger/internal/metrics"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	QueueSize   int
	Workers     int
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 1
	}
	if o.Backoff <= 0 {
		o.Backoff = 500 * time.Millisecond
	}
	return o
}

type Dispatcher struct {
	sink  Sink
	opts  Options
	queue chan Notification

	mu      sync.RWMutex
	closed  bool
	started bool

	group  *errgroup.Group
	cancel context.CancelFunc
}

func NewDispatcher(sink Sink, opts Options) *Dispatcher {
	opts = opts.withDefaults()
	return &Dispatcher{
		sink:  sink,
		opts:  opts,
		queue: make(chan Notification, opts.QueueSize),
	}
}

// Start launches the workers. They run until Close or until ctx ends.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true

	ctx, d.cancel = context.WithCancel(ctx)
	d.group, ctx = errgroup.WithContext(ctx)
	for i := 0; i < d.opts.Workers; i++ {
		d.group.Go(func() error {
			d.work(ctx)
			return nil
		})
	}
}

// Enqueue queues n for delivery and reports whether it was accepted. It
// never blocks.
func (d *Dispatcher) Enqueue(n Notification) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		metrics.Notifications.WithLabelValues("dropped").Inc()
		log.Warn().Str("notification_id", n.ID).Msg("notification dropped: dispatcher closed")
		return false
	}

	select {
	case d.queue <- n:
		return true
	default:
		metrics.Notifications.WithLabelValues("dropped").Inc()
		log.Warn().Str("notification_id", n.ID).Str("kind", n.Kind).Msg("notification dropped: queue full")
		return false
	}
}

// Close stops intake and waits for queued notifications to drain. If ctx
// ends first the workers are cancelled and ctx.Err() is returned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		_ = d.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-d.queue:
			if !ok {
				return
			}
			d.deliver(ctx, n)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n Notification) {
	var err error
	attempt := 0
retry:
	for attempt < d.opts.MaxAttempts {
		attempt++

		sendCtx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
		err = d.sink.Send(sendCtx, n)
		cancel()
		if err == nil {
			metrics.Notifications.WithLabelValues("delivered").Inc()
			return
		}
		if attempt == d.opts.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			err = ctx.Err()
			break retry
		case <-time.After(d.opts.Backoff << (attempt - 1)):
		}
	}

	metrics.Notifications.WithLabelValues("failed").Inc()
	log.Error().
		Err(&DeliveryError{NotificationID: n.ID, Attempts: attempt, Err: err}).
		Str("kind", n.Kind).
		Msg("admin notification failed")
}
