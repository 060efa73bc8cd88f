package notify

import (
	"context"

	"github.com/rs/zerolog/log"
)

// LogSink writes notifications to the process log. It is the fallback when
// no delivery channel is configured.
type LogSink struct{}

func (LogSink) Send(_ context.Context, n Notification) error {
	event := log.Info().
		Str("notification_id", n.ID).
		Str("kind", n.Kind)
	for _, f := range n.Fields {
		event = event.Str(f.Name, f.Value)
	}
	event.Msg(n.Title)
	return nil
}
