package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/ride-sharing/internal/logging"
	"github.com/example/ride-sharing/internal/models"
	"github.com/example/ride-sharing/internal/observability"
)

// Notifier delivers one alert to its receiver over some channel.
type Notifier interface {
	Notify(ctx context.Context, a models.Alert) error
}

// Channel is a named Notifier; the name labels metrics and logs.
type Channel struct {
	Name     string
	Notifier Notifier
}

// Multi fans an alert out to every channel. Delivery is best effort: a
// channel failing does not stop the others, and the joined error of the
// failures is returned. A receiver without a live session is not a failure.
type Multi struct {
	Channels []Channel
	Logger   *slog.Logger
}

func NewMulti(logger *slog.Logger, channels ...Channel) *Multi {
	return &Multi{Channels: channels, Logger: logging.OrDiscard(logger)}
}

func (m *Multi) Notify(ctx context.Context, a models.Alert) error {
	var errs []error
	for _, ch := range m.Channels {
		err := ch.Notifier.Notify(ctx, a)
		switch {
		case err == nil:
			observability.AlertsDispatched.WithLabelValues(ch.Name, "ok").Inc()
		case errors.Is(err, ErrNoSession):
			observability.AlertsDispatched.WithLabelValues(ch.Name, "offline").Inc()
		default:
			observability.AlertsDispatched.WithLabelValues(ch.Name, "error").Inc()
			m.Logger.Warn("alert delivery failed",
				"channel", ch.Name,
				"alert_id", a.ID,
				"receiver_id", a.ReceiverID,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name, err))
		}
	}
	return errors.Join(errs...)
}
