package realtime

import (
	"context"
	"errors"

	"github.com/diwise/smarthome-monitor/internal/pkg/infrastructure/logging"
	"github.com/diwise/smarthome-monitor/internal/pkg/infrastructure/metrics"
	"github.com/diwise/smarthome-monitor/pkg/types"
)

//go:generate moq -rm -out broadcaster_mock.go . Broadcaster

// Broadcaster pushes named events to the connections selected by a scope.
// Delivery is best effort and Publish never waits for a slow connection.
type Broadcaster interface {
	Publish(ctx context.Context, scope Scope, event types.Event) error
}

// Sink receives every event after it has been handed to the connections.
// Sinks that may block should be wrapped with NewQueuedSink.
type Sink interface {
	Publish(ctx context.Context, scope Scope, event types.Event) error
}

type broadcaster struct {
	registry Registry
	sinks    []Sink
}

func NewBroadcaster(registry Registry, sinks ...Sink) Broadcaster {
	return &broadcaster{
		registry: registry,
		sinks:    sinks,
	}
}

// Publish returns an error only if the event fails validation.
func (b *broadcaster) Publish(ctx context.Context, scope Scope, event types.Event) error {
	payload, err := types.Encode(event)
	if err != nil {
		return err
	}

	name := event.EventName()
	logger := logging.GetLoggerFromContext(ctx).With().Str("event", name).Str("scope", scope.String()).Logger()

	for _, t := range b.registry.Targets(name, scope) {
		if err := t.Listener(ctx, name, payload); err != nil {
			metrics.EventsDropped.WithLabelValues(name).Inc()
			if errors.Is(err, ErrUnavailable) {
				logger.Warn().Str("connection", t.ConnID).Msg("connection unavailable, event dropped")
			} else {
				logger.Error().Err(err).Str("connection", t.ConnID).Msg("listener failed")
			}
			continue
		}
		metrics.EventsPublished.WithLabelValues(name).Inc()
	}

	for _, s := range b.sinks {
		if err := s.Publish(ctx, scope, event); err != nil {
			if errors.Is(err, ErrUnavailable) {
				metrics.EventsDropped.WithLabelValues(name).Inc()
				logger.Warn().Err(err).Msg("sink unavailable, event dropped")
			} else {
				logger.Error().Err(err).Msg("failed to forward event")
			}
		}
	}

	return nil
}
