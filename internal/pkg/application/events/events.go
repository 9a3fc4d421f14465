package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"golang.org/x/sys/unix"

	"github.com/diwise/smarthome-monitor/internal/pkg/application/realtime"
	"github.com/diwise/smarthome-monitor/internal/pkg/infrastructure/logging"
	"github.com/diwise/smarthome-monitor/pkg/types"
)

// AlertEventType is the CloudEvents type used when forwarding raised alerts.
const AlertEventType string = "smarthome.alert"

// SendTimeout bounds the delivery to one subscriber.
const SendTimeout = 10 * time.Second

type alertForwarder struct {
	subscribers []SubscriberConfig
	client      cloudevents.Client
	timeout     time.Duration
}

// NewAlertForwarder returns a sink that posts alert-raised events as
// CloudEvents to every subscriber configured for AlertEventType. It returns
// nil if there are no such subscribers.
func NewAlertForwarder(cfg *Config) (realtime.Sink, error) {
	if cfg == nil {
		return nil, nil
	}

	subscribers := []SubscriberConfig{}
	for _, n := range cfg.Notifications {
		if n.Type == AlertEventType {
			subscribers = append(subscribers, n.Subscribers...)
		}
	}

	if len(subscribers) == 0 {
		return nil, nil
	}

	c, err := cloudevents.NewClientHTTP()
	if err != nil {
		return nil, err
	}

	return &alertForwarder{
		subscribers: subscribers,
		client:      c,
		timeout:     SendTimeout,
	}, nil
}

func (f *alertForwarder) Publish(ctx context.Context, scope realtime.Scope, e types.Event) error {
	alert, ok := e.(*types.AlertRaised)
	if !ok {
		return nil
	}

	event := cloudevents.NewEvent()
	event.SetID(fmt.Sprintf("%s:%d", alert.DeviceName, alert.Timestamp.UnixNano()))
	event.SetTime(alert.Timestamp.Time)
	event.SetSource("github.com/diwise/smarthome-monitor")
	event.SetType(AlertEventType)

	if !scope.IsAll() {
		event.SetExtension("owner", scope.Identity())
	}

	err := event.SetData(cloudevents.ApplicationJSON, alert)
	if err != nil {
		return err
	}

	logger := logging.GetLoggerFromContext(ctx)

	for _, s := range f.subscribers {
		ctxWithTimeout, cancel := context.WithTimeout(ctx, f.timeout)
		ctxWithTarget := cloudevents.ContextWithTarget(ctxWithTimeout, s.Endpoint)

		result := f.client.Send(ctxWithTarget, event)
		cancel()

		if cloudevents.IsUndelivered(result) || errors.Is(result, unix.ECONNREFUSED) {
			logger.Error().Err(result).Msgf("failed to send event to %s", s.Endpoint)
			err = fmt.Errorf("%w", result)
		}
	}

	return err
}

type SubscriberConfig struct {
	Endpoint string `yaml:"endpoint"`
}

type Notification struct {
	ID          string             `yaml:"id"`
	Name        string             `yaml:"name"`
	Type        string             `yaml:"type"`
	Subscribers []SubscriberConfig `yaml:"subscribers"`
}

type Config struct {
	Notifications []Notification `yaml:"notifications"`
}
