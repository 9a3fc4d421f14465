package devices

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/diwise/messaging-golang/pkg/messaging"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// DeviceStatusTopic is the routing key for status reports from device gateways.
const DeviceStatusTopic string = "device-status"

func NewDeviceStatusHandler(svc DeviceService) messaging.TopicMessageHandler {
	return func(ctx context.Context, msg amqp.Delivery, logger zerolog.Logger) {
		status := struct {
			DeviceID  uint   `json:"deviceID"`
			Online    bool   `json:"online"`
			Timestamp string `json:"timestamp"`
		}{}

		err := json.Unmarshal(msg.Body, &status)
		if err != nil {
			logger.Error().Err(err).Msgf("failed to unmarshal message from %s", msg.RoutingKey)
			return
		}

		logger = logger.With().Uint("deviceID", status.DeviceID).Logger()

		err = svc.SetOnline(ctx, status.DeviceID, status.Online)
		if errors.Is(err, ErrDeviceNotFound) {
			logger.Warn().Msg("status received for unknown device")
			return
		}
		if err != nil {
			logger.Error().Err(err).Msg("could not update online state of device")
			return
		}

		logger.Debug().Msgf("%s handled", msg.RoutingKey)
	}
}
