package readings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"

	"github.com/diwise/smarthome-monitor/internal/pkg/application/realtime"
	"github.com/diwise/smarthome-monitor/internal/pkg/infrastructure/logging"
	"github.com/diwise/smarthome-monitor/internal/pkg/infrastructure/metrics"
	"github.com/diwise/smarthome-monitor/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/smarthome-monitor/internal/pkg/infrastructure/tracing"
	"github.com/diwise/smarthome-monitor/pkg/types"
)

var ErrDeviceNotFound = fmt.Errorf("device not found")
var ErrNoReadings = fmt.Errorf("no sensor data available")
var ErrInvalidReading = fmt.Errorf("invalid sensor reading")
var ErrInvalidRange = fmt.Errorf("invalid time range")

const (
	RecentLimit int = 100
	DeviceLimit int = 50
	AlertLimit  int = 20
)

var tracer = otel.Tracer("smarthome-monitor/readings")

//go:generate moq -rm -out readings_mock.go . ReadingService

type ReadingService interface {
	Submit(ctx context.Context, ownerID string, reading types.SensorReading) (types.SensorReading, error)
	Simulate(ctx context.Context, ownerID string) ([]types.SensorReading, error)

	Recent(ctx context.Context, ownerID string) ([]types.SensorReading, error)
	ForDevice(ctx context.Context, ownerID string, deviceID uint) ([]types.SensorReading, error)
	Latest(ctx context.Context, ownerID string, deviceID uint) (types.SensorReading, error)
	History(ctx context.Context, ownerID string, deviceID uint, start, end *time.Time) ([]types.SensorReading, error)
	Alerts(ctx context.Context, ownerID string) ([]types.SensorReading, error)
}

// ReadingStorage is the part of the store used by the reading service.
type ReadingStorage interface {
	GetDevicesByOwner(ctx context.Context, ownerID string) ([]types.Device, error)
	GetOwnedDevice(ctx context.Context, ownerID string, deviceID uint) (types.Device, error)
	AddDevices(ctx context.Context, devices []types.Device) ([]types.Device, error)
	AddReading(ctx context.Context, reading types.SensorReading) (types.SensorReading, error)
	AddReadings(ctx context.Context, readings []types.SensorReading) ([]types.SensorReading, error)
	QueryReadings(ctx context.Context, conditions ...database.ConditionFunc) ([]types.SensorReading, error)
}

// StarterDevices are created for an owner without devices the first time a
// simulation is requested.
var StarterDevices = []types.Device{
	{Name: "Living Room Light", Type: "Light", Location: "Living Room", IPAddress: "192.168.1.100", APIKey: "light-api-key-123", Online: true},
	{Name: "Kitchen Thermostat", Type: "Thermostat", Location: "Kitchen", IPAddress: "192.168.1.101", APIKey: "thermostat-api-key-456", Online: true},
	{Name: "Front Door", Type: "Door", Location: "Entrance", IPAddress: "192.168.1.102", APIKey: "door-api-key-789", Online: true},
}

type readingService struct {
	storage     ReadingStorage
	generator   Generator
	broadcaster realtime.Broadcaster
	validate    *validator.Validate
	now         func() time.Time
}

func New(storage ReadingStorage, generator Generator, broadcaster realtime.Broadcaster) ReadingService {
	return &readingService{
		storage:     storage,
		generator:   generator,
		broadcaster: broadcaster,
		validate:    validator.New(),
		now:         time.Now,
	}
}

func (s *readingService) Submit(ctx context.Context, ownerID string, reading types.SensorReading) (types.SensorReading, error) {
	var err error
	ctx, span := tracer.Start(ctx, "submit-reading")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	if err = s.validate.Struct(reading); err != nil {
		err = fmt.Errorf("%w: %s", ErrInvalidReading, err.Error())
		return types.SensorReading{}, err
	}

	device, err := s.ownedDevice(ctx, ownerID, reading.DeviceID)
	if err != nil {
		return types.SensorReading{}, err
	}

	if reading.Timestamp.IsZero() {
		reading.Timestamp = types.NewTimestamp(s.now())
	}

	saved, err := s.storage.AddReading(ctx, reading)
	if err != nil {
		return types.SensorReading{}, err
	}

	metrics.ReadingsPersisted.WithLabelValues("submit").Inc()
	saved.DeviceName = device.Name

	s.publish(ctx, ownerID, device, saved)

	return saved, nil
}

func (s *readingService) Simulate(ctx context.Context, ownerID string) ([]types.SensorReading, error) {
	var err error
	ctx, span := tracer.Start(ctx, "simulate-readings")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	logger := logging.GetLoggerFromContext(ctx)

	devices, err := s.storage.GetDevicesByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	// Two concurrent calls for a new owner can both end up here and create
	// two starter sets.
	if len(devices) == 0 {
		starters := lo.Map(StarterDevices, func(d types.Device, _ int) types.Device {
			d.OwnerID = ownerID
			d.AddedAt = types.NewTimestamp(s.now())
			return d
		})

		devices, err = s.storage.AddDevices(ctx, starters)
		if err != nil {
			return nil, err
		}

		logger.Info().Str("owner", ownerID).Int("count", len(devices)).Msg("created starter devices")
	}

	generated := lo.Map(devices, func(d types.Device, _ int) types.SensorReading {
		return s.generator.Generate(d)
	})

	saved, err := s.storage.AddReadings(ctx, generated)
	if err != nil {
		return nil, err
	}

	metrics.ReadingsPersisted.WithLabelValues("simulate").Add(float64(len(saved)))

	for i, r := range saved {
		s.publish(ctx, ownerID, devices[i], r)
	}

	return saved, nil
}

func (s *readingService) Recent(ctx context.Context, ownerID string) ([]types.SensorReading, error) {
	return s.storage.QueryReadings(ctx, database.WithOwner(ownerID), database.WithLimit(RecentLimit))
}

func (s *readingService) ForDevice(ctx context.Context, ownerID string, deviceID uint) ([]types.SensorReading, error) {
	if _, err := s.ownedDevice(ctx, ownerID, deviceID); err != nil {
		return nil, err
	}

	return s.storage.QueryReadings(ctx, database.WithDeviceID(deviceID), database.WithLimit(DeviceLimit))
}

func (s *readingService) Latest(ctx context.Context, ownerID string, deviceID uint) (types.SensorReading, error) {
	if _, err := s.ownedDevice(ctx, ownerID, deviceID); err != nil {
		return types.SensorReading{}, err
	}

	latest, err := s.storage.QueryReadings(ctx, database.WithDeviceID(deviceID), database.WithLimit(1))
	if err != nil {
		return types.SensorReading{}, err
	}

	if len(latest) == 0 {
		return types.SensorReading{}, ErrNoReadings
	}

	return latest[0], nil
}

func (s *readingService) History(ctx context.Context, ownerID string, deviceID uint, start, end *time.Time) ([]types.SensorReading, error) {
	if start != nil && end != nil && end.Before(*start) {
		return nil, ErrInvalidRange
	}

	if _, err := s.ownedDevice(ctx, ownerID, deviceID); err != nil {
		return nil, err
	}

	conditions := []database.ConditionFunc{database.WithDeviceID(deviceID)}
	if start != nil {
		conditions = append(conditions, database.WithStart(*start))
	}
	if end != nil {
		conditions = append(conditions, database.WithEnd(*end))
	}

	return s.storage.QueryReadings(ctx, conditions...)
}

func (s *readingService) Alerts(ctx context.Context, ownerID string) ([]types.SensorReading, error) {
	return s.storage.QueryReadings(ctx, database.WithOwner(ownerID), database.WithAlertsOnly(), database.WithLimit(AlertLimit))
}

func (s *readingService) ownedDevice(ctx context.Context, ownerID string, deviceID uint) (types.Device, error) {
	device, err := s.storage.GetOwnedDevice(ctx, ownerID, deviceID)
	if errors.Is(err, database.ErrNotFound) {
		return types.Device{}, ErrDeviceNotFound
	}
	return device, err
}

// publish hands a persisted reading to the broadcaster. The write is already
// committed, so failures are only logged.
func (s *readingService) publish(ctx context.Context, ownerID string, device types.Device, r types.SensorReading) {
	logger := logging.GetLoggerFromContext(ctx)
	scope := realtime.User(ownerID)

	if err := s.broadcaster.Publish(ctx, scope, types.NewReadingUpdated(device.Name, r)); err != nil {
		logger.Error().Err(err).Uint("deviceID", r.DeviceID).Msg("failed to publish reading")
	}

	if r.IsAlert {
		if err := s.broadcaster.Publish(ctx, scope, types.NewAlertRaised(device, r)); err != nil {
			logger.Error().Err(err).Uint("deviceID", r.DeviceID).Msg("failed to publish alert")
		}
	}
}
