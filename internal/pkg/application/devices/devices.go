package devices

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"

	"github.com/diwise/smarthome-monitor/internal/pkg/application/realtime"
	"github.com/diwise/smarthome-monitor/internal/pkg/infrastructure/logging"
	"github.com/diwise/smarthome-monitor/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/smarthome-monitor/internal/pkg/infrastructure/tracing"
	"github.com/diwise/smarthome-monitor/pkg/types"
)

var ErrDeviceNotFound = fmt.Errorf("device not found")
var ErrInvalidDevice = fmt.Errorf("invalid device")
var ErrInvalidCommand = fmt.Errorf("invalid command")

var tracer = otel.Tracer("smarthome-monitor/devices")

//go:generate moq -rm -out devices_mock.go . DeviceService

type DeviceService interface {
	List(ctx context.Context, ownerID string) ([]types.Device, error)
	Get(ctx context.Context, ownerID string, deviceID uint) (types.Device, error)
	Create(ctx context.Context, ownerID string, device types.Device) (types.Device, error)
	Update(ctx context.Context, ownerID string, deviceID uint, device types.Device) (types.Device, error)
	Delete(ctx context.Context, ownerID string, deviceID uint) error
	Toggle(ctx context.Context, ownerID string, deviceID uint) (types.Device, error)
	SetOnline(ctx context.Context, deviceID uint, online bool) error

	ControlLight(ctx context.Context, ownerID string, deviceID uint, cmd types.DeviceCommand) (string, error)
	ControlThermostat(ctx context.Context, ownerID string, deviceID uint, cmd types.ThermostatCommand) (string, error)
	ControlDoor(ctx context.Context, ownerID string, deviceID uint, cmd types.DeviceCommand) (string, error)

	RaiseSecurityAlert(ctx context.Context, location, details string) error
}

type DeviceStorage interface {
	GetDevicesByOwner(ctx context.Context, ownerID string) ([]types.Device, error)
	GetDeviceByID(ctx context.Context, deviceID uint) (types.Device, error)
	GetOwnedDevice(ctx context.Context, ownerID string, deviceID uint) (types.Device, error)
	AddDevice(ctx context.Context, device types.Device) (types.Device, error)
	UpdateDevice(ctx context.Context, ownerID string, deviceID uint, update func(*types.Device) error) (types.Device, error)
	DeleteDevice(ctx context.Context, ownerID string, deviceID uint) error
}

type deviceService struct {
	storage     DeviceStorage
	broadcaster realtime.Broadcaster
	validate    *validator.Validate
}

func New(storage DeviceStorage, broadcaster realtime.Broadcaster) DeviceService {
	return &deviceService{
		storage:     storage,
		broadcaster: broadcaster,
		validate:    validator.New(),
	}
}

func (s *deviceService) List(ctx context.Context, ownerID string) ([]types.Device, error) {
	return s.storage.GetDevicesByOwner(ctx, ownerID)
}

func (s *deviceService) Get(ctx context.Context, ownerID string, deviceID uint) (types.Device, error) {
	d, err := s.storage.GetOwnedDevice(ctx, ownerID, deviceID)
	return d, notFound(err)
}

func (s *deviceService) Create(ctx context.Context, ownerID string, device types.Device) (types.Device, error) {
	var err error
	ctx, span := tracer.Start(ctx, "create-device")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	if err = s.validate.Struct(device); err != nil {
		err = fmt.Errorf("%w: %s", ErrInvalidDevice, err.Error())
		return types.Device{}, err
	}

	device.ID = 0
	device.OwnerID = ownerID
	device.AddedAt = types.NewTimestamp(time.Now())

	created, err := s.storage.AddDevice(ctx, device)
	if err != nil {
		return types.Device{}, err
	}

	logger := logging.GetLoggerFromContext(ctx)

	logger.Info().Uint("deviceID", created.ID).Str("type", created.Type).Msg("device created")

	return created, nil
}

// Update replaces the mutable properties of a device. Type and owner are fixed
// once the device exists.
func (s *deviceService) Update(ctx context.Context, ownerID string, deviceID uint, device types.Device) (types.Device, error) {
	var err error
	ctx, span := tracer.Start(ctx, "update-device")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	var wasOnline bool

	updated, err := s.storage.UpdateDevice(ctx, ownerID, deviceID, func(d *types.Device) error {
		wasOnline = d.Online

		d.Name = device.Name
		d.Location = device.Location
		d.IPAddress = device.IPAddress
		d.APIKey = device.APIKey
		d.Online = device.Online

		if verr := s.validate.Struct(d); verr != nil {
			return fmt.Errorf("%w: %s", ErrInvalidDevice, verr.Error())
		}
		return nil
	})
	if err != nil {
		err = notFound(err)
		return types.Device{}, err
	}

	if wasOnline != updated.Online {
		s.publishStatus(ctx, updated)
	}

	return updated, nil
}

func (s *deviceService) Delete(ctx context.Context, ownerID string, deviceID uint) error {
	err := notFound(s.storage.DeleteDevice(ctx, ownerID, deviceID))
	if err == nil {
		logger := logging.GetLoggerFromContext(ctx)
		logger.Info().Uint("deviceID", deviceID).Msg("device deleted")
	}
	return err
}

func (s *deviceService) Toggle(ctx context.Context, ownerID string, deviceID uint) (types.Device, error) {
	var err error
	ctx, span := tracer.Start(ctx, "toggle-device")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	updated, err := s.storage.UpdateDevice(ctx, ownerID, deviceID, func(d *types.Device) error {
		d.Online = !d.Online
		return nil
	})
	if err != nil {
		err = notFound(err)
		return types.Device{}, err
	}

	s.publishStatus(ctx, updated)

	return updated, nil
}

// SetOnline updates the online flag of a device reported by an external
// source and notifies the owner if the flag changed.
func (s *deviceService) SetOnline(ctx context.Context, deviceID uint, online bool) error {
	device, err := s.storage.GetDeviceByID(ctx, deviceID)
	if err != nil {
		return notFound(err)
	}

	if device.Online == online {
		return nil
	}

	updated, err := s.storage.UpdateDevice(ctx, device.OwnerID, deviceID, func(d *types.Device) error {
		d.Online = online
		return nil
	})
	if err != nil {
		return notFound(err)
	}

	s.publishStatus(ctx, updated)

	return nil
}

func (s *deviceService) ControlLight(ctx context.Context, ownerID string, deviceID uint, cmd types.DeviceCommand) (string, error) {
	device, err := s.deviceOfType(ctx, ownerID, deviceID, "light")
	if err != nil {
		return "", err
	}

	command := strings.ToLower(cmd.Command)
	if command != "on" && command != "off" {
		return "", fmt.Errorf("%w: %q, use 'on' or 'off'", ErrInvalidCommand, cmd.Command)
	}

	logger := logging.GetLoggerFromContext(ctx)

	logger.Info().Uint("deviceID", device.ID).Str("command", command).Msg("light command sent")

	return fmt.Sprintf("Command '%s' sent to light %s", command, device.Name), nil
}

func (s *deviceService) ControlThermostat(ctx context.Context, ownerID string, deviceID uint, cmd types.ThermostatCommand) (string, error) {
	if err := s.validate.Struct(cmd); err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidCommand, err.Error())
	}

	device, err := s.deviceOfType(ctx, ownerID, deviceID, "thermostat")
	if err != nil {
		return "", err
	}

	logger := logging.GetLoggerFromContext(ctx)

	logger.Info().
		Uint("deviceID", device.ID).
		Int("temperature", cmd.Temperature).
		Str("mode", cmd.Mode).
		Msg("thermostat command sent")

	return fmt.Sprintf("Thermostat %s set to %d°C in %s mode", device.Name, cmd.Temperature, cmd.Mode), nil
}

func (s *deviceService) ControlDoor(ctx context.Context, ownerID string, deviceID uint, cmd types.DeviceCommand) (string, error) {
	device, err := s.deviceOfType(ctx, ownerID, deviceID, "door")
	if err != nil {
		return "", err
	}

	command := strings.ToLower(cmd.Command)
	if command != "lock" && command != "unlock" {
		return "", fmt.Errorf("%w: %q, use 'lock' or 'unlock'", ErrInvalidCommand, cmd.Command)
	}

	logger := logging.GetLoggerFromContext(ctx)

	logger.Info().Uint("deviceID", device.ID).Str("command", command).Msg("door command sent")

	if command == "unlock" {
		err := s.securityAlert(ctx, realtime.User(ownerID), device.Location, fmt.Sprintf("%s was unlocked", device.Name))
		if err != nil {
			logger := logging.GetLoggerFromContext(ctx)
			logger.Error().Err(err).Msg("failed to raise security alert")
		}
	}

	return fmt.Sprintf("Door %s %sed", device.Name, command), nil
}

// RaiseSecurityAlert notifies every connected user.
func (s *deviceService) RaiseSecurityAlert(ctx context.Context, location, details string) error {
	return s.securityAlert(ctx, realtime.All, location, details)
}

func (s *deviceService) securityAlert(ctx context.Context, scope realtime.Scope, location, details string) error {
	return s.broadcaster.Publish(ctx, scope, &types.SecurityAlert{
		Location:  location,
		Details:   details,
		Timestamp: types.NewTimestamp(time.Now()),
	})
}

func (s *deviceService) deviceOfType(ctx context.Context, ownerID string, deviceID uint, deviceType string) (types.Device, error) {
	device, err := s.storage.GetOwnedDevice(ctx, ownerID, deviceID)
	if err != nil {
		return types.Device{}, notFound(err)
	}

	if !strings.EqualFold(device.Type, deviceType) {
		return types.Device{}, fmt.Errorf("%w: %s device %d", ErrDeviceNotFound, deviceType, deviceID)
	}

	return device, nil
}

func (s *deviceService) publishStatus(ctx context.Context, d types.Device) {
	err := s.broadcaster.Publish(ctx, realtime.User(d.OwnerID), types.NewDeviceStatusChanged(d))
	if err != nil {
		logger := logging.GetLoggerFromContext(ctx)
		logger.Error().Err(err).Uint("deviceID", d.ID).Msg("failed to publish device status")
	}
}

func notFound(err error) error {
	if errors.Is(err, database.ErrNotFound) {
		return ErrDeviceNotFound
	}
	return err
}
