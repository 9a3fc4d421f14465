package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"gorm.io/gorm"

	"github.com/diwise/smarthome-monitor/pkg/types"
)

var ErrNotFound = fmt.Errorf("record not found")
var ErrConflict = fmt.Errorf("record was modified concurrently")
var ErrAlreadyExists = fmt.Errorf("record already exists")

//go:generate moq -rm -out store_mock.go . Store

type Store interface {
	UserRepository
	DeviceRepository
	ReadingRepository
}

type UserRepository interface {
	AddUser(ctx context.Context, user types.User) (types.User, error)
	GetUserByUsername(ctx context.Context, username string) (types.User, error)
}

type DeviceRepository interface {
	GetDevices(ctx context.Context) ([]types.Device, error)
	GetDevicesByOwner(ctx context.Context, ownerID string) ([]types.Device, error)
	GetDeviceByID(ctx context.Context, deviceID uint) (types.Device, error)
	GetOwnedDevice(ctx context.Context, ownerID string, deviceID uint) (types.Device, error)
	AddDevice(ctx context.Context, device types.Device) (types.Device, error)
	AddDevices(ctx context.Context, devices []types.Device) ([]types.Device, error)
	UpdateDevice(ctx context.Context, ownerID string, deviceID uint, update func(*types.Device) error) (types.Device, error)
	DeleteDevice(ctx context.Context, ownerID string, deviceID uint) error
}

type ReadingRepository interface {
	AddReading(ctx context.Context, reading types.SensorReading) (types.SensorReading, error)
	AddReadings(ctx context.Context, readings []types.SensorReading) ([]types.SensorReading, error)
	QueryReadings(ctx context.Context, conditions ...ConditionFunc) ([]types.SensorReading, error)
}

type store struct {
	db *gorm.DB
}

func New(connect ConnectorFunc) (Store, error) {
	db, err := connect()
	if err != nil {
		return nil, err
	}

	err = db.AutoMigrate(&User{}, &Device{}, &SensorReading{})
	if err != nil {
		return nil, fmt.Errorf("failed to migrate database schema: %w", err)
	}

	return &store{db: db}, nil
}

func (s *store) AddUser(ctx context.Context, user types.User) (types.User, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&User{}).
		Where("username = ? OR email = ?", user.Username, user.Email).
		Count(&count).Error
	if err != nil {
		return types.User{}, err
	}

	if count > 0 {
		return types.User{}, ErrAlreadyExists
	}

	if user.CreatedAt.IsZero() {
		user.CreatedAt = types.NewTimestamp(time.Now())
	}

	row := fromUser(user)
	if err = s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return types.User{}, err
	}

	return row.toUser(), nil
}

func (s *store) GetUserByUsername(ctx context.Context, username string) (types.User, error) {
	row := User{}
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&row).Error
	if err != nil {
		return types.User{}, notFoundOr(err)
	}

	return row.toUser(), nil
}

func (s *store) GetDevices(ctx context.Context) ([]types.Device, error) {
	rows := []Device{}
	err := s.db.WithContext(ctx).Order("id").Find(&rows).Error
	if err != nil {
		return nil, err
	}

	return toDevices(rows), nil
}

func (s *store) GetDevicesByOwner(ctx context.Context, ownerID string) ([]types.Device, error) {
	rows := []Device{}
	err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("id").Find(&rows).Error
	if err != nil {
		return nil, err
	}

	return toDevices(rows), nil
}

func (s *store) GetDeviceByID(ctx context.Context, deviceID uint) (types.Device, error) {
	row := Device{}
	err := s.db.WithContext(ctx).Where("id = ?", deviceID).First(&row).Error
	if err != nil {
		return types.Device{}, notFoundOr(err)
	}

	return row.toDevice(), nil
}

func (s *store) GetOwnedDevice(ctx context.Context, ownerID string, deviceID uint) (types.Device, error) {
	row := Device{}
	err := s.db.WithContext(ctx).Where("id = ? AND owner_id = ?", deviceID, ownerID).First(&row).Error
	if err != nil {
		return types.Device{}, notFoundOr(err)
	}

	return row.toDevice(), nil
}

func (s *store) AddDevice(ctx context.Context, device types.Device) (types.Device, error) {
	devices, err := s.AddDevices(ctx, []types.Device{device})
	if err != nil {
		return types.Device{}, err
	}

	return devices[0], nil
}

// AddDevices inserts all devices in a single transaction.
func (s *store) AddDevices(ctx context.Context, devices []types.Device) ([]types.Device, error) {
	if len(devices) == 0 {
		return []types.Device{}, nil
	}

	now := time.Now().UTC()

	rows := lo.Map(devices, func(d types.Device, _ int) Device {
		row := fromDevice(d)
		row.ID = 0
		if row.AddedAt.IsZero() {
			row.AddedAt = now
		}
		return row
	})

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&rows).Error
	})
	if err != nil {
		return nil, err
	}

	return toDevices(rows), nil
}

// UpdateDevice loads the owned device, applies update and writes the result
// back. A write that races with a concurrent delete is retried once.
func (s *store) UpdateDevice(ctx context.Context, ownerID string, deviceID uint, update func(*types.Device) error) (types.Device, error) {
	var updated types.Device

	err := retryOnConflict(func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			row := Device{}
			err := tx.Where("id = ? AND owner_id = ?", deviceID, ownerID).First(&row).Error
			if err != nil {
				return notFoundOr(err)
			}

			d := row.toDevice()
			if err = update(&d); err != nil {
				return err
			}

			result := tx.Model(&Device{}).
				Where("id = ? AND owner_id = ?", deviceID, ownerID).
				Updates(map[string]any{
					"name":       d.Name,
					"location":   d.Location,
					"ip_address": d.IPAddress,
					"api_key":    d.APIKey,
					"online":     d.Online,
				})
			if result.Error != nil {
				return result.Error
			}

			if result.RowsAffected == 0 {
				return ErrConflict
			}

			d.ID = row.ID
			d.OwnerID = row.OwnerID
			d.Type = row.Type
			d.AddedAt = types.NewTimestamp(row.AddedAt)
			updated = d

			return nil
		})
	})

	return updated, err
}

func (s *store) DeleteDevice(ctx context.Context, ownerID string, deviceID uint) error {
	result := s.db.WithContext(ctx).Where("id = ? AND owner_id = ?", deviceID, ownerID).Delete(&Device{})
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *store) AddReading(ctx context.Context, reading types.SensorReading) (types.SensorReading, error) {
	readings, err := s.AddReadings(ctx, []types.SensorReading{reading})
	if err != nil {
		return types.SensorReading{}, err
	}

	return readings[0], nil
}

// AddReadings persists the readings in one transaction. Either all of them
// become visible or none do.
func (s *store) AddReadings(ctx context.Context, readings []types.SensorReading) ([]types.SensorReading, error) {
	if len(readings) == 0 {
		return []types.SensorReading{}, nil
	}

	rows := lo.Map(readings, func(r types.SensorReading, _ int) SensorReading {
		row := fromReading(r)
		row.ID = 0
		return row
	})

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&rows).Error
	})
	if err != nil {
		return nil, err
	}

	return lo.Map(rows, func(row SensorReading, i int) types.SensorReading {
		r := row.toReading()
		r.DeviceName = readings[i].DeviceName
		return r
	}), nil
}

// QueryReadings returns readings matching all conditions, most recent first.
func (s *store) QueryReadings(ctx context.Context, conditions ...ConditionFunc) ([]types.SensorReading, error) {
	c := &Condition{}
	for _, condition := range conditions {
		c = condition(c)
	}

	query := s.db.WithContext(ctx).
		Table("sensor_readings").
		Select("sensor_readings.*, devices.name AS device_name").
		Joins("JOIN devices ON devices.id = sensor_readings.device_id")

	if c.DeviceID != nil {
		query = query.Where("sensor_readings.device_id = ?", *c.DeviceID)
	}

	if c.OwnerID != "" {
		query = query.Where("devices.owner_id = ?", c.OwnerID)
	}

	if c.Start != nil {
		query = query.Where("sensor_readings.timestamp >= ?", *c.Start)
	}

	if c.End != nil {
		query = query.Where("sensor_readings.timestamp <= ?", *c.End)
	}

	if c.AlertsOnly {
		query = query.Where("sensor_readings.is_alert = ?", true)
	}

	query = query.Order("sensor_readings.timestamp DESC").Order("sensor_readings.id DESC")

	if c.Limit > 0 {
		query = query.Limit(c.Limit)
	}

	rows := []readingRow{}
	if err := query.Scan(&rows).Error; err != nil {
		return nil, err
	}

	return lo.Map(rows, func(row readingRow, _ int) types.SensorReading {
		return row.toReading()
	}), nil
}

func toDevices(rows []Device) []types.Device {
	return lo.Map(rows, func(row Device, _ int) types.Device {
		return row.toDevice()
	})
}

func notFoundOr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func retryOnConflict(fn func() error) error {
	err := fn()
	if errors.Is(err, ErrConflict) {
		err = fn()
	}
	return err
}
