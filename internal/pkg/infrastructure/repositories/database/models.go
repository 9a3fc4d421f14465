package database

import (
	"time"

	"github.com/diwise/smarthome-monitor/pkg/types"
)

type User struct {
	ID           string    `gorm:"primaryKey;size:36"`
	Username     string    `gorm:"uniqueIndex;size:50;not null"`
	Email        string    `gorm:"uniqueIndex;size:100;not null"`
	PasswordHash string    `gorm:"size:255;not null"`
	CreatedAt    time.Time `gorm:"not null"`
	Devices      []Device  `gorm:"foreignKey:OwnerID;constraint:OnDelete:CASCADE"`
}

type Device struct {
	ID        uint            `gorm:"primaryKey"`
	OwnerID   string          `gorm:"index;size:36;not null"`
	Name      string          `gorm:"size:100;not null"`
	Type      string          `gorm:"size:50;not null"`
	Location  string          `gorm:"size:100;not null"`
	IPAddress string          `gorm:"size:50"`
	APIKey    string          `gorm:"size:100"`
	Online    bool            `gorm:"not null;default:false"`
	AddedAt   time.Time       `gorm:"not null"`
	Readings  []SensorReading `gorm:"foreignKey:DeviceID;constraint:OnDelete:CASCADE"`
}

type SensorReading struct {
	ID           uint      `gorm:"primaryKey"`
	DeviceID     uint      `gorm:"index;not null"`
	Timestamp    time.Time `gorm:"index;not null"`
	Type         string    `gorm:"size:50;not null"`
	Value        string    `gorm:"size:100;not null"`
	Unit         string    `gorm:"size:20"`
	IsAlert      bool      `gorm:"not null;default:false"`
	AlertMessage string    `gorm:"size:255"`
}

// readingRow is the result of a reading query joined with its device.
type readingRow struct {
	ID           uint
	DeviceID     uint
	Timestamp    time.Time
	Type         string
	Value        string
	Unit         string
	IsAlert      bool
	AlertMessage string
	DeviceName   string
}

func fromUser(u types.User) User {
	return User{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt.UTC(),
	}
}

func (u User) toUser() types.User {
	return types.User{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		CreatedAt:    types.NewTimestamp(u.CreatedAt),
	}
}

func fromDevice(d types.Device) Device {
	return Device{
		ID:        d.ID,
		OwnerID:   d.OwnerID,
		Name:      d.Name,
		Type:      d.Type,
		Location:  d.Location,
		IPAddress: d.IPAddress,
		APIKey:    d.APIKey,
		Online:    d.Online,
		AddedAt:   d.AddedAt.UTC(),
	}
}

func (d Device) toDevice() types.Device {
	return types.Device{
		ID:        d.ID,
		OwnerID:   d.OwnerID,
		Name:      d.Name,
		Type:      d.Type,
		Location:  d.Location,
		IPAddress: d.IPAddress,
		APIKey:    d.APIKey,
		Online:    d.Online,
		AddedAt:   types.NewTimestamp(d.AddedAt),
	}
}

func fromReading(r types.SensorReading) SensorReading {
	return SensorReading{
		ID:           r.ID,
		DeviceID:     r.DeviceID,
		Timestamp:    r.Timestamp.UTC(),
		Type:         r.Type,
		Value:        r.Value,
		Unit:         r.Unit,
		IsAlert:      r.IsAlert,
		AlertMessage: r.AlertMessage,
	}
}

func (r SensorReading) toReading() types.SensorReading {
	return types.SensorReading{
		ID:           r.ID,
		DeviceID:     r.DeviceID,
		Timestamp:    types.NewTimestamp(r.Timestamp),
		Type:         r.Type,
		Value:        r.Value,
		Unit:         r.Unit,
		IsAlert:      r.IsAlert,
		AlertMessage: r.AlertMessage,
	}
}

func (r readingRow) toReading() types.SensorReading {
	return types.SensorReading{
		ID:           r.ID,
		DeviceID:     r.DeviceID,
		Timestamp:    types.NewTimestamp(r.Timestamp),
		Type:         r.Type,
		Value:        r.Value,
		Unit:         r.Unit,
		IsAlert:      r.IsAlert,
		AlertMessage: r.AlertMessage,
		DeviceName:   r.DeviceName,
	}
}
