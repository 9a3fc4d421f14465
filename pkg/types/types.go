package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// TimestampLayout is the wire format for every timestamp sent to clients.
const TimestampLayout = "2006-01-02T15:04:05.0000000Z07:00"

type Timestamp struct {
	time.Time
}

func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC()}
}

func (t Timestamp) String() string {
	return t.UTC().Format(TimestampLayout)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*t = Timestamp{}
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}

	if s == "" {
		*t = Timestamp{}
		return nil
	}

	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", s, err)
	}

	*t = NewTimestamp(parsed)
	return nil
}

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    Timestamp `json:"createdAt"`
}

type Device struct {
	ID        uint      `json:"id"`
	OwnerID   string    `json:"userId"`
	Name      string    `json:"name" validate:"required,max=100"`
	Type      string    `json:"type" validate:"required,max=50"`
	Location  string    `json:"location" validate:"required,max=100"`
	IPAddress string    `json:"ipAddress,omitempty" validate:"omitempty,max=50"`
	APIKey    string    `json:"apiKey,omitempty" validate:"omitempty,max=100"`
	Online    bool      `json:"isOnline"`
	AddedAt   Timestamp `json:"addedAt"`
}

type SensorReading struct {
	ID           uint      `json:"id"`
	DeviceID     uint      `json:"deviceId" validate:"required"`
	Type         string    `json:"type" validate:"required,max=50"`
	Value        string    `json:"value" validate:"required,max=100"`
	Unit         string    `json:"unit"`
	IsAlert      bool      `json:"isAlert"`
	AlertMessage string    `json:"alertMessage"`
	Timestamp    Timestamp `json:"timestamp"`
	DeviceName   string    `json:"deviceName,omitempty"`
}

type DeviceCommand struct {
	Command string `json:"command" validate:"required"`
}

type ThermostatCommand struct {
	Temperature int    `json:"temperature" validate:"min=5,max=35"`
	Mode        string `json:"mode" validate:"required,oneof=heat cool auto off"`
}

type SecurityAlertRequest struct {
	Location string `json:"location" validate:"required"`
	Details  string `json:"details" validate:"required"`
}

type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Email    string `json:"email" validate:"required,email,max=100"`
	Password string `json:"password" validate:"required,min=6"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	Token    string `json:"token"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type SimulationResult struct {
	Message string          `json:"message"`
	Data    []SensorReading `json:"data"`
}

type CommandResult struct {
	Message string `json:"message"`
}
