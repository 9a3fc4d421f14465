package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	EventReadingUpdated      string = "reading-updated"
	EventAlertRaised         string = "alert-raised"
	EventDeviceStatusChanged string = "device-status-changed"
	EventSecurityAlert       string = "security-alert"
)

const (
	StatusOnline  string = "online"
	StatusOffline string = "offline"
)

var ErrInvalidEvent = fmt.Errorf("invalid event payload")

// Event is a payload that can be pushed to connected clients. Each event name
// has exactly one payload type.
type Event interface {
	EventName() string
	Validate() error
}

// Encode validates the event and returns its wire representation.
func Encode(e Event) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrInvalidEvent, e.EventName(), err.Error())
	}

	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidEvent, err.Error())
	}

	return b, nil
}

type ReadingUpdated struct {
	DeviceID   uint          `json:"deviceId"`
	DeviceName string        `json:"deviceName"`
	Reading    SensorReading `json:"reading"`
}

func NewReadingUpdated(deviceName string, r SensorReading) *ReadingUpdated {
	r.DeviceName = ""
	return &ReadingUpdated{
		DeviceID:   r.DeviceID,
		DeviceName: deviceName,
		Reading:    r,
	}
}

func (e *ReadingUpdated) EventName() string {
	return EventReadingUpdated
}

func (e *ReadingUpdated) Validate() error {
	if e.DeviceID == 0 || e.Reading.DeviceID != e.DeviceID {
		return errors.New("reading does not belong to device")
	}
	if e.Reading.Type == "" {
		return errors.New("reading type is missing")
	}
	if e.Reading.Timestamp.IsZero() {
		return errors.New("reading timestamp is missing")
	}
	return nil
}

func (e *ReadingUpdated) ContentType() string {
	return "application/json"
}

func (e *ReadingUpdated) TopicName() string {
	return "smarthome.readingUpdated"
}

func (e *ReadingUpdated) Body() []byte {
	b, _ := json.Marshal(e)
	return b
}

type AlertRaised struct {
	DeviceName string    `json:"deviceName"`
	Location   string    `json:"location"`
	Type       string    `json:"type"`
	Value      string    `json:"value"`
	Message    string    `json:"message"`
	Timestamp  Timestamp `json:"timestamp"`
}

func NewAlertRaised(d Device, r SensorReading) *AlertRaised {
	return &AlertRaised{
		DeviceName: d.Name,
		Location:   d.Location,
		Type:       r.Type,
		Value:      r.Value,
		Message:    r.AlertMessage,
		Timestamp:  r.Timestamp,
	}
}

func (e *AlertRaised) EventName() string {
	return EventAlertRaised
}

func (e *AlertRaised) Validate() error {
	if e.DeviceName == "" {
		return errors.New("device name is missing")
	}
	if e.Timestamp.IsZero() {
		return errors.New("alert timestamp is missing")
	}
	return nil
}

func (e *AlertRaised) ContentType() string {
	return "application/json"
}

func (e *AlertRaised) TopicName() string {
	return "smarthome.alertRaised"
}

func (e *AlertRaised) Body() []byte {
	b, _ := json.Marshal(e)
	return b
}

type DeviceStatusChanged struct {
	DeviceID uint   `json:"deviceId"`
	Status   string `json:"status"`
}

func NewDeviceStatusChanged(d Device) *DeviceStatusChanged {
	status := StatusOffline
	if d.Online {
		status = StatusOnline
	}
	return &DeviceStatusChanged{DeviceID: d.ID, Status: status}
}

func (e *DeviceStatusChanged) EventName() string {
	return EventDeviceStatusChanged
}

func (e *DeviceStatusChanged) Validate() error {
	if e.DeviceID == 0 {
		return errors.New("device id is missing")
	}
	if e.Status != StatusOnline && e.Status != StatusOffline {
		return fmt.Errorf("unknown device status %q", e.Status)
	}
	return nil
}

type SecurityAlert struct {
	Location  string    `json:"location"`
	Details   string    `json:"details"`
	Timestamp Timestamp `json:"timestamp"`
}

func (e *SecurityAlert) EventName() string {
	return EventSecurityAlert
}

func (e *SecurityAlert) Validate() error {
	if e.Location == "" || e.Details == "" {
		return errors.New("location and details are required")
	}
	if e.Timestamp.IsZero() {
		return errors.New("alert timestamp is missing")
	}
	return nil
}
