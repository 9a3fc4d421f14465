package types

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/matryer/is"
)

func TestTimestampIsSerializedWithFixedPrecision(t *testing.T) {
	is := is.New(t)

	ts := NewTimestamp(time.Date(2023, 3, 14, 9, 26, 53, 589793000, time.UTC))

	b, err := json.Marshal(ts)
	is.NoErr(err)
	is.Equal(string(b), `"2023-03-14T09:26:53.5897930Z"`)

	var parsed Timestamp
	err = json.Unmarshal(b, &parsed)
	is.NoErr(err)
	is.True(parsed.Equal(ts.Time))
}

func TestTimestampIsConvertedToUTC(t *testing.T) {
	is := is.New(t)

	cet := time.FixedZone("CET", 3600)
	ts := NewTimestamp(time.Date(2023, 3, 14, 10, 0, 0, 0, cet))

	is.Equal(ts.String(), "2023-03-14T09:00:00.0000000Z")
}

func TestEncodeRejectsReadingForOtherDevice(t *testing.T) {
	is := is.New(t)

	e := &ReadingUpdated{
		DeviceID:   1,
		DeviceName: "Kitchen Thermostat",
		Reading: SensorReading{
			DeviceID:  2,
			Type:      "Temperature",
			Value:     "21",
			Timestamp: NewTimestamp(time.Now()),
		},
	}

	_, err := Encode(e)
	is.True(errors.Is(err, ErrInvalidEvent))
}

func TestEncodeReadingUpdated(t *testing.T) {
	is := is.New(t)

	r := SensorReading{
		ID:         7,
		DeviceID:   3,
		Type:       "Temperature",
		Value:      "29",
		Unit:       "°C",
		IsAlert:    true,
		Timestamp:  NewTimestamp(time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC)),
		DeviceName: "ignored",
	}

	b, err := Encode(NewReadingUpdated("Kitchen Thermostat", r))
	is.NoErr(err)

	s := string(b)
	is.True(strings.Contains(s, `"deviceId":3`))
	is.True(strings.Contains(s, `"deviceName":"Kitchen Thermostat"`))
	is.True(strings.Contains(s, `"timestamp":"2023-01-01T12:00:00.0000000Z"`))
	is.True(!strings.Contains(s, "ignored"))
}

func TestDeviceStatusChangedRequiresKnownStatus(t *testing.T) {
	is := is.New(t)

	e := NewDeviceStatusChanged(Device{ID: 4, Online: true})
	is.Equal(e.Status, StatusOnline)
	is.NoErr(e.Validate())

	e.Status = "sleeping"
	is.True(e.Validate() != nil)
}
