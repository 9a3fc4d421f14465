package readings

import (
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/diwise/smarthome-monitor/pkg/types"
)

const (
	HighTemperature    int = 28
	HighHumidity       int = 65
	DoorAlertChance    int = 20
	MotionDetectChance int = 20
)

//go:generate moq -rm -out generator_mock.go . Generator

type Generator interface {
	Generate(device types.Device) types.SensorReading
}

type generator struct {
	mu  sync.Mutex
	rnd *rand.Rand
	now func() time.Time
}

type GeneratorOption func(*generator)

func WithClock(now func() time.Time) GeneratorOption {
	return func(g *generator) {
		g.now = now
	}
}

// NewGenerator returns a Generator drawing from src. The same source seed
// yields the same sequence of values and alerts.
func NewGenerator(src rand.Source, opts ...GeneratorOption) Generator {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}

	g := &generator{
		rnd: rand.New(src),
		now: time.Now,
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

func (g *generator) Generate(device types.Device) types.SensorReading {
	g.mu.Lock()
	defer g.mu.Unlock()

	r := types.SensorReading{
		DeviceID:   device.ID,
		DeviceName: device.Name,
		Timestamp:  types.NewTimestamp(g.now()),
	}

	switch strings.ToLower(device.Type) {
	case "temperature", "thermostat":
		v := g.between(18, 30)
		r.Type, r.Value, r.Unit = "Temperature", strconv.Itoa(v), "°C"
		if v > HighTemperature {
			alert(&r, "High temperature detected!")
		}
	case "humidity":
		v := g.between(30, 70)
		r.Type, r.Value, r.Unit = "Humidity", strconv.Itoa(v), "%"
		if v > HighHumidity {
			alert(&r, "High humidity detected!")
		}
	case "motion", "camera":
		r.Type, r.Value = "Motion", "None"
		if g.chance(MotionDetectChance) {
			r.Value = "Detected"
			alert(&r, "Motion detected!")
		}
	case "light":
		r.Type, r.Value, r.Unit = "Light", strconv.Itoa(g.between(0, 1000)), "lux"
	case "door":
		r.Type, r.Value = "Status", "locked"
		if g.rnd.Intn(2) == 1 {
			r.Value = "unlocked"
			if g.chance(DoorAlertChance) {
				alert(&r, "Door left unlocked")
			}
		}
	default:
		r.Type, r.Value = device.Type, strconv.Itoa(g.between(0, 100))
		if r.Type == "" {
			r.Type = "Sensor"
		}
	}

	return r
}

// between returns a value in [low, high).
func (g *generator) between(low, high int) int {
	return low + g.rnd.Intn(high-low)
}

func (g *generator) chance(percent int) bool {
	return g.rnd.Intn(100) < percent
}

func alert(r *types.SensorReading, message string) {
	r.IsAlert = true
	r.AlertMessage = message
}
