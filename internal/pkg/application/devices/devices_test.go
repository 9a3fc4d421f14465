package devices

import (
	"context"
	"errors"
	"strconv"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/matryer/is"

	"github.com/diwise/smarthome-monitor/internal/pkg/application/realtime"
	"github.com/diwise/smarthome-monitor/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/smarthome-monitor/pkg/types"
)

func TestCreateValidatesDevice(t *testing.T) {
	is, ctx, svc, _ := setupTest(t)

	_, err := svc.Create(ctx, "alice", types.Device{Name: "Lamp"})
	is.True(errors.Is(err, ErrInvalidDevice))

	d, err := svc.Create(ctx, "alice", types.Device{Name: "Lamp", Type: "Light", Location: "Hall"})
	is.NoErr(err)
	is.Equal(d.OwnerID, "alice")

	list, err := svc.List(ctx, "alice")
	is.NoErr(err)
	is.Equal(len(list), 1)
}

func TestForeignDeviceIsNotFound(t *testing.T) {
	is, ctx, svc, _ := setupTest(t)

	d, err := svc.Create(ctx, "bob", types.Device{Name: "Lamp", Type: "Light", Location: "Hall"})
	is.NoErr(err)

	_, err = svc.Get(ctx, "alice", d.ID)
	is.True(errors.Is(err, ErrDeviceNotFound))

	_, err = svc.Toggle(ctx, "alice", d.ID)
	is.True(errors.Is(err, ErrDeviceNotFound))

	err = svc.Delete(ctx, "alice", d.ID)
	is.True(errors.Is(err, ErrDeviceNotFound))
}

func TestToggleBroadcastsStatusToOwner(t *testing.T) {
	is, ctx, svc, b := setupTest(t)

	d, err := svc.Create(ctx, "alice", types.Device{Name: "Lamp", Type: "Light", Location: "Hall"})
	is.NoErr(err)

	toggled, err := svc.Toggle(ctx, "alice", d.ID)
	is.NoErr(err)
	is.True(toggled.Online)

	calls := b.PublishCalls()
	is.Equal(len(calls), 1)
	is.Equal(calls[0].Scope.Identity(), "alice")

	e := calls[0].Event.(*types.DeviceStatusChanged)
	is.Equal(e.DeviceID, d.ID)
	is.Equal(e.Status, types.StatusOnline)
}

func TestUpdateKeepsTypeAndOwner(t *testing.T) {
	is, ctx, svc, b := setupTest(t)

	d, err := svc.Create(ctx, "alice", types.Device{Name: "Lamp", Type: "Light", Location: "Hall"})
	is.NoErr(err)

	updated, err := svc.Update(ctx, "alice", d.ID, types.Device{Name: "Desk Lamp", Type: "Door", Location: "Office"})
	is.NoErr(err)
	is.Equal(updated.Name, "Desk Lamp")
	is.Equal(updated.Type, "Light")
	is.Equal(updated.OwnerID, "alice")
	is.Equal(len(b.PublishCalls()), 0)

	_, err = svc.Update(ctx, "alice", d.ID, types.Device{Location: "Office"})
	is.True(errors.Is(err, ErrInvalidDevice))
}

func TestDoorCommands(t *testing.T) {
	is, ctx, svc, b := setupTest(t)

	door, err := svc.Create(ctx, "alice", types.Device{Name: "Front Door", Type: "Door", Location: "Entrance"})
	is.NoErr(err)
	lamp, err := svc.Create(ctx, "alice", types.Device{Name: "Lamp", Type: "Light", Location: "Hall"})
	is.NoErr(err)

	_, err = svc.ControlDoor(ctx, "alice", door.ID, types.DeviceCommand{Command: "open"})
	is.True(errors.Is(err, ErrInvalidCommand))

	_, err = svc.ControlDoor(ctx, "alice", lamp.ID, types.DeviceCommand{Command: "lock"})
	is.True(errors.Is(err, ErrDeviceNotFound))

	msg, err := svc.ControlDoor(ctx, "alice", door.ID, types.DeviceCommand{Command: "Lock"})
	is.NoErr(err)
	is.Equal(msg, "Door Front Door locked")
	is.Equal(len(b.PublishCalls()), 0)

	_, err = svc.ControlDoor(ctx, "alice", door.ID, types.DeviceCommand{Command: "unlock"})
	is.NoErr(err)

	calls := b.PublishCalls()
	is.Equal(len(calls), 1)
	is.Equal(calls[0].Scope.Identity(), "alice")
	is.Equal(calls[0].Event.EventName(), types.EventSecurityAlert)
}

func TestExplicitSecurityAlertReachesEveryone(t *testing.T) {
	is, ctx, svc, b := setupTest(t)

	is.NoErr(svc.RaiseSecurityAlert(ctx, "Garage", "Window forced open"))

	calls := b.PublishCalls()
	is.Equal(len(calls), 1)
	is.True(calls[0].Scope.IsAll())
	is.Equal(calls[0].Event.EventName(), types.EventSecurityAlert)
}

func TestThermostatCommandIsValidated(t *testing.T) {
	is, ctx, svc, _ := setupTest(t)

	th, err := svc.Create(ctx, "alice", types.Device{Name: "Kitchen Thermostat", Type: "Thermostat", Location: "Kitchen"})
	is.NoErr(err)

	_, err = svc.ControlThermostat(ctx, "alice", th.ID, types.ThermostatCommand{Temperature: 40, Mode: "heat"})
	is.True(errors.Is(err, ErrInvalidCommand))

	_, err = svc.ControlThermostat(ctx, "alice", th.ID, types.ThermostatCommand{Temperature: 21, Mode: "boost"})
	is.True(errors.Is(err, ErrInvalidCommand))

	msg, err := svc.ControlThermostat(ctx, "alice", th.ID, types.ThermostatCommand{Temperature: 21, Mode: "auto"})
	is.NoErr(err)
	is.Equal(msg, "Thermostat Kitchen Thermostat set to 21°C in auto mode")
}

func TestDeviceStatusHandlerUpdatesOnlineFlag(t *testing.T) {
	is, ctx, svc, b := setupTest(t)

	d, err := svc.Create(ctx, "alice", types.Device{Name: "Lamp", Type: "Light", Location: "Hall"})
	is.NoErr(err)

	handler := NewDeviceStatusHandler(svc)
	body := `{"deviceID":` + itoa(d.ID) + `,"online":true,"timestamp":"2023-04-01T10:00:00Z"}`
	handler(ctx, amqp.Delivery{RoutingKey: DeviceStatusTopic, Body: []byte(body)}, zerolog.Nop())

	fromDb, err := svc.Get(ctx, "alice", d.ID)
	is.NoErr(err)
	is.True(fromDb.Online)
	is.Equal(len(b.PublishCalls()), 1)

	handler(ctx, amqp.Delivery{RoutingKey: DeviceStatusTopic, Body: []byte(body)}, zerolog.Nop())
	is.Equal(len(b.PublishCalls()), 1)
}

func setupTest(t *testing.T) (*is.I, context.Context, DeviceService, *realtime.BroadcasterMock) {
	is := is.New(t)
	ctx := context.Background()

	store, err := database.New(database.NewSQLiteConnector(zerolog.Nop(), ""))
	is.NoErr(err)

	for _, id := range []string{"alice", "bob"} {
		_, err = store.AddUser(ctx, types.User{ID: id, Username: id, Email: id + "@example.com", PasswordHash: "hash"})
		is.NoErr(err)
	}

	b := &realtime.BroadcasterMock{
		PublishFunc: func(ctx context.Context, scope realtime.Scope, event types.Event) error {
			_, err := types.Encode(event)
			return err
		},
	}

	return is, ctx, New(store, b), b
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
