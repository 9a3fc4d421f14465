package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/diwise/smarthome-monitor/pkg/types"
)

func TestUserScopedEventReachesEveryConnectionOfThatUserOnly(t *testing.T) {
	is, ctx, r, b := setupTest(t)

	tab1 := newFakeConn("tab-1", 8)
	tab2 := newFakeConn("tab-2", 8)
	other := newFakeConn("other", 8)

	register(is, r, tab1, "42", types.EventReadingUpdated)
	register(is, r, tab2, "42", types.EventReadingUpdated)
	register(is, r, other, "7", types.EventReadingUpdated)

	err := b.Publish(ctx, User("42"), readingUpdated(1))
	is.NoErr(err)

	is.Equal(len(tab1.received()), 1)
	is.Equal(len(tab2.received()), 1)
	is.Equal(len(other.received()), 0)

	err = b.Publish(ctx, All, readingUpdated(1))
	is.NoErr(err)

	is.Equal(len(tab1.received()), 2)
	is.Equal(len(other.received()), 1)
}

func TestOnlyListenersForTheEventNameAreCalled(t *testing.T) {
	is, ctx, r, b := setupTest(t)

	c := newFakeConn("c", 8)
	register(is, r, c, "42", types.EventAlertRaised)

	err := b.Publish(ctx, All, readingUpdated(1))
	is.NoErr(err)
	is.Equal(len(c.received()), 0)
}

func TestRemovedListenerIsNotCalled(t *testing.T) {
	is, ctx, r, b := setupTest(t)

	c := newFakeConn("c", 8)
	is.NoErr(r.Register(c, "42"))

	id, err := r.AddListener(c, types.EventReadingUpdated, Forward(c))
	is.NoErr(err)
	r.RemoveListener(c, types.EventReadingUpdated, id)

	is.NoErr(b.Publish(ctx, All, readingUpdated(1)))
	is.Equal(len(c.received()), 0)

	r.Unregister(c)
	is.Equal(r.Count(), 0)

	_, err = r.AddListener(c, types.EventReadingUpdated, Forward(c))
	is.True(errors.Is(err, ErrUnknownConnection))
}

func TestFullConnectionDoesNotBlockOtherConnections(t *testing.T) {
	is, ctx, r, b := setupTest(t)

	slow := newFakeConn("slow", 1)
	fast := newFakeConn("fast", 8)

	register(is, r, slow, "42", types.EventReadingUpdated)
	register(is, r, fast, "42", types.EventReadingUpdated)

	for i := 0; i < 3; i++ {
		is.NoErr(b.Publish(ctx, All, readingUpdated(1)))
	}

	is.Equal(len(slow.received()), 1)
	is.Equal(len(fast.received()), 3)
}

func TestInvalidEventIsRejectedBeforeDelivery(t *testing.T) {
	is, ctx, r, b := setupTest(t)

	c := newFakeConn("c", 8)
	register(is, r, c, "42", types.EventDeviceStatusChanged)

	err := b.Publish(ctx, All, &types.DeviceStatusChanged{DeviceID: 1, Status: "unknown"})
	is.True(errors.Is(err, types.ErrInvalidEvent))
	is.Equal(len(c.received()), 0)
}

func TestPayloadIsDeliveredInWireFormat(t *testing.T) {
	is, ctx, r, b := setupTest(t)

	c := newFakeConn("c", 8)
	register(is, r, c, "42", types.EventReadingUpdated)

	is.NoErr(b.Publish(ctx, All, readingUpdated(9)))

	payload := struct {
		DeviceID uint `json:"deviceId"`
		Reading  struct {
			Timestamp string `json:"timestamp"`
		} `json:"reading"`
	}{}
	is.NoErr(json.Unmarshal(c.received()[0], &payload))
	is.Equal(payload.DeviceID, uint(9))
	is.Equal(payload.Reading.Timestamp, "2023-02-01T10:00:00.0000000Z")
}

func TestSinksReceivePublishedEvents(t *testing.T) {
	is := is.New(t)

	sink := &BroadcasterMock{
		PublishFunc: func(ctx context.Context, scope Scope, event types.Event) error {
			return errors.New("sink is down")
		},
	}

	b := NewBroadcaster(NewRegistry(), sink)
	err := b.Publish(context.Background(), User("42"), readingUpdated(1))

	is.NoErr(err)
	is.Equal(len(sink.PublishCalls()), 1)
	is.Equal(sink.PublishCalls()[0].Scope.Identity(), "42")
}

func TestConcurrentRegistrationDuringPublish(t *testing.T) {
	is, ctx, r, b := setupTest(t)

	stop := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			c := newFakeConn("conn-"+strconv.Itoa(i), 1)
			_ = r.Register(c, "42")
			id, _ := r.AddListener(c, types.EventReadingUpdated, Forward(c))
			r.RemoveListener(c, types.EventReadingUpdated, id)
			r.Unregister(c)
		}
	}()

	for i := 0; i < 200; i++ {
		is.NoErr(b.Publish(ctx, All, readingUpdated(1)))
	}

	close(stop)
	wg.Wait()
}

func setupTest(t *testing.T) (*is.I, context.Context, Registry, Broadcaster) {
	r := NewRegistry()
	return is.New(t), context.Background(), r, NewBroadcaster(r)
}

func register(is *is.I, r Registry, c *fakeConn, identity, event string) {
	is.NoErr(r.Register(c, identity))
	_, err := r.AddListener(c, event, Forward(c))
	is.NoErr(err)
}

func readingUpdated(deviceID uint) types.Event {
	return types.NewReadingUpdated("Kitchen Thermostat", types.SensorReading{
		DeviceID:  deviceID,
		Type:      "Temperature",
		Value:     "21",
		Unit:      "°C",
		Timestamp: types.NewTimestamp(time.Date(2023, 2, 1, 10, 0, 0, 0, time.UTC)),
	})
}

type fakeConn struct {
	id    string
	queue chan []byte
}

func newFakeConn(id string, capacity int) *fakeConn {
	return &fakeConn{id: id, queue: make(chan []byte, capacity)}
}

func (c *fakeConn) ID() string {
	return c.id
}

func (c *fakeConn) Send(ctx context.Context, event string, payload []byte) error {
	select {
	case c.queue <- payload:
		return nil
	default:
		return ErrUnavailable
	}
}

func (c *fakeConn) received() [][]byte {
	result := [][]byte{}
	for {
		select {
		case p := <-c.queue:
			result = append(result, p)
		default:
			for _, p := range result {
				c.queue <- p
			}
			return result
		}
	}
}

func TestBlockedSinkDoesNotBlockPublish(t *testing.T) {
	is, ctx, r, _ := setupTest(t)

	started := make(chan struct{}, 10)
	release := make(chan struct{})
	delivered := make(chan types.Event, 10)

	blocking := &BroadcasterMock{
		PublishFunc: func(ctx context.Context, scope Scope, event types.Event) error {
			started <- struct{}{}
			<-release
			delivered <- event
			return nil
		},
	}

	q := NewQueuedSink(ctx, "blocking", blocking, 2)
	defer q.Close()

	c := newFakeConn("c", 8)
	register(is, r, c, "42", types.EventReadingUpdated)

	b := NewBroadcaster(r, q)

	is.NoErr(b.Publish(ctx, All, readingUpdated(0)))
	<-started

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 1; i < 10; i++ {
			_ = b.Publish(ctx, All, readingUpdated(uint(i)))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish waited for a blocked sink")
	}

	is.Equal(len(c.received()), 10)

	close(release)

	// one event held by the worker plus the queue capacity
	count := 0
	timeout := time.After(2 * time.Second)
	for count < 3 {
		select {
		case <-delivered:
			count++
		case <-timeout:
			t.Fatalf("expected 3 delivered events, got %d", count)
		}
	}

	select {
	case e := <-delivered:
		t.Fatalf("unexpected delivery of %s beyond queue capacity", e.EventName())
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClosedQueuedSinkRejectsEvents(t *testing.T) {
	is := is.New(t)

	sink := &BroadcasterMock{
		PublishFunc: func(ctx context.Context, scope Scope, event types.Event) error {
			return nil
		},
	}

	q := NewQueuedSink(context.Background(), "closed", sink, 4)
	q.Close()
	q.Close()

	err := q.Publish(context.Background(), All, readingUpdated(1))
	is.True(errors.Is(err, ErrUnavailable))
}

func TestQueuedSinkOutlivesProducerContext(t *testing.T) {
	is := is.New(t)

	received := make(chan error, 1)
	sink := &BroadcasterMock{
		PublishFunc: func(ctx context.Context, scope Scope, event types.Event) error {
			received <- ctx.Err()
			return nil
		},
	}

	q := NewQueuedSink(context.Background(), "detached", sink, 4)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	is.NoErr(q.Publish(ctx, All, readingUpdated(1)))

	select {
	case err := <-received:
		is.NoErr(err)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered")
	}
}
