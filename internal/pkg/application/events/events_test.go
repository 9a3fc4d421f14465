package events

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/diwise/messaging-golang/pkg/messaging"
	"github.com/matryer/is"

	"github.com/diwise/smarthome-monitor/internal/pkg/application/realtime"
	"github.com/diwise/smarthome-monitor/pkg/types"
)

func TestForwarderIsNotCreatedWithoutSubscribers(t *testing.T) {
	is := is.New(t)

	sink, err := NewAlertForwarder(&Config{Notifications: []Notification{{Type: "other"}}})
	is.NoErr(err)
	is.True(sink == nil)

	sink, err = NewAlertForwarder(nil)
	is.NoErr(err)
	is.True(sink == nil)
}

func TestAlertsAreForwardedAsCloudEvents(t *testing.T) {
	is := is.New(t)

	var mu sync.Mutex
	received := []string{}
	body := ""

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		received = append(received, r.Header.Get("Ce-Type"))
		body = string(b)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink, err := NewAlertForwarder(&Config{
		Notifications: []Notification{{
			ID:          "alerts",
			Type:        AlertEventType,
			Subscribers: []SubscriberConfig{{Endpoint: server.URL}},
		}},
	})
	is.NoErr(err)

	alert := &types.AlertRaised{
		DeviceName: "Kitchen Thermostat",
		Location:   "Kitchen",
		Type:       "Temperature",
		Value:      "29",
		Message:    "High temperature detected!",
		Timestamp:  types.NewTimestamp(time.Date(2023, 3, 1, 10, 0, 0, 0, time.UTC)),
	}

	err = sink.Publish(context.Background(), realtime.User("alice"), alert)
	is.NoErr(err)

	err = sink.Publish(context.Background(), realtime.All, &types.DeviceStatusChanged{DeviceID: 1, Status: types.StatusOnline})
	is.NoErr(err)

	mu.Lock()
	defer mu.Unlock()

	is.Equal(len(received), 1)
	is.Equal(received[0], AlertEventType)
	is.True(strings.Contains(body, `"message":"High temperature detected!"`))
}

func TestSlowSubscriberIsAbandonedAfterTimeout(t *testing.T) {
	is, server, release := setupSlowSubscriber(t)
	defer server.Close()
	defer close(release)

	sink, err := NewAlertForwarder(alertConfig(server.URL))
	is.NoErr(err)
	sink.(*alertForwarder).timeout = 100 * time.Millisecond

	start := time.Now()
	err = sink.Publish(context.Background(), realtime.User("alice"), testAlert())

	is.True(err != nil)
	is.True(time.Since(start) < 2*time.Second)
}

func TestSlowSubscriberDoesNotHoldTheProducer(t *testing.T) {
	is, server, release := setupSlowSubscriber(t)
	defer server.Close()
	defer close(release)

	sink, err := NewAlertForwarder(alertConfig(server.URL))
	is.NoErr(err)

	q := realtime.NewQueuedSink(context.Background(), "alerts", sink, realtime.DefaultQueueSize)
	defer q.Close()

	b := realtime.NewBroadcaster(realtime.NewRegistry(), q)

	start := time.Now()
	for i := 0; i < 3; i++ {
		is.NoErr(b.Publish(context.Background(), realtime.User("alice"), testAlert()))
	}

	is.True(time.Since(start) < 500*time.Millisecond)
}

func TestTopicSinkPublishesTopicMessagesOnly(t *testing.T) {
	is := is.New(t)

	p := &fakePublisher{}
	sink := NewTopicSink(p)

	reading := types.NewReadingUpdated("Lamp", types.SensorReading{
		DeviceID:  1,
		Type:      "Light",
		Value:     "400",
		Timestamp: types.NewTimestamp(time.Now()),
	})

	is.NoErr(sink.Publish(context.Background(), realtime.All, reading))
	is.NoErr(sink.Publish(context.Background(), realtime.All, &types.DeviceStatusChanged{DeviceID: 1, Status: types.StatusOnline}))

	is.Equal(len(p.topics), 1)
	is.Equal(p.topics[0], "smarthome.readingUpdated")
}

type fakePublisher struct {
	topics []string
}

func (f *fakePublisher) PublishOnTopic(ctx context.Context, message messaging.TopicMessage) error {
	f.topics = append(f.topics, message.TopicName())
	return nil
}

func setupSlowSubscriber(t *testing.T) (*is.I, *httptest.Server, chan struct{}) {
	release := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusOK)
	}))

	return is.New(t), server, release
}

func alertConfig(endpoint string) *Config {
	return &Config{
		Notifications: []Notification{{
			ID:          "alerts",
			Type:        AlertEventType,
			Subscribers: []SubscriberConfig{{Endpoint: endpoint}},
		}},
	}
}

func testAlert() *types.AlertRaised {
	return &types.AlertRaised{
		DeviceName: "Front Door",
		Location:   "Hallway",
		Type:       "Status",
		Value:      "unlocked",
		Message:    "Door left unlocked",
		Timestamp:  types.NewTimestamp(time.Date(2023, 3, 1, 10, 0, 0, 0, time.UTC)),
	}
}
