package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/diwise/smarthome-monitor/internal/pkg/infrastructure/logging"
	"github.com/diwise/smarthome-monitor/pkg/types"
)

var ErrHubStopped = fmt.Errorf("hub stopped")

type Handler func(event string, data json.RawMessage)

type ListenerID uint64

// Hub is a websocket connection to the server hub that survives reconnects.
// Listeners can be added before the hub is started; they are subscribed in
// the order they were added once a connection is up, and again after every
// reconnect.
type Hub interface {
	On(event string, handler Handler) ListenerID
	Off(event string, id ListenerID)

	Start(ctx context.Context) error
	Stop()
	Connected() bool
}

type HubOption func(*hub)

func WithBackOff(initial, max time.Duration) HubOption {
	return func(h *hub) {
		h.initialInterval = initial
		h.maxInterval = max
	}
}

func WithDialer(d *websocket.Dialer) HubOption {
	return func(h *hub) {
		h.dialer = d
	}
}

type listener struct {
	id      ListenerID
	handler Handler
}

type hub struct {
	url    string
	token  func() string
	dialer *websocket.Dialer

	initialInterval time.Duration
	maxInterval     time.Duration

	mu        sync.Mutex
	nextID    ListenerID
	listeners map[string][]listener
	// events in the order their first listener was added
	order []string
	conn  *websocket.Conn

	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a hub client for url. token is asked for a credential on
// every (re)connect.
func NewHub(url string, token func() string, opts ...HubOption) Hub {
	h := &hub{
		url:             url,
		token:           token,
		dialer:          websocket.DefaultDialer,
		initialInterval: 500 * time.Millisecond,
		maxInterval:     30 * time.Second,
		listeners:       map[string][]listener{},
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

func (h *hub) On(event string, handler Handler) ListenerID {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID

	first := len(h.listeners[event]) == 0
	h.listeners[event] = append(h.listeners[event], listener{id: id, handler: handler})

	if first {
		h.order = append(h.order, event)
		if h.conn != nil {
			h.send(h.conn, types.HubSubscribe, event)
		}
	}

	return id
}

func (h *hub) Off(event string, id ListenerID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	current := h.listeners[event]
	for i, l := range current {
		if l.id == id {
			h.listeners[event] = append(current[:i:i], current[i+1:]...)
			break
		}
	}

	if len(current) == 0 || len(h.listeners[event]) > 0 {
		return
	}

	delete(h.listeners, event)
	for i, e := range h.order {
		if e == event {
			h.order = append(h.order[:i:i], h.order[i+1:]...)
			break
		}
	}

	if h.conn != nil {
		h.send(h.conn, types.HubUnsubscribe, event)
	}
}

func (h *hub) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn != nil
}

// Start connects in the background and keeps reconnecting until Stop is
// called or ctx is done.
func (h *hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.done != nil {
		return fmt.Errorf("hub already started")
	}

	ctx, h.cancel = context.WithCancel(ctx)
	h.done = make(chan struct{})

	go h.run(ctx, h.done)

	return nil
}

func (h *hub) Stop() {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done
}

func (h *hub) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	log := logging.GetLoggerFromContext(ctx).With().Str("hub", h.url).Logger()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = h.initialInterval
	b.MaxInterval = h.maxInterval
	b.MaxElapsedTime = 0

	for {
		conn, err := h.connect(ctx)
		if err == nil {
			b.Reset()
			h.listen(ctx, log, conn)
		} else if ctx.Err() == nil {
			log.Warn().Err(err).Msg("failed to connect to hub")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(b.NextBackOff()):
		}
	}
}

func (h *hub) connect(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if token := h.token(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := h.dialer.DialContext(ctx, h.url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if ctx.Err() != nil {
		conn.Close()
		return nil, ErrHubStopped
	}

	h.conn = conn
	for _, event := range h.order {
		h.send(conn, types.HubSubscribe, event)
	}

	return conn, nil
}

func (h *hub) listen(ctx context.Context, log zerolog.Logger, conn *websocket.Conn) {
	defer func() {
		h.mu.Lock()
		if h.conn == conn {
			h.conn = nil
		}
		h.mu.Unlock()
		conn.Close()
	}()

	stop := make(chan struct{})
	defer close(stop)

	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Info().Err(err).Msg("hub connection lost")
			}
			return
		}

		msg := types.HubMessage{}
		if err := json.Unmarshal(b, &msg); err != nil {
			log.Warn().Err(err).Msg("malformed frame from hub")
			continue
		}

		switch msg.Type {
		case types.HubEvent:
			h.dispatch(msg.Event, msg.Data)
		case types.HubError:
			log.Warn().Str("reason", msg.Error).Msg("hub reported an error")
		}
	}
}

func (h *hub) dispatch(event string, data json.RawMessage) {
	h.mu.Lock()
	listeners := append([]listener{}, h.listeners[event]...)
	h.mu.Unlock()

	for _, l := range listeners {
		l.handler(event, data)
	}
}

// send must be called with h.mu held.
func (h *hub) send(conn *websocket.Conn, frameType, event string) {
	b, _ := json.Marshal(types.HubMessage{Type: frameType, Event: event})

	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	conn.WriteMessage(websocket.TextMessage, b)
}
