package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/diwise/smarthome-monitor/internal/pkg/application/realtime"
	"github.com/diwise/smarthome-monitor/internal/pkg/infrastructure/metrics"
	"github.com/diwise/smarthome-monitor/internal/pkg/presentation/api/auth"
	"github.com/diwise/smarthome-monitor/pkg/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// NewHandler upgrades authenticated requests to websocket connections and
// registers them with the registry for the lifetime of the connection.
func NewHandler(logger zerolog.Logger, registry realtime.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := auth.GetUserFromContext(r.Context())
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error().Err(err).Msg("websocket upgrade failed")
			return
		}

		c := &client{
			id:        uuid.NewString(),
			identity:  identity,
			ws:        ws,
			send:      make(chan []byte, sendBufferSize),
			done:      make(chan struct{}),
			registry:  registry,
			listeners: map[string]realtime.ListenerID{},
		}
		c.log = logger.With().Str("connection", c.id).Str("user", identity).Logger()

		if err := registry.Register(c, identity); err != nil {
			c.log.Error().Err(err).Msg("failed to register connection")
			ws.Close()
			return
		}

		metrics.Connections.Inc()
		c.log.Debug().Msg("connection registered")

		go c.writePump()
		go c.readPump()
	}
}

type client struct {
	id        string
	identity  string
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	registry  realtime.Registry
	log       zerolog.Logger

	// listeners is only touched by readPump.
	listeners map[string]realtime.ListenerID
}

func (c *client) ID() string {
	return c.id
}

// Send queues an event frame. It never blocks; a closed connection or a full
// queue yields realtime.ErrUnavailable.
func (c *client) Send(ctx context.Context, event string, payload []byte) error {
	b, err := json.Marshal(types.HubMessage{Type: types.HubEvent, Event: event, Data: payload})
	if err != nil {
		return err
	}

	return c.enqueue(b)
}

func (c *client) enqueue(b []byte) error {
	select {
	case <-c.done:
		return realtime.ErrUnavailable
	default:
	}

	select {
	case c.send <- b:
		return nil
	default:
		return realtime.ErrUnavailable
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *client) readPump() {
	defer func() {
		c.registry.Unregister(c)
		c.close()
		c.ws.Close()
		metrics.Connections.Dec()
		c.log.Debug().Msg("connection unregistered")
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Warn().Err(err).Msg("websocket read error")
			}
			return
		}

		msg := types.HubMessage{}
		if err := json.Unmarshal(message, &msg); err != nil || msg.Event == "" {
			c.reject("malformed frame")
			continue
		}

		switch msg.Type {
		case types.HubSubscribe:
			c.subscribe(msg.Event)
		case types.HubUnsubscribe:
			c.unsubscribe(msg.Event)
		default:
			c.reject("unknown frame type " + msg.Type)
		}
	}
}

func (c *client) subscribe(event string) {
	if _, ok := c.listeners[event]; ok {
		return
	}

	id, err := c.registry.AddListener(c, event, realtime.Forward(c))
	if err != nil {
		c.log.Error().Err(err).Str("event", event).Msg("failed to add listener")
		return
	}

	c.listeners[event] = id
}

func (c *client) unsubscribe(event string) {
	id, ok := c.listeners[event]
	if !ok {
		return
	}

	c.registry.RemoveListener(c, event, id)
	delete(c.listeners, event)
}

func (c *client) reject(reason string) {
	b, _ := json.Marshal(types.HubMessage{Type: types.HubError, Error: reason})
	if err := c.enqueue(b); err != nil {
		c.log.Debug().Str("reason", reason).Msg("could not send error frame")
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Debug().Err(err).Msg("websocket write failed")
				c.close()
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
