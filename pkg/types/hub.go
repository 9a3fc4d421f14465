package types

import "encoding/json"

// Frame types exchanged over the hub websocket.
const (
	HubSubscribe   string = "subscribe"
	HubUnsubscribe string = "unsubscribe"
	HubEvent       string = "event"
	HubError       string = "error"
)

type HubMessage struct {
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}
