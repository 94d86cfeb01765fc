// Package realtime is the ephemeral transport for a session: a websocket
// relay hub on the server side and a channel client on the consumer side.
// Broadcasts are fan-out with no persistence guarantee and are never echoed
// to their sender; durable row-change notifications ride the same socket and
// go to every room member.
package realtime

import "encoding/json"

// Frame types exchanged on a session websocket.
const (
	frameJoin      = "join"
	frameJoined    = "joined"
	frameBroadcast = "broadcast"
	frameRowChange = "row_change"
	frameAuth      = "auth"
	frameError     = "error"
)

// Envelope is the wire frame for the relay protocol. Broadcast frames carry
// an event kind plus payload; row_change frames carry a row snapshot; join
// and auth frames carry a bearer token.
type Envelope struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic,omitempty"`
	Event   string          `json:"event,omitempty"`
	Sender  string          `json:"sender,omitempty"`
	Token   string          `json:"token,omitempty"`
	Name    string          `json:"name,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// SessionTopic names the relay room for a session.
func SessionTopic(sessionID string) string {
	return "session:" + sessionID
}
