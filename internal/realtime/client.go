package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"wartable/internal/live"
)

// ErrNotJoined is returned when publishing without an open room.
var ErrNotJoined = errors.New("realtime: not joined to a session")

// Client is the consumer-side channel: it dials the relay, joins one session
// room at a time and adapts wire frames to synchronizer callbacks. It
// implements live.Channel.
type Client struct {
	logger   *slog.Logger
	baseURL  string
	token    func() string
	name     string
	senderID string

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewClient builds a channel client. token is read at join and re-auth time
// so a refreshed credential is picked up automatically.
func NewClient(logger *slog.Logger, baseURL string, token func() string, name string) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		logger:   logger,
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		name:     name,
		senderID: uuid.NewString(),
	}
}

// Join dials the relay, performs the join handshake for the session room and
// starts dispatching inbound frames to the callbacks. Any previously joined
// room is dropped first.
func (c *Client) Join(ctx context.Context, sessionID string, onEvent func(live.Event), onRow func(live.RowChange)) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, wsURL(c.baseURL)+"/realtime", nil)
	if err != nil {
		return fmt.Errorf("dial relay: %w", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	join := Envelope{
		Type:   frameJoin,
		Topic:  SessionTopic(sessionID),
		Token:  c.token(),
		Sender: c.senderID,
		Name:   c.name,
	}
	if err := conn.WriteJSON(join); err != nil {
		conn.Close()
		return fmt.Errorf("send join: %w", err)
	}

	var ack Envelope
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		return fmt.Errorf("read join ack: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})
	if ack.Type != frameJoined {
		conn.Close()
		return fmt.Errorf("join rejected: %s", ack.Error)
	}

	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn, onEvent, onRow)
	return nil
}

// Leave closes the current room connection, if any.
func (c *Client) Leave(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Publish broadcasts an event to the session's peers. Best-effort: the relay
// does not acknowledge broadcasts.
func (c *Client) Publish(ctx context.Context, sessionID string, ev live.Event) error {
	kind, payload, err := live.EncodeEvent(ev)
	if err != nil {
		return err
	}
	env := Envelope{
		Type:    frameBroadcast,
		Topic:   SessionTopic(sessionID),
		Event:   kind,
		Sender:  c.senderID,
		Payload: payload,
	}
	return c.write(env)
}

// ReAuth swaps the relay credential in place without dropping the room
// subscription.
func (c *Client) ReAuth(token string) error {
	return c.write(Envelope{Type: frameAuth, Token: token})
}

func (c *Client) write(env Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotJoined
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(env)
}

func (c *Client) readLoop(conn *websocket.Conn, onEvent func(live.Event), onRow func(live.RowChange)) {
	defer conn.Close()
	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		switch env.Type {
		case frameBroadcast:
			// The relay does not echo, but drop self frames anyway in case
			// of a misconfigured relay.
			if env.Sender != "" && env.Sender == c.senderID {
				continue
			}
			ev, ok := live.DecodeEvent(env.Event, env.Payload)
			if !ok {
				c.logger.Warn("dropping malformed event", slog.String("event", env.Event))
				continue
			}
			onEvent(ev)
		case frameRowChange:
			var rc live.RowChange
			if err := json.Unmarshal(env.Payload, &rc); err != nil {
				c.logger.Warn("dropping malformed row change", slog.String("error", err.Error()))
				continue
			}
			onRow(rc)
		case frameError:
			c.logger.Warn("relay error", slog.String("error", env.Error))
		}
	}
}

func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}
