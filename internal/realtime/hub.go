package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"wartable/internal/game"
	"wartable/internal/live"
)

const (
	writeWait = 10 * time.Second
	joinWait  = 10 * time.Second
)

// VerifyFunc resolves a bearer token to a participant profile.
type VerifyFunc func(token string) (game.Participant, error)

// Hub relays ephemeral session events between connected peers and fans out
// durable row-change notifications. Rooms are keyed by topic; a sender never
// receives its own broadcast back.
type Hub struct {
	logger   *slog.Logger
	verify   VerifyFunc
	upgrader websocket.Upgrader

	mu    sync.Mutex
	rooms map[string]map[*peer]struct{}
}

type peer struct {
	id      string
	profile game.Participant
	conn    *websocket.Conn
	mu      sync.Mutex
}

func (p *peer) send(env Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteJSON(env)
}

// NewHub constructs a relay hub whose join handshakes are checked by verify.
func NewHub(logger *slog.Logger, verify VerifyFunc) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger,
		verify: verify,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		rooms: make(map[string]map[*peer]struct{}),
	}
}

// HandleWS upgrades the connection and serves the relay protocol until the
// peer disconnects. The first frame must be a join carrying a valid bearer
// token and a topic.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	var join Envelope
	_ = conn.SetReadDeadline(time.Now().Add(joinWait))
	if err := conn.ReadJSON(&join); err != nil || join.Type != frameJoin || join.Topic == "" {
		_ = conn.WriteJSON(Envelope{Type: frameError, Error: "expected join frame"})
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	profile, err := h.verify(join.Token)
	if err != nil {
		_ = conn.WriteJSON(Envelope{Type: frameError, Error: "unauthorized"})
		return
	}
	if join.Name != "" {
		profile.Name = join.Name
	}

	p := &peer{id: join.Sender, profile: profile, conn: conn}
	if p.id == "" {
		p.id = uuid.NewString()
	}

	h.register(join.Topic, p)
	defer h.unregister(join.Topic, p)

	if err := p.send(Envelope{Type: frameJoined, Topic: join.Topic, Sender: p.id}); err != nil {
		return
	}
	h.broadcastRoster(join.Topic)

	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		switch env.Type {
		case frameBroadcast:
			env.Topic = join.Topic
			env.Sender = p.id
			h.relay(join.Topic, p, env)
		case frameAuth:
			// Re-authenticate in place so a token rotation does not drop
			// presence mid-session.
			if _, err := h.verify(env.Token); err != nil {
				_ = p.send(Envelope{Type: frameError, Error: "unauthorized"})
				return
			}
		}
	}
}

// PublishRowChange pushes a durable row notification to every member of the
// session's room, the writer included. Implements the store's RowSink.
func (h *Hub) PublishRowChange(sessionID, table string, op live.RowOp, row any) {
	raw, err := json.Marshal(row)
	if err != nil {
		h.logger.Error("marshal row change", slog.String("table", table), slog.String("error", err.Error()))
		return
	}
	payload, err := json.Marshal(live.RowChange{Op: op, Table: table, Row: raw})
	if err != nil {
		h.logger.Error("marshal row change envelope", slog.String("error", err.Error()))
		return
	}
	topic := SessionTopic(sessionID)
	env := Envelope{Type: frameRowChange, Topic: topic, Payload: payload}
	for _, p := range h.members(topic) {
		if err := p.send(env); err != nil {
			h.logger.Warn("row change send", slog.String("topic", topic), slog.String("error", err.Error()))
		}
	}
}

func (h *Hub) register(topic string, p *peer) {
	h.mu.Lock()
	if h.rooms[topic] == nil {
		h.rooms[topic] = make(map[*peer]struct{})
	}
	h.rooms[topic][p] = struct{}{}
	count := len(h.rooms[topic])
	h.mu.Unlock()
	h.logger.Info("peer joined", slog.String("topic", topic), slog.Int("peers", count))
}

func (h *Hub) unregister(topic string, p *peer) {
	h.mu.Lock()
	peers := h.rooms[topic]
	if peers != nil {
		delete(peers, p)
		if len(peers) == 0 {
			delete(h.rooms, topic)
		}
	}
	count := len(peers)
	h.mu.Unlock()
	h.logger.Info("peer left", slog.String("topic", topic), slog.Int("peers", count))
	h.broadcastRoster(topic)
}

// members copies the room membership so sends happen outside the lock.
func (h *Hub) members(topic string) []*peer {
	h.mu.Lock()
	defer h.mu.Unlock()
	peers := make([]*peer, 0, len(h.rooms[topic]))
	for p := range h.rooms[topic] {
		peers = append(peers, p)
	}
	return peers
}

func (h *Hub) relay(topic string, from *peer, env Envelope) {
	for _, p := range h.members(topic) {
		if p == from {
			continue
		}
		if err := p.send(env); err != nil {
			h.logger.Warn("relay send", slog.String("topic", topic), slog.String("error", err.Error()))
		}
	}
}

func (h *Hub) broadcastRoster(topic string) {
	members := h.members(topic)
	roster := make([]game.Participant, 0, len(members))
	for _, p := range members {
		roster = append(roster, p.profile)
	}
	payload, err := json.Marshal(map[string]any{"participants": roster})
	if err != nil {
		h.logger.Error("marshal roster", slog.String("error", err.Error()))
		return
	}
	env := Envelope{Type: frameBroadcast, Topic: topic, Event: string(live.EventUpdateParticipants), Payload: payload}
	for _, p := range members {
		if err := p.send(env); err != nil {
			h.logger.Warn("roster send", slog.String("topic", topic), slog.String("error", err.Error()))
		}
	}
}
