package live

import (
	"context"

	"wartable/internal/game"
)

// Phase is the synchronizer lifecycle for one session selection.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseLoading
	PhaseLive
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseLoading:
		return "loading"
	case PhaseLive:
		return "live"
	case PhaseError:
		return "error"
	}
	return "unknown"
}

// State is the client-local session aggregate: the map, the battle the client
// currently tracks as active, the recent battle list, the human-readable
// activity log, structured chat, and the connected participant roster. It is
// owned exclusively by one Synchronizer, rebuilt from scratch on every
// session switch and never persisted.
type State struct {
	Session      game.Session
	Map          *game.Map
	ActiveBattle *game.Battle
	Battles      []game.Battle
	Log          []string
	Chat         []game.ChatMessage
	Participants []game.Participant
}

func (st *State) clone() State {
	out := State{
		Session:      st.Session,
		Map:          st.Map.Clone(),
		ActiveBattle: st.ActiveBattle.Clone(),
		Battles:      append([]game.Battle(nil), st.Battles...),
		Log:          append([]string(nil), st.Log...),
		Chat:         append([]game.ChatMessage(nil), st.Chat...),
		Participants: append([]game.Participant(nil), st.Participants...),
	}
	return out
}

// Snapshot is the initial durable fetch for a session selection.
type Snapshot struct {
	Session game.Session
	Map     *game.Map
	Battles []game.Battle
}

// Snapshotter loads the initial snapshot for a session.
type Snapshotter interface {
	Snapshot(ctx context.Context, sessionID string) (*Snapshot, error)
}

// LogAppender durably persists one activity-log line for a battle.
type LogAppender interface {
	AppendLog(ctx context.Context, battleID, message string) error
}

// Channel is the session-scoped realtime transport: peer broadcasts plus the
// durable row-change feed. Implementations must not echo published events
// back through onEvent, and must not invoke callbacks synchronously from
// inside Leave.
type Channel interface {
	Join(ctx context.Context, sessionID string, onEvent func(Event), onRow func(RowChange)) error
	Leave(sessionID string)
	Publish(ctx context.Context, sessionID string, ev Event) error
}
