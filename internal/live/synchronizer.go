package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"wartable/internal/game"
	"wartable/internal/grid"
)

// ErrNotLive is returned by commands that need a live session.
var ErrNotLive = errors.New("live: no live session")

// Synchronizer merges local commands, peer broadcasts and durable row-change
// notifications into one client-local session state. One instance serves one
// consumer (the equivalent of a browser tab); the rendering layer reads
// through View and never mutates.
//
// A single mutex serializes commands and inbound events, so no two events are
// ever applied concurrently. Network calls never run under the lock.
type Synchronizer struct {
	logger   *slog.Logger
	snaps    Snapshotter
	channel  Channel
	appender LogAppender
	outbox   *Outbox

	// Notify, when set before the first Select, is called with the lock
	// released after every state mutation so the rendering layer can repaint.
	Notify func()

	mu        sync.Mutex
	phase     Phase
	sessionID string
	epoch     uint64
	state     *State
	errMsg    string
}

// New constructs an idle Synchronizer.
func New(logger *slog.Logger, snaps Snapshotter, channel Channel, appender LogAppender) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{
		logger:   logger,
		snaps:    snaps,
		channel:  channel,
		appender: appender,
		outbox:   NewOutbox(logger),
		phase:    PhaseIdle,
		state:    &State{},
	}
}

// Phase reports the current lifecycle phase.
func (s *Synchronizer) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Err reports the user-visible error message, empty unless phase is error.
func (s *Synchronizer) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

// View returns a copy of the session state safe for rendering.
func (s *Synchronizer) View() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Select switches the synchronizer to a session. Re-selecting the session
// that is already loading or live is a no-op. The previous session's channel
// subscription and state are torn down unconditionally before the new
// snapshot is fetched; a slow fetch for a since-abandoned selection is
// discarded by an epoch check rather than cancelled.
func (s *Synchronizer) Select(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	if sessionID == s.sessionID && (s.phase == PhaseLoading || s.phase == PhaseLive) {
		s.mu.Unlock()
		return nil
	}
	if s.sessionID != "" {
		s.channel.Leave(s.sessionID)
	}
	s.epoch++
	epoch := s.epoch
	s.sessionID = sessionID
	s.phase = PhaseLoading
	s.state = &State{}
	s.errMsg = ""
	s.mu.Unlock()
	s.notifyUI()

	snap, err := s.snaps.Snapshot(ctx, sessionID)

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		s.phase = PhaseError
		s.errMsg = "failed to load session: " + err.Error()
		s.mu.Unlock()
		s.notifyUI()
		return fmt.Errorf("load session %s: %w", sessionID, err)
	}
	s.state.Session = snap.Session
	s.state.Map = snap.Map
	s.state.Battles = append([]game.Battle(nil), snap.Battles...)
	s.mu.Unlock()

	err = s.channel.Join(ctx, sessionID, s.HandleEvent, s.HandleRowChange)

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		if err == nil {
			s.channel.Leave(sessionID)
		}
		return nil
	}
	if err != nil {
		// Loaded but not live is still broken: without the channel, peer
		// updates would never arrive.
		s.phase = PhaseError
		s.errMsg = "realtime channel unavailable: " + err.Error()
		s.mu.Unlock()
		s.notifyUI()
		return fmt.Errorf("join channel for %s: %w", sessionID, err)
	}
	s.phase = PhaseLive
	s.mu.Unlock()
	s.notifyUI()
	return nil
}

// Deselect tears down the current session and returns to idle.
func (s *Synchronizer) Deselect() {
	s.mu.Lock()
	if s.sessionID != "" {
		s.channel.Leave(s.sessionID)
	}
	s.epoch++
	s.sessionID = ""
	s.phase = PhaseIdle
	s.state = &State{}
	s.errMsg = ""
	s.mu.Unlock()
	s.notifyUI()
}

// Close deselects and stops the outbox worker.
func (s *Synchronizer) Close() {
	s.Deselect()
	s.outbox.Close()
}

// Emit publishes an event to peers. It does not touch local state: the
// channel never echoes a sender's events back, so callers apply their own
// optimistic change before emitting.
func (s *Synchronizer) Emit(ctx context.Context, ev Event) error {
	s.mu.Lock()
	sessionID := s.sessionID
	phase := s.phase
	s.mu.Unlock()
	if phase != PhaseLive {
		return ErrNotLive
	}
	return s.channel.Publish(ctx, sessionID, ev)
}

// MoveTokenAndLog moves a token on the local map, records the move in the
// activity log (suppressing a line identical to the immediately preceding
// one), broadcasts the log line and the move to peers, and queues the durable
// log append. The broadcasts and the append are best-effort: a failure is
// logged and swallowed because peers converge through the row feed on their
// next read.
func (s *Synchronizer) MoveTokenAndLog(ctx context.Context, tokenID string, x, y int) {
	s.mu.Lock()
	if s.phase != PhaseLive || s.state.Map == nil {
		s.mu.Unlock()
		return
	}
	idx := -1
	for i := range s.state.Map.Tokens {
		if s.state.Map.Tokens[i].ID == tokenID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		s.logger.Warn("move for unknown token", slog.String("token", tokenID))
		return
	}
	name := s.state.Map.Tokens[idx].Name
	s.state.Map.Tokens[idx].X = x
	s.state.Map.Tokens[idx].Y = y
	line := fmt.Sprintf("%s moved to %s", name, grid.Encode(x, y))
	s.appendLineLocked(line)
	sessionID := s.sessionID
	var battleID string
	if s.state.ActiveBattle != nil {
		battleID = s.state.ActiveBattle.ID
	}
	s.mu.Unlock()
	s.notifyUI()

	if err := s.channel.Publish(ctx, sessionID, Event{Kind: EventAddChatLine, Line: line}); err != nil {
		s.logger.Warn("broadcast chat line", slog.String("error", err.Error()))
	}
	if battleID != "" {
		msg := line
		s.outbox.Enqueue("append-log", func(ctx context.Context) error {
			return s.appender.AppendLog(ctx, battleID, msg)
		})
	}
	if err := s.channel.Publish(ctx, sessionID, Event{Kind: EventMoveToken, Move: &MoveToken{TokenID: tokenID, X: x, Y: y}}); err != nil {
		s.logger.Warn("broadcast token move", slog.String("error", err.Error()))
	}
}

// HandleEvent merges one inbound peer event. Events for unknown tokens or a
// non-active battle are dropped silently; the merge is idempotent so peers
// converge regardless of arrival order.
func (s *Synchronizer) HandleEvent(ev Event) {
	s.mu.Lock()
	changed := s.applyEvent(ev)
	s.mu.Unlock()
	if changed {
		s.notifyUI()
	}
}

func (s *Synchronizer) applyEvent(ev Event) bool {
	switch ev.Kind {
	case EventMoveToken:
		if ev.Move == nil || s.state.Map == nil {
			return false
		}
		for i := range s.state.Map.Tokens {
			if s.state.Map.Tokens[i].ID == ev.Move.TokenID {
				s.state.Map.Tokens[i].X = ev.Move.X
				s.state.Map.Tokens[i].Y = ev.Move.Y
				return true
			}
		}
		return false
	case EventUpdateMap:
		if ev.Map == nil {
			return false
		}
		s.state.Map = ev.Map
		return true
	case EventAddChatLine:
		return s.appendLineLocked(ev.Line)
	case EventUpdateBattle:
		if ev.Battle == nil {
			return false
		}
		if s.state.ActiveBattle != nil && s.state.ActiveBattle.ID == ev.Battle.ID {
			s.state.ActiveBattle = ev.Battle
			return true
		}
		return false
	case EventUpdateParticipants:
		s.state.Participants = ev.Participants
		return true
	}
	return false
}

// HandleRowChange merges one durable row notification. A battle insert may
// adopt the battle as active and seed an empty activity log from its
// persisted log; a battle update replaces rows but never touches the activity
// log, since updates are routine field patches and must not reset the user's
// view of history. Chat rows append once per id, in arrival order.
func (s *Synchronizer) HandleRowChange(rc RowChange) {
	s.mu.Lock()
	changed := s.applyRowChange(rc)
	s.mu.Unlock()
	if changed {
		s.notifyUI()
	}
}

func (s *Synchronizer) applyRowChange(rc RowChange) bool {
	switch rc.Table {
	case TableBattles:
		b := game.DecodeBattle(rc.Row)
		if b == nil || b.ID == "" {
			return false
		}
		if b.SessionID != "" && b.SessionID != s.sessionID {
			return false
		}
		switch rc.Op {
		case RowInsert:
			return s.mergeBattleInsert(b)
		case RowUpdate:
			return s.mergeBattleUpdate(b)
		}
		return false
	case TableChatMessages:
		if rc.Op != RowInsert {
			return false
		}
		var msg game.ChatMessage
		if err := json.Unmarshal(rc.Row, &msg); err != nil || msg.ID == "" {
			return false
		}
		for _, existing := range s.state.Chat {
			if existing.ID == msg.ID {
				return false
			}
		}
		s.state.Chat = append(s.state.Chat, msg)
		return true
	}
	return false
}

func (s *Synchronizer) mergeBattleInsert(b *game.Battle) bool {
	for _, existing := range s.state.Battles {
		if existing.ID == b.ID {
			return false
		}
	}
	s.state.Battles = append([]game.Battle{*b}, s.state.Battles...)
	if s.state.ActiveBattle == nil {
		s.state.ActiveBattle = b
		if len(s.state.Log) == 0 && len(b.Log) > 0 {
			s.state.Log = append([]string(nil), b.Log...)
		}
	}
	return true
}

func (s *Synchronizer) mergeBattleUpdate(b *game.Battle) bool {
	changed := false
	for i := range s.state.Battles {
		if s.state.Battles[i].ID == b.ID {
			s.state.Battles[i] = *b
			changed = true
			break
		}
	}
	if s.state.ActiveBattle != nil && s.state.ActiveBattle.ID == b.ID {
		s.state.ActiveBattle = b
		changed = true
	}
	return changed
}

// appendLineLocked appends to the activity log unless the line exactly equals
// the current last entry. The adjacent-only heuristic is deliberate: it is
// what guards rapid repeated drags and echoed broadcasts, nothing stronger.
func (s *Synchronizer) appendLineLocked(line string) bool {
	if n := len(s.state.Log); n > 0 && s.state.Log[n-1] == line {
		return false
	}
	s.state.Log = append(s.state.Log, line)
	return true
}

func (s *Synchronizer) notifyUI() {
	if s.Notify != nil {
		s.Notify()
	}
}
