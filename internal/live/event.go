// Package live keeps one client's view of a shared session consistent: it
// merges local commands, peer broadcasts and durable row-change notifications
// into a single session state owned by the Synchronizer.
package live

import (
	"encoding/json"
	"errors"
	"fmt"

	"wartable/internal/game"
)

// EventKind tags the five peer event flavors.
type EventKind string

const (
	EventMoveToken          EventKind = "move-token"
	EventUpdateMap          EventKind = "update-map"
	EventAddChatLine        EventKind = "add-chat-line"
	EventUpdateBattle       EventKind = "update-battle"
	EventUpdateParticipants EventKind = "update-participants"
)

// MoveToken repositions one token by id.
type MoveToken struct {
	TokenID string `json:"tokenId"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
}

// ChatLine carries one activity-log line.
type ChatLine struct {
	Text string `json:"text"`
}

type participantsPayload struct {
	Participants []game.Participant `json:"participants"`
}

// Event is the tagged union of everything a peer can broadcast. Exactly one
// payload field is meaningful, selected by Kind.
type Event struct {
	Kind         EventKind
	Move         *MoveToken
	Map          *game.Map
	Line         string
	Battle       *game.Battle
	Participants []game.Participant
}

// DecodeEvent turns a wire event into the tagged union. It is total: unknown
// kinds and malformed payloads report ok=false instead of failing, and token
// and map payloads are re-normalized on the way in since peers are untrusted.
func DecodeEvent(kind string, payload []byte) (Event, bool) {
	switch EventKind(kind) {
	case EventMoveToken:
		var mv MoveToken
		if err := json.Unmarshal(payload, &mv); err != nil || mv.TokenID == "" {
			return Event{}, false
		}
		return Event{Kind: EventMoveToken, Move: &mv}, true
	case EventUpdateMap:
		m := game.DecodeMap(payload)
		if m == nil {
			return Event{}, false
		}
		return Event{Kind: EventUpdateMap, Map: m}, true
	case EventAddChatLine:
		var cl ChatLine
		if err := json.Unmarshal(payload, &cl); err != nil {
			return Event{}, false
		}
		return Event{Kind: EventAddChatLine, Line: cl.Text}, true
	case EventUpdateBattle:
		b := game.DecodeBattle(payload)
		if b == nil || b.ID == "" {
			return Event{}, false
		}
		return Event{Kind: EventUpdateBattle, Battle: b}, true
	case EventUpdateParticipants:
		var pp participantsPayload
		if err := json.Unmarshal(payload, &pp); err != nil {
			return Event{}, false
		}
		return Event{Kind: EventUpdateParticipants, Participants: pp.Participants}, true
	}
	return Event{}, false
}

// EncodeEvent renders an event for the wire: the kind string plus a JSON
// payload.
func EncodeEvent(ev Event) (string, []byte, error) {
	var payload any
	switch ev.Kind {
	case EventMoveToken:
		if ev.Move == nil {
			return "", nil, errors.New("live: move-token event without payload")
		}
		payload = ev.Move
	case EventUpdateMap:
		if ev.Map == nil {
			return "", nil, errors.New("live: update-map event without payload")
		}
		payload = ev.Map
	case EventAddChatLine:
		payload = ChatLine{Text: ev.Line}
	case EventUpdateBattle:
		if ev.Battle == nil {
			return "", nil, errors.New("live: update-battle event without payload")
		}
		payload = ev.Battle
	case EventUpdateParticipants:
		payload = participantsPayload{Participants: ev.Participants}
	default:
		return "", nil, fmt.Errorf("live: unknown event kind %q", ev.Kind)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", nil, fmt.Errorf("marshal %s payload: %w", ev.Kind, err)
	}
	return string(ev.Kind), raw, nil
}

// RowOp distinguishes durable row notifications.
type RowOp string

const (
	RowInsert RowOp = "INSERT"
	RowUpdate RowOp = "UPDATE"
)

// Tables the synchronizer watches on the row feed.
const (
	TableBattles      = "battles"
	TableChatMessages = "chat_messages"
)

// RowChange is one durable-store notification: a raw snapshot of an inserted
// or updated row. Shape validation is entirely the receiver's job.
type RowChange struct {
	Op    RowOp           `json:"op"`
	Table string          `json:"table"`
	Row   json.RawMessage `json:"row"`
}
