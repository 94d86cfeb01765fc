package game

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PlaceholderName is assigned to tokens that arrive without a name.
const PlaceholderName = "Unnamed"

// NormalizeToken coerces a loosely-typed inbound record into a canonical
// Token. It is total: any input, including nil, produces a valid token with a
// non-empty id, a kind in {monster, pc}, numeric positions and a stat bag.
func NormalizeToken(raw map[string]any) Token {
	t := Token{
		Kind:  KindPC,
		Name:  PlaceholderName,
		Stats: map[string]any{},
	}
	if raw == nil {
		t.ID = uuid.NewString()
		return t
	}
	if id, ok := raw["id"].(string); ok && id != "" {
		t.ID = id
	} else {
		t.ID = uuid.NewString()
	}
	if kind, ok := raw["kind"].(string); ok {
		if kind == string(KindMonster) || kind == string(KindPC) {
			t.Kind = TokenKind(kind)
		}
	}
	t.X = intField(raw, "x")
	t.Y = intField(raw, "y")
	if name, ok := raw["name"].(string); ok && name != "" {
		t.Name = name
	}
	if img, ok := raw["image"].(string); ok {
		t.Image = img
	}
	if stats, ok := raw["stats"].(map[string]any); ok {
		t.Stats = stats
	}
	return t
}

func intField(raw map[string]any, key string) int {
	switch v := raw[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return 0
}

// DecodeMap coerces an untrusted map record. Every token is re-normalized
// through NormalizeToken and clamped to the grid. Returns nil only when the
// payload is not a decodable JSON object.
func DecodeMap(raw []byte) *Map {
	var rec struct {
		ID         string            `json:"id"`
		SessionID  string            `json:"sessionId"`
		GridSize   int               `json:"gridSize"`
		Terrain    map[string]string `json:"terrain"`
		Background string            `json:"background"`
		Tokens     []map[string]any  `json:"tokens"`
		CreatedAt  time.Time         `json:"createdAt"`
		UpdatedAt  time.Time         `json:"updatedAt"`
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil
	}
	m := &Map{
		ID:         rec.ID,
		SessionID:  rec.SessionID,
		GridSize:   rec.GridSize,
		Terrain:    rec.Terrain,
		Background: rec.Background,
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	}
	if m.GridSize <= 0 {
		m.GridSize = DefaultGridSize
	}
	if m.Terrain == nil {
		m.Terrain = map[string]string{}
	}
	m.Tokens = make([]Token, 0, len(rec.Tokens))
	for _, rt := range rec.Tokens {
		t := NormalizeToken(rt)
		t.Clamp(m.GridSize)
		m.Tokens = append(m.Tokens, t)
	}
	return m
}

// DecodeBattle coerces an untrusted battle row into a Battle with non-nil
// collections. Returns nil when the payload is not a decodable JSON object.
func DecodeBattle(raw []byte) *Battle {
	var b Battle
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil
	}
	if b.Monsters == nil {
		b.Monsters = []Entity{}
	}
	if b.Allies == nil {
		b.Allies = []Entity{}
	}
	if b.Log == nil {
		b.Log = []string{}
	}
	if b.Initiative == nil {
		b.Initiative = map[string]int{}
	}
	return &b
}
