// Package game defines the shared tabletop domain model: sessions, maps,
// tokens, battles and chat. It also owns the coercion of untrusted
// network records into canonical shapes.
package game

import "time"

// DefaultGridSize is the side length of a map whose size was never set.
const DefaultGridSize = 20

// TokenKind discriminates the two token flavors on a map.
type TokenKind string

const (
	KindMonster TokenKind = "monster"
	KindPC      TokenKind = "pc"
)

// Role names for members and connected participants.
const (
	RoleDM     = "dm"
	RolePlayer = "player"
)

// Token is a positioned entity on a map. The ID is assigned by the creator,
// stays stable for the token's lifetime and is the merge key for all
// synchronization.
type Token struct {
	ID    string         `json:"id"`
	Kind  TokenKind      `json:"kind"`
	X     int            `json:"x"`
	Y     int            `json:"y"`
	Name  string         `json:"name"`
	Image string         `json:"image,omitempty"`
	Stats map[string]any `json:"stats"`
}

// Clamp forces the token position into [0, size) on both axes.
func (t *Token) Clamp(size int) {
	if size <= 0 {
		size = DefaultGridSize
	}
	if t.X < 0 {
		t.X = 0
	} else if t.X >= size {
		t.X = size - 1
	}
	if t.Y < 0 {
		t.Y = 0
	} else if t.Y >= size {
		t.Y = size - 1
	}
}

// Map is the shared battle map of a session: a square grid, sparse terrain
// features keyed by coordinate label, and the tokens placed on it. Any client
// may move a token; last write wins at the field level.
type Map struct {
	ID         string            `json:"id"`
	SessionID  string            `json:"sessionId"`
	GridSize   int               `json:"gridSize"`
	Terrain    map[string]string `json:"terrain"`
	Background string            `json:"background,omitempty"`
	Tokens     []Token           `json:"tokens"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

// Clone returns a copy whose slices and maps are safe to hand to a reader.
func (m *Map) Clone() *Map {
	if m == nil {
		return nil
	}
	out := *m
	out.Terrain = make(map[string]string, len(m.Terrain))
	for k, v := range m.Terrain {
		out.Terrain[k] = v
	}
	out.Tokens = append([]Token(nil), m.Tokens...)
	return &out
}

// Entity is an open-ended combatant record in a battle: structurally similar
// to a Token but richer, with its shape owned by the content generators.
type Entity map[string]any

// Battle is one combat encounter in a session. Its log grows monotonically
// from any single writer's perspective; near-simultaneous identical appends
// from multiple writers are tolerated and deduped on the reading side.
type Battle struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"sessionId"`
	MapID      string         `json:"mapId,omitempty"`
	Name       string         `json:"name"`
	Slug       string         `json:"slug"`
	Monsters   []Entity       `json:"monsters"`
	Allies     []Entity       `json:"allies"`
	Log        []string       `json:"log"`
	Initiative map[string]int `json:"initiative"`
	Background string         `json:"background,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// Clone returns a copy whose slices and maps are safe to hand to a reader.
func (b *Battle) Clone() *Battle {
	if b == nil {
		return nil
	}
	out := *b
	out.Monsters = append([]Entity(nil), b.Monsters...)
	out.Allies = append([]Entity(nil), b.Allies...)
	out.Log = append([]string(nil), b.Log...)
	out.Initiative = make(map[string]int, len(b.Initiative))
	for k, v := range b.Initiative {
		out.Initiative[k] = v
	}
	return &out
}

// Session identifies one shared play area with one map and many battles.
// Created by the DM and never mutated by the sync core.
type Session struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

// ChatMessage is one immutable line of structured session chat, ordered by
// creation time and delivered through the durable row feed.
type ChatMessage struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	AuthorID  string    `json:"authorId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Participant is one connected peer in a session's realtime room.
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// Member is a durable session membership row.
type Member struct {
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	JoinedAt  time.Time `json:"joinedAt"`
}

// Invite grants membership in a session to whoever redeems its code before
// it expires or runs out of uses.
type Invite struct {
	Code      string    `json:"code"`
	SessionID string    `json:"sessionId"`
	Role      string    `json:"role"`
	CreatedBy string    `json:"createdBy"`
	ExpiresAt time.Time `json:"expiresAt"`
	Uses      int       `json:"uses"`
}
