package game

import (
	"encoding/json"
	"testing"
)

func TestNormalizeTokenTotality(t *testing.T) {
	cases := []struct {
		name string
		raw  map[string]any
	}{
		{"nil input", nil},
		{"empty object", map[string]any{}},
		{"wrong types", map[string]any{"id": 42, "kind": true, "x": "left", "y": nil, "name": 7, "stats": "none"}},
		{"unknown kind", map[string]any{"id": "t1", "kind": "dragon"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tok := NormalizeToken(tc.raw)
			if tok.ID == "" {
				t.Fatalf("expected non-empty id")
			}
			if tok.Kind != KindPC && tok.Kind != KindMonster {
				t.Fatalf("unexpected kind %q", tok.Kind)
			}
			if tok.Name == "" {
				t.Fatalf("expected non-empty name")
			}
			if tok.Stats == nil {
				t.Fatalf("expected non-nil stat bag")
			}
		})
	}
}

func TestNormalizeTokenKeepsValidFields(t *testing.T) {
	tok := NormalizeToken(map[string]any{
		"id":    "t1",
		"kind":  "monster",
		"x":     float64(3),
		"y":     float64(4),
		"name":  "Goblin",
		"stats": map[string]any{"hp": float64(7)},
	})
	if tok.ID != "t1" || tok.Kind != KindMonster || tok.X != 3 || tok.Y != 4 || tok.Name != "Goblin" {
		t.Fatalf("unexpected token: %+v", tok)
	}
	if tok.Stats["hp"] != float64(7) {
		t.Fatalf("stat bag dropped: %+v", tok.Stats)
	}
}

func TestNormalizeTokenDefaults(t *testing.T) {
	tok := NormalizeToken(map[string]any{})
	if tok.Kind != KindPC {
		t.Fatalf("kind = %q, want pc", tok.Kind)
	}
	if tok.X != 0 || tok.Y != 0 {
		t.Fatalf("position = (%d,%d), want (0,0)", tok.X, tok.Y)
	}
	if tok.Name != PlaceholderName {
		t.Fatalf("name = %q, want placeholder", tok.Name)
	}
}

func TestDecodeMapNormalizesTokens(t *testing.T) {
	raw := []byte(`{"gridSize": 10, "tokens": [{"x": 99, "y": -5, "kind": "wizard"}, {"id": "t2", "name": "Rook"}]}`)
	m := DecodeMap(raw)
	if m == nil {
		t.Fatalf("DecodeMap returned nil")
	}
	if m.GridSize != 10 {
		t.Fatalf("grid size = %d", m.GridSize)
	}
	if len(m.Tokens) != 2 {
		t.Fatalf("token count = %d", len(m.Tokens))
	}
	first := m.Tokens[0]
	if first.X != 9 || first.Y != 0 {
		t.Fatalf("token not clamped: (%d,%d)", first.X, first.Y)
	}
	if first.Kind != KindPC {
		t.Fatalf("bad kind not coerced: %q", first.Kind)
	}
	if first.ID == "" {
		t.Fatalf("missing id not synthesized")
	}
	if m.Tokens[1].ID != "t2" || m.Tokens[1].Name != "Rook" {
		t.Fatalf("valid token mangled: %+v", m.Tokens[1])
	}
}

func TestDecodeMapDefaultsGridSize(t *testing.T) {
	m := DecodeMap([]byte(`{}`))
	if m == nil || m.GridSize != DefaultGridSize {
		t.Fatalf("expected default grid size, got %+v", m)
	}
	if m.Terrain == nil || m.Tokens == nil {
		t.Fatalf("expected non-nil collections")
	}
}

func TestDecodeMapRejectsGarbage(t *testing.T) {
	if m := DecodeMap([]byte(`"not an object"`)); m != nil {
		t.Fatalf("expected nil, got %+v", m)
	}
	if m := DecodeMap([]byte(`{{{`)); m != nil {
		t.Fatalf("expected nil, got %+v", m)
	}
}

func TestDecodeBattleFillsCollections(t *testing.T) {
	b := DecodeBattle([]byte(`{"id": "b1", "sessionId": "s1", "name": "Ambush"}`))
	if b == nil {
		t.Fatalf("DecodeBattle returned nil")
	}
	if b.Monsters == nil || b.Allies == nil || b.Log == nil || b.Initiative == nil {
		t.Fatalf("expected non-nil collections: %+v", b)
	}
}

func TestBattleCloneIsIndependent(t *testing.T) {
	b := &Battle{ID: "b1", Log: []string{"a"}, Initiative: map[string]int{"t1": 12}}
	c := b.Clone()
	c.Log = append(c.Log, "b")
	c.Initiative["t2"] = 3
	if len(b.Log) != 1 || len(b.Initiative) != 1 {
		t.Fatalf("clone aliased original: %+v", b)
	}
}

func TestMapRoundTripJSON(t *testing.T) {
	m := &Map{ID: "m1", SessionID: "s1", GridSize: 20, Terrain: map[string]string{"B2": "wall"}, Tokens: []Token{{ID: "t1", Kind: KindPC, Name: "Hero", Stats: map[string]any{}}}}
	raw, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got := DecodeMap(raw)
	if got == nil || got.Terrain["B2"] != "wall" || got.Tokens[0].ID != "t1" {
		t.Fatalf("round trip mangled map: %+v", got)
	}
}
