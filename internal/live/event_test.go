package live

import (
	"testing"

	"wartable/internal/game"
)

func TestDecodeEventTotality(t *testing.T) {
	cases := []struct {
		name    string
		kind    string
		payload string
	}{
		{"unknown kind", "explode-map", `{}`},
		{"empty kind", "", `{}`},
		{"move without token id", string(EventMoveToken), `{"x": 1, "y": 2}`},
		{"move with junk payload", string(EventMoveToken), `"zap"`},
		{"map with junk payload", string(EventUpdateMap), `[1,2,3]`},
		{"battle without id", string(EventUpdateBattle), `{"name": "nameless"}`},
		{"chat with junk payload", string(EventAddChatLine), `12`},
		{"participants junk", string(EventUpdateParticipants), `"no"`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, ok := DecodeEvent(tc.kind, []byte(tc.payload)); ok {
				t.Fatalf("DecodeEvent(%q, %q) unexpectedly ok", tc.kind, tc.payload)
			}
		})
	}
}

func TestDecodeEventRoundTrip(t *testing.T) {
	ev := Event{Kind: EventMoveToken, Move: &MoveToken{TokenID: "t1", X: 2, Y: 3}}
	kind, payload, err := EncodeEvent(ev)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, ok := DecodeEvent(kind, payload)
	if !ok {
		t.Fatalf("decode failed")
	}
	if got.Move.TokenID != "t1" || got.Move.X != 2 || got.Move.Y != 3 {
		t.Fatalf("round trip mangled payload: %+v", got.Move)
	}
}

func TestDecodeEventNormalizesMapTokens(t *testing.T) {
	raw := []byte(`{"tokens": [{"kind": "lich", "x": "far"}]}`)
	ev, ok := DecodeEvent(string(EventUpdateMap), raw)
	if !ok {
		t.Fatalf("decode failed")
	}
	tok := ev.Map.Tokens[0]
	if tok.ID == "" || tok.Kind != game.KindPC || tok.X != 0 {
		t.Fatalf("token not re-normalized: %+v", tok)
	}
}

func TestEncodeEventRejectsMissingPayloads(t *testing.T) {
	for _, ev := range []Event{
		{Kind: EventMoveToken},
		{Kind: EventUpdateMap},
		{Kind: EventUpdateBattle},
		{Kind: "bogus"},
	} {
		if _, _, err := EncodeEvent(ev); err == nil {
			t.Fatalf("EncodeEvent(%+v) unexpectedly succeeded", ev)
		}
	}
}

func TestEncodeChatLine(t *testing.T) {
	kind, payload, err := EncodeEvent(Event{Kind: EventAddChatLine, Line: "Hero moved to C4"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if kind != "add-chat-line" {
		t.Fatalf("kind = %q", kind)
	}
	got, ok := DecodeEvent(kind, payload)
	if !ok || got.Line != "Hero moved to C4" {
		t.Fatalf("round trip = %+v, ok=%v", got, ok)
	}
}
