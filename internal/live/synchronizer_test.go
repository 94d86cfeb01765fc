package live

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"wartable/internal/game"
)

type fakeSnapshotter struct {
	mu    sync.Mutex
	calls int
	snaps map[string]*Snapshot
	err   error
	gates map[string]chan struct{}
}

func (f *fakeSnapshotter) Snapshot(ctx context.Context, sessionID string) (*Snapshot, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gates[sessionID]
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if f.err != nil {
		return nil, f.err
	}
	snap, ok := f.snaps[sessionID]
	if !ok {
		return nil, errors.New("session not found")
	}
	return snap, nil
}

func (f *fakeSnapshotter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeChannel struct {
	mu        sync.Mutex
	published []Event
	joined    []string
	left      []string
	joinErr   error
	pubErr    error
	onEvent   func(Event)
	onRow     func(RowChange)
}

func (c *fakeChannel) Join(ctx context.Context, sessionID string, onEvent func(Event), onRow func(RowChange)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.joinErr != nil {
		return c.joinErr
	}
	c.joined = append(c.joined, sessionID)
	c.onEvent = onEvent
	c.onRow = onRow
	return nil
}

func (c *fakeChannel) Leave(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.left = append(c.left, sessionID)
}

func (c *fakeChannel) Publish(ctx context.Context, sessionID string, ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pubErr != nil {
		return c.pubErr
	}
	c.published = append(c.published, ev)
	return nil
}

func (c *fakeChannel) events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.published...)
}

type fakeAppender struct {
	mu    sync.Mutex
	calls []string
	ch    chan string
	err   error
}

func newFakeAppender() *fakeAppender {
	return &fakeAppender{ch: make(chan string, 8)}
}

func (a *fakeAppender) AppendLog(ctx context.Context, battleID, message string) error {
	a.mu.Lock()
	a.calls = append(a.calls, battleID+": "+message)
	a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	select {
	case a.ch <- message:
	default:
	}
	return nil
}

func testSnapshot() *Snapshot {
	return &Snapshot{
		Session: game.Session{ID: "s1", Name: "The Sunken Keep"},
		Map: &game.Map{
			ID:        "m1",
			SessionID: "s1",
			GridSize:  20,
			Terrain:   map[string]string{},
			Tokens: []game.Token{
				{ID: "t1", Kind: game.KindPC, X: 0, Y: 0, Name: "Hero", Stats: map[string]any{}},
			},
		},
	}
}

func newTestSync(t *testing.T) (*Synchronizer, *fakeChannel, *fakeAppender) {
	t.Helper()
	snaps := &fakeSnapshotter{snaps: map[string]*Snapshot{"s1": testSnapshot()}}
	ch := &fakeChannel{}
	app := newFakeAppender()
	syn := New(nil, snaps, ch, app)
	t.Cleanup(syn.Close)
	if err := syn.Select(context.Background(), "s1"); err != nil {
		t.Fatalf("select: %v", err)
	}
	if syn.Phase() != PhaseLive {
		t.Fatalf("phase = %s, want live", syn.Phase())
	}
	return syn, ch, app
}

func battleRow(t *testing.T, op RowOp, b *game.Battle) RowChange {
	t.Helper()
	raw, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("marshal battle: %v", err)
	}
	return RowChange{Op: op, Table: TableBattles, Row: raw}
}

func TestMoveTokenAndLogScenario(t *testing.T) {
	syn, ch, _ := newTestSync(t)

	syn.MoveTokenAndLog(context.Background(), "t1", 2, 3)

	view := syn.View()
	tok := view.Map.Tokens[0]
	if tok.X != 2 || tok.Y != 3 {
		t.Fatalf("token at (%d,%d), want (2,3)", tok.X, tok.Y)
	}
	if len(view.Log) == 0 || view.Log[len(view.Log)-1] != "Hero moved to C4" {
		t.Fatalf("activity log = %v, want last line %q", view.Log, "Hero moved to C4")
	}

	events := ch.events()
	if len(events) != 2 {
		t.Fatalf("published %d events, want 2", len(events))
	}
	if events[0].Kind != EventAddChatLine || events[0].Line != "Hero moved to C4" {
		t.Fatalf("first event = %+v", events[0])
	}
	mv := events[1]
	if mv.Kind != EventMoveToken || mv.Move == nil || mv.Move.TokenID != "t1" || mv.Move.X != 2 || mv.Move.Y != 3 {
		t.Fatalf("second event = %+v", mv)
	}
}

func TestMoveTokenAndLogPersistsToActiveBattle(t *testing.T) {
	syn, _, app := newTestSync(t)

	syn.HandleRowChange(battleRow(t, RowInsert, &game.Battle{ID: "b1", SessionID: "s1", Name: "Ambush"}))
	syn.MoveTokenAndLog(context.Background(), "t1", 1, 1)

	select {
	case msg := <-app.ch:
		if msg != "Hero moved to B2" {
			t.Fatalf("persisted %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("append-log never reached the appender")
	}
}

func TestMoveTokenAndLogUnknownTokenIsNoOp(t *testing.T) {
	syn, ch, _ := newTestSync(t)

	syn.MoveTokenAndLog(context.Background(), "ghost", 4, 4)

	if got := len(ch.events()); got != 0 {
		t.Fatalf("published %d events for unknown token", got)
	}
	if view := syn.View(); len(view.Log) != 0 {
		t.Fatalf("activity log mutated: %v", view.Log)
	}
}

func TestMoveTokenAndLogSwallowsBroadcastFailure(t *testing.T) {
	syn, ch, _ := newTestSync(t)
	ch.mu.Lock()
	ch.pubErr = errors.New("relay down")
	ch.mu.Unlock()

	syn.MoveTokenAndLog(context.Background(), "t1", 5, 5)

	view := syn.View()
	if view.Map.Tokens[0].X != 5 {
		t.Fatalf("local move lost on broadcast failure")
	}
	if syn.Phase() != PhaseLive {
		t.Fatalf("best-effort failure changed phase to %s", syn.Phase())
	}
}

func TestDuplicateAdjacentLineSuppression(t *testing.T) {
	syn, _, _ := newTestSync(t)

	syn.HandleEvent(Event{Kind: EventAddChatLine, Line: "Hero moved to C4"})
	syn.HandleEvent(Event{Kind: EventAddChatLine, Line: "Hero moved to C4"})
	if view := syn.View(); len(view.Log) != 1 {
		t.Fatalf("log length = %d, want 1", len(view.Log))
	}

	syn.HandleEvent(Event{Kind: EventAddChatLine, Line: "Goblin moved to A2"})
	if view := syn.View(); len(view.Log) != 2 {
		t.Fatalf("log length = %d, want 2", len(view.Log))
	}

	// Identical lines separated by another entry are not deduped; the
	// heuristic only inspects the immediately preceding line.
	syn.HandleEvent(Event{Kind: EventAddChatLine, Line: "Hero moved to C4"})
	if view := syn.View(); len(view.Log) != 3 {
		t.Fatalf("log length = %d, want 3", len(view.Log))
	}
}

func TestMoveEventIdempotent(t *testing.T) {
	syn, _, _ := newTestSync(t)
	ev := Event{Kind: EventMoveToken, Move: &MoveToken{TokenID: "t1", X: 3, Y: 4}}

	syn.HandleEvent(ev)
	first := syn.View().Map.Tokens[0]
	syn.HandleEvent(ev)
	second := syn.View().Map.Tokens[0]

	if first.X != second.X || first.Y != second.Y {
		t.Fatalf("re-applying the same move changed state: (%d,%d) vs (%d,%d)", first.X, first.Y, second.X, second.Y)
	}
	if second.X != 3 || second.Y != 4 {
		t.Fatalf("token at (%d,%d)", second.X, second.Y)
	}
}

func TestMoveEventUnknownTokenDropped(t *testing.T) {
	syn, _, _ := newTestSync(t)
	before := syn.View()
	syn.HandleEvent(Event{Kind: EventMoveToken, Move: &MoveToken{TokenID: "nope", X: 9, Y: 9}})
	after := syn.View()
	if len(before.Map.Tokens) != len(after.Map.Tokens) ||
		before.Map.Tokens[0].X != after.Map.Tokens[0].X ||
		before.Map.Tokens[0].Y != after.Map.Tokens[0].Y {
		t.Fatalf("map changed by unknown-token move")
	}
}

func TestUpdateMapReplacesWholesale(t *testing.T) {
	syn, _, _ := newTestSync(t)
	raw := []byte(`{"gridSize": 12, "tokens": [{"id": "t9", "kind": "monster", "x": 2, "y": 2, "name": "Wyrm"}]}`)
	ev, ok := DecodeEvent(string(EventUpdateMap), raw)
	if !ok {
		t.Fatalf("decode update-map failed")
	}
	syn.HandleEvent(ev)
	view := syn.View()
	if view.Map.GridSize != 12 || len(view.Map.Tokens) != 1 || view.Map.Tokens[0].ID != "t9" {
		t.Fatalf("map not replaced: %+v", view.Map)
	}
}

func TestUpdateBattleOnlyTouchesActive(t *testing.T) {
	syn, _, _ := newTestSync(t)
	syn.HandleRowChange(battleRow(t, RowInsert, &game.Battle{ID: "b1", SessionID: "s1", Name: "Ambush"}))

	syn.HandleEvent(Event{Kind: EventUpdateBattle, Battle: &game.Battle{ID: "b2", Name: "Elsewhere"}})
	if view := syn.View(); view.ActiveBattle.ID != "b1" {
		t.Fatalf("non-active battle replaced the active slot")
	}

	syn.HandleEvent(Event{Kind: EventUpdateBattle, Battle: &game.Battle{ID: "b1", Name: "Ambush II"}})
	if view := syn.View(); view.ActiveBattle.Name != "Ambush II" {
		t.Fatalf("active battle not replaced: %+v", view.ActiveBattle)
	}
}

func TestBattleInsertSeedsEmptyLogOnly(t *testing.T) {
	t.Run("empty log is seeded", func(t *testing.T) {
		syn, _, _ := newTestSync(t)
		syn.HandleRowChange(battleRow(t, RowInsert, &game.Battle{ID: "b1", SessionID: "s1", Log: []string{"x", "y"}}))
		view := syn.View()
		if len(view.Log) != 2 || view.Log[0] != "x" || view.Log[1] != "y" {
			t.Fatalf("log = %v, want [x y]", view.Log)
		}
		if view.ActiveBattle == nil || view.ActiveBattle.ID != "b1" {
			t.Fatalf("battle not adopted as active")
		}
	})

	t.Run("non-empty log is preserved", func(t *testing.T) {
		syn, _, _ := newTestSync(t)
		syn.HandleEvent(Event{Kind: EventAddChatLine, Line: "a"})
		syn.HandleRowChange(battleRow(t, RowInsert, &game.Battle{ID: "b1", SessionID: "s1", Log: []string{"x", "y"}}))
		view := syn.View()
		if len(view.Log) != 1 || view.Log[0] != "a" {
			t.Fatalf("log = %v, want [a]", view.Log)
		}
	})
}

func TestBattleUpdateNeverTouchesLog(t *testing.T) {
	syn, _, _ := newTestSync(t)
	syn.HandleRowChange(battleRow(t, RowInsert, &game.Battle{ID: "b1", SessionID: "s1", Log: []string{"x"}}))
	syn.HandleEvent(Event{Kind: EventAddChatLine, Line: "local"})

	syn.HandleRowChange(battleRow(t, RowUpdate, &game.Battle{ID: "b1", SessionID: "s1", Log: []string{"x", "server side"}, Initiative: map[string]int{"t1": 17}}))

	view := syn.View()
	if len(view.Log) != 2 || view.Log[1] != "local" {
		t.Fatalf("update re-seeded log: %v", view.Log)
	}
	if view.ActiveBattle.Initiative["t1"] != 17 {
		t.Fatalf("update not merged into active battle: %+v", view.ActiveBattle)
	}
}

func TestBattleInsertDuplicateIgnored(t *testing.T) {
	syn, _, _ := newTestSync(t)
	b := &game.Battle{ID: "b1", SessionID: "s1"}
	syn.HandleRowChange(battleRow(t, RowInsert, b))
	syn.HandleRowChange(battleRow(t, RowInsert, b))
	if view := syn.View(); len(view.Battles) != 1 {
		t.Fatalf("battle list = %d entries, want 1", len(view.Battles))
	}
}

func TestBattleRowForOtherSessionIgnored(t *testing.T) {
	syn, _, _ := newTestSync(t)
	syn.HandleRowChange(battleRow(t, RowInsert, &game.Battle{ID: "b9", SessionID: "other"}))
	if view := syn.View(); len(view.Battles) != 0 {
		t.Fatalf("battle from another session merged")
	}
}

func TestChatRowsAppendOncePerID(t *testing.T) {
	syn, _, _ := newTestSync(t)
	msg := game.ChatMessage{ID: "c1", SessionID: "s1", AuthorID: "u1", Content: "hello"}
	raw, _ := json.Marshal(msg)
	rc := RowChange{Op: RowInsert, Table: TableChatMessages, Row: raw}
	syn.HandleRowChange(rc)
	syn.HandleRowChange(rc)
	if view := syn.View(); len(view.Chat) != 1 {
		t.Fatalf("chat length = %d, want 1", len(view.Chat))
	}
}

func TestConcurrentMoveConvergence(t *testing.T) {
	synA, chA, _ := newTestSync(t)
	synB, chB, _ := newTestSync(t)

	synA.MoveTokenAndLog(context.Background(), "t1", 5, 5)
	synB.MoveTokenAndLog(context.Background(), "t1", 1, 1)

	moveOf := func(t *testing.T, ch *fakeChannel) Event {
		t.Helper()
		for _, ev := range ch.events() {
			if ev.Kind == EventMoveToken {
				return ev
			}
		}
		t.Fatalf("no move-token broadcast captured")
		return Event{}
	}
	moveA := moveOf(t, chA)
	moveB := moveOf(t, chB)

	// A applied its own move, then receives B's: last write wins per client.
	synA.HandleEvent(moveB)
	// B applied its own move, then receives A's.
	synB.HandleEvent(moveA)

	a := synA.View().Map.Tokens[0]
	b := synB.View().Map.Tokens[0]
	if a.X != 1 || a.Y != 1 {
		t.Fatalf("client A at (%d,%d), want (1,1)", a.X, a.Y)
	}
	if b.X != 5 || b.Y != 5 {
		t.Fatalf("client B at (%d,%d), want (5,5)", b.X, b.Y)
	}
	// The two clients need not agree: each settles on the last write it
	// processed.
	if a.X == b.X && a.Y == b.Y {
		t.Fatalf("expected divergent replicas in this delivery order")
	}
}

func TestSelectFetchErrorEntersErrorPhase(t *testing.T) {
	snaps := &fakeSnapshotter{err: errors.New("access denied"), snaps: map[string]*Snapshot{}}
	syn := New(nil, snaps, &fakeChannel{}, newFakeAppender())
	defer syn.Close()

	if err := syn.Select(context.Background(), "s1"); err == nil {
		t.Fatalf("expected error")
	}
	if syn.Phase() != PhaseError {
		t.Fatalf("phase = %s, want error", syn.Phase())
	}
	if syn.Err() == "" {
		t.Fatalf("expected a user-visible error message")
	}
}

func TestSelectJoinErrorEntersErrorPhase(t *testing.T) {
	snaps := &fakeSnapshotter{snaps: map[string]*Snapshot{"s1": testSnapshot()}}
	ch := &fakeChannel{joinErr: errors.New("subscribe failed")}
	syn := New(nil, snaps, ch, newFakeAppender())
	defer syn.Close()

	if err := syn.Select(context.Background(), "s1"); err == nil {
		t.Fatalf("expected error")
	}
	if syn.Phase() != PhaseError {
		t.Fatalf("loaded-but-not-live should be an error, got %s", syn.Phase())
	}
}

func TestReselectSameSessionIsNoOp(t *testing.T) {
	snaps := &fakeSnapshotter{snaps: map[string]*Snapshot{"s1": testSnapshot()}}
	syn := New(nil, snaps, &fakeChannel{}, newFakeAppender())
	defer syn.Close()

	if err := syn.Select(context.Background(), "s1"); err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := syn.Select(context.Background(), "s1"); err != nil {
		t.Fatalf("reselect: %v", err)
	}
	if got := snaps.callCount(); got != 1 {
		t.Fatalf("snapshot fetched %d times, want 1", got)
	}
}

func TestDeselectTearsDown(t *testing.T) {
	syn, ch, _ := newTestSync(t)
	syn.Deselect()

	if syn.Phase() != PhaseIdle {
		t.Fatalf("phase = %s, want idle", syn.Phase())
	}
	ch.mu.Lock()
	left := append([]string(nil), ch.left...)
	ch.mu.Unlock()
	if len(left) == 0 || left[len(left)-1] != "s1" {
		t.Fatalf("channel not left: %v", left)
	}
	if view := syn.View(); view.Map != nil || len(view.Log) != 0 {
		t.Fatalf("state survived deselect: %+v", view)
	}
}

func TestStaleSnapshotDiscarded(t *testing.T) {
	gate := make(chan struct{})
	snaps := &fakeSnapshotter{
		snaps: map[string]*Snapshot{
			"s1": testSnapshot(),
			"s2": {Session: game.Session{ID: "s2", Name: "Second"}, Map: &game.Map{GridSize: 20}},
		},
		gates: map[string]chan struct{}{"s1": gate},
	}
	syn := New(nil, snaps, &fakeChannel{}, newFakeAppender())
	defer syn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = syn.Select(context.Background(), "s1")
	}()

	// Wait for the slow fetch to be in flight, then switch away.
	for i := 0; snaps.callCount() == 0 && i < 100; i++ {
		time.Sleep(5 * time.Millisecond)
	}
	if err := syn.Select(context.Background(), "s2"); err != nil {
		t.Fatalf("select s2: %v", err)
	}

	close(gate)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("stale select never returned")
	}

	if view := syn.View(); view.Session.ID != "s2" {
		t.Fatalf("stale snapshot clobbered state: session %q", view.Session.ID)
	}
	if syn.Phase() != PhaseLive {
		t.Fatalf("phase = %s, want live", syn.Phase())
	}
}

func TestEmitRequiresLiveSession(t *testing.T) {
	syn := New(nil, &fakeSnapshotter{snaps: map[string]*Snapshot{}}, &fakeChannel{}, newFakeAppender())
	defer syn.Close()
	err := syn.Emit(context.Background(), Event{Kind: EventAddChatLine, Line: "hi"})
	if !errors.Is(err, ErrNotLive) {
		t.Fatalf("err = %v, want ErrNotLive", err)
	}
}

func TestNotifyFiresOnMutation(t *testing.T) {
	snaps := &fakeSnapshotter{snaps: map[string]*Snapshot{"s1": testSnapshot()}}
	syn := New(nil, snaps, &fakeChannel{}, newFakeAppender())
	defer syn.Close()

	var mu sync.Mutex
	fires := 0
	syn.Notify = func() {
		mu.Lock()
		fires++
		mu.Unlock()
	}
	if err := syn.Select(context.Background(), "s1"); err != nil {
		t.Fatalf("select: %v", err)
	}
	syn.HandleEvent(Event{Kind: EventAddChatLine, Line: "a"})

	mu.Lock()
	defer mu.Unlock()
	if fires == 0 {
		t.Fatalf("notify never fired")
	}
}

func TestPhaseStrings(t *testing.T) {
	want := map[Phase]string{PhaseIdle: "idle", PhaseLoading: "loading", PhaseLive: "live", PhaseError: "error"}
	for p, s := range want {
		if p.String() != s {
			t.Fatalf("Phase(%d).String() = %q, want %q", p, p.String(), s)
		}
	}
	if got := Phase(42).String(); got != "unknown" {
		t.Fatalf("unexpected %q", got)
	}
}
