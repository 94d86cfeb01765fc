package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"wartable/internal/economy"
	"wartable/internal/game"
	"wartable/internal/live"
)

type sinkCall struct {
	sessionID string
	table     string
	op        live.RowOp
}

type fakeSink struct {
	calls []sinkCall
}

func (f *fakeSink) PublishRowChange(sessionID, table string, op live.RowOp, row any) {
	f.calls = append(f.calls, sinkCall{sessionID: sessionID, table: table, op: op})
}

func openTestStore(t *testing.T) (*Store, *fakeSink) {
	t.Helper()
	s, err := Open(nil, DriverSQLite, filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	sink := &fakeSink{}
	s.SetRowSink(sink)
	return s, sink
}

func TestCreateSessionSeedsMapAndDM(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "Friday Night", "u1", "Alice")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if sess.Slug == "" || sess.CreatedBy != "u1" {
		t.Fatalf("unexpected session: %+v", sess)
	}

	m, err := s.GetMap(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get map: %v", err)
	}
	if m.GridSize != game.DefaultGridSize || len(m.Tokens) != 0 {
		t.Fatalf("unexpected default map: %+v", m)
	}

	member, err := s.Membership(ctx, sess.ID, "u1")
	if err != nil {
		t.Fatalf("membership: %v", err)
	}
	if member.Role != game.RoleDM {
		t.Fatalf("creator role = %q, want dm", member.Role)
	}

	sessions, err := s.ListSessionsFor(ctx, "u1")
	if err != nil || len(sessions) != 1 {
		t.Fatalf("list sessions: %v, %d", err, len(sessions))
	}
}

func TestSaveMapUpserts(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	sess, err := s.CreateSession(ctx, "Game", "u1", "Alice")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	m, err := s.GetMap(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get map: %v", err)
	}
	m.Tokens = []game.Token{{ID: "t1", Kind: game.KindPC, X: 3, Y: 4, Name: "Hero", Stats: map[string]any{}}}
	m.Terrain["C4"] = "tree"
	if err := s.SaveMap(ctx, m); err != nil {
		t.Fatalf("save map: %v", err)
	}

	got, err := s.GetMap(ctx, sess.ID)
	if err != nil {
		t.Fatalf("reload map: %v", err)
	}
	if len(got.Tokens) != 1 || got.Tokens[0].Name != "Hero" || got.Terrain["C4"] != "tree" {
		t.Fatalf("map did not round trip: %+v", got)
	}
}

func TestBattleLifecyclePublishesRowChanges(t *testing.T) {
	s, sink := openTestStore(t)
	ctx := context.Background()
	sess, err := s.CreateSession(ctx, "Game", "u1", "Alice")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	sink.calls = nil

	b, err := s.CreateBattle(ctx, &game.Battle{
		SessionID: sess.ID,
		Name:      "Goblin Ambush",
		Monsters:  []game.Entity{{"name": "Goblin"}},
	})
	if err != nil {
		t.Fatalf("create battle: %v", err)
	}
	if len(sink.calls) != 1 || sink.calls[0].op != live.RowInsert || sink.calls[0].table != live.TableBattles {
		t.Fatalf("unexpected sink calls: %+v", sink.calls)
	}

	if err := s.AppendBattleLog(ctx, b.ID, "Initiative rolled"); err != nil {
		t.Fatalf("append log: %v", err)
	}
	got, err := s.GetBattle(ctx, b.ID)
	if err != nil {
		t.Fatalf("get battle: %v", err)
	}
	if len(got.Log) != 1 || got.Log[0] != "Initiative rolled" {
		t.Fatalf("log = %v", got.Log)
	}

	// Updating combatants must leave the log alone even if the caller
	// hands back a stale copy.
	got.Monsters = append(got.Monsters, game.Entity{"name": "Goblin Boss"})
	got.Log = nil
	updated, err := s.UpdateBattle(ctx, got)
	if err != nil {
		t.Fatalf("update battle: %v", err)
	}
	if len(updated.Log) != 1 {
		t.Fatalf("update touched the log: %v", updated.Log)
	}
	if len(sink.calls) != 3 || sink.calls[2].op != live.RowUpdate {
		t.Fatalf("unexpected sink calls: %+v", sink.calls)
	}

	battles, err := s.ListBattles(ctx, sess.ID, 0)
	if err != nil || len(battles) != 1 {
		t.Fatalf("list battles: %v, %d", err, len(battles))
	}
}

func TestAppendLogUnknownBattle(t *testing.T) {
	s, _ := openTestStore(t)
	if err := s.AppendBattleLog(context.Background(), "missing", "line"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestChatInsertAndOrder(t *testing.T) {
	s, sink := openTestStore(t)
	ctx := context.Background()
	sess, err := s.CreateSession(ctx, "Game", "u1", "Alice")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	sink.calls = nil

	times := []time.Time{time.Unix(100, 0), time.Unix(200, 0)}
	i := 0
	s.now = func() time.Time { ts := times[i]; i++; return ts }

	if _, err := s.InsertChatMessage(ctx, sess.ID, "u1", "first"); err != nil {
		t.Fatalf("insert chat: %v", err)
	}
	if _, err := s.InsertChatMessage(ctx, sess.ID, "u2", "second"); err != nil {
		t.Fatalf("insert chat: %v", err)
	}

	msgs, err := s.ListChatMessages(ctx, sess.ID, 0)
	if err != nil {
		t.Fatalf("list chat: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "first" || msgs[1].Content != "second" {
		t.Fatalf("unexpected order: %+v", msgs)
	}
	for _, c := range sink.calls {
		if c.table != live.TableChatMessages || c.op != live.RowInsert {
			t.Fatalf("unexpected sink call: %+v", c)
		}
	}
}

func TestInviteRedeemGrantsMembership(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	sess, err := s.CreateSession(ctx, "Game", "u1", "Alice")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	inv, err := s.CreateInvite(ctx, sess.ID, game.RolePlayer, "u1", time.Hour)
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}
	if _, err := s.RedeemInvite(ctx, inv.Code, "u2", "Bob"); err != nil {
		t.Fatalf("redeem invite: %v", err)
	}
	member, err := s.Membership(ctx, sess.ID, "u2")
	if err != nil {
		t.Fatalf("membership: %v", err)
	}
	if member.Role != game.RolePlayer {
		t.Fatalf("role = %q", member.Role)
	}
	if _, err := s.RedeemInvite(ctx, "nope", "u3", "Carol"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestExpiredInviteRejected(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	sess, err := s.CreateSession(ctx, "Game", "u1", "Alice")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	inv, err := s.CreateInvite(ctx, sess.ID, game.RolePlayer, "u1", time.Minute)
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}
	s.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := s.RedeemInvite(ctx, inv.Code, "u2", "Bob"); !errors.Is(err, ErrInviteExpired) {
		t.Fatalf("err = %v, want ErrInviteExpired", err)
	}
}

func TestPurchaseFlow(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	sess, err := s.CreateSession(ctx, "Game", "u1", "Alice")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	shop, err := s.CreateShop(ctx, &economy.Shop{
		SessionID: sess.ID,
		Name:      "General Store",
		Items: []economy.Item{
			{ID: "potion", Name: "Healing Potion", Rarity: economy.RarityUncommon, Price: 50, Qty: 1},
		},
	})
	if err != nil {
		t.Fatalf("create shop: %v", err)
	}

	if _, _, err := s.PurchaseItem(ctx, shop.ID, "potion", "u2"); !errors.Is(err, economy.ErrInsufficientGold) {
		t.Fatalf("err = %v, want ErrInsufficientGold", err)
	}

	if err := s.AddLedgerEntry(ctx, sess.ID, "u2", 60, "dm grant"); err != nil {
		t.Fatalf("grant gold: %v", err)
	}
	item, balance, err := s.PurchaseItem(ctx, shop.ID, "potion", "u2")
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if item.Name != "Healing Potion" || balance != 10 {
		t.Fatalf("item = %+v, balance = %d", item, balance)
	}

	if _, _, err := s.PurchaseItem(ctx, shop.ID, "potion", "u2"); !errors.Is(err, economy.ErrOutOfStock) {
		t.Fatalf("err = %v, want ErrOutOfStock", err)
	}
	if _, _, err := s.PurchaseItem(ctx, shop.ID, "sword", "u2"); !errors.Is(err, economy.ErrItemNotFound) {
		t.Fatalf("err = %v, want ErrItemNotFound", err)
	}
	if got, err := s.GoldBalance(ctx, sess.ID, "u2"); err != nil || got != 10 {
		t.Fatalf("balance = %d, %v", got, err)
	}
}
