package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"wartable/internal/game"
	"wartable/internal/live"
)

// CreateBattle inserts a battle and announces it as a row insert.
func (s *Store) CreateBattle(ctx context.Context, b *game.Battle) (*game.Battle, error) {
	if b == nil || b.SessionID == "" {
		return nil, errors.New("battle has no session")
	}
	if strings.TrimSpace(b.Name) == "" {
		return nil, errors.New("battle name is empty")
	}

	out := b.Clone()
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	if out.Slug == "" {
		out.Slug = slugify(out.Name) + "-" + out.ID[:8]
	}
	if out.Monsters == nil {
		out.Monsters = []game.Entity{}
	}
	if out.Allies == nil {
		out.Allies = []game.Entity{}
	}
	if out.Log == nil {
		out.Log = []string{}
	}
	if out.Initiative == nil {
		out.Initiative = map[string]int{}
	}
	out.CreatedAt = s.now().UTC()

	if err := s.execBattle(ctx,
		`INSERT INTO battles (id, session_id, map_id, name, slug, monsters, allies, log, initiative, background, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, out, true); err != nil {
		return nil, err
	}

	s.publish(out.SessionID, live.TableBattles, live.RowInsert, out)
	return out, nil
}

// UpdateBattle replaces the battle's combatants and initiative, announcing a
// row update. The log column is deliberately not touched here; it only grows
// through AppendBattleLog.
func (s *Store) UpdateBattle(ctx context.Context, b *game.Battle) (*game.Battle, error) {
	if b == nil || b.ID == "" {
		return nil, errors.New("battle has no id")
	}
	current, err := s.GetBattle(ctx, b.ID)
	if err != nil {
		return nil, err
	}

	out := b.Clone()
	out.SessionID = current.SessionID
	out.Slug = current.Slug
	out.CreatedAt = current.CreatedAt
	out.Log = current.Log
	if out.Monsters == nil {
		out.Monsters = []game.Entity{}
	}
	if out.Allies == nil {
		out.Allies = []game.Entity{}
	}
	if out.Initiative == nil {
		out.Initiative = map[string]int{}
	}

	monsters, err := marshalJSON(out.Monsters)
	if err != nil {
		return nil, err
	}
	allies, err := marshalJSON(out.Allies)
	if err != nil {
		return nil, err
	}
	initiative, err := marshalJSON(out.Initiative)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx,
		s.q(`UPDATE battles SET map_id = ?, name = ?, monsters = ?, allies = ?, initiative = ?, background = ?
		     WHERE id = ?`),
		out.MapID, out.Name, monsters, allies, initiative, out.Background, out.ID)
	if err != nil {
		return nil, fmt.Errorf("update battle: %w", err)
	}

	s.publish(out.SessionID, live.TableBattles, live.RowUpdate, out)
	return out, nil
}

// GetBattle looks a battle up by id.
func (s *Store) GetBattle(ctx context.Context, id string) (*game.Battle, error) {
	row := s.db.QueryRowContext(ctx,
		s.q(`SELECT id, session_id, map_id, name, slug, monsters, allies, log, initiative, background, created_at
		     FROM battles WHERE id = ?`), id)
	b, err := scanBattle(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query battle: %w", err)
	}
	return b, nil
}

// ListBattles returns a session's battles, newest first.
func (s *Store) ListBattles(ctx context.Context, sessionID string, limit int) ([]game.Battle, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT id, session_id, map_id, name, slug, monsters, allies, log, initiative, background, created_at
		     FROM battles WHERE session_id = ?
		     ORDER BY created_at DESC, id DESC LIMIT ?`), sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query battles: %w", err)
	}
	defer rows.Close()

	battles := []game.Battle{}
	for rows.Next() {
		b, err := scanBattle(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan battle: %w", err)
		}
		battles = append(battles, *b)
	}
	return battles, rows.Err()
}

// AppendBattleLog appends one line to the battle log inside a transaction and
// announces the grown battle as a row update.
func (s *Store) AppendBattleLog(ctx context.Context, battleID, message string) error {
	if strings.TrimSpace(message) == "" {
		return errors.New("log message is empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append log: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		s.q(`SELECT id, session_id, map_id, name, slug, monsters, allies, log, initiative, background, created_at
		     FROM battles WHERE id = ?`), battleID)
	b, err := scanBattle(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("query battle: %w", err)
	}

	b.Log = append(b.Log, message)
	log, err := marshalJSON(b.Log)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, s.q(`UPDATE battles SET log = ? WHERE id = ?`), log, battleID); err != nil {
		return fmt.Errorf("update battle log: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append log: %w", err)
	}

	s.publish(b.SessionID, live.TableBattles, live.RowUpdate, b)
	return nil
}

func (s *Store) execBattle(ctx context.Context, query string, b *game.Battle, withCreated bool) error {
	monsters, err := marshalJSON(b.Monsters)
	if err != nil {
		return err
	}
	allies, err := marshalJSON(b.Allies)
	if err != nil {
		return err
	}
	log, err := marshalJSON(b.Log)
	if err != nil {
		return err
	}
	initiative, err := marshalJSON(b.Initiative)
	if err != nil {
		return err
	}
	args := []any{b.ID, b.SessionID, b.MapID, b.Name, b.Slug, monsters, allies, log, initiative, b.Background}
	if withCreated {
		args = append(args, b.CreatedAt)
	}
	if _, err := s.db.ExecContext(ctx, s.q(query), args...); err != nil {
		return fmt.Errorf("insert battle: %w", err)
	}
	return nil
}

func scanBattle(scan func(dest ...any) error) (*game.Battle, error) {
	var (
		b          game.Battle
		monsters   string
		allies     string
		log        string
		initiative string
	)
	err := scan(&b.ID, &b.SessionID, &b.MapID, &b.Name, &b.Slug,
		&monsters, &allies, &log, &initiative, &b.Background, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	b.Monsters = []game.Entity{}
	b.Allies = []game.Entity{}
	b.Log = []string{}
	b.Initiative = map[string]int{}
	if err := unmarshalJSON(monsters, &b.Monsters); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(allies, &b.Allies); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(log, &b.Log); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(initiative, &b.Initiative); err != nil {
		return nil, err
	}
	return &b, nil
}
