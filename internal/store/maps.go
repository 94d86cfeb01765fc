package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"wartable/internal/game"
)

// GetMap returns the single map of a session.
func (s *Store) GetMap(ctx context.Context, sessionID string) (*game.Map, error) {
	var (
		m       game.Map
		terrain string
		tokens  string
	)
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT id, session_id, grid_size, terrain, background, tokens, created_at, updated_at
		     FROM maps WHERE session_id = ?`), sessionID).
		Scan(&m.ID, &m.SessionID, &m.GridSize, &terrain, &m.Background, &tokens, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query map: %w", err)
	}

	m.Terrain = map[string]string{}
	m.Tokens = []game.Token{}
	if err := unmarshalJSON(terrain, &m.Terrain); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(tokens, &m.Tokens); err != nil {
		return nil, err
	}
	return &m, nil
}

// SaveMap upserts the session's map. The caller is expected to have already
// normalized and clamped the content.
func (s *Store) SaveMap(ctx context.Context, m *game.Map) error {
	if m == nil || m.SessionID == "" {
		return errors.New("map has no session")
	}
	terrain, err := marshalJSON(m.Terrain)
	if err != nil {
		return err
	}
	tokens, err := marshalJSON(m.Tokens)
	if err != nil {
		return err
	}
	m.UpdatedAt = s.now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = m.UpdatedAt
	}
	_, err = s.db.ExecContext(ctx,
		s.q(`INSERT INTO maps (id, session_id, grid_size, terrain, background, tokens, created_at, updated_at)
		     VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		     ON CONFLICT(session_id) DO UPDATE SET
		       grid_size = excluded.grid_size,
		       terrain = excluded.terrain,
		       background = excluded.background,
		       tokens = excluded.tokens,
		       updated_at = excluded.updated_at`),
		m.ID, m.SessionID, m.GridSize, terrain, m.Background, tokens, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save map: %w", err)
	}
	return nil
}
