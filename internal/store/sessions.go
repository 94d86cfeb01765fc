package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"wartable/internal/game"
)

// CreateSession inserts a session, seeds its blank map and registers the
// creator as its DM.
func (s *Store) CreateSession(ctx context.Context, name, creatorID, creatorName string) (*game.Session, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("session name is empty")
	}

	now := s.now().UTC()
	sess := &game.Session{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(name),
		Slug:      slugify(name) + "-" + uuid.NewString()[:8],
		CreatedBy: creatorID,
		CreatedAt: now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create session: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		s.q(`INSERT INTO sessions (id, slug, name, created_by, created_at) VALUES (?, ?, ?, ?, ?)`),
		sess.ID, sess.Slug, sess.Name, sess.CreatedBy, sess.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	m := &game.Map{
		ID:        uuid.NewString(),
		SessionID: sess.ID,
		GridSize:  game.DefaultGridSize,
		Terrain:   map[string]string{},
		Tokens:    []game.Token{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	terrain, err := marshalJSON(m.Terrain)
	if err != nil {
		return nil, err
	}
	tokens, err := marshalJSON(m.Tokens)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx,
		s.q(`INSERT INTO maps (id, session_id, grid_size, terrain, background, tokens, created_at, updated_at)
		     VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		m.ID, m.SessionID, m.GridSize, terrain, m.Background, tokens, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert default map: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		s.q(`INSERT INTO members (session_id, user_id, name, role, created_at) VALUES (?, ?, ?, ?, ?)`),
		sess.ID, creatorID, creatorName, game.RoleDM, now)
	if err != nil {
		return nil, fmt.Errorf("insert dm member: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create session: %w", err)
	}
	return sess, nil
}

// GetSession looks a session up by id.
func (s *Store) GetSession(ctx context.Context, id string) (*game.Session, error) {
	var sess game.Session
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT id, slug, name, created_by, created_at FROM sessions WHERE id = ?`), id).
		Scan(&sess.ID, &sess.Slug, &sess.Name, &sess.CreatedBy, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	return &sess, nil
}

// ListSessionsFor returns the sessions a user is a member of, newest first.
func (s *Store) ListSessionsFor(ctx context.Context, userID string) ([]game.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT s.id, s.slug, s.name, s.created_by, s.created_at
		     FROM sessions s JOIN members m ON m.session_id = s.id
		     WHERE m.user_id = ? ORDER BY s.created_at DESC, s.id DESC`), userID)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []game.Session{}
	for rows.Next() {
		var sess game.Session
		if err := rows.Scan(&sess.ID, &sess.Slug, &sess.Name, &sess.CreatedBy, &sess.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func slugify(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
