package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"wartable/internal/game"
)

// Invite redemption sentinels.
var (
	ErrInviteExpired = errors.New("store: invite expired")
)

// AddMember records membership. Re-adding an existing member is a no-op that
// keeps the original role.
func (s *Store) AddMember(ctx context.Context, sessionID, userID, name, role string) error {
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO members (session_id, user_id, name, role, created_at) VALUES (?, ?, ?, ?, ?)
		     ON CONFLICT(session_id, user_id) DO NOTHING`),
		sessionID, userID, name, role, s.now().UTC())
	if err != nil {
		return fmt.Errorf("insert member: %w", err)
	}
	return nil
}

// ListMembers returns a session's members in join order.
func (s *Store) ListMembers(ctx context.Context, sessionID string) ([]game.Member, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT session_id, user_id, name, role, created_at FROM members
		     WHERE session_id = ? ORDER BY created_at, user_id`), sessionID)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	members := []game.Member{}
	for rows.Next() {
		var m game.Member
		if err := rows.Scan(&m.SessionID, &m.UserID, &m.Name, &m.Role, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// Membership returns the member row for a user, or ErrNotFound.
func (s *Store) Membership(ctx context.Context, sessionID, userID string) (*game.Member, error) {
	var m game.Member
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT session_id, user_id, name, role, created_at FROM members
		     WHERE session_id = ? AND user_id = ?`), sessionID, userID).
		Scan(&m.SessionID, &m.UserID, &m.Name, &m.Role, &m.JoinedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query member: %w", err)
	}
	return &m, nil
}

// CreateInvite mints an invite code granting role in the session.
func (s *Store) CreateInvite(ctx context.Context, sessionID, role, createdBy string, ttl time.Duration) (*game.Invite, error) {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	inv := &game.Invite{
		Code:      inviteCode(),
		SessionID: sessionID,
		Role:      role,
		CreatedBy: createdBy,
		ExpiresAt: s.now().UTC().Add(ttl),
	}
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO invites (code, session_id, role, created_by, expires_at, uses) VALUES (?, ?, ?, ?, ?, 0)`),
		inv.Code, inv.SessionID, inv.Role, inv.CreatedBy, inv.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("insert invite: %w", err)
	}
	return inv, nil
}

// RedeemInvite turns a live invite code into a membership for the user.
func (s *Store) RedeemInvite(ctx context.Context, code, userID, name string) (*game.Invite, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin redeem invite: %w", err)
	}
	defer tx.Rollback()

	var inv game.Invite
	err = tx.QueryRowContext(ctx,
		s.q(`SELECT code, session_id, role, created_by, expires_at, uses FROM invites WHERE code = ?`), code).
		Scan(&inv.Code, &inv.SessionID, &inv.Role, &inv.CreatedBy, &inv.ExpiresAt, &inv.Uses)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query invite: %w", err)
	}
	if s.now().UTC().After(inv.ExpiresAt) {
		return nil, ErrInviteExpired
	}

	_, err = tx.ExecContext(ctx,
		s.q(`INSERT INTO members (session_id, user_id, name, role, created_at) VALUES (?, ?, ?, ?, ?)
		     ON CONFLICT(session_id, user_id) DO NOTHING`),
		inv.SessionID, userID, name, inv.Role, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("insert member: %w", err)
	}
	inv.Uses++
	if _, err := tx.ExecContext(ctx, s.q(`UPDATE invites SET uses = ? WHERE code = ?`), inv.Uses, code); err != nil {
		return nil, fmt.Errorf("update invite uses: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit redeem invite: %w", err)
	}
	return &inv, nil
}

func inviteCode() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("read random bytes: %v", err))
	}
	return hex.EncodeToString(buf)
}
