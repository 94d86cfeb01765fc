package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"wartable/internal/game"
	"wartable/internal/live"
)

// InsertChatMessage persists one chat line and announces it as a row insert.
func (s *Store) InsertChatMessage(ctx context.Context, sessionID, authorID, content string) (*game.ChatMessage, error) {
	if strings.TrimSpace(content) == "" {
		return nil, errors.New("chat content is empty")
	}
	msg := &game.ChatMessage{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		AuthorID:  authorID,
		Content:   content,
		CreatedAt: s.now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO chat_messages (id, session_id, author_id, content, created_at) VALUES (?, ?, ?, ?, ?)`),
		msg.ID, msg.SessionID, msg.AuthorID, msg.Content, msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert chat message: %w", err)
	}

	s.publish(sessionID, live.TableChatMessages, live.RowInsert, msg)
	return msg, nil
}

// ListChatMessages returns a session's chat in creation order, oldest first.
func (s *Store) ListChatMessages(ctx context.Context, sessionID string, limit int) ([]game.ChatMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT id, session_id, author_id, content, created_at FROM chat_messages
		     WHERE session_id = ? ORDER BY created_at, id LIMIT ?`), sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query chat messages: %w", err)
	}
	defer rows.Close()

	msgs := []game.ChatMessage{}
	for rows.Next() {
		var m game.ChatMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.AuthorID, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
