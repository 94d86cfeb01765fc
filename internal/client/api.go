package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"wartable/internal/auth"
	"wartable/internal/game"
	"wartable/internal/live"
)

// API is the HTTP client for the wartable server. It implements
// live.Snapshotter and live.LogAppender for the synchronizer and exposes the
// handful of calls the terminal client needs beyond those.
type API struct {
	baseURL string
	token   func() string
	http    *http.Client
}

// NewAPI builds a client for baseURL. token is read per request so a
// refreshed credential is picked up automatically.
func NewAPI(baseURL string, token func() string) *API {
	return &API{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

type tokenResponse struct {
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expiresAt"`
	Identity  auth.Identity `json:"identity"`
}

// IssueToken registers a user by name and role, returning a bearer token and
// the assigned identity. Unauthenticated.
func (a *API) IssueToken(ctx context.Context, name, role string) (string, auth.Identity, error) {
	var out tokenResponse
	err := a.do(ctx, http.MethodPost, "/api/auth/token",
		map[string]string{"name": name, "role": role}, &out, false)
	if err != nil {
		return "", auth.Identity{}, err
	}
	return out.Token, out.Identity, nil
}

// RefreshToken exchanges current for a fresh token. Usable as a
// RefreshFunc via a small closure.
func (a *API) RefreshToken(ctx context.Context, current string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/auth/refresh", nil)
	if err != nil {
		return "", fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+current)

	var out tokenResponse
	if err := a.send(req, &out); err != nil {
		return "", err
	}
	return out.Token, nil
}

// CreateSession makes a new session owned by the caller.
func (a *API) CreateSession(ctx context.Context, name string) (*game.Session, error) {
	var sess game.Session
	err := a.do(ctx, http.MethodPost, "/api/sessions", map[string]string{"name": name}, &sess, true)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// JoinSession redeems an invite code.
func (a *API) JoinSession(ctx context.Context, code string) (*game.Invite, error) {
	var inv game.Invite
	err := a.do(ctx, http.MethodPost, "/api/invites/"+code+"/redeem", nil, &inv, true)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// Snapshot fetches the session, its map and its recent battles in one
// consistent-enough read for the synchronizer's loading phase.
func (a *API) Snapshot(ctx context.Context, sessionID string) (*live.Snapshot, error) {
	var sess game.Session
	if err := a.do(ctx, http.MethodGet, "/api/sessions/"+sessionID, nil, &sess, true); err != nil {
		return nil, err
	}
	var m game.Map
	if err := a.do(ctx, http.MethodGet, "/api/sessions/"+sessionID+"/map", nil, &m, true); err != nil {
		return nil, err
	}
	var battles []game.Battle
	if err := a.do(ctx, http.MethodGet, "/api/sessions/"+sessionID+"/battles?limit=20", nil, &battles, true); err != nil {
		return nil, err
	}
	return &live.Snapshot{Session: sess, Map: &m, Battles: battles}, nil
}

// AppendLog appends one line to a battle's log.
func (a *API) AppendLog(ctx context.Context, battleID, message string) error {
	return a.do(ctx, http.MethodPost, "/api/battles/"+battleID+"/log",
		map[string]string{"message": message}, nil, true)
}

// SaveMap replaces the session's map.
func (a *API) SaveMap(ctx context.Context, m *game.Map) (*game.Map, error) {
	var out game.Map
	err := a.do(ctx, http.MethodPut, "/api/sessions/"+m.SessionID+"/map", m, &out, true)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateBattle starts a battle in the session.
func (a *API) CreateBattle(ctx context.Context, b *game.Battle) (*game.Battle, error) {
	var out game.Battle
	err := a.do(ctx, http.MethodPost, "/api/sessions/"+b.SessionID+"/battles", b, &out, true)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SendChat posts a durable chat line to the session.
func (a *API) SendChat(ctx context.Context, sessionID, content string) (*game.ChatMessage, error) {
	var msg game.ChatMessage
	err := a.do(ctx, http.MethodPost, "/api/sessions/"+sessionID+"/chat",
		map[string]string{"content": content}, &msg, true)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (a *API) do(ctx context.Context, method, path string, body, out any, authed bool) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+a.token())
	}
	return a.send(req, out)
}

func (a *API) send(req *http.Request, out any) error {
	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (%d)", req.Method, req.URL.Path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
