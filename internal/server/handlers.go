package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"wartable/internal/auth"
	"wartable/internal/economy"
	"wartable/internal/export"
	"wartable/internal/game"
	"wartable/internal/store"
)

const maxBodyBytes = 1 << 20

type tokenResponse struct {
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expiresAt"`
	Identity  auth.Identity `json:"identity"`
}

func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name string `json:"name"`
		Role string `json:"role"`
	}
	if !s.decodeBody(w, r, &payload) {
		return
	}
	if strings.TrimSpace(payload.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	role := payload.Role
	switch role {
	case "":
		role = game.RolePlayer
	case game.RoleDM, game.RolePlayer:
	default:
		writeError(w, http.StatusBadRequest, "unknown role")
		return
	}

	id := auth.Identity{UserID: uuid.NewString(), Name: strings.TrimSpace(payload.Name), Role: role}
	tok := s.auth.Issue(id)
	writeJSON(w, http.StatusOK, tokenResponse{Token: tok.Value, ExpiresAt: tok.ExpiresAt, Identity: id})
}

func (s *Server) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	current := parseToken(r.Header.Get("Authorization"))
	if current == "" {
		writeError(w, http.StatusUnauthorized, "missing token")
		return
	}
	tok, err := s.auth.Refresh(current)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	id, _ := s.auth.Verify(tok.Value)
	writeJSON(w, http.StatusOK, tokenResponse{Token: tok.Value, ExpiresAt: tok.ExpiresAt, Identity: id})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name string `json:"name"`
	}
	if !s.decodeBody(w, r, &payload) {
		return
	}
	id := identityFromContext(r.Context())
	sess, err := s.store.CreateSession(r.Context(), payload.Name, id.UserID, id.Name)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	sessions, err := s.store.ListSessionsFor(r.Context(), id.UserID)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleGetMap(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.GetMap(r.Context(), chi.URLParam(r, "sessionID"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "map not found")
		return
	}
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleSaveMap(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	m := game.DecodeMap(raw)
	if m == nil {
		writeError(w, http.StatusBadRequest, "invalid map")
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	current, err := s.store.GetMap(r.Context(), sessionID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "map not found")
		return
	}
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	m.ID = current.ID
	m.SessionID = sessionID
	m.CreatedAt = current.CreatedAt
	if err := s.store.SaveMap(r.Context(), m); err != nil {
		s.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleListBattles(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	battles, err := s.store.ListBattles(r.Context(), chi.URLParam(r, "sessionID"), limit)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, battles)
}

func (s *Server) handleCreateBattle(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	b := game.DecodeBattle(raw)
	if b == nil {
		writeError(w, http.StatusBadRequest, "invalid battle")
		return
	}
	b.SessionID = chi.URLParam(r, "sessionID")
	created, err := s.store.CreateBattle(r.Context(), b)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListChat(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	msgs, err := s.store.ListChatMessages(r.Context(), chi.URLParam(r, "sessionID"), limit)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleSendChat(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Content string `json:"content"`
	}
	if !s.decodeBody(w, r, &payload) {
		return
	}
	id := identityFromContext(r.Context())
	msg, err := s.store.InsertChatMessage(r.Context(), chi.URLParam(r, "sessionID"), id.UserID, payload.Content)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := s.store.ListMembers(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (s *Server) handleCreateInvite(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Role string `json:"role"`
		TTL  string `json:"ttl"`
	}
	if !s.decodeBody(w, r, &payload) {
		return
	}
	role := payload.Role
	if role == "" {
		role = game.RolePlayer
	}
	var ttl time.Duration
	if payload.TTL != "" {
		parsed, err := time.ParseDuration(payload.TTL)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid ttl")
			return
		}
		ttl = parsed
	}
	id := identityFromContext(r.Context())
	inv, err := s.store.CreateInvite(r.Context(), chi.URLParam(r, "sessionID"), role, id.UserID, ttl)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

func (s *Server) handleRedeemInvite(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	inv, err := s.store.RedeemInvite(r.Context(), chi.URLParam(r, "code"), id.UserID, id.Name)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "invite not found")
		return
	}
	if errors.Is(err, store.ErrInviteExpired) {
		writeError(w, http.StatusGone, "invite expired")
		return
	}
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// battleForMember loads a battle and checks the caller belongs to its
// session. Battle routes are not nested under a session path, so the
// membership gate runs here.
func (s *Server) battleForMember(w http.ResponseWriter, r *http.Request) *game.Battle {
	b, err := s.store.GetBattle(r.Context(), chi.URLParam(r, "battleID"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "battle not found")
		return nil
	}
	if err != nil {
		s.serverError(w, r, err)
		return nil
	}
	id := identityFromContext(r.Context())
	if _, err := s.store.Membership(r.Context(), b.SessionID, id.UserID); err != nil {
		writeError(w, http.StatusForbidden, "not a session member")
		return nil
	}
	return b
}

func (s *Server) handleGetBattle(w http.ResponseWriter, r *http.Request) {
	if b := s.battleForMember(w, r); b != nil {
		writeJSON(w, http.StatusOK, b)
	}
}

func (s *Server) handleUpdateBattle(w http.ResponseWriter, r *http.Request) {
	current := s.battleForMember(w, r)
	if current == nil {
		return
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	b := game.DecodeBattle(raw)
	if b == nil {
		writeError(w, http.StatusBadRequest, "invalid battle")
		return
	}
	b.ID = current.ID
	updated, err := s.store.UpdateBattle(r.Context(), b)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleAppendLog(w http.ResponseWriter, r *http.Request) {
	b := s.battleForMember(w, r)
	if b == nil {
		return
	}
	var payload struct {
		Message string `json:"message"`
	}
	if !s.decodeBody(w, r, &payload) {
		return
	}
	if err := s.store.AppendBattleLog(r.Context(), b.ID, payload.Message); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "appended"})
}

func (s *Server) handleExportBattle(w http.ResponseWriter, r *http.Request) {
	b := s.battleForMember(w, r)
	if b == nil {
		return
	}
	raw, err := export.BattleReport(b)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+b.Slug+`.pdf"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (s *Server) handleCreateShop(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name string `json:"name"`
		Seed int64  `json:"seed"`
	}
	if !s.decodeBody(w, r, &payload) {
		return
	}
	name := strings.TrimSpace(payload.Name)
	if name == "" {
		name = "General Store"
	}
	seed := payload.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	shop, err := s.store.CreateShop(r.Context(), &economy.Shop{
		SessionID: chi.URLParam(r, "sessionID"),
		Name:      name,
		Items:     economy.NewGenerator(seed).Generate(s.cfg.ShopSize),
	})
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, shop)
}

// shopForMember mirrors battleForMember for shop routes.
func (s *Server) shopForMember(w http.ResponseWriter, r *http.Request) *economy.Shop {
	shop, err := s.store.GetShop(r.Context(), chi.URLParam(r, "shopID"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "shop not found")
		return nil
	}
	if err != nil {
		s.serverError(w, r, err)
		return nil
	}
	id := identityFromContext(r.Context())
	if _, err := s.store.Membership(r.Context(), shop.SessionID, id.UserID); err != nil {
		writeError(w, http.StatusForbidden, "not a session member")
		return nil
	}
	return shop
}

func (s *Server) handleGetShop(w http.ResponseWriter, r *http.Request) {
	if shop := s.shopForMember(w, r); shop != nil {
		writeJSON(w, http.StatusOK, shop)
	}
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	shop := s.shopForMember(w, r)
	if shop == nil {
		return
	}
	var payload struct {
		ItemID string `json:"itemId"`
	}
	if !s.decodeBody(w, r, &payload) {
		return
	}
	id := identityFromContext(r.Context())
	item, balance, err := s.store.PurchaseItem(r.Context(), shop.ID, payload.ItemID, id.UserID)
	switch {
	case errors.Is(err, economy.ErrItemNotFound):
		writeError(w, http.StatusNotFound, "item not found")
		return
	case errors.Is(err, economy.ErrOutOfStock):
		writeError(w, http.StatusConflict, "item out of stock")
		return
	case errors.Is(err, economy.ErrInsufficientGold):
		writeError(w, http.StatusPaymentRequired, "insufficient gold")
		return
	case err != nil:
		s.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": item, "balance": balance})
}

func (s *Server) handleGrantGold(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Amount int    `json:"amount"`
		Reason string `json:"reason"`
	}
	if !s.decodeBody(w, r, &payload) {
		return
	}
	if payload.Amount == 0 {
		writeError(w, http.StatusBadRequest, "amount is required")
		return
	}
	reason := payload.Reason
	if reason == "" {
		reason = "dm grant"
	}
	sessionID := chi.URLParam(r, "sessionID")
	userID := chi.URLParam(r, "userID")
	if err := s.store.AddLedgerEntry(r.Context(), sessionID, userID, payload.Amount, reason); err != nil {
		s.serverError(w, r, err)
		return
	}
	balance, err := s.store.GoldBalance(r.Context(), sessionID, userID)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"balance": balance})
}

func (s *Server) handleGoldBalance(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	balance, err := s.store.GoldBalance(r.Context(), chi.URLParam(r, "sessionID"), id.UserID)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"balance": balance})
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) serverError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, "internal error")
}
