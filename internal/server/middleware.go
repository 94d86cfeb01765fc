package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"wartable/internal/auth"
	"wartable/internal/game"
	"wartable/internal/store"
)

type contextKey string

const (
	identityContextKey contextKey = "identity"
	memberContextKey   contextKey = "member"
)

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := parseToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing token")
			return
		}
		id, err := s.auth.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), identityContextKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireMember resolves the {sessionID} membership row and rejects
// non-members before the handler runs.
func (s *Server) requireMember(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := identityFromContext(r.Context())
		sessionID := chi.URLParam(r, "sessionID")
		member, err := s.store.Membership(r.Context(), sessionID, id.UserID)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusForbidden, "not a session member")
			return
		}
		if err != nil {
			s.serverError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), memberContextKey, *member)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireDM gates a handler on the caller holding the DM role in the session.
func (s *Server) requireDM(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		member := memberFromContext(r.Context())
		if member.Role != game.RoleDM {
			writeError(w, http.StatusForbidden, "dm role required")
			return
		}
		next(w, r)
	}
}

func parseToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return parts[1]
	}
	return header
}

func identityFromContext(ctx context.Context) auth.Identity {
	if v := ctx.Value(identityContextKey); v != nil {
		if id, ok := v.(auth.Identity); ok {
			return id
		}
	}
	return auth.Identity{}
}

func memberFromContext(ctx context.Context) game.Member {
	if v := ctx.Value(memberContextKey); v != nil {
		if m, ok := v.(game.Member); ok {
			return m
		}
	}
	return game.Member{}
}
