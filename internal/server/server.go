// Package server is the HTTP surface: REST handlers for sessions, maps,
// battles, chat, invites and shops, plus the realtime websocket endpoint.
package server

import (
	"bufio"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"wartable/internal/auth"
	"wartable/internal/config"
	"wartable/internal/realtime"
	"wartable/internal/store"
)

// Server wires the store, auth provider and relay hub behind a router.
type Server struct {
	cfg    config.Config
	logger *slog.Logger
	store  *store.Store
	auth   *auth.Provider
	hub    *realtime.Hub
	router chi.Router

	allowAllOrigins bool
}

// New constructs a Server with routes and middleware configured.
func New(cfg config.Config, logger *slog.Logger, st *store.Store, provider *auth.Provider, hub *realtime.Hub) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		logger: logger,
		store:  st,
		auth:   provider,
		hub:    hub,
	}
	for _, origin := range cfg.AllowedOrigins {
		if origin == "*" {
			s.allowAllOrigins = true
		}
	}
	s.routes()
	return s
}

// Router returns the configured handler, for tests and for Run.
func (s *Server) Router() http.Handler {
	return s.router
}

// Run starts the HTTP server.
func (s *Server) Run() error {
	addr := ":" + s.cfg.Port
	s.logger.Info("starting server", slog.String("addr", addr))
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(s.requestLogger)
	r.Use(s.withCORS)

	r.Get("/healthz", s.handleHealth)
	r.Get("/realtime", s.hub.HandleWS)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/token", s.handleIssueToken)
		r.Post("/auth/refresh", s.handleRefreshToken)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			r.Post("/sessions", s.handleCreateSession)
			r.Get("/sessions", s.handleListSessions)
			r.Post("/invites/{code}/redeem", s.handleRedeemInvite)

			r.Route("/sessions/{sessionID}", func(r chi.Router) {
				r.Use(s.requireMember)

				r.Get("/", s.handleGetSession)
				r.Get("/map", s.handleGetMap)
				r.Put("/map", s.handleSaveMap)
				r.Get("/battles", s.handleListBattles)
				r.Post("/battles", s.handleCreateBattle)
				r.Get("/chat", s.handleListChat)
				r.Post("/chat", s.handleSendChat)
				r.Get("/members", s.handleListMembers)
				r.Post("/invites", s.requireDM(s.handleCreateInvite))
				r.Post("/shops", s.requireDM(s.handleCreateShop))
				r.Post("/gold/{userID}", s.requireDM(s.handleGrantGold))
				r.Get("/gold", s.handleGoldBalance)
			})

			r.Route("/battles/{battleID}", func(r chi.Router) {
				r.Get("/", s.handleGetBattle)
				r.Put("/", s.handleUpdateBattle)
				r.Post("/log", s.handleAppendLog)
				r.Get("/export.pdf", s.handleExportBattle)
			})

			r.Route("/shops/{shopID}", func(r chi.Router) {
				r.Get("/", s.handleGetShop)
				r.Post("/purchase", s.handlePurchase)
			})
		})
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		s.logger.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rw.status),
			slog.Duration("duration", time.Since(start)))
	})
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowedOrigin := s.matchOrigin(origin)

		if origin != "" && allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			if allowedOrigin != "*" {
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) matchOrigin(origin string) string {
	if origin == "" {
		if s.allowAllOrigins {
			return "*"
		}
		return ""
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if strings.EqualFold(allowed, origin) {
			return allowed
		}
	}
	if s.allowAllOrigins {
		return "*"
	}
	return ""
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket handler upgrade through the wrapped writer.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijack not supported")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
