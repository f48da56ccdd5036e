// Package api provides the Admin HTTP API for the bot control plane: a
// thin layer over the Supervisor and Registry (spec §6). It never holds
// business logic — every handler either reads the registry or delegates
// to the supervisor and reports the outcome.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/npcforge/npcforge/internal/app/supervisor"
	"github.com/npcforge/npcforge/internal/domain"
	"github.com/npcforge/npcforge/internal/infra/eventbus"
	"github.com/npcforge/npcforge/internal/infra/registry"
)

// Server is the admin HTTP API server.
type Server struct {
	reg        *registry.Registry
	super      *supervisor.Supervisor
	push       *eventbus.PushServer
	apiKey     string
	metricsOn  bool
}

// NewServer constructs a Server. apiKey, if non-empty, is compared against
// every request's X-API-Key header; an empty apiKey disables auth (intended
// only for local development, never production per spec §6).
func NewServer(reg *registry.Registry, super *supervisor.Supervisor, push *eventbus.PushServer, apiKey string) *Server {
	return &Server{reg: reg, super: super, push: push, apiKey: apiKey}
}

// EnableMetrics turns on the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsOn = true }

// Handler returns the chi router with every route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if s.metricsOn {
		r.Handle("/metrics", promhttp.Handler())
	}

	if s.push != nil {
		r.Handle("/push", s.push)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/bots", func(r chi.Router) {
			r.Get("/", s.handleListBots)
			r.Post("/", s.handleCreateBot)
			r.Delete("/{id}", s.handleDeleteBot)
		})

		r.Post("/llm/command", s.handleLLMCommand)
	})

	return r
}

// authMiddleware enforces the X-API-Key header per spec §6. Comparison
// uses subtle.ConstantTimeCompare to avoid a timing side-channel on the key.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		got := r.Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.apiKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid or missing X-API-Key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleListBots returns every registry identity and its runtime status.
func (s *Server) handleListBots(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"bots": s.reg.GetAll()})
}

// createBotRequest is the body of POST /api/bots.
type createBotRequest struct {
	Name          string             `json:"name"`
	Role          domain.BotRole     `json:"role"`
	Description   string             `json:"description"`
	EntityType    string             `json:"entityType"`
	Personality   *domain.Personality `json:"personality"`
	MergeLearning bool               `json:"mergeLearning"`
}

// handleCreateBot creates and spawns a bot. Validation and capacity errors
// propagate to the caller per spec §7; transport/command failures during
// the world spawn do not — the profile is still created and returned, with
// the failure absorbed into the dead-letter queue.
func (s *Server) handleCreateBot(w http.ResponseWriter, r *http.Request) {
	var req createBotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if !req.Role.IsValid() {
		writeError(w, http.StatusBadRequest, "unknown bot role")
		return
	}

	profile, err := s.super.Spawn(r.Context(), supervisor.SpawnOptions{
		Name:          req.Name,
		Role:          req.Role,
		EntityType:    req.EntityType,
		Personality:   req.Personality,
		Description:   req.Description,
		MergeLearning: req.MergeLearning,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, profile)
}

// handleDeleteBot despawns and marks a bot inactive.
func (s *Server) handleDeleteBot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.super.Despawn(r.Context(), id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "despawned", "id": id})
}

// handleLLMCommand is a stub: free-text command interpretation is out of
// scope per spec §6.
func (s *Server) handleLLMCommand(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotImplemented, "free-text command interpretation is out of scope")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
