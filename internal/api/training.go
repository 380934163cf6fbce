package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ashureev/sonic-trainer/internal/domain"
	"github.com/ashureev/sonic-trainer/internal/identity"
	"github.com/ashureev/sonic-trainer/internal/scenario"
	"github.com/go-chi/chi/v5"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// History reads the session ledger. store.Ledger satisfies it.
type History interface {
	GetClient(ctx context.Context, clientID string) (*domain.Client, error)
	GetSession(ctx context.Context, sessionID string) (*domain.SessionRecord, error)
	ListByClient(ctx context.Context, clientID string, limit int) ([]*domain.SessionRecord, error)
}

// TrainingHandler serves the scenario list and the client's session history.
type TrainingHandler struct {
	catalog *scenario.Catalog
	history History
}

// NewTrainingHandler creates the handler. history may be nil, in which case
// the session list is always empty.
func NewTrainingHandler(catalog *scenario.Catalog, history History) *TrainingHandler {
	return &TrainingHandler{catalog: catalog, history: history}
}

// RegisterRoutes registers the /api routes.
func (h *TrainingHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/scenarios", h.ListScenarios)
		r.Get("/me", h.GetMe)
		r.Get("/sessions", h.ListSessions)
		r.Get("/sessions/{sessionID}", h.GetSession)
	})
}

type scenarioItem struct {
	Key     string `json:"key"`
	Title   string `json:"title"`
	Default bool   `json:"default"`
}

// ListScenarios returns the scenario keys and titles, sorted by key.
func (h *TrainingHandler) ListScenarios(w http.ResponseWriter, _ *http.Request) {
	keys := h.catalog.Keys()
	items := make([]scenarioItem, 0, len(keys))
	for _, key := range keys {
		s, _ := h.catalog.Lookup(key)
		items = append(items, scenarioItem{
			Key:     key,
			Title:   s.Title,
			Default: key == h.catalog.DefaultKey,
		})
	}
	JSON(w, http.StatusOK, map[string]any{"scenarios": items})
}

// ListSessions returns the calling client's most recent sessions.
func (h *TrainingHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	records := []*domain.SessionRecord{}
	if h.history != nil {
		clientID := identity.ClientIDFromContext(r.Context())
		list, err := h.history.ListByClient(r.Context(), clientID, limit)
		if err != nil {
			slog.Error("Failed to list sessions", "client_id", clientID, "error", err)
			Error(w, http.StatusInternalServerError, "failed to list sessions")
			return
		}
		if list != nil {
			records = list
		}
	}
	JSON(w, http.StatusOK, map[string]any{"sessions": records})
}

// GetMe returns the calling client's identity and when it was first and
// last seen.
func (h *TrainingHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	clientID := identity.ClientIDFromContext(r.Context())
	resp := map[string]any{"client_id": clientID}
	if h.history != nil {
		c, err := h.history.GetClient(r.Context(), clientID)
		if err != nil {
			slog.Error("Failed to get client", "client_id", clientID, "error", err)
			Error(w, http.StatusInternalServerError, "failed to get client")
			return
		}
		if c != nil {
			resp["first_seen_at"] = c.FirstSeenAt
			resp["last_seen_at"] = c.LastSeenAt
		}
	}
	JSON(w, http.StatusOK, resp)
}

// GetSession returns one of the calling client's sessions. Sessions owned by
// other clients are reported as not found.
func (h *TrainingHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	clientID := identity.ClientIDFromContext(r.Context())
	id := chi.URLParam(r, "sessionID")
	rec, err := h.history.GetSession(r.Context(), id)
	if err != nil {
		slog.Error("Failed to get session", "session_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to get session")
		return
	}
	if rec == nil || rec.ClientID != clientID {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	JSON(w, http.StatusOK, rec)
}
