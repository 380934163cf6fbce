package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const serviceName = "sonic-trainer"

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StateCounter reports ledger rows per session state. It is optional for the
// ledger passed to NewHealthHandler.
type StateCounter interface {
	CountByState(ctx context.Context) (map[string]int, error)
}

// SessionCounter reports how many sessions are live.
type SessionCounter interface {
	Len() int
}

// HealthHandler serves GET /health.
type HealthHandler struct {
	ledger         Pinger
	sessions       SessionCounter
	region         string
	hasCredentials bool
	timeout        time.Duration
	now            func() time.Time
}

// NewHealthHandler creates a health handler. ledger may be nil.
func NewHealthHandler(ledger Pinger, sessions SessionCounter, region string, hasCredentials bool) *HealthHandler {
	return &HealthHandler{
		ledger:         ledger,
		sessions:       sessions,
		region:         region,
		hasCredentials: hasCredentials,
		timeout:        2 * time.Second,
		now:            time.Now,
	}
}

// RegisterHealth registers the health route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.ServeHTTP)
}

type healthResponse struct {
	Status             string            `json:"status"`
	Service            string            `json:"service"`
	ActiveSessionCount int               `json:"active_session_count"`
	Timestamp          string            `json:"timestamp"`
	AWSRegion          string            `json:"aws_region"`
	HasAWSCredentials  bool              `json:"has_aws_credentials"`
	Checks             map[string]string `json:"checks"`
	LedgerSessions     map[string]int    `json:"ledger_sessions,omitempty"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:            "healthy",
		Service:           serviceName,
		Timestamp:         h.now().UTC().Format(time.RFC3339),
		AWSRegion:         h.region,
		HasAWSCredentials: h.hasCredentials,
		Checks:            map[string]string{},
	}
	if h.sessions != nil {
		resp.ActiveSessionCount = h.sessions.Len()
	}

	status := http.StatusOK
	if h.ledger == nil {
		resp.Checks["ledger"] = "disabled"
	} else {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		err := h.ledger.Ping(ctx)
		cancel()
		if err != nil {
			slog.Warn("Health check: ledger unreachable", "error", err)
			resp.Status = "degraded"
			resp.Checks["ledger"] = "unreachable"
			status = http.StatusServiceUnavailable
		} else {
			resp.Checks["ledger"] = "ok"
			resp.LedgerSessions = h.ledgerCounts(r.Context())
		}
	}

	JSON(w, status, resp)
}

func (h *HealthHandler) ledgerCounts(ctx context.Context) map[string]int {
	counter, ok := h.ledger.(StateCounter)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	counts, err := counter.CountByState(ctx)
	if err != nil {
		slog.Debug("Health check: failed to count sessions", "error", err)
		return nil
	}
	return counts
}
