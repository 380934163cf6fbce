// Package bridge connects browser WebSocket clients to training sessions.
package bridge

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/sonic-trainer/internal/domain"
	"github.com/ashureev/sonic-trainer/internal/identity"
	"github.com/ashureev/sonic-trainer/internal/model"
	"github.com/ashureev/sonic-trainer/internal/session"
	"github.com/coder/websocket"
)

const connectedStatus = "Connected to speech model service"

// Prober answers a client's test_connection request.
type Prober interface {
	Probe(ctx context.Context) model.ProbeResult
}

// Recorder persists session lifecycle rows. store.Ledger satisfies it.
type Recorder interface {
	RecordCreated(ctx context.Context, rec *domain.SessionRecord) error
	RecordState(ctx context.Context, sessionID, state, failure string, at time.Time) error
}

// Options tunes the bridge.
type Options struct {
	AllowedOrigin   string
	IsDev           bool
	LaneQueueSize   int
	TeardownTimeout time.Duration
	WriteTimeout    time.Duration
	ProbeTimeout    time.Duration
	ReadLimit       int64
	Logger          *slog.Logger
}

func (o *Options) setDefaults() {
	if o.LaneQueueSize <= 0 {
		o.LaneQueueSize = 64
	}
	if o.TeardownTimeout <= 0 {
		o.TeardownTimeout = 10 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = 10 * time.Second
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 1 << 20
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Handler serves the client WebSocket. Each connection owns the sessions it
// starts; they are ended when it disconnects.
type Handler struct {
	registry *session.Registry
	prober   Prober
	recorder Recorder
	opts     Options
	logger   *slog.Logger

	mu    sync.Mutex
	conns map[*conn]struct{}
	wg    sync.WaitGroup
}

// NewHandler creates a bridge handler. prober and recorder may be nil.
func NewHandler(registry *session.Registry, prober Prober, recorder Recorder, opts Options) *Handler {
	opts.setDefaults()
	return &Handler{
		registry: registry,
		prober:   prober,
		recorder: recorder,
		opts:     opts,
		logger:   opts.Logger,
		conns:    make(map[*conn]struct{}),
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientID := identity.ClientIDFromContext(r.Context())
	logger := h.logger.With("client_id", clientID)
	logger.Info("WebSocket connection request", "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		logger.Error("Failed to accept WebSocket", "error", err)
		return
	}
	ws.SetReadLimit(h.opts.ReadLimit)
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "connection closed"); closeErr != nil {
			logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := newConn(ctx, h, ws, clientID, logger)
	if !h.track(c) {
		return
	}
	defer h.untrack(c)

	c.send(event{Type: typeConnected, Status: connectedStatus})
	c.readLoop()
	cancel()
	c.teardown()
	logger.Info("WebSocket connection closed")
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.opts.IsDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.opts.AllowedOrigin == "*" || origin == h.opts.AllowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.opts.AllowedOrigin)
	return false
}

func (h *Handler) track(c *conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns == nil {
		return false
	}
	h.conns[c] = struct{}{}
	h.wg.Add(1)
	return true
}

func (h *Handler) untrack(c *conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
	h.wg.Done()
}

// Shutdown closes every client connection, which ends their sessions, and
// waits for teardown to finish or ctx to expire. New connections are refused.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	conns := h.conns
	h.conns = nil
	h.mu.Unlock()

	for c := range conns {
		go func(c *conn) {
			_ = c.ws.Close(websocket.StatusGoingAway, "server shutting down")
		}(c)
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
