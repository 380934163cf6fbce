package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// CreateRequest describes a session to create.
type CreateRequest struct {
	ClientID string
	Scenario string
	Voice    string
	Mode     Mode
	Sink     Sink
}

// Info is a point-in-time summary of a session.
type Info struct {
	ID       string
	ClientID string
	Scenario string
	Voice    string
	Mode     Mode
	State    State
}

// Registry maps session IDs to live sessions. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	seq      uint64

	deps   Deps
	cfg    Config
	logger *slog.Logger
}

// NewRegistry creates a registry that builds sessions from deps and cfg.
func NewRegistry(deps Deps, cfg Config) *Registry {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		deps:     deps,
		cfg:      cfg,
		logger:   deps.Logger,
	}
}

// Create builds a session in StateCreated and registers it under a fresh ID.
// IDs embed a per-registry sequence number, so none is ever reused.
func (r *Registry) Create(req CreateRequest) (*Session, error) {
	if req.Mode == "" {
		req.Mode = ModeVoice
	}
	switch req.Mode {
	case ModeVoice:
		if r.deps.Opener == nil {
			return nil, fmt.Errorf("%w: %s", ErrModeUnavailable, req.Mode)
		}
	case ModeText:
		if r.deps.Responder == nil {
			return nil, fmt.Errorf("%w: %s", ErrModeUnavailable, req.Mode)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, req.Mode)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	id := fmt.Sprintf("session_%d_%s", r.seq, uuid.NewString()[:8])
	s := newSession(id, req, r.deps, r.cfg)
	r.sessions[id] = s

	r.logger.Info("Session registered", "session_id", id, "client_id", req.ClientID, "scenario", s.Scenario, "mode", s.Mode)
	return s, nil
}

// Get returns the session with id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove drops id from the registry. Unknown IDs are ignored.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; ok {
		delete(r.sessions, id)
		r.logger.Info("Session unregistered", "session_id", id)
	}
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot summarizes every registered session, ordered by ID.
func (r *Registry) Snapshot() []Info {
	r.mu.RLock()
	list := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	r.mu.RUnlock()

	infos := make([]Info, 0, len(list))
	for _, s := range list {
		infos = append(infos, Info{
			ID:       s.ID,
			ClientID: s.ClientID,
			Scenario: s.Scenario,
			Voice:    s.Voice,
			Mode:     s.Mode,
			State:    s.State(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// EndAll ends and removes every session. It is used at shutdown.
func (r *Registry) EndAll(ctx context.Context) error {
	r.mu.Lock()
	list := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		list = append(list, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, s := range list {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			if err := s.End(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", s.ID, err))
				mu.Unlock()
			}
		}(s)
	}
	wg.Wait()
	if len(list) > 0 {
		r.logger.Info("Ended all sessions", "count", len(list))
	}
	return errors.Join(errs...)
}
