package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/sonic-trainer/internal/model"
	"github.com/ashureev/sonic-trainer/internal/protocol"
	"github.com/ashureev/sonic-trainer/internal/scenario"
	"github.com/google/uuid"
)

// Session is one training conversation. All frames a session sends go
// through mu, so the model sees them in call order.
type Session struct {
	ID                string
	ClientID          string
	Scenario          string
	RequestedScenario string
	Voice             string
	Mode              Mode
	PromptName        string
	TextContentName   string
	AudioContentName  string
	CreatedAt         time.Time

	prompt      scenario.Scenario
	catalog     *scenario.Catalog
	cfg         Config
	opener      model.Opener
	responder   model.Responder
	synthesizer model.Synthesizer
	sink        Sink
	logger      *slog.Logger

	// life bounds the model stream and the dispatcher.
	life       context.Context
	cancelLife context.CancelFunc

	mu                sync.Mutex
	state             State
	stream            model.Stream
	audioInputStarted bool
	openContent       map[string]bool
	dispatchDone      chan struct{}
	failure           error

	histMu  sync.Mutex
	history []Turn

	statsMu       sync.Mutex
	droppedFrames int
	dispatchErr   error

	// owned by the dispatcher goroutine
	role                 protocol.Role
	displayAssistantText bool
}

func newSession(id string, req CreateRequest, deps Deps, cfg Config) *Session {
	sc := deps.Catalog.Resolve(req.Scenario)
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sink := req.Sink
	if sink == nil {
		sink = SinkFunc(func(Output) {})
	}
	life, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:                id,
		ClientID:          req.ClientID,
		Scenario:          sc.Key,
		RequestedScenario: req.Scenario,
		Voice:             req.Voice,
		Mode:              req.Mode,
		PromptName:        uuid.NewString(),
		TextContentName:   uuid.NewString(),
		AudioContentName:  uuid.NewString(),
		CreatedAt:         time.Now(),
		prompt:            sc,
		catalog:           deps.Catalog,
		cfg:               cfg,
		opener:            deps.Opener,
		responder:         deps.Responder,
		synthesizer:       deps.Synthesizer,
		sink:              sink,
		logger:            logger.With("session_id", id),
		life:              life,
		cancelLife:        cancel,
		openContent:       make(map[string]bool),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Active reports whether the session accepts input.
func (s *Session) Active() bool {
	return s.State() == StateActive
}

// Err returns the failure that moved the session to StateFailed, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// Start opens the model stream and sends the handshake: session start,
// prompt start and the scenario's system prompt as a SYSTEM text block.
// On success the session is active and its dispatcher is running.
// A text-mode session opens no stream.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateCreated {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: start from %s", ErrInvalidState, st)
	}
	s.state = StateInitializing
	s.mu.Unlock()

	if s.Mode == ModeText {
		return s.startText()
	}
	if s.opener == nil {
		return s.fail(fmt.Errorf("%w: %w", ErrInitialization, ErrModeUnavailable))
	}

	stream, err := s.openStream(ctx)
	if err != nil {
		return s.fail(fmt.Errorf("%w: open stream: %w", ErrInitialization, err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInitializing {
		_ = stream.Close()
		return ErrEnded
	}
	s.stream = stream

	for _, ev := range s.handshake() {
		if err := s.sendLocked(ctx, ev); err != nil {
			err = fmt.Errorf("%w: %w", ErrInitialization, err)
			s.state = StateFailed
			s.failure = err
			_ = stream.Close()
			s.cancelLife()
			return err
		}
	}

	s.state = StateActive
	done := make(chan struct{})
	s.dispatchDone = done
	go s.dispatch(s.life, stream, done)

	s.logger.Info("Session started", "scenario", s.Scenario, "voice", s.Voice)
	return nil
}

func (s *Session) startText() error {
	if s.responder == nil {
		return s.fail(fmt.Errorf("%w: %w", ErrInitialization, ErrModeUnavailable))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInitializing {
		return ErrEnded
	}
	s.state = StateActive
	s.logger.Info("Text session started", "scenario", s.Scenario, "voice", s.Voice)
	return nil
}

// fail records err and moves an initializing session to StateFailed. If End
// already ran, the session stays ended and ErrEnded is returned.
func (s *Session) fail(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLife()
	if s.state != StateInitializing {
		return ErrEnded
	}
	s.state = StateFailed
	s.failure = err
	s.logger.Warn("Session start failed", "error", err)
	return err
}

// openStream opens the model stream under the session's lifetime context.
// The caller's ctx and the open timeout only bound the open itself.
func (s *Session) openStream(ctx context.Context) (model.Stream, error) {
	stopCaller := context.AfterFunc(ctx, s.cancelLife)

	var timer *time.Timer
	if s.cfg.OpenTimeout > 0 {
		timer = time.AfterFunc(s.cfg.OpenTimeout, s.cancelLife)
	}

	stream, err := s.opener.Open(s.life)

	callerCancelled := !stopCaller()
	timedOut := timer != nil && !timer.Stop()
	if callerCancelled || timedOut {
		if stream != nil {
			_ = stream.Close()
		}
		if timedOut {
			return nil, fmt.Errorf("open timed out after %s: %w", s.cfg.OpenTimeout, context.DeadlineExceeded)
		}
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func (s *Session) handshake() []protocol.Event {
	return []protocol.Event{
		protocol.SessionStartEvent(s.cfg.Inference),
		protocol.PromptStartEvent(s.PromptName, s.Voice),
		protocol.TextContentStartEvent(s.PromptName, s.TextContentName, protocol.RoleSystem),
		protocol.TextInputEvent(s.PromptName, s.TextContentName, s.prompt.Prompt),
		protocol.ContentEndEvent(s.PromptName, s.TextContentName),
	}
}

// sendLocked encodes and sends one frame. A content end is only sent for a
// block this session opened and has not closed. Callers hold mu.
func (s *Session) sendLocked(ctx context.Context, ev protocol.Event) error {
	if ev.ContentEnd != nil && !s.openContent[ev.ContentEnd.ContentName] {
		return fmt.Errorf("send %s %s: %w", ev.Name(), ev.ContentEnd.ContentName, errContentNotOpen)
	}
	frame, err := protocol.Encode(ev)
	if err != nil {
		return err
	}
	if err := s.stream.Send(ctx, frame); err != nil {
		return fmt.Errorf("send %s: %w", ev.Name(), err)
	}
	switch {
	case ev.ContentStart != nil:
		s.openContent[ev.ContentStart.ContentName] = true
	case ev.ContentEnd != nil:
		delete(s.openContent, ev.ContentEnd.ContentName)
	}
	return nil
}

// SendAudioChunk forwards one chunk of 16 kHz PCM audio. The USER audio
// block is opened on the first chunk. It reports false when the session is
// not active or a send fails; the session stays active either way.
func (s *Session) SendAudioChunk(ctx context.Context, chunk []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive || s.stream == nil {
		return false
	}

	if !s.audioInputStarted {
		if err := s.sendLocked(ctx, protocol.AudioContentStartEvent(s.PromptName, s.AudioContentName)); err != nil {
			s.logger.Warn("Failed to open audio input", "error", err)
			return false
		}
		s.audioInputStarted = true
	}

	ev := protocol.AudioInputEvent(s.PromptName, s.AudioContentName, base64.StdEncoding.EncodeToString(chunk))
	if err := s.sendLocked(ctx, ev); err != nil {
		s.logger.Warn("Failed to send audio chunk", "error", err, "bytes", len(chunk))
		return false
	}
	return true
}

// SendText sends one typed user turn to the model as a USER text block.
func (s *Session) SendText(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return ErrNotActive
	}
	if s.stream == nil {
		return ErrWrongMode
	}

	name := uuid.NewString()
	for _, ev := range []protocol.Event{
		protocol.TextContentStartEvent(s.PromptName, name, protocol.RoleUser),
		protocol.TextInputEvent(s.PromptName, name, text),
		protocol.ContentEndEvent(s.PromptName, name),
	} {
		if err := s.sendLocked(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// End closes the session. An open audio block is closed first, then the
// prompt and the session, then the stream; every step is attempted even if
// an earlier one fails, and the session ends up in StateEnded regardless.
// End waits for the dispatcher to exit or ctx to expire. Calling End again,
// or on a failed session, is a no-op.
func (s *Session) End(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateEnding, StateEnded, StateFailed:
		s.mu.Unlock()
		return nil
	case StateCreated, StateInitializing:
		s.state = StateEnded
		s.mu.Unlock()
		s.cancelLife()
		s.logger.Info("Session ended before start completed")
		return nil
	}

	s.state = StateEnding
	var errs []error
	if s.stream != nil {
		if s.audioInputStarted {
			if err := s.sendLocked(ctx, protocol.ContentEndEvent(s.PromptName, s.AudioContentName)); err != nil {
				errs = append(errs, err)
			}
			s.audioInputStarted = false
		}
		if err := s.sendLocked(ctx, protocol.PromptEndEvent(s.PromptName)); err != nil {
			errs = append(errs, err)
		}
		if err := s.sendLocked(ctx, protocol.SessionEndEvent()); err != nil {
			errs = append(errs, err)
		}
		if err := s.stream.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close stream: %w", err))
		}
	}
	s.state = StateEnded
	done := s.dispatchDone
	s.mu.Unlock()

	s.cancelLife()
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			s.logger.Warn("Dispatcher did not stop before deadline", "error", ctx.Err())
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		s.logger.Warn("Session ended with errors", "error", err)
	} else {
		s.logger.Info("Session ended")
	}
	return err
}

// History returns a copy of the conversation so far.
func (s *Session) History() []Turn {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	return append([]Turn(nil), s.history...)
}

func (s *Session) appendHistory(turns ...Turn) {
	s.histMu.Lock()
	s.history = append(s.history, turns...)
	s.histMu.Unlock()
}

func (s *Session) recentHistory(n int) []Turn {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	if n <= 0 || n >= len(s.history) {
		return append([]Turn(nil), s.history...)
	}
	return append([]Turn(nil), s.history[len(s.history)-n:]...)
}

// DispatchStats reports frames the dispatcher dropped and the error that
// stopped it, if any.
func (s *Session) DispatchStats() (dropped int, err error) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.droppedFrames, s.dispatchErr
}
