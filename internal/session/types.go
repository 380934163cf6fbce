// Package session implements the per-conversation protocol engine: the
// session state machine that drives the model stream, the response
// dispatcher that consumes it, and the process-wide session registry.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/sonic-trainer/internal/model"
	"github.com/ashureev/sonic-trainer/internal/protocol"
	"github.com/ashureev/sonic-trainer/internal/scenario"
)

var (
	// ErrInvalidState is returned when an operation is not valid in the current state.
	ErrInvalidState = errors.New("session: invalid state")
	// ErrInitialization wraps every failure of Start.
	ErrInitialization = errors.New("session: initialization failed")
	// ErrNotActive is returned by input operations on a session that is not active.
	ErrNotActive = errors.New("session: not active")
	// ErrEnded is returned by Start when End won the race against initialization.
	ErrEnded = errors.New("session: ended during initialization")
	// ErrUnknownMode is returned for an unrecognized mode string.
	ErrUnknownMode = errors.New("session: unknown mode")
	// ErrModeUnavailable is returned when the backend for a mode is not configured.
	ErrModeUnavailable = errors.New("session: mode not available")
	// ErrWrongMode is returned by operations that belong to the other mode.
	ErrWrongMode = errors.New("session: operation not supported in this mode")

	errContentNotOpen = errors.New("content block is not open")
)

// State is a lifecycle state of a Session.
type State int

// Lifecycle states.
const (
	StateCreated State = iota
	StateInitializing
	StateActive
	StateEnding
	StateEnded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateEnding:
		return "ending"
	case StateEnded:
		return "ended"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Mode selects how a session talks to the models.
type Mode string

// Session modes.
const (
	// ModeVoice streams audio to the speech-to-speech model.
	ModeVoice Mode = "voice"
	// ModeText answers typed turns with the text model and synthesized speech.
	ModeText Mode = "text"
)

// ParseMode maps a client-supplied mode to a Mode; "" selects ModeVoice.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(ModeVoice):
		return ModeVoice, nil
	case string(ModeText):
		return ModeText, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// Turn is one entry of the conversation history.
type Turn struct {
	Role    protocol.Role
	Content string
}

// OutputKind classifies what a session hands to its Sink.
type OutputKind int

// Output kinds.
const (
	OutputAssistantText OutputKind = iota + 1
	OutputUserTranscript
	OutputAssistantAudio
	OutputStreamError
	// OutputStreamEnded reports that the model closed the stream while the
	// session was still active.
	OutputStreamEnded
)

// Output is one item for the client: text, audio or a stream failure notice.
// Audio is base64 text.
type Output struct {
	Kind      OutputKind
	SessionID string
	Text      string
	Audio     string
}

// Sink receives a session's outputs. Deliver is called from the dispatcher
// goroutine and must not block for long.
type Sink interface {
	Deliver(Output)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Output)

// Deliver calls f.
func (f SinkFunc) Deliver(o Output) { f(o) }

// Config holds protocol parameters shared by all sessions.
type Config struct {
	Inference   protocol.InferenceConfiguration
	OpenTimeout time.Duration
	// HistoryWindow is how many history entries feed text-mode prompts.
	HistoryWindow int
}

// DefaultConfig returns the protocol defaults.
func DefaultConfig() Config {
	return Config{
		Inference: protocol.InferenceConfiguration{
			MaxTokens:   1024,
			TopP:        0.9,
			Temperature: 0.7,
		},
		OpenTimeout:   15 * time.Second,
		HistoryWindow: 4,
	}
}

// Deps are the collaborators sessions are built with. Opener is required for
// voice sessions, Responder for text sessions; Synthesizer is optional.
type Deps struct {
	Catalog     *scenario.Catalog
	Opener      model.Opener
	Responder   model.Responder
	Synthesizer model.Synthesizer
	Logger      *slog.Logger
}
