package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDecode is matched by every DecodeError.
	ErrDecode = errors.New("protocol: decode failed")
	// ErrEmptyEvent is returned when encoding an event with no payload or more than one.
	ErrEmptyEvent = errors.New("protocol: event must carry exactly one payload")
)

// DecodeError reports a malformed or truncated frame.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: decode: %s: %v", e.Reason, e.Err)
	}
	return "protocol: decode: " + e.Reason
}

func (e *DecodeError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrDecode, e.Err}
	}
	return []error{ErrDecode}
}

type envelope struct {
	Event Event `json:"event"`
}

type rawEnvelope struct {
	Event map[string]json.RawMessage `json:"event"`
}

// Encode serializes one event into a frame.
func Encode(ev Event) ([]byte, error) {
	if ev.payloadCount() != 1 {
		return nil, ErrEmptyEvent
	}
	data, err := json.Marshal(envelope{Event: ev})
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", ev.Name(), err)
	}
	return data, nil
}

// Decode parses one frame. Unrecognized event names decode successfully with
// only Event.Unknown set.
func Decode(data []byte) (Event, error) {
	var raw rawEnvelope
	if err := json.Unmarshal(data, &raw); err != nil {
		return Event{}, &DecodeError{Reason: "invalid json", Err: err}
	}
	if raw.Event == nil {
		return Event{}, &DecodeError{Reason: "missing event envelope"}
	}
	if len(raw.Event) != 1 {
		return Event{}, &DecodeError{Reason: fmt.Sprintf("expected one event, got %d", len(raw.Event))}
	}

	var (
		ev     Event
		name   string
		target any
	)
	for name = range raw.Event {
	}
	switch name {
	case NameSessionStart:
		ev.SessionStart = &SessionStart{}
		target = ev.SessionStart
	case NamePromptStart:
		ev.PromptStart = &PromptStart{}
		target = ev.PromptStart
	case NameContentStart:
		ev.ContentStart = &ContentStart{}
		target = ev.ContentStart
	case NameTextInput:
		ev.TextInput = &TextInput{}
		target = ev.TextInput
	case NameAudioInput:
		ev.AudioInput = &AudioInput{}
		target = ev.AudioInput
	case NameContentEnd:
		ev.ContentEnd = &ContentEnd{}
		target = ev.ContentEnd
	case NamePromptEnd:
		ev.PromptEnd = &PromptEnd{}
		target = ev.PromptEnd
	case NameSessionEnd:
		ev.SessionEnd = &SessionEnd{}
		target = ev.SessionEnd
	case NameTextOutput:
		ev.TextOutput = &TextOutput{}
		target = ev.TextOutput
	case NameAudioOutput:
		ev.AudioOutput = &AudioOutput{}
		target = ev.AudioOutput
	case NameCompletionStart:
		ev.CompletionStart = &Completion{}
		target = ev.CompletionStart
	case NameCompletionEnd:
		ev.CompletionEnd = &Completion{}
		target = ev.CompletionEnd
	default:
		if strings.TrimSpace(name) == "" {
			return Event{}, &DecodeError{Reason: "empty event name"}
		}
		return Event{Unknown: name}, nil
	}

	body := raw.Event[name]
	if len(body) == 0 || body[0] != '{' {
		return Event{}, &DecodeError{Reason: name + " payload is not an object"}
	}
	if err := json.Unmarshal(body, target); err != nil {
		return Event{}, &DecodeError{Reason: name + " payload", Err: err}
	}
	return ev, nil
}

// GenerationStage extracts generationStage from the JSON string carried in
// contentStart.additionalModelFields.
func GenerationStage(additionalModelFields string) (string, error) {
	var fields struct {
		GenerationStage string `json:"generationStage"`
	}
	if err := json.Unmarshal([]byte(additionalModelFields), &fields); err != nil {
		return "", &DecodeError{Reason: "additionalModelFields", Err: err}
	}
	return fields.GenerationStage, nil
}

// IsSpeculative reports whether the metadata marks the block as speculative.
// Any decode failure yields false.
func IsSpeculative(additionalModelFields string) bool {
	if additionalModelFields == "" {
		return false
	}
	stage, err := GenerationStage(additionalModelFields)
	if err != nil {
		return false
	}
	return strings.EqualFold(stage, StageSpeculative)
}
