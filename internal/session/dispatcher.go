package session

import (
	"context"
	"encoding/base64"
	"errors"
	"io"

	"github.com/ashureev/sonic-trainer/internal/model"
	"github.com/ashureev/sonic-trainer/internal/protocol"
)

// dispatch reads model frames until the stream ends or ctx is cancelled.
// Frames that fail to decode are logged and dropped; they never stop the loop.
func (s *Session) dispatch(ctx context.Context, stream model.Stream, done chan struct{}) {
	defer close(done)

	for {
		frame, err := stream.Receive(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil, s.closing():
			case errors.Is(err, io.EOF):
				s.logger.Info("Model stream ended")
				s.sink.Deliver(Output{Kind: OutputStreamEnded, SessionID: s.ID})
			default:
				s.logger.Warn("Model stream receive failed", "error", err)
				s.statsMu.Lock()
				s.dispatchErr = err
				s.statsMu.Unlock()
				s.sink.Deliver(Output{Kind: OutputStreamError, SessionID: s.ID, Text: err.Error()})
			}
			return
		}

		ev, err := protocol.Decode(frame)
		if err != nil {
			s.logger.Warn("Dropping undecodable model frame", "error", err, "bytes", len(frame))
			s.statsMu.Lock()
			s.droppedFrames++
			s.statsMu.Unlock()
			continue
		}
		s.handle(ev)
	}
}

// closing reports whether End has started.
func (s *Session) closing() bool {
	st := s.State()
	return st == StateEnding || st == StateEnded
}

func (s *Session) handle(ev protocol.Event) {
	switch {
	case ev.ContentStart != nil:
		s.role = ev.ContentStart.Role
		s.displayAssistantText = false
		if fields := ev.ContentStart.AdditionalModelFields; fields != "" {
			s.displayAssistantText = protocol.IsSpeculative(fields)
		}

	case ev.TextOutput != nil:
		text := ev.TextOutput.Content
		if text == "" {
			return
		}
		switch s.role {
		case protocol.RoleAssistant:
			if !s.displayAssistantText {
				return
			}
			s.appendHistory(Turn{Role: protocol.RoleAssistant, Content: text})
			s.sink.Deliver(Output{Kind: OutputAssistantText, SessionID: s.ID, Text: text})
		case protocol.RoleUser:
			s.appendHistory(Turn{Role: protocol.RoleUser, Content: text})
			s.sink.Deliver(Output{Kind: OutputUserTranscript, SessionID: s.ID, Text: text})
		}

	case ev.AudioOutput != nil:
		content := ev.AudioOutput.Content
		if _, err := base64.StdEncoding.DecodeString(content); err != nil {
			s.logger.Warn("Dropping audio output with invalid base64", "error", err)
			s.statsMu.Lock()
			s.droppedFrames++
			s.statsMu.Unlock()
			return
		}
		s.sink.Deliver(Output{Kind: OutputAssistantAudio, SessionID: s.ID, Audio: content})

	case ev.Unknown != "":
		s.logger.Debug("Ignoring model event", "event", ev.Unknown)
	}
}
