package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/sonic-trainer/internal/protocol"
)

// Reply is a text-mode answer, with synthesized speech when available.
type Reply struct {
	Text     string
	Audio    []byte
	Fallback bool
}

// Reply answers one typed user turn in a text-mode session. When the text
// model fails the scenario's canned reply is used and history is left as is.
// Synthesis failures only drop the audio.
func (s *Session) Reply(ctx context.Context, userText string) (Reply, error) {
	if s.Mode != ModeText {
		return Reply{}, ErrWrongMode
	}
	if !s.Active() {
		return Reply{}, ErrNotActive
	}

	prompt := conversationPrompt(s.prompt.Prompt, s.recentHistory(s.cfg.HistoryWindow), userText)

	var out Reply
	text, err := s.responder.Respond(ctx, prompt)
	if err != nil {
		s.logger.Warn("Text model failed, using canned reply", "error", err)
		out.Text = s.catalog.FallbackReply(s.RequestedScenario)
		out.Fallback = true
	} else {
		out.Text = text
		s.appendHistory(
			Turn{Role: protocol.RoleUser, Content: userText},
			Turn{Role: protocol.RoleAssistant, Content: text},
		)
	}

	if s.synthesizer != nil {
		audio, err := s.synthesizer.Synthesize(ctx, out.Text, s.Voice)
		if err != nil {
			s.logger.Warn("Speech synthesis failed", "error", err)
		} else {
			out.Audio = audio
		}
	}
	return out, nil
}

func conversationPrompt(system string, history []Turn, userText string) string {
	var b strings.Builder
	b.WriteString(system)
	b.WriteString("\n\nConversation:\n")
	for i, t := range history {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %s", strings.ToLower(string(t.Role)), t.Content)
	}
	fmt.Fprintf(&b, "\n\nUser: %s\n\nAssistant:", userText)
	return b.String()
}
