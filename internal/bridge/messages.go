package bridge

import (
	"github.com/ashureev/sonic-trainer/internal/model"
)

// Client message types.
const (
	typeStartSession   = "start_session"
	typeSendAudio      = "send_audio"
	typeSendText       = "send_text"
	typeEndSession     = "end_session"
	typeTestConnection = "test_connection"
	typePing           = "ping"

	typeConnected      = "connected"
	typeSessionStarted = "session_started"
	typeSessionError   = "session_error"
	typeError          = "error"
	typeAssistantText  = "assistant_text"
	typeUserTranscript = "user_transcript"
	typeAssistantAudio = "assistant_audio"
	typeAIResponse     = "ai_response"
	typeSessionEnded   = "session_ended"
	typeTestResult     = "test_result"
	typePong           = "pong"
)

// wsMessage is an inbound client message.
type wsMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Scenario  string `json:"scenario,omitempty"`
	Voice     string `json:"voice,omitempty"`
	Mode      string `json:"mode,omitempty"`
	Audio     string `json:"audio,omitempty"`
	Text      string `json:"text,omitempty"`
}

// event is an outbound client message.
type event struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Status    string `json:"status,omitempty"`
	Scenario  string `json:"scenario,omitempty"`
	Voice     string `json:"voice,omitempty"`
	Mode      string `json:"mode,omitempty"`
	Message   string `json:"message,omitempty"`
	Text      string `json:"text,omitempty"`
	Audio     string `json:"audio,omitempty"`
}

type testResult struct {
	Type string `json:"type"`
	model.ProbeResult
}
