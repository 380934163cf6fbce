// Package domain contains the records the trainer persists about clients
// and their practice sessions.
package domain

import (
	"time"
)

// Ledger states. They mirror the session lifecycle plus abandoned, which
// marks rows a previous process left open.
const (
	StateCreated   = "created"
	StateActive    = "active"
	StateEnded     = "ended"
	StateFailed    = "failed"
	StateAbandoned = "abandoned"
)

// SessionRecord is the ledger row for one practice session. It never holds
// conversation text or audio.
type SessionRecord struct {
	SessionID string     `json:"session_id"`
	ClientID  string     `json:"client_id"`
	Scenario  string     `json:"scenario"`
	Voice     string     `json:"voice"`
	Mode      string     `json:"mode"`
	State     string     `json:"state"`
	Failure   string     `json:"failure,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}
