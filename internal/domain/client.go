package domain

import (
	"time"
)

// Client is an anonymous browser identified by its cookie.
type Client struct {
	ClientID    string    `json:"client_id"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}
