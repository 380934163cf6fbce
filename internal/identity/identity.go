// Package identity provides anonymous per-browser client identity.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"time"
)

const (
	CookieName      = "trainer_client_id"
	cookieMaxAge    = 30 * 24 * time.Hour
	touchTimeout    = 2 * time.Second
	unknownClientID = "anonymous"
)

type contextKey int

const clientIDKey contextKey = iota

var clientIDPattern = regexp.MustCompile(`^client_[a-f0-9]{32}$`)

// Toucher records that a client was seen. store.Ledger satisfies it.
type Toucher interface {
	TouchClient(ctx context.Context, clientID string, seen time.Time) error
}

// ClientIDFromContext extracts the client ID from the request context.
func ClientIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(clientIDKey).(string); ok {
		return v
	}
	return unknownClientID
}

// WithClientID returns ctx carrying clientID.
func WithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientIDKey, clientID)
}

func generateClientID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate client id: %w", err)
	}
	return "client_" + hex.EncodeToString(buf), nil
}

func isValidClientID(id string) bool {
	return clientIDPattern.MatchString(id)
}

func setCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(cookieMaxAge.Seconds()),
		Expires:  time.Now().Add(cookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

func getOrCreateClientID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(CookieName); err == nil && isValidClientID(c.Value) {
		setCookie(w, c.Value, isDev)
		return c.Value, nil
	}

	id, err := generateClientID()
	if err != nil {
		return "", err
	}
	setCookie(w, id, isDev)
	return id, nil
}

// Middleware injects the anonymous client ID, issuing the cookie on first
// visit. When toucher is non-nil the client's last-seen time is recorded;
// failures there are logged, never fatal to the request.
func Middleware(toucher Toucher, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID, err := getOrCreateClientID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish client identity"}`, http.StatusInternalServerError)
				return
			}

			if toucher != nil {
				ctx, cancel := context.WithTimeout(r.Context(), touchTimeout)
				if err := toucher.TouchClient(ctx, clientID, time.Now()); err != nil {
					slog.Warn("Failed to record client", "client_id", clientID, "error", err)
				}
				cancel()
			}

			next.ServeHTTP(w, r.WithContext(WithClientID(r.Context(), clientID)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
