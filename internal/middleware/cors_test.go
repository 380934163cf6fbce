package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func corsRequest(t *testing.T, allowed []string, method, origin string) *httptest.ResponseRecorder {
	t.Helper()
	h := CORS(allowed)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	req := httptest.NewRequest(method, "/health", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCORSExplicitOriginGetsCredentials(t *testing.T) {
	rec := corsRequest(t, []string{"https://trainer.example.com"}, http.MethodGet, "https://trainer.example.com")
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://trainer.example.com" {
		t.Fatal("allowed origin not echoed")
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatal("explicit origin should allow credentials")
	}
	if rec.Code != http.StatusTeapot {
		t.Fatalf("request not passed through, got %d", rec.Code)
	}
}

func TestCORSWildcardWithoutCredentials(t *testing.T) {
	rec := corsRequest(t, []string{"*"}, http.MethodGet, "https://elsewhere.example")
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://elsewhere.example" {
		t.Fatal("wildcard should echo origin")
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "" {
		t.Fatal("wildcard must not allow credentials")
	}
}

func TestCORSRejectedOriginAndPreflight(t *testing.T) {
	rec := corsRequest(t, []string{"https://trainer.example.com"}, http.MethodOptions, "https://evil.example")
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("disallowed origin echoed")
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight should short-circuit, got %d", rec.Code)
	}
}
