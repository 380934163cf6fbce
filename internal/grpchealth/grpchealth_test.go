package grpchealth

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

func startServer(t *testing.T) *Server {
	t.Helper()
	s, err := Listen("127.0.0.1:0", slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go func() { _ = s.Serve() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Shutdown(ctx)
	})
	return s
}

func waitStatus(t *testing.T, addr, service string, want healthpb.HealthCheckResponse_ServingStatus) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		resp, err := Check(ctx, addr, service)
		cancel()
		if err == nil && resp.GetStatus() == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("status for %q never became %v (last %v, err %v)", service, want, resp.GetStatus(), err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestServingStatus(t *testing.T) {
	s := startServer(t)

	waitStatus(t, s.Addr(), "", healthpb.HealthCheckResponse_SERVING)
	waitStatus(t, s.Addr(), Service, healthpb.HealthCheckResponse_SERVING)

	s.SetServing(false)
	waitStatus(t, s.Addr(), Service, healthpb.HealthCheckResponse_NOT_SERVING)
}

func TestUnknownService(t *testing.T) {
	s := startServer(t)
	waitStatus(t, s.Addr(), "", healthpb.HealthCheckResponse_SERVING)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := Check(ctx, s.Addr(), "no.such.Service")
	if status.Code(err) != codes.NotFound {
		t.Fatalf("Expected NotFound, got %v", err)
	}
}
