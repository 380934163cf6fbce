// Sonic Trainer - sales role-play practice server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/sonic-trainer/internal/api"
	"github.com/ashureev/sonic-trainer/internal/bridge"
	"github.com/ashureev/sonic-trainer/internal/config"
	"github.com/ashureev/sonic-trainer/internal/grpchealth"
	"github.com/ashureev/sonic-trainer/internal/identity"
	"github.com/ashureev/sonic-trainer/internal/middleware"
	"github.com/ashureev/sonic-trainer/internal/model"
	"github.com/ashureev/sonic-trainer/internal/protocol"
	"github.com/ashureev/sonic-trainer/internal/scenario"
	"github.com/ashureev/sonic-trainer/internal/session"
	"github.com/ashureev/sonic-trainer/internal/store"
	"github.com/ashureev/sonic-trainer/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"transport", cfg.Model.Transport,
		"region", cfg.Model.Region,
	)

	ledger, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := ledger.Close(); closeErr != nil {
			slog.Error("Failed to close ledger", "error", closeErr)
		}
	}()

	// Rows left open by a previous process can never finish.
	abandoned, err := ledger.MarkAbandoned(context.Background(), time.Now())
	if err != nil {
		slog.Error("Failed to mark abandoned sessions", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected", "abandoned_sessions", abandoned)

	catalog, err := scenario.Load()
	if err != nil {
		slog.Error("Failed to load scenarios", "error", err)
		os.Exit(1)
	}

	deps, clients := buildModelDeps(cfg, catalog, logger)

	registry := session.NewRegistry(deps, session.Config{
		Inference: protocol.InferenceConfiguration{
			MaxTokens:   cfg.Model.MaxTokens,
			TopP:        cfg.Model.TopP,
			Temperature: cfg.Model.Temperature,
		},
		OpenTimeout:   cfg.Model.OpenTimeout,
		HistoryWindow: session.DefaultConfig().HistoryWindow,
	})

	prober := model.NewProber(clients, cfg.Model.Transport, cfg.Model.Region, logger)
	wsHandler := bridge.NewHandler(registry, prober, ledger, bridge.Options{
		AllowedOrigin:   cfg.FrontendURL,
		IsDev:           cfg.IsDevelopment(),
		LaneQueueSize:   cfg.LaneQueueSize,
		TeardownTimeout: cfg.ShutdownTimeout,
		Logger:          logger,
	})
	healthHandler := api.NewHealthHandler(ledger, registry, cfg.Model.Region, config.HasAWSCredentials())
	trainingHandler := api.NewTrainingHandler(catalog, ledger)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(allowedOrigins(cfg)))
	r.Use(identity.Middleware(ledger, cfg.IsDevelopment()))

	healthHandler.RegisterHealth(r)
	trainingHandler.RegisterRoutes(r)
	r.Get("/ws", wsHandler.ServeHTTP)
	r.Handle("/*", web.SPAHandler())

	// WebSocket sessions are long-lived, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var healthSrv *grpchealth.Server
	if cfg.GRPCPort != "" {
		healthSrv, err = grpchealth.Listen(":"+cfg.GRPCPort, logger)
		if err != nil {
			slog.Error("Failed to start gRPC health server", "error", err)
			os.Exit(1)
		}
		go func() {
			if err := healthSrv.Serve(); err != nil {
				slog.Error("gRPC health server failed", "error", err)
			}
		}()
	}

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...", "active_sessions", registry.Len())
	for _, info := range registry.Snapshot() {
		slog.Debug("Live session at shutdown",
			"session_id", info.ID,
			"client_id", info.ClientID,
			"scenario", info.Scenario,
			"mode", info.Mode,
			"state", info.State.String(),
		)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if healthSrv != nil {
		healthSrv.SetServing(false)
	}
	if err := wsHandler.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Client connections did not close in time", "error", err)
	}
	if err := registry.EndAll(shutdownCtx); err != nil {
		slog.Warn("Some sessions ended with errors", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	if healthSrv != nil {
		healthSrv.Shutdown(shutdownCtx)
	}

	slog.Info("Server stopped successfully")
}

// buildModelDeps wires the remote model backends for the configured
// transport. Text mode and speech synthesis need AWS even when the voice
// stream goes through a relay.
func buildModelDeps(cfg *config.Config, catalog *scenario.Catalog, logger *slog.Logger) (session.Deps, *model.Clients) {
	deps := session.Deps{Catalog: catalog, Logger: logger}

	clients, err := model.NewClients(context.Background(), cfg.Model.Region)
	if err != nil {
		slog.Warn("AWS clients unavailable, text mode disabled", "error", err)
	} else {
		deps.Responder = model.NewBedrockResponder(clients.Bedrock, cfg.Model.FallbackModelID)
		deps.Synthesizer = model.NewPollySynthesizer(clients.Polly)
	}

	switch cfg.Model.Transport {
	case config.TransportRelay:
		deps.Opener = model.NewRelayOpener(cfg.Model.RelayURL, nil, logger)
		slog.Info("Voice sessions use the model relay", "url", cfg.Model.RelayURL)
	default:
		if clients != nil {
			deps.Opener = model.NewBedrockOpener(clients.Bedrock, cfg.Model.StreamModelID, logger)
			slog.Info("Voice sessions use Bedrock", "model_id", cfg.Model.StreamModelID)
		} else {
			slog.Warn("Voice mode disabled, no Bedrock client")
		}
	}
	return deps, clients
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.IsDevelopment() {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}
