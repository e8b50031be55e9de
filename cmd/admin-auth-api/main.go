// Command admin-auth-api is the HTTP API server for dealership administrator
// authentication.
//
// Purpose:
//
//	This binary serves administrator login, session and TOTP enrollment
//	routes plus the account administration surface used by operators. It
//	initializes Postgres, optional Redis and optional Kafka via bootstrap and
//	serves HTTP requests with graceful shutdown handling.
//
// Dependencies:
//   - internal/bootstrap: Runtime initialization and lifecycle management
//   - internal/config: Configuration from environment variables
//   - internal/httpapi/authn: Login, logout, session and self-service enrollment
//   - internal/httpapi/accounts: Operator routes (policy, unlock, devices, audit)
//   - internal/server: HTTP server with health/readiness endpoints
//
// Debugging Notes:
//   - Server starts on HTTP_PORT (default 8085)
//   - Readiness probe checks Postgres and, when configured, Redis
//   - ENVIRONMENT=development exposes /debug/routes
//   - Graceful shutdown allows in-flight requests 10s to complete
//
// Error Handling:
//   - Configuration errors exit with code 1
//   - Bootstrap and listener failures log fatal and exit
//   - Shutdown errors are logged
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/otherjamesbrown/admin-auth-service/internal/bootstrap"
	"github.com/otherjamesbrown/admin-auth-service/internal/config"
	"github.com/otherjamesbrown/admin-auth-service/internal/httpapi/accounts"
	"github.com/otherjamesbrown/admin-auth-service/internal/httpapi/authn"
	"github.com/otherjamesbrown/admin-auth-service/internal/logging"
	"github.com/otherjamesbrown/admin-auth-service/internal/server"
)

func main() {
	cfg := config.MustLoad()
	logger := logging.New(cfg.ServiceName, cfg.LogLevel)
	logger.Info().
		Str("env", cfg.Environment).
		Int("port", cfg.HTTPPort).
		Bool("redis", cfg.RedisAddr != "").
		Bool("kafka", cfg.KafkaBrokers != "").
		Msg("starting admin auth API")

	runtime, err := bootstrap.Initialize(context.Background(), cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to bootstrap runtime")
	}
	logger.Info().Msg("runtime dependencies initialized")

	srv := server.New(server.Options{
		Port:        cfg.HTTPPort,
		Logger:      logger,
		ServiceName: cfg.ServiceName,
		Readiness:   runtime.ReadinessProbe,
		DebugRoutes: cfg.Environment == "development",
		RegisterRoutes: func(r chi.Router) {
			authn.RegisterRoutes(r, runtime, logger)
			accounts.RegisterRoutes(r, runtime, logger)
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("admin auth API server failed")
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		_ = runtime.Close(shutdownCtx)
		os.Exit(1)
	}
	if err := runtime.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to cleanly close runtime")
	}

	logger.Info().Msg("admin auth API stopped")
}
