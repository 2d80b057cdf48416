package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"genflow/internal/bootstrap"
	"genflow/internal/http/handlers"
	httpapi "genflow/internal/http/httpapi"
	"genflow/internal/infra"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	if err := cfg.ValidateAPI(); err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := bootstrap.OpenBackend(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	defer backend.Close()

	core, err := bootstrap.NewCore(ctx, cfg, backend.Store, backend.CredentialRepository(), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build core")
	}

	app := handlers.NewApp(core.Reconciler, cfg.WebhookToken, logger)
	if backend.Runner != nil {
		app.Ping = backend.Runner.Pool.Ping
	}
	router := httpapi.NewRouter(app, httpapi.Options{
		JWTSecret:       cfg.JWTSecret,
		RateLimitPerMin: cfg.RateLimitPerMin,
	}, logger)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Strs("providers", providerNames(core)).Msgf("API listening on %s", server.Addr())
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}

func providerNames(core *bootstrap.Core) []string {
	names := core.Registry.Names()
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = string(n)
	}
	return out
}
