package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/akorchemkin/confpanel/internal/adapters/bus"
	router "github.com/akorchemkin/confpanel/internal/adapters/http"
	"github.com/akorchemkin/confpanel/internal/adapters/rest"
	"github.com/akorchemkin/confpanel/internal/app"
	"github.com/akorchemkin/confpanel/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	restClient := rest.NewClient(cfg.APIBaseURL)
	dialer := &bus.Dialer{
		Host:           cfg.BusHost,
		PingPeriod:     cfg.PingPeriod,
		ConnectTimeout: cfg.ConnectTimeout,
	}
	registry := app.NewRegistry(dialer, app.ReconnectPolicy{
		MaxAttempts: cfg.MaxReconnectAttempts,
		BackoffBase: cfg.ReconnectBackoffBase,
		BackoffCap:  cfg.ReconnectBackoffCap,
	})

	r := router.SetupRouter(ctx, cfg, registry, restClient)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Confpanel server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	registry.DisposeAll()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
