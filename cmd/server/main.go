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

	router "github.com/edlive/classroom/internal/adapters/http"
	signaladapter "github.com/edlive/classroom/internal/adapters/signal"
	"github.com/edlive/classroom/internal/app"
	"github.com/edlive/classroom/internal/config"
	"github.com/edlive/classroom/internal/core"
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

	// Registry and directory are constructed once and passed by reference;
	// nothing reaches room state except through them.
	registry := app.NewRegistry()
	rooms := core.NewDirectory(registry)
	rt := app.NewRouter(registry, rooms, app.SimplePolicy{}, app.LogSink{})
	monitor := app.NewMonitor(registry, rt, cfg.SweepInterval, cfg.ProbeTimeout)
	limiter := signaladapter.NewRateLimiter(cfg.RateLimit, cfg.RateWindow)
	ctl := signaladapter.NewController(registry, rt, limiter, cfg)

	r := router.SetupRouter(ctx, cfg, ctl, rt, rooms)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go monitor.Run(ctx)

	go func() {
		log.Info().Str("addr", addr).Msg("Classroom signaling server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
