package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/seanblong/filingrag/internal/app"
	"github.com/seanblong/filingrag/internal/auth"
	"github.com/seanblong/filingrag/internal/config"
	"github.com/seanblong/filingrag/internal/logging"
	"github.com/seanblong/filingrag/internal/server"
	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.NewFlagSet("filingrag-api", pflag.ExitOnError)
	askTimeout := fs.Duration("ask-timeout", 0, "Upper bound for one /ask request (0 disables)")

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	logger.Info().
		Str("provider", cfg.Provider).
		Str("store", cfg.Store.Backend).
		Str("log_level", cfg.LogLevel).
		Bool("auth_enabled", cfg.Auth.Enabled).
		Msg("starting filingrag api")

	auth.InitializeAuth(cfg.Auth.JwtSecret, cfg.Auth.Enabled)
	if auth.IsAuthEnabled() {
		logger.Info().Msg("authentication is ENABLED")
	} else {
		logger.Warn().Msg("authentication is DISABLED - running in open mode")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, app.Options{})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize")
	}
	defer a.Close()

	srv := &server.Server{
		Asker:      a.RAG,
		Health:     a.Health,
		DefaultK:   cfg.DefaultK,
		AskTimeout: *askTimeout,
	}
	if tl, ok := a.TagLister(); ok {
		srv.Tags = tl
	}

	s := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.Handler(logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", s.Addr).Msg("api server listening")
		errc <- s.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server stopped")
		}
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown failed")
		}
	}
}
