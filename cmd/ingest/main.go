package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/seanblong/filingrag/internal/app"
	"github.com/seanblong/filingrag/internal/config"
	"github.com/seanblong/filingrag/internal/logging"
	"github.com/seanblong/filingrag/pkg/models"
	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.NewFlagSet("filingrag-ingest", pflag.ExitOnError)
	file := fs.String("file", "", "Ingest a single document instead of walking the filings root")
	ticker := fs.String("ticker", "", "Entity tag for --file")
	sourceID := fs.String("source-id", "", "Source id for --file (defaults to the file path)")

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, app.Options{})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize")
	}
	defer a.Close()

	ing, err := a.NewIngester()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build ingester")
	}

	if *file != "" {
		tag := strings.ToUpper(strings.TrimSpace(*ticker))
		if tag == "" {
			logger.Fatal().Msg("--ticker is required with --file")
		}
		b, err := os.ReadFile(*file)
		if err != nil {
			logger.Fatal().Err(err).Str("file", *file).Msg("read document")
		}
		id := *sourceID
		if id == "" {
			id = filepath.ToSlash(*file)
		}
		n, err := ing.Ingest(ctx, models.Document{Text: string(b), EntityTag: tag, SourceID: id})
		if err != nil {
			logger.Fatal().Err(err).Str("file", *file).Msg("ingest failed")
		}
		logger.Info().Str("source_id", id).Str("ticker", tag).Int("chunks", n).Msg("document ingested")
		return
	}

	sum, err := ing.Run(ctx, cfg.Ingest.Root)
	if err != nil {
		logger.Error().Err(err).Int("files", sum.Files).Int("failed", sum.Failed).Msg("ingestion finished with errors")
		a.Close()
		os.Exit(1)
	}
}
