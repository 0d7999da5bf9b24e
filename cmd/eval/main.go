package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/seanblong/filingrag/internal/app"
	"github.com/seanblong/filingrag/internal/config"
	"github.com/seanblong/filingrag/internal/eval"
	"github.com/seanblong/filingrag/internal/logging"
	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.NewFlagSet("filingrag-eval", pflag.ExitOnError)
	fixtures := fs.String("fixtures", "eval_qa.json", "JSON array of {q, ticker, expected_keywords}")
	out := fs.String("out", "eval_results.json", "Where to write per-question results")
	concurrency := fs.Int("concurrency", eval.DefaultConcurrency, "Questions answered in parallel")
	k := fs.Int("k", 0, "Passages per question (defaults to --default-k)")

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}

	items, err := eval.LoadFixtures(*fixtures)
	if err != nil {
		logger.Fatal().Err(err).Str("fixtures", *fixtures).Msg("load fixtures")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, app.Options{})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize")
	}
	defer a.Close()

	n := *k
	if n == 0 {
		n = cfg.DefaultK
	}
	report, err := eval.Run(ctx, a.RAG, items, eval.Options{
		K:           n,
		Concurrency: *concurrency,
		Resolver:    a.Resolver,
	})
	if err != nil {
		logger.Error().Err(err).Msg("evaluation aborted")
		return
	}
	eval.LogReport(report)

	f, err := os.Create(*out)
	if err != nil {
		logger.Error().Err(err).Str("out", *out).Msg("create results file")
		return
	}
	defer f.Close()
	if err := eval.WriteResults(f, report); err != nil {
		logger.Error().Err(err).Str("out", *out).Msg("write results")
		return
	}
	logger.Info().Str("out", *out).Msg("results written")
}
