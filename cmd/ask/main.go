package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/seanblong/filingrag/internal/app"
	"github.com/seanblong/filingrag/internal/config"
	"github.com/seanblong/filingrag/internal/logging"
	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.NewFlagSet("filingrag-ask", pflag.ExitOnError)
	k := fs.Int("k", 0, "Passages to retrieve (defaults to --default-k)")
	ticker := fs.String("ticker", "", "Restrict retrieval to one entity tag")
	asJSON := fs.Bool("json", false, "Print the full answer as JSON")

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	q := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if q == "" {
		fmt.Fprintln(os.Stderr, "usage: filingrag-ask [flags] <question>")
		os.Exit(2)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg, app.Options{})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize")
	}
	defer a.Close()

	n := *k
	if n == 0 {
		n = cfg.DefaultK
	}
	ans, err := a.RAG.Answer(ctx, q, n, strings.ToUpper(strings.TrimSpace(*ticker)))
	if err != nil {
		logger.Error().Err(err).Msg("ask failed")
		a.Close()
		os.Exit(1)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(ans); err != nil {
			logger.Error().Err(err).Msg("encode answer")
		}
		return
	}

	fmt.Println(ans.Text)
	if len(ans.Sources) > 0 {
		fmt.Println()
		for _, s := range ans.Sources {
			fmt.Printf("[%d] %s %s (distance %.3f)\n", s.Marker, s.EntityTag, s.SourceID, s.Distance)
		}
	}
	if len(ans.InvalidCitations) > 0 {
		logger.Warn().Ints("markers", ans.InvalidCitations).Msg("answer cites passages that were not provided")
	}
}
