// Package app wires configuration into the services the binaries run.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/filingrag/internal/ai"
	"github.com/seanblong/filingrag/internal/chunker"
	"github.com/seanblong/filingrag/internal/config"
	"github.com/seanblong/filingrag/internal/entity"
	"github.com/seanblong/filingrag/internal/health"
	"github.com/seanblong/filingrag/internal/ingest"
	"github.com/seanblong/filingrag/internal/metrics"
	"github.com/seanblong/filingrag/internal/rag"
	"github.com/seanblong/filingrag/internal/resilience"
	"github.com/seanblong/filingrag/internal/search"
	"github.com/seanblong/filingrag/internal/store"
	"github.com/seanblong/filingrag/internal/store/memory"
	"github.com/seanblong/filingrag/internal/store/weaviate"
	"github.com/seanblong/filingrag/pkg/models"
)

// App holds the process-wide services. Build one per process.
type App struct {
	Config    config.Specification
	Metrics   *metrics.Metrics
	Embedder  ai.Embedder
	Generator ai.Generator
	Store     store.VectorStore
	Resolver  *entity.Resolver
	Retriever *search.Service
	RAG       *rag.Service
	Health    *health.Checker

	storeRetryable   func(error) bool
	retrievalPolicy  resilience.Policy
	generationPolicy resilience.Policy
	closers          []func()
}

// Options lets callers replace the configured dependencies, mostly in tests.
type Options struct {
	Registerer prometheus.Registerer
	Embedder   ai.Embedder
	Generator  ai.Generator
	Store      store.VectorStore
}

// New builds every dependency the configuration names. The embedder is
// loaded here so a broken provider fails at startup.
func New(ctx context.Context, cfg config.Specification, opts Options) (*App, error) {
	a := &App{Config: cfg}

	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a.Metrics = metrics.New(reg)

	a.retrievalPolicy = cfg.RetrievalPolicy()
	a.retrievalPolicy.OnRetry = a.Metrics.RetryHook(a.retrievalPolicy.Name)
	a.generationPolicy = cfg.GenerationPolicy()
	a.generationPolicy.OnRetry = a.Metrics.RetryHook(a.generationPolicy.Name)

	cc, err := cfg.ClientConfig()
	if err != nil {
		return nil, err
	}

	a.Embedder = opts.Embedder
	if a.Embedder == nil {
		shared := ai.NewShared(embedderBuilder(context.WithoutCancel(ctx), *cc))
		e, err := shared.Get()
		if err != nil {
			return nil, fmt.Errorf("load embedder: %w", err)
		}
		if se, ok := e.(*ai.SerializedEmbedder); ok {
			a.closers = append(a.closers, se.Close)
		}
		a.Embedder = shared
	}
	dim := a.Embedder.Dim()
	if dim <= 0 {
		a.Close()
		return nil, fmt.Errorf("%w: embedding dimension must be set", models.ErrConfiguration)
	}
	log.Info().Str("provider", string(cc.Provider)).Int("embedding_dim", dim).Msg("embedder loaded")

	a.Generator = opts.Generator
	if a.Generator == nil {
		gcc := *cc
		gen, err := ai.NewGenerator(ctx, &gcc)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("create generator: %w", err)
		}
		a.Generator = gen
	}
	if cfg.Generation.RateLimit > 0 {
		a.Generator = ai.RateLimited(a.Generator, cfg.Generation.RateLimit, cfg.Generation.Burst)
	}

	a.Store = opts.Store
	if a.Store == nil {
		st, retryable, err := openStore(ctx, cfg)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Store, a.storeRetryable = st, retryable
	}
	a.closers = append(a.closers, a.Store.Close)

	if err := a.Store.Migrate(ctx, dim); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	aliases := entity.DefaultAliases()
	if cfg.Entity.AliasesFile != "" {
		if aliases, err = entity.LoadAliases(cfg.Entity.AliasesFile); err != nil {
			a.Close()
			return nil, err
		}
	}
	a.Resolver = entity.NewResolver(aliases)

	a.Retriever = search.NewService(a.Embedder, a.Store, a.retrievalPolicy)
	a.Retriever.StoreRetryable = a.storeRetryable
	a.RAG = rag.NewService(a.Resolver, a.Retriever, a.Generator, a.generationPolicy, a.Metrics)

	a.Health = health.NewChecker().
		Add("database", a.Store).
		Add("generator", a.Generator)

	return a, nil
}

// NewIngester builds the write path. It loads the tokenizer, which the read
// path never needs.
func (a *App) NewIngester() (*ingest.Service, error) {
	tok, err := chunker.Cl100k()
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}
	ch, err := chunker.New(tok, a.Config.Chunking.Window, a.Config.Chunking.Overlap)
	if err != nil {
		return nil, err
	}
	mode, err := ingest.ParseMode(a.Config.Ingest.Mode)
	if err != nil {
		return nil, err
	}

	svc := ingest.New(a.Store, a.Embedder, ch, a.retrievalPolicy)
	svc.StoreRetryable = a.storeRetryable
	svc.Mode = mode
	svc.Workers = a.Config.Ingest.Workers
	if a.Config.Ingest.BatchSize > 0 {
		svc.BatchSize = a.Config.Ingest.BatchSize
	}
	svc.Metrics = a.Metrics
	return svc, nil
}

// TagLister returns the store's tag listing, if it has one.
func (a *App) TagLister() (store.TagLister, bool) {
	tl, ok := a.Store.(store.TagLister)
	return tl, ok
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func embedderBuilder(ctx context.Context, cc ai.ClientConfig) func() (ai.Embedder, error) {
	return func() (ai.Embedder, error) {
		e, err := ai.NewEmbedder(ctx, &cc)
		if err != nil {
			return nil, err
		}
		// A local Ollama runtime serves one embedding request at a time.
		if cc.Provider == ai.ProviderOllama {
			return ai.Serialized(e), nil
		}
		return e, nil
	}
}

func openStore(ctx context.Context, cfg config.Specification) (store.VectorStore, func(error) bool, error) {
	switch strings.ToLower(cfg.Store.Backend) {
	case config.BackendMemory:
		log.Warn().Msg("using in-memory vector store; data is lost on exit")
		return memory.New(), nil, nil
	case config.BackendWeaviate:
		st, err := weaviate.New(weaviate.Config{
			Host:   cfg.Store.WeaviateHost,
			APIKey: cfg.Store.WeaviateAPIKey,
			Class:  cfg.Store.WeaviateClass,
		})
		if err != nil {
			return nil, nil, err
		}
		return st, weaviate.IsTransient, nil
	case config.BackendPgvector, "":
		st, err := store.New(ctx, cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		return st, store.IsTransient, nil
	}
	return nil, nil, fmt.Errorf("%w: unsupported store backend %q", models.ErrConfiguration, cfg.Store.Backend)
}
