package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/filingrag/internal/ai"
	"github.com/seanblong/filingrag/internal/resilience"
	"github.com/seanblong/filingrag/internal/store"
	"github.com/seanblong/filingrag/pkg/models"
)

type Service struct {
	Embedder ai.Embedder
	Store    store.VectorStore
	Policy   resilience.Policy

	// StoreRetryable classifies store errors. Nil means store.IsTransient.
	StoreRetryable func(error) bool
}

// NewService creates a new retrieval service with the provided embedder and store
func NewService(embedder ai.Embedder, st store.VectorStore, policy resilience.Policy) *Service {
	return &Service{
		Embedder: embedder,
		Store:    st,
		Policy:   policy,
	}
}

// Retrieve embeds q and returns up to k stored chunks nearest to it, in the
// store's order. An exhausted embed or store call yields an error wrapping
// models.ErrRetrievalUnavailable; any other failure is returned as is.
func (s *Service) Retrieve(ctx context.Context, q string, k int, entityTag string) ([]models.SearchResult, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, fmt.Errorf("%w: empty query", models.ErrInvalidInput)
	}
	k = store.ClampK(k)

	vec, err := resilience.Do(ctx, s.Policy.With(ai.IsTransient), func(ctx context.Context) ([]float32, error) {
		return s.Embedder.EmbedOne(ctx, q)
	})
	if err != nil {
		return nil, unavailable("embed query", err)
	}

	retryable := s.StoreRetryable
	if retryable == nil {
		retryable = store.IsTransient
	}
	res, err := resilience.Do(ctx, s.Policy.With(retryable), func(ctx context.Context) ([]models.SearchResult, error) {
		return s.Store.Query(ctx, vec, k, entityTag)
	})
	if err != nil {
		return nil, unavailable("query store", err)
	}

	log.Debug().Int("k", k).Str("entity_tag", entityTag).Int("results", len(res)).Msg("retrieved passages")
	return res, nil
}

func unavailable(step string, err error) error {
	if resilience.IsExhausted(err) {
		return fmt.Errorf("%s: %w: %w", step, models.ErrRetrievalUnavailable, err)
	}
	return err
}
