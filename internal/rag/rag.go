// Package rag answers questions about filings: it resolves the company,
// retrieves passages, builds a grounded prompt and calls the generator.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/filingrag/internal/ai"
	"github.com/seanblong/filingrag/internal/metrics"
	"github.com/seanblong/filingrag/internal/prompt"
	"github.com/seanblong/filingrag/internal/resilience"
	"github.com/seanblong/filingrag/internal/store"
	"github.com/seanblong/filingrag/pkg/models"
)

// NoContextAnswer replaces an empty model reply.
const NoContextAnswer = "No relevant context found."

const previewLen = 200

type Resolver interface {
	Resolve(query string) (string, bool)
}

type Retriever interface {
	Retrieve(ctx context.Context, query string, k int, entityTag string) ([]models.SearchResult, error)
}

type Service struct {
	Resolver  Resolver
	Retriever Retriever
	Generator ai.Generator
	// Policy guards the generation call. Retrieval carries its own.
	Policy  resilience.Policy
	Metrics *metrics.Metrics
}

func NewService(resolver Resolver, retriever Retriever, generator ai.Generator, policy resilience.Policy, m *metrics.Metrics) *Service {
	return &Service{
		Resolver:  resolver,
		Retriever: retriever,
		Generator: generator,
		Policy:    policy,
		Metrics:   m,
	}
}

// Answer runs one question through the pipeline. A non-empty entityTag
// overrides the resolver. Retrieval and generation each retry on their own;
// the question as a whole is never retried.
func (s *Service) Answer(ctx context.Context, query string, k int, entityTag string) (models.Answer, error) {
	ans, err := s.answer(ctx, query, k, entityTag)
	s.Metrics.RecordQuestion(outcome(err))
	return ans, err
}

func (s *Service) answer(ctx context.Context, query string, k int, entityTag string) (models.Answer, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return models.Answer{}, fmt.Errorf("%w: query is empty", models.ErrInvalidInput)
	}
	k = store.ClampK(k)

	tag := strings.TrimSpace(entityTag)
	if tag == "" && s.Resolver != nil {
		tag, _ = s.Resolver.Resolve(query)
	}

	start := time.Now()
	results, err := s.Retriever.Retrieve(ctx, query, k, tag)
	s.Metrics.ObserveStage("retrieve", time.Since(start))
	if err != nil {
		return models.Answer{}, err
	}
	s.Metrics.ObservePassages(len(results))

	passages := make([]prompt.Passage, len(results))
	for i, r := range results {
		passages[i] = prompt.Passage{Text: r.Content, EntityTag: r.EntityTag, SourceID: r.SourceID}
	}
	p := prompt.Build(query, passages)

	start = time.Now()
	text, err := resilience.Do(ctx, s.Policy.With(ai.IsTransient), func(ctx context.Context) (string, error) {
		return s.Generator.Generate(ctx, p)
	})
	s.Metrics.ObserveStage("generate", time.Since(start))
	if err != nil {
		if resilience.IsExhausted(err) {
			return models.Answer{}, fmt.Errorf("generate: %w: %w", models.ErrGenerationUnavailable, err)
		}
		return models.Answer{}, fmt.Errorf("generate: %w", err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		text = NoContextAnswer
	}
	valid, invalid := prompt.ParseCitations(text, len(results))
	if valid == nil {
		valid = []int{}
	}
	if len(invalid) > 0 {
		log.Warn().Ints("invalid_citations", invalid).Int("passages", len(results)).Msg("answer cites missing passages")
	}

	sources := make([]models.Source, len(results))
	for i, r := range results {
		sources[i] = models.Source{
			Marker:    i + 1,
			EntityTag: r.EntityTag,
			SourceID:  r.SourceID,
			Preview:   Preview(r.Content),
			Distance:  r.Distance,
		}
	}

	log.Info().Str("entity_tag", tag).Int("k", k).Int("sources", len(sources)).
		Ints("citations", valid).Msg("answered question")

	return models.Answer{
		Text:             text,
		EntityTag:        tag,
		Sources:          sources,
		SourcesCount:     len(sources),
		Citations:        valid,
		InvalidCitations: invalid,
	}, nil
}

// Preview is the first 200 characters of text followed by "...".
func Preview(text string) string {
	if utf8.RuneCountInString(text) <= previewLen {
		return text + "..."
	}
	return string([]rune(text)[:previewLen]) + "..."
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeAnswered
	case errors.Is(err, models.ErrInvalidInput):
		return metrics.OutcomeInvalidInput
	case errors.Is(err, models.ErrRetrievalUnavailable):
		return metrics.OutcomeRetrievalUnavailable
	case errors.Is(err, models.ErrGenerationUnavailable):
		return metrics.OutcomeGenerationUnavailable
	}
	return metrics.OutcomeError
}
