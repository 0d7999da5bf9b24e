// Package memory is an in-process VectorStore using brute-force cosine
// distance. It backs tests and --store=memory runs.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/seanblong/filingrag/internal/store"
	"github.com/seanblong/filingrag/pkg/models"
)

type Store struct {
	mu      sync.RWMutex
	dim     int
	records []models.Record
}

var (
	_ store.VectorStore = (*Store)(nil)
	_ store.TagLister   = (*Store)(nil)
)

func New() *Store {
	return &Store{}
}

func (s *Store) Migrate(_ context.Context, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("%w: embedding dimension must be positive, got %d", models.ErrConfiguration, dim)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dim > 0 && s.dim != dim {
		return fmt.Errorf("store holds vectors of %d, embedder produces %d: %w", s.dim, dim, models.ErrDimensionMismatch)
	}
	s.dim = dim
	return nil
}

func (s *Store) Write(ctx context.Context, records []models.Record) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prepared, err := s.prepare(records)
	if err != nil {
		return 0, err
	}
	s.records = append(s.records, prepared...)
	return len(prepared), nil
}

func (s *Store) ReplaceSource(ctx context.Context, sourceID string, records []models.Record) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prepared, err := s.prepare(records)
	if err != nil {
		return 0, err
	}
	kept := s.records[:0:0]
	for _, r := range s.records {
		if r.SourceID != sourceID {
			kept = append(kept, r)
		}
	}
	s.records = append(kept, prepared...)
	return len(prepared), nil
}

// prepare validates and copies records. Callers hold the write lock.
func (s *Store) prepare(records []models.Record) ([]models.Record, error) {
	out := make([]models.Record, 0, len(records))
	now := time.Now().UTC()
	for _, r := range records {
		if s.dim == 0 {
			s.dim = len(r.Embedding)
		}
		if len(r.Embedding) != s.dim {
			return nil, fmt.Errorf("record has %d values, store holds %d: %w", len(r.Embedding), s.dim, models.ErrDimensionMismatch)
		}
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		r.Embedding = append([]float32(nil), r.Embedding...)
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) Query(ctx context.Context, vec []float32, k int, entityTag string) ([]models.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.dim > 0 && len(vec) != s.dim {
		return nil, fmt.Errorf("query vector has %d values, store holds %d: %w", len(vec), s.dim, models.ErrDimensionMismatch)
	}

	out := []models.SearchResult{}
	for _, r := range s.records {
		if entityTag != "" && r.EntityTag != entityTag {
			continue
		}
		out = append(out, models.SearchResult{Record: r, Distance: cosineDistance(vec, r.Embedding)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if k = store.ClampK(k); len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (s *Store) EntityTags(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[string]bool{}
	var tags []string
	for _, r := range s.records {
		if r.EntityTag != "" && !seen[r.EntityTag] {
			seen[r.EntityTag] = true
			tags = append(tags, r.EntityTag)
		}
	}
	sort.Strings(tags)
	return tags, nil
}

// Len reports the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Close() {}

// cosineDistance matches pgvector's <=>: 1 - cos(a, b). A zero vector is at
// distance 1 from everything.
func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
