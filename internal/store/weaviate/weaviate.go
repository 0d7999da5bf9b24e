// Package weaviate stores filing chunks in a Weaviate class with explicit
// vectors and cosine distance.
package weaviate

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/filingrag/internal/store"
	"github.com/seanblong/filingrag/pkg/models"
	wv "github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/fault"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/graphql"
	wvmodels "github.com/weaviate/weaviate/entities/models"
)

const (
	DefaultClass = "FilingChunk"
	batchSize    = 200
)

type Config struct {
	// Host may carry a scheme; http is assumed otherwise.
	Host   string
	APIKey string
	Class  string
}

type Store struct {
	client *wv.Client
	class  string

	mu  sync.RWMutex
	dim int
}

var _ store.VectorStore = (*Store)(nil)

func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("%w: weaviate host is required", models.ErrConfiguration)
	}
	scheme := "http"
	if strings.HasPrefix(cfg.Host, "https://") {
		scheme = "https"
	}
	host := strings.TrimPrefix(strings.TrimPrefix(cfg.Host, "https://"), "http://")

	wc := wv.Config{Host: host, Scheme: scheme}
	if cfg.APIKey != "" {
		wc.AuthConfig = auth.ApiKey{Value: cfg.APIKey}
	}
	client, err := wv.NewClient(wc)
	if err != nil {
		return nil, fmt.Errorf("failed to create weaviate client: %w", err)
	}
	class := cfg.Class
	if class == "" {
		class = DefaultClass
	}
	return &Store{client: client, class: class}, nil
}

func classFor(name string) *wvmodels.Class {
	return &wvmodels.Class{
		Class:      name,
		Vectorizer: "none",
		Properties: []*wvmodels.Property{
			{Name: "content", DataType: []string{"text"}},
			{Name: "entityTag", DataType: []string{"text"}, Tokenization: "field"},
			{Name: "sourceId", DataType: []string{"text"}, Tokenization: "field"},
			{Name: "position", DataType: []string{"int"}},
			{Name: "createdAt", DataType: []string{"int"}},
		},
		VectorIndexType:   "hnsw",
		VectorIndexConfig: map[string]interface{}{"distance": "cosine"},
	}
}

// Migrate creates the class if missing. An existing class is probed with one
// stored vector to detect a dimension change.
func (s *Store) Migrate(ctx context.Context, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("%w: embedding dimension must be positive, got %d", models.ErrConfiguration, dim)
	}

	schema, err := s.client.Schema().Getter().Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to get schema: %w", err)
	}
	exists := false
	for _, c := range schema.Classes {
		if c.Class == s.class {
			exists = true
			break
		}
	}

	if !exists {
		if err := s.client.Schema().ClassCreator().WithClass(classFor(s.class)).Do(ctx); err != nil {
			return fmt.Errorf("failed to create %s class: %w", s.class, err)
		}
		log.Info().Str("class", s.class).Int("dim", dim).Msg("created weaviate class")
	} else {
		existing, err := s.sampleDim(ctx)
		if err != nil {
			return err
		}
		if existing > 0 && existing != dim {
			return fmt.Errorf("%s holds vectors of %d, embedder produces %d: %w",
				s.class, existing, dim, models.ErrDimensionMismatch)
		}
	}

	s.mu.Lock()
	s.dim = dim
	s.mu.Unlock()
	return nil
}

func (s *Store) sampleDim(ctx context.Context) (int, error) {
	res, err := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithFields(graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "vector"}}}).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("sample vector: %s", res.Errors[0].Message)
	}
	for _, item := range getItems(res.Data, s.class) {
		if add, ok := item["_additional"].(map[string]interface{}); ok {
			if v, ok := add["vector"].([]interface{}); ok {
				return len(v), nil
			}
		}
	}
	return 0, nil
}

func (s *Store) checkDim(n int, what string) error {
	s.mu.RLock()
	dim := s.dim
	s.mu.RUnlock()
	if dim > 0 && n != dim {
		return fmt.Errorf("%s has %d values, store holds %d: %w", what, n, dim, models.ErrDimensionMismatch)
	}
	return nil
}

func (s *Store) Write(ctx context.Context, records []models.Record) (int, error) {
	now := time.Now().Unix()
	written := 0
	for i := 0; i < len(records); i += batchSize {
		end := min(i+batchSize, len(records))

		batcher := s.client.Batch().ObjectsBatcher()
		for _, r := range records[i:end] {
			if err := s.checkDim(len(r.Embedding), "record"); err != nil {
				return written, err
			}
			id := r.ID
			if id == "" {
				id = uuid.NewString()
			}
			batcher = batcher.WithObjects(&wvmodels.Object{
				Class: s.class,
				ID:    strfmt.UUID(id),
				Properties: map[string]interface{}{
					"content":   r.Content,
					"entityTag": r.EntityTag,
					"sourceId":  r.SourceID,
					"position":  r.Position,
					"createdAt": now,
				},
				Vector: r.Embedding,
			})
		}

		resp, err := batcher.Do(ctx)
		if err != nil {
			return written, fmt.Errorf("failed to insert batch %d-%d: %w", i, end, err)
		}
		for _, o := range resp {
			if o.Result != nil && o.Result.Errors != nil && len(o.Result.Errors.Error) > 0 {
				return written, fmt.Errorf("insert object %s: %s", o.ID, o.Result.Errors.Error[0].Message)
			}
		}
		written += end - i
	}
	return written, nil
}

// ReplaceSource deletes the source's objects before writing. Weaviate has no
// transactions, so a failure between the two leaves the source empty until
// the next ingest.
func (s *Store) ReplaceSource(ctx context.Context, sourceID string, records []models.Record) (int, error) {
	for _, r := range records {
		if err := s.checkDim(len(r.Embedding), "record"); err != nil {
			return 0, err
		}
	}
	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(s.class).
		WithOutput("minimal").
		WithWhere(equal("sourceId", sourceID)).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete source %q: %w", sourceID, err)
	}
	return s.Write(ctx, records)
}

var resultFields = []graphql.Field{
	{Name: "content"},
	{Name: "entityTag"},
	{Name: "sourceId"},
	{Name: "position"},
	{Name: "createdAt"},
	{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}, {Name: "id"}}},
}

func (s *Store) Query(ctx context.Context, vec []float32, k int, entityTag string) ([]models.SearchResult, error) {
	if err := s.checkDim(len(vec), "query vector"); err != nil {
		return nil, err
	}

	get := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithFields(resultFields...).
		WithNearVector(s.client.GraphQL().NearVectorArgBuilder().WithVector(vec)).
		WithLimit(store.ClampK(k))
	if entityTag != "" {
		get = get.WithWhere(equal("entityTag", entityTag))
	}

	res, err := get.Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("search failed: %s", res.Errors[0].Message)
	}
	return parseResults(res.Data, s.class), nil
}

func (s *Store) Ping(ctx context.Context) error {
	ready, err := s.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return err
	}
	if !ready {
		return errors.New("weaviate not ready")
	}
	return nil
}

func (s *Store) Close() {}

func equal(path, value string) *filters.WhereBuilder {
	return filters.Where().
		WithPath([]string{path}).
		WithOperator(filters.Equal).
		WithValueString(value)
}

func getItems(data map[string]wvmodels.JSONObject, class string) []map[string]interface{} {
	get, ok := data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	raw, ok := get[class].([]interface{})
	if !ok {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}

// parseResults converts a GraphQL Get payload into search results, keeping
// the server's distance order.
func parseResults(data map[string]wvmodels.JSONObject, class string) []models.SearchResult {
	out := []models.SearchResult{}
	for _, item := range getItems(data, class) {
		var r models.SearchResult
		r.Content, _ = item["content"].(string)
		r.EntityTag, _ = item["entityTag"].(string)
		r.SourceID, _ = item["sourceId"].(string)
		if p, ok := item["position"].(float64); ok {
			r.Position = int(p)
		}
		if ts, ok := item["createdAt"].(float64); ok {
			r.CreatedAt = time.Unix(int64(ts), 0).UTC()
		}
		if add, ok := item["_additional"].(map[string]interface{}); ok {
			r.ID, _ = add["id"].(string)
			r.Distance, _ = add["distance"].(float64)
		}
		out = append(out, r)
	}
	return out
}

// IsTransient reports whether a Weaviate client error is worth retrying.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, models.ErrConfiguration) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var we *fault.WeaviateClientError
	if errors.As(err, &we) {
		if we.IsUnexpectedStatusCode {
			switch we.StatusCode {
			case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
				http.StatusServiceUnavailable, http.StatusGatewayTimeout:
				return true
			}
			return false
		}
		if we.DerivedFromError != nil {
			return IsTransient(we.DerivedFromError)
		}
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return false
}
