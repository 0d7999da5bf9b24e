package ai

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
	"time"
)

// Embedder maps text to fixed-dimension vectors.
type Embedder interface {
	// Embed returns one vector per input, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	Dim() int
}

// single unwraps the result of a one-input Embed call.
func single(vs [][]float32) ([]float32, error) {
	if len(vs) != 1 {
		return nil, fmt.Errorf("embed: got %d vectors for 1 input", len(vs))
	}
	return vs[0], nil
}

// Generator produces answer text from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	// Ping checks the generation service is reachable.
	Ping(ctx context.Context) error
}

// Provider is enumeration of supported AI providers
type Provider string

const (
	ProviderOpenAI   Provider = "openai"
	ProviderVertexAI Provider = "vertexai"
	ProviderOllama   Provider = "ollama"
	ProviderStub     Provider = "stub"
)

// ParseProvider normalises a configured provider name.
func ParseProvider(s string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "openai":
		return ProviderOpenAI, nil
	case "vertexai", "google", "gemini":
		return ProviderVertexAI, nil
	case "ollama":
		return ProviderOllama, nil
	case "stub", "":
		return ProviderStub, nil
	}
	return "", errors.New("unsupported provider: " + s)
}

// ClientConfig holds configuration for AI clients
type ClientConfig struct {
	Provider      Provider
	APIKey        string
	BaseURL       string
	EmbedModel    string
	GenerateModel string
	Dim           int
	ProjectID     string
	Location      string
	Temperature   float32
	MaxTokens     int
	Timeout       time.Duration
}

// NewEmbedder creates an embedding client based on configuration
func NewEmbedder(ctx context.Context, config *ClientConfig) (Embedder, error) {
	if config == nil {
		return nil, errors.New("client config is required")
	}
	switch config.Provider {
	case ProviderOpenAI:
		return NewOpenAIClient(config), nil
	case ProviderVertexAI:
		return NewVertexAIClient(ctx, config)
	case ProviderOllama:
		return NewOllamaClient(config), nil
	case ProviderStub:
		return NewStubEmbedder(config.Dim), nil
	default:
		return nil, errors.New("unsupported provider: " + string(config.Provider))
	}
}

// NewGenerator creates a generation client based on configuration
func NewGenerator(ctx context.Context, config *ClientConfig) (Generator, error) {
	if config == nil {
		return nil, errors.New("client config is required")
	}
	switch config.Provider {
	case ProviderOpenAI:
		return NewOpenAIClient(config), nil
	case ProviderVertexAI:
		return NewVertexAIClient(ctx, config)
	case ProviderOllama:
		return NewOllamaClient(config), nil
	case ProviderStub:
		return StubGenerator{}, nil
	default:
		return nil, errors.New("unsupported provider: " + string(config.Provider))
	}
}

// DefaultStubDim matches all-MiniLM-L6-v2.
const DefaultStubDim = 384

// StubEmbedder is a deterministic feature-hashing embedder for offline runs and tests.
type StubEmbedder struct {
	dim int
}

// NewStubEmbedder creates a new StubEmbedder
func NewStubEmbedder(dim int) *StubEmbedder {
	if dim <= 0 {
		dim = DefaultStubDim
	}
	return &StubEmbedder{dim: dim}
}

var wordRe = regexp.MustCompile(`[\p{L}\p{N}]+`)

func (s *StubEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v := make([]float32, s.dim)
	for _, w := range wordRe.FindAllString(strings.ToLower(text), -1) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		sum := h.Sum32()
		sign := float32(1)
		if sum&0x80000000 != 0 {
			sign = -1
		}
		v[int(sum%uint32(s.dim))] += sign
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range v {
			v[i] *= inv
		}
	}
	return v, nil
}

func (s *StubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := s.EmbedOne(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dim returns the embedding dimension
func (s *StubEmbedder) Dim() int {
	return s.dim
}

// StubGenerator answers without a model. It cites the first passage when the
// prompt carries one.
type StubGenerator struct{}

func (StubGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !strings.Contains(prompt, "[1] (") {
		return "No relevant context found.", nil
	}
	n := strings.Count(prompt, "\n---\n") + 1
	return fmt.Sprintf("Based on %d retrieved passage(s), see [1].", n), nil
}

func (StubGenerator) Ping(context.Context) error { return nil }
