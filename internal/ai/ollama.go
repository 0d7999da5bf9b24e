package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultOllamaURL        = "http://localhost:11434"
	DefaultOllamaEmbedModel = "all-minilm"
	DefaultOllamaModel      = "llama3.2"
)

// OllamaClient speaks the Ollama HTTP API for both embeddings and chat.
type OllamaClient struct {
	config *ClientConfig
	http   *http.Client
}

func NewOllamaClient(config *ClientConfig) *OllamaClient {
	if config.BaseURL == "" {
		config.BaseURL = DefaultOllamaURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.EmbedModel == "" {
		config.EmbedModel = DefaultOllamaEmbedModel
	}
	if config.GenerateModel == "" {
		config.GenerateModel = DefaultOllamaModel
	}
	if config.Dim == 0 && config.EmbedModel == DefaultOllamaEmbedModel {
		config.Dim = 384
	}
	if config.Timeout == 0 {
		config.Timeout = 120 * time.Second
	}
	return &OllamaClient{
		config: config,
		http:   &http.Client{Timeout: config.Timeout},
	}
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float32 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

func (c *OllamaClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var out ollamaEmbedResponse
	if err := c.post(ctx, "/api/embed", ollamaEmbedRequest{Model: c.config.EmbedModel, Input: texts}, &out); err != nil {
		return nil, err
	}
	if len(out.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed: got %d vectors for %d inputs", len(out.Embeddings), len(texts))
	}
	if err := checkDims(out.Embeddings, c.config.Dim); err != nil {
		return nil, err
	}
	return out.Embeddings, nil
}

func (c *OllamaClient) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vs, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return single(vs)
}

func (c *OllamaClient) Generate(ctx context.Context, prompt string) (string, error) {
	req := ollamaChatRequest{
		Model:    c.config.GenerateModel,
		Messages: []ollamaMessage{{Role: "user", Content: prompt}},
		Stream:   false,
	}
	if c.config.Temperature > 0 || c.config.MaxTokens > 0 {
		req.Options = &ollamaOptions{Temperature: c.config.Temperature, NumPredict: c.config.MaxTokens}
	}
	var out ollamaChatResponse
	if err := c.post(ctx, "/api/chat", req, &out); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Message.Content), nil
}

// Ping lists local models, which needs no model to be loaded.
func (c *OllamaClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ollama ping: %w", err)
	}
	defer c.closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Service: "ollama", Code: resp.StatusCode, Body: readBody(resp.Body)}
	}
	return nil
}

func (c *OllamaClient) Dim() int {
	return c.config.Dim
}

func (c *OllamaClient) post(ctx context.Context, path string, in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer c.closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Service: "ollama", Code: resp.StatusCode, Body: readBody(resp.Body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *OllamaClient) closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		log.Debug().Err(err).Msg("failed to close response body")
	}
}

func readBody(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return "failed to read response"
	}
	return strings.TrimSpace(string(b))
}
