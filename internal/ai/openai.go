package ai

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

type OpenAIClient struct {
	config *ClientConfig
	client *openai.Client
}

// NewOpenAIClient talks to the OpenAI API or any server exposing the same
// surface (vLLM, LM Studio, llama.cpp) when BaseURL is set.
func NewOpenAIClient(config *ClientConfig) *OpenAIClient {
	if config.EmbedModel == "" {
		config.EmbedModel = string(openai.SmallEmbedding3)
	}
	if config.GenerateModel == "" {
		config.GenerateModel = openai.GPT4oMini
	}
	if config.Dim == 0 {
		switch config.EmbedModel {
		case string(openai.LargeEmbedding3):
			config.Dim = 3072
		default:
			config.Dim = 1536
		}
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}

	transport := &http.Transport{}
	// Corporate proxies sometimes terminate TLS with private roots.
	if skipTLS, _ := strconv.ParseBool(os.Getenv("FILINGRAG_SKIP_TLS_VERIFY")); skipTLS {
		transport.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: true,
		}
	}

	cc := openai.DefaultConfig(config.APIKey)
	if strings.TrimSpace(config.BaseURL) != "" {
		cc.BaseURL = strings.TrimRight(config.BaseURL, "/")
	}
	cc.HTTPClient = &http.Client{Timeout: config.Timeout, Transport: transport}

	return &OpenAIClient{
		config: config,
		client: openai.NewClientWithConfig(cc),
	}
}

func (c *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if c.config.APIKey == "" && c.config.BaseURL == "" {
		return nil, errors.New("PROVIDER_API_KEY unset")
	}

	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.config.EmbedModel),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embedding: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embedding: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for i, d := range resp.Data {
		idx := d.Index
		if idx < 0 || idx >= len(out) {
			idx = i
		}
		out[idx] = d.Embedding
	}
	if err := checkDims(out, c.config.Dim); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OpenAIClient) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vs, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return single(vs)
}

func (c *OpenAIClient) Generate(ctx context.Context, prompt string) (string, error) {
	if c.config.APIKey == "" && c.config.BaseURL == "" {
		return "", errors.New("PROVIDER_API_KEY unset")
	}

	req := openai.ChatCompletionRequest{
		Model: c.config.GenerateModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: c.config.Temperature,
		MaxTokens:   c.config.MaxTokens,
	}
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai chat completion: no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (c *OpenAIClient) Ping(ctx context.Context) error {
	if _, err := c.client.ListModels(ctx); err != nil {
		return fmt.Errorf("openai list models: %w", err)
	}
	return nil
}

func (c *OpenAIClient) Dim() int {
	return c.config.Dim
}
