package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"google.golang.org/genai"
)

// ErrEmptyResponse is returned when the model produces no usable output
var ErrEmptyResponse = errors.New("empty gemini response")

// Config holds Gemini API settings
type Config struct {
	APIKey          string
	EmbeddingModel  string
	GenerationModel string
}

// Stats holds client counters
type Stats struct {
	Embeddings  int64
	Generations int64
	Failures    int64
}

// Client wraps the genai client for embeddings and text generation
type Client struct {
	client *genai.Client
	config Config

	embeddings  atomic.Int64
	generations atomic.Int64
	failures    atomic.Int64
}

// New creates a Gemini API client
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "text-embedding-004"
	}
	if cfg.GenerationModel == "" {
		cfg.GenerationModel = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &Client{client: client, config: cfg}, nil
}

// Embed returns the embedding vector of text
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.client.Models.EmbedContent(ctx, c.config.EmbeddingModel, genai.Text(text), nil)
	if err != nil {
		c.failures.Add(1)
		return nil, fmt.Errorf("failed to embed text: %w", err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		c.failures.Add(1)
		return nil, ErrEmptyResponse
	}

	c.embeddings.Add(1)
	return resp.Embeddings[0].Values, nil
}

// Generate returns the model's text answer to prompt
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.config.GenerationModel, genai.Text(prompt), nil)
	if err != nil {
		c.failures.Add(1)
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		c.failures.Add(1)
		return "", ErrEmptyResponse
	}

	c.generations.Add(1)
	return text, nil
}

// GetStats returns client counters
func (c *Client) GetStats() Stats {
	return Stats{
		Embeddings:  c.embeddings.Load(),
		Generations: c.generations.Load(),
		Failures:    c.failures.Load(),
	}
}
