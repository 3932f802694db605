package gemini

import (
	"context"
	"testing"
)

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Errorf("Expected error for missing API key")
	}
}

func TestNewAppliesDefaultModels(t *testing.T) {
	c, err := New(context.Background(), Config{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	if c.config.EmbeddingModel != "text-embedding-004" {
		t.Errorf("Expected default embedding model, got %s", c.config.EmbeddingModel)
	}
	if c.config.GenerationModel != "gemini-2.0-flash" {
		t.Errorf("Expected default generation model, got %s", c.config.GenerationModel)
	}
	if stats := c.GetStats(); stats.Embeddings != 0 || stats.Failures != 0 {
		t.Errorf("Expected zero stats, got %+v", stats)
	}
}
