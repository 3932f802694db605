package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Fixed replies spoken when the index has nothing useful
const (
	NoMatchesReply     = "I couldn't find information about that product in our database."
	NoUsableTextReply  = "I found some matches but they don't contain usable information."
	contextSeparator   = "\n---\n"
	defaultResultLimit = 3
)

// Match is one ranked hit from the index
type Match struct {
	ID    string  `json:"id"`
	Score float32 `json:"score"`
	Text  string  `json:"text,omitempty"`
}

// Result is the outcome of a product search
type Result struct {
	Query   string  `json:"query"`
	Matches []Match `json:"matches,omitempty"`
	Answer  string  `json:"answer"`
}

// Embedder turns text into a vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Generator answers a prompt with text
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Index is a nearest-neighbour store of product descriptions
type Index interface {
	Query(ctx context.Context, vector []float32, limit int) ([]Match, error)
}

// Searcher runs embed, query and answer for a product question
type Searcher struct {
	embedder  Embedder
	index     Index
	generator Generator
	limit     int
	logger    *slog.Logger
}

// NewSearcher creates a product searcher
func NewSearcher(embedder Embedder, index Index, generator Generator, limit int, logger *slog.Logger) *Searcher {
	if limit <= 0 {
		limit = defaultResultLimit
	}
	return &Searcher{
		embedder:  embedder,
		index:     index,
		generator: generator,
		limit:     limit,
		logger:    logger,
	}
}

// Search answers a product question from the index. An empty index result
// is not an error; the answer carries the fixed reply instead.
func (s *Searcher) Search(ctx context.Context, query string) (Result, error) {
	result := Result{Query: query}

	s.logger.Debug("Searching product database", slog.String("query", query))

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return result, fmt.Errorf("failed to embed query: %w", err)
	}

	matches, err := s.index.Query(ctx, vector, s.limit)
	if err != nil {
		return result, err
	}
	result.Matches = matches

	if len(matches) == 0 {
		result.Answer = NoMatchesReply
		return result, nil
	}

	var contexts []string
	for _, m := range matches {
		if strings.TrimSpace(m.Text) != "" {
			contexts = append(contexts, m.Text)
		}
	}
	if len(contexts) == 0 {
		result.Answer = NoUsableTextReply
		return result, nil
	}

	answer, err := s.generator.Generate(ctx, answerPrompt(query, strings.Join(contexts, contextSeparator)))
	if err != nil {
		return result, fmt.Errorf("failed to generate answer: %w", err)
	}
	result.Answer = answer

	return result, nil
}

func answerPrompt(query, contextText string) string {
	return fmt.Sprintf(`Based on these product details:
%s

Extract the product information from any "Unnamed" labels, then respond in a natural, conversational tone as if you're speaking to someone. Include:
- The product name (from the first "Unnamed" field)
- The quantity (the number after a date range)
- The unit price
- The total cost

Maintain a helpful, friendly tone and address the user's question: %s
If the question asks for specific information, focus on that part in your response.
If the product quantity is negative or any value is NAN, say it is out of stock.
The currency is INR.
`, contextText, query)
}
