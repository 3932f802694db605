package search

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
)

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type fakeIndex struct {
	matches []Match
	limit   int
}

func (f *fakeIndex) Query(ctx context.Context, vector []float32, limit int) ([]Match, error) {
	f.limit = limit
	return f.matches, nil
}

type fakeGenerator struct {
	prompt string
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	f.prompt = prompt
	return "BOLT ALLEN M6 is available at INR 9.86 each.", nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSearchAnswersFromMatches(t *testing.T) {
	index := &fakeIndex{matches: []Match{
		{ID: "1", Score: 0.9, Text: "Unnamed: 0: BOLT ALLEN M6X10LX1P"},
		{ID: "2", Score: 0.8, Text: "Unnamed: 2: 9.86"},
	}}
	gen := &fakeGenerator{}
	s := NewSearcher(&fakeEmbedder{}, index, gen, 0, testLogger())

	result, err := s.Search(context.Background(), "allen bolt price")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if index.limit != 3 {
		t.Errorf("Expected default limit 3, got %d", index.limit)
	}
	if !strings.Contains(result.Answer, "BOLT ALLEN") {
		t.Errorf("Expected generated answer, got %q", result.Answer)
	}
	if !strings.Contains(gen.prompt, "BOLT ALLEN M6X10LX1P\n---\nUnnamed: 2: 9.86") {
		t.Errorf("Expected joined contexts in prompt, got %q", gen.prompt)
	}
	if !strings.Contains(gen.prompt, "allen bolt price") {
		t.Errorf("Expected query in prompt")
	}
	if len(result.Matches) != 2 {
		t.Errorf("Expected 2 matches, got %d", len(result.Matches))
	}
}

func TestSearchFixedReplies(t *testing.T) {
	gen := &fakeGenerator{}

	s := NewSearcher(&fakeEmbedder{}, &fakeIndex{}, gen, 3, testLogger())
	result, err := s.Search(context.Background(), "impeller")
	if err != nil || result.Answer != NoMatchesReply {
		t.Errorf("Expected no-match reply, got %q (%v)", result.Answer, err)
	}

	s = NewSearcher(&fakeEmbedder{}, &fakeIndex{matches: []Match{{ID: "1", Score: 0.5}}}, gen, 3, testLogger())
	result, err = s.Search(context.Background(), "impeller")
	if err != nil || result.Answer != NoUsableTextReply {
		t.Errorf("Expected unusable-match reply, got %q (%v)", result.Answer, err)
	}

	if gen.prompt != "" {
		t.Errorf("Expected generator not to be called")
	}
}

func TestSearchEmbedFailure(t *testing.T) {
	cause := errors.New("quota exceeded")
	s := NewSearcher(&fakeEmbedder{err: cause}, &fakeIndex{}, &fakeGenerator{}, 3, testLogger())

	if _, err := s.Search(context.Background(), "bearing"); !errors.Is(err, cause) {
		t.Errorf("Expected wrapped embed error, got %v", err)
	}
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		raw    string
		host   string
		port   int
		useTLS bool
		ok     bool
	}{
		{"https://qdrant.example.io:6334", "qdrant.example.io", 6334, true, true},
		{"http://localhost:7000", "localhost", 7000, false, true},
		{"qdrant.internal", "qdrant.internal", 6334, true, true},
		{"http://host:abc", "", 0, false, false},
	}

	for _, tt := range tests {
		host, port, useTLS, err := parseAddress(tt.raw)
		if (err == nil) != tt.ok {
			t.Errorf("parseAddress(%q): expected ok=%v, got %v", tt.raw, tt.ok, err)
			continue
		}
		if !tt.ok {
			continue
		}
		if host != tt.host || port != tt.port || useTLS != tt.useTLS {
			t.Errorf("parseAddress(%q): expected %s:%d tls=%v, got %s:%d tls=%v",
				tt.raw, tt.host, tt.port, tt.useTLS, host, port, useTLS)
		}
	}
}
