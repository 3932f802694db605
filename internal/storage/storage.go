package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"sync"
)

// ErrInvalidKey is returned for empty or escaping object keys
var ErrInvalidKey = errors.New("invalid object key")

// Store saves documents and returns a URL the recipient can open
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Key returns the deterministic object key of a call's summary document
func Key(prefix, sessionID string) string {
	return path.Join(prefix, sessionID, "summary.pdf")
}

func validKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// IsRetryable classifies a Put error. Uploads overwrite the same key, so
// anything short of a client error is worth another attempt.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrInvalidKey) || errors.Is(err, context.Canceled) {
		return false
	}

	var status interface{ HTTPStatusCode() int }
	if errors.As(err, &status) {
		code := status.HTTPStatusCode()
		return code >= 500 || code == http.StatusTooManyRequests
	}
	return true
}

// MemoryStore keeps documents in memory and serves them under BaseURL.
// It backs local runs and tests.
type MemoryStore struct {
	BaseURL string

	mu      sync.RWMutex
	objects map[string][]byte
	puts    int
}

// NewMemoryStore creates an in-memory store
func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{
		BaseURL: strings.TrimRight(baseURL, "/"),
		objects: make(map[string][]byte),
	}
}

// Put implements Store
func (s *MemoryStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := validKey(key); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	s.objects[key] = append([]byte(nil), data...)
	s.puts++
	s.mu.Unlock()

	return s.BaseURL + "/" + key, nil
}

// Get returns a stored document
func (s *MemoryStore) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[key]
	return data, ok
}

// Puts returns the number of successful uploads
func (s *MemoryStore) Puts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.puts
}
