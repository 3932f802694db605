package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/summary"
)

// Record is the delivery progress of one session. Each stage stores its
// result so a rerun resumes instead of repeating finished work.
type Record struct {
	SessionID   string           `json:"session_id"`
	Summary     *summary.Summary `json:"summary,omitempty"`
	DocumentURL string           `json:"document_url,omitempty"`
	Sending     bool             `json:"sending,omitempty"` // a notification may be in flight
	Delivered   bool             `json:"delivered"`
	MessageID   string           `json:"message_id,omitempty"`
	Outcome     Outcome          `json:"outcome,omitempty"`
	Runs        int              `json:"runs"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Ledger persists delivery records by session id
type Ledger interface {
	Load(ctx context.Context, sessionID string) (Record, bool, error)
	Save(ctx context.Context, rec Record) error
}

// MemoryLedger is a process-local Ledger
type MemoryLedger struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryLedger creates an empty in-memory ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{records: make(map[string]Record)}
}

// Load implements Ledger
func (l *MemoryLedger) Load(ctx context.Context, sessionID string) (Record, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[sessionID]
	return rec, ok, nil
}

// Save implements Ledger
func (l *MemoryLedger) Save(ctx context.Context, rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[rec.SessionID] = rec
	return nil
}

// RedisConfig holds Redis ledger settings
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// RedisLedger keeps records as JSON values in Redis so that delivery stays
// idempotent across restarts and replicas
type RedisLedger struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisLedger connects to Redis and checks the connection
func NewRedisLedger(ctx context.Context, cfg RedisConfig) (*RedisLedger, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	return &RedisLedger{client: client, prefix: cfg.KeyPrefix, ttl: cfg.TTL}, nil
}

func (l *RedisLedger) key(sessionID string) string {
	return l.prefix + sessionID
}

// Load implements Ledger
func (l *RedisLedger) Load(ctx context.Context, sessionID string) (Record, bool, error) {
	data, err := l.client.Get(ctx, l.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to load delivery record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, false, fmt.Errorf("failed to decode delivery record: %w", err)
	}
	return rec, true, nil
}

// Save implements Ledger
func (l *RedisLedger) Save(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode delivery record: %w", err)
	}
	if err := l.client.Set(ctx, l.key(rec.SessionID), data, l.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save delivery record: %w", err)
	}
	return nil
}

// Close closes the Redis connection pool
func (l *RedisLedger) Close() error {
	return l.client.Close()
}
