package users

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/supabase-community/supabase-go"
)

// SupabaseConfig holds the registration table connection settings
type SupabaseConfig struct {
	URL      string
	APIKey   string
	Table    string
	CacheTTL time.Duration // Default: 1 minute
}

// record is a row of the registration table
type record struct {
	PhoneNumber string  `json:"phone_number"`
	Email       *string `json:"email"`
	Name        *string `json:"name"`
	Location    *string `json:"location"`
	Role        *string `json:"role"`
}

func (r record) participant() Participant {
	p := Participant{Phone: r.PhoneNumber}
	if r.Name != nil {
		p.Name = *r.Name
	}
	if r.Email != nil {
		p.Email = *r.Email
	}
	if r.Role != nil {
		if role, err := ParseRole(*r.Role); err == nil {
			p.Role = role
		}
	}
	p.Status = statusFor(p.Email)
	return p
}

type cacheEntry struct {
	value     Participant
	expiresAt time.Time
}

// SupabaseDirectory implements Directory over a Supabase PostgREST table
type SupabaseDirectory struct {
	client   *supabase.Client
	table    string
	cacheTTL time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewSupabaseDirectory creates a directory client
func NewSupabaseDirectory(cfg SupabaseConfig) (*SupabaseDirectory, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("supabase URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("supabase API key is required")
	}
	if cfg.Table == "" {
		cfg.Table = "registration_form"
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Minute
	}

	client, err := supabase.NewClient(cfg.URL, cfg.APIKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}

	return &SupabaseDirectory{
		client:   client,
		table:    cfg.Table,
		cacheTTL: cfg.CacheTTL,
		cache:    make(map[string]cacheEntry),
	}, nil
}

// Lookup fetches the registration row for phone
func (d *SupabaseDirectory) Lookup(ctx context.Context, phone string) (Participant, error) {
	if cached, ok := d.getFromCache(phone); ok {
		return cached, nil
	}

	var rows []record
	err := withContext(ctx, func() error {
		_, err := d.client.From(d.table).
			Select("*", "", false).
			Eq("phone_number", phone).
			ExecuteTo(&rows)
		return err
	})
	if err != nil {
		return Participant{Phone: phone, Status: StatusNotFound}, fmt.Errorf("failed to look up caller: %w", err)
	}

	p := Participant{Phone: phone, Status: StatusNotFound}
	if len(rows) > 0 {
		p = rows[0].participant()
	}

	d.setCache(phone, p)
	return p, nil
}

// Register adds phone with role. An existing row is left untouched.
func (d *SupabaseDirectory) Register(ctx context.Context, phone string, role Role) (RegisterResult, error) {
	if _, err := ParseRole(string(role)); err != nil {
		return "", err
	}

	var rows []record
	err := withContext(ctx, func() error {
		_, err := d.client.From(d.table).
			Select("phone_number", "", false).
			Eq("phone_number", phone).
			ExecuteTo(&rows)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to check registration: %w", err)
	}
	if len(rows) > 0 {
		return RegisterExists, nil
	}

	roleValue := string(role)
	err = withContext(ctx, func() error {
		_, _, err := d.client.From(d.table).
			Insert(record{PhoneNumber: phone, Role: &roleValue}, false, "", "", "").
			Execute()
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to register caller: %w", err)
	}

	d.invalidate(phone)
	return RegisterCreated, nil
}

func (d *SupabaseDirectory) getFromCache(phone string) (Participant, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	e, ok := d.cache[phone]
	if !ok || time.Now().After(e.expiresAt) {
		return Participant{}, false
	}
	return e.value, true
}

func (d *SupabaseDirectory) setCache(phone string, p Participant) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cache[phone] = cacheEntry{value: p, expiresAt: time.Now().Add(d.cacheTTL)}
}

func (d *SupabaseDirectory) invalidate(phone string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.cache, phone)
}

// withContext runs a blocking PostgREST call and abandons it when ctx ends.
// The query builder has no context support.
func withContext(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
