package users

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// Role is the caller's business role
type Role string

const (
	RoleUnknown    Role = ""
	RoleContractor Role = "contractor"
	RoleCustomer   Role = "customer"
)

// Status is the registration state reported by the directory
type Status string

const (
	StatusSuccess    Status = "success"
	StatusIncomplete Status = "incomplete"
	StatusNotFound   Status = "not_found"
)

// RegisterResult reports whether Register inserted a row
type RegisterResult string

const (
	RegisterCreated RegisterResult = "created"
	RegisterExists  RegisterResult = "exists"
)

// ErrInvalidRole is returned for roles outside contractor and customer
var ErrInvalidRole = errors.New("invalid role")

// Participant is the identity of the caller on a session
type Participant struct {
	Phone  string `json:"phone"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
	Role   Role   `json:"role,omitempty"`
	Status Status `json:"status"`
}

// IsReturning reports whether the directory knows the caller
func (p Participant) IsReturning() bool {
	return p.Status == StatusSuccess || p.Status == StatusIncomplete
}

// HasRole reports whether the role is resolved
func (p Participant) HasRole() bool {
	return p.Role == RoleContractor || p.Role == RoleCustomer
}

// ContactEmail returns the registered email, or fallback when the
// registration is not complete
func (p Participant) ContactEmail(fallback string) string {
	if p.Status == StatusSuccess && p.Email != "" {
		return p.Email
	}
	return fallback
}

// ParseRole validates an explicit role value
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleContractor:
		return RoleContractor, nil
	case RoleCustomer:
		return RoleCustomer, nil
	default:
		return RoleUnknown, ErrInvalidRole
	}
}

// DetectRole scans free text for a role keyword. Contractor wins when both
// appear.
func DetectRole(text string) Role {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, string(RoleContractor)):
		return RoleContractor
	case strings.Contains(lower, string(RoleCustomer)):
		return RoleCustomer
	default:
		return RoleUnknown
	}
}

// Directory resolves and registers callers by phone number
type Directory interface {
	Lookup(ctx context.Context, phone string) (Participant, error)
	Register(ctx context.Context, phone string, role Role) (RegisterResult, error)
}

// MemoryDirectory is an in-process Directory used for local runs and tests
type MemoryDirectory struct {
	mu      sync.RWMutex
	records map[string]Participant
}

// NewMemoryDirectory creates a directory seeded with participants
func NewMemoryDirectory(seed ...Participant) *MemoryDirectory {
	d := &MemoryDirectory{records: make(map[string]Participant)}
	for _, p := range seed {
		d.records[p.Phone] = p
	}
	return d
}

// Lookup returns the stored participant or a not_found placeholder
func (d *MemoryDirectory) Lookup(ctx context.Context, phone string) (Participant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.records[phone]
	if !ok {
		return Participant{Phone: phone, Status: StatusNotFound}, nil
	}
	p.Status = statusFor(p.Email)
	return p, nil
}

// Register inserts phone with role unless the phone is already known
func (d *MemoryDirectory) Register(ctx context.Context, phone string, role Role) (RegisterResult, error) {
	if _, err := ParseRole(string(role)); err != nil {
		return "", err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.records[phone]; ok {
		return RegisterExists, nil
	}
	d.records[phone] = Participant{Phone: phone, Role: role}
	return RegisterCreated, nil
}

// statusFor treats a missing or placeholder email as an incomplete
// registration
func statusFor(email string) Status {
	if email == "" || strings.HasPrefix(email, "pending_") {
		return StatusIncomplete
	}
	return StatusSuccess
}
