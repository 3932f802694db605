package users

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDetectRole(t *testing.T) {
	tests := []struct {
		text string
		want Role
	}{
		{"I'm a contractor working on site", RoleContractor},
		{"Customer here", RoleCustomer},
		{"I am a customer and also a CONTRACTOR", RoleContractor},
		{"just looking for bearings", RoleUnknown},
		{"", RoleUnknown},
	}

	for _, tt := range tests {
		if got := DetectRole(tt.text); got != tt.want {
			t.Errorf("DetectRole(%q): expected %q, got %q", tt.text, tt.want, got)
		}
	}
}

func TestParseRole(t *testing.T) {
	if role, err := ParseRole(" Contractor "); err != nil || role != RoleContractor {
		t.Errorf("Expected contractor, got %q (%v)", role, err)
	}
	if _, err := ParseRole("supplier"); !errors.Is(err, ErrInvalidRole) {
		t.Errorf("Expected ErrInvalidRole, got %v", err)
	}
}

func TestRecordStatus(t *testing.T) {
	email := "a@b.com"
	pending := "pending_123"
	name := "Asha"
	role := "customer"

	p := record{PhoneNumber: "+911", Email: &email, Name: &name, Role: &role}.participant()
	if p.Status != StatusSuccess || p.Name != "Asha" || p.Role != RoleCustomer {
		t.Errorf("Expected complete customer record, got %+v", p)
	}

	if p := (record{PhoneNumber: "+912", Email: &pending}).participant(); p.Status != StatusIncomplete {
		t.Errorf("Expected pending email to be incomplete, got %s", p.Status)
	}
	if p := (record{PhoneNumber: "+913"}).participant(); p.Status != StatusIncomplete {
		t.Errorf("Expected missing email to be incomplete, got %s", p.Status)
	}
}

func TestParticipantHelpers(t *testing.T) {
	p := Participant{Phone: "+91", Email: "x@y.com", Status: StatusSuccess}
	if !p.IsReturning() {
		t.Errorf("Expected success status to be returning")
	}
	if got := p.ContactEmail("customer@example.com"); got != "x@y.com" {
		t.Errorf("Expected registered email, got %s", got)
	}

	p.Status = StatusIncomplete
	if got := p.ContactEmail("customer@example.com"); got != "customer@example.com" {
		t.Errorf("Expected fallback email, got %s", got)
	}

	if (Participant{Status: StatusNotFound}).IsReturning() {
		t.Errorf("Expected not_found to be a new caller")
	}
}

func TestMemoryDirectory(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDirectory(Participant{Phone: "+100", Name: "Ravi", Email: "ravi@example.com", Role: RoleContractor})

	p, err := d.Lookup(ctx, "+100")
	if err != nil || p.Status != StatusSuccess || p.Role != RoleContractor {
		t.Errorf("Expected known contractor, got %+v (%v)", p, err)
	}

	p, _ = d.Lookup(ctx, "+200")
	if p.Status != StatusNotFound || p.Phone != "+200" {
		t.Errorf("Expected not_found placeholder, got %+v", p)
	}

	if res, err := d.Register(ctx, "+200", RoleCustomer); err != nil || res != RegisterCreated {
		t.Errorf("Expected created, got %s (%v)", res, err)
	}
	if res, _ := d.Register(ctx, "+200", RoleContractor); res != RegisterExists {
		t.Errorf("Expected exists, got %s", res)
	}

	p, _ = d.Lookup(ctx, "+200")
	if p.Status != StatusIncomplete || p.Role != RoleCustomer {
		t.Errorf("Expected incomplete customer after register, got %+v", p)
	}

	if _, err := d.Register(ctx, "+300", Role("vendor")); !errors.Is(err, ErrInvalidRole) {
		t.Errorf("Expected ErrInvalidRole, got %v", err)
	}
}

func TestWithContextAbandonsSlowCall(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := withContext(ctx, func() error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}
