package plivo

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{
		BaseURL:      server.URL,
		AuthID:       "MAXXXX",
		AuthToken:    "secret",
		Sender:       "+15557282843",
		TemplateName: "pdf_regi_template",
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return client
}

func TestNewClientRequiresCredentials(t *testing.T) {
	if _, err := NewClient(Config{AuthID: "MAXXXX"}); err == nil {
		t.Error("Expected error for missing auth token")
	}
}

func TestSendTemplate(t *testing.T) {
	var got messageRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/Account/MAXXXX/Message/" {
			t.Errorf("Expected POST to message resource, got %s %s", r.Method, r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "MAXXXX" || pass != "secret" {
			t.Errorf("Expected basic auth credentials, got %q %q", user, pass)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"api_id":"a1","message":"message(s) queued","message_uuid":["m-123"]}`))
	})

	id, err := client.SendTemplate(context.Background(), "+919876543210", []string{"files.example.com/summary.pdf", "portal.example.com/?phonenumber=919876543210"})
	if err != nil {
		t.Fatalf("Failed to send template: %v", err)
	}
	if id != "m-123" {
		t.Errorf("Expected message id m-123, got %s", id)
	}

	if got.Type != "whatsapp" || got.Src != "+15557282843" || got.Dst != "+919876543210" {
		t.Errorf("Unexpected envelope: %+v", got)
	}
	if got.Template == nil || got.Template.Name != "pdf_regi_template" || got.Template.Language != "en" {
		t.Fatalf("Expected template pdf_regi_template/en, got %+v", got.Template)
	}
	params := got.Template.Components[0].Parameters
	if len(params) != 2 || params[0].Text != "files.example.com/summary.pdf" || params[0].Type != "text" {
		t.Errorf("Unexpected template parameters: %+v", params)
	}
	if stats := client.GetStats(); stats.SuccessRequests != 1 || stats.TotalRequests != 1 {
		t.Errorf("Expected 1 successful request, got %+v", stats)
	}
}

func TestSendText(t *testing.T) {
	var got messageRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"message_uuid":["m-9"]}`))
	})

	if _, err := client.SendText(context.Background(), "+919876543210", "Thank you for the call"); err != nil {
		t.Fatalf("Failed to send text: %v", err)
	}
	if got.Text != "Thank you for the call" || got.Template != nil {
		t.Errorf("Expected plain text message, got %+v", got)
	}
}

func TestSendRequiresRecipient(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("Expected no request without a recipient")
	})

	if _, err := client.SendText(context.Background(), "", "hi"); !errors.Is(err, ErrNoRecipient) {
		t.Errorf("Expected ErrNoRecipient, got %v", err)
	}
}

func TestHangup(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/v1/Account/MAXXXX/Call/call-1/" {
			t.Errorf("Expected DELETE on call resource, got %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	if err := client.Hangup(context.Background(), "call-1"); err != nil {
		t.Errorf("Failed to hang up: %v", err)
	}
}

func TestAPIErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{http.StatusInternalServerError, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusTooManyRequests, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		status := tt.status
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			w.Write([]byte(`{"error":"nope"}`))
		})

		_, err := client.SendText(context.Background(), "+919876543210", "hi")
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("Expected APIError for status %d, got %v", status, err)
		}
		if apiErr.StatusCode != status {
			t.Errorf("Expected status %d, got %d", status, apiErr.StatusCode)
		}
		if IsRetryable(err) != tt.retryable {
			t.Errorf("Expected retryable=%v for status %d", tt.retryable, status)
		}
		if client.GetStats().FailedRequests != 1 {
			t.Errorf("Expected failed request to be counted for status %d", status)
		}
	}
}

func TestIsRetryableContextDeadline(t *testing.T) {
	if !IsRetryable(context.DeadlineExceeded) {
		t.Error("Expected deadline exceeded to be retryable")
	}
	if IsRetryable(errors.New("bad template")) {
		t.Error("Expected plain error to be permanent")
	}
	if IsRetryable(nil) {
		t.Error("Expected nil to be permanent")
	}
}
