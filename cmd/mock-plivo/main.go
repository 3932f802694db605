// Command mock-plivo serves a local imitation of the Plivo Message and Call
// APIs for exercising post-call delivery without a real account.
package main

import (
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type messageRequest struct {
	Src      string `json:"src"`
	Dst      string `json:"dst"`
	Type     string `json:"type"`
	Text     string `json:"text"`
	Template *struct {
		Name       string `json:"name"`
		Language   string `json:"language"`
		Components []struct {
			Type       string `json:"type"`
			Parameters []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"parameters"`
		} `json:"components"`
	} `json:"template"`
}

type messageResponse struct {
	APIID       string   `json:"api_id"`
	Message     string   `json:"message"`
	MessageUUID []string `json:"message_uuid"`
}

type mockServer struct {
	logger    *slog.Logger
	failEvery int64
	requests  atomic.Int64
}

func (m *mockServer) messageHandler(w http.ResponseWriter, r *http.Request) {
	authID := r.PathValue("auth_id")
	if user, _, ok := r.BasicAuth(); !ok || user != authID {
		http.Error(w, `{"error":"authentication failed"}`, http.StatusUnauthorized)
		return
	}

	// Simulate intermittent upstream failures for retry testing
	if n := m.requests.Add(1); m.failEvery > 0 && n%m.failEvery == 0 {
		m.logger.Warn("Injecting upstream failure", slog.Int64("request", n))
		http.Error(w, `{"error":"service unavailable"}`, http.StatusServiceUnavailable)
		return
	}

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if req.Dst == "" {
		http.Error(w, `{"error":"dst is required"}`, http.StatusBadRequest)
		return
	}

	attrs := []any{
		slog.String("src", req.Src),
		slog.String("dst", req.Dst),
		slog.String("type", req.Type),
	}
	if req.Template != nil {
		var params []string
		for _, c := range req.Template.Components {
			for _, p := range c.Parameters {
				params = append(params, p.Text)
			}
		}
		attrs = append(attrs,
			slog.String("template", req.Template.Name),
			slog.String("language", req.Template.Language),
			slog.Any("params", params))
	} else {
		attrs = append(attrs, slog.Int("text_length", len(req.Text)))
	}
	m.logger.Info("Message received", attrs...)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(messageResponse{
		APIID:       uuid.NewString(),
		Message:     "message(s) queued",
		MessageUUID: []string{uuid.NewString()},
	})
}

func (m *mockServer) hangupHandler(w http.ResponseWriter, r *http.Request) {
	m.logger.Info("Call hangup received", slog.String("call_uuid", r.PathValue("call_uuid")))
	w.WriteHeader(http.StatusNoContent)
}

func main() {
	addr := flag.String("addr", ":9000", "Listen address")
	failEvery := flag.Int64("fail-every", 0, "Fail every Nth message request with 503 (0 disables)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	m := &mockServer{logger: logger, failEvery: *failEvery}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/Account/{auth_id}/Message/", m.messageHandler)
	mux.HandleFunc("DELETE /v1/Account/{auth_id}/Call/{call_uuid}/", m.hangupHandler)

	server := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("Mock Plivo API starting",
		slog.String("address", *addr),
		slog.String("hint", "set telephony.api_base_url to http://localhost"+*addr))

	if err := server.ListenAndServe(); err != nil {
		logger.Error("Server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
