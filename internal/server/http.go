package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/call"
	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/config"
	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/metrics"
	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/pipeline"
	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/plivo"
	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/protocol"
)

// HTTPServer serves the call webhook, the media stream websocket and the
// monitoring endpoints
type HTTPServer struct {
	server   *http.Server
	logger   *slog.Logger
	config   *config.Config
	calls    *call.Manager
	pipeline *pipeline.Pipeline
	plivo    *plivo.Client
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
	handler  http.Handler

	// Server state
	startTime time.Time
	mu        sync.RWMutex
	streams   int
}

// Option customises the HTTP server
type Option func(*HTTPServer)

// WithPipeline exposes post-call pipeline statistics
func WithPipeline(p *pipeline.Pipeline) Option {
	return func(h *HTTPServer) { h.pipeline = p }
}

// WithPlivo exposes Plivo client statistics
func WithPlivo(c *plivo.Client) Option {
	return func(h *HTTPServer) { h.plivo = c }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *HTTPServer) { h.metrics = m }
}

// NewHTTPServer creates the HTTP server
func NewHTTPServer(logger *slog.Logger, appConfig *config.Config, calls *call.Manager, opts ...Option) *HTTPServer {
	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		calls:     calls,
		startTime: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Media streams come from the telephony provider, not browsers
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}

	// Create HTTP server with routes
	mux := http.NewServeMux()
	h.setupRoutes(mux)
	h.handler = mux

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", appConfig.Server.Address, appConfig.Server.Port),
		Handler:      mux,
		ReadTimeout:  appConfig.Server.GetReadTimeout(),
		WriteTimeout: appConfig.Server.GetWriteTimeout(),
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the routed handler
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// setupRoutes configures HTTP routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Call intake
	mux.HandleFunc("/webhook", h.withMetrics("/webhook", h.handleWebhook))

	// Media streams are hijacked, so they bypass the metrics wrapper
	mux.HandleFunc("/media-stream/{id}", h.handleMediaStream)

	// Health check endpoint
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Call monitoring endpoints
	mux.HandleFunc("/calls", h.withMetrics("/calls", h.handleCalls))
	mux.HandleFunc("/calls/{id}", h.withMetrics("/calls/{id}", h.handleCallDetail))

	// Configuration endpoint
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Statistics endpoint
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	if h.config.Metrics.Enabled {
		mux.Handle(h.config.Metrics.Path, promhttp.Handler())
	}

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		// Call the original handler
		handler(ww, r)

		// Record metrics
		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		// Record error if status code indicates an error
		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server. Hijacked media streams are not
// covered; they end with their calls.
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP server...")

	return h.server.Shutdown(ctx)
}

// handleWebhook answers an incoming call with the document that connects
// it to the media stream endpoint
func (h *HTTPServer) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// The provider only understands call-control documents, so failures
	// are answered with an apology instead of an HTTP error
	w.Header().Set("Content-Type", "application/xml")

	if err := r.ParseForm(); err != nil {
		h.logger.Warn("Failed to parse webhook form", slog.String("error", err.Error()))
		w.Write(protocol.ErrorXML(""))
		return
	}

	info := call.CallInfo{
		CallID: r.FormValue("CallUUID"),
		From:   r.FormValue("From"),
		To:     r.FormValue("To"),
	}
	if info.CallID == "" {
		h.logger.Warn("Webhook without call uuid",
			slog.String("from", info.From),
			slog.String("to", info.To))
		w.Write(protocol.ErrorXML(""))
		return
	}

	if _, err := h.calls.Accept(r.Context(), info); err != nil {
		h.logger.Error("Failed to accept call",
			slog.String("call_id", info.CallID),
			slog.String("error", err.Error()))
		w.Write(protocol.ErrorXML(""))
		return
	}

	streamURL := protocol.StreamURL(h.config.Telephony.StreamBaseURL, r.Host, info.CallID)
	doc, err := protocol.AnswerXML(streamURL, h.config.Telephony.StreamTimeout)
	if err != nil {
		h.logger.Error("Failed to build answer document",
			slog.String("call_id", info.CallID),
			slog.String("error", err.Error()))
		w.Write(protocol.ErrorXML(""))
		return
	}

	h.logger.Debug("Answered call",
		slog.String("call_id", info.CallID),
		slog.String("stream_url", streamURL))
	w.Write(doc)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)
	callStats := h.calls.GetStats()

	components := map[string]interface{}{
		"call_manager": map[string]interface{}{
			"status":       "running",
			"active_calls": callStats.Active,
		},
		"media_streams": map[string]interface{}{
			"status": "running",
			"open":   h.openStreams(),
		},
	}
	if h.pipeline != nil {
		pipelineStats := h.pipeline.GetStats()
		components["pipeline"] = map[string]interface{}{
			"status":    "running",
			"in_flight": pipelineStats.InFlight,
			"failed":    pipelineStats.Failed,
		}
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    "inspection-voice-bot",
			"version": "1.0.0",
		},
		"components": components,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// handleCalls implements the /calls endpoint
func (h *HTTPServer) handleCalls(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	calls := h.calls.List()

	response := map[string]interface{}{
		"total_calls": len(calls),
		"timestamp":   time.Now().UTC(),
		"calls":       calls,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleCallDetail implements the /calls/{id} endpoint
func (h *HTTPServer) handleCallDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	callID := r.PathValue("id")
	if callID == "" {
		http.Error(w, "Call ID required", http.StatusBadRequest)
		return
	}

	session, exists := h.calls.Get(callID)
	if !exists {
		http.Error(w, "Call not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(session.Info())
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	c := h.config

	// Return sanitized configuration; credentials are never included
	sanitizedConfig := map[string]interface{}{
		"server": map[string]interface{}{
			"port":          c.Server.Port,
			"address":       c.Server.Address,
			"read_timeout":  c.Server.ReadTimeout,
			"write_timeout": c.Server.WriteTimeout,
		},
		"telephony": map[string]interface{}{
			"api_base_url":      c.Telephony.APIBaseURL,
			"stream_base_url":   c.Telephony.StreamBaseURL,
			"stream_timeout":    c.Telephony.StreamTimeout,
			"whatsapp_sender":   c.Telephony.WhatsAppSender,
			"template_name":     c.Telephony.TemplateName,
			"template_language": c.Telephony.TemplateLanguage,
			"portal_url":        c.Telephony.PortalURL,
		},
		"realtime": map[string]interface{}{
			"url":                 c.Realtime.URL,
			"model":               c.Realtime.Model,
			"voice":               c.Realtime.Voice,
			"transcription_model": c.Realtime.TranscriptionModel,
			"temperature":         c.Realtime.Temperature,
		},
		"assistant": map[string]interface{}{
			"brand": c.Assistant.Brand,
		},
		"session": map[string]interface{}{
			"role_prompt_limit": c.Session.RolePromptLimit,
			"identify_timeout":  c.Session.IdentifyTimeout,
			"max_call_duration": c.Session.MaxCallDuration,
			"ring_timeout":      c.Session.RingTimeout,
			"tool_timeout":      c.Session.ToolTimeout,
			"max_pending_tools": c.Session.MaxPendingTools,
			"enabled_tools":     c.Session.EnabledTools,
		},
		"audio": map[string]interface{}{
			"sample_rate":     c.Audio.SampleRate,
			"jitter_depth":    c.Audio.JitterDepth,
			"buffer_capacity": c.Audio.BufferCapacity,
			"barge_in":        c.Audio.BargeIn,
		},
		"search": map[string]interface{}{
			"qdrant_url": c.Search.QdrantURL,
			"collection": c.Search.Collection,
			"top_k":      c.Search.TopK,
		},
		"calendar": map[string]interface{}{
			"calendar_id":   c.Calendar.CalendarID,
			"timezone":      c.Calendar.Timezone,
			"slot_minutes":  c.Calendar.SlotMinutes,
			"auto_book":     c.Calendar.AutoBook,
			"default_email": c.Calendar.DefaultEmail,
		},
		"storage": map[string]interface{}{
			"backend": c.Storage.Backend,
			"bucket":  c.Storage.Bucket,
			"prefix":  c.Storage.Prefix,
		},
		"pipeline": map[string]interface{}{
			"workers":        c.Pipeline.Workers,
			"timeout":        c.Pipeline.Timeout,
			"max_retries":    c.Pipeline.MaxRetries,
			"ledger_backend": c.Pipeline.Ledger.Backend,
		},
		"logging": map[string]interface{}{
			"level":  c.Logging.Level,
			"format": c.Logging.Format,
			"output": c.Logging.Output,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]interface{}{
		"uptime":        time.Since(h.startTime).String(),
		"timestamp":     time.Now().UTC(),
		"calls":         h.calls.GetStats(),
		"media_streams": map[string]interface{}{"open": h.openStreams()},
	}
	if h.pipeline != nil {
		stats["pipeline"] = h.pipeline.GetStats()
	}
	if h.plivo != nil {
		stats["plivo"] = h.plivo.GetStats()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Inspection Voice Bot",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":                  "API documentation",
			"GET|POST /webhook":      "Answer an incoming call",
			"GET /media-stream/{id}": "Media stream websocket for a call",
			"GET /health":            "Service health check",
			"GET /calls":             "List live calls",
			"GET /calls/{id}":        "Get detailed call information",
			"GET /config":            "Get service configuration",
			"GET /stats":             "Get service statistics",
			"GET /metrics":           "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiDoc)
}
