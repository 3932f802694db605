package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/call"
	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/protocol"
)

// handleMediaStream upgrades the telephony media stream of a call and
// serves it until the call ends
func (h *HTTPServer) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	callID := r.PathValue("id")
	if callID == "" {
		http.Error(w, "Call ID required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the request
		h.logger.Warn("Failed to upgrade media stream",
			slog.String("call_id", callID),
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()))
		return
	}

	stream := protocol.NewStream(conn, h.config.Realtime.GetWriteTimeout())
	defer stream.Close()

	h.trackStream(1)
	defer h.trackStream(-1)

	h.logger.Info("Media stream connected",
		slog.String("call_id", callID),
		slog.String("remote_addr", r.RemoteAddr))

	err = h.calls.Attach(r.Context(), callID, stream)
	switch {
	case err == nil:
		h.logger.Info("Media stream finished", slog.String("call_id", callID))
	case errors.Is(err, call.ErrStreamAttached), errors.Is(err, call.ErrSessionClosed), errors.Is(err, call.ErrManagerStopped):
		h.logger.Warn("Media stream rejected",
			slog.String("call_id", callID),
			slog.String("error", err.Error()))
	default:
		h.logger.Error("Media stream ended with error",
			slog.String("call_id", callID),
			slog.String("error", err.Error()))
	}
}

func (h *HTTPServer) trackStream(delta int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.streams += delta
}

func (h *HTTPServer) openStreams() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.streams
}
