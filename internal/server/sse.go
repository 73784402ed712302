package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const keepAliveInterval = 15 * time.Second

// streamSession bridges the session's event feed onto an SSE response.
// Events are framed as `event: <type>` + JSON data; a comment line goes out
// periodically so idle proxies keep the connection open.
func (h *handlers) streamSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	// Reject unknown sessions before upgrading to a stream.
	if _, err := h.engine.GetSession(r.Context(), sessionID); err != nil {
		writeError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub := h.hub.Subscribe(sessionID)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()

		case event, open := <-sub.C:
			if !open {
				// dropped by the hub for falling behind
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("failed to marshal stream event",
					slog.String("session_id", sessionID), slog.Any("error", err))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}
