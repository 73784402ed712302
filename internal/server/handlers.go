package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/crowdthink/brainstorm/internal/domain"
	"github.com/crowdthink/brainstorm/internal/orchestrator"
	"github.com/crowdthink/brainstorm/internal/session"
	"github.com/crowdthink/brainstorm/internal/storage"
	"github.com/crowdthink/brainstorm/internal/stream"
)

type handlers struct {
	engine *orchestrator.Engine
	hub    *stream.Hub
	logger *slog.Logger
}

type createSessionRequest struct {
	Topic        string                        `json:"topic"`
	Description  string                        `json:"description,omitempty"`
	Participants map[string]domain.Participant `json:"participants"`
	Order        []string                      `json:"order"`
	Settings     domain.Settings               `json:"settings"`
}

type submitMessageRequest struct {
	Content     string              `json:"content"`
	Attachments []domain.Attachment `json:"attachments,omitempty"`
}

type errorResponse struct {
	Error *domain.EngineError `json:"error"`
}

var errEmptyContent = errors.New("message content is required")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps engine errors to their HTTP status; anything else is a
// plain 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	AddError(r.Context(), err)
	engErr := domain.AsEngineError(err)
	writeJSON(w, engErr.HTTPStatusCode(), errorResponse{Error: engErr})
}

func writeBadRequest(w http.ResponseWriter, r *http.Request, err error) {
	AddError(r.Context(), err)
	writeJSON(w, http.StatusBadRequest, errorResponse{
		Error: &domain.EngineError{Kind: domain.ErrorKindServer, Message: err.Error()},
	})
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, r, err)
		return
	}

	sess, err := h.engine.CreateSession(r.Context(), session.NewParams{
		Principal:    GetPrincipal(r.Context()),
		Topic:        req.Topic,
		Description:  req.Description,
		Participants: req.Participants,
		Order:        req.Order,
		Settings:     req.Settings,
	})
	if err != nil {
		if _, ok := err.(*domain.EngineError); ok {
			writeError(w, r, err)
		} else {
			writeBadRequest(w, r, err)
		}
		return
	}

	AddLogField(r.Context(), "session_id", sess.ID)
	writeJSON(w, http.StatusCreated, sess)
}

func (h *handlers) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.engine.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *handlers) listSessions(w http.ResponseWriter, r *http.Request) {
	opts := storage.ListOptions{Principal: GetPrincipal(r.Context())}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Offset = n
		}
	}

	sessions, err := h.engine.ListSessions(r.Context(), opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []*domain.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (h *handlers) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeleteSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// submitMessage appends the user entry and schedules a round. 202 signals
// that generation continues asynchronously on the stream.
func (h *handlers) submitMessage(w http.ResponseWriter, r *http.Request) {
	var req submitMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, r, err)
		return
	}
	if req.Content == "" {
		writeBadRequest(w, r, errEmptyContent)
		return
	}

	sess, err := h.engine.SubmitUserMessage(r.Context(), chi.URLParam(r, "sessionID"), req.Content, req.Attachments)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sess)
}

func (h *handlers) continueDiscussion(w http.ResponseWriter, r *http.Request) {
	sess, err := h.engine.ContinueDiscussion(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sess)
}

func (h *handlers) pause(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.engine.Pause)
}

func (h *handlers) resume(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.engine.Resume)
}

func (h *handlers) stop(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.engine.Stop)
}

func (h *handlers) retry(w http.ResponseWriter, r *http.Request) {
	sess, err := h.engine.Retry(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sess)
}

func (h *handlers) transition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id string) (*domain.Session, error)) {
	sess, err := op(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}
