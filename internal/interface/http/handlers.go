package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/alem-hub/daily-lessons/internal/interface/http/handlers"
	"github.com/alem-hub/daily-lessons/pkg/logger"
)

// RootMessage is the plain-text answer of GET /.
const RootMessage = "Бот работает!"

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot answers with a plain liveness message.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, RootMessage)
}

// handleHealth is the liveness check; it never touches dependencies.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"uptime":  s.Uptime().Round(1e9).String(),
		"version": s.config.Version,
	})
}

// handleReady runs the registered checks (store and cache pings).
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := s.deps.HealthChecker.Check(r.Context())
	status.Version = s.config.Version
	if !status.Ready {
		writeJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleJobs lists the scheduled jobs with their last and next run.
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Jobs.Jobs())
}

// ══════════════════════════════════════════════════════════════════════════════
// WEBHOOK HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleTelegramWebhook accepts one Telegram update. Telegram only needs a
// 2xx to stop redelivering; processing happens behind the WebhookHandler.
func (s *Server) handleTelegramWebhook(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "Update is too large")
			return
		}
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Failed to read body")
		return
	}

	if err := s.deps.WebhookHandler.HandleTelegramUpdate(r.Context(), payload); err != nil {
		if errors.Is(err, handlers.ErrInvalidUpdate) {
			log.Warn("rejected webhook payload", logger.Err(err))
			writeJSONError(w, http.StatusBadRequest, "invalid_update", "Malformed update")
			return
		}
		log.Error("webhook handling failed", logger.Err(err))
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to handle update")
		return
	}

	writeJSON(w, http.StatusOK, nil)
}
