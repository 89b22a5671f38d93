package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/livecontrol/go/internal/auth"
	"github.com/mcdev12/livecontrol/go/internal/live/command"
	"github.com/mcdev12/livecontrol/go/internal/live/hub"
	"github.com/mcdev12/livecontrol/go/internal/session"
	"github.com/mcdev12/livecontrol/go/internal/telemetry"
)

var errUnauthorized = errors.New("unauthorized")

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"code":  code,
		"error": message,
	})
}

// respondError maps err to a status code and writes it.
func respondError(w http.ResponseWriter, err error) {
	status, code, message := mapError(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
		telemetry.CaptureError(err)
	}
	writeError(w, status, code, message)
}

func mapError(err error) (status int, code, message string) {
	switch {
	case errors.Is(err, hub.ErrUnknownEntity):
		return http.StatusNotFound, "UNKNOWN_ENTITY", "Unknown entity"
	case errors.Is(err, command.ErrUnknownType):
		return http.StatusBadRequest, "UNKNOWN_COMMAND", "Unknown command"
	case errors.Is(err, command.ErrMissingEntity):
		return http.StatusBadRequest, "MISSING_UID", "Command requires a uid"
	case errors.Is(err, errUnauthorized),
		errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, session.ErrNotFound):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized"
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error"
}
