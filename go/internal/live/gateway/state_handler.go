package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/livecontrol/go/internal/live/command"
)

func (s *Service) registerStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/state", s.requireAPI(s.handleGetState))
	mux.HandleFunc("POST /api/dispatch", s.requireAPI(s.handleDispatch))
	mux.HandleFunc("GET /api/stats", s.requireAPI(s.handleStats))
}

// handleGetState handles GET /api/state
func (s *Service) handleGetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.hub.Snapshot())
}

// handleDispatch handles POST /api/dispatch
func (s *Service) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req command.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Invalid JSON body")
		return
	}

	log.Info().
		Str("command", string(req.Command)).
		Str("uid", req.UID).
		Msg("dispatching command")

	if err := s.hub.Dispatch(r.Context(), req); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStats handles GET /api/stats
func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.hub.Stats())
}
