package gateway

import (
	"net/http"

	"github.com/rs/zerolog/log"
)

func (s *Service) registerWebSocketRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/live", s.handleViewerConnection)
	mux.HandleFunc("GET /client", s.handleViewerConnection)
	mux.HandleFunc("GET /controller", s.requireAPI(s.handleControllerConnection))
}

// handleViewerConnection accepts an anonymous viewer; every connection is a
// new entity.
func (s *Service) handleViewerConnection(w http.ResponseWriter, r *http.Request) {
	if err := s.hub.ServeViewer(w, r); err != nil {
		// the upgrader has already written the error response
		log.Error().
			Err(err).
			Str("remote_addr", r.RemoteAddr).
			Msg("failed to upgrade viewer connection")
	}
}

// handleControllerConnection accepts an authenticated admin notification
// socket.
func (s *Service) handleControllerConnection(w http.ResponseWriter, r *http.Request) {
	if err := s.hub.ServeController(w, r); err != nil {
		log.Error().
			Err(err).
			Str("remote_addr", r.RemoteAddr).
			Msg("failed to upgrade controller connection")
	}
}
