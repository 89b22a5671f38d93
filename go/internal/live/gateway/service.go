// Package gateway exposes the hub over HTTP: the REST API, the viewer and
// controller websockets, the token endpoints and the static pages.
package gateway

import (
	"errors"
	"net/http"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/livecontrol/go/internal/auth"
	"github.com/mcdev12/livecontrol/go/internal/live/hub"
	"github.com/mcdev12/livecontrol/go/internal/requestlog"
	"github.com/mcdev12/livecontrol/go/internal/session"
	"github.com/mcdev12/livecontrol/go/internal/telemetry"
)

// Config holds configuration for the gateway service
type Config struct {
	// PublicDir is served at the root; AdminDir at /admin behind auth.
	// Either may be empty.
	PublicDir string
	AdminDir  string

	// SecureCookies marks auth cookies Secure. Only disable it for plain
	// http deployments and tests.
	SecureCookies bool
	// AllowedOrigins lists the cross-origin callers allowed to use
	// credentials; "*" allows any. Empty means same-origin only.
	AllowedOrigins []string
}

// DefaultConfig returns default configuration for the gateway
func DefaultConfig() Config {
	return Config{
		SecureCookies: true,
	}
}

// Service is the HTTP front of the hub.
type Service struct {
	config   Config
	hub      *hub.Hub
	issuer   *auth.Issuer
	admin    auth.Credentials
	sessions session.Store
	requests *requestlog.Logger
}

// Option configures optional service dependencies
type Option func(*Service)

// WithRequestLog records every request to l.
func WithRequestLog(l *requestlog.Logger) Option {
	return func(s *Service) { s.requests = l }
}

// NewService creates a gateway over h.
func NewService(config Config, h *hub.Hub, issuer *auth.Issuer, admin auth.Credentials, sessions session.Store, opts ...Option) (*Service, error) {
	if h == nil || issuer == nil {
		return nil, errors.New("gateway requires a hub and a token issuer")
	}
	if sessions == nil {
		sessions = session.NewMemoryStore()
	}
	s := &Service{
		config:   config,
		hub:      h,
		issuer:   issuer,
		admin:    admin,
		sessions: sessions,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RegisterRoutes registers every gateway route on mux.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.registerAuthRoutes(mux)
	s.registerStateRoutes(mux)
	s.registerWebSocketRoutes(mux)
	s.registerStaticRoutes(mux)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})
	log.Info().Msg("gateway routes registered")
}

// Handler returns the full middleware chain around a fresh mux: CORS, the
// request log, then panic recovery.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	var handler http.Handler = telemetry.Recover(mux)
	if s.requests != nil {
		handler = s.requests.Middleware(handler)
	}

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowOriginFunc: func(origin string) bool {
			return hub.OriginAllowed(s.config.AllowedOrigins, origin)
		},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(handler)
}

// Stats returns the hub counters.
func (s *Service) Stats() hub.Stats {
	return s.hub.Stats()
}

// Stop closes every socket held by the hub.
func (s *Service) Stop() {
	s.hub.Close()
	log.Info().Msg("gateway stopped")
}
