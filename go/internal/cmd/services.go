package main

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/livecontrol/go/internal/auth"
	"github.com/mcdev12/livecontrol/go/internal/config"
	"github.com/mcdev12/livecontrol/go/internal/live/events"
	"github.com/mcdev12/livecontrol/go/internal/live/gateway"
	"github.com/mcdev12/livecontrol/go/internal/live/hub"
	"github.com/mcdev12/livecontrol/go/internal/requestlog"
	"github.com/mcdev12/livecontrol/go/internal/session"
)

type Services struct {
	Hub      *hub.Hub
	Gateway  *gateway.Service
	Sessions session.Store
	Requests *requestlog.Logger
	NATS     *events.NATSPublisher
}

func setupServices(c *config.Config) (*Services, error) {
	// Wire up dependency injection chain
	// Stores → Publisher → Hub → Gateway
	s := &Services{}

	issuer, err := auth.NewIssuer(c.JWT.Secret, c.JWT.AccessTTL.Duration, c.JWT.RefreshTTL.Duration)
	if err != nil {
		return nil, err
	}

	if c.Redis.URL != "" {
		store, err := session.NewRedisStore(c.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect session store: %w", err)
		}
		s.Sessions = store
		log.Info().Msg("using redis session store")
	} else {
		s.Sessions = session.NewMemoryStore()
		log.Info().Msg("using in-memory session store")
	}

	s.Requests, err = setupRequestLog(c.Locations.Database)
	if err != nil {
		s.Close()
		return nil, err
	}

	publishers := events.Fanout{events.NewLogPublisher()}
	if c.NATS.URL != "" {
		natsCfg := events.DefaultNATSConfig()
		natsCfg.URL = c.NATS.URL
		if c.NATS.Subject != "" {
			natsCfg.SubjectPrefix = c.NATS.Subject
		}
		s.NATS, err = events.NewNATSPublisher(natsCfg)
		if err != nil {
			s.Close()
			return nil, err
		}
		publishers = append(publishers, s.NATS)
		log.Info().Str("subject", natsCfg.SubjectPrefix).Msg("publishing events to NATS")
	}

	hubCfg := hub.DefaultConnectionConfig()
	hubCfg.CheckOrigin = hub.OriginChecker(c.Server.AllowedOrigins)
	s.Hub = hub.New(hubCfg, publishers)

	gwCfg := gateway.DefaultConfig()
	gwCfg.PublicDir = c.Locations.Public
	gwCfg.AdminDir = c.Locations.Protected
	gwCfg.SecureCookies = !c.Server.InsecureCookies
	gwCfg.AllowedOrigins = c.Server.AllowedOrigins

	var opts []gateway.Option
	if s.Requests != nil {
		opts = append(opts, gateway.WithRequestLog(s.Requests))
	}
	admin := auth.Credentials{Username: c.Admin.Username, PasswordHash: c.Admin.PasswordHash}
	s.Gateway, err = gateway.NewService(gwCfg, s.Hub, issuer, admin, s.Sessions, opts...)
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Close releases everything setupServices opened.
func (s *Services) Close() {
	if s.Gateway != nil {
		s.Gateway.Stop()
	}
	if s.NATS != nil {
		if err := s.NATS.Close(); err != nil {
			log.Error().Err(err).Msg("failed to drain NATS connection")
		}
	}
	if s.Requests != nil {
		if err := s.Requests.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close request log")
		}
	}
	if s.Sessions != nil {
		if err := s.Sessions.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close session store")
		}
	}
}
