package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mcdev12/livecontrol/go/internal/config"
)

func setupServer(c *config.Config, services *Services) *http.Server {
	// Serve cleartext HTTP/2 alongside HTTP/1.1; websocket upgrades stay on
	// HTTP/1.1.
	return &http.Server{
		Addr:    c.Server.Addr,
		Handler: h2c.NewHandler(services.Gateway.Handler(), &http2.Server{}),
	}
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the control server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			services, err := setupServices(cfg)
			if err != nil {
				return err
			}
			defer services.Close()

			return runServer(cmd.Context(), setupServer(cfg, services), services, cfg.Server.ShutdownTimeout.Duration)
		},
	}
}

// runServer serves until ctx is done, then shuts down gracefully.
func runServer(ctx context.Context, server *http.Server, services *Services, timeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// hijacked websockets are not tracked by Shutdown
	services.Gateway.Stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}
