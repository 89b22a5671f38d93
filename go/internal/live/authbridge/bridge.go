// Package authbridge exchanges credentials or a refresh grant for a session
// cookie, wraps REST calls with a refresh-then-retry-once policy, and gates
// reauthentication after push channel failures.
package authbridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/livecontrol/go/clients"
	"github.com/mcdev12/livecontrol/go/clients/livecontrol_client"
	"github.com/mcdev12/livecontrol/go/internal/live/command"
	"github.com/mcdev12/livecontrol/go/internal/live/snapshot"
)

var (
	// ErrAuthenticationFailed is terminal: the session could not be renewed.
	ErrAuthenticationFailed = errors.New("failed to authenticate")
	ErrInvalidCredentials   = errors.New("invalid credentials")
)

// Bridge owns the session for one page. Its FetchState and Dispatch methods
// satisfy the reconciler's fetcher and the entity dispatcher.
type Bridge struct {
	client *livecontrol_client.LiveControlClient
	guard  *Guard
}

func New(client *livecontrol_client.LiveControlClient) *Bridge {
	return &Bridge{
		client: client,
		guard:  NewGuard(),
	}
}

// Client returns the underlying REST client.
func (b *Bridge) Client() *livecontrol_client.LiveControlClient {
	return b.client
}

// Guard returns the reauthentication gate.
func (b *Bridge) Guard() *Guard {
	return b.guard
}

// Login submits credentials with grant_type=password. On success the
// server has set the session cookies in the client's jar.
func (b *Bridge) Login(ctx context.Context, username, password string) error {
	if _, err := b.client.PasswordGrant(ctx, username, password); err != nil {
		if clients.IsStatus(err, http.StatusUnauthorized) {
			return fmt.Errorf("login %s: %w", username, ErrInvalidCredentials)
		}
		return fmt.Errorf("login %s: %w", username, err)
	}
	log.Info().Str("username", username).Msg("logged in")
	return nil
}

// LegacyLogin uses the /login endpoint and stores the returned access
// token as the Authorization cookie.
func (b *Bridge) LegacyLogin(ctx context.Context, username, password string) error {
	if _, err := b.client.LegacyLogin(ctx, username, password); err != nil {
		if clients.IsStatus(err, http.StatusUnauthorized) {
			return fmt.Errorf("login %s: %w", username, ErrInvalidCredentials)
		}
		return fmt.Errorf("login %s: %w", username, err)
	}
	log.Info().Str("username", username).Msg("logged in (legacy)")
	return nil
}

// Refresh renews the session from the refresh cookie.
func (b *Bridge) Refresh(ctx context.Context) error {
	if _, err := b.client.RefreshGrant(ctx); err != nil {
		log.Warn().Err(err).Msg("token refresh failed")
		return fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	log.Debug().Msg("session refreshed")
	return nil
}

// Logout ends the server session.
func (b *Bridge) Logout(ctx context.Context) error {
	if err := b.client.Logout(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// Do runs call; if it is answered with 401 the session is refreshed once and
// call is retried once. A failed refresh yields ErrAuthenticationFailed.
func (b *Bridge) Do(ctx context.Context, call func(ctx context.Context) error) error {
	err := call(ctx)
	if err == nil || !clients.IsStatus(err, http.StatusUnauthorized) {
		return err
	}
	if err := b.Refresh(ctx); err != nil {
		return err
	}
	return call(ctx)
}

// FetchState fetches the snapshot through Do.
func (b *Bridge) FetchState(ctx context.Context) (snapshot.Snapshot, error) {
	var s snapshot.Snapshot
	err := b.Do(ctx, func(ctx context.Context) error {
		var err error
		s, err = b.client.FetchState(ctx)
		return err
	})
	return s, err
}

// Dispatch sends a command through Do.
func (b *Bridge) Dispatch(ctx context.Context, t command.Type, uid, content string) error {
	return b.Do(ctx, func(ctx context.Context) error {
		return b.client.Dispatch(ctx, t, uid, content)
	})
}

// Reauthenticate makes at most one refresh-and-reconnect attempt per
// disconnect episode. It reports whether an attempt was made.
func (b *Bridge) Reauthenticate(ctx context.Context, reconnect func(ctx context.Context) error) (bool, error) {
	if !b.guard.Begin() {
		log.Debug().Str("state", b.guard.State().String()).Msg("reauthentication skipped")
		return false, nil
	}

	if err := b.Refresh(ctx); err != nil {
		b.guard.Failed()
		return true, err
	}
	if err := reconnect(ctx); err != nil {
		b.guard.Failed()
		return true, fmt.Errorf("reconnect after refresh: %w", err)
	}

	b.guard.Succeeded()
	log.Info().Msg("reauthenticated and reconnected")
	return true, nil
}
