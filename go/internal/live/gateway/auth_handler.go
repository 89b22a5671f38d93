package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/livecontrol/go/internal/auth"
	"github.com/mcdev12/livecontrol/go/internal/session"
)

const (
	authCookie        = "Authorization"
	refreshCookie     = "RefreshAuthorization"
	refreshCookiePath = "/auth"

	grantPassword     = "password"
	grantRefreshToken = "refresh_token"

	loginPage = "/login"
)

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
}

func (s *Service) registerAuthRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/token", s.handleToken)
	mux.HandleFunc("POST /auth/logout", s.handleLogout)
	mux.HandleFunc("POST /login", s.handleLegacyLogin)
}

// handleToken handles POST /auth/token for the password and refresh_token
// grants. Both set the Authorization and RefreshAuthorization cookies.
func (s *Service) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_FORM", "Invalid form body")
		return
	}

	var subject string
	switch r.PostForm.Get("grant_type") {
	case grantPassword:
		username := r.PostForm.Get("username")
		if err := s.admin.Check(username, r.PostForm.Get("password")); err != nil {
			log.Info().Str("username", username).Msg("password grant rejected")
			respondError(w, err)
			return
		}
		subject = username

	case grantRefreshToken:
		claims, err := s.consumeRefresh(r.Context(), refreshTokenFrom(r))
		if err != nil {
			log.Info().Err(err).Msg("refresh grant rejected")
			respondError(w, err)
			return
		}
		subject = claims.Subject

	default:
		respondError(w, errUnauthorized)
		return
	}

	access, refresh, err := s.issueSession(r.Context(), subject)
	if err != nil {
		respondError(w, err)
		return
	}
	s.setCookie(w, authCookie, access.Value, "/", access.ExpiresAt)
	s.setCookie(w, refreshCookie, refresh.Value, refreshCookiePath, refresh.ExpiresAt)

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  access.Value,
		RefreshToken: refresh.Value,
		TokenType:    "bearer",
	})
}

// handleLegacyLogin handles POST /login. Only an access token is returned;
// the client stores it in the Authorization cookie itself.
func (s *Service) handleLegacyLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_FORM", "Invalid form body")
		return
	}
	if gt := r.PostForm.Get("grant_type"); gt != "" && gt != grantPassword {
		respondError(w, errUnauthorized)
		return
	}

	username := r.PostForm.Get("username")
	if err := s.admin.Check(username, r.PostForm.Get("password")); err != nil {
		log.Info().Str("username", username).Msg("login rejected")
		respondError(w, err)
		return
	}

	access, err := s.issuer.Issue(username, auth.KindAccess, []string{auth.ScopeAdmin})
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: access.Value, TokenType: "bearer"})
}

// handleLogout revokes the refresh session, if any, and expires both cookies.
func (s *Service) handleLogout(w http.ResponseWriter, r *http.Request) {
	if value := refreshTokenFrom(r); value != "" {
		if claims, err := s.issuer.Verify(value, auth.KindRefresh); err == nil {
			if err := s.sessions.Revoke(r.Context(), auth.HashToken(claims.ID)); err != nil {
				log.Error().Err(err).Msg("failed to revoke refresh session")
			}
		}
	}

	s.expireCookie(w, authCookie, "/")
	s.expireCookie(w, refreshCookie, refreshCookiePath)
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

// issueSession signs a token pair and records the refresh session.
func (s *Service) issueSession(ctx context.Context, subject string) (auth.Token, auth.Token, error) {
	scopes := []string{auth.ScopeAdmin}
	access, err := s.issuer.Issue(subject, auth.KindAccess, scopes)
	if err != nil {
		return auth.Token{}, auth.Token{}, err
	}
	refresh, err := s.issuer.Issue(subject, auth.KindRefresh, scopes)
	if err != nil {
		return auth.Token{}, auth.Token{}, err
	}

	err = s.sessions.Save(ctx, auth.HashToken(refresh.ID), session.Session{
		Subject:   subject,
		CreatedAt: time.Now(),
		ExpiresAt: refresh.ExpiresAt,
	})
	if err != nil {
		return auth.Token{}, auth.Token{}, fmt.Errorf("save refresh session: %w", err)
	}
	return access, refresh, nil
}

// consumeRefresh validates a refresh token against the session store and
// revokes it; a new pair is issued in its place.
func (s *Service) consumeRefresh(ctx context.Context, value string) (*auth.Claims, error) {
	if value == "" {
		return nil, errUnauthorized
	}
	claims, err := s.issuer.Verify(value, auth.KindRefresh)
	if err != nil {
		return nil, err
	}
	if claims.Subject != s.admin.Username {
		return nil, errUnauthorized
	}

	key := auth.HashToken(claims.ID)
	if _, err := s.sessions.Lookup(ctx, key); err != nil {
		return nil, err
	}
	if err := s.sessions.Revoke(ctx, key); err != nil {
		return nil, fmt.Errorf("revoke refresh session: %w", err)
	}
	return claims, nil
}

// authenticate accepts a Bearer header or the Authorization cookie.
func (s *Service) authenticate(r *http.Request) (*auth.Claims, error) {
	value := bearerToken(r)
	if value == "" {
		if c, err := r.Cookie(authCookie); err == nil {
			value = c.Value
		}
	}
	if value == "" {
		return nil, errUnauthorized
	}

	claims, err := s.issuer.Verify(value, auth.KindAccess)
	if err != nil {
		return nil, err
	}
	if claims.Subject != s.admin.Username || !claims.HasScope(auth.ScopeAdmin) {
		return nil, errUnauthorized
	}
	return claims, nil
}

// requireAPI answers 401 to unauthenticated requests.
func (s *Service) requireAPI(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := s.authenticate(r); err != nil {
			respondError(w, err)
			return
		}
		next(w, r)
	}
}

// requirePage redirects unauthenticated page loads to the login page.
func (s *Service) requirePage(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := s.authenticate(r); err != nil {
			log.Info().Str("path", r.URL.Path).Msg("hit without authentication")
			http.Redirect(w, r, loginPage, http.StatusTemporaryRedirect)
			return
		}
		next(w, r)
	}
}

func (s *Service) setCookie(w http.ResponseWriter, name, value, path string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Expires:  expires,
		HttpOnly: true,
		Secure:   s.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Service) expireCookie(w http.ResponseWriter, name, path string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func refreshTokenFrom(r *http.Request) string {
	if v := r.PostFormValue("refresh_token"); v != "" {
		return v
	}
	if c, err := r.Cookie(refreshCookie); err == nil {
		return c.Value
	}
	return ""
}
