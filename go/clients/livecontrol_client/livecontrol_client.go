package livecontrol_client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/mcdev12/livecontrol/go/clients"
	"github.com/mcdev12/livecontrol/go/internal/live/command"
	"github.com/mcdev12/livecontrol/go/internal/live/snapshot"
)

// TokenResponse is the JSON body returned by /auth/token and /login
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
}

// LiveControlClient performs single REST calls against the control server.
// It never retries; the auth bridge layers refresh-and-retry on top.
type LiveControlClient struct {
	*clients.BaseClient
}

func NewLiveControlClient(baseURL string) (*LiveControlClient, error) {
	base, err := clients.NewBaseClient(baseURL)
	if err != nil {
		return nil, err
	}
	return &LiveControlClient{BaseClient: base}, nil
}

// FetchState returns the current snapshot.
func (c *LiveControlClient) FetchState(ctx context.Context) (snapshot.Snapshot, error) {
	body, err := c.Get(ctx, StateEndpoint)
	if err != nil {
		return nil, err
	}
	var s snapshot.Snapshot
	if err := json.Unmarshal(body, &s); err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}
	if s == nil {
		s = snapshot.Snapshot{}
	}
	return s, nil
}

// Dispatch sends one command for uid. The response body is ignored.
func (c *LiveControlClient) Dispatch(ctx context.Context, t command.Type, uid, content string) error {
	body, err := command.Encode(t, uid, content)
	if err != nil {
		return err
	}
	_, err = c.PostRaw(ctx, DispatchEndpoint, "application/json", body)
	return err
}

// Token posts a grant to /auth/token.
func (c *LiveControlClient) Token(ctx context.Context, form url.Values) (*TokenResponse, error) {
	body, err := c.PostForm(ctx, TokenEndpoint, form)
	if err != nil {
		return nil, err
	}
	var tr TokenResponse
	if len(body) > 0 {
		if err := json.Unmarshal(body, &tr); err != nil {
			return nil, fmt.Errorf("failed to decode token response: %w", err)
		}
	}
	return &tr, nil
}

// PasswordGrant exchanges credentials for a cookie session.
func (c *LiveControlClient) PasswordGrant(ctx context.Context, username, password string) (*TokenResponse, error) {
	return c.Token(ctx, url.Values{
		"username":      {username},
		"password":      {password},
		"grant_type":    {GrantPassword},
		"response_type": {ResponseTypeCookie},
	})
}

// RefreshGrant renews the session from the refresh cookie.
func (c *LiveControlClient) RefreshGrant(ctx context.Context) (*TokenResponse, error) {
	return c.Token(ctx, url.Values{
		"grant_type":    {GrantRefreshToken},
		"response_type": {ResponseTypeCookie},
	})
}

// LegacyLogin uses the /login flow: the server returns an access token and
// the client stores it in the Authorization cookie itself.
func (c *LiveControlClient) LegacyLogin(ctx context.Context, username, password string) (string, error) {
	body, err := c.PostForm(ctx, LoginEndpoint, url.Values{
		"username":   {username},
		"password":   {password},
		"grant_type": {GrantPassword},
	})
	if err != nil {
		return "", err
	}
	var tr TokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("failed to decode login response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("login response carried no access token")
	}

	c.SetCookie(&http.Cookie{
		Name:   AuthCookie,
		Value:  tr.AccessToken,
		Path:   "/",
		MaxAge: LegacyCookieMaxAge,
		Secure: c.secureOrigin(),
	})
	return tr.AccessToken, nil
}

// Logout ends the server session.
func (c *LiveControlClient) Logout(ctx context.Context) error {
	_, err := c.PostRaw(ctx, LogoutEndpoint, "", nil)
	return err
}

func (c *LiveControlClient) secureOrigin() bool {
	u, err := url.Parse(c.BaseURL())
	return err == nil && u.Scheme == "https"
}
