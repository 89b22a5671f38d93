package livecontrol_client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/livecontrol/go/clients"
	"github.com/mcdev12/livecontrol/go/internal/live/command"
	"github.com/mcdev12/livecontrol/go/internal/live/snapshot"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *LiveControlClient {
	t.Helper()
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	c, err := NewLiveControlClient(ts.URL)
	require.NoError(t, err)
	return c
}

func TestFetchState(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+StateEndpoint, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"a":[false,"hi"],"b":[true,"there"]}`)
	})
	c := newTestClient(t, mux)

	s, err := c.FetchState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, snapshot.Snapshot{
		"a": {Active: false, Content: "hi"},
		"b": {Active: true, Content: "there"},
	}, s)
}

func TestFetchStateNullBody(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+StateEndpoint, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `null`)
	})
	c := newTestClient(t, mux)

	s, err := c.FetchState(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, s)
	assert.Empty(t, s)
}

func TestDispatch(t *testing.T) {
	var got command.Request
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+DispatchEndpoint, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	})
	c := newTestClient(t, mux)

	require.NoError(t, c.Dispatch(context.Background(), command.TypeUpdate, "a", "new text"))
	assert.Equal(t, command.Request{Command: command.TypeUpdate, UID: "a", Content: "new text"}, got)
}

func TestDispatchStatusError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+DispatchEndpoint, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown entity", http.StatusNotFound)
	})
	c := newTestClient(t, mux)

	err := c.Dispatch(context.Background(), command.TypeActivate, "missing", "")
	require.Error(t, err)
	assert.True(t, clients.IsStatus(err, http.StatusNotFound))

	var se *clients.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "unknown entity", se.Body)
}

func TestPasswordGrantStoresCookies(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+TokenEndpoint, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, GrantPassword, r.PostForm.Get("grant_type"))
		assert.Equal(t, ResponseTypeCookie, r.PostForm.Get("response_type"))
		if r.PostForm.Get("password") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: AuthCookie, Value: "access", Path: "/"})
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"access_token":"access","refresh_token":"refresh","token_type":"bearer"}`)
	})
	c := newTestClient(t, mux)

	_, err := c.PasswordGrant(context.Background(), "admin", "wrong")
	assert.True(t, clients.IsStatus(err, http.StatusUnauthorized))

	tr, err := c.PasswordGrant(context.Background(), "admin", "secret")
	require.NoError(t, err)
	assert.Equal(t, "refresh", tr.RefreshToken)

	ck, ok := c.Cookie(AuthCookie)
	require.True(t, ok)
	assert.Equal(t, "access", ck.Value)
}

func TestRefreshGrant(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+TokenEndpoint, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, GrantRefreshToken, r.PostForm.Get("grant_type"))
		assert.Empty(t, r.PostForm.Get("password"))
		w.WriteHeader(http.StatusOK)
	})
	c := newTestClient(t, mux)

	tr, err := c.RefreshGrant(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tr.AccessToken)
}

func TestLegacyLoginSetsCookie(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+LoginEndpoint, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"access_token":"legacy-token","token_type":"bearer"}`)
	})
	mux.HandleFunc("GET "+StateEndpoint, func(w http.ResponseWriter, r *http.Request) {
		ck, err := r.Cookie(AuthCookie)
		if err != nil || ck.Value != "legacy-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		io.WriteString(w, `{}`)
	})
	c := newTestClient(t, mux)

	token, err := c.LegacyLogin(context.Background(), "admin", "secret")
	require.NoError(t, err)
	assert.Equal(t, "legacy-token", token)

	_, err = c.FetchState(context.Background())
	assert.NoError(t, err)
}

func TestLogout(t *testing.T) {
	called := false
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+LogoutEndpoint, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})
	c := newTestClient(t, mux)

	require.NoError(t, c.Logout(context.Background()))
	assert.True(t, called)
}

func TestNewLiveControlClientRejectsScheme(t *testing.T) {
	_, err := NewLiveControlClient("ws://example.com")
	assert.Error(t, err)
}

func TestHeadersAndTimeout(t *testing.T) {
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+StateEndpoint, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "livecontrol/test", r.Header.Get("User-Agent"))
		if r.URL.Query().Get("slow") != "" {
			<-release
		}
		io.WriteString(w, `{}`)
	})
	c := newTestClient(t, mux)
	defer close(release)
	c.SetHeader("User-Agent", "livecontrol/test")

	_, err := c.FetchState(context.Background())
	require.NoError(t, err)

	c.SetTimeout(50 * time.Millisecond)
	_, err = c.Get(context.Background(), StateEndpoint+"?slow=1")
	require.Error(t, err)
	assert.False(t, clients.IsStatus(err, http.StatusOK))
}
