package authbridge

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/livecontrol/go/clients/livecontrol_client"
	"github.com/mcdev12/livecontrol/go/internal/live/command"
)

// fakeServer hands out a cookie session and expires it on demand.
type fakeServer struct {
	mu           sync.Mutex
	session      string
	refreshOK    bool
	stateCalls   atomic.Int32
	refreshCalls atomic.Int32
	dispatched   []string
}

func (f *fakeServer) authorized(r *http.Request) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	ck, err := r.Cookie(livecontrol_client.AuthCookie)
	return err == nil && f.session != "" && ck.Value == f.session
}

func (f *fakeServer) expire() {
	f.mu.Lock()
	f.session = "rotated"
	f.mu.Unlock()
}

func (f *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+livecontrol_client.TokenEndpoint, func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		f.mu.Lock()
		defer f.mu.Unlock()
		switch r.PostForm.Get("grant_type") {
		case livecontrol_client.GrantPassword:
			if r.PostForm.Get("password") != "secret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			f.session = "s1"
		case livecontrol_client.GrantRefreshToken:
			f.refreshCalls.Add(1)
			if !f.refreshOK {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			f.session = "s2"
		}
		http.SetCookie(w, &http.Cookie{Name: livecontrol_client.AuthCookie, Value: f.session, Path: "/"})
		io.WriteString(w, `{"token_type":"bearer"}`)
	})
	mux.HandleFunc("GET "+livecontrol_client.StateEndpoint, func(w http.ResponseWriter, r *http.Request) {
		f.stateCalls.Add(1)
		if !f.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		io.WriteString(w, `{"a":[false,"hi"]}`)
	})
	mux.HandleFunc("POST "+livecontrol_client.DispatchEndpoint, func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.dispatched = append(f.dispatched, string(body))
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func newBridge(t *testing.T, f *fakeServer) *Bridge {
	t.Helper()
	ts := httptest.NewServer(f.handler())
	t.Cleanup(ts.Close)
	c, err := livecontrol_client.NewLiveControlClient(ts.URL)
	require.NoError(t, err)
	return New(c)
}

func TestLogin(t *testing.T) {
	f := &fakeServer{}
	b := newBridge(t, f)

	err := b.Login(context.Background(), "admin", "nope")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	require.NoError(t, b.Login(context.Background(), "admin", "secret"))
	s, err := b.FetchState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, s.UIDs())
	assert.Equal(t, int32(0), f.refreshCalls.Load())
}

func TestDoRefreshesOnceOn401(t *testing.T) {
	f := &fakeServer{refreshOK: true}
	b := newBridge(t, f)
	require.NoError(t, b.Login(context.Background(), "admin", "secret"))

	f.expire()
	_, err := b.FetchState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.refreshCalls.Load())
	assert.Equal(t, int32(2), f.stateCalls.Load())
}

func TestDoRefreshFailureIsTerminal(t *testing.T) {
	f := &fakeServer{refreshOK: false}
	b := newBridge(t, f)
	require.NoError(t, b.Login(context.Background(), "admin", "secret"))

	f.expire()
	err := b.Dispatch(context.Background(), command.TypeActivate, "a", "")
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.Equal(t, "failed to authenticate", ErrAuthenticationFailed.Error())
	assert.Equal(t, int32(1), f.refreshCalls.Load())
	assert.Empty(t, f.dispatched)
}

func TestDoRetriesOnlyOnce(t *testing.T) {
	f := &fakeServer{refreshOK: true}
	b := newBridge(t, f)

	// The session is revoked before every call, so the retry is answered
	// with 401 as well and must not trigger another refresh.
	calls := 0
	err := b.Do(context.Background(), func(ctx context.Context) error {
		calls++
		f.mu.Lock()
		f.session = ""
		f.mu.Unlock()
		return b.client.Dispatch(ctx, command.TypeDeactivate, "a", "")
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, int32(1), f.refreshCalls.Load())
}

func TestDoPassesThroughOtherErrors(t *testing.T) {
	f := &fakeServer{}
	b := newBridge(t, f)

	boom := errors.New("boom")
	err := b.Do(context.Background(), func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(0), f.refreshCalls.Load())
}

func TestReauthenticateOncePerEpisode(t *testing.T) {
	f := &fakeServer{refreshOK: true}
	b := newBridge(t, f)

	reconnects := 0
	failing := func(ctx context.Context) error {
		reconnects++
		return errors.New("socket refused")
	}

	attempted, err := b.Reauthenticate(context.Background(), failing)
	assert.True(t, attempted)
	assert.Error(t, err)
	assert.Equal(t, ReauthGivenUp, b.Guard().State())

	// A second error before any successful reconnect is not retried.
	attempted, err = b.Reauthenticate(context.Background(), failing)
	assert.False(t, attempted)
	assert.NoError(t, err)
	assert.Equal(t, 1, reconnects)
	assert.Equal(t, int32(1), f.refreshCalls.Load())
}

func TestReauthenticateResetsAfterSuccess(t *testing.T) {
	f := &fakeServer{refreshOK: true}
	b := newBridge(t, f)

	ok := func(ctx context.Context) error { return nil }
	for i := 0; i < 3; i++ {
		attempted, err := b.Reauthenticate(context.Background(), ok)
		require.NoError(t, err)
		assert.True(t, attempted)
		assert.Equal(t, ReauthIdle, b.Guard().State())
	}
	assert.Equal(t, int32(3), f.refreshCalls.Load())
}

func TestReauthenticateRefreshFailure(t *testing.T) {
	f := &fakeServer{refreshOK: false}
	b := newBridge(t, f)

	called := false
	attempted, err := b.Reauthenticate(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.True(t, attempted)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.False(t, called)
	assert.Equal(t, ReauthGivenUp, b.Guard().State())
}

func TestGuardTransitions(t *testing.T) {
	g := NewGuard()
	assert.Equal(t, ReauthIdle, g.State())

	assert.True(t, g.Begin())
	assert.False(t, g.Begin(), "attempt already running")
	assert.Equal(t, ReauthRetrying, g.State())

	g.Failed()
	assert.False(t, g.Begin())
	assert.Equal(t, "given-up", g.State().String())

	g.Reset()
	assert.True(t, g.Begin())
	g.Succeeded()
	assert.Equal(t, ReauthIdle, g.State())
}
