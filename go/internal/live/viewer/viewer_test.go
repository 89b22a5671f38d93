package viewer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type screen struct {
	mu      sync.Mutex
	renders []string
	updated chan struct{}
}

func newScreen() *screen {
	return &screen{updated: make(chan struct{}, 32)}
}

func (s *screen) Render(content string) {
	s.mu.Lock()
	s.renders = append(s.renders, content)
	s.mu.Unlock()
	s.updated <- struct{}{}
}

func (s *screen) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.renders...)
}

func (s *screen) last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renders[len(s.renders)-1]
}

func (s *screen) waitRenders(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-s.updated:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for render %d", i+1)
		}
	}
}

func TestViewerFollowsCommands(t *testing.T) {
	step := make(chan struct{})
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, DefaultPath, r.URL.Path)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte("CONNECT"))
		conn.WriteMessage(websocket.TextMessage, []byte("UPDATE <h1>live</h1>"))
		conn.WriteMessage(websocket.TextMessage, []byte("ACTIVATE"))
		<-step
		conn.WriteMessage(websocket.TextMessage, []byte("DEACTIVATE"))
		<-step
		conn.WriteMessage(websocket.TextMessage, []byte("ACTIVATE"))
		<-step
	}))
	defer ts.Close()

	s := newScreen()
	v, err := New(Config{Origin: ts.URL, Original: "placeholder"}, s)
	require.NoError(t, err)
	require.NoError(t, v.Connect(context.Background()))

	// initial + CONNECT + UPDATE + ACTIVATE
	s.waitRenders(t, 4)
	assert.Equal(t, []string{"placeholder", "placeholder", "placeholder", "<h1>live</h1>"}, s.all())

	step <- struct{}{}
	s.waitRenders(t, 1)
	assert.Equal(t, "placeholder", s.last())

	step <- struct{}{}
	s.waitRenders(t, 1)
	assert.Equal(t, "<h1>live</h1>", s.last())

	// Server goes away: the slot falls back to the original.
	close(step)
	<-v.Closed()
	s.waitRenders(t, 1)
	assert.Equal(t, "placeholder", s.last())
	activated, _ := v.Current()
	assert.False(t, activated)
}

func TestViewerDisconnect(t *testing.T) {
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer ts.Close()

	v, err := New(Config{Origin: ts.URL, Path: "/client"}, newScreen())
	require.NoError(t, err)
	require.NoError(t, v.Connect(context.Background()))
	require.NoError(t, v.Disconnect())
	<-v.Closed()
	assert.Error(t, v.Disconnect())
}
