package hub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/livecontrol/go/internal/live/command"
	"github.com/mcdev12/livecontrol/go/internal/live/events"
	"github.com/mcdev12/livecontrol/go/internal/live/snapshot"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, ev events.Event) error {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Type
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

func newTestHub(t *testing.T) (*Hub, *recordingPublisher, string) {
	t.Helper()
	pub := &recordingPublisher{}
	h := New(DefaultConnectionConfig(), pub)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/live", func(w http.ResponseWriter, r *http.Request) {
		h.ServeViewer(w, r)
	})
	mux.HandleFunc("/controller", func(w http.ResponseWriter, r *http.Request) {
		h.ServeController(w, r)
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		h.Close()
		ts.Close()
	})
	return h, pub, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readLine(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(msg)
}

// connectViewer dials a viewer and returns its uid.
func connectViewer(t *testing.T, h *Hub, base string) (*websocket.Conn, string) {
	t.Helper()
	before := h.Snapshot()
	conn := dial(t, base+"/api/live")
	require.Equal(t, "CONNECT", readLine(t, conn))
	for uid := range h.Snapshot() {
		if _, ok := before[uid]; !ok {
			return conn, uid
		}
	}
	t.Fatal("viewer not registered")
	return nil, ""
}

func TestViewerConnectRegistersEntity(t *testing.T) {
	h, pub, base := newTestHub(t)

	_, uid := connectViewer(t, h, base)
	assert.Equal(t, snapshot.Snapshot{uid: {}}, h.Snapshot())
	assert.Equal(t, 1, h.Stats().Viewers)
	assert.Equal(t, []events.Type{events.TypeConnect}, pub.types())
}

func TestActivateIsExclusive(t *testing.T) {
	h, _, base := newTestHub(t)
	ctx := context.Background()

	a, uidA := connectViewer(t, h, base)
	b, uidB := connectViewer(t, h, base)

	require.NoError(t, h.Activate(ctx, uidA))
	assert.Equal(t, "ACTIVATE", readLine(t, a))

	require.NoError(t, h.Activate(ctx, uidB))
	assert.Equal(t, "DEACTIVATE", readLine(t, a))
	assert.Equal(t, "ACTIVATE", readLine(t, b))

	s := h.Snapshot()
	assert.False(t, s[uidA].Active)
	assert.True(t, s[uidB].Active)
	assert.Equal(t, 1, h.Stats().Active)

	require.NoError(t, h.Deactivate(ctx, uidB))
	assert.Equal(t, "DEACTIVATE", readLine(t, b))
	_, ok := h.Snapshot().Active()
	assert.False(t, ok)
}

func TestUpdatePushesContent(t *testing.T) {
	h, pub, base := newTestHub(t)
	conn, uid := connectViewer(t, h, base)

	require.NoError(t, h.Dispatch(context.Background(), command.Request{Command: command.TypeUpdate, UID: uid, Content: "hello world"}))
	assert.Equal(t, "UPDATE hello world", readLine(t, conn))
	assert.Equal(t, "hello world", h.Snapshot()[uid].Content)

	require.NoError(t, h.Update(context.Background(), uid, ""))
	assert.Equal(t, "UPDATE ", readLine(t, conn))

	assert.Equal(t, []events.Type{events.TypeConnect, events.TypeUpdate, events.TypeUpdate}, pub.types())
}

func TestUnknownEntity(t *testing.T) {
	h, _, _ := newTestHub(t)
	ctx := context.Background()

	assert.ErrorIs(t, h.Activate(ctx, "nope"), ErrUnknownEntity)
	assert.ErrorIs(t, h.Deactivate(ctx, "nope"), ErrUnknownEntity)
	assert.ErrorIs(t, h.Update(ctx, "nope", "x"), ErrUnknownEntity)
	assert.ErrorIs(t, h.Dispatch(ctx, command.Request{Command: command.TypeActivate, UID: "nope"}), ErrUnknownEntity)
}

func TestDispatchRejectsInvalidRequests(t *testing.T) {
	h, _, _ := newTestHub(t)
	ctx := context.Background()

	assert.ErrorIs(t, h.Dispatch(ctx, command.Request{Command: command.TypeConnect, UID: "x"}), command.ErrUnknownType)
	assert.ErrorIs(t, h.Dispatch(ctx, command.Request{Command: "EXPLODE", UID: "x"}), command.ErrUnknownType)
	assert.ErrorIs(t, h.Dispatch(ctx, command.Request{Command: command.TypeActivate}), command.ErrMissingEntity)
}

func TestViewerDisconnectRemovesEntity(t *testing.T) {
	h, pub, base := newTestHub(t)
	conn, uid := connectViewer(t, h, base)

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
	conn.Close()

	assert.Eventually(t, func() bool {
		_, ok := h.Snapshot()[uid]
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, h.Activate(context.Background(), uid), ErrUnknownEntity)
	assert.Eventually(t, func() bool {
		types := pub.types()
		return len(types) == 2 && types[1] == events.TypeDisconnect
	}, 2*time.Second, 10*time.Millisecond)
}

func TestControllerNotifications(t *testing.T) {
	h, _, base := newTestHub(t)
	ctrl := dial(t, base+"/controller")
	assert.Equal(t, "CONNECT", readLine(t, ctrl))

	viewer, uid := connectViewer(t, h, base)
	assert.Equal(t, "CONNECT", readLine(t, ctrl))

	require.NoError(t, h.Activate(context.Background(), uid))
	assert.Equal(t, "ACTIVATE "+uid, readLine(t, ctrl))

	require.NoError(t, h.Update(context.Background(), uid, "secret text"))
	assert.Equal(t, "UPDATE "+uid, readLine(t, ctrl), "controllers get the uid, not the content")

	viewer.Close()
	assert.Equal(t, "CONNECT", readLine(t, ctrl))
	assert.Equal(t, 1, h.Stats().Controllers)
}

func TestCloseSendsCloseFrame(t *testing.T) {
	h, _, base := newTestHub(t)
	conn, _ := connectViewer(t, h, base)

	h.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	assert.Empty(t, h.Snapshot())
}
