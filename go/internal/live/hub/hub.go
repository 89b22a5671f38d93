// Package hub owns the authoritative entity state. Each viewer socket is an
// entity; state changes are pushed to that viewer, announced to controller
// sockets and handed to the event publisher.
package hub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/livecontrol/go/internal/live/command"
	"github.com/mcdev12/livecontrol/go/internal/live/events"
	"github.com/mcdev12/livecontrol/go/internal/live/snapshot"
)

var ErrUnknownEntity = errors.New("unknown entity")

type Hub struct {
	upgrader  websocket.Upgrader
	config    ConnectionConfig
	publisher events.Publisher

	mu          sync.RWMutex
	viewers     map[string]*Connection
	state       snapshot.Snapshot
	controllers map[*Connection]bool
}

// Stats counts open sockets
type Stats struct {
	Viewers     int `json:"viewers"`
	Controllers int `json:"controllers"`
	Active      int `json:"active"`
}

func New(config ConnectionConfig, publisher events.Publisher) *Hub {
	if publisher == nil {
		publisher = events.NewLogPublisher()
	}
	if config.SendBuffer <= 0 {
		config.SendBuffer = DefaultConnectionConfig().SendBuffer
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		publisher:   publisher,
		viewers:     make(map[string]*Connection),
		state:       make(snapshot.Snapshot),
		controllers: make(map[*Connection]bool),
	}
}

// ServeViewer upgrades r into a new entity. The viewer is greeted with
// CONNECT and starts inactive with empty content.
func (h *Hub) ServeViewer(w http.ResponseWriter, r *http.Request) error {
	c, err := h.upgrade(w, r, KindViewer)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.viewers[c.ID] = c
	h.state[c.ID] = snapshot.Entry{}
	pending := []events.Event{events.New(events.TypeConnect, c.ID, false, "")}
	pending = append(pending, h.pushLocked(c.ID, command.New(command.TypeConnect))...)
	pending = append(pending, h.notifyLocked(command.New(command.TypeConnect))...)
	h.mu.Unlock()

	h.start(c)
	h.publish(r.Context(), pending)
	return nil
}

// ServeController upgrades r into a controller socket.
func (h *Hub) ServeController(w http.ResponseWriter, r *http.Request) error {
	c, err := h.upgrade(w, r, KindController)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.controllers[c] = true
	h.sendLocked(c, command.New(command.TypeConnect))
	h.mu.Unlock()

	h.start(c)
	return nil
}

func (h *Hub) upgrade(w http.ResponseWriter, r *http.Request, kind Kind) (*Connection, error) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade %s connection: %w", kind, err)
	}
	return &Connection{
		ID:          uuid.NewString(),
		Kind:        kind,
		Conn:        conn,
		Send:        make(chan []byte, h.config.SendBuffer),
		ConnectedAt: time.Now(),
		hub:         h,
	}, nil
}

func (h *Hub) start(c *Connection) {
	go c.writePump()
	go c.readPump()

	log.Info().
		Str("connection_id", c.ID).
		Str("kind", string(c.Kind)).
		Msg("WebSocket connection established")
}

// unregister removes c after its socket ended. It is safe to call from both
// pumps.
func (h *Hub) unregister(c *Connection) {
	h.mu.Lock()
	pending := h.dropLocked(c)
	h.mu.Unlock()
	h.publish(context.Background(), pending)
}

// dropLocked removes c if it is still registered.
func (h *Hub) dropLocked(c *Connection) []events.Event {
	switch c.Kind {
	case KindController:
		if !h.controllers[c] {
			return nil
		}
		delete(h.controllers, c)
		c.close()
		log.Info().Str("connection_id", c.ID).Msg("controller unregistered")
		return nil

	case KindViewer:
		if h.viewers[c.ID] != c {
			return nil
		}
		delete(h.viewers, c.ID)
		delete(h.state, c.ID)
		c.close()
		log.Info().Str("uid", c.ID).Msg("viewer unregistered")

		pending := []events.Event{events.New(events.TypeDisconnect, c.ID, false, "")}
		return append(pending, h.notifyLocked(command.New(command.TypeConnect))...)
	}
	return nil
}

// sendLocked queues msg for c. A full buffer means a slow or dead client,
// which is dropped.
func (h *Hub) sendLocked(c *Connection, cmd command.Command) ([]events.Event, bool) {
	select {
	case c.Send <- cmd.Bytes():
		return nil, true
	default:
		log.Warn().
			Str("connection_id", c.ID).
			Str("kind", string(c.Kind)).
			Msg("connection send buffer full, closing connection")
		return h.dropLocked(c), false
	}
}

func (h *Hub) pushLocked(uid string, cmd command.Command) []events.Event {
	c, ok := h.viewers[uid]
	if !ok {
		return nil
	}
	pending, _ := h.sendLocked(c, cmd)
	return pending
}

func (h *Hub) notifyLocked(cmd command.Command) []events.Event {
	var pending []events.Event
	for c := range h.controllers {
		p, _ := h.sendLocked(c, cmd)
		pending = append(pending, p...)
	}
	return pending
}

func (h *Hub) publish(ctx context.Context, pending []events.Event) {
	for _, ev := range pending {
		if err := h.publisher.Publish(ctx, ev); err != nil {
			log.Error().Err(err).Str("event_type", string(ev.Type)).Str("uid", ev.UID).Msg("failed to publish event")
		}
	}
}

// Activate makes uid the active entity, deactivating any other.
func (h *Hub) Activate(ctx context.Context, uid string) error {
	h.mu.Lock()
	if _, ok := h.state[uid]; !ok {
		h.mu.Unlock()
		return fmt.Errorf("%s: %w", uid, ErrUnknownEntity)
	}

	var pending []events.Event
	for _, other := range h.state.UIDs() {
		e, ok := h.state[other]
		if other == uid || !ok || !e.Active {
			continue
		}
		pending = append(pending, h.setActiveLocked(other, false)...)
	}
	if _, ok := h.state[uid]; ok {
		pending = append(pending, h.setActiveLocked(uid, true)...)
	}
	h.mu.Unlock()

	h.publish(ctx, pending)
	return nil
}

// Deactivate clears the active flag of uid.
func (h *Hub) Deactivate(ctx context.Context, uid string) error {
	h.mu.Lock()
	if _, ok := h.state[uid]; !ok {
		h.mu.Unlock()
		return fmt.Errorf("%s: %w", uid, ErrUnknownEntity)
	}
	pending := h.setActiveLocked(uid, false)
	h.mu.Unlock()

	h.publish(ctx, pending)
	return nil
}

func (h *Hub) setActiveLocked(uid string, active bool) []events.Event {
	e := h.state[uid]
	e.Active = active
	h.state[uid] = e

	t, et := command.TypeDeactivate, events.TypeDeactivate
	if active {
		t, et = command.TypeActivate, events.TypeActivate
	}
	pending := []events.Event{events.New(et, uid, e.Active, e.Content)}
	pending = append(pending, h.pushLocked(uid, command.New(t))...)
	return append(pending, h.notifyLocked(command.WithPayload(t, uid))...)
}

// Update sets the content of uid.
func (h *Hub) Update(ctx context.Context, uid, content string) error {
	h.mu.Lock()
	e, ok := h.state[uid]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("%s: %w", uid, ErrUnknownEntity)
	}
	e.Content = content
	h.state[uid] = e

	pending := []events.Event{events.New(events.TypeUpdate, uid, e.Active, content)}
	pending = append(pending, h.pushLocked(uid, command.WithPayload(command.TypeUpdate, content))...)
	pending = append(pending, h.notifyLocked(command.WithPayload(command.TypeUpdate, uid))...)
	h.mu.Unlock()

	h.publish(ctx, pending)
	return nil
}

// Dispatch applies a REST dispatch request.
func (h *Hub) Dispatch(ctx context.Context, req command.Request) error {
	if err := req.Validate(); err != nil {
		return err
	}
	switch req.Command {
	case command.TypeActivate:
		return h.Activate(ctx, req.UID)
	case command.TypeDeactivate:
		return h.Deactivate(ctx, req.UID)
	case command.TypeUpdate:
		return h.Update(ctx, req.UID, req.Content)
	}
	return fmt.Errorf("%w: %q", command.ErrUnknownType, req.Command)
}

// Snapshot returns a copy of the current state.
func (h *Hub) Snapshot() snapshot.Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state.Clone()
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s := Stats{Viewers: len(h.viewers), Controllers: len(h.controllers)}
	if _, ok := h.state.Active(); ok {
		s.Active = 1
	}
	return s
}

// Close sends a close frame to every socket and forgets all state.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for uid, c := range h.viewers {
		c.close()
		delete(h.viewers, uid)
	}
	for c := range h.controllers {
		c.close()
		delete(h.controllers, c)
	}
	h.state = make(snapshot.Snapshot)
	log.Info().Msg("hub closed")
}
