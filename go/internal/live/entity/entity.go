// Package entity is the client-side view model for one uid: it mirrors the
// server's (active, content) pair and drives a rendered Row.
package entity

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/livecontrol/go/internal/live/command"
)

var ErrDetached = errors.New("entity detached")

// Row is the rendered representation of an entity.
type Row interface {
	// SetActive switches the active marker and points the toggle at the
	// opposite operation.
	SetActive(active bool)
	SetText(content string)
	Remove()
}

// Dispatcher sends a command for a uid to the server.
type Dispatcher interface {
	Dispatch(ctx context.Context, t command.Type, uid, content string) error
}

// Policy controls how pushed or polled state is rendered.
type Policy struct {
	// ApplyContentWhileActive renders new content even while the entity is
	// active. When false, the text of an active row is left alone and
	// caught up on deactivation.
	ApplyContentWhileActive bool
}

// DispatchError wraps a failed command dispatch.
type DispatchError struct {
	UID     string
	Command command.Type
	Err     error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s for %s: %v", e.Command, e.UID, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Model is one entity. It is safe for concurrent use: a pushed or polled
// Set may arrive while a dispatch for the same uid is in flight, and the
// last write by receipt order wins.
type Model struct {
	uid        string
	dispatcher Dispatcher
	row        Row
	policy     Policy

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	active   bool
	content  string
	rendered string
	detached bool
}

// New creates a model in the given state and renders it.
func New(uid string, active bool, content string, dispatcher Dispatcher, row Row, policy Policy) *Model {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Model{
		uid:        uid,
		dispatcher: dispatcher,
		row:        row,
		policy:     policy,
		ctx:        ctx,
		cancel:     cancel,
		active:     active,
		content:    content,
		rendered:   content,
	}
	row.SetText(content)
	if active {
		row.SetActive(true)
	}
	return m
}

func (m *Model) UID() string { return m.uid }

// State returns the last authoritative values.
func (m *Model) State() (active bool, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active, m.content
}

// Set applies authoritative state. The activation side effects run only
// when active changes.
func (m *Model) Set(active bool, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.detached {
		return
	}
	m.setActiveLocked(active)
	if content != m.content {
		m.content = content
		m.renderContentLocked()
	}
}

func (m *Model) setActiveLocked(active bool) {
	if active == m.active {
		return
	}
	m.active = active
	m.row.SetActive(active)
	if !active {
		m.renderContentLocked()
	}
}

func (m *Model) renderContentLocked() {
	if m.rendered == m.content {
		return
	}
	if m.active && !m.policy.ApplyContentWhileActive {
		return
	}
	m.rendered = m.content
	m.row.SetText(m.content)
}

// Activate dispatches ACTIVATE and applies the transition locally.
func (m *Model) Activate(ctx context.Context) error {
	return m.transition(ctx, command.TypeActivate, true)
}

// Deactivate dispatches DEACTIVATE and applies the transition locally.
func (m *Model) Deactivate(ctx context.Context) error {
	return m.transition(ctx, command.TypeDeactivate, false)
}

// Toggle runs whichever operation the row's toggle currently points at.
func (m *Model) Toggle(ctx context.Context) error {
	active, _ := m.State()
	if active {
		return m.Deactivate(ctx)
	}
	return m.Activate(ctx)
}

// transition is optimistic: the local state follows the request even when
// the dispatch fails. The next snapshot corrects it.
func (m *Model) transition(ctx context.Context, t command.Type, active bool) error {
	err := m.dispatch(ctx, t, "")
	if errors.Is(err, ErrDetached) {
		return err
	}

	m.mu.Lock()
	if !m.detached {
		m.setActiveLocked(active)
	}
	m.mu.Unlock()
	return err
}

// Update dispatches UPDATE and commits value only once the server accepted it.
func (m *Model) Update(ctx context.Context, value string) error {
	if err := m.dispatch(ctx, command.TypeUpdate, value); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.detached {
		return ErrDetached
	}
	m.content = value
	if m.rendered != value {
		m.rendered = value
		m.row.SetText(value)
	}
	return nil
}

// Disconnect removes the row and cancels any in-flight dispatch. Later
// calls are no-ops.
func (m *Model) Disconnect() {
	m.mu.Lock()
	if m.detached {
		m.mu.Unlock()
		return
	}
	m.detached = true
	m.mu.Unlock()

	m.cancel()
	m.row.Remove()
	log.Debug().Str("uid", m.uid).Msg("entity detached")
}

func (m *Model) dispatch(ctx context.Context, t command.Type, content string) error {
	if m.ctx.Err() != nil {
		return ErrDetached
	}

	dctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(m.ctx, cancel)
	defer stop()

	if err := m.dispatcher.Dispatch(dctx, t, m.uid, content); err != nil {
		if m.ctx.Err() != nil {
			return ErrDetached
		}
		log.Warn().Err(err).Str("uid", m.uid).Str("command", string(t)).Msg("dispatch failed")
		return &DispatchError{UID: m.uid, Command: t, Err: err}
	}
	return nil
}
