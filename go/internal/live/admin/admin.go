// Package admin is the admin page controller. It is the single context
// object that owns the reconciler, its poller, the controller push channel
// and the auth bridge for one session.
package admin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/livecontrol/go/clients/livecontrol_client"
	"github.com/mcdev12/livecontrol/go/internal/live/authbridge"
	"github.com/mcdev12/livecontrol/go/internal/live/channel"
	"github.com/mcdev12/livecontrol/go/internal/live/command"
	"github.com/mcdev12/livecontrol/go/internal/live/entity"
	"github.com/mcdev12/livecontrol/go/internal/live/reconciler"
	"github.com/mcdev12/livecontrol/go/internal/live/snapshot"
)

// DefaultPath is the controller push channel.
const DefaultPath = livecontrol_client.ControllerEndpoint

var ErrUnknownEntity = errors.New("entity not tracked")

// RowFactory renders a new row for uid.
type RowFactory func(uid string) entity.Row

// ErrorSink receives failures the user should see: rejected dispatches and
// terminal authentication failures.
type ErrorSink interface {
	Report(err error)
}

// ErrorSinkFunc adapts a function to ErrorSink.
type ErrorSinkFunc func(err error)

func (f ErrorSinkFunc) Report(err error) { f(err) }

type Config struct {
	Origin       string
	Path         string
	PollInterval time.Duration
	Policy       entity.Policy
	Clock        clockwork.Clock
}

type Controller struct {
	bridge *authbridge.Bridge
	rec    *reconciler.Reconciler
	poller *reconciler.Poller
	ch     *channel.Client
	rows   RowFactory
	sink   ErrorSink
	policy entity.Policy

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

func New(cfg Config, bridge *authbridge.Bridge, rows RowFactory, sink ErrorSink) (*Controller, error) {
	if bridge == nil || rows == nil {
		return nil, errors.New("admin controller requires a bridge and a row factory")
	}
	if sink == nil {
		sink = ErrorSinkFunc(func(err error) {
			log.Error().Err(err).Msg("admin error")
		})
	}
	path := cfg.Path
	if path == "" {
		path = DefaultPath
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		bridge: bridge,
		rows:   rows,
		sink:   sink,
		policy: cfg.Policy,
		ctx:    ctx,
		cancel: cancel,
	}

	c.rec = reconciler.New(bridge, c.newEntity)

	opts := []reconciler.PollerOption{reconciler.WithErrorHandler(c.onPollError)}
	if cfg.Clock != nil {
		opts = append(opts, reconciler.WithClock(cfg.Clock))
	}
	if cfg.PollInterval > 0 {
		opts = append(opts, reconciler.WithInterval(cfg.PollInterval))
	}
	c.poller = reconciler.NewPoller(c.rec, opts...)

	ch, err := channel.New(cfg.Origin, path, c, channel.WithCookieJar(bridge.Client().Jar()))
	if err != nil {
		cancel()
		return nil, err
	}
	c.ch = ch
	return c, nil
}

func (c *Controller) newEntity(uid string, e snapshot.Entry) reconciler.Model {
	return entity.New(uid, e.Active, e.Content, c.bridge, c.rows(uid), c.policy)
}

// Run connects the controller channel and polls until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.Connect(ctx); err != nil {
		log.Warn().Err(err).Msg("controller channel unavailable, polling only")
	}
	err := c.poller.Run(ctx)
	c.Close()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Connect opens the controller channel. A successful manual connect
// rearms reauthentication.
func (c *Controller) Connect(ctx context.Context) error {
	if err := c.ch.Connect(ctx); err != nil {
		return err
	}
	c.bridge.Guard().Reset()
	return nil
}

// Refresh reconciles now.
func (c *Controller) Refresh(ctx context.Context) (reconciler.Result, error) {
	return c.rec.Reconcile(ctx)
}

// Tracked returns the uids currently shown.
func (c *Controller) Tracked() []string {
	return c.rec.Tracked()
}

// Entity returns the view model for uid.
func (c *Controller) Entity(uid string) (*entity.Model, bool) {
	m, ok := c.rec.Get(uid)
	if !ok {
		return nil, false
	}
	em, ok := m.(*entity.Model)
	return em, ok
}

func (c *Controller) Activate(ctx context.Context, uid string) error {
	return c.apply(uid, func(m *entity.Model) error { return m.Activate(ctx) })
}

func (c *Controller) Deactivate(ctx context.Context, uid string) error {
	return c.apply(uid, func(m *entity.Model) error { return m.Deactivate(ctx) })
}

func (c *Controller) Toggle(ctx context.Context, uid string) error {
	return c.apply(uid, func(m *entity.Model) error { return m.Toggle(ctx) })
}

func (c *Controller) Update(ctx context.Context, uid, content string) error {
	return c.apply(uid, func(m *entity.Model) error { return m.Update(ctx, content) })
}

func (c *Controller) apply(uid string, op func(m *entity.Model) error) error {
	m, ok := c.Entity(uid)
	if !ok {
		return fmt.Errorf("%s: %w", uid, ErrUnknownEntity)
	}
	if err := op(m); err != nil {
		if !errors.Is(err, entity.ErrDetached) {
			c.sink.Report(err)
		}
		return err
	}
	return nil
}

// Logout ends the session and tears the page down.
func (c *Controller) Logout(ctx context.Context) error {
	err := c.bridge.Logout(ctx)
	c.Close()
	return err
}

// Close disconnects the channel and every row. It is safe to call twice.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.disconnect()
	c.wg.Wait()
	// A reauth attempt may have reconnected before it saw the cancel.
	c.disconnect()
	c.rec.Close()
}

func (c *Controller) disconnect() {
	err := c.ch.Disconnect()
	if err != nil && !errors.Is(err, channel.ErrClosed) && !errors.Is(err, channel.ErrNotConnected) {
		log.Debug().Err(err).Msg("controller channel disconnect")
	}
}

// OnCommand treats every controller notification as a hint that the
// snapshot changed.
func (c *Controller) OnCommand(cmd command.Command) {
	log.Debug().Str("command", string(cmd.Type)).Str("payload", cmd.Payload).Msg("controller notification")
	c.poller.Nudge()
}

func (c *Controller) OnClose() {
	log.Debug().Msg("controller channel closed")
}

// OnError starts a reauthentication attempt off the channel goroutine.
func (c *Controller) OnError(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	log.Warn().Err(err).Msg("controller channel error")
	go func() {
		defer c.wg.Done()
		attempted, err := c.bridge.Reauthenticate(c.ctx, c.ch.Connect)
		if !attempted {
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("reauthentication failed")
			if errors.Is(err, authbridge.ErrAuthenticationFailed) {
				c.sink.Report(err)
			}
			return
		}
		c.poller.Nudge()
	}()
}

func (c *Controller) onPollError(err error) {
	if errors.Is(err, authbridge.ErrAuthenticationFailed) {
		c.sink.Report(err)
	}
}
