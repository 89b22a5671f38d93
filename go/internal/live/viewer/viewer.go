// Package viewer is the public page controller: one push channel feeding a
// single shared "current content" slot.
package viewer

import (
	"context"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/livecontrol/go/clients/livecontrol_client"
	"github.com/mcdev12/livecontrol/go/internal/live/channel"
	"github.com/mcdev12/livecontrol/go/internal/live/command"
)

// DefaultPath is the viewer push channel.
const DefaultPath = livecontrol_client.LiveEndpoint

// Display shows the page content.
type Display interface {
	Render(content string)
}

type Config struct {
	Origin string
	Path   string
	// Original is what the page shows while nothing is active.
	Original string
	Jar      http.CookieJar
}

// Viewer renders activated ? content : original after every command.
type Viewer struct {
	display  Display
	original string
	ch       *channel.Client

	mu        sync.Mutex
	activated bool
	content   string
	closed    chan struct{}
	closeOnce sync.Once
}

func New(cfg Config, display Display) (*Viewer, error) {
	path := cfg.Path
	if path == "" {
		path = DefaultPath
	}
	v := &Viewer{
		display:  display,
		original: cfg.Original,
		closed:   make(chan struct{}),
	}

	var opts []channel.Option
	if cfg.Jar != nil {
		opts = append(opts, channel.WithCookieJar(cfg.Jar))
	}
	ch, err := channel.New(cfg.Origin, path, v, opts...)
	if err != nil {
		return nil, err
	}
	v.ch = ch
	return v, nil
}

// Connect opens the push channel and shows the original content.
func (v *Viewer) Connect(ctx context.Context) error {
	v.render()
	return v.ch.Connect(ctx)
}

// Disconnect is the page unload: it closes the channel and deactivates.
func (v *Viewer) Disconnect() error {
	err := v.ch.Disconnect()
	v.mu.Lock()
	v.activated = false
	v.mu.Unlock()
	return err
}

// Closed is closed after the first OnClose.
func (v *Viewer) Closed() <-chan struct{} {
	return v.closed
}

// Current returns what is being shown.
func (v *Viewer) Current() (activated bool, content string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.activated, v.content
}

func (v *Viewer) OnCommand(cmd command.Command) {
	v.mu.Lock()
	switch cmd.Type {
	case command.TypeConnect:
	case command.TypeActivate:
		v.activated = true
	case command.TypeDeactivate:
		v.activated = false
	case command.TypeUpdate:
		v.content = cmd.Payload
	default:
		log.Debug().Str("command", string(cmd.Type)).Msg("viewer ignoring command")
	}
	v.mu.Unlock()
	v.render()
}

func (v *Viewer) OnClose() {
	v.mu.Lock()
	v.activated = false
	v.mu.Unlock()
	v.render()
	v.closeOnce.Do(func() { close(v.closed) })
}

func (v *Viewer) OnError(err error) {
	log.Warn().Err(err).Msg("viewer channel error")
}

func (v *Viewer) render() {
	v.mu.Lock()
	out := v.original
	if v.activated {
		out = v.content
	}
	v.mu.Unlock()
	v.display.Render(out)
}
