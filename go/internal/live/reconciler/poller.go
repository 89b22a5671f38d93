package reconciler

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const DefaultInterval = 5 * time.Second

// Poller runs Reconcile on a one-shot timer that is rearmed only after each
// fetch completes, so fetches never overlap.
type Poller struct {
	rec      *Reconciler
	clock    clockwork.Clock
	interval time.Duration
	wakeCh   chan struct{}
	onError  func(error)
}

type PollerOption func(*Poller)

// WithClock replaces the real clock, e.g. with a clockwork.FakeClock.
func WithClock(c clockwork.Clock) PollerOption {
	return func(p *Poller) { p.clock = c }
}

func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) { p.interval = d }
}

// WithErrorHandler is called with every failed fetch.
func WithErrorHandler(fn func(error)) PollerOption {
	return func(p *Poller) { p.onError = fn }
}

func NewPoller(rec *Reconciler, opts ...PollerOption) *Poller {
	p := &Poller{
		rec:      rec,
		clock:    clockwork.NewRealClock(),
		interval: DefaultInterval,
		wakeCh:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Nudge asks for a reconciliation now instead of waiting for the timer.
// Nudges coalesce while a fetch is running.
func (p *Poller) Nudge() {
	select {
	case p.wakeCh <- struct{}{}:
	default:
	}
}

// Run reconciles immediately and then every interval until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	log.Info().Dur("interval", p.interval).Msg("state poller started")
	for {
		p.tick(ctx)

		timer := p.clock.NewTimer(p.interval)
		select {
		case <-ctx.Done():
			stopAndDrainTimer(timer)
			log.Info().Msg("state poller stopped")
			return ctx.Err()
		case <-timer.Chan():
		case <-p.wakeCh:
			stopAndDrainTimer(timer)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	if _, err := p.rec.Reconcile(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Msg("state poll failed")
		if p.onError != nil {
			p.onError(err)
		}
	}
}

// stopAndDrainTimer stops a timer and drains its channel if it already fired.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
