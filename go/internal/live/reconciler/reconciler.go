// Package reconciler keeps the tracked set of entity view models in line
// with the server snapshot.
package reconciler

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/livecontrol/go/internal/live/snapshot"
)

// Model is the part of a view model the reconciler drives.
type Model interface {
	Set(active bool, content string)
	Disconnect()
}

// Factory builds a view model for a uid first seen in a snapshot.
type Factory func(uid string, entry snapshot.Entry) Model

// Fetcher returns the authoritative snapshot.
type Fetcher interface {
	FetchState(ctx context.Context) (snapshot.Snapshot, error)
}

// Result lists what one reconciliation changed.
type Result struct {
	Created []string
	Removed []string
}

type Reconciler struct {
	fetcher Fetcher
	factory Factory

	// fetchMu serializes Reconcile so fetches never overlap and an older
	// snapshot is never applied after a newer one.
	fetchMu sync.Mutex

	mu     sync.Mutex
	models map[string]Model
}

func New(fetcher Fetcher, factory Factory) *Reconciler {
	return &Reconciler{
		fetcher: fetcher,
		factory: factory,
		models:  make(map[string]Model),
	}
}

// Reconcile fetches a snapshot and applies it. Concurrent calls run one at
// a time.
func (r *Reconciler) Reconcile(ctx context.Context) (Result, error) {
	r.fetchMu.Lock()
	defer r.fetchMu.Unlock()

	s, err := r.fetcher.FetchState(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("fetch state: %w", err)
	}
	return r.Apply(s), nil
}

// Apply brings the tracked models in line with s. Removals run before
// creation so a uid can be dropped and recreated in one pass.
func (r *Reconciler) Apply(s snapshot.Snapshot) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res Result
	for uid, m := range r.models {
		if _, ok := s[uid]; !ok {
			m.Disconnect()
			delete(r.models, uid)
			res.Removed = append(res.Removed, uid)
		}
	}
	sort.Strings(res.Removed)

	if len(s) == 0 {
		r.logResult(res)
		return res
	}

	for _, uid := range s.UIDs() {
		e := s[uid]
		if m, ok := r.models[uid]; ok {
			m.Set(e.Active, e.Content)
			continue
		}
		r.models[uid] = r.factory(uid, e)
		res.Created = append(res.Created, uid)
	}

	r.logResult(res)
	return res
}

func (r *Reconciler) logResult(res Result) {
	if len(res.Created) == 0 && len(res.Removed) == 0 {
		return
	}
	log.Debug().
		Strs("created", res.Created).
		Strs("removed", res.Removed).
		Int("tracked", len(r.models)).
		Msg("reconciled snapshot")
}

// Tracked returns the tracked uids in sorted order.
func (r *Reconciler) Tracked() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	uids := make([]string, 0, len(r.models))
	for uid := range r.models {
		uids = append(uids, uid)
	}
	sort.Strings(uids)
	return uids
}

// Get returns the model tracked for uid.
func (r *Reconciler) Get(uid string) (Model, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.models[uid]
	return m, ok
}

// Close disconnects and forgets every tracked model.
func (r *Reconciler) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for uid, m := range r.models {
		m.Disconnect()
		delete(r.models, uid)
	}
}
