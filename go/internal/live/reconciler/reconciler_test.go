package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/livecontrol/go/internal/live/command"
	"github.com/mcdev12/livecontrol/go/internal/live/entity"
	"github.com/mcdev12/livecontrol/go/internal/live/snapshot"
)

// journal records every row side effect across all models.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
	j.mu.Unlock()
}

func (j *journal) take() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := j.entries
	j.entries = nil
	return out
}

type journalRow struct {
	uid string
	j   *journal
}

func (r journalRow) SetActive(active bool)   { r.j.add("%s active=%t", r.uid, active) }
func (r journalRow) SetText(content string) { r.j.add("%s text=%s", r.uid, content) }
func (r journalRow) Remove()                { r.j.add("%s remove", r.uid) }

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(context.Context, command.Type, string, string) error { return nil }

func newTestReconciler(f Fetcher) (*Reconciler, *journal) {
	j := &journal{}
	rec := New(f, func(uid string, e snapshot.Entry) Model {
		j.add("%s create", uid)
		return entity.New(uid, e.Active, e.Content, nopDispatcher{}, journalRow{uid: uid, j: j}, entity.Policy{})
	})
	return rec, j
}

func TestApplyIsIdempotent(t *testing.T) {
	rec, j := newTestReconciler(nil)
	s := snapshot.Snapshot{"a": {Active: false, Content: "hi"}, "b": {Active: true, Content: "yo"}}

	res := rec.Apply(s)
	assert.Equal(t, []string{"a", "b"}, res.Created)
	assert.NotEmpty(t, j.take())

	res = rec.Apply(s)
	assert.Empty(t, res.Created)
	assert.Empty(t, res.Removed)
	assert.Empty(t, j.take())
}

func TestApplyConvergesToLatestKeys(t *testing.T) {
	snapshots := []snapshot.Snapshot{
		{"a": {}, "b": {}, "c": {}},
		{"b": {Active: true}, "d": {Content: "x"}},
		{},
		{"a": {Content: "again"}},
		{"a": {}, "e": {}},
	}
	for i := range snapshots {
		for k := range snapshots {
			rec, _ := newTestReconciler(nil)
			rec.Apply(snapshots[i])
			rec.Apply(snapshots[k])
			assert.Equal(t, snapshots[k].UIDs(), rec.Tracked(), "S%d then S%d", i, k)
		}
	}
}

func TestApplyEmptySnapshotRemovesEverything(t *testing.T) {
	rec, j := newTestReconciler(nil)
	rec.Apply(snapshot.Snapshot{"a": {}, "b": {}})
	j.take()

	res := rec.Apply(snapshot.Snapshot{})
	assert.Equal(t, []string{"a", "b"}, res.Removed)
	assert.Empty(t, rec.Tracked())
	assert.ElementsMatch(t, []string{"a remove", "b remove"}, j.take())
}

func TestApplyUpdatesExistingModel(t *testing.T) {
	rec, j := newTestReconciler(nil)
	rec.Apply(snapshot.Snapshot{"a": {Active: false, Content: "hi"}})
	first, ok := rec.Get("a")
	require.True(t, ok)
	j.take()

	res := rec.Apply(snapshot.Snapshot{"a": {Active: true, Content: "hi"}})
	assert.Empty(t, res.Created)

	second, _ := rec.Get("a")
	assert.Same(t, first, second)
	assert.Equal(t, []string{"a active=true"}, j.take())
}

func TestRemovalRunsBeforeCreation(t *testing.T) {
	rec, j := newTestReconciler(nil)
	rec.Apply(snapshot.Snapshot{"a": {}})
	j.take()

	res := rec.Apply(snapshot.Snapshot{"b": {}})
	assert.Equal(t, []string{"a"}, res.Removed)
	assert.Equal(t, []string{"b"}, res.Created)
	assert.Equal(t, []string{"a remove", "b create", "b text="}, j.take())
}

func TestCloseDisconnectsAll(t *testing.T) {
	rec, j := newTestReconciler(nil)
	rec.Apply(snapshot.Snapshot{"a": {}, "b": {}})
	j.take()

	rec.Close()
	assert.Empty(t, rec.Tracked())
	assert.ElementsMatch(t, []string{"a remove", "b remove"}, j.take())
}

type scriptedFetcher struct {
	mu      sync.Mutex
	next    []snapshot.Snapshot
	err     error
	release chan struct{}
	calls   chan struct{}
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{calls: make(chan struct{}, 16)}
}

func (f *scriptedFetcher) FetchState(ctx context.Context) (snapshot.Snapshot, error) {
	f.calls <- struct{}{}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if len(f.next) == 0 {
		return snapshot.Snapshot{}, nil
	}
	s := f.next[0]
	if len(f.next) > 1 {
		f.next = f.next[1:]
	}
	return s, nil
}

func waitCall(t *testing.T, f *scriptedFetcher) {
	t.Helper()
	select {
	case <-f.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fetch")
	}
}

func TestReconcileEndToEnd(t *testing.T) {
	f := newScriptedFetcher()
	f.next = []snapshot.Snapshot{
		{"a": {Active: false, Content: "hi"}},
		{"a": {Active: true, Content: "hi"}},
	}
	rec, j := newTestReconciler(f)

	res, err := rec.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, res.Created)
	assert.Equal(t, []string{"a create", "a text=hi"}, j.take())

	res, err = rec.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Created)
	assert.Equal(t, []string{"a active=true"}, j.take())
}

func TestPollerRearmsAfterFetch(t *testing.T) {
	f := newScriptedFetcher()
	rec, _ := newTestReconciler(f)
	clock := clockwork.NewFakeClock()
	p := NewPoller(rec, WithClock(clock))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	waitCall(t, f)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(DefaultInterval - time.Millisecond)
	select {
	case <-f.calls:
		t.Fatal("fetched before the interval elapsed")
	case <-time.After(50 * time.Millisecond):
	}

	clock.Advance(time.Millisecond)
	waitCall(t, f)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestPollerNeverOverlapsFetches(t *testing.T) {
	f := newScriptedFetcher()
	f.release = make(chan struct{})
	rec, _ := newTestReconciler(f)
	clock := clockwork.NewFakeClock()
	p := NewPoller(rec, WithClock(clock))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	waitCall(t, f)
	// No timer exists while the fetch is in flight.
	clock.Advance(3 * DefaultInterval)
	select {
	case <-f.calls:
		t.Fatal("overlapping fetch")
	case <-time.After(50 * time.Millisecond):
	}

	f.release <- struct{}{}
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(DefaultInterval)
	waitCall(t, f)
	close(f.release)
}

func TestPollerNudge(t *testing.T) {
	f := newScriptedFetcher()
	rec, _ := newTestReconciler(f)
	clock := clockwork.NewFakeClock()
	p := NewPoller(rec, WithClock(clock))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	waitCall(t, f)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	p.Nudge()
	waitCall(t, f)
}

func TestPollerReportsErrors(t *testing.T) {
	f := newScriptedFetcher()
	f.err = errors.New("503")
	rec, _ := newTestReconciler(f)

	errs := make(chan error, 4)
	p := NewPoller(rec, WithClock(clockwork.NewFakeClock()), WithErrorHandler(func(err error) { errs <- err }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	select {
	case err := <-errs:
		assert.ErrorContains(t, err, "503")
	case <-time.After(2 * time.Second):
		t.Fatal("expected error callback")
	}
}

func TestManualReconcileWaitsForPoll(t *testing.T) {
	f := newScriptedFetcher()
	f.release = make(chan struct{})
	f.next = []snapshot.Snapshot{
		{"old": {}},
		{"new": {}},
	}
	rec, _ := newTestReconciler(f)
	clock := clockwork.NewFakeClock()
	p := NewPoller(rec, WithClock(clock))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)
	waitCall(t, f)

	manual := make(chan Result, 1)
	go func() {
		res, err := rec.Reconcile(context.Background())
		assert.NoError(t, err)
		manual <- res
	}()

	// the manual fetch must not start while the poll fetch is in flight
	select {
	case <-f.calls:
		t.Fatal("overlapping fetch")
	case <-time.After(50 * time.Millisecond):
	}

	f.release <- struct{}{}
	waitCall(t, f)
	f.release <- struct{}{}

	select {
	case res := <-manual:
		assert.Equal(t, []string{"new"}, res.Created)
		assert.Equal(t, []string{"old"}, res.Removed)
	case <-time.After(2 * time.Second):
		t.Fatal("manual reconcile did not finish")
	}
	assert.Equal(t, []string{"new"}, rec.Tracked())
}
