package authbridge

import (
	"fmt"
	"sync"
)

// ReauthState is the position of the reauthentication gate
type ReauthState int

const (
	ReauthIdle ReauthState = iota
	ReauthRetrying
	ReauthGivenUp
)

func (s ReauthState) String() string {
	switch s {
	case ReauthIdle:
		return "idle"
	case ReauthRetrying:
		return "retrying"
	case ReauthGivenUp:
		return "given-up"
	}
	return fmt.Sprintf("reauth(%d)", int(s))
}

// Guard allows one reauthentication attempt per disconnect episode.
//
//	idle --Begin--> retrying --Succeeded--> idle
//	                retrying --Failed-----> given-up --Reset--> idle
type Guard struct {
	mu    sync.Mutex
	state ReauthState
}

func NewGuard() *Guard {
	return &Guard{}
}

// Begin claims the attempt. It returns false while an attempt is running or
// after one has failed.
func (g *Guard) Begin() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != ReauthIdle {
		return false
	}
	g.state = ReauthRetrying
	return true
}

// Succeeded closes the episode after a successful reconnect.
func (g *Guard) Succeeded() {
	g.mu.Lock()
	g.state = ReauthIdle
	g.mu.Unlock()
}

// Failed gives up until Reset.
func (g *Guard) Failed() {
	g.mu.Lock()
	g.state = ReauthGivenUp
	g.mu.Unlock()
}

// Reset rearms the guard, e.g. after a manual connect succeeds.
func (g *Guard) Reset() {
	g.mu.Lock()
	g.state = ReauthIdle
	g.mu.Unlock()
}

func (g *Guard) State() ReauthState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}
