// Package events publishes confirmed state changes made by the hub.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Type names a state change.
type Type string

const (
	TypeConnect    Type = "connect"
	TypeDisconnect Type = "disconnect"
	TypeActivate   Type = "activate"
	TypeDeactivate Type = "deactivate"
	TypeUpdate     Type = "update"
)

// Event is one confirmed change to an entity.
type Event struct {
	ID        uuid.UUID `json:"eventId"`
	Type      Type      `json:"eventType"`
	UID       string    `json:"uid"`
	Active    bool      `json:"active"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// New stamps an event with an id and the current time.
func New(t Type, uid string, active bool, content string) Event {
	return Event{
		ID:        uuid.New(),
		Type:      t,
		UID:       uid,
		Active:    active,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// Publisher delivers events. Callers log failures and carry on.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// LogPublisher writes events to the zerolog logger.
type LogPublisher struct{}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{}
}

func (p *LogPublisher) Publish(ctx context.Context, event Event) error {
	log.Info().
		Str("event_id", event.ID.String()).
		Str("event_type", string(event.Type)).
		Str("uid", event.UID).
		Bool("active", event.Active).
		Int("content_len", len(event.Content)).
		Msg("state change")
	return nil
}

// Fanout publishes to every publisher and returns the first error.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, event Event) error {
	var first error
	for _, p := range f {
		if err := p.Publish(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
