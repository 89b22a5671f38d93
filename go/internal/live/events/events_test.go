package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capture struct {
	msgs []*nats.Msg
	err  error
}

func (c *capture) PublishMsg(m *nats.Msg) error {
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, m)
	return nil
}

func TestNATSPublisherEnvelope(t *testing.T) {
	c := &capture{}
	p := &NATSPublisher{pub: c, prefix: DefaultNATSConfig().SubjectPrefix}

	ev := New(TypeUpdate, "abc", false, "hello")
	require.NoError(t, p.Publish(context.Background(), ev))
	require.Len(t, c.msgs, 1)

	msg := c.msgs[0]
	assert.Equal(t, "livecontrol.events.update", msg.Subject)
	assert.Equal(t, "update", msg.Header.Get("Event-Type"))
	assert.Equal(t, "abc", msg.Header.Get("Entity-UID"))

	var got Event
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, "hello", got.Content)
	assert.True(t, ev.Timestamp.Equal(got.Timestamp))

	assert.NoError(t, p.Close())
}

func TestNATSPublisherError(t *testing.T) {
	p := &NATSPublisher{pub: &capture{err: nats.ErrConnectionClosed}, prefix: "x"}
	err := p.Publish(context.Background(), New(TypeActivate, "abc", true, ""))
	assert.ErrorIs(t, err, nats.ErrConnectionClosed)
}

type failing struct{ calls int }

func (f *failing) Publish(context.Context, Event) error {
	f.calls++
	return errors.New("down")
}

func TestFanoutPublishesToAll(t *testing.T) {
	f1, f2 := &failing{}, &failing{}
	err := Fanout{NewLogPublisher(), f1, f2}.Publish(context.Background(), New(TypeConnect, "abc", false, ""))
	assert.EqualError(t, err, "down")
	assert.Equal(t, 1, f1.calls)
	assert.Equal(t, 1, f2.calls)
}
