package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "AgneticGOD/internal/errors"
)

type failingPublisher struct {
	err    error
	closed bool
}

func (f *failingPublisher) Publish(context.Context, Event) error { return f.err }
func (f *failingPublisher) Close() error {
	f.closed = true
	return nil
}

func TestNewEventFillsIdentity(t *testing.T) {
	e := NewEvent(Event{Operation: "swap"})
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.OccurredAt.IsZero())

	kept := NewEvent(Event{ID: "fixed"})
	assert.Equal(t, "fixed", kept.ID)
}

func TestMemoryPublisherKeepsNewest(t *testing.T) {
	m := NewMemoryPublisher(2)
	ctx := context.Background()
	for _, op := range []string{"check_deposit", "swap", "confiscate"} {
		require.NoError(t, m.Publish(ctx, Event{Operation: op}))
	}
	events := m.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "swap", events[0].Operation)
	assert.Equal(t, "confiscate", events[1].Operation)

	require.NoError(t, m.Close())
	require.Error(t, m.Publish(ctx, Event{}))
}

func TestFanoutJoinsErrors(t *testing.T) {
	mem := NewMemoryPublisher(0)
	bad := &failingPublisher{err: errors.New("broker down")}
	f := NewFanout(mem, nil, bad)

	err := f.Publish(context.Background(), Event{Operation: "swap"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.Len(t, mem.Events(), 1)

	require.NoError(t, f.Close())
	assert.True(t, bad.closed)
}

func TestGuardSwallowsFailures(t *testing.T) {
	bad := &failingPublisher{err: errors.New("broker down")}
	g := Guard(bad, "rabbitmq")
	assert.NoError(t, g.Publish(context.Background(), NewEvent(Event{Operation: "confiscate"})))
	require.NoError(t, g.Close())
	assert.True(t, bad.closed)

	assert.IsType(t, Discard{}, Guard(nil, "none"))
}

func TestRedisPublisherPushesJSON(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	p := NewRedisPublisherFromClient(client, "", 2)
	t.Cleanup(func() { _ = p.Close() })
	ctx := context.Background()

	for _, op := range []string{"check_deposit", "swap", "confiscate"} {
		require.NoError(t, p.Publish(ctx, NewEvent(Event{Operation: op, Kind: "ok", Success: true})))
	}

	items, err := mr.List("agnetic:audit")
	require.NoError(t, err)
	require.Len(t, items, 2)

	var newest Event
	require.NoError(t, json.Unmarshal([]byte(items[0]), &newest))
	assert.Equal(t, "confiscate", newest.Operation)
	assert.True(t, newest.Success)
}

func TestRedisPublishFailureIsQueueFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	p := NewRedisPublisherFromClient(client, "", 0)
	t.Cleanup(func() { _ = p.Close() })
	mr.Close()

	err := p.Publish(context.Background(), NewEvent(Event{Operation: "swap"}))
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeQueueFailure, xerrors.CodeOf(err))
	assert.False(t, xerrors.IsFatal(err))
}

func TestNewRedisPublisherPingFails(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisPublisher(context.Background(), RedisConfig{Address: addr})
	require.Error(t, err)

	_, err = NewRedisPublisher(context.Background(), RedisConfig{})
	require.Error(t, err)
}

func TestRabbitMQRequiresURL(t *testing.T) {
	_, err := NewRabbitMQPublisher(RabbitMQConfig{})
	require.Error(t, err)

	var nilPublisher *RabbitMQPublisher
	err = nilPublisher.Publish(context.Background(), Event{})
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeQueueFailure, xerrors.CodeOf(err))
	require.NoError(t, nilPublisher.Close())
}
