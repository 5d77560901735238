package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgrid-dev/agentgrid/agent"
)

func newRedisDiscovery(t *testing.T) (*RedisDiscovery, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisDiscoveryFromClient(client), mr
}

func TestRedisRegisterAndGetByID(t *testing.T) {
	d, _ := newRedisDiscovery(t)
	ctx := context.Background()

	reg := testRegistration("svc", "search")
	require.NoError(t, d.Register(ctx, reg))

	got, err := d.GetByID(ctx, reg.ID)
	require.NoError(t, err)
	assert.Equal(t, reg.ID, got.ID)
	assert.Equal(t, "svc", got.Name)
	assert.True(t, got.HasCapability("search"))
	assert.False(t, got.RegisteredAt.IsZero())

	_, err = d.GetByID(ctx, agent.NewID())
	assert.ErrorIs(t, err, agent.ErrServiceNotFound)
}

func TestRedisRegisterRejectsEmptyID(t *testing.T) {
	d, _ := newRedisDiscovery(t)

	err := d.Register(context.Background(), Registration{Name: "anonymous"})
	require.Error(t, err)
	// Invalid input, not a lookup miss.
	assert.NotErrorIs(t, err, agent.ErrServiceNotFound)
}

func TestRedisTTLExpiry(t *testing.T) {
	d, mr := newRedisDiscovery(t)
	ctx := context.Background()

	reg := testRegistration("ephemeral", "search")
	reg.TTL = 60 * time.Second
	require.NoError(t, d.Register(ctx, reg))

	found, err := d.Discover(ctx, Query{Capabilities: []string{"search"}})
	require.NoError(t, err)
	require.Len(t, found, 1)

	// Redis enforces the TTL server-side; 61s later the key is gone.
	mr.FastForward(61 * time.Second)

	found, err = d.Discover(ctx, Query{Capabilities: []string{"search"}})
	require.NoError(t, err)
	assert.Empty(t, found)

	_, err = d.GetByID(ctx, reg.ID)
	assert.ErrorIs(t, err, agent.ErrServiceNotFound)
}

func TestRedisHeartbeatRefreshesTTL(t *testing.T) {
	d, mr := newRedisDiscovery(t)
	ctx := context.Background()

	reg := testRegistration("alive")
	reg.TTL = 60 * time.Second
	require.NoError(t, d.Register(ctx, reg))

	mr.FastForward(50 * time.Second)
	require.NoError(t, d.Heartbeat(ctx, reg.ID))

	// 90s after registration, 40s after the heartbeat: still alive.
	mr.FastForward(40 * time.Second)
	_, err := d.GetByID(ctx, reg.ID)
	assert.NoError(t, err)

	// Once the key lapses, the heartbeat cannot tell expired from unknown.
	mr.FastForward(2 * time.Minute)
	err = d.Heartbeat(ctx, reg.ID)
	assert.ErrorIs(t, err, agent.ErrServiceNotFound)
}

func TestRedisDeregister(t *testing.T) {
	d, _ := newRedisDiscovery(t)
	ctx := context.Background()

	reg := testRegistration("gone")
	require.NoError(t, d.Register(ctx, reg))
	require.NoError(t, d.Deregister(ctx, reg.ID))

	_, err := d.GetByID(ctx, reg.ID)
	assert.ErrorIs(t, err, agent.ErrServiceNotFound)
	assert.ErrorIs(t, d.Deregister(ctx, reg.ID), agent.ErrServiceNotFound)
}

func TestRedisDiscoverFilters(t *testing.T) {
	d, _ := newRedisDiscovery(t)
	ctx := context.Background()

	search := testRegistration("searcher", "search")
	index := testRegistration("indexer", "index")
	both := testRegistration("hybrid", "search", "index")
	require.NoError(t, d.Register(ctx, search))
	require.NoError(t, d.Register(ctx, index))
	require.NoError(t, d.Register(ctx, both))

	found, err := d.Discover(ctx, Query{Capabilities: []string{"search"}})
	require.NoError(t, err)
	assert.Len(t, found, 2)

	// All listed capabilities are required; only hybrid has both.
	found, err = d.Discover(ctx, Query{Capabilities: []string{"search", "index"}})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, both.ID, found[0].ID)

	all, err := d.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRedisEvents(t *testing.T) {
	d, _ := newRedisDiscovery(t)
	ctx := context.Background()

	var events []EventType
	unsubscribe := d.Subscribe(func(ev Event) {
		events = append(events, ev.Type)
	})
	defer unsubscribe()

	reg := testRegistration("noisy")
	require.NoError(t, d.Register(ctx, reg))
	require.NoError(t, d.Register(ctx, reg))
	require.NoError(t, d.Deregister(ctx, reg.ID))

	assert.Equal(t, []EventType{EventRegistered, EventUpdated, EventDeregistered}, events)
}

func TestRedisKeyPrefixIsolation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	a := NewRedisDiscoveryFromClient(client, WithKeyPrefix("grid-a:"))
	b := NewRedisDiscoveryFromClient(client, WithKeyPrefix("grid-b:"))
	ctx := context.Background()

	reg := testRegistration("scoped")
	require.NoError(t, a.Register(ctx, reg))

	_, err := b.GetByID(ctx, reg.ID)
	assert.ErrorIs(t, err, agent.ErrServiceNotFound)

	all, err := a.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
