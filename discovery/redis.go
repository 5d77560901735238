package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agentgrid-dev/agentgrid/agent"
)

const defaultKeyPrefix = "agentgrid:discovery:"

// RedisDiscovery is a Discovery backend on Redis. Registrations are stored as
// JSON values with a native Redis TTL, so expiry is enforced by the server and
// shared across processes. A lapsed registration simply vanishes; lookups
// after expiry report agent.ErrServiceNotFound because Redis cannot
// distinguish expired from never-registered.
//
// Subscribe only observes events produced through this instance. Remote
// registrations and server-side expiry are not surfaced as events.
type RedisDiscovery struct {
	client    redis.UniversalClient
	keyPrefix string

	listenerMu sync.Mutex
	listeners  map[int]Listener
	nextID     int
}

// RedisOption configures a RedisDiscovery.
type RedisOption func(*RedisDiscovery)

// WithKeyPrefix overrides the default "agentgrid:discovery:" key prefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(d *RedisDiscovery) { d.keyPrefix = prefix }
}

// NewRedisDiscovery connects to Redis at the given address.
func NewRedisDiscovery(addr string, opts ...RedisOption) (*RedisDiscovery, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return NewRedisDiscoveryFromClient(client, opts...), nil
}

// NewRedisDiscoveryFromClient wraps an existing client. Used by tests with
// miniredis.
func NewRedisDiscoveryFromClient(client redis.UniversalClient, opts ...RedisOption) *RedisDiscovery {
	d := &RedisDiscovery{
		client:    client,
		keyPrefix: defaultKeyPrefix,
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *RedisDiscovery) key(id agent.ID) string {
	return d.keyPrefix + id.String()
}

// Register inserts or updates a registration with a server-side TTL.
func (d *RedisDiscovery) Register(ctx context.Context, reg Registration) error {
	if reg.ID == "" {
		return errors.New("invalid registration: missing ID")
	}
	if reg.TTL <= 0 {
		reg.TTL = agent.DefaultTTL
	}

	now := time.Now().UTC()
	key := d.key(reg.ID)

	existing, err := d.client.Get(ctx, key).Bytes()
	exists := err == nil
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to check registration %s: %w", reg.ID, err)
	}

	if exists {
		var prev Registration
		if jsonErr := json.Unmarshal(existing, &prev); jsonErr == nil {
			reg.RegisteredAt = prev.RegisteredAt
		}
	}
	if reg.RegisteredAt.IsZero() {
		reg.RegisteredAt = now
	}
	reg.ExpiresAt = now.Add(reg.TTL)

	data, err := json.Marshal(reg)
	if err != nil {
		return fmt.Errorf("failed to marshal registration %s: %w", reg.ID, err)
	}
	if err := d.client.Set(ctx, key, data, reg.TTL).Err(); err != nil {
		return fmt.Errorf("failed to store registration %s: %w", reg.ID, err)
	}

	if exists {
		d.notify(Event{Type: EventUpdated, Registration: reg, At: now})
	} else {
		d.notify(Event{Type: EventRegistered, Registration: reg, At: now})
	}
	return nil
}

// Deregister removes a registration.
func (d *RedisDiscovery) Deregister(ctx context.Context, id agent.ID) error {
	key := d.key(id)

	data, err := d.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %s", agent.ErrServiceNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to load registration %s: %w", id, err)
	}
	if err := d.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete registration %s: %w", id, err)
	}

	var reg Registration
	if jsonErr := json.Unmarshal(data, &reg); jsonErr != nil {
		reg = Registration{ID: id}
	}
	d.notify(Event{Type: EventDeregistered, Registration: reg, At: time.Now().UTC()})
	return nil
}

// Heartbeat refreshes the server-side TTL. A registration Redis has already
// expired is indistinguishable from one never made, so both fail with
// agent.ErrServiceNotFound.
func (d *RedisDiscovery) Heartbeat(ctx context.Context, id agent.ID) error {
	key := d.key(id)

	data, err := d.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %s", agent.ErrServiceNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to load registration %s: %w", id, err)
	}

	var reg Registration
	if err := json.Unmarshal(data, &reg); err != nil {
		return fmt.Errorf("corrupt registration %s: %w", id, err)
	}
	if reg.TTL <= 0 {
		reg.TTL = agent.DefaultTTL
	}
	reg.ExpiresAt = time.Now().UTC().Add(reg.TTL)

	updated, err := json.Marshal(reg)
	if err != nil {
		return fmt.Errorf("failed to marshal registration %s: %w", id, err)
	}
	if err := d.client.Set(ctx, key, updated, reg.TTL).Err(); err != nil {
		return fmt.Errorf("failed to refresh registration %s: %w", id, err)
	}
	return nil
}

// GetByID returns a single alive registration.
func (d *RedisDiscovery) GetByID(ctx context.Context, id agent.ID) (Registration, error) {
	data, err := d.client.Get(ctx, d.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Registration{}, fmt.Errorf("%w: %s", agent.ErrServiceNotFound, id)
	}
	if err != nil {
		return Registration{}, fmt.Errorf("failed to load registration %s: %w", id, err)
	}

	var reg Registration
	if err := json.Unmarshal(data, &reg); err != nil {
		return Registration{}, fmt.Errorf("corrupt registration %s: %w", id, err)
	}
	return reg, nil
}

// Discover scans the key space and filters client-side. SCAN keeps the server
// responsive on large registries, at the cost of a weakly consistent snapshot.
func (d *RedisDiscovery) Discover(ctx context.Context, q Query) ([]Registration, error) {
	var out []Registration

	iter := d.client.Scan(ctx, 0, d.keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := d.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			// Expired between SCAN and GET.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load registration %s: %w", iter.Val(), err)
		}

		var reg Registration
		if err := json.Unmarshal(data, &reg); err != nil {
			continue
		}
		if q.Matches(reg) {
			out = append(out, reg)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan registrations: %w", err)
	}
	return out, nil
}

// All returns every alive registration.
func (d *RedisDiscovery) All(ctx context.Context) ([]Registration, error) {
	return d.Discover(ctx, Query{})
}

// Subscribe installs a listener for events produced through this instance.
func (d *RedisDiscovery) Subscribe(l Listener) func() {
	d.listenerMu.Lock()
	id := d.nextID
	d.nextID++
	d.listeners[id] = l
	d.listenerMu.Unlock()

	return func() {
		d.listenerMu.Lock()
		delete(d.listeners, id)
		d.listenerMu.Unlock()
	}
}

// Ping probes the backend; wire it into a health check.
func (d *RedisDiscovery) Ping(ctx context.Context) error {
	return d.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (d *RedisDiscovery) Close() error {
	return d.client.Close()
}

func (d *RedisDiscovery) notify(ev Event) {
	d.listenerMu.Lock()
	listeners := make([]Listener, 0, len(d.listeners))
	for _, l := range d.listeners {
		listeners = append(listeners, l)
	}
	d.listenerMu.Unlock()

	for _, l := range listeners {
		l(ev)
	}
}
