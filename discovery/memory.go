package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/agentgrid-dev/agentgrid/agent"
)

// DefaultSweepSchedule is the cron schedule for the eager expiry sweeper.
const DefaultSweepSchedule = "@every 5s"

// MemoryOption configures an InMemoryDiscovery.
type MemoryOption func(*InMemoryDiscovery)

// WithClock injects a time source. Tests use this to advance time past TTLs
// without sleeping.
func WithClock(now func() time.Time) MemoryOption {
	return func(d *InMemoryDiscovery) { d.now = now }
}

// InMemoryDiscovery is the reference Discovery backend: a mutex-guarded map
// with lazy expiry on access and an optional eager sweeper.
type InMemoryDiscovery struct {
	now func() time.Time

	mu   sync.RWMutex
	regs map[agent.ID]Registration

	listenerMu sync.Mutex
	listeners  map[int]Listener
	nextID     int

	cron *cron.Cron
}

// NewInMemoryDiscovery creates an empty in-memory registry.
func NewInMemoryDiscovery(opts ...MemoryOption) *InMemoryDiscovery {
	d := &InMemoryDiscovery{
		now:       time.Now,
		regs:      make(map[agent.ID]Registration),
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register inserts or updates a registration. Updates keep the original
// RegisteredAt and fire EventUpdated.
func (d *InMemoryDiscovery) Register(_ context.Context, reg Registration) error {
	if reg.ID == "" {
		return errors.New("invalid registration: missing ID")
	}
	if reg.TTL <= 0 {
		reg.TTL = agent.DefaultTTL
	}

	now := d.now()
	d.mu.Lock()
	prev, exists := d.regs[reg.ID]
	if exists && !d.expiredLocked(prev, now) {
		reg.RegisteredAt = prev.RegisteredAt
	} else {
		exists = false
		reg.RegisteredAt = now
	}
	reg.ExpiresAt = now.Add(reg.TTL)
	d.regs[reg.ID] = reg
	d.mu.Unlock()

	if exists {
		d.notify(Event{Type: EventUpdated, Registration: reg, At: now})
	} else {
		d.notify(Event{Type: EventRegistered, Registration: reg, At: now})
	}
	return nil
}

// Deregister removes a registration.
func (d *InMemoryDiscovery) Deregister(_ context.Context, id agent.ID) error {
	now := d.now()
	d.mu.Lock()
	reg, ok := d.regs[id]
	if ok {
		delete(d.regs, id)
	}
	d.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", agent.ErrServiceNotFound, id)
	}
	d.notify(Event{Type: EventDeregistered, Registration: reg, At: now})
	return nil
}

// Heartbeat extends liveness by the registration's TTL. A heartbeat that
// arrives after expiry evicts the registration and fails with
// agent.ErrServiceExpired; the agent must re-register.
func (d *InMemoryDiscovery) Heartbeat(_ context.Context, id agent.ID) error {
	now := d.now()
	d.mu.Lock()
	reg, ok := d.regs[id]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", agent.ErrServiceNotFound, id)
	}
	if d.expiredLocked(reg, now) {
		delete(d.regs, id)
		d.mu.Unlock()
		d.notify(Event{Type: EventExpired, Registration: reg, At: now})
		return fmt.Errorf("%w: %s", agent.ErrServiceExpired, id)
	}
	reg.ExpiresAt = now.Add(reg.TTL)
	d.regs[id] = reg
	d.mu.Unlock()
	return nil
}

// GetByID returns a single alive registration. Expired entries are evicted on
// access and reported as agent.ErrServiceExpired.
func (d *InMemoryDiscovery) GetByID(_ context.Context, id agent.ID) (Registration, error) {
	now := d.now()
	d.mu.Lock()
	reg, ok := d.regs[id]
	if ok && d.expiredLocked(reg, now) {
		delete(d.regs, id)
		d.mu.Unlock()
		d.notify(Event{Type: EventExpired, Registration: reg, At: now})
		return Registration{}, fmt.Errorf("%w: %s", agent.ErrServiceExpired, id)
	}
	d.mu.Unlock()

	if !ok {
		return Registration{}, fmt.Errorf("%w: %s", agent.ErrServiceNotFound, id)
	}
	return reg, nil
}

// Discover returns all alive registrations matching the query, evicting
// anything whose TTL lapsed.
func (d *InMemoryDiscovery) Discover(_ context.Context, q Query) ([]Registration, error) {
	alive, expired := d.partition()
	for _, reg := range expired {
		d.notify(Event{Type: EventExpired, Registration: reg, At: d.now()})
	}

	var out []Registration
	for _, reg := range alive {
		if q.Matches(reg) {
			out = append(out, reg)
		}
	}
	return out, nil
}

// All returns every alive registration.
func (d *InMemoryDiscovery) All(ctx context.Context) ([]Registration, error) {
	return d.Discover(ctx, Query{})
}

// Subscribe installs a listener and returns its removal function.
func (d *InMemoryDiscovery) Subscribe(l Listener) func() {
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

// Sweep eagerly evicts every expired registration and fires EventExpired for
// each. Lazy eviction already keeps reads correct; the sweep exists so
// listeners hear about expiry promptly even when nobody is querying.
func (d *InMemoryDiscovery) Sweep() int {
	_, expired := d.partition()
	for _, reg := range expired {
		d.notify(Event{Type: EventExpired, Registration: reg, At: d.now()})
	}
	return len(expired)
}

// StartSweeper runs Sweep on a cron schedule (for example "@every 5s"; empty
// uses DefaultSweepSchedule). It returns a stop function. Starting a second
// sweeper replaces the first.
func (d *InMemoryDiscovery) StartSweeper(schedule string) (func(), error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { d.Sweep() }); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}

	d.mu.Lock()
	if d.cron != nil {
		d.cron.Stop()
	}
	d.cron = c
	d.mu.Unlock()

	c.Start()
	return func() { <-c.Stop().Done() }, nil
}

// partition splits the registry into alive and evicted-expired entries.
func (d *InMemoryDiscovery) partition() (alive, expired []Registration) {
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, reg := range d.regs {
		if d.expiredLocked(reg, now) {
			delete(d.regs, id)
			expired = append(expired, reg)
			continue
		}
		alive = append(alive, reg)
	}
	return alive, expired
}

func (d *InMemoryDiscovery) expiredLocked(reg Registration, now time.Time) bool {
	return now.After(reg.ExpiresAt)
}

func (d *InMemoryDiscovery) notify(ev Event) {
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
