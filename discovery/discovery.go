// Package discovery implements the capability-based service registry with
// TTL liveness. Backends: in-memory (reference) and Redis.
package discovery

import (
	"context"
	"time"

	"github.com/agentgrid-dev/agentgrid/agent"
)

// Registration is one agent's advertised presence: who it is, what it can do,
// and how long it stays alive without a heartbeat.
type Registration struct {
	ID           agent.ID           `json:"id"`
	Name         string             `json:"name"`
	Type         agent.Type         `json:"type"`
	Capabilities []agent.Capability `json:"capabilities,omitempty"`
	Metadata     map[string]string  `json:"metadata,omitempty"`

	// TTL is the liveness window. A registration not refreshed within TTL is
	// treated as expired. Zero means agent.DefaultTTL.
	TTL time.Duration `json:"ttl"`

	// RegisteredAt is set by the backend on first registration.
	RegisteredAt time.Time `json:"registered_at"`

	// ExpiresAt is maintained by the backend; refreshed on every heartbeat.
	ExpiresAt time.Time `json:"expires_at"`
}

// RegistrationFromConfig builds a registration from a node's identity and
// configuration.
func RegistrationFromConfig(id agent.ID, cfg agent.Config) Registration {
	return Registration{
		ID:           id,
		Name:         cfg.Name,
		Type:         cfg.Type,
		Capabilities: append([]agent.Capability(nil), cfg.Capabilities...),
		Metadata:     cfg.Metadata,
		TTL:          cfg.TTL,
	}
}

// HasCapability reports whether the registration advertises the named
// capability.
func (r Registration) HasCapability(name string) bool {
	for _, c := range r.Capabilities {
		if c.Name == name {
			return true
		}
	}
	return false
}

// Query filters registrations. Zero-valued fields match everything, so the
// zero Query returns all alive registrations.
type Query struct {
	// Name matches the exact registration name.
	Name string

	// Capabilities lists required capability names. A registration matches
	// only if it advertises every one of them; extras on the registration
	// are fine.
	Capabilities []string

	// Type matches the agent type.
	Type agent.Type

	// Metadata entries must all be present with equal values.
	Metadata map[string]string
}

// Matches reports whether reg satisfies every set field of the query.
func (q Query) Matches(reg Registration) bool {
	if q.Name != "" && reg.Name != q.Name {
		return false
	}
	for _, name := range q.Capabilities {
		if !reg.HasCapability(name) {
			return false
		}
	}
	if q.Type != "" && reg.Type != q.Type {
		return false
	}
	for k, v := range q.Metadata {
		if reg.Metadata[k] != v {
			return false
		}
	}
	return true
}

// EventType tags a discovery state change.
type EventType string

const (
	EventRegistered   EventType = "registered"
	EventUpdated      EventType = "updated"
	EventDeregistered EventType = "deregistered"
	EventExpired      EventType = "expired"
)

// Event notifies subscribers of a discovery state change.
type Event struct {
	Type         EventType
	Registration Registration
	At           time.Time
}

// Listener receives discovery events. Listeners run synchronously on the
// mutating goroutine and must not call back into the Discovery.
type Listener func(Event)

// Discovery is the capability/TTL service registry. Registrations expire
// unless refreshed by Heartbeat within their TTL.
//
// Implementations must be safe for concurrent use.
type Discovery interface {
	// Register inserts a registration, or updates it if the ID is already
	// present. An update fires EventUpdated instead of EventRegistered.
	Register(ctx context.Context, reg Registration) error

	// Deregister removes a registration. Unknown IDs return
	// agent.ErrServiceNotFound.
	Deregister(ctx context.Context, id agent.ID) error

	// Heartbeat extends the registration's liveness by its TTL. Expired
	// registrations return agent.ErrServiceExpired; unknown ones
	// agent.ErrServiceNotFound.
	Heartbeat(ctx context.Context, id agent.ID) error

	// GetByID returns a single alive registration.
	GetByID(ctx context.Context, id agent.ID) (Registration, error)

	// Discover returns all alive registrations matching the query.
	Discover(ctx context.Context, q Query) ([]Registration, error)

	// All returns every alive registration.
	All(ctx context.Context) ([]Registration, error)

	// Subscribe installs a listener and returns a function that removes it.
	Subscribe(l Listener) (unsubscribe func())
}
