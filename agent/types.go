package agent

import "github.com/google/uuid"

// ID is an opaque, globally unique agent identifier. It is generated once at
// node construction and used as the primary key across the registry, the
// topology, discovery records, and message routing addresses.
type ID string

// NewID generates a fresh random agent ID.
func NewID() ID {
	return ID(uuid.New().String())
}

// String returns the ID as a plain string.
func (id ID) String() string { return string(id) }

// Type classifies an agent for discovery filtering. Routing never depends on
// the agent type.
type Type string

const (
	TypeRegular    Type = "regular"
	TypeSupervisor Type = "supervisor"
	TypeWorker     Type = "worker"
)

// Status is the node lifecycle state. A node is created Initialized, flips to
// Running when its processing goroutine starts, and ends Stopped. There is no
// transition out of Stopped; create a fresh Node instead.
type Status string

const (
	StatusInitialized Status = "initialized"
	StatusRunning     Status = "running"
	StatusStopped     Status = "stopped"
)

// Capability is a named, described tag attached to an agent at construction.
// It is the unit that discovery queries filter on.
type Capability struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}
