package agent

import "errors"

// Error taxonomy for the network layer. Callers match with errors.Is; the
// network and router wrap these with the offending agent ID.
var (
	// ErrAgentNotFound is returned when an operation references an ID absent
	// from the registry or discovery.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrAlreadyRegistered is returned by AddAgent on an ID collision.
	ErrAlreadyRegistered = errors.New("agent already registered")

	// ErrAlreadyRunning is returned by Start on a node that is Running.
	ErrAlreadyRunning = errors.New("agent already running")

	// ErrNetworkUnavailable is returned when a node not attached to a
	// network is asked to send.
	ErrNetworkUnavailable = errors.New("agent not attached to a network")

	// ErrRoutingFailed is returned when a receiver is unreachable per the
	// topology or its inbox is permanently closed.
	ErrRoutingFailed = errors.New("routing failed")

	// ErrServiceNotFound is returned by discovery lookups for IDs that were
	// never registered or have been deregistered.
	ErrServiceNotFound = errors.New("service not found")

	// ErrServiceExpired is returned by discovery lookups when the TTL has
	// lapsed without a heartbeat.
	ErrServiceExpired = errors.New("service expired")
)
