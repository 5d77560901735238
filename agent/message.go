package agent

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType tags a message for handler dispatch.
type MessageType string

const (
	MessageTypeText    MessageType = "text"
	MessageTypeCommand MessageType = "command"
	MessageTypeEvent   MessageType = "event"
	MessageTypeCustom  MessageType = "custom"
)

// Message is the envelope exchanged between agents. A message is created once
// by a sender or handler; the framework stamps the lifecycle timestamps as it
// moves through the transport and the consuming handler. Content is never
// mutated in place — replies are new messages derived with Reply.
type Message struct {
	// ID is a unique identifier for this message, automatically generated.
	ID string

	// Sender is the originating agent.
	Sender ID

	// Receivers fan the message out to one or many agents. The router hands
	// each receiver an independent clone with Receivers narrowed to itself.
	Receivers []ID

	// Type selects which handlers process the message.
	Type MessageType

	// Content is the opaque payload.
	Content string

	// Metadata carries optional key-value pairs for correlation and tracing.
	Metadata map[string]string

	// CreatedAt is set when the message is constructed.
	CreatedAt time.Time

	// ReceivedAt is stamped by the receiving node's processing loop.
	ReceivedAt *time.Time

	// ProcessedAt is stamped after all handlers have run.
	ProcessedAt *time.Time
}

// NewMessage creates a message from sender to receivers with a fresh ID and
// CreatedAt stamp.
func NewMessage(sender ID, receivers []ID, msgType MessageType, content string) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Sender:    sender,
		Receivers: receivers,
		Type:      msgType,
		Content:   content,
		Metadata:  make(map[string]string),
		CreatedAt: time.Now().UTC(),
	}
}

// WithMetadata adds a metadata entry and returns the message for chaining.
func (m *Message) WithMetadata(key, value string) *Message {
	if m.Metadata == nil {
		m.Metadata = make(map[string]string)
	}
	m.Metadata[key] = value
	return m
}

// Reply derives a new message addressed back to the sender. The replying
// agent is taken from Receivers, which the router has narrowed to the single
// agent whose handler is producing the reply. The original message ID is
// carried in the "in_reply_to" metadata key.
func (m *Message) Reply(content string) *Message {
	var from ID
	if len(m.Receivers) > 0 {
		from = m.Receivers[0]
	}
	reply := NewMessage(from, []ID{m.Sender}, m.Type, content)
	reply.Metadata["in_reply_to"] = m.ID
	return reply
}

// Clone creates a deep copy. Each receiver in a fan-out gets its own clone so
// mutation by one handler is never visible to another.
func (m *Message) Clone() *Message {
	clone := *m
	clone.Receivers = append([]ID(nil), m.Receivers...)
	clone.Metadata = make(map[string]string, len(m.Metadata))
	for k, v := range m.Metadata {
		clone.Metadata[k] = v
	}
	if m.ReceivedAt != nil {
		t := *m.ReceivedAt
		clone.ReceivedAt = &t
	}
	if m.ProcessedAt != nil {
		t := *m.ProcessedAt
		clone.ProcessedAt = &t
	}
	return &clone
}

// MarkReceived stamps ReceivedAt. Called by the node loop, not by handlers.
func (m *Message) MarkReceived() {
	now := time.Now().UTC()
	m.ReceivedAt = &now
}

// MarkProcessed stamps ProcessedAt. Called by the node loop, not by handlers.
func (m *Message) MarkProcessed() {
	now := time.Now().UTC()
	m.ProcessedAt = &now
}

// String returns a human-readable representation for debugging.
func (m *Message) String() string {
	return fmt.Sprintf("Message{ID:%s, Type:%s, Sender:%s, Receivers:%d}",
		m.ID, m.Type, m.Sender, len(m.Receivers))
}
