package agent

import (
	"testing"
)

func TestNewMessage(t *testing.T) {
	sender := NewID()
	receiver := NewID()

	msg := NewMessage(sender, []ID{receiver}, MessageTypeText, "hello")

	if msg.ID == "" {
		t.Error("message ID is empty")
	}
	if msg.Sender != sender {
		t.Errorf("Sender = %v, want %v", msg.Sender, sender)
	}
	if len(msg.Receivers) != 1 || msg.Receivers[0] != receiver {
		t.Errorf("Receivers = %v, want [%v]", msg.Receivers, receiver)
	}
	if msg.Content != "hello" {
		t.Errorf("Content = %q, want %q", msg.Content, "hello")
	}
	if msg.CreatedAt.IsZero() {
		t.Error("CreatedAt is zero")
	}
	if msg.ReceivedAt != nil || msg.ProcessedAt != nil {
		t.Error("lifecycle stamps should be nil on a fresh message")
	}
}

func TestMessageReply(t *testing.T) {
	sender := NewID()
	receiver := NewID()

	msg := NewMessage(sender, []ID{receiver}, MessageTypeText, "ping")
	reply := msg.Reply("pong")

	if reply.Sender != receiver {
		t.Errorf("reply Sender = %v, want %v", reply.Sender, receiver)
	}
	if len(reply.Receivers) != 1 || reply.Receivers[0] != sender {
		t.Errorf("reply Receivers = %v, want [%v]", reply.Receivers, sender)
	}
	if reply.Content != "pong" {
		t.Errorf("reply Content = %q, want %q", reply.Content, "pong")
	}
	if reply.Metadata["in_reply_to"] != msg.ID {
		t.Errorf("in_reply_to = %q, want %q", reply.Metadata["in_reply_to"], msg.ID)
	}
	if reply.ID == msg.ID {
		t.Error("reply reused the original message ID")
	}
}

func TestMessageClone(t *testing.T) {
	msg := NewMessage(NewID(), []ID{NewID(), NewID()}, MessageTypeCommand, "payload")
	msg.WithMetadata("key", "value")
	msg.MarkReceived()

	clone := msg.Clone()

	if clone.ID != msg.ID || clone.Content != msg.Content {
		t.Error("clone does not match original")
	}

	// Mutating the clone must not leak into the original.
	clone.Receivers[0] = NewID()
	clone.Metadata["key"] = "changed"
	clone.MarkProcessed()

	if msg.Receivers[0] == clone.Receivers[0] {
		t.Error("clone shares the Receivers slice")
	}
	if msg.Metadata["key"] != "value" {
		t.Error("clone shares the Metadata map")
	}
	if msg.ProcessedAt != nil {
		t.Error("clone shares lifecycle stamps")
	}
}

func TestMessageWithMetadata(t *testing.T) {
	msg := &Message{}
	msg.WithMetadata("a", "1").WithMetadata("b", "2")

	if msg.Metadata["a"] != "1" || msg.Metadata["b"] != "2" {
		t.Errorf("Metadata = %v, want a=1 b=2", msg.Metadata)
	}
}
