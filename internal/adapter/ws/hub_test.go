package ws

import (
	"context"
	"log/slog"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestNewHub(t *testing.T) {
	hub := NewHub(testLogger(), nil)
	if hub == nil {
		t.Fatal("expected non-nil hub")
	}
	if hub.ConnectionCount() != 0 {
		t.Fatalf("expected 0 connections, got %d", hub.ConnectionCount())
	}
}

func TestHubBroadcastNoConnections(t *testing.T) {
	hub := NewHub(testLogger(), nil)

	// Broadcast with no connections should not panic.
	hub.Broadcast(context.Background(), Message{
		Type:    "test",
		Payload: []byte(`{"key":"value"}`),
	})
}

func TestHubBroadcastEventNoConnections(t *testing.T) {
	hub := NewHub(testLogger(), nil)

	hub.BroadcastEvent(context.Background(), EventAgentStatus, AgentStatusEvent{
		AgentID: "agent-1",
		Status:  "active",
	})
}

func TestHubBroadcastEventMarshalError(t *testing.T) {
	hub := NewHub(testLogger(), nil)

	// A channel cannot be marshaled to JSON — should log error, not panic.
	hub.BroadcastEvent(context.Background(), "bad", make(chan int))
}
