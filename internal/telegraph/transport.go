// Package telegraph connects the operator desk to the chat backend. It
// decodes inbound backend events into registry updates, turns operator
// intents into outbound events, and posts queue alerts to chat platforms
// (Slack, Discord, etc.).
package telegraph

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotConnected is returned by transports asked to emit while offline.
var ErrNotConnected = errors.New("telegraph: transport not connected")

// Transport is the interface that backend connectors must satisfy. A
// transport owns one logical connection to the chat backend and exposes it
// as a stream of named events.
type Transport interface {
	// Connect establishes the connection. Reconnection after a drop is the
	// transport's own responsibility.
	Connect(ctx context.Context) error

	// Listen returns a channel of inbound events in delivery order. The
	// channel is closed when the context is cancelled or the transport is
	// closed. Listen must only be called after Connect.
	Listen(ctx context.Context) (<-chan Event, error)

	// Emit sends a named event with a JSON-encodable payload.
	Emit(ctx context.Context, name string, payload any) error

	// Detach stops delivering inbound events for sessionID until the
	// session is joined or started again.
	Detach(sessionID string)

	// Close gracefully shuts down the connection.
	Close() error
}

// Event is one inbound backend event.
type Event struct {
	Name       string          // wire event name, e.g. "novaMensagem"
	Data       json.RawMessage // raw payload
	ReceivedAt time.Time
}

// ConnState is the lifecycle state of a transport connection.
type ConnState string

const (
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateError        ConnState = "error"
	StateDisconnected ConnState = "disconnected"
)

// StateReporter is an optional interface that transports can implement to
// expose connection state transitions. The daemon uses Connected
// transitions to re-request the open session list.
type StateReporter interface {
	States() <-chan ConnState
}

// Notifier posts operator-facing notices (walk-up alerts, queue digests)
// to a chat platform.
type Notifier interface {
	Notify(ctx context.Context, msg OutboundMessage) error
}

// OutboundMessage represents a notice to be posted to a chat platform.
type OutboundMessage struct {
	Channel string           // target channel; empty uses the notifier default
	Text    string           // message text (platform-native formatting)
	Events  []FormattedEvent // structured attachments
}

// FormattedEvent represents a desk event formatted for display in chat.
type FormattedEvent struct {
	Title    string  // headline (e.g. "Novo atendimento: Ana")
	Body     string  // detail text
	Severity string  // "info", "warning", "error", "success"
	Color    string  // sidebar color hint (e.g. "#36a64f" for success)
	Fields   []Field // key-value metadata pairs
}

// Field is a key-value pair displayed in an event attachment.
type Field struct {
	Name  string
	Value string
	Short bool // hint: render side-by-side with another field
}
