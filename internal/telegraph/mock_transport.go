package telegraph

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Emitted is one outbound event recorded by MockTransport.
type Emitted struct {
	Name    string
	Payload any
}

// MockTransport implements Transport and StateReporter for testing. It
// records emitted events and allows simulating inbound events via
// SimulateEvent.
type MockTransport struct {
	mu        sync.Mutex
	connected bool
	closed    bool
	inbound   chan Event
	states    chan ConnState
	emitted   []Emitted
	detached  []string
	emitErr   error
}

// NewMockTransport creates a MockTransport with buffered inbound and state channels.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		inbound: make(chan Event, 100),
		states:  make(chan ConnState, 10),
	}
}

// Connect marks the transport as connected.
func (m *MockTransport) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mock transport: already closed")
	}
	m.connected = true
	return nil
}

// Listen returns the inbound event channel. Must be called after Connect.
func (m *MockTransport) Listen(ctx context.Context) (<-chan Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, fmt.Errorf("mock transport: not connected")
	}
	return m.inbound, nil
}

// States returns the connection state channel.
func (m *MockTransport) States() <-chan ConnState {
	return m.states
}

// Emit records the outbound event, or fails with the error set by FailEmits.
func (m *MockTransport) Emit(ctx context.Context, name string, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	if m.emitErr != nil {
		return m.emitErr
	}
	m.emitted = append(m.emitted, Emitted{Name: name, Payload: payload})
	return nil
}

// Detach records the detached session id.
func (m *MockTransport) Detach(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detached = append(m.detached, sessionID)
}

// Close shuts down the mock transport and closes the inbound channel.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.connected = false
	close(m.inbound)
	return nil
}

// --- Test helpers ---

// SimulateEvent encodes payload and sends it into the inbound channel as if
// it came from the backend. Safe to call from any goroutine.
func (m *MockTransport) SimulateEvent(name string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("mock transport: encode %s: %v", name, err))
	}
	m.inbound <- Event{Name: name, Data: data, ReceivedAt: time.Now()}
}

// SimulateState reports a connection state transition.
func (m *MockTransport) SimulateState(s ConnState) {
	m.states <- s
}

// FailEmits makes every following Emit return err. Pass nil to recover.
func (m *MockTransport) FailEmits(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emitErr = err
}

// LastEmitted returns the most recently emitted event.
// Returns zero value and false if nothing has been emitted.
func (m *MockTransport) LastEmitted() (Emitted, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.emitted) == 0 {
		return Emitted{}, false
	}
	return m.emitted[len(m.emitted)-1], true
}

// EmittedCount returns the number of emitted events.
func (m *MockTransport) EmittedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.emitted)
}

// AllEmitted returns a copy of all emitted events.
func (m *MockTransport) AllEmitted() []Emitted {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Emitted, len(m.emitted))
	copy(out, m.emitted)
	return out
}

// EmittedNamed returns the emitted events with the given name.
func (m *MockTransport) EmittedNamed(name string) []Emitted {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Emitted
	for _, e := range m.emitted {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// Detached returns a copy of the detached session ids.
func (m *MockTransport) Detached() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.detached))
	copy(out, m.detached)
	return out
}

// MockNotifier implements Notifier for testing.
type MockNotifier struct {
	mu   sync.Mutex
	sent []OutboundMessage
	err  error
}

// Notify records msg.
func (n *MockNotifier) Notify(ctx context.Context, msg OutboundMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

// AllSent returns a copy of all notices.
func (n *MockNotifier) AllSent() []OutboundMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]OutboundMessage, len(n.sent))
	copy(out, n.sent)
	return out
}
