// Package socketio implements telegraph.Transport over a Socket.IO v4
// connection using the Engine.IO websocket transport.
package socketio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/zulandar/frontdesk/internal/telegraph"
	"golang.org/x/oauth2"
)

const (
	// defaultPath is the Engine.IO endpoint path.
	defaultPath = "/socket.io/"
	// baseBackoff is the initial backoff duration for reconnection.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff for reconnection.
	maxBackoff = 2 * time.Minute
	// defaultMaxReconnect is the default number of consecutive failed
	// reconnection attempts before giving up.
	defaultMaxReconnect = 10

	handshakeWait   = 10 * time.Second
	writeWait       = 10 * time.Second
	defaultPongWait = 45 * time.Second

	inboundBuffer = 256
	statesBuffer  = 16
)

// Opts holds configuration for creating a Socket.IO transport.
type Opts struct {
	// URL is the backend base URL. A path component selects the namespace
	// when Namespace is empty, e.g. "https://api.example.com/atendimento".
	URL          string
	Path         string             // Engine.IO path (default "/socket.io/")
	Namespace    string             // Socket.IO namespace (default from URL, else "/")
	TokenSource  oauth2.TokenSource // optional; sent as auth token and bearer header
	Dialer       *websocket.Dialer  // optional; default websocket.DefaultDialer
	MaxReconnect int                // max consecutive reconnection attempts (default 10)
}

// Transport is a Socket.IO client bound to a single namespace.
type Transport struct {
	endpoint     string
	namespace    string
	tokens       oauth2.TokenSource
	dialer       *websocket.Dialer
	baseBackoff  time.Duration
	maxBackoff   time.Duration
	maxReconnect int

	inbound chan telegraph.Event
	states  chan telegraph.ConnState

	mu        sync.Mutex
	conn      *websocket.Conn
	open      openPayload
	connected bool
	listening bool
	closed    bool
	detached  map[string]bool
	cancel    context.CancelFunc
	done      chan struct{}

	writeMu sync.Mutex
}

// New creates a Socket.IO transport. Call Connect to open the connection.
func New(opts Opts) (*Transport, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("socketio: url is required")
	}
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("socketio: parse url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("socketio: unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("socketio: url %q has no host", opts.URL)
	}

	ns := opts.Namespace
	if ns == "" && u.Path != "" && u.Path != "/" {
		ns = u.Path
	}
	if ns == "" {
		ns = "/"
	}
	if ns[0] != '/' {
		ns = "/" + ns
	}

	path := opts.Path
	if path == "" {
		path = defaultPath
	}
	u.Path = path
	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()

	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	maxReconnect := opts.MaxReconnect
	if maxReconnect <= 0 {
		maxReconnect = defaultMaxReconnect
	}

	return &Transport{
		endpoint:     u.String(),
		namespace:    ns,
		tokens:       opts.TokenSource,
		dialer:       dialer,
		baseBackoff:  baseBackoff,
		maxBackoff:   maxBackoff,
		maxReconnect: maxReconnect,
		inbound:      make(chan telegraph.Event, inboundBuffer),
		states:       make(chan telegraph.ConnState, statesBuffer),
		detached:     make(map[string]bool),
	}, nil
}

// Endpoint returns the websocket URL the transport dials.
func (t *Transport) Endpoint() string { return t.endpoint }

// Namespace returns the Socket.IO namespace the transport joins.
func (t *Transport) Namespace() string { return t.namespace }

// States returns the connection state stream.
func (t *Transport) States() <-chan telegraph.ConnState { return t.states }

// Connect dials the backend and completes the Engine.IO and namespace
// handshakes.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return fmt.Errorf("socketio: transport closed")
	}
	t.mu.Unlock()

	t.setState(telegraph.StateConnecting)
	conn, open, err := t.dial(ctx)
	if err != nil {
		t.setState(telegraph.StateError)
		return fmt.Errorf("socketio: connect: %w", err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		conn.Close()
		return fmt.Errorf("socketio: transport closed")
	}
	t.conn = conn
	t.open = open
	t.connected = true
	t.mu.Unlock()

	t.setState(telegraph.StateConnected)
	return nil
}

// Listen starts the read loop and returns the inbound event stream. The
// stream is closed when ctx is cancelled, the transport is closed, or
// reconnection gives up.
func (t *Transport) Listen(ctx context.Context) (<-chan telegraph.Event, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return nil, fmt.Errorf("socketio: not connected")
	}
	if t.listening {
		return t.inbound, nil
	}
	listenCtx, cancel := context.WithCancel(ctx)
	t.listening = true
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.run(listenCtx, t.conn, t.open)
	return t.inbound, nil
}

// Emit sends an EVENT packet on the namespace. Joining or starting a
// session re-attaches it if it was detached.
func (t *Transport) Emit(ctx context.Context, name string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return telegraph.ErrNotConnected
	}

	frame, err := encodeEvent(t.namespace, name, payload)
	if err != nil {
		return err
	}
	t.reattach(payload)
	if err := t.write(conn, frame); err != nil {
		return fmt.Errorf("socketio: emit %s: %w", name, err)
	}
	return nil
}

// Detach drops inbound events addressed to sessionID until the session is
// joined or started again through Emit.
func (t *Transport) Detach(sessionID string) {
	if sessionID == "" {
		return
	}
	t.mu.Lock()
	t.detached[sessionID] = true
	t.mu.Unlock()
}

// Close disconnects from the namespace and shuts the connection down.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	cancel, done, listening := t.cancel, t.done, t.listening
	t.conn = nil
	t.connected = false
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		if err := t.write(conn, encodeDisconnect(t.namespace)); err != nil {
			log.Printf("socketio: send disconnect: %v", err)
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}
	if listening {
		<-done
	} else {
		close(t.inbound)
	}
	return nil
}

// dial opens a websocket and completes both handshakes.
func (t *Transport) dial(ctx context.Context) (*websocket.Conn, openPayload, error) {
	header := http.Header{}
	var auth any
	if t.tokens != nil {
		tok, err := t.tokens.Token()
		if err != nil {
			return nil, openPayload{}, fmt.Errorf("fetch token: %w", err)
		}
		header.Set("Authorization", "Bearer "+tok.AccessToken)
		auth = map[string]string{"token": tok.AccessToken}
	}

	conn, resp, err := t.dialer.DialContext(ctx, t.endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, openPayload{}, fmt.Errorf("dial %s: %w (status %s)", t.endpoint, err, resp.Status)
		}
		return nil, openPayload{}, fmt.Errorf("dial %s: %w", t.endpoint, err)
	}

	open, err := t.handshake(conn, auth)
	if err != nil {
		conn.Close()
		return nil, openPayload{}, err
	}
	return conn, open, nil
}

func (t *Transport) handshake(conn *websocket.Conn, auth any) (openPayload, error) {
	conn.SetReadDeadline(time.Now().Add(handshakeWait))

	_, data, err := conn.ReadMessage()
	if err != nil {
		return openPayload{}, fmt.Errorf("read open packet: %w", err)
	}
	p, err := decodePacket(data)
	if err != nil {
		return openPayload{}, err
	}
	if p.Engine != engineOpen {
		return openPayload{}, fmt.Errorf("expected open packet, got %q", p.Engine)
	}
	var open openPayload
	if err := json.Unmarshal(p.Data, &open); err != nil {
		return openPayload{}, fmt.Errorf("decode open packet: %w", err)
	}

	frame, err := encodeConnect(t.namespace, auth)
	if err != nil {
		return openPayload{}, err
	}
	if err := t.write(conn, frame); err != nil {
		return openPayload{}, fmt.Errorf("send connect: %w", err)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return openPayload{}, fmt.Errorf("await namespace connect: %w", err)
		}
		p, err := decodePacket(data)
		if err != nil {
			return openPayload{}, err
		}
		if p.Engine == enginePing {
			if err := t.write(conn, []byte{enginePong}); err != nil {
				return openPayload{}, fmt.Errorf("send pong: %w", err)
			}
			continue
		}
		if p.Engine != engineMessage || p.Namespace != t.namespace {
			continue
		}
		switch p.Type {
		case packetConnect:
			return open, nil
		case packetConnectError:
			var ce connectError
			if err := json.Unmarshal(p.Data, &ce); err != nil || ce.Message == "" {
				return openPayload{}, fmt.Errorf("namespace %s refused the connection", t.namespace)
			}
			return openPayload{}, fmt.Errorf("namespace %s refused the connection: %s", t.namespace, ce.Message)
		}
	}
}

// run reads from conn until it fails, then reconnects with exponential
// backoff. It owns the inbound channel and closes it on exit.
func (t *Transport) run(ctx context.Context, conn *websocket.Conn, open openPayload) {
	defer close(t.done)
	defer close(t.inbound)

	for {
		err := t.readLoop(ctx, conn, open)
		conn.Close()
		t.mu.Lock()
		if t.conn == conn {
			t.conn = nil
		}
		t.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		t.setState(telegraph.StateDisconnected)
		log.Printf("socketio: connection lost: %v", err)

		var ok bool
		conn, open, ok = t.reconnect(ctx)
		if !ok {
			return
		}
	}
}

// reconnect dials until it succeeds, the context ends, or the attempt
// budget is spent.
func (t *Transport) reconnect(ctx context.Context) (*websocket.Conn, openPayload, bool) {
	for attempt := 0; attempt < t.maxReconnect; attempt++ {
		wait := time.Duration(math.Pow(2, float64(attempt))) * t.baseBackoff
		if wait > t.maxBackoff {
			wait = t.maxBackoff
		}
		log.Printf("socketio: reconnecting in %v (attempt %d/%d)", wait, attempt+1, t.maxReconnect)

		select {
		case <-ctx.Done():
			return nil, openPayload{}, false
		case <-time.After(wait):
		}

		t.setState(telegraph.StateConnecting)
		conn, open, err := t.dial(ctx)
		if err != nil {
			t.setState(telegraph.StateError)
			log.Printf("socketio: reconnect attempt %d failed: %v", attempt+1, err)
			continue
		}

		t.mu.Lock()
		if t.closed || ctx.Err() != nil {
			t.mu.Unlock()
			conn.Close()
			return nil, openPayload{}, false
		}
		t.conn = conn
		t.mu.Unlock()

		t.setState(telegraph.StateConnected)
		return conn, open, true
	}
	log.Printf("socketio: exhausted %d reconnection attempts, giving up", t.maxReconnect)
	t.setState(telegraph.StateError)
	return nil, openPayload{}, false
}

func (t *Transport) readLoop(ctx context.Context, conn *websocket.Conn, open openPayload) error {
	wait := time.Duration(open.PingInterval+open.PingTimeout) * time.Millisecond
	if wait <= 0 {
		wait = defaultPongWait
	}
	for {
		conn.SetReadDeadline(time.Now().Add(wait))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		p, err := decodePacket(data)
		if err != nil {
			log.Printf("socketio: %v", err)
			continue
		}

		switch p.Engine {
		case enginePing:
			if err := t.write(conn, []byte{enginePong}); err != nil {
				return fmt.Errorf("send pong: %w", err)
			}
		case engineClose:
			return errors.New("server closed the session")
		case engineMessage:
			if p.Namespace != t.namespace {
				continue
			}
			switch p.Type {
			case packetEvent:
				t.deliver(ctx, p)
			case packetDisconnect:
				return fmt.Errorf("server disconnected namespace %s", t.namespace)
			}
		}
	}
}

func (t *Transport) deliver(ctx context.Context, p packet) {
	name, data, err := eventArgs(p.Data)
	if err != nil {
		log.Printf("socketio: %v", err)
		return
	}
	if t.isDetached(data) {
		return
	}
	ev := telegraph.Event{Name: name, Data: data, ReceivedAt: time.Now()}
	select {
	case t.inbound <- ev:
	case <-ctx.Done():
	}
}

// sessionRef picks the session keys out of a per-session payload.
type sessionRef struct {
	SessionID  string `json:"sessao_id"`
	ProtocolID string `json:"protocolo_id"`
}

func (t *Transport) isDetached(data json.RawMessage) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.detached) == 0 || len(data) == 0 || data[0] != '{' {
		return false
	}
	var ref sessionRef
	if err := json.Unmarshal(data, &ref); err != nil {
		return false
	}
	return (ref.SessionID != "" && t.detached[ref.SessionID]) ||
		(ref.ProtocolID != "" && t.detached[ref.ProtocolID])
}

func (t *Transport) reattach(payload any) {
	var id string
	switch p := payload.(type) {
	case telegraph.JoinPayload:
		id = p.SessionID
	case *telegraph.JoinPayload:
		id = p.SessionID
	case telegraph.StartPayload:
		id = p.SessionID
	case *telegraph.StartPayload:
		id = p.SessionID
	default:
		return
	}
	t.mu.Lock()
	delete(t.detached, id)
	t.mu.Unlock()
}

func (t *Transport) write(conn *websocket.Conn, frame []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, frame)
}

func (t *Transport) setState(s telegraph.ConnState) {
	select {
	case t.states <- s:
	default:
		log.Printf("socketio: state buffer full, dropping %s", s)
	}
}
