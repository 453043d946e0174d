package socketio

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/zulandar/frontdesk/internal/telegraph"
	"golang.org/x/oauth2"
)

// fakeServer speaks just enough Engine.IO/Socket.IO to drive the client.
type fakeServer struct {
	t         *testing.T
	srv       *httptest.Server
	namespace string
	reject    string // non-empty: refuse the namespace connect with this message

	connects chan string      // CONNECT frames from the client
	headers  chan http.Header // upgrade request headers
	frames   chan string      // frames after the handshake
	conns    chan *serverConn
}

type serverConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *serverConn) send(t *testing.T, frame string) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Errorf("server send %q: %v", frame, err)
	}
}

func newFakeServer(t *testing.T, namespace string) *fakeServer {
	t.Helper()
	f := &fakeServer{
		t:         t,
		namespace: namespace,
		connects:  make(chan string, 8),
		headers:   make(chan http.Header, 8),
		frames:    make(chan string, 64),
		conns:     make(chan *serverConn, 8),
	}
	upgrader := websocket.Upgrader{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/socket.io/" || r.URL.Query().Get("EIO") != "4" {
			http.Error(w, "bad endpoint", http.StatusNotFound)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		f.headers <- r.Header.Clone()

		sc := &serverConn{conn: conn}
		sc.send(t, `0{"sid":"eio-1","pingInterval":25000,"pingTimeout":20000,"maxPayload":1000000}`)

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		f.connects <- string(data)
		if f.reject != "" {
			sc.send(t, "44"+nsPrefix(namespace)+`{"message":"`+f.reject+`"}`)
			return
		}
		sc.send(t, "40"+nsPrefix(namespace)+`{"sid":"sio-1"}`)
		f.conns <- sc

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			f.frames <- string(data)
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeServer) url(path string) string { return f.srv.URL + path }

func (f *fakeServer) nextConn() *serverConn {
	f.t.Helper()
	select {
	case c := <-f.conns:
		return c
	case <-time.After(2 * time.Second):
		f.t.Fatal("timed out waiting for a client connection")
		return nil
	}
}

func (f *fakeServer) nextFrame() string {
	f.t.Helper()
	select {
	case fr := <-f.frames:
		return fr
	case <-time.After(2 * time.Second):
		f.t.Fatal("timed out waiting for a client frame")
		return ""
	}
}

func connectTransport(t *testing.T, f *fakeServer, opts Opts) *Transport {
	t.Helper()
	if opts.URL == "" {
		opts.URL = f.url("/atendimento")
	}
	tr, err := New(opts)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr
}

func nextEvent(t *testing.T, ch <-chan telegraph.Event) telegraph.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("inbound channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an inbound event")
		return telegraph.Event{}
	}
}

func drainStates(tr *Transport) []telegraph.ConnState {
	var out []telegraph.ConnState
	for {
		select {
		case s := <-tr.States():
			out = append(out, s)
		default:
			return out
		}
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{"empty", "", "url is required"},
		{"scheme", "ftp://host/x", "unsupported url scheme"},
		{"no host", "http:///atendimento", "has no host"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(Opts{URL: tt.url})
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestNew_EndpointAndNamespace(t *testing.T) {
	tests := []struct {
		url, ns      string
		wantEndpoint string
		wantNS       string
	}{
		{"https://api.example.com/atendimento", "", "wss://api.example.com/socket.io/?EIO=4&transport=websocket", "/atendimento"},
		{"http://localhost:3001", "", "ws://localhost:3001/socket.io/?EIO=4&transport=websocket", "/"},
		{"ws://localhost:3001/ignored", "chat", "ws://localhost:3001/socket.io/?EIO=4&transport=websocket", "/chat"},
	}
	for _, tt := range tests {
		tr, err := New(Opts{URL: tt.url, Namespace: tt.ns})
		if err != nil {
			t.Fatalf("New(%q): %v", tt.url, err)
		}
		if tr.Endpoint() != tt.wantEndpoint {
			t.Errorf("endpoint = %q, want %q", tr.Endpoint(), tt.wantEndpoint)
		}
		if tr.Namespace() != tt.wantNS {
			t.Errorf("namespace = %q, want %q", tr.Namespace(), tt.wantNS)
		}
	}
}

func TestConnect_HandshakeWithToken(t *testing.T) {
	f := newFakeServer(t, "/atendimento")
	tr := connectTransport(t, f, Opts{TokenSource: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok-1"})})

	if got := <-f.connects; got != `40/atendimento,{"token":"tok-1"}` {
		t.Errorf("connect frame = %q", got)
	}
	if got := (<-f.headers).Get("Authorization"); got != "Bearer tok-1" {
		t.Errorf("Authorization = %q", got)
	}
	states := drainStates(tr)
	if len(states) != 2 || states[0] != telegraph.StateConnecting || states[1] != telegraph.StateConnected {
		t.Errorf("states = %v", states)
	}
}

func TestConnect_RootNamespaceWithoutToken(t *testing.T) {
	f := newFakeServer(t, "/")
	connectTransport(t, f, Opts{URL: f.url("")})
	if got := <-f.connects; got != "40" {
		t.Errorf("connect frame = %q, want 40", got)
	}
}

func TestConnect_Refused(t *testing.T) {
	f := newFakeServer(t, "/atendimento")
	f.reject = "invalid token"
	tr, err := New(Opts{URL: f.url("/atendimento")})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	err = tr.Connect(context.Background())
	if err == nil || !strings.Contains(err.Error(), "invalid token") {
		t.Fatalf("err = %v, want refusal", err)
	}
	states := drainStates(tr)
	if len(states) == 0 || states[len(states)-1] != telegraph.StateError {
		t.Errorf("states = %v, want trailing error", states)
	}
}

func TestEmit_NotConnected(t *testing.T) {
	tr, err := New(Opts{URL: "http://localhost:1/atendimento"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := tr.Emit(context.Background(), telegraph.EmitListOpenSessions, nil); !errors.Is(err, telegraph.ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
}

func TestEmit_Frames(t *testing.T) {
	f := newFakeServer(t, "/atendimento")
	tr := connectTransport(t, f, Opts{})
	f.nextConn()

	if err := tr.Emit(context.Background(), telegraph.EmitListOpenSessions, nil); err != nil {
		t.Fatalf("emit list: %v", err)
	}
	if got := f.nextFrame(); got != `42/atendimento,["listarAtendimentos"]` {
		t.Errorf("frame = %q", got)
	}

	if err := tr.Emit(context.Background(), telegraph.EmitEndSession, telegraph.EndPayload{SessionID: "s1"}); err != nil {
		t.Fatalf("emit end: %v", err)
	}
	if got := f.nextFrame(); got != `42/atendimento,["encerrarAtendimento",{"sessao_id":"s1"}]` {
		t.Errorf("frame = %q", got)
	}
}

func TestListen_DeliversEventsAndAnswersPings(t *testing.T) {
	f := newFakeServer(t, "/atendimento")
	tr := connectTransport(t, f, Opts{})
	sc := f.nextConn()
	inbound, err := tr.Listen(context.Background())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	sc.send(t, "2")
	if got := f.nextFrame(); got != "3" {
		t.Errorf("ping reply = %q, want 3", got)
	}

	sc.send(t, `42/other,["novaMensagem",{"sessao_id":"x"}]`)
	sc.send(t, `42/atendimento,["novaMensagem",{"sessao_id":"s1","mensagem":"oi"}]`)
	ev := nextEvent(t, inbound)
	if ev.Name != telegraph.EventNewMessage {
		t.Fatalf("name = %q", ev.Name)
	}
	var p telegraph.MessagePayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.SessionID != "s1" || p.Text != "oi" {
		t.Errorf("payload = %+v", p)
	}
	if ev.ReceivedAt.IsZero() {
		t.Error("ReceivedAt not set")
	}
}

func TestListen_BeforeConnect(t *testing.T) {
	tr, err := New(Opts{URL: "http://localhost:1/atendimento"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := tr.Listen(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestDetach_FiltersUntilJoin(t *testing.T) {
	f := newFakeServer(t, "/atendimento")
	tr := connectTransport(t, f, Opts{})
	sc := f.nextConn()
	inbound, err := tr.Listen(context.Background())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	tr.Detach("s1")
	sc.send(t, `42/atendimento,["novaMensagem",{"sessao_id":"s1","mensagem":"late"}]`)
	sc.send(t, `42/atendimento,["novaMensagem",{"protocolo_id":"s1","mensagem":"late"}]`)
	sc.send(t, `42/atendimento,["novaMensagem",{"sessao_id":"s2","mensagem":"other"}]`)
	if ev := nextEvent(t, inbound); !strings.Contains(string(ev.Data), `"s2"`) {
		t.Fatalf("first delivered = %s, want the s2 message", ev.Data)
	}

	if err := tr.Emit(context.Background(), telegraph.EmitJoinSession, telegraph.JoinPayload{SessionID: "s1"}); err != nil {
		t.Fatalf("emit join: %v", err)
	}
	f.nextFrame()
	sc.send(t, `42/atendimento,["novaMensagem",{"sessao_id":"s1","mensagem":"back"}]`)
	if ev := nextEvent(t, inbound); !strings.Contains(string(ev.Data), "back") {
		t.Errorf("delivered = %s, want the re-attached s1 message", ev.Data)
	}
}

func TestReconnect_AfterServerDrop(t *testing.T) {
	f := newFakeServer(t, "/atendimento")
	tr := connectTransport(t, f, Opts{})
	tr.baseBackoff = 10 * time.Millisecond
	sc := f.nextConn()
	inbound, err := tr.Listen(context.Background())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	drainStates(tr)

	sc.conn.Close()
	sc2 := f.nextConn()

	var got []telegraph.ConnState
	deadline := time.After(2 * time.Second)
	for len(got) < 3 {
		select {
		case s := <-tr.States():
			got = append(got, s)
		case <-deadline:
			t.Fatalf("states = %v, want disconnected, connecting, connected", got)
		}
	}
	want := []telegraph.ConnState{telegraph.StateDisconnected, telegraph.StateConnecting, telegraph.StateConnected}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("states = %v, want %v", got, want)
		}
	}

	sc2.send(t, `42/atendimento,["atendimentoEncerrado",{"sessao_id":"s9"}]`)
	if ev := nextEvent(t, inbound); ev.Name != telegraph.EventSessionEnded {
		t.Errorf("name = %q", ev.Name)
	}
}

func TestReconnect_GivesUp(t *testing.T) {
	f := newFakeServer(t, "/atendimento")
	tr := connectTransport(t, f, Opts{MaxReconnect: 1})
	tr.baseBackoff = 10 * time.Millisecond
	sc := f.nextConn()
	inbound, err := tr.Listen(context.Background())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	// Stop accepting before dropping the live socket so the redial fails.
	f.srv.Close()
	sc.conn.Close()

	select {
	case _, ok := <-inbound:
		if ok {
			t.Fatal("unexpected event")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("inbound channel not closed after giving up")
	}
}

func TestClose_SendsDisconnectAndClosesInbound(t *testing.T) {
	f := newFakeServer(t, "/atendimento")
	tr := connectTransport(t, f, Opts{})
	f.nextConn()
	inbound, err := tr.Listen(context.Background())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := f.nextFrame(); got != "41/atendimento" {
		t.Errorf("disconnect frame = %q", got)
	}
	if _, ok := <-inbound; ok {
		t.Error("inbound still open after Close")
	}
	if err := tr.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
	if err := tr.Emit(context.Background(), telegraph.EmitListOpenSessions, nil); !errors.Is(err, telegraph.ErrNotConnected) {
		t.Errorf("emit after close = %v, want ErrNotConnected", err)
	}
}

func TestClose_WithoutListen(t *testing.T) {
	tr, err := New(Opts{URL: "http://localhost:1/atendimento"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := tr.Connect(context.Background()); err == nil {
		t.Error("connect after close should fail")
	}
}
