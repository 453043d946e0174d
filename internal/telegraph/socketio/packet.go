package socketio

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Engine.IO packet types (first byte of every websocket frame).
const (
	engineOpen    byte = '0'
	engineClose   byte = '1'
	enginePing    byte = '2'
	enginePong    byte = '3'
	engineMessage byte = '4'
	engineNoop    byte = '6'
)

// Socket.IO packet types (second byte of an Engine.IO message).
const (
	packetConnect      byte = '0'
	packetDisconnect   byte = '1'
	packetEvent        byte = '2'
	packetAck          byte = '3'
	packetConnectError byte = '4'
)

// packet is a decoded frame. Data holds the JSON body after the namespace
// and ack id, if any.
type packet struct {
	Engine    byte
	Type      byte // Socket.IO type; zero unless Engine is engineMessage
	Namespace string
	AckID     int // -1 when absent
	Data      json.RawMessage
}

// openPayload is the Engine.IO handshake body.
type openPayload struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"` // milliseconds
	PingTimeout  int    `json:"pingTimeout"`  // milliseconds
	MaxPayload   int    `json:"maxPayload"`
}

// connectError is the body of a CONNECT_ERROR packet.
type connectError struct {
	Message string `json:"message"`
}

// decodePacket parses one websocket text frame.
func decodePacket(raw []byte) (packet, error) {
	if len(raw) == 0 {
		return packet{}, fmt.Errorf("socketio: empty frame")
	}
	p := packet{Engine: raw[0], AckID: -1}
	rest := raw[1:]
	switch p.Engine {
	case engineOpen, engineClose, enginePing, enginePong, engineNoop:
		p.Data = json.RawMessage(rest)
		return p, nil
	case engineMessage:
	default:
		return packet{}, fmt.Errorf("socketio: unknown engine packet type %q", p.Engine)
	}

	if len(rest) == 0 {
		return packet{}, fmt.Errorf("socketio: message frame without a packet type")
	}
	p.Type = rest[0]
	switch p.Type {
	case packetConnect, packetDisconnect, packetEvent, packetAck, packetConnectError:
	default:
		return packet{}, fmt.Errorf("socketio: unknown packet type %q", p.Type)
	}
	rest = rest[1:]

	p.Namespace = "/"
	if len(rest) > 0 && rest[0] == '/' {
		if i := bytes.IndexByte(rest, ','); i >= 0 {
			p.Namespace = string(rest[:i])
			rest = rest[i+1:]
		} else {
			p.Namespace = string(rest)
			rest = nil
		}
	}

	n := 0
	for n < len(rest) && rest[n] >= '0' && rest[n] <= '9' {
		n++
	}
	if n > 0 {
		id, err := strconv.Atoi(string(rest[:n]))
		if err != nil {
			return packet{}, fmt.Errorf("socketio: ack id: %w", err)
		}
		p.AckID = id
		rest = rest[n:]
	}
	if len(rest) > 0 {
		p.Data = json.RawMessage(rest)
	}
	return p, nil
}

// eventArgs splits an EVENT body into its name and first argument.
// Additional arguments are ignored; a missing argument yields nil.
func eventArgs(data json.RawMessage) (string, json.RawMessage, error) {
	var args []json.RawMessage
	if err := json.Unmarshal(data, &args); err != nil {
		return "", nil, fmt.Errorf("socketio: event body: %w", err)
	}
	if len(args) == 0 {
		return "", nil, fmt.Errorf("socketio: event body has no name")
	}
	var name string
	if err := json.Unmarshal(args[0], &name); err != nil {
		return "", nil, fmt.Errorf("socketio: event name: %w", err)
	}
	if len(args) == 1 {
		return name, nil, nil
	}
	return name, args[1], nil
}

// nsPrefix renders the namespace segment of a message frame. The root
// namespace is implicit.
func nsPrefix(ns string) string {
	if ns == "" || ns == "/" {
		return ""
	}
	return ns + ","
}

// encodeConnect builds a CONNECT frame carrying the auth object.
func encodeConnect(ns string, auth any) ([]byte, error) {
	frame := []byte{engineMessage, packetConnect}
	frame = append(frame, nsPrefix(ns)...)
	if auth == nil {
		return frame, nil
	}
	body, err := json.Marshal(auth)
	if err != nil {
		return nil, fmt.Errorf("socketio: encode auth: %w", err)
	}
	return append(frame, body...), nil
}

// encodeDisconnect builds a DISCONNECT frame.
func encodeDisconnect(ns string) []byte {
	frame := []byte{engineMessage, packetDisconnect}
	// The root namespace disconnect carries no trailing comma.
	if ns != "" && ns != "/" {
		frame = append(frame, ns...)
	}
	return frame
}

// encodeEvent builds an EVENT frame. A nil payload sends the name alone.
func encodeEvent(ns, name string, payload any) ([]byte, error) {
	args := []any{name}
	if payload != nil {
		args = append(args, payload)
	}
	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("socketio: encode %s: %w", name, err)
	}
	frame := []byte{engineMessage, packetEvent}
	frame = append(frame, nsPrefix(ns)...)
	return append(frame, body...), nil
}
