package socketio

import (
	"testing"
)

func TestDecodePacket(t *testing.T) {
	tests := []struct {
		raw    string
		engine byte
		typ    byte
		ns     string
		ack    int
		data   string
	}{
		{`0{"sid":"a"}`, engineOpen, 0, "", -1, `{"sid":"a"}`},
		{"2", enginePing, 0, "", -1, ""},
		{"40", engineMessage, packetConnect, "/", -1, ""},
		{`40/atendimento,{"sid":"x"}`, engineMessage, packetConnect, "/atendimento", -1, `{"sid":"x"}`},
		{"41/atendimento", engineMessage, packetDisconnect, "/atendimento", -1, ""},
		{`42["novaMensagem",{}]`, engineMessage, packetEvent, "/", -1, `["novaMensagem",{}]`},
		{`42/atendimento,7["x"]`, engineMessage, packetEvent, "/atendimento", 7, `["x"]`},
		{`44/atendimento,{"message":"no"}`, engineMessage, packetConnectError, "/atendimento", -1, `{"message":"no"}`},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			p, err := decodePacket([]byte(tt.raw))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if p.Engine != tt.engine || p.Type != tt.typ {
				t.Errorf("types = %q/%q, want %q/%q", p.Engine, p.Type, tt.engine, tt.typ)
			}
			if p.Engine == engineMessage && p.Namespace != tt.ns {
				t.Errorf("namespace = %q, want %q", p.Namespace, tt.ns)
			}
			if p.AckID != tt.ack {
				t.Errorf("ack = %d, want %d", p.AckID, tt.ack)
			}
			if string(p.Data) != tt.data {
				t.Errorf("data = %q, want %q", p.Data, tt.data)
			}
		})
	}
}

func TestDecodePacket_Errors(t *testing.T) {
	for _, raw := range []string{"", "9", "4", "49"} {
		if _, err := decodePacket([]byte(raw)); err == nil {
			t.Errorf("decodePacket(%q): expected error", raw)
		}
	}
}

func TestEventArgs(t *testing.T) {
	name, data, err := eventArgs([]byte(`["atendimentosAbertos",[{"id":"p1"}],"extra"]`))
	if err != nil {
		t.Fatalf("eventArgs: %v", err)
	}
	if name != "atendimentosAbertos" || string(data) != `[{"id":"p1"}]` {
		t.Errorf("got %q %s", name, data)
	}

	name, data, err = eventArgs([]byte(`["listarAtendimentos"]`))
	if err != nil || name != "listarAtendimentos" || data != nil {
		t.Errorf("bare name: %q %s %v", name, data, err)
	}

	for _, bad := range []string{`{}`, `[]`, `[1]`} {
		if _, _, err := eventArgs([]byte(bad)); err == nil {
			t.Errorf("eventArgs(%s): expected error", bad)
		}
	}
}

func TestEncode(t *testing.T) {
	frame, err := encodeEvent("/atendimento", "enviarMensagem", map[string]string{"mensagem": "oi"})
	if err != nil {
		t.Fatalf("encodeEvent: %v", err)
	}
	if string(frame) != `42/atendimento,["enviarMensagem",{"mensagem":"oi"}]` {
		t.Errorf("event frame = %s", frame)
	}

	frame, err = encodeConnect("/", map[string]string{"token": "t"})
	if err != nil {
		t.Fatalf("encodeConnect: %v", err)
	}
	if string(frame) != `40{"token":"t"}` {
		t.Errorf("connect frame = %s", frame)
	}

	if got := string(encodeDisconnect("/")); got != "41" {
		t.Errorf("root disconnect = %q", got)
	}
	if got := string(encodeDisconnect("/atendimento")); got != "41/atendimento" {
		t.Errorf("ns disconnect = %q", got)
	}
}
