package telegraph

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/frontdesk/internal/channel"
)

// Inbound backend event names.
const (
	EventOpenSessions   = "atendimentosAbertos"
	EventNewMessage     = "novaMensagem"
	EventNewFile        = "novoArquivo"
	EventAgentJoined    = "atendenteEntrou"
	EventSessionEnded   = "atendimentoEncerrado"
	EventSessionWaiting = "atendimentoAguardando"
)

// Outbound event names.
const (
	EmitStartSession     = "iniciarAtendimento"
	EmitJoinSession      = "entrarAtendimento"
	EmitSendMessage      = "enviarMensagem"
	EmitSendFile         = "enviarArquivo"
	EmitEndSession       = "encerrarAtendimento"
	EmitListOpenSessions = "listarAtendimentos"
)

// senderAgentWire is the sender value the backend expects on operator messages.
const senderAgentWire = "atendente"

// MessagePayload is the body of novaMensagem/novoArquivo and of the
// outbound enviarMensagem/enviarArquivo events.
type MessagePayload struct {
	SessionID  string `json:"sessao_id,omitempty"`
	ProtocolID string `json:"protocolo_id,omitempty"` // legacy alias of SessionID
	Text       string `json:"mensagem"`
	Sender     string `json:"sender"`
	Name       string `json:"nome,omitempty"`
	Sector     string `json:"setor,omitempty"`
	MediaURL   string `json:"mediaUrl,omitempty"`
	MediaType  string `json:"mediaType,omitempty"`
	FileName   string `json:"fileName,omitempty"`
}

// targetKey returns the session id, falling back to the legacy protocol id.
func (p MessagePayload) targetKey() string {
	if p.SessionID != "" {
		return p.SessionID
	}
	return p.ProtocolID
}

// StartPayload is the body of iniciarAtendimento.
type StartPayload struct {
	SessionID string `json:"sessao_id"`
	Sector    string `json:"setor"`
}

// JoinPayload is the body of entrarAtendimento.
type JoinPayload struct {
	SessionID string `json:"sessao_id"`
	Name      string `json:"nome"`
	Sector    string `json:"setor"`
	AgentID   string `json:"atendenteId"`
}

// EndPayload is the body of encerrarAtendimento.
type EndPayload struct {
	SessionID string `json:"sessao_id"`
}

// AgentJoinedPayload is the body of atendenteEntrou.
type AgentJoinedPayload struct {
	SessionID  string `json:"sessao_id,omitempty"`
	ProtocolID string `json:"protocolo_id,omitempty"`
	Name       string `json:"nome"`
	Sector     string `json:"setor,omitempty"`
}

func (p AgentJoinedPayload) targetKey() string {
	if p.SessionID != "" {
		return p.SessionID
	}
	return p.ProtocolID
}

// SessionEndedPayload is the body of atendimentoEncerrado.
type SessionEndedPayload struct {
	SessionID  string `json:"sessao_id,omitempty"`
	ProtocolID string `json:"protocolo_id,omitempty"`
}

func (p SessionEndedPayload) targetKey() string {
	if p.SessionID != "" {
		return p.SessionID
	}
	return p.ProtocolID
}

// SessionSnapshot is one protocol in the open sessions backlog.
type SessionSnapshot struct {
	ID        string            `json:"id"`
	Number    string            `json:"numero"`
	Status    string            `json:"status"`
	Subject   string            `json:"assunto,omitempty"`
	SessionID string            `json:"sessao_id,omitempty"`
	Sector    string            `json:"setor"`
	CreatedAt wireTime          `json:"data_criacao"`
	Student   *StudentSnapshot  `json:"estudante,omitempty"`
	Agent     *AgentSnapshot    `json:"atendente,omitempty"`
	History   []HistorySnapshot `json:"mensagens_protocolo,omitempty"`
}

// StudentSnapshot is the contact attached to a protocol.
type StudentSnapshot struct {
	ID     string `json:"id"`
	Name   string `json:"nome"`
	Phone  string `json:"telefone"`
	Email  string `json:"email"`
	Course string `json:"curso"`
}

// AgentSnapshot is the operator already assigned to a protocol.
type AgentSnapshot struct {
	ID    string `json:"id"`
	Name  string `json:"nome"`
	Email string `json:"email"`
}

// HistorySnapshot is one prior message of a protocol.
type HistorySnapshot struct {
	ID        string   `json:"id"`
	Content   string   `json:"conteudo"`
	Origin    string   `json:"origem"`
	Timestamp wireTime `json:"timestamp"`
}

// wireTime decodes backend timestamps leniently. Unparseable or null
// values decode to the zero time instead of failing the whole payload.
type wireTime struct {
	time.Time
}

var wireTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func (t *wireTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil || s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range wireTimeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	t.Time = time.Time{}
	return nil
}

func (t wireTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time)
}

// Descriptor maps a backlog snapshot to a registry descriptor.
func (s SessionSnapshot) Descriptor() channel.Descriptor {
	d := channel.Descriptor{
		ID:              s.ID,
		SessionID:       s.SessionID,
		Status:          channel.ParseBackendStatus(s.Status),
		Sector:          s.Sector,
		LastMessageTime: s.CreatedAt.Time,
	}
	if d.SessionID == "" {
		d.SessionID = s.ID
	}

	switch {
	case s.Student != nil && s.Student.Name != "":
		d.Name = s.Student.Name
	default:
		d.Name = "Protocolo " + s.Number
	}

	if s.Student != nil {
		d.Student = &channel.StudentInfo{
			ID:          s.Student.ID,
			Name:        s.Student.Name,
			Course:      s.Student.Course,
			ContactInfo: s.Student.Phone,
			Email:       s.Student.Email,
		}
	}

	for _, h := range s.History {
		d.History = append(d.History, channel.Message{
			ID:        h.ID,
			Sender:    historySender(h.Origin),
			Text:      h.Content,
			Timestamp: h.Timestamp.Time,
		})
	}

	switch {
	case len(s.History) > 0:
		d.LastMessage = s.History[len(s.History)-1].Content
	case s.Subject != "":
		d.LastMessage = s.Subject
	default:
		d.LastMessage = "Novo atendimento"
	}
	return d
}

// historySender maps a history origin to a sender. Unknown origins are
// attributed to the user.
func historySender(origin string) channel.Sender {
	if s, ok := channel.ParseSender(origin); ok {
		return s
	}
	switch strings.ToUpper(strings.TrimSpace(origin)) {
	case "ESTUDANTE", "ALUNO", "CLIENTE":
		return channel.SenderUser
	case "BOT":
		return channel.SenderSystem
	}
	return channel.SenderUser
}

// toMessage converts an inbound message payload. The second return value
// is false when the sender is not recognized.
func (p MessagePayload) toMessage(now time.Time) (channel.Message, bool) {
	sender, ok := channel.ParseSender(p.Sender)
	if !ok {
		return channel.Message{}, false
	}
	return channel.Message{
		Sender:     sender,
		SenderName: p.Name,
		Text:       p.Text,
		MediaURL:   p.MediaURL,
		MediaType:  p.MediaType,
		FileName:   p.FileName,
		Timestamp:  now,
	}, true
}

// decodeSnapshots accepts either an array of snapshots or a single one.
func decodeSnapshots(data json.RawMessage) ([]SessionSnapshot, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		var one SessionSnapshot
		if err := json.Unmarshal(data, &one); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		return []SessionSnapshot{one}, nil
	}
	var many []SessionSnapshot
	if err := json.Unmarshal(data, &many); err != nil {
		return nil, fmt.Errorf("decode snapshots: %w", err)
	}
	return many, nil
}
