// Package channel holds the in-memory registry of operator conversations
// ("protocols"): the pending queue, the active set, and the focus pointer.
package channel

import (
	"errors"
	"strings"
	"time"
)

// ErrMissingKey is returned when an operation is called without the
// identifier it needs. It signals a programming error, not a lookup miss.
var ErrMissingKey = errors.New("channel: missing key")

// Status is the lifecycle state of a channel.
type Status string

const (
	StatusWaiting    Status = "aguardando"
	StatusInProgress Status = "em_atendimento"
	StatusClosed     Status = "encerrado"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusInProgress, StatusClosed:
		return true
	}
	return false
}

// ParseBackendStatus maps a protocol status reported by the backend
// ("ABERTO", "EM_ATENDIMENTO", ...) to a channel status. Unknown values
// are treated as waiting so the conversation still reaches an operator.
func ParseBackendStatus(s string) Status {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "EM_ATENDIMENTO", "IN_PROGRESS", "EM ATENDIMENTO":
		return StatusInProgress
	case "FECHADO", "CANCELADO", "CLOSED", "ENCERRADO":
		return StatusClosed
	default:
		return StatusWaiting
	}
}

// Sender tags the origin of a message.
type Sender string

const (
	SenderUser   Sender = "USER"
	SenderAgent  Sender = "AGENT"
	SenderSystem Sender = "SYSTEM"
)

// ParseSender accepts both the English and the Portuguese wire spellings,
// in any case. The second return value is false for unrecognized input.
func ParseSender(s string) (Sender, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "USER", "USUARIO", "USUÁRIO":
		return SenderUser, true
	case "AGENT", "ATENDENTE":
		return SenderAgent, true
	case "SYSTEM", "SISTEMA":
		return SenderSystem, true
	}
	return "", false
}

// Message is one chat turn.
type Message struct {
	ID         string    `json:"id"`
	Sender     Sender    `json:"sender"`
	SenderName string    `json:"sender_name,omitempty"`
	Text       string    `json:"text"`
	MediaURL   string    `json:"media_url,omitempty"`
	MediaType  string    `json:"media_type,omitempty"`
	FileName   string    `json:"file_name,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// summary is the text shown as a channel's last message.
func (m Message) summary() string {
	if m.Text != "" {
		return m.Text
	}
	if m.FileName != "" {
		return m.FileName
	}
	return m.MediaURL
}

// StudentInfo is contact metadata denormalized onto a channel at creation.
type StudentInfo struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name,omitempty"`
	Course      string `json:"course,omitempty"`
	ContactInfo string `json:"contact_info,omitempty"`
	Email       string `json:"email,omitempty"`
}

// Channel is a read-only snapshot of one conversation. Values returned by
// the Registry are deep copies; mutating them has no effect on the registry.
type Channel struct {
	ID              string       `json:"id"`
	SessionID       string       `json:"session_id"`
	Status          Status       `json:"status"`
	Name            string       `json:"name"`
	Sector          string       `json:"sector,omitempty"`
	LastMessage     string       `json:"last_message,omitempty"`
	LastMessageTime time.Time    `json:"last_message_time,omitempty"`
	UnreadCount     int          `json:"unread_count"`
	Messages        []Message    `json:"messages"`
	Focused         bool         `json:"focused"`
	Student         *StudentInfo `json:"student,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
}

// Pending reports whether the channel is waiting for an operator.
func (c Channel) Pending() bool { return c.Status == StatusWaiting }

// clone returns a deep copy of c.
func (c Channel) clone() Channel {
	out := c
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	if c.Student != nil {
		s := *c.Student
		out.Student = &s
	}
	return out
}

// Descriptor is the input of Upsert. Zero-valued fields are "not provided"
// and leave the existing value untouched on merge.
type Descriptor struct {
	ID              string
	SessionID       string
	Status          Status
	Name            string
	Sector          string
	LastMessage     string
	LastMessageTime time.Time
	Student         *StudentInfo
	History         []Message
}

// Snapshot is a consistent view of the whole registry.
type Snapshot struct {
	Version   uint64    `json:"version"`
	Pending   []Channel `json:"pending"`
	Active    []Channel `json:"active"`
	FocusedID string    `json:"focused_id,omitempty"`
}
