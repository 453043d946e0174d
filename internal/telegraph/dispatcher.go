package telegraph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/zulandar/frontdesk/internal/channel"
	"github.com/zulandar/frontdesk/internal/models"
)

var (
	// ErrStaleChannel is returned when an operator acts on a channel that
	// is gone or no longer in the expected set.
	ErrStaleChannel = errors.New("telegraph: stale channel")

	// ErrEmptyMessage is returned by Send when there is nothing to send.
	ErrEmptyMessage = errors.New("telegraph: empty message")
)

// Operator identifies the person working the desk. It is sent with
// join events.
type Operator struct {
	ID     string
	Name   string
	Sector string
}

// Media is an outbound file attachment. The file must already be
// uploaded; only its URL travels over the transport.
type Media struct {
	URL      string
	Type     string // "image", "document", "video", "audio"
	FileName string
	Caption  string
}

// Dispatcher turns operator intents into registry updates and outbound
// events. Local state is updated first; emit failures are returned to the
// caller but never rolled back.
type Dispatcher struct {
	registry  *channel.Registry
	transport Transport
	tasks     *Tasks
	journal   Journal
	operator  Operator
	out       io.Writer
}

// DispatcherOpts holds parameters for creating a Dispatcher.
type DispatcherOpts struct {
	Registry  *channel.Registry
	Transport Transport
	Tasks     *Tasks
	Journal   Journal // optional
	Operator  Operator
	Out       io.Writer // defaults to os.Stdout
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(opts DispatcherOpts) (*Dispatcher, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("telegraph: dispatcher: registry is required")
	}
	if opts.Transport == nil {
		return nil, fmt.Errorf("telegraph: dispatcher: transport is required")
	}
	if opts.Tasks == nil {
		return nil, fmt.Errorf("telegraph: dispatcher: tasks is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	journal := opts.Journal
	if journal == nil {
		journal = nopJournal{}
	}
	op := opts.Operator
	if op.Name == "" {
		op.Name = "Atendente"
	}
	if op.Sector == "" {
		op.Sector = "Geral"
	}
	if op.ID == "" {
		op.ID = "unknown"
	}
	return &Dispatcher{
		registry:  opts.Registry,
		transport: opts.Transport,
		tasks:     opts.Tasks,
		journal:   journal,
		operator:  op,
		out:       out,
	}, nil
}

// Attend takes a pending channel: it is promoted and focused locally, then
// the backend is told this operator joined.
func (d *Dispatcher) Attend(ctx context.Context, id string) error {
	c, ok := d.registry.Get(id)
	if !ok || !c.Pending() {
		log.Printf("telegraph: dispatcher: attend %s: channel no longer pending", id)
		return fmt.Errorf("%w: attend %s", ErrStaleChannel, id)
	}
	if err := d.registry.Promote(id); err != nil {
		return fmt.Errorf("telegraph: attend %s: %w", id, err)
	}
	d.focus(id)
	d.journal.Record(models.JournalEntry{
		Kind:      models.JournalAttended,
		ChannelID: id,
		SessionID: c.SessionID,
		Operator:  d.operator.Name,
	})
	fmt.Fprintf(d.out, "telegraph: dispatcher: attend %s [session=%s]\n", id, c.SessionID)

	err := d.transport.Emit(ctx, EmitJoinSession, JoinPayload{
		SessionID: c.SessionID,
		Name:      d.operator.Name,
		Sector:    d.operator.Sector,
		AgentID:   d.operator.ID,
	})
	if err != nil {
		d.emitFailed(c, EmitJoinSession, err)
		return fmt.Errorf("telegraph: attend %s: emit: %w", id, err)
	}
	return nil
}

// Close ends a channel: the backend is notified, the transport stops
// delivering its events, and the channel is removed. The local removal
// happens even when the notification fails.
func (d *Dispatcher) Close(ctx context.Context, id string) error {
	c, ok := d.registry.Get(id)
	if !ok {
		log.Printf("telegraph: dispatcher: close %s: channel not found", id)
		return fmt.Errorf("%w: close %s", ErrStaleChannel, id)
	}

	emitErr := d.transport.Emit(ctx, EmitEndSession, EndPayload{SessionID: c.SessionID})
	d.transport.Detach(c.SessionID)
	if err := d.registry.Remove(id); err != nil {
		return fmt.Errorf("telegraph: close %s: %w", id, err)
	}
	d.readFocused()
	d.journal.Record(models.JournalEntry{
		Kind:      models.JournalClosed,
		ChannelID: id,
		SessionID: c.SessionID,
		Operator:  d.operator.Name,
		Detail:    fmt.Sprintf("messages=%d", len(c.Messages)),
	})
	fmt.Fprintf(d.out, "telegraph: dispatcher: close %s [session=%s]\n", id, c.SessionID)

	if emitErr != nil {
		d.emitFailed(c, EmitEndSession, emitErr)
		return fmt.Errorf("telegraph: close %s: emit: %w", id, emitErr)
	}
	return nil
}

// Send appends an operator text message and emits it.
func (d *Dispatcher) Send(ctx context.Context, id, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	return d.send(ctx, id, EmitSendMessage, channel.Message{Text: text})
}

// SendMedia appends an operator attachment and emits it.
func (d *Dispatcher) SendMedia(ctx context.Context, id string, m Media) error {
	if m.URL == "" {
		if strings.TrimSpace(m.Caption) == "" {
			return ErrEmptyMessage
		}
		return d.Send(ctx, id, m.Caption)
	}
	return d.send(ctx, id, EmitSendFile, channel.Message{
		Text:      m.Caption,
		MediaURL:  m.URL,
		MediaType: m.Type,
		FileName:  m.FileName,
	})
}

func (d *Dispatcher) send(ctx context.Context, id, event string, msg channel.Message) error {
	c, ok := d.registry.Get(id)
	if !ok {
		log.Printf("telegraph: dispatcher: send to %s: channel not found", id)
		return fmt.Errorf("%w: send %s", ErrStaleChannel, id)
	}
	if c.Pending() {
		if err := d.registry.Promote(id); err != nil {
			return fmt.Errorf("telegraph: send %s: %w", id, err)
		}
		d.deferMarkRead(id)
	}

	msg.Sender = channel.SenderAgent
	msg.SenderName = d.operator.Name
	if _, err := d.registry.AppendTo(c.ID, msg); err != nil {
		return fmt.Errorf("telegraph: send %s: %w", id, err)
	}
	d.journal.Record(models.JournalEntry{
		Kind:      models.JournalMessage,
		ChannelID: id,
		SessionID: c.SessionID,
		Sender:    string(channel.SenderAgent),
		Operator:  d.operator.Name,
		Text:      msg.Text,
	})

	err := d.transport.Emit(ctx, event, MessagePayload{
		SessionID: c.SessionID,
		Text:      msg.Text,
		Sender:    senderAgentWire,
		MediaURL:  msg.MediaURL,
		MediaType: msg.MediaType,
		FileName:  msg.FileName,
	})
	if err != nil {
		d.emitFailed(c, event, err)
		return fmt.Errorf("telegraph: send %s: emit: %w", id, err)
	}
	return nil
}

// Focus shows an active channel to the operator. Its unread count is
// cleared after the current update completes.
func (d *Dispatcher) Focus(ctx context.Context, id string) error {
	if _, ok := d.registry.Get(id); !ok {
		return fmt.Errorf("%w: focus %s", ErrStaleChannel, id)
	}
	d.focus(id)
	return nil
}

func (d *Dispatcher) focus(id string) {
	if err := d.registry.Focus(id); err != nil {
		log.Printf("telegraph: dispatcher: focus %s: %v", id, err)
		return
	}
	if f, ok := d.registry.Focused(); ok && f.ID == id {
		d.deferMarkRead(id)
	}
}

// MarkRead clears the unread count of an active channel.
func (d *Dispatcher) MarkRead(ctx context.Context, id string) error {
	if _, ok := d.registry.Get(id); !ok {
		return fmt.Errorf("%w: mark read %s", ErrStaleChannel, id)
	}
	return d.registry.MarkRead(id)
}

// StartSession asks the backend to open a live session.
func (d *Dispatcher) StartSession(ctx context.Context, sessionID, sector string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: start session requires a session id", channel.ErrMissingKey)
	}
	if sector == "" {
		sector = "geral"
	}
	if err := d.transport.Emit(ctx, EmitStartSession, StartPayload{SessionID: sessionID, Sector: sector}); err != nil {
		return fmt.Errorf("telegraph: start session %s: %w", sessionID, err)
	}
	return nil
}

// RequestOpenSessions asks the backend to resend the open session backlog.
func (d *Dispatcher) RequestOpenSessions(ctx context.Context) error {
	if err := d.transport.Emit(ctx, EmitListOpenSessions, nil); err != nil {
		return fmt.Errorf("telegraph: list open sessions: %w", err)
	}
	return nil
}

// readFocused defers a mark-read for the focused channel when it carries
// unread messages. The registry moves focus on its own when the focused
// channel goes away, so callers run this after any step that may remove
// a channel.
func (d *Dispatcher) readFocused() {
	if c, ok := d.registry.Focused(); ok && c.UnreadCount > 0 {
		d.deferMarkRead(c.ID)
	}
}

func (d *Dispatcher) deferMarkRead(id string) {
	d.tasks.Defer(func() {
		if err := d.registry.MarkRead(id); err != nil {
			log.Printf("telegraph: dispatcher: mark read %s: %v", id, err)
		}
	})
}

func (d *Dispatcher) emitFailed(c channel.Channel, event string, err error) {
	log.Printf("telegraph: dispatcher: emit %s for %s: %v", event, c.ID, err)
	d.journal.Record(models.JournalEntry{
		Kind:      models.JournalSendFailed,
		ChannelID: c.ID,
		SessionID: c.SessionID,
		Operator:  d.operator.Name,
		Detail:    fmt.Sprintf("%s: %v", event, err),
	})
}
