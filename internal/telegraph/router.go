package telegraph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/zulandar/frontdesk/internal/channel"
	"github.com/zulandar/frontdesk/internal/models"
)

// handlerFunc processes one decoded inbound event.
type handlerFunc func(ctx context.Context, ev Event) error

// Router applies inbound backend events to the channel registry. It is not
// safe for concurrent use; the daemon calls Handle from its event loop only.
type Router struct {
	registry *channel.Registry
	tasks    *Tasks
	journal  Journal
	onWalkUp func(channel.Channel)
	now      func() time.Time
	out      io.Writer

	handlers  map[string]handlerFunc
	processed map[string]bool // snapshot ids applied on the current connection
}

// RouterOpts holds parameters for creating a Router.
type RouterOpts struct {
	Registry *channel.Registry
	Tasks    *Tasks
	Journal  Journal               // optional
	OnWalkUp func(channel.Channel) // optional; called for each synthesized channel
	Now      func() time.Time      // defaults to time.Now
	Out      io.Writer             // defaults to os.Stdout
}

// NewRouter creates a Router with its handler table.
func NewRouter(opts RouterOpts) (*Router, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("telegraph: router: registry is required")
	}
	if opts.Tasks == nil {
		return nil, fmt.Errorf("telegraph: router: tasks is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	journal := opts.Journal
	if journal == nil {
		journal = nopJournal{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	r := &Router{
		registry:  opts.Registry,
		tasks:     opts.Tasks,
		journal:   journal,
		onWalkUp:  opts.OnWalkUp,
		now:       now,
		out:       out,
		processed: make(map[string]bool),
	}
	r.handlers = map[string]handlerFunc{
		EventOpenSessions:   r.handleOpenSessions,
		EventSessionWaiting: r.handleOpenSessions,
		EventNewMessage:     r.handleNewMessage,
		EventNewFile:        r.handleNewFile,
		EventAgentJoined:    r.handleAgentJoined,
		EventSessionEnded:   r.handleSessionEnded,
	}
	return r, nil
}

// Handle dispatches a single inbound event to its handler. Malformed
// payloads and unknown events are logged and skipped.
func (r *Router) Handle(ctx context.Context, ev Event) {
	h, ok := r.handlers[ev.Name]
	if !ok {
		fmt.Fprintf(r.out, "telegraph: router: ignore unknown event %q\n", ev.Name)
		return
	}
	if err := h(ctx, ev); err != nil {
		log.Printf("telegraph: router: %s: %v", ev.Name, err)
	}
}

// ResetConnection forgets which snapshots were applied, so the next open
// sessions payload is processed in full. Call it on every reconnect.
func (r *Router) ResetConnection() {
	r.processed = make(map[string]bool)
}

// handleOpenSessions upserts each backlog snapshot once per connection.
func (r *Router) handleOpenSessions(ctx context.Context, ev Event) error {
	snaps, err := decodeSnapshots(ev.Data)
	if err != nil {
		return err
	}
	applied := 0
	for _, s := range snaps {
		if s.ID == "" {
			log.Printf("telegraph: router: skip snapshot without id (numero=%q)", s.Number)
			continue
		}
		if r.processed[s.ID] {
			continue
		}
		r.processed[s.ID] = true

		d := s.Descriptor()
		if d.Status == channel.StatusClosed {
			continue
		}
		if err := r.registry.Upsert(d); err != nil {
			log.Printf("telegraph: router: upsert snapshot %s: %v", s.ID, err)
			continue
		}
		applied++
		r.journal.Record(models.JournalEntry{
			Kind:      models.JournalSnapshot,
			ChannelID: d.ID,
			SessionID: d.SessionID,
			Text:      d.LastMessage,
			Detail:    fmt.Sprintf("status=%s messages=%d", d.Status, len(d.History)),
		})
	}
	fmt.Fprintf(r.out, "telegraph: router: %s: %d snapshots, %d applied\n", ev.Name, len(snaps), applied)
	return nil
}

func (r *Router) handleNewMessage(ctx context.Context, ev Event) error {
	var p MessagePayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	r.route(p)
	return nil
}

func (r *Router) handleNewFile(ctx context.Context, ev Event) error {
	var p MessagePayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return fmt.Errorf("decode file: %w", err)
	}
	if strings.TrimSpace(p.Text) == "" {
		name := p.FileName
		if name == "" {
			name = "sem nome"
		}
		p.Text = "Arquivo recebido: " + name
	}
	r.route(p)
	return nil
}

// route resolves the channel a message belongs to and appends it:
//  1. Key is the session id, else the legacy protocol id
//  2. Known channel, user sender, pending → promote, then append
//  3. Known channel otherwise → append
//  4. Unknown channel, user sender → synthesize a pending channel, append
//  5. Unknown channel, agent/system sender → drop
//
// When the channel ends up focused, a mark-read is deferred.
func (r *Router) route(p MessagePayload) {
	key := p.targetKey()
	msg, ok := p.toMessage(r.now())
	fmt.Fprintf(r.out, "telegraph: router: recv [key=%s sender=%s] %q\n", key, p.Sender, truncate(p.Text, 80))

	if key == "" {
		r.drop(p, "no session id")
		return
	}
	if !ok {
		r.drop(p, fmt.Sprintf("unknown sender %q", p.Sender))
		return
	}

	c, found := r.registry.Resolve(key)
	switch {
	case found:
		if msg.Sender == channel.SenderUser && c.Pending() {
			if err := r.registry.Promote(c.ID); err != nil {
				log.Printf("telegraph: router: promote %s: %v", c.ID, err)
				return
			}
			fmt.Fprintf(r.out, "telegraph: router: → promote %s\n", c.ID)
			r.journal.Record(models.JournalEntry{
				Kind:      models.JournalPromoted,
				ChannelID: c.ID,
				SessionID: c.SessionID,
			})
		}
	case msg.Sender == channel.SenderUser:
		name := p.Name
		if name == "" {
			name = "Sessão " + key
		}
		if err := r.registry.Upsert(channel.Descriptor{
			ID:        key,
			SessionID: key,
			Status:    channel.StatusWaiting,
			Name:      name,
			Sector:    p.Sector,
		}); err != nil {
			log.Printf("telegraph: router: synthesize %s: %v", key, err)
			return
		}
		fmt.Fprintf(r.out, "telegraph: router: → new walk-up channel %s\n", key)
		r.journal.Record(models.JournalEntry{
			Kind:      models.JournalCreated,
			ChannelID: key,
			SessionID: key,
			Sender:    string(msg.Sender),
			Text:      msg.Text,
		})
	default:
		r.drop(p, "no channel for "+string(msg.Sender)+" message")
		return
	}

	if _, err := r.registry.Append(key, msg); err != nil {
		log.Printf("telegraph: router: append %s: %v", key, err)
		return
	}
	after, ok := r.registry.Resolve(key)
	if !ok {
		return
	}
	r.journal.Record(models.JournalEntry{
		Kind:      models.JournalMessage,
		ChannelID: after.ID,
		SessionID: after.SessionID,
		Sender:    string(msg.Sender),
		Text:      msg.Text,
	})

	if !found && r.onWalkUp != nil {
		r.onWalkUp(after)
	}
	if after.Focused {
		id := after.ID
		r.tasks.Defer(func() {
			if err := r.registry.MarkRead(id); err != nil {
				log.Printf("telegraph: router: mark read %s: %v", id, err)
			}
		})
	}
}

// drop logs and journals a message that cannot be attached to a channel.
func (r *Router) drop(p MessagePayload, reason string) {
	log.Printf("telegraph: router: drop message [key=%s sender=%q]: %s", p.targetKey(), truncate(p.Sender, 32), reason)
	// Journal columns are bounded; store the canonical sender when known.
	sender := clip(p.Sender, models.SenderWidth)
	if s, ok := channel.ParseSender(p.Sender); ok {
		sender = string(s)
	}
	r.journal.Record(models.JournalEntry{
		Kind:      models.JournalDropped,
		SessionID: clip(p.targetKey(), models.KeyWidth),
		Sender:    sender,
		Text:      p.Text,
		Detail:    reason,
	})
}

func (r *Router) handleAgentJoined(ctx context.Context, ev Event) error {
	var p AgentJoinedPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return fmt.Errorf("decode agent joined: %w", err)
	}
	name := p.Name
	if name == "" {
		name = "desconhecido"
	}
	r.appendSystem(p.targetKey(), fmt.Sprintf("Atendente %s entrou na conversa", name))
	return nil
}

// handleSessionEnded notes a remote close. The channel stays in the
// registry until the operator closes it.
func (r *Router) handleSessionEnded(ctx context.Context, ev Event) error {
	var p SessionEndedPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return fmt.Errorf("decode session ended: %w", err)
	}
	r.appendSystem(p.targetKey(), "Atendimento encerrado")
	return nil
}

func (r *Router) appendSystem(key, text string) {
	if key == "" {
		return
	}
	ok, err := r.registry.Append(key, channel.Message{
		Sender:    channel.SenderSystem,
		Text:      text,
		Timestamp: r.now(),
	})
	if err != nil {
		log.Printf("telegraph: router: append system message to %s: %v", key, err)
		return
	}
	if !ok {
		fmt.Fprintf(r.out, "telegraph: router: no channel for %s; skip %q\n", key, text)
	}
}

// truncate returns s cut to maxLen runes with "..." appended if needed.
func truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return clip(s, maxLen) + "..."
}

// clip returns at most n runes of s.
func clip(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
