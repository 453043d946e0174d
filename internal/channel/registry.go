package channel

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Conflict describes a key that resolves to one channel by id and to a
// different channel by session id.
type Conflict struct {
	Key          string
	IDMatch      string // channel whose id equals Key
	SessionMatch string // channel whose session id equals Key (used for routing)
}

// RegistryOpts holds parameters for creating a Registry.
type RegistryOpts struct {
	Now        func() time.Time // defaults to time.Now
	OnConflict func(Conflict)   // optional; called for every dual-key conflict
}

// Registry is the authoritative store of known channels. A channel lives
// in exactly one of two ordered sets: pending (waiting for an operator) or
// active (assigned to this operator). At most one active channel is focused.
//
// Every method is atomic with respect to the others. Lookup misses are
// silent no-ops; only calls missing their identifier return an error.
type Registry struct {
	now        func() time.Time
	onConflict func(Conflict)

	mu      sync.Mutex
	entries map[string]*Channel // key: channel id
	pending []string            // ids in insertion order
	active  []string            // ids in insertion order
	focused string
	version uint64

	watchers *watchers
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts RegistryOpts) *Registry {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{
		now:        now,
		onConflict: opts.OnConflict,
		entries:    make(map[string]*Channel),
		watchers:   newWatchers(),
	}
}

// Upsert inserts a channel or merges the provided fields into the existing
// channel with the same id. A non-empty History replaces the stored
// messages; an empty one preserves them. The channel is placed in the
// pending or active set according to its status. A Closed status removes
// the channel, since closing and removal are the same step.
func (r *Registry) Upsert(d Descriptor) error {
	if d.ID == "" {
		return fmt.Errorf("%w: upsert requires an id", ErrMissingKey)
	}
	if d.Status != "" && !d.Status.Valid() {
		return fmt.Errorf("channel: upsert %s: unknown status %q", d.ID, d.Status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.entries[d.ID]
	if d.Status == StatusClosed {
		if ok {
			r.removeLocked(d.ID)
			r.bump(ChangeRemoved, d.ID)
		}
		return nil
	}

	if !ok {
		r.insertLocked(d)
		r.bump(ChangeUpserted, d.ID)
		return nil
	}

	if r.mergeLocked(existing, d) {
		r.bump(ChangeUpserted, d.ID)
	}
	return nil
}

func (r *Registry) insertLocked(d Descriptor) {
	c := &Channel{
		ID:              d.ID,
		SessionID:       d.SessionID,
		Status:          d.Status,
		Name:            d.Name,
		Sector:          d.Sector,
		LastMessage:     d.LastMessage,
		LastMessageTime: d.LastMessageTime,
		CreatedAt:       r.now(),
	}
	if c.SessionID == "" {
		c.SessionID = c.ID
	}
	if c.Status == "" {
		c.Status = StatusWaiting
	}
	if c.Name == "" {
		c.Name = c.ID
	}
	if d.Student != nil {
		s := *d.Student
		c.Student = &s
	}
	c.Messages = r.normalizeHistory(d.History)
	r.entries[c.ID] = c

	if c.Status == StatusWaiting {
		r.pending = append(r.pending, c.ID)
		return
	}
	r.active = append(r.active, c.ID)
	if r.focused == "" {
		r.focusLocked(c.ID)
	}
}

// mergeLocked applies the provided fields of d to c and reports whether
// anything changed. Student info is immutable after creation.
func (r *Registry) mergeLocked(c *Channel, d Descriptor) bool {
	changed := false
	if d.SessionID != "" && d.SessionID != c.SessionID {
		c.SessionID = d.SessionID
		changed = true
	}
	if d.Name != "" && d.Name != c.Name {
		c.Name = d.Name
		changed = true
	}
	if d.Sector != "" && d.Sector != c.Sector {
		c.Sector = d.Sector
		changed = true
	}
	if d.LastMessage != "" && d.LastMessage != c.LastMessage {
		c.LastMessage = d.LastMessage
		changed = true
	}
	if !d.LastMessageTime.IsZero() && !d.LastMessageTime.Equal(c.LastMessageTime) {
		c.LastMessageTime = d.LastMessageTime
		changed = true
	}
	if len(d.History) > 0 && !sameHistory(c.Messages, d.History) {
		if len(d.History) < len(c.Messages) {
			log.Printf("channel: upsert %s: snapshot history (%d) replaces %d local messages",
				c.ID, len(d.History), len(c.Messages))
		}
		c.Messages = r.normalizeHistory(d.History)
		changed = true
	}
	if d.Status != "" && d.Status != c.Status {
		if d.Status == StatusWaiting {
			// Active channels never return to the queue.
			log.Printf("channel: upsert %s: ignore status %s for %s channel", c.ID, d.Status, c.Status)
		} else {
			r.moveLocked(c, d.Status)
			changed = true
		}
	}
	return changed
}

// moveLocked changes c's status to a non-waiting one, moving it to the
// active set when it was pending.
func (r *Registry) moveLocked(c *Channel, status Status) {
	wasPending := c.Status == StatusWaiting
	c.Status = status
	if !wasPending {
		return
	}
	r.pending = without(r.pending, c.ID)
	r.active = append(r.active, c.ID)
	if r.focused == "" {
		r.focusLocked(c.ID)
	}
}

// Remove deletes the channel from whichever set holds it. If it was
// focused, focus moves to the first remaining active channel, or is unset.
// The newly focused channel keeps its unread count until the caller marks
// it read.
func (r *Registry) Remove(id string) error {
	if id == "" {
		return fmt.Errorf("%w: remove requires an id", ErrMissingKey)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return nil
	}
	r.removeLocked(id)
	r.bump(ChangeRemoved, id)
	return nil
}

func (r *Registry) removeLocked(id string) {
	delete(r.entries, id)
	r.pending = without(r.pending, id)
	r.active = without(r.active, id)
	if r.focused == id {
		r.focused = ""
		r.refocusLocked()
	}
}

// Focus marks the named active channel as focused and clears the flag on
// every other channel. Ids that are not active are ignored.
func (r *Registry) Focus(id string) error {
	if id == "" {
		return fmt.Errorf("%w: focus requires an id", ErrMissingKey)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.entries[id]
	if !ok || c.Status == StatusWaiting || r.focused == id {
		return nil
	}
	r.focusLocked(id)
	r.bump(ChangeFocused, id)
	return nil
}

func (r *Registry) focusLocked(id string) {
	for _, aid := range r.active {
		r.entries[aid].Focused = aid == id
	}
	r.focused = id
}

func (r *Registry) refocusLocked() {
	if len(r.active) == 0 {
		return
	}
	r.focusLocked(r.active[0])
}

// Append adds msg to the channel identified by key, which may be either a
// channel id or a session id. It reports whether a channel was found.
// Unread count grows for user and agent messages on unfocused channels.
func (r *Registry) Append(key string, msg Message) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("%w: append requires a key", ErrMissingKey)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.resolveLocked(key, true)
	if c == nil {
		return false, nil
	}
	r.appendLocked(c, msg)
	return true, nil
}

// AppendTo adds msg to the channel with exactly this id. Session ids are
// not consulted.
func (r *Registry) AppendTo(id string, msg Message) (bool, error) {
	if id == "" {
		return false, fmt.Errorf("%w: append requires an id", ErrMissingKey)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.entries[id]
	if !ok {
		return false, nil
	}
	r.appendLocked(c, msg)
	return true, nil
}

func (r *Registry) appendLocked(c *Channel, msg Message) {
	msg = r.normalize(msg)
	c.Messages = append(c.Messages, msg)
	c.LastMessage = msg.summary()
	c.LastMessageTime = msg.Timestamp
	if msg.Sender != SenderSystem && !c.Focused {
		c.UnreadCount++
	}
	r.bump(ChangeAppended, c.ID)
}

// MarkRead resets the unread count of the active channel id.
func (r *Registry) MarkRead(id string) error {
	if id == "" {
		return fmt.Errorf("%w: mark read requires an id", ErrMissingKey)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.entries[id]
	if !ok || c.Status == StatusWaiting || c.UnreadCount == 0 {
		return nil
	}
	c.UnreadCount = 0
	r.bump(ChangeRead, id)
	return nil
}

// Promote moves a pending channel to the active set, marks it in
// progress, focuses it and clears its unread count. Its messages are kept
// as they are. Promoting a channel that is already active only refreshes
// those fields; it never duplicates the entry.
func (r *Registry) Promote(id string) error {
	if id == "" {
		return fmt.Errorf("%w: promote requires an id", ErrMissingKey)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.entries[id]
	if !ok {
		return nil
	}
	if c.Status == StatusWaiting {
		r.pending = without(r.pending, id)
		r.active = append(r.active, id)
	}
	c.Status = StatusInProgress
	c.UnreadCount = 0
	r.focusLocked(id)
	r.bump(ChangePromoted, id)
	return nil
}

// Resolve finds the channel addressed by key, searching active channels
// before pending ones and matching either id or session id. When key names
// one channel by id and another by session id, the session id match wins.
// Resolve is a read; conflicts are reported by Append, not here.
func (r *Registry) Resolve(key string) (Channel, bool) {
	if key == "" {
		return Channel{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.resolveLocked(key, false)
	if c == nil {
		return Channel{}, false
	}
	return c.clone(), true
}

func (r *Registry) resolveLocked(key string, report bool) *Channel {
	var byID, bySession *Channel
	for _, set := range [][]string{r.active, r.pending} {
		for _, id := range set {
			c := r.entries[id]
			if byID == nil && c.ID == key {
				byID = c
			}
			if bySession == nil && c.SessionID == key {
				bySession = c
			}
		}
	}
	if byID != nil && bySession != nil && byID != bySession {
		if !report {
			return bySession
		}
		log.Printf("channel: key %q names channel %s by id and %s by session id; routing to %s",
			key, byID.ID, bySession.ID, bySession.ID)
		if r.onConflict != nil {
			r.onConflict(Conflict{Key: key, IDMatch: byID.ID, SessionMatch: bySession.ID})
		}
		return bySession
	}
	if bySession != nil {
		return bySession
	}
	return byID
}

// Get returns the channel with the given id.
func (r *Registry) Get(id string) (Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.entries[id]
	if !ok {
		return Channel{}, false
	}
	return c.clone(), true
}

// Pending returns the pending channels in insertion order.
func (r *Registry) Pending() []Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked(r.pending)
}

// Active returns the active channels in insertion order.
func (r *Registry) Active() []Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked(r.active)
}

// Focused returns the focused channel, if any.
func (r *Registry) Focused() (Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.focused == "" {
		return Channel{}, false
	}
	return r.entries[r.focused].clone(), true
}

// Len returns the number of channels in the registry.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Snapshot returns a consistent copy of the whole registry.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		Version:   r.version,
		Pending:   r.listLocked(r.pending),
		Active:    r.listLocked(r.active),
		FocusedID: r.focused,
	}
}

func (r *Registry) listLocked(ids []string) []Channel {
	out := make([]Channel, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.entries[id].clone())
	}
	return out
}

// bump advances the version and notifies watchers. Must hold r.mu.
func (r *Registry) bump(kind ChangeKind, id string) {
	r.version++
	r.watchers.publish(Change{Kind: kind, ChannelID: id, Version: r.version})
}

// normalize fills in a message id and timestamp when absent.
func (r *Registry) normalize(m Message) Message {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = r.now()
	}
	return m
}

func (r *Registry) normalizeHistory(history []Message) []Message {
	out := make([]Message, 0, len(history))
	for _, m := range history {
		out = append(out, r.normalize(m))
	}
	return out
}

// sameHistory compares histories by content, ignoring generated ids.
func sameHistory(have, want []Message) bool {
	if len(have) != len(want) {
		return false
	}
	for i := range have {
		a, b := have[i], want[i]
		if b.ID != "" && a.ID != b.ID {
			return false
		}
		if a.Sender != b.Sender || a.Text != b.Text || a.MediaURL != b.MediaURL || a.FileName != b.FileName {
			return false
		}
		if !b.Timestamp.IsZero() && !a.Timestamp.Equal(b.Timestamp) {
			return false
		}
	}
	return true
}

// without returns ids with id removed, preserving order.
func without(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}
