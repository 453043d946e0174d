package channel

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// watchBufferSize is the per-subscriber channel buffer.
const watchBufferSize = 64

// ChangeKind names the mutation that produced a Change.
type ChangeKind string

const (
	ChangeUpserted ChangeKind = "upserted"
	ChangeRemoved  ChangeKind = "removed"
	ChangeFocused  ChangeKind = "focused"
	ChangeAppended ChangeKind = "appended"
	ChangeRead     ChangeKind = "read"
	ChangePromoted ChangeKind = "promoted"
)

// Change is published after every mutation that altered the registry.
type Change struct {
	Kind      ChangeKind `json:"kind"`
	ChannelID string     `json:"channel_id"`
	Version   uint64     `json:"version"`
}

// Watch returns a channel receiving every subsequent Change. Delivery is
// best-effort: a subscriber whose buffer is full misses events and should
// re-read a Snapshot. The channel is closed when ctx is cancelled.
func (r *Registry) Watch(ctx context.Context) <-chan Change {
	ch, id := r.watchers.add()
	go func() {
		<-ctx.Done()
		r.watchers.remove(id)
	}()
	return ch
}

// watchers fans changes out to subscribers without blocking the registry.
type watchers struct {
	mu   sync.Mutex
	subs map[string]chan Change
}

func newWatchers() *watchers {
	return &watchers{subs: make(map[string]chan Change)}
}

func (w *watchers) add() (chan Change, string) {
	id := uuid.NewString()
	ch := make(chan Change, watchBufferSize)
	w.mu.Lock()
	w.subs[id] = ch
	w.mu.Unlock()
	return ch, id
}

func (w *watchers) remove(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch, ok := w.subs[id]
	if !ok {
		return
	}
	delete(w.subs, id)
	close(ch)
}

func (w *watchers) publish(c Change) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, ch := range w.subs {
		select {
		case ch <- c:
		default:
		}
	}
}
