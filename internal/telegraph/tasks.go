package telegraph

import (
	"log"
	"sync"
)

// maxDrainRounds bounds how many generations of follow-up tasks a single
// Drain will run. Tasks deferred past this depth are dropped.
const maxDrainRounds = 16

// Tasks is a FIFO of follow-up work scheduled by an event handler to run
// after the handler returns. Handlers never mutate state through a
// deferred task mid-update; the daemon drains the queue between events.
type Tasks struct {
	mu    sync.Mutex
	queue []func()
}

// Defer schedules fn to run at the next Drain.
func (t *Tasks) Defer(fn func()) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	t.queue = append(t.queue, fn)
	t.mu.Unlock()
}

// Len returns the number of scheduled tasks.
func (t *Tasks) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

// Drain runs scheduled tasks in order until the queue is empty. Tasks may
// defer further tasks; those run in a following round. It returns the
// number of tasks run.
func (t *Tasks) Drain() int {
	ran := 0
	for round := 0; ; round++ {
		t.mu.Lock()
		batch := t.queue
		t.queue = nil
		t.mu.Unlock()

		if len(batch) == 0 {
			return ran
		}
		if round == maxDrainRounds {
			log.Printf("telegraph: tasks: dropping %d tasks after %d rounds (update cycle?)", len(batch), round)
			return ran
		}
		for _, fn := range batch {
			fn()
			ran++
		}
	}
}
