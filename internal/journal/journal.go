// Package journal persists the desk's audit trail of channel lifecycle
// events. Entries are written asynchronously and never read back into the
// channel registry.
package journal

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/zulandar/frontdesk/internal/models"
	"gorm.io/gorm"
)

const (
	defaultBuffer    = 256
	defaultBatchSize = 32
	defaultLimit     = 50
)

// Store is an async gorm-backed journal. It implements telegraph.Journal.
type Store struct {
	db        *gorm.DB
	queue     chan models.JournalEntry
	done      chan struct{}
	batchSize int
	now       func() time.Time

	mu      sync.Mutex
	closed  bool
	dropped int
}

// StoreOpts holds parameters for creating a Store.
type StoreOpts struct {
	DB        *gorm.DB
	Buffer    int              // queued entries before Record drops (default 256)
	BatchSize int              // max entries per insert (default 32)
	Now       func() time.Time // optional; defaults to time.Now
}

// New creates a Store and starts its writer.
func New(opts StoreOpts) (*Store, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("journal: db is required")
	}
	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Store{
		db:        opts.DB,
		queue:     make(chan models.JournalEntry, opts.Buffer),
		done:      make(chan struct{}),
		batchSize: opts.BatchSize,
		now:       opts.Now,
	}
	go s.run()
	return s, nil
}

// Record queues an entry. It never blocks: when the buffer is full the
// entry is dropped and logged.
func (s *Store) Record(e models.JournalEntry) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- e:
	default:
		s.dropped++
		log.Printf("journal: buffer full, dropping %s entry for %s", e.Kind, e.ChannelID)
	}
}

// Dropped returns how many entries were discarded because the buffer was full.
func (s *Store) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close stops accepting entries and waits for queued ones to be written.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	<-s.done
	return nil
}

func (s *Store) run() {
	defer close(s.done)
	batch := make([]models.JournalEntry, 0, s.batchSize)
	for e := range s.queue {
		batch = append(batch[:0], e)
	fill:
		for len(batch) < s.batchSize {
			select {
			case next, ok := <-s.queue:
				if !ok {
					break fill
				}
				batch = append(batch, next)
			default:
				break fill
			}
		}
		if err := s.db.Create(&batch).Error; err != nil {
			log.Printf("journal: write %d entries: %v", len(batch), err)
		}
	}
}

// Recent returns the latest limit entries, oldest first.
func (s *Store) Recent(limit int) ([]models.JournalEntry, error) {
	return Recent(s.db, limit)
}

// ForChannel returns the latest limit entries for a channel, oldest first.
func (s *Store) ForChannel(id string, limit int) ([]models.JournalEntry, error) {
	return ForChannel(s.db, id, limit)
}

// Recent returns the latest limit entries, oldest first.
func Recent(db *gorm.DB, limit int) ([]models.JournalEntry, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	var entries []models.JournalEntry
	if err := db.Order("id DESC").Limit(limit).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("journal: recent: %w", err)
	}
	reverse(entries)
	return entries, nil
}

// ForChannel returns the latest limit entries whose channel id or session
// id equals id, oldest first.
func ForChannel(db *gorm.DB, id string, limit int) ([]models.JournalEntry, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	var entries []models.JournalEntry
	if err := db.Where("channel_id = ? OR session_id = ?", id, id).
		Order("id DESC").Limit(limit).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("journal: channel %s: %w", id, err)
	}
	reverse(entries)
	return entries, nil
}

func reverse(entries []models.JournalEntry) {
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
}
