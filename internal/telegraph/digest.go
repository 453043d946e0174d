package telegraph

import (
	"sort"
	"time"

	"github.com/zulandar/frontdesk/internal/channel"
)

// QueueReport summarizes the registry for the periodic digest.
type QueueReport struct {
	At         time.Time
	Pending    int
	Active     int
	Unread     int
	OldestName string        // longest-waiting pending channel
	OldestWait time.Duration // how long it has waited
	BySector   []SectorDigest
}

// SectorDigest holds per-sector counts.
type SectorDigest struct {
	Sector  string
	Pending int
	Active  int
}

// Empty reports whether there is nothing in the queue.
func (r QueueReport) Empty() bool {
	return r.Pending == 0 && r.Active == 0
}

// BuildQueueReport computes a QueueReport from a registry snapshot.
// A pending channel waits from its creation time.
func BuildQueueReport(snap channel.Snapshot, now time.Time) QueueReport {
	r := QueueReport{
		At:      now,
		Pending: len(snap.Pending),
		Active:  len(snap.Active),
	}
	sectors := make(map[string]*SectorDigest)
	sector := func(name string) *SectorDigest {
		if name == "" {
			name = "sem setor"
		}
		s, ok := sectors[name]
		if !ok {
			s = &SectorDigest{Sector: name}
			sectors[name] = s
		}
		return s
	}

	for _, c := range snap.Pending {
		r.Unread += c.UnreadCount
		sector(c.Sector).Pending++
		if c.CreatedAt.IsZero() {
			continue
		}
		if wait := now.Sub(c.CreatedAt); wait > r.OldestWait {
			r.OldestWait = wait
			r.OldestName = c.Name
		}
	}
	for _, c := range snap.Active {
		r.Unread += c.UnreadCount
		sector(c.Sector).Active++
	}

	// A single unnamed bucket adds nothing to the totals.
	if len(sectors) > 1 || (len(sectors) == 1 && sectors["sem setor"] == nil) {
		for _, s := range sectors {
			r.BySector = append(r.BySector, *s)
		}
		sort.Slice(r.BySector, func(i, j int) bool {
			return r.BySector[i].Sector < r.BySector[j].Sector
		})
	}
	return r
}
