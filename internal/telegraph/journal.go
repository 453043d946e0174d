package telegraph

import (
	"fmt"

	"github.com/zulandar/frontdesk/internal/channel"
	"github.com/zulandar/frontdesk/internal/models"
)

// Journal receives audit entries for channel lifecycle events. Record must
// not block the caller.
type Journal interface {
	Record(entry models.JournalEntry)
}

type nopJournal struct{}

func (nopJournal) Record(models.JournalEntry) {}

// ConflictRecorder returns a registry conflict hook that journals every
// id/session id disagreement as an integrity entry.
func ConflictRecorder(j Journal) func(channel.Conflict) {
	if j == nil {
		j = nopJournal{}
	}
	return func(c channel.Conflict) {
		j.Record(models.JournalEntry{
			Kind:      models.JournalIntegrity,
			ChannelID: c.SessionMatch,
			SessionID: c.Key,
			Detail: fmt.Sprintf("key %q matches channel %s by id and %s by session id",
				c.Key, c.IDMatch, c.SessionMatch),
		})
	}
}
