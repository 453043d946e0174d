package models

import "time"

// Journal entry kinds.
const (
	JournalCreated    = "created"     // walk-up channel synthesized from an inbound message
	JournalSnapshot   = "snapshot"    // channel upserted from the open sessions backlog
	JournalPromoted   = "promoted"    // pending channel promoted by an inbound user message
	JournalMessage    = "message"     // message appended to a channel
	JournalDropped    = "dropped"     // unroutable message discarded
	JournalIntegrity  = "integrity"   // id and session id resolved to different channels
	JournalAttended   = "attended"    // operator took a pending channel
	JournalClosed     = "closed"      // operator closed a channel
	JournalSendFailed = "send_failed" // outbound emit failed after the local update
)

// Column widths of the bounded JournalEntry fields, in characters. They
// match the size tags below.
const (
	KeyWidth    = 128 // ChannelID, SessionID
	SenderWidth = 16
)

// JournalEntry is one line of the write-only audit trail of channel
// lifecycle events. It is never read back into the registry.
type JournalEntry struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Kind      string    `gorm:"size:16;not null;index"`
	ChannelID string    `gorm:"size:128;index"`
	SessionID string    `gorm:"size:128;index"`
	Sender    string    `gorm:"size:16"`
	Operator  string    `gorm:"size:64"`
	Text      string    `gorm:"type:text"`
	Detail    string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"index"`
}
