package journal

import (
	"fmt"
	"testing"
	"time"

	"github.com/zulandar/frontdesk/internal/channel"
	"github.com/zulandar/frontdesk/internal/db"
	"github.com/zulandar/frontdesk/internal/models"
	"github.com/zulandar/frontdesk/internal/telegraph"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var _ telegraph.Journal = (*Store)(nil)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	// One connection so the writer goroutine sees the same in-memory database.
	sqlDB, err := gormDB.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(gormDB); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gormDB
}

func TestNew_RequiresDB(t *testing.T) {
	if _, err := New(StoreOpts{}); err == nil {
		t.Fatal("expected error for nil db")
	}
}

func TestStore_RecordAndFlushOnClose(t *testing.T) {
	gormDB := testDB(t)
	fixed := time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC)
	s, err := New(StoreOpts{DB: gormDB, Now: func() time.Time { return fixed }})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	for i := 0; i < 10; i++ {
		s.Record(models.JournalEntry{
			Kind:      models.JournalMessage,
			ChannelID: "p1",
			SessionID: "s1",
			Text:      fmt.Sprintf("m%d", i),
		})
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	var count int64
	gormDB.Model(&models.JournalEntry{}).Count(&count)
	if count != 10 {
		t.Fatalf("count = %d, want 10", count)
	}

	entries, err := Recent(gormDB, 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("recent = %d, want 3", len(entries))
	}
	if entries[0].Text != "m7" || entries[2].Text != "m9" {
		t.Errorf("recent order = %s..%s, want m7..m9", entries[0].Text, entries[2].Text)
	}
	if !entries[0].CreatedAt.Equal(fixed) {
		t.Errorf("CreatedAt = %v, want %v", entries[0].CreatedAt, fixed)
	}
}

func TestStore_KeepsExplicitTimestamp(t *testing.T) {
	gormDB := testDB(t)
	s, _ := New(StoreOpts{DB: gormDB})
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	s.Record(models.JournalEntry{Kind: models.JournalClosed, ChannelID: "p1", CreatedAt: at})
	s.Close()

	entries, err := s.Recent(1)
	if err != nil || len(entries) != 1 {
		t.Fatalf("recent = %v, %v", entries, err)
	}
	if !entries[0].CreatedAt.Equal(at) {
		t.Errorf("CreatedAt = %v, want %v", entries[0].CreatedAt, at)
	}
}

func TestStore_RecordAfterCloseIsIgnored(t *testing.T) {
	gormDB := testDB(t)
	s, _ := New(StoreOpts{DB: gormDB})
	s.Close()
	s.Record(models.JournalEntry{Kind: models.JournalMessage})
	if err := s.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}

	var count int64
	gormDB.Model(&models.JournalEntry{}).Count(&count)
	if count != 0 {
		t.Errorf("count = %d, want 0", count)
	}
}

func TestStore_DropsWhenFull(t *testing.T) {
	gormDB := testDB(t)
	// Hold the only connection so the writer blocks on its first insert.
	sqlDB, _ := gormDB.DB()
	conn, err := sqlDB.Conn(t.Context())
	if err != nil {
		t.Fatalf("conn: %v", err)
	}

	s, _ := New(StoreOpts{DB: gormDB, Buffer: 2, BatchSize: 1})
	for i := 0; i < 10; i++ {
		s.Record(models.JournalEntry{Kind: models.JournalMessage, ChannelID: "p1"})
	}
	if s.Dropped() == 0 {
		t.Error("expected drops with a full buffer")
	}

	conn.Close()
	s.Close()
	var count int64
	gormDB.Model(&models.JournalEntry{}).Count(&count)
	if int(count)+s.Dropped() != 10 {
		t.Errorf("written %d + dropped %d != 10", count, s.Dropped())
	}
}

func TestForChannel(t *testing.T) {
	gormDB := testDB(t)
	s, _ := New(StoreOpts{DB: gormDB})
	s.Record(models.JournalEntry{Kind: models.JournalSnapshot, ChannelID: "p1", SessionID: "s1"})
	s.Record(models.JournalEntry{Kind: models.JournalSnapshot, ChannelID: "p2", SessionID: "s2"})
	s.Record(models.JournalEntry{Kind: models.JournalDropped, SessionID: "s1", Detail: "unknown sender"})
	s.Record(models.JournalEntry{Kind: models.JournalAttended, ChannelID: "p1", SessionID: "s1"})
	s.Close()

	byID, err := s.ForChannel("p1", 0)
	if err != nil {
		t.Fatalf("for channel: %v", err)
	}
	if len(byID) != 2 || byID[0].Kind != models.JournalSnapshot || byID[1].Kind != models.JournalAttended {
		t.Errorf("by id = %+v", byID)
	}

	bySession, err := ForChannel(gormDB, "s1", 10)
	if err != nil {
		t.Fatalf("for session: %v", err)
	}
	if len(bySession) != 3 {
		t.Errorf("by session = %d entries, want 3", len(bySession))
	}
}

func TestStore_AsTelegraphJournal(t *testing.T) {
	gormDB := testDB(t)
	s, _ := New(StoreOpts{DB: gormDB})

	record := telegraph.ConflictRecorder(s)
	record(channel.Conflict{Key: "s1", IDMatch: "a1", SessionMatch: "a2"})
	s.Close()

	entries, err := s.Recent(10)
	if err != nil || len(entries) != 1 {
		t.Fatalf("recent = %v, %v", entries, err)
	}
	if entries[0].Kind != models.JournalIntegrity || entries[0].ChannelID != "a2" {
		t.Errorf("entry = %+v", entries[0])
	}
}
