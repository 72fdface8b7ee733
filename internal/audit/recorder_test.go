package audit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

func openDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		t.Fatalf("failed to migrate audit schema: %v", err)
	}
	return db
}

func TestAppendStoresEntry(t *testing.T) {
	db := openDatabase(t)
	recorder, err := NewRecorder(RecorderConfig{
		Database: db,
		Clock:    func() time.Time { return time.Unix(1700000000, 0) },
	})
	if err != nil {
		t.Fatalf("failed to build recorder: %v", err)
	}

	recorder.Append(context.Background(), Event{
		Action:     ActionBlockUser,
		ActorEmail: "admin@example.com",
		Target:     "uid-1",
		Payload:    map[string]any{"reason": "spam"},
	})

	var entries []Entry
	if err := db.Find(&entries).Error; err != nil {
		t.Fatalf("failed to read entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Action != ActionBlockUser || entry.ActorEmail != "admin@example.com" {
		t.Fatalf("unexpected entry %#v", entry)
	}
	if entry.Target == nil || *entry.Target != "uid-1" {
		t.Fatalf("unexpected target %v", entry.Target)
	}
	if entry.Payload["reason"] != "spam" {
		t.Fatalf("unexpected payload %#v", entry.Payload)
	}
	if entry.EntryID == "" {
		t.Fatalf("expected generated entry id")
	}
}

func TestAppendWithoutTargetStoresNull(t *testing.T) {
	db := openDatabase(t)
	recorder, err := NewRecorder(RecorderConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build recorder: %v", err)
	}

	recorder.Append(context.Background(), Event{Action: ActionUpdateAppVersion, ActorEmail: "admin@example.com"})

	var entry Entry
	if err := db.Take(&entry).Error; err != nil {
		t.Fatalf("failed to read entry: %v", err)
	}
	if entry.Target != nil {
		t.Fatalf("expected nil target, got %q", *entry.Target)
	}
}

func TestAppendSurvivesCancelledRequestContext(t *testing.T) {
	db := openDatabase(t)
	recorder, err := NewRecorder(RecorderConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build recorder: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	recorder.Append(ctx, Event{Action: ActionUploadAPK, ActorEmail: "admin@example.com"})

	var count int64
	if err := db.Model(&Entry{}).Where("action = ?", ActionUploadAPK).Count(&count).Error; err != nil {
		t.Fatalf("failed to count entries: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected entry despite cancelled context, got %d", count)
	}
}

func TestAppendAssignsIncreasingTimestamps(t *testing.T) {
	db := openDatabase(t)
	frozen := time.Unix(1700000000, 0)
	recorder, err := NewRecorder(RecorderConfig{
		Database: db,
		Clock:    func() time.Time { return frozen },
	})
	if err != nil {
		t.Fatalf("failed to build recorder: %v", err)
	}

	for i := 0; i < 3; i++ {
		recorder.Append(context.Background(), Event{Action: ActionUploadAPK, ActorEmail: "admin@example.com"})
	}

	var entries []Entry
	if err := db.Order("created_at ASC").Find(&entries).Error; err != nil {
		t.Fatalf("failed to read entries: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected three entries, got %d", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if !entries[i].CreatedAt.After(entries[i-1].CreatedAt) {
			t.Fatalf("timestamps not strictly increasing: %s then %s", entries[i-1].CreatedAt, entries[i].CreatedAt)
		}
	}
}

func TestAppendSwallowsFailures(t *testing.T) {
	db := openDatabase(t)
	core, logs := observer.New(zapcore.DebugLevel)
	failures := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_audit_failures_total"})
	recorder, err := NewRecorder(RecorderConfig{
		Database: db,
		NewID:    func() (string, error) { return "", errors.New("entropy exhausted") },
		Logger:   zap.New(core),
		Failures: failures,
	})
	if err != nil {
		t.Fatalf("failed to build recorder: %v", err)
	}

	recorder.Append(context.Background(), Event{Action: ActionUploadContent, ActorEmail: "admin@example.com"})

	if got := testutil.ToFloat64(failures); got != 1 {
		t.Fatalf("expected one recorded failure, got %v", got)
	}
	entries := logs.FilterMessage("audit append failed").All()
	if len(entries) != 1 || entries[0].Level != zapcore.ErrorLevel {
		t.Fatalf("expected one error log entry, got %#v", logs.All())
	}
	var count int64
	if err := db.Model(&Entry{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no stored entries, got %d", count)
	}
}
