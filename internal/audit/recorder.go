// Package audit records privileged admin actions in an append-only table.
//
// Appends are best effort: the business write they describe has already
// succeeded, so a failed append is logged and counted, never returned.
package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Action enumerates the audited mutations.
type Action string

const (
	ActionBlockUser        Action = "BLOCK_USER"
	ActionUnblockUser      Action = "UNBLOCK_USER"
	ActionUpdateAppVersion Action = "UPDATE_APP_VERSION"
	ActionUploadAPK        Action = "UPLOAD_APK"
	ActionUploadContent    Action = "UPLOAD_CONTENT"
)

var errMissingDatabase = errors.New("audit: database handle is required")

// Entry is one audited action. Rows are inserted once and never updated.
type Entry struct {
	EntryID    string            `gorm:"column:entry_id;primaryKey;size:64;not null"`
	Action     Action            `gorm:"column:action;size:32;not null;index:idx_admin_logs_action_time,priority:1"`
	ActorEmail string            `gorm:"column:actor_email;size:320;not null;index"`
	Target     *string           `gorm:"column:target;size:190"`
	Payload    datatypes.JSONMap `gorm:"column:payload"`
	CreatedAt  time.Time         `gorm:"column:created_at;not null;index:idx_admin_logs_action_time,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Entry) TableName() string {
	return "admin_logs"
}

// Event is what a handler knows about the action it just performed.
type Event struct {
	Action     Action
	ActorEmail string
	Target     string
	Payload    map[string]any
}

// Appender is the narrow contract business services depend on.
type Appender interface {
	Append(ctx context.Context, event Event)
}

// RecorderConfig describes the dependencies of a Recorder.
type RecorderConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	NewID    func() (string, error)
	Logger   *zap.Logger
	Failures prometheus.Counter
}

// Recorder writes audit entries with strictly increasing timestamps.
type Recorder struct {
	db       *gorm.DB
	clock    func() time.Time
	newID    func() (string, error)
	logger   *zap.Logger
	failures prometheus.Counter

	mu   sync.Mutex
	last time.Time
}

// NewRecorder constructs a Recorder.
func NewRecorder(cfg RecorderConfig) (*Recorder, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := cfg.NewID
	if newID == nil {
		newID = newUUIDv7
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		db:       cfg.Database,
		clock:    clock,
		newID:    newID,
		logger:   logger,
		failures: cfg.Failures,
	}, nil
}

// Append stores the event. Failures are logged and swallowed. The insert
// ignores cancellation of ctx so a caller that disconnects after the primary
// write still leaves an entry behind.
func (r *Recorder) Append(ctx context.Context, event Event) {
	entry, err := r.buildEntry(event)
	if err == nil {
		err = r.db.WithContext(context.WithoutCancel(ctx)).Create(&entry).Error
	}
	if err != nil {
		if r.failures != nil {
			r.failures.Inc()
		}
		r.logger.Error("audit append failed",
			zap.String("action", string(event.Action)),
			zap.String("actor_email", event.ActorEmail),
			zap.String("target", event.Target),
			zap.Error(err))
		return
	}
	r.logger.Info("admin action recorded",
		zap.String("entry_id", entry.EntryID),
		zap.String("action", string(entry.Action)),
		zap.String("actor_email", entry.ActorEmail),
		zap.String("target", event.Target))
}

func (r *Recorder) buildEntry(event Event) (Entry, error) {
	id, err := r.newID()
	if err != nil {
		return Entry{}, err
	}
	var target *string
	if event.Target != "" {
		value := event.Target
		target = &value
	}
	payload := datatypes.JSONMap{}
	for key, value := range event.Payload {
		payload[key] = value
	}
	return Entry{
		EntryID:    id,
		Action:     event.Action,
		ActorEmail: event.ActorEmail,
		Target:     target,
		Payload:    payload,
		CreatedAt:  r.nextTimestamp(),
	}, nil
}

func (r *Recorder) nextTimestamp() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock().UTC()
	if !now.After(r.last) {
		now = r.last.Add(time.Microsecond)
	}
	r.last = now
	return now
}

func newUUIDv7() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
