package admins

import (
	"context"
	"errors"
	"strings"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var errMissingStore = errors.New("admins: store is required")

// ReloaderConfig describes a scheduled allow-list refresh.
type ReloaderConfig struct {
	Store    *Store
	Schedule string
	Logger   *zap.Logger
}

// Reloader re-reads the persisted allow-list on a cron schedule so that
// replicas pick up a replacement made through another instance.
type Reloader struct {
	scheduler *cron.Cron
	logger    *zap.Logger
	schedule  string
}

// NewReloader returns nil when no schedule is configured.
func NewReloader(cfg ReloaderConfig) (*Reloader, error) {
	schedule := strings.TrimSpace(cfg.Schedule)
	if schedule == "" {
		return nil, nil
	}
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	scheduler := cron.New()
	store := cfg.Store
	if _, err := scheduler.AddFunc(schedule, func() {
		if err := store.Reload(context.Background()); err != nil {
			logger.Warn("scheduled allow-list reload failed", zap.Error(err))
		}
	}); err != nil {
		return nil, err
	}
	return &Reloader{scheduler: scheduler, logger: logger, schedule: schedule}, nil
}

// Run starts the schedule and blocks until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) {
	r.scheduler.Start()
	r.logger.Info("allow-list reload scheduled", zap.String("schedule", r.schedule))
	<-ctx.Done()
	<-r.scheduler.Stop().Done()
}
