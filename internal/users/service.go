package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/cineflow-admin/internal/audit"
	"github.com/MarcoPoloResearchLab/cineflow-admin/internal/serviceerror"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// DefaultBlockReason is stored when an admin blocks without a reason.
	DefaultBlockReason = "Blocked by administrator"

	recentWindow = 7 * 24 * time.Hour
	maxUIDLength = 128
)

// ErrInvalidUID indicates a uid that cannot address a user.
var ErrInvalidUID = errors.New("users: invalid uid")

// ServiceConfig describes the dependencies of the user moderation service.
type ServiceConfig struct {
	Database  *gorm.DB
	Directory Directory
	Audit     audit.Appender
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Service merges provider users with overlays and applies moderation.
type Service struct {
	db        *gorm.DB
	directory Directory
	audit     audit.Appender
	now       func() time.Time
	logger    *zap.Logger
}

// Listing is the admin user listing.
type Listing struct {
	Users []Record `json:"users"`
	Total int      `json:"total"`
}

// Status is the public block status of a uid.
type Status struct {
	IsBlocked     bool    `json:"isBlocked"`
	BlockedReason *string `json:"blockedReason,omitempty"`
}

// Stats summarises the user base for the dashboard.
type Stats struct {
	TotalUsers   int `json:"totalUsers"`
	ActiveUsers  int `json:"activeUsers"`
	BlockedUsers int `json:"blockedUsers"`
	RecentUsers  int `json:"recentUsers"`
}

// NewService constructs the user service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	if cfg.Directory == nil {
		return nil, fmt.Errorf("users: directory required")
	}
	if cfg.Audit == nil {
		return nil, fmt.Errorf("users: audit appender required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:        cfg.Database,
		directory: cfg.Directory,
		audit:     cfg.Audit,
		now:       clock,
		logger:    logger,
	}, nil
}

// ValidateUID rejects uids that are blank, too long or contain a path separator.
func ValidateUID(uid string) error {
	if uid == "" || len(uid) > maxUIDLength || strings.ContainsAny(uid, "/ \t\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidUID, uid)
	}
	return nil
}

// ListUsers returns provider users merged with their overlays.
func (s *Service) ListUsers(ctx context.Context) (Listing, error) {
	providerUsers, err := s.directory.ListUsers(ctx, MaxListedUsers)
	if err != nil {
		s.logError("users.list", "directory_failed", err)
		return Listing{}, serviceerror.New("users.list", "directory_failed", err)
	}
	overlays, err := s.loadOverlays(ctx, providerUsers)
	if err != nil {
		s.logError("users.list", "overlay_query_failed", err)
		return Listing{}, serviceerror.New("users.list", "overlay_query_failed", err)
	}
	records := make([]Record, 0, len(providerUsers))
	for _, user := range providerUsers {
		var overlay *Overlay
		if found, ok := overlays[user.UID]; ok {
			overlay = &found
		}
		records = append(records, Merge(user, overlay))
	}
	return Listing{Users: records, Total: len(records)}, nil
}

// SetBlocked writes the overlay for uid and records the action. Repeating a
// block rewrites the reason and timestamp.
func (s *Service) SetBlocked(ctx context.Context, actorEmail, uid string, block bool, reason string) (Overlay, error) {
	if err := ValidateUID(uid); err != nil {
		return Overlay{}, err
	}
	now := s.now().UTC()
	overlay := Overlay{UID: uid, UpdatedAt: now}
	if block {
		overlay.IsBlocked = true
		overlay.BlockedReason = strings.TrimSpace(reason)
		if overlay.BlockedReason == "" {
			overlay.BlockedReason = DefaultBlockReason
		}
		overlay.BlockedAt = &now
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "uid"}},
		DoUpdates: clause.AssignmentColumns([]string{"is_blocked", "blocked_reason", "blocked_at", "updated_at"}),
	}).Create(&overlay).Error
	if err != nil {
		s.logError("users.set_blocked", "upsert_failed", err)
		return Overlay{}, serviceerror.New("users.set_blocked", "upsert_failed", err)
	}

	action := audit.ActionUnblockUser
	if block {
		action = audit.ActionBlockUser
	}
	s.audit.Append(ctx, audit.Event{
		Action:     action,
		ActorEmail: actorEmail,
		Target:     uid,
		Payload:    map[string]any{"reason": overlay.BlockedReason},
	})
	return overlay, nil
}

// Status reports the block status of uid. A uid without an overlay is unblocked.
func (s *Service) Status(ctx context.Context, uid string) (Status, error) {
	if err := ValidateUID(uid); err != nil {
		return Status{}, err
	}
	overlay, found, err := s.overlay(ctx, uid)
	if err != nil {
		s.logError("users.status", "query_failed", err)
		return Status{}, serviceerror.New("users.status", "query_failed", err)
	}
	if !found {
		return Status{IsBlocked: false}, nil
	}
	reason := overlay.BlockedReason
	return Status{IsBlocked: overlay.IsBlocked, BlockedReason: &reason}, nil
}

// Stats counts provider users, blocked overlays and users created in the
// last seven days.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	providerUsers, err := s.directory.ListUsers(ctx, MaxListedUsers)
	if err != nil {
		s.logError("users.stats", "directory_failed", err)
		return Stats{}, serviceerror.New("users.stats", "directory_failed", err)
	}
	var blocked int64
	if err := s.db.WithContext(ctx).Model(&Overlay{}).Where("is_blocked = ?", true).Count(&blocked).Error; err != nil {
		s.logError("users.stats", "count_failed", err)
		return Stats{}, serviceerror.New("users.stats", "count_failed", err)
	}
	cutoff := s.now().Add(-recentWindow)
	recent := 0
	for _, user := range providerUsers {
		if user.CreatedAt.After(cutoff) {
			recent++
		}
	}
	total := len(providerUsers)
	return Stats{
		TotalUsers:   total,
		BlockedUsers: int(blocked),
		ActiveUsers:  total - int(blocked),
		RecentUsers:  recent,
	}, nil
}

func (s *Service) overlay(ctx context.Context, uid string) (Overlay, bool, error) {
	var overlay Overlay
	err := s.db.WithContext(ctx).Where("uid = ?", uid).Take(&overlay).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Overlay{}, false, nil
	}
	if err != nil {
		return Overlay{}, false, err
	}
	return overlay, true, nil
}

func (s *Service) loadOverlays(ctx context.Context, providerUsers []ProviderUser) (map[string]Overlay, error) {
	result := make(map[string]Overlay, len(providerUsers))
	if len(providerUsers) == 0 {
		return result, nil
	}
	uids := make([]string, 0, len(providerUsers))
	for _, user := range providerUsers {
		uids = append(uids, user.UID)
	}
	var overlays []Overlay
	if err := s.db.WithContext(ctx).Where("uid IN ?", uids).Find(&overlays).Error; err != nil {
		return nil, err
	}
	for _, overlay := range overlays {
		result[overlay.UID] = overlay
	}
	return result, nil
}

func (s *Service) logError(operation, reason string, err error) {
	s.logger.Error("user service error",
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err))
}
