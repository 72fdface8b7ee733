// Package appversion manages the singleton configuration the mobile client
// polls to decide whether it must update.
package appversion

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/cineflow-admin/internal/audit"
	"github.com/MarcoPoloResearchLab/cineflow-admin/internal/serviceerror"
	"go.uber.org/zap"
)

const (
	// DocumentCollection and DocumentID address the persisted configuration.
	DocumentCollection = "app_config"
	DocumentID         = "version"

	// DefaultMinVersion is reported before any configuration exists.
	DefaultMinVersion = "1.0.0"

	// UploadUpdateMessage is set whenever a new artifact is published.
	UploadUpdateMessage = "New version available! Update now."
)

var (
	// ErrInvalidVersion reports a minVersion that is not a dotted numeric version.
	ErrInvalidVersion = errors.New("appversion: invalid version")

	versionPattern = regexp.MustCompile(`^\d+(\.\d+){0,3}$`)
)

// DocumentStore is the persistence contract the service needs.
type DocumentStore interface {
	Get(ctx context.Context, collection, id string, out any) (bool, error)
	Merge(ctx context.Context, collection, id string, fields map[string]any) error
}

// Config is the stored app version document. Optional fields are omitted
// until an artifact upload or an update sets them.
type Config struct {
	MinVersion        string     `json:"minVersion"`
	ForceUpdate       bool       `json:"forceUpdate"`
	UpdateMessage     string     `json:"updateMessage"`
	DownloadURL       string     `json:"downloadUrl"`
	FileSize          *int64     `json:"fileSize,omitempty"`
	FileSizeFormatted string     `json:"fileSizeFormatted,omitempty"`
	UploadedAt        *time.Time `json:"uploadedAt,omitempty"`
	UploadedBy        string     `json:"uploadedBy,omitempty"`
	UpdatedAt         *time.Time `json:"updatedAt,omitempty"`
	UpdatedBy         string     `json:"updatedBy,omitempty"`
}

// Defaults is the configuration reported when nothing is stored.
func Defaults() Config {
	return Config{MinVersion: DefaultMinVersion}
}

// Update carries an admin edit. Nil fields keep their stored value.
type Update struct {
	MinVersion    *string `json:"minVersion"`
	ForceUpdate   *bool   `json:"forceUpdate"`
	UpdateMessage *string `json:"updateMessage"`
	DownloadURL   *string `json:"downloadUrl"`
}

// Upload describes a freshly published artifact.
type Upload struct {
	Version           string
	DownloadURL       string
	FileSize          int64
	FileSizeFormatted string
}

// ServiceConfig describes the dependencies of a Service.
type ServiceConfig struct {
	Documents DocumentStore
	Audit     audit.Appender
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Service reads and merges the app version document.
type Service struct {
	documents DocumentStore
	audit     audit.Appender
	clock     func() time.Time
	logger    *zap.Logger
}

// NewService constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Documents == nil {
		return nil, fmt.Errorf("appversion: document store required")
	}
	if cfg.Audit == nil {
		return nil, fmt.Errorf("appversion: audit appender required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{documents: cfg.Documents, audit: cfg.Audit, clock: clock, logger: logger}, nil
}

// Current returns the stored configuration, or the defaults when none exists.
func (s *Service) Current(ctx context.Context) (Config, error) {
	config := Defaults()
	found, err := s.documents.Get(ctx, DocumentCollection, DocumentID, &config)
	if err != nil {
		return Config{}, serviceerror.New("appversion.current", "read_failed", err)
	}
	if !found {
		return Defaults(), nil
	}
	return config, nil
}

// Stored returns the raw stored configuration and whether it exists.
func (s *Service) Stored(ctx context.Context) (Config, bool, error) {
	var config Config
	found, err := s.documents.Get(ctx, DocumentCollection, DocumentID, &config)
	if err != nil {
		return Config{}, false, serviceerror.New("appversion.stored", "read_failed", err)
	}
	return config, found, nil
}

// Apply merges update into the stored configuration and records the action.
func (s *Service) Apply(ctx context.Context, actorEmail string, update Update) error {
	fields := map[string]any{
		"updatedAt": s.clock().UTC(),
		"updatedBy": actorEmail,
	}
	payload := map[string]any{}
	if update.MinVersion != nil {
		version := strings.TrimSpace(*update.MinVersion)
		if !versionPattern.MatchString(version) {
			return fmt.Errorf("%w: %q", ErrInvalidVersion, *update.MinVersion)
		}
		fields["minVersion"] = version
		payload["minVersion"] = version
	}
	if update.ForceUpdate != nil {
		fields["forceUpdate"] = *update.ForceUpdate
		payload["forceUpdate"] = *update.ForceUpdate
	}
	if update.UpdateMessage != nil {
		fields["updateMessage"] = *update.UpdateMessage
	}
	if update.DownloadURL != nil {
		fields["downloadUrl"] = strings.TrimSpace(*update.DownloadURL)
	}

	if err := s.documents.Merge(ctx, DocumentCollection, DocumentID, fields); err != nil {
		s.logger.Error("app version update failed", zap.Error(err))
		return serviceerror.New("appversion.apply", "merge_failed", err)
	}
	s.audit.Append(ctx, audit.Event{
		Action:     audit.ActionUpdateAppVersion,
		ActorEmail: actorEmail,
		Payload:    payload,
	})
	return nil
}

// ValidateVersion reports whether version may be stored as minVersion. An
// empty version is valid and means "keep the current one".
func ValidateVersion(version string) error {
	version = strings.TrimSpace(version)
	if version == "" || versionPattern.MatchString(version) {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidVersion, version)
}

// RecordUpload merges the published artifact into the configuration and
// forces clients to update. An empty version keeps the stored minVersion.
// The caller records the upload in the audit log.
func (s *Service) RecordUpload(ctx context.Context, actorEmail string, upload Upload) error {
	if err := ValidateVersion(upload.Version); err != nil {
		return err
	}
	now := s.clock().UTC()
	fields := map[string]any{
		"forceUpdate":       true,
		"updateMessage":     UploadUpdateMessage,
		"downloadUrl":       upload.DownloadURL,
		"fileSize":          upload.FileSize,
		"fileSizeFormatted": upload.FileSizeFormatted,
		"uploadedAt":        now,
		"uploadedBy":        actorEmail,
	}
	if version := strings.TrimSpace(upload.Version); version != "" {
		fields["minVersion"] = version
	} else {
		current, err := s.Current(ctx)
		if err != nil {
			return err
		}
		fields["minVersion"] = current.MinVersion
	}
	if err := s.documents.Merge(ctx, DocumentCollection, DocumentID, fields); err != nil {
		s.logger.Error("app version upload merge failed", zap.Error(err))
		return serviceerror.New("appversion.record_upload", "merge_failed", err)
	}
	return nil
}
