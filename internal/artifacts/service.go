package artifacts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/cineflow-admin/internal/appversion"
	"github.com/MarcoPoloResearchLab/cineflow-admin/internal/audit"
	"github.com/MarcoPoloResearchLab/cineflow-admin/internal/serviceerror"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	APKObjectName   = "app-latest.apk"
	APKDownloadName = "CineFlow.apk"
	APKContentType  = "application/vnd.android.package-archive"
	APKDownloadPath = "/download/app"

	ContentObjectName        = "content-latest.m3u"
	ContentDownloadName      = "playlist.m3u"
	ContentContentType       = "audio/x-mpegurl"
	ContentVersionObjectName = "content-version.json"

	UploadKindAPK     = "apk"
	UploadKindContent = "content"

	DefaultMaxAPKBytes     int64 = 300 << 20
	DefaultMaxContentBytes int64 = 50 << 20
)

// ErrInvalidUpload reports an upload rejected before anything was written.
var ErrInvalidUpload = errors.New("artifacts: invalid upload")

// AppVersionRecorder is the app version side of an APK upload.
type AppVersionRecorder interface {
	RecordUpload(ctx context.Context, actorEmail string, upload appversion.Upload) error
	Stored(ctx context.Context) (appversion.Config, bool, error)
}

// FileUpload is one received multipart file.
type FileUpload struct {
	Filename string
	Size     int64
	Body     io.Reader
}

// FileInfo is the public description of a stored slot.
type FileInfo struct {
	Size          int64     `json:"size"`
	SizeFormatted string    `json:"sizeFormatted"`
	LastModified  time.Time `json:"lastModified"`
}

// APKInfo backs GET /api/app-info.
type APKInfo struct {
	Available bool      `json:"available"`
	File      *FileInfo `json:"file"`
	Version   any       `json:"version"`
}

// ContentStamp is the side file written with every content upload.
type ContentStamp struct {
	Version     string    `json:"version"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Description string    `json:"description"`
	Size        int64     `json:"size"`
}

// ContentInfo backs GET /api/content/info.
type ContentInfo struct {
	Available bool          `json:"available"`
	File      *FileInfo     `json:"file"`
	Version   *ContentStamp `json:"version"`
}

// APKResult describes a finished APK upload.
type APKResult struct {
	Size          int64  `json:"size"`
	SizeFormatted string `json:"sizeFormatted"`
	DownloadURL   string `json:"downloadUrl"`
}

// ServiceConfig describes the dependencies of a Service.
type ServiceConfig struct {
	Backend         Backend
	AppVersion      AppVersionRecorder
	Audit           audit.Appender
	MaxAPKBytes     int64
	MaxContentBytes int64
	UploadedBytes   *prometheus.CounterVec
	Clock           func() time.Time
	Logger          *zap.Logger
}

// Service finalizes uploads into the latest slots and serves them back.
type Service struct {
	backend         Backend
	appVersion      AppVersionRecorder
	audit           audit.Appender
	maxAPKBytes     int64
	maxContentBytes int64
	uploadedBytes   *prometheus.CounterVec
	clock           func() time.Time
	logger          *zap.Logger

	stampMu     sync.Mutex
	lastVersion int64
}

// NewService constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("artifacts: backend required")
	}
	if cfg.AppVersion == nil {
		return nil, fmt.Errorf("artifacts: app version recorder required")
	}
	if cfg.Audit == nil {
		return nil, fmt.Errorf("artifacts: audit appender required")
	}
	maxAPK := cfg.MaxAPKBytes
	if maxAPK <= 0 {
		maxAPK = DefaultMaxAPKBytes
	}
	maxContent := cfg.MaxContentBytes
	if maxContent <= 0 {
		maxContent = DefaultMaxContentBytes
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
		backend:         cfg.Backend,
		appVersion:      cfg.AppVersion,
		audit:           cfg.Audit,
		maxAPKBytes:     maxAPK,
		maxContentBytes: maxContent,
		uploadedBytes:   cfg.UploadedBytes,
		clock:           clock,
		logger:          logger,
	}, nil
}

// MaxAPKBytes is the largest accepted package.
func (s *Service) MaxAPKBytes() int64 {
	return s.maxAPKBytes
}

// MaxContentBytes is the largest accepted content file.
func (s *Service) MaxContentBytes() int64 {
	return s.maxContentBytes
}

// FormatSize renders a byte count as megabytes with two decimals.
func FormatSize(size int64) string {
	return fmt.Sprintf("%.2f MB", float64(size)/(1024*1024))
}

// UploadAPK overwrites the package slot, forces clients to update and records
// the action. Validation failures leave the slot and configuration untouched.
func (s *Service) UploadAPK(ctx context.Context, actorEmail string, file FileUpload, version, downloadURL string) (APKResult, error) {
	if !strings.HasSuffix(file.Filename, ".apk") {
		return APKResult{}, fmt.Errorf("%w: only .apk files are allowed", ErrInvalidUpload)
	}
	if err := s.checkSize(file.Size, s.maxAPKBytes); err != nil {
		return APKResult{}, err
	}
	if err := appversion.ValidateVersion(version); err != nil {
		return APKResult{}, fmt.Errorf("%w: %w", ErrInvalidUpload, err)
	}

	if err := s.backend.Put(ctx, APKObjectName, file.Body, file.Size, APKContentType); err != nil {
		s.logError("artifacts.upload_apk", "write_failed", err)
		return APKResult{}, serviceerror.New("artifacts.upload_apk", "write_failed", err)
	}
	s.countUpload(UploadKindAPK, file.Size)

	result := APKResult{Size: file.Size, SizeFormatted: FormatSize(file.Size), DownloadURL: downloadURL}
	if err := s.appVersion.RecordUpload(ctx, actorEmail, appversion.Upload{
		Version:           strings.TrimSpace(version),
		DownloadURL:       downloadURL,
		FileSize:          result.Size,
		FileSizeFormatted: result.SizeFormatted,
	}); err != nil {
		s.logError("artifacts.upload_apk", "config_failed", err)
		return APKResult{}, serviceerror.New("artifacts.upload_apk", "config_failed", err)
	}

	s.audit.Append(ctx, audit.Event{
		Action:     audit.ActionUploadAPK,
		ActorEmail: actorEmail,
		Payload:    map[string]any{"version": strings.TrimSpace(version), "fileSize": result.SizeFormatted},
	})
	s.logger.Info("apk uploaded",
		zap.String("size", result.SizeFormatted),
		zap.String("actor_email", actorEmail))
	return result, nil
}

// OpenAPK streams the current package.
func (s *Service) OpenAPK(ctx context.Context) (io.ReadCloser, ObjectInfo, error) {
	return s.open(ctx, APKObjectName, "artifacts.open_apk")
}

// APKInfo reports whether a package is published along with the app version
// document. A version read failure reports an empty version.
func (s *Service) APKInfo(ctx context.Context) (APKInfo, error) {
	file, err := s.stat(ctx, APKObjectName, "artifacts.apk_info")
	if err != nil {
		return APKInfo{}, err
	}
	info := APKInfo{Available: file != nil, File: file, Version: map[string]any{}}
	config, found, err := s.appVersion.Stored(ctx)
	if err != nil {
		s.logger.Warn("app version unavailable for app info", zap.Error(err))
		return info, nil
	}
	if found {
		info.Version = config
	}
	return info, nil
}

// UploadContent overwrites the content slot and replaces its version stamp.
func (s *Service) UploadContent(ctx context.Context, actorEmail string, file FileUpload, description string) (ContentStamp, error) {
	lower := strings.ToLower(file.Filename)
	if !strings.HasSuffix(lower, ".m3u") && !strings.HasSuffix(lower, ".m3u8") {
		return ContentStamp{}, fmt.Errorf("%w: only .m3u or .m3u8 files are allowed", ErrInvalidUpload)
	}
	if err := s.checkSize(file.Size, s.maxContentBytes); err != nil {
		return ContentStamp{}, err
	}

	if err := s.backend.Put(ctx, ContentObjectName, file.Body, file.Size, ContentContentType); err != nil {
		s.logError("artifacts.upload_content", "write_failed", err)
		return ContentStamp{}, serviceerror.New("artifacts.upload_content", "write_failed", err)
	}
	s.countUpload(UploadKindContent, file.Size)

	stamp := s.nextStamp(strings.TrimSpace(description), file.Size)
	body, err := json.Marshal(stamp)
	if err != nil {
		return ContentStamp{}, serviceerror.New("artifacts.upload_content", "encode_failed", err)
	}
	if err := s.backend.Put(ctx, ContentVersionObjectName, bytes.NewReader(body), int64(len(body)), "application/json"); err != nil {
		s.logError("artifacts.upload_content", "stamp_failed", err)
		return ContentStamp{}, serviceerror.New("artifacts.upload_content", "stamp_failed", err)
	}

	s.audit.Append(ctx, audit.Event{
		Action:     audit.ActionUploadContent,
		ActorEmail: actorEmail,
		Payload:    map[string]any{"version": stamp.Version, "size": stamp.Size, "description": stamp.Description},
	})
	s.logger.Info("content uploaded",
		zap.String("version", stamp.Version),
		zap.Int64("size", stamp.Size),
		zap.String("actor_email", actorEmail))
	return stamp, nil
}

// OpenContent streams the current content file.
func (s *Service) OpenContent(ctx context.Context) (io.ReadCloser, ObjectInfo, error) {
	return s.open(ctx, ContentObjectName, "artifacts.open_content")
}

// ContentVersion returns the stamp of the current content file.
func (s *Service) ContentVersion(ctx context.Context) (ContentStamp, error) {
	reader, _, err := s.backend.Open(ctx, ContentVersionObjectName)
	if errors.Is(err, ErrNotFound) {
		return ContentStamp{}, ErrNotFound
	}
	if err != nil {
		s.logError("artifacts.content_version", "read_failed", err)
		return ContentStamp{}, serviceerror.New("artifacts.content_version", "read_failed", err)
	}
	defer reader.Close()
	var stamp ContentStamp
	if err := json.NewDecoder(reader).Decode(&stamp); err != nil {
		s.logError("artifacts.content_version", "decode_failed", err)
		return ContentStamp{}, serviceerror.New("artifacts.content_version", "decode_failed", err)
	}
	return stamp, nil
}

// ContentInfo reports whether a content file is published and its stamp.
func (s *Service) ContentInfo(ctx context.Context) (ContentInfo, error) {
	file, err := s.stat(ctx, ContentObjectName, "artifacts.content_info")
	if err != nil {
		return ContentInfo{}, err
	}
	info := ContentInfo{Available: file != nil, File: file}
	stamp, err := s.ContentVersion(ctx)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return ContentInfo{}, err
	default:
		info.Version = &stamp
	}
	return info, nil
}

func (s *Service) nextStamp(description string, size int64) ContentStamp {
	s.stampMu.Lock()
	defer s.stampMu.Unlock()
	now := s.clock().UTC()
	version := now.UnixMilli()
	if version <= s.lastVersion {
		version = s.lastVersion + 1
	}
	s.lastVersion = version
	return ContentStamp{
		Version:     strconv.FormatInt(version, 10),
		UpdatedAt:   now,
		Description: description,
		Size:        size,
	}
}

func (s *Service) open(ctx context.Context, name, operation string) (io.ReadCloser, ObjectInfo, error) {
	reader, info, err := s.backend.Open(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return nil, ObjectInfo{}, ErrNotFound
	}
	if err != nil {
		s.logError(operation, "open_failed", err)
		return nil, ObjectInfo{}, serviceerror.New(operation, "open_failed", err)
	}
	return reader, info, nil
}

func (s *Service) stat(ctx context.Context, name, operation string) (*FileInfo, error) {
	info, err := s.backend.Stat(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		s.logError(operation, "stat_failed", err)
		return nil, serviceerror.New(operation, "stat_failed", err)
	}
	return &FileInfo{
		Size:          info.Size,
		SizeFormatted: FormatSize(info.Size),
		LastModified:  info.LastModified,
	}, nil
}

func (s *Service) checkSize(size, limit int64) error {
	if size <= 0 {
		return fmt.Errorf("%w: file is empty", ErrInvalidUpload)
	}
	if size > limit {
		return fmt.Errorf("%w: file exceeds %s", ErrInvalidUpload, FormatSize(limit))
	}
	return nil
}

func (s *Service) countUpload(kind string, size int64) {
	if s.uploadedBytes != nil {
		s.uploadedBytes.WithLabelValues(kind).Add(float64(size))
	}
}

func (s *Service) logError(operation, reason string, err error) {
	s.logger.Error("artifact service error",
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err))
}
