// Package documents persists singleton JSON documents addressed by
// (collection, id), the shape the admin panel uses for app-wide settings.
package documents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/cineflow-admin/internal/serviceerror"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opGet   = "documents.get"
	opSet   = "documents.set"
	opMerge = "documents.merge"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errInvalidKey      = errors.New("collection and document id are required")
)

// Document is a single JSON body stored under (collection, id).
type Document struct {
	Collection string         `gorm:"column:collection;primaryKey;size:64;not null"`
	DocumentID string         `gorm:"column:document_id;primaryKey;size:190;not null"`
	Body       datatypes.JSON `gorm:"column:body;not null"`
	UpdatedAt  time.Time      `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Document) TableName() string {
	return "documents"
}

// StoreConfig describes the dependencies of a Store.
type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Store reads and writes documents. Writes are last-writer-wins.
type Store struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewStore constructs a document store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, serviceerror.New("documents.new", "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Get decodes the stored body into out. The boolean is false when no document exists.
func (s *Store) Get(ctx context.Context, collection, id string, out any) (bool, error) {
	if err := validateKey(collection, id); err != nil {
		return false, serviceerror.New(opGet, "invalid_key", err)
	}
	var document Document
	err := s.db.WithContext(ctx).
		Where("collection = ? AND document_id = ?", collection, id).
		Take(&document).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		s.logError(opGet, "query_failed", err, collection, id)
		return false, serviceerror.New(opGet, "query_failed", err)
	}
	if err := json.Unmarshal(document.Body, out); err != nil {
		s.logError(opGet, "decode_failed", err, collection, id)
		return false, serviceerror.New(opGet, "decode_failed", err)
	}
	return true, nil
}

// Set replaces the whole document body.
func (s *Store) Set(ctx context.Context, collection, id string, value any) error {
	if err := validateKey(collection, id); err != nil {
		return serviceerror.New(opSet, "invalid_key", err)
	}
	body, err := json.Marshal(value)
	if err != nil {
		return serviceerror.New(opSet, "encode_failed", err)
	}
	if err := s.upsert(s.db.WithContext(ctx), collection, id, body); err != nil {
		s.logError(opSet, "write_failed", err, collection, id)
		return serviceerror.New(opSet, "write_failed", err)
	}
	return nil
}

// Merge overlays fields onto the stored body, creating the document when absent.
// Keys not named in fields keep their stored value.
func (s *Store) Merge(ctx context.Context, collection, id string, fields map[string]any) error {
	if err := validateKey(collection, id); err != nil {
		return serviceerror.New(opMerge, "invalid_key", err)
	}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current := map[string]any{}
		var document Document
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("collection = ? AND document_id = ?", collection, id).
			Take(&document).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			return serviceerror.New(opMerge, "select_failed", err)
		default:
			if err := json.Unmarshal(document.Body, &current); err != nil {
				return serviceerror.New(opMerge, "decode_failed", err)
			}
		}

		for key, value := range fields {
			current[key] = value
		}
		body, err := json.Marshal(current)
		if err != nil {
			return serviceerror.New(opMerge, "encode_failed", err)
		}
		if err := s.upsert(tx, collection, id, body); err != nil {
			return serviceerror.New(opMerge, "write_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opMerge, serviceerror.CodeOf(txErr), txErr, collection, id)
		return txErr
	}
	return nil
}

func (s *Store) upsert(tx *gorm.DB, collection, id string, body []byte) error {
	document := Document{
		Collection: collection,
		DocumentID: id,
		Body:       datatypes.JSON(body),
		UpdatedAt:  s.clock().UTC(),
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "collection"}, {Name: "document_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"body", "updated_at"}),
	}).Create(&document).Error
}

func (s *Store) logError(operation, reason string, err error, collection, id string) {
	s.logger.Error("document store error",
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.String("collection", collection),
		zap.String("document_id", id),
		zap.Error(err))
}

func validateKey(collection, id string) error {
	if strings.TrimSpace(collection) == "" || strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: %q/%q", errInvalidKey, collection, id)
	}
	return nil
}
