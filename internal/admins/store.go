// Package admins owns the administrator allow-list.
//
// The list lives in memory as an immutable snapshot behind an atomic pointer.
// Readers never lock. Reload and ReplaceAll build a fresh snapshot and swap it
// in while holding the writer lock, so a reload cannot undo a replacement.
package admins

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MarcoPoloResearchLab/cineflow-admin/internal/serviceerror"
	"go.uber.org/zap"
)

const (
	// DocumentCollection and DocumentID address the persisted allow-list.
	DocumentCollection = "app_config"
	DocumentID         = "admins"

	// FallbackMasterKey is the development bootstrap secret. It is honoured only
	// when no operator secret is configured.
	FallbackMasterKey = "cineflow-admin-2024"
)

var (
	// ErrForbidden reports a bootstrap secret mismatch.
	ErrForbidden = errors.New("admins: invalid master key")

	errMissingDocuments = errors.New("admins: document store is required")
)

// DocumentStore is the persistence contract the allow-list needs.
type DocumentStore interface {
	Get(ctx context.Context, collection, id string, out any) (bool, error)
	Set(ctx context.Context, collection, id string, value any) error
}

type storedAllowList struct {
	Emails    []string  `json:"emails"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AllowList is an immutable view of the administrator emails.
type AllowList struct {
	emails    []string
	members   map[string]struct{}
	updatedAt time.Time
}

// Emails returns a copy of the members in their configured order.
func (a *AllowList) Emails() []string {
	return append([]string(nil), a.emails...)
}

// UpdatedAt reports when the list was last replaced; zero for the seed list.
func (a *AllowList) UpdatedAt() time.Time {
	return a.updatedAt
}

// Contains is an exact, case-sensitive membership test.
func (a *AllowList) Contains(email string) bool {
	if email == "" {
		return false
	}
	_, ok := a.members[email]
	return ok
}

// StoreConfig describes the dependencies of a Store.
type StoreConfig struct {
	Documents  DocumentStore
	SeedEmails []string
	MasterKey  string
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Store is the Authorization Store consulted by the mutation gateway.
type Store struct {
	documents DocumentStore
	masterKey string
	clock     func() time.Time
	logger    *zap.Logger
	current   atomic.Pointer[AllowList]

	writeMu sync.Mutex
}

// NewStore constructs a Store seeded with the configured emails.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Documents == nil {
		return nil, errMissingDocuments
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	store := &Store{
		documents: cfg.Documents,
		masterKey: strings.TrimSpace(cfg.MasterKey),
		clock:     clock,
		logger:    logger,
	}
	store.current.Store(newAllowList(cfg.SeedEmails, time.Time{}))
	return store, nil
}

// UsesFallbackMasterKey reports whether the development secret is in effect.
func (s *Store) UsesFallbackMasterKey() bool {
	return s.masterKey == ""
}

// IsAuthorized reports whether email is on the current allow-list.
func (s *Store) IsAuthorized(email string) bool {
	return s.current.Load().Contains(email)
}

// Snapshot returns the current allow-list.
func (s *Store) Snapshot() *AllowList {
	return s.current.Load()
}

// Reload replaces the in-memory list with the persisted one. A missing
// document keeps the current list.
func (s *Store) Reload(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var stored storedAllowList
	found, err := s.documents.Get(ctx, DocumentCollection, DocumentID, &stored)
	if err != nil {
		s.logger.Error("allow-list reload failed", zap.Error(err))
		return serviceerror.New("admins.reload", "read_failed", err)
	}
	if !found {
		s.logger.Info("no persisted allow-list; keeping configured admins",
			zap.Int("admin_count", len(s.Snapshot().emails)))
		return nil
	}
	list := newAllowList(stored.Emails, stored.UpdatedAt)
	s.current.Store(list)
	s.logger.Info("allow-list loaded", zap.Strings("admins", list.emails))
	return nil
}

// ReplaceAll swaps the whole membership when presentedSecret matches the
// bootstrap secret. The new list is persisted before it takes effect.
func (s *Store) ReplaceAll(ctx context.Context, emails []string, presentedSecret string) (*AllowList, error) {
	if !s.secretMatches(presentedSecret) {
		s.logger.Warn("allow-list replacement rejected")
		return nil, ErrForbidden
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	list := newAllowList(emails, s.clock().UTC())
	stored := storedAllowList{Emails: list.emails, UpdatedAt: list.updatedAt}
	if err := s.documents.Set(ctx, DocumentCollection, DocumentID, stored); err != nil {
		s.logger.Error("allow-list persist failed", zap.Error(err))
		return nil, serviceerror.New("admins.replace_all", "persist_failed", err)
	}
	s.current.Store(list)
	s.logger.Info("allow-list replaced", zap.Strings("admins", list.emails))
	return list, nil
}

func (s *Store) secretMatches(presented string) bool {
	expected := s.masterKey
	if expected == "" {
		expected = FallbackMasterKey
	}
	if presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) == 1
}

func newAllowList(emails []string, updatedAt time.Time) *AllowList {
	list := &AllowList{
		emails:    make([]string, 0, len(emails)),
		members:   make(map[string]struct{}, len(emails)),
		updatedAt: updatedAt,
	}
	for _, email := range emails {
		trimmed := strings.TrimSpace(email)
		if trimmed == "" {
			continue
		}
		if _, seen := list.members[trimmed]; seen {
			continue
		}
		list.members[trimmed] = struct{}{}
		list.emails = append(list.emails, trimmed)
	}
	return list
}
