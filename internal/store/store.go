// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

// Package store provides the persistence adapters behind the security
// core, the settings service, and the audit trail.
//
// Two backends implement the same narrow interfaces: an in-process
// memory backend for development and tests, and a BadgerDB backend for
// durable single-node deployments. The backend is selected by
// database.type; callers never see backend types, only the interfaces
// bundled in Store.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nexusruntime/nexus/internal/config"
	"github.com/nexusruntime/nexus/internal/errs"
	"github.com/nexusruntime/nexus/internal/logging"
	"github.com/nexusruntime/nexus/internal/models"
)

// Backend names accepted in database.type.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
)

// Sentinel errors returned by all backends. Wrap them with errs.Wrap to
// add context; errors.Is still matches through the wrapping.
var (
	// ErrNotFound reports that no record matches the given key.
	ErrNotFound = errs.New(errs.KindApplication, "record not found")

	// ErrDuplicate reports a uniqueness violation on create or update.
	ErrDuplicate = errs.New(errs.KindValidation, "record already exists")
)

// UserStore persists accounts. Username and email lookups are
// case-insensitive; uniqueness on both is enforced atomically inside
// each implementation.
type UserStore interface {
	Create(ctx context.Context, u *models.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Update(ctx context.Context, u *models.User) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context) ([]*models.User, error)
	Count(ctx context.Context) (int, error)
}

// SettingsStore persists system settings keyed by dotted config path.
type SettingsStore interface {
	Get(ctx context.Context, key string) (*models.SystemSetting, error)
	Set(ctx context.Context, s *models.SystemSetting) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]*models.SystemSetting, error)
}

// AuditFilter narrows an audit listing. Zero values match everything.
type AuditFilter struct {
	UserID       string
	ActionType   models.ActionType
	ResourceType string
	Since        time.Time
	Until        time.Time

	// Limit caps the number of records returned, newest first.
	// Zero or negative means DefaultAuditLimit.
	Limit int
}

// DefaultAuditLimit is applied when AuditFilter.Limit is not positive.
const DefaultAuditLimit = 100

func (f AuditFilter) limit() int {
	if f.Limit <= 0 {
		return DefaultAuditLimit
	}
	return f.Limit
}

func (f AuditFilter) matches(e *models.AuditLog) bool {
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.ActionType != "" && e.ActionType != f.ActionType {
		return false
	}
	if f.ResourceType != "" && e.ResourceType != f.ResourceType {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// AuditStore appends and queries the audit trail. Listings return
// newest records first.
type AuditStore interface {
	Append(ctx context.Context, entry *models.AuditLog) error
	List(ctx context.Context, filter AuditFilter) ([]*models.AuditLog, error)
}

// TokenStore tracks JWT state: a blacklist of revoked token IDs and a
// per-user set of outstanding token IDs. Entries carry a TTL matching
// the token expiry so state never outlives the tokens it describes.
type TokenStore interface {
	Blacklist(ctx context.Context, jti string, ttl time.Duration) error
	IsBlacklisted(ctx context.Context, jti string) (bool, error)
	AddActive(ctx context.Context, userID, jti string, ttl time.Duration) error
	RemoveActive(ctx context.Context, userID, jti string) error
	ActiveForUser(ctx context.Context, userID string) ([]string, error)
	CleanupExpired(ctx context.Context) (int, error)
}

// Store bundles one backend's adapters behind the shared interfaces.
type Store struct {
	Users    UserStore
	Settings SettingsStore
	Audit    AuditStore
	Tokens   TokenStore

	backend   string
	db        *badger.DB // nil for the memory backend
	logger    zerolog.Logger
	closeOnce sync.Once
	closeErr  error
}

// Open builds the Store selected by cfg.Type. An empty type defaults to
// the memory backend.
func Open(cfg config.DatabaseConfig) (*Store, error) {
	logger := logging.Named("store")

	switch strings.ToLower(cfg.Type) {
	case "", BackendMemory:
		s := &Store{
			Users:    newMemoryUsers(),
			Settings: newMemorySettings(),
			Audit:    newMemoryAudit(),
			Tokens:   newMemoryTokens(),
			backend:  BackendMemory,
			logger:   logger,
		}
		logger.Debug().Str("backend", BackendMemory).Msg("store opened")
		return s, nil

	case BackendBadger:
		if cfg.Path == "" {
			return nil, errs.New(errs.KindConfiguration, "database.path is required for the badger backend")
		}
		opts := badger.DefaultOptions(cfg.Path)
		opts.Logger = nil
		opts.ValueLogFileSize = 64 << 20
		opts.SyncWrites = true
		db, err := badger.Open(opts)
		if err != nil {
			return nil, errs.Wrap(errs.KindConfiguration, "open badger database", err).
				WithDetail("path", cfg.Path)
		}
		s := &Store{
			Users:    &badgerUsers{db: db},
			Settings: &badgerSettings{db: db},
			Audit:    &badgerAudit{db: db},
			Tokens:   &badgerTokens{db: db},
			backend:  BackendBadger,
			db:       db,
			logger:   logger,
		}
		logger.Debug().Str("backend", BackendBadger).Str("path", cfg.Path).Msg("store opened")
		return s, nil

	default:
		return nil, errs.Newf(errs.KindConfiguration, "unknown database type %q", cfg.Type)
	}
}

// Backend reports which adapter set is in use.
func (s *Store) Backend() string {
	return s.backend
}

// Backup writes a point-in-time snapshot into dir and returns the
// created file path. The badger backend streams the database with
// DB.Backup; the memory backend serializes its contents to JSON.
func (s *Store) Backup(ctx context.Context, dir string) (string, error) {
	if dir == "" {
		return "", errs.New(errs.KindConfiguration, "backup directory is not configured")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", errs.Wrap(errs.KindApplication, "create backup directory", err)
	}
	stamp := time.Now().UTC().Format("20060102T150405Z")

	if s.backend == BackendBadger {
		path := filepath.Join(dir, fmt.Sprintf("nexus-%s.badger", stamp))
		f, err := os.Create(path)
		if err != nil {
			return "", errs.Wrap(errs.KindApplication, "create backup file", err)
		}
		if _, err := s.db.Backup(f, 0); err != nil {
			f.Close()
			os.Remove(path)
			return "", errs.Wrap(errs.KindApplication, "stream badger backup", err)
		}
		if err := f.Close(); err != nil {
			return "", errs.Wrap(errs.KindApplication, "flush backup file", err)
		}
		s.logger.Info().Str("path", path).Msg("badger backup written")
		return path, nil
	}

	path := filepath.Join(dir, fmt.Sprintf("nexus-%s.json", stamp))
	snap, err := s.snapshot(ctx)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", errs.Wrap(errs.KindApplication, "encode memory snapshot", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", errs.Wrap(errs.KindApplication, "write backup file", err)
	}
	s.logger.Info().Str("path", path).Msg("memory snapshot written")
	return path, nil
}

// memorySnapshot is the JSON shape of a memory-backend backup.
type memorySnapshot struct {
	CreatedAt time.Time               `json:"created_at"`
	Users     []storedUser            `json:"users"`
	Settings  []*models.SystemSetting `json:"settings"`
	Audit     []*models.AuditLog      `json:"audit"`
}

func (s *Store) snapshot(ctx context.Context) (*memorySnapshot, error) {
	users, err := s.Users.List(ctx)
	if err != nil {
		return nil, err
	}
	settings, err := s.Settings.List(ctx)
	if err != nil {
		return nil, err
	}
	audit, err := s.Audit.List(ctx, AuditFilter{Limit: memoryAuditCap})
	if err != nil {
		return nil, err
	}
	snap := &memorySnapshot{
		CreatedAt: time.Now().UTC(),
		Settings:  settings,
		Audit:     audit,
		Users:     make([]storedUser, 0, len(users)),
	}
	for _, u := range users {
		snap.Users = append(snap.Users, storedUser{User: *u, HashedPassword: u.HashedPassword})
	}
	return snap, nil
}

// RunGC reclaims badger value-log space. A no-op for the memory backend.
func (s *Store) RunGC() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		return errs.Wrap(errs.KindApplication, "badger value log gc", err)
	}
	return nil
}

// Close releases backend resources. Safe to call more than once.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		if s.db != nil {
			s.closeErr = s.db.Close()
		}
	})
	return s.closeErr
}

// storedUser carries the bcrypt digest through serialization. The
// public User model excludes it from JSON so API responses can never
// leak it; persistence needs it back.
type storedUser struct {
	models.User
	HashedPassword string `json:"hashed_password"`
}

func encodeUser(u *models.User) ([]byte, error) {
	data, err := json.Marshal(storedUser{User: *u, HashedPassword: u.HashedPassword})
	if err != nil {
		return nil, errs.Wrap(errs.KindApplication, "encode user record", err)
	}
	return data, nil
}

func decodeUser(data []byte) (*models.User, error) {
	var su storedUser
	if err := json.Unmarshal(data, &su); err != nil {
		return nil, errs.Wrap(errs.KindApplication, "decode user record", err)
	}
	u := su.User
	u.HashedPassword = su.HashedPassword
	return &u, nil
}

// normalize lowercases a username or email for index lookups.
func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
