// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexusruntime/nexus/internal/errs"
	"github.com/nexusruntime/nexus/internal/models"
)

// memoryAuditCap bounds the in-process audit trail. The oldest records
// are evicted once the cap is reached.
const memoryAuditCap = 10000

// memoryUsers keeps accounts in maps guarded by one RWMutex. The
// lowercased secondary indexes make uniqueness checks and updates
// atomic with respect to each other.
type memoryUsers struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]*models.User
	byName  map[string]uuid.UUID
	byEmail map[string]uuid.UUID
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{
		byID:    make(map[uuid.UUID]*models.User),
		byName:  make(map[string]uuid.UUID),
		byEmail: make(map[string]uuid.UUID),
	}
}

func (m *memoryUsers) Create(_ context.Context, u *models.User) error {
	name := normalize(u.Username)
	email := normalize(u.Email)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byID[u.ID]; ok {
		return errs.Wrap(errs.KindValidation, "user id already exists", ErrDuplicate).
			WithDetail("field", "id")
	}
	if _, ok := m.byName[name]; ok {
		return errs.Wrap(errs.KindValidation, "username already taken", ErrDuplicate).
			WithDetail("field", "username")
	}
	if _, ok := m.byEmail[email]; ok {
		return errs.Wrap(errs.KindValidation, "email already registered", ErrDuplicate).
			WithDetail("field", "email")
	}

	m.byID[u.ID] = u.Clone()
	m.byName[name] = u.ID
	m.byEmail[email] = u.ID
	return nil
}

func (m *memoryUsers) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return u.Clone(), nil
}

func (m *memoryUsers) GetByUsername(_ context.Context, username string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byName[normalize(username)]
	if !ok {
		return nil, ErrNotFound
	}
	return m.byID[id].Clone(), nil
}

func (m *memoryUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byEmail[normalize(email)]
	if !ok {
		return nil, ErrNotFound
	}
	return m.byID[id].Clone(), nil
}

func (m *memoryUsers) Update(_ context.Context, u *models.User) error {
	name := normalize(u.Username)
	email := normalize(u.Email)

	m.mu.Lock()
	defer m.mu.Unlock()

	prev, ok := m.byID[u.ID]
	if !ok {
		return ErrNotFound
	}
	prevName := normalize(prev.Username)
	prevEmail := normalize(prev.Email)

	if name != prevName {
		if _, taken := m.byName[name]; taken {
			return errs.Wrap(errs.KindValidation, "username already taken", ErrDuplicate).
				WithDetail("field", "username")
		}
	}
	if email != prevEmail {
		if _, taken := m.byEmail[email]; taken {
			return errs.Wrap(errs.KindValidation, "email already registered", ErrDuplicate).
				WithDetail("field", "email")
		}
	}

	if name != prevName {
		delete(m.byName, prevName)
		m.byName[name] = u.ID
	}
	if email != prevEmail {
		delete(m.byEmail, prevEmail)
		m.byEmail[email] = u.ID
	}
	m.byID[u.ID] = u.Clone()
	return nil
}

func (m *memoryUsers) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.byName, normalize(u.Username))
	delete(m.byEmail, normalize(u.Email))
	delete(m.byID, id)
	return nil
}

func (m *memoryUsers) List(_ context.Context) ([]*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.User, 0, len(m.byID))
	for _, u := range m.byID {
		out = append(out, u.Clone())
	}
	sortUsers(out)
	return out, nil
}

func (m *memoryUsers) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID), nil
}

// sortUsers orders listings oldest account first, username as
// tiebreaker, so both backends paginate identically.
func sortUsers(users []*models.User) {
	sort.Slice(users, func(i, j int) bool {
		if !users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].CreatedAt.Before(users[j].CreatedAt)
		}
		return users[i].Username < users[j].Username
	})
}

type memorySettings struct {
	mu   sync.RWMutex
	data map[string]*models.SystemSetting
}

func newMemorySettings() *memorySettings {
	return &memorySettings{data: make(map[string]*models.SystemSetting)}
}

func (m *memorySettings) Get(_ context.Context, key string) (*models.SystemSetting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	c := *s
	return &c, nil
}

func (m *memorySettings) Set(_ context.Context, s *models.SystemSetting) error {
	if s.Key == "" {
		return errs.New(errs.KindValidation, "setting key must not be empty")
	}
	c := *s
	c.UpdatedAt = time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[c.Key] = &c
	return nil
}

func (m *memorySettings) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.data[key]; !ok {
		return ErrNotFound
	}
	delete(m.data, key)
	return nil
}

func (m *memorySettings) List(_ context.Context) ([]*models.SystemSetting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.SystemSetting, 0, len(m.data))
	for _, s := range m.data {
		c := *s
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// memoryAudit is an append-only ring over a slice: oldest first,
// evicted from the front once memoryAuditCap is reached.
type memoryAudit struct {
	mu      sync.RWMutex
	entries []*models.AuditLog
}

func newMemoryAudit() *memoryAudit {
	return &memoryAudit{}
}

func (m *memoryAudit) Append(_ context.Context, entry *models.AuditLog) error {
	c := *entry
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, &c)
	if len(m.entries) > memoryAuditCap {
		m.entries = m.entries[len(m.entries)-memoryAuditCap:]
	}
	return nil
}

func (m *memoryAudit) List(_ context.Context, filter AuditFilter) ([]*models.AuditLog, error) {
	limit := filter.limit()

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.AuditLog, 0, min(limit, len(m.entries)))
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if filter.matches(m.entries[i]) {
			c := *m.entries[i]
			out = append(out, &c)
		}
	}
	return out, nil
}

// memoryTokens keeps the blacklist and the per-user active set under
// separate locks so revocation checks never contend with issuance.
type memoryTokens struct {
	blmu      sync.RWMutex
	blacklist map[string]time.Time

	acmu   sync.RWMutex
	active map[string]map[string]time.Time
}

func newMemoryTokens() *memoryTokens {
	return &memoryTokens{
		blacklist: make(map[string]time.Time),
		active:    make(map[string]map[string]time.Time),
	}
}

func (m *memoryTokens) Blacklist(_ context.Context, jti string, ttl time.Duration) error {
	if jti == "" {
		return errs.New(errs.KindValidation, "token id must not be empty")
	}
	if ttl <= 0 {
		// Already expired; nothing to track.
		return nil
	}

	m.blmu.Lock()
	defer m.blmu.Unlock()
	m.blacklist[jti] = time.Now().Add(ttl)
	return nil
}

func (m *memoryTokens) IsBlacklisted(_ context.Context, jti string) (bool, error) {
	m.blmu.RLock()
	defer m.blmu.RUnlock()

	exp, ok := m.blacklist[jti]
	return ok && time.Now().Before(exp), nil
}

func (m *memoryTokens) AddActive(_ context.Context, userID, jti string, ttl time.Duration) error {
	if userID == "" || jti == "" {
		return errs.New(errs.KindValidation, "user id and token id must not be empty")
	}
	if ttl <= 0 {
		return nil
	}

	m.acmu.Lock()
	defer m.acmu.Unlock()

	set, ok := m.active[userID]
	if !ok {
		set = make(map[string]time.Time)
		m.active[userID] = set
	}
	set[jti] = time.Now().Add(ttl)
	return nil
}

func (m *memoryTokens) RemoveActive(_ context.Context, userID, jti string) error {
	m.acmu.Lock()
	defer m.acmu.Unlock()

	if set, ok := m.active[userID]; ok {
		delete(set, jti)
		if len(set) == 0 {
			delete(m.active, userID)
		}
	}
	return nil
}

func (m *memoryTokens) ActiveForUser(_ context.Context, userID string) ([]string, error) {
	now := time.Now()

	m.acmu.RLock()
	defer m.acmu.RUnlock()

	set := m.active[userID]
	out := make([]string, 0, len(set))
	for jti, exp := range set {
		if now.Before(exp) {
			out = append(out, jti)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *memoryTokens) CleanupExpired(_ context.Context) (int, error) {
	now := time.Now()
	removed := 0

	m.blmu.Lock()
	for jti, exp := range m.blacklist {
		if !now.Before(exp) {
			delete(m.blacklist, jti)
			removed++
		}
	}
	m.blmu.Unlock()

	m.acmu.Lock()
	for userID, set := range m.active {
		for jti, exp := range set {
			if !now.Before(exp) {
				delete(set, jti)
				removed++
			}
		}
		if len(set) == 0 {
			delete(m.active, userID)
		}
	}
	m.acmu.Unlock()

	return removed, nil
}
