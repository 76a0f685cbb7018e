// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/nexusruntime/nexus/internal/errs"
	"github.com/nexusruntime/nexus/internal/models"
)

// Key prefixes namespace the shared badger keyspace. The name and
// email keys are lowercased secondary indexes whose value is the user
// ID, so uniqueness checks and index moves happen in the same
// transaction as the record write.
const (
	prefixUserByID    = "user:id:"
	prefixUserByName  = "user:name:"
	prefixUserByEmail = "user:email:"
	prefixSetting     = "setting:"
	prefixAudit       = "audit:"
	prefixBlacklist   = "tok:black:"
	prefixActive      = "tok:active:"
)

type badgerUsers struct {
	db *badger.DB
}

func userIDKey(id uuid.UUID) []byte    { return []byte(prefixUserByID + id.String()) }
func userNameKey(name string) []byte   { return []byte(prefixUserByName + name) }
func userEmailKey(email string) []byte { return []byte(prefixUserByEmail + email) }

func (b *badgerUsers) Create(_ context.Context, u *models.User) error {
	name := normalize(u.Username)
	email := normalize(u.Email)
	data, err := encodeUser(u)
	if err != nil {
		return err
	}

	return b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(userIDKey(u.ID)); err == nil {
			return errs.Wrap(errs.KindValidation, "user id already exists", ErrDuplicate).
				WithDetail("field", "id")
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return errs.Wrap(errs.KindApplication, "check user id", err)
		}
		if _, err := txn.Get(userNameKey(name)); err == nil {
			return errs.Wrap(errs.KindValidation, "username already taken", ErrDuplicate).
				WithDetail("field", "username")
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return errs.Wrap(errs.KindApplication, "check username index", err)
		}
		if _, err := txn.Get(userEmailKey(email)); err == nil {
			return errs.Wrap(errs.KindValidation, "email already registered", ErrDuplicate).
				WithDetail("field", "email")
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return errs.Wrap(errs.KindApplication, "check email index", err)
		}

		if err := txn.Set(userIDKey(u.ID), data); err != nil {
			return err
		}
		if err := txn.Set(userNameKey(name), []byte(u.ID.String())); err != nil {
			return err
		}
		return txn.Set(userEmailKey(email), []byte(u.ID.String()))
	})
}

func (b *badgerUsers) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	var u *models.User
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		u, err = getUser(txn, userIDKey(id))
		return err
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (b *badgerUsers) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return b.getByIndex(userNameKey(normalize(username)))
}

func (b *badgerUsers) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return b.getByIndex(userEmailKey(normalize(email)))
}

// getByIndex resolves a secondary index key to its user record inside
// one read transaction.
func (b *badgerUsers) getByIndex(indexKey []byte) (*models.User, error) {
	var u *models.User
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(indexKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return errs.Wrap(errs.KindApplication, "read user index", err)
		}
		var id uuid.UUID
		if err := item.Value(func(val []byte) error {
			parsed, perr := uuid.Parse(string(val))
			if perr != nil {
				return perr
			}
			id = parsed
			return nil
		}); err != nil {
			return errs.Wrap(errs.KindApplication, "decode user index", err)
		}
		u, err = getUser(txn, userIDKey(id))
		return err
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

func getUser(txn *badger.Txn, key []byte) (*models.User, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindApplication, "read user record", err)
	}
	var u *models.User
	if err := item.Value(func(val []byte) error {
		decoded, derr := decodeUser(val)
		if derr != nil {
			return derr
		}
		u = decoded
		return nil
	}); err != nil {
		return nil, err
	}
	return u, nil
}

func (b *badgerUsers) Update(_ context.Context, u *models.User) error {
	name := normalize(u.Username)
	email := normalize(u.Email)
	data, err := encodeUser(u)
	if err != nil {
		return err
	}

	return b.db.Update(func(txn *badger.Txn) error {
		prev, err := getUser(txn, userIDKey(u.ID))
		if err != nil {
			return err
		}
		prevName := normalize(prev.Username)
		prevEmail := normalize(prev.Email)

		if name != prevName {
			if _, err := txn.Get(userNameKey(name)); err == nil {
				return errs.Wrap(errs.KindValidation, "username already taken", ErrDuplicate).
					WithDetail("field", "username")
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return errs.Wrap(errs.KindApplication, "check username index", err)
			}
			if err := txn.Delete(userNameKey(prevName)); err != nil {
				return err
			}
			if err := txn.Set(userNameKey(name), []byte(u.ID.String())); err != nil {
				return err
			}
		}
		if email != prevEmail {
			if _, err := txn.Get(userEmailKey(email)); err == nil {
				return errs.Wrap(errs.KindValidation, "email already registered", ErrDuplicate).
					WithDetail("field", "email")
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return errs.Wrap(errs.KindApplication, "check email index", err)
			}
			if err := txn.Delete(userEmailKey(prevEmail)); err != nil {
				return err
			}
			if err := txn.Set(userEmailKey(email), []byte(u.ID.String())); err != nil {
				return err
			}
		}
		return txn.Set(userIDKey(u.ID), data)
	})
}

func (b *badgerUsers) Delete(_ context.Context, id uuid.UUID) error {
	return b.db.Update(func(txn *badger.Txn) error {
		u, err := getUser(txn, userIDKey(id))
		if err != nil {
			return err
		}
		if err := txn.Delete(userNameKey(normalize(u.Username))); err != nil {
			return err
		}
		if err := txn.Delete(userEmailKey(normalize(u.Email))); err != nil {
			return err
		}
		return txn.Delete(userIDKey(id))
	})
}

func (b *badgerUsers) List(_ context.Context) ([]*models.User, error) {
	var out []*models.User
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixUserByID)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				u, err := decodeUser(val)
				if err != nil {
					return err
				}
				out = append(out, u)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortUsers(out)
	return out, nil
}

func (b *badgerUsers) Count(_ context.Context) (int, error) {
	count := 0
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixUserByID)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, errs.Wrap(errs.KindApplication, "count users", err)
	}
	return count, nil
}

type badgerSettings struct {
	db *badger.DB
}

func settingKey(key string) []byte { return []byte(prefixSetting + key) }

func (b *badgerSettings) Get(_ context.Context, key string) (*models.SystemSetting, error) {
	var s models.SystemSetting
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(settingKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return errs.Wrap(errs.KindApplication, "read setting", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &s)
		})
	})
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (b *badgerSettings) Set(_ context.Context, s *models.SystemSetting) error {
	if s.Key == "" {
		return errs.New(errs.KindValidation, "setting key must not be empty")
	}
	c := *s
	c.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(c)
	if err != nil {
		return errs.Wrap(errs.KindApplication, "encode setting", err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(settingKey(c.Key), data)
	})
}

func (b *badgerSettings) Delete(_ context.Context, key string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(settingKey(key)); errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		} else if err != nil {
			return errs.Wrap(errs.KindApplication, "read setting", err)
		}
		return txn.Delete(settingKey(key))
	})
}

func (b *badgerSettings) List(_ context.Context) ([]*models.SystemSetting, error) {
	var out []*models.SystemSetting
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixSetting)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Badger iterates in key order, so listings come back already
		// sorted by setting key.
		for it.Rewind(); it.Valid(); it.Next() {
			var s models.SystemSetting
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &s)
			})
			if err != nil {
				return errs.Wrap(errs.KindApplication, "decode setting", err)
			}
			out = append(out, &s)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type badgerAudit struct {
	db *badger.DB
}

// auditKey orders records by timestamp: zero-padded nanoseconds sort
// lexicographically, and the record ID disambiguates same-nanosecond
// writes.
func auditKey(ts time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", prefixAudit, ts.UnixNano(), id))
}

func (b *badgerAudit) Append(_ context.Context, entry *models.AuditLog) error {
	c := *entry
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(c)
	if err != nil {
		return errs.Wrap(errs.KindApplication, "encode audit record", err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(auditKey(c.Timestamp, c.ID), data)
	})
}

func (b *badgerAudit) List(_ context.Context, filter AuditFilter) ([]*models.AuditLog, error) {
	limit := filter.limit()
	prefix := []byte(prefixAudit)

	var out []*models.AuditLog
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse scan from just past the prefix yields newest first.
		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix) && len(out) < limit; it.Next() {
			var e models.AuditLog
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			})
			if err != nil {
				return errs.Wrap(errs.KindApplication, "decode audit record", err)
			}
			if filter.matches(&e) {
				c := e
				out = append(out, &c)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// badgerTokens persists revocation state with TTL'd entries so badger
// expires them in step with the tokens they describe.
type badgerTokens struct {
	db *badger.DB
}

type tokenRecord struct {
	ExpiresAt time.Time `json:"expires_at"`
}

func blacklistKey(jti string) []byte { return []byte(prefixBlacklist + jti) }

func activeKey(userID, jti string) []byte {
	return []byte(prefixActive + userID + ":" + jti)
}

func (b *badgerTokens) Blacklist(_ context.Context, jti string, ttl time.Duration) error {
	if jti == "" {
		return errs.New(errs.KindValidation, "token id must not be empty")
	}
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(tokenRecord{ExpiresAt: time.Now().Add(ttl)})
	if err != nil {
		return errs.Wrap(errs.KindApplication, "encode token record", err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(blacklistKey(jti), data).WithTTL(ttl)
		return txn.SetEntry(e)
	})
}

func (b *badgerTokens) IsBlacklisted(_ context.Context, jti string) (bool, error) {
	found := false
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(blacklistKey(jti))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, errs.Wrap(errs.KindApplication, "check token blacklist", err)
	}
	return found, nil
}

func (b *badgerTokens) AddActive(_ context.Context, userID, jti string, ttl time.Duration) error {
	if userID == "" || jti == "" {
		return errs.New(errs.KindValidation, "user id and token id must not be empty")
	}
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(tokenRecord{ExpiresAt: time.Now().Add(ttl)})
	if err != nil {
		return errs.Wrap(errs.KindApplication, "encode token record", err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(activeKey(userID, jti), data).WithTTL(ttl)
		return txn.SetEntry(e)
	})
}

func (b *badgerTokens) RemoveActive(_ context.Context, userID, jti string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(activeKey(userID, jti))
	})
}

func (b *badgerTokens) ActiveForUser(_ context.Context, userID string) ([]string, error) {
	prefix := []byte(prefixActive + userID + ":")

	var out []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			out = append(out, strings.TrimPrefix(key, string(prefix)))
		}
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindApplication, "list active tokens", err)
	}
	return out, nil
}

// CleanupExpired is mostly delegated to badger: TTL'd entries vanish
// from reads on expiry, and value-log GC reclaims the space. Running GC
// here keeps the periodic cleanup loop useful for this backend too.
func (b *badgerTokens) CleanupExpired(_ context.Context) (int, error) {
	if err := b.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		return 0, errs.Wrap(errs.KindApplication, "badger value log gc", err)
	}
	return 0, nil
}
