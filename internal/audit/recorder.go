// Nexus - Modular Application Runtime
// Copyright 2026 Nexus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nexusruntime/nexus

// Package audit records who did what to the persistent audit trail.
//
// Writes are asynchronous: Record hands the entry to a buffered channel
// and returns immediately, so request paths never block on persistence.
// A full buffer drops the entry with a warning rather than applying
// backpressure to the caller.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nexusruntime/nexus/internal/logging"
	"github.com/nexusruntime/nexus/internal/models"
	"github.com/nexusruntime/nexus/internal/store"
)

const (
	defaultBufferSize = 1000
	writeTimeout      = 5 * time.Second
)

// Recorder buffers audit entries and persists them in the background.
type Recorder struct {
	store    store.AuditStore
	entries  chan *models.AuditLog
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	logger   zerolog.Logger
}

// NewRecorder starts the background writer. A buffer of 0 or less uses
// the default size.
func NewRecorder(st store.AuditStore, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = defaultBufferSize
	}
	r := &Recorder{
		store:    st,
		entries:  make(chan *models.AuditLog, buffer),
		stopChan: make(chan struct{}),
		logger:   logging.Named("audit"),
	}
	r.wg.Add(1)
	go r.writeLoop()
	return r
}

// Record queues one entry for persistence. Missing IDs and timestamps
// are filled in here so dropped entries are still identifiable in the
// warning log. Never blocks.
func (r *Recorder) Record(entry *models.AuditLog) {
	if entry == nil {
		return
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if !models.IsValidActionType(entry.ActionType) {
		entry.ActionType = models.ActionCustom
	}

	select {
	case r.entries <- entry:
	default:
		r.logger.Warn().
			Str("entry_id", entry.ID).
			Str("action", string(entry.ActionType)).
			Msg("audit buffer full, dropping entry")
	}
}

// List queries the persisted trail, newest first.
func (r *Recorder) List(ctx context.Context, filter store.AuditFilter) ([]*models.AuditLog, error) {
	return r.store.List(ctx, filter)
}

func (r *Recorder) writeLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.stopChan:
			// Drain whatever was accepted before the stop.
			for {
				select {
				case entry := <-r.entries:
					r.write(entry)
				default:
					return
				}
			}
		case entry := <-r.entries:
			r.write(entry)
		}
	}
}

func (r *Recorder) write(entry *models.AuditLog) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.store.Append(ctx, entry); err != nil {
		r.logger.Error().Err(err).
			Str("entry_id", entry.ID).
			Str("action", string(entry.ActionType)).
			Msg("failed to persist audit entry")
	}
}

// Close flushes buffered entries and stops the writer. Safe to call
// more than once; Record calls after Close drop silently into the
// channel buffer and are not persisted.
func (r *Recorder) Close() error {
	r.stopOnce.Do(func() {
		close(r.stopChan)
	})
	r.wg.Wait()
	return nil
}
