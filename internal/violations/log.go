// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package violations records denied playback attempts.
//
// The log is append-only and keeps every entry, including repeats. With an
// audit store attached it is written out in the background a short while
// after the last change, so Add never waits on storage.
package violations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/tempo/internal/models"
	"github.com/autobrr/tempo/internal/store"
)

const (
	DefaultAuditKey   = "violations"
	DefaultFlushDelay = 2 * time.Second
	auditVersion      = 1
	flushTimeout      = 10 * time.Second
)

type auditDocument struct {
	SavedAt    time.Time          `json:"savedAt"`
	Violations []models.Violation `json:"violations"`
	Version    int                `json:"version"`
}

// Log is an in-memory violation log, safe for concurrent use.
type Log struct {
	now     func() time.Time
	newID   func() string
	onError func(error)

	audit      store.Store
	auditKey   string
	flushDelay time.Duration
	flusher    *flusher

	mu         sync.RWMutex
	entries    []models.Violation
	maxEntries int
	changes    uint64
	flushed    uint64

	flushMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

type Option func(*Log)

// WithAuditStore persists the log under key in st. Writes are delayed by
// delay after the last change.
func WithAuditStore(st store.Store, key string, delay time.Duration) Option {
	return func(l *Log) {
		l.audit = st
		if key != "" {
			l.auditKey = key
		}
		if delay > 0 {
			l.flushDelay = delay
		}
	}
}

// WithMaxEntries caps the log; the oldest entries are dropped first.
// n <= 0 means unbounded.
func WithMaxEntries(n int) Option {
	return func(l *Log) {
		l.maxEntries = max(n, 0)
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		if now != nil {
			l.now = now
		}
	}
}

// WithErrorHandler receives background flush failures.
func WithErrorHandler(fn func(error)) Option {
	return func(l *Log) {
		l.onError = fn
	}
}

func New(opts ...Option) *Log {
	l := &Log{
		now:        time.Now,
		newID:      uuid.NewString,
		auditKey:   DefaultAuditKey,
		flushDelay: DefaultFlushDelay,
	}
	for _, opt := range opts {
		opt(l)
	}

	if l.audit != nil {
		l.flusher = newFlusher(l.flushDelay, maxWaitFactor*l.flushDelay, l.backgroundFlush)
	}

	return l
}

// Load reads previously audited entries and places them before anything
// already recorded. It is a no-op without an audit store.
func (l *Log) Load(ctx context.Context) error {
	if l.audit == nil {
		return nil
	}

	raw, err := l.audit.Get(ctx, l.auditKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read violation log: %w", err)
	}

	var doc auditDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode violation log: %w", err)
	}

	loaded := make([]models.Violation, 0, len(doc.Violations))
	for _, v := range doc.Violations {
		if !v.Type.Valid() {
			log.Warn().Str("type", string(v.Type)).Msg("Skipping audited violation with unknown type")
			continue
		}
		loaded = append(loaded, v)
	}

	l.mu.Lock()
	l.entries = append(loaded, l.entries...)
	l.trimLocked()
	l.mu.Unlock()

	log.Debug().Int("violations", len(loaded)).Msg("Loaded violation log")
	return nil
}

// Add appends v, assigning an id and timestamp when they are unset, and
// returns the stored entry.
func (l *Log) Add(v models.Violation) models.Violation {
	if v.ID == "" {
		v.ID = l.newID()
	}
	if v.Timestamp.IsZero() {
		v.Timestamp = l.now()
	}

	l.mu.Lock()
	l.entries = append(l.entries, v)
	l.trimLocked()
	l.changes++
	l.mu.Unlock()

	l.scheduleFlush()
	return v
}

// Filter returns the entries of the given kind, or all entries for nil, in
// insertion order.
func (l *Log) Filter(kind *models.ViolationType) []models.Violation {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.Violation, 0, len(l.entries))
	for _, v := range l.entries {
		if kind != nil && v.Type != *kind {
			continue
		}
		out = append(out, v)
	}
	return out
}

// Prune removes entries recorded more than olderThan ago and returns how many
// were removed.
func (l *Log) Prune(olderThan time.Duration) int {
	cutoff := l.now().Add(-olderThan)

	l.mu.Lock()
	kept := l.entries[:0]
	for _, v := range l.entries {
		if v.Timestamp.Before(cutoff) {
			continue
		}
		kept = append(kept, v)
	}
	removed := len(l.entries) - len(kept)
	clear(l.entries[len(kept):])
	l.entries = kept
	if removed > 0 {
		l.changes++
	}
	l.mu.Unlock()

	if removed > 0 {
		l.scheduleFlush()
	}
	return removed
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Flush writes the log to the audit store if it changed since the last
// write.
func (l *Log) Flush(ctx context.Context) error {
	if l.audit == nil {
		return nil
	}

	l.flushMu.Lock()
	defer l.flushMu.Unlock()

	l.mu.RLock()
	if l.changes == l.flushed {
		l.mu.RUnlock()
		return nil
	}
	generation := l.changes
	doc := auditDocument{
		Version:    auditVersion,
		SavedAt:    l.now().UTC(),
		Violations: append([]models.Violation(nil), l.entries...),
	}
	l.mu.RUnlock()

	if doc.Violations == nil {
		doc.Violations = []models.Violation{}
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode violation log: %w", err)
	}
	if err := l.audit.Put(ctx, l.auditKey, raw); err != nil {
		return fmt.Errorf("write violation log: %w", err)
	}

	l.mu.Lock()
	if generation > l.flushed {
		l.flushed = generation
	}
	l.mu.Unlock()
	return nil
}

// Close stops the background flusher and writes any unflushed entries.
// The audit store itself is not closed.
func (l *Log) Close() error {
	l.closeOnce.Do(func() {
		if l.flusher == nil {
			return
		}
		l.flusher.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		l.closeErr = l.Flush(ctx)
	})
	return l.closeErr
}

func (l *Log) scheduleFlush() {
	if l.flusher != nil {
		l.flusher.Trigger()
	}
}

func (l *Log) backgroundFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	if err := l.Flush(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to flush violation log")
		if l.onError != nil {
			l.onError(err)
		}
	}
}

func (l *Log) trimLocked() {
	if l.maxEntries <= 0 || len(l.entries) <= l.maxEntries {
		return
	}
	n := copy(l.entries, l.entries[len(l.entries)-l.maxEntries:])
	clear(l.entries[n:])
	l.entries = l.entries[:n]
}
