// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package persistence loads and saves the license table through a store.
//
// The table is written as a versioned envelope:
//
//	{"version":2,"savedAt":"<RFC3339>","licenses":{"<trackId>":{...}}}
//
// A document without a version is treated as version 1, the bare
// trackId -> license map older clients wrote, with epoch-millisecond
// timestamps. Entries older than CurrentVersion are passed through a
// Migrator before decoding.
package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/tempo/internal/models"
	"github.com/autobrr/tempo/internal/store"
)

const (
	// CurrentVersion is the envelope version Save writes.
	CurrentVersion = 2
	// DefaultKey is the store key the license table lives under.
	DefaultKey = "licenses"
)

var ErrUnsupportedVersion = errors.New("persistence: unsupported document version")

// Migrator upgrades a single persisted license entry written at version from
// to the current shape.
type Migrator interface {
	Migrate(from int, raw json.RawMessage) (json.RawMessage, error)
}

// MigratorFunc adapts a function to Migrator.
type MigratorFunc func(from int, raw json.RawMessage) (json.RawMessage, error)

func (f MigratorFunc) Migrate(from int, raw json.RawMessage) (json.RawMessage, error) {
	return f(from, raw)
}

// Issue is a persisted entry that was skipped during Load.
type Issue struct {
	Err     error
	TrackID string
}

func (i Issue) Error() string {
	if i.TrackID == "" {
		return i.Err.Error()
	}
	return fmt.Sprintf("license %s: %v", i.TrackID, i.Err)
}

func (i Issue) Unwrap() error { return i.Err }

// LoadResult is the decoded table plus everything that had to be skipped.
type LoadResult struct {
	SavedAt  time.Time
	Licenses map[string]*models.License
	Issues   []Issue
	Version  int
	// Migrated counts entries upgraded from an older version.
	Migrated int
}

type envelope struct {
	SavedAt  time.Time       `json:"savedAt"`
	Licenses json.RawMessage `json:"licenses"`
	Version  int             `json:"version"`
}

// Repo reads and writes the license table under a single store key.
type Repo struct {
	store    store.Store
	migrator Migrator
	now      func() time.Time
	key      string

	mu         sync.Mutex
	lastDigest uint64
	hasDigest  bool
}

type Option func(*Repo)

func WithKey(key string) Option {
	return func(r *Repo) {
		if key != "" {
			r.key = key
		}
	}
}

// WithMigrator replaces DefaultMigrator. A nil migrator leaves the default in place.
func WithMigrator(m Migrator) Option {
	return func(r *Repo) {
		if m != nil {
			r.migrator = m
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Repo) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRepo(st store.Store, opts ...Option) *Repo {
	r := &Repo{
		store:    st,
		migrator: DefaultMigrator,
		now:      time.Now,
		key:      DefaultKey,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Repo) Key() string {
	return r.key
}

// Load reads the persisted table. A missing document yields an empty table.
// Entries that cannot be decoded or normalized are reported in Issues and
// skipped; only store failures and unknown future versions return an error.
func (r *Repo) Load(ctx context.Context) (LoadResult, error) {
	result := LoadResult{
		Licenses: make(map[string]*models.License),
		Version:  CurrentVersion,
	}

	raw, err := r.store.Get(ctx, r.key)
	if errors.Is(err, store.ErrNotFound) {
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("read license table: %w", err)
	}

	version, savedAt, entries, err := decodeDocument(raw)
	if err != nil {
		if errors.Is(err, ErrUnsupportedVersion) {
			return result, err
		}
		result.Issues = append(result.Issues, Issue{Err: fmt.Errorf("decode license table: %w", err)})
		return result, nil
	}
	result.Version = version
	result.SavedAt = savedAt

	for trackID, entry := range entries {
		if version < CurrentVersion {
			migrated, err := r.migrator.Migrate(version, entry)
			if err != nil {
				result.Issues = append(result.Issues, Issue{TrackID: trackID, Err: fmt.Errorf("migrate from v%d: %w", version, err)})
				continue
			}
			entry = migrated
			result.Migrated++
		}

		lic, err := decodeLicense(trackID, entry)
		if err != nil {
			result.Issues = append(result.Issues, Issue{TrackID: trackID, Err: err})
			continue
		}
		result.Licenses[trackID] = lic
	}

	// a clean current-version load matches what is on disk
	if version == CurrentVersion && len(result.Issues) == 0 {
		if digest, err := digestLicenses(result.Licenses); err == nil {
			r.setDigest(digest)
		}
	} else {
		r.resetDigest()
	}

	log.Debug().
		Int("licenses", len(result.Licenses)).
		Int("skipped", len(result.Issues)).
		Int("version", version).
		Msg("Loaded license table")

	return result, nil
}

// Save writes licenses as a current-version envelope. The write is skipped
// when the table is unchanged since the last successful Save or Load.
func (r *Repo) Save(ctx context.Context, licenses map[string]*models.License) error {
	if licenses == nil {
		licenses = map[string]*models.License{}
	}

	body, err := json.Marshal(licenses)
	if err != nil {
		return fmt.Errorf("encode licenses: %w", err)
	}
	digest := xxhash.Sum64(body)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.hasDigest && r.lastDigest == digest {
		return nil
	}

	doc, err := json.Marshal(envelope{
		Version:  CurrentVersion,
		SavedAt:  r.now().UTC(),
		Licenses: body,
	})
	if err != nil {
		return fmt.Errorf("encode license table: %w", err)
	}

	if err := r.store.Put(ctx, r.key, doc); err != nil {
		return fmt.Errorf("write license table: %w", err)
	}

	r.lastDigest = digest
	r.hasDigest = true
	return nil
}

func (r *Repo) setDigest(d uint64) {
	r.mu.Lock()
	r.lastDigest = d
	r.hasDigest = true
	r.mu.Unlock()
}

func (r *Repo) resetDigest() {
	r.mu.Lock()
	r.hasDigest = false
	r.mu.Unlock()
}

func digestLicenses(licenses map[string]*models.License) (uint64, error) {
	body, err := json.Marshal(licenses)
	if err != nil {
		return 0, err
	}
	return xxhash.Sum64(body), nil
}

func decodeDocument(raw []byte) (int, time.Time, map[string]json.RawMessage, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return 0, time.Time{}, nil, err
	}
	if top == nil {
		return 0, time.Time{}, nil, errors.New("document is null")
	}

	versionRaw, ok := top["version"]
	if !ok || !isNumber(versionRaw) {
		return 1, time.Time{}, top, nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return 0, time.Time{}, nil, err
	}
	if env.Version < 1 || env.Version > CurrentVersion {
		return 0, time.Time{}, nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, env.Version)
	}

	entries := map[string]json.RawMessage{}
	if len(env.Licenses) > 0 && !bytes.Equal(bytes.TrimSpace(env.Licenses), []byte("null")) {
		if err := json.Unmarshal(env.Licenses, &entries); err != nil {
			return 0, time.Time{}, nil, fmt.Errorf("licenses: %w", err)
		}
	}

	return env.Version, env.SavedAt, entries, nil
}

func isNumber(raw json.RawMessage) bool {
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(&n) == nil
}

func decodeLicense(key string, raw json.RawMessage) (*models.License, error) {
	var lic models.License
	if err := json.Unmarshal(raw, &lic); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	switch {
	case lic.TrackID == "":
		return nil, errors.New("missing trackId")
	case lic.TrackID != key:
		return nil, fmt.Errorf("trackId %q does not match key", lic.TrackID)
	case !lic.Status.Valid():
		return nil, fmt.Errorf("unknown status %q", lic.Status)
	case !lic.Type.Valid():
		return nil, fmt.Errorf("unknown type %q", lic.Type)
	case lic.CurrentPlays < 0:
		return nil, fmt.Errorf("negative currentPlays %d", lic.CurrentPlays)
	case lic.MaxPlays != nil && *lic.MaxPlays < 0:
		return nil, fmt.Errorf("negative maxPlays %d", *lic.MaxPlays)
	}

	if lic.ExpiresAt != nil {
		expires := lic.ExpiresAt.UTC()
		lic.ExpiresAt = &expires
	}
	lic.IssuedAt = lic.IssuedAt.UTC()

	return &lic, nil
}
