// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package license acquires, caches, validates and enforces per-track
// playback licenses.
//
// The Manager owns the in-memory license table. Reads are served from memory
// and never wait on storage. Mutations are serialised and persisted before
// they are reported as successful. Concurrent acquisitions of the same track
// share one license server call.
package license

import (
	"context"
	"maps"
	"reflect"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/autobrr/tempo/internal/drm"
	"github.com/autobrr/tempo/internal/licenseclient"
	"github.com/autobrr/tempo/internal/models"
	"github.com/autobrr/tempo/internal/persistence"
	"github.com/autobrr/tempo/internal/store"
	"github.com/autobrr/tempo/internal/validation"
	"github.com/autobrr/tempo/internal/violations"
)

// RequestClient performs the license server call.
type RequestClient interface {
	RequestLicense(ctx context.Context, req licenseclient.Request) (*licenseclient.Response, error)
}

// Manager is safe for concurrent use.
type Manager struct {
	cfg        drm.Config
	repo       *persistence.Repo
	client     RequestClient
	probe      drm.Probe
	reporter   ErrorReporter
	metrics    *Metrics
	violations *violations.Log
	migrator   persistence.Migrator
	policy     validation.Policy
	now        func() time.Time

	// mu guards licenses and unsaved. Licenses in the map are never mutated
	// in place; writers swap in a modified clone.
	mu       sync.RWMutex
	licenses map[string]*models.License
	// unsaved holds tracks whose acquisition could not be persisted; they
	// are not served from cache.
	unsaved map[string]struct{}

	// writeMu serialises mutations together with their persistence.
	writeMu sync.Mutex
	group   flightGroup

	subMu   sync.RWMutex
	subs    map[uint64]func(Event)
	nextSub uint64

	accessMu sync.RWMutex
	access   *drm.Access

	// closeMu is read-held by every running acquisition; Close takes it
	// exclusively after setting closed.
	closeMu sync.RWMutex
	closed  atomic.Bool
}

// flightGroup coalesces concurrent acquisitions of one track.
type flightGroup interface {
	DoChan(key string, fn func() (any, error)) <-chan singleflight.Result
}

type Option func(*Manager)

func WithProbe(p drm.Probe) Option {
	return func(m *Manager) {
		if p != nil {
			m.probe = p
		}
	}
}

func WithErrorReporter(r ErrorReporter) Option {
	return func(m *Manager) {
		if r != nil {
			m.reporter = r
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithMigrator sets the hook that upgrades entries persisted by older versions.
func WithMigrator(migrator persistence.Migrator) Option {
	return func(m *Manager) {
		m.migrator = migrator
	}
}

// WithViolationLog replaces the default unbounded, non-audited log. The
// manager closes it on Close.
func WithViolationLog(l *violations.Log) Option {
	return func(m *Manager) {
		if l != nil {
			m.violations = l
		}
	}
}

func WithPolicy(p validation.Policy) Option {
	return func(m *Manager) {
		m.policy = p
	}
}

// NewManager validates cfg and wires the manager to its collaborators. A nil
// client defaults to an HTTP client for cfg.ServerURL. The returned manager
// holds no licenses until Initialize is called.
func NewManager(cfg drm.Config, st store.Store, client RequestClient, opts ...Option) (*Manager, error) {
	normalized, err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, errors.New("license manager requires a store")
	}

	m := &Manager{
		cfg:      normalized,
		client:   client,
		probe:    drm.NoopProbe{},
		reporter: LogReporter{},
		now:      time.Now,
		group:    &singleflight.Group{},
		licenses: make(map[string]*models.License),
		unsaved:  make(map[string]struct{}),
		subs:     make(map[uint64]func(Event)),
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.client == nil {
		m.client = licenseclient.NewClient(normalized.ServerURL)
	}
	if m.violations == nil {
		m.violations = violations.New(violations.WithClock(m.now))
	}

	m.repo = persistence.NewRepo(st,
		persistence.WithMigrator(m.migrator),
		persistence.WithClock(m.now),
	)

	return m, nil
}

// Config returns the normalized DRM configuration.
func (m *Manager) Config() drm.Config {
	return m.cfg
}

// Access returns the key-system access negotiated by Initialize, or nil.
func (m *Manager) Access() *drm.Access {
	m.accessMu.RLock()
	defer m.accessMu.RUnlock()
	return m.access
}

// Initialize loads the persisted license table and, when a DRM provider is
// configured, probes the platform for it. Unreadable entries are reported
// and skipped. A failed probe is returned as *drm.CapabilityError.
func (m *Manager) Initialize(ctx context.Context) error {
	result, err := m.repo.Load(ctx)
	if err != nil {
		m.reporter.Handle(&PersistenceError{Op: "load", Err: err}, map[string]any{"op": "load"})
	}
	for _, issue := range result.Issues {
		m.reporter.Handle(issue, map[string]any{"op": "load", "trackId": issue.TrackID})
	}

	m.writeMu.Lock()
	m.mu.Lock()
	m.licenses = result.Licenses
	clear(m.unsaved)
	m.mu.Unlock()
	m.writeMu.Unlock()

	if err := m.violations.Load(ctx); err != nil {
		m.reporter.Handle(err, map[string]any{"op": "load_violations"})
	}

	log.Info().
		Int("licenses", len(result.Licenses)).
		Int("skipped", len(result.Issues)).
		Int("migrated", result.Migrated).
		Msg("License table loaded")

	m.publish(LicensesLoaded{Count: len(result.Licenses), Skipped: len(result.Issues)})

	if !m.cfg.Enabled() {
		return nil
	}

	access, err := m.probe.RequestAccess(ctx, m.cfg.KeySystem, m.cfg.KeySystemConfigurations())
	if err != nil {
		var capErr *drm.CapabilityError
		if !errors.As(err, &capErr) {
			capErr = &drm.CapabilityError{KeySystem: m.cfg.KeySystem, Err: err}
		}
		return capErr
	}

	m.accessMu.Lock()
	m.access = access
	m.accessMu.Unlock()

	log.Info().
		Str("provider", string(m.cfg.Provider)).
		Str("keySystem", access.KeySystem).
		Strs("sessionTypes", access.Configuration.SessionTypes).
		Msg("DRM capability available")

	return nil
}

// RequestLicense returns a usable license for req.TrackID, contacting the
// license server only when none is cached. Server and persistence failures
// are reported in the response; the error is reserved for invalid requests,
// a closed manager and the caller's own cancellation. An abandoned call still
// completes and stores its result.
func (m *Manager) RequestLicense(ctx context.Context, req models.LicenseRequest) (models.LicenseResponse, error) {
	if err := validateRequest(req); err != nil {
		return models.LicenseResponse{}, err
	}
	if m.closed.Load() {
		return models.LicenseResponse{Error: ErrManagerClosed.Error()}, ErrManagerClosed
	}

	if lic, ok := m.cached(req.TrackID); ok {
		m.metrics.request(outcomeCached)
		return models.LicenseResponse{Success: true, Cached: true, License: lic}, nil
	}

	detached := context.WithoutCancel(ctx)
	ch := m.group.DoChan(req.TrackID, func() (any, error) {
		return m.acquire(detached, req)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return models.LicenseResponse{Error: res.Err.Error()}, res.Err
		}
		resp := res.Val.(models.LicenseResponse)
		resp.License = resp.License.Clone()
		return resp, nil
	case <-ctx.Done():
		return models.LicenseResponse{Error: ctx.Err().Error()}, ctx.Err()
	}
}

func (m *Manager) acquire(ctx context.Context, req models.LicenseRequest) (models.LicenseResponse, error) {
	m.closeMu.RLock()
	defer m.closeMu.RUnlock()
	if m.closed.Load() {
		return models.LicenseResponse{}, ErrManagerClosed
	}

	// a flight that finished between the caller's cache check and this one
	if lic, ok := m.cached(req.TrackID); ok {
		m.metrics.request(outcomeCached)
		return models.LicenseResponse{Success: true, Cached: true, License: lic}, nil
	}

	issuedAt := m.now()
	start := time.Now()
	resp, err := m.client.RequestLicense(ctx, licenseclient.NewRequest(req))
	m.metrics.observeServer(start)
	if err != nil {
		m.metrics.request(outcomeFailed)
		m.reporter.Handle(err, map[string]any{"op": "request", "trackId": req.TrackID})
		log.Warn().Err(err).Str("trackId", req.TrackID).Msg("License request failed")
		m.publish(LicenseRequestFailed{TrackID: req.TrackID, Err: err})
		return models.LicenseResponse{Error: msgObtainFailed}, nil
	}

	lic := m.buildLicense(req, resp, issuedAt)

	m.writeMu.Lock()
	saveErr := m.commit(ctx, lic)
	m.mu.Lock()
	if saveErr != nil {
		m.unsaved[lic.TrackID] = struct{}{}
	} else {
		delete(m.unsaved, lic.TrackID)
	}
	m.mu.Unlock()
	m.writeMu.Unlock()

	if saveErr != nil {
		perr := m.persistenceFailed("request", lic.TrackID, saveErr)
		m.metrics.request(outcomePersistFailed)
		m.publish(LicenseRequestFailed{TrackID: lic.TrackID, Err: perr})
		return models.LicenseResponse{Error: msgPersistFailed, License: lic.Clone()}, nil
	}

	m.metrics.request(outcomeAcquired)
	log.Debug().
		Str("trackId", lic.TrackID).
		Str("licenseId", maskID(lic.ID)).
		Msg("License acquired")
	m.publish(LicenseAcquired{License: *lic.Clone()})

	return models.LicenseResponse{Success: true, License: lic.Clone()}, nil
}

// ValidateLicense decides whether trackID may be played in pctx right now.
// Denials are appended to the violation log and returned.
func (m *Manager) ValidateLicense(trackID string, pctx models.PlaybackContext) (bool, *models.Violation) {
	now := m.now()

	m.mu.RLock()
	lic := m.licenses[trackID]
	m.mu.RUnlock()

	ok, v := m.policy.Decide(lic, pctx, now)
	if ok {
		return true, nil
	}

	v.TrackID = trackID
	stored := m.violations.Add(*v)
	m.metrics.violation(stored.Type)

	log.Debug().
		Str("trackId", trackID).
		Str("violation", string(stored.Type)).
		Msg("Playback denied")
	m.publish(ViolationRecorded{Violation: stored})

	return false, &stored
}

// RecordPlay increments the play counter of trackID's license. Without a
// license it does nothing. A *PersistenceError is returned when the new count
// could not be stored; the in-memory count is incremented regardless.
func (m *Manager) RecordPlay(ctx context.Context, trackID string, info models.PlayInfo) error {
	m.writeMu.Lock()
	cur := m.lookup(trackID)
	if cur == nil {
		m.writeMu.Unlock()
		return nil
	}

	next := cur.Clone()
	next.CurrentPlays++
	saveErr := m.commit(ctx, next)
	m.writeMu.Unlock()

	m.metrics.play()
	if info.PlayedAt.IsZero() {
		info.PlayedAt = m.now()
	}
	m.publish(PlayRecorded{TrackID: trackID, CurrentPlays: next.CurrentPlays, Info: info})

	if saveErr != nil {
		return m.persistenceFailed("record_play", trackID, saveErr)
	}
	return nil
}

// RevokeLicense marks trackID's license revoked and records reason in its
// metadata. Revocation is terminal until a new license is acquired.
func (m *Manager) RevokeLicense(ctx context.Context, trackID, reason string) error {
	m.writeMu.Lock()
	cur := m.lookup(trackID)
	if cur == nil {
		m.writeMu.Unlock()
		return errors.Wrapf(ErrLicenseNotFound, "track %s", trackID)
	}

	next := cur.Clone()
	next.Status = models.LicenseStatusRevoked
	if next.Metadata == nil {
		next.Metadata = make(map[string]any, 1)
	}
	next.Metadata[models.MetadataRevocationReason] = reason
	saveErr := m.commit(ctx, next)
	m.writeMu.Unlock()

	m.metrics.revoked()
	log.Info().
		Str("trackId", trackID).
		Str("licenseId", maskID(next.ID)).
		Str("reason", reason).
		Msg("License revoked")
	m.publish(LicenseRevoked{TrackID: trackID, Reason: reason})

	if saveErr != nil {
		return m.persistenceFailed("revoke", trackID, saveErr)
	}
	return nil
}

// ClearLicenses drops every license from memory and storage.
func (m *Manager) ClearLicenses(ctx context.Context) error {
	m.writeMu.Lock()
	saveErr := m.repo.Save(ctx, map[string]*models.License{})

	m.mu.Lock()
	count := len(m.licenses)
	m.licenses = make(map[string]*models.License)
	clear(m.unsaved)
	m.mu.Unlock()
	m.writeMu.Unlock()

	log.Info().Int("count", count).Msg("License table cleared")
	m.publish(LicensesCleared{Count: count})

	if saveErr != nil {
		return m.persistenceFailed("clear", "", saveErr)
	}
	return nil
}

// GetLicense returns a copy of trackID's license.
func (m *Manager) GetLicense(trackID string) (*models.License, bool) {
	lic := m.lookup(trackID)
	if lic == nil {
		return nil, false
	}
	return lic.Clone(), true
}

// GetAllLicenses returns copies of every license ordered by track id.
func (m *Manager) GetAllLicenses() []models.License {
	m.mu.RLock()
	out := make([]models.License, 0, len(m.licenses))
	for _, lic := range m.licenses {
		out = append(out, *lic.Clone())
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b models.License) int {
		return strings.Compare(a.TrackID, b.TrackID)
	})
	return out
}

// GetViolations returns logged violations of kind, or all of them for nil.
func (m *Manager) GetViolations(kind *models.ViolationType) []models.Violation {
	return m.violations.Filter(kind)
}

// ClearOldViolations removes violations older than maxAge and returns how
// many were removed.
func (m *Manager) ClearOldViolations(maxAge time.Duration) int {
	return m.violations.Prune(maxAge)
}

// ViolationCount returns the number of logged violations.
func (m *Manager) ViolationCount() int {
	return m.violations.Len()
}

// Subscribe registers fn for every subsequent event. Events are delivered
// synchronously on the goroutine that caused them; fn must not block.
func (m *Manager) Subscribe(fn func(Event)) (unsubscribe func()) {
	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.subs, id)
			m.subMu.Unlock()
		})
	}
}

// Ready returns ErrManagerClosed once Close has been called.
func (m *Manager) Ready(context.Context) error {
	if m.closed.Load() {
		return ErrManagerClosed
	}
	return nil
}

// Close waits for detached acquisitions and flushes the violation log. The
// store is owned by the caller and stays open.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}

	// wait for running acquisitions to persist
	m.closeMu.Lock()
	m.closeMu.Unlock()
	return m.violations.Close()
}

func (m *Manager) publish(e Event) {
	m.subMu.RLock()
	if len(m.subs) == 0 {
		m.subMu.RUnlock()
		return
	}
	ids := slices.Sorted(maps.Keys(m.subs))
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, m.subs[id])
	}
	m.subMu.RUnlock()

	for _, fn := range fns {
		m.deliver(fn, e)
	}
}

func (m *Manager) deliver(fn func(Event), e Event) {
	defer func() {
		if r := recover(); r != nil {
			m.reporter.Handle(errors.Errorf("event subscriber panicked: %v", r), map[string]any{
				"event": reflect.TypeOf(e).Name(),
			})
		}
	}()
	fn(e)
}

// cached returns a copy of trackID's license when it can be served without
// a server call.
func (m *Manager) cached(trackID string) (*models.License, bool) {
	now := m.now()

	m.mu.RLock()
	defer m.mu.RUnlock()

	lic := m.licenses[trackID]
	if lic == nil || !lic.IsUsable(now) {
		return nil, false
	}
	if _, pending := m.unsaved[trackID]; pending {
		return nil, false
	}
	return lic.Clone(), true
}

func (m *Manager) lookup(trackID string) *models.License {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.licenses[trackID]
}

// commit persists the table with lic in place, then swaps lic into memory.
// The swap happens even when the write fails. Callers hold writeMu.
func (m *Manager) commit(ctx context.Context, lic *models.License) error {
	m.mu.RLock()
	snapshot := maps.Clone(m.licenses)
	m.mu.RUnlock()
	if snapshot == nil {
		snapshot = make(map[string]*models.License, 1)
	}
	snapshot[lic.TrackID] = lic

	saveErr := m.repo.Save(ctx, snapshot)

	m.mu.Lock()
	m.licenses[lic.TrackID] = lic
	if saveErr == nil {
		// the whole table is durable now
		clear(m.unsaved)
	}
	m.mu.Unlock()

	return saveErr
}

func (m *Manager) persistenceFailed(op, trackID string, err error) *PersistenceError {
	perr := &PersistenceError{Op: op, TrackID: trackID, Err: err}
	m.metrics.persistenceFailure(op)

	fields := map[string]any{"op": op}
	if trackID != "" {
		fields["trackId"] = trackID
	}
	m.reporter.Handle(perr, fields)
	return perr
}

func (m *Manager) buildLicense(req models.LicenseRequest, resp *licenseclient.Response, issuedAt time.Time) *models.License {
	id := resp.ID
	if id == "" {
		id = uuid.NewString()
	}

	licenseType := req.LicenseType
	if licenseType == "" {
		licenseType = models.LicenseTypeStreaming
	}

	var maxPlays *int
	if resp.MaxPlays != nil {
		n := *resp.MaxPlays
		maxPlays = &n
	}

	return &models.License{
		ID:                  id,
		TrackID:             req.TrackID,
		Type:                licenseType,
		Status:              models.LicenseStatusValid,
		Provider:            string(m.cfg.Provider),
		IssuedAt:            issuedAt.UTC(),
		ExpiresAt:           resp.ExpiresAt.Resolve(issuedAt),
		MaxPlays:            maxPlays,
		CurrentPlays:        0,
		IsOfflineAllowed:    resp.IsOfflineAllowed,
		IsSharingAllowed:    resp.IsSharingAllowed,
		IsRecordingAllowed:  resp.IsRecordingAllowed,
		QualityRestrictions: slices.Clone(resp.QualityRestrictions),
		RegionRestrictions:  slices.Clone(resp.RegionRestrictions),
		DeviceRestrictions:  slices.Clone(resp.DeviceRestrictions),
		Metadata:            models.CloneMetadata(resp.Metadata),
	}
}

var (
	requestValidatorOnce sync.Once
	requestValidator     *validator.Validate
)

func validateRequest(req models.LicenseRequest) error {
	requestValidatorOnce.Do(func() {
		v := validator.New()
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			return strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		})
		requestValidator = v
	})

	if req.LicenseType != "" && !req.LicenseType.Valid() {
		return errors.Wrapf(ErrInvalidRequest, "unknown licenseType %q", req.LicenseType)
	}

	err := requestValidator.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return errors.Wrap(ErrInvalidRequest, err.Error())
	}

	missing := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		missing = append(missing, fe.Field())
	}
	return errors.Wrapf(ErrInvalidRequest, "missing %s", strings.Join(missing, ", "))
}

// maskID hides all but the first characters of a license id in logs.
func maskID(id string) string {
	if len(id) <= 8 {
		return "***"
	}
	return id[:8] + "***"
}
