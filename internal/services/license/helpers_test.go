// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package license

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/singleflight"

	"github.com/autobrr/tempo/internal/drm"
	"github.com/autobrr/tempo/internal/licenseclient"
	"github.com/autobrr/tempo/internal/models"
	"github.com/autobrr/tempo/internal/store"
)

type fakeClient struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}

	mu   sync.Mutex
	resp licenseclient.Response
	err  error
	last licenseclient.Request
}

func newFakeClient(resp licenseclient.Response) *fakeClient {
	return &fakeClient{resp: resp, started: make(chan struct{}, 64)}
}

func (c *fakeClient) RequestLicense(ctx context.Context, req licenseclient.Request) (*licenseclient.Response, error) {
	n := c.calls.Add(1)
	c.started <- struct{}{}

	if c.release != nil {
		<-c.release
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = req
	if c.err != nil {
		return nil, c.err
	}
	resp := c.resp
	if resp.ID == "" {
		resp.ID = fmt.Sprintf("lic-%s-%d", req.TrackID, n)
	}
	return &resp, nil
}

func (c *fakeClient) setErr(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// flakyStore fails writes while failing is set.
type flakyStore struct {
	store.Store
	failing atomic.Bool
	puts    atomic.Int32
}

func (s *flakyStore) Put(ctx context.Context, key string, value []byte) error {
	s.puts.Add(1)
	if s.failing.Load() {
		return errStoreDown
	}
	return s.Store.Put(ctx, key, value)
}

var errStoreDown = errors.New("store unavailable")

type recordingReporter struct {
	mu     sync.Mutex
	errs   []error
	fields []map[string]any
}

func (r *recordingReporter) Handle(err error, fields map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
	r.fields = append(r.fields, fields)
}

func (r *recordingReporter) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

type recordingProbe struct {
	calls     atomic.Int32
	keySystem string
	err       error
}

func (p *recordingProbe) RequestAccess(_ context.Context, keySystem string, configs []drm.KeySystemConfiguration) (*drm.Access, error) {
	p.calls.Add(1)
	p.keySystem = keySystem
	if p.err != nil {
		return nil, p.err
	}
	return &drm.Access{KeySystem: keySystem, Configuration: configs[0]}, nil
}

func intPtr(n int) *int { return &n }

func scenarioResponse() licenseclient.Response {
	return licenseclient.Response{
		ExpiresAt:           licenseclient.ExpiresIn(time.Hour),
		MaxPlays:            intPtr(10),
		IsOfflineAllowed:    true,
		QualityRestrictions: []string{"high"},
		RegionRestrictions:  []string{"US"},
	}
}

func scenarioRequest(trackID string) models.LicenseRequest {
	return models.LicenseRequest{
		TrackID:     trackID,
		DeviceID:    "device-1",
		UserID:      "user-1",
		LicenseType: models.LicenseTypeStreaming,
		Region:      "US",
		Quality:     "high",
	}
}

type testManager struct {
	*Manager
	client   *fakeClient
	clock    *fakeClock
	store    *flakyStore
	reporter *recordingReporter
}

func newTestManager(t *testing.T, resp licenseclient.Response, opts ...Option) *testManager {
	t.Helper()

	tm := &testManager{
		client:   newFakeClient(resp),
		clock:    newFakeClock(),
		store:    &flakyStore{Store: store.NewMemory()},
		reporter: &recordingReporter{},
	}

	opts = append([]Option{
		WithClock(tm.clock.Now),
		WithErrorReporter(tm.reporter),
	}, opts...)

	m, err := NewManager(drm.Config{}, tm.store, tm.client, opts...)
	require.NoError(t, err)
	require.NoError(t, m.Initialize(context.Background()))
	t.Cleanup(func() { _ = m.Close() })

	tm.Manager = m
	return tm
}

// countingGroup signals once a caller is registered with a flight, either as
// its leader or as a waiter.
type countingGroup struct {
	singleflight.Group
	joined chan struct{}
}

func (g *countingGroup) DoChan(key string, fn func() (any, error)) <-chan singleflight.Result {
	ch := g.Group.DoChan(key, fn)
	g.joined <- struct{}{}
	return ch
}

// reloadLicense reads trackID back through a fresh manager on st.
func reloadLicense(t *testing.T, st store.Store, trackID string) *models.License {
	t.Helper()

	m, err := NewManager(drm.Config{}, st, newFakeClient(licenseclient.Response{}))
	require.NoError(t, err)
	require.NoError(t, m.Initialize(context.Background()))
	t.Cleanup(func() { _ = m.Close() })

	lic, ok := m.GetLicense(trackID)
	require.True(t, ok, "track %s not persisted", trackID)
	return lic
}
