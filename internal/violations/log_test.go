// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package violations

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/tempo/internal/models"
	"github.com/autobrr/tempo/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

type recordingStore struct {
	store.Store
	puts   atomic.Int32
	putErr atomic.Pointer[error]
}

func (s *recordingStore) Put(ctx context.Context, key string, value []byte) error {
	s.puts.Add(1)
	if errp := s.putErr.Load(); errp != nil {
		return *errp
	}
	return s.Store.Put(ctx, key, value)
}

func kind(t models.ViolationType) *models.ViolationType { return &t }

func TestLogAddAssignsIDAndTimestamp(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	l := New(WithClock(clock.Now))

	first := l.Add(models.Violation{Type: models.ViolationRegionBlocked, TrackID: "t1"})
	second := l.Add(models.Violation{Type: models.ViolationRegionBlocked, TrackID: "t1"})

	assert.NotEmpty(t, first.ID)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, clock.now, first.Timestamp)
	assert.Equal(t, 2, l.Len(), "identical violations accumulate")

	explicit := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	kept := l.Add(models.Violation{ID: "fixed", Type: models.ViolationDeviceBlocked, Timestamp: explicit})
	assert.Equal(t, "fixed", kept.ID)
	assert.Equal(t, explicit, kept.Timestamp)
}

func TestLogFilter(t *testing.T) {
	l := New()
	l.Add(models.Violation{Type: models.ViolationRegionBlocked, TrackID: "a"})
	l.Add(models.Violation{Type: models.ViolationMaxPlaysExceeded, TrackID: "b"})
	l.Add(models.Violation{Type: models.ViolationRegionBlocked, TrackID: "c"})

	all := l.Filter(nil)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{all[0].TrackID, all[1].TrackID, all[2].TrackID})

	region := l.Filter(kind(models.ViolationRegionBlocked))
	require.Len(t, region, 2)
	assert.Equal(t, "c", region[1].TrackID)

	none := l.Filter(kind(models.ViolationOfflineNotAllowed))
	assert.NotNil(t, none)
	assert.Empty(t, none)

	// snapshots do not alias the log
	all[0].TrackID = "mutated"
	assert.Equal(t, "a", l.Filter(nil)[0].TrackID)
}

func TestLogPrune(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	l := New(WithClock(clock.Now))

	l.Add(models.Violation{Type: models.ViolationRegionBlocked, TrackID: "old"})
	clock.Advance(2 * time.Hour)
	l.Add(models.Violation{Type: models.ViolationRegionBlocked, TrackID: "recent"})
	clock.Advance(30 * time.Minute)

	assert.Equal(t, 0, l.Prune(3*time.Hour))
	assert.Equal(t, 1, l.Prune(time.Hour))

	remaining := l.Filter(nil)
	require.Len(t, remaining, 1)
	assert.Equal(t, "recent", remaining[0].TrackID)

	assert.Equal(t, 1, l.Prune(0))
	assert.Zero(t, l.Len())
}

func TestLogMaxEntries(t *testing.T) {
	l := New(WithMaxEntries(2))
	for _, id := range []string{"a", "b", "c"} {
		l.Add(models.Violation{Type: models.ViolationRegionBlocked, TrackID: id})
	}

	entries := l.Filter(nil)
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].TrackID)
	assert.Equal(t, "c", entries[1].TrackID)
}

func TestLogConcurrentAdd(t *testing.T) {
	l := New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Add(models.Violation{Type: models.ViolationQualityNotAllowed})
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, l.Len())
}

func TestLogAuditFlushAndLoad(t *testing.T) {
	ctx := context.Background()
	st := &recordingStore{Store: store.NewMemory()}

	l := New(WithAuditStore(st, "", 10*time.Millisecond))
	l.Add(models.Violation{Type: models.ViolationRegionBlocked, TrackID: "t1", Context: models.PlaybackContext{Region: "EU"}})
	l.Add(models.Violation{Type: models.ViolationOfflineNotAllowed, TrackID: "t2"})

	require.Eventually(t, func() bool {
		_, err := st.Get(ctx, DefaultAuditKey)
		return err == nil
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, l.Close())

	// the debounced write coalesces both adds
	assert.Equal(t, int32(1), st.puts.Load())

	raw, err := st.Get(ctx, DefaultAuditKey)
	require.NoError(t, err)
	var doc auditDocument
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, 1, doc.Version)
	require.Len(t, doc.Violations, 2)

	restored := New(WithAuditStore(st, "", time.Hour))
	restored.Add(models.Violation{Type: models.ViolationDeviceBlocked, TrackID: "t3"})
	require.NoError(t, restored.Load(ctx))

	entries := restored.Filter(nil)
	require.Len(t, entries, 3)
	assert.Equal(t, "t1", entries[0].TrackID)
	assert.Equal(t, "EU", entries[0].Context.Region)
	assert.Equal(t, "t3", entries[2].TrackID)
	require.NoError(t, restored.Close())
}

func TestLogCloseFlushesPending(t *testing.T) {
	ctx := context.Background()
	st := &recordingStore{Store: store.NewMemory()}

	l := New(WithAuditStore(st, "audit", time.Hour))
	l.Add(models.Violation{Type: models.ViolationMaxPlaysExceeded, TrackID: "t1"})
	assert.Equal(t, int32(0), st.puts.Load())

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
	assert.Equal(t, int32(1), st.puts.Load())

	_, err := st.Get(ctx, "audit")
	require.NoError(t, err)
}

func TestLogCloseWithoutChangesSkipsWrite(t *testing.T) {
	st := &recordingStore{Store: store.NewMemory()}
	l := New(WithAuditStore(st, "", time.Hour))
	require.NoError(t, l.Close())
	assert.Equal(t, int32(0), st.puts.Load())
}

func TestLogBackgroundFlushFailureReported(t *testing.T) {
	st := &recordingStore{Store: store.NewMemory()}
	boom := errors.New("quota exceeded")
	st.putErr.Store(&boom)

	reported := make(chan error, 4)
	l := New(
		WithAuditStore(st, "", 5*time.Millisecond),
		WithErrorHandler(func(err error) { reported <- err }),
	)
	l.Add(models.Violation{Type: models.ViolationRegionBlocked})

	select {
	case err := <-reported:
		require.ErrorIs(t, err, boom)
	case <-time.After(time.Second):
		t.Fatal("expected flush failure to be reported")
	}

	// entries stay dirty and are written once the store recovers
	st.putErr.Store(nil)
	require.NoError(t, l.Close())
	_, err := st.Get(context.Background(), DefaultAuditKey)
	require.NoError(t, err)
}

func TestLogLoadCorruptAudit(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	require.NoError(t, st.Put(ctx, DefaultAuditKey, []byte("{")))

	l := New(WithAuditStore(st, "", time.Hour))
	defer l.Close()
	require.Error(t, l.Load(ctx))
	assert.Zero(t, l.Len())
}

func TestLogWithoutAuditStore(t *testing.T) {
	l := New()
	require.NoError(t, l.Load(context.Background()))
	require.NoError(t, l.Flush(context.Background()))
	require.NoError(t, l.Close())
}
