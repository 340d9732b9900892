package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// ===== in-memory tier fakes =====

type memFast struct {
	mu   sync.Mutex
	data map[string][]byte
	sets int
	fail error
}

func newMemFast() *memFast {
	return &memFast{data: make(map[string][]byte)}
}

func (f *memFast) setFail(err error) {
	f.mu.Lock()
	f.fail = err
	f.mu.Unlock()
}

func (f *memFast) failing() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fail
}

func (f *memFast) Set(_ context.Context, token string, data []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.data[token] = cp
	f.sets++
	return nil
}

func (f *memFast) Get(_ context.Context, token string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	raw, ok := f.data[token]
	if !ok {
		return nil, ErrMiss
	}
	return raw, nil
}

func (f *memFast) Del(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	delete(f.data, token)
	return nil
}

func (f *memFast) Scan(_ context.Context, fn func(token string, data []byte) bool) error {
	if err := f.failing(); err != nil {
		return err
	}
	f.mu.Lock()
	snapshot := make(map[string][]byte, len(f.data))
	for k, v := range f.data {
		snapshot[k] = v
	}
	f.mu.Unlock()
	for k, v := range snapshot {
		if !fn(k, v) {
			return nil
		}
	}
	return nil
}

func (f *memFast) Count(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return 0, f.fail
	}
	return len(f.data), nil
}

func (f *memFast) Close() error { return nil }

func (f *memFast) has(token string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[token]
	return ok
}

func (f *memFast) setCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sets
}

type memDurable struct {
	mu   sync.Mutex
	data map[string]*Record
}

func newMemDurable() *memDurable {
	return &memDurable{data: make(map[string]*Record)}
}

func (d *memDurable) Save(_ context.Context, rec *Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *rec
	d.data[rec.Token] = &cp
	return nil
}

func (d *memDurable) Load(_ context.Context, token string) (*Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.data[token]
	if !ok {
		return nil, ErrMiss
	}
	cp := *rec
	return &cp, nil
}

func (d *memDurable) Delete(_ context.Context, token string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.data, token)
	return nil
}

func (d *memDurable) DeleteUser(_ context.Context, userID string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for token, rec := range d.data {
		if rec.UserID == userID {
			delete(d.data, token)
			n++
		}
	}
	return n, nil
}

func (d *memDurable) Clear(_ context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.data)
	d.data = make(map[string]*Record)
	return n, nil
}

func (d *memDurable) Count(_ context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.data), nil
}

func (d *memDurable) Close(_ context.Context) error { return nil }

func (d *memDurable) has(token string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.data[token]
	return ok
}

// ===== manager behavior =====

func newTestManager(t *testing.T, cfg Config, fast FastTier, durable DurableTier) *Manager {
	t.Helper()
	m := NewManager(cfg, fast, durable, nil)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestCreateWritesAllLayers(t *testing.T) {
	ctx := context.Background()
	fast := newMemFast()
	durable := newMemDurable()
	m := newTestManager(t, Config{}, fast, durable)

	s := m.Create(ctx, "tok-1", "alice", map[string]any{"plan": "pro"})
	require.NotNil(t, s)
	require.True(t, fast.has("tok-1"))
	require.True(t, durable.has("tok-1"))

	got, ok := m.Get(ctx, "tok-1")
	require.True(t, ok)
	// the live object is shared, not a per-lookup copy
	require.Same(t, s, got)

	v, ok := got.Get("plan")
	require.True(t, ok)
	require.Equal(t, "pro", v)
}

func TestFastTierOutageDegrades(t *testing.T) {
	ctx := context.Background()
	fast := newMemFast()
	fast.setFail(errors.New("connection refused"))
	m := newTestManager(t, Config{}, fast, nil)

	s := m.Create(ctx, "tok-1", "alice", nil)
	require.NotNil(t, s, "create must survive a fast tier outage")

	got, ok := m.Get(ctx, "tok-1")
	require.True(t, ok, "fallback map must serve reads during the outage")
	require.Same(t, s, got)

	a := m.Analytics(ctx)
	require.Greater(t, a.FastErrors, int64(0))
	require.Greater(t, a.FallbackUses, int64(0))

	// tier recovers; a mutation writes through again
	fast.setFail(nil)
	s.Set("k", "v")
	require.Eventually(t, func() bool { return fast.has("tok-1") },
		time.Second, 10*time.Millisecond)
}

func TestGetChecksWallClockExpiry(t *testing.T) {
	ctx := context.Background()
	fast := newMemFast()
	durable := newMemDurable()
	m := newTestManager(t, Config{TTL: 40 * time.Millisecond}, fast, durable)

	m.Create(ctx, "tok-1", "alice", nil)
	_, ok := m.Get(ctx, "tok-1")
	require.True(t, ok)

	time.Sleep(80 * time.Millisecond)

	// the fake never self-expires, so this exercises the lazy check
	_, ok = m.Get(ctx, "tok-1")
	require.False(t, ok)
	require.False(t, fast.has("tok-1"), "expired entry must be purged")
	require.False(t, durable.has("tok-1"))
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	fast := newMemFast()
	durable := newMemDurable()
	m := newTestManager(t, Config{}, fast, durable)

	m.Create(ctx, "tok-1", "alice", nil)
	m.Invalidate(ctx, "tok-1")

	_, ok := m.Get(ctx, "tok-1")
	require.False(t, ok)
	require.False(t, fast.has("tok-1"))
	require.False(t, durable.has("tok-1"))
	require.Equal(t, int64(0), m.Analytics(ctx).Active)
}

// A debounced flush racing an explicit logout must not write the
// session back into the tiers after the logout removed it.
func TestLateFlushCannotResurrectInvalidated(t *testing.T) {
	ctx := context.Background()
	fast := newMemFast()
	durable := newMemDurable()
	m := newTestManager(t, Config{Debounce: time.Millisecond}, fast, durable)

	for i := 0; i < 50; i++ {
		token := fmt.Sprintf("tok-%d", i)
		s := m.Create(ctx, token, "alice", nil)
		s.Set("cursor", i) // arms the flush timer
		m.Invalidate(ctx, token)

		time.Sleep(5 * time.Millisecond) // let any in-flight flush settle
		require.False(t, fast.has(token), "iteration %d: invalidated session resurrected in fast tier", i)
		require.False(t, durable.has(token), "iteration %d: invalidated session resurrected in durable tier", i)
		_, ok := m.Get(ctx, token)
		require.False(t, ok, "iteration %d: invalidated session resolvable again", i)
	}
}

// Invalidating a token that was never live must not skew the active
// counter for the sessions that are.
func TestInvalidateUnknownTokenKeepsCounter(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{}, nil, nil)

	m.Create(ctx, "tok-1", "alice", nil)
	m.Invalidate(ctx, "ghost")
	m.Invalidate(ctx, "ghost")

	require.Equal(t, int64(1), m.Analytics(ctx).Active)

	m.Invalidate(ctx, "tok-1")
	require.Equal(t, int64(0), m.Analytics(ctx).Active)
}

func TestInvalidateUser(t *testing.T) {
	ctx := context.Background()
	fast := newMemFast()
	durable := newMemDurable()
	m := newTestManager(t, Config{}, fast, durable)

	m.Create(ctx, "a1", "alice", nil)
	m.Create(ctx, "a2", "alice", nil)
	m.Create(ctx, "b1", "bob", nil)

	n := m.InvalidateUser(ctx, "alice")
	require.Equal(t, 2, n)

	_, ok := m.Get(ctx, "a1")
	require.False(t, ok)
	_, ok = m.Get(ctx, "a2")
	require.False(t, ok)
	_, ok = m.Get(ctx, "b1")
	require.True(t, ok, "other users must be untouched")
	require.False(t, durable.has("a1"))
	require.True(t, durable.has("b1"))
}

func TestInvalidateAll(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{}, newMemFast(), newMemDurable())

	m.Create(ctx, "a1", "alice", nil)
	m.Create(ctx, "b1", "bob", nil)

	require.Equal(t, 2, m.InvalidateAll(ctx))
	a := m.Analytics(ctx)
	require.Equal(t, int64(0), a.Active)
	require.Equal(t, 0, a.FastKeys)
	require.Equal(t, 0, a.FallbackKeys)
}

// After a process restart the fallback map is empty; a token still in
// the durable mirror must come back to life.
func TestRehydrateFromDurable(t *testing.T) {
	ctx := context.Background()
	durable := newMemDurable()
	now := time.Now()
	require.NoError(t, durable.Save(ctx, &Record{
		Token:     "tok-old",
		UserID:    "alice",
		CreatedAt: now.Add(-time.Minute),
		ExpiresAt: now.Add(time.Hour),
		State:     map[string]any{"plan": "pro"},
	}))

	fast := newMemFast()
	m := newTestManager(t, Config{}, fast, durable)

	s, ok := m.Get(ctx, "tok-old")
	require.True(t, ok)
	require.Equal(t, "alice", s.UserID)
	v, _ := s.Get("plan")
	require.Equal(t, "pro", v)

	// rehydration repopulates the fast tier
	require.True(t, fast.has("tok-old"))

	again, ok := m.Get(ctx, "tok-old")
	require.True(t, ok)
	require.Same(t, s, again)
}

func TestDebouncedWriteBackToTiers(t *testing.T) {
	ctx := context.Background()
	fast := newMemFast()
	m := newTestManager(t, Config{Debounce: 20 * time.Millisecond}, fast, nil)

	s := m.Create(ctx, "tok-1", "alice", nil)
	require.Equal(t, 1, fast.setCalls())

	s.Set("a", 1)
	s.Set("b", 2)
	s.Set("c", 3)

	require.Eventually(t, func() bool { return fast.setCalls() == 2 },
		time.Second, 5*time.Millisecond, "burst must coalesce into one write-back")

	time.Sleep(60 * time.Millisecond)
	require.Equal(t, 2, fast.setCalls(), "no further flushes without mutations")
}

func TestCleanupExpiredSweepsFallback(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{TTL: 30 * time.Millisecond}, nil, nil)

	m.Create(ctx, "tok-1", "alice", nil)
	m.Create(ctx, "tok-2", "bob", nil)
	time.Sleep(60 * time.Millisecond)

	require.Equal(t, 2, m.CleanupExpired())
	require.Equal(t, 0, m.Analytics(ctx).FallbackKeys)
}

func TestDropLocalSkipsTiers(t *testing.T) {
	ctx := context.Background()
	fast := newMemFast()
	m := newTestManager(t, Config{}, fast, nil)

	m.Create(ctx, "tok-1", "alice", nil)
	m.dropLocal("tok-1")

	// another node owns the tier delete; this node only forgets its copy
	require.True(t, fast.has("tok-1"))
	require.Equal(t, 0, m.Analytics(ctx).FallbackKeys)
}
