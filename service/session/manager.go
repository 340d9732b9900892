package session

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"GProject/logger"
)

// Config tunes the manager. Zero values get sane defaults.
type Config struct {
	TTL          time.Duration
	Debounce     time.Duration
	CleanupEvery time.Duration
}

func (c *Config) norm() {
	if c.TTL <= 0 {
		c.TTL = 2 * time.Hour
	}
	if c.Debounce <= 0 {
		c.Debounce = 100 * time.Millisecond
	}
	if c.CleanupEvery <= 0 {
		c.CleanupEvery = 5 * time.Minute
	}
}

// Manager owns session persistence across three layers: the fast tier
// (Redis, self-expiring), the durable tier (Mongo, best-effort mirror)
// and a process-local fallback map that always holds the live Session
// objects created on this node. Tier outages never propagate to
// callers; they degrade to the fallback map and show up in analytics.
//
// Mutation is last-write-wins per token. Concurrent writers to the same
// session can race; session-scoped data accepts that.
type Manager struct {
	cfg     Config
	fast    FastTier    // nil when the fast tier is disabled/unreachable
	durable DurableTier // nil when no durable tier is configured
	events  *Events     // nil when fan-out is disabled

	mu       sync.RWMutex
	fallback map[string]*Session

	created      atomic.Int64
	active       atomic.Int64
	fastErrors   atomic.Int64
	fallbackUses atomic.Int64
	startedAt    time.Time

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewManager(cfg Config, fast FastTier, durable DurableTier, events *Events) *Manager {
	cfg.norm()
	m := &Manager{
		cfg:       cfg,
		fast:      fast,
		durable:   durable,
		events:    events,
		fallback:  make(map[string]*Session),
		startedAt: time.Now(),
		stop:      make(chan struct{}),
	}
	if events != nil {
		events.start(m)
	}
	m.wg.Add(1)
	go m.sweeper()
	return m
}

func (m *Manager) TTL() time.Duration { return m.cfg.TTL }

// Create builds a session for token, writes it to the fast tier with
// the TTL as eviction deadline, mirrors it to the durable tier and
// always records it in the fallback map. A fast-tier failure degrades
// the call instead of failing it.
func (m *Manager) Create(ctx context.Context, token, userID string, data map[string]any) *Session {
	s := newSession(token, userID, data, m.cfg.TTL, m.cfg.Debounce, m.persist)

	if m.fast != nil {
		if raw, err := json.Marshal(s.record()); err == nil {
			if err := m.fast.Set(ctx, token, raw, m.cfg.TTL); err != nil {
				m.fastErrors.Add(1)
				m.fallbackUses.Add(1)
				logger.Warnf("[Session] fast tier write failed, fallback only token=%s err=%v", token, err)
			}
		}
	} else {
		m.fallbackUses.Add(1)
	}

	if m.durable != nil {
		if err := m.durable.Save(ctx, s.record()); err != nil {
			logger.Warnf("[Session] durable mirror failed token=%s err=%v", token, err)
		}
	}

	m.mu.Lock()
	m.fallback[token] = s
	m.mu.Unlock()

	m.created.Add(1)
	m.active.Add(1)
	return s
}

// Get resolves a live session by token: fast tier first, then the
// fallback map, then the durable tier. Expiry is re-checked against the
// wall clock on every path even though the fast tier self-expires.
func (m *Manager) Get(ctx context.Context, token string) (*Session, bool) {
	if m.fast != nil {
		raw, err := m.fast.Get(ctx, token)
		switch {
		case err == nil:
			var rec Record
			if jerr := json.Unmarshal(raw, &rec); jerr == nil {
				if time.Now().After(rec.ExpiresAt) {
					m.Invalidate(ctx, token)
					return nil, false
				}
				return m.liveSession(&rec), true
			}
			logger.Warnf("[Session] corrupt fast tier record token=%s", token)
		case err == ErrMiss:
			// authoritative miss: the token may still live in the
			// fallback map if it was created while the tier was down
		default:
			m.fastErrors.Add(1)
			m.fallbackUses.Add(1)
			logger.Warnf("[Session] fast tier read failed token=%s err=%v", token, err)
		}
	}

	m.mu.RLock()
	s, ok := m.fallback[token]
	m.mu.RUnlock()
	if ok {
		if s.Expired() {
			m.Invalidate(ctx, token)
			return nil, false
		}
		return s, true
	}

	// last resort after a process restart: rehydrate from the mirror
	if m.durable != nil {
		rec, err := m.durable.Load(ctx, token)
		if err == nil {
			if time.Now().After(rec.ExpiresAt) {
				m.Invalidate(ctx, token)
				return nil, false
			}
			s := m.liveSession(rec)
			m.writeBack(ctx, s)
			return s, true
		}
		if err != ErrMiss {
			logger.Warnf("[Session] durable tier read failed token=%s err=%v", token, err)
		}
	}
	return nil, false
}

// Invalidate removes token from every tier and the fallback map. The
// live session is marked dead before the tier deletes so a debounced
// flush racing the removal cannot write the record back.
func (m *Manager) Invalidate(ctx context.Context, token string) {
	m.mu.Lock()
	s, ok := m.fallback[token]
	delete(m.fallback, token)
	m.mu.Unlock()
	if ok {
		s.markDead()
	}

	m.deleteRecord(ctx, token)

	if ok {
		m.decActive(1)
	}
	if m.events != nil {
		m.events.publishToken(token)
	}
}

// InvalidateUser removes every session whose record carries userID.
// O(total sessions) across both the fast tier scan and the fallback
// map; administrative operation, not a request-path one.
func (m *Manager) InvalidateUser(ctx context.Context, userID string) int {
	victims := make(map[string]struct{})

	if m.fast != nil {
		err := m.fast.Scan(ctx, func(token string, data []byte) bool {
			var rec Record
			if err := json.Unmarshal(data, &rec); err != nil {
				return true
			}
			if rec.UserID == userID {
				victims[token] = struct{}{}
			}
			return true
		})
		if err != nil {
			m.fastErrors.Add(1)
			logger.Warnf("[Session] fast tier scan failed user=%s err=%v", userID, err)
		}
	}

	m.mu.Lock()
	for token, s := range m.fallback {
		if s.UserID == userID {
			victims[token] = struct{}{}
		}
	}
	for token := range victims {
		if s, ok := m.fallback[token]; ok {
			s.markDead()
			delete(m.fallback, token)
		}
	}
	m.mu.Unlock()

	for token := range victims {
		if m.fast != nil {
			if err := m.fast.Del(ctx, token); err != nil {
				m.fastErrors.Add(1)
			}
		}
	}
	if m.durable != nil {
		if _, err := m.durable.DeleteUser(ctx, userID); err != nil {
			logger.Warnf("[Session] durable delete user failed user=%s err=%v", userID, err)
		}
	}

	m.decActive(int64(len(victims)))
	if m.events != nil {
		m.events.publishUser(userID)
	}
	logger.Infof("[Session] invalidated user sessions user=%s count=%d", userID, len(victims))
	return len(victims)
}

// InvalidateAll bulk-clears both tiers and returns the removed count.
func (m *Manager) InvalidateAll(ctx context.Context) int {
	removed := make(map[string]struct{})

	if m.fast != nil {
		err := m.fast.Scan(ctx, func(token string, _ []byte) bool {
			removed[token] = struct{}{}
			return true
		})
		if err != nil {
			m.fastErrors.Add(1)
		}
		for token := range removed {
			if err := m.fast.Del(ctx, token); err != nil {
				m.fastErrors.Add(1)
			}
		}
	}

	m.mu.Lock()
	for token, s := range m.fallback {
		s.markDead()
		removed[token] = struct{}{}
	}
	m.fallback = make(map[string]*Session)
	m.mu.Unlock()

	if m.durable != nil {
		if _, err := m.durable.Clear(ctx); err != nil {
			logger.Warnf("[Session] durable clear failed err=%v", err)
		}
	}

	m.active.Store(0)
	return len(removed)
}

// CleanupExpired sweeps only the fallback map; the fast tier is trusted
// to self-expire its own keys.
func (m *Manager) CleanupExpired() int {
	now := time.Now()
	var expired []*Session

	m.mu.Lock()
	for token, s := range m.fallback {
		if now.After(s.ExpiresAt) {
			expired = append(expired, s)
			delete(m.fallback, token)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		s.markDead()
	}
	m.decActive(int64(len(expired)))
	if len(expired) > 0 {
		logger.Infof("[Session] swept expired fallback sessions count=%d", len(expired))
	}
	return len(expired)
}

// Analytics is the counter snapshot exposed on the admin endpoint.
type Analytics struct {
	Created       int64         `json:"created"`
	Active        int64         `json:"active"`
	FastErrors    int64         `json:"fast_tier_errors"`
	FallbackUses  int64         `json:"fallback_uses"`
	FastKeys      int           `json:"fast_tier_keys"`
	FallbackKeys  int           `json:"fallback_keys"`
	DurableKeys   int           `json:"durable_keys"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	TTL           time.Duration `json:"ttl_ns"`
}

func (m *Manager) Analytics(ctx context.Context) Analytics {
	a := Analytics{
		Created:       m.created.Load(),
		Active:        m.active.Load(),
		FastErrors:    m.fastErrors.Load(),
		FallbackUses:  m.fallbackUses.Load(),
		UptimeSeconds: int64(time.Since(m.startedAt).Seconds()),
		TTL:           m.cfg.TTL,
	}
	m.mu.RLock()
	a.FallbackKeys = len(m.fallback)
	m.mu.RUnlock()

	if m.fast != nil {
		if n, err := m.fast.Count(ctx); err == nil {
			a.FastKeys = n
		} else {
			m.fastErrors.Add(1)
		}
	}
	if m.durable != nil {
		if n, err := m.durable.Count(ctx); err == nil {
			a.DurableKeys = n
		}
	}
	return a
}

// Close stops the sweeper and releases tier connections.
func (m *Manager) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()
	if m.events != nil {
		m.events.Close()
	}
	if m.fast != nil {
		if err := m.fast.Close(); err != nil {
			logger.Warnf("[Session] fast tier close err=%v", err)
		}
	}
	if m.durable != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return m.durable.Close(ctx)
	}
	return nil
}

// ===== internals =====

// persist is the debounced write-back target: a full snapshot into both
// tiers, fire-and-forget. A session invalidated while the flush was in
// flight must stay gone, so dead is checked on both sides of the write
// and a write that lost the race is undone.
func (m *Manager) persist(s *Session) {
	if s.Expired() || s.isDead() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.writeBack(ctx, s)
	if s.isDead() {
		m.deleteRecord(ctx, s.Token)
	}
}

// deleteRecord removes a token from both tiers, leaving the fallback
// map and counters to the caller.
func (m *Manager) deleteRecord(ctx context.Context, token string) {
	if m.fast != nil {
		if err := m.fast.Del(ctx, token); err != nil {
			m.fastErrors.Add(1)
			logger.Warnf("[Session] fast tier delete failed token=%s err=%v", token, err)
		}
	}
	if m.durable != nil {
		if err := m.durable.Delete(ctx, token); err != nil {
			logger.Warnf("[Session] durable delete failed token=%s err=%v", token, err)
		}
	}
}

func (m *Manager) writeBack(ctx context.Context, s *Session) {
	rec := s.record()
	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		return
	}
	if m.fast != nil {
		if raw, err := json.Marshal(rec); err == nil {
			if err := m.fast.Set(ctx, rec.Token, raw, ttl); err != nil {
				m.fastErrors.Add(1)
				logger.Warnf("[Session] write-back to fast tier failed token=%s err=%v", rec.Token, err)
			}
		}
	}
	if m.durable != nil {
		if err := m.durable.Save(ctx, rec); err != nil {
			logger.Warnf("[Session] write-back to durable tier failed token=%s err=%v", rec.Token, err)
		}
	}
}

// liveSession returns the process-local Session for a record,
// registering a rehydrated one when this node has no live copy yet.
func (m *Manager) liveSession(rec *Record) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.fallback[rec.Token]; ok {
		return s
	}
	s := &Session{
		Token:     rec.Token,
		UserID:    rec.UserID,
		CreatedAt: rec.CreatedAt,
		ExpiresAt: rec.ExpiresAt,
		state:     rec.State,
		debounce:  m.cfg.Debounce,
		flush:     m.persist,
	}
	if s.state == nil {
		s.state = make(map[string]any)
	}
	m.fallback[rec.Token] = s
	return s
}

// dropLocal removes a token from the fallback map without republishing;
// invoked by the events subscriber when another node invalidates.
func (m *Manager) dropLocal(token string) {
	m.mu.Lock()
	s, ok := m.fallback[token]
	delete(m.fallback, token)
	m.mu.Unlock()
	if ok {
		s.markDead()
		m.decActive(1)
	}
}

func (m *Manager) dropLocalUser(userID string) {
	m.mu.Lock()
	var victims []*Session
	for token, s := range m.fallback {
		if s.UserID == userID {
			victims = append(victims, s)
			delete(m.fallback, token)
		}
	}
	m.mu.Unlock()
	for _, s := range victims {
		s.markDead()
	}
	m.decActive(int64(len(victims)))
}

// decActive decrements the active counter, floored at zero.
func (m *Manager) decActive(n int64) {
	if n <= 0 {
		return
	}
	if v := m.active.Add(-n); v < 0 {
		m.active.Store(0)
	}
}

func (m *Manager) sweeper() {
	defer m.wg.Done()
	t := time.NewTicker(m.cfg.CleanupEvery)
	defer t.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-t.C:
			m.CleanupExpired()
		}
	}
}
