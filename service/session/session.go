package session

import (
	"sync"
	"time"
)

// Session is the authenticated (or anonymous) client state bound to a
// token. It outlives any single connection: a network blip must not
// force re-authentication, so connection teardown never touches it.
//
// State mutations go through explicit mutators. Every mutation (re)arms
// a debounce timer; mutations landing inside the window coalesce into a
// single write-back of the full current snapshot. The flush is
// fire-and-forget: persistence failures are logged by the manager and
// never surface to the mutator.
type Session struct {
	Token     string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time

	mu    sync.RWMutex
	state map[string]any

	debounce time.Duration
	timer    *time.Timer
	flush    func(*Session)
	dead     bool // set on invalidation; a dead session never persists
}

func newSession(token, userID string, data map[string]any, ttl, debounce time.Duration, flush func(*Session)) *Session {
	now := time.Now()
	state := make(map[string]any, len(data))
	for k, v := range data {
		state[k] = v
	}
	return &Session{
		Token:     token,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		state:     state,
		debounce:  debounce,
		flush:     flush,
	}
}

// Expired checks wall-clock expiry. Every lookup calls this explicitly
// even when the backing tier enforces its own TTL, so the two tiers
// can't disagree about liveness.
func (s *Session) Expired() bool {
	return time.Now().After(s.ExpiresAt)
}

func (s *Session) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.state[key]
	return v, ok
}

// Set stores a value and schedules the debounced write-back.
func (s *Session) Set(key string, value any) {
	s.mu.Lock()
	s.state[key] = value
	s.scheduleFlushLocked()
	s.mu.Unlock()
}

// Delete removes a key and schedules the debounced write-back.
func (s *Session) Delete(key string) {
	s.mu.Lock()
	delete(s.state, key)
	s.scheduleFlushLocked()
	s.mu.Unlock()
}

// Snapshot copies the full current state. Write-backs always carry a
// snapshot, never a diff.
func (s *Session) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.state))
	for k, v := range s.state {
		out[k] = v
	}
	return out
}

// scheduleFlushLocked arms or resets the coalescing timer. The window
// restarts on every mutation; it is not a fixed-interval flush.
func (s *Session) scheduleFlushLocked() {
	if s.flush == nil || s.dead {
		return
	}
	if s.timer == nil {
		s.timer = time.AfterFunc(s.debounce, func() { s.flush(s) })
		return
	}
	s.timer.Reset(s.debounce)
}

// markDead cancels any pending write-back and pins the session dead so
// a flush already in flight cannot resurrect it after invalidation.
func (s *Session) markDead() {
	s.mu.Lock()
	s.dead = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()
}

func (s *Session) isDead() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dead
}

func (s *Session) record() *Record {
	return &Record{
		Token:     s.Token,
		UserID:    s.UserID,
		CreatedAt: s.CreatedAt,
		ExpiresAt: s.ExpiresAt,
		State:     s.Snapshot(),
	}
}
