// Package cache provides a keyed TTL cache whose refreshes are coalesced:
// at most one refresh per key is in flight, and every concurrent caller of an
// expired key waits on that same refresh.
package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"yieldagg/internal/metrics"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// RefreshFunc produces a fresh value for a key. It performs the I/O the
// store itself never does.
type RefreshFunc func(ctx context.Context) (any, error)

type entry struct {
	value     any
	expiresAt time.Time
}

// Store holds cached values keyed by name, each with its own timeout.
type Store struct {
	mu       sync.RWMutex
	timeouts map[string]time.Duration
	entries  map[string]*entry

	group   singleflight.Group
	now     func() time.Time
	metrics *metrics.Metrics
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithMetrics records hits, misses and refreshes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// New creates a store with the given per-key timeouts. Only configured keys
// can be looked up; a zero timeout disables caching for that key.
func New(timeouts map[string]time.Duration, opts ...Option) (*Store, error) {
	s := &Store{
		timeouts: make(map[string]time.Duration, len(timeouts)),
		entries:  make(map[string]*entry),
		now:      time.Now,
	}
	for key, d := range timeouts {
		if key == "" {
			return nil, fmt.Errorf("%w: empty key", ErrUnknownKey)
		}
		if d < 0 {
			return nil, fmt.Errorf("%w: %q has timeout %s", ErrInvalidTimeout, key, d)
		}
		s.timeouts[key] = d
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// GetOrUpdate returns the cached value for key if it has not expired.
// Otherwise it runs refresh, or joins the refresh another caller already
// started, and caches the result. Failures are never cached: every waiter of
// the failed round gets the same *RefreshError and the next call retries.
//
// The refresh runs detached from the cancellation of the caller that started
// it. A caller whose ctx ends stops waiting and gets ctx.Err(), while the
// refresh still completes and stores its value for later callers.
func (s *Store) GetOrUpdate(ctx context.Context, key string, refresh RefreshFunc) (any, error) {
	v, fresh, err := s.lookup(key)
	if err != nil {
		return nil, err
	}
	if fresh {
		if s.metrics != nil {
			s.metrics.RecordCacheHit(key)
		}
		return v, nil
	}
	if s.metrics != nil {
		s.metrics.RecordCacheMiss(key)
	}

	leader := false
	ch := s.group.DoChan(key, func() (any, error) {
		leader = true
		// A round may have finished between lookup and DoChan.
		if v, fresh, _ := s.lookup(key); fresh {
			return v, nil
		}
		return s.refresh(context.WithoutCancel(ctx), key, refresh)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if !leader {
			log.Debug().Str("key", key).Msg("Joined in-flight cache refresh")
			if s.metrics != nil {
				s.metrics.RecordCacheJoin(key)
			}
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val, nil
	}
}

// GetOrUpdate is the typed form of Store.GetOrUpdate.
func GetOrUpdate[T any](ctx context.Context, s *Store, key string, refresh func(context.Context) (T, error)) (T, error) {
	var zero T
	v, err := s.GetOrUpdate(ctx, key, func(ctx context.Context) (any, error) {
		return refresh(ctx)
	})
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %q holds %T", ErrTypeMismatch, key, v)
	}
	return t, nil
}

// lookup reports the cached value for key and whether it is still valid.
func (s *Store) lookup(key string) (any, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.timeouts[key]; !ok {
		return nil, false, fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	e, ok := s.entries[key]
	if !ok || !s.now().Before(e.expiresAt) {
		return nil, false, nil
	}
	return e.value, true, nil
}

// refresh runs fn once and stores its value on success.
func (s *Store) refresh(ctx context.Context, key string, fn RefreshFunc) (any, error) {
	start := time.Now()
	v, err := invoke(ctx, fn)
	if s.metrics != nil {
		s.metrics.RecordCacheRefresh(key, time.Since(start), err)
	}
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Cache refresh failed")
		return nil, &RefreshError{Key: key, Err: err}
	}

	s.mu.Lock()
	expiresAt := s.now().Add(s.timeouts[key])
	s.entries[key] = &entry{value: v, expiresAt: expiresAt}
	s.mu.Unlock()

	log.Debug().
		Str("key", key).
		Time("expires_at", expiresAt).
		Dur("elapsed", time.Since(start)).
		Msg("Cache entry refreshed")
	return v, nil
}

// invoke calls fn, turning a panic into an error for this round only.
func invoke(ctx context.Context, fn RefreshFunc) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, fmt.Errorf("refresh panicked: %v", r)
		}
	}()
	return fn(ctx)
}

// SetTimeout sets the timeout for key, registering the key if it is new.
// Only expiry times computed after the call use the new timeout.
func (s *Store) SetTimeout(key string, d time.Duration) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrUnknownKey)
	}
	if d < 0 {
		return fmt.Errorf("%w: %q has timeout %s", ErrInvalidTimeout, key, d)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeouts[key] = d
	return nil
}

// Timeout returns the configured timeout for key.
func (s *Store) Timeout(key string) (time.Duration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.timeouts[key]
	return d, ok
}

// Peek returns the stored value for key without refreshing it, even if the
// entry has expired.
func (s *Store) Peek(key string) (any, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, time.Time{}, false
	}
	return e.value, e.expiresAt, true
}

// EntryStatus describes one configured key.
type EntryStatus struct {
	Key       string        `json:"key"`
	Timeout   time.Duration `json:"timeout"`
	Cached    bool          `json:"cached"`
	Fresh     bool          `json:"fresh"`
	ExpiresAt *time.Time    `json:"expires_at,omitempty"`
}

// Status lists every configured key sorted by name.
func (s *Store) Status() []EntryStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	out := make([]EntryStatus, 0, len(s.timeouts))
	for key, d := range s.timeouts {
		st := EntryStatus{Key: key, Timeout: d}
		if e, ok := s.entries[key]; ok {
			expiresAt := e.expiresAt
			st.Cached = true
			st.Fresh = now.Before(expiresAt)
			st.ExpiresAt = &expiresAt
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Keys returns every configured key sorted by name.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.timeouts))
	for key := range s.timeouts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
