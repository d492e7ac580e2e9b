package cache

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"yieldagg/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced time source safe for concurrent use.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T, timeouts map[string]time.Duration) (*Store, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	s, err := New(timeouts, WithClock(clock.Now))
	require.NoError(t, err)
	return s, clock
}

// counter returns a refresh function yielding successive integers and the
// number of times it ran.
func counter() (RefreshFunc, *atomic.Int32) {
	var calls atomic.Int32
	return func(ctx context.Context) (any, error) {
		return int(calls.Add(1)), nil
	}, &calls
}

func TestGetOrUpdateCachesWithinTimeout(t *testing.T) {
	s, clock := newTestStore(t, map[string]time.Duration{"k": time.Minute})
	refresh, calls := counter()
	ctx := context.Background()

	v, err := s.GetOrUpdate(ctx, "k", refresh)
	require.NoError(t, err)
	require.Equal(t, 1, v)

	clock.Advance(59 * time.Second)
	v, err = s.GetOrUpdate(ctx, "k", refresh)
	require.NoError(t, err)
	require.Equal(t, 1, v)
	require.Equal(t, int32(1), calls.Load(), "valid entry must not refresh")

	clock.Advance(time.Second)
	v, err = s.GetOrUpdate(ctx, "k", refresh)
	require.NoError(t, err)
	require.Equal(t, 2, v)
	require.Equal(t, int32(2), calls.Load())
}

func TestEthUSDPriceExample(t *testing.T) {
	s, clock := newTestStore(t, map[string]time.Duration{"ethUSDPrice": 300 * time.Second})
	ctx := context.Background()

	wad := new(big.Int).Mul(big.NewInt(3000), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	var calls atomic.Int32
	refresh := func(ctx context.Context) (*big.Int, error) {
		calls.Add(1)
		return new(big.Int).Set(wad), nil
	}

	v, err := GetOrUpdate(ctx, s, "ethUSDPrice", refresh)
	require.NoError(t, err)
	require.Equal(t, 0, v.Cmp(wad))

	clock.Advance(299 * time.Second)
	_, err = GetOrUpdate(ctx, s, "ethUSDPrice", refresh)
	require.NoError(t, err)
	require.Equal(t, int32(1), calls.Load())

	clock.Advance(2 * time.Second)
	_, err = GetOrUpdate(ctx, s, "ethUSDPrice", refresh)
	require.NoError(t, err)
	require.Equal(t, int32(2), calls.Load())
}

func TestGetOrUpdateSingleFlight(t *testing.T) {
	s, _ := newTestStore(t, map[string]time.Duration{"k": time.Hour})

	release := make(chan struct{})
	var calls atomic.Int32
	refresh := func(ctx context.Context) (any, error) {
		calls.Add(1)
		<-release
		return "value", nil
	}

	const n = 50
	var wg sync.WaitGroup
	results := make([]any, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.GetOrUpdate(context.Background(), "k", refresh)
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), calls.Load(), "refresh must run exactly once")
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, "value", results[i])
	}
}

func TestGetOrUpdateFailureIsolation(t *testing.T) {
	s, _ := newTestStore(t, map[string]time.Duration{"k": time.Hour})
	errBoom := errors.New("boom")

	release := make(chan struct{})
	var calls atomic.Int32
	failing := func(ctx context.Context) (any, error) {
		calls.Add(1)
		<-release
		return nil, errBoom
	}

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.GetOrUpdate(context.Background(), "k", failing)
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		require.ErrorIs(t, err, errBoom)
		var refreshErr *RefreshError
		require.ErrorAs(t, err, &refreshErr)
		require.Equal(t, "k", refreshErr.Key)
	}

	_, _, cached := s.Peek("k")
	require.False(t, cached, "failure must not be cached")

	before := calls.Load()
	refresh, okCalls := counter()
	v, err := s.GetOrUpdate(context.Background(), "k", refresh)
	require.NoError(t, err)
	require.Equal(t, 1, v)
	require.Equal(t, int32(1), okCalls.Load(), "next call must retry")
	require.Equal(t, before, calls.Load())
}

func TestFailedRefreshKeepsOldValueOnlyForPeek(t *testing.T) {
	s, clock := newTestStore(t, map[string]time.Duration{"k": time.Minute})
	ctx := context.Background()

	_, err := s.GetOrUpdate(ctx, "k", func(ctx context.Context) (any, error) { return "old", nil })
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	_, err = s.GetOrUpdate(ctx, "k", func(ctx context.Context) (any, error) {
		return nil, errors.New("unreachable")
	})
	require.Error(t, err)

	v, _, ok := s.Peek("k")
	require.True(t, ok)
	require.Equal(t, "old", v)
}

func TestSetTimeoutAffectsOnlyFutureExpiry(t *testing.T) {
	s, clock := newTestStore(t, map[string]time.Duration{"k": 10 * time.Minute})
	refresh, calls := counter()
	ctx := context.Background()

	_, err := s.GetOrUpdate(ctx, "k", refresh)
	require.NoError(t, err)
	_, expiresAt, _ := s.Peek("k")

	require.NoError(t, s.SetTimeout("k", time.Minute))
	_, unchanged, _ := s.Peek("k")
	require.Equal(t, expiresAt, unchanged)

	// Past the new timeout but inside the old deadline.
	clock.Advance(5 * time.Minute)
	_, err = s.GetOrUpdate(ctx, "k", refresh)
	require.NoError(t, err)
	require.Equal(t, int32(1), calls.Load())

	clock.Advance(5 * time.Minute)
	_, err = s.GetOrUpdate(ctx, "k", refresh)
	require.NoError(t, err)
	require.Equal(t, int32(2), calls.Load())

	_, expiresAt, _ = s.Peek("k")
	require.Equal(t, clock.Now().Add(time.Minute), expiresAt)
}

func TestZeroTimeoutAlwaysRefreshes(t *testing.T) {
	s, _ := newTestStore(t, map[string]time.Duration{"k": 0})
	refresh, calls := counter()

	for i := 0; i < 3; i++ {
		_, err := s.GetOrUpdate(context.Background(), "k", refresh)
		require.NoError(t, err)
	}
	require.Equal(t, int32(3), calls.Load())
}

func TestUnknownKey(t *testing.T) {
	s, _ := newTestStore(t, map[string]time.Duration{"k": time.Minute})
	refresh, calls := counter()

	_, err := s.GetOrUpdate(context.Background(), "other", refresh)
	require.ErrorIs(t, err, ErrUnknownKey)
	require.Equal(t, int32(0), calls.Load())

	require.NoError(t, s.SetTimeout("other", time.Minute))
	_, err = s.GetOrUpdate(context.Background(), "other", refresh)
	require.NoError(t, err)
}

func TestInvalidConfiguration(t *testing.T) {
	_, err := New(map[string]time.Duration{"k": -time.Second})
	require.ErrorIs(t, err, ErrInvalidTimeout)

	_, err = New(map[string]time.Duration{"": time.Second})
	require.ErrorIs(t, err, ErrUnknownKey)

	s, _ := newTestStore(t, nil)
	require.ErrorIs(t, s.SetTimeout("k", -time.Second), ErrInvalidTimeout)
	require.ErrorIs(t, s.SetTimeout("", time.Second), ErrUnknownKey)
}

func TestTypedGetOrUpdateMismatch(t *testing.T) {
	s, _ := newTestStore(t, map[string]time.Duration{"k": time.Hour})
	ctx := context.Background()

	_, err := s.GetOrUpdate(ctx, "k", func(ctx context.Context) (any, error) { return "text", nil })
	require.NoError(t, err)

	_, err = GetOrUpdate(ctx, s, "k", func(ctx context.Context) (int, error) { return 1, nil })
	require.ErrorIs(t, err, ErrTypeMismatch)
}

func TestRefreshPanicBecomesError(t *testing.T) {
	s, _ := newTestStore(t, map[string]time.Duration{"k": time.Hour})

	_, err := s.GetOrUpdate(context.Background(), "k", func(ctx context.Context) (any, error) {
		panic("bad payload")
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "bad payload")

	refresh, _ := counter()
	v, err := s.GetOrUpdate(context.Background(), "k", refresh)
	require.NoError(t, err)
	require.Equal(t, 1, v)
}

func TestCancelledWaiterDoesNotCancelRefresh(t *testing.T) {
	s, _ := newTestStore(t, map[string]time.Duration{"k": time.Hour})

	release := make(chan struct{})
	refreshCtxErr := make(chan error, 1)
	refresh := func(ctx context.Context) (any, error) {
		<-release
		refreshCtxErr <- ctx.Err()
		return "late", nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.GetOrUpdate(ctx, "k", refresh)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	close(release)
	require.NoError(t, <-refreshCtxErr)

	require.Eventually(t, func() bool {
		v, _, ok := s.Peek("k")
		return ok && v == "late"
	}, time.Second, 5*time.Millisecond)

	v, err := s.GetOrUpdate(context.Background(), "k", func(ctx context.Context) (any, error) {
		return "unused", nil
	})
	require.NoError(t, err)
	require.Equal(t, "late", v)
}

func TestKeysAreIndependent(t *testing.T) {
	s, _ := newTestStore(t, map[string]time.Duration{"a": time.Hour, "b": time.Hour})
	ctx := context.Background()

	_, err := s.GetOrUpdate(ctx, "a", func(ctx context.Context) (any, error) {
		return nil, errors.New("a is down")
	})
	require.Error(t, err)

	v, err := s.GetOrUpdate(ctx, "b", func(ctx context.Context) (any, error) { return "b", nil })
	require.NoError(t, err)
	require.Equal(t, "b", v)
}

func TestStatus(t *testing.T) {
	s, clock := newTestStore(t, map[string]time.Duration{"b": time.Minute, "a": time.Hour})
	_, err := s.GetOrUpdate(context.Background(), "a", func(ctx context.Context) (any, error) { return 1, nil })
	require.NoError(t, err)

	st := s.Status()
	require.Len(t, st, 2)
	require.Equal(t, "a", st[0].Key)
	require.True(t, st[0].Cached)
	require.True(t, st[0].Fresh)
	require.Equal(t, clock.Now().Add(time.Hour), *st[0].ExpiresAt)
	require.Equal(t, "b", st[1].Key)
	require.False(t, st[1].Cached)
	require.Nil(t, st[1].ExpiresAt)
}

func TestMetricsRecorded(t *testing.T) {
	m := metrics.New()
	clock := newFakeClock()
	s, err := New(map[string]time.Duration{"k": time.Hour}, WithClock(clock.Now), WithMetrics(m))
	require.NoError(t, err)

	refresh, _ := counter()
	for i := 0; i < 3; i++ {
		_, err := s.GetOrUpdate(context.Background(), "k", refresh)
		require.NoError(t, err)
	}

	require.Equal(t, float64(1), counterValue(t, m.CacheMisses.WithLabelValues("k")))
	require.Equal(t, float64(2), counterValue(t, m.CacheHits.WithLabelValues("k")))

	families, err := m.Gatherer().Gather()
	require.NoError(t, err)
	var refreshes uint64
	for _, mf := range families {
		if mf.GetName() == "yield_cache_refresh_latency_seconds" {
			for _, metric := range mf.GetMetric() {
				refreshes += metric.GetHistogram().GetSampleCount()
			}
		}
	}
	require.Equal(t, uint64(1), refreshes)
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, c.Write(&out))
	return out.GetCounter().GetValue()
}
