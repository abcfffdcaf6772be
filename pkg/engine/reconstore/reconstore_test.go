package reconstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/nightwatch-sec/nightwatch/pkg/engine/events"
)

func backends(t *testing.T) map[string]Backend {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return map[string]Backend{
		"memory": NewMemoryBackend(),
		"redis":  NewRedisBackend(client, 0),
	}
}

func TestStore_ObserveAndDecay(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := New(backend, 48*time.Hour, nil)

			t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
			s.ObserveRecon(ctx, "alice", events.ActionSummarizeFile, t0)

			got := s.CurrentScore(ctx, "alice", t0)
			require.InDelta(t, WeightHighSignal, got, 1e-9)
		})
	}
}

// TestStore_HalfLifeIdentity verifies current_score(a, t+half_life) ==
// 0.5 * current_score(a, t), the identity the spec pins exactly.
func TestStore_HalfLifeIdentity(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			halfLife := 48 * time.Hour
			s := New(backend, halfLife, nil)

			t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
			s.ObserveRecon(ctx, "bob", events.ActionSummarizeFile, t0)

			at := t0.Add(10 * time.Hour)
			before := s.CurrentScore(ctx, "bob", at)
			after := s.CurrentScore(ctx, "bob", at.Add(halfLife))

			require.InDelta(t, before*0.5, after, 1e-6)
		})
	}
}

// TestStore_MonotonicDecay verifies the decayed score never increases as
// time passes with no further observations.
func TestStore_MonotonicDecay(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := New(backend, 48*time.Hour, nil)

			t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
			s.ObserveRecon(ctx, "carol", events.ActionSummarizeFile, t0)

			prev := s.CurrentScore(ctx, "carol", t0)
			for i := 1; i <= 5; i++ {
				next := s.CurrentScore(ctx, "carol", t0.Add(time.Duration(i)*6*time.Hour))
				require.LessOrEqualf(t, next, prev, "score increased at step %d", i)
				prev = next
			}
		})
	}
}

func TestStore_MaxScoreClamp(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := New(backend, 48*time.Hour, nil)

			t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
			for i := 0; i < 100; i++ {
				s.ObserveRecon(ctx, "dave", events.ActionSummarizeFile, t0.Add(time.Duration(i)*time.Second))
			}

			got := s.CurrentScore(ctx, "dave", t0.Add(100*time.Second))
			require.LessOrEqual(t, got, MaxScore)
		})
	}
}

func TestStore_EvictsBelowThreshold(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := New(backend, time.Hour, nil)

			t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
			s.ObserveRecon(ctx, "erin", events.ActionSearchWeb, t0)

			// Far enough out that the decayed score drops under
			// EvictionThreshold, triggering opportunistic eviction.
			far := t0.Add(20 * time.Hour)
			got := s.CurrentScore(ctx, "erin", far)
			require.Less(t, got, EvictionThreshold)

			_, found, err := backend.Get(ctx, "erin")
			require.NoError(t, err)
			require.False(t, found, "entry should have been evicted")
		})
	}
}

func TestStore_UnknownActorScoresZero(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := New(backend, 48*time.Hour, nil)
			got := s.CurrentScore(ctx, "nobody", time.Now())
			require.Zero(t, got)
		})
	}
}

func TestBackend_PutCASConflict(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			err := backend.PutCAS(ctx, "frank", Entry{}, false, Entry{Score: 1, LastUpdateTS: time.Now()})
			require.NoError(t, err)

			// Stale expected value (still claims not-found) should conflict.
			err = backend.PutCAS(ctx, "frank", Entry{}, false, Entry{Score: 2, LastUpdateTS: time.Now()})
			require.ErrorIs(t, err, ErrCASConflict)
		})
	}
}

func TestWeightFor(t *testing.T) {
	require.Equal(t, WeightHighSignal, weightFor(events.ActionSummarizeFile))
	require.Equal(t, WeightLowSignal, weightFor(events.ActionProofread))
	require.Equal(t, WeightSearchWeb, weightFor(events.ActionSearchWeb))
	require.Zero(t, weightFor(events.ReconAction("unknown")))
}
