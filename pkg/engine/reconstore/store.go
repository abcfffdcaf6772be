// Package reconstore implements the Recon State Store: a durable per-actor
// cumulative recon score with exponential time decay, used by the
// Correlator to detect delayed exfil (an exfil with no in-window recon but
// with sustained prior assistant usage).
//
// The decay/accumulate math is grounded on the teacher's Bayesian risk
// engine (pkg/engine/oracle in the retrieval pack), which tracks a
// per-key float that decays toward a baseline on every tick; here the
// baseline is zero and the decay is a continuous half-life rather than a
// fixed per-tick multiplier, because the spec pins an exact half-life
// identity (current_score(a, t+half_life) == 0.5 * current_score(a, t)).
package reconstore

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/nightwatch-sec/nightwatch/pkg/engine/events"
)

// Entry is the persisted shape of a single actor's recon score.
type Entry struct {
	Score        float64
	LastUpdateTS time.Time
}

// ErrCASConflict is returned by Backend.PutCAS when the stored value no
// longer matches the expected value supplied by the caller.
var ErrCASConflict = errors.New("reconstore: compare-and-swap conflict")

// Backend is the narrow, symmetric contract the in-memory and remote-KV
// backends both implement, per the spec's Design Notes (§9): atomic get,
// conditional write with actor-level mutual exclusion, and below-threshold
// eviction.
type Backend interface {
	// Get returns the actor's current stored entry, or found=false if absent.
	Get(ctx context.Context, actor string) (entry Entry, found bool, err error)
	// PutCAS stores next for actor. It fails with ErrCASConflict if the
	// backend's current value no longer matches (expected, expectedFound),
	// guaranteeing the read-modify-write is safe across concurrent writers
	// (including multiple detector processes sweeping the same tenant).
	PutCAS(ctx context.Context, actor string, expected Entry, expectedFound bool, next Entry) error
	// DeleteIfStale removes actor's entry, but only if the backend's
	// current stored value still equals expected. The Store calls this
	// after deciding (from a decayed read) that an entry has fallen below
	// EvictionThreshold; the equality check stops it from deleting an entry
	// a concurrent ObserveRecon refreshed in the meantime, since the raw
	// stored score itself never decays below the threshold on its own.
	DeleteIfStale(ctx context.Context, actor string, expected Entry) error
}

// Weights for recon actions, per spec §4.1.
const (
	WeightHighSignal = 2.0
	WeightLowSignal  = 0.5
	WeightSearchWeb  = 1.0

	// MaxScore clamps the cumulative recon score.
	MaxScore = 100.0

	// EvictionThreshold is the decayed score below which an entry is
	// considered stale and is opportunistically evicted.
	EvictionThreshold = 0.1

	maxCASAttempts = 3
)

// Store wraps a Backend with the decay/accumulate contract the Correlator
// and Intent Classifier consume.
type Store struct {
	backend  Backend
	halfLife time.Duration
	logger   *slog.Logger
}

// New creates a Store. halfLife defaults to 48h if zero.
func New(backend Backend, halfLife time.Duration, logger *slog.Logger) *Store {
	if halfLife <= 0 {
		halfLife = 48 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{backend: backend, halfLife: halfLife, logger: logger}
}

func weightFor(action events.ReconAction) float64 {
	switch {
	case action.IsHighSignal():
		return WeightHighSignal
	case action.IsLowSignal():
		return WeightLowSignal
	case action == events.ActionSearchWeb:
		return WeightSearchWeb
	default:
		return 0
	}
}

// decay applies the exponential half-life formula: s * 2^(-Δt/halfLife).
func decay(score float64, elapsed, halfLife time.Duration) float64 {
	if score <= 0 {
		return 0
	}
	if elapsed <= 0 {
		return score
	}
	exponent := -float64(elapsed) / float64(halfLife)
	return score * math.Pow(2, exponent)
}

// ObserveRecon folds a recon event into the actor's cumulative score.
// Per §4.1's failure model, a backend error is logged and the update is
// silently dropped: recon tracking is best-effort and must never block
// detection.
func (s *Store) ObserveRecon(ctx context.Context, actor string, action events.ReconAction, ts time.Time) {
	weight := weightFor(action)
	if weight == 0 {
		return
	}

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		current, found, err := s.backend.Get(ctx, actor)
		if err != nil {
			s.logger.Warn("reconstore: get failed, dropping observation", "actor", actor, "error", err)
			return
		}

		var curScore float64
		var curTS time.Time
		if found {
			curScore = current.Score
			curTS = current.LastUpdateTS
		} else {
			curTS = ts
		}

		next := decay(curScore, ts.Sub(curTS), s.halfLife) + weight
		if next > MaxScore {
			next = MaxScore
		}

		err = s.backend.PutCAS(ctx, actor, current, found, Entry{Score: next, LastUpdateTS: ts})
		if err == nil {
			return
		}
		if errors.Is(err, ErrCASConflict) {
			continue // another writer raced us; retry with a fresh read
		}
		s.logger.Warn("reconstore: put failed, dropping observation", "actor", actor, "error", err)
		return
	}
	s.logger.Warn("reconstore: exhausted CAS attempts, dropping observation", "actor", actor)
}

// CurrentScore returns the decayed score at time at without mutating
// storage. Per §4.1's failure model, a backend error fails open toward
// non-delayed detection (returns 0).
func (s *Store) CurrentScore(ctx context.Context, actor string, at time.Time) float64 {
	entry, found, err := s.backend.Get(ctx, actor)
	if err != nil {
		s.logger.Warn("reconstore: get failed, treating score as 0", "actor", actor, "error", err)
		return 0
	}
	if !found {
		return 0
	}

	score := decay(entry.Score, at.Sub(entry.LastUpdateTS), s.halfLife)
	if score < EvictionThreshold {
		if err := s.backend.DeleteIfStale(ctx, actor, entry); err != nil {
			s.logger.Warn("reconstore: opportunistic eviction failed", "actor", actor, "error", err)
		}
	}
	return score
}
