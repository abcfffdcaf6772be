// Package correlator implements the structural heart of the engine: the
// per-actor temporal join between recon and exfil batches. Each actor's
// events are grouped and processed independently, the same "partition the
// work, fan out over a bounded pool, recombine deterministically" shape the
// teacher's scanner.Registry uses for per-scanner work, generalized here
// from golang.org/x/sync/errgroup instead of the teacher's own swarm
// package so each actor's goroutine can simply return an error.
package correlator

import (
	"context"
	"log/slog"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nightwatch-sec/nightwatch/pkg/engine/baseline"
	"github.com/nightwatch-sec/nightwatch/pkg/engine/classifier"
	"github.com/nightwatch-sec/nightwatch/pkg/engine/events"
	"github.com/nightwatch-sec/nightwatch/pkg/engine/filecontext"
	"github.com/nightwatch-sec/nightwatch/pkg/engine/severity"
)

// ReconScorer is the narrow slice of reconstore.Store the correlator needs.
type ReconScorer interface {
	ObserveRecon(ctx context.Context, actor string, action events.ReconAction, ts time.Time)
	CurrentScore(ctx context.Context, actor string, at time.Time) float64
}

// BaselineTracker is the narrow slice of baseline.Tracker the correlator needs.
type BaselineTracker interface {
	Observe(actor string, at time.Time, domain string, ownFile bool)
	Snapshot(actor string, at time.Time) baseline.UserBaseline
}

// FileContextGetter is the narrow slice of filecontext.CachingProvider the
// correlator needs.
type FileContextGetter interface {
	Get(ctx context.Context, docID string) filecontext.FileContext
}

// Match is one correlated (and already classified/resolved) candidate,
// ready for the Finding Emitter.
type Match struct {
	Actor           string
	Exfil           events.ExfilEvent
	Recon           *events.ReconEvent
	DeltaMinutes    *float64
	ReconScore      float64
	FileContext     filecontext.FileContext
	Baseline        baseline.UserBaseline
	Intent          classifier.Result
	Severity        severity.Severity
	Reason          string
	SeverityReasons []string
}

// Config controls the join's window, skew tolerance, and concurrency.
type Config struct {
	WindowMinutes      int
	ClockSkewTolerance time.Duration
	DelayedThreshold   float64
	MaxWorkers         int
	ActorOU            func(actor string) string
	Classifier         classifier.Config
}

// DefaultConfig returns §6's defaults.
func DefaultConfig() Config {
	return Config{
		WindowMinutes:      30,
		ClockSkewTolerance: 5 * time.Minute,
		DelayedThreshold:   5.0,
	}
}

// Correlator performs the temporal join described in §4.4.
type Correlator struct {
	cfg      Config
	recon    ReconScorer
	baseline BaselineTracker
	fileCtx  FileContextGetter
	severity *severity.Resolver
	logger   *slog.Logger
}

// New builds a Correlator from its collaborators.
func New(cfg Config, recon ReconScorer, baselineTracker BaselineTracker, fileCtx FileContextGetter, sev *severity.Resolver, logger *slog.Logger) *Correlator {
	if cfg.WindowMinutes <= 0 {
		cfg.WindowMinutes = DefaultConfig().WindowMinutes
	}
	if cfg.ClockSkewTolerance <= 0 {
		cfg.ClockSkewTolerance = DefaultConfig().ClockSkewTolerance
	}
	if cfg.DelayedThreshold <= 0 {
		cfg.DelayedThreshold = DefaultConfig().DelayedThreshold
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = runtime.NumCPU()
		if cfg.MaxWorkers > 8 {
			cfg.MaxWorkers = 8
		}
	}
	if cfg.ActorOU == nil {
		cfg.ActorOU = func(string) string { return "" }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Correlator{cfg: cfg, recon: recon, baseline: baselineTracker, fileCtx: fileCtx, severity: sev, logger: logger}
}

// Correlate runs the full batch: dedup, clock-skew clamp, group-by-actor,
// bounded per-actor fan-out, and classification/severity resolution. The
// returned matches are ordered ascending by exfil timestamp within each
// actor; actor groups themselves are ordered by actor name for
// determinism across runs (property 3 in §8).
func (c *Correlator) Correlate(ctx context.Context, now time.Time, recon []events.ReconEvent, exfil []events.ExfilEvent) ([]Match, error) {
	recon = events.DedupRecon(recon)
	exfil = events.DedupExfil(exfil)

	recon = c.validateRecon(recon)
	exfil = c.validateExfil(exfil)

	clampFuture(recon, now, c.cfg.ClockSkewTolerance)
	clampExfilFuture(exfil, now, c.cfg.ClockSkewTolerance)

	reconByActor := groupRecon(recon)
	exfilByActor := groupExfil(exfil)

	actors := unionActors(reconByActor, exfilByActor)
	sort.Strings(actors)

	results := make([][]Match, len(actors))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.MaxWorkers)

	for i, actor := range actors {
		i, actor := i, actor
		g.Go(func() error {
			matches := c.processActor(gctx, actor, now, reconByActor[actor], exfilByActor[actor])
			results[i] = matches
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []Match
	for _, m := range results {
		out = append(out, m...)
	}
	return out, nil
}

func (c *Correlator) validateRecon(in []events.ReconEvent) []events.ReconEvent {
	out := make([]events.ReconEvent, 0, len(in))
	for _, e := range in {
		if err := e.Validate(); err != nil {
			c.logger.Info("correlator: dropping malformed recon event", "error", err)
			continue
		}
		out = append(out, e)
	}
	return out
}

func (c *Correlator) validateExfil(in []events.ExfilEvent) []events.ExfilEvent {
	out := make([]events.ExfilEvent, 0, len(in))
	for _, e := range in {
		if err := e.Validate(); err != nil {
			c.logger.Info("correlator: dropping malformed exfil event", "error", err)
			continue
		}
		out = append(out, e)
	}
	return out
}

func clampFuture(recon []events.ReconEvent, now time.Time, tolerance time.Duration) {
	limit := now.Add(tolerance)
	for i := range recon {
		if recon[i].Timestamp.After(limit) {
			recon[i].Timestamp = now
		}
	}
}

func clampExfilFuture(exfils []events.ExfilEvent, now time.Time, tolerance time.Duration) {
	limit := now.Add(tolerance)
	for i := range exfils {
		if exfils[i].Timestamp.After(limit) {
			exfils[i].Timestamp = now
		}
	}
}

func groupRecon(in []events.ReconEvent) map[string][]events.ReconEvent {
	out := make(map[string][]events.ReconEvent)
	for _, e := range in {
		out[e.Actor] = append(out[e.Actor], e)
	}
	for actor := range out {
		sort.Slice(out[actor], func(i, j int) bool {
			return out[actor][i].Timestamp.Before(out[actor][j].Timestamp)
		})
	}
	return out
}

func groupExfil(in []events.ExfilEvent) map[string][]events.ExfilEvent {
	out := make(map[string][]events.ExfilEvent)
	for _, e := range in {
		out[e.Actor] = append(out[e.Actor], e)
	}
	for actor := range out {
		sort.Slice(out[actor], func(i, j int) bool {
			return out[actor][i].Timestamp.Before(out[actor][j].Timestamp)
		})
	}
	return out
}

func unionActors(reconByActor map[string][]events.ReconEvent, exfilByActor map[string][]events.ExfilEvent) []string {
	seen := make(map[string]bool, len(reconByActor)+len(exfilByActor))
	for actor := range reconByActor {
		seen[actor] = true
	}
	for actor := range exfilByActor {
		seen[actor] = true
	}
	out := make([]string, 0, len(seen))
	for actor := range seen {
		out = append(out, actor)
	}
	return out
}
