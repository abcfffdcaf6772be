// Package engine wires the Recon State Store, File Context Provider, User
// Baseline Tracker, Correlator, Intent Classifier, Severity Resolver, and
// Finding Emitter into the single Run call the CLI drives. The functional-
// options constructor and the explicit dependency struct (no package-level
// singletons) are grounded on the teacher's own pkg/engine.New/engine.Option
// pattern.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nightwatch-sec/nightwatch/pkg/config"
	"github.com/nightwatch-sec/nightwatch/pkg/engine/adapters"
	"github.com/nightwatch-sec/nightwatch/pkg/engine/baseline"
	"github.com/nightwatch-sec/nightwatch/pkg/engine/classifier"
	"github.com/nightwatch-sec/nightwatch/pkg/engine/correlator"
	"github.com/nightwatch-sec/nightwatch/pkg/engine/emitter"
	"github.com/nightwatch-sec/nightwatch/pkg/engine/events"
	"github.com/nightwatch-sec/nightwatch/pkg/engine/filecontext"
	"github.com/nightwatch-sec/nightwatch/pkg/engine/reconstore"
	"github.com/nightwatch-sec/nightwatch/pkg/engine/severity"
	"github.com/nightwatch-sec/nightwatch/pkg/nwerrors"
	"github.com/nightwatch-sec/nightwatch/pkg/telemetry"
)

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithLogger overrides the engine's logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithFileContextProvider overrides the file-context backing provider.
// Defaults to a provider that always returns NotFound, since the real
// file-service client is out of scope.
func WithFileContextProvider(p filecontext.Provider) Option {
	return func(e *Engine) { e.fileProvider = p }
}

// WithReconSources registers recon event sources.
func WithReconSources(sources ...adapters.ReconSource) Option {
	return func(e *Engine) {
		for _, s := range sources {
			e.reconSources.Register(s)
		}
	}
}

// WithExfilSources registers exfil event sources.
func WithExfilSources(sources ...adapters.ExfilSource) Option {
	return func(e *Engine) {
		for _, s := range sources {
			e.exfilSources.Register(s)
		}
	}
}

// WithActorOU supplies the directory lookup the Severity Resolver needs for
// its high-risk-OU step adjustment. Defaults to a no-op returning "".
func WithActorOU(f func(actor string) string) Option {
	return func(e *Engine) { e.actorOU = f }
}

// noopFileProvider always reports NotFound, the degrade-on-unavailable
// behavior §7 calls for when no real file-service client is wired.
type noopFileProvider struct{}

func (noopFileProvider) Fetch(ctx context.Context, docID string) (filecontext.FileContext, error) {
	return filecontext.FileContext{DocID: docID, NotFound: true, Sensitivity: filecontext.SensitivityUnknown}, nil
}

// Engine owns every collaborator and runs the full pipeline end to end.
type Engine struct {
	cfg          config.EngineConfig
	logger       *slog.Logger
	reconSources *adapters.ReconRegistry
	exfilSources *adapters.ExfilRegistry
	fileProvider filecontext.Provider
	actorOU      func(actor string) string
	tracer       trace.Tracer

	reconStore *reconstore.Store
	fileCtx    *filecontext.CachingProvider
	baselines  *baseline.Tracker
	severity   *severity.Resolver
	correlator *correlator.Correlator
	emitter    *emitter.Emitter
}

// New builds an Engine from cfg and the given options. It compiles the
// severity rules eagerly so a bad operator-authored rule surfaces as a
// ConfigError before any event is fetched.
func New(cfg config.EngineConfig, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nwerrors.Wrap(nwerrors.KindConfig, "engine.New", err)
	}

	e := &Engine{
		cfg:          cfg,
		logger:       slog.Default(),
		reconSources: adapters.NewReconRegistry(),
		exfilSources: adapters.NewExfilRegistry(),
		fileProvider: noopFileProvider{},
		actorOU:      func(string) string { return "" },
		tracer:       telemetry.Tracer("nightwatch/engine"),
	}
	for _, opt := range opts {
		opt(e)
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, nwerrors.Wrap(nwerrors.KindConfig, "engine.New", err).WithDetails("timezone")
	}

	backend, err := newReconBackend(cfg)
	if err != nil {
		return nil, nwerrors.Wrap(nwerrors.KindConfig, "engine.New", err).WithDetails("recon_state_backend")
	}
	e.reconStore = reconstore.New(backend, time.Duration(cfg.ReconHalfLifeHours*float64(time.Hour)), e.logger)

	fcCfg := filecontext.DefaultConfig()
	fcCfg.SensitiveLabels = cfg.SeverityOverrides.SensitiveLabels
	fcCfg.HighRiskOUs = cfg.SeverityOverrides.HighRiskOUs
	e.fileCtx = filecontext.New(e.fileProvider, fcCfg, e.logger)

	e.baselines = baseline.New()

	var rules []severity.DynamicRule
	if cfg.SeverityOverrides.RulesFile != "" {
		raw, err := config.LoadRules(cfg.SeverityOverrides.RulesFile)
		if err != nil {
			return nil, nwerrors.Wrap(nwerrors.KindConfig, "engine.New", err).WithDetails("severity_overrides.rules_file")
		}
		rules = toDynamicRules(raw)
	}

	sev, err := severity.NewResolver(severity.Config{
		HighRiskOUs:              cfg.SeverityOverrides.HighRiskOUs,
		HighRiskFolders:          cfg.HighRiskFolders,
		SensitiveLabels:          cfg.SeverityOverrides.SensitiveLabels,
		ExcludeActors:            cfg.Suppressions.ExcludeActors,
		SecurityInvestigationOUs: cfg.Suppressions.SecurityInvestigationOUs,
		Rules:                    rules,
	})
	if err != nil {
		return nil, nwerrors.Wrap(nwerrors.KindConfig, "engine.New", err).WithDetails("severity_overrides.rules_file")
	}
	e.severity = sev

	e.correlator = correlator.New(correlator.Config{
		WindowMinutes:      cfg.WindowMinutes,
		ClockSkewTolerance: 5 * time.Minute,
		DelayedThreshold:   cfg.DelayedThreshold,
		ActorOU:            e.actorOU,
		Classifier: classifier.Config{
			AllowedExternalDomains: cfg.Suppressions.AllowedExternalDomains,
			PartnerDomains:         cfg.PartnerDomains,
			Timezone:               loc,
		},
	}, e.reconStore, e.baselines, e.fileCtx, e.severity, e.logger)

	e.emitter = emitter.New(emitter.Config{
		WebhookURL:        cfg.Alerting.WebhookURL,
		AlertOnSeverities: cfg.Alerting.AlertOnSeverities,
	})

	return e, nil
}

// toDynamicRules converts the on-disk rule shape into the Severity
// Resolver's compiled-rule input. Kept as a pure mapping so config stays
// free of any severity-package import.
func toDynamicRules(raw []config.RuleConfig) []severity.DynamicRule {
	rules := make([]severity.DynamicRule, len(raw))
	for i, r := range raw {
		rules[i] = severity.DynamicRule{
			ID:          r.ID,
			Condition:   r.Condition,
			Action:      r.Action,
			Priority:    r.Priority,
			TargetKinds: r.TargetKinds,
		}
	}
	return rules
}

func newReconBackend(cfg config.EngineConfig) (reconstore.Backend, error) {
	switch cfg.ReconStateBackend {
	case "", "memory":
		return reconstore.NewMemoryBackend(), nil
	case "kv":
		opts, err := redis.ParseURL(cfg.ReconStateConnString)
		if err != nil {
			return nil, err
		}
		client := redis.NewClient(opts)
		return reconstore.NewRedisBackend(client, 35*24*time.Hour), nil
	default:
		return nil, fmt.Errorf("unknown recon_state_backend %q", cfg.ReconStateBackend)
	}
}

// Result is everything one Run produces: the rendered findings and, for
// the CLI's exit-code decision, the highest severity seen.
type Result struct {
	Findings        []emitter.Finding
	HighestSeverity string
}

// Run executes one full batch over [start, end]: fetch both streams,
// dedup, correlate/classify/resolve, render, and write the output file.
// Cancellation via ctx propagates into every adapter fetch and the
// correlator's per-actor fan-out, per §5.
func (e *Engine) Run(ctx context.Context, start, end time.Time) (Result, error) {
	runID := uuid.New().String()
	logger := e.logger.With("run_id", runID)

	ctx, span := e.tracer.Start(ctx, "nightwatch.engine.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("nightwatch.run_id", runID),
		attribute.Int64("nightwatch.window_minutes", int64(e.cfg.WindowMinutes)),
		attribute.String("nightwatch.lookback_start", start.Format(time.RFC3339)),
		attribute.String("nightwatch.lookback_end", end.Format(time.RFC3339)),
	)

	logger.Info("engine: run started", "start", start, "end", end)

	result, err := e.run(ctx, logger, start, end)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}
	span.SetAttributes(
		attribute.Int("nightwatch.findings", len(result.Findings)),
		attribute.String("nightwatch.highest_severity", result.HighestSeverity),
	)
	return result, nil
}

// run holds the actual pipeline steps, split out from Run so the tracing
// and error-status bookkeeping around the span doesn't clutter the logic
// it wraps.
func (e *Engine) run(ctx context.Context, logger *slog.Logger, start, end time.Time) (Result, error) {
	recon, err := e.reconSources.FetchAll(ctx, start, end)
	if err != nil {
		return Result{}, err
	}
	exfil, err := e.exfilSources.FetchAll(ctx, start, end)
	if err != nil {
		return Result{}, err
	}

	recon = events.DedupRecon(recon)
	exfil = events.DedupExfil(exfil)

	matches, err := e.correlator.Correlate(ctx, end, recon, exfil)
	if err != nil {
		return Result{}, nwerrors.Wrap(nwerrors.KindEmissionFailure, "engine.Run", err)
	}

	loc, _ := time.LoadLocation(e.cfg.Timezone)
	findings := emitter.FromMatches(matches, loc)

	if err := e.emitter.WriteOutputFile(findings); err != nil {
		if dumpErr := e.emitter.DumpErrorFile(findings); dumpErr != nil {
			logger.Error("failed to dump findings after output write failure", "error", dumpErr)
		}
		return Result{}, nwerrors.Wrap(nwerrors.KindEmissionFailure, "engine.Run", err)
	}
	if err := e.emitter.DispatchWebhook(ctx, findings); err != nil {
		logger.Warn("webhook dispatch failed after retry", "error", err)
		if dumpErr := e.emitter.DumpErrorFile(findings); dumpErr != nil {
			logger.Error("failed to dump findings after webhook failure", "error", dumpErr)
		}
		return Result{}, nwerrors.Wrap(nwerrors.KindEmissionFailure, "engine.Run", err)
	}

	logger.Info("engine: run completed", "findings", len(findings))
	return Result{Findings: findings, HighestSeverity: emitter.HighestSeverity(findings)}, nil
}

// RunLookback is a convenience wrapper computing [now-lookback, now].
func (e *Engine) RunLookback(ctx context.Context, now time.Time, lookback time.Duration) (Result, error) {
	return e.Run(ctx, now.Add(-lookback), now)
}

// SetOutputPath configures where WriteOutputFile writes. Exposed so the CLI
// can bind --output without reaching into engine internals.
func (e *Engine) SetOutputPath(path string) {
	e.emitter = emitter.New(emitter.Config{
		OutputPath:        path,
		WebhookURL:        e.cfg.Alerting.WebhookURL,
		AlertOnSeverities: e.cfg.Alerting.AlertOnSeverities,
	})
}
