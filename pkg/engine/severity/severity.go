// Package severity implements the Severity Resolver: base severity from
// delta/event-type, sensitivity/OU/folder step adjustments, and
// operator-defined override/suppression rules. The rule layer is grounded
// directly on the teacher's policy.CELEngine: a compiled cel-go program per
// rule, an inverted index by target kind for O(1) candidate lookup, and a
// priority-then-id stable sort over matches.
package severity

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/cel-go/cel"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/nightwatch-sec/nightwatch/pkg/engine/events"
	"github.com/nightwatch-sec/nightwatch/pkg/engine/filecontext"
)

// Severity is one of the three ordered steps the spec pins.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

var stepOrder = map[Severity]int{SeverityLow: 0, SeverityMedium: 1, SeverityHigh: 2}
var stepByIndex = []Severity{SeverityLow, SeverityMedium, SeverityHigh}

func raise(s Severity, steps int) Severity {
	idx := stepOrder[s] + steps
	if idx >= len(stepByIndex) {
		idx = len(stepByIndex) - 1
	}
	return stepByIndex[idx]
}

// Candidate carries everything the base table and adjustments need.
type Candidate struct {
	Actor          string
	ActorOU        string
	DeltaMinutes   *float64 // nil for a delayed match
	ExfilEventType events.ExfilEventType
	DocFolderID    string
	FileContext    filecontext.FileContext

	// Visibility, NewValue, and OldValue carry the triggering exfil event's
	// directional detail, so the base-severity table can tell a
	// change_visibility/change_acl event that actually exposes the file
	// externally from one that merely touches visibility/ACL state (e.g.
	// narrowing it back to private), per §4.6.
	Visibility *events.Visibility
	NewValue   string
	OldValue   string
}

// Config carries the operator lists from §6.
type Config struct {
	HighRiskOUs              []string
	HighRiskFolders          []string
	SensitiveLabels          []string
	ExcludeActors            []string
	SecurityInvestigationOUs []string
	Rules                    []DynamicRule
}

// DynamicRule is an operator-authored CEL override/suppress rule, the
// same shape as the teacher's policy.DynamicRule generalized with a
// "suppress" action alongside "override".
type DynamicRule struct {
	ID          string
	Condition   string
	Action      string // "override_high" or "suppress"
	Priority    int
	TargetKinds []string // exfil event types, or empty/"*" for all
}

// EvaluationContext is the CEL input, mirrored from Candidate.
type EvaluationContext struct {
	Actor       string `cel:"actor"`
	EventType   string `cel:"event_type"`
	Sensitivity string `cel:"sensitivity"`
	ActorOU     string `cel:"actor_ou"`
	FolderID    string `cel:"folder_id"`
}

// Resolution is the resolver's final verdict: either a severity, or
// Dropped == true meaning no finding should be emitted at all.
type Resolution struct {
	Severity Severity
	Dropped  bool
	Reasons  []string
}

// Resolver evaluates base severity, step adjustments, and compiled
// override/suppression rules.
type Resolver struct {
	cfg      Config
	env      *cel.Env
	programs map[string]cel.Program
	rules    map[string]DynamicRule
	index    map[string][]string
	matches  metric.Int64Counter
}

// NewResolver compiles cfg.Rules and returns a ready Resolver.
func NewResolver(cfg Config) (*Resolver, error) {
	env, err := cel.NewEnv(
		cel.Variable("actor", cel.StringType),
		cel.Variable("event_type", cel.StringType),
		cel.Variable("sensitivity", cel.StringType),
		cel.Variable("actor_ou", cel.StringType),
		cel.Variable("folder_id", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("severity: cel env: %w", err)
	}

	meter := otel.Meter("nightwatch/severity")
	matches, err := meter.Int64Counter("severity_rule_matches_total",
		metric.WithDescription("Number of candidates matched by an override or suppression rule"))
	if err != nil {
		slog.Warn("severity: failed to initialize rule match metric", "error", err)
	}

	r := &Resolver{
		cfg:      cfg,
		env:      env,
		programs: make(map[string]cel.Program),
		rules:    make(map[string]DynamicRule),
		index:    make(map[string][]string),
		matches:  matches,
	}

	for _, rule := range cfg.Rules {
		ast, issues := env.Compile(rule.Condition)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("severity: rule %s: %w", rule.ID, issues.Err())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("severity: rule %s program: %w", rule.ID, err)
		}
		r.programs[rule.ID] = prg
		r.rules[rule.ID] = rule

		targets := rule.TargetKinds
		if len(targets) == 0 {
			targets = []string{"*"}
		}
		for _, kind := range targets {
			r.index[kind] = append(r.index[kind], rule.ID)
		}
	}

	return r, nil
}

// Resolve applies the base table, step adjustments, drop rules, and
// compiled overrides, in the order §4.6 specifies.
func (r *Resolver) Resolve(ctx context.Context, c Candidate, shouldSuppress bool) Resolution {
	if toSet(r.cfg.ExcludeActors)[c.Actor] || toSet(r.cfg.SecurityInvestigationOUs)[c.ActorOU] {
		return Resolution{Dropped: true, Reasons: []string{"actor excluded or under investigation"}}
	}

	sev := baseSeverity(c)

	highSensitivity := c.FileContext.Sensitivity == filecontext.SensitivityHigh
	highRiskOU := toSet(r.cfg.HighRiskOUs)[c.ActorOU]
	highRiskFolder := c.DocFolderID != "" && toSet(r.cfg.HighRiskFolders)[c.DocFolderID]

	// §4.6: any one of the three conditions adds one step; two or more
	// holding simultaneously (e.g. a sensitive file owned by an actor in
	// a high-risk OU) adds two.
	conditionsHeld := 0
	for _, held := range []bool{highSensitivity, highRiskOU, highRiskFolder} {
		if held {
			conditionsHeld++
		}
	}
	steps := 0
	switch {
	case conditionsHeld >= 2:
		steps = 2
	case conditionsHeld == 1:
		steps = 1
	}
	sev = raise(sev, steps)

	// Rules are evaluated before the classifier's should_suppress drop so
	// an override_high rule can rescue a candidate that would otherwise
	// be dropped: the spec's drop condition already exempts severity ==
	// high, and an override arriving here counts as already-high.
	matched := r.evaluate(ctx, EvaluationContext{
		Actor:       c.Actor,
		EventType:   string(c.ExfilEventType),
		Sensitivity: string(c.FileContext.Sensitivity),
		ActorOU:     c.ActorOU,
		FolderID:    c.DocFolderID,
	})
	var reasons []string
	var overrideRule, suppressRule *DynamicRule
	for i := range matched {
		rule := matched[i]
		switch rule.Action {
		case "override_high":
			if overrideRule == nil {
				overrideRule = &rule
			}
		case "suppress":
			if suppressRule == nil {
				suppressRule = &rule
			}
		}
	}

	switch {
	case overrideRule != nil:
		sev = SeverityHigh
		reasons = append(reasons, fmt.Sprintf("rule %s overrode severity to high", overrideRule.ID))
	case suppressRule != nil:
		return Resolution{Dropped: true, Reasons: []string{fmt.Sprintf("rule %s suppressed finding", suppressRule.ID)}}
	}

	if shouldSuppress && sev != SeverityHigh {
		return Resolution{Dropped: true, Reasons: []string{"suppressed by intent classifier"}}
	}

	return Resolution{Severity: sev, Reasons: reasons}
}

func baseSeverity(c Candidate) Severity {
	if c.DeltaMinutes == nil {
		if c.ExfilEventType.IsExternalShareOrExport() {
			return SeverityMedium
		}
		return SeverityLow
	}

	delta := *c.DeltaMinutes
	if c.ExfilEventType.IsHighRiskType(c.Visibility, c.NewValue, c.OldValue) {
		switch {
		case delta <= 10:
			return SeverityHigh
		case delta <= 30:
			return SeverityMedium
		}
	}
	return SeverityLow
}

func (r *Resolver) evaluate(ctx context.Context, ec EvaluationContext) []DynamicRule {
	kind := ec.EventType
	candidates := make([]string, 0, len(r.index[kind])+len(r.index["*"]))
	candidates = append(candidates, r.index[kind]...)
	candidates = append(candidates, r.index["*"]...)

	evaluated := make(map[string]bool, len(candidates))
	var out []DynamicRule

	vars := map[string]interface{}{
		"actor":       ec.Actor,
		"event_type":  ec.EventType,
		"sensitivity": ec.Sensitivity,
		"actor_ou":    ec.ActorOU,
		"folder_id":   ec.FolderID,
	}

	for _, id := range candidates {
		if evaluated[id] {
			continue
		}
		evaluated[id] = true

		prg, ok := r.programs[id]
		if !ok {
			continue
		}
		val, _, err := prg.Eval(vars)
		if err != nil {
			slog.Warn("severity: rule evaluation failed", "rule_id", id, "error", err)
			continue
		}
		if match, ok := val.Value().(bool); ok && match {
			rule := r.rules[id]
			out = append(out, rule)
			if r.matches != nil {
				r.matches.Add(ctx, 1, metric.WithAttributes(
					attribute.String("rule_id", id),
					attribute.String("action", rule.Action),
				))
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, i := range items {
		set[i] = true
	}
	return set
}
