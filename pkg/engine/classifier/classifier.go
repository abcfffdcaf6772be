// Package classifier implements the Intent Classifier: a fixed, additive
// signal table over a candidate correlation, producing a verdict the
// Severity Resolver consumes. Unlike the Severity Resolver's
// operator-configurable rules, §4.5 pins this table as the full contract,
// so it is a plain deterministic function rather than a rule-engine
// evaluation — there is nothing here for an operator to redefine.
package classifier

import (
	"fmt"
	"time"

	"github.com/nightwatch-sec/nightwatch/pkg/engine/baseline"
	"github.com/nightwatch-sec/nightwatch/pkg/engine/events"
	"github.com/nightwatch-sec/nightwatch/pkg/engine/filecontext"
)

// Intent is the classifier's verdict.
type Intent string

const (
	IntentMalicious  Intent = "malicious"
	IntentSuspicious Intent = "suspicious"
	IntentBenign     Intent = "benign"
)

const (
	initialScore = 0.5

	maliciousThreshold  = 0.7
	suspiciousThreshold = 0.4

	routineShareFrequency = 3.0
	highReconScore        = 10.0
)

// Candidate is the correlator's output fed into the classifier.
type Candidate struct {
	Exfil       events.ExfilEvent
	Recon       *events.ReconEvent
	FileContext filecontext.FileContext
	ReconScore  float64
	Baseline    baseline.UserBaseline
}

// Config carries the operator-defined domain lists the signal table
// compares destinations against.
type Config struct {
	AllowedExternalDomains []string
	PartnerDomains         []string
	Timezone               *time.Location
}

// Result is the classifier's verdict for one candidate.
type Result struct {
	Intent            Intent
	Confidence        float64
	Reasons           []string
	ShouldSuppress    bool
	DestinationDomain *string
}

// Classify applies §4.5's additive signal table and returns the verdict.
func Classify(c Candidate, cfg Config) Result {
	score := initialScore
	var reasons []string

	domain := c.Exfil.DestinationDomain()
	allowedSet := toSet(cfg.AllowedExternalDomains)
	partnerSet := toSet(cfg.PartnerDomains)

	isAllowed := domain != "" && allowedSet[domain]
	isPartner := domain != "" && partnerSet[domain]
	// Under cold start (too little history) every destination counts as unknown.
	seenDomain := !c.Baseline.InsufficientHistory && c.Baseline.HasSeenDomain(domain)

	switch {
	case isAllowed:
		score -= 0.35
		reasons = append(reasons, "trusted partner domain")
	case isPartner:
		score -= 0.15
	case domain != "" && !seenDomain:
		score += 0.20
		reasons = append(reasons, fmt.Sprintf("first-time share with %s", domain))
	}

	if c.FileContext.Owner != "" && c.FileContext.Owner != c.Exfil.Actor {
		score += 0.10
		reasons = append(reasons, "sharing someone else's file")
	}

	loc := cfg.Timezone
	if loc == nil {
		loc = time.UTC
	}
	if isOffHours(c.Exfil.Timestamp.In(loc)) {
		score += 0.10
		reasons = append(reasons, "off-hours activity")
	}

	if c.ReconScore >= highReconScore {
		score += 0.15
		reasons = append(reasons, "high cumulative recon")
	}

	if c.FileContext.Sensitivity == filecontext.SensitivityHigh {
		score += 0.15
		reasons = append(reasons, "sensitive file")
	}

	if c.FileContext.SharedExternallyBefore && domain != "" && seenDomain {
		score -= 0.10
		reasons = append(reasons, "previously shared with this destination")
	}

	isRoutine := !c.Baseline.InsufficientHistory && c.Baseline.ExternalShareFrequency() > routineShareFrequency
	if isRoutine {
		score -= 0.10
		reasons = append(reasons, "routine sharer")
	}

	score = clamp01(score)

	var intent Intent
	switch {
	case score >= maliciousThreshold:
		intent = IntentMalicious
	case score >= suspiciousThreshold:
		intent = IntentSuspicious
	default:
		intent = IntentBenign
	}

	confidence := abs(score-0.5) * 2

	suppress := intent == IntentBenign && (isAllowed || isRoutine)

	var destPtr *string
	if domain != "" {
		d := domain
		destPtr = &d
	}

	return Result{
		Intent:            intent,
		Confidence:        confidence,
		Reasons:           reasons,
		ShouldSuppress:    suppress,
		DestinationDomain: destPtr,
	}
}

func isOffHours(t time.Time) bool {
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return true
	}
	hour := t.Hour()
	return hour < 7 || hour >= 19
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, i := range items {
		set[i] = true
	}
	return set
}
