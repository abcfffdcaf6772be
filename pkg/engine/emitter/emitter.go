// Package emitter implements the Finding Emitter: it turns a correlator
// Match into the stable JSON record of §6 and dispatches it to the
// configured sinks. The explicit, ordered struct (rather than a map) for
// stable key order is grounded on the teacher's report.ExportItem; the
// webhook sink is the teacher's internal/notifier SlackClient generalized
// from Slack Block Kit payloads to the plain finding-array body this spec
// calls for.
package emitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/nightwatch-sec/nightwatch/pkg/engine/correlator"
	"github.com/nightwatch-sec/nightwatch/pkg/engine/severity"
)

// EventIDs is the nested recon/exfil id pair from §6's output schema.
type EventIDs struct {
	Recon *string `json:"recon"`
	Exfil string  `json:"exfil"`
}

// FileContextSummary is the nested file_context object.
type FileContextSummary struct {
	Sensitivity            string   `json:"sensitivity"`
	Labels                 []string `json:"labels"`
	Owner                  string   `json:"owner"`
	SharedExternallyBefore bool     `json:"shared_externally_before"`
}

// IntentAnalysis is the nested intent_analysis object.
type IntentAnalysis struct {
	Intent            string   `json:"intent"`
	Confidence        float64  `json:"confidence"`
	Reasons           []string `json:"reasons"`
	ShouldSuppress    bool     `json:"should_suppress"`
	DestinationDomain *string  `json:"destination_domain"`
}

// Finding is the engine's output record. Field order here is the JSON key
// order on the wire; it is an explicit struct rather than a map precisely
// so that order is fixed regardless of map iteration.
type Finding struct {
	Severity       string             `json:"severity"`
	Actor          string             `json:"actor"`
	ExfilEvent     string             `json:"exfil_event"`
	ExfilTime      string             `json:"exfil_time"`
	DocID          string             `json:"doc_id"`
	DocTitle       string             `json:"doc_title"`
	ReconAction    *string            `json:"recon_action"`
	ReconTime      *string            `json:"recon_time"`
	DeltaMinutes   *float64           `json:"delta_minutes"`
	Visibility     *string            `json:"visibility"`
	Reason         string             `json:"reason"`
	EventIDs       EventIDs           `json:"event_ids"`
	ReconScore     float64            `json:"recon_score"`
	FileContext    FileContextSummary `json:"file_context"`
	IntentAnalysis IntentAnalysis     `json:"intent_analysis"`
}

// truncate2 truncates (not rounds) to 2 decimal places, per §4.7.
func truncate2(v float64) float64 {
	return math.Trunc(v*100) / 100
}

// FromMatch renders a correlator.Match into the wire Finding, rendering
// timestamps with the offset of loc.
func FromMatch(m correlator.Match, loc *time.Location) Finding {
	if loc == nil {
		loc = time.UTC
	}

	var reconAction *string
	var reconTime *string
	var reconEventID *string
	if m.Recon != nil {
		a := string(m.Recon.Action)
		reconAction = &a
		rt := m.Recon.Timestamp.In(loc).Format(time.RFC3339)
		reconTime = &rt
		reconEventID = &m.Recon.EventID
	}

	var deltaMinutes *float64
	if m.DeltaMinutes != nil {
		d := truncate2(*m.DeltaMinutes)
		deltaMinutes = &d
	}

	var visibility *string
	if m.Exfil.Visibility != nil {
		v := string(*m.Exfil.Visibility)
		visibility = &v
	}

	return Finding{
		Severity:     string(m.Severity),
		Actor:        m.Actor,
		ExfilEvent:   string(m.Exfil.EventType),
		ExfilTime:    m.Exfil.Timestamp.In(loc).Format(time.RFC3339),
		DocID:        m.Exfil.DocID,
		DocTitle:     m.FileContext.Title,
		ReconAction:  reconAction,
		ReconTime:    reconTime,
		DeltaMinutes: deltaMinutes,
		Visibility:   visibility,
		Reason:       m.Reason,
		EventIDs: EventIDs{
			Recon: reconEventID,
			Exfil: m.Exfil.EventID,
		},
		ReconScore: truncate2(m.ReconScore),
		FileContext: FileContextSummary{
			Sensitivity:            string(m.FileContext.Sensitivity),
			Labels:                 m.FileContext.Labels,
			Owner:                  m.FileContext.Owner,
			SharedExternallyBefore: m.FileContext.SharedExternallyBefore,
		},
		IntentAnalysis: IntentAnalysis{
			Intent:            string(m.Intent.Intent),
			Confidence:        m.Intent.Confidence,
			Reasons:           m.Intent.Reasons,
			ShouldSuppress:    m.Intent.ShouldSuppress,
			DestinationDomain: m.Intent.DestinationDomain,
		},
	}
}

// FromMatches renders every match, in order, to Findings.
func FromMatches(matches []correlator.Match, loc *time.Location) []Finding {
	out := make([]Finding, 0, len(matches))
	for _, m := range matches {
		out = append(out, FromMatch(m, loc))
	}
	return out
}

// Config controls the output and alerting sinks, per §6.
type Config struct {
	OutputPath        string
	WebhookURL        string
	AlertOnSeverities []string
	HTTPClient        *http.Client
}

// Emitter writes findings to the configured sinks.
type Emitter struct {
	cfg Config
}

// New builds an Emitter.
func New(cfg Config) *Emitter {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Emitter{cfg: cfg}
}

// WriteOutputFile always writes findings (possibly an empty array) to
// cfg.OutputPath, per §7's "the process always writes a findings file"
// guarantee. A write failure is retried once before giving up, per §7's
// EmissionFailure policy.
func (e *Emitter) WriteOutputFile(findings []Finding) error {
	if e.cfg.OutputPath == "" {
		return nil
	}
	if findings == nil {
		findings = []Finding{}
	}

	data, err := json.MarshalIndent(findings, "", "  ")
	if err != nil {
		return fmt.Errorf("emitter: marshal findings: %w", err)
	}

	writeErr := os.WriteFile(e.cfg.OutputPath, data, 0644)
	if writeErr != nil {
		writeErr = os.WriteFile(e.cfg.OutputPath, data, 0644)
	}
	if writeErr != nil {
		return fmt.Errorf("emitter: write %s: %w", e.cfg.OutputPath, writeErr)
	}
	return nil
}

// DumpErrorFile writes findings to a sibling "<output>.error.json" file,
// the §7 EmissionFailure fallback for when the primary output write or the
// webhook dispatch fails even after its retry. If cfg.OutputPath is unset,
// it falls back to "nightwatch-findings.error.json" in the working
// directory so a finding set is never silently lost.
func (e *Emitter) DumpErrorFile(findings []Finding) error {
	path := e.cfg.OutputPath
	if path == "" {
		path = "nightwatch-findings"
	}
	path += ".error.json"

	if findings == nil {
		findings = []Finding{}
	}
	data, err := json.MarshalIndent(findings, "", "  ")
	if err != nil {
		return fmt.Errorf("emitter: marshal findings for error dump: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("emitter: write error dump %s: %w", path, err)
	}
	return nil
}

// DispatchWebhook posts findings whose severity is in cfg.AlertOnSeverities
// to cfg.WebhookURL as a plain JSON array, mirroring the teacher's
// SlackClient.send but without a Block Kit payload shape since this sink
// is a generic alerting webhook rather than a Slack-specific one. A
// delivery failure is retried once, per §7's EmissionFailure policy.
func (e *Emitter) DispatchWebhook(ctx context.Context, findings []Finding) error {
	if e.cfg.WebhookURL == "" {
		return nil
	}

	filtered := e.filterForAlerting(findings)
	if len(filtered) == 0 {
		return nil
	}

	body, err := json.Marshal(filtered)
	if err != nil {
		return fmt.Errorf("emitter: marshal webhook payload: %w", err)
	}

	postErr := e.postWebhook(ctx, body)
	if postErr != nil {
		postErr = e.postWebhook(ctx, body)
	}
	return postErr
}

func (e *Emitter) postWebhook(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("emitter: build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("emitter: webhook post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("emitter: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (e *Emitter) filterForAlerting(findings []Finding) []Finding {
	if len(e.cfg.AlertOnSeverities) == 0 {
		return findings
	}
	allowed := make(map[string]bool, len(e.cfg.AlertOnSeverities))
	for _, s := range e.cfg.AlertOnSeverities {
		allowed[s] = true
	}

	var out []Finding
	for _, f := range findings {
		if allowed[f.Severity] {
			out = append(out, f)
		}
	}
	return out
}

// HighestSeverity returns the highest severity step present in findings,
// used by the CLI to choose an exit code. Returns "" if findings is empty.
func HighestSeverity(findings []Finding) string {
	var highest severity.Severity
	found := false
	for _, f := range findings {
		s := severity.Severity(f.Severity)
		if !found || rank(s) > rank(highest) {
			highest = s
			found = true
		}
	}
	if !found {
		return ""
	}
	return string(highest)
}

func rank(s severity.Severity) int {
	switch s {
	case severity.SeverityHigh:
		return 2
	case severity.SeverityMedium:
		return 1
	default:
		return 0
	}
}
