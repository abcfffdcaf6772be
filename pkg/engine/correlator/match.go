package correlator

import (
	"context"
	"fmt"
	"time"

	"github.com/nightwatch-sec/nightwatch/pkg/engine/classifier"
	"github.com/nightwatch-sec/nightwatch/pkg/engine/events"
	"github.com/nightwatch-sec/nightwatch/pkg/engine/severity"
)

// processActor runs §4.4's per-actor algorithm: feed recon into the store
// in order, then walk exfil events in order looking for an immediate
// match, falling back to a delayed match against the cumulative recon
// score, updating the baseline on every processed exfil regardless of
// outcome.
func (c *Correlator) processActor(ctx context.Context, actor string, now time.Time, recon []events.ReconEvent, exfil []events.ExfilEvent) []Match {
	window := time.Duration(c.cfg.WindowMinutes) * time.Minute

	for _, r := range recon {
		c.recon.ObserveRecon(ctx, actor, r.Action, r.Timestamp)
	}

	var out []Match
	for _, e := range exfil {
		var (
			matched      *events.ReconEvent
			deltaMinutes *float64
			reason       string
		)

		if r, ok := immediateMatch(recon, e, window); ok {
			matched = r
			d := e.Timestamp.Sub(r.Timestamp).Minutes()
			deltaMinutes = &d
			reason = fmt.Sprintf("recon action %q on %s followed by exfil within %d minutes", r.Action, string(e.EventType), c.cfg.WindowMinutes)
		}

		reconScore := c.recon.CurrentScore(ctx, actor, e.Timestamp)

		if matched == nil {
			if reconScore < c.cfg.DelayedThreshold {
				// Neither immediate nor delayed: drop, but the baseline
				// still observes the exfil per §4.4 step 3c.
				c.baseline.Observe(actor, e.Timestamp, e.DestinationDomain(), false)
				continue
			}
			reason = "delayed exfil after cumulative recon"
		}

		fc := c.fileCtx.Get(ctx, e.DocID)
		ownFile := fc.Owner == "" || fc.Owner == actor

		// Snapshot the baseline as it stood *before* this event so the
		// classifier's "first-time share with this domain" signal
		// compares against prior history, not the event it is judging;
		// the update below folds e in for subsequent events in this batch.
		baselineSnapshot := c.baseline.Snapshot(actor, e.Timestamp)
		c.baseline.Observe(actor, e.Timestamp, e.DestinationDomain(), ownFile)

		intent := classifier.Classify(classifier.Candidate{
			Exfil:       e,
			Recon:       matched,
			FileContext: fc,
			ReconScore:  reconScore,
			Baseline:    baselineSnapshot,
		}, c.cfg.Classifier)

		res := c.severity.Resolve(ctx, severity.Candidate{
			Actor:          actor,
			ActorOU:        c.cfg.ActorOU(actor),
			DeltaMinutes:   deltaMinutes,
			ExfilEventType: e.EventType,
			DocFolderID:    fc.ParentFolderID,
			FileContext:    fc,
			Visibility:     e.Visibility,
			NewValue:       e.NewValue,
			OldValue:       e.OldValue,
		}, intent.ShouldSuppress)

		if res.Dropped {
			continue
		}

		out = append(out, Match{
			Actor:           actor,
			Exfil:           e,
			Recon:           matched,
			DeltaMinutes:    deltaMinutes,
			ReconScore:      reconScore,
			FileContext:     fc,
			Baseline:        baselineSnapshot,
			Intent:          intent,
			Severity:        res.Severity,
			Reason:          reason,
			SeverityReasons: res.Reasons,
		})
	}
	return out
}

// immediateMatch implements §4.4.3.i: the latest recon event within the
// window on the same actor, preferring same-doc matches over file-agnostic
// ones, tie-broken by recency.
func immediateMatch(recon []events.ReconEvent, e events.ExfilEvent, window time.Duration) (*events.ReconEvent, bool) {
	var best *events.ReconEvent
	bestSameDoc := false

	for i := range recon {
		r := &recon[i]
		delta := e.Timestamp.Sub(r.Timestamp)
		if delta < 0 || delta > window {
			continue
		}

		sameDoc := r.DocID != nil && *r.DocID == e.DocID
		fileAgnostic := r.DocID == nil
		if !sameDoc && !fileAgnostic {
			continue
		}

		switch {
		case best == nil:
			best, bestSameDoc = r, sameDoc
		case sameDoc && !bestSameDoc:
			best, bestSameDoc = r, sameDoc
		case sameDoc == bestSameDoc && r.Timestamp.After(best.Timestamp):
			best = r
		}
	}

	if best == nil {
		return nil, false
	}
	return best, true
}
