package events

// DedupKey identifies an event regardless of which stream it arrived on,
// so adapter retries that resend the same event_id under both recon and
// exfil kinds do not collide.
type DedupKey struct {
	EventID string
	Kind    string
}

const (
	KindRecon = "recon"
	KindExfil = "exfil"
)

// DedupRecon drops duplicate event_ids, keeping the first occurrence.
func DedupRecon(in []ReconEvent) []ReconEvent {
	seen := make(map[DedupKey]bool, len(in))
	out := make([]ReconEvent, 0, len(in))
	for _, e := range in {
		k := DedupKey{EventID: e.EventID, Kind: KindRecon}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, e)
	}
	return out
}

// DedupExfil drops duplicate event_ids, keeping the first occurrence.
func DedupExfil(in []ExfilEvent) []ExfilEvent {
	seen := make(map[DedupKey]bool, len(in))
	out := make([]ExfilEvent, 0, len(in))
	for _, e := range in {
		k := DedupKey{EventID: e.EventID, Kind: KindExfil}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, e)
	}
	return out
}
