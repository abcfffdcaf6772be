// Package events defines the two audit-log record shapes the engine
// correlates: recon (AI-assistant activity) and exfil (file-movement
// activity). Both are tagged record types rather than dynamic maps, with an
// explicit "unknown" variant for values outside the known enum set, so a
// malformed event is caught at the adapter boundary instead of surfacing as
// a nil-map-lookup deep inside the correlator.
package events

import (
	"fmt"
	"time"
)

// ReconAction enumerates the AI-assistant actions an adapter can report.
type ReconAction string

const (
	ActionAskAboutFile       ReconAction = "ask_about_this_file"
	ActionSummarizeFile      ReconAction = "summarize_file"
	ActionAnalyzeDocuments   ReconAction = "analyze_documents"
	ActionCatchMeUp          ReconAction = "catch_me_up"
	ActionReportUnspecified  ReconAction = "report_unspecified_files"
	ActionHelpMeWrite        ReconAction = "help_me_write"
	ActionProofread          ReconAction = "proofread"
	ActionSearchWeb          ReconAction = "search_web"
	ActionUnknown            ReconAction = "unknown"
)

var validReconActions = map[ReconAction]bool{
	ActionAskAboutFile:      true,
	ActionSummarizeFile:     true,
	ActionAnalyzeDocuments:  true,
	ActionCatchMeUp:         true,
	ActionReportUnspecified: true,
	ActionHelpMeWrite:       true,
	ActionProofread:         true,
	ActionSearchWeb:         true,
}

// IsHighSignal reports whether the action carries the high recon weight.
func (a ReconAction) IsHighSignal() bool {
	switch a {
	case ActionAskAboutFile, ActionSummarizeFile, ActionAnalyzeDocuments, ActionCatchMeUp, ActionReportUnspecified:
		return true
	default:
		return false
	}
}

// IsLowSignal reports whether the action carries the low recon weight.
func (a ReconAction) IsLowSignal() bool {
	return a == ActionHelpMeWrite || a == ActionProofread
}

// App enumerates the Workspace application an event originated from.
type App string

const (
	AppDocs  App = "docs"
	AppDrive App = "drive"
	AppSheets App = "sheets"
	AppSlides App = "slides"
	AppGmail App = "gmail"
	AppMeet  App = "meet"
)

// ReconEvent is a single AI-assistant activity record.
type ReconEvent struct {
	EventID   string      `json:"event_id"`
	Actor     string      `json:"actor"`
	Action    ReconAction `json:"action"`
	App       App         `json:"app"`
	DocID     *string     `json:"doc_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Validate checks the required fields and known-enum constraint, the
// adapter-boundary check the spec's Design Notes (§9) call for in place of
// treating events as dynamic dicts.
func (e ReconEvent) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("recon event: missing event_id")
	}
	if e.Actor == "" {
		return fmt.Errorf("recon event %s: missing actor", e.EventID)
	}
	if !validReconActions[e.Action] {
		return fmt.Errorf("recon event %s: unknown action %q", e.EventID, e.Action)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("recon event %s: missing timestamp", e.EventID)
	}
	return nil
}

// ExfilEventType enumerates the file-service operations considered exfil.
type ExfilEventType string

const (
	ExfilChangeVisibility ExfilEventType = "change_visibility"
	ExfilChangeACL        ExfilEventType = "change_acl"
	ExfilDownload         ExfilEventType = "download"
	ExfilExport           ExfilEventType = "export"
	ExfilCopy             ExfilEventType = "copy"
	ExfilAddToFolder      ExfilEventType = "add_to_folder"
)

var validExfilTypes = map[ExfilEventType]bool{
	ExfilChangeVisibility: true,
	ExfilChangeACL:        true,
	ExfilDownload:         true,
	ExfilExport:           true,
	ExfilCopy:             true,
	ExfilAddToFolder:      true,
}

// IsHighRiskType reports whether this exfil type, combined with its
// directional detail, belongs to the set the Severity Resolver treats as
// high-risk when it falls within the window: a change_visibility event that
// actually exposes the file externally (not one that narrows it back to
// private), a change_acl event that adds an external grant (not one that
// revokes one), or any export/download, which are external by construction.
// visibility, newValue, and oldValue come straight off the triggering
// ExfilEvent; a change_acl/change_visibility event with none of that detail
// is treated as not high-risk rather than assumed high-risk.
func (t ExfilEventType) IsHighRiskType(visibility *Visibility, newValue, oldValue string) bool {
	switch t {
	case ExfilChangeVisibility:
		return visibility != nil && visibility.IsExternal()
	case ExfilChangeACL:
		return isACLGrant(newValue, oldValue)
	case ExfilExport, ExfilDownload:
		return true
	default:
		return false
	}
}

// isACLGrant reports whether an ACL change added an external grant rather
// than removing or narrowing one: the new value names an active grant where
// the old value named none.
func isACLGrant(newValue, oldValue string) bool {
	return newValue != "" && newValue != "none" && (oldValue == "" || oldValue == "none")
}

// IsExternalShareOrExport reports whether this exfil type counts as an
// "external share or export" for the delayed-match severity rule.
func (t ExfilEventType) IsExternalShareOrExport() bool {
	switch t {
	case ExfilChangeVisibility, ExfilChangeACL, ExfilExport:
		return true
	default:
		return false
	}
}

// Visibility enumerates the file visibility states an exfil event may carry.
type Visibility string

const (
	VisibilityPrivate          Visibility = "private"
	VisibilityDomain           Visibility = "domain"
	VisibilityPeopleWithLink   Visibility = "people_with_link"
	VisibilityPublicOnTheWeb   Visibility = "public_on_the_web"
	VisibilitySharedExternally Visibility = "shared_externally"
)

// IsExternal reports whether the visibility value reaches outside the
// actor's domain.
func (v Visibility) IsExternal() bool {
	switch v {
	case VisibilityPeopleWithLink, VisibilityPublicOnTheWeb, VisibilitySharedExternally:
		return true
	default:
		return false
	}
}

// ExfilEvent is a single file-service activity record.
type ExfilEvent struct {
	EventID        string         `json:"event_id"`
	Actor          string         `json:"actor"`
	EventType      ExfilEventType `json:"event_type"`
	DocID          string         `json:"doc_id"`
	Visibility     *Visibility    `json:"visibility,omitempty"`
	NewValue       string         `json:"new_value,omitempty"`
	OldValue       string         `json:"old_value,omitempty"`
	DestinationACL *string        `json:"destination_acl,omitempty"` // email or domain the file was shared to
	Timestamp      time.Time      `json:"timestamp"`
}

// Validate checks the required fields and known-enum constraint.
func (e ExfilEvent) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("exfil event: missing event_id")
	}
	if e.Actor == "" {
		return fmt.Errorf("exfil event %s: missing actor", e.EventID)
	}
	if e.DocID == "" {
		return fmt.Errorf("exfil event %s: missing doc_id", e.EventID)
	}
	if !validExfilTypes[e.EventType] {
		return fmt.Errorf("exfil event %s: unknown event_type %q", e.EventID, e.EventType)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("exfil event %s: missing timestamp", e.EventID)
	}
	return nil
}

// DestinationDomain extracts the domain portion of DestinationACL, whether
// it is already a bare domain or an email address.
func (e ExfilEvent) DestinationDomain() string {
	if e.DestinationACL == nil {
		return ""
	}
	v := *e.DestinationACL
	for i := 0; i < len(v); i++ {
		if v[i] == '@' {
			return v[i+1:]
		}
	}
	return v
}
