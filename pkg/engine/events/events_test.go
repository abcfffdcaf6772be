package events

import (
	"testing"
	"time"
)

func TestReconEventValidate(t *testing.T) {
	base := ReconEvent{
		EventID:   "r1",
		Actor:     "u@x.com",
		Action:    ActionSummarizeFile,
		App:       AppDocs,
		Timestamp: time.Now(),
	}

	if err := base.Validate(); err != nil {
		t.Fatalf("expected valid event, got %v", err)
	}

	missingID := base
	missingID.EventID = ""
	if err := missingID.Validate(); err == nil {
		t.Error("expected error for missing event_id")
	}

	badAction := base
	badAction.Action = "do_something_else"
	if err := badAction.Validate(); err == nil {
		t.Error("expected error for unknown action")
	}
}

func TestReconActionSignalWeightClass(t *testing.T) {
	if !ActionSummarizeFile.IsHighSignal() {
		t.Error("summarize_file should be high signal")
	}
	if !ActionProofread.IsLowSignal() {
		t.Error("proofread should be low signal")
	}
	if ActionSearchWeb.IsHighSignal() || ActionSearchWeb.IsLowSignal() {
		t.Error("search_web is neither high nor low signal")
	}
}

func TestExfilEventValidate(t *testing.T) {
	e := ExfilEvent{
		EventID:   "e1",
		Actor:     "u@x.com",
		EventType: ExfilExport,
		DocID:     "D1",
		Timestamp: time.Now(),
	}
	if err := e.Validate(); err != nil {
		t.Fatalf("expected valid event, got %v", err)
	}

	noDoc := e
	noDoc.DocID = ""
	if err := noDoc.Validate(); err == nil {
		t.Error("expected error for missing doc_id")
	}
}

func TestDestinationDomain(t *testing.T) {
	email := "attacker@evil.example"
	e := ExfilEvent{DestinationACL: &email}
	if got := e.DestinationDomain(); got != "evil.example" {
		t.Errorf("DestinationDomain() = %q, want evil.example", got)
	}

	domain := "partner.com"
	e2 := ExfilEvent{DestinationACL: &domain}
	if got := e2.DestinationDomain(); got != "partner.com" {
		t.Errorf("DestinationDomain() = %q, want partner.com", got)
	}

	e3 := ExfilEvent{}
	if got := e3.DestinationDomain(); got != "" {
		t.Errorf("DestinationDomain() = %q, want empty", got)
	}
}

func TestDedupRecon(t *testing.T) {
	in := []ReconEvent{
		{EventID: "r1", Actor: "a"},
		{EventID: "r1", Actor: "a"},
		{EventID: "r2", Actor: "a"},
	}
	out := DedupRecon(in)
	if len(out) != 2 {
		t.Fatalf("expected 2 deduped events, got %d", len(out))
	}
}

func TestVisibilityIsExternal(t *testing.T) {
	cases := map[Visibility]bool{
		VisibilityPrivate:          false,
		VisibilityDomain:           false,
		VisibilityPeopleWithLink:   true,
		VisibilityPublicOnTheWeb:   true,
		VisibilitySharedExternally: true,
	}
	for v, want := range cases {
		if got := v.IsExternal(); got != want {
			t.Errorf("%s.IsExternal() = %v, want %v", v, got, want)
		}
	}
}

func TestIsHighRiskType_VisibilityRequiresExternal(t *testing.T) {
	external := VisibilityPeopleWithLink
	private := VisibilityPrivate

	if !ExfilChangeVisibility.IsHighRiskType(&external, "", "") {
		t.Error("change_visibility to people_with_link should be high-risk")
	}
	if ExfilChangeVisibility.IsHighRiskType(&private, "", "") {
		t.Error("change_visibility to private should not be high-risk")
	}
	if ExfilChangeVisibility.IsHighRiskType(nil, "", "") {
		t.Error("change_visibility with no visibility detail should not be high-risk")
	}
}

func TestIsHighRiskType_ACLRequiresAddingExternalGrant(t *testing.T) {
	if !ExfilChangeACL.IsHighRiskType(nil, "reader", "none") {
		t.Error("change_acl granting a new reader should be high-risk")
	}
	if !ExfilChangeACL.IsHighRiskType(nil, "writer", "") {
		t.Error("change_acl granting access from no prior grant should be high-risk")
	}
	if ExfilChangeACL.IsHighRiskType(nil, "none", "reader") {
		t.Error("change_acl revoking a grant should not be high-risk")
	}
	if ExfilChangeACL.IsHighRiskType(nil, "", "") {
		t.Error("change_acl with no detail should not be high-risk")
	}
}

func TestIsHighRiskType_ExportAndDownloadAlwaysHighRisk(t *testing.T) {
	if !ExfilExport.IsHighRiskType(nil, "", "") {
		t.Error("export should always be high-risk")
	}
	if !ExfilDownload.IsHighRiskType(nil, "", "") {
		t.Error("download should always be high-risk")
	}
	if ExfilCopy.IsHighRiskType(nil, "", "") {
		t.Error("copy is not in the high-risk type set")
	}
}
