package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nightwatch-sec/nightwatch/pkg/config"
	"github.com/nightwatch-sec/nightwatch/pkg/engine/adapters"
	"github.com/nightwatch-sec/nightwatch/pkg/engine/events"
	"github.com/nightwatch-sec/nightwatch/pkg/engine/filecontext"
)

type memReconSource struct {
	name string
	evs  []events.ReconEvent
}

func (m memReconSource) Name() string { return m.name }
func (m memReconSource) FetchRecon(ctx context.Context, start, end time.Time) ([]events.ReconEvent, error) {
	return m.evs, nil
}

type memExfilSource struct {
	name string
	evs  []events.ExfilEvent
}

func (m memExfilSource) Name() string { return m.name }
func (m memExfilSource) FetchExfil(ctx context.Context, start, end time.Time) ([]events.ExfilEvent, error) {
	return m.evs, nil
}

type stubFileProvider struct {
	byDoc map[string]filecontext.FileContext
}

func (s stubFileProvider) Fetch(ctx context.Context, docID string) (filecontext.FileContext, error) {
	if fc, ok := s.byDoc[docID]; ok {
		return fc, nil
	}
	return filecontext.FileContext{DocID: docID, NotFound: true, Sensitivity: filecontext.SensitivityUnknown}, nil
}

func doc(s string) *string { return &s }

func parseTS(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}

func TestEngine_New_RejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultEngineConfig()
	cfg.WindowMinutes = 0
	_, err := New(cfg)
	require.Error(t, err)
}

func TestEngine_New_RejectsBadTimezone(t *testing.T) {
	cfg := config.DefaultEngineConfig()
	cfg.Timezone = "Not/AZone"
	_, err := New(cfg)
	require.Error(t, err)
}

func TestEngine_Run_EndToEndHighImmediate(t *testing.T) {
	cfg := config.DefaultEngineConfig()
	recon := memReconSource{name: "fixture", evs: []events.ReconEvent{{
		EventID: "r1", Actor: "u@x.com", Action: events.ActionSummarizeFile, App: events.AppDocs,
		DocID: doc("D1"), Timestamp: parseTS(t, "2025-01-15T14:18:12Z"),
	}}}
	visibility := events.VisibilityPeopleWithLink
	exfil := memExfilSource{name: "fixture", evs: []events.ExfilEvent{{
		EventID: "e1", Actor: "u@x.com", EventType: events.ExfilChangeVisibility, DocID: "D1",
		Visibility: &visibility, Timestamp: parseTS(t, "2025-01-15T14:23:45Z"),
	}}}
	fileProvider := stubFileProvider{byDoc: map[string]filecontext.FileContext{
		"D1": {DocID: "D1", Owner: "u@x.com", Sensitivity: filecontext.SensitivityLow},
	}}

	eng, err := New(cfg,
		WithReconSources(recon),
		WithExfilSources(exfil),
		WithFileContextProvider(fileProvider),
	)
	require.NoError(t, err)

	dir := t.TempDir()
	eng.SetOutputPath(filepath.Join(dir, "findings.json"))

	now := parseTS(t, "2025-01-15T15:00:00Z")
	result, err := eng.Run(context.Background(), now.Add(-time.Hour), now)
	require.NoError(t, err)
	require.Len(t, result.Findings, 1)
	require.Equal(t, "high", result.Findings[0].Severity)
	require.Equal(t, "high", result.HighestSeverity)

	data, err := os.ReadFile(filepath.Join(dir, "findings.json"))
	require.NoError(t, err)
	require.Contains(t, string(data), `"severity": "high"`)
}

func TestEngine_Run_NoMatchesWritesEmptyFile(t *testing.T) {
	cfg := config.DefaultEngineConfig()
	eng, err := New(cfg)
	require.NoError(t, err)

	dir := t.TempDir()
	eng.SetOutputPath(filepath.Join(dir, "findings.json"))

	now := parseTS(t, "2025-01-15T15:00:00Z")
	result, err := eng.Run(context.Background(), now.Add(-time.Hour), now)
	require.NoError(t, err)
	require.Empty(t, result.Findings)
	require.Equal(t, "", result.HighestSeverity)

	data, err := os.ReadFile(filepath.Join(dir, "findings.json"))
	require.NoError(t, err)
	require.Equal(t, "[]", string(data))
}

func TestEngine_Run_SourceFailureAborts(t *testing.T) {
	cfg := config.DefaultEngineConfig()
	eng, err := New(cfg, WithReconSources(failingReconSource{}))
	require.NoError(t, err)

	now := parseTS(t, "2025-01-15T15:00:00Z")
	_, err = eng.Run(context.Background(), now.Add(-time.Hour), now)
	require.Error(t, err)
}

type failingReconSource struct{}

func (failingReconSource) Name() string { return "broken" }
func (failingReconSource) FetchRecon(ctx context.Context, start, end time.Time) ([]events.ReconEvent, error) {
	return nil, assertAdapterErr
}

var assertAdapterErr = adapters.SourceUnavailable("broken", context.DeadlineExceeded)

func TestEngine_Run_RulesFileSuppressesFinding(t *testing.T) {
	dir := t.TempDir()
	rulesPath := filepath.Join(dir, "rules.yaml")
	rulesDoc := `
rules:
  - id: suppress-visibility-changes
    condition: "event_type == 'change_visibility'"
    action: suppress
    priority: 1
`
	require.NoError(t, os.WriteFile(rulesPath, []byte(rulesDoc), 0644))

	cfg := config.DefaultEngineConfig()
	cfg.SeverityOverrides.RulesFile = rulesPath

	recon := memReconSource{name: "fixture", evs: []events.ReconEvent{{
		EventID: "r1", Actor: "u@x.com", Action: events.ActionSummarizeFile, App: events.AppDocs,
		DocID: doc("D1"), Timestamp: parseTS(t, "2025-01-15T14:18:12Z"),
	}}}
	visibility := events.VisibilityPeopleWithLink
	exfil := memExfilSource{name: "fixture", evs: []events.ExfilEvent{{
		EventID: "e1", Actor: "u@x.com", EventType: events.ExfilChangeVisibility, DocID: "D1",
		Visibility: &visibility, Timestamp: parseTS(t, "2025-01-15T14:23:45Z"),
	}}}
	fileProvider := stubFileProvider{byDoc: map[string]filecontext.FileContext{
		"D1": {DocID: "D1", Owner: "u@x.com", Sensitivity: filecontext.SensitivityLow},
	}}

	eng, err := New(cfg,
		WithReconSources(recon),
		WithExfilSources(exfil),
		WithFileContextProvider(fileProvider),
	)
	require.NoError(t, err)
	eng.SetOutputPath(filepath.Join(dir, "findings.json"))

	now := parseTS(t, "2025-01-15T15:00:00Z")
	result, err := eng.Run(context.Background(), now.Add(-time.Hour), now)
	require.NoError(t, err)
	require.Empty(t, result.Findings, "the rules file's suppress rule should have dropped the only candidate")
}

func TestEngine_New_RejectsMissingRulesFile(t *testing.T) {
	cfg := config.DefaultEngineConfig()
	cfg.SeverityOverrides.RulesFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := New(cfg)
	require.Error(t, err)
}

func TestEngine_RunLookback_ComputesWindow(t *testing.T) {
	cfg := config.DefaultEngineConfig()
	eng, err := New(cfg)
	require.NoError(t, err)

	dir := t.TempDir()
	eng.SetOutputPath(filepath.Join(dir, "findings.json"))

	now := parseTS(t, "2025-01-15T15:00:00Z")
	_, err = eng.RunLookback(context.Background(), now, 24*time.Hour)
	require.NoError(t, err)
}
