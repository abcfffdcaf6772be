package adapters

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nightwatch-sec/nightwatch/pkg/engine/events"
)

func writeLines(t *testing.T, lines ...string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fixture.jsonl")
	var content string
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestJSONLReconSource_FiltersByWindowAndSkipsMalformed(t *testing.T) {
	path := writeLines(t,
		`{"event_id":"r1","actor":"a@x.com","action":"summarize_file","app":"docs","timestamp":"2025-01-15T14:00:00Z"}`,
		`not json`,
		`{"event_id":"r2","actor":"a@x.com","action":"proofread","app":"docs","timestamp":"2025-01-10T00:00:00Z"}`,
	)
	src := NewJSONLReconSource("fixture", path)
	require.Equal(t, "fixture", src.Name())

	start := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 1, 16, 0, 0, 0, 0, time.UTC)
	evs, err := src.FetchRecon(context.Background(), start, end)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	require.Equal(t, "r1", evs[0].EventID)
}

func TestJSONLExfilSource_FiltersByWindow(t *testing.T) {
	path := writeLines(t,
		`{"event_id":"e1","actor":"a@x.com","event_type":"download","doc_id":"D1","timestamp":"2025-01-15T14:30:00Z"}`,
		`{"event_id":"e2","actor":"a@x.com","event_type":"download","doc_id":"D1","timestamp":"2024-06-01T00:00:00Z"}`,
	)
	src := NewJSONLExfilSource("fixture", path)

	start := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 1, 16, 0, 0, 0, 0, time.UTC)
	evs, err := src.FetchExfil(context.Background(), start, end)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	require.Equal(t, "e1", evs[0].EventID)
}

func TestJSONLReconSource_MissingFileErrors(t *testing.T) {
	src := NewJSONLReconSource("fixture", "/nonexistent/path.jsonl")
	_, err := src.FetchRecon(context.Background(), time.Time{}, time.Time{})
	require.Error(t, err)
}

type fakeReconSource struct {
	name string
	evs  []events.ReconEvent
	err  error
}

func (f fakeReconSource) Name() string { return f.name }
func (f fakeReconSource) FetchRecon(ctx context.Context, start, end time.Time) ([]events.ReconEvent, error) {
	return f.evs, f.err
}

func TestReconRegistry_MergesInNameOrder(t *testing.T) {
	reg := NewReconRegistry()
	reg.Register(fakeReconSource{name: "zeta", evs: []events.ReconEvent{{EventID: "z1"}}})
	reg.Register(fakeReconSource{name: "alpha", evs: []events.ReconEvent{{EventID: "a1"}}})

	evs, err := reg.FetchAll(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, evs, 2)
	require.Equal(t, "a1", evs[0].EventID)
	require.Equal(t, "z1", evs[1].EventID)
}

func TestReconRegistry_SourceFailureIsFatal(t *testing.T) {
	reg := NewReconRegistry()
	reg.Register(fakeReconSource{name: "broken", err: errors.New("quota exceeded")})

	_, err := reg.FetchAll(context.Background(), time.Time{}, time.Time{})
	require.Error(t, err)
}

func TestReconRegistry_EmptyReturnsNil(t *testing.T) {
	reg := NewReconRegistry()
	evs, err := reg.FetchAll(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Nil(t, evs)
}

type fakeExfilSource struct {
	name string
	evs  []events.ExfilEvent
	err  error
}

func (f fakeExfilSource) Name() string { return f.name }
func (f fakeExfilSource) FetchExfil(ctx context.Context, start, end time.Time) ([]events.ExfilEvent, error) {
	return f.evs, f.err
}

func TestExfilRegistry_MergesInNameOrder(t *testing.T) {
	reg := NewExfilRegistry()
	reg.Register(fakeExfilSource{name: "zeta", evs: []events.ExfilEvent{{EventID: "z1"}}})
	reg.Register(fakeExfilSource{name: "alpha", evs: []events.ExfilEvent{{EventID: "a1"}}})

	evs, err := reg.FetchAll(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, evs, 2)
	require.Equal(t, "a1", evs[0].EventID)
	require.Equal(t, "z1", evs[1].EventID)
}

func TestExfilRegistry_SourceFailureIsFatal(t *testing.T) {
	reg := NewExfilRegistry()
	reg.Register(fakeExfilSource{name: "broken", err: errors.New("auth expired")})

	_, err := reg.FetchAll(context.Background(), time.Time{}, time.Time{})
	require.Error(t, err)
}
