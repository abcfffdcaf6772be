// Package adapters defines the narrow interfaces the engine uses to pull
// its two input streams from whatever audit-log source a deployment wires
// up, the way the teacher's scanner.Scanner interface stands in for its
// concrete AWS collectors: the actual audit-log client, its credentials,
// and its transport are external collaborators, out of scope here.
//
// JSONLReconSource and JSONLExfilSource are a reference implementation
// reading newline-delimited JSON from disk, enough to run the engine
// end-to-end against a fixture file without a real Workspace audit-log
// client.
package adapters

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/nightwatch-sec/nightwatch/pkg/engine/events"
	"github.com/nightwatch-sec/nightwatch/pkg/engine/swarm"
	"github.com/nightwatch-sec/nightwatch/pkg/nwerrors"
)

// ReconSource fetches recon events within [start, end].
type ReconSource interface {
	Name() string
	FetchRecon(ctx context.Context, start, end time.Time) ([]events.ReconEvent, error)
}

// ExfilSource fetches exfil events within [start, end].
type ExfilSource interface {
	Name() string
	FetchExfil(ctx context.Context, start, end time.Time) ([]events.ExfilEvent, error)
}

// SourceUnavailable wraps a fetch failure into the engine's fatal
// SourceUnavailable error kind, per the adapter-failure contract of §6.
func SourceUnavailable(sourceName string, err error) *nwerrors.Error {
	return nwerrors.Wrap(nwerrors.KindSourceUnavailable, fmt.Sprintf("adapters.Fetch[%s]", sourceName), err)
}

// ReconRegistry fans out across multiple recon sources, merging their
// results. Mirrors the teacher's scanner.Registry shape, generalized from
// "one scanner per AWS resource type" to "one source per audit-log feed".
type ReconRegistry struct {
	sources []ReconSource
}

// NewReconRegistry builds an empty registry.
func NewReconRegistry() *ReconRegistry {
	return &ReconRegistry{}
}

// Register adds a source.
func (r *ReconRegistry) Register(s ReconSource) {
	r.sources = append(r.sources, s)
}

// FetchAll runs every registered source concurrently through an AIMD pool
// sized to the source count (bounded [1,8]), returning the union of their
// events in source-name order for determinism. Any single source failure
// is fatal, per §6: adapter errors are never partial-recovered.
func (r *ReconRegistry) FetchAll(ctx context.Context, start, end time.Time) ([]events.ReconEvent, error) {
	if len(r.sources) == 0 {
		return nil, nil
	}

	sorted := make([]ReconSource, len(r.sources))
	copy(sorted, r.sources)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name() < sorted[j].Name() })

	results := make([][]events.ReconEvent, len(sorted))
	errs := make([]error, len(sorted))

	pool := swarm.NewPool(poolStart(len(sorted)), 1, 8)
	pool.Start(ctx)
	done := make(chan struct{}, len(sorted))
	for i, src := range sorted {
		i, src := i, src
		pool.Submit(func(ctx context.Context) error {
			defer func() { done <- struct{}{} }()
			evs, err := src.FetchRecon(ctx, start, end)
			if err != nil {
				errs[i] = SourceUnavailable(src.Name(), err)
				return errs[i]
			}
			results[i] = evs
			return nil
		})
	}
	for range sorted {
		<-done
	}
	pool.Stop()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	var out []events.ReconEvent
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

// ExfilRegistry is ReconRegistry's exfil-side counterpart.
type ExfilRegistry struct {
	sources []ExfilSource
}

// NewExfilRegistry builds an empty registry.
func NewExfilRegistry() *ExfilRegistry {
	return &ExfilRegistry{}
}

// Register adds a source.
func (r *ExfilRegistry) Register(s ExfilSource) {
	r.sources = append(r.sources, s)
}

// FetchAll is ReconRegistry.FetchAll's exfil-side counterpart.
func (r *ExfilRegistry) FetchAll(ctx context.Context, start, end time.Time) ([]events.ExfilEvent, error) {
	if len(r.sources) == 0 {
		return nil, nil
	}

	sorted := make([]ExfilSource, len(r.sources))
	copy(sorted, r.sources)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name() < sorted[j].Name() })

	results := make([][]events.ExfilEvent, len(sorted))
	errs := make([]error, len(sorted))

	pool := swarm.NewPool(poolStart(len(sorted)), 1, 8)
	pool.Start(ctx)
	done := make(chan struct{}, len(sorted))
	for i, src := range sorted {
		i, src := i, src
		pool.Submit(func(ctx context.Context) error {
			defer func() { done <- struct{}{} }()
			evs, err := src.FetchExfil(ctx, start, end)
			if err != nil {
				errs[i] = SourceUnavailable(src.Name(), err)
				return errs[i]
			}
			results[i] = evs
			return nil
		})
	}
	for range sorted {
		<-done
	}
	pool.Stop()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	var out []events.ExfilEvent
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

func poolStart(n int) int {
	if n > 8 {
		return 8
	}
	if n < 1 {
		return 1
	}
	return n
}

// JSONLReconSource reads ReconEvents from a newline-delimited JSON file.
// A stand-in for the real audit-log client this spec leaves out of scope;
// useful for fixtures and local runs.
type JSONLReconSource struct {
	name string
	path string
}

// NewJSONLReconSource builds a source reading path, reported under name.
func NewJSONLReconSource(name, path string) *JSONLReconSource {
	return &JSONLReconSource{name: name, path: path}
}

func (s *JSONLReconSource) Name() string { return s.name }

// FetchRecon reads every line of the file and filters to [start, end].
// A line that fails to decode is treated as a MalformedEvent: skipped, not
// fatal, matching §7's per-event error policy.
func (s *JSONLReconSource) FetchRecon(ctx context.Context, start, end time.Time) ([]events.ReconEvent, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.path, err)
	}
	defer f.Close()

	var out []events.ReconEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e events.ReconEvent
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		if e.Timestamp.Before(start) || e.Timestamp.After(end) {
			continue
		}
		out = append(out, e)
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("scan %s: %w", s.path, err)
	}
	return out, nil
}

// JSONLExfilSource is JSONLReconSource's exfil-side counterpart.
type JSONLExfilSource struct {
	name string
	path string
}

// NewJSONLExfilSource builds a source reading path, reported under name.
func NewJSONLExfilSource(name, path string) *JSONLExfilSource {
	return &JSONLExfilSource{name: name, path: path}
}

func (s *JSONLExfilSource) Name() string { return s.name }

// FetchExfil reads every line of the file and filters to [start, end].
func (s *JSONLExfilSource) FetchExfil(ctx context.Context, start, end time.Time) ([]events.ExfilEvent, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.path, err)
	}
	defer f.Close()

	var out []events.ExfilEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e events.ExfilEvent
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		if e.Timestamp.Before(start) || e.Timestamp.After(end) {
			continue
		}
		out = append(out, e)
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("scan %s: %w", s.path, err)
	}
	return out, nil
}
