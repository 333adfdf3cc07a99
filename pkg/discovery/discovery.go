package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/matzehuels/kmpindex/pkg/model"
)

// DefaultBatchSize is the number of coordinates deduplicated and enqueued
// together.
const DefaultBatchSize = 100

// Discoverer finds artifact coordinates in one source.
//
// Discover returns immediately. Coordinates are produced on the returned
// channel, which the discoverer closes when it is done or ctx is cancelled.
// Errors that do not end the run are sent on errs; the caller keeps errs
// drained until every discoverer's channel is closed.
type Discoverer interface {
	Name() string
	Discover(ctx context.Context, errs chan<- error) <-chan model.ArtifactCoordinate
}

// Committer is implemented by discoverers that persist progress, such as a
// watermark or index snapshots. Commit is called once per run, after the
// discoverer's channel was fully drained and every batch it produced was
// persisted. It is not called when the run failed.
type Committer interface {
	Commit(ctx context.Context) error
}

// Factory builds a Discoverer.
type Factory func() (Discoverer, error)

// Registry maps discoverer names to factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds f under name, replacing any earlier factory.
func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Build creates the named discoverers. An empty names list builds every
// registered discoverer.
func (r *Registry) Build(names []string) ([]Discoverer, error) {
	if len(names) == 0 {
		names = r.Names()
	}
	out := make([]Discoverer, 0, len(names))
	for _, n := range names {
		f, ok := r.factories[n]
		if !ok {
			return nil, fmt.Errorf("unknown discoverer %q (available: %s)", n, strings.Join(r.Names(), ", "))
		}
		d, err := f()
		if err != nil {
			return nil, fmt.Errorf("discoverer %s: %w", n, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// Stats counts what one discoverer produced in a run.
type Stats struct {
	Discovered int    `json:"discovered"`
	Enqueued   int    `json:"enqueued"`
	Known      int    `json:"known"`
	Removed    int    `json:"removed"`
	Errors     int    `json:"errors"`
	Failed     bool   `json:"failed"`
	Committed  bool   `json:"committed"`
	Err        string `json:"error,omitempty"`
}

// Report summarizes a coordinator run.
type Report struct {
	RunID       string           `json:"run_id"`
	Discoverers map[string]Stats `json:"discoverers"`
}

// Totals sums the per-discoverer stats.
func (r *Report) Totals() Stats {
	var t Stats
	for _, s := range r.Discoverers {
		t.Discovered += s.Discovered
		t.Enqueued += s.Enqueued
		t.Known += s.Known
		t.Removed += s.Removed
		t.Errors += s.Errors
	}
	return t
}

// Failed returns the names of discoverers whose run failed, sorted.
func (r *Report) Failed() []string {
	var out []string
	for n, s := range r.Discoverers {
		if s.Failed {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// sourceError tags an error with the discoverer that reported it.
type sourceError struct {
	source string
	err    error
}

func (e *sourceError) Error() string { return e.source + ": " + e.err.Error() }
func (e *sourceError) Unwrap() error { return e.err }

// report sends err on errs unless ctx is done first.
func report(ctx context.Context, errs chan<- error, source string, err error) {
	select {
	case errs <- &sourceError{source: source, err: err}:
	case <-ctx.Done():
	}
}

// emit sends c on out and reports false if ctx ended first.
func emit(ctx context.Context, out chan<- model.ArtifactCoordinate, c model.ArtifactCoordinate) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
