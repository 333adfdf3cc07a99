package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/kmpindex/pkg/model"
	"github.com/matzehuels/kmpindex/pkg/observability"
)

// Queue is the part of the indexing queue the coordinator writes to.
type Queue interface {
	KnownVersions(ctx context.Context) (model.KnownVersions, error)
	Enqueue(ctx context.Context, coords []model.ArtifactCoordinate, reindex bool) (int, error)
	RemoveDuplicates(ctx context.Context) (int, error)
}

// Coordinator runs discoverers and queues what they find.
type Coordinator struct {
	queue       Queue
	discoverers []Discoverer
	batchSize   int
	logger      *log.Logger
}

// NewCoordinator creates a Coordinator. A nil logger means log.Default().
func NewCoordinator(q Queue, discoverers []Discoverer, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.Default()
	}
	return &Coordinator{
		queue:       q,
		discoverers: discoverers,
		batchSize:   DefaultBatchSize,
		logger:      logger.With("component", "discovery"),
	}
}

// SetBatchSize sets how many coordinates are enqueued together.
func (c *Coordinator) SetBatchSize(n int) {
	if n > 0 {
		c.batchSize = n
	}
}

// knownSet is the run's snapshot of indexed and queued versions. It grows
// as batches are enqueued so that discoverers overlapping in one run do not
// enqueue the same coordinate twice.
type knownSet struct {
	mu    sync.Mutex
	known model.KnownVersions
}

// unknown returns the coordinates of batch not in the set, each once.
func (k *knownSet) unknown(batch []model.ArtifactCoordinate) []model.ArtifactCoordinate {
	k.mu.Lock()
	defer k.mu.Unlock()
	seen := make(model.KnownVersions)
	var out []model.ArtifactCoordinate
	for _, c := range batch {
		if k.known.Has(c) || seen.Has(c) {
			continue
		}
		seen.Add(c)
		out = append(out, c)
	}
	return out
}

func (k *knownSet) add(coords []model.ArtifactCoordinate) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, c := range coords {
		k.known.Add(c)
	}
}

// Run executes one discovery run. Individual discoverer failures are
// recorded in the report; the returned error is reserved for failures that
// prevent the run from starting.
func (c *Coordinator) Run(ctx context.Context) (*Report, error) {
	runID := uuid.NewString()
	logger := c.logger.With("run", runID)

	snapshot, err := c.queue.KnownVersions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load known versions: %w", err)
	}
	known := &knownSet{known: snapshot}
	logger.Info("discovery started", "discoverers", len(c.discoverers), "known", snapshot.Len())

	report := &Report{RunID: runID, Discoverers: make(map[string]Stats, len(c.discoverers))}
	var mu sync.Mutex
	errorCounts := make(map[string]int)

	errs := make(chan error, 64)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for err := range errs {
			source := "unknown"
			var se *sourceError
			if errors.As(err, &se) {
				source = se.source
			}
			mu.Lock()
			errorCounts[source]++
			mu.Unlock()
			logger.Warn("discoverer error", "discoverer", source, "error", err)
		}
	}()

	var g errgroup.Group
	for _, d := range c.discoverers {
		g.Go(func() error {
			st := c.runOne(ctx, logger, d, known, errs)
			mu.Lock()
			report.Discoverers[d.Name()] = st
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	close(errs)
	<-drained

	for name, st := range report.Discoverers {
		st.Errors = errorCounts[name]
		report.Discoverers[name] = st
	}
	t := report.Totals()
	logger.Info("discovery finished",
		"discovered", t.Discovered,
		"enqueued", t.Enqueued,
		"known", t.Known,
		"errors", t.Errors,
		"failed", report.Failed())
	return report, nil
}

func (c *Coordinator) runOne(ctx context.Context, logger *log.Logger, d Discoverer, known *knownSet, errs chan<- error) Stats {
	name := d.Name()
	hooks := observability.Pipeline()
	hooks.OnDiscoveryStart(ctx, name)
	start := time.Now()

	var st Stats
	var failure error
	batch := make([]model.ArtifactCoordinate, 0, c.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Keep consuming after a failed batch so the discoverer can finish.
		if failure == nil {
			if err := c.flush(ctx, batch, known, &st); err != nil {
				failure = err
			}
		}
		batch = batch[:0]
	}

	for coord := range d.Discover(ctx, errs) {
		st.Discovered++
		batch = append(batch, coord)
		if len(batch) >= c.batchSize {
			flush()
		}
	}
	flush()

	if failure == nil && ctx.Err() != nil {
		failure = ctx.Err()
	}
	if failure == nil {
		if cm, ok := d.(Committer); ok {
			if err := cm.Commit(ctx); err != nil {
				failure = fmt.Errorf("commit: %w", err)
			} else {
				st.Committed = true
			}
		}
	}
	if failure != nil {
		st.Failed = true
		st.Err = failure.Error()
		logger.Error("discoverer failed", "discoverer", name, "error", failure)
	}
	hooks.OnDiscoveryComplete(ctx, name, st.Discovered, time.Since(start), failure)
	logger.Info("discoverer finished",
		"discoverer", name,
		"discovered", st.Discovered,
		"enqueued", st.Enqueued,
		"duration", time.Since(start).Round(time.Millisecond))
	return st
}

// flush enqueues the unknown coordinates of batch and clears duplicate
// queue rows.
func (c *Coordinator) flush(ctx context.Context, batch []model.ArtifactCoordinate, known *knownSet, st *Stats) error {
	fresh := known.unknown(batch)
	st.Known += len(batch) - len(fresh)
	if len(fresh) == 0 {
		return nil
	}
	n, err := c.queue.Enqueue(ctx, fresh, false)
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	known.add(fresh)
	st.Enqueued += n
	removed, err := c.queue.RemoveDuplicates(ctx)
	if err != nil {
		return fmt.Errorf("remove duplicates: %w", err)
	}
	st.Removed += removed
	return nil
}
