package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/kmpindex/pkg/cache"
	"github.com/matzehuels/kmpindex/pkg/integrations/googlemaven"
	"github.com/matzehuels/kmpindex/pkg/model"
)

// DefaultGroupFetchers bounds concurrent group index fetches.
const DefaultGroupFetchers = 8

// GoogleClient reads the Google Maven index tree.
type GoogleClient interface {
	MasterIndex(ctx context.Context) ([]string, error)
	FetchGroupIndex(ctx context.Context, group string) (googlemaven.GroupIndex, error)
}

// Google discovers releases from the master and group indexes of Google
// Maven. Each group's index is compared with the snapshot cached after the
// previous run; unchanged groups are skipped and only versions missing
// from the snapshot are produced. Snapshots of changed groups are written
// on Commit.
type Google struct {
	client    GoogleClient
	snapshots cache.Cache
	sourceID  string
	prefixes  []string
	fetchers  int
	logger    *log.Logger

	mu      sync.Mutex
	changed map[string]googlemaven.GroupIndex
}

// NewGoogle creates a Google discoverer. Only groups starting with one of
// prefixes are read; no prefixes means every group. A nil logger means
// log.Default().
func NewGoogle(client GoogleClient, snapshots cache.Cache, sourceID string, prefixes []string, logger *log.Logger) *Google {
	if logger == nil {
		logger = log.Default()
	}
	return &Google{
		client:    client,
		snapshots: cache.Namespace(snapshots, "snapshot:"+sourceID+":"),
		sourceID:  sourceID,
		prefixes:  prefixes,
		fetchers:  DefaultGroupFetchers,
		logger:    logger.With("discoverer", sourceID),
	}
}

// SetFetchers sets how many group indexes are fetched concurrently.
func (g *Google) SetFetchers(n int) {
	if n > 0 {
		g.fetchers = n
	}
}

func (g *Google) Name() string { return g.sourceID }

func (g *Google) wanted(group string) bool {
	if len(g.prefixes) == 0 {
		return true
	}
	for _, p := range g.prefixes {
		if strings.HasPrefix(group, p) {
			return true
		}
	}
	return false
}

func (g *Google) Discover(ctx context.Context, errs chan<- error) <-chan model.ArtifactCoordinate {
	out := make(chan model.ArtifactCoordinate, DefaultBatchSize)
	g.mu.Lock()
	g.changed = make(map[string]googlemaven.GroupIndex)
	g.mu.Unlock()

	go func() {
		defer close(out)
		groups, err := g.client.MasterIndex(ctx)
		if err != nil {
			report(ctx, errs, g.Name(), fmt.Errorf("master index: %w", err))
			return
		}
		eg, ctx := errgroup.WithContext(ctx)
		eg.SetLimit(g.fetchers)
		selected := 0
		for _, group := range groups {
			if !g.wanted(group) {
				continue
			}
			selected++
			eg.Go(func() error {
				if err := g.discoverGroup(ctx, group, out); err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					report(ctx, errs, g.Name(), fmt.Errorf("group %s: %w", group, err))
				}
				return nil
			})
		}
		_ = eg.Wait()
		g.mu.Lock()
		changed := len(g.changed)
		g.mu.Unlock()
		g.logger.Info("walked group indexes", "groups", selected, "changed", changed)
	}()
	return out
}

func (g *Google) discoverGroup(ctx context.Context, group string, out chan<- model.ArtifactCoordinate) error {
	idx, err := g.client.FetchGroupIndex(ctx, group)
	if err != nil {
		return err
	}
	prev := g.snapshot(ctx, group)
	if sameIndex(prev, idx) {
		return nil
	}
	for _, artifact := range idx.Artifacts() {
		seen := make(map[string]bool, len(prev[artifact]))
		for _, v := range prev[artifact] {
			seen[v] = true
		}
		for _, v := range idx[artifact] {
			if seen[v] {
				continue
			}
			coord := model.ArtifactCoordinate{GroupID: group, ArtifactID: artifact, Version: v, SourceID: g.sourceID}
			if !emit(ctx, out, coord) {
				return ctx.Err()
			}
		}
	}
	g.mu.Lock()
	g.changed[group] = idx
	g.mu.Unlock()
	return nil
}

// snapshot returns the cached index of group, or nil. Unreadable entries
// count as missing.
func (g *Google) snapshot(ctx context.Context, group string) googlemaven.GroupIndex {
	data, ok, err := g.snapshots.Get(ctx, group)
	if err != nil || !ok {
		return nil
	}
	var idx googlemaven.GroupIndex
	if json.Unmarshal(data, &idx) != nil {
		return nil
	}
	return idx
}

// Commit stores the snapshots of every group that changed in the last run.
func (g *Google) Commit(ctx context.Context) error {
	g.mu.Lock()
	changed := g.changed
	g.changed = nil
	g.mu.Unlock()
	for group, idx := range changed {
		data, err := json.Marshal(idx)
		if err != nil {
			return err
		}
		if err := g.snapshots.Set(ctx, group, data, 0); err != nil {
			return fmt.Errorf("store snapshot of %s: %w", group, err)
		}
	}
	return nil
}

func sameIndex(a, b googlemaven.GroupIndex) bool {
	if a == nil || len(a) != len(b) {
		return false
	}
	for artifact, versions := range b {
		prev, ok := a[artifact]
		if !ok || len(prev) != len(versions) {
			return false
		}
		for i := range versions {
			if prev[i] != versions[i] {
				return false
			}
		}
	}
	return true
}
