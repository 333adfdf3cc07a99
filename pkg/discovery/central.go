package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/kmpindex/pkg/integrations/maven"
	"github.com/matzehuels/kmpindex/pkg/model"
)

// ToolingMetadataQuery selects releases that publish
// kotlin-tooling-metadata.json.
const ToolingMetadataQuery = "l:kotlin-tooling-metadata"

const (
	defaultPageSize         = 200
	defaultMetadataFetchers = 8
	centralWatermarkSuffix  = ".index"
)

// CentralClient is the part of the Maven client the central discoverer uses.
type CentralClient interface {
	IndexTimestamp(ctx context.Context) (time.Time, error)
	Search(ctx context.Context, query string, start, rows int) (*maven.SearchPage, error)
	FetchMetadata(ctx context.Context, groupID, artifactID string) (*maven.Metadata, error)
}

// CentralStore persists the index watermark and lists known artifacts.
type CentralStore interface {
	Watermark(ctx context.Context, key string) (time.Time, bool, error)
	SetWatermark(ctx context.Context, key string, t time.Time) error
	KnownArtifacts(ctx context.Context, sourceID string) ([]model.ArtifactKey, error)
}

// Central discovers releases in a repository that publishes a Nexus index
// and the search API, such as Maven Central.
//
// When the index timestamp is newer than the stored watermark it runs a full
// scan and advances the watermark on Commit. Otherwise it re-reads
// maven-metadata.xml of every artifact already known for its source.
type Central struct {
	client   CentralClient
	store    CentralStore
	sourceID string
	pageSize int
	fetchers int
	logger   *log.Logger

	mu       sync.Mutex
	scanned  time.Time
	complete bool
}

// NewCentral creates a Central discoverer for sourceID. A nil logger means
// log.Default().
func NewCentral(client CentralClient, st CentralStore, sourceID string, logger *log.Logger) *Central {
	if logger == nil {
		logger = log.Default()
	}
	return &Central{
		client:   client,
		store:    st,
		sourceID: sourceID,
		pageSize: defaultPageSize,
		fetchers: defaultMetadataFetchers,
		logger:   logger.With("discoverer", sourceID),
	}
}

// SetPageSize sets the number of search results requested per page.
func (c *Central) SetPageSize(n int) {
	if n > 0 {
		c.pageSize = n
	}
}

func (c *Central) Name() string { return c.sourceID }

// WatermarkKey is the key the index timestamp is stored under.
func (c *Central) WatermarkKey() string { return c.sourceID + centralWatermarkSuffix }

func (c *Central) Discover(ctx context.Context, errs chan<- error) <-chan model.ArtifactCoordinate {
	out := make(chan model.ArtifactCoordinate, DefaultBatchSize)
	c.mu.Lock()
	c.complete = false
	c.mu.Unlock()

	go func() {
		defer close(out)
		snapshot, err := c.client.IndexTimestamp(ctx)
		if err != nil {
			report(ctx, errs, c.Name(), fmt.Errorf("read index timestamp: %w", err))
			return
		}
		mark, ok, err := c.store.Watermark(ctx, c.WatermarkKey())
		if err != nil {
			report(ctx, errs, c.Name(), fmt.Errorf("read watermark: %w", err))
			return
		}
		if !ok || snapshot.After(mark) {
			c.logger.Info("index snapshot is newer, running full scan", "snapshot", snapshot, "watermark", mark)
			if err := c.fullScan(ctx, out); err != nil {
				report(ctx, errs, c.Name(), fmt.Errorf("full scan: %w", err))
				return
			}
			c.mu.Lock()
			c.scanned, c.complete = snapshot, true
			c.mu.Unlock()
			return
		}
		c.logger.Debug("index unchanged, checking known artifacts", "snapshot", snapshot)
		c.incremental(ctx, out, errs)
	}()
	return out
}

// Commit advances the watermark to the scanned snapshot. It does nothing
// unless the last Discover completed a full scan.
func (c *Central) Commit(ctx context.Context) error {
	c.mu.Lock()
	scanned, complete := c.scanned, c.complete
	c.complete = false
	c.mu.Unlock()
	if !complete {
		return nil
	}
	if err := c.store.SetWatermark(ctx, c.WatermarkKey(), scanned); err != nil {
		return err
	}
	c.logger.Info("advanced index watermark", "watermark", scanned)
	return nil
}

func (c *Central) fullScan(ctx context.Context, out chan<- model.ArtifactCoordinate) error {
	for start := 0; ; start += c.pageSize {
		page, err := c.client.Search(ctx, ToolingMetadataQuery, start, c.pageSize)
		if err != nil {
			return fmt.Errorf("search page at %d: %w", start, err)
		}
		for _, doc := range page.Docs {
			coord := model.ArtifactCoordinate{
				GroupID:    doc.GroupID,
				ArtifactID: doc.ArtifactID,
				Version:    doc.Version,
				SourceID:   c.sourceID,
				ReleasedAt: doc.ReleasedAt(),
			}
			if !emit(ctx, out, coord) {
				return ctx.Err()
			}
		}
		if len(page.Docs) == 0 || start+len(page.Docs) >= page.NumFound {
			return nil
		}
	}
}

// incremental re-reads the version list of every known artifact. Failures
// are reported per artifact.
func (c *Central) incremental(ctx context.Context, out chan<- model.ArtifactCoordinate, errs chan<- error) {
	keys, err := c.store.KnownArtifacts(ctx, c.sourceID)
	if err != nil {
		report(ctx, errs, c.Name(), fmt.Errorf("list known artifacts: %w", err))
		return
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.fetchers)
	for _, key := range keys {
		g.Go(func() error {
			meta, err := c.client.FetchMetadata(ctx, key.GroupID, key.ArtifactID)
			if err != nil {
				report(ctx, errs, c.Name(), fmt.Errorf("metadata of %s: %w", key, err))
				return nil
			}
			for _, v := range meta.Versions {
				coord := model.ArtifactCoordinate{GroupID: key.GroupID, ArtifactID: key.ArtifactID, Version: v, SourceID: c.sourceID}
				if !emit(ctx, out, coord) {
					return ctx.Err()
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}
