package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/kmpindex/pkg/backoff"
	"github.com/matzehuels/kmpindex/pkg/cache"
	"github.com/matzehuels/kmpindex/pkg/config"
	"github.com/matzehuels/kmpindex/pkg/discovery"
	"github.com/matzehuels/kmpindex/pkg/indexer"
	"github.com/matzehuels/kmpindex/pkg/integrations/genai"
	"github.com/matzehuels/kmpindex/pkg/integrations/github"
	"github.com/matzehuels/kmpindex/pkg/integrations/googlemaven"
	"github.com/matzehuels/kmpindex/pkg/integrations/maven"
	"github.com/matzehuels/kmpindex/pkg/readme"
	"github.com/matzehuels/kmpindex/pkg/refresh"
	"github.com/matzehuels/kmpindex/pkg/scm"
	"github.com/matzehuels/kmpindex/pkg/store"
	"github.com/matzehuels/kmpindex/pkg/store/memory"
	"github.com/matzehuels/kmpindex/pkg/store/postgres"
	"github.com/matzehuels/kmpindex/pkg/tags"
)

// =============================================================================
// App - Components Built From Configuration
// =============================================================================

// app holds the pipeline components one command invocation works with.
type app struct {
	cfg    *config.Config
	logger *log.Logger

	store     store.Store
	cache     cache.Cache
	backoff   *backoff.Store
	github    *github.Client
	engine    *scm.Engine
	catalog   *tags.Catalog
	generator *genai.Generator // nil when generation is not configured
	providers map[string]indexer.MetadataProvider
	registry  *discovery.Registry
}

// openApp builds every component from the loaded configuration. The caller
// must Close the result.
func (c *CLI) openApp(ctx context.Context) (*app, error) {
	cfg := c.conf()
	a := &app{cfg: cfg, logger: c.Logger, catalog: tags.Default()}

	var err error
	if a.store, err = openStore(ctx, cfg); err != nil {
		return nil, err
	}
	if a.cache, err = c.openCache(ctx); err != nil {
		a.store.Close()
		return nil, err
	}

	a.backoff = backoff.New(a.store, backoff.Policy{
		Base:        cfg.Backoff.Base,
		CapExponent: cfg.Backoff.CapExponent,
		Ceiling:     cfg.Backoff.Ceiling,
	})

	a.github = github.NewClient(a.cache, cfg.GitHub.Token, cfg.Cache.TTL)
	if cfg.GitHub.APIURL != "" {
		a.github.SetBaseURL(cfg.GitHub.APIURL)
	}
	a.engine = scm.New(a.github, a.store, readme.NewProcessor(a.github), a.catalog, c.Logger)

	if cfg.GenAI.Enabled() {
		a.generator, err = genai.NewGenerator(genai.Config{
			BaseURL:   cfg.GenAI.BaseURL,
			APIKey:    cfg.GenAI.APIKey,
			Model:     cfg.GenAI.Model,
			MaxTokens: cfg.GenAI.MaxTokens,
			MaxTags:   cfg.GenAI.MaxTags,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	a.providers = make(map[string]indexer.MetadataProvider, len(cfg.Sources))
	a.registry = discovery.NewRegistry()
	for _, src := range cfg.Sources {
		a.addSource(src)
	}
	return a, nil
}

// addSource registers the metadata provider and discoverer of src.
func (a *app) addSource(src config.Source) {
	mc := maven.NewClient(a.cache, src.URL, a.cfg.Cache.TTL)
	a.providers[src.ID] = mc

	switch src.Type {
	case config.SourceCentral:
		if src.SearchURL != "" {
			mc.SetSearchURL(src.SearchURL)
		}
		a.registry.Register(src.ID, func() (discovery.Discoverer, error) {
			d := discovery.NewCentral(mc, a.store, src.ID, a.logger)
			d.SetPageSize(a.cfg.Discovery.PageSize)
			return d, nil
		})
	case config.SourceGoogle:
		gc := googlemaven.NewClient(src.URL)
		a.registry.Register(src.ID, func() (discovery.Discoverer, error) {
			return discovery.NewGoogle(gc, a.cache, src.ID, src.Prefixes, a.logger), nil
		})
	}
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StorageDriver() {
	case config.StoragePostgres:
		if cfg.Storage.Migrate {
			if err := postgres.MigrateUp(cfg.Storage.DatabaseURL); err != nil {
				return nil, err
			}
		}
		st, err := postgres.Open(ctx, cfg.Storage.DatabaseURL, postgres.Options{MaxConns: cfg.Storage.MaxConns})
		if err != nil {
			return nil, err
		}
		if err := st.Ping(ctx); err != nil {
			st.Close()
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		return st, nil
	default:
		return memory.New(), nil
	}
}

func (c *CLI) openCache(ctx context.Context) (cache.Cache, error) {
	cfg := c.conf()
	switch cfg.Cache.Backend {
	case config.CacheNone:
		return cache.NewNullCache(), nil
	case config.CacheRedis:
		return cache.NewRedisCache(ctx, cfg.Cache.RedisURL, appName+":")
	default:
		dir, err := c.fileCacheDir()
		if err != nil {
			c.Logger.Warn("no cache directory, caching disabled", "error", err)
			return cache.NewNullCache(), nil
		}
		return cache.NewFileCache(dir)
	}
}

// Close releases the store and the cache.
func (a *app) Close() error {
	return errors.Join(a.cache.Close(), a.store.Close())
}

// =============================================================================
// Component Factories
// =============================================================================

func (a *app) newIndexer() *indexer.Indexer {
	ix := indexer.New(a.store, a.providers, a.engine, a.logger)
	ix.SetLease(a.cfg.Indexer.Lease)
	if a.generator != nil {
		ix.SetDescriptionGenerator(a.generator)
	}
	return ix
}

// coordinator builds a coordinator over the named discoverers, or over the
// configured ones when names is empty.
func (a *app) coordinator(names []string) (*discovery.Coordinator, error) {
	if len(names) == 0 {
		names = a.cfg.Discovery.Enabled
	}
	discoverers, err := a.registry.Build(names)
	if err != nil {
		return nil, err
	}
	co := discovery.NewCoordinator(a.store, discoverers, a.logger)
	co.SetBatchSize(a.cfg.Discovery.BatchSize)
	return co, nil
}

func (a *app) ownerRefresher() *refresh.OwnerRefresher {
	r := refresh.NewOwnerRefresher(a.github, a.store, a.backoff, a.logger)
	r.SetStaleAfter(a.cfg.Sync.OwnerStaleness)
	return r
}

func (a *app) repositoryRefresher() *refresh.RepositoryRefresher {
	r := refresh.NewRepositoryRefresher(a.engine, a.store, a.backoff, a.logger)
	r.SetInterval(a.cfg.Sync.RepositoryInterval)
	return r
}

// errNoGenerator is returned by generation commands without a model.
var errNoGenerator = errors.New("description and tag generation need genai.model and genai.base_url")

func (a *app) descriptionGenerator() (*refresh.DescriptionGenerator, error) {
	if a.generator == nil {
		return nil, errNoGenerator
	}
	return refresh.NewDescriptionGenerator(a.generator, a.store, a.backoff, a.logger), nil
}

func (a *app) tagGenerator() (*refresh.TagGenerator, error) {
	if a.generator == nil {
		return nil, errNoGenerator
	}
	return refresh.NewTagGenerator(a.generator, a.store, a.catalog, a.backoff, a.logger), nil
}

// syncStep is one claim-and-refresh step of a sync job.
type syncStep func(ctx context.Context) (bool, error)

// syncSteps returns the available sync jobs by name. Generation jobs are
// left out when no generator is configured.
func (a *app) syncSteps() map[string]syncStep {
	steps := map[string]syncStep{
		backoff.NamespaceOwnerSync: a.ownerRefresher().RunOnce,
		backoff.NamespaceRepoSync:  a.repositoryRefresher().RunOnce,
	}
	if g, err := a.descriptionGenerator(); err == nil {
		steps[backoff.NamespaceDescriptionGeneration] = g.RunOnce
	}
	if g, err := a.tagGenerator(); err == nil {
		steps[backoff.NamespaceTagGeneration] = g.RunOnce
	}
	return steps
}
