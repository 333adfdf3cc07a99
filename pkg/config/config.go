// Package config loads the kmpindex configuration.
//
// Configuration is a TOML file layered over [Default]. The file is located
// by the --config flag or the KMPINDEX_CONFIG environment variable; without
// either, the defaults are used as is. Secrets are usually not written to
// the file but taken from the environment:
//
//	KMPINDEX_DATABASE_URL   storage.database_url
//	KMPINDEX_REDIS_URL      cache.redis_url
//	GITHUB_TOKEN            github.token
//	KMPINDEX_GENAI_API_KEY  genai.api_key
//
// A minimal file that indexes only Maven Central into Postgres:
//
//	[storage]
//	database_url = "postgres://kmpindex@localhost/kmpindex"
//
//	[discovery]
//	enabled = ["central"]
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	kerrors "github.com/matzehuels/kmpindex/pkg/errors"
	"github.com/matzehuels/kmpindex/pkg/integrations/googlemaven"
	"github.com/matzehuels/kmpindex/pkg/integrations/maven"
)

// Environment variables read by Load.
const (
	EnvConfig      = "KMPINDEX_CONFIG"
	EnvDatabaseURL = "KMPINDEX_DATABASE_URL"
	EnvRedisURL    = "KMPINDEX_REDIS_URL"
	EnvGitHubToken = "GITHUB_TOKEN"
	EnvGenAIKey    = "KMPINDEX_GENAI_API_KEY"
)

// Source types.
const (
	SourceCentral = "central"
	SourceGoogle  = "google"
)

// Storage drivers.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Cache backends.
const (
	CacheFile  = "file"
	CacheRedis = "redis"
	CacheNone  = "none"
)

// Config is the complete configuration.
type Config struct {
	Storage   Storage   `toml:"storage"`
	Cache     Cache     `toml:"cache"`
	GitHub    GitHub    `toml:"github"`
	GenAI     GenAI     `toml:"genai"`
	Sources   []Source  `toml:"source"`
	Discovery Discovery `toml:"discovery"`
	Indexer   Indexer   `toml:"indexer"`
	Sync      Sync      `toml:"sync"`
	Backoff   Backoff   `toml:"backoff"`
	Server    Server    `toml:"server"`
}

// Storage selects the persistence backend. An empty Driver means postgres
// when DatabaseURL is set and memory otherwise.
type Storage struct {
	Driver      string `toml:"driver"`
	DatabaseURL string `toml:"database_url"`
	MaxConns    int32  `toml:"max_conns"`
	// Migrate applies pending schema migrations on startup.
	Migrate bool `toml:"migrate"`
}

// Cache configures the HTTP response and snapshot cache.
type Cache struct {
	Backend  string        `toml:"backend"`
	Dir      string        `toml:"dir"`
	RedisURL string        `toml:"redis_url"`
	TTL      time.Duration `toml:"ttl"`
}

// GitHub configures the source-control host.
type GitHub struct {
	Token  string `toml:"token"`
	APIURL string `toml:"api_url"`
}

// GenAI configures description and tag generation. Generation jobs run
// only when Model is set.
type GenAI struct {
	BaseURL   string `toml:"base_url"`
	APIKey    string `toml:"api_key"`
	Model     string `toml:"model"`
	MaxTokens int    `toml:"max_tokens"`
	MaxTags   int    `toml:"max_tags"`
}

// Enabled reports whether generation is configured.
func (g GenAI) Enabled() bool { return g.Model != "" && g.BaseURL != "" }

// Source is one Maven-style repository. Its ID doubles as the name of its
// discoverer and as the source id of the coordinates it produces.
type Source struct {
	ID   string `toml:"id"`
	Type string `toml:"type"`
	URL  string `toml:"url"`
	// SearchURL is the search endpoint of a central source.
	SearchURL string `toml:"search_url"`
	// Prefixes restricts a google source to matching group ids.
	Prefixes []string `toml:"prefixes"`
}

// Discovery configures the discovery coordinator.
type Discovery struct {
	Enabled   []string      `toml:"enabled"`
	BatchSize int           `toml:"batch_size"`
	Interval  time.Duration `toml:"interval"`
	PageSize  int           `toml:"page_size"`
}

// Indexer configures the indexing workers.
type Indexer struct {
	Workers int           `toml:"workers"`
	Lease   time.Duration `toml:"lease"`
	Idle    time.Duration `toml:"idle"`
}

// Sync configures the refresh jobs.
type Sync struct {
	Interval           time.Duration `toml:"interval"`
	Jitter             time.Duration `toml:"jitter"`
	Batch              int           `toml:"batch"`
	OwnerStaleness     time.Duration `toml:"owner_staleness"`
	RepositoryInterval time.Duration `toml:"repository_interval"`
}

// Backoff shapes the failure cooldown curve.
type Backoff struct {
	Base        time.Duration `toml:"base"`
	CapExponent int           `toml:"cap_exponent"`
	Ceiling     time.Duration `toml:"ceiling"`
}

// Server configures the operational HTTP endpoints of serve.
type Server struct {
	Addr string `toml:"addr"`
}

// Default returns a runnable configuration: Maven Central and Google Maven
// as sources, a file cache and in-memory storage.
func Default() *Config {
	return &Config{
		Cache: Cache{Backend: CacheFile, TTL: 24 * time.Hour},
		Sources: []Source{
			{ID: "central", Type: SourceCentral, URL: maven.CentralURL, SearchURL: maven.CentralSearchURL},
			{ID: "google", Type: SourceGoogle, URL: googlemaven.RepositoryURL},
		},
		Discovery: Discovery{
			Enabled:   []string{"central", "google"},
			BatchSize: 100,
			Interval:  6 * time.Hour,
			PageSize:  200,
		},
		Indexer: Indexer{Workers: 4, Lease: 10 * time.Minute, Idle: 30 * time.Second},
		Sync: Sync{
			Interval:           5 * time.Minute,
			Jitter:             30 * time.Second,
			Batch:              50,
			OwnerStaleness:     24 * time.Hour,
			RepositoryInterval: 24 * time.Hour,
		},
		Backoff: Backoff{Base: 15 * time.Minute, CapExponent: 6, Ceiling: 24 * time.Hour},
		GenAI:   GenAI{MaxTokens: 256, MaxTags: 8},
		Server:  Server{Addr: ":8080"},
	}
}

// Load reads the file at path over the defaults, applies environment
// overrides and validates the result. An empty path falls back to
// KMPINDEX_CONFIG and then to the defaults alone.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	cfg := Default()
	if path != "" {
		if err := cfg.decodeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes TOML data over the defaults without reading the
// environment.
func Parse(data string) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(data, "config"); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decodeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return kerrors.Wrap(kerrors.ErrCodeConfig, err, "read config")
	}
	return c.decode(string(data), path)
}

func (c *Config) decode(data, name string) error {
	// A file that lists sources replaces the default ones.
	var probe struct {
		Sources []Source `toml:"source"`
	}
	if _, err := toml.Decode(data, &probe); err != nil {
		return kerrors.Wrap(kerrors.ErrCodeConfig, err, "parse %s", name)
	}
	if len(probe.Sources) > 0 {
		c.Sources = nil
	}
	md, err := toml.Decode(data, c)
	if err != nil {
		return kerrors.Wrap(kerrors.ErrCodeConfig, err, "parse %s", name)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return kerrors.New(kerrors.ErrCodeConfig, "%s: unknown keys %s", name, strings.Join(keys, ", "))
	}
	return nil
}

// ApplyEnv overrides secrets with non-empty environment values.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Storage.DatabaseURL, EnvDatabaseURL)
	set(&c.Cache.RedisURL, EnvRedisURL)
	set(&c.GitHub.Token, EnvGitHubToken)
	set(&c.GenAI.APIKey, EnvGenAIKey)
}

// StorageDriver resolves the effective storage driver.
func (c *Config) StorageDriver() string {
	if c.Storage.Driver != "" {
		return c.Storage.Driver
	}
	if c.Storage.DatabaseURL != "" {
		return StoragePostgres
	}
	return StorageMemory
}

// Source returns the source with the given id.
func (c *Config) Source(id string) (Source, bool) {
	for _, s := range c.Sources {
		if s.ID == id {
			return s, true
		}
	}
	return Source{}, false
}

// Validate reports every problem in c at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	seen := make(map[string]bool)
	for i, s := range c.Sources {
		switch {
		case s.ID == "":
			add("source %d: missing id", i+1)
		case seen[s.ID]:
			add("source %q: duplicate id", s.ID)
		}
		seen[s.ID] = true
		switch s.Type {
		case SourceCentral, SourceGoogle:
		default:
			add("source %q: unknown type %q", s.ID, s.Type)
		}
		if s.URL == "" {
			add("source %q: missing url", s.ID)
		}
	}
	for _, name := range c.Discovery.Enabled {
		if !seen[name] {
			add("discovery: unknown discoverer %q", name)
		}
	}
	if c.Discovery.BatchSize <= 0 {
		add("discovery: batch_size must be positive, got %d", c.Discovery.BatchSize)
	}
	if c.Discovery.PageSize <= 0 {
		add("discovery: page_size must be positive, got %d", c.Discovery.PageSize)
	}
	if c.Indexer.Workers <= 0 {
		add("indexer: workers must be positive, got %d", c.Indexer.Workers)
	}
	if c.Indexer.Lease <= 0 {
		add("indexer: lease must be positive")
	}
	if c.Sync.Interval <= 0 || c.Sync.Jitter < 0 || c.Sync.Jitter >= c.Sync.Interval {
		add("sync: need interval > jitter >= 0")
	}

	switch c.StorageDriver() {
	case StorageMemory:
	case StoragePostgres:
		if c.Storage.DatabaseURL == "" {
			add("storage: postgres requires database_url or %s", EnvDatabaseURL)
		}
	default:
		add("storage: unknown driver %q", c.Storage.Driver)
	}

	switch c.Cache.Backend {
	case CacheFile, CacheNone:
	case CacheRedis:
		if c.Cache.RedisURL == "" {
			add("cache: redis requires redis_url or %s", EnvRedisURL)
		}
	default:
		add("cache: unknown backend %q", c.Cache.Backend)
	}

	if c.Backoff.Base <= 0 || c.Backoff.Ceiling < c.Backoff.Base {
		add("backoff: need ceiling >= base > 0")
	}

	if len(errs) == 0 {
		return nil
	}
	return kerrors.Wrap(kerrors.ErrCodeConfig, errors.Join(errs...), "invalid configuration")
}
