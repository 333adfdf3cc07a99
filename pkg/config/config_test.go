package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	kerrors "github.com/matzehuels/kmpindex/pkg/errors"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if got := cfg.StorageDriver(); got != StorageMemory {
		t.Errorf("StorageDriver = %q, want memory", got)
	}
	if _, ok := cfg.Source("google"); !ok {
		t.Error("default config has no google source")
	}
}

func TestParse(t *testing.T) {
	cfg, err := Parse(`
[storage]
database_url = "postgres://kmpindex@localhost/kmpindex"

[discovery]
enabled = ["mirror"]
batch_size = 25
interval = "1h30m"

[[source]]
id = "mirror"
type = "google"
url = "https://maven.example.com"
prefixes = ["androidx.compose"]

[sync]
interval = "2m"
jitter = "10s"
`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.StorageDriver() != StoragePostgres {
		t.Errorf("StorageDriver = %q, want postgres", cfg.StorageDriver())
	}
	want := []Source{{ID: "mirror", Type: SourceGoogle, URL: "https://maven.example.com", Prefixes: []string{"androidx.compose"}}}
	if !reflect.DeepEqual(cfg.Sources, want) {
		t.Errorf("Sources = %+v, want %+v", cfg.Sources, want)
	}
	if cfg.Discovery.BatchSize != 25 || cfg.Discovery.Interval != 90*time.Minute {
		t.Errorf("Discovery = %+v", cfg.Discovery)
	}
	// Untouched sections keep their defaults.
	if cfg.Indexer.Workers != 4 || cfg.Sync.OwnerStaleness != 24*time.Hour {
		t.Errorf("defaults lost: indexer %+v, sync %+v", cfg.Indexer, cfg.Sync)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse("[indexer]\nworkerz = 3\n")
	if err == nil || !strings.Contains(err.Error(), "indexer.workerz") {
		t.Fatalf("Parse = %v, want unknown key error", err)
	}
	if !kerrors.Is(err, kerrors.ErrCodeConfig) {
		t.Errorf("error code = %v, want config", kerrors.GetCode(err))
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{
			name:   "unknown source type",
			modify: func(c *Config) { c.Sources[0].Type = "jcenter" },
			want:   `unknown type "jcenter"`,
		},
		{
			name:   "duplicate source",
			modify: func(c *Config) { c.Sources[1].ID = "central" },
			want:   `source "central": duplicate id`,
		},
		{
			name:   "unknown discoverer",
			modify: func(c *Config) { c.Discovery.Enabled = append(c.Discovery.Enabled, "jitpack") },
			want:   `unknown discoverer "jitpack"`,
		},
		{
			name:   "zero batch size",
			modify: func(c *Config) { c.Discovery.BatchSize = 0 },
			want:   "batch_size must be positive",
		},
		{
			name:   "negative batch size",
			modify: func(c *Config) { c.Discovery.BatchSize = -5 },
			want:   "batch_size must be positive",
		},
		{
			name:   "postgres without url",
			modify: func(c *Config) { c.Storage.Driver = StoragePostgres },
			want:   "postgres requires database_url",
		},
		{
			name:   "redis without url",
			modify: func(c *Config) { c.Cache.Backend = CacheRedis },
			want:   "redis requires redis_url",
		},
		{
			name:   "jitter larger than interval",
			modify: func(c *Config) { c.Sync.Jitter = c.Sync.Interval },
			want:   "sync: need interval > jitter",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvDatabaseURL: "postgres://db/kmp",
		EnvGitHubToken: "ghp_test",
		EnvGenAIKey:    "sk-test",
	}
	cfg := Default()
	cfg.Cache.RedisURL = "redis://from-file:6379"
	cfg.ApplyEnv(func(k string) string { return env[k] })

	if cfg.Storage.DatabaseURL != "postgres://db/kmp" || cfg.GitHub.Token != "ghp_test" || cfg.GenAI.APIKey != "sk-test" {
		t.Errorf("env not applied: %+v %+v %+v", cfg.Storage, cfg.GitHub, cfg.GenAI)
	}
	if cfg.Cache.RedisURL != "redis://from-file:6379" {
		t.Errorf("empty env overwrote redis url: %q", cfg.Cache.RedisURL)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kmpindex.toml")
	if err := os.WriteFile(path, []byte("[indexer]\nworkers = 8\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvConfig, path)
	t.Setenv(EnvDatabaseURL, "postgres://env/kmp")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Indexer.Workers != 8 {
		t.Errorf("Workers = %d, want 8", cfg.Indexer.Workers)
	}
	if cfg.StorageDriver() != StoragePostgres {
		t.Errorf("StorageDriver = %q, want postgres", cfg.StorageDriver())
	}

	if _, err := Load(filepath.Join(dir, "missing.toml")); !kerrors.Is(err, kerrors.ErrCodeConfig) {
		t.Errorf("Load(missing) = %v, want config error", err)
	}
}
