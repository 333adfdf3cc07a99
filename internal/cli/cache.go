package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/matzehuels/kmpindex/pkg/cache"
	"github.com/matzehuels/kmpindex/pkg/config"
)

// cacheCommand creates the cache management command.
func (c *CLI) cacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the HTTP response cache",
	}

	cmd.AddCommand(c.cacheClearCommand())
	cmd.AddCommand(c.cachePathCommand())

	return cmd
}

// cacheClearCommand creates the "cache clear" subcommand.
func (c *CLI) cacheClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Clear all cached HTTP responses",
		Long: `Clear all cached HTTP responses. This includes the stored Google Maven
snapshot, so the next google discovery run treats every artifact as new.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			count, where, err := c.clearCache(cmd.Context())
			if err != nil {
				return err
			}
			if where == "" {
				printInfo("Cache is empty")
				return nil
			}
			printSuccess("Cleared %d cached entries", count)
			printDetail("Location: %s", where)
			return nil
		},
	}
}

// clearCache empties the configured cache backend and reports where it lived.
// An empty location means there was nothing to clear.
func (c *CLI) clearCache(ctx context.Context) (int, string, error) {
	cfg := c.conf()
	switch cfg.Cache.Backend {
	case config.CacheNone:
		return 0, "", nil
	case config.CacheRedis:
		rc, err := cache.NewRedisCache(ctx, cfg.Cache.RedisURL, appName+":")
		if err != nil {
			return 0, "", err
		}
		defer rc.Close()
		n, err := rc.Clear(ctx)
		if err != nil {
			return n, "", fmt.Errorf("clear redis cache: %w", err)
		}
		return n, cfg.Cache.RedisURL, nil
	}

	dir, err := c.fileCacheDir()
	if err != nil {
		return 0, "", fmt.Errorf("get cache dir: %w", err)
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return 0, "", nil
	}
	fc, err := cache.NewFileCache(dir)
	if err != nil {
		return 0, "", err
	}
	n, err := fc.Clear()
	if err != nil {
		return n, "", fmt.Errorf("clear file cache: %w", err)
	}
	return n, dir, nil
}

// cachePathCommand creates the "cache path" subcommand.
func (c *CLI) cachePathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the cache location",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := c.conf()
			switch cfg.Cache.Backend {
			case config.CacheRedis:
				fmt.Println(cfg.Cache.RedisURL)
				return nil
			case config.CacheNone:
				printInfo("Caching is disabled")
				return nil
			}
			dir, err := c.fileCacheDir()
			if err != nil {
				return fmt.Errorf("get cache dir: %w", err)
			}
			fmt.Println(dir)
			return nil
		},
	}
}
