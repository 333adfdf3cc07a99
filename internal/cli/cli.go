package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/kmpindex/pkg/buildinfo"
	"github.com/matzehuels/kmpindex/pkg/config"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// appName is the application name used for directories and display.
	appName = "kmpindex"

	// defaultLimit bounds one-shot commands that process work items.
	defaultLimit = 100
)

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// =============================================================================
// CLI - Central CLI State
// =============================================================================

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	configPath string
	logFormat  string
	cfg        *config.Config
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{Logger: newLogger(w, level, formatText)}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   appName,
		Short: "kmpindex discovers and indexes Kotlin Multiplatform libraries",
		Long: `kmpindex discovers Kotlin Multiplatform releases in Maven repositories,
indexes their build metadata and keeps the GitHub repositories, owners and
projects behind them up to date.`,
		Version:      buildinfo.Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup()
		},
	}

	root.SetVersionTemplate(buildinfo.Template())
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default $"+config.EnvConfig+")")
	root.PersistentFlags().StringVar(&c.logFormat, "log-format", formatText, "log format: text or json")

	root.AddCommand(c.serveCommand())
	root.AddCommand(c.discoverCommand())
	root.AddCommand(c.indexCommand())
	root.AddCommand(c.syncCommand())
	root.AddCommand(c.migrateCommand())
	root.AddCommand(c.queueCommand())
	root.AddCommand(c.cacheCommand())
	root.AddCommand(c.completionCommand())

	return root
}

// setup applies the log format and loads the configuration.
func (c *CLI) setup() error {
	switch c.logFormat {
	case formatText:
		c.Logger.SetFormatter(log.TextFormatter)
	case formatJSON:
		c.Logger.SetFormatter(log.JSONFormatter)
	default:
		return fmt.Errorf("unknown log format %q (want %s or %s)", c.logFormat, formatText, formatJSON)
	}
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	c.cfg = cfg
	return nil
}

// conf returns the loaded configuration, or the defaults when a command
// runs without the root's pre-run hook (tests).
func (c *CLI) conf() *config.Config {
	if c.cfg == nil {
		c.cfg = config.Default()
	}
	return c.cfg
}

// =============================================================================
// Paths
// =============================================================================

// cacheDir returns the cache directory using XDG standard (~/.cache/kmpindex/).
func cacheDir() (string, error) {
	if cacheHome := os.Getenv("XDG_CACHE_HOME"); cacheHome != "" {
		return filepath.Join(cacheHome, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", appName), nil
}

// fileCacheDir returns the configured cache directory or the XDG default.
func (c *CLI) fileCacheDir() (string, error) {
	if dir := c.conf().Cache.Dir; dir != "" {
		return dir, nil
	}
	return cacheDir()
}
