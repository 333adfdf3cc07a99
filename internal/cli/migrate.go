package cli

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/matzehuels/kmpindex/pkg/config"
	kerrors "github.com/matzehuels/kmpindex/pkg/errors"
	"github.com/matzehuels/kmpindex/pkg/store/postgres"
)

// migrateCommand creates the schema migration command.
func (c *CLI) migrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		Long: `Apply or roll back the embedded schema migrations against the database
at storage.database_url (or $` + config.EnvDatabaseURL + `).`,
	}

	cmd.AddCommand(c.migrateUpCommand())
	cmd.AddCommand(c.migrateDownCommand())
	cmd.AddCommand(c.migrateVersionCommand())

	return cmd
}

// openMigrator returns a migrator for the configured database.
func (c *CLI) openMigrator() (postgres.Migrator, error) {
	url := c.conf().Storage.DatabaseURL
	if url == "" {
		return nil, kerrors.New(kerrors.ErrCodeConfig, "no database configured (set storage.database_url or %s)", config.EnvDatabaseURL)
	}
	return postgres.NewMigrator(url)
}

func (c *CLI) migrateUpCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := c.openMigrator()
			if err != nil {
				return err
			}
			defer m.Close()

			err = m.Up()
			switch {
			case errors.Is(err, migrate.ErrNoChange):
				printInfo("Schema is up to date")
			case err != nil:
				return fmt.Errorf("migrate up: %w", err)
			default:
				printSuccess("Migrations applied")
			}
			return printSchemaVersion(m)
		},
	}
}

func (c *CLI) migrateDownCommand() *cobra.Command {
	var steps int

	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps <= 0 {
				return kerrors.New(kerrors.ErrCodeInvalidInput, "--steps must be positive")
			}
			m, err := c.openMigrator()
			if err != nil {
				return err
			}
			defer m.Close()

			if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
				return fmt.Errorf("migrate down: %w", err)
			}
			printSuccess("Rolled back %d migrations", steps)
			return printSchemaVersion(m)
		},
	}

	cmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	return cmd
}

func (c *CLI) migrateVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := c.openMigrator()
			if err != nil {
				return err
			}
			defer m.Close()
			return printSchemaVersion(m)
		},
	}
}

func printSchemaVersion(m postgres.Migrator) error {
	v, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		printKeyValue("Version", "none")
		return nil
	case err != nil:
		return err
	}
	printKeyValue("Version", StyleNumber.Render(fmt.Sprint(v)))
	if dirty {
		printWarning("Schema is dirty; fix the failed migration and force the version")
	}
	return nil
}
