package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/emiliopalmerini/mltrackr/internal/adapters/turso"
	"github.com/emiliopalmerini/mltrackr/internal/infrastructure/config"
	"github.com/emiliopalmerini/mltrackr/internal/migrate"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [version]",
	Short: "Run libsql database migrations",
	Long: `Run libsql database migrations.

Without arguments, runs all pending migrations (up).
With a version number, migrates to that specific version (up or down as needed).
The badger store has no schema and needs no migrations.

Examples:
  mltrackr migrate      # Run all pending migrations
  mltrackr migrate 1    # Migrate to version 1
  mltrackr migrate 0    # Rollback all migrations`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Store != config.StoreLibSQL {
		return fmt.Errorf("migrations only apply to the %s store, %s_STORE is %q", config.StoreLibSQL, config.Prefix, cfg.Store)
	}
	log, err := NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	db, err := turso.Open(ctx, turso.Options{URL: cfg.DatabaseURL, AuthToken: cfg.AuthToken, Ping: true})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	m := migrate.New(db, log)
	current, _, err := m.Current(ctx)
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Current version: %d\n", current)

	var applied int
	if len(args) == 0 {
		applied, err = m.Up(ctx)
	} else {
		target, convErr := strconv.Atoi(args[0])
		if convErr != nil || target < 0 {
			return fmt.Errorf("invalid version number: %s", args[0])
		}
		applied, err = m.To(ctx, target)
	}
	if err != nil {
		return err
	}

	if applied == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Already at target version")
		return nil
	}
	version, _, err := m.Current(ctx)
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s), now at version %d\n", applied, version)
	return nil
}
