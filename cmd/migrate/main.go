package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/cassiomorais/callbacks/internal/infrastructure/config"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"
)

var (
	dbURL          string
	migrationsPath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the callback store schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "Database URL (defaults to DATABASE_URL, then the service config)")
	rootCmd.PersistentFlags().StringVar(&migrationsPath, "path", "internal/repository/postgres/migrations", "Path to migration files")

	rootCmd.AddCommand(upCmd())
	rootCmd.AddCommand(downCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func upCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newMigrate()
			if err != nil {
				return err
			}
			defer m.Close()

			if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
				return fmt.Errorf("migration up failed: %w", err)
			}
			fmt.Println("Migrations applied successfully")
			return nil
		},
	}
}

func downCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back migrations, all of them unless steps is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newMigrate()
			if err != nil {
				return err
			}
			defer m.Close()

			if len(args) == 1 {
				steps, err := strconv.Atoi(args[0])
				if err != nil || steps <= 0 {
					return fmt.Errorf("steps must be a positive integer, got %q", args[0])
				}
				err = m.Steps(-steps)
				if err != nil && !errors.Is(err, migrate.ErrNoChange) {
					return fmt.Errorf("migration down failed: %w", err)
				}
			} else if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
				return fmt.Errorf("migration down failed: %w", err)
			}
			fmt.Println("Migrations rolled back successfully")
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newMigrate()
			if err != nil {
				return err
			}
			defer m.Close()

			version, dirty, err := m.Version()
			if errors.Is(err, migrate.ErrNilVersion) {
				fmt.Println("No migrations applied")
				return nil
			}
			if err != nil {
				return fmt.Errorf("read version: %w", err)
			}
			fmt.Printf("Version %d (dirty: %t)\n", version, dirty)
			return nil
		},
	}
}

func newMigrate() (*migrate.Migrate, error) {
	url, err := resolveDBURL()
	if err != nil {
		return nil, err
	}
	m, err := migrate.New("file://"+migrationsPath, url)
	if err != nil {
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}
	return m, nil
}

func resolveDBURL() (string, error) {
	if dbURL != "" {
		return dbURL, nil
	}
	if env := os.Getenv("DATABASE_URL"); env != "" {
		return env, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	return cfg.Database.MigrateURL(), nil
}
