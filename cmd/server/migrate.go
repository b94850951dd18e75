package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sumire/bugtracker/internal/repository"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(*cobra.Command, []string) error {
			return withMigrator(func(m *repository.Migrator) error { return m.Down(steps) })
		},
	}
	down.Flags().IntVarP(&steps, "steps", "n", 1, "Number of migrations to roll back")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE: func(*cobra.Command, []string) error {
				return withMigrator(func(m *repository.Migrator) error { return m.Up() })
			},
		},
		down,
		&cobra.Command{
			Use:   "status",
			Short: "Show the state of every migration",
			RunE: func(*cobra.Command, []string) error {
				return withMigrator(func(m *repository.Migrator) error { return m.Status() })
			},
		},
	)
	return cmd
}

func withMigrator(fn func(*repository.Migrator) error) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	m, err := repository.NewMigrator(db.DB)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	return fn(m)
}
