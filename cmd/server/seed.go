package main

import (
	"bytes"

	"github.com/spf13/cobra"

	"github.com/sumire/bugtracker/internal/auth"
	"github.com/sumire/bugtracker/internal/repository"
	"github.com/sumire/bugtracker/internal/seed"
)

func newSeedCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load users, projects and tickets from a YAML fixture",
		Long:  `Load users, projects and tickets from a YAML fixture. Without --file the built-in demo accounts are loaded.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}

			fixture, err := loadFixture(file)
			if err != nil {
				return err
			}

			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			seeder := seed.NewSeeder(
				repository.NewUserRepository(db),
				repository.NewProjectRepository(db),
				repository.NewTicketRepository(db),
				auth.NewBcryptHasher(cfg.BcryptCost),
				repository.NewTxManager(db),
			)
			_, err = seeder.Apply(cmd.Context(), fixture)
			return err
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to a YAML fixture")
	return cmd
}

func loadFixture(path string) (*seed.Fixture, error) {
	if path == "" {
		return seed.Parse(bytes.NewReader(seed.DemoYAML))
	}
	return seed.LoadFile(path)
}
