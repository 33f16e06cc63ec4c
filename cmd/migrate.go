/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"airlive/store/postgres"
	"fmt"

	"github.com/urfave/cli/v2"
)

func migrateCmd() *cli.Command {
	return &cli.Command{
		Name:        "migrate",
		Usage:       "Run database migrations",
		Description: `Creates or upgrades the updates table and its change notification trigger on the configured PostgreSQL database.`,
		Flags:       postgresFlags(),
		Action: func(ctx *cli.Context) error {
			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Database configured: %s:%d/%s\n",
				cfg.Postgres.Host,
				cfg.Postgres.Port,
				cfg.Postgres.Name,
			)
			return postgres.Migrate(postgresConfig(cfg))
		},
	}
}

func rollbackCmd() *cli.Command {
	return &cli.Command{
		Name:        "rollback",
		Usage:       "Rollback database migration",
		Description: `Rolls back the last database migration`,
		Flags:       postgresFlags(),
		Action: func(ctx *cli.Context) error {
			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Database configured: %s:%d/%s\n",
				cfg.Postgres.Host,
				cfg.Postgres.Port,
				cfg.Postgres.Name,
			)
			return postgres.Rollback(postgresConfig(cfg))
		},
	}
}
