/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"airlive/config"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/cqroot/prompt"
	"github.com/cqroot/prompt/input"
	"github.com/urfave/cli/v2"
)

// asker is the part of an interactive prompt initCmd needs
type asker interface {
	Input(question string, value string, secret bool) (string, error)
	Choose(question string, choices []string) (string, error)
}

type promptAsker struct{}

func (promptAsker) Input(question string, value string, secret bool) (string, error) {
	if secret {
		return prompt.New().Ask(question).Input(value, input.WithEchoMode(input.EchoNone))
	}
	return prompt.New().Ask(question).Input(value)
}

func (promptAsker) Choose(question string, choices []string) (string, error) {
	return prompt.New().Ask(question).Choose(choices)
}

func initCmd() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Write a configuration file",
		Description: `Asks for the page settings and the content store to use and writes
them to a TOML file that can be passed to the other commands with --config.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Value:   "airlive.toml",
				Usage:   "Where to write the configuration file",
			},
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Overwrite an existing file",
			},
		},
		Action: func(ctx *cli.Context) error {
			path := ctx.String("output")
			if _, err := os.Stat(path); err == nil && !ctx.Bool("force") {
				return fmt.Errorf("%s already exists, use --force to overwrite it", path)
			}

			cfg, err := askConfig(promptAsker{}, config.Default())
			if err != nil {
				return err
			}

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			if err := config.Write(path, cfg); err != nil {
				return err
			}
			fmt.Println("Wrote configuration to", path)
			return nil
		},
	}
}

// askConfig fills in cfg interactively, defaults are offered as the initial answers
func askConfig(a asker, cfg config.Config) (config.Config, error) {
	var err error

	if cfg.Site.Title, err = a.Input("Page title:", cfg.Site.Title, false); err != nil {
		return cfg, err
	}
	if cfg.Site.Tagline, err = a.Input("Tagline:", cfg.Site.Tagline, false); err != nil {
		return cfg, err
	}
	port, err := a.Input("Port:", strconv.Itoa(cfg.Site.Port), false)
	if err != nil {
		return cfg, err
	}
	if cfg.Site.Port, err = strconv.Atoi(port); err != nil {
		return cfg, fmt.Errorf("invalid port %q: %w", port, err)
	}
	if cfg.Site.Timezone, err = a.Input("Timezone (empty for local):", cfg.Site.Timezone, false); err != nil {
		return cfg, err
	}

	backends := []string{config.BackendSanity, config.BackendPostgres, config.BackendBluesky}
	if cfg.Backend, err = a.Choose("Content store:", backends); err != nil {
		return cfg, err
	}

	switch cfg.Backend {
	case config.BackendSanity:
		if cfg.Sanity.ProjectId, err = a.Input("Sanity project id:", cfg.Sanity.ProjectId, false); err != nil {
			return cfg, err
		}
		if cfg.Sanity.Dataset, err = a.Input("Sanity dataset:", cfg.Sanity.Dataset, false); err != nil {
			return cfg, err
		}
		if cfg.Sanity.Token, err = a.Input("Sanity read token (empty for public datasets):", "", true); err != nil {
			return cfg, err
		}

	case config.BackendPostgres:
		if cfg.Postgres.Host, err = a.Input("PostgreSQL host:", cfg.Postgres.Host, false); err != nil {
			return cfg, err
		}
		if cfg.Postgres.Name, err = a.Input("PostgreSQL database:", cfg.Postgres.Name, false); err != nil {
			return cfg, err
		}
		if cfg.Postgres.User, err = a.Input("PostgreSQL user:", cfg.Postgres.User, false); err != nil {
			return cfg, err
		}
		if cfg.Postgres.Password, err = a.Input("PostgreSQL password:", "", true); err != nil {
			return cfg, err
		}

	case config.BackendBluesky:
		if cfg.Bluesky.Actor, err = a.Input("Bluesky handle or DID:", "myname.bsky.social", false); err != nil {
			return cfg, err
		}

	default:
		return cfg, errors.New("no content store chosen")
	}

	return cfg, nil
}
