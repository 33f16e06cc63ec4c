/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func RootApp() *cli.App {
	return &cli.App{
		Name:  "airlive",
		Usage: "A live feed of short updates that refreshes as they are published",
		Description: `Serves a reverse-chronological feed of short text updates and pushes
		every change to open browsers as soon as the content store reports it.

		Updates are read from one of three content stores: a Sanity dataset,
		a PostgreSQL table or the posts of a Bluesky account. Each store also
		provides the change subscription that keeps the feed live.

		Flags can generally be set via environment variables, e.g.:

		--backend => AIRLIVE_BACKEND=postgres
		--port => AIRLIVE_PORT=8080
		`,
		Flags: globalFlags(),
		Before: func(ctx *cli.Context) error {
			return setupLogging(ctx.String("log-level"), ctx.String("log-format"))
		},
		Commands: []*cli.Command{
			serveCmd(),
			watchCmd(),
			subscribeCmd(),
			migrateCmd(),
			rollbackCmd(),
			initCmd(),
		},
		Action: func(ctx *cli.Context) error {
			// Show help if no command is specified
			return ctx.App.Run([]string{"", "help"})
		},
	}
}

// Execute runs the CLI with the process arguments
func Execute() {
	if err := RootApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to a TOML configuration file",
			EnvVars: []string{"AIRLIVE_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Value:   "info",
			Usage:   "Log level: debug, info, warn or error",
			EnvVars: []string{"AIRLIVE_LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "log-format",
			Value:   "text",
			Usage:   "Log format: text or json",
			EnvVars: []string{"AIRLIVE_LOG_FORMAT"},
		},
	}
}

func setupLogging(level string, format string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	log.SetLevel(lvl)

	switch strings.ToLower(format) {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text", "":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("invalid log format %q", format)
	}
	return nil
}
