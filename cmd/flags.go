/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"airlive/config"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// Flags carry no Value, the defaults live in config.Default so a config file
// is only overridden by flags that were actually set

func siteFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "title",
			Usage:   "Page title",
			EnvVars: []string{"AIRLIVE_TITLE"},
		},
		&cli.StringFlag{
			Name:    "tagline",
			Usage:   "Line shown under the title",
			EnvVars: []string{"AIRLIVE_TAGLINE"},
		},
		&cli.StringFlag{
			Name:    "description",
			Usage:   "Page meta description",
			EnvVars: []string{"AIRLIVE_DESCRIPTION"},
		},
		&cli.IntFlag{
			Name:        "port",
			Aliases:     []string{"p"},
			Usage:       "Port to listen on",
			DefaultText: "3000",
			EnvVars:     []string{"AIRLIVE_PORT"},
		},
		&cli.DurationFlag{
			Name:        "revalidate",
			Usage:       "How long a rendered page is served from cache, 0 disables the cache",
			DefaultText: "10s",
			EnvVars:     []string{"AIRLIVE_REVALIDATE"},
		},
		&cli.StringFlag{
			Name:    "allow-origins",
			Usage:   "Comma separated origins allowed to call the API from a browser",
			EnvVars: []string{"AIRLIVE_ALLOW_ORIGINS"},
		},
		&cli.StringFlag{
			Name:        "hostname",
			Usage:       "Public URL of the page, used for links in the RSS and Atom feeds",
			DefaultText: "the request host",
			EnvVars:     []string{"AIRLIVE_HOSTNAME"},
		},
	}
}

func timezoneFlag() cli.Flag {
	return &cli.StringFlag{
		Name:        "timezone",
		Aliases:     []string{"tz"},
		Usage:       "IANA timezone for rendered times, e.g. Europe/Oslo",
		DefaultText: "local",
		EnvVars:     []string{"AIRLIVE_TIMEZONE"},
	}
}

func postgresFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "db-host",
			Usage:       "PostgreSQL host",
			DefaultText: "localhost",
			EnvVars:     []string{"AIRLIVE_DB_HOST"},
		},
		&cli.IntFlag{
			Name:        "db-port",
			Usage:       "PostgreSQL port",
			DefaultText: "5432",
			EnvVars:     []string{"AIRLIVE_DB_PORT"},
		},
		&cli.StringFlag{
			Name:        "db-user",
			Usage:       "PostgreSQL user",
			DefaultText: "airlive",
			EnvVars:     []string{"AIRLIVE_DB_USER"},
		},
		&cli.StringFlag{
			Name:    "db-password",
			Usage:   "PostgreSQL password",
			EnvVars: []string{"AIRLIVE_DB_PASSWORD"},
		},
		&cli.StringFlag{
			Name:        "db-name",
			Usage:       "PostgreSQL database name",
			DefaultText: "airlive",
			EnvVars:     []string{"AIRLIVE_DB_NAME"},
		},
		&cli.StringFlag{
			Name:        "db-sslmode",
			Usage:       "PostgreSQL sslmode",
			DefaultText: "disable",
			EnvVars:     []string{"AIRLIVE_DB_SSLMODE"},
		},
	}
}

func storeFlags() []cli.Flag {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "backend",
			Aliases:     []string{"b"},
			Usage:       "Content store: sanity, postgres or bluesky",
			DefaultText: config.BackendSanity,
			EnvVars:     []string{"AIRLIVE_BACKEND"},
		},
		&cli.StringFlag{
			Name:    "sanity-project-id",
			Usage:   "Sanity project id",
			EnvVars: []string{"AIRLIVE_SANITY_PROJECT_ID"},
		},
		&cli.StringFlag{
			Name:        "sanity-dataset",
			Usage:       "Sanity dataset",
			DefaultText: "production",
			EnvVars:     []string{"AIRLIVE_SANITY_DATASET"},
		},
		&cli.StringFlag{
			Name:        "sanity-api-version",
			Usage:       "Sanity API version",
			DefaultText: "2024-01-01",
			EnvVars:     []string{"AIRLIVE_SANITY_API_VERSION"},
		},
		&cli.StringFlag{
			Name:    "sanity-token",
			Usage:   "Sanity read token, required for private datasets",
			EnvVars: []string{"AIRLIVE_SANITY_TOKEN"},
		},
		&cli.BoolFlag{
			Name:        "sanity-use-cdn",
			Usage:       "Serve page renders from the Sanity CDN",
			DefaultText: "true",
			EnvVars:     []string{"AIRLIVE_SANITY_USE_CDN"},
		},
		&cli.StringFlag{
			Name:    "bluesky-actor",
			Usage:   "Handle or DID of the Bluesky account whose posts make up the feed",
			EnvVars: []string{"AIRLIVE_BLUESKY_ACTOR"},
		},
		&cli.StringFlag{
			Name:    "bluesky-identifier",
			Usage:   "Bluesky login, optional",
			EnvVars: []string{"AIRLIVE_BLUESKY_IDENTIFIER"},
		},
		&cli.StringFlag{
			Name:    "bluesky-password",
			Usage:   "Bluesky app password, optional",
			EnvVars: []string{"AIRLIVE_BLUESKY_PASSWORD"},
		},
		&cli.StringSliceFlag{
			Name:    "jetstream-host",
			Usage:   "Jetstream host to follow changes on, can be repeated",
			EnvVars: []string{"AIRLIVE_JETSTREAM_HOSTS"},
		},
	}
	return append(flags, postgresFlags()...)
}

// loadConfig builds the process configuration: defaults, then the config file, then flags
func loadConfig(ctx *cli.Context) (config.Config, error) {
	cfg := config.Default()

	if path := ctx.String("config"); path != "" {
		var err error
		cfg, err = config.LoadConfig(path)
		if err != nil {
			return cfg, err
		}
		log.WithFields(log.Fields{
			"path": path,
		}).Info("Loaded configuration file")
	}

	setString(ctx, "title", &cfg.Site.Title)
	setString(ctx, "tagline", &cfg.Site.Tagline)
	setString(ctx, "description", &cfg.Site.Description)
	setInt(ctx, "port", &cfg.Site.Port)
	setString(ctx, "timezone", &cfg.Site.Timezone)
	setString(ctx, "allow-origins", &cfg.Site.AllowOrigins)
	setString(ctx, "hostname", &cfg.Site.Hostname)
	if ctx.IsSet("revalidate") {
		cfg.Site.Revalidate = ctx.Duration("revalidate")
	}

	setString(ctx, "backend", &cfg.Backend)

	setString(ctx, "sanity-project-id", &cfg.Sanity.ProjectId)
	setString(ctx, "sanity-dataset", &cfg.Sanity.Dataset)
	setString(ctx, "sanity-api-version", &cfg.Sanity.ApiVersion)
	setString(ctx, "sanity-token", &cfg.Sanity.Token)
	if ctx.IsSet("sanity-use-cdn") {
		cfg.Sanity.UseCdn = ctx.Bool("sanity-use-cdn")
	}

	setString(ctx, "db-host", &cfg.Postgres.Host)
	setInt(ctx, "db-port", &cfg.Postgres.Port)
	setString(ctx, "db-user", &cfg.Postgres.User)
	setString(ctx, "db-password", &cfg.Postgres.Password)
	setString(ctx, "db-name", &cfg.Postgres.Name)
	setString(ctx, "db-sslmode", &cfg.Postgres.SSLMode)

	setString(ctx, "bluesky-actor", &cfg.Bluesky.Actor)
	setString(ctx, "bluesky-identifier", &cfg.Bluesky.Identifier)
	setString(ctx, "bluesky-password", &cfg.Bluesky.Password)
	if ctx.IsSet("jetstream-host") {
		cfg.Bluesky.JetstreamHosts = ctx.StringSlice("jetstream-host")
	}

	return cfg, nil
}

// loadValidConfig is loadConfig for commands that open the configured store
func loadValidConfig(ctx *cli.Context) (config.Config, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setString(ctx *cli.Context, name string, dst *string) {
	if ctx.IsSet(name) {
		*dst = ctx.String(name)
	}
}

func setInt(ctx *cli.Context, name string, dst *int) {
	if ctx.IsSet(name) {
		*dst = ctx.Int(name)
	}
}
