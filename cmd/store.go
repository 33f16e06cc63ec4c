/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"airlive/config"
	"airlive/store"
	"airlive/store/bluesky"
	"airlive/store/postgres"
	"airlive/store/sanity"
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// stores holds the clients for the configured backend. Page renders may read
// through a cache, the live feed never does.
type stores struct {
	pages store.Client
	live  store.Client
	close func() error
}

func (s *stores) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

func openStores(ctx context.Context, cfg config.Config) (*stores, error) {
	log.WithFields(log.Fields{
		"backend": cfg.Backend,
	}).Info("Opening content store")

	switch cfg.Backend {
	case config.BackendSanity:
		sc := sanity.Config{
			ProjectId:  cfg.Sanity.ProjectId,
			Dataset:    cfg.Sanity.Dataset,
			ApiVersion: cfg.Sanity.ApiVersion,
			Token:      cfg.Sanity.Token,
			UseCdn:     cfg.Sanity.UseCdn,
			DocType:    cfg.Sanity.DocType,
		}
		pages := sanity.New(sc)
		sc.UseCdn = false
		return &stores{pages: pages, live: sanity.New(sc)}, nil

	case config.BackendPostgres:
		db, err := postgres.New(postgresConfig(cfg))
		if err != nil {
			return nil, err
		}
		return &stores{pages: db, live: db, close: db.Close}, nil

	case config.BackendBluesky:
		bc := bluesky.Config{
			Actor:       cfg.Bluesky.Actor,
			AppViewHost: cfg.Bluesky.AppViewHost,
			PDSHost:     cfg.Bluesky.PDSHost,
			Jetstream: bluesky.JetstreamConfig{
				Hosts:     cfg.Bluesky.JetstreamHosts,
				Compress:  true,
				UserAgent: cfg.Bluesky.UserAgent,
			},
		}
		if cfg.Bluesky.Identifier != "" {
			bc.Credentials = &bluesky.Credentials{
				Identifier: cfg.Bluesky.Identifier,
				Password:   cfg.Bluesky.Password,
			}
		}
		client, err := bluesky.New(ctx, bc)
		if err != nil {
			return nil, err
		}
		return &stores{pages: client, live: client}, nil
	}

	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

func postgresConfig(cfg config.Config) postgres.Config {
	return postgres.Config{
		Host:                 cfg.Postgres.Host,
		Port:                 cfg.Postgres.Port,
		User:                 cfg.Postgres.User,
		Password:             cfg.Postgres.Password,
		Name:                 cfg.Postgres.Name,
		SSLMode:              cfg.Postgres.SSLMode,
		MinReconnectInterval: cfg.Postgres.MinReconnectInterval,
		MaxReconnectInterval: cfg.Postgres.MaxReconnectInterval,
	}
}
