/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"airlive/feed"
	"airlive/render"
	"airlive/server"
	"airlive/timefmt"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func serveCmd() *cli.Command {
	flags := append(siteFlags(), timezoneFlag())
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the live feed",
		Description: `Starts the HTTP server and the change subscription.

The page is rendered from a fresh read of the content store, cached for the
revalidate window. Open pages follow a shared live feed over server-sent
events and are re-rendered whenever the content store reports a change.`,
		Flags: append(flags, storeFlags()...),
		Action: func(ctx *cli.Context) error {
			cfg, err := loadValidConfig(ctx)
			if err != nil {
				return err
			}

			loc, err := timefmt.ResolveLocation(cfg.Site.Timezone)
			if err != nil {
				return err
			}

			// Graceful shutdown
			runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			stores, err := openStores(runCtx, cfg)
			if err != nil {
				return err
			}
			defer stores.Close()

			initial, err := stores.live.FetchAll(runCtx)
			if err != nil {
				return fmt.Errorf("initial fetch failed: %w", err)
			}

			bc := server.NewBroadcaster()
			synchronizer := feed.NewSynchronizer(stores.live, feed.OnChange(bc.Broadcast))
			if err := synchronizer.Start(runCtx, initial); err != nil {
				return err
			}
			defer synchronizer.Teardown()

			app := server.Server(&server.ServerConfig{
				Site: render.Site{
					Title:       cfg.Site.Title,
					Tagline:     cfg.Site.Tagline,
					Description: cfg.Site.Description,
				},
				Store:        stores.pages,
				Sync:         synchronizer,
				Broadcaster:  bc,
				Location:     loc,
				Revalidate:   cfg.Site.Revalidate,
				AllowOrigins: cfg.Site.AllowOrigins,
				Hostname:     cfg.Site.Hostname,
			})

			listenErr := make(chan error, 1)
			go func() {
				log.WithFields(log.Fields{
					"port":    cfg.Site.Port,
					"backend": cfg.Backend,
					"updates": len(initial),
				}).Info("Starting server")
				listenErr <- app.Listen(fmt.Sprintf(":%d", cfg.Site.Port))
			}()

			select {
			case <-runCtx.Done():
				log.Info("Gracefully shutting down...")
			case err = <-listenErr:
				log.WithFields(log.Fields{
					"error": err,
				}).Error("Server stopped")
			}

			// Ending the SSE streams first lets the server drain its connections
			bc.Shutdown()
			if shutdownErr := app.ShutdownWithTimeout(60 * time.Second); shutdownErr != nil {
				log.WithFields(log.Fields{
					"error": shutdownErr,
				}).Warn("Server shutdown timed out")
			}
			synchronizer.Teardown()

			log.Info("Done!")
			return err
		},
	}
}
