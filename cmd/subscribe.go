/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"airlive/feed"
	"airlive/models"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func subscribeCmd() *cli.Command {
	return &cli.Command{
		Name:  "subscribe",
		Usage: "Print every feed change to the command line",
		Description: `Follows the configured content store and prints the whole feed
every time it changes.

Returns each feed state as a JSON object on a single line. Use a tool like jq to
process the output.

Prints all other log messages to stderr.`,
		Flags: storeFlags(),
		Action: func(ctx *cli.Context) error {
			// Disable logging to stdout
			log.SetOutput(os.Stderr)

			cfg, err := loadValidConfig(ctx)
			if err != nil {
				return err
			}

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

			synchronizer := feed.NewSynchronizer(stores.live, feed.OnChange(func(state models.FeedState) {
				printStdout(os.Stdout, state)
			}))
			if err := synchronizer.Start(runCtx, initial); err != nil {
				return err
			}
			defer synchronizer.Teardown()

			<-synchronizer.Done()
			log.Info("Stopping subscription")
			return nil
		},
	}
}

// printStdout writes state as a single JSON line
func printStdout(w io.Writer, state models.FeedState) {
	line, err := json.Marshal(state)
	if err != nil {
		log.WithFields(log.Fields{
			"error": err,
		}).Error("Error marshalling feed state")
		return
	}
	fmt.Fprintln(w, string(line))
}
