/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"airlive/feed"
	"airlive/models"
	"airlive/render"
	"airlive/timefmt"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// refresher re-reads the feed on demand
type refresher interface {
	Refresh(ctx context.Context) error
}

type stateMsg models.FeedState

type tickMsg time.Time

type refreshedMsg struct {
	err error
}

type stoppedMsg struct {
	err error
}

type watchModel struct {
	ctx       context.Context
	refresher refresher
	writer    *render.TextWriter
	loc       *time.Location
	now       func() time.Time
	state     models.FeedState
	err       error
	stopErr   error
	quitting  bool
}

func newWatchModel(ctx context.Context, r refresher, writer *render.TextWriter, loc *time.Location, initial models.FeedState) watchModel {
	return watchModel{
		ctx:       ctx,
		refresher: r,
		writer:    writer,
		loc:       loc,
		now:       time.Now,
		state:     initial,
	}
}

// tick redraws every minute so relative labels stay current
func tick() tea.Cmd {
	return tea.Tick(time.Minute, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m watchModel) refresh() tea.Cmd {
	return func() tea.Msg {
		return refreshedMsg{err: m.refresher.Refresh(m.ctx)}
	}
}

func (m watchModel) Init() tea.Cmd {
	return tick()
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case stateMsg:
		m.state = models.FeedState(msg)
	case tickMsg:
		return m, tick()
	case refreshedMsg:
		m.err = msg.err
	case stoppedMsg:
		m.stopErr = msg.err
		m.quitting = true
		return m, tea.Quit
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, m.refresh()
		}
	}
	return m, nil
}

func (m watchModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	view := render.Build(m.state, m.now(), m.loc)
	if err := m.writer.Write(&b, view); err != nil {
		return fmt.Sprintf("Failed to draw feed: %v\n", err)
	}

	if m.err != nil {
		fmt.Fprintf(&b, "\nRefresh failed: %v\n", m.err)
	}
	b.WriteString("\nr refresh · q quit\n")
	return b.String()
}

func watchCmd() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Follow the live feed in the terminal",
		Description: `Reads the feed once, then redraws it in the terminal every time
the content store reports a change. Press r to re-read the feed and q to quit.
Logs go to stderr.`,
		Flags: append([]cli.Flag{
			timezoneFlag(),
			&cli.BoolFlag{
				Name:  "no-color",
				Usage: "Disable coloured output",
			},
		}, storeFlags()...),
		Action: func(ctx *cli.Context) error {
			log.SetOutput(os.Stderr)

			cfg, err := loadValidConfig(ctx)
			if err != nil {
				return err
			}

			loc, err := timefmt.ResolveLocation(cfg.Site.Timezone)
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

			var program *tea.Program
			synchronizer := feed.NewSynchronizer(stores.live, feed.OnChange(func(state models.FeedState) {
				program.Send(stateMsg(state))
			}))

			model := newWatchModel(runCtx, synchronizer, render.NewTextWriter(!ctx.Bool("no-color")), loc,
				models.FeedState{Updates: initial, IsConnected: true})
			program = tea.NewProgram(model, tea.WithAltScreen())

			// Start needs the program running, its first change is sent synchronously
			go func() {
				if err := synchronizer.Start(runCtx, initial); err != nil {
					program.Send(stoppedMsg{err: err})
					return
				}
				<-synchronizer.Done()
				program.Send(stoppedMsg{})
			}()
			defer synchronizer.Teardown()

			final, err := program.Run()
			if err != nil {
				return err
			}
			if m, ok := final.(watchModel); ok && m.stopErr != nil {
				return m.stopErr
			}
			return nil
		},
	}
}
