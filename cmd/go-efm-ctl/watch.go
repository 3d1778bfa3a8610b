package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/randomizedcoder/go-efm-ctl/internal/config"
	"github.com/randomizedcoder/go-efm-ctl/internal/preflight"
	"github.com/randomizedcoder/go-efm-ctl/internal/tui"
	"github.com/randomizedcoder/go-efm-ctl/internal/watch"
)

var errPreflight = errors.New("preflight checks failed (use --skip-preflight to override)")

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Poll cluster status, serve metrics and reload config on SIGHUP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runWatch(cmd)
		},
	}
}

func (a *app) runWatch(cmd *cobra.Command) error {
	cfg := a.cfg

	if !cfg.SkipPreflight {
		result := preflight.RunAll(cfg, a.gate)
		preflight.PrintResults(a.stdout, result)
		if !result.Passed {
			return errPreflight
		}
	}

	var out io.Writer = a.stdout
	if cfg.TUIEnabled {
		out = nil
	}

	w := watch.New(watch.Options{
		Source:      a.dispatcher,
		Logger:      a.logger,
		Interval:    cfg.WatchInterval,
		Mode:        cfg.WatchMode,
		MetricsAddr: cfg.MetricsAddr,
		Out:         out,
		Load:        a.reloadFunc(cmd),
	})

	a.logger.Info("starting",
		"version", version,
		"cluster", cfg.ClusterName,
		"interval", cfg.WatchInterval.String(),
		"metrics_addr", cfg.MetricsAddr,
	)

	var err error
	if cfg.TUIEnabled {
		err = a.runWithTUI(cmd.Context(), w)
	} else {
		err = w.Run(cmd.Context())
	}
	if err != nil {
		return err
	}

	a.dumpMetrics()
	fmt.Fprint(a.stdout, w.ExitSummary(cfg.MetricsAddr))
	return nil
}

// runWithTUI runs the watcher behind the dashboard. Quitting the dashboard
// stops the watcher.
func (a *app) runWithTUI(ctx context.Context, w *watch.Watcher) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(
		tui.New(tui.Config{Source: w, MetricsAddr: a.cfg.MetricsAddr, Version: version}),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	w.OnPoll(func(st watch.Status) { tui.SendStatus(p, st) })
	defer w.OnPoll(nil)
	go func() {
		<-ctx.Done()
		tui.SendQuit(p)
	}()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		a.logger.Warn("tui_error", "error", err)
	}
	cancel()
	return <-done
}

// reloadFunc re-reads the config file for SIGHUP. Without a config file
// there is nothing new to read, so the flag configuration is reapplied.
func (a *app) reloadFunc(cmd *cobra.Command) func() (*config.Config, error) {
	return func() (*config.Config, error) {
		return a.loadConfig(cmd)
	}
}
