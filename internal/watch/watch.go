// Package watch polls cluster-status on an interval.
//
// A Watcher owns the long-running side of the tool: it serves the metrics
// endpoint, polls efm, prints status changes (or feeds the TUI), reloads the
// configuration on SIGHUP and prints an exit summary on shutdown.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/randomizedcoder/go-efm-ctl/internal/config"
	"github.com/randomizedcoder/go-efm-ctl/internal/logging"
	"github.com/randomizedcoder/go-efm-ctl/internal/metrics"
	"github.com/randomizedcoder/go-efm-ctl/internal/stats"
	"github.com/randomizedcoder/go-efm-ctl/internal/stream"
)

// Poll outcomes, used as the metrics label.
const (
	PollOK      = "ok"
	PollNonZero = "nonzero"
	PollError   = "error"
)

// shutdownTimeout bounds the metrics server shutdown.
const shutdownTimeout = 5 * time.Second

// Source is the subset of the dispatcher a Watcher needs.
type Source interface {
	ClusterStatus(ctx context.Context, mode string) (*stream.Stream, error)
	Reload(cfg *config.Config) error
	Recorder() *stats.Recorder
	Metrics() *metrics.Collector
	Config() *config.Config
}

// Options configures a Watcher.
type Options struct {
	Source Source
	Logger *slog.Logger

	// Interval and Mode default to the source's configuration.
	Interval time.Duration
	Mode     string

	// MetricsAddr enables the metrics server when non-empty.
	MetricsAddr string

	// Out receives the status lines whenever they change. Nil disables
	// printing (the TUI renders them instead).
	Out io.Writer

	// Load re-reads the configuration on SIGHUP. Nil disables reloading.
	Load func() (*config.Config, error)

	// Signals overrides the process signal subscription.
	Signals <-chan os.Signal
}

// Status is a point-in-time view of the watcher, safe to hand to the TUI.
type Status struct {
	Cluster  string
	Mode     string
	Interval time.Duration

	Lines   []string
	Outcome string
	Err     error
	LastAt  time.Time
	Changed time.Time

	Polls    int
	Failures int
	Reloads  int

	Operations []stats.OperationStats
	Elapsed    time.Duration
}

// Watcher runs the poll loop.
type Watcher struct {
	source   Source
	logger   *slog.Logger
	interval time.Duration
	mode     string
	out      io.Writer
	load     func() (*config.Config, error)
	signals  <-chan os.Signal

	server *metrics.Server

	mu       sync.RWMutex
	onPoll   func(Status)
	lines    []string
	outcome  string
	lastErr  error
	lastAt   time.Time
	changed  time.Time
	polls    int
	failures int
	reloads  int
	ready    bool
	start    time.Time
}

// New creates a watcher.
func New(opts Options) *Watcher {
	cfg := opts.Source.Config()

	w := &Watcher{
		source:   opts.Source,
		logger:   opts.Logger,
		interval: opts.Interval,
		mode:     opts.Mode,
		out:      opts.Out,
		load:     opts.Load,
		signals:  opts.Signals,
		start:    time.Now(),
	}
	if w.logger == nil {
		w.logger = logging.Discard()
	}
	if w.interval <= 0 {
		w.interval = cfg.WatchInterval
	}
	if w.mode == "" {
		w.mode = cfg.WatchMode
	}
	if opts.MetricsAddr != "" {
		w.server = metrics.NewServer(opts.MetricsAddr, opts.Source.Metrics().Registry(), w.Ready, w.logger)
	}
	return w
}

// Run polls until ctx is cancelled or SIGINT/SIGTERM arrives. The first
// poll happens immediately.
func (w *Watcher) Run(ctx context.Context) error {
	if w.server != nil {
		if err := w.server.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	sigCh := w.signals
	if sigCh == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
		defer signal.Stop(ch)
		sigCh = ch
	}

	w.logger.Info("watch_starting",
		"cluster", w.source.Config().ClusterName,
		"interval", w.interval.String(),
		"mode", w.mode,
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Poll(ctx)

loop:
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("context_cancelled")
			break loop
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				w.Reload()
				continue
			}
			w.logger.Info("received_signal", "signal", sig.String())
			break loop
		case <-ticker.C:
			w.Poll(ctx)
		}
	}

	if w.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := w.server.Shutdown(shutdownCtx); err != nil {
			w.logger.Warn("metrics_server_shutdown_error", "error", err)
		}
	}
	return nil
}

// Poll runs cluster-status once and records the result. It returns the
// error the stream ended with, if any.
func (w *Watcher) Poll(ctx context.Context) error {
	at := time.Now()

	lines, exitCode, err := w.collect(ctx)
	outcome := PollOK
	switch {
	case err != nil:
		outcome = PollError
	case exitCode != 0:
		outcome = PollNonZero
	}
	w.source.Metrics().RecordPoll(outcome, len(lines), at)

	w.mu.Lock()
	w.polls++
	w.outcome = outcome
	w.lastErr = err
	w.lastAt = at
	changed := false
	if outcome != PollOK {
		w.failures++
	} else {
		w.ready = true
	}
	if err == nil && !slices.Equal(lines, w.lines) {
		w.lines = lines
		w.changed = at
		changed = true
	}
	polls := w.polls
	onPoll := w.onPoll
	w.mu.Unlock()

	if onPoll != nil {
		onPoll(w.Status())
	}

	if err != nil {
		w.logger.Warn("poll_failed", "poll", polls, "error", err)
		return err
	}
	if outcome == PollNonZero {
		w.logger.Warn("poll_nonzero_exit", "poll", polls, "exit_code", exitCode)
	}
	if changed {
		w.logger.Info("status_changed", "poll", polls, "lines", len(lines))
		w.print(at, lines)
	} else {
		w.logger.Debug("status_unchanged", "poll", polls)
	}
	return nil
}

func (w *Watcher) collect(ctx context.Context) ([]string, int, error) {
	s, err := w.source.ClusterStatus(ctx, w.mode)
	if err != nil {
		return nil, -1, err
	}
	lines, err := stream.Collect(s)
	return lines, s.Summary().ExitCode, err
}

func (w *Watcher) print(at time.Time, lines []string) {
	if w.out == nil {
		return
	}
	fmt.Fprintf(w.out, "--- %s cluster-status (%s) ---\n", at.Format(time.RFC3339), w.mode)
	for _, line := range lines {
		fmt.Fprintln(w.out, line)
	}
}

// Reload re-reads the configuration and hands it to the source. The
// interval and mode stay as they were at startup.
func (w *Watcher) Reload() error {
	if w.load == nil {
		w.logger.Warn("config_reload_unavailable")
		return errors.New("no configuration loader")
	}
	cfg, err := w.load()
	if err != nil {
		w.logger.Warn("config_reload_failed", "error", err)
		w.source.Metrics().RecordReload(err)
		return err
	}
	if err := w.source.Reload(cfg); err != nil {
		return err
	}
	w.mu.Lock()
	w.reloads++
	w.mu.Unlock()
	return nil
}

// OnPoll registers fn to receive the status after every poll. It replaces
// any earlier registration.
func (w *Watcher) OnPoll(fn func(Status)) {
	w.mu.Lock()
	w.onPoll = fn
	w.mu.Unlock()
}

// Ready reports whether at least one poll has succeeded.
func (w *Watcher) Ready() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.ready
}

// Status returns the current watcher state.
func (w *Watcher) Status() Status {
	w.mu.RLock()
	st := Status{
		Mode:     w.mode,
		Interval: w.interval,
		Lines:    slices.Clone(w.lines),
		Outcome:  w.outcome,
		Err:      w.lastErr,
		LastAt:   w.lastAt,
		Changed:  w.changed,
		Polls:    w.polls,
		Failures: w.failures,
		Reloads:  w.reloads,
		Elapsed:  time.Since(w.start),
	}
	w.mu.RUnlock()

	st.Cluster = w.source.Config().ClusterName
	st.Operations = w.source.Recorder().Snapshot()
	return st
}

// ExitSummary renders the per-operation summary printed on shutdown, with
// the poll and reload totals taken from the metrics registry.
func (w *Watcher) ExitSummary(metricsAddr string) string {
	r := w.source.Recorder()
	cfg := stats.SummaryConfig{
		Cluster:     w.source.Config().ClusterName,
		Duration:    r.Elapsed(),
		MetricsAddr: metricsAddr,
		ExitCodes:   r.ExitCodes(),
	}

	snap, err := metrics.Snapshot(w.source.Metrics().Registry())
	if err != nil {
		w.logger.Warn("metrics_snapshot_failed", "error", err)
	} else {
		cfg.Polls = labelCounts(snap, "efm_ctl_watch_polls_total", "outcome", PollOK, PollNonZero, PollError)
		cfg.Reloads = labelCounts(snap, "efm_ctl_config_reloads_total", "result", "ok", "error")
	}
	return stats.FormatExitSummary(r.Snapshot(), cfg)
}

// labelCounts picks the non-zero samples of a single-label counter.
func labelCounts(snap map[string]float64, name, label string, values ...string) map[string]int {
	out := make(map[string]int)
	for _, v := range values {
		if n := snap[fmt.Sprintf("%s{%s=%q}", name, label, v)]; n > 0 {
			out[v] = int(n)
		}
	}
	return out
}
