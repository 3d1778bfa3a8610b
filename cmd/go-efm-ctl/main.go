// Package main provides the go-efm-ctl CLI entry point.
//
// go-efm-ctl runs a fixed set of EDB Failover Manager operations (cluster
// status, node admission, failover, switchover, priorities) on behalf of a
// privileged caller, and can watch cluster status with a live dashboard and
// Prometheus metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/randomizedcoder/go-efm-ctl/internal/config"
	"github.com/randomizedcoder/go-efm-ctl/internal/dispatch"
	"github.com/randomizedcoder/go-efm-ctl/internal/efm"
	"github.com/randomizedcoder/go-efm-ctl/internal/logging"
	"github.com/randomizedcoder/go-efm-ctl/internal/privilege"
	"github.com/randomizedcoder/go-efm-ctl/internal/process"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/go-efm-ctl
var version = "dev"

// exitStreamCorrupted is returned when a command's output could not be read.
const exitStreamCorrupted = 70

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := newApp(stdout, stderr)
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCodeFor(err)
	}
	return a.exitCode
}

// exitCodeFor maps an error to the process exit status.
func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, efm.ErrStreamCorrupted):
		return exitStreamCorrupted
	default:
		return 1
	}
}

// app holds the state shared by all subcommands.
type app struct {
	stdout io.Writer
	stderr io.Writer

	// flags is bound to the command line; cfg is the effective
	// configuration after the config file and flags are merged.
	flags      *config.Config
	configPath string
	cfg        *config.Config

	logger     *slog.Logger
	dispatcher *dispatch.Dispatcher

	// gate and spawner override the real implementations in tests.
	gate    privilege.Gate
	spawner process.Spawner

	exitCode int
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout: stdout,
		stderr: stderr,
		flags:  config.DefaultConfig(),
	}
}

// loadConfig reads the config file, if any, and applies explicitly set
// flags on top of it.
func (a *app) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if a.configPath == "" {
		return a.flags.Clone(), nil
	}
	cfg, err := config.FromFile(a.configPath, config.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", efm.ErrConfiguration, err)
	}
	if err := config.Overlay(cfg, cmd.Flags()); err != nil {
		return nil, fmt.Errorf("%w: %w", efm.ErrConfiguration, err)
	}
	return cfg, nil
}

// setup builds the effective configuration, the logger and the dispatcher.
//
// For operation commands the privilege gate is evaluated before the
// configuration is validated, so an unprivileged caller is refused the same
// way whatever the config file holds. If the file cannot be read, the gate
// uses the allowed UIDs given on the command line.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, loadErr := a.loadConfig(cmd)
	gateCfg := cfg
	if loadErr != nil {
		gateCfg = a.flags
	}
	if a.gate == nil {
		a.gate = privilege.NewUnixGate(gateCfg.AllowedUIDs)
	}
	if isGated(cmd) && !gateCfg.PrintCmd {
		if err := privilege.RequireElevated(a.gate); err != nil {
			return err
		}
	}
	if loadErr != nil {
		return loadErr
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("%w: %w", efm.ErrConfiguration, err)
	}
	a.cfg = cfg

	// Logs would corrupt the dashboard
	if cfg.TUIEnabled && cmd.Name() == "watch" {
		a.logger = logging.NewLoggerWithWriter(io.Discard, "json", "info")
	} else {
		a.logger = logging.NewLogger(cfg.LogFormat, cfg.LogLevel, cfg.Verbose)
	}
	logging.SetDefault(a.logger)

	spawner := a.spawner
	if spawner == nil {
		spawner = process.ExecSpawner{}
	}
	a.dispatcher = dispatch.New(dispatch.Options{
		Store:   config.NewStore(cfg),
		Gate:    a.gate,
		Spawner: spawner,
		Logger:  a.logger,
		Version: version,

		RuntimeMetrics: cmd.Name() == "watch",
	})
	return nil
}
