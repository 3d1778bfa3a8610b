// Package dispatch exposes one entry point per efm operation.
//
// Every entry point checks the privilege gate first, then takes a lease on
// the configuration, builds the command and runs it. Single-shot operations
// return the command's exit status. Streaming operations return an unopened
// stream that holds the lease until it is exhausted or closed.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/randomizedcoder/go-efm-ctl/internal/config"
	"github.com/randomizedcoder/go-efm-ctl/internal/efm"
	"github.com/randomizedcoder/go-efm-ctl/internal/logging"
	"github.com/randomizedcoder/go-efm-ctl/internal/metrics"
	"github.com/randomizedcoder/go-efm-ctl/internal/privilege"
	"github.com/randomizedcoder/go-efm-ctl/internal/process"
	"github.com/randomizedcoder/go-efm-ctl/internal/stats"
	"github.com/randomizedcoder/go-efm-ctl/internal/stream"
)

// Options configures a Dispatcher. Store and Gate are required.
type Options struct {
	Store    *config.Store
	Gate     privilege.Gate
	Spawner  process.Spawner
	Logger   *slog.Logger
	Metrics  *metrics.Collector
	Recorder *stats.Recorder

	// Version is reported in the metrics info series.
	Version string

	// RuntimeMetrics adds Go runtime and process metrics to the default
	// collector. Long-running callers (watch) set it.
	RuntimeMetrics bool
}

// Dispatcher runs efm operations.
type Dispatcher struct {
	store    *config.Store
	gate     privilege.Gate
	spawner  process.Spawner
	logger   *slog.Logger
	metrics  *metrics.Collector
	recorder *stats.Recorder
	version  string
}

// New creates a dispatcher. Missing optional dependencies get defaults:
// real processes, a discarding logger and private metrics.
func New(opts Options) *Dispatcher {
	d := &Dispatcher{
		store:    opts.Store,
		gate:     opts.Gate,
		spawner:  opts.Spawner,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		recorder: opts.Recorder,
		version:  opts.Version,
	}
	if d.spawner == nil {
		d.spawner = process.ExecSpawner{}
	}
	if d.logger == nil {
		d.logger = logging.Discard()
	}
	if d.metrics == nil {
		d.metrics = metrics.NewCollector(metrics.CollectorConfig{
			Version:        opts.Version,
			Cluster:        opts.Store.Snapshot().ClusterName,
			RuntimeMetrics: opts.RuntimeMetrics,
		})
	}
	if d.recorder == nil {
		d.recorder = stats.NewRecorder()
	}
	return d
}

// Request is a generic operation call.
type Request struct {
	Operation efm.Operation
	Args      []string
}

// Result is the outcome of Invoke. Exactly one of ExitCode and Stream is
// meaningful, depending on whether the operation streams.
type Result struct {
	ExitCode int
	Stream   *stream.Stream
}

// Invoke runs req. Argument counts are checked after the privilege gate and
// before anything is built.
func (d *Dispatcher) Invoke(ctx context.Context, req Request) (Result, error) {
	op := req.Operation
	if err := d.authorize(op); err != nil {
		return Result{ExitCode: -1}, err
	}
	if err := efm.CheckArgs(op, req.Args); err != nil {
		d.reject(op, err)
		return Result{ExitCode: -1}, err
	}

	switch op {
	case efm.OpClusterStatus:
		s, err := d.clusterStatus(ctx, req.Args[0])
		return Result{ExitCode: -1, Stream: s}, err
	case efm.OpListProperties:
		s, err := d.listProperties(ctx)
		return Result{ExitCode: -1, Stream: s}, err
	default:
		code, err := d.run(ctx, op, req.Args...)
		return Result{ExitCode: code}, err
	}
}

// =============================================================================
// Streaming operations
// =============================================================================

// ClusterStatus returns the cluster status as a stream of lines. mode is
// "text" or "json". Spawn and exit failures end the stream without error.
func (d *Dispatcher) ClusterStatus(ctx context.Context, mode string) (*stream.Stream, error) {
	if err := d.authorize(efm.OpClusterStatus); err != nil {
		return nil, err
	}
	return d.clusterStatus(ctx, mode)
}

func (d *Dispatcher) clusterStatus(ctx context.Context, mode string) (*stream.Stream, error) {
	m, err := efm.ParseOutputMode(mode)
	if err != nil {
		d.reject(efm.OpClusterStatus, err)
		return nil, err
	}
	return d.openStream(ctx, efm.OpClusterStatus, func(b *efm.Builder) (efm.Command, error) {
		return b.Build(efm.OpClusterStatus, string(m))
	})
}

// ListProperties returns the cluster properties file as a stream of lines,
// without comment or empty lines. Failures are surfaced.
func (d *Dispatcher) ListProperties(ctx context.Context) (*stream.Stream, error) {
	if err := d.authorize(efm.OpListProperties); err != nil {
		return nil, err
	}
	return d.listProperties(ctx)
}

func (d *Dispatcher) listProperties(ctx context.Context) (*stream.Stream, error) {
	return d.openStream(ctx, efm.OpListProperties, (*efm.Builder).ListProperties)
}

func (d *Dispatcher) openStream(ctx context.Context, op efm.Operation, build func(*efm.Builder) (efm.Command, error)) (*stream.Stream, error) {
	spec, err := efm.Lookup(op)
	if err != nil {
		return nil, err
	}

	lease := d.store.Acquire()
	cmd, err := build(efm.NewBuilder(lease.Config()))
	if err != nil {
		lease.Release()
		d.reject(op, err)
		return nil, err
	}

	var filter func(string) bool
	if op == efm.OpListProperties {
		filter = efm.PropertiesFilter
	}
	stderr := logging.NewOutputHandler(string(op), "stderr", d.logger)

	d.metrics.OperationStarted()
	d.logger.Info("operation_started", "operation", op, "command", cmd.String())

	return stream.New(ctx, d.spawner, cmd, stream.Options{
		IgnoreErrors: spec.IgnoreErrors,
		Filter:       filter,
		Stderr:       stderr,
		Logger:       d.logger,
		OnDone: func(sum stream.Summary) {
			stderr.Flush()
			lease.Release()
			d.metrics.RecordStream(string(op), sum.Lines, sum.Dropped)
			d.finish(op, sum.ExitCode, sum.Lines, sum.Duration, sum.Err)
		},
	}), nil
}

// =============================================================================
// Single-shot operations
// =============================================================================

// AllowNode allows the node at address to join the cluster.
func (d *Dispatcher) AllowNode(ctx context.Context, address string) (int, error) {
	return d.single(ctx, efm.OpAllowNode, address)
}

// DisallowNode removes the node at address from the allowed list.
func (d *Dispatcher) DisallowNode(ctx context.Context, address string) (int, error) {
	return d.single(ctx, efm.OpDisallowNode, address)
}

// Failover promotes the standby with the highest priority.
func (d *Dispatcher) Failover(ctx context.Context) (int, error) {
	return d.single(ctx, efm.OpFailover)
}

// Switchover promotes a standby and reconfigures the old primary as a standby.
func (d *Dispatcher) Switchover(ctx context.Context) (int, error) {
	return d.single(ctx, efm.OpSwitchover)
}

// ResumeMonitoring resumes the local agent's database monitoring.
func (d *Dispatcher) ResumeMonitoring(ctx context.Context) (int, error) {
	return d.single(ctx, efm.OpResumeMonitoring)
}

// SetPriority sets the failover priority of the standby at address.
func (d *Dispatcher) SetPriority(ctx context.Context, address, priority string) (int, error) {
	return d.single(ctx, efm.OpSetPriority, address, priority)
}

func (d *Dispatcher) single(ctx context.Context, op efm.Operation, args ...string) (int, error) {
	if err := d.authorize(op); err != nil {
		return -1, err
	}
	return d.run(ctx, op, args...)
}

// run builds and executes a single-shot operation. The child's output is
// logged line by line and not returned.
func (d *Dispatcher) run(ctx context.Context, op efm.Operation, args ...string) (int, error) {
	lease := d.store.Acquire()
	defer lease.Release()

	cmd, err := efm.NewBuilder(lease.Config()).Build(op, args...)
	if err != nil {
		d.reject(op, err)
		return -1, err
	}

	stdout := logging.NewOutputHandler(string(op), "stdout", d.logger)
	stderr := logging.NewOutputHandler(string(op), "stderr", d.logger)

	d.metrics.OperationStarted()
	d.logger.Info("operation_started", "operation", op, "command", cmd.String())

	start := time.Now()
	code, err := process.Run(ctx, d.spawner, cmd.Argv(), stdout, stderr)
	stdout.Flush()
	stderr.Flush()

	switch {
	case err != nil && code < 0:
		err = fmt.Errorf("%w: %s: %w", efm.ErrSpawn, cmd, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		err = fmt.Errorf("%s: %w", cmd, err)
	case err != nil:
		err = fmt.Errorf("%w: %s: %w", efm.ErrStreamCorrupted, cmd, err)
	case code != 0:
		d.logger.Warn("operation_nonzero_exit",
			"operation", op,
			"exit_code", code,
			"stderr", stderr.RecentLines(5),
		)
	}

	d.finish(op, code, 0, time.Since(start), err)
	return code, err
}

// =============================================================================
// Configuration
// =============================================================================

// Reload validates cfg and makes it the active configuration. It requires
// elevation and fails with config.ErrInFlight while any operation or open
// stream holds a lease.
func (d *Dispatcher) Reload(cfg *config.Config) error {
	err := d.reload(cfg)
	d.metrics.RecordReload(err)
	if err != nil {
		d.logger.Warn("config_reload_failed", "error", err)
		return err
	}
	d.metrics.SetCluster(d.version, cfg.ClusterName)
	d.logger.Info("config_reloaded", "cluster", cfg.ClusterName)
	return nil
}

func (d *Dispatcher) reload(cfg *config.Config) error {
	if err := privilege.RequireElevated(d.gate); err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	return d.store.Replace(cfg)
}

// Preview builds the command for req without checking privileges or
// running anything.
func (d *Dispatcher) Preview(req Request) (efm.Command, error) {
	lease := d.store.Acquire()
	defer lease.Release()
	return efm.NewBuilder(lease.Config()).Build(req.Operation, req.Args...)
}

// Recorder returns the per-operation stats.
func (d *Dispatcher) Recorder() *stats.Recorder {
	return d.recorder
}

// Metrics returns the metrics collector.
func (d *Dispatcher) Metrics() *metrics.Collector {
	return d.metrics
}

// Config returns a copy of the active configuration.
func (d *Dispatcher) Config() *config.Config {
	return d.store.Snapshot()
}

// =============================================================================
// Bookkeeping
// =============================================================================

func (d *Dispatcher) authorize(op efm.Operation) error {
	if err := privilege.RequireElevated(d.gate); err != nil {
		d.metrics.RecordPermissionDenied(string(op))
		d.recorder.Record(string(op), -1, 0, 0, err)
		d.logger.Warn("permission_denied", "operation", op)
		return err
	}
	return nil
}

// reject records an operation that failed before it started.
func (d *Dispatcher) reject(op efm.Operation, err error) {
	d.metrics.RecordRejected(string(op))
	d.recorder.Record(string(op), -1, 0, 0, err)
	d.logger.Warn("operation_rejected", "operation", op, "error", err)
}

func (d *Dispatcher) finish(op efm.Operation, code, lines int, elapsed time.Duration, err error) {
	outcome := stats.Classify(code, err)
	d.metrics.RecordOperation(string(op), string(outcome), code, elapsed)
	d.recorder.Record(string(op), code, lines, elapsed, err)

	attrs := []any{
		"operation", op,
		"outcome", outcome,
		"exit_code", code,
		"duration", elapsed.String(),
	}
	if lines > 0 {
		attrs = append(attrs, "lines", lines)
	}
	if err != nil {
		d.logger.Error("operation_failed", append(attrs, "error", err)...)
		return
	}
	d.logger.Info("operation_finished", attrs...)
}
