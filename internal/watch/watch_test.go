package watch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/randomizedcoder/go-efm-ctl/internal/config"
	"github.com/randomizedcoder/go-efm-ctl/internal/dispatch"
	"github.com/randomizedcoder/go-efm-ctl/internal/metrics"
	"github.com/randomizedcoder/go-efm-ctl/internal/privilege"
	"github.com/randomizedcoder/go-efm-ctl/internal/process"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeProcess struct {
	stdout io.Reader
	code   int
}

func (p *fakeProcess) Pid() int           { return 1 }
func (p *fakeProcess) Stdout() io.Reader  { return p.stdout }
func (p *fakeProcess) Kill() error        { return nil }
func (p *fakeProcess) Wait() (int, error) { return p.code, nil }

// scriptSpawner plays back one output per spawn, repeating the last.
type scriptSpawner struct {
	mu      sync.Mutex
	outputs []string
	code    int
	calls   int
}

func (s *scriptSpawner) Spawn(_ context.Context, _ []string, _ io.Writer) (process.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := min(s.calls, len(s.outputs)-1)
	s.calls++
	return &fakeProcess{stdout: strings.NewReader(s.outputs[i]), code: s.code}, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	efmPath := filepath.Join(dir, "efm")
	if err := os.WriteFile(efmPath, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	cfg := config.DefaultConfig()
	cfg.CommandPath = efmPath
	cfg.SudoPrefix = "sudo"
	cfg.ClusterName = "efm"
	cfg.PropertiesDir = dir
	cfg.WatchInterval = time.Second
	return cfg
}

func newDispatcher(t *testing.T, cfg *config.Config, sp process.Spawner, gate privilege.Gate) *dispatch.Dispatcher {
	t.Helper()
	return dispatch.New(dispatch.Options{
		Store:   config.NewStore(cfg),
		Gate:    gate,
		Spawner: sp,
	})
}

// =============================================================================
// Poll
// =============================================================================

func TestPoll_PrintsOnChange(t *testing.T) {
	sp := &scriptSpawner{outputs: []string{
		"Cluster Status: efm\nPrimary 10.0.0.1\n",
		"Cluster Status: efm\nPrimary 10.0.0.1\n",
		"Cluster Status: efm\nPrimary 10.0.0.2\n",
	}}
	d := newDispatcher(t, testConfig(t), sp, privilege.Elevated)

	var out bytes.Buffer
	w := New(Options{Source: d, Out: &out})

	for i := 0; i < 3; i++ {
		if err := w.Poll(context.Background()); err != nil {
			t.Fatalf("Poll %d: %v", i, err)
		}
	}

	if n := strings.Count(out.String(), "--- "); n != 2 {
		t.Errorf("printed %d blocks, want 2 (unchanged poll skipped):\n%s", n, out.String())
	}

	st := w.Status()
	if diff := cmp.Diff([]string{"Cluster Status: efm", "Primary 10.0.0.2"}, st.Lines); diff != "" {
		t.Errorf("Lines mismatch (-want +got):\n%s", diff)
	}
	if st.Polls != 3 || st.Failures != 0 || st.Outcome != PollOK {
		t.Errorf("Status = %+v", st)
	}
	if !w.Ready() {
		t.Error("watcher should be ready after a successful poll")
	}

	snap, err := metrics.Snapshot(d.Metrics().Registry())
	if err != nil {
		t.Fatal(err)
	}
	if got := snap[`efm_ctl_watch_polls_total{outcome="ok"}`]; got != 3 {
		t.Errorf("ok polls = %v, want 3", got)
	}
	if got := snap[`efm_ctl_watch_status_lines`]; got != 2 {
		t.Errorf("status lines = %v, want 2", got)
	}

	ops, ok := d.Recorder().Get("cluster-status")
	if !ok || ops.Calls != 3 {
		t.Errorf("recorder cluster-status = %+v", ops)
	}
}

func TestPoll_NonZeroExit(t *testing.T) {
	sp := &scriptSpawner{outputs: []string{"partial\n"}, code: 1}
	d := newDispatcher(t, testConfig(t), sp, privilege.Elevated)
	w := New(Options{Source: d})

	if err := w.Poll(context.Background()); err != nil {
		t.Fatalf("cluster-status ignores exit failures, got %v", err)
	}
	st := w.Status()
	if st.Outcome != PollNonZero || st.Failures != 1 {
		t.Errorf("Status = %+v", st)
	}
	if w.Ready() {
		t.Error("non-zero poll must not mark the watcher ready")
	}
}

func TestPoll_PermissionDenied(t *testing.T) {
	sp := &scriptSpawner{outputs: []string{"x\n"}}
	d := newDispatcher(t, testConfig(t), sp, privilege.Unelevated)
	w := New(Options{Source: d})

	err := w.Poll(context.Background())
	if !errors.Is(err, privilege.ErrPermission) {
		t.Fatalf("Poll() = %v, want ErrPermission", err)
	}
	if st := w.Status(); st.Outcome != PollError || st.Err == nil {
		t.Errorf("Status = %+v", st)
	}
	if sp.calls != 0 {
		t.Errorf("spawned %d processes, want 0", sp.calls)
	}
}

func TestPoll_OnPoll(t *testing.T) {
	sp := &scriptSpawner{outputs: []string{"a\n", "b\n"}}
	w := New(Options{Source: newDispatcher(t, testConfig(t), sp, privilege.Elevated)})

	var got []Status
	w.OnPoll(func(st Status) { got = append(got, st) })
	_ = w.Poll(context.Background())
	_ = w.Poll(context.Background())

	if len(got) != 2 {
		t.Fatalf("OnPoll called %d times, want 2", len(got))
	}
	if got[1].Polls != 2 || !slices.Equal(got[1].Lines, []string{"b"}) {
		t.Errorf("second status = %+v", got[1])
	}

	w.OnPoll(nil)
	_ = w.Poll(context.Background())
	if len(got) != 2 {
		t.Error("OnPoll(nil) should stop notifications")
	}
}

func TestNew_Defaults(t *testing.T) {
	cfg := testConfig(t)
	cfg.WatchMode = "json"
	cfg.WatchInterval = 3 * time.Second
	w := New(Options{Source: newDispatcher(t, cfg, &scriptSpawner{outputs: []string{""}}, privilege.Elevated)})

	st := w.Status()
	if st.Mode != "json" || st.Interval != 3*time.Second || st.Cluster != "efm" {
		t.Errorf("Status = %+v", st)
	}
}

// =============================================================================
// Reload
// =============================================================================

func TestReload(t *testing.T) {
	cfg := testConfig(t)
	d := newDispatcher(t, cfg, &scriptSpawner{outputs: []string{""}}, privilege.Elevated)

	next := cfg.Clone()
	next.ClusterName = "prod"
	w := New(Options{Source: d, Load: func() (*config.Config, error) { return next, nil }})

	if err := w.Reload(); err != nil {
		t.Fatalf("Reload() error: %v", err)
	}
	if st := w.Status(); st.Cluster != "prod" || st.Reloads != 1 {
		t.Errorf("Status = %+v", st)
	}
}

func TestReload_Errors(t *testing.T) {
	cfg := testConfig(t)
	d := newDispatcher(t, cfg, &scriptSpawner{outputs: []string{""}}, privilege.Elevated)

	if err := New(Options{Source: d}).Reload(); err == nil {
		t.Error("Reload without loader should fail")
	}

	loadErr := errors.New("bad yaml")
	w := New(Options{Source: d, Load: func() (*config.Config, error) { return nil, loadErr }})
	if err := w.Reload(); !errors.Is(err, loadErr) {
		t.Errorf("Reload() = %v, want %v", err, loadErr)
	}

	invalid := cfg.Clone()
	invalid.LogFormat = "xml"
	w = New(Options{Source: d, Load: func() (*config.Config, error) { return invalid, nil }})
	if err := w.Reload(); err == nil {
		t.Error("invalid config should be refused")
	}
	if st := w.Status(); st.Cluster != "efm" || st.Reloads != 0 {
		t.Errorf("Status after refused reload = %+v", st)
	}
}

// =============================================================================
// Run
// =============================================================================

func TestRun_SignalStops(t *testing.T) {
	sp := &scriptSpawner{outputs: []string{"a\n"}}
	cfg := testConfig(t)
	d := newDispatcher(t, cfg, sp, privilege.Elevated)

	next := cfg.Clone()
	next.ClusterName = "reloaded"

	sigCh := make(chan os.Signal, 2)
	w := New(Options{
		Source:   d,
		Interval: time.Hour,
		Signals:  sigCh,
		Load:     func() (*config.Config, error) { return next, nil },
	})

	sigCh <- syscall.SIGHUP
	sigCh <- syscall.SIGTERM

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop on SIGTERM")
	}

	st := w.Status()
	if st.Polls != 1 {
		t.Errorf("Polls = %d, want 1 (initial poll only)", st.Polls)
	}
	if st.Reloads != 1 || st.Cluster != "reloaded" {
		t.Errorf("SIGHUP should reload, Status = %+v", st)
	}
}

func TestRun_ContextCancel(t *testing.T) {
	sp := &scriptSpawner{outputs: []string{"a\n"}}
	w := New(Options{
		Source:      newDispatcher(t, testConfig(t), sp, privilege.Elevated),
		Interval:    time.Hour,
		MetricsAddr: "127.0.0.1:0",
		Signals:     make(chan os.Signal),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for w.Status().Polls == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestRun_MetricsBindError(t *testing.T) {
	w := New(Options{
		Source:      newDispatcher(t, testConfig(t), &scriptSpawner{outputs: []string{""}}, privilege.Elevated),
		MetricsAddr: "256.0.0.1:1",
		Signals:     make(chan os.Signal),
	})
	if err := w.Run(context.Background()); err == nil {
		t.Error("expected metrics server error")
	}
}

// =============================================================================
// Summary
// =============================================================================

func TestExitSummary(t *testing.T) {
	sp := &scriptSpawner{outputs: []string{"a\n"}}
	w := New(Options{Source: newDispatcher(t, testConfig(t), sp, privilege.Elevated)})
	_ = w.Poll(context.Background())

	next := testConfig(t)
	w.load = func() (*config.Config, error) { return next, nil }
	_ = w.Reload()

	s := w.ExitSummary("127.0.0.1:17092")
	for _, want := range []string{
		"Exit Summary",
		"cluster-status",
		"127.0.0.1:17092",
		"Polls:                ok 1",
		"Config reloads:       ok 1",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("summary missing %q:\n%s", want, s)
		}
	}
}
