package stats

import (
	"sort"
	"sync"
	"time"
)

// Outcome classifies how an operation ended.
type Outcome string

const (
	// OutcomeOK means the command ran and exited zero.
	OutcomeOK Outcome = "ok"

	// OutcomeNonZero means the command ran and exited non-zero.
	OutcomeNonZero Outcome = "nonzero"

	// OutcomeError means the operation failed before or while running.
	OutcomeError Outcome = "error"
)

// Classify picks the outcome for an exit code and error.
func Classify(exitCode int, err error) Outcome {
	switch {
	case err != nil:
		return OutcomeError
	case exitCode != 0:
		return OutcomeNonZero
	default:
		return OutcomeOK
	}
}

// OperationStats holds counters for one operation.
type OperationStats struct {
	Operation    string
	Calls        int64
	OK           int64
	NonZero      int64
	Errors       int64
	Lines        int64
	LastExitCode int
	LastError    string
	LastRun      time.Time
	Latency      LatencySnapshot
}

type operationEntry struct {
	stats   OperationStats
	latency *Latency
}

// Recorder aggregates outcomes across operations. Safe for concurrent use.
type Recorder struct {
	mu        sync.Mutex
	start     time.Time
	ops       map[string]*operationEntry
	exitCodes map[int]int
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		start:     time.Now(),
		ops:       make(map[string]*operationEntry),
		exitCodes: make(map[int]int),
	}
}

// Record adds one completed operation. lines is the number of records a
// streaming operation produced; single-shot operations pass 0. A call that
// never ran (exit code below zero, zero duration) is counted but kept out of
// the latency percentiles.
func (r *Recorder) Record(op string, exitCode int, lines int, d time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.ops[op]
	if !ok {
		e = &operationEntry{stats: OperationStats{Operation: op}, latency: NewLatency()}
		r.ops[op] = e
	}

	e.stats.Calls++
	e.stats.Lines += int64(lines)
	e.stats.LastExitCode = exitCode
	e.stats.LastRun = time.Now()
	e.stats.LastError = ""
	switch Classify(exitCode, err) {
	case OutcomeOK:
		e.stats.OK++
	case OutcomeNonZero:
		e.stats.NonZero++
	case OutcomeError:
		e.stats.Errors++
		e.stats.LastError = err.Error()
	}
	// Calls rejected before spawning never ran.
	if exitCode >= 0 || d > 0 {
		e.latency.Add(d)
	}

	if exitCode >= 0 {
		r.exitCodes[exitCode]++
	}
}

// Snapshot returns per-operation stats sorted by operation name.
func (r *Recorder) Snapshot() []OperationStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]OperationStats, 0, len(r.ops))
	for _, e := range r.ops {
		s := e.stats
		s.Latency = e.latency.Snapshot()
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Operation < out[j].Operation
	})
	return out
}

// Get returns the stats for one operation.
func (r *Recorder) Get(op string) (OperationStats, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.ops[op]
	if !ok {
		return OperationStats{}, false
	}
	s := e.stats
	s.Latency = e.latency.Snapshot()
	return s, true
}

// ExitCodes returns a copy of the exit code histogram.
func (r *Recorder) ExitCodes() map[int]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[int]int, len(r.exitCodes))
	for k, v := range r.exitCodes {
		out[k] = v
	}
	return out
}

// Elapsed returns the time since the recorder was created.
func (r *Recorder) Elapsed() time.Duration {
	return time.Since(r.start)
}
