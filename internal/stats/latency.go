// Package stats tracks per-operation outcomes and latency for go-efm-ctl.
package stats

import (
	"sync"
	"time"

	"github.com/influxdata/tdigest"
)

// Latency tracks a stream of durations with bounded memory.
type Latency struct {
	mu     sync.Mutex
	digest *tdigest.TDigest
	count  int64
	max    time.Duration
	last   time.Duration
}

// NewLatency creates an empty latency tracker.
func NewLatency() *Latency {
	return &Latency{
		digest: tdigest.NewWithCompression(100), // ~100 centroids, ~10KB
	}
}

// Add records one observation.
func (l *Latency) Add(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.digest.Add(float64(d.Nanoseconds()), 1)
	l.count++
	l.last = d
	if d > l.max {
		l.max = d
	}
}

// LatencySnapshot is a point-in-time view of a Latency.
type LatencySnapshot struct {
	Count int64
	Last  time.Duration
	P50   time.Duration
	P95   time.Duration
	P99   time.Duration
	Max   time.Duration
}

// Snapshot returns the current percentiles. All fields are zero when no
// observation has been recorded.
func (l *Latency) Snapshot() LatencySnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.count == 0 {
		return LatencySnapshot{}
	}
	return LatencySnapshot{
		Count: l.count,
		Last:  l.last,
		P50:   time.Duration(l.digest.Quantile(0.50)),
		P95:   time.Duration(l.digest.Quantile(0.95)),
		P99:   time.Duration(l.digest.Quantile(0.99)),
		Max:   l.max,
	}
}
