package stats

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// SummaryConfig holds configuration for summary formatting.
type SummaryConfig struct {
	// Cluster is the efm cluster name
	Cluster string

	// Duration is the total run duration
	Duration time.Duration

	// MetricsAddr is the Prometheus metrics endpoint address
	MetricsAddr string

	// ExitCodes is a map of exit codes to counts
	ExitCodes map[int]int

	// Polls counts watch polls by outcome
	Polls map[string]int

	// Reloads counts configuration reloads by result
	Reloads map[string]int
}

const (
	heavyRule = "═══════════════════════════════════════════════════════════════════════════════\n"
	lightRule = "───────────────────────────────────────────────────────────────────────────────\n"
)

// FormatExitSummary formats per-operation stats for display when watch exits.
func FormatExitSummary(ops []OperationStats, cfg SummaryConfig) string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(heavyRule)
	b.WriteString("                          go-efm-ctl Exit Summary\n")
	b.WriteString(heavyRule + "\n")

	fmt.Fprintf(&b, "Run Duration:           %s\n", FormatDuration(cfg.Duration))
	if cfg.Cluster != "" {
		fmt.Fprintf(&b, "Cluster:                %s\n", cfg.Cluster)
	}
	b.WriteString("\n")

	if len(ops) == 0 {
		b.WriteString("(no operations were run)\n\n")
	} else {
		b.WriteString(lightRule)
		b.WriteString("                                 Operations\n")
		b.WriteString(lightRule + "\n")

		fmt.Fprintf(&b, "  %-18s %7s %7s %7s %7s %10s %10s\n",
			"Operation", "Calls", "OK", "NonZero", "Errors", "P50", "P95")
		b.WriteString("  " + strings.Repeat("─", 72) + "\n")
		for _, op := range ops {
			fmt.Fprintf(&b, "  %-18s %7d %7d %7d %7d %10s %10s\n",
				op.Operation, op.Calls, op.OK, op.NonZero, op.Errors,
				FormatMs(op.Latency.P50), FormatMs(op.Latency.P95),
			)
		}
		b.WriteString("\n")

		for _, op := range ops {
			if op.LastError != "" {
				fmt.Fprintf(&b, "  Last %s error: %s\n", op.Operation, op.LastError)
			}
		}
	}

	if len(cfg.ExitCodes) > 0 {
		b.WriteString("  Exit codes:\n")
		codes := make([]int, 0, len(cfg.ExitCodes))
		for code := range cfg.ExitCodes {
			codes = append(codes, code)
		}
		sort.Ints(codes)
		for _, code := range codes {
			fmt.Fprintf(&b, "    %3d %-10s %d\n", code, exitCodeLabel(code), cfg.ExitCodes[code])
		}
		b.WriteString("\n")
	}

	if len(cfg.Polls) > 0 {
		fmt.Fprintf(&b, "  Polls:                %s\n", formatCounts(cfg.Polls))
	}
	if len(cfg.Reloads) > 0 {
		fmt.Fprintf(&b, "  Config reloads:       %s\n", formatCounts(cfg.Reloads))
	}
	if len(cfg.Polls) > 0 || len(cfg.Reloads) > 0 {
		b.WriteString("\n")
	}

	if cfg.MetricsAddr != "" {
		fmt.Fprintf(&b, "Metrics endpoint was: http://%s/metrics\n", cfg.MetricsAddr)
	}
	b.WriteString(heavyRule)

	return b.String()
}

// formatCounts renders counts as "a 1, b 2" sorted by key.
func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s %d", k, counts[k]))
	}
	return strings.Join(parts, ", ")
}

// exitCodeLabel returns a human-readable label for common exit codes.
func exitCodeLabel(code int) string {
	switch code {
	case 0:
		return "(clean)"
	case 1:
		return "(error)"
	case 137:
		return "(SIGKILL)"
	case 143:
		return "(SIGTERM)"
	default:
		return ""
	}
}

// =============================================================================
// Formatting Helper Functions (exported for reuse)
// =============================================================================

// FormatDuration formats a duration as HH:MM:SS.
func FormatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// FormatMs formats a duration as milliseconds.
func FormatMs(d time.Duration) string {
	ms := d.Milliseconds()
	if ms == 0 && d > 0 {
		// Sub-millisecond, show microseconds
		return fmt.Sprintf("%d µs", d.Microseconds())
	}
	return fmt.Sprintf("%d ms", ms)
}

// FormatAge formats the time since t, or "never" for the zero time.
func FormatAge(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return time.Since(t).Truncate(time.Second).String() + " ago"
}
