package logging

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"trace", slog.LevelInfo},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			if got := parseLevel(tc.input); got != tc.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tc.input, got, tc.expected)
			}
		})
	}
}

func TestNewLogger_Formats(t *testing.T) {
	for _, format := range []string{"json", "text", "JSON", "", "invalid"} {
		t.Run(format, func(t *testing.T) {
			if NewLogger(format, "info", false) == nil {
				t.Error("NewLogger returned nil")
			}
		})
	}
}

func TestNewLoggerWithWriter(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		NewLoggerWithWriter(&buf, "json", "info").Info("operation_started", "operation", "allow-node")
		out := buf.String()
		if !strings.Contains(out, `"msg":"operation_started"`) || !strings.Contains(out, `"operation":"allow-node"`) {
			t.Errorf("unexpected JSON output: %s", out)
		}
	})

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		NewLoggerWithWriter(&buf, "text", "info").Info("operation_started", "operation", "resume")
		if !strings.Contains(buf.String(), "operation=resume") {
			t.Errorf("unexpected text output: %s", buf.String())
		}
	})

	t.Run("level_filtering", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLoggerWithWriter(&buf, "text", "warn")
		logger.Info("info msg")
		logger.Warn("warn msg")
		if strings.Contains(buf.String(), "info msg") {
			t.Error("warn level should drop info")
		}
		if !strings.Contains(buf.String(), "warn msg") {
			t.Error("warn level should keep warn")
		}
	})
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	if logger.Enabled(context.Background(), slog.LevelWarn) {
		t.Error("Discard logger should only enable error level")
	}
	logger.Error("dropped") // must not panic
}

// =============================================================================
// OutputHandler
// =============================================================================

func newTestHandler(level string) (*OutputHandler, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, "text", level)
	return NewOutputHandler("allow-node", "stderr", logger), &buf
}

func TestOutputHandler_SplitsLines(t *testing.T) {
	h, buf := newTestHandler("debug")

	fmt.Fprint(h, "first line\nsecond ")
	fmt.Fprint(h, "line\r\nthird")

	if h.Lines() != 2 {
		t.Fatalf("Lines() = %d before Flush, want 2", h.Lines())
	}
	h.Flush()
	if h.Lines() != 3 {
		t.Fatalf("Lines() = %d after Flush, want 3", h.Lines())
	}

	got := h.RecentLines(10)
	want := []string{"first line", "second line", "third"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("RecentLines = %q, want %q", got, want)
	}

	out := buf.String()
	if !strings.Contains(out, "operation=allow-node") || !strings.Contains(out, "stream=stderr") {
		t.Errorf("log lines missing attributes: %s", out)
	}
}

func TestOutputHandler_FlushEmpty(t *testing.T) {
	h, _ := newTestHandler("debug")
	h.Flush()
	if h.Lines() != 0 {
		t.Errorf("Flush on empty handler produced %d lines", h.Lines())
	}
}

func TestOutputHandler_Truncation(t *testing.T) {
	h, _ := newTestHandler("debug")
	fmt.Fprintln(h, strings.Repeat("x", MaxLineLength+10))

	got := h.RecentLines(1)[0]
	if !strings.HasSuffix(got, "...(truncated)") {
		t.Errorf("long line not truncated: len=%d", len(got))
	}
}

func TestOutputHandler_RingBuffer(t *testing.T) {
	h, _ := newTestHandler("error")
	for i := 0; i < MaxBufferedLines+5; i++ {
		fmt.Fprintf(h, "line %d\n", i)
	}

	got := h.RecentLines(3)
	want := []string{
		fmt.Sprintf("line %d", MaxBufferedLines+2),
		fmt.Sprintf("line %d", MaxBufferedLines+3),
		fmt.Sprintf("line %d", MaxBufferedLines+4),
	}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("RecentLines(3) = %q, want %q", got, want)
	}
	if n := len(h.RecentLines(1000)); n != MaxBufferedLines {
		t.Errorf("RecentLines(1000) returned %d lines, want %d", n, MaxBufferedLines)
	}
}

func TestClassifyLine(t *testing.T) {
	tests := []struct {
		line string
		want slog.Level
	}{
		{"Cluster Status: efm", slog.LevelDebug},
		{"Agent Type  Address              DB       VIP", slog.LevelDebug},
		{"Could not contact agent on 10.0.0.2", slog.LevelWarn},
		{"Cannot find properties file", slog.LevelWarn},
		{"java.lang.Exception: boom", slog.LevelWarn},
		{"Promote command FAILED", slog.LevelWarn},
		{"sudo: permission denied", slog.LevelWarn},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			if got := classifyLine(tt.line); got != tt.want {
				t.Errorf("classifyLine(%q) = %v, want %v", tt.line, got, tt.want)
			}
		})
	}
}

func TestOutputHandler_Concurrent(t *testing.T) {
	h, _ := newTestHandler("error")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				fmt.Fprintf(h, "worker %d line %d\n", n, j)
				_ = h.RecentLines(5)
			}
		}(i)
	}
	wg.Wait()

	if h.Lines() != 800 {
		t.Errorf("Lines() = %d, want 800", h.Lines())
	}
}
