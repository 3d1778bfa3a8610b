package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
)

const (
	// MaxLineLength is the maximum length of a single log line before truncation.
	MaxLineLength = 4096

	// MaxBufferedLines is the number of recent lines kept for error reports.
	MaxBufferedLines = 50
)

// OutputHandler logs the output of an efm subprocess line by line.
//
// It implements io.Writer so it can be attached directly as a command's
// Stdout or Stderr. Partial lines are held until the terminating newline or
// Flush. The most recent lines are retained for error reporting.
type OutputHandler struct {
	operation string
	stream    string
	logger    *slog.Logger

	mu      sync.Mutex
	partial []byte
	buffer  []string
	bufIdx  int
	count   int
}

// NewOutputHandler creates a handler for one stream of one operation.
func NewOutputHandler(operation, stream string, logger *slog.Logger) *OutputHandler {
	return &OutputHandler{
		operation: operation,
		stream:    stream,
		logger:    logger,
		buffer:    make([]string, MaxBufferedLines),
	}
}

// Write splits p into lines and handles each complete line.
func (h *OutputHandler) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	data := append(h.partial, p...)
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		h.handleLine(string(bytes.TrimSuffix(data[:i], []byte{'\r'})))
		data = data[i+1:]
	}
	h.partial = append(h.partial[:0], data...)
	return len(p), nil
}

// Flush handles any buffered partial line.
func (h *OutputHandler) Flush() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.partial) > 0 {
		h.handleLine(string(h.partial))
		h.partial = h.partial[:0]
	}
}

// handleLine records and logs one line. Caller holds h.mu.
func (h *OutputHandler) handleLine(line string) {
	if len(line) > MaxLineLength {
		line = line[:MaxLineLength] + "...(truncated)"
	}

	h.buffer[h.bufIdx] = line
	h.bufIdx = (h.bufIdx + 1) % MaxBufferedLines
	h.count++

	h.logger.Log(context.Background(), classifyLine(line), "efm_output",
		"operation", h.operation,
		"stream", h.stream,
		"line", line,
	)
}

// classifyLine picks a log level from efm's wording.
func classifyLine(line string) slog.Level {
	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "error"),
		strings.Contains(lower, "exception"),
		strings.Contains(lower, "failed"),
		strings.Contains(lower, "could not"),
		strings.Contains(lower, "cannot"),
		strings.Contains(lower, "permission denied"):
		return slog.LevelWarn
	default:
		return slog.LevelDebug
	}
}

// RecentLines returns up to n of the most recent lines, oldest first.
func (h *OutputHandler) RecentLines(n int) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n > MaxBufferedLines {
		n = MaxBufferedLines
	}
	if n > h.count {
		n = h.count
	}

	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		idx := (h.bufIdx - n + i + MaxBufferedLines) % MaxBufferedLines
		lines = append(lines, h.buffer[idx])
	}
	return lines
}

// Lines returns the total number of lines handled.
func (h *OutputHandler) Lines() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}
