package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"time"

	"github.com/randomizedcoder/go-efm-ctl/internal/efm"
	"github.com/randomizedcoder/go-efm-ctl/internal/logging"
	"github.com/randomizedcoder/go-efm-ctl/internal/process"
)

// DefaultBufferSize is the initial read buffer size. Longer lines grow the
// line buffer; they are never truncated.
const DefaultBufferSize = 4096

// Options configures a Stream.
type Options struct {
	// IgnoreErrors ends the stream with zero further records, and no error,
	// when the process cannot be spawned or exits non-zero.
	IgnoreErrors bool

	// Filter, if set, drops every line for which it returns false.
	Filter func(line string) bool

	// Stderr receives the child's stderr. Nil discards it.
	Stderr io.Writer

	// BufferSize is the reader buffer size. Zero means DefaultBufferSize.
	BufferSize int

	// OnDone is called exactly once, when the stream reaches a terminal
	// state or is closed.
	OnDone func(Summary)

	Logger *slog.Logger
}

// Summary describes a finished stream.
type Summary struct {
	Command  efm.Command
	State    State
	Lines    int
	Dropped  int
	ExitCode int
	Duration time.Duration
	Err      error
}

// Stream yields a command's stdout one line per call to Next.
//
// The process is spawned on the first Next, not by New. Output is read
// incrementally and never buffered beyond the current line. A Stream is not
// safe for concurrent use; cancel its context to interrupt a blocked Next.
//
// Records are the exact bytes between newlines, minus the '\n'. Output
// containing NUL bytes is unsupported: such a line is delivered unchanged
// and nothing here splits or validates on NUL. Consumers that hand records
// to C strings must reject them themselves.
type Stream struct {
	ctx     context.Context
	spawner process.Spawner
	cmd     efm.Command
	opts    Options
	logger  *slog.Logger

	state  State
	proc   process.Process
	reader *bufio.Reader
	buf    []byte
	atEOF  bool

	lines    int
	dropped  int
	exitCode int
	err      error
	start    time.Time
	finished bool
}

// New returns an unopened stream for cmd.
func New(ctx context.Context, sp process.Spawner, cmd efm.Command, opts Options) *Stream {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Stream{
		ctx:      ctx,
		spawner:  sp,
		cmd:      cmd,
		opts:     opts,
		logger:   logger,
		exitCode: -1,
	}
}

// Next returns the next record.
//
// ok is false once the stream is exhausted or has failed; err is non-nil
// only on the call that observes a failure. Later calls return
// ("", false, nil) and never spawn again.
func (s *Stream) Next() (line string, ok bool, err error) {
	switch s.state {
	case StateUnopened:
		s.open()
		if s.state != StateOpen {
			return "", false, s.err
		}
	case StateExhausted, StateErrored:
		return "", false, nil
	}

	for {
		if s.atEOF {
			return "", false, s.finish()
		}

		line, err := s.readLine()
		if err != nil {
			return "", false, s.fail(fmt.Errorf("%w: %s: %w", efm.ErrStreamCorrupted, s.cmd, err))
		}
		if s.atEOF && line == "" && len(s.buf) == 0 {
			continue
		}
		if s.opts.Filter != nil && !s.opts.Filter(line) {
			s.dropped++
			continue
		}
		s.lines++
		return line, true, nil
	}
}

func (s *Stream) open() {
	s.start = time.Now()
	p, err := s.spawner.Spawn(s.ctx, s.cmd.Argv(), s.opts.Stderr)
	if err != nil {
		s.logger.Warn("spawn_failed",
			"command", s.cmd.String(),
			"ignore_errors", s.opts.IgnoreErrors,
			"error", err,
		)
		if s.opts.IgnoreErrors {
			s.done(StateExhausted, nil)
			return
		}
		s.done(StateErrored, fmt.Errorf("%w: %s: %w", efm.ErrSpawn, s.cmd, err))
		return
	}

	s.proc = p
	s.reader = bufio.NewReaderSize(p.Stdout(), s.opts.BufferSize)
	s.buf = make([]byte, 0, s.opts.BufferSize)
	s.state = StateOpen
	s.logger.Debug("stream_opened", "command", s.cmd.String(), "pid", p.Pid())
}

// readLine reads one line into the reusable buffer. At end of input it sets
// atEOF and returns whatever partial line was pending.
func (s *Stream) readLine() (string, error) {
	s.buf = s.buf[:0]
	for {
		chunk, err := s.reader.ReadSlice('\n')
		s.buf = append(s.buf, chunk...)

		switch {
		case err == nil:
			return trimEOL(s.buf), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			s.atEOF = true
			return trimEOL(s.buf), nil
		default:
			return "", err
		}
	}
}

// trimEOL removes the trailing '\n' only. A '\r' before it is part of the
// record.
func trimEOL(b []byte) string {
	if n := len(b); n > 0 && b[n-1] == '\n' {
		b = b[:n-1]
	}
	return string(b)
}

// finish reaps the process after end of input.
func (s *Stream) finish() error {
	code, err := s.proc.Wait()
	s.proc = nil
	s.exitCode = code

	switch {
	case s.ctx.Err() != nil:
		return s.fail(s.ctx.Err())
	case err != nil:
		return s.fail(fmt.Errorf("%w: %s: %w", efm.ErrStreamCorrupted, s.cmd, err))
	case code != 0 && !s.opts.IgnoreErrors:
		return s.fail(fmt.Errorf("%w: %s exited with status %d", efm.ErrCommandFailed, s.cmd, code))
	}

	s.done(StateExhausted, nil)
	return nil
}

// fail releases the process, if still held, and moves to StateErrored.
func (s *Stream) fail(err error) error {
	s.release()
	s.done(StateErrored, err)
	return err
}

func (s *Stream) release() {
	if s.proc == nil {
		return
	}
	if err := s.proc.Kill(); err != nil {
		s.logger.Debug("kill_failed", "command", s.cmd.String(), "error", err)
	}
	code, _ := s.proc.Wait()
	if s.exitCode < 0 {
		s.exitCode = code
	}
	s.proc = nil
}

func (s *Stream) done(state State, err error) {
	s.state = state
	s.err = err
	s.reader = nil
	s.buf = nil
	if s.finished {
		return
	}
	s.finished = true

	sum := s.Summary()
	if err != nil {
		s.logger.Warn("stream_errored", "command", s.cmd.String(), "lines", s.lines, "error", err)
	} else {
		s.logger.Debug("stream_exhausted", "command", s.cmd.String(), "lines", s.lines, "exit_code", s.exitCode)
	}
	if s.opts.OnDone != nil {
		s.opts.OnDone(sum)
	}
}

// Close releases the process and buffer. An open process is killed.
// Close is idempotent and safe to call in any state.
func (s *Stream) Close() error {
	if s.state.IsTerminal() {
		return nil
	}
	s.release()
	s.done(StateExhausted, nil)
	return nil
}

// All returns an iterator over the remaining records. A failure is yielded
// once as a non-nil error. Breaking out of the loop closes the stream.
func (s *Stream) All() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		defer s.Close()
		for {
			line, ok, err := s.Next()
			if err != nil {
				yield("", err)
				return
			}
			if !ok || !yield(line, nil) {
				return
			}
		}
	}
}

// Collect drains s and returns every record.
func Collect(s *Stream) ([]string, error) {
	var out []string
	for line, err := range s.All() {
		if err != nil {
			return out, err
		}
		out = append(out, line)
	}
	return out, nil
}

// State returns the current state.
func (s *Stream) State() State { return s.state }

// Err returns the error the stream ended with, if any.
func (s *Stream) Err() error { return s.err }

// Command returns the command this stream runs.
func (s *Stream) Command() efm.Command { return s.cmd }

// Summary returns counters for the stream so far.
func (s *Stream) Summary() Summary {
	var d time.Duration
	if !s.start.IsZero() {
		d = time.Since(s.start)
	}
	return Summary{
		Command:  s.cmd,
		State:    s.state,
		Lines:    s.lines,
		Dropped:  s.dropped,
		ExitCode: s.exitCode,
		Duration: d,
		Err:      s.err,
	}
}
