// Package process starts external commands from an argument vector.
//
// No shell is involved. Every child runs in its own process group so that
// killing it also kills anything it started (sudo, the efm java agent).
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// Process is a started child whose stdout is available as a stream.
type Process interface {
	// Pid returns the child's process ID.
	Pid() int

	// Stdout is the read end of the child's stdout pipe. It must be read
	// to EOF before Wait is called.
	Stdout() io.Reader

	// Wait waits for the child to exit and returns its decoded exit code.
	// A non-zero exit is not an error; err is set only when waiting failed.
	Wait() (exitCode int, err error)

	// Kill sends SIGKILL to the child's process group.
	Kill() error
}

// Spawner starts processes.
type Spawner interface {
	Spawn(ctx context.Context, argv []string, stderr io.Writer) (Process, error)
}

// ExecSpawner starts real processes with os/exec.
type ExecSpawner struct {
	// Env, when non-nil, replaces the inherited environment.
	Env []string
}

// Spawn starts argv[0] with the remaining words as arguments. stderr may be
// nil, in which case the child's stderr is discarded.
func (s ExecSpawner) Spawn(ctx context.Context, argv []string, stderr io.Writer) (Process, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty argument vector")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = s.Env
	cmd.Stderr = stderr

	// Set process group for clean shutdown
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
	cmd.Cancel = func() error {
		return killGroup(cmd)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execProcess{cmd: cmd, stdout: stdout}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
}

func (p *execProcess) Pid() int          { return p.cmd.Process.Pid }
func (p *execProcess) Stdout() io.Reader { return p.stdout }
func (p *execProcess) Kill() error       { return killGroup(p.cmd) }

func (p *execProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	code := ExitCode(err)

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return code, err
	}
	return code, nil
}

func killGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if pgid, err := unix.Getpgid(cmd.Process.Pid); err == nil {
		return unix.Kill(-pgid, unix.SIGKILL)
	}
	return cmd.Process.Kill()
}

// ExitCode extracts the exit code from a Wait error.
// Signal exits map to 128 + signal number, as a shell reports them.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				return 128 + int(status.Signal())
			}
			return status.ExitStatus()
		}
	}

	// Unknown error, assume exit code 1
	return 1
}

// Run spawns argv, copies its stdout to stdout and waits for it to exit.
// It returns the decoded exit code. A spawn failure is returned as-is with
// exit code -1. If ctx ended while the child ran, ctx.Err() is returned
// alongside the code the killed child reported.
func Run(ctx context.Context, sp Spawner, argv []string, stdout, stderr io.Writer) (int, error) {
	p, err := sp.Spawn(ctx, argv, stderr)
	if err != nil {
		return -1, err
	}
	if stdout == nil {
		stdout = io.Discard
	}

	_, copyErr := io.Copy(stdout, p.Stdout())
	code, waitErr := p.Wait()
	if ctx.Err() != nil {
		return code, ctx.Err()
	}
	if waitErr != nil {
		return code, waitErr
	}
	if copyErr != nil {
		return code, fmt.Errorf("reading stdout: %w", copyErr)
	}
	return code, nil
}
