package git

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"sync"
)

// Runner executes git commands in a repository working directory.
// Run blocks until the command completes and returns its combined output;
// Start launches the command and exposes its output as a live stream.
type Runner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
	Start(ctx context.Context, dir string, args ...string) (Process, error)
}

// Process is a launched command whose combined output is consumed
// incrementally. Output chunks arrive in the order the process produced
// them; the stream reaches EOF when the process exits.
type Process interface {
	// Output returns the combined stdout/stderr stream.
	Output() io.Reader
	// Wait blocks until the process exits and returns its exit status.
	Wait() ExitStatus
	// Kill terminates the process. The output stream drains to EOF afterwards.
	Kill() error
}

// ExitStatus describes how a process terminated.
type ExitStatus struct {
	Code int
	Err  error
}

// ShellRunner implements Runner by shelling out to the git command.
type ShellRunner struct{}

// NewShellRunner creates a new git command runner.
func NewShellRunner() *ShellRunner {
	return &ShellRunner{}
}

// Run executes git synchronously and returns its trimmed combined output.
func (r *ShellRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir

	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", newCommandError(args, string(output), err)
	}
	return strings.TrimSpace(string(output)), nil
}

// Start launches git asynchronously. Stdout and stderr share a single pipe
// so the caller observes output in production order.
func (r *ShellRunner) Start(ctx context.Context, dir string, args ...string) (Process, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		return nil, newCommandError(args, "", err)
	}

	p := &shellProcess{
		cmd:  cmd,
		out:  pr,
		exit: make(chan ExitStatus, 1),
	}

	go func() {
		err := cmd.Wait()
		// Close the write end first so readers drain to EOF before
		// observing the exit status.
		_ = pw.Close()
		p.exit <- ExitStatus{Code: exitCode(err), Err: err}
	}()

	return p, nil
}

// shellProcess wraps a running exec.Cmd.
type shellProcess struct {
	cmd  *exec.Cmd
	out  io.Reader
	exit chan ExitStatus

	waitOnce sync.Once
	status   ExitStatus
}

func (p *shellProcess) Output() io.Reader {
	return p.out
}

func (p *shellProcess) Wait() ExitStatus {
	p.waitOnce.Do(func() {
		p.status = <-p.exit
	})
	return p.status
}

func (p *shellProcess) Kill() error {
	return p.cmd.Process.Kill()
}

// exitCode maps a Wait error to a process exit code. A nil error is exit 0;
// a start/signal failure with no exit code maps to -1.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
