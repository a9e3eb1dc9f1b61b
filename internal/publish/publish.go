// Package publish drives asynchronous remote-synchronization jobs. A job's
// outcome is inferred from the push subprocess's incrementally delivered
// output, cross-checked against its exit code.
package publish

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/QWxleA/EGO/internal/git"
)

// failureTokens are the case-sensitive markers that classify push output as
// failed. Matching is done against the cumulative output buffer, never a
// single chunk, so a token split across chunk boundaries is still found.
var failureTokens = [][]byte{[]byte("fatal"), []byte("error")}

// Target describes where a job pushes to.
type Target struct {
	// Remote is the remote name, e.g. "origin".
	Remote string
	// Branch is the local branch pushed under the same name. Ignored when
	// AllBranches is set.
	Branch string
	// AllBranches pushes every local branch to the remote.
	AllBranches bool
}

func (t Target) args() []string {
	if t.AllBranches {
		return []string{"push", "--all", t.Remote}
	}
	return []string{"push", t.Remote, t.Branch + ":" + t.Branch}
}

// String renders the target for logs.
func (t Target) String() string {
	if t.AllBranches {
		return t.Remote + " (all branches)"
	}
	return t.Remote + "/" + t.Branch
}

// State is a job's lifecycle state.
type State int

const (
	StatePending State = iota
	StateSuccess
	StateFailure
)

func (s State) String() string {
	switch s {
	case StateSuccess:
		return "success"
	case StateFailure:
		return "failure"
	default:
		return "pending"
	}
}

// Outcome is a job's terminal result. Reason is set only for failures.
type Outcome struct {
	State  State
	Reason string
}

// Monitor launches and supervises publish jobs. Callers must serialize jobs
// per repository; the monitor does not lock the working directory.
type Monitor struct {
	runner git.Runner
	logger *slog.Logger
}

// NewMonitor creates a publish monitor.
func NewMonitor(runner git.Runner, logger *slog.Logger) *Monitor {
	return &Monitor{runner: runner, logger: logger}
}

// Start launches one push subprocess for the target and begins consuming
// its output. Only spawn failures are reported synchronously; everything
// after that surfaces through the job's terminal outcome.
func (m *Monitor) Start(ctx context.Context, repoDir string, target Target) (*Job, error) {
	proc, err := m.runner.Start(ctx, repoDir, target.args()...)
	if err != nil {
		return nil, fmt.Errorf("start push to %s: %w", target, err)
	}

	job := &Job{
		id:     uuid.NewString(),
		target: target,
		done:   make(chan struct{}),
	}

	m.logger.Info("publish started", "job", job.id, "target", target.String())
	go m.consume(ctx, job, proc)
	return job, nil
}

// consume is the single reader of the process output stream. It accumulates
// chunks, scans the growing buffer for failure tokens, and settles the job
// exactly once after the process exits.
func (m *Monitor) consume(ctx context.Context, job *Job, proc git.Process) {
	var reason string
	failed := false

	chunk := make([]byte, 4096)
	for {
		n, err := proc.Output().Read(chunk)
		if n > 0 {
			snippet, found := job.append(chunk[:n])
			if found && !failed {
				failed = true
				reason = snippet
				m.logger.Warn("publish output matched failure pattern",
					"job", job.id, "reason", snippet)
				// Stop waiting for a hung or doomed push; the stream
				// drains to EOF once the process is gone.
				_ = proc.Kill()
			}
		}
		if err != nil {
			break
		}
	}

	status := proc.Wait()

	var outcome Outcome
	switch {
	case failed:
		outcome = Outcome{State: StateFailure, Reason: reason}
	case ctx.Err() != nil:
		outcome = Outcome{State: StateFailure, Reason: "cancelled"}
	case status.Code == 0:
		outcome = Outcome{State: StateSuccess}
	default:
		outcome = Outcome{
			State:  StateFailure,
			Reason: fmt.Sprintf("non-zero exit (%d), no diagnostic captured", status.Code),
		}
	}

	job.settle(outcome)
	if outcome.State == StateSuccess {
		m.logger.Info("publish succeeded", "job", job.id, "target", job.target.String())
	} else {
		m.logger.Error("publish failed",
			"job", job.id, "target", job.target.String(), "reason", outcome.Reason)
	}
}

// Job is one in-flight synchronization attempt. Its outcome transitions at
// most once from pending to a terminal state.
type Job struct {
	id     string
	target Target

	mu      sync.Mutex
	buf     bytes.Buffer
	outcome Outcome

	done chan struct{}
}

// ID returns the job's identifier, used for log correlation.
func (j *Job) ID() string {
	return j.id
}

// Target returns the job's push target.
func (j *Job) Target() Target {
	return j.target
}

// Done is closed once the job reaches a terminal outcome.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Outcome returns the job's current outcome; State is StatePending until
// the job terminates.
func (j *Job) Outcome() Outcome {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.outcome
}

// Wait blocks until the job terminates or ctx is done.
func (j *Job) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-j.done:
		return j.Outcome(), nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Output returns the accumulated subprocess output for diagnostics. Only
// meaningful after the job has terminated.
func (j *Job) Output() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.buf.String()
}

// append adds a chunk to the cumulative buffer and scans the whole buffer
// for failure tokens. Returns the matched snippet when one is found.
func (j *Job) append(chunk []byte) (string, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.buf.Write(chunk)
	return scanFailure(j.buf.Bytes())
}

// settle records the terminal outcome. Later calls are ignored so the job
// never reports two different results.
func (j *Job) settle(outcome Outcome) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.outcome.State != StatePending {
		return
	}
	j.outcome = outcome
	close(j.done)
}

// scanFailure looks for the earliest failure token in the buffer and
// returns the line containing it.
func scanFailure(buf []byte) (string, bool) {
	matchAt := -1
	for _, token := range failureTokens {
		if idx := bytes.Index(buf, token); idx >= 0 && (matchAt < 0 || idx < matchAt) {
			matchAt = idx
		}
	}
	if matchAt < 0 {
		return "", false
	}

	start := bytes.LastIndexByte(buf[:matchAt], '\n') + 1
	end := bytes.IndexByte(buf[matchAt:], '\n')
	if end < 0 {
		end = len(buf)
	} else {
		end += matchAt
	}
	return string(buf[start:end]), true
}
