package publish

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/QWxleA/EGO/internal/git"
)

// fakeProcess simulates a push subprocess whose output is delivered in
// test-controlled chunks with arbitrary boundaries.
type fakeProcess struct {
	r *io.PipeReader
	w *io.PipeWriter

	exit     chan git.ExitStatus
	mu       sync.Mutex
	killed   bool
	exitCode int // status delivered when Kill is called
}

func newFakeProcess() *fakeProcess {
	r, w := io.Pipe()
	return &fakeProcess{r: r, w: w, exit: make(chan git.ExitStatus, 1), exitCode: 137}
}

func (p *fakeProcess) Output() io.Reader    { return p.r }
func (p *fakeProcess) Wait() git.ExitStatus { return <-p.exit }

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	_ = p.w.Close()
	p.exit <- git.ExitStatus{Code: p.exitCode}
	return nil
}

func (p *fakeProcess) wasKilled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

// send writes one output chunk, blocking until the monitor consumed it.
func (p *fakeProcess) send(t *testing.T, chunk string) {
	t.Helper()
	if _, err := p.w.Write([]byte(chunk)); err != nil {
		t.Fatalf("send chunk: %v", err)
	}
}

// finish closes the stream and delivers the exit status.
func (p *fakeProcess) finish(code int) {
	_ = p.w.Close()
	p.exit <- git.ExitStatus{Code: code}
}

// fakeRunner hands out a prepared process and records the invocation.
type fakeRunner struct {
	proc     *fakeProcess
	startErr error
	dir      string
	args     []string
}

func (r *fakeRunner) Run(_ context.Context, _ string, _ ...string) (string, error) {
	return "", nil
}

func (r *fakeRunner) Start(_ context.Context, dir string, args ...string) (git.Process, error) {
	r.dir = dir
	r.args = args
	if r.startErr != nil {
		return nil, r.startErr
	}
	return r.proc, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func awaitOutcome(t *testing.T, job *Job) Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	outcome, err := job.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return outcome
}

func TestStart_SuccessTranscript(t *testing.T) {
	proc := newFakeProcess()
	runner := &fakeRunner{proc: proc}
	m := NewMonitor(runner, testLogger())

	job, err := m.Start(context.Background(), "/repo", Target{Remote: "origin", Branch: "source"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if job.Outcome().State != StatePending {
		t.Fatal("expected pending outcome before process exit")
	}

	proc.send(t, "Everything up-to-date")
	proc.finish(0)

	outcome := awaitOutcome(t, job)
	if outcome.State != StateSuccess {
		t.Fatalf("expected success, got %v (%s)", outcome.State, outcome.Reason)
	}
	if !strings.Contains(job.Output(), "Everything up-to-date") {
		t.Errorf("expected transcript in output, got %q", job.Output())
	}
}

func TestStart_PushCommandShape(t *testing.T) {
	proc := newFakeProcess()
	runner := &fakeRunner{proc: proc}
	m := NewMonitor(runner, testLogger())

	job, err := m.Start(context.Background(), "/repo", Target{Remote: "origin", Branch: "source"})
	if err != nil {
		t.Fatal(err)
	}
	proc.finish(0)
	awaitOutcome(t, job)

	if runner.dir != "/repo" {
		t.Errorf("expected working dir /repo, got %q", runner.dir)
	}
	want := []string{"push", "origin", "source:source"}
	if strings.Join(runner.args, " ") != strings.Join(want, " ") {
		t.Errorf("args = %v, want %v", runner.args, want)
	}
}

func TestStart_AllBranchesCommandShape(t *testing.T) {
	proc := newFakeProcess()
	runner := &fakeRunner{proc: proc}
	m := NewMonitor(runner, testLogger())

	job, err := m.Start(context.Background(), "/repo", Target{Remote: "mirror", AllBranches: true})
	if err != nil {
		t.Fatal(err)
	}
	proc.finish(0)
	awaitOutcome(t, job)

	want := "push --all mirror"
	if strings.Join(runner.args, " ") != want {
		t.Errorf("args = %v, want %q", runner.args, want)
	}
}

func TestFailureTokenSplitAcrossChunks(t *testing.T) {
	proc := newFakeProcess()
	runner := &fakeRunner{proc: proc}
	m := NewMonitor(runner, testLogger())

	job, err := m.Start(context.Background(), "/repo", Target{Remote: "origin", Branch: "source"})
	if err != nil {
		t.Fatal(err)
	}

	// "fatal" is split mid-token; only a cumulative buffer can match it.
	proc.send(t, "remote: rejected\nfa")
	proc.send(t, "tal: unable to access")

	outcome := awaitOutcome(t, job)
	if outcome.State != StateFailure {
		t.Fatalf("expected failure, got %v", outcome.State)
	}
	if !strings.Contains(outcome.Reason, "fatal") {
		t.Errorf("expected reason to contain fatal, got %q", outcome.Reason)
	}
	if !proc.wasKilled() {
		t.Error("expected eager kill once the failure pattern matched")
	}
}

func TestFailureTokenSingleChunk(t *testing.T) {
	proc := newFakeProcess()
	runner := &fakeRunner{proc: proc}
	m := NewMonitor(runner, testLogger())

	job, err := m.Start(context.Background(), "/repo", Target{Remote: "origin", Branch: "source"})
	if err != nil {
		t.Fatal(err)
	}

	proc.send(t, "remote: rejected\nfatal: unable to access")

	outcome := awaitOutcome(t, job)
	if outcome.State != StateFailure {
		t.Fatalf("expected failure, got %v", outcome.State)
	}
	if !strings.Contains(outcome.Reason, "fatal") {
		t.Errorf("expected reason to contain fatal, got %q", outcome.Reason)
	}
}

func TestInnocentSplitSubstringIsNotAFailure(t *testing.T) {
	proc := newFakeProcess()
	runner := &fakeRunner{proc: proc}
	m := NewMonitor(runner, testLogger())

	job, err := m.Start(context.Background(), "/repo", Target{Remote: "origin", Branch: "source"})
	if err != nil {
		t.Fatal(err)
	}

	// The boundary splits "transferred"; the joined buffer still contains
	// no failure token.
	proc.send(t, "Objects transferr")
	proc.send(t, "ed, done.\n")
	proc.finish(0)

	outcome := awaitOutcome(t, job)
	if outcome.State != StateSuccess {
		t.Fatalf("expected success, got %v (%s)", outcome.State, outcome.Reason)
	}
}

func TestNonZeroExitWithoutDiagnostic(t *testing.T) {
	proc := newFakeProcess()
	runner := &fakeRunner{proc: proc}
	m := NewMonitor(runner, testLogger())

	job, err := m.Start(context.Background(), "/repo", Target{Remote: "origin", Branch: "source"})
	if err != nil {
		t.Fatal(err)
	}

	proc.send(t, "some inconclusive output\n")
	proc.finish(1)

	outcome := awaitOutcome(t, job)
	if outcome.State != StateFailure {
		t.Fatalf("expected failure, got %v", outcome.State)
	}
	if !strings.Contains(outcome.Reason, "non-zero exit") {
		t.Errorf("expected exit-code reason, got %q", outcome.Reason)
	}
}

func TestCancellationMarksJobFailed(t *testing.T) {
	proc := newFakeProcess()
	runner := &fakeRunner{proc: proc}
	m := NewMonitor(runner, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	job, err := m.Start(ctx, "/repo", Target{Remote: "origin", Branch: "source"})
	if err != nil {
		t.Fatal(err)
	}

	proc.send(t, "Enumerating objects\n")
	cancel()
	// The real runner's process dies with the context; simulate that.
	proc.finish(-1)

	outcome := awaitOutcome(t, job)
	if outcome.State != StateFailure {
		t.Fatalf("expected failure, got %v", outcome.State)
	}
	if outcome.Reason != "cancelled" {
		t.Errorf("expected reason cancelled, got %q", outcome.Reason)
	}
}

func TestOutcomeSettlesOnce(t *testing.T) {
	job := &Job{done: make(chan struct{})}

	job.settle(Outcome{State: StateFailure, Reason: "first"})
	job.settle(Outcome{State: StateSuccess})

	outcome := job.Outcome()
	if outcome.State != StateFailure || outcome.Reason != "first" {
		t.Errorf("outcome changed after terminal state: %+v", outcome)
	}
}

func TestWait_CallerContextExpires(t *testing.T) {
	proc := newFakeProcess()
	runner := &fakeRunner{proc: proc}
	m := NewMonitor(runner, testLogger())

	job, err := m.Start(context.Background(), "/repo", Target{Remote: "origin", Branch: "source"})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := job.Wait(ctx); err == nil {
		t.Fatal("expected context expiry error while job still pending")
	}

	proc.finish(0)
	awaitOutcome(t, job)
}

func TestScanFailure(t *testing.T) {
	tests := []struct {
		name    string
		buf     string
		want    string
		matched bool
	}{
		{name: "no token", buf: "Everything up-to-date\n"},
		{name: "fatal line", buf: "ok\nfatal: repository not found\ndone", want: "fatal: repository not found", matched: true},
		{name: "error token", buf: "error: failed to push some refs", want: "error: failed to push some refs", matched: true},
		{name: "case sensitive", buf: "ERROR: nope\nFATAL: nope"},
		{name: "token at buffer end", buf: "remote: fatal", want: "remote: fatal", matched: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, matched := scanFailure([]byte(tc.buf))
			if matched != tc.matched {
				t.Fatalf("matched = %v, want %v", matched, tc.matched)
			}
			if got != tc.want {
				t.Errorf("snippet = %q, want %q", got, tc.want)
			}
		})
	}
}
