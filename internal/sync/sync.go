package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/QWxleA/EGO/internal/changeset"
	"github.com/QWxleA/EGO/internal/config"
	"github.com/QWxleA/EGO/internal/git"
	"github.com/QWxleA/EGO/internal/post"
	"github.com/QWxleA/EGO/internal/publish"
)

// Resolver computes the change set between a base revision and the current
// head. Satisfied by changeset.Resolver.
type Resolver interface {
	Resolve(ctx context.Context, repoDir, base string) (*changeset.ChangeSet, error)
}

// Job is the handle of one in-flight push the engine waits on.
type Job interface {
	Wait(ctx context.Context) (publish.Outcome, error)
	Output() string
}

// Publisher starts publish jobs. Adapted from publish.Monitor via
// MonitorPublisher.
type Publisher interface {
	Start(ctx context.Context, repoDir string, target publish.Target) (Job, error)
}

// MonitorPublisher adapts a publish.Monitor to the Publisher interface.
func MonitorPublisher(m *publish.Monitor) Publisher {
	return monitorPublisher{m}
}

type monitorPublisher struct {
	m *publish.Monitor
}

func (p monitorPublisher) Start(ctx context.Context, repoDir string, target publish.Target) (Job, error) {
	job, err := p.m.Start(ctx, repoDir, target)
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Engine orchestrates the publish pipeline
type Engine struct {
	cfg       *config.Config
	git       git.Client
	resolver  Resolver
	publisher Publisher
	logger    *slog.Logger
	dryRun    bool
}

// NewEngine creates a new publish engine
func NewEngine(cfg *config.Config, gitClient git.Client, resolver Resolver, publisher Publisher, logger *slog.Logger, dryRun bool) *Engine {
	return &Engine{
		cfg:       cfg,
		git:       gitClient,
		resolver:  resolver,
		publisher: publisher,
		logger:    logger,
		dryRun:    dryRun,
	}
}

// Run executes the complete publish process: resolve what changed since the
// last published revision, then mirror the branch to every configured
// remote, one job at a time.
func (e *Engine) Run(ctx context.Context) error {
	repoDir := e.cfg.Site.RepoDir

	e.logger.Info("starting publish",
		"repo", repoDir,
		"branch", e.cfg.Publish.Branch,
		"dry_run", e.dryRun)

	if err := e.git.VerifyRepository(ctx, repoDir); err != nil {
		return err
	}

	// Ensure state directory exists
	if err := os.MkdirAll(e.cfg.Paths.StateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	// Fold pending edits into the head before resolving
	if e.cfg.Publish.AutoCommit && !e.dryRun {
		committed, err := e.git.CommitAll(ctx, repoDir, "update content")
		if err != nil {
			return fmt.Errorf("failed to commit pending changes: %w", err)
		}
		if committed {
			e.logger.Info("committed pending changes")
		}
	}

	head, err := e.git.Head(ctx, repoDir)
	if err != nil {
		return err
	}

	// Load previous state
	prevState, err := e.loadState()
	if err != nil {
		e.logger.Warn("failed to load previous state (will treat as fresh publish)", "error", err)
		prevState = &State{Published: make(map[string]string)}
	}

	// Build the change set
	cs, err := e.resolveChanges(ctx, prevState, repoDir)
	if err != nil {
		return err
	}

	// Log plan
	e.logger.Info("publish plan",
		"publish", len(cs.ToPublish),
		"retract", len(cs.ToRetract),
		"head", head)

	// check for dry-run mode
	if e.dryRun {
		e.logPlanDetails(cs)
		e.logger.Info("dry-run complete, nothing pushed")
		return nil
	}

	// Mirror the repository to each remote. Jobs are serialized: the
	// working directory is owned by at most one active job at a time.
	for _, remote := range e.cfg.Publish.Remotes {
		target := publish.Target{
			Remote:      remote,
			Branch:      e.cfg.Publish.Branch,
			AllBranches: e.cfg.Publish.AllBranches,
		}

		job, err := e.publisher.Start(ctx, repoDir, target)
		if err != nil {
			return fmt.Errorf("failed to start publish to %s: %w", target, err)
		}

		outcome, err := job.Wait(ctx)
		if err != nil {
			return fmt.Errorf("waiting for publish to %s: %w", target, err)
		}
		if outcome.State != publish.StateSuccess {
			e.logger.Error("publish failed",
				"target", target.String(),
				"reason", outcome.Reason,
				"output", job.Output())
			return fmt.Errorf("push to %s failed: %s", target, outcome.Reason)
		}
		e.logger.Info("remote up to date", "target", target.String())
	}

	// Save new state
	newState := e.buildState(prevState, cs, head)
	if err := e.saveState(newState); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}

	e.logger.Info("publish completed successfully", "commit", head)
	return nil
}

// Plan resolves what a publish run would do without pushing anything or
// touching the state file.
func (e *Engine) Plan(ctx context.Context) (*changeset.ChangeSet, *State, error) {
	repoDir := e.cfg.Site.RepoDir

	if err := e.git.VerifyRepository(ctx, repoDir); err != nil {
		return nil, nil, err
	}

	prevState, err := e.loadState()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load state: %w", err)
	}

	cs, err := e.resolveChanges(ctx, prevState, repoDir)
	if err != nil {
		return nil, nil, err
	}
	return cs, prevState, nil
}

// resolveChanges builds the change set since the last published revision.
// A fresh state publishes every tracked content file.
func (e *Engine) resolveChanges(ctx context.Context, prevState *State, repoDir string) (*changeset.ChangeSet, error) {
	if prevState.Commit == "" {
		tracked, err := e.git.TrackedFiles(ctx, repoDir)
		if err != nil {
			return nil, err
		}

		cs := &changeset.ChangeSet{}
		for _, rel := range tracked {
			if post.IsContentFile(rel, e.cfg.Site.ContentSuffix) {
				cs.ToPublish = append(cs.ToPublish, filepath.Join(repoDir, rel))
			}
		}
		return cs, nil
	}

	return e.resolver.Resolve(ctx, repoDir, prevState.Commit)
}

// logPlanDetails logs detailed plan information for dry-run
func (e *Engine) logPlanDetails(cs *changeset.ChangeSet) {
	for _, path := range cs.ToPublish {
		e.logger.Info("[dry-run] would publish", "path", path)
	}
	for _, path := range cs.ToRetract {
		e.logger.Info("[dry-run] would retract", "path", path)
	}
}

// buildState creates a new State from the mirrored change set
func (e *Engine) buildState(prevState *State, cs *changeset.ChangeSet, head string) *State {
	state := &State{
		Commit:    head,
		Published: make(map[string]string),
	}

	if prevState != nil {
		for rel, commit := range prevState.Published {
			state.Published[rel] = commit
		}
	}

	for _, path := range cs.ToRetract {
		if rel, err := post.RelativePath(e.cfg.Site.RepoDir, path); err == nil {
			delete(state.Published, rel)
		}
	}

	for _, path := range cs.ToPublish {
		if rel, err := post.RelativePath(e.cfg.Site.RepoDir, path); err == nil {
			state.Published[rel] = head
		}
	}

	return state
}

// loadState loads the previous state from disk
func (e *Engine) loadState() (*State, error) {
	return LoadState(e.cfg.StateFilePath())
}

// saveState persists the state to disk
func (e *Engine) saveState(state *State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(e.cfg.StateFilePath(), data, 0644)
}
