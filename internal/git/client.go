package git

import (
	"context"
	"fmt"
	"strings"
)

// Client provides the simple synchronous repository operations: each one is
// a single git invocation with a pass/fail check on its complete output.
type Client interface {
	// VerifyRepository checks that dir is a git repository root.
	VerifyRepository(ctx context.Context, dir string) error

	// Init initializes a repository with the given initial branch.
	Init(ctx context.Context, dir, branch string) error

	// CurrentBranch returns the name of the checked-out branch.
	CurrentBranch(ctx context.Context, dir string) (string, error)

	// Head returns the commit hash of the current head.
	Head(ctx context.Context, dir string) (string, error)

	// CheckoutBranch checks out the named branch, creating it if absent.
	CheckoutBranch(ctx context.Context, dir, branch string) error

	// CommitAll stages every change and commits it with the given message.
	// Returns false when there was nothing to commit.
	CommitAll(ctx context.Context, dir, message string) (bool, error)

	// TrackedFiles lists all tracked paths, relative to the repository root.
	TrackedFiles(ctx context.Context, dir string) ([]string, error)

	// IgnoredFiles lists untracked paths matched by ignore rules.
	IgnoredFiles(ctx context.Context, dir string) ([]string, error)

	// Remotes lists the configured remote names.
	Remotes(ctx context.Context, dir string) ([]string, error)

	// DiffNameStatus returns the raw name-status diff text between base and
	// the current head, one record per line.
	DiffNameStatus(ctx context.Context, dir, base string) (string, error)
}

// ShellClient implements Client on top of a Runner.
type ShellClient struct {
	runner Runner
}

// NewShellClient creates a git client backed by the given runner.
func NewShellClient(runner Runner) *ShellClient {
	return &ShellClient{runner: runner}
}

// VerifyRepository checks that dir is a repository root.
func (c *ShellClient) VerifyRepository(ctx context.Context, dir string) error {
	if _, err := c.runner.Run(ctx, dir, "rev-parse", "--git-dir"); err != nil {
		return fmt.Errorf("%w: %s", ErrNotRepository, dir)
	}
	return nil
}

// Init initializes a new repository on the given branch.
func (c *ShellClient) Init(ctx context.Context, dir, branch string) error {
	if _, err := c.runner.Run(ctx, dir, "init", "-b", branch); err != nil {
		return fmt.Errorf("init repository: %w", err)
	}
	return nil
}

// CurrentBranch returns the checked-out branch name.
func (c *ShellClient) CurrentBranch(ctx context.Context, dir string) (string, error) {
	branch, err := c.runner.Run(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("resolve current branch: %w", err)
	}
	return branch, nil
}

// Head returns the current head commit hash.
func (c *ShellClient) Head(ctx context.Context, dir string) (string, error) {
	head, err := c.runner.Run(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("resolve head: %w", err)
	}
	return head, nil
}

// CheckoutBranch checks out branch, creating it when it does not exist yet.
func (c *ShellClient) CheckoutBranch(ctx context.Context, dir, branch string) error {
	if _, err := c.runner.Run(ctx, dir, "rev-parse", "--verify", branch); err != nil {
		if _, err := c.runner.Run(ctx, dir, "checkout", "-b", branch); err != nil {
			return fmt.Errorf("create branch %q: %w", branch, err)
		}
		return nil
	}

	if _, err := c.runner.Run(ctx, dir, "checkout", branch); err != nil {
		return fmt.Errorf("checkout branch %q: %w", branch, err)
	}
	return nil
}

// CommitAll stages all changes and commits them. A clean tree is not an
// error; it reports false.
func (c *ShellClient) CommitAll(ctx context.Context, dir, message string) (bool, error) {
	if _, err := c.runner.Run(ctx, dir, "add", "-A"); err != nil {
		return false, fmt.Errorf("stage changes: %w", err)
	}

	staged, err := c.runner.Run(ctx, dir, "diff", "--cached", "--name-only")
	if err != nil {
		return false, fmt.Errorf("check staged changes: %w", err)
	}
	if staged == "" {
		return false, nil
	}

	if _, err := c.runner.Run(ctx, dir, "commit", "-m", message); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// TrackedFiles lists tracked paths relative to the repository root.
func (c *ShellClient) TrackedFiles(ctx context.Context, dir string) ([]string, error) {
	output, err := c.runner.Run(ctx, dir, "ls-files")
	if err != nil {
		return nil, fmt.Errorf("list tracked files: %w", err)
	}
	return splitLines(output), nil
}

// IgnoredFiles lists untracked paths matched by ignore rules.
func (c *ShellClient) IgnoredFiles(ctx context.Context, dir string) ([]string, error) {
	output, err := c.runner.Run(ctx, dir, "ls-files", "--others", "--ignored", "--exclude-standard")
	if err != nil {
		return nil, fmt.Errorf("list ignored files: %w", err)
	}
	return splitLines(output), nil
}

// Remotes lists the configured remote names.
func (c *ShellClient) Remotes(ctx context.Context, dir string) ([]string, error) {
	output, err := c.runner.Run(ctx, dir, "remote")
	if err != nil {
		return nil, fmt.Errorf("list remotes: %w", err)
	}
	return splitLines(output), nil
}

// DiffNameStatus returns the raw name-status diff between base and head.
func (c *ShellClient) DiffNameStatus(ctx context.Context, dir, base string) (string, error) {
	output, err := c.runner.Run(ctx, dir, "diff", "--name-status", base, "HEAD")
	if err != nil {
		return "", fmt.Errorf("diff against %s: %w", base, err)
	}
	return output, nil
}

// splitLines splits trimmed command output into lines, dropping empties.
func splitLines(output string) []string {
	if output == "" {
		return nil
	}
	lines := strings.Split(output, "\n")
	result := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			result = append(result, line)
		}
	}
	return result
}
