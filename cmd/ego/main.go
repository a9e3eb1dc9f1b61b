package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/QWxleA/EGO/internal/changeset"
	"github.com/QWxleA/EGO/internal/config"
	"github.com/QWxleA/EGO/internal/git"
	"github.com/QWxleA/EGO/internal/post"
	"github.com/QWxleA/EGO/internal/publish"
	"github.com/QWxleA/EGO/internal/sync"
	"github.com/QWxleA/EGO/internal/watch"
	"github.com/QWxleA/EGO/internal/webhook"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
	dryRun    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ego",
	Short: "Publish an org-mode blog from a Git repository",
	Long: `ego manages a blog whose posts live as org files on a Git branch.

It resolves which content files changed since the last publish and mirrors
the source branch to the configured remotes. It can run as a one-off publish,
watch the content tree for edits, or serve as a webhook daemon that reacts
to GitHub push events.`,
	SilenceUsage: true,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the site repository",
	Long: `Init creates the site's Git repository on the configured source branch and
lays out the posts directory. It is safe to run inside an existing
repository; the branch is created or checked out as needed.`,
	RunE: runInit,
}

var newPostCmd = &cobra.Command{
	Use:   "new-post <title>",
	Short: "Create a new post from a title",
	Long: `New-post slugifies the title and creates a content file with an org
front-matter preamble under the posts directory.`,
	Args: cobra.ExactArgs(1),
	RunE: runNewPost,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the publish state of the site",
	RunE:  runStatus,
}

var diffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Show content changes since the last publish",
	Long: `Diff resolves the change set between the last published revision and the
current head and prints which content files would be published or retracted.`,
	RunE: runDiff,
}

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Mirror the source branch to the configured remotes",
	Long: `Publish resolves the content change set since the last successful publish
and pushes the source branch to every configured remote, one remote at a
time. Push output is monitored for diagnostics and a failed push aborts
the run without advancing the publish state.`,
	RunE: runPublish,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the posts directory and publish on changes",
	Long: `Watch monitors the posts directory tree for content file edits and runs a
publish after the tree has been quiet for the configured debounce interval.`,
	RunE: runWatch,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server",
	Long: `Serve starts a long-running HTTP server that listens for GitHub webhook
events and publishes when the configured repository is updated.

This mode requires additional configuration for webhook secrets and allowed refs.`,
	RunE: runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ego %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/ego/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	// Publish command flags
	publishCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be published without pushing")

	// Add commands
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(newPostCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// buildEngine wires the publish pipeline from its collaborators.
func buildEngine(cfg *config.Config, logger *slog.Logger, dryRun bool) *sync.Engine {
	runner := git.NewShellRunner()
	client := git.NewShellClient(runner)
	resolver := changeset.NewResolver(client, cfg.Site.ContentSuffix)
	monitor := publish.NewMonitor(runner, logger)
	return sync.NewEngine(cfg, client, resolver, sync.MonitorPublisher(monitor), logger, dryRun)
}

func runInit(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	client := git.NewShellClient(git.NewShellRunner())

	if err := client.Init(ctx, cfg.Site.RepoDir, cfg.Publish.Branch); err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}

	// Re-initializing an existing repository leaves its branch untouched, so
	// move it onto the publish branch explicitly. CurrentBranch fails only on
	// an unborn head, which init already pointed at the right branch.
	if branch, err := client.CurrentBranch(ctx, cfg.Site.RepoDir); err == nil && branch != cfg.Publish.Branch {
		if err := client.CheckoutBranch(ctx, cfg.Site.RepoDir, cfg.Publish.Branch); err != nil {
			return fmt.Errorf("failed to check out branch %s: %w", cfg.Publish.Branch, err)
		}
	}

	if err := os.MkdirAll(cfg.PostsSourceDir(), 0755); err != nil {
		return fmt.Errorf("failed to create posts directory: %w", err)
	}

	color.Green("Initialized site repository at %s (branch %s)", cfg.Site.RepoDir, cfg.Publish.Branch)
	fmt.Printf("  posts: %s\n", cfg.PostsSourceDir())
	return nil
}

func runNewPost(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	path, err := post.Create(cfg.PostsSourceDir(), cfg.Site.ContentSuffix, args[0], time.Now())
	if err != nil {
		return err
	}

	color.Green("Created %s", path)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	client := git.NewShellClient(git.NewShellRunner())
	if err := client.VerifyRepository(ctx, cfg.Site.RepoDir); err != nil {
		return err
	}

	head, err := client.Head(ctx, cfg.Site.RepoDir)
	if err != nil {
		return err
	}

	branch, err := client.CurrentBranch(ctx, cfg.Site.RepoDir)
	if err != nil {
		return err
	}

	state, err := sync.LoadState(cfg.StateFilePath())
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}

	fmt.Printf("repository: %s\n", cfg.Site.RepoDir)
	fmt.Printf("branch:     %s\n", branch)
	fmt.Printf("head:       %s\n", shortCommit(head))

	if state.Commit == "" {
		color.Yellow("never published")
		warnMissingRemotes(ctx, client, cfg)
		warnIgnoredContent(ctx, client, cfg)
		warnUntrackedContent(ctx, client, cfg)
		return nil
	}

	fmt.Printf("published:  %s (%d files)\n", shortCommit(state.Commit), len(state.Published))
	if state.Commit == head {
		color.Green("up to date")
	} else {
		color.Yellow("head has moved since last publish, run 'ego diff' to see changes")
	}

	warnMissingRemotes(ctx, client, cfg)
	warnIgnoredContent(ctx, client, cfg)
	warnUntrackedContent(ctx, client, cfg)
	return nil
}

// warnMissingRemotes flags configured publish remotes the repository does
// not actually have.
func warnMissingRemotes(ctx context.Context, client git.Client, cfg *config.Config) {
	remotes, err := client.Remotes(ctx, cfg.Site.RepoDir)
	if err != nil {
		return
	}
	have := make(map[string]bool, len(remotes))
	for _, r := range remotes {
		have[r] = true
	}
	for _, want := range cfg.Publish.Remotes {
		if !have[want] {
			color.Red("  remote %q is configured for publishing but missing from the repository", want)
		}
	}
}

// warnUntrackedContent flags content files on disk that git does not track;
// they would silently stay out of every publish.
func warnUntrackedContent(ctx context.Context, client git.Client, cfg *config.Config) {
	for _, rel := range untrackedContent(ctx, client, cfg) {
		color.Yellow("  %s is not tracked by git, commit it to publish", rel)
	}
}

// untrackedContent lists posts-dir content files missing from the git index.
func untrackedContent(ctx context.Context, client git.Client, cfg *config.Config) []string {
	discovered, err := post.DiscoverContentFiles(cfg.PostsSourceDir(), cfg.Site.ContentSuffix)
	if err != nil {
		return nil
	}
	tracked, err := client.TrackedFiles(ctx, cfg.Site.RepoDir)
	if err != nil {
		return nil
	}

	known := make(map[string]bool, len(tracked))
	for _, rel := range tracked {
		known[rel] = true
	}

	var missing []string
	for _, path := range discovered {
		rel, err := post.RelativePath(cfg.Site.RepoDir, path)
		if err != nil {
			continue
		}
		if !known[rel] {
			missing = append(missing, rel)
		}
	}
	return missing
}

// warnIgnoredContent flags content files that git ignores; they would never
// reach a published revision.
func warnIgnoredContent(ctx context.Context, client git.Client, cfg *config.Config) {
	ignored, err := client.IgnoredFiles(ctx, cfg.Site.RepoDir)
	if err != nil {
		return
	}
	for _, path := range ignored {
		if post.IsContentFile(path, cfg.Site.ContentSuffix) {
			color.Yellow("  %s is ignored by git and will never be published", path)
		}
	}
}

func runDiff(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	engine := buildEngine(cfg, logger, true)
	cs, state, err := engine.Plan(ctx)
	if err != nil {
		return err
	}

	if cs.Empty() {
		color.Green("nothing to publish")
		return nil
	}

	if state.Commit == "" {
		fmt.Println("first publish, all tracked content files are new:")
	}
	for _, path := range cs.ToPublish {
		color.Green("  publish  %s", relOrAbs(cfg.Site.RepoDir, path))
	}
	for _, path := range cs.ToRetract {
		color.Red("  retract  %s", relOrAbs(cfg.Site.RepoDir, path))
	}
	return nil
}

func runPublish(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	engine := buildEngine(cfg, logger, dryRun)

	logger.Info("starting publish operation")
	if err := engine.Run(ctx); err != nil {
		logger.Error("publish failed", "error", err)
		return err
	}

	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	engine := buildEngine(cfg, logger, false)
	watcher := watch.NewWatcher(cfg, engine, logger)

	return watcher.Start(ctx)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if !cfg.Serve.Enabled {
		return fmt.Errorf("serve mode is not enabled in the configuration")
	}

	engine := buildEngine(cfg, logger, false)

	server, err := webhook.NewServer(cfg, engine, logger)
	if err != nil {
		return fmt.Errorf("failed to create webhook server: %w", err)
	}

	return server.Start(ctx)
}

func setupLogger() *slog.Logger {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Create handler based on format
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	// Determine config file path
	configPath := cfgFile
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		configPath = fmt.Sprintf("%s/.config/ego/config.yaml", home)
	}

	logger.Info("loading configuration", "path", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"repo", cfg.Site.RepoDir,
		"branch", cfg.Publish.Branch,
		"remotes", strings.Join(cfg.Publish.Remotes, ","),
		"state_dir", cfg.Paths.StateDir)

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}

func shortCommit(commit string) string {
	if len(commit) > 12 {
		return commit[:12]
	}
	return commit
}

func relOrAbs(baseDir, path string) string {
	if rel, err := post.RelativePath(baseDir, path); err == nil {
		return rel
	}
	return path
}
