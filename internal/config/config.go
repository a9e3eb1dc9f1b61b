package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete ego configuration
type Config struct {
	Site    SiteConfig    `yaml:"site"`
	Publish PublishConfig `yaml:"publish"`
	Paths   PathsConfig   `yaml:"paths"`
	Serve   ServeConfig   `yaml:"serve"`
	Watch   WatchConfig   `yaml:"watch"`
}

// SiteConfig configures the content repository
type SiteConfig struct {
	RepoDir       string `yaml:"repo_dir"`
	PostsDir      string `yaml:"posts_dir"`
	ContentSuffix string `yaml:"content_suffix"`
}

// PublishConfig configures how local branch state is mirrored to remotes
type PublishConfig struct {
	Branch      string   `yaml:"branch"`
	Remotes     []string `yaml:"remotes"`
	AllBranches bool     `yaml:"all_branches"`
	AutoCommit  bool     `yaml:"auto_commit"`
}

// PathsConfig configures local filesystem paths
type PathsConfig struct {
	StateDir string `yaml:"state_dir"`
}

// ServeConfig configures the webhook server
type ServeConfig struct {
	Enabled                 bool     `yaml:"enabled"`
	ListenAddr              string   `yaml:"listen_addr"`
	GitHubWebhookSecretFile string   `yaml:"github_webhook_secret_file"`
	AllowedEventTypes       []string `yaml:"allowed_event_types"`
	AllowedRefs             []string `yaml:"allowed_refs"`
}

// WatchConfig configures the filesystem watch mode
type WatchConfig struct {
	DebounceSeconds int `yaml:"debounce_seconds"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Expand environment variables in string fields
	cfg.expandEnv()

	// Apply defaults
	cfg.applyDefaults()

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.Site.RepoDir = os.ExpandEnv(c.Site.RepoDir)
	c.Site.PostsDir = os.ExpandEnv(c.Site.PostsDir)
	c.Paths.StateDir = os.ExpandEnv(c.Paths.StateDir)
	c.Serve.ListenAddr = os.ExpandEnv(c.Serve.ListenAddr)
	c.Serve.GitHubWebhookSecretFile = os.ExpandEnv(c.Serve.GitHubWebhookSecretFile)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Site.PostsDir == "" {
		c.Site.PostsDir = "posts"
	}
	if c.Site.ContentSuffix == "" {
		c.Site.ContentSuffix = ".org"
	}
	if c.Publish.Branch == "" {
		c.Publish.Branch = "source"
	}
	if len(c.Publish.Remotes) == 0 {
		c.Publish.Remotes = []string{"origin"}
	}
	if c.Paths.StateDir == "" && c.Site.RepoDir != "" {
		c.Paths.StateDir = filepath.Join(c.Site.RepoDir, ".ego")
	}
	if c.Watch.DebounceSeconds == 0 {
		c.Watch.DebounceSeconds = 2
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	// Validate site config
	if c.Site.RepoDir == "" {
		return fmt.Errorf("site.repo_dir is required")
	}
	if !filepath.IsAbs(c.Site.RepoDir) {
		return fmt.Errorf("site.repo_dir must be an absolute path: %s", c.Site.RepoDir)
	}
	if !strings.HasPrefix(c.Site.ContentSuffix, ".") {
		return fmt.Errorf("site.content_suffix must start with a dot: %s", c.Site.ContentSuffix)
	}
	if filepath.IsAbs(c.Site.PostsDir) {
		return fmt.Errorf("site.posts_dir must be relative to site.repo_dir: %s", c.Site.PostsDir)
	}

	// Validate publish config
	for _, remote := range c.Publish.Remotes {
		if remote == "" {
			return fmt.Errorf("publish.remotes must not contain empty names")
		}
	}

	// Validate watch config
	if c.Watch.DebounceSeconds < 0 {
		return fmt.Errorf("watch.debounce_seconds must not be negative")
	}

	// Validate serve config if enabled
	if c.Serve.Enabled {
		if c.Serve.ListenAddr == "" {
			return fmt.Errorf("serve.listen_addr is required when serve is enabled")
		}
		if c.Serve.GitHubWebhookSecretFile == "" {
			return fmt.Errorf("serve.github_webhook_secret_file is required when serve is enabled")
		}
	}

	return nil
}

// PostsSourceDir returns the absolute path of the posts directory
func (c *Config) PostsSourceDir() string {
	return filepath.Join(c.Site.RepoDir, c.Site.PostsDir)
}

// StateFilePath returns the path to the publish state file
func (c *Config) StateFilePath() string {
	return filepath.Join(c.Paths.StateDir, "state.json")
}

// WatchDebounce returns the watch debounce interval as a duration
func (c *Config) WatchDebounce() time.Duration {
	return time.Duration(c.Watch.DebounceSeconds) * time.Second
}
