package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	// Create a temporary config file
	tmpfile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		_ = os.Remove(tmpfile.Name())
	}()

	content := `
site:
  repo_dir: "/home/user/blog"
  posts_dir: "posts"
  content_suffix: ".org"

publish:
  branch: "source"
  remotes: ["origin", "mirror"]
  auto_commit: true

paths:
  state_dir: "/home/user/.local/state/ego"

serve:
  enabled: false
`

	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(tmpfile.Name())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// Verify loaded values
	if cfg.Site.RepoDir != "/home/user/blog" {
		t.Errorf("expected repo dir /home/user/blog, got %s", cfg.Site.RepoDir)
	}
	if len(cfg.Publish.Remotes) != 2 || cfg.Publish.Remotes[1] != "mirror" {
		t.Errorf("expected remotes [origin mirror], got %v", cfg.Publish.Remotes)
	}
	if !cfg.Publish.AutoCommit {
		t.Error("expected auto_commit to be enabled")
	}
	if cfg.Paths.StateDir != "/home/user/.local/state/ego" {
		t.Errorf("unexpected state dir %s", cfg.Paths.StateDir)
	}
}

func TestLoad_Defaults(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	content := []byte(`site:
  repo_dir: "` + tmpDir + `"
`)
	if err := os.WriteFile(cfgPath, content, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Site.PostsDir != "posts" {
		t.Errorf("expected default posts dir, got %s", cfg.Site.PostsDir)
	}
	if cfg.Site.ContentSuffix != ".org" {
		t.Errorf("expected default content suffix .org, got %s", cfg.Site.ContentSuffix)
	}
	if cfg.Publish.Branch != "source" {
		t.Errorf("expected default branch source, got %s", cfg.Publish.Branch)
	}
	if len(cfg.Publish.Remotes) != 1 || cfg.Publish.Remotes[0] != "origin" {
		t.Errorf("expected default remotes [origin], got %v", cfg.Publish.Remotes)
	}
	if cfg.Paths.StateDir != filepath.Join(tmpDir, ".ego") {
		t.Errorf("expected state dir under repo, got %s", cfg.Paths.StateDir)
	}
	if cfg.WatchDebounce() != 2*time.Second {
		t.Errorf("expected default debounce 2s, got %s", cfg.WatchDebounce())
	}
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("EGO_TEST_REPO", "/srv/blog")

	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	content := []byte(`site:
  repo_dir: "$EGO_TEST_REPO"
`)
	if err := os.WriteFile(cfgPath, content, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Site.RepoDir != "/srv/blog" {
		t.Errorf("expected expanded repo dir /srv/blog, got %s", cfg.Site.RepoDir)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid config",
			cfg: Config{
				Site: SiteConfig{
					RepoDir:       "/srv/blog",
					PostsDir:      "posts",
					ContentSuffix: ".org",
				},
				Publish: PublishConfig{
					Branch:  "source",
					Remotes: []string{"origin"},
				},
			},
			wantErr: false,
		},
		{
			name: "missing repo dir",
			cfg: Config{
				Site: SiteConfig{
					PostsDir:      "posts",
					ContentSuffix: ".org",
				},
			},
			wantErr: true,
		},
		{
			name: "relative repo dir",
			cfg: Config{
				Site: SiteConfig{
					RepoDir:       "blog",
					PostsDir:      "posts",
					ContentSuffix: ".org",
				},
			},
			wantErr: true,
		},
		{
			name: "suffix without dot",
			cfg: Config{
				Site: SiteConfig{
					RepoDir:       "/srv/blog",
					PostsDir:      "posts",
					ContentSuffix: "org",
				},
			},
			wantErr: true,
		},
		{
			name: "absolute posts dir",
			cfg: Config{
				Site: SiteConfig{
					RepoDir:       "/srv/blog",
					PostsDir:      "/posts",
					ContentSuffix: ".org",
				},
			},
			wantErr: true,
		},
		{
			name: "empty remote name",
			cfg: Config{
				Site: SiteConfig{
					RepoDir:       "/srv/blog",
					PostsDir:      "posts",
					ContentSuffix: ".org",
				},
				Publish: PublishConfig{
					Remotes: []string{"origin", ""},
				},
			},
			wantErr: true,
		},
		{
			name: "serve enabled without listen addr",
			cfg: Config{
				Site: SiteConfig{
					RepoDir:       "/srv/blog",
					PostsDir:      "posts",
					ContentSuffix: ".org",
				},
				Serve: ServeConfig{
					Enabled:                 true,
					GitHubWebhookSecretFile: "/secret",
				},
			},
			wantErr: true,
		},
		{
			name: "serve enabled without secret file",
			cfg: Config{
				Site: SiteConfig{
					RepoDir:       "/srv/blog",
					PostsDir:      "posts",
					ContentSuffix: ".org",
				},
				Serve: ServeConfig{
					Enabled:    true,
					ListenAddr: ":8080",
				},
			},
			wantErr: true,
		},
		{
			name: "negative debounce",
			cfg: Config{
				Site: SiteConfig{
					RepoDir:       "/srv/blog",
					PostsDir:      "posts",
					ContentSuffix: ".org",
				},
				Watch: WatchConfig{
					DebounceSeconds: -1,
				},
			},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestPathHelpers(t *testing.T) {
	cfg := Config{
		Site:  SiteConfig{RepoDir: "/srv/blog", PostsDir: "posts"},
		Paths: PathsConfig{StateDir: "/srv/blog/.ego"},
	}

	if got := cfg.PostsSourceDir(); got != "/srv/blog/posts" {
		t.Errorf("PostsSourceDir = %s", got)
	}
	if got := cfg.StateFilePath(); got != "/srv/blog/.ego/state.json" {
		t.Errorf("StateFilePath = %s", got)
	}
}
