package post

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// IsContentFile returns true if the path carries the content-file suffix.
// The match is case-insensitive.
func IsContentFile(path, suffix string) bool {
	return strings.HasSuffix(strings.ToLower(path), strings.ToLower(suffix))
}

// DiscoverContentFiles finds all content files under the specified directory.
// Hidden files and directories (names starting with ".") are skipped.
func DiscoverContentFiles(dir, suffix string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		// Skip hidden files and directories (e.g. .git, .ego)
		if path != dir && strings.HasPrefix(info.Name(), ".") {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if !info.IsDir() && IsContentFile(path, suffix) {
			files = append(files, path)
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	return files, nil
}

// RelativePath returns the relative path from baseDir to target
func RelativePath(baseDir, target string) (string, error) {
	return filepath.Rel(baseDir, target)
}

// Slug converts a post title into a filesystem-friendly name. Runs of
// non-alphanumeric characters collapse into single dashes.
func Slug(title string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// Create writes a new post file under postsDir with an org front-matter
// preamble. It refuses to overwrite an existing post.
func Create(postsDir, suffix, title string, now time.Time) (string, error) {
	slug := Slug(title)
	if slug == "" {
		return "", fmt.Errorf("post title %q produces an empty slug", title)
	}

	path := filepath.Join(postsDir, slug+suffix)
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("post already exists: %s", path)
	}

	if err := os.MkdirAll(postsDir, 0755); err != nil {
		return "", fmt.Errorf("create posts directory: %w", err)
	}

	content := fmt.Sprintf(`#+TITLE: %s
#+DATE: %s
#+TAGS:

`, title, now.Format("2006-01-02"))

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("write post: %w", err)
	}
	return path, nil
}
