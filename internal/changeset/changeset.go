// Package changeset computes, between two repository snapshots, the set of
// content files that must be republished or retracted.
package changeset

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// Differ supplies the raw name-status diff text between a base revision and
// the current head. Satisfied by git.Client.
type Differ interface {
	DiffNameStatus(ctx context.Context, dir, base string) (string, error)
}

// ChangeSet categorizes content files touched between the base revision and
// the current head. Paths are absolute; ordering follows the underlying diff
// output and is stable only within one resolution.
type ChangeSet struct {
	ToPublish []string
	ToRetract []string
}

// Empty reports whether the change set contains no operations.
func (c *ChangeSet) Empty() bool {
	return len(c.ToPublish) == 0 && len(c.ToRetract) == 0
}

// Resolver classifies name-status diff records into publish and retract
// lists, keeping only paths with the configured content suffix.
type Resolver struct {
	client Differ
	suffix string
}

// NewResolver creates a resolver filtering for the given content-file
// suffix (e.g. ".org"). The suffix match is case-insensitive.
func NewResolver(client Differ, suffix string) *Resolver {
	return &Resolver{client: client, suffix: strings.ToLower(suffix)}
}

// Resolve compares base against the current head of the repository at
// repoDir. Diff retrieval failures surface immediately; no partial change
// set is returned.
func (r *Resolver) Resolve(ctx context.Context, repoDir, base string) (*ChangeSet, error) {
	diff, err := r.client.DiffNameStatus(ctx, repoDir, base)
	if err != nil {
		return nil, fmt.Errorf("resolve change set: %w", err)
	}

	cs := &ChangeSet{}
	for _, line := range strings.Split(diff, "\n") {
		record, ok := parseRecord(line)
		if !ok {
			continue
		}
		r.apply(cs, repoDir, record)
	}
	return cs, nil
}

// record is one parsed name-status line. For renames and copies, oldPath
// holds the pre-image path and path the post-image path.
type record struct {
	status  byte
	path    string
	oldPath string
}

// parseRecord parses a single name-status line. Lines that do not match the
// expected shape are ignored, not an error.
func parseRecord(line string) (record, bool) {
	fields := strings.Split(line, "\t")
	if len(fields) < 2 || fields[0] == "" {
		return record{}, false
	}

	status := fields[0][0]
	// A similarity score may follow R and C (e.g. "R100").
	for _, c := range fields[0][1:] {
		if c < '0' || c > '9' {
			return record{}, false
		}
	}

	switch status {
	case 'A', 'M', 'D':
		if len(fields) != 2 || fields[1] == "" {
			return record{}, false
		}
		return record{status: status, path: fields[1]}, true
	case 'R', 'C':
		if len(fields) != 3 || fields[1] == "" || fields[2] == "" {
			return record{}, false
		}
		return record{status: status, oldPath: fields[1], path: fields[2]}, true
	default:
		return record{}, false
	}
}

// apply folds one record into the change set. Renames count as a retract of
// the old path plus a publish of the new one; copies only publish the new
// path since the old file still exists.
func (r *Resolver) apply(cs *ChangeSet, repoDir string, rec record) {
	switch rec.status {
	case 'A', 'M':
		if r.matches(rec.path) {
			cs.ToPublish = append(cs.ToPublish, filepath.Join(repoDir, rec.path))
		}
	case 'D':
		if r.matches(rec.path) {
			cs.ToRetract = append(cs.ToRetract, filepath.Join(repoDir, rec.path))
		}
	case 'R':
		if r.matches(rec.oldPath) {
			cs.ToRetract = append(cs.ToRetract, filepath.Join(repoDir, rec.oldPath))
		}
		if r.matches(rec.path) {
			cs.ToPublish = append(cs.ToPublish, filepath.Join(repoDir, rec.path))
		}
	case 'C':
		if r.matches(rec.path) {
			cs.ToPublish = append(cs.ToPublish, filepath.Join(repoDir, rec.path))
		}
	}
}

// matches reports whether path carries the content-file suffix.
func (r *Resolver) matches(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), r.suffix)
}
