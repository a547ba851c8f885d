// Package worlddir maps world names and world-relative paths to the
// directories that hold their region files.
package worlddir

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrEmptyWorld = errors.New("worlddir: empty world name")
	ErrEscape     = errors.New("worlddir: path escapes root")
)

// Resolver places every world in its own directory under Root.
type Resolver struct {
	Root string
}

// Resolve returns Root/world/path as an absolute, cleaned path. World names
// and paths that would leave Root are rejected.
func (r Resolver) Resolve(world, path string) (string, error) {
	if strings.TrimSpace(world) == "" {
		return "", ErrEmptyWorld
	}

	root, err := filepath.Abs(r.Root)
	if err != nil {
		return "", errors.Wrapf(err, "resolve root %s", r.Root)
	}

	dir := filepath.Join(root, world, path)
	rel, err := filepath.Rel(root, dir)
	if err != nil {
		return "", errors.Wrapf(err, "resolve %s/%s", world, path)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.Wrapf(ErrEscape, "%s/%s", world, path)
	}
	return dir, nil
}
