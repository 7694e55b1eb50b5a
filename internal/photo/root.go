package photo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var ErrOutsideRoot = errors.New("path is outside the photo root")

// Within resolves path against root and returns the absolute, symlink-free result. Relative
// paths are taken relative to root. Paths that do not exist yet are resolved through their
// nearest existing parent, so a new destination can be checked before it is created.
func Within(root, path string) (string, error) {
	if strings.TrimSpace(root) == "" {
		return "", fmt.Errorf("%w: no photo root configured", ErrOutsideRoot)
	}
	base, err := resolve(root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve photo root %s: %w", root, err)
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(base, path)
	}
	target, err := resolve(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	rel, err := filepath.Rel(base, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	return target, nil
}

// resolve makes path absolute and evaluates symlinks in its longest existing prefix.
func resolve(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	var rest []string
	dir := abs
	for {
		resolved, err := filepath.EvalSymlinks(dir)
		if err == nil {
			return filepath.Join(append([]string{resolved}, rest...)...), nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs, nil
		}
		rest = append([]string{filepath.Base(dir)}, rest...)
		dir = parent
	}
}
