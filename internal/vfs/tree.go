package vfs

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"
)

// Tree is a materialized Layout. Handles maps the base name of every created
// file (and of every link target) to its absolute path.
type Tree struct {
	Root    string
	Handles map[string]string

	fs afero.Fs
}

// Fs returns the filesystem the tree was built on.
func (t *Tree) Fs() afero.Fs {
	return t.fs
}

// Path returns the absolute path registered under name.
func (t *Tree) Path(name string) (string, bool) {
	p, ok := t.Handles[name]
	return p, ok
}

// MustPath is Path for names known to be part of the layout.
func (t *Tree) MustPath(name string) string {
	p, ok := t.Handles[name]
	if !ok {
		panic(fmt.Sprintf("vfs: no handle %q under %s", name, t.Root))
	}
	return p
}

// Join resolves a slash separated path relative to the root.
func (t *Tree) Join(rel string) string {
	return filepath.Join(t.Root, filepath.FromSlash(rel))
}

// Names lists registered handles in sorted order.
func (t *Tree) Names() []string {
	names := make([]string, 0, len(t.Handles))
	for name := range t.Handles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ReadFile reads a file relative to the root.
func (t *Tree) ReadFile(rel string) (string, error) {
	data, err := afero.ReadFile(t.fs, t.Join(rel))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteFile writes content to a file relative to the root, creating parents.
func (t *Tree) WriteFile(rel, content string) error {
	p := t.Join(rel)
	if err := t.fs.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create parent of %s: %w", p, err)
	}
	if err := afero.WriteFile(t.fs, p, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}
	return nil
}

// Exists reports whether rel exists below the root without following a
// trailing symlink.
func (t *Tree) Exists(rel string) (bool, error) {
	_, err := lstat(t.fs, t.Join(rel))
	if err == nil {
		return true, nil
	}
	if isNotExist(err) {
		return false, nil
	}
	return false, err
}

// Clean tears the tree down. See Clean.
func (t *Tree) Clean(opts ...CleanOption) error {
	return Clean(t.fs, t.Root, opts...)
}
