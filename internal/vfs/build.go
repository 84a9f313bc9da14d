package vfs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// Build materializes layout below root on fsys. Root must be an existing
// directory. All files are written before any link is created, so links never
// dangle at creation time. The first failure aborts the build.
func Build(fsys afero.Fs, root string, layout Layout) (*Tree, error) {
	if err := layout.Validate(); err != nil {
		return nil, fmt.Errorf("invalid layout: %w", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := fsys.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("scenario root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scenario root is not a directory: %s", abs)
	}

	tree := &Tree{
		Root:    abs,
		Handles: make(map[string]string, len(layout.Files)+len(layout.Links)),
		fs:      fsys,
	}

	for _, f := range layout.Files {
		p := tree.Join(f.Path)
		if err := fsys.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, fmt.Errorf("create parent of %s: %w", p, err)
		}
		if err := afero.WriteFile(fsys, p, []byte(f.Content), 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", p, err)
		}
		tree.Handles[filepath.Base(p)] = p
	}

	if len(layout.Links) == 0 {
		return tree, nil
	}
	linker, ok := fsys.(afero.Linker)
	if !ok {
		return nil, fmt.Errorf("link %s: %w", layout.Links[0].Name, afero.ErrNoSymlink)
	}
	for _, ln := range layout.Links {
		name := tree.Join(ln.Name)
		target := tree.Join(ln.Target)
		if _, err := fsys.Stat(target); err != nil {
			return nil, fmt.Errorf("link %s: target: %w", name, err)
		}
		if err := fsys.MkdirAll(filepath.Dir(name), 0o755); err != nil {
			return nil, fmt.Errorf("create parent of %s: %w", name, err)
		}
		if err := linker.SymlinkIfPossible(target, name); err != nil {
			return nil, fmt.Errorf("link %s -> %s: %w", name, target, err)
		}
		tree.Handles[filepath.Base(name)] = name
		tree.Handles[filepath.Base(target)] = target
	}
	return tree, nil
}

// BuildDefault builds DefaultLayout on the OS filesystem.
func BuildDefault(root string) (*Tree, error) {
	return Build(afero.NewOsFs(), root, DefaultLayout())
}

func lstat(fsys afero.Fs, name string) (os.FileInfo, error) {
	if l, ok := fsys.(afero.Lstater); ok {
		info, _, err := l.LstatIfPossible(name)
		return info, err
	}
	return fsys.Stat(name)
}

func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
