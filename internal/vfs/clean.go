package vfs

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/spf13/afero"
)

// CleanOption configures Clean.
type CleanOption func(*cleanConfig)

type cleanConfig struct {
	beforeRemove func(path string) error
}

// BeforeRemove registers a hook run on every entry before it is unlinked.
// Directories see it when the walk first reaches them, before their entries
// are read, and again if their final removal fails. Hook errors are
// collected but do not stop the teardown.
func BeforeRemove(fn func(path string) error) CleanOption {
	return func(c *cleanConfig) {
		c.beforeRemove = fn
	}
}

// Clean removes root and everything below it. Files have their mode reset to
// 0o666 before removal and directories to 0o777, so trees left with revoked
// permissions are still torn down. Entries that are already gone are
// ignored, which makes Clean idempotent. Remaining failures are returned
// joined.
func Clean(fsys afero.Fs, root string, opts ...CleanOption) error {
	cfg := cleanConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	if _, err := lstat(fsys, root); err != nil {
		if isNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", root, err)
	}

	var errs []error
	var dirs []string
	walkErr := afero.Walk(fsys, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if isNotExist(err) {
				return nil
			}
			errs = append(errs, fmt.Errorf("walk %s: %w", path, err))
			return nil
		}
		if info.IsDir() {
			// open up before the walk reads the directory; an immutable
			// directory only accepts the chmod once the hook released it
			_ = fsys.Chmod(path, 0o777)
			if cfg.beforeRemove != nil {
				if err := cfg.beforeRemove(path); err != nil {
					errs = append(errs, fmt.Errorf("prepare %s: %w", path, err))
				}
				_ = fsys.Chmod(path, 0o777)
			}
			if !slices.Contains(dirs, path) {
				dirs = append(dirs, path)
			}
			return nil
		}
		if info.Mode()&os.ModeSymlink == 0 {
			_ = fsys.Chmod(path, 0o666)
		}
		if cfg.beforeRemove != nil {
			if err := cfg.beforeRemove(path); err != nil {
				errs = append(errs, fmt.Errorf("prepare %s: %w", path, err))
			}
		}
		if err := fsys.Remove(path); err != nil && !isNotExist(err) {
			errs = append(errs, fmt.Errorf("remove %s: %w", path, err))
		}
		return nil
	})
	if walkErr != nil && !isNotExist(walkErr) {
		errs = append(errs, fmt.Errorf("walk %s: %w", root, walkErr))
	}

	for i := len(dirs) - 1; i >= 0; i-- {
		dir := dirs[i]
		if _, err := lstat(fsys, dir); err != nil {
			if !isNotExist(err) {
				errs = append(errs, fmt.Errorf("stat %s: %w", dir, err))
			}
			continue
		}
		_ = fsys.Chmod(dir, 0o777)
		err := fsys.Remove(dir)
		if err != nil && !isNotExist(err) && cfg.beforeRemove != nil {
			// attributes may have been set on the directory after the walk opened it
			if hookErr := cfg.beforeRemove(dir); hookErr == nil {
				err = fsys.Remove(dir)
			}
		}
		if err != nil && !isNotExist(err) {
			errs = append(errs, fmt.Errorf("remove %s: %w", dir, err))
		}
	}
	return errors.Join(errs...)
}
