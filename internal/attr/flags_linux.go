//go:build linux

package attr

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// FS_IMMUTABLE_FL and FS_APPEND_FL from linux/fs.h.
const (
	immutableFlag  = 0x00000010
	appendOnlyFlag = 0x00000020
)

// IsImmutable reports whether the immutable attribute is set on path.
// Symlinks are not followed.
func IsImmutable(path string) (bool, error) {
	flags, err := getFlags(path)
	if err != nil {
		return false, err
	}
	return flags&immutableFlag != 0, nil
}

// releaseFlags returns the chattr argument that clears every attribute
// blocking removal of path, or "" when none is set.
func releaseFlags(path string) (string, error) {
	flags, err := getFlags(path)
	if err != nil {
		return "", err
	}
	out := ""
	if flags&immutableFlag != 0 {
		out += "i"
	}
	if flags&appendOnlyFlag != 0 {
		out += "a"
	}
	if out == "" {
		return "", nil
	}
	return "-" + out, nil
}

// getFlags reads FS_IOC_GETFLAGS. Entries other than regular files and
// directories report no flags.
func getFlags(path string) (uint32, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return 0, err
	}
	if !info.Mode().IsRegular() && !info.IsDir() {
		return 0, nil
	}
	f, err := os.OpenFile(path, os.O_RDONLY|unix.O_NOFOLLOW|unix.O_NONBLOCK, 0)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	flags, err := unix.IoctlGetUint32(int(f.Fd()), unix.FS_IOC_GETFLAGS)
	if err != nil {
		if errors.Is(err, unix.ENOTTY) || errors.Is(err, unix.EOPNOTSUPP) || errors.Is(err, unix.EINVAL) {
			return 0, ErrUnsupported
		}
		return 0, fmt.Errorf("get flags %s: %w", path, err)
	}
	return flags, nil
}
