//go:build !linux

package attr

// IsImmutable is only implemented on Linux.
func IsImmutable(path string) (bool, error) {
	return false, ErrUnsupported
}

func releaseFlags(path string) (string, error) {
	return "", ErrUnsupported
}
