package attr

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/kballard/go-shellquote"

	"cpconform/internal/invoke"
)

var (
	// ErrNoElevation reports that the privileged helper cannot run without a
	// password prompt. Scenarios that need it should be skipped.
	ErrNoElevation = errors.New("passwordless privilege elevation is not available")
	// ErrUnsupported reports that attribute flags cannot be read on this
	// platform or filesystem.
	ErrUnsupported = errors.New("file attributes are not supported")
)

// DefaultHelper changes attributes with elevated privileges. -n makes sudo
// fail instead of prompting.
var DefaultHelper = []string{"sudo", "-n", "chattr"}

// DefaultProbe succeeds only when the helper can elevate without a prompt.
var DefaultProbe = []string{"sudo", "-n", "true"}

// Mutator sets filesystem attributes through an external privileged helper.
type Mutator struct {
	Helper  []string
	Probe   []string
	Invoker *invoke.Invoker
}

// New returns a Mutator using the default helper and inv for execution.
func New(inv *invoke.Invoker) *Mutator {
	return &Mutator{Invoker: inv}
}

// Set runs "<helper> <flags> <abs path>". The raw result is returned so
// callers can tell a denied escalation from a failed attribute change.
func (m *Mutator) Set(ctx context.Context, path, flags string) (*invoke.Result, error) {
	flags = strings.TrimSpace(flags)
	if flags == "" {
		return nil, fmt.Errorf("attribute flags are required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	argv := append(append([]string{}, m.helper()...), flags, abs)
	return m.invoker().Run(ctx, shellquote.Join(argv...))
}

// CanElevate returns ErrNoElevation unless the probe command succeeds.
func (m *Mutator) CanElevate(ctx context.Context) error {
	res, err := m.invoker().Run(ctx, shellquote.Join(m.probe()...))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoElevation, err)
	}
	if res.ExitCode != 0 {
		msg := strings.TrimSpace(string(res.Stderr))
		if msg == "" {
			msg = fmt.Sprintf("exit status %d", res.ExitCode)
		}
		return fmt.Errorf("%w: %s", ErrNoElevation, msg)
	}
	return nil
}

// readReleaseFlags is swapped in tests.
var readReleaseFlags = releaseFlags

// Release clears the immutable and append-only flags on path if either is
// set. Missing paths and filesystems without attribute support are left
// alone; any other failure to read the flags is returned.
func (m *Mutator) Release(ctx context.Context, path string) error {
	flags, err := readReleaseFlags(path)
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, ErrUnsupported):
		return nil
	case err != nil:
		return fmt.Errorf("release %s: %w", path, err)
	case flags == "":
		return nil
	}
	res, err := m.Set(ctx, path, flags)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("release %s: exit status %d: %s", path, res.ExitCode, strings.TrimSpace(string(res.Stderr)))
	}
	return nil
}

// ReleaseHook adapts Release for vfs.BeforeRemove.
func (m *Mutator) ReleaseHook(ctx context.Context) func(path string) error {
	return func(path string) error {
		return m.Release(ctx, path)
	}
}

func (m *Mutator) helper() []string {
	if len(m.Helper) == 0 {
		return DefaultHelper
	}
	return m.Helper
}

func (m *Mutator) probe() []string {
	if len(m.Probe) == 0 {
		return DefaultProbe
	}
	return m.Probe
}

func (m *Mutator) invoker() *invoke.Invoker {
	if m.Invoker == nil {
		return &invoke.Invoker{}
	}
	return m.Invoker
}
