// Package vfstest provides a per-test scenario tree wired to the invoker.
package vfstest

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"

	"cpconform/internal/attr"
	"cpconform/internal/invoke"
	"cpconform/internal/locale"
	"cpconform/internal/vfs"
)

// ToolEnv names the environment variable that overrides the copy tool.
const ToolEnv = "CPCONFORM_TOOL"

// Fixture is a freshly built scenario tree with an invoker rooted at it.
type Fixture struct {
	*vfs.Tree
	Invoker *invoke.Invoker
	Locale  *locale.Normalizer
	Attr    *attr.Mutator
}

type config struct {
	layout vfs.Layout
	lang   string
	tool   string
}

// Option configures New.
type Option func(*config)

// WithLayout replaces the default layout.
func WithLayout(l vfs.Layout) Option {
	return func(c *config) { c.layout = l }
}

// WithLang pins a locale other than C.
func WithLang(tag string) Option {
	return func(c *config) { c.lang = tag }
}

// WithTool sets the copy program.
func WithTool(tool string) Option {
	return func(c *config) { c.tool = tool }
}

// New builds the scenario tree in a fresh temporary directory and registers
// its teardown with t.Cleanup, so it runs whatever the test outcome.
func New(t testing.TB, opts ...Option) *Fixture {
	t.Helper()
	cfg := config{
		layout: vfs.DefaultLayout(),
		tool:   Tool(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	norm := locale.New(cfg.lang)
	inv := &invoke.Invoker{Tool: cfg.tool, Env: norm.Env()}
	mutator := attr.New(inv)

	tree, err := vfs.Build(afero.NewOsFs(), t.TempDir(), cfg.layout)
	if err != nil {
		t.Fatalf("build scenario tree: %v", err)
	}
	inv.Dir = tree.Root

	t.Cleanup(func() {
		if err := tree.Clean(vfs.BeforeRemove(mutator.ReleaseHook(context.Background()))); err != nil {
			t.Errorf("clean scenario tree: %v", err)
		}
	})

	return &Fixture{Tree: tree, Invoker: inv, Locale: norm, Attr: mutator}
}

// Copy runs the copy tool inside the tree root. Timeouts and spawn failures
// fail the test; a non-zero exit status does not.
func (f *Fixture) Copy(t testing.TB, flags, src, dst string) *invoke.Result {
	t.Helper()
	res, err := f.Invoker.RunCopy(context.Background(), invoke.CopyArgs{Flags: flags, Src: src, Dst: dst})
	if err != nil {
		t.Fatalf("run %s: %v", f.Invoker.CopyCommandLine(invoke.CopyArgs{Flags: flags, Src: src, Dst: dst}), err)
	}
	return res
}

// Cmd runs an arbitrary command line with the pinned locale.
func (f *Fixture) Cmd(t testing.TB, line string) *invoke.Result {
	t.Helper()
	res, err := f.Invoker.Run(context.Background(), line)
	if err != nil {
		t.Fatalf("run %s: %v", line, err)
	}
	return res
}

// SetAttr sets attribute flags on rel, skipping the test when privilege
// elevation is unavailable.
func (f *Fixture) SetAttr(t testing.TB, rel, flags string) *invoke.Result {
	t.Helper()
	RequireElevation(t)
	res, err := f.Attr.Set(context.Background(), f.Join(rel), flags)
	if err != nil {
		t.Fatalf("set %s on %s: %v", flags, rel, err)
	}
	if res.ExitCode != 0 {
		t.Skipf("set %s on %s: exit %d: %s", flags, rel, res.ExitCode, strings.TrimSpace(string(res.Stderr)))
	}
	return res
}

// Chmod changes the mode of rel, failing the test on error.
func (f *Fixture) Chmod(t testing.TB, rel string, mode os.FileMode) {
	t.Helper()
	if err := os.Chmod(f.Join(rel), mode); err != nil {
		t.Fatalf("chmod %s: %v", rel, err)
	}
}

// Tool returns the copy program under test.
func Tool() string {
	if tool := strings.TrimSpace(os.Getenv(ToolEnv)); tool != "" {
		return tool
	}
	return invoke.DefaultTool
}

var errNotGNU = errors.New("version output does not mention GNU coreutils")

var (
	gnuOnce sync.Once
	gnuErr  error
)

// RequireGNU skips the test unless the copy tool identifies as GNU
// coreutils, whose diagnostics the expectations are written against.
func RequireGNU(t testing.TB) {
	t.Helper()
	gnuOnce.Do(func() {
		out, err := exec.Command(Tool(), "--version").Output()
		if err != nil {
			gnuErr = err
			return
		}
		if !strings.Contains(string(out), "GNU coreutils") {
			gnuErr = errNotGNU
		}
	})
	if gnuErr != nil {
		t.Skipf("%s is not usable as GNU cp: %v", Tool(), gnuErr)
	}
}

// RequireUnprivileged skips tests that rely on permission denial, which root
// bypasses.
func RequireUnprivileged(t testing.TB) {
	t.Helper()
	if os.Geteuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}
}

var (
	elevateOnce sync.Once
	elevateErr  error
)

// RequireElevation skips the test unless passwordless sudo is available.
func RequireElevation(t testing.TB) {
	t.Helper()
	elevateOnce.Do(func() {
		elevateErr = attr.New(&invoke.Invoker{}).CanElevate(context.Background())
	})
	if elevateErr != nil {
		t.Skip(elevateErr)
	}
}
