package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"cpconform/internal/attr"
	"cpconform/internal/audit"
	"cpconform/internal/catalogue"
	"cpconform/internal/invoke"
	"cpconform/internal/locale"
	"cpconform/internal/vfs"
)

const auditActor = "runner"

// errAttrFailed marks a setup step whose attribute helper ran but refused the
// change, for example on a filesystem without attribute support.
var errAttrFailed = errors.New("attribute helper failed")

// Config configures a Runner.
type Config struct {
	Tool    string
	Shell   string
	Timeout time.Duration
	// Lang is the locale pinned for every invocation.
	Lang string
	// RootsDir holds the per-scenario roots; empty uses the system temp dir.
	RootsDir   string
	Privileged PrivilegedMode
	// KeepRoots skips teardown so a failed tree can be inspected.
	KeepRoots bool
	Audit     *audit.Logger
	// Progress receives one line per finished scenario when set.
	Progress io.Writer
	// Helper overrides the privileged attribute helper argv.
	Helper []string
}

// Runner executes catalogue scenarios one at a time.
type Runner struct {
	cfg    Config
	locale *locale.Normalizer
	fs     afero.Fs
	attr   *attr.Mutator

	elevateMu   sync.Mutex
	elevateDone bool
	elevateErr  error
	euid        func() int
}

// New returns a Runner for cfg.
func New(cfg Config) *Runner {
	if cfg.Privileged == "" {
		cfg.Privileged = PrivilegedAuto
	}
	norm := locale.New(cfg.Lang)
	mutator := attr.New(&invoke.Invoker{Shell: cfg.Shell, Env: norm.Env(), Timeout: cfg.Timeout})
	mutator.Helper = cfg.Helper
	return &Runner{
		cfg:    cfg,
		locale: norm,
		fs:     afero.NewOsFs(),
		attr:   mutator,
		euid:   os.Geteuid,
	}
}

// Run executes scenarios in order and returns their outcomes. Scenario
// failures are part of the summary; the error is only set when the run
// itself was cut short.
func (r *Runner) Run(ctx context.Context, scenarios []catalogue.Scenario) (*Summary, error) {
	summary := &Summary{
		RunID:   uuid.NewString(),
		Tool:    r.tool(),
		Started: time.Now().UTC(),
	}
	r.logEvent("run_started", map[string]any{
		"run_id":    summary.RunID,
		"tool":      summary.Tool,
		"lang":      r.locale.Tag,
		"scenarios": len(scenarios),
	})

	var runErr error
	for _, sc := range scenarios {
		if err := ctx.Err(); err != nil {
			runErr = fmt.Errorf("run interrupted: %w", err)
			break
		}
		outcome := r.RunScenario(ctx, sc)
		summary.Outcomes = append(summary.Outcomes, outcome)
		r.record(summary.RunID, outcome)
		if r.cfg.Progress != nil {
			fmt.Fprintln(r.cfg.Progress, progressLine(outcome))
		}
	}

	summary.Finished = time.Now().UTC()
	finish := map[string]any{
		"run_id":  summary.RunID,
		"passed":  summary.Count(StatusPass),
		"failed":  summary.Count(StatusFail),
		"skipped": summary.Count(StatusSkip),
		"errors":  summary.Count(StatusError),
	}
	if runErr != nil {
		finish["error"] = runErr.Error()
	}
	r.logEvent("run_finished", finish)
	return summary, runErr
}

// RunScenario builds a fresh tree, applies the setup, invokes the tool,
// checks the expectations and tears the tree down again, whatever happened
// before.
func (r *Runner) RunScenario(ctx context.Context, sc catalogue.Scenario) (o Outcome) {
	started := time.Now()
	o = Outcome{Scenario: sc}
	defer func() {
		o.Duration = time.Since(started)
	}()

	if reason, err := r.skipReason(ctx, sc); err != nil {
		o.Status = StatusError
		o.Err = err
		return o
	} else if reason != "" {
		o.Status = StatusSkip
		o.SkipReason = reason
		return o
	}

	root, err := r.newRoot()
	if err != nil {
		o.Status = StatusError
		o.Err = fmt.Errorf("setup: %w", err)
		return o
	}
	o.Root = root
	if !r.cfg.KeepRoots {
		defer func() {
			o.CleanupErr = vfs.Clean(r.fs, root, vfs.BeforeRemove(r.attr.ReleaseHook(context.WithoutCancel(ctx))))
		}()
	}

	layout := sc.Layout
	if len(layout.Files) == 0 && len(layout.Links) == 0 {
		layout = vfs.DefaultLayout()
	}
	tree, err := vfs.Build(r.fs, root, layout)
	if err != nil {
		o.Status = StatusError
		o.Err = fmt.Errorf("setup: %w", err)
		return o
	}

	if err := r.applySetup(ctx, tree, sc.Setup); err != nil {
		if errors.Is(err, errAttrFailed) && r.cfg.Privileged == PrivilegedAuto {
			o.Status = StatusSkip
			o.SkipReason = err.Error()
			return o
		}
		o.Status = StatusError
		o.Err = fmt.Errorf("setup: %w", err)
		return o
	}

	vars := templateVars(tree)
	before, err := snapshotUnchanged(tree, sc.Expect)
	if err != nil {
		o.Status = StatusError
		o.Err = fmt.Errorf("setup: %w", err)
		return o
	}

	inv := &invoke.Invoker{
		Shell:   r.cfg.Shell,
		Dir:     tree.Root,
		Tool:    r.tool(),
		Env:     r.locale.Env(),
		Timeout: r.cfg.Timeout,
	}
	res, line, err := invokeScenario(ctx, inv, sc.Invoke, vars)
	o.CommandLine = line
	o.Result = res
	if err != nil {
		o.Status = StatusError
		o.Err = err
		return o
	}

	failures, err := check(tree, sc.Expect, res, vars, before)
	if err != nil {
		o.Status = StatusError
		o.Err = fmt.Errorf("check: %w", err)
		return o
	}
	o.Failures = failures
	if len(failures) > 0 {
		o.Status = StatusFail
	} else {
		o.Status = StatusPass
	}
	return o
}

func (r *Runner) skipReason(ctx context.Context, sc catalogue.Scenario) (string, error) {
	if sc.Unprivileged && r.euid() == 0 {
		return "permission checks do not apply to root", nil
	}
	if !sc.Privileged {
		return "", nil
	}
	switch r.cfg.Privileged {
	case PrivilegedSkip:
		return "privileged scenarios disabled", nil
	case PrivilegedRequire:
		if err := r.canElevate(ctx); err != nil {
			return "", err
		}
	default:
		if err := r.canElevate(ctx); err != nil {
			return err.Error(), nil
		}
	}
	return "", nil
}

// canElevate probes once per Runner. A probe cut short by ctx is not
// remembered.
func (r *Runner) canElevate(ctx context.Context) error {
	r.elevateMu.Lock()
	defer r.elevateMu.Unlock()
	if r.elevateDone {
		return r.elevateErr
	}
	err := r.attr.CanElevate(ctx)
	if err != nil && ctx.Err() != nil {
		return err
	}
	r.elevateDone = true
	r.elevateErr = err
	return err
}

func (r *Runner) newRoot() (string, error) {
	dir := r.cfg.RootsDir
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create roots dir: %w", err)
		}
	}
	root, err := os.MkdirTemp(dir, "scenario-")
	if err != nil {
		return "", fmt.Errorf("create scenario root: %w", err)
	}
	return filepath.Abs(root)
}

func (r *Runner) applySetup(ctx context.Context, tree *vfs.Tree, steps []catalogue.Step) error {
	for i, step := range steps {
		enabled, err := step.Enabled()
		if err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		if !enabled {
			continue
		}
		switch {
		case step.Write != nil:
			err = tree.WriteFile(step.Write.Path, step.Write.Content)
		case step.Mkdir != nil:
			err = r.fs.MkdirAll(tree.Join(step.Mkdir.Path), 0o755)
		case step.Remove != nil:
			err = r.fs.RemoveAll(tree.Join(step.Remove.Path))
		case step.Chmod != nil:
			var mode os.FileMode
			mode, err = step.Chmod.FileMode()
			if err == nil {
				err = r.fs.Chmod(tree.Join(step.Chmod.Path), mode)
			}
		case step.Attr != nil:
			err = r.setAttr(ctx, tree.Join(step.Attr.Path), step.Attr.Flags)
		default:
			err = errors.New("no action")
		}
		if err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}
	return nil
}

func (r *Runner) setAttr(ctx context.Context, path, flags string) error {
	res, err := r.attr.Set(ctx, path, flags)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%w: set %s on %s: exit status %d: %s", errAttrFailed, flags, path, res.ExitCode, strings.TrimSpace(string(res.Stderr)))
	}
	return nil
}

func (r *Runner) tool() string {
	if r.cfg.Tool == "" {
		return invoke.DefaultTool
	}
	return r.cfg.Tool
}

func (r *Runner) logEvent(eventType string, payload map[string]any) {
	if r.cfg.Audit == nil {
		return
	}
	if err := r.cfg.Audit.LogEvent(auditActor, eventType, payload); err != nil {
		fmt.Fprintln(os.Stderr, "audit log failed:", err)
	}
}

func (r *Runner) record(runID string, o Outcome) {
	if o.CleanupErr != nil {
		fmt.Fprintf(os.Stderr, "cleanup %s: %v\n", o.Root, o.CleanupErr)
		r.logEvent("cleanup_failed", map[string]any{
			"run_id":   runID,
			"scenario": o.Scenario.ID,
			"root":     o.Root,
			"error":    o.CleanupErr.Error(),
		})
	}
	payload := map[string]any{
		"run_id":   runID,
		"scenario": o.Scenario.ID,
		"status":   string(o.Status),
	}
	if o.Err != nil {
		payload["error"] = o.Err.Error()
	}
	r.logEvent("scenario_finished", payload)

	if r.cfg.Audit == nil {
		return
	}
	if err := r.cfg.Audit.RecordResult(toRecord(runID, o)); err != nil {
		fmt.Fprintln(os.Stderr, "audit log failed:", err)
	}
}

func invokeScenario(ctx context.Context, inv *invoke.Invoker, spec catalogue.Invocation, vars map[string]string) (*invoke.Result, string, error) {
	if spec.Command != "" {
		line, err := catalogue.Expand(spec.Command, vars)
		if err != nil {
			return nil, "", err
		}
		res, err := inv.Run(ctx, line)
		return res, line, err
	}
	var args invoke.CopyArgs
	var err error
	if args.Flags, err = catalogue.Expand(spec.Flags, vars); err != nil {
		return nil, "", err
	}
	if args.Src, err = catalogue.Expand(spec.Src, vars); err != nil {
		return nil, "", err
	}
	if args.Dst, err = catalogue.Expand(spec.Dst, vars); err != nil {
		return nil, "", err
	}
	line := inv.CopyCommandLine(args)
	res, err := inv.RunCopy(ctx, args)
	return res, line, err
}

func templateVars(tree *vfs.Tree) map[string]string {
	vars := make(map[string]string, len(tree.Handles)+1)
	for name, p := range tree.Handles {
		vars[name] = p
	}
	vars[catalogue.RootVar] = tree.Root
	return vars
}

func toRecord(runID string, o Outcome) audit.Result {
	rec := audit.Result{
		RunID:       runID,
		ScenarioID:  o.Scenario.ID,
		Suite:       o.Scenario.Suite,
		Status:      string(o.Status),
		CommandLine: o.CommandLine,
		Failures:    o.Failures,
		SkipReason:  o.SkipReason,
		DurationMS:  o.Duration.Milliseconds(),
		ExitCode:    -1,
	}
	if o.Result != nil {
		rec.ExitCode = o.Result.ExitCode
		rec.Stdout = string(o.Result.Stdout)
		rec.Stderr = string(o.Result.Stderr)
	}
	if o.Err != nil {
		rec.Error = o.Err.Error()
	}
	if o.CleanupErr != nil {
		rec.CleanupError = o.CleanupErr.Error()
	}
	return rec
}
