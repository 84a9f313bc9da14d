package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"cpconform/internal/attr"
	"cpconform/internal/audit"
	"cpconform/internal/catalogue"
	"cpconform/internal/invoke"
	"cpconform/internal/locale"
	"cpconform/internal/notify"
	"cpconform/internal/runner"
	"cpconform/internal/workspace"
)

const appName = "cpconform"

// errFailed makes the process exit 1 without printing anything further.
var errFailed = errors.New("conformance run failed")

func main() {
	flag.String("workspace", "", "Path to workspace root (default: $CPCONFORM_WORKSPACE or the user cache dir)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s: black-box conformance checks for cp\n\n", appName)
		fmt.Fprintf(os.Stderr, "Usage:\n  %s [command] [flags]\n\n", appName)
		fmt.Fprintln(os.Stderr, "Commands:")
		fmt.Fprintln(os.Stderr, "  run     Run the scenario catalogue against the copy tool")
		fmt.Fprintln(os.Stderr, "  list    List catalogue scenarios")
		fmt.Fprintln(os.Stderr, "  report  Show a recorded run")
		fmt.Fprintln(os.Stderr, "  check   Verify the tool and privilege preconditions")
		fmt.Fprintln(os.Stderr, "  help    Show this help")
		fmt.Fprintln(os.Stderr, "\nFlags:")
		flag.PrintDefaults()
	}

	workspacePath, remaining, err := extractWorkspaceFlag(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	args := remaining
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		flag.Usage()
		return
	}

	var cmdErr error
	switch args[0] {
	case "run":
		cmdErr = runRun(args[1:], workspacePath)
	case "list":
		cmdErr = runList(args[1:], workspacePath)
	case "report":
		cmdErr = runReport(args[1:], workspacePath)
	case "check":
		cmdErr = runCheck(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		flag.Usage()
		os.Exit(1)
	}
	if cmdErr != nil {
		if !errors.Is(cmdErr, errFailed) && !errors.Is(cmdErr, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, cmdErr)
		}
		os.Exit(1)
	}
}

func extractWorkspaceFlag(args []string) (string, []string, error) {
	var workspacePath string
	remaining := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--workspace" {
			if i+1 >= len(args) {
				return "", nil, fmt.Errorf("--workspace requires a value")
			}
			workspacePath = args[i+1]
			i++
			continue
		}
		if strings.HasPrefix(arg, "--workspace=") {
			workspacePath = strings.TrimPrefix(arg, "--workspace=")
			continue
		}
		remaining = append(remaining, arg)
	}
	return workspacePath, remaining, nil
}

// openWorkspace resolves the workspace, creating it when create is set.
func openWorkspace(root string, create bool) (*workspace.Workspace, error) {
	abs, err := workspace.ResolveRoot(root)
	if err != nil {
		return nil, err
	}
	if create {
		if err := os.MkdirAll(abs, 0o755); err != nil {
			return nil, fmt.Errorf("create workspace: %w", err)
		}
	}
	ws, err := workspace.Resolve(abs)
	if err != nil {
		return nil, err
	}
	if create {
		if err := ws.EnsureDirs(); err != nil {
			return nil, err
		}
	}
	return ws, nil
}

func auditPath(ws *workspace.Workspace, override string) (string, error) {
	if override == "" {
		override = strings.TrimSpace(os.Getenv(audit.EnvDB))
	}
	if override == "" {
		return ws.AuditDBPath, nil
	}
	p, err := ws.ResolvePath(override)
	if err != nil {
		return "", fmt.Errorf("resolve --audit-db: %w", err)
	}
	return p, nil
}

func loadCatalogue(path string, ws *workspace.Workspace) (*catalogue.Catalogue, error) {
	if path == "" && ws != nil {
		path = ws.Catalogue()
	}
	cat, err := catalogue.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load catalogue: %w", err)
	}
	return cat, nil
}

func defaultTool() string {
	if tool := strings.TrimSpace(os.Getenv("CPCONFORM_TOOL")); tool != "" {
		return tool
	}
	return invoke.DefaultTool
}

func runRun(args []string, workspacePath string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	cataloguePath := fs.String("catalogue", "", "Scenario file or directory (default: <workspace>/scenarios, else built-in)")
	tool := fs.String("tool", defaultTool(), "Copy program under test")
	shell := fs.String("shell", invoke.DefaultShell, "Shell used to run command lines")
	timeout := fs.Duration("timeout", invoke.DefaultTimeout, "Per-invocation timeout")
	lang := fs.String("lang", locale.DefaultTag, "Locale pinned through LANG and LC_ALL")
	filter := fs.String("filter", "", "Only run scenarios whose id or suite contains this text")
	privileged := fs.String("privileged", string(runner.PrivilegedAuto), "Privileged scenarios: auto, skip or require")
	auditDB := fs.String("audit-db", "", "Audit database path (default: <workspace>/audit/audit.sqlite)")
	keepRoots := fs.Bool("keep-roots", false, "Leave scenario directories in place")
	globalLocale := fs.Bool("global-locale", false, "Also pin the locale in this process for the whole run")
	verbose := fs.Bool("verbose", false, "List passed and skipped scenarios in the report")
	notifyDone := fs.Bool("notify", false, "Post a desktop notification when the run finishes")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("run: unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	mode, ok := runner.ParsePrivilegedMode(*privileged)
	if !ok {
		return fmt.Errorf("--privileged must be auto, skip or require, got %q", *privileged)
	}
	if *timeout <= 0 {
		return fmt.Errorf("--timeout must be positive")
	}

	ws, err := openWorkspace(workspacePath, true)
	if err != nil {
		return err
	}
	dbPath, err := auditPath(ws, *auditDB)
	if err != nil {
		return err
	}
	cat, err := loadCatalogue(*cataloguePath, ws)
	if err != nil {
		return err
	}
	scenarios := cat.Filter(*filter)
	if len(scenarios) == 0 {
		return fmt.Errorf("no scenarios match %q", *filter)
	}

	if *globalLocale {
		restore, err := locale.New(*lang).Apply()
		if err != nil {
			return fmt.Errorf("pin locale: %w", err)
		}
		defer restore()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := runner.New(runner.Config{
		Tool:       *tool,
		Shell:      *shell,
		Timeout:    *timeout,
		Lang:       *lang,
		RootsDir:   ws.RootsDir,
		Privileged: mode,
		KeepRoots:  *keepRoots,
		Audit:      audit.NewLogger(dbPath),
		Progress:   os.Stderr,
	})
	summary, runErr := r.Run(ctx, scenarios)
	if summary != nil {
		opts := runner.RenderOptions{
			Color:   isatty.IsTerminal(os.Stdout.Fd()),
			Verbose: *verbose,
		}
		if err := runner.Render(os.Stdout, summary, opts); err != nil {
			return fmt.Errorf("render report: %w", err)
		}
	}
	if runErr != nil {
		return runErr
	}
	notifier := &notify.Notifier{Enabled: *notifyDone}
	title, message := notify.FormatRunFinished(summary.Tool,
		summary.Count(runner.StatusPass), summary.Count(runner.StatusFail),
		summary.Count(runner.StatusSkip), summary.Count(runner.StatusError))
	if err := notifier.Send(title, message); err != nil {
		fmt.Fprintln(os.Stderr, "notify:", err)
	}
	if !summary.OK() {
		return errFailed
	}
	return nil
}

func runList(args []string, workspacePath string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	cataloguePath := fs.String("catalogue", "", "Scenario file or directory (default: <workspace>/scenarios, else built-in)")
	filter := fs.String("filter", "", "Only list scenarios whose id or suite contains this text")

	if err := fs.Parse(args); err != nil {
		return err
	}
	// same catalogue resolution as run; a default workspace that was never
	// created just means the built-in catalogue
	var ws *workspace.Workspace
	if *cataloguePath == "" {
		resolved, err := openWorkspace(workspacePath, false)
		switch {
		case err == nil:
			ws = resolved
		case strings.TrimSpace(workspacePath) != "":
			return err
		}
	}
	cat, err := loadCatalogue(*cataloguePath, ws)
	if err != nil {
		return err
	}
	for _, sc := range cat.Filter(*filter) {
		var tags []string
		if sc.Privileged {
			tags = append(tags, "privileged")
		}
		if sc.Unprivileged {
			tags = append(tags, "unprivileged")
		}
		line := sc.ID
		if len(tags) > 0 {
			line += " [" + strings.Join(tags, ",") + "]"
		}
		if sc.Description != "" {
			line += "\t" + sc.Description
		}
		fmt.Fprintln(os.Stdout, line)
	}
	return nil
}

func runReport(args []string, workspacePath string) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	runID := fs.String("run", "", "Run id (default: latest)")
	auditDB := fs.String("audit-db", "", "Audit database path (default: <workspace>/audit/audit.sqlite)")
	all := fs.Bool("all", false, "Also list passed and skipped scenarios")

	if err := fs.Parse(args); err != nil {
		return err
	}
	ws, err := openWorkspace(workspacePath, false)
	if err != nil {
		return err
	}
	dbPath, err := auditPath(ws, *auditDB)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("audit db: %w", err)
	}

	logger := audit.NewLogger(dbPath)
	var info audit.RunInfo
	if *runID == "" {
		info, err = logger.LatestRun()
	} else {
		info, err = logger.Run(*runID)
	}
	if err != nil {
		return err
	}
	results, err := logger.Results(info.RunID)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "Run %s started %s (%s)\n", info.RunID, humanize.Time(info.StartedAt), info.StartedAt.Format(time.RFC3339))
	counts := map[string]int{}
	for _, r := range results {
		counts[r.Status]++
		if !*all && (r.Status == string(runner.StatusPass) || r.Status == string(runner.StatusSkip)) {
			continue
		}
		fmt.Fprintf(os.Stdout, "  %-5s %s\n", strings.ToUpper(r.Status), r.ScenarioID)
		if r.CommandLine != "" {
			fmt.Fprintf(os.Stdout, "        $ %s (exit %d)\n", r.CommandLine, r.ExitCode)
		}
		if r.SkipReason != "" {
			fmt.Fprintf(os.Stdout, "        skipped: %s\n", r.SkipReason)
		}
		if r.Error != "" {
			fmt.Fprintf(os.Stdout, "        error: %s\n", r.Error)
		}
		for _, f := range r.Failures {
			fmt.Fprintf(os.Stdout, "        %s\n", strings.ReplaceAll(strings.TrimRight(f, "\n"), "\n", "\n        "))
		}
		if r.CleanupError != "" {
			fmt.Fprintf(os.Stdout, "        cleanup: %s\n", r.CleanupError)
		}
	}
	fmt.Fprintf(os.Stdout, "Scenarios: %d, passed %d, failed %d, skipped %d, errors %d\n",
		len(results), counts["pass"], counts["fail"], counts["skip"], counts["error"])
	return nil
}

func runCheck(args []string) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	tool := fs.String("tool", defaultTool(), "Copy program under test")
	timeout := fs.Duration("timeout", invoke.DefaultTimeout, "Per-invocation timeout")

	if err := fs.Parse(args); err != nil {
		return err
	}

	path, err := exec.LookPath(*tool)
	if err != nil {
		return fmt.Errorf("tool %q not found: %w", *tool, err)
	}
	fmt.Fprintf(os.Stdout, "tool:      %s\n", path)

	ctx := context.Background()
	inv := &invoke.Invoker{Tool: *tool, Env: locale.New("").Env(), Timeout: *timeout}
	res, err := inv.RunCopy(ctx, invoke.CopyArgs{Flags: "--version"})
	if err != nil {
		return fmt.Errorf("%s --version: %w", *tool, err)
	}
	version, _, _ := strings.Cut(string(res.Stdout), "\n")
	if res.ExitCode != 0 || !strings.Contains(string(res.Stdout), "GNU coreutils") {
		fmt.Fprintf(os.Stdout, "identity:  not GNU coreutils (%s)\n", strings.TrimSpace(version))
		return errFailed
	}
	fmt.Fprintf(os.Stdout, "identity:  %s\n", version)

	if err := attr.New(inv).CanElevate(ctx); err != nil {
		fmt.Fprintf(os.Stdout, "elevation: unavailable, privileged scenarios will be skipped (%v)\n", err)
	} else {
		fmt.Fprintln(os.Stdout, "elevation: available")
	}
	if os.Geteuid() == 0 {
		fmt.Fprintln(os.Stdout, "user:      root, permission scenarios will be skipped")
	}
	return nil
}
