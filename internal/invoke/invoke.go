package invoke

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
)

const (
	// DefaultTimeout bounds a single invocation when Invoker.Timeout is zero.
	DefaultTimeout = 10 * time.Second
	// DefaultShell runs command lines.
	DefaultShell = "/bin/sh"
	// DefaultTool is the copy program under test.
	DefaultTool = "cp"
)

// ErrTimeout reports that the invoked process outlived its timeout.
var ErrTimeout = errors.New("invocation timed out")

// Result captures one finished invocation. Output is kept as raw bytes.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
}

// Invoker runs shell command lines with captured output.
type Invoker struct {
	// Shell is the interpreter given "-c <command line>".
	Shell string
	// Dir is the directory RunCopy changes into before running Tool.
	Dir string
	// Tool is the copy program invoked by RunCopy.
	Tool string
	// Env overrides entries of the inherited environment for each call.
	Env     map[string]string
	Timeout time.Duration
}

// CopyArgs are the raw shell tokens handed to the copy tool. They are not
// quoted: globs and several space separated operands are passed through.
type CopyArgs struct {
	Flags string
	Src   string
	Dst   string
}

// Run executes commandLine through the shell. A non-zero exit status is
// reported in Result.ExitCode and is not an error; only a timeout or a failure
// to start the shell is.
func (inv *Invoker) Run(ctx context.Context, commandLine string) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	timeout := inv.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, inv.shell(), "-c", commandLine)
	cmd.Env = mergeEnv(os.Environ(), inv.Env)
	configureKill(cmd)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	err := cmd.Run()
	result := &Result{
		ExitCode: 0,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(started),
	}

	if err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		result.ExitCode = exitCodeFromError(err)
		return result, fmt.Errorf("%w after %s: %s", ErrTimeout, timeout, commandLine)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		if ctx.Err() != nil {
			return result, fmt.Errorf("run %q: %w", commandLine, ctx.Err())
		}
		return nil, fmt.Errorf("start %s: %w", inv.shell(), err)
	}
	return result, nil
}

// RunCopy changes into Dir and runs Tool with args.
func (inv *Invoker) RunCopy(ctx context.Context, args CopyArgs) (*Result, error) {
	return inv.Run(ctx, inv.CopyCommandLine(args))
}

// CopyCommandLine renders the shell line RunCopy executes.
func (inv *Invoker) CopyCommandLine(args CopyArgs) string {
	head := inv.tool()
	if inv.Dir != "" {
		head = "cd " + shellquote.Join(inv.Dir) + ";" + head
	}
	parts := []string{head}
	for _, part := range []string{args.Flags, args.Src, args.Dst} {
		part = strings.TrimSpace(part)
		if part != "" {
			parts = append(parts, part)
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// Args renders path-like values as space separated shell text. Strings are
// used verbatim, fmt.Stringer values through String.
func Args(values ...any) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		var s string
		switch v := v.(type) {
		case string:
			s = v
		case fmt.Stringer:
			s = v.String()
		case []string:
			s = strings.Join(v, " ")
		default:
			s = fmt.Sprint(v)
		}
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

func (inv *Invoker) shell() string {
	if inv.Shell == "" {
		return DefaultShell
	}
	return inv.Shell
}

func (inv *Invoker) tool() string {
	if inv.Tool == "" {
		return DefaultTool
	}
	return inv.Tool
}

func exitCodeFromError(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return 124
	}
	return 1
}
