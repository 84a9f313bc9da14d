package harness

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"sort"
	"strings"
	"testing"
)

// Result is the captured output of one CLI invocation.
type Result struct {
	Stdout string
	Stderr string
	Code   int
}

// Run executes the CLI in workDir with the test environment.
func Run(t *testing.T, binPath, workDir string, args ...string) Result {
	t.Helper()
	return RunWithEnv(t, binPath, workDir, nil, args...)
}

// RunWithEnv executes the CLI with env layered over the test environment.
// An empty value removes the variable.
func RunWithEnv(t *testing.T, binPath, workDir string, env map[string]string, args ...string) Result {
	t.Helper()

	cmd := exec.Command(binPath, args...)
	cmd.Dir = workDir
	cmd.Env = mergeEnv(os.Environ(), env)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	res := Result{}
	if err := cmd.Run(); err != nil {
		var ee *exec.ExitError
		if !errors.As(err, &ee) {
			t.Fatalf("run %s %v: %v", binPath, args, err)
		}
		res.Code = ee.ExitCode()
	}
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	return res
}

// Combined returns stdout followed by stderr, for failure messages.
func (r Result) Combined() string {
	return "stdout:\n" + r.Stdout + "\nstderr:\n" + r.Stderr
}

func mergeEnv(base []string, overrides map[string]string) []string {
	env := make(map[string]string, len(base)+len(overrides))
	for _, entry := range base {
		key, val, _ := strings.Cut(entry, "=")
		env[key] = val
	}
	for k, v := range overrides {
		if v == "" {
			delete(env, k)
			continue
		}
		env[k] = v
	}

	merged := make([]string, 0, len(env))
	for k, v := range env {
		merged = append(merged, k+"="+v)
	}
	sort.Strings(merged)
	return merged
}
