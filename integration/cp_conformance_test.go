package integration_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cpconform/internal/vfs"
	"cpconform/internal/vfs/vfstest"
)

func requireCode(t *testing.T, got, want int, stderr []byte) {
	t.Helper()
	if got != want {
		t.Fatalf("exit code = %d, want %d\nstderr:\n%s", got, want, stderr)
	}
}

func TestCopyFileToMissingDestination(t *testing.T) {
	vfstest.RequireGNU(t)
	f := vfstest.New(t)

	res := f.Copy(t, "", "srcA", "dstA")
	requireCode(t, res.ExitCode, 0, res.Stderr)
	if len(res.Stdout) != 0 || len(res.Stderr) != 0 {
		t.Fatalf("expected no output, got stdout=%q stderr=%q", res.Stdout, res.Stderr)
	}
	got, err := f.ReadFile("dstA")
	if err != nil {
		t.Fatalf("read dstA: %v", err)
	}
	if got != "spam" {
		t.Fatalf("dstA = %q, want %q", got, "spam")
	}
}

func TestCopyWithoutOperands(t *testing.T) {
	vfstest.RequireGNU(t)
	f := vfstest.New(t)

	res := f.Copy(t, "", "", "")
	requireCode(t, res.ExitCode, 1, res.Stderr)
	want := "cp: missing file operand\nTry 'cp --help' for more information.\n"
	if string(res.Stderr) != want {
		t.Fatalf("stderr = %q, want %q", res.Stderr, want)
	}
}

func TestCopyDirectoryWithoutRecursion(t *testing.T) {
	vfstest.RequireGNU(t)
	f := vfstest.New(t)

	src := f.Join("SrcDir")
	res := f.Copy(t, "", src, "DstDir")
	requireCode(t, res.ExitCode, 1, res.Stderr)
	want := "cp: -r not specified; omitting directory '" + src + "'\n"
	if string(res.Stderr) != want {
		t.Fatalf("stderr = %q, want %q", res.Stderr, want)
	}
	if ok, _ := f.Exists("DstDir"); ok {
		t.Fatalf("DstDir should not be created")
	}
}

func TestCopyOntoImmutableDestination(t *testing.T) {
	vfstest.RequireGNU(t)
	f := vfstest.New(t)
	if err := f.WriteFile("dstA", "Goodbye!"); err != nil {
		t.Fatalf("write dstA: %v", err)
	}
	f.SetAttr(t, "dstA", "+i")

	res := f.Copy(t, "", "srcA", "dstA")
	requireCode(t, res.ExitCode, 1, res.Stderr)
	if !strings.HasSuffix(string(res.Stderr), ": Operation not permitted\n") {
		t.Fatalf("stderr = %q, want permission suffix", res.Stderr)
	}
	got, err := f.ReadFile("dstA")
	if err != nil {
		t.Fatalf("read dstA: %v", err)
	}
	if got != "Goodbye!" {
		t.Fatalf("immutable dstA changed to %q", got)
	}
}

func TestBackupDisabled(t *testing.T) {
	vfstest.RequireGNU(t)
	for _, opt := range []string{"none", "off"} {
		t.Run(opt, func(t *testing.T) {
			f := vfstest.New(t)
			for rel, content := range map[string]string{"dstA": "Goodbye!", "dstA~": "old backup"} {
				if err := f.WriteFile(rel, content); err != nil {
					t.Fatalf("write %s: %v", rel, err)
				}
			}

			res := f.Copy(t, "--backup="+opt, "srcA", "dstA")
			requireCode(t, res.ExitCode, 0, res.Stderr)

			got, _ := f.ReadFile("dstA")
			if got != "spam" {
				t.Fatalf("dstA = %q, want %q", got, "spam")
			}
			backup, _ := f.ReadFile("dstA~")
			if backup != "old backup" {
				t.Fatalf("existing backup was rewritten: %q", backup)
			}
			matches, err := filepath.Glob(f.Join("dstA*"))
			if err != nil {
				t.Fatalf("glob: %v", err)
			}
			if len(matches) != 2 {
				t.Fatalf("expected dstA and dstA~ only, got %v", matches)
			}
		})
	}
}

func TestTeardownAfterLockdown(t *testing.T) {
	root := filepath.Join(t.TempDir(), "root")
	if err := os.Mkdir(root, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	tree, err := vfs.BuildDefault(root)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for _, rel := range []string{"srcA", "SrcDir/SrcSubDir/srcD", "SrcDir/SrcSubDir", "SrcDir"} {
		if err := os.Chmod(tree.Join(rel), 0); err != nil {
			t.Fatalf("chmod %s: %v", rel, err)
		}
	}

	if err := tree.Clean(); err != nil {
		t.Fatalf("clean: %v", err)
	}
	if _, err := os.Lstat(root); !os.IsNotExist(err) {
		t.Fatalf("root still present after clean: %v", err)
	}
	if err := tree.Clean(); err != nil {
		t.Fatalf("second clean: %v", err)
	}
}
