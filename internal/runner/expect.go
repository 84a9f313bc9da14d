package runner

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/spf13/afero"

	"cpconform/internal/catalogue"
	"cpconform/internal/invoke"
	"cpconform/internal/vfs"
)

// snapshotUnchanged records the content of every file that must survive the
// invocation untouched.
func snapshotUnchanged(tree *vfs.Tree, exp catalogue.Expectation) (map[string][]byte, error) {
	before := make(map[string][]byte)
	for _, f := range exp.Files {
		if !f.Unchanged {
			continue
		}
		data, err := afero.ReadFile(tree.Fs(), tree.Join(f.Path))
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", f.Path, err)
		}
		before[f.Path] = data
	}
	return before, nil
}

// check compares the invocation result and the tree with exp. Mismatches are
// returned as human readable failures; an error means the check itself could
// not be carried out.
func check(tree *vfs.Tree, exp catalogue.Expectation, res *invoke.Result, vars map[string]string, before map[string][]byte) ([]string, error) {
	var failures []string
	fail := func(format string, args ...any) {
		failures = append(failures, fmt.Sprintf(format, args...))
	}

	if exp.Code != nil && res.ExitCode != *exp.Code {
		fail("exit code: want %d, got %d", *exp.Code, res.ExitCode)
	}

	streams := []struct {
		name string
		want *string
		got  []byte
	}{
		{"stdout", exp.Stdout, res.Stdout},
		{"stderr", exp.Stderr, res.Stderr},
	}
	for _, s := range streams {
		if s.want == nil {
			continue
		}
		want, err := catalogue.Expand(*s.want, vars)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.name, err)
		}
		if !bytes.Equal([]byte(want), s.got) {
			fail("%s mismatch:\n%s", s.name, textDiff("expected "+s.name, "actual "+s.name, want, string(s.got)))
		}
	}

	affixes := []struct {
		name  string
		want  string
		match func(string, string) bool
	}{
		{"stderr prefix", exp.StderrPrefix, strings.HasPrefix},
		{"stderr suffix", exp.StderrSuffix, strings.HasSuffix},
		{"stderr substring", exp.StderrContains, strings.Contains},
	}
	for _, a := range affixes {
		if a.want == "" {
			continue
		}
		want, err := catalogue.Expand(a.want, vars)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", a.name, err)
		}
		if !a.match(string(res.Stderr), want) {
			fail("%s: want %q in %q", a.name, want, res.Stderr)
		}
	}

	fsys := tree.Fs()
	for _, f := range exp.Files {
		info, err := lstat(fsys, tree.Join(f.Path))
		exists := err == nil
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat %s: %w", f.Path, err)
		}
		wantExists := f.Exists == nil || *f.Exists
		if exists != wantExists {
			fail("%s: want exists=%t, got exists=%t", f.Path, wantExists, exists)
			continue
		}
		if !exists {
			continue
		}
		if f.Type != "" {
			if got := fileType(info); got != f.Type {
				fail("%s: want type %s, got %s", f.Path, f.Type, got)
				continue
			}
		}
		if f.Content == nil && !f.Unchanged {
			continue
		}
		got, err := afero.ReadFile(fsys, tree.Join(f.Path))
		if err != nil {
			fail("%s: read: %v", f.Path, err)
			continue
		}
		want := ""
		if f.Content != nil {
			want = *f.Content
		} else {
			want = string(before[f.Path])
		}
		if string(got) != want {
			fail("%s content mismatch:\n%s", f.Path, textDiff("expected "+f.Path, "actual "+f.Path, want, string(got)))
		}
	}

	for _, pair := range exp.SameAs {
		want, err := afero.ReadFile(fsys, tree.Join(pair.Source))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", pair.Source, err)
		}
		got, err := afero.ReadFile(fsys, tree.Join(pair.Path))
		if err != nil {
			fail("%s: read: %v", pair.Path, err)
			continue
		}
		if !bytes.Equal(want, got) {
			fail("%s differs from %s:\n%s", pair.Path, pair.Source, textDiff(pair.Source, pair.Path, string(want), string(got)))
		}
	}

	for _, pair := range exp.SameTree {
		want, err := listing(fsys, tree.Join(pair.Source))
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", pair.Source, err)
		}
		got, err := listing(fsys, tree.Join(pair.Path))
		if err != nil {
			fail("%s: list: %v", pair.Path, err)
			continue
		}
		if want != got {
			fail("%s tree differs from %s:\n%s", pair.Path, pair.Source, textDiff(pair.Source, pair.Path, want, got))
		}
	}

	for _, rule := range exp.Count {
		got, err := countMatching(fsys, tree.Root, rule.Match)
		if err != nil {
			return nil, fmt.Errorf("count %v: %w", rule.Match, err)
		}
		if got != rule.Want {
			fail("files matching %s: want %d, got %d", strings.Join(rule.Match, " or "), rule.Want, got)
		}
	}

	return failures, nil
}

func textDiff(fromName, toName, want, got string) string {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(want),
		B:        difflib.SplitLines(got),
		FromFile: fromName,
		ToFile:   toName,
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil || strings.TrimSpace(text) == "" {
		return fmt.Sprintf("want %q\ngot  %q", want, got)
	}
	return text
}

// listing renders the directory names and file names found at every level
// below dir, relative to dir.
func listing(fsys afero.Fs, dir string) (string, error) {
	var lines []string
	err := afero.Walk(fsys, dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		entries, err := afero.ReadDir(fsys, path)
		if err != nil {
			return err
		}
		var dirs, files []string
		for _, e := range entries {
			if e.IsDir() {
				dirs = append(dirs, e.Name())
			} else {
				files = append(files, e.Name())
			}
		}
		sort.Strings(dirs)
		sort.Strings(files)
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		lines = append(lines, fmt.Sprintf("%s: dirs=%v files=%v", filepath.ToSlash(rel), dirs, files))
		return nil
	})
	if err != nil {
		return "", err
	}
	return strings.Join(lines, "\n") + "\n", nil
}

func countMatching(fsys afero.Fs, root string, match []string) (int, error) {
	n := 0
	err := afero.Walk(fsys, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		for _, m := range match {
			if strings.Contains(info.Name(), m) {
				n++
				break
			}
		}
		return nil
	})
	return n, err
}

func fileType(info os.FileInfo) string {
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		return catalogue.TypeSymlink
	case info.IsDir():
		return catalogue.TypeDir
	case info.Mode().IsRegular():
		return catalogue.TypeFile
	default:
		return info.Mode().Type().String()
	}
}

func lstat(fsys afero.Fs, name string) (os.FileInfo, error) {
	if l, ok := fsys.(afero.Lstater); ok {
		info, _, err := l.LstatIfPossible(name)
		return info, err
	}
	return fsys.Stat(name)
}
