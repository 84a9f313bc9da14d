package vfs

import (
	"fmt"
	"path/filepath"
	"strings"
)

// File is a plain file created under the scenario root.
type File struct {
	Path    string `yaml:"path"`
	Content string `yaml:"content"`
}

// Link is a symbolic link created after every File exists. Target names a
// File by its relative path; the link stores the absolute target path.
type Link struct {
	Name   string `yaml:"name"`
	Target string `yaml:"target"`
}

// Layout is the ordered catalogue of files and links materialized per scenario.
type Layout struct {
	Files []File `yaml:"files"`
	Links []Link `yaml:"links"`
}

// DefaultLayout returns the tree every scenario starts from:
//
//	.
//	├── srcA
//	├── srcB
//	├── SrcDir
//	│   ├── srcC
//	│   └── SrcSubDir
//	│       └── srcD
//	└── srcLink -> <root>/srcA
func DefaultLayout() Layout {
	return Layout{
		Files: []File{
			{Path: "srcA", Content: "spam"},
			{Path: "srcB", Content: "ham"},
			{Path: "SrcDir/srcC", Content: "foo"},
			{Path: "SrcDir/SrcSubDir/srcD", Content: "bar"},
		},
		Links: []Link{
			{Name: "srcLink", Target: "srcA"},
		},
	}
}

// Validate checks that every path stays below the root, that no path is
// declared twice and that links point at declared files.
func (l Layout) Validate() error {
	seen := make(map[string]struct{}, len(l.Files)+len(l.Links))
	for i, f := range l.Files {
		clean, err := relPath(f.Path)
		if err != nil {
			return fmt.Errorf("files[%d]: %w", i, err)
		}
		if _, dup := seen[clean]; dup {
			return fmt.Errorf("files[%d]: duplicate path %q", i, f.Path)
		}
		seen[clean] = struct{}{}
	}
	files := make(map[string]struct{}, len(seen))
	for k := range seen {
		files[k] = struct{}{}
	}
	for i, ln := range l.Links {
		name, err := relPath(ln.Name)
		if err != nil {
			return fmt.Errorf("links[%d].name: %w", i, err)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("links[%d]: duplicate path %q", i, ln.Name)
		}
		seen[name] = struct{}{}
		target, err := relPath(ln.Target)
		if err != nil {
			return fmt.Errorf("links[%d].target: %w", i, err)
		}
		if _, ok := files[target]; !ok {
			return fmt.Errorf("links[%d]: target %q is not a declared file", i, ln.Target)
		}
	}
	return nil
}

func relPath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("empty path")
	}
	if filepath.IsAbs(p) {
		return "", fmt.Errorf("path %q must be relative", p)
	}
	clean := filepath.Clean(filepath.FromSlash(p))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the root", p)
	}
	return clean, nil
}
