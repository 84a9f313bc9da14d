package catalogue

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

//go:embed scenarios/*.yml
var defaultScenarios embed.FS

// Default returns the built-in catalogue.
func Default() (*Catalogue, error) {
	return loadFS(defaultScenarios, "scenarios")
}

// Load reads a catalogue from a single YAML file or from every *.yml and
// *.yaml file in a directory. An empty path selects Default.
func Load(p string) (*Catalogue, error) {
	if strings.TrimSpace(p) == "" {
		return Default()
	}
	info, err := os.Stat(p)
	if err != nil {
		return nil, fmt.Errorf("catalogue: %w", err)
	}
	if info.IsDir() {
		return loadFS(os.DirFS(p), ".")
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	suite, err := ParseAndValidateSuite(data, p)
	if err != nil {
		return nil, err
	}
	return &Catalogue{Suites: []Suite{suite}}, nil
}

func loadFS(fsys fs.FS, dir string) (*Catalogue, error) {
	var files []string
	for _, pattern := range []string{"*.yml", "*.yaml"} {
		matches, err := fs.Glob(fsys, path.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("scan catalogue dir: %w", err)
		}
		files = append(files, matches...)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no catalogue YAML files found in %s", dir)
	}
	sort.Strings(files)

	var suites []Suite
	var vErrs ValidationErrors
	for _, name := range files {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		suite, err := ParseAndValidateSuite(data, filepath.ToSlash(name))
		if err != nil {
			if ve, ok := err.(ValidationErrors); ok {
				vErrs = append(vErrs, ve...)
				continue
			}
			return nil, err
		}
		suites = append(suites, suite)
	}
	if len(vErrs) > 0 {
		return nil, vErrs
	}

	if dupErrs := validateCrossSuiteUniqueness(suites); len(dupErrs) > 0 {
		return nil, dupErrs
	}
	return &Catalogue{Suites: suites}, nil
}

func validateCrossSuiteUniqueness(suites []Suite) ValidationErrors {
	var errs ValidationErrors
	seen := make(map[string]string)
	names := make(map[string]string)
	for _, s := range suites {
		if prev, dup := names[s.Name]; dup {
			errs = append(errs, ValidationError{
				File:    s.Source,
				Field:   "suite",
				Message: fmt.Sprintf("suite %q already defined in %s", s.Name, prev),
			})
		}
		names[s.Name] = s.Source
		for _, sc := range s.Scenarios {
			if prev, dup := seen[sc.ID]; dup {
				errs = append(errs, ValidationError{
					File:    s.Source,
					Field:   "id",
					Message: fmt.Sprintf("id %q already defined in %s", sc.ID, prev),
				})
				continue
			}
			seen[sc.ID] = s.Source
		}
	}
	return errs
}

// Filter returns the scenarios whose id or suite contains substr. An empty
// substr matches everything.
func (c *Catalogue) Filter(substr string) []Scenario {
	substr = strings.TrimSpace(substr)
	var out []Scenario
	for _, sc := range c.All() {
		if substr == "" || strings.Contains(sc.ID, substr) || strings.Contains(sc.Suite, substr) {
			out = append(out, sc)
		}
	}
	return out
}
