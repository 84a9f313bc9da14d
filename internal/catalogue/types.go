package catalogue

import "cpconform/internal/vfs"

// Catalogue is every suite loaded from one source.
type Catalogue struct {
	Suites []Suite
}

// Suite groups the scenarios of one catalogue file.
type Suite struct {
	Name        string
	Description string
	Source      string
	Layout      vfs.Layout
	Scenarios   []Scenario
}

// Scenario is one fixed (setup, invocation, expectation) tuple.
type Scenario struct {
	ID          string `yaml:"id"`
	Suite       string `yaml:"-"`
	Source      string `yaml:"-"`
	Description string `yaml:"description"`
	// Privileged scenarios change attributes through the privileged helper.
	Privileged bool `yaml:"privileged"`
	// Unprivileged scenarios rely on permission denial and cannot run as root.
	Unprivileged bool        `yaml:"unprivileged"`
	Setup        []Step      `yaml:"setup"`
	Invoke       Invocation  `yaml:"invoke"`
	Expect       Expectation `yaml:"expect"`
	Layout       vfs.Layout  `yaml:"-"`
}

// Step mutates the freshly built tree before the invocation. Exactly one
// action field is set. Paths are relative to the scenario root.
type Step struct {
	When   string     `yaml:"when"`
	Write  *WriteStep `yaml:"write"`
	Mkdir  *PathStep  `yaml:"mkdir"`
	Remove *PathStep  `yaml:"remove"`
	Chmod  *ChmodStep `yaml:"chmod"`
	Attr   *AttrStep  `yaml:"attr"`
}

// WriteStep writes content to a file, creating parents.
type WriteStep struct {
	Path    string `yaml:"path"`
	Content string `yaml:"content"`
}

// PathStep names a single path.
type PathStep struct {
	Path string `yaml:"path"`
}

// ChmodStep sets an octal mode such as "000" or "0444".
type ChmodStep struct {
	Path string `yaml:"path"`
	Mode string `yaml:"mode"`
}

// AttrStep sets attribute flags such as "+i" through the privileged helper.
type AttrStep struct {
	Path  string `yaml:"path"`
	Flags string `yaml:"flags"`
}

// Invocation is either a copy invocation inside the root or a raw command
// line. Fields may reference {{root}} and {{<handle>}}.
type Invocation struct {
	Flags   string `yaml:"flags"`
	Src     string `yaml:"src"`
	Dst     string `yaml:"dst"`
	Command string `yaml:"command"`
}

// Expectation lists what must hold after the invocation. Unset fields are
// not checked.
type Expectation struct {
	Code           *int         `yaml:"code"`
	Stdout         *string      `yaml:"stdout"`
	Stderr         *string      `yaml:"stderr"`
	StderrPrefix   string       `yaml:"stderr_prefix"`
	StderrSuffix   string       `yaml:"stderr_suffix"`
	StderrContains string       `yaml:"stderr_contains"`
	Files          []FileExpect `yaml:"files"`
	SameAs         []SamePair   `yaml:"same_as"`
	SameTree       []SamePair   `yaml:"same_tree"`
	Count          []CountRule  `yaml:"count"`
}

// FileExpect checks a single path below the root.
type FileExpect struct {
	Path    string  `yaml:"path"`
	Exists  *bool   `yaml:"exists"`
	Type    string  `yaml:"type"`
	Content *string `yaml:"content"`
	// Unchanged requires the content to equal what the file held right
	// before the invocation.
	Unchanged bool `yaml:"unchanged"`
}

// SamePair requires Path to match Source: file content for same_as, the
// directory listing at every level for same_tree.
type SamePair struct {
	Path   string `yaml:"path"`
	Source string `yaml:"source"`
}

// CountRule counts files anywhere below the root whose name contains any of
// Match.
type CountRule struct {
	Match []string `yaml:"match"`
	Want  int      `yaml:"want"`
}

// File types accepted by FileExpect.Type.
const (
	TypeFile    = "file"
	TypeDir     = "dir"
	TypeSymlink = "symlink"
)

// HasExpectations reports whether anything would be checked.
func (e Expectation) HasExpectations() bool {
	return e.Code != nil || e.Stdout != nil || e.Stderr != nil ||
		e.StderrPrefix != "" || e.StderrSuffix != "" || e.StderrContains != "" ||
		len(e.Files) > 0 || len(e.SameAs) > 0 || len(e.SameTree) > 0 || len(e.Count) > 0
}

// All returns every scenario in catalogue order.
func (c *Catalogue) All() []Scenario {
	var out []Scenario
	for _, s := range c.Suites {
		out = append(out, s.Scenarios...)
	}
	return out
}

// Lookup finds a scenario by id.
func (c *Catalogue) Lookup(id string) (Scenario, bool) {
	for _, s := range c.Suites {
		for _, sc := range s.Scenarios {
			if sc.ID == id {
				return sc, true
			}
		}
	}
	return Scenario{}, false
}
