package catalogue

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"cpconform/internal/vfs"
)

type rawDocument struct {
	Suite       string      `yaml:"suite"`
	Description string      `yaml:"description"`
	Layout      *vfs.Layout `yaml:"layout"`
	Scenarios   []yaml.Node `yaml:"scenarios"`
}

// ValidationError captures a single field-specific validation issue.
type ValidationError struct {
	File    string
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.File, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.File, e.Field, e.Message)
}

// ValidationErrors aggregates multiple validation problems.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, e.Error())
	}
	return strings.Join(parts, "\n")
}

var paramRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ParseAndValidateSuite unmarshals a YAML catalogue document, expands
// parameter sets and validates every resulting scenario.
func ParseAndValidateSuite(data []byte, source string) (Suite, error) {
	var raw rawDocument
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Suite{}, ValidationErrors{{
			File:    source,
			Field:   "yaml",
			Message: err.Error(),
		}}
	}

	var errs ValidationErrors
	suite := Suite{
		Name:        strings.TrimSpace(raw.Suite),
		Description: strings.TrimSpace(raw.Description),
		Source:      source,
		Layout:      vfs.DefaultLayout(),
	}
	if suite.Name == "" {
		suite.Name = strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	}
	if raw.Layout != nil {
		if err := raw.Layout.Validate(); err != nil {
			errs = append(errs, ValidationError{File: source, Field: "layout", Message: err.Error()})
		} else {
			suite.Layout = *raw.Layout
		}
	}
	if len(raw.Scenarios) == 0 {
		errs = append(errs, ValidationError{File: source, Field: "scenarios", Message: "must contain at least one scenario"})
	}

	handles := layoutHandles(suite.Layout)
	seen := make(map[string]string)
	for idx := range raw.Scenarios {
		field := fmt.Sprintf("scenarios[%d]", idx)
		expanded, err := expandParams(&raw.Scenarios[idx])
		if err != nil {
			errs = append(errs, ValidationError{File: source, Field: field + ".params", Message: err.Error()})
			continue
		}
		for variant, node := range expanded {
			vfield := field
			if len(expanded) > 1 {
				vfield = fmt.Sprintf("%s.params[%d]", field, variant)
			}
			var sc Scenario
			if err := node.Decode(&sc); err != nil {
				errs = append(errs, ValidationError{File: source, Field: vfield, Message: err.Error()})
				continue
			}
			sc.ID = strings.TrimSpace(sc.ID)
			sc.Suite = suite.Name
			sc.Source = source
			sc.Layout = suite.Layout
			errs = append(errs, validateScenario(sc, vfield, source, handles)...)
			if sc.ID != "" {
				if prev, dup := seen[sc.ID]; dup {
					errs = append(errs, ValidationError{
						File:    source,
						Field:   vfield + ".id",
						Message: fmt.Sprintf("id %q duplicates %s", sc.ID, prev),
					})
					continue
				}
				seen[sc.ID] = vfield
			}
			suite.Scenarios = append(suite.Scenarios, sc)
		}
	}

	if len(errs) > 0 {
		return Suite{}, errs
	}
	return suite, nil
}

// expandParams returns one scenario node per entry of its params list, with
// ${name} references replaced. Nodes without params are returned as is.
func expandParams(node *yaml.Node) ([]*yaml.Node, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("scenario must be a mapping")
	}
	var params *yaml.Node
	body := &yaml.Node{Kind: node.Kind, Tag: node.Tag, Line: node.Line, Column: node.Column}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == "params" {
			params = node.Content[i+1]
			continue
		}
		body.Content = append(body.Content, node.Content[i], node.Content[i+1])
	}
	if params == nil {
		if err := unresolvedParams(body); err != nil {
			return nil, err
		}
		return []*yaml.Node{body}, nil
	}
	if params.Kind != yaml.SequenceNode || len(params.Content) == 0 {
		return nil, fmt.Errorf("params must be a non-empty list of mappings")
	}

	out := make([]*yaml.Node, 0, len(params.Content))
	for i, set := range params.Content {
		if set.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("params[%d] must be a mapping", i)
		}
		vars := make(map[string]string, len(set.Content)/2)
		for j := 0; j+1 < len(set.Content); j += 2 {
			val := set.Content[j+1]
			if val.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("params[%d].%s must be a scalar", i, set.Content[j].Value)
			}
			vars[set.Content[j].Value] = val.Value
		}
		variant := substitute(body, vars)
		if err := unresolvedParams(variant); err != nil {
			return nil, fmt.Errorf("params[%d]: %w", i, err)
		}
		out = append(out, variant)
	}
	return out, nil
}

// substitute deep-copies n replacing ${name} in scalar values. Replaced plain
// scalars lose their resolved tag so "${n}" can decode as an int.
func substitute(n *yaml.Node, vars map[string]string) *yaml.Node {
	cp := *n
	if n.Kind == yaml.ScalarNode {
		replaced := paramRef.ReplaceAllStringFunc(n.Value, func(m string) string {
			if v, ok := vars[m[2:len(m)-1]]; ok {
				return v
			}
			return m
		})
		if replaced != n.Value {
			cp.Value = replaced
			if n.Style == 0 {
				cp.Tag = ""
			}
		}
		return &cp
	}
	cp.Content = make([]*yaml.Node, len(n.Content))
	for i, c := range n.Content {
		cp.Content[i] = substitute(c, vars)
	}
	return &cp
}

func unresolvedParams(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		if m := paramRef.FindString(n.Value); m != "" {
			return fmt.Errorf("line %d: unknown parameter %s", n.Line, m)
		}
		return nil
	}
	for _, c := range n.Content {
		if err := unresolvedParams(c); err != nil {
			return err
		}
	}
	return nil
}

type templateField struct {
	name string
	text string
}

func validateScenario(sc Scenario, field, source string, handles map[string]struct{}) ValidationErrors {
	var errs ValidationErrors
	add := func(f, msg string) {
		errs = append(errs, ValidationError{File: source, Field: field + f, Message: msg})
	}

	if sc.ID == "" {
		add(".id", "required")
	}
	for i, step := range sc.Setup {
		sf := fmt.Sprintf(".setup[%d]", i)
		if _, err := step.Enabled(); err != nil {
			add(sf+".when", err.Error())
		}
		actions := 0
		var p string
		if step.Write != nil {
			actions++
			p = step.Write.Path
		}
		if step.Mkdir != nil {
			actions++
			p = step.Mkdir.Path
		}
		if step.Remove != nil {
			actions++
			p = step.Remove.Path
		}
		if step.Chmod != nil {
			actions++
			p = step.Chmod.Path
			if _, err := step.Chmod.FileMode(); err != nil {
				add(sf+".chmod.mode", err.Error())
			}
		}
		if step.Attr != nil {
			actions++
			p = step.Attr.Path
			if strings.TrimSpace(step.Attr.Flags) == "" {
				add(sf+".attr.flags", "required")
			}
			if !sc.Privileged {
				add(sf+".attr", "attribute changes require privileged: true")
			}
		}
		if actions != 1 {
			add(sf, fmt.Sprintf("must set exactly one action, got %d", actions))
			continue
		}
		if err := checkRel(p); err != nil {
			add(sf+".path", err.Error())
		}
	}

	inv := sc.Invoke
	if inv.Command != "" && (inv.Flags != "" || inv.Src != "" || inv.Dst != "") {
		add(".invoke", "command cannot be combined with flags, src or dst")
	}
	for _, f := range []templateField{
		{"flags", inv.Flags}, {"src", inv.Src}, {"dst", inv.Dst}, {"command", inv.Command},
	} {
		if err := checkTemplate(f.text, handles); err != nil {
			add(".invoke."+f.name, err.Error())
		}
	}

	exp := sc.Expect
	if !exp.HasExpectations() {
		add(".expect", "must check at least one outcome")
	}
	var outputs []templateField
	if exp.Stdout != nil {
		outputs = append(outputs, templateField{"stdout", *exp.Stdout})
	}
	if exp.Stderr != nil {
		outputs = append(outputs, templateField{"stderr", *exp.Stderr})
	}
	outputs = append(outputs,
		templateField{"stderr_prefix", exp.StderrPrefix},
		templateField{"stderr_suffix", exp.StderrSuffix},
		templateField{"stderr_contains", exp.StderrContains},
	)
	for _, f := range outputs {
		if err := checkTemplate(f.text, handles); err != nil {
			add(".expect."+f.name, err.Error())
		}
	}
	for i, f := range exp.Files {
		ff := fmt.Sprintf(".expect.files[%d]", i)
		if err := checkRel(f.Path); err != nil {
			add(ff+".path", err.Error())
		}
		switch f.Type {
		case "", TypeFile, TypeDir, TypeSymlink:
		default:
			add(ff+".type", fmt.Sprintf("unknown type %q", f.Type))
		}
		if f.Exists != nil && !*f.Exists && (f.Type != "" || f.Content != nil || f.Unchanged) {
			add(ff, "exists: false cannot be combined with type or content checks")
		}
		if f.Content != nil && f.Unchanged {
			add(ff, "content and unchanged are exclusive")
		}
	}
	for i, pair := range append(append([]SamePair{}, exp.SameAs...), exp.SameTree...) {
		pf := fmt.Sprintf(".expect.pairs[%d]", i)
		if err := checkRel(pair.Path); err != nil {
			add(pf+".path", err.Error())
		}
		if err := checkRel(pair.Source); err != nil {
			add(pf+".source", err.Error())
		}
	}
	for i, rule := range exp.Count {
		if len(rule.Match) == 0 {
			add(fmt.Sprintf(".expect.count[%d].match", i), "required")
		}
		if rule.Want < 0 {
			add(fmt.Sprintf(".expect.count[%d].want", i), "must not be negative")
		}
	}
	return errs
}

// Enabled evaluates the optional when guard.
func (s Step) Enabled() (bool, error) {
	when := strings.TrimSpace(s.When)
	if when == "" {
		return true, nil
	}
	v, err := strconv.ParseBool(when)
	if err != nil {
		return false, fmt.Errorf("when must be a boolean, got %q", s.When)
	}
	return v, nil
}

func checkRel(p string) error {
	if strings.TrimSpace(p) == "" {
		return fmt.Errorf("required")
	}
	if filepath.IsAbs(p) {
		return fmt.Errorf("path %q must be relative to the scenario root", p)
	}
	clean := filepath.Clean(filepath.FromSlash(p))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path %q escapes the scenario root", p)
	}
	return nil
}

func checkTemplate(text string, handles map[string]struct{}) error {
	for _, name := range templateNames(text) {
		if name == RootVar {
			continue
		}
		if _, ok := handles[name]; !ok {
			return fmt.Errorf("unknown handle {{%s}}", name)
		}
	}
	return nil
}

func layoutHandles(l vfs.Layout) map[string]struct{} {
	handles := make(map[string]struct{}, len(l.Files)+len(l.Links))
	for _, f := range l.Files {
		handles[filepath.Base(filepath.FromSlash(f.Path))] = struct{}{}
	}
	for _, ln := range l.Links {
		handles[filepath.Base(filepath.FromSlash(ln.Name))] = struct{}{}
	}
	return handles
}
