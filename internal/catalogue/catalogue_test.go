package catalogue

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogueLoads(t *testing.T) {
	cat, err := Default()
	require.NoError(t, err)

	var names []string
	for _, s := range cat.Suites {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"syntax", "single-file", "directory", "multiple-files", "archive", "no-clobber", "backup"}, names)

	all := cat.All()
	assert.Greater(t, len(all), 40)
	for _, sc := range all {
		assert.NotContains(t, sc.ID, "${", sc.ID)
		assert.True(t, sc.Expect.HasExpectations(), sc.ID)
	}
}

func TestDefaultCatalogueExpandsParams(t *testing.T) {
	cat, err := Default()
	require.NoError(t, err)

	sc, ok := cat.Lookup("backup/numbered/t/backups-1")
	require.True(t, ok)
	assert.Equal(t, "--backup=t", sc.Invoke.Flags)
	require.Len(t, sc.Expect.Count, 1)
	assert.Equal(t, 2, sc.Expect.Count[0].Want)
	assert.Equal(t, "dstA.~2~", sc.Expect.Files[0].Path)

	enabled, err := sc.Setup[1].Enabled()
	require.NoError(t, err)
	assert.True(t, enabled)

	sc, ok = cat.Lookup("backup/disabled/off/backup-exists-false")
	require.True(t, ok)
	enabled, err = sc.Setup[0].Enabled()
	require.NoError(t, err)
	assert.False(t, enabled)
	assert.Equal(t, 0, sc.Expect.Count[0].Want)
}

func TestDefaultCatalogueCoversReferenceMessages(t *testing.T) {
	cat, err := Default()
	require.NoError(t, err)

	sc, ok := cat.Lookup("syntax/no-operands")
	require.True(t, ok)
	require.NotNil(t, sc.Expect.Code)
	assert.Equal(t, 1, *sc.Expect.Code)
	assert.Equal(t, "cp: missing file operand\nTry 'cp --help' for more information.\n", *sc.Expect.Stderr)

	sc, ok = cat.Lookup("single-file/destination-immutable")
	require.True(t, ok)
	assert.True(t, sc.Privileged)
	assert.Equal(t, ": Operation not permitted\n", sc.Expect.StderrSuffix)
	assert.True(t, sc.Expect.Files[0].Unchanged)
}

func TestParseAndValidateSuiteErrors(t *testing.T) {
	tests := []struct {
		name string
		yml  string
		want []string
	}{
		{
			name: "bad yaml",
			yml:  "scenarios: [",
			want: []string{"yaml"},
		},
		{
			name: "empty",
			yml:  "suite: x\n",
			want: []string{"at least one scenario"},
		},
		{
			name: "missing id and expectations",
			yml: `
scenarios:
  - invoke: {src: srcA}
`,
			want: []string{".id: required", "must check at least one outcome"},
		},
		{
			name: "two actions in a step",
			yml: `
scenarios:
  - id: a
    setup:
      - write: {path: a, content: x}
        mkdir: {path: b}
    expect: {code: 0}
`,
			want: []string{"exactly one action"},
		},
		{
			name: "attr without privileged",
			yml: `
scenarios:
  - id: a
    setup:
      - attr: {path: srcA, flags: "+i"}
    expect: {code: 1}
`,
			want: []string{"privileged: true"},
		},
		{
			name: "bad mode and escaping path",
			yml: `
scenarios:
  - id: a
    setup:
      - chmod: {path: ../etc, mode: "999"}
    expect: {code: 1}
`,
			want: []string{"not octal", "escapes the scenario root"},
		},
		{
			name: "unknown handle",
			yml: `
scenarios:
  - id: a
    invoke: {src: "{{srcZ}}"}
    expect: {code: 1}
`,
			want: []string{"unknown handle {{srcZ}}"},
		},
		{
			name: "unknown param",
			yml: `
scenarios:
  - id: a/${x}
    params:
      - {y: 1}
    expect: {code: 1}
`,
			want: []string{"unknown parameter ${x}"},
		},
		{
			name: "duplicate after expansion",
			yml: `
scenarios:
  - id: same
    params:
      - {x: 1}
      - {x: 2}
    expect:
      code: ${x}
`,
			want: []string{`id "same" duplicates`},
		},
		{
			name: "command with operands",
			yml: `
scenarios:
  - id: a
    invoke: {command: ls, src: srcA}
    expect: {code: 0}
`,
			want: []string{"command cannot be combined"},
		},
		{
			name: "contradictory file expectation",
			yml: `
scenarios:
  - id: a
    expect:
      files:
        - {path: dstA, exists: false, content: x}
`,
			want: []string{"exists: false cannot be combined"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAndValidateSuite([]byte(tt.yml), "test.yml")
			require.Error(t, err)
			ves, ok := err.(ValidationErrors)
			require.True(t, ok, "expected ValidationErrors, got %T", err)
			msg := ves.Error()
			for _, want := range tt.want {
				assert.Contains(t, msg, want)
			}
		})
	}
}

func TestParseSuiteCustomLayout(t *testing.T) {
	yml := `
suite: custom
layout:
  files:
    - {path: in/one, content: "1"}
  links:
    - {name: l, target: in/one}
scenarios:
  - id: custom/link
    invoke: {src: "{{l}}", dst: "{{root}}/out"}
    expect: {code: 0}
`
	suite, err := ParseAndValidateSuite([]byte(yml), "custom.yml")
	require.NoError(t, err)
	assert.Equal(t, "custom", suite.Name)
	require.Len(t, suite.Scenarios, 1)
	assert.Equal(t, "in/one", suite.Scenarios[0].Layout.Files[0].Path)
}

func TestParamsDecodeTypes(t *testing.T) {
	yml := `
scenarios:
  - id: t/${n}
    params:
      - {n: "3", on: "true"}
    setup:
      - when: "${on}"
        mkdir:
          path: d${n}
    expect:
      code: ${n}
      stdout: "${n}"
`
	suite, err := ParseAndValidateSuite([]byte(yml), "params.yml")
	require.NoError(t, err)
	sc := suite.Scenarios[0]
	assert.Equal(t, "t/3", sc.ID)
	assert.Equal(t, 3, *sc.Expect.Code)
	assert.Equal(t, "3", *sc.Expect.Stdout)
	assert.Equal(t, "d3", sc.Setup[0].Mkdir.Path)
	assert.Equal(t, "params", sc.Suite)
}

func TestLoadDirRejectsDuplicateIDs(t *testing.T) {
	dir := t.TempDir()
	doc := "suite: %s\nscenarios:\n  - id: dup\n    expect: {code: 0}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yml"), []byte(strings.Replace(doc, "%s", "a", 1)), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte(strings.Replace(doc, "%s", "b", 1)), 0o644))

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `id "dup" already defined in a.yml`)
}

func TestLoadSingleFileAndFilter(t *testing.T) {
	p := filepath.Join(t.TempDir(), "one.yml")
	doc := `
suite: one
scenarios:
  - id: one/a
    expect: {code: 0}
  - id: one/b
    expect: {code: 1}
`
	require.NoError(t, os.WriteFile(p, []byte(doc), 0o644))
	cat, err := Load(p)
	require.NoError(t, err)
	assert.Len(t, cat.Filter(""), 2)
	assert.Len(t, cat.Filter("one/b"), 1)
	assert.Len(t, cat.Filter("one"), 2)
	assert.Empty(t, cat.Filter("nope"))
}

func TestLoadMissingPath(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	require.Error(t, err)
}

func TestExpand(t *testing.T) {
	vars := map[string]string{"root": "/tmp/r", "srcA": "/tmp/r/srcA"}
	got, err := Expand("{{root}}/SrcDir {{ srcA }}", vars)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/r/SrcDir /tmp/r/srcA", got)

	_, err = Expand("{{srcQ}}", vars)
	require.Error(t, err)
}

func TestChmodFileMode(t *testing.T) {
	mode, err := ChmodStep{Mode: "0444"}.FileMode()
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o444), mode)

	_, err = ChmodStep{Mode: "1777"}.FileMode()
	require.Error(t, err)
}

func TestValidationErrorsKeepFieldOrder(t *testing.T) {
	doc := []byte(`
suite: order
scenarios:
  - id: order/unknown-handles
    invoke:
      flags: "{{f}}"
      src: "{{s}}"
      dst: "{{d}}"
    expect:
      stdout: "{{o}}"
      stderr: "{{e}}"
      stderr_prefix: "{{p}}"
      stderr_suffix: "{{x}}"
      stderr_contains: "{{c}}"
`)
	want := []string{
		"scenarios[0].invoke.flags",
		"scenarios[0].invoke.src",
		"scenarios[0].invoke.dst",
		"scenarios[0].expect.stdout",
		"scenarios[0].expect.stderr",
		"scenarios[0].expect.stderr_prefix",
		"scenarios[0].expect.stderr_suffix",
		"scenarios[0].expect.stderr_contains",
	}
	for i := 0; i < 20; i++ {
		_, err := ParseAndValidateSuite(doc, "order.yml")
		ves, ok := err.(ValidationErrors)
		require.True(t, ok, "expected ValidationErrors, got %T", err)
		fields := make([]string, 0, len(ves))
		for _, ve := range ves {
			fields = append(fields, ve.Field)
		}
		require.Equal(t, want, fields)
	}
}
