package catalogue

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
)

// RootVar expands to the absolute scenario root.
const RootVar = "root"

var handleRef = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.-]+)\s*\}\}`)

func templateNames(text string) []string {
	var names []string
	for _, m := range handleRef.FindAllStringSubmatch(text, -1) {
		names = append(names, m[1])
	}
	return names
}

// Expand replaces {{name}} references with vars[name].
func Expand(text string, vars map[string]string) (string, error) {
	var missing string
	out := handleRef.ReplaceAllStringFunc(text, func(m string) string {
		name := handleRef.FindStringSubmatch(m)[1]
		v, ok := vars[name]
		if !ok {
			if missing == "" {
				missing = name
			}
			return m
		}
		return v
	})
	if missing != "" {
		return "", fmt.Errorf("unknown handle {{%s}}", missing)
	}
	return out, nil
}

// FileMode parses the octal mode.
func (c ChmodStep) FileMode() (os.FileMode, error) {
	v, err := strconv.ParseUint(c.Mode, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("mode %q is not octal", c.Mode)
	}
	if v > 0o777 {
		return 0, fmt.Errorf("mode %q out of range", c.Mode)
	}
	return os.FileMode(v), nil
}
