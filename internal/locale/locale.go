package locale

import (
	"os"
	"sort"
	"strings"
)

// DefaultTag is the untranslated POSIX locale.
const DefaultTag = "C"

// Variables lists the environment variables pinned by a Normalizer.
var Variables = []string{"LANG", "LC_ALL"}

// Snapshot is a read-only copy of the process environment.
type Snapshot struct {
	entries map[string]string
}

// Capture records the current process environment.
func Capture() Snapshot {
	return fromEnviron(os.Environ())
}

func fromEnviron(environ []string) Snapshot {
	entries := make(map[string]string, len(environ))
	for _, entry := range environ {
		key, val, _ := strings.Cut(entry, "=")
		if key == "" {
			continue
		}
		entries[key] = val
	}
	return Snapshot{entries: entries}
}

// Lookup returns the captured value for key.
func (s Snapshot) Lookup(key string) (string, bool) {
	val, ok := s.entries[key]
	return val, ok
}

// Environ returns the captured environment as sorted KEY=VALUE entries.
func (s Snapshot) Environ() []string {
	out := make([]string, 0, len(s.entries))
	for k, v := range s.entries {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// Len reports the number of captured variables.
func (s Snapshot) Len() int {
	return len(s.entries)
}

// Normalizer pins the locale seen by spawned processes so that their
// diagnostics can be compared byte for byte.
type Normalizer struct {
	Tag      string
	Snapshot Snapshot
}

// New captures the environment and returns a Normalizer for tag.
// An empty tag selects DefaultTag.
func New(tag string) *Normalizer {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		tag = DefaultTag
	}
	return &Normalizer{Tag: tag, Snapshot: Capture()}
}

// Env returns the overrides to inject into a child environment.
func (n *Normalizer) Env() map[string]string {
	tag := DefaultTag
	if n != nil && n.Tag != "" {
		tag = n.Tag
	}
	env := make(map[string]string, len(Variables))
	for _, key := range Variables {
		env[key] = tag
	}
	return env
}

// Apply pins the locale for the whole process and returns a func that puts
// the previous values back. Invocations do not need this; they receive the
// overrides through Env.
func (n *Normalizer) Apply() (restore func(), err error) {
	type prev struct {
		val string
		set bool
	}
	saved := make(map[string]prev, len(Variables))
	for key, val := range n.Env() {
		old, ok := os.LookupEnv(key)
		saved[key] = prev{val: old, set: ok}
		if err := os.Setenv(key, val); err != nil {
			return nil, err
		}
	}
	return func() {
		for key, p := range saved {
			if p.set {
				_ = os.Setenv(key, p.val)
			} else {
				_ = os.Unsetenv(key)
			}
		}
	}, nil
}
