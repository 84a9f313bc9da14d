package runner

import (
	"time"

	"cpconform/internal/catalogue"
	"cpconform/internal/invoke"
)

// Status is the verdict of one scenario.
type Status string

const (
	StatusPass  Status = "pass"
	StatusFail  Status = "fail"
	StatusSkip  Status = "skip"
	StatusError Status = "error"
)

// PrivilegedMode controls scenarios that need the privileged helper.
type PrivilegedMode string

const (
	// PrivilegedAuto runs them when passwordless elevation works.
	PrivilegedAuto PrivilegedMode = "auto"
	// PrivilegedSkip never runs them.
	PrivilegedSkip PrivilegedMode = "skip"
	// PrivilegedRequire reports them as errors when elevation is unavailable.
	PrivilegedRequire PrivilegedMode = "require"
)

// ParsePrivilegedMode validates a mode name; empty means auto.
func ParsePrivilegedMode(s string) (PrivilegedMode, bool) {
	switch PrivilegedMode(s) {
	case "", PrivilegedAuto:
		return PrivilegedAuto, true
	case PrivilegedSkip, PrivilegedRequire:
		return PrivilegedMode(s), true
	}
	return "", false
}

// Outcome is the result of running one scenario.
type Outcome struct {
	Scenario    catalogue.Scenario
	Status      Status
	Failures    []string
	SkipReason  string
	Err         error
	CleanupErr  error
	CommandLine string
	Root        string
	Result      *invoke.Result
	Duration    time.Duration
}

// Summary aggregates a run.
type Summary struct {
	RunID    string
	Tool     string
	Started  time.Time
	Finished time.Time
	Outcomes []Outcome
}

// Count returns the number of outcomes with status s.
func (s *Summary) Count(status Status) int {
	n := 0
	for _, o := range s.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// OK reports whether no scenario failed or errored.
func (s *Summary) OK() bool {
	return s.Count(StatusFail) == 0 && s.Count(StatusError) == 0
}
