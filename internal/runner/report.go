package runner

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
)

// RenderOptions controls Render.
type RenderOptions struct {
	// Color wraps verdicts in ANSI colors.
	Color bool
	// Verbose also lists passed and skipped scenarios.
	Verbose bool
}

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
)

func progressLine(o Outcome) string {
	line := fmt.Sprintf("%-5s %s", strings.ToUpper(string(o.Status)), o.Scenario.ID)
	if o.Status == StatusSkip && o.SkipReason != "" {
		line += " (" + o.SkipReason + ")"
	}
	return line
}

// Render writes a human readable report of s to w.
func Render(w io.Writer, s *Summary, opts RenderOptions) error {
	var b strings.Builder
	for _, o := range s.Outcomes {
		if !opts.Verbose && (o.Status == StatusPass || o.Status == StatusSkip) {
			continue
		}
		fmt.Fprintf(&b, "%s %s (%s)\n", verdict(o.Status, opts.Color), o.Scenario.ID, o.Duration.Round(time.Millisecond))
		if o.Scenario.Description != "" && o.Status != StatusPass {
			fmt.Fprintf(&b, "    %s\n", o.Scenario.Description)
		}
		if o.CommandLine != "" && o.Status != StatusPass && o.Status != StatusSkip {
			fmt.Fprintf(&b, "    $ %s\n", o.CommandLine)
		}
		if o.SkipReason != "" {
			fmt.Fprintf(&b, "    skipped: %s\n", o.SkipReason)
		}
		if o.Err != nil {
			fmt.Fprintf(&b, "    error: %v\n", o.Err)
		}
		for _, f := range o.Failures {
			b.WriteString(indent(f, "    "))
		}
		if o.Result != nil && opts.Verbose {
			fmt.Fprintf(&b, "    exit %d, stdout %s, stderr %s\n", o.Result.ExitCode,
				humanize.Bytes(uint64(len(o.Result.Stdout))), humanize.Bytes(uint64(len(o.Result.Stderr))))
		}
		if o.CleanupErr != nil {
			fmt.Fprintf(&b, "    cleanup: %v\n", o.CleanupErr)
		}
	}

	elapsed := s.Finished.Sub(s.Started).Round(time.Millisecond)
	fmt.Fprintf(&b, "\n%s against %s: %d passed, %d failed, %d skipped, %s in %s\n",
		english.Plural(len(s.Outcomes), "scenario", ""),
		s.Tool,
		s.Count(StatusPass),
		s.Count(StatusFail),
		s.Count(StatusSkip),
		english.Plural(s.Count(StatusError), "error", ""),
		elapsed,
	)
	fmt.Fprintf(&b, "run %s\n", s.RunID)

	_, err := io.WriteString(w, b.String())
	return err
}

func verdict(s Status, color bool) string {
	label := fmt.Sprintf("%-5s", strings.ToUpper(string(s)))
	if !color {
		return label
	}
	switch s {
	case StatusPass:
		return ansiGreen + label + ansiReset
	case StatusSkip:
		return ansiYellow + label + ansiReset
	default:
		return ansiRed + label + ansiReset
	}
}

func indent(text, prefix string) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n") + "\n"
}
