package notify

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// Notifier posts a desktop notification when a run finishes.
type Notifier struct {
	Enabled bool
	// command overrides the platform notifier; used by tests.
	command func(title, message string) *exec.Cmd
}

// Send posts title and message. It is a no-op when disabled or when the
// platform has no supported notifier.
func (n *Notifier) Send(title, message string) error {
	if n == nil || !n.Enabled {
		return nil
	}
	build := n.command
	if build == nil {
		build = platformCommand
	}
	cmd := build(title, message)
	if cmd == nil {
		return nil
	}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	return nil
}

func platformCommand(title, message string) *exec.Cmd {
	switch runtime.GOOS {
	case "darwin":
		title = strings.ReplaceAll(title, `"`, `\"`)
		message = strings.ReplaceAll(message, `"`, `\"`)
		script := fmt.Sprintf(`display notification "%s" with title "%s"`, message, title)
		return exec.Command("osascript", "-e", script)
	case "linux":
		if _, err := exec.LookPath("notify-send"); err != nil {
			return nil
		}
		return exec.Command("notify-send", title, message)
	}
	return nil
}

// FormatRunFinished formats the notification for a finished run.
func FormatRunFinished(tool string, passed, failed, skipped, errored int) (title, message string) {
	total := passed + failed + skipped + errored
	if failed+errored > 0 {
		title = "cpconform: " + tool + " does not conform"
		message = fmt.Sprintf("%d/%d scenarios failed, %d errors", failed, total, errored)
	} else {
		title = "cpconform: " + tool + " conforms"
		message = fmt.Sprintf("%d/%d scenarios passed, %d skipped", passed, total, skipped)
	}
	return title, message
}
