//go:build linux

package daemon

import (
	"fmt"
	"os"
	"strings"
)

// getProcessCommandLinePlatform reads the NUL-separated /proc/<pid>/cmdline
func getProcessCommandLinePlatform(pid int) (string, error) {
	cmdlinePath := fmt.Sprintf("/proc/%d/cmdline", pid)
	data, err := os.ReadFile(cmdlinePath)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", cmdlinePath, err)
	}

	cmdline := strings.TrimSpace(strings.ReplaceAll(string(data), "\x00", " "))
	if cmdline == "" {
		return "", fmt.Errorf("empty command line for PID %d", pid)
	}
	return cmdline, nil
}
