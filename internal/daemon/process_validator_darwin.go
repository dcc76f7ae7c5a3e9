//go:build darwin

package daemon

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// getProcessCommandLinePlatform asks ps, macOS has no /proc
func getProcessCommandLinePlatform(pid int) (string, error) {
	output, err := exec.Command("/bin/ps", "-p", strconv.Itoa(pid), "-o", "command=").Output()
	if err != nil {
		return "", fmt.Errorf("ps command failed for PID %d: %w", pid, err)
	}

	cmdline := strings.TrimSpace(string(output))
	if cmdline == "" {
		return "", fmt.Errorf("empty command line for PID %d", pid)
	}
	return cmdline, nil
}
