//go:build windows

package utils

import (
	"os/exec"
	"strconv"
	"strings"
)

// ProcessAlive reports whether the process with the given pid is running,
// via tasklist.
func ProcessAlive(pid int) bool {
	if !IsValidPID(pid) {
		return false
	}
	out, err := exec.Command("tasklist", "/FI", "PID eq "+strconv.Itoa(pid)).Output()
	if err != nil {
		return false
	}
	return strings.Contains(string(out), strconv.Itoa(pid))
}

// TerminateProcess kills the process tree.
func TerminateProcess(pid int) error {
	return exec.Command("taskkill", "/PID", strconv.Itoa(pid), "/T", "/F").Run()
}
