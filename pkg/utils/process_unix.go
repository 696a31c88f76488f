//go:build !windows

package utils

import "syscall"

// ProcessAlive reports whether the process with the given pid is running,
// checked with signal 0.
func ProcessAlive(pid int) bool {
	if !IsValidPID(pid) {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// TerminateProcess sends SIGTERM to the process. Best effort: a dead or
// foreign pid returns the syscall error for the caller to log.
func TerminateProcess(pid int) error {
	return syscall.Kill(pid, syscall.SIGTERM)
}
