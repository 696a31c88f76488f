package utils

// maxPID is a sanity bound on pid values read back from state files.
// Linux caps pids at 2^22; anything above that is a corrupt record.
const maxPID = 4_194_304

// IsValidPID reports whether pid is a plausible process id.
func IsValidPID(pid int) bool {
	return pid > 0 && pid <= maxPID
}
