package taskqueue

import (
	"os"
	"path/filepath"
	"time"
)

// Advisory lock around claim operations. Best effort: it narrows the race
// window between concurrent claimers on one machine but is not required for
// correctness, so a stuck lock never blocks the queue for long.
const (
	lockFileName  = ".lock"
	lockRetries   = 20
	lockRetryWait = 25 * time.Millisecond
	lockStaleAge  = 10 * time.Second
)

// tryLock attempts to take the advisory lock file and returns the release
// function. If the lock cannot be acquired in time, it proceeds without it.
func (q *Queue) tryLock() func() {
	path := filepath.Join(q.root, lockFileName)

	for i := 0; i < lockRetries; i++ {
		file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			_ = file.Close()
			return func() { _ = os.Remove(path) }
		}

		// A lock older than the stale age belongs to a crashed process.
		if info, statErr := os.Stat(path); statErr == nil && time.Since(info.ModTime()) > lockStaleAge {
			_ = os.Remove(path)
			continue
		}
		time.Sleep(lockRetryWait)
	}

	q.logger.Warn("advisory lock busy; proceeding without it")
	return func() {}
}
