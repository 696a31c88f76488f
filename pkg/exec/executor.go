// Package exec provides the local command runner used by the worktree
// manager and the multiplexer driver.
package exec

import (
	"context"
	"time"
)

// Opts controls a single command execution.
type Opts struct {
	WorkDir string
	Env     []string // KEY=VALUE pairs appended to the inherited environment
	Timeout time.Duration
}

// Result captures the outcome of a command execution. A non-zero ExitCode
// is not an error at this layer; callers decide what a failure means.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Executor runs external commands. The local implementation is the only
// one in this repo; the interface exists so tests can substitute a fake.
type Executor interface {
	Run(ctx context.Context, cmd []string, opts Opts) (Result, error)
}
