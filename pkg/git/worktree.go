// Package git manages per-agent worktrees: isolated checkouts of the
// containing repository, one per agent, rooted under .colony/worktrees/.
package git

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"colony/pkg/exec"
	"colony/pkg/logx"
)

// WorktreeError wraps a failed git invocation with the tool's stderr.
type WorktreeError struct {
	Op     string
	Stderr string
	Err    error
}

func (e *WorktreeError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("worktree %s: %s", e.Op, strings.TrimSpace(e.Stderr))
	}
	return fmt.Sprintf("worktree %s: %v", e.Op, e.Err)
}

func (e *WorktreeError) Unwrap() error { return e.Err }

// Manager creates and removes agent worktrees for one repository.
type Manager struct {
	repoDir string
	exec    exec.Executor
	logger  *logx.Logger
}

// NewManager creates a worktree manager rooted at the given repository.
func NewManager(repoDir string) *Manager {
	return &Manager{
		repoDir: repoDir,
		exec:    exec.NewLocalExec(),
		logger:  logx.NewLogger("worktree"),
	}
}

// WithExecutor overrides the command runner, for tests.
func (m *Manager) WithExecutor(e exec.Executor) *Manager {
	m.exec = e
	return m
}

func (m *Manager) git(ctx context.Context, args ...string) (exec.Result, error) {
	cmd := append([]string{"git"}, args...)
	result, err := m.exec.Run(ctx, cmd, exec.Opts{WorkDir: m.repoDir})
	if err != nil {
		return result, &WorktreeError{Op: args[0], Err: err}
	}
	return result, nil
}

// InsideRepository reports whether the manager's directory is inside a git
// work tree.
func (m *Manager) InsideRepository(ctx context.Context) bool {
	result, err := m.git(ctx, "rev-parse", "--is-inside-work-tree")
	return err == nil && result.ExitCode == 0 && strings.TrimSpace(result.Stdout) == "true"
}

// EnsureWorktree returns the path of the agent's worktree, creating it if
// needed. The worktree is anchored at the current branch, or at the current
// commit sha when HEAD is detached. branch optionally pins the worktree
// branch name; empty means colony/<agent-id>.
func (m *Manager) EnsureWorktree(ctx context.Context, agentID, branch string) (string, error) {
	if !m.InsideRepository(ctx) {
		return "", &WorktreeError{Op: "ensure", Stderr: "not inside a git repository"}
	}

	target := filepath.Join(m.repoDir, ".colony", "worktrees", agentID)

	registered, err := m.registeredWorktrees(ctx)
	if err != nil {
		return "", err
	}
	if registered[target] {
		return target, nil
	}

	// A leftover directory that git does not know about blocks creation.
	if _, statErr := os.Stat(target); statErr == nil {
		m.logger.Warn("removing stale unregistered worktree directory %s", target)
		if rmErr := os.RemoveAll(target); rmErr != nil {
			return "", &WorktreeError{Op: "ensure", Err: rmErr}
		}
	}

	anchor, err := m.anchorRef(ctx)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return "", &WorktreeError{Op: "ensure", Err: err}
	}

	if branch == "" {
		branch = "colony/" + agentID
	}

	result, err := m.git(ctx, "worktree", "add", "-B", branch, target, anchor)
	if err != nil {
		return "", err
	}
	if result.ExitCode != 0 {
		return "", &WorktreeError{Op: "add", Stderr: result.Stderr}
	}

	m.logger.Info("created worktree for %s at %s (branch %s)", agentID, target, branch)
	return target, nil
}

// RemoveWorktree force-removes a worktree. A missing path is a no-op.
func (m *Manager) RemoveWorktree(ctx context.Context, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	result, err := m.git(ctx, "worktree", "remove", "--force", path)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return &WorktreeError{Op: "remove", Stderr: result.Stderr}
	}
	return nil
}

// anchorRef returns the current branch name, or the commit sha when HEAD is
// detached (with a warning, since agents then branch off an unnamed point).
func (m *Manager) anchorRef(ctx context.Context) (string, error) {
	result, err := m.git(ctx, "symbolic-ref", "--short", "HEAD")
	if err != nil {
		return "", err
	}
	if result.ExitCode == 0 {
		return strings.TrimSpace(result.Stdout), nil
	}

	result, err = m.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	if result.ExitCode != 0 {
		return "", &WorktreeError{Op: "rev-parse", Stderr: result.Stderr}
	}

	sha := strings.TrimSpace(result.Stdout)
	m.logger.Warn("HEAD is detached; anchoring worktrees at commit %s", sha)
	return sha, nil
}

// registeredWorktrees parses `git worktree list --porcelain` into a set of
// registered worktree paths.
func (m *Manager) registeredWorktrees(ctx context.Context) (map[string]bool, error) {
	result, err := m.git(ctx, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	if result.ExitCode != 0 {
		return nil, &WorktreeError{Op: "list", Stderr: result.Stderr}
	}

	paths := make(map[string]bool)
	for _, line := range strings.Split(result.Stdout, "\n") {
		if path, ok := strings.CutPrefix(line, "worktree "); ok {
			paths[strings.TrimSpace(path)] = true
		}
	}
	return paths, nil
}
