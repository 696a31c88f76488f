// Package tmux is a thin façade over the tmux binary: sessions, pane
// splits, keystroke injection, titles, layouts, and pane output piping.
// It knows nothing about agents; callers supply targets.
package tmux

import (
	"context"
	"fmt"
	"os"
	osexec "os/exec"
	"strconv"
	"strings"

	"colony/pkg/exec"
)

// SplitDirection selects how a window is split.
type SplitDirection string

const (
	SplitHorizontal SplitDirection = "horizontal"
	SplitVertical   SplitDirection = "vertical"
)

// Layout names accepted by ApplyLayout. Any other string is passed to tmux
// verbatim as a raw layout string.
const (
	LayoutTiled          = "tiled"
	LayoutEvenHorizontal = "even-horizontal"
	LayoutMainHorizontal = "main-horizontal"
)

// MuxError wraps a failed tmux invocation with the tool's stderr.
type MuxError struct {
	Op     string
	Stderr string
	Err    error
}

func (e *MuxError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("tmux %s: %s", e.Op, strings.TrimSpace(e.Stderr))
	}
	return fmt.Sprintf("tmux %s: %v", e.Op, e.Err)
}

func (e *MuxError) Unwrap() error { return e.Err }

// Driver runs tmux commands.
type Driver struct {
	exec exec.Executor
}

// NewDriver creates a tmux driver.
func NewDriver() *Driver {
	return &Driver{exec: exec.NewLocalExec()}
}

// WithExecutor overrides the command runner, for tests.
func (d *Driver) WithExecutor(e exec.Executor) *Driver {
	d.exec = e
	return d
}

func (d *Driver) run(ctx context.Context, args ...string) (exec.Result, error) {
	cmd := append([]string{"tmux"}, args...)
	result, err := d.exec.Run(ctx, cmd, exec.Opts{})
	if err != nil {
		return result, &MuxError{Op: args[0], Err: err}
	}
	if result.ExitCode != 0 {
		return result, &MuxError{Op: args[0], Stderr: result.Stderr}
	}
	return result, nil
}

// Available reports whether the tmux binary can be found.
func (d *Driver) Available() bool {
	_, err := osexec.LookPath("tmux")
	return err == nil
}

// HasSession reports whether a session with the given name exists.
func (d *Driver) HasSession(ctx context.Context, session string) bool {
	_, err := d.run(ctx, "has-session", "-t", session)
	return err == nil
}

// CreateSession creates a detached session with one window rooted at dir.
func (d *Driver) CreateSession(ctx context.Context, session, dir string) error {
	args := []string{"new-session", "-d", "-s", session}
	if dir != "" {
		args = append(args, "-c", dir)
	}
	_, err := d.run(ctx, args...)
	return err
}

// KillSession kills the named session. Killing a missing session is a no-op.
func (d *Driver) KillSession(ctx context.Context, session string) error {
	if !d.HasSession(ctx, session) {
		return nil
	}
	_, err := d.run(ctx, "kill-session", "-t", session)
	return err
}

// SplitWindow splits the current window of the session and returns the new
// pane index.
func (d *Driver) SplitWindow(ctx context.Context, session string, dir SplitDirection) (int, error) {
	flag := "-h"
	if dir == SplitVertical {
		flag = "-v"
	}
	result, err := d.run(ctx, "split-window", flag, "-t", session, "-P", "-F", "#{pane_index}")
	if err != nil {
		return 0, err
	}
	index, convErr := strconv.Atoi(strings.TrimSpace(result.Stdout))
	if convErr != nil {
		return 0, &MuxError{Op: "split-window", Err: convErr}
	}
	return index, nil
}

// SendCommand sends a command line to a target pane followed by Enter.
// Target syntax is tmux's own: session:window.pane.
func (d *Driver) SendCommand(ctx context.Context, target, command string) error {
	_, err := d.run(ctx, "send-keys", "-t", target, command, "Enter")
	return err
}

// SendKeys sends raw keys (e.g. "C-c") to a target pane.
func (d *Driver) SendKeys(ctx context.Context, target string, keys ...string) error {
	args := append([]string{"send-keys", "-t", target}, keys...)
	_, err := d.run(ctx, args...)
	return err
}

// SetPaneTitle sets the visible title of a pane.
func (d *Driver) SetPaneTitle(ctx context.Context, target, title string) error {
	_, err := d.run(ctx, "select-pane", "-t", target, "-T", title)
	return err
}

// PanePID returns the pid of the shell running in a pane.
func (d *Driver) PanePID(ctx context.Context, target string) (int, error) {
	result, err := d.run(ctx, "display-message", "-p", "-t", target, "#{pane_pid}")
	if err != nil {
		return 0, err
	}
	pid, convErr := strconv.Atoi(strings.TrimSpace(result.Stdout))
	if convErr != nil {
		return 0, &MuxError{Op: "display-message", Err: convErr}
	}
	return pid, nil
}

// ApplyLayout applies a named or raw layout to the session's current window.
func (d *Driver) ApplyLayout(ctx context.Context, session, layout string) error {
	_, err := d.run(ctx, "select-layout", "-t", session, layout)
	return err
}

// ResizePane resizes a pane by a percentage of the window.
func (d *Driver) ResizePane(ctx context.Context, target string, dir SplitDirection, percent int) error {
	flag := "-x"
	if dir == SplitVertical {
		flag = "-y"
	}
	_, err := d.run(ctx, "resize-pane", "-t", target, flag, fmt.Sprintf("%d%%", percent))
	return err
}

// PipePane redirects a pane's output to a log file. Unix only: the pipe
// command is a shell redirect.
func (d *Driver) PipePane(ctx context.Context, target, logPath string) error {
	_, err := d.run(ctx, "pipe-pane", "-t", target, "-o", fmt.Sprintf("cat >> %q", logPath))
	return err
}

// Pane describes one pane of a session.
type Pane struct {
	Index int
	Title string
}

// ListPanes returns the panes of a session with their titles.
func (d *Driver) ListPanes(ctx context.Context, session string) ([]Pane, error) {
	result, err := d.run(ctx, "list-panes", "-s", "-t", session, "-F", "#{pane_index}\t#{pane_title}")
	if err != nil {
		return nil, err
	}

	var panes []Pane
	for _, line := range strings.Split(strings.TrimRight(result.Stdout, "\n"), "\n") {
		if line == "" {
			continue
		}
		index, title, _ := strings.Cut(line, "\t")
		idx, convErr := strconv.Atoi(index)
		if convErr != nil {
			continue
		}
		panes = append(panes, Pane{Index: idx, Title: title})
	}
	return panes, nil
}

// FindPaneByTitle returns the index of the first pane with the given title.
func (d *Driver) FindPaneByTitle(ctx context.Context, session, title string) (int, bool) {
	panes, err := d.ListPanes(ctx, session)
	if err != nil {
		return 0, false
	}
	for _, pane := range panes {
		if pane.Title == title {
			return pane.Index, true
		}
	}
	return 0, false
}

// KillPane kills a single pane.
func (d *Driver) KillPane(ctx context.Context, target string) error {
	_, err := d.run(ctx, "kill-pane", "-t", target)
	return err
}

// Attach replaces the pipeline with an interactive attach to the session.
// This bypasses the executor: tmux needs the caller's terminal.
func (d *Driver) Attach(session string) error {
	cmd := osexec.Command("tmux", "attach-session", "-t", session)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return &MuxError{Op: "attach-session", Err: err}
	}
	return nil
}
