package colony

import (
	"context"
	"fmt"
	"os"
	osexec "os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"colony/pkg/config"
	"colony/pkg/exec"
	"colony/pkg/msgqueue"
	"colony/pkg/taskqueue"
)

// fakeExec fakes tmux (and git) invocations. split-window hands out
// increasing pane indices; list-panes replays the titles set so far.
type fakeExec struct {
	calls     [][]string
	nextPane  int
	panes     []string
	noSession bool
}

func (f *fakeExec) Run(_ context.Context, cmd []string, _ exec.Opts) (exec.Result, error) {
	f.calls = append(f.calls, cmd)
	switch cmd[1] {
	case "has-session":
		if f.noSession {
			return exec.Result{ExitCode: 1}, nil
		}
	case "new-session":
		f.noSession = false
		f.panes = f.panes[:0]
		f.nextPane = 0
	case "split-window":
		f.nextPane++
		return exec.Result{Stdout: fmt.Sprintf("%d\n", f.nextPane)}, nil
	case "select-pane":
		// select-pane -t <target> -T <title>
		f.panes = append(f.panes, cmd[len(cmd)-1])
	case "display-message":
		// display-message -p -t <target> '#{pane_pid}'
		return exec.Result{Stdout: "4321\n"}, nil
	case "list-panes":
		var out strings.Builder
		for i, title := range f.panes {
			fmt.Fprintf(&out, "%d\t%s\n", i, title)
		}
		return exec.Result{Stdout: out.String()}, nil
	}
	return exec.Result{}, nil
}

func (f *fakeExec) commandLines(subcommand string) [][]string {
	var matched [][]string
	for _, call := range f.calls {
		if call[1] == subcommand {
			matched = append(matched, call)
		}
	}
	return matched
}

// newTestController writes a colony.yml with two agents pinned to custom
// directories (no git needed) and wires in the fake executor.
func newTestController(t *testing.T) (*Controller, *fakeExec) {
	t.Helper()
	repoDir := t.TempDir()
	workA := filepath.Join(repoDir, "work-a")
	workB := filepath.Join(repoDir, "work-b")
	require.NoError(t, os.MkdirAll(workA, 0755))
	require.NoError(t, os.MkdirAll(workB, 0755))

	cfg := &config.Config{
		Name: "demo",
		Agents: []config.AgentConfig{
			{ID: "backend-1", Role: "Backend Engineer", Directory: workA},
			{ID: "frontend-1", Role: "Frontend Engineer", Directory: workB},
		},
		SharedState: &config.SharedStateConfig{Backend: "memory", Path: filepath.Join(repoDir, "state")},
	}
	require.NoError(t, config.Save(repoDir, cfg))

	c, err := New(repoDir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	fake := &fakeExec{}
	c.Mux().WithExecutor(fake)
	c.Worktrees().WithExecutor(fake)
	return c, fake
}

func TestLaunchCommandShellQuoting(t *testing.T) {
	c, _ := newTestController(t)
	rec, err := c.record("backend-1")
	require.NoError(t, err)
	rec.WorktreePath = "/tmp/it's here"

	cmd := c.launchCommand(rec)
	assert.Contains(t, cmd, `cd '/tmp/it'\''s here' && `)
	assert.Contains(t, cmd, "COLONY_AGENT_ID='backend-1'")
	assert.Contains(t, cmd, "--dangerously-skip-permissions")
	assert.Contains(t, cmd, "--project")
}

func TestStartCreatesPanesAndState(t *testing.T) {
	if _, err := osexec.LookPath("tmux"); err != nil {
		t.Skip("tmux not installed")
	}
	c, fake := newTestController(t)

	require.NoError(t, c.Start(context.Background(), StartOptions{NoAttach: true}))

	sends := fake.commandLines("send-keys")
	require.Len(t, sends, 2, "one launch command per agent")
	assert.Contains(t, strings.Join(sends[0], " "), assistantBinary)

	assert.Len(t, fake.commandLines("split-window"), 1, "second agent splits once")
	assert.Equal(t, []string{"Agent: backend-1", "Agent: frontend-1"}, fake.panes)

	layouts := fake.commandLines("select-layout")
	require.Len(t, layouts, 1)
	assert.Contains(t, layouts[0], "tiled")

	data, err := os.ReadFile(c.statePath())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"status": "running"`)
	assert.FileExists(t, filepath.Join(c.Root(), "COLONY_COMMUNICATION.md"))
}

func TestStatusDerivedFromPanes(t *testing.T) {
	c, fake := newTestController(t)
	fake.panes = []string{"Agent: backend-1"}

	rows := c.Status(context.Background())
	require.Len(t, rows, 2)
	assert.Equal(t, "backend-1", rows[0].ID)
	assert.Equal(t, StatusRunning, rows[0].Status)
	assert.Equal(t, StatusIdle, rows[1].Status)
}

func TestStatusWithoutSession(t *testing.T) {
	c, fake := newTestController(t)
	fake.noSession = true

	for _, row := range c.Status(context.Background()) {
		assert.Equal(t, StatusIdle, row.Status)
	}
}

func TestStateSaveLoadMerge(t *testing.T) {
	c, _ := newTestController(t)
	rec, err := c.record("backend-1")
	require.NoError(t, err)
	rec.Status = StatusRunning
	rec.PID = 4242
	require.NoError(t, c.saveState())

	reloaded, err := New(c.repoDir)
	require.NoError(t, err)
	defer reloaded.Close()
	got, err := reloaded.record("backend-1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, 4242, got.PID)

	other, err := reloaded.record("frontend-1")
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, other.Status)
}

func TestStopAgentClearsRecord(t *testing.T) {
	c, fake := newTestController(t)
	rec, err := c.record("backend-1")
	require.NoError(t, err)
	rec.Status = StatusRunning
	rec.PID = 99_999_999 // fails the pid sanity check, no signal attempted
	fake.panes = []string{"Agent: backend-1"}

	require.NoError(t, c.StopAgent(context.Background(), "backend-1"))
	assert.Equal(t, StatusIdle, rec.Status)
	assert.Zero(t, rec.PID)
	assert.NotEmpty(t, fake.commandLines("kill-pane"))
}

func TestStartAgentRecordsPanePID(t *testing.T) {
	c, _ := newTestController(t)
	require.NoError(t, c.StartAgent(context.Background(), "backend-1"))

	rec, err := c.record("backend-1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, rec.Status)
	assert.Equal(t, 4321, rec.PID, "pane pid is captured at launch")

	data, err := os.ReadFile(c.statePath())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"pid": 4321`)
}

func TestStartAgentUnknownID(t *testing.T) {
	c, _ := newTestController(t)
	err := c.StartAgent(context.Background(), "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestStartAgentRequiresSession(t *testing.T) {
	c, fake := newTestController(t)
	fake.noSession = true
	err := c.StartAgent(context.Background(), "backend-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not running")
}

func TestEmitScripts(t *testing.T) {
	c, _ := newTestController(t)
	require.NoError(t, c.ensureLayout())
	require.NoError(t, c.EmitScripts())

	script := filepath.Join(c.Root(), "projects", "backend-1", "colony_message.sh")
	info, err := os.Stat(script)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0111, "script is executable")

	content, err := os.ReadFile(script)
	require.NoError(t, err)
	text := string(content)
	assert.Contains(t, text, "AGENT_ID='backend-1'")
	assert.Contains(t, text, "json_escape")
	assert.Contains(t, text, "[A-Za-z0-9_-]+")

	guide, err := os.ReadFile(filepath.Join(c.Root(), "COLONY_COMMUNICATION.md"))
	require.NoError(t, err)
	assert.Contains(t, string(guide), "backend-1")
	assert.Contains(t, string(guide), "frontend-1")

	stateScript, err := os.ReadFile(filepath.Join(c.Root(), "projects", "backend-1", "colony_state.sh"))
	require.NoError(t, err)
	assert.Contains(t, string(stateScript), "state \"$@\"")
}

func TestScriptSymlinksIntoWorktree(t *testing.T) {
	c, _ := newTestController(t)
	rec, err := c.record("backend-1")
	require.NoError(t, err)
	rec.WorktreePath = rec.Config.Directory

	require.NoError(t, c.ensureLayout())
	require.NoError(t, c.EmitScripts())

	for _, name := range []string{"colony_message.sh", "colony_message_backend-1.sh"} {
		link := filepath.Join(rec.WorktreePath, name)
		target, err := os.Readlink(link)
		require.NoError(t, err, link)
		assert.Contains(t, target, "colony_message.sh")
	}
}

func TestSnapshotIdempotence(t *testing.T) {
	c, fake := newTestController(t)
	fake.panes = []string{"Agent: backend-1"}
	ctx := context.Background()

	require.NoError(t, c.msgs.Send(msgqueue.NewMessage("operator", "all", "freeze at 5pm", "")))
	require.NoError(t, c.queue.Create(&taskqueue.Task{Title: "ship it"}))

	first, err := c.Snapshot(ctx)
	require.NoError(t, err)
	second, err := c.Snapshot(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second, "unchanged colony yields identical snapshots")
	require.Len(t, first.Agents, 2)
	assert.Equal(t, "running", first.Agents[0].Status)
	assert.Equal(t, "stopped", first.Agents[1].Status)
	require.Len(t, first.Tasks, 1)
	require.Len(t, first.Messages, 1)
	assert.Equal(t, "freeze at 5pm", first.Messages[0].Content)
}

func TestRelaySendMessage(t *testing.T) {
	c, _ := newTestController(t)

	id, err := c.SendMessage(context.Background(), "backend-1", "from remote", "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "relay-"))

	inbox, err := c.msgs.LoadForAgent("backend-1")
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, "relay", inbox[0].From)
}

func TestRelayCreateTask(t *testing.T) {
	c, _ := newTestController(t)
	ctx := context.Background()

	id, err := c.CreateTask(ctx, "remote task", "desc", "backend-1", "high")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	engine, err := c.SharedState()
	require.NoError(t, err)
	task, err := engine.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "remote task", task.Title)
	assert.Equal(t, "backend-1", task.Assigned)
}

func TestRelayCreateTaskKeepsPriority(t *testing.T) {
	c, _ := newTestController(t)
	ctx := context.Background()

	id, err := c.CreateTask(ctx, "hot fix", "", "", "critical")
	require.NoError(t, err)

	engine, err := c.SharedState()
	require.NoError(t, err)
	task, err := engine.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "critical", task.Metadata["priority"])

	plain, err := c.CreateTask(ctx, "no priority", "", "", "")
	require.NoError(t, err)
	got, err := engine.GetTask(ctx, plain)
	require.NoError(t, err)
	assert.Nil(t, got.Metadata)
}

func TestDestroyRemovesColonyDir(t *testing.T) {
	c, _ := newTestController(t)
	require.NoError(t, c.ensureLayout())
	require.NoError(t, c.saveState())
	require.DirExists(t, c.Root())

	require.NoError(t, c.Destroy(context.Background()))
	assert.NoDirExists(t, c.Root())
	assert.FileExists(t, filepath.Join(c.repoDir, config.ConfigFileName))
}

func TestEmptyColonyStatusWorksStartRefuses(t *testing.T) {
	repoDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(repoDir, config.ConfigFileName),
		[]byte("name: empty\nagents: []\n"), 0644))

	c, err := New(repoDir)
	require.NoError(t, err, "read-only commands must work with agents: []")
	defer c.Close()
	c.Mux().WithExecutor(&fakeExec{})

	assert.Empty(t, c.Status(context.Background()))

	err = c.Start(context.Background(), StartOptions{NoAttach: true})
	var cfgErr *config.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}
