package state

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"colony/pkg/config"
)

// newMemoryEngine builds an engine without git so most tests do not need
// the tool installed.
func newMemoryEngine(t *testing.T) *Engine {
	t.Helper()
	root := t.TempDir()
	e, err := New(root, config.SharedStateConfig{
		Backend: "memory",
		Path:    filepath.Join(root, "state"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func newGitEngine(t *testing.T) *Engine {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	root := t.TempDir()
	e, err := New(root, config.SharedStateConfig{
		Backend:       "git-backed",
		Location:      "in-repo",
		Path:          filepath.Join(root, "state"),
		Branch:        "main",
		AutoCommit:    true,
		CommitMessage: "colony: update {schema}",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestTaskRoundTrip(t *testing.T) {
	e := newMemoryEngine(t)
	ctx := context.Background()

	written := []*Task{
		{Title: "design schema"},
		{Title: "implement schema", Status: TaskBlocked},
		{Title: "document schema", Status: TaskInProgress, Assigned: "writer-1"},
	}
	for _, task := range written {
		require.NoError(t, e.AddTask(ctx, task))
		assert.NotEmpty(t, task.ID)
	}

	got, err := e.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, task := range got {
		assert.Equal(t, written[i].Title, task.Title)
		assert.Equal(t, written[i].Status, task.Status)
	}

	blocked, err := e.TasksByStatus(ctx, TaskBlocked)
	require.NoError(t, err)
	require.Len(t, blocked, 1)
	assert.Equal(t, "implement schema", blocked[0].Title)

	_, err = e.TasksByStatus(ctx, TaskStatus("bogus"))
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestCacheStaysInSyncAfterWrite(t *testing.T) {
	e := newMemoryEngine(t)
	ctx := context.Background()

	require.NoError(t, e.AddTask(ctx, &Task{Title: "first"}))

	// The write path resyncs, so metadata already matches the file mtime.
	info, err := os.Stat(e.jsonlPath(SchemaTasks))
	require.NoError(t, err)
	nanos, err := e.LastSyncedNanos(ctx, SchemaTasks)
	require.NoError(t, err)
	assert.Equal(t, info.ModTime().UnixNano(), nanos)

	tasks, err := e.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "first", tasks[0].Title)
}

func TestExternalEditTriggersResync(t *testing.T) {
	e := newMemoryEngine(t)
	ctx := context.Background()

	require.NoError(t, e.AddTask(ctx, &Task{Title: "mine"}))

	// Simulate another machine appending a line via git pull.
	path := e.jsonlPath(SchemaTasks)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"id":"task-remote","title":"theirs","status":"ready","created":"2026-01-02T03:04:05Z","blockers":[]}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	future := time.Now().Add(time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	tasks, err := e.ListTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)

	ready, err := e.TasksByStatus(ctx, TaskReady)
	require.NoError(t, err)
	assert.Len(t, ready, 2)
}

func TestReadyDerivation(t *testing.T) {
	e := newMemoryEngine(t)
	ctx := context.Background()

	a := &Task{ID: "task-a", Title: "A"}
	require.NoError(t, e.AddTask(ctx, a))
	b := &Task{ID: "task-b", Title: "B", Blockers: []string{"task-a"}}
	require.NoError(t, e.AddTask(ctx, b))

	ready, err := e.ReadyTasks(ctx)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, "task-a", ready[0].ID)

	completed, err := e.UpdateTaskStatus(ctx, "task-a", TaskCompleted)
	require.NoError(t, err)
	require.NotNil(t, completed.Completed)

	ready, err = e.ReadyTasks(ctx)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, "task-b", ready[0].ID)
}

func TestSharedStateRoundTripOnDisk(t *testing.T) {
	e := newMemoryEngine(t)
	ctx := context.Background()

	require.NoError(t, e.AddTask(ctx, &Task{ID: "task-a", Title: "A"}))
	require.NoError(t, e.AddTask(ctx, &Task{ID: "task-b", Title: "B", Blockers: []string{"task-a"}}))

	data, err := os.ReadFile(e.jsonlPath(SchemaTasks))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	assert.Len(t, lines, 2, "tasks.jsonl holds exactly one line per task")

	var rowCount int
	require.NoError(t, e.db.QueryRow("SELECT COUNT(*) FROM tasks").Scan(&rowCount))
	assert.Equal(t, 2, rowCount)

	info, err := os.Stat(e.jsonlPath(SchemaTasks))
	require.NoError(t, err)
	nanos, err := e.LastSyncedNanos(ctx, SchemaTasks)
	require.NoError(t, err)
	assert.Equal(t, info.ModTime().UnixNano(), nanos)
}

func TestAddTaskValidation(t *testing.T) {
	e := newMemoryEngine(t)
	ctx := context.Background()

	var verr *ValidationError
	assert.ErrorAs(t, e.AddTask(ctx, &Task{}), &verr, "title required")
	assert.ErrorAs(t, e.AddTask(ctx, &Task{Title: "x", Status: "weird"}), &verr)
	assert.ErrorAs(t, e.AddTask(ctx, &Task{ID: "t1", Title: "x", Blockers: []string{"t1"}}), &verr, "self blocker")
	assert.ErrorAs(t, e.AddTask(ctx, &Task{Title: "x", Blockers: []string{"nope"}}), &verr, "unknown blocker")

	require.NoError(t, e.AddTask(ctx, &Task{ID: "dup", Title: "x"}))
	assert.ErrorAs(t, e.AddTask(ctx, &Task{ID: "dup", Title: "y"}), &verr, "duplicate id")
}

func TestUpdateUnknownTask(t *testing.T) {
	e := newMemoryEngine(t)

	_, err := e.UpdateTaskStatus(context.Background(), "missing", TaskCompleted)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, SchemaTasks, nf.Schema)
}

func TestSkipsUnparsableLines(t *testing.T) {
	e := newMemoryEngine(t)
	ctx := context.Background()

	require.NoError(t, e.AddTask(ctx, &Task{Title: "good"}))

	path := e.jsonlPath(SchemaTasks)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("{truncated\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	future := time.Now().Add(time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	tasks, err := e.ListTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestWorkflowLifecycle(t *testing.T) {
	e := newMemoryEngine(t)
	ctx := context.Background()

	wf := &Workflow{Name: "release"}
	require.NoError(t, e.AddWorkflow(ctx, wf))
	assert.Equal(t, WorkflowPending, wf.Status)

	_, err := e.UpdateWorkflowStatus(ctx, wf.ID, WorkflowRunning)
	require.NoError(t, err)

	now := time.Now().UTC()
	updated, err := e.UpdateWorkflowStep(ctx, wf.ID, "build", WorkflowStep{
		Status:  StepRunning,
		Started: &now,
		Agent:   "backend-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "build", updated.CurrentStep)
	assert.Equal(t, StepRunning, updated.Steps["build"].Status)

	finished, err := e.UpdateWorkflowStatus(ctx, wf.ID, WorkflowCompleted)
	require.NoError(t, err)
	require.NotNil(t, finished.Completed)

	got, err := e.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, WorkflowCompleted, got.Status)
}

func TestMemoryLogAppendOnly(t *testing.T) {
	e := newMemoryEngine(t)
	ctx := context.Background()

	require.NoError(t, e.AppendMemory(ctx, &MemoryEntry{Type: MemoryDecision, Key: "db", Value: "sqlite"}))
	require.NoError(t, e.AppendMemory(ctx, &MemoryEntry{Type: MemoryNote, Content: "check indices"}))

	var verr *ValidationError
	assert.ErrorAs(t, e.AppendMemory(ctx, &MemoryEntry{Type: "gossip", Value: "x"}), &verr)
	assert.ErrorAs(t, e.AppendMemory(ctx, &MemoryEntry{Type: MemoryNote}), &verr, "empty entry")

	all, err := e.ListMemory(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "db", all[0].Key)

	decisions, err := e.ListMemory(ctx, MemoryDecision)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, "sqlite", decisions[0].Value)
}

func TestGitBackedCommitsOnWrite(t *testing.T) {
	e := newGitEngine(t)
	ctx := context.Background()

	require.NoError(t, e.AddTask(ctx, &Task{Title: "tracked"}))

	out, err := exec.Command("git", "-C", e.Dir(), "log", "--oneline").Output()
	require.NoError(t, err)
	log := string(out)
	assert.Contains(t, log, "colony: update tasks")
	assert.Contains(t, log, "initialize shared state")

	status, err := exec.Command("git", "-C", e.Dir(), "status", "--porcelain").Output()
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(string(status)), "working tree clean after auto-commit")
}

func TestReopenKeepsCache(t *testing.T) {
	root := t.TempDir()
	cfg := config.SharedStateConfig{Backend: "memory", Path: filepath.Join(root, "state")}
	ctx := context.Background()

	first, err := New(root, cfg)
	require.NoError(t, err)
	require.NoError(t, first.AddTask(ctx, &Task{Title: "persisted"}))
	require.NoError(t, first.Close())

	second, err := New(root, cfg)
	require.NoError(t, err)
	defer second.Close()

	tasks, err := second.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "persisted", tasks[0].Title)
}
